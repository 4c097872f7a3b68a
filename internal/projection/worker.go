package projection

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/ledger"
	"StableLedger/internal/observability"
	"StableLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const watermarkID = "main"

// Invalidator drops cached read models after their projection row changes.
type Invalidator interface {
	InvalidatePosition(ctx context.Context, owner uuid.UUID) error
	InvalidateGovernance(ctx context.Context) error
}

// ProjectionWorker keeps the projections schema in step with the core.
// The core's projection send is non-blocking, so outputs can be dropped
// under load; projections are rebuilt by replaying the event log.
type ProjectionWorker struct {
	db          *sql.DB
	inputChan   <-chan core.CoreOutput
	invalidator Invalidator
	metrics     *observability.Metrics
	logger      zerolog.Logger
	lastSeq     int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	invalidator Invalidator,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:          db,
		inputChan:   inputChan,
		invalidator: invalidator,
		metrics:     metrics,
		logger:      logger,
		lastSeq:     -1,
	}
}

// Run applies outputs until ctx is cancelled or the input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.Apply(ctx, output); err != nil {
				// Eventually consistent; a rebuild repairs any gap
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionErrors.WithLabelValues("tx").Inc()
				}
			}
		}
	}
}

// Apply writes one output synchronously. Rebuilds call it directly so no
// output is lost to a full channel; reapplying an output is a no-op.
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	seq := output.Envelope.Sequence
	if err := pw.processOutput(ctx, output); err != nil {
		return err
	}
	if seq > pw.lastSeq {
		pw.lastSeq = seq
		if pw.metrics != nil {
			pw.metrics.ProjectionLastSeq.Set(float64(seq))
		}
	}
	pw.invalidate(ctx, output)
	return nil
}

// LastSequence returns the highest applied sequence, or -1.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Governance != nil {
		if err := pw.timed("governance", func() error { return upsertGovernance(ctx, tx, *output.Governance, seq) }); err != nil {
			return fmt.Errorf("governance projection: %w", err)
		}
	}

	if output.Position != nil {
		if err := pw.timed("positions", func() error { return upsertPosition(ctx, tx, *output.Position, seq) }); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	if len(output.Balances) > 0 {
		if err := pw.timed("balances", func() error { return upsertBalances(ctx, tx, output.Balances, seq) }); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Liquidation != nil {
		if err := pw.timed("liquidations", func() error { return insertLiquidation(ctx, tx, *output.Liquidation, seq) }); err != nil {
			return fmt.Errorf("liquidation projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET
			last_sequence = GREATEST(projections.watermark.last_sequence, EXCLUDED.last_sequence),
			updated_at = NOW()
	`, watermarkID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) timed(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			pw.metrics.ProjectionErrors.WithLabelValues(name).Inc()
		}
	}
	return err
}

func (pw *ProjectionWorker) invalidate(ctx context.Context, output core.CoreOutput) {
	if pw.invalidator == nil {
		return
	}
	if output.Governance != nil {
		if err := pw.invalidator.InvalidateGovernance(ctx); err != nil {
			pw.logger.Debug().Err(err).Msg("governance cache invalidation failed")
		}
	}
	if output.Position != nil {
		if err := pw.invalidator.InvalidatePosition(ctx, output.Position.Owner); err != nil {
			pw.logger.Debug().Err(err).Str("owner", output.Position.Owner.String()).Msg("position cache invalidation failed")
		}
	}
	if liq := output.Liquidation; liq != nil && liq.Liquidator != liq.Owner {
		if err := pw.invalidator.InvalidatePosition(ctx, liq.Liquidator); err != nil {
			pw.logger.Debug().Err(err).Msg("liquidator cache invalidation failed")
		}
	}
}

// Rows only move forward: a replayed or reordered older output never
// overwrites newer state.

func upsertGovernance(ctx context.Context, tx *sql.Tx, g state.GovernanceRecord, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.governance
			(address, authority, collateral_ratio, ratio_scale, paused,
			 liquidation_bonus_bps, mint_fee_bps, version, updated_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (address) DO UPDATE SET
			authority = EXCLUDED.authority,
			collateral_ratio = EXCLUDED.collateral_ratio,
			ratio_scale = EXCLUDED.ratio_scale,
			paused = EXCLUDED.paused,
			liquidation_bonus_bps = EXCLUDED.liquidation_bonus_bps,
			mint_fee_bps = EXCLUDED.mint_fee_bps,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.governance.last_sequence < EXCLUDED.last_sequence
	`, g.Address, g.Authority, u64(g.CollateralRatio), u64(g.RatioScale), g.Paused,
		int64(g.LiquidationBonusBps), int64(g.MintFeeBps), int64(g.Version), g.UpdatedAt, seq)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p state.PositionRecord, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(owner, address, collateral_deposited, stablecoin_minted,
			 last_mint_ts, last_liquidation_ts, status, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner) DO UPDATE SET
			collateral_deposited = EXCLUDED.collateral_deposited,
			stablecoin_minted = EXCLUDED.stablecoin_minted,
			last_mint_ts = EXCLUDED.last_mint_ts,
			last_liquidation_ts = EXCLUDED.last_liquidation_ts,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.positions.last_sequence < EXCLUDED.last_sequence
	`, p.Owner, p.Address, u64(p.CollateralDeposited), u64(p.StablecoinMinted),
		p.LastMintTs, p.LastLiquidationTs, p.Status.String(), int64(p.Version), seq)
	return err
}

func upsertBalances(ctx context.Context, tx *sql.Tx, balances map[ledger.AccountKey]int64, seq int64) error {
	for key, balance := range balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_path) DO UPDATE SET
				balance = EXCLUDED.balance,
				last_sequence = EXCLUDED.last_sequence
			WHERE projections.balances.last_sequence < EXCLUDED.last_sequence
		`, key.AccountPath(), int32(key.AssetID), balance, seq); err != nil {
			return err
		}
	}
	return nil
}

// u64 renders a quantity for a NUMERIC(20, 0) column; database/sql rejects
// uint64 values with the high bit set.
func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}
