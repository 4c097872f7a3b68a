package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"StableLedger/internal/domain"
	"StableLedger/internal/ledger"
	"StableLedger/internal/observability"
	"StableLedger/internal/price"
	"StableLedger/internal/projection"
	"StableLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1_000
)

// Cache holds serialized projection rows. Misses are reported with
// domain.ErrNotFound.
type Cache interface {
	GetPosition(ctx context.Context, owner uuid.UUID) ([]byte, error)
	SetPosition(ctx context.Context, owner uuid.UUID, data []byte) error
	GetGovernance(ctx context.Context) ([]byte, error)
	SetGovernance(ctx context.Context, data []byte) error
}

// QueryService provides read-only access to projection tables.
// All responses carry as_of_sequence for freshness. Position health is
// derived per request from the current price and is never cached.
type QueryService struct {
	db      *sql.DB
	cache   Cache
	prices  price.Source
	metrics *observability.Metrics
	logger  zerolog.Logger
	group   singleflight.Group
}

func NewQueryService(db *sql.DB, cache Cache, prices price.Source, metrics *observability.Metrics, logger zerolog.Logger) *QueryService {
	return &QueryService{db: db, cache: cache, prices: prices, metrics: metrics, logger: logger}
}

// GetGovernance returns the projected governance record, or
// domain.ErrNotFound before initialize.
func (qs *QueryService) GetGovernance(ctx context.Context) (*GovernanceResponse, error) {
	defer qs.observe("governance", time.Now())

	var g GovernanceResponse
	if err := qs.cached(ctx, "governance", &g,
		func(ctx context.Context) ([]byte, error) { return qs.cache.GetGovernance(ctx) },
		func(ctx context.Context, b []byte) error { return qs.cache.SetGovernance(ctx, b) },
		func(ctx context.Context) (any, error) { return qs.loadGovernance(ctx) },
	); err != nil {
		qs.count("governance", err)
		return nil, err
	}
	qs.count("governance", nil)
	return &g, nil
}

// GetPosition returns owner's position. atPrice overrides the price used
// for derived fields; 0 means use the current price source.
func (qs *QueryService) GetPosition(ctx context.Context, owner uuid.UUID, atPrice uint64) (*PositionResponse, error) {
	defer qs.observe("position", time.Now())

	var p PositionResponse
	if err := qs.cached(ctx, "position:"+owner.String(), &p,
		func(ctx context.Context) ([]byte, error) { return qs.cache.GetPosition(ctx, owner) },
		func(ctx context.Context, b []byte) error { return qs.cache.SetPosition(ctx, owner, b) },
		func(ctx context.Context) (any, error) { return qs.loadPosition(ctx, owner) },
	); err != nil {
		qs.count("position", err)
		return nil, err
	}

	if atPrice == 0 && qs.prices != nil {
		if raw, err := qs.prices.Price(ctx); err == nil {
			atPrice = raw.Value
		} else if !errors.Is(err, domain.ErrNotFound) {
			qs.logger.Warn().Err(err).Msg("price lookup failed; omitting derived fields")
		}
	}
	if atPrice > 0 {
		gov, err := qs.GetGovernance(ctx)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			qs.count("position", err)
			return nil, err
		}
		if gov != nil {
			if err := derive(&p, gov, atPrice); err != nil {
				qs.count("position", err)
				return nil, err
			}
		}
	}
	qs.count("position", nil)
	return &p, nil
}

// derive fills the price-dependent fields of p.
func derive(p *PositionResponse, g *GovernanceResponse, px uint64) error {
	gov := &state.GovernanceRecord{CollateralRatio: g.CollateralRatio, RatioScale: g.RatioScale}
	pos := &state.PositionRecord{CollateralDeposited: p.CollateralDeposited, StablecoinMinted: p.StablecoinMinted}

	p.Price = &px
	p.Health = state.CheckHealth(gov, pos, px).String()

	ratio, ok, err := state.CollateralizationRatio(gov, pos, px)
	if err != nil {
		return err
	}
	if ok {
		p.CollateralizationRatio = &ratio
	}
	maxMint, err := state.MaxMintable(gov, pos, px)
	if err != nil {
		return err
	}
	p.MaxMintable = &maxMint
	return nil
}

// GetBalances returns every token account owned by owner.
func (qs *QueryService) GetBalances(ctx context.Context, owner uuid.UUID) (*BalancesResponse, error) {
	defer qs.observe("balances", time.Now())

	asOf, err := projection.Watermark(ctx, qs.db)
	if err != nil {
		qs.count("balances", err)
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset_id, balance
		FROM projections.balances
		WHERE account_path LIKE $1
		ORDER BY account_path
	`, "user:"+owner.String()+":%")
	if err != nil {
		qs.count("balances", err)
		return nil, err
	}
	defer rows.Close()

	resp := &BalancesResponse{Owner: owner, Accounts: []AccountBalance{}, AsOfSequence: asOf}
	for rows.Next() {
		var b AccountBalance
		var assetID uint16
		if err := rows.Scan(&b.AccountPath, &assetID, &b.Balance); err != nil {
			return nil, err
		}
		b.Asset, _ = ledger.GetAssetName(ledger.AssetID(assetID))
		resp.Accounts = append(resp.Accounts, b)
	}
	qs.count("balances", rows.Err())
	return resp, rows.Err()
}

// GetJournalHistory returns journal entries touching owner's accounts,
// newest first. beforeSequence pages backwards; 0 starts at the tip.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	beforeSequence int64,
) ([]JournalHistoryEntry, error) {
	defer qs.observe("journal_history", time.Now())
	accountPrefix := "user:" + owner.String() + ":%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{accountPrefix}
	if beforeSequence > 0 {
		query += " AND sequence < $2"
		args = append(args, beforeSequence)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC, journal_id LIMIT %d", pageSize(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		qs.count("journal_history", err)
		return nil, err
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	qs.count("journal_history", rows.Err())
	return entries, rows.Err()
}

// GetLiquidationHistory returns liquidations where id was the owner or the
// liquidator, newest first.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	id uuid.UUID,
	limit int,
	beforeSequence int64,
) ([]LiquidationEntry, error) {
	defer qs.observe("liquidation_history", time.Now())

	query := `
		SELECT sequence, owner, liquidator, debt_repaid::text, collateral_seized::text,
		       price::text, debt_after::text, collateral_after::text, timestamp
		FROM projections.liquidation_history
		WHERE (owner = $1 OR liquidator = $1)
	`
	args := []any{id}
	if beforeSequence > 0 {
		query += " AND sequence < $2"
		args = append(args, beforeSequence)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT %d", pageSize(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		qs.count("liquidation_history", err)
		return nil, err
	}
	defer rows.Close()

	entries := []LiquidationEntry{}
	for rows.Next() {
		var e LiquidationEntry
		var repaid, seized, px, debtAfter, collAfter string
		if err := rows.Scan(&e.Sequence, &e.Owner, &e.Liquidator, &repaid, &seized,
			&px, &debtAfter, &collAfter, &e.Timestamp); err != nil {
			return nil, err
		}
		if err := parseUints(
			field{repaid, &e.DebtRepaid}, field{seized, &e.CollateralSeized}, field{px, &e.Price},
			field{debtAfter, &e.DebtAfter}, field{collAfter, &e.CollateralAfter},
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	qs.count("liquidation_history", rows.Err())
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain and the projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer qs.observe("integrity", time.Now())
	report := &IntegrityReport{LatestSequence: -1}

	if err := qs.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), -1) FROM event_log.events`,
	).Scan(&report.LatestSequence); err != nil {
		return nil, err
	}
	wm, err := projection.Watermark(ctx, qs.db)
	if err != nil {
		return nil, err
	}
	report.ProjectedSequence = wm

	// Hash chain continuity
	if err := qs.collect(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`, func(rows *sql.Rows) error {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
		return nil
	}); err != nil {
		return nil, err
	}

	// Double entry: every asset sums to zero across all accounts
	if err := qs.collect(ctx, `
		SELECT asset_id, SUM(balance)::bigint
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) <> 0
	`, func(rows *sql.Rows) error {
		var u UnbalancedAsset
		if err := rows.Scan(&u.AssetID, &u.Imbalance); err != nil {
			return err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
		return nil
	}); err != nil {
		return nil, err
	}

	// User accounts never go negative
	if err := qs.collect(ctx, `
		SELECT account_path FROM projections.balances
		WHERE account_path LIKE 'user:%' AND balance < 0
		ORDER BY account_path
		LIMIT 10
	`, func(rows *sql.Rows) error {
		var path string
		if err := rows.Scan(&path); err != nil {
			return err
		}
		report.NegativeAccounts = append(report.NegativeAccounts, path)
		return nil
	}); err != nil {
		return nil, err
	}

	// Position collateral matches its vault
	if err := qs.collect(ctx, `
		SELECT p.owner
		FROM projections.positions p
		LEFT JOIN projections.balances b
		       ON b.account_path = 'user:' || p.owner::text || ':vault:COLL'
		WHERE COALESCE(b.balance, 0)::numeric <> p.collateral_deposited
		ORDER BY p.owner
		LIMIT 10
	`, func(rows *sql.Rows) error {
		var owner uuid.UUID
		if err := rows.Scan(&owner); err != nil {
			return err
		}
		report.VaultMismatches = append(report.VaultMismatches, owner)
		return nil
	}); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0 &&
		len(report.NegativeAccounts) == 0 &&
		len(report.VaultMismatches) == 0
	return report, nil
}

// --- loaders ---

func (qs *QueryService) loadGovernance(ctx context.Context) (*GovernanceResponse, error) {
	var g GovernanceResponse
	var ratio, scale string
	var bonus, fee, version int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT address, authority, collateral_ratio::text, ratio_scale::text, paused,
		       liquidation_bonus_bps, mint_fee_bps, version, updated_at, last_sequence
		FROM projections.governance
		LIMIT 1
	`).Scan(&g.Address, &g.Authority, &ratio, &scale, &g.Paused,
		&bonus, &fee, &version, &g.UpdatedAt, &g.AsOfSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := parseUints(field{ratio, &g.CollateralRatio}, field{scale, &g.RatioScale}); err != nil {
		return nil, err
	}
	g.LiquidationBonusBps, g.MintFeeBps, g.Version = uint64(bonus), uint64(fee), uint64(version)
	return &g, nil
}

func (qs *QueryService) loadPosition(ctx context.Context, owner uuid.UUID) (*PositionResponse, error) {
	p := PositionResponse{Owner: owner}
	var collateral, debt string
	var version int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT address, collateral_deposited::text, stablecoin_minted::text,
		       last_mint_ts, last_liquidation_ts, status, version, last_sequence
		FROM projections.positions
		WHERE owner = $1
	`, owner).Scan(&p.Address, &collateral, &debt,
		&p.LastMintTs, &p.LastLiquidationTs, &p.Status, &version, &p.AsOfSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := parseUints(field{collateral, &p.CollateralDeposited}, field{debt, &p.StablecoinMinted}); err != nil {
		return nil, err
	}
	p.Version = uint64(version)
	return &p, nil
}

// cached reads key through the cache. Concurrent misses for the same key
// share one database load.
func (qs *QueryService) cached(
	ctx context.Context,
	key string,
	dst any,
	get func(context.Context) ([]byte, error),
	set func(context.Context, []byte) error,
	load func(context.Context) (any, error),
) error {
	kind, _, _ := strings.Cut(key, ":")
	if qs.cache != nil {
		data, err := get(ctx)
		if err == nil {
			if err := json.Unmarshal(data, dst); err == nil {
				qs.cacheHit(kind)
				return nil
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			qs.logger.Debug().Err(err).Str("key", key).Msg("cache read failed")
		}
	}
	qs.cacheMiss(kind)

	v, err, _ := qs.group.Do(key, func() (any, error) {
		row, err := load(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		if qs.cache != nil {
			if err := set(ctx, data); err != nil {
				qs.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
			}
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), dst)
}

func (qs *QueryService) collect(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := qs.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// --- helpers ---

type field struct {
	text string
	dst  *uint64
}

func parseUints(fields ...field) error {
	for _, f := range fields {
		v, err := strconv.ParseUint(f.text, 10, 64)
		if err != nil {
			return fmt.Errorf("parse quantity %q: %w", f.text, err)
		}
		*f.dst = v
	}
	return nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func (qs *QueryService) observe(endpoint string, start time.Time) {
	if qs.metrics != nil {
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (qs *QueryService) count(endpoint string, err error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
}

func (qs *QueryService) cacheHit(kind string) {
	if qs.metrics != nil {
		qs.metrics.QueryCacheHits.WithLabelValues(kind).Inc()
	}
}

func (qs *QueryService) cacheMiss(kind string) {
	if qs.metrics != nil {
		qs.metrics.QueryCacheMiss.WithLabelValues(kind).Inc()
	}
}
