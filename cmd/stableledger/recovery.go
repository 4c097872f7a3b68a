package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/observability"
	"StableLedger/internal/persistence"
	"StableLedger/internal/projection"

	"github.com/rs/zerolog"
)

// recovery rebuilds the core from the latest verified snapshot plus the
// event log after it, and brings the projections up to the log tip.
type recovery struct {
	snapshots *persistence.SnapshotManager
	dedup     *persistence.PostgresIdempotencyChecker
	projector *projection.ProjectionWorker
	metrics   *observability.Metrics
	logger    zerolog.Logger

	batchSize   int
	warmKeys    int
	rebuild     bool
	watermark   int64
	replayed    int64
	startedFrom int64
}

func (r *recovery) run(ctx context.Context, c *core.SettlementCore) error {
	start := time.Now()

	if n, err := r.snapshots.VerifyAgainstEventLog(ctx); err != nil {
		return fmt.Errorf("verify snapshots: %w", err)
	} else if n > 0 {
		r.logger.Info().Int64("verified", n).Msg("snapshots verified against event log")
	}

	snap, err := r.snapshots.LoadLatestSnapshot(ctx)
	if err != nil {
		return err
	}

	// A snapshot ahead of the projections would skip events they never saw.
	if snap != nil && (r.rebuild || r.watermark < snap.Sequence) {
		r.logger.Info().
			Int64("snapshot", snap.Sequence).
			Int64("watermark", r.watermark).
			Bool("rebuild", r.rebuild).
			Msg("ignoring snapshot, replaying full event log")
		snap = nil
	}

	from := int64(0)
	if snap != nil {
		restored, err := snap.ToCore()
		if err != nil {
			return fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		c.RestoreFromSnapshot(restored)
		if err := c.VerifyLedger(); err != nil {
			return fmt.Errorf("snapshot %d ledger check: %w", snap.Sequence, err)
		}
		from = snap.Sequence + 1
		r.logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		r.logger.Info().Msg("no usable snapshot, cold start from sequence 0")
	}
	r.startedFrom = from

	if err := r.replay(ctx, c, from); err != nil {
		return err
	}

	if tip, ok, err := r.snapshots.GetLatestSequence(ctx); err != nil {
		return err
	} else if ok {
		stored, err := r.snapshots.GetStateHash(ctx, tip)
		if err != nil {
			return err
		}
		if got := c.GetStateHash(); got != stored {
			return fmt.Errorf("state hash mismatch at sequence %d: log %x, replayed %x", tip, stored, got)
		}
		r.logger.Info().Int64("sequence", tip).Msg("state hash verified against event log")
	}

	if r.warmKeys > 0 {
		keys, err := r.dedup.RecentKeys(ctx, r.warmKeys)
		if err != nil {
			return fmt.Errorf("warm idempotency cache: %w", err)
		}
		c.WarmLRU(keys)
	}
	c.EnableDurableDedup(r.dedup)

	if r.metrics != nil {
		r.metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	r.logger.Info().
		Int64("replayed", r.replayed).
		Int64("next_sequence", c.GetSequence()).
		Dur("duration", time.Since(start)).
		Msg("recovery complete")
	return nil
}

// replay applies every logged event from sequence from onward. A replayed
// event must land on its logged sequence and hash; anything else means the
// log and the code disagree and startup stops.
func (r *recovery) replay(ctx context.Context, c *core.SettlementCore, from int64) error {
	for {
		rows, err := r.snapshots.LoadEventsFrom(ctx, from, r.batchSize)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			ins, err := row.Instruction()
			if err != nil {
				return fmt.Errorf("decode event %d: %w", row.Sequence, err)
			}
			out, err := c.Replay(ctx, ins)
			if err != nil {
				return fmt.Errorf("replay event %d (%s): %w", row.Sequence, row.InstructionType, err)
			}
			if out == nil {
				return fmt.Errorf("replay event %d (%s): treated as duplicate", row.Sequence, row.InstructionType)
			}
			if out.Envelope.Sequence != row.Sequence {
				return fmt.Errorf("replay event %d landed on sequence %d", row.Sequence, out.Envelope.Sequence)
			}
			if !bytes.Equal(out.Envelope.StateHash[:], row.StateHash) {
				return fmt.Errorf("replay event %d: state hash diverged from the log", row.Sequence)
			}
			if row.Sequence > r.watermark {
				if err := r.projector.Apply(ctx, *out); err != nil {
					return fmt.Errorf("project event %d: %w", row.Sequence, err)
				}
			}
			r.replayed++
			if r.metrics != nil {
				r.metrics.ReplayEventsTotal.Inc()
			}
		}

		from = rows[len(rows)-1].Sequence + 1
		r.logger.Debug().Int64("next", from).Int64("replayed", r.replayed).Msg("replay progress")
	}
}
