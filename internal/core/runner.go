package core

import (
	"context"
	"errors"
	"fmt"

	"StableLedger/internal/domain"
	"StableLedger/internal/instruction"

	"github.com/rs/zerolog"
)

// Submission asks the core goroutine to apply one instruction. Reply, when
// set, must have room for one Result.
type Submission struct {
	Instruction instruction.Instruction
	Reply       chan<- Result
}

// Result is the outcome of one Submission.
type Result struct {
	Output    *CoreOutput
	Duplicate bool
	Err       error
}

// SnapshotFunc persists a captured state.
type SnapshotFunc func(ctx context.Context, snap *SnapshotState) error

// Runner owns a SettlementCore and is the only goroutine that touches it.
// Both ingestion paths feed the same input channel, so instructions from
// NATS and gRPC are totally ordered.
type Runner struct {
	core             *SettlementCore
	input            <-chan Submission
	snapshotInterval int64
	snapshotFn       SnapshotFunc
	lastSnapshotSeq  int64
	logger           zerolog.Logger
}

func NewRunner(
	core *SettlementCore,
	input <-chan Submission,
	snapshotInterval int64,
	snapshotFn SnapshotFunc,
	logger zerolog.Logger,
) *Runner {
	return &Runner{
		core:             core,
		input:            input,
		snapshotInterval: snapshotInterval,
		snapshotFn:       snapshotFn,
		lastSnapshotSeq:  core.GetSequence(),
		logger:           logger,
	}
}

// Run applies submissions until ctx is cancelled or input is closed.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub, ok := <-r.input:
			if !ok {
				return nil
			}
			r.apply(ctx, sub)
		}
	}
}

func (r *Runner) apply(ctx context.Context, sub Submission) {
	ins := sub.Instruction
	output, err := r.core.ProcessInstruction(ctx, ins)

	switch {
	case err == nil && output == nil:
		r.logger.Debug().
			Str("instruction", ins.Type().String()).
			Str("key", ins.IdempotencyKey()).
			Msg("duplicate instruction skipped")
	case err != nil:
		ev := r.logger.Error()
		if _, ok := domain.CodeOf(err); ok {
			// Validation failures are expected traffic
			ev = r.logger.Info()
		}
		ev.Err(err).
			Str("instruction", ins.Type().String()).
			Str("key", ins.IdempotencyKey()).
			Str("partition", ins.Partition()).
			Msg("instruction rejected")
	}

	if sub.Reply != nil {
		sub.Reply <- Result{Output: output, Duplicate: err == nil && output == nil, Err: err}
	}

	if r.snapshotInterval > 0 && r.core.GetSequence()-r.lastSnapshotSeq >= r.snapshotInterval {
		if err := r.Snapshot(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("periodic snapshot failed")
		}
	}
}

// Snapshot captures and persists the core state. Call it from the Runner's
// goroutine, or after Run has returned.
func (r *Runner) Snapshot(ctx context.Context) error {
	if r.snapshotFn == nil {
		return nil
	}
	if err := r.core.VerifyLedger(); err != nil {
		return fmt.Errorf("refusing to snapshot inconsistent ledger: %w", err)
	}
	snap := r.core.CreateSnapshotState()
	if err := r.snapshotFn(ctx, snap); err != nil {
		return err
	}
	r.lastSnapshotSeq = r.core.GetSequence()
	r.logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot saved")
	return nil
}

// ErrCoreUnavailable is returned by Submit when the core stops accepting work.
var ErrCoreUnavailable = errors.New("settlement core unavailable")

// Submit hands ins to the core and waits for its result.
func Submit(ctx context.Context, input chan<- Submission, ins instruction.Instruction) (Result, error) {
	reply := make(chan Result, 1)
	select {
	case input <- Submission{Instruction: ins, Reply: reply}:
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", ErrCoreUnavailable, ctx.Err())
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		// The instruction may still apply; the caller can retry with the
		// same idempotency key.
		return Result{}, fmt.Errorf("%w: %v", ErrCoreUnavailable, ctx.Err())
	}
}
