package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on that channel with a blocking send, so when this worker
// falls behind the core stalls and nothing is lost.
//
// After a batch commits, its outputs are forwarded to committed (if set)
// with a non-blocking send, so receipts are only published for durable
// instructions.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	committed    chan<- core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	committed chan<- core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 256
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		committed:    committed,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

type pendingBatch struct {
	outputs  []core.CoreOutput
	events   []EventRow
	journals []JournalRow
}

func (b *pendingBatch) add(output core.CoreOutput) {
	event, journals := RowsFromOutput(output)
	b.outputs = append(b.outputs, output)
	b.events = append(b.events, event)
	b.journals = append(b.journals, journals...)
}

func (b *pendingBatch) reset() {
	b.outputs = b.outputs[:0]
	b.events = b.events[:0]
	b.journals = b.journals[:0]
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pendingBatch{
		outputs:  make([]core.CoreOutput, 0, pw.batchSize),
		events:   make([]EventRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*2),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			pw.drain(batch)
			if len(batch.events) > 0 {
				if err := pw.flushWithRetry(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch.events) > 0 {
					if err := pw.flushWithRetry(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch.add(output)
			if len(batch.events) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.events) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			if pw.metrics != nil {
				pw.metrics.SetChannelMetrics("persist", len(pw.inputChan), cap(pw.inputChan))
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// drain pulls whatever is already buffered so shutdown does not strand
// outputs the core has handed over.
func (pw *PersistenceWorker) drain(batch *pendingBatch) {
	for {
		select {
		case output, ok := <-pw.inputChan:
			if !ok {
				return
			}
			batch.add(output)
		default:
			return
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// It never drops a batch; on cancellation it makes one last attempt with a
// background context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pendingBatch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch.events)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				pw.forward(batch)
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			pw.forward(batch)
			return nil
		}

		pw.logger.Warn().Err(err).Msg("persistence flush failed")
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

// flush writes events and journals in a single transaction.
func (pw *PersistenceWorker) flush(ctx context.Context, batch *pendingBatch) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, batch.events); err != nil {
		pw.countError("write_events")
		return err
	}

	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistLastSequence.Set(float64(batch.events[len(batch.events)-1].Sequence))
	}

	return nil
}

func (pw *PersistenceWorker) forward(batch *pendingBatch) {
	if pw.committed == nil {
		return
	}
	for _, output := range batch.outputs {
		select {
		case pw.committed <- output:
		default:
			if pw.metrics != nil {
				pw.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
