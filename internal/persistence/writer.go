package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"StableLedger/internal/core"
)

// EventLogWriter writes instructions and their journals to Postgres with
// multi-row INSERTs. Writes are idempotent on sequence and journal_id, so a
// retried batch never duplicates rows.
type EventLogWriter struct {
	db *sql.DB
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventRow is a row in event_log.events.
type EventRow struct {
	Sequence        int64
	InstructionType string
	IdempotencyKey  string
	Partition       string
	Payload         []byte // instruction.Encode output
	StateHash       []byte
	PrevHash        []byte
	Timestamp       time.Time
	SourceSequence  int64
}

// JournalRow is a row in event_log.journal.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromOutput converts one core output into its event and journal rows.
func RowsFromOutput(output core.CoreOutput) (EventRow, []JournalRow) {
	env := output.Envelope
	event := EventRow{
		Sequence:        env.Sequence,
		InstructionType: env.Type.String(),
		IdempotencyKey:  env.IdempotencyKey,
		Partition:       env.Partition,
		Payload:         env.Payload,
		StateHash:       append([]byte(nil), env.StateHash[:]...),
		PrevHash:        append([]byte(nil), env.PrevHash[:]...),
		Timestamp:       env.Timestamp,
		SourceSequence:  env.SourceSequence,
	}

	if output.Batch == nil {
		return event, nil
	}
	journals := make([]JournalRow, 0, len(output.Batch.Journals))
	for _, j := range output.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       uint16(j.AssetID),
			Amount:        j.Amount,
			JournalType:   int32(j.JournalType),
			Timestamp:     j.Timestamp,
		})
	}
	return event, journals
}

// WriteEventBatch inserts events through ex (the DB or an open transaction).
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 9
	query := `INSERT INTO event_log.events
		(sequence, instruction_type, idempotency_key, partition_key, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.InstructionType, e.IdempotencyKey, e.Partition,
			string(e.Payload), e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch inserts journal legs through ex.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 10
	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, int32(j.AssetID), j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}
