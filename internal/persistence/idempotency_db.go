package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"StableLedger/internal/core"
)

// PostgresIdempotencyChecker is the durable dedup tier. It looks the key up
// in the event log, whose unique index on (instruction_type,
// idempotency_key) makes the log itself the source of truth.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB, timeout time.Duration) *PostgresIdempotencyChecker {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: timeout,
	}
}

// IsDuplicate reports whether the instruction is already in the event log.
func (pic *PostgresIdempotencyChecker) IsDuplicate(ctx context.Context, instructionType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE instruction_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, instructionType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the composite keys of the last limit instructions,
// oldest first, for warming the in-memory LRU on startup.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT instruction_type, idempotency_key FROM (
			SELECT sequence, instruction_type, idempotency_key
			FROM event_log.events
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0, limit)
	for rows.Next() {
		var insType, key string
		if err := rows.Scan(&insType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, core.CompositeKey(insType, key))
	}
	return keys, rows.Err()
}
