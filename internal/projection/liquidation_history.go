package projection

import (
	"context"
	"database/sql"
	"fmt"

	"StableLedger/internal/state"
)

// insertLiquidation appends one audit row. The event sequence is the key,
// so replaying the same output is a no-op.
func insertLiquidation(ctx context.Context, tx *sql.Tx, rec state.LiquidationRecord, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, owner, liquidator, debt_repaid, collateral_seized,
			 price, debt_after, collateral_after, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, rec.Owner, rec.Liquidator, u64(rec.DebtRepaid), u64(rec.CollateralSeized),
		u64(rec.Price), u64(rec.DebtAfter), u64(rec.CollateralAfter), rec.Timestamp)
	return err
}

// Reset clears every projection table and the watermark. The shell then
// replays the event log from sequence 0 to repopulate them.
func Reset(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.governance`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.liquidation_history`,
		`DELETE FROM projections.watermark WHERE worker_id = '` + watermarkID + `'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset projections: %w", err)
		}
	}
	return tx.Commit()
}

// Watermark returns the last sequence the projections reflect, or -1.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq sql.NullInt64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, watermarkID,
	).Scan(&seq)
	if err == sql.ErrNoRows || (err == nil && !seq.Valid) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
