package projection

import (
	"context"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/instruction"
	"StableLedger/internal/persistence"
	"StableLedger/internal/price"
	"StableLedger/internal/state"
	"StableLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	authority  = uuid.MustParse("a0000000-0000-4000-8000-000000000001")
	owner      = uuid.MustParse("b0000000-0000-4000-8000-000000000002")
	liquidator = uuid.MustParse("c0000000-0000-4000-8000-000000000003")
)

type recordingInvalidator struct {
	positions  []uuid.UUID
	governance int
}

func (r *recordingInvalidator) InvalidatePosition(_ context.Context, id uuid.UUID) error {
	r.positions = append(r.positions, id)
	return nil
}

func (r *recordingInvalidator) InvalidateGovernance(context.Context) error {
	r.governance++
	return nil
}

// liquidationOutputs runs the initialize/deposit/mint/liquidate scenario and
// returns every projection output.
func liquidationOutputs(t *testing.T) []core.CoreOutput {
	t.Helper()
	projCh := make(chan core.CoreOutput, 16)
	cfg := core.DefaultConfig()
	cfg.Governance = state.GovernanceParams{RatioScale: 100, LiquidationBonusBps: 1_000}
	c := core.NewSettlementCore(cfg, nil, projCh, nil, nil)

	ts := int64(1_700_000_000_000_000)
	for _, ins := range []instruction.Instruction{
		&instruction.Initialize{RequestID: uuid.New(), Payer: authority, CollateralRatio: 150, TimestampUs: ts},
		&instruction.DepositCollateral{RequestID: uuid.New(), Owner: owner, Payer: owner, Amount: 14, TimestampUs: ts},
		&instruction.MintStablecoin{RequestID: uuid.New(), Owner: owner, Amount: 1_000, CurrentPrice: price.RawPrice{Value: 110}, TimestampUs: ts},
		&instruction.PartialLiquidate{RequestID: uuid.New(), Owner: owner, Liquidator: liquidator, Amount: 500, CurrentPrice: price.RawPrice{Value: 100}, TimestampUs: ts},
	} {
		_, err := c.ProcessInstruction(context.Background(), ins)
		require.NoError(t, err)
	}
	close(projCh)

	var outputs []core.CoreOutput
	for o := range projCh {
		outputs = append(outputs, o)
	}
	require.Len(t, outputs, 4)
	return outputs
}

func TestInvalidate_TouchesChangedRecords(t *testing.T) {
	outputs := liquidationOutputs(t)
	inv := &recordingInvalidator{}
	pw := NewProjectionWorker(nil, nil, inv, nil, zerolog.Nop())

	for _, o := range outputs {
		pw.invalidate(context.Background(), o)
	}

	require.Equal(t, 1, inv.governance)
	// deposit, mint, liquidation (owner), liquidation (liquidator)
	require.Equal(t, []uuid.UUID{owner, owner, owner, liquidator}, inv.positions)
}

func TestU64_FullRange(t *testing.T) {
	require.Equal(t, "18446744073709551615", u64(^uint64(0)))
	require.Equal(t, "0", u64(0))
}

func TestProjectionWorker_AppliesOutputs(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop()).Up(ctx))
	require.NoError(t, Reset(ctx, db))

	outputs := liquidationOutputs(t)
	input := make(chan core.CoreOutput, len(outputs)+1)
	for _, o := range outputs {
		input <- o
	}
	// A stale redelivery must not roll the position back.
	input <- outputs[2]
	close(input)

	pw := NewProjectionWorker(db, input, nil, nil, zerolog.Nop())
	require.NoError(t, pw.Run(ctx))
	require.Equal(t, int64(3), pw.LastSequence())

	var collateral, debt, status string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT collateral_deposited::text, stablecoin_minted::text, status FROM projections.positions WHERE owner = $1`, owner,
	).Scan(&collateral, &debt, &status))
	require.Equal(t, "9", collateral)
	require.Equal(t, "500", debt)
	require.Equal(t, "Open", status)

	var seized string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT collateral_seized::text FROM projections.liquidation_history WHERE owner = $1`, owner,
	).Scan(&seized))
	require.Equal(t, "5", seized)

	var ratio string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT collateral_ratio::text FROM projections.governance`).Scan(&ratio))
	require.Equal(t, "150", ratio)

	wm, err := Watermark(ctx, db)
	require.NoError(t, err)
	require.Equal(t, int64(3), wm)
}
