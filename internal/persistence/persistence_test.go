package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/instruction"
	"StableLedger/internal/price"
	"StableLedger/internal/state"
	"StableLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	testAuthority = uuid.MustParse("a0000000-0000-4000-8000-000000000001")
	testOwner     = uuid.MustParse("b0000000-0000-4000-8000-000000000002")
)

// runScenario applies initialize, deposit and mint on a fresh core and
// returns it with the persisted outputs.
func runScenario(t *testing.T) (*core.SettlementCore, []core.CoreOutput) {
	t.Helper()
	persistCh := make(chan core.CoreOutput, 16)
	cfg := core.DefaultConfig()
	cfg.Governance = state.GovernanceParams{RatioScale: 100, LiquidationBonusBps: 1_000, MintFeeBps: 100}
	c := core.NewSettlementCore(cfg, persistCh, nil, nil, nil)

	ts := int64(1_700_000_000_000_000)
	for _, ins := range []instruction.Instruction{
		&instruction.Initialize{RequestID: uuid.New(), Payer: testAuthority, CollateralRatio: 150, TimestampUs: ts},
		&instruction.DepositCollateral{RequestID: uuid.New(), Owner: testOwner, Payer: testOwner, Amount: 100, Sequence: 1, TimestampUs: ts},
		&instruction.MintStablecoin{RequestID: uuid.New(), Owner: testOwner, Amount: 1_000, CurrentPrice: price.RawPrice{Value: 100}, Sequence: 2, TimestampUs: ts},
	} {
		_, err := c.ProcessInstruction(context.Background(), ins)
		require.NoError(t, err)
	}

	close(persistCh)
	var outputs []core.CoreOutput
	for o := range persistCh {
		outputs = append(outputs, o)
	}
	require.Len(t, outputs, 3)
	return c, outputs
}

func TestRowsFromOutput(t *testing.T) {
	_, outputs := runScenario(t)

	event, journals := RowsFromOutput(outputs[0])
	require.Equal(t, "initialize", event.InstructionType)
	require.Equal(t, instruction.GovernancePartition, event.Partition)
	require.Empty(t, journals)

	mint := outputs[2]
	event, journals = RowsFromOutput(mint)
	require.Equal(t, int64(2), event.Sequence)
	require.Equal(t, "mint_stablecoin", event.InstructionType)
	require.Equal(t, int64(2), event.SourceSequence)
	require.Equal(t, mint.Envelope.StateHash[:], event.StateHash)
	require.Equal(t, mint.Envelope.PrevHash[:], event.PrevHash)

	// Mint plus the 1% fee leg
	require.Len(t, journals, 2)
	require.Equal(t, int64(990), journals[0].Amount)
	require.Equal(t, int64(10), journals[1].Amount)
	for _, j := range journals {
		require.Equal(t, event.Sequence, j.Sequence)
		require.Equal(t, event.IdempotencyKey, j.EventRef)
	}

	decoded, err := event.Instruction()
	require.NoError(t, err)
	m, ok := decoded.(*instruction.MintStablecoin)
	require.True(t, ok)
	require.Equal(t, uint64(1_000), m.Amount)
	require.Equal(t, testOwner, m.Owner)
}

func TestPlaceholders(t *testing.T) {
	require.Equal(t, "($1, $2, $3)", placeholders(0, 3))
	require.Equal(t, "($10, $11)", placeholders(9, 2))
}

func TestSnapshot_RoundTripThroughJSON(t *testing.T) {
	c, _ := runScenario(t)
	live := c.CreateSnapshotState()

	raw, err := json.Marshal(SnapshotFromCore(live))
	require.NoError(t, err)

	var data SnapshotData
	require.NoError(t, json.Unmarshal(raw, &data))
	restored, err := data.ToCore()
	require.NoError(t, err)

	require.Equal(t, live.Sequence, restored.Sequence)
	require.Equal(t, live.StateHash, restored.StateHash)
	require.Equal(t, live.Balances, restored.Balances)
	require.Equal(t, live.Governance, restored.Governance)
	require.ElementsMatch(t, live.Positions, restored.Positions)
	require.Equal(t, live.SequenceState, restored.SequenceState)
	require.Equal(t, live.IdempotencyKeys, restored.IdempotencyKeys)

	fresh := core.NewSettlementCore(core.DefaultConfig(), nil, nil, nil, nil)
	fresh.RestoreFromSnapshot(restored)
	require.Equal(t, c.GetStateHash(), fresh.GetStateHash())
	require.NoError(t, fresh.VerifyLedger())
}

func TestSnapshot_ToCoreRejectsCorruptData(t *testing.T) {
	c, _ := runScenario(t)
	data := SnapshotFromCore(c.CreateSnapshotState())

	bad := *data
	bad.StateHash = bad.StateHash[:8]
	_, err := bad.ToCore()
	require.Error(t, err)

	bad = *data
	bad.Positions = []PositionSnapshot{{Owner: "not-a-uuid", Address: uuid.NewString(), CollateralDeposited: "1", StablecoinMinted: "0", Version: "1"}}
	_, err = bad.ToCore()
	require.Error(t, err)

	bad = *data
	bad.Balances = map[string]int64{"user:bogus": 1}
	_, err = bad.ToCore()
	require.Error(t, err)
}

func TestMigrator_ListsAndVersionsFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_projections.up.sql",
		"000001_event_log.up.sql",
		"000001_event_log.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}

	m := NewMigrator(nil, dir, zerolog.Nop())
	files, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	require.Equal(t, []string{"000001_event_log.up.sql", "000002_projections.up.sql"}, files)
	require.Equal(t, "000002", extractVersion(files[1]))
}

// --- Integration (Postgres) ---

func TestPersistenceWorker_WritesAndDedups(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop()).Up(ctx))

	c, outputs := runScenario(t)

	input := make(chan core.CoreOutput, len(outputs)*2)
	committed := make(chan core.CoreOutput, len(outputs)*2)
	for _, o := range outputs {
		input <- o
	}
	// A redelivered batch is absorbed by ON CONFLICT.
	for _, o := range outputs {
		input <- o
	}
	close(input)

	worker := NewPersistenceWorker(db, input, committed, 2, 10*time.Millisecond, nil, zerolog.Nop())
	require.NoError(t, worker.Run(ctx))
	require.Len(t, committed, len(outputs)*2)

	var events, journals int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.events`).Scan(&events))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.journal`).Scan(&journals))
	require.Equal(t, 3, events)
	require.Equal(t, 3, journals) // deposit + mint + fee

	checker := NewPostgresIdempotencyChecker(db, time.Second)
	env := outputs[1].Envelope
	dup, err := checker.IsDuplicate(ctx, env.Type.String(), env.IdempotencyKey)
	require.NoError(t, err)
	require.True(t, dup)
	dup, err = checker.IsDuplicate(ctx, env.Type.String(), uuid.NewString())
	require.NoError(t, err)
	require.False(t, dup)

	keys, err := checker.RecentKeys(ctx, 10)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	require.Equal(t, core.CompositeKey(env.Type.String(), env.IdempotencyKey), keys[1])

	// Snapshot verification against the durable log
	sm := NewSnapshotManager(db)
	_, err = sm.SaveSnapshot(ctx, SnapshotFromCore(c.CreateSnapshotState()))
	require.NoError(t, err)
	verified, err := sm.VerifyAgainstEventLog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), verified)

	loaded, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, int64(2), loaded.Sequence)

	rows, err := sm.LoadEventsFrom(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	_, err = rows[0].Instruction()
	require.NoError(t, err)

	tip, err := sm.GetStateHash(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, c.GetStateHash(), tip)
}
