package core_test

import (
	"context"
	"errors"
	"testing"

	"StableLedger/internal/core"
	"StableLedger/internal/domain"
	"StableLedger/internal/instruction"
	"StableLedger/internal/ledger"
	"StableLedger/internal/price"
	"StableLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

const testTs = int64(1_700_000_000_000_000)

var (
	authorityID  = uuid.MustParse("a0000000-0000-4000-8000-000000000001")
	ownerID      = uuid.MustParse("b0000000-0000-4000-8000-000000000002")
	liquidatorID = uuid.MustParse("c0000000-0000-4000-8000-000000000003")
)

// percentScale is the deployment used by the end-to-end scenario: ratios
// in whole percent, 10% liquidation bonus, no mint fee.
var percentScale = state.GovernanceParams{RatioScale: 100, LiquidationBonusBps: 1_000}

// newTestCore creates a SettlementCore with buffered channels and no DB checker.
func newTestCore(params state.GovernanceParams) (*core.SettlementCore, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	cfg := core.DefaultConfig()
	cfg.Governance = params
	cfg.GlobalCheckInterval = 1
	c := core.NewSettlementCore(cfg, persistChan, projChan, nil, nil)
	return c, persistChan, projChan
}

func initializeIns(payer uuid.UUID, ratio uint64) *instruction.Initialize {
	return &instruction.Initialize{RequestID: uuid.New(), Payer: payer, CollateralRatio: ratio, TimestampUs: testTs}
}

func depositIns(owner uuid.UUID, amount uint64) *instruction.DepositCollateral {
	return &instruction.DepositCollateral{RequestID: uuid.New(), Owner: owner, Payer: owner, Amount: amount, TimestampUs: testTs}
}

func mintIns(owner uuid.UUID, amount, px uint64) *instruction.MintStablecoin {
	return &instruction.MintStablecoin{
		RequestID:    uuid.New(),
		Owner:        owner,
		Amount:       amount,
		CurrentPrice: price.RawPrice{Value: px},
		TimestampUs:  testTs,
	}
}

func liquidateIns(owner, liquidator uuid.UUID, amount, px uint64) *instruction.PartialLiquidate {
	return &instruction.PartialLiquidate{
		RequestID:    uuid.New(),
		Owner:        owner,
		Liquidator:   liquidator,
		Amount:       amount,
		CurrentPrice: price.RawPrice{Value: px},
		TimestampUs:  testTs,
	}
}

func mustApply(t *testing.T, c *core.SettlementCore, ins instruction.Instruction) *core.CoreOutput {
	t.Helper()
	out, err := c.ProcessInstruction(context.Background(), ins)
	if err != nil {
		t.Fatalf("%s failed: %v", ins.Type(), err)
	}
	if out == nil {
		t.Fatalf("%s was treated as duplicate", ins.Type())
	}
	return out
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// setupMinted initializes at 150%, deposits 14 and mints 1000 at price 110.
func setupMinted(t *testing.T) (*core.SettlementCore, chan core.CoreOutput) {
	t.Helper()
	c, persistCh, _ := newTestCore(percentScale)
	mustApply(t, c, initializeIns(authorityID, 150))
	mustApply(t, c, depositIns(ownerID, 14))
	mustApply(t, c, mintIns(ownerID, 1_000, 110))
	drainOutputs(persistCh)
	return c, persistCh
}

// ============================================================================
// Test: Initialize
// ============================================================================

func TestInitialize_ReadsBackRatio(t *testing.T) {
	c, persistCh, _ := newTestCore(percentScale)

	out := mustApply(t, c, initializeIns(authorityID, 150))

	gov, ok := c.Governance()
	if !ok {
		t.Fatal("governance not stored")
	}
	if gov.CollateralRatio != 150 {
		t.Errorf("collateral ratio: got %d, want 150", gov.CollateralRatio)
	}
	if gov.Authority != authorityID {
		t.Errorf("authority: got %s, want payer", gov.Authority)
	}
	if gov.Paused {
		t.Error("new governance should not be paused")
	}
	if out.Governance == nil || out.Governance.Version != 1 {
		t.Errorf("output should carry governance v1, got %+v", out.Governance)
	}
	if !out.Batch.IsEmpty() {
		t.Errorf("initialize moves no tokens, got %d journals", len(out.Batch.Journals))
	}
	if n := len(drainOutputs(persistCh)); n != 1 {
		t.Errorf("expected 1 persisted output, got %d", n)
	}
}

func TestInitialize_Twice_AlreadyInitialized(t *testing.T) {
	c, persistCh, _ := newTestCore(percentScale)
	mustApply(t, c, initializeIns(authorityID, 150))
	drainOutputs(persistCh)
	hashBefore := c.GetStateHash()

	_, err := c.ProcessInstruction(context.Background(), initializeIns(ownerID, 200))
	if !errors.Is(err, domain.ErrAlreadyInitialized) {
		t.Fatalf("expected AlreadyInitialized, got %v", err)
	}

	gov, _ := c.Governance()
	if gov.CollateralRatio != 150 || gov.Authority != authorityID {
		t.Errorf("governance changed by rejected initialize: %+v", gov)
	}
	if c.GetStateHash() != hashBefore {
		t.Error("state hash moved on rejected instruction")
	}
	if n := len(drainOutputs(persistCh)); n != 0 {
		t.Errorf("expected no output, got %d", n)
	}
}

func TestInitialize_RatioBelowScale_InvalidParameter(t *testing.T) {
	c, _, _ := newTestCore(percentScale)

	_, err := c.ProcessInstruction(context.Background(), initializeIns(authorityID, 99))
	if !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("expected InvalidParameter, got %v", err)
	}
	if _, ok := c.Governance(); ok {
		t.Error("governance stored despite rejection")
	}
}

func TestMint_BeforeInitialize_NotInitialized(t *testing.T) {
	c, _, _ := newTestCore(percentScale)

	_, err := c.ProcessInstruction(context.Background(), mintIns(ownerID, 1, 100))
	if !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("expected NotInitialized, got %v", err)
	}
}

// ============================================================================
// Test: End-to-end mint and liquidation
// ============================================================================

func TestEndToEnd_MintThenPartialLiquidate(t *testing.T) {
	c, persistCh, _ := newTestCore(percentScale)

	mustApply(t, c, initializeIns(authorityID, 150))
	mustApply(t, c, depositIns(ownerID, 14))

	// 1000 * 150 <= 14 * 110 * 100
	mintOut := mustApply(t, c, mintIns(ownerID, 1_000, 110))
	if mintOut.Position.StablecoinMinted != 1_000 {
		t.Fatalf("debt after mint: got %d, want 1000", mintOut.Position.StablecoinMinted)
	}
	if got := c.Balance(ledger.WalletKey(ownerID, ledger.AssetStablecoin)); got != 1_000 {
		t.Errorf("owner stablecoin: got %d, want 1000", got)
	}

	// At price 100 the position is under 150%: 1000 * 150 > 14 * 100 * 100
	liqOut := mustApply(t, c, liquidateIns(ownerID, liquidatorID, 500, 100))

	pos, _ := c.Position(ownerID)
	if pos.StablecoinMinted != 500 {
		t.Errorf("debt after liquidation: got %d, want 500", pos.StablecoinMinted)
	}
	// seized = floor(500 * 11_000 / (10_000 * 100)) = 5
	if liqOut.Liquidation.CollateralSeized != 5 {
		t.Errorf("seized: got %d, want 5", liqOut.Liquidation.CollateralSeized)
	}
	if pos.CollateralDeposited != 9 {
		t.Errorf("collateral after liquidation: got %d, want 9", pos.CollateralDeposited)
	}
	if pos.LastLiquidationTs != testTs {
		t.Errorf("last liquidation ts: got %d", pos.LastLiquidationTs)
	}
	if got := c.Balance(ledger.WalletKey(liquidatorID, ledger.AssetCollateral)); got != 5 {
		t.Errorf("liquidator collateral: got %d, want 5", got)
	}
	// The liquidator repays no stablecoin; the owner keeps the minted tokens
	// while the debt is written down.
	if got := c.Balance(ledger.WalletKey(liquidatorID, ledger.AssetStablecoin)); got != 0 {
		t.Errorf("liquidator stablecoin: got %d, want 0", got)
	}
	if got := c.Balance(ledger.WalletKey(ownerID, ledger.AssetStablecoin)); got != 1_000 {
		t.Errorf("owner stablecoin after liquidation: got %d, want 1000", got)
	}
	if got := c.Balance(ledger.VaultKey(ownerID)); got != 9 {
		t.Errorf("vault: got %d, want 9", got)
	}
	if err := c.VerifyLedger(); err != nil {
		t.Errorf("ledger inconsistent: %v", err)
	}

	if n := len(drainOutputs(persistCh)); n != 4 {
		t.Errorf("expected 4 persisted outputs, got %d", n)
	}
}

func TestMint_InsufficientCollateral_NoSideEffects(t *testing.T) {
	c, persistCh := setupMinted(t)
	before, _ := c.Position(ownerID)
	seqBefore := c.GetSequence()
	hashBefore := c.GetStateHash()

	// 1040 * 150 = 156_000 > 14 * 110 * 100 = 154_000
	_, err := c.ProcessInstruction(context.Background(), mintIns(ownerID, 40, 110))
	if !errors.Is(err, domain.ErrInsufficientCollateral) {
		t.Fatalf("expected InsufficientCollateral, got %v", err)
	}

	after, _ := c.Position(ownerID)
	if after != before {
		t.Errorf("position changed: %+v -> %+v", before, after)
	}
	if c.GetSequence() != seqBefore || c.GetStateHash() != hashBefore {
		t.Error("sequence or hash moved on rejection")
	}
	if c.CirculatingSupply() != 1_000 {
		t.Errorf("supply: got %d, want 1000", c.CirculatingSupply())
	}
	if n := len(drainOutputs(persistCh)); n != 0 {
		t.Errorf("expected no output, got %d", n)
	}
}

func TestMint_Boundary_ExactRatioAccepted(t *testing.T) {
	c, _, _ := newTestCore(percentScale)
	mustApply(t, c, initializeIns(authorityID, 150))
	mustApply(t, c, depositIns(ownerID, 3))

	// 200 * 150 == 3 * 100 * 100
	mustApply(t, c, mintIns(ownerID, 200, 100))

	_, err := c.ProcessInstruction(context.Background(), mintIns(ownerID, 1, 100))
	if !errors.Is(err, domain.ErrInsufficientCollateral) {
		t.Fatalf("one more unit should fail, got %v", err)
	}
}

func TestMint_SequentialMintsAreAdditive(t *testing.T) {
	c, _, _ := newTestCore(percentScale)
	mustApply(t, c, initializeIns(authorityID, 150))
	mustApply(t, c, depositIns(ownerID, 100))

	mustApply(t, c, mintIns(ownerID, 300, 100))
	mustApply(t, c, mintIns(ownerID, 200, 100))

	pos, _ := c.Position(ownerID)
	if pos.StablecoinMinted != 500 {
		t.Errorf("debt: got %d, want 500", pos.StablecoinMinted)
	}
	if got := c.Balance(ledger.WalletKey(ownerID, ledger.AssetStablecoin)); got != 500 {
		t.Errorf("wallet: got %d, want 500", got)
	}
}

func TestMint_ZeroPriceAndZeroAmount(t *testing.T) {
	c, _ := setupMinted(t)

	if _, err := c.ProcessInstruction(context.Background(), mintIns(ownerID, 1, 0)); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("zero price: expected InvalidPrice, got %v", err)
	}
	if _, err := c.ProcessInstruction(context.Background(), mintIns(ownerID, 0, 110)); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount: expected InvalidAmount, got %v", err)
	}
}

func TestMint_AmountBeyondLedgerRange_Overflow(t *testing.T) {
	c, _, _ := newTestCore(percentScale)
	mustApply(t, c, initializeIns(authorityID, 100))
	mustApply(t, c, depositIns(ownerID, 1<<62))

	// Collateralized at a huge price, but the token ledger is int64.
	_, err := c.ProcessInstruction(context.Background(), mintIns(ownerID, 1<<63, 1<<20))
	if !errors.Is(err, domain.ErrArithmeticOverflow) {
		t.Fatalf("expected ArithmeticOverflow, got %v", err)
	}
}

func TestMint_FeeRoutedToTreasury(t *testing.T) {
	c, _, _ := newTestCore(state.GovernanceParams{RatioScale: 100, LiquidationBonusBps: 1_000, MintFeeBps: 100})
	mustApply(t, c, initializeIns(authorityID, 150))
	mustApply(t, c, depositIns(ownerID, 100))

	out := mustApply(t, c, mintIns(ownerID, 1_000, 100))

	if out.Position.StablecoinMinted != 1_000 {
		t.Errorf("debt carries the full amount: got %d", out.Position.StablecoinMinted)
	}
	if got := c.Balance(ledger.WalletKey(ownerID, ledger.AssetStablecoin)); got != 990 {
		t.Errorf("owner receives amount minus fee: got %d, want 990", got)
	}
	if got := c.Balance(ledger.NewSystemAccountKey(ledger.SubTypeSystemTreasury, ledger.AssetStablecoin)); got != 10 {
		t.Errorf("treasury: got %d, want 10", got)
	}
	if len(out.Batch.Journals) != 2 {
		t.Errorf("expected mint + fee journals, got %d", len(out.Batch.Journals))
	}
}

func TestMint_ForeignAuthority_Unauthorized(t *testing.T) {
	c, _ := setupMinted(t)

	ins := mintIns(ownerID, 1, 110)
	ins.Authority = liquidatorID
	if _, err := c.ProcessInstruction(context.Background(), ins); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

// ============================================================================
// Test: Liquidation
// ============================================================================

func TestLiquidate_HealthyPosition_NotEligible(t *testing.T) {
	c, _ := setupMinted(t)

	// At 110 the position is still collateralized
	_, err := c.ProcessInstruction(context.Background(), liquidateIns(ownerID, liquidatorID, 100, 110))
	if !errors.Is(err, domain.ErrNotEligibleForLiquidation) {
		t.Fatalf("expected NotEligibleForLiquidation, got %v", err)
	}
}

func TestLiquidate_AmountBounds(t *testing.T) {
	c, _ := setupMinted(t)

	for _, amount := range []uint64{0, 1_001} {
		_, err := c.ProcessInstruction(context.Background(), liquidateIns(ownerID, liquidatorID, amount, 100))
		if !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("amount %d: expected InvalidAmount, got %v", amount, err)
		}
	}
}

func TestLiquidate_FullDebt_SeizureCappedAtCollateral(t *testing.T) {
	c, _ := setupMinted(t)

	// Price crash: full seizure would be 1000 * 1.1 / 50 = 22 > 14
	out := mustApply(t, c, liquidateIns(ownerID, liquidatorID, 1_000, 50))

	if out.Liquidation.CollateralSeized != 14 {
		t.Errorf("seized: got %d, want 14 (capped)", out.Liquidation.CollateralSeized)
	}
	pos, _ := c.Position(ownerID)
	if pos.StablecoinMinted != 0 || pos.CollateralDeposited != 0 {
		t.Errorf("position should be emptied: %+v", pos)
	}
	if pos.Status != state.PositionStatusClosed {
		t.Errorf("status: got %s, want Closed", pos.Status)
	}
}

// ============================================================================
// Test: Governance
// ============================================================================

func TestPaused_BlocksMintWithdrawLiquidate(t *testing.T) {
	c, _ := setupMinted(t)

	paused := true
	mustApply(t, c, &instruction.UpdateGovernance{RequestID: uuid.New(), Caller: authorityID, Paused: &paused, TimestampUs: testTs})

	if _, err := c.ProcessInstruction(context.Background(), mintIns(ownerID, 1, 110)); !errors.Is(err, domain.ErrProtocolPaused) {
		t.Errorf("mint: expected ProtocolPaused, got %v", err)
	}
	if _, err := c.ProcessInstruction(context.Background(), liquidateIns(ownerID, liquidatorID, 1, 100)); !errors.Is(err, domain.ErrProtocolPaused) {
		t.Errorf("liquidate: expected ProtocolPaused, got %v", err)
	}
	withdraw := &instruction.WithdrawCollateral{RequestID: uuid.New(), Owner: ownerID, Signer: ownerID, Amount: 1,
		CurrentPrice: price.RawPrice{Value: 1_000}, TimestampUs: testTs}
	if _, err := c.ProcessInstruction(context.Background(), withdraw); !errors.Is(err, domain.ErrProtocolPaused) {
		t.Errorf("withdraw: expected ProtocolPaused, got %v", err)
	}

	// Deposits still land while paused
	mustApply(t, c, depositIns(ownerID, 1))
}

func TestUpdateGovernance_NonAuthority_Unauthorized(t *testing.T) {
	c, _ := setupMinted(t)

	ratio := uint64(200)
	_, err := c.ProcessInstruction(context.Background(),
		&instruction.UpdateGovernance{RequestID: uuid.New(), Caller: ownerID, CollateralRatio: &ratio, TimestampUs: testTs})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestUpdateGovernance_RatioIncreaseMakesPositionLiquidatable(t *testing.T) {
	c, _ := setupMinted(t)

	ratio := uint64(200)
	out := mustApply(t, c, &instruction.UpdateGovernance{RequestID: uuid.New(), Caller: authorityID, CollateralRatio: &ratio, TimestampUs: testTs})
	if out.Governance.Version != 2 {
		t.Errorf("governance version: got %d, want 2", out.Governance.Version)
	}

	// 1000 * 200 > 14 * 110 * 100, so the same price now allows liquidation
	mustApply(t, c, liquidateIns(ownerID, liquidatorID, 100, 110))
}

// ============================================================================
// Test: Collateral operations
// ============================================================================

func TestWithdraw_MustStayCollateralized(t *testing.T) {
	c, _ := setupMinted(t)

	withdraw := func(amount uint64) error {
		_, err := c.ProcessInstruction(context.Background(), &instruction.WithdrawCollateral{
			RequestID: uuid.New(), Owner: ownerID, Signer: ownerID, Amount: amount,
			CurrentPrice: price.RawPrice{Value: 110}, TimestampUs: testTs,
		})
		return err
	}

	// Needs 1000 * 150 / (110 * 100) = 13.6 collateral; 14 - 1 = 13 is not enough
	if err := withdraw(1); !errors.Is(err, domain.ErrInsufficientCollateral) {
		t.Errorf("expected InsufficientCollateral, got %v", err)
	}
	if err := withdraw(15); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("expected InsufficientBalance, got %v", err)
	}
}

func TestBurnThenWithdrawAll_ClosesPosition(t *testing.T) {
	c, _ := setupMinted(t)

	mustApply(t, c, &instruction.BurnStablecoin{RequestID: uuid.New(), Owner: ownerID, Signer: ownerID, Amount: 1_000, TimestampUs: testTs})
	if c.CirculatingSupply() != 0 {
		t.Errorf("supply after burn: got %d, want 0", c.CirculatingSupply())
	}

	out := mustApply(t, c, &instruction.WithdrawCollateral{RequestID: uuid.New(), Owner: ownerID, Signer: ownerID, Amount: 14, TimestampUs: testTs})
	if out.Position.Status != state.PositionStatusClosed {
		t.Errorf("status: got %s, want Closed", out.Position.Status)
	}
	if got := c.Balance(ledger.VaultKey(ownerID)); got != 0 {
		t.Errorf("vault: got %d, want 0", got)
	}
}

func TestBurn_BeyondDebt_InvalidAmount(t *testing.T) {
	c, _ := setupMinted(t)

	// Liquidation retires debt without touching the owner's tokens, so the
	// wallet ends up holding more than the remaining debt.
	mustApply(t, c, &instruction.BurnStablecoin{RequestID: uuid.New(), Owner: ownerID, Signer: ownerID, Amount: 900, TimestampUs: testTs})
	mustApply(t, c, liquidateIns(ownerID, liquidatorID, 50, 1))

	mustApply(t, c, &instruction.BurnStablecoin{RequestID: uuid.New(), Owner: ownerID, Signer: ownerID, Amount: 50, TimestampUs: testTs})

	_, err := c.ProcessInstruction(context.Background(),
		&instruction.BurnStablecoin{RequestID: uuid.New(), Owner: ownerID, Signer: ownerID, Amount: 1, TimestampUs: testTs})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("burn beyond debt: expected InvalidAmount, got %v", err)
	}
	if got := c.Balance(ledger.WalletKey(ownerID, ledger.AssetStablecoin)); got != 50 {
		t.Errorf("wallet keeps the unretired tokens: got %d, want 50", got)
	}
}

func TestBurn_FeeShortfall_InsufficientBalance(t *testing.T) {
	c, _, _ := newTestCore(state.GovernanceParams{RatioScale: 100, LiquidationBonusBps: 1_000, MintFeeBps: 100})
	mustApply(t, c, initializeIns(authorityID, 150))
	mustApply(t, c, depositIns(ownerID, 100))
	mustApply(t, c, mintIns(ownerID, 1_000, 100))

	// Debt is 1000 but the wallet only received 990
	_, err := c.ProcessInstruction(context.Background(),
		&instruction.BurnStablecoin{RequestID: uuid.New(), Owner: ownerID, Signer: ownerID, Amount: 1_000, TimestampUs: testTs})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}

	_, err = c.ProcessInstruction(context.Background(),
		&instruction.BurnStablecoin{RequestID: uuid.New(), Owner: ownerID, Signer: liquidatorID, Amount: 1, TimestampUs: testTs})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("foreign signer: expected Unauthorized, got %v", err)
	}
}

// ============================================================================
// Test: Idempotency & ordering
// ============================================================================

func TestIdempotency_DuplicateMint_Ignored(t *testing.T) {
	c, persistCh, _ := newTestCore(percentScale)
	mustApply(t, c, initializeIns(authorityID, 150))
	mustApply(t, c, depositIns(ownerID, 100))
	drainOutputs(persistCh)

	mint := mintIns(ownerID, 100, 100)
	mustApply(t, c, mint)

	out, err := c.ProcessInstruction(context.Background(), mint)
	if err != nil || out != nil {
		t.Fatalf("duplicate should be skipped silently, got out=%v err=%v", out, err)
	}

	pos, _ := c.Position(ownerID)
	if pos.StablecoinMinted != 100 {
		t.Errorf("debt: got %d, want 100", pos.StablecoinMinted)
	}
	if n := len(drainOutputs(persistCh)); n != 1 {
		t.Errorf("expected 1 output, got %d", n)
	}
}

func TestSequenceValidation_OrderingPerPartition(t *testing.T) {
	c, _, _ := newTestCore(percentScale)
	mustApply(t, c, initializeIns(authorityID, 150))

	d := func(seq int64) *instruction.DepositCollateral {
		ins := depositIns(ownerID, 1)
		ins.Sequence = seq
		return ins
	}

	mustApply(t, c, d(1))
	// Gaps are tolerated
	mustApply(t, c, d(5))

	if _, err := c.ProcessInstruction(context.Background(), d(3)); err == nil {
		t.Fatal("expected out-of-order error")
	}

	// Another owner's partition is independent
	other := depositIns(liquidatorID, 1)
	other.Sequence = 2
	mustApply(t, c, other)
}

func TestSequenceValidation_RejectedInstructionDoesNotConsumeSequence(t *testing.T) {
	c, _, _ := newTestCore(percentScale)
	mustApply(t, c, initializeIns(authorityID, 150))
	mustApply(t, c, depositIns(ownerID, 1))

	bad := mintIns(ownerID, 1_000, 100)
	bad.Sequence = 7
	if _, err := c.ProcessInstruction(context.Background(), bad); err == nil {
		t.Fatal("expected rejection")
	}

	retry := mintIns(ownerID, 1, 100)
	retry.Sequence = 7
	mustApply(t, c, retry)
}

// ============================================================================
// Test: State hash chain, envelope, snapshot
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	run := func() [][32]byte {
		c, persistCh, _ := newTestCore(percentScale)
		mustApply(t, c, &instruction.Initialize{RequestID: uuid.MustParse("00000000-0000-4000-8000-000000000010"), Payer: authorityID, CollateralRatio: 150, TimestampUs: testTs})
		mustApply(t, c, &instruction.DepositCollateral{RequestID: uuid.MustParse("00000000-0000-4000-8000-000000000011"), Owner: ownerID, Payer: ownerID, Amount: 14, TimestampUs: testTs})
		mustApply(t, c, &instruction.MintStablecoin{RequestID: uuid.MustParse("00000000-0000-4000-8000-000000000012"), Owner: ownerID, Amount: 1_000, CurrentPrice: price.RawPrice{Value: 110}, TimestampUs: testTs})

		var hashes [][32]byte
		for _, o := range drainOutputs(persistCh) {
			hashes = append(hashes, o.Envelope.StateHash)
		}
		return hashes
	}

	h1, h2 := run(), run()
	if len(h1) != 3 || len(h2) != 3 {
		t.Fatalf("expected 3 hashes each, got %d and %d", len(h1), len(h2))
	}
	for i := range h1 {
		if h1[i] != h2[i] {
			t.Errorf("hash %d differs: %x vs %x", i, h1[i], h2[i])
		}
	}
}

func TestEnvelope_ChainsAndCarriesPayload(t *testing.T) {
	c, persistCh, _ := newTestCore(percentScale)
	mustApply(t, c, initializeIns(authorityID, 150))
	dep := depositIns(ownerID, 14)
	mustApply(t, c, dep)

	outputs := drainOutputs(persistCh)
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	first, second := outputs[0].Envelope, outputs[1].Envelope

	if first.PrevHash != core.GenesisHash() {
		t.Error("first envelope should chain from genesis")
	}
	if second.PrevHash != first.StateHash {
		t.Error("second envelope should chain from the first")
	}
	if second.Sequence != 1 || second.Type != instruction.TypeDepositCollateral {
		t.Errorf("envelope: seq=%d type=%s", second.Sequence, second.Type)
	}
	if second.Partition != "position:"+ownerID.String() {
		t.Errorf("partition: got %s", second.Partition)
	}

	decoded, err := instruction.Decode(second.Type, second.Payload)
	if err != nil {
		t.Fatalf("payload should decode: %v", err)
	}
	if d := decoded.(*instruction.DepositCollateral); d.Amount != 14 || d.RequestID != dep.RequestID {
		t.Errorf("decoded payload mismatch: %+v", d)
	}
}

func TestSnapshotRestore_ContinuesChain(t *testing.T) {
	live, _ := setupMinted(t)
	snap := live.CreateSnapshotState()

	restored, _, _ := newTestCore(percentScale)
	restored.RestoreFromSnapshot(snap)

	if restored.GetSequence() != live.GetSequence() || restored.GetStateHash() != live.GetStateHash() {
		t.Fatal("restored core does not match live core")
	}

	next := liquidateIns(ownerID, liquidatorID, 500, 100)
	a := mustApply(t, live, next)
	b := mustApply(t, restored, next)
	if a.Envelope.StateHash != b.Envelope.StateHash {
		t.Error("restored core diverged after the next instruction")
	}

	// Keys carried in the snapshot still dedup
	if out, err := restored.ProcessInstruction(context.Background(), next); out != nil || err != nil {
		t.Errorf("expected duplicate after restore, got out=%v err=%v", out, err)
	}
}

func TestReplay_EmitsNothing(t *testing.T) {
	c, persistCh, projCh := newTestCore(percentScale)

	out, err := c.Replay(context.Background(), initializeIns(authorityID, 150))
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if out == nil || out.Envelope.Sequence != 0 {
		t.Fatalf("replay should return the output, got %+v", out)
	}
	if n := len(drainOutputs(persistCh)); n != 0 {
		t.Errorf("replay should not re-persist, got %d", n)
	}
	if n := len(drainOutputs(projCh)); n != 0 {
		t.Errorf("replay should leave projection to the caller, got %d", n)
	}

	// Live processing emits again afterwards
	mustApply(t, c, depositIns(ownerID, 1))
	if n := len(drainOutputs(persistCh)); n != 1 {
		t.Errorf("expected 1 persist output after replay, got %d", n)
	}
}

// ============================================================================
// Test: Projection Channel (non-blocking drop)
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1) // Tiny buffer, will fill up
	cfg := core.DefaultConfig()
	cfg.Governance = percentScale
	c := core.NewSettlementCore(cfg, persistCh, projCh, nil, nil)

	mustApply(t, c, initializeIns(authorityID, 150))
	for i := 0; i < 4; i++ {
		mustApply(t, c, depositIns(ownerID, 1))
	}

	if n := len(drainOutputs(persistCh)); n != 5 {
		t.Errorf("expected 5 persist outputs, got %d", n)
	}
}

// ============================================================================
// Test: Runner
// ============================================================================

func TestRunner_SubmitAppliesInOrder(t *testing.T) {
	c, _, _ := newTestCore(percentScale)
	input := make(chan core.Submission, 8)

	var snapshots []int64
	snapFn := func(_ context.Context, snap *core.SnapshotState) error {
		snapshots = append(snapshots, snap.Sequence)
		return nil
	}
	runner := core.NewRunner(c, input, 2, snapFn, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	res, err := core.Submit(ctx, input, initializeIns(authorityID, 150))
	if err != nil || res.Err != nil {
		t.Fatalf("initialize: submit=%v apply=%v", err, res.Err)
	}

	dep := depositIns(ownerID, 14)
	if res, _ = core.Submit(ctx, input, dep); res.Err != nil || res.Output == nil {
		t.Fatalf("deposit: %+v", res)
	}
	if res, _ = core.Submit(ctx, input, dep); !res.Duplicate {
		t.Errorf("resubmitted deposit should be a duplicate: %+v", res)
	}
	if res, _ = core.Submit(ctx, input, mintIns(ownerID, 10_000, 110)); !errors.Is(res.Err, domain.ErrInsufficientCollateral) {
		t.Errorf("expected InsufficientCollateral, got %v", res.Err)
	}

	cancel()
	<-done

	if len(snapshots) != 1 || snapshots[0] != 1 {
		t.Errorf("expected one snapshot at sequence 1, got %v", snapshots)
	}

	if _, err := core.Submit(ctx, input, depositIns(ownerID, 1)); !errors.Is(err, core.ErrCoreUnavailable) {
		t.Errorf("submit after shutdown: expected ErrCoreUnavailable, got %v", err)
	}
}
