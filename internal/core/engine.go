package core

import (
	"context"
	"fmt"
	stdmath "math"
	"sort"
	"time"

	"StableLedger/internal/domain"
	"StableLedger/internal/instruction"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/observability"
	"StableLedger/internal/price"
	"StableLedger/internal/state"

	"github.com/google/uuid"
)

// Config carries the core's tunables.
type Config struct {
	StartSequence       int64
	Governance          state.GovernanceParams // applied by initialize
	MaxPriceAge         time.Duration          // 0 disables the staleness check
	IdempotencyCapacity int
	GlobalCheckInterval int64 // full ledger reconciliation every N instructions; 0 disables
}

func DefaultConfig() Config {
	return Config{
		Governance:          state.DefaultGovernanceParams,
		IdempotencyCapacity: 1_000_000,
		GlobalCheckInterval: 1_000,
	}
}

// SettlementCore is the single-threaded instruction processor. It is the
// only writer of governance, positions and token balances; every
// instruction either commits all of them together or none.
type SettlementCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	governance        *state.GovernanceStore
	positions         *state.PositionStore
	mintEngine        *state.MintEngine
	liquidationEngine *state.LiquidationEngine
	actions           *state.PositionActions
	govParams         state.GovernanceParams
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	globalCheckEvery  int64
	replaying         bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything one applied instruction produced.
type CoreOutput struct {
	Envelope    *instruction.Envelope
	Batch       *ledger.Batch
	Governance  *state.GovernanceRecord  // set when governance changed
	Position    *state.PositionRecord    // set when a position changed
	Liquidation *state.LiquidationRecord // set by partial_liquidate
	Balances    map[ledger.AccountKey]int64
	StateDelta  []byte
}

// effect is what a handler prepared. Nothing in it is committed yet.
type effect struct {
	batch       *ledger.Batch
	governance  *state.GovernanceRecord
	position    *state.PositionRecord
	liquidation *state.LiquidationRecord
	capped      bool
	mintPrice   uint64 // price the new debt must be backed at; 0 skips the post-check
}

func NewSettlementCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *SettlementCore {
	balanceTracker := ledger.NewBalanceTracker()
	prices := price.NewInput(cfg.MaxPriceAge)

	return &SettlementCore{
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(balanceTracker),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		governance:        state.NewGovernanceStore(),
		positions:         state.NewPositionStore(),
		mintEngine:        state.NewMintEngine(prices),
		liquidationEngine: state.NewLiquidationEngine(prices),
		actions:           state.NewPositionActions(prices),
		govParams:         cfg.Governance,
		idempotency:       NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker, metrics),
		sequenceValidator: NewSequenceValidator(metrics),
		metrics:           metrics,
		globalCheckEvery:  cfg.GlobalCheckInterval,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessInstruction is the main processing pipeline. A duplicate returns
// (nil, nil). Any error leaves state untouched.
func (c *SettlementCore) ProcessInstruction(ctx context.Context, ins instruction.Instruction) (*CoreOutput, error) {
	start := time.Now()
	insType := ins.Type().String()
	idempotencyKey := ins.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(ctx, insType, idempotencyKey)

	// Step 2: Ordering within the partition
	partition := ins.Partition()
	sourceSequence := ins.SourceSequence()
	if err := c.sequenceValidator.Check(partition, sourceSequence, isDuplicate); err != nil {
		c.recordRejected(insType, "out_of_order")
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		c.recordRejected(insType, "duplicate")
		return nil, nil
	}

	payload, err := instruction.Encode(ins)
	if err != nil {
		c.recordRejected(insType, "encode")
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	// Step 3: Dispatch. Handlers work on copies and only prepare.
	eff, err := c.dispatch(ins)
	if err != nil {
		c.recordRejected(insType, rejectReason(err))
		return nil, err
	}

	// Step 4: Validate batch
	if err := c.validator.ValidateBatchBalance(eff.batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}

	// Step 5: Commit records and batch together
	if err := c.balanceTracker.ApplyBatch(eff.batch); err != nil {
		panic(fmt.Sprintf("FATAL: apply validated batch: %v", err))
	}

	output := &CoreOutput{
		Batch:       eff.batch,
		Liquidation: eff.liquidation,
	}
	if eff.governance != nil {
		committed := c.governance.Commit(*eff.governance)
		output.Governance = &committed
	}
	if eff.position != nil {
		committed := c.positions.Commit(*eff.position)
		output.Position = &committed
	}

	// Step 6: Post-checks
	if err := c.postCheckInvariants(output, eff); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: State digest and hash chain
	prevHash := c.hasher.GetPrevHash()
	stateDigest := c.computeStateDigest(output)
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	output.Envelope = &instruction.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		Type:           ins.Type(),
		Partition:      partition,
		Timestamp:      time.UnixMicro(ins.Timestamp()).UTC(),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output.Balances = c.touchedBalances(eff.batch)
	output.StateDelta = stateDigest
	c.sequence++

	// Step 8: Emit
	c.emit(output)

	// Step 9: Mark as processed
	c.sequenceValidator.Advance(partition, sourceSequence)
	c.idempotency.MarkProcessed(insType, idempotencyKey)

	c.recordApplied(insType, output, eff, start)
	return output, nil
}

// Replay re-applies an instruction read back from the event log. Nothing is
// emitted: the log already holds the event and the caller decides whether
// the returned output needs projecting.
func (c *SettlementCore) Replay(ctx context.Context, ins instruction.Instruction) (*CoreOutput, error) {
	c.replaying = true
	defer func() { c.replaying = false }()
	return c.ProcessInstruction(ctx, ins)
}

// emit sends output to the workers.
// The persist channel uses a BLOCKING send (backpressure, nothing is lost);
// the projection channel drops on full since projections can be rebuilt
// from the event log.
func (c *SettlementCore) emit(output *CoreOutput) {
	if c.replaying {
		return
	}
	if c.persistChan != nil {
		c.persistChan <- *output
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- *output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}
}

func (c *SettlementCore) dispatch(ins instruction.Instruction) (*effect, error) {
	switch i := ins.(type) {
	case *instruction.Initialize:
		return c.handleInitialize(i)
	case *instruction.UpdateGovernance:
		return c.handleUpdateGovernance(i)
	case *instruction.DepositCollateral:
		return c.handleDeposit(i)
	case *instruction.WithdrawCollateral:
		return c.handleWithdraw(i)
	case *instruction.MintStablecoin:
		return c.handleMint(i)
	case *instruction.BurnStablecoin:
		return c.handleBurn(i)
	case *instruction.PartialLiquidate:
		return c.handlePartialLiquidate(i)
	default:
		return nil, fmt.Errorf("unknown instruction type: %T", ins)
	}
}

func (c *SettlementCore) handleInitialize(i *instruction.Initialize) (*effect, error) {
	rec, err := c.governance.PrepareInitialize(i.Payer, i.CollateralRatio, c.govParams, i.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &effect{
		batch:      c.journalGen.Empty(i.IdempotencyKey(), c.sequence, i.TimestampUs),
		governance: &rec,
	}, nil
}

func (c *SettlementCore) handleUpdateGovernance(i *instruction.UpdateGovernance) (*effect, error) {
	rec, err := c.governance.PrepareUpdate(i.Caller, state.GovernanceUpdate{
		CollateralRatio:     i.CollateralRatio,
		Paused:              i.Paused,
		NewAuthority:        i.NewAuthority,
		LiquidationBonusBps: i.LiquidationBonusBps,
		MintFeeBps:          i.MintFeeBps,
	}, i.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &effect{
		batch:      c.journalGen.Empty(i.IdempotencyKey(), c.sequence, i.TimestampUs),
		governance: &rec,
	}, nil
}

func (c *SettlementCore) handleDeposit(i *instruction.DepositCollateral) (*effect, error) {
	next, err := c.actions.Deposit(c.currentGovernance(), c.positions.Load(i.Owner), i.Amount)
	if err != nil {
		return nil, err
	}

	amount, err := ledgerAmount(i.Amount)
	if err != nil {
		return nil, err
	}
	if err := checkHeadroom(c.balanceTracker.GetVaultBalance(i.Owner), amount); err != nil {
		return nil, err
	}

	batch := c.journalGen.GenerateDeposit(i.Owner, amount, i.IdempotencyKey(), c.sequence, i.TimestampUs)
	return &effect{batch: batch, position: &next}, nil
}

func (c *SettlementCore) handleWithdraw(i *instruction.WithdrawCollateral) (*effect, error) {
	next, err := c.actions.Withdraw(
		c.currentGovernance(),
		c.positions.Load(i.Owner),
		i.Signer,
		i.Amount,
		i.CurrentPrice,
		i.TimestampUs,
	)
	if err != nil {
		return nil, err
	}

	amount, err := ledgerAmount(i.Amount)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateWithdrawal(i.Owner, amount, i.IdempotencyKey(), c.sequence, i.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &effect{batch: batch, position: &next}, nil
}

func (c *SettlementCore) handleMint(i *instruction.MintStablecoin) (*effect, error) {
	res, err := c.mintEngine.Mint(c.currentGovernance(), c.positions.Load(i.Owner), state.MintRequest{
		Owner:     i.Owner,
		Signer:    i.Authority,
		Amount:    i.Amount,
		Price:     i.CurrentPrice,
		Timestamp: i.TimestampUs,
	})
	if err != nil {
		return nil, err
	}

	userAmount, err := ledgerAmount(res.UserAmount)
	if err != nil {
		return nil, err
	}
	feeAmount, err := ledgerAmount(res.FeeAmount)
	if err != nil {
		return nil, err
	}
	// Issuance carries every token in circulation, so it bounds both legs.
	if err := checkHeadroom(c.balanceTracker.GetCirculatingSupply(), userAmount); err != nil {
		return nil, err
	}
	if err := checkHeadroom(c.balanceTracker.GetCirculatingSupply()+userAmount, feeAmount); err != nil {
		return nil, err
	}

	batch := c.journalGen.GenerateMint(i.Owner, userAmount, feeAmount, i.IdempotencyKey(), c.sequence, i.TimestampUs)
	return &effect{batch: batch, position: &res.Position, mintPrice: res.Price.Value}, nil
}

func (c *SettlementCore) handleBurn(i *instruction.BurnStablecoin) (*effect, error) {
	wallet := c.balanceTracker.GetWalletBalance(i.Owner, ledger.AssetStablecoin)
	next, err := c.actions.Burn(c.currentGovernance(), c.positions.Load(i.Owner), i.Signer, i.Amount, wallet)
	if err != nil {
		return nil, err
	}

	amount, err := ledgerAmount(i.Amount)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateBurn(i.Owner, amount, i.IdempotencyKey(), c.sequence, i.TimestampUs)
	if err != nil {
		return nil, err
	}
	return &effect{batch: batch, position: &next}, nil
}

// handlePartialLiquidate retires debt and pays the liquidator in collateral.
// The liquidator does not repay stablecoin: the retired debt stays in
// circulation, matching the token flow of the liquidation instruction.
func (c *SettlementCore) handlePartialLiquidate(i *instruction.PartialLiquidate) (*effect, error) {
	res, err := c.liquidationEngine.Liquidate(c.currentGovernance(), c.positions.Load(i.Owner), state.LiquidationRequest{
		Owner:      i.Owner,
		Liquidator: i.Liquidator,
		Amount:     i.Amount,
		Price:      i.CurrentPrice,
		Timestamp:  i.TimestampUs,
	})
	if err != nil {
		return nil, err
	}

	seized, err := ledgerAmount(res.Record.CollateralSeized)
	if err != nil {
		return nil, err
	}
	if err := checkHeadroom(c.balanceTracker.GetWalletBalance(i.Liquidator, ledger.AssetCollateral), seized); err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateLiquidation(i.Owner, i.Liquidator, seized, i.IdempotencyKey(), c.sequence, i.TimestampUs)
	if err != nil {
		return nil, err
	}

	record := res.Record
	return &effect{
		batch:       batch,
		position:    &res.Position,
		liquidation: &record,
		capped:      res.Capped,
	}, nil
}

// currentGovernance returns a copy of the governance record, or nil before
// initialize. Every instruction re-reads it.
func (c *SettlementCore) currentGovernance() *state.GovernanceRecord {
	gov, ok := c.governance.Get()
	if !ok {
		return nil
	}
	return &gov
}

// ledgerAmount converts a record quantity into a journal amount.
func ledgerAmount(v uint64) (int64, error) {
	amount, err := fpmath.ToLedgerAmount(v)
	if err != nil {
		return 0, domain.Wrap(domain.ErrArithmeticOverflow, "amount %d exceeds ledger range", v)
	}
	return amount, nil
}

// checkHeadroom rejects a credit that would push a balance past int64.
func checkHeadroom(balance, add int64) error {
	if add > 0 && balance > stdmath.MaxInt64-add {
		return domain.Wrap(domain.ErrArithmeticOverflow, "balance %d + %d exceeds ledger range", balance, add)
	}
	return nil
}

func rejectReason(err error) string {
	if code, ok := domain.CodeOf(err); ok {
		return code.String()
	}
	return "error"
}

// postCheckInvariants validates invariants after commit
func (c *SettlementCore) postCheckInvariants(output *CoreOutput, eff *effect) error {
	if pos := output.Position; pos != nil {
		if err := c.validator.ValidateUserAccountsNonNegative(pos.Owner); err != nil {
			return fmt.Errorf("post-check owner balances: %w", err)
		}
		vault := c.balanceTracker.GetVaultBalance(pos.Owner)
		if vault < 0 || uint64(vault) != pos.CollateralDeposited {
			return fmt.Errorf("post-check vault: position %s records %d, vault holds %d",
				pos.Address, pos.CollateralDeposited, vault)
		}

		if eff.mintPrice > 0 {
			gov, _ := c.governance.Get()
			if !state.IsCollateralized(&gov, pos.CollateralDeposited, pos.StablecoinMinted, eff.mintPrice) {
				return fmt.Errorf("post-check collateralization: position %s debt %d collateral %d price %d",
					pos.Address, pos.StablecoinMinted, pos.CollateralDeposited, eff.mintPrice)
			}
		}
	}

	if liq := output.Liquidation; liq != nil {
		if err := c.validator.ValidateUserAccountsNonNegative(liq.Liquidator); err != nil {
			return fmt.Errorf("post-check liquidator balances: %w", err)
		}
	}

	// Periodic full reconciliation
	if c.globalCheckEvery > 0 && c.sequence > 0 && c.sequence%c.globalCheckEvery == 0 {
		if err := c.VerifyLedger(); err != nil {
			return fmt.Errorf("post-check at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

// VerifyLedger checks the whole ledger: every asset sums to zero and the
// vaults hold exactly the collateral the positions record.
func (c *SettlementCore) VerifyLedger() error {
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	collateral, _ := c.positions.Totals()
	if !collateral.IsUint64() || collateral.Uint64() > stdmath.MaxInt64 {
		return fmt.Errorf("position collateral total %s exceeds ledger range", collateral.Dec())
	}
	return c.validator.ValidateVaultTotal(int64(collateral.Uint64()))
}

// touchedAccounts returns the accounts a batch moved, sorted by path
func touchedAccounts(batch *ledger.Batch) []ledger.AccountKey {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})
	return accounts
}

func (c *SettlementCore) touchedBalances(batch *ledger.Batch) map[ledger.AccountKey]int64 {
	accounts := touchedAccounts(batch)
	out := make(map[ledger.AccountKey]int64, len(accounts))
	for _, key := range accounts {
		out[key] = c.balanceTracker.GetBalance(key)
	}
	return out
}

// computeStateDigest creates canonical bytes for the state hash: touched
// balances in path order, then any changed record.
func (c *SettlementCore) computeStateDigest(output *CoreOutput) []byte {
	accounts := touchedAccounts(output.Batch)
	digest := make([]byte, 0, len(accounts)*64+256)

	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	if output.Governance != nil {
		digest = append(digest, 'G')
		digest = append(digest, output.Governance.CanonicalBytes()...)
	}
	if output.Position != nil {
		digest = append(digest, 'P')
		digest = append(digest, output.Position.CanonicalBytes()...)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (c *SettlementCore) recordRejected(insType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreInstructionsRejected.WithLabelValues(insType, reason).Inc()
	}
}

func (c *SettlementCore) recordApplied(insType string, output *CoreOutput, eff *effect, start time.Time) {
	if c.metrics == nil {
		return
	}
	m := c.metrics
	m.CoreInstructionsApplied.WithLabelValues(insType).Inc()
	m.CoreApplyDuration.WithLabelValues(insType).Observe(time.Since(start).Seconds())
	m.CoreSequence.Set(float64(c.sequence))

	for _, j := range output.Batch.Journals {
		amount := float64(j.Amount)
		m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		switch j.JournalType {
		case ledger.JournalTypeDeposit:
			m.CollateralLocked.Add(amount)
		case ledger.JournalTypeWithdrawal, ledger.JournalTypeLiquidationSeize:
			m.CollateralLocked.Sub(amount)
		case ledger.JournalTypeMint:
			m.StablecoinSupply.Add(amount)
			m.MintedTotal.Add(amount)
		case ledger.JournalTypeMintFee:
			m.StablecoinSupply.Add(amount)
			m.TreasuryBalance.Add(amount)
			m.MintedTotal.Add(amount)
		case ledger.JournalTypeBurn:
			m.StablecoinSupply.Sub(amount)
			m.BurnedTotal.Add(amount)
		}
	}

	if liq := output.Liquidation; liq != nil {
		m.LiquidationsTotal.Inc()
		m.LiquidatedDebt.Add(float64(liq.DebtRepaid))
		m.CollateralSeized.Add(float64(liq.CollateralSeized))
		if eff.capped {
			m.LiquidationSeizeCaps.Inc()
		}
	}
}

// --- Read access (tests and the in-process shell; core goroutine only) ---

// Governance returns a copy of the governance record.
func (c *SettlementCore) Governance() (state.GovernanceRecord, bool) {
	return c.governance.Get()
}

// Position returns a copy of owner's position.
func (c *SettlementCore) Position(owner uuid.UUID) (state.PositionRecord, bool) {
	return c.positions.Get(owner)
}

// Balance returns a token ledger balance.
func (c *SettlementCore) Balance(key ledger.AccountKey) int64 {
	return c.balanceTracker.GetBalance(key)
}

// CirculatingSupply returns stablecoin outstanding.
func (c *SettlementCore) CirculatingSupply() int64 {
	return c.balanceTracker.GetCirculatingSupply()
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the in-memory state for restore.
type SnapshotState struct {
	Sequence        int64 // last applied sequence
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Governance      *state.GovernanceRecord
	Positions       []state.PositionRecord
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart the shell loads the latest snapshot, then replays the
// event log after it.
func (c *SettlementCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	c.governance.Restore(snap.Governance)

	for _, pos := range snap.Positions {
		c.positions.SetPosition(pos)
	}

	for partition, last := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, last)
	}

	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	if c.metrics != nil {
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.StablecoinSupply.Set(float64(c.balanceTracker.GetCirculatingSupply()))
		c.metrics.TreasuryBalance.Set(float64(c.balanceTracker.GetTreasuryBalance()))
		c.metrics.CollateralLocked.Set(float64(c.balanceTracker.SumBySubType(ledger.SubTypeVault, ledger.AssetCollateral)))
	}
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *SettlementCore) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Positions:       c.positions.GetAllPositions(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
	if gov, ok := c.governance.Get(); ok {
		snap.Governance = &gov
	}
	return snap
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *SettlementCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// EnableDurableDedup attaches the Postgres dedup tier after replay.
func (c *SettlementCore) EnableDurableDedup(dbChecker DBIdempotencyChecker) {
	c.idempotency.SetDBChecker(dbChecker)
}

// GetSequence returns the next global sequence number to assign.
func (c *SettlementCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *SettlementCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
