package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances. It stands in for the
// external token ledger: the engines authorize transfers and the tracker
// records them.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites a balance (snapshot restore only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// GetVaultBalance returns the collateral locked behind owner's position.
func (bt *BalanceTracker) GetVaultBalance(owner uuid.UUID) int64 {
	return bt.GetBalance(VaultKey(owner))
}

// GetWalletBalance returns owner's free balance of an asset.
func (bt *BalanceTracker) GetWalletBalance(owner uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(WalletKey(owner, assetID))
}

// GetCirculatingSupply returns stablecoin outstanding (minus the issuance
// contra balance).
func (bt *BalanceTracker) GetCirculatingSupply() int64 {
	return -bt.GetBalance(NewSystemAccountKey(SubTypeSystemIssuance, AssetStablecoin))
}

// GetTreasuryBalance returns accumulated mint fees.
func (bt *BalanceTracker) GetTreasuryBalance() int64 {
	return bt.GetBalance(NewSystemAccountKey(SubTypeSystemTreasury, AssetStablecoin))
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// SumBySubType totals every user account of a sub-type for one asset.
func (bt *BalanceTracker) SumBySubType(subType AccountSubType, assetID AssetID) int64 {
	var total int64
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeUser && key.SubType == subType && key.AssetID == assetID {
			total += balance
		}
	}
	return total
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ValidateSufficient checks if an account can fund a transfer of required.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required int64) error {
	balance := bt.GetBalance(key)
	if balance < required {
		return fmt.Errorf("insufficient balance in %s: have=%d, need=%d", key.AccountPath(), balance, required)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
