package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateUserAccountsNonNegative checks owner's vault and wallets are >= 0
func (v *InvariantValidator) ValidateUserAccountsNonNegative(owner uuid.UUID) error {
	for _, key := range []AccountKey{
		VaultKey(owner),
		WalletKey(owner, AssetCollateral),
		WalletKey(owner, AssetStablecoin),
	} {
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateVaultTotal verifies the vaults hold exactly the collateral the
// position records claim.
func (v *InvariantValidator) ValidateVaultTotal(expected int64) error {
	held := v.tracker.SumBySubType(SubTypeVault, AssetCollateral)
	if held != expected {
		return fmt.Errorf("vault total %d does not match position collateral %d", held, expected)
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
