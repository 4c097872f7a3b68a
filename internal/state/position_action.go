package state

import (
	"StableLedger/internal/domain"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/price"

	"github.com/google/uuid"
)

// PositionActions moves collateral in and out of positions and retires
// debt on repayment. Pure like the other engines.
type PositionActions struct {
	prices *price.Input
}

func NewPositionActions(prices *price.Input) *PositionActions {
	return &PositionActions{prices: prices}
}

// Deposit adds collateral. Anyone may fund any owner's position, and a
// deposit reopens a Closed position.
func (pa *PositionActions) Deposit(gov *GovernanceRecord, pos PositionRecord, amount uint64) (PositionRecord, error) {
	if gov == nil {
		return PositionRecord{}, domain.ErrNotInitialized
	}
	if amount == 0 {
		return PositionRecord{}, domain.Wrap(domain.ErrInvalidAmount, "deposit amount must be > 0")
	}

	collateral, err := fpmath.CheckedAdd(pos.CollateralDeposited, amount)
	if err != nil {
		return PositionRecord{}, domain.Wrap(domain.ErrArithmeticOverflow, "collateral %d + %d", pos.CollateralDeposited, amount)
	}

	next := pos
	next.CollateralDeposited = collateral
	next.settleStatus()
	return next, nil
}

// Withdraw releases collateral to the owner. The remaining collateral must
// still back the outstanding debt at rawPrice.
func (pa *PositionActions) Withdraw(
	gov *GovernanceRecord,
	pos PositionRecord,
	signer uuid.UUID,
	amount uint64,
	rawPrice price.RawPrice,
	timestamp int64,
) (PositionRecord, error) {
	if gov == nil {
		return PositionRecord{}, domain.ErrNotInitialized
	}
	if gov.Paused {
		return PositionRecord{}, domain.ErrProtocolPaused
	}
	if signer != pos.Owner {
		return PositionRecord{}, domain.Wrap(domain.ErrUnauthorized, "signer %s does not own position %s", signer, pos.Address)
	}
	if amount == 0 {
		return PositionRecord{}, domain.Wrap(domain.ErrInvalidAmount, "withdraw amount must be > 0")
	}
	if amount > pos.CollateralDeposited {
		return PositionRecord{}, domain.Wrap(domain.ErrInsufficientBalance,
			"withdraw %d exceeds collateral %d", amount, pos.CollateralDeposited)
	}

	next := pos
	next.CollateralDeposited = pos.CollateralDeposited - amount

	// A debt-free position needs no price to withdraw.
	if next.StablecoinMinted > 0 {
		p, err := pa.prices.Normalize(rawPrice, timestamp)
		if err != nil {
			return PositionRecord{}, err
		}
		if !IsCollateralized(gov, next.CollateralDeposited, next.StablecoinMinted, p.Value) {
			return PositionRecord{}, domain.Wrap(domain.ErrInsufficientCollateral,
				"collateral %d cannot back debt %d at price %d", next.CollateralDeposited, next.StablecoinMinted, p.Value)
		}
	}

	next.settleStatus()
	return next, nil
}

// Burn retires debt using stablecoin held by the owner. walletBalance is the
// owner's current token balance as reported by the token ledger.
func (pa *PositionActions) Burn(
	gov *GovernanceRecord,
	pos PositionRecord,
	signer uuid.UUID,
	amount uint64,
	walletBalance int64,
) (PositionRecord, error) {
	if gov == nil {
		return PositionRecord{}, domain.ErrNotInitialized
	}
	if signer != pos.Owner {
		return PositionRecord{}, domain.Wrap(domain.ErrUnauthorized, "signer %s does not own position %s", signer, pos.Address)
	}
	if amount == 0 {
		return PositionRecord{}, domain.Wrap(domain.ErrInvalidAmount, "burn amount must be > 0")
	}
	if amount > pos.StablecoinMinted {
		return PositionRecord{}, domain.Wrap(domain.ErrInvalidAmount,
			"burn %d exceeds debt %d", amount, pos.StablecoinMinted)
	}
	if walletBalance < 0 || uint64(walletBalance) < amount {
		return PositionRecord{}, domain.Wrap(domain.ErrInsufficientBalance,
			"wallet holds %d, burn needs %d", walletBalance, amount)
	}

	next := pos
	next.StablecoinMinted = pos.StablecoinMinted - amount
	next.settleStatus()
	return next, nil
}
