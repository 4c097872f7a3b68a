package state

import (
	"StableLedger/internal/domain"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/price"

	"github.com/google/uuid"
)

// MintEngine issues stablecoin debt against deposited collateral.
// It is pure: it reads value copies and returns the next position, and the
// caller commits the position and the token journal together.
type MintEngine struct {
	prices *price.Input
}

func NewMintEngine(prices *price.Input) *MintEngine {
	return &MintEngine{prices: prices}
}

type MintRequest struct {
	Owner     uuid.UUID
	Signer    uuid.UUID // uuid.Nil when the instruction names no authority
	Amount    uint64
	Price     price.RawPrice
	Timestamp int64
}

type MintResult struct {
	Position   PositionRecord
	Price      price.Price
	UserAmount uint64 // minted to the owner's token account
	FeeAmount  uint64 // minted to the treasury
}

// Mint validates and computes a mint of req.Amount against pos.
// On any error the returned result is zero and nothing has changed.
func (e *MintEngine) Mint(gov *GovernanceRecord, pos PositionRecord, req MintRequest) (MintResult, error) {
	if gov == nil {
		return MintResult{}, domain.ErrNotInitialized
	}
	if gov.Paused {
		return MintResult{}, domain.ErrProtocolPaused
	}
	if req.Amount == 0 {
		return MintResult{}, domain.Wrap(domain.ErrInvalidAmount, "mint amount must be > 0")
	}
	if req.Signer != uuid.Nil && req.Signer != pos.Owner {
		return MintResult{}, domain.Wrap(domain.ErrUnauthorized, "signer %s does not own position %s", req.Signer, pos.Address)
	}

	p, err := e.prices.Normalize(req.Price, req.Timestamp)
	if err != nil {
		return MintResult{}, err
	}

	newDebt, err := fpmath.CheckedAdd(pos.StablecoinMinted, req.Amount)
	if err != nil {
		return MintResult{}, domain.Wrap(domain.ErrArithmeticOverflow, "debt %d + %d", pos.StablecoinMinted, req.Amount)
	}

	if !IsCollateralized(gov, pos.CollateralDeposited, newDebt, p.Value) {
		return MintResult{}, domain.Wrap(domain.ErrInsufficientCollateral,
			"debt %d at ratio %d/%d needs more than collateral %d at price %d",
			newDebt, gov.CollateralRatio, gov.RatioScale, pos.CollateralDeposited, p.Value)
	}

	fee, err := fpmath.ApplyBps(req.Amount, gov.MintFeeBps, fpmath.RoundDown)
	if err != nil {
		return MintResult{}, domain.ErrArithmeticOverflow
	}

	next := pos
	next.StablecoinMinted = newDebt
	next.LastMintTs = req.Timestamp
	next.settleStatus()

	return MintResult{
		Position:   next,
		Price:      p,
		UserAmount: req.Amount - fee,
		FeeAmount:  fee,
	}, nil
}
