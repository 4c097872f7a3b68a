package state

import (
	"StableLedger/internal/domain"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/price"

	"github.com/google/uuid"
)

// LiquidationEngine reduces the debt of an undercollateralized position and
// pays the liquidator in collateral. Like MintEngine it only computes; the
// core commits.
type LiquidationEngine struct {
	prices *price.Input
}

func NewLiquidationEngine(prices *price.Input) *LiquidationEngine {
	return &LiquidationEngine{prices: prices}
}

type LiquidationRequest struct {
	Owner      uuid.UUID
	Liquidator uuid.UUID
	Amount     uint64 // debt to retire
	Price      price.RawPrice
	Timestamp  int64
}

// LiquidationRecord is the audit entry for one partial liquidation.
type LiquidationRecord struct {
	Owner            uuid.UUID
	Liquidator       uuid.UUID
	DebtRepaid       uint64
	CollateralSeized uint64
	Price            uint64
	DebtAfter        uint64
	CollateralAfter  uint64
	Timestamp        int64
}

type LiquidationResult struct {
	Position PositionRecord
	Price    price.Price
	Record   LiquidationRecord
	Capped   bool // seizure was limited by the remaining collateral
}

// Liquidate retires req.Amount of debt from pos.
//
// Seized collateral is amount * (10_000 + bonus_bps) / (10_000 * price),
// rounded down and capped at the deposited collateral. The position is not
// guaranteed to be healthy afterwards.
func (e *LiquidationEngine) Liquidate(gov *GovernanceRecord, pos PositionRecord, req LiquidationRequest) (LiquidationResult, error) {
	if gov == nil {
		return LiquidationResult{}, domain.ErrNotInitialized
	}
	if gov.Paused {
		return LiquidationResult{}, domain.ErrProtocolPaused
	}
	if req.Amount == 0 {
		return LiquidationResult{}, domain.Wrap(domain.ErrInvalidAmount, "liquidation amount must be > 0")
	}
	if req.Amount > pos.StablecoinMinted {
		return LiquidationResult{}, domain.Wrap(domain.ErrInvalidAmount,
			"liquidation amount %d exceeds debt %d", req.Amount, pos.StablecoinMinted)
	}

	p, err := e.prices.Normalize(req.Price, req.Timestamp)
	if err != nil {
		return LiquidationResult{}, err
	}

	if CheckHealth(gov, &pos, p.Value) != HealthStatusLiquidatable {
		return LiquidationResult{}, domain.Wrap(domain.ErrNotEligibleForLiquidation,
			"position %s is collateralized at price %d", pos.Address, p.Value)
	}

	seized, err := e.computeSeizure(gov, req.Amount, p.Value)
	if err != nil {
		return LiquidationResult{}, err
	}
	capped := seized > pos.CollateralDeposited
	if capped {
		seized = pos.CollateralDeposited
	}

	next := pos
	next.StablecoinMinted = pos.StablecoinMinted - req.Amount
	next.CollateralDeposited = pos.CollateralDeposited - seized
	next.LastLiquidationTs = req.Timestamp
	next.settleStatus()

	return LiquidationResult{
		Position: next,
		Price:    p,
		Record: LiquidationRecord{
			Owner:            pos.Owner,
			Liquidator:       req.Liquidator,
			DebtRepaid:       req.Amount,
			CollateralSeized: seized,
			Price:            p.Value,
			DebtAfter:        next.StablecoinMinted,
			CollateralAfter:  next.CollateralDeposited,
			Timestamp:        req.Timestamp,
		},
		Capped: capped,
	}, nil
}

func (e *LiquidationEngine) computeSeizure(gov *GovernanceRecord, amount, priceValue uint64) (uint64, error) {
	num, err := fpmath.Product(amount, fpmath.BPSDenominator+gov.LiquidationBonusBps)
	if err != nil {
		return 0, domain.ErrArithmeticOverflow
	}
	denom, err := fpmath.Product(fpmath.BPSDenominator, priceValue)
	if err != nil {
		return 0, domain.ErrArithmeticOverflow
	}
	seized, err := fpmath.DivWide(num, denom, fpmath.RoundDown)
	if err != nil {
		// Quotient beyond uint64 is capped at collateral by the caller anyway.
		return ^uint64(0), nil
	}
	return seized, nil
}
