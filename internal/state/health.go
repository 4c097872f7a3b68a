package state

import (
	"StableLedger/internal/domain"
	fpmath "StableLedger/internal/math"

	"github.com/holiman/uint256"
)

// HealthStatus classifies a position against the required ratio at a price.
type HealthStatus int32

const (
	HealthStatusEmpty HealthStatus = iota // no debt
	HealthStatusHealthy
	HealthStatusLiquidatable
)

func (h HealthStatus) String() string {
	switch h {
	case HealthStatusEmpty:
		return "Empty"
	case HealthStatusHealthy:
		return "Healthy"
	case HealthStatusLiquidatable:
		return "Liquidatable"
	default:
		return "Unknown"
	}
}

// IsCollateralized reports whether
//
//	debt * ratio <= collateral * price * ratio_scale
//
// evaluated in 256 bits, so no operand combination can overflow.
func IsCollateralized(gov *GovernanceRecord, collateral, debt, price uint64) bool {
	ok, err := fpmath.ProductLE(
		[]uint64{debt, gov.CollateralRatio},
		[]uint64{collateral, price, gov.RatioScale},
	)
	// Three uint64 factors cannot exceed 256 bits.
	if err != nil {
		panic("FATAL: collateral check overflowed 256 bits")
	}
	return ok
}

// CheckHealth classifies pos at price.
func CheckHealth(gov *GovernanceRecord, pos *PositionRecord, price uint64) HealthStatus {
	if pos.StablecoinMinted == 0 {
		return HealthStatusEmpty
	}
	if IsCollateralized(gov, pos.CollateralDeposited, pos.StablecoinMinted, price) {
		return HealthStatusHealthy
	}
	return HealthStatusLiquidatable
}

// CollateralizationRatio returns collateral*price / debt expressed in units of
// the governance ratio scale, rounded down. A position without debt has no
// ratio and reports false.
func CollateralizationRatio(gov *GovernanceRecord, pos *PositionRecord, price uint64) (uint64, bool, error) {
	if pos.StablecoinMinted == 0 {
		return 0, false, nil
	}
	num, err := fpmath.Product(pos.CollateralDeposited, price, gov.RatioScale)
	if err != nil {
		return 0, false, domain.ErrArithmeticOverflow
	}
	ratio, err := fpmath.DivWide(num, uint256.NewInt(pos.StablecoinMinted), fpmath.RoundDown)
	if err != nil {
		return 0, false, domain.Wrap(domain.ErrArithmeticOverflow, "collateralization ratio exceeds uint64")
	}
	return ratio, true, nil
}

// MaxMintable returns how much more stablecoin pos could mint at price
// without breaking the required ratio.
func MaxMintable(gov *GovernanceRecord, pos *PositionRecord, price uint64) (uint64, error) {
	num, err := fpmath.Product(pos.CollateralDeposited, price, gov.RatioScale)
	if err != nil {
		return 0, domain.ErrArithmeticOverflow
	}
	limit, err := fpmath.DivWide(num, uint256.NewInt(gov.CollateralRatio), fpmath.RoundDown)
	if err != nil {
		// Limit beyond uint64: any representable debt fits.
		limit = ^uint64(0)
	}
	if limit <= pos.StablecoinMinted {
		return 0, nil
	}
	return limit - pos.StablecoinMinted, nil
}
