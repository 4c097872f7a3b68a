package state

import (
	"StableLedger/internal/domain"
	fpmath "StableLedger/internal/math"

	"github.com/google/uuid"
)

// GovernanceRecord is the system-wide parameter set. There is at most one.
type GovernanceRecord struct {
	Address             uuid.UUID
	Authority           uuid.UUID
	CollateralRatio     uint64 // in units of RatioScale; 15_000 at scale 10_000 = 150%
	RatioScale          uint64
	Paused              bool
	LiquidationBonusBps uint64
	MintFeeBps          uint64
	Version             uint64
	UpdatedAt           int64 // epoch micros of the instruction that last changed it
}

// GovernanceParams are the initialize-time settings not carried by the
// instruction itself. They come from service configuration.
type GovernanceParams struct {
	RatioScale          uint64
	LiquidationBonusBps uint64
	MintFeeBps          uint64
}

var DefaultGovernanceParams = GovernanceParams{
	RatioScale:          10_000,
	LiquidationBonusBps: 1_000, // 10%
	MintFeeBps:          0,
}

// GovernanceUpdate lists the fields an authority may change. Nil fields are
// left as they are.
type GovernanceUpdate struct {
	CollateralRatio     *uint64
	Paused              *bool
	NewAuthority        *uuid.UUID
	LiquidationBonusBps *uint64
	MintFeeBps          *uint64
}

// ValidateGovernance checks parameter ranges.
// ratio >= scale (at least 1:1 backing), bonus and fee strictly below 100%.
func ValidateGovernance(g *GovernanceRecord) error {
	if g.RatioScale == 0 {
		return domain.Wrap(domain.ErrInvalidParameter, "ratio_scale must be > 0")
	}
	if g.CollateralRatio < g.RatioScale {
		return domain.Wrap(domain.ErrInvalidParameter,
			"collateral_ratio %d below 1:1 at scale %d", g.CollateralRatio, g.RatioScale)
	}
	if g.LiquidationBonusBps >= fpmath.BPSDenominator {
		return domain.Wrap(domain.ErrInvalidParameter,
			"liquidation_bonus_bps must be < %d, got %d", fpmath.BPSDenominator, g.LiquidationBonusBps)
	}
	if g.MintFeeBps >= fpmath.BPSDenominator {
		return domain.Wrap(domain.ErrInvalidParameter,
			"mint_fee_bps must be < %d, got %d", fpmath.BPSDenominator, g.MintFeeBps)
	}
	if g.Authority == uuid.Nil {
		return domain.Wrap(domain.ErrInvalidParameter, "authority must be set")
	}
	return nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (g *GovernanceRecord) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, g.Address[:]...)
	buf = append(buf, g.Authority[:]...)
	buf = appendUint64LE(buf, g.CollateralRatio)
	buf = appendUint64LE(buf, g.RatioScale)
	if g.Paused {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUint64LE(buf, g.LiquidationBonusBps)
	buf = appendUint64LE(buf, g.MintFeeBps)
	buf = appendUint64LE(buf, g.Version)
	return buf
}

// GovernanceStore owns the singleton record.
// Not thread-safe; only accessed from the single-threaded core.
type GovernanceStore struct {
	record *GovernanceRecord
}

func NewGovernanceStore() *GovernanceStore {
	return &GovernanceStore{}
}

// Get returns a copy of the record, or false before initialize.
func (s *GovernanceStore) Get() (GovernanceRecord, bool) {
	if s.record == nil {
		return GovernanceRecord{}, false
	}
	return *s.record, true
}

// PrepareInitialize builds the first governance record. Nothing is stored
// until Commit.
func (s *GovernanceStore) PrepareInitialize(
	payer uuid.UUID,
	collateralRatio uint64,
	params GovernanceParams,
	timestamp int64,
) (GovernanceRecord, error) {
	if s.record != nil {
		return GovernanceRecord{}, domain.ErrAlreadyInitialized
	}

	rec := GovernanceRecord{
		Address:             GovernanceAddress(),
		Authority:           payer,
		CollateralRatio:     collateralRatio,
		RatioScale:          params.RatioScale,
		LiquidationBonusBps: params.LiquidationBonusBps,
		MintFeeBps:          params.MintFeeBps,
		UpdatedAt:           timestamp,
	}
	if err := ValidateGovernance(&rec); err != nil {
		return GovernanceRecord{}, err
	}
	return rec, nil
}

// PrepareUpdate applies an authority-signed parameter change to a copy.
func (s *GovernanceStore) PrepareUpdate(caller uuid.UUID, upd GovernanceUpdate, timestamp int64) (GovernanceRecord, error) {
	if s.record == nil {
		return GovernanceRecord{}, domain.ErrNotInitialized
	}
	if caller != s.record.Authority {
		return GovernanceRecord{}, domain.Wrap(domain.ErrUnauthorized, "caller %s is not the governance authority", caller)
	}

	rec := *s.record
	if upd.CollateralRatio != nil {
		rec.CollateralRatio = *upd.CollateralRatio
	}
	if upd.Paused != nil {
		rec.Paused = *upd.Paused
	}
	if upd.NewAuthority != nil {
		rec.Authority = *upd.NewAuthority
	}
	if upd.LiquidationBonusBps != nil {
		rec.LiquidationBonusBps = *upd.LiquidationBonusBps
	}
	if upd.MintFeeBps != nil {
		rec.MintFeeBps = *upd.MintFeeBps
	}
	rec.UpdatedAt = timestamp

	if err := ValidateGovernance(&rec); err != nil {
		return GovernanceRecord{}, err
	}
	return rec, nil
}

// Commit stores rec and bumps its version. Returns the stored copy.
func (s *GovernanceStore) Commit(rec GovernanceRecord) GovernanceRecord {
	if s.record != nil {
		rec.Version = s.record.Version + 1
	} else {
		rec.Version = 1
	}
	s.record = &rec
	return rec
}

// Restore replaces the record from a snapshot, without a version bump.
func (s *GovernanceStore) Restore(rec *GovernanceRecord) {
	if rec == nil {
		s.record = nil
		return
	}
	cp := *rec
	s.record = &cp
}

