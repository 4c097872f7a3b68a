package state

import "github.com/google/uuid"

// PositionStatus is the lifecycle stage of a position record.
type PositionStatus int32

const (
	PositionStatusUninitialized PositionStatus = iota
	PositionStatusOpen
	PositionStatusClosed
)

// PositionRecord is one owner's collateral and stablecoin debt.
type PositionRecord struct {
	Address             uuid.UUID
	Owner               uuid.UUID
	CollateralDeposited uint64 // collateral base units held for the owner
	StablecoinMinted    uint64 // outstanding debt in stablecoin base units
	LastMintTs          int64
	LastLiquidationTs   int64
	Status              PositionStatus
	Version             uint64 // Optimistic concurrency control
}

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusUninitialized:
		return "Uninitialized"
	case PositionStatusOpen:
		return "Open"
	case PositionStatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates lifecycle transitions
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	validTransitions := map[PositionStatus][]PositionStatus{
		PositionStatusUninitialized: {
			PositionStatusOpen,
		},
		PositionStatusOpen: {
			PositionStatusOpen,
			PositionStatusClosed,
		},
		PositionStatusClosed: {
			PositionStatusClosed,
			PositionStatusOpen, // Reopened by a later deposit
		},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// NewPositionRecord returns the blank record for an owner that has never
// been touched.
func NewPositionRecord(owner uuid.UUID) PositionRecord {
	return PositionRecord{
		Address: PositionAddress(owner),
		Owner:   owner,
		Status:  PositionStatusUninitialized,
	}
}

// IsEmpty reports whether the position holds neither collateral nor debt.
func (p *PositionRecord) IsEmpty() bool {
	return p.CollateralDeposited == 0 && p.StablecoinMinted == 0
}

// settleStatus moves the record to Open or Closed after a balance change.
// An untouched record stays Uninitialized.
func (p *PositionRecord) settleStatus() {
	next := PositionStatusOpen
	if p.IsEmpty() && p.Status != PositionStatusUninitialized {
		next = PositionStatusClosed
	}
	if p.Status == PositionStatusUninitialized && p.IsEmpty() {
		return
	}
	if p.Status.CanTransitionTo(next) {
		p.Status = next
	}
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *PositionRecord) CanonicalBytes() []byte {
	buf := make([]byte, 0, 80)

	// address + owner (16 bytes each)
	buf = append(buf, p.Address[:]...)
	buf = append(buf, p.Owner[:]...)

	buf = appendUint64LE(buf, p.CollateralDeposited)
	buf = appendUint64LE(buf, p.StablecoinMinted)
	buf = appendUint64LE(buf, uint64(p.LastMintTs))
	buf = appendUint64LE(buf, uint64(p.LastLiquidationTs))

	// status (1 byte)
	buf = append(buf, byte(p.Status))

	buf = appendUint64LE(buf, p.Version)

	return buf
}

func appendUint64LE(buf []byte, v uint64) []byte {
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
