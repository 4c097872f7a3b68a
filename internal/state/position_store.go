package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PositionStore holds every position record, keyed by derived address.
// Not thread-safe; only accessed from the single-threaded core.
type PositionStore struct {
	positions map[uuid.UUID]*PositionRecord
}

func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions: make(map[uuid.UUID]*PositionRecord),
	}
}

// Get returns a copy of the owner's record, or false if none was ever
// committed.
func (ps *PositionStore) Get(owner uuid.UUID) (PositionRecord, bool) {
	pos, ok := ps.positions[PositionAddress(owner)]
	if !ok {
		return PositionRecord{}, false
	}
	return *pos, true
}

// Load returns a working copy of the owner's record. Unknown owners get a
// blank Uninitialized record so engines never see a missing position.
func (ps *PositionStore) Load(owner uuid.UUID) PositionRecord {
	if pos, ok := ps.Get(owner); ok {
		return pos
	}
	return NewPositionRecord(owner)
}

// Commit stores rec and bumps its version. Returns the stored copy.
func (ps *PositionStore) Commit(rec PositionRecord) PositionRecord {
	rec.Address = PositionAddress(rec.Owner)
	if existing, ok := ps.positions[rec.Address]; ok {
		rec.Version = existing.Version + 1
	} else {
		rec.Version = 1
	}
	ps.positions[rec.Address] = &rec
	return rec
}

// SetPosition restores a record from a snapshot without a version bump.
func (ps *PositionStore) SetPosition(rec PositionRecord) {
	cp := rec
	ps.positions[rec.Address] = &cp
}

// GetAllPositions returns copies of every record sorted by address.
func (ps *PositionStore) GetAllPositions() []PositionRecord {
	out := make([]PositionRecord, 0, len(ps.positions))
	for _, pos := range ps.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// Totals returns the sum of collateral and debt across all positions.
func (ps *PositionStore) Totals() (collateral, debt *uint256.Int) {
	collateral, debt = new(uint256.Int), new(uint256.Int)
	for _, pos := range ps.positions {
		collateral.AddUint64(collateral, pos.CollateralDeposited)
		debt.AddUint64(debt, pos.StablecoinMinted)
	}
	return collateral, debt
}

func (ps *PositionStore) Count() int {
	return len(ps.positions)
}
