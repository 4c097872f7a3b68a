// Package price validates externally supplied collateral prices before any
// engine uses them. A price is the number of stablecoin base units one
// collateral base unit is worth.
package price

import (
	"context"
	"sync"
	"time"

	"StableLedger/internal/domain"
)

// RawPrice is a price exactly as the caller supplied it.
// ObservedAt is epoch microseconds; zero means the caller did not say.
// Set records that the value came from the caller, so an explicit zero is
// kept and rejected rather than replaced from a Source.
type RawPrice struct {
	Value      uint64
	ObservedAt int64
	Set        bool
}

// Missing reports whether the caller left the price out entirely.
func (r RawPrice) Missing() bool {
	return !r.Set && r.Value == 0
}

// Price is a value that passed validation and may be used by an engine.
type Price struct {
	Value      uint64
	ObservedAt int64
}

// Input is the validation policy applied to every raw price.
type Input struct {
	maxAge int64 // microseconds; 0 disables the staleness bound
}

func NewInput(maxAge time.Duration) *Input {
	return &Input{maxAge: maxAge.Microseconds()}
}

// Normalize validates raw against the instruction timestamp at (epoch micros).
func (in *Input) Normalize(raw RawPrice, at int64) (Price, error) {
	if raw.Value == 0 {
		return Price{}, domain.Wrap(domain.ErrInvalidPrice, "price must be positive")
	}

	if in != nil && in.maxAge > 0 && raw.ObservedAt > 0 {
		if raw.ObservedAt > at {
			return Price{}, domain.Wrap(domain.ErrStalePrice,
				"observed_at %d is after instruction timestamp %d", raw.ObservedAt, at)
		}
		if at-raw.ObservedAt > in.maxAge {
			return Price{}, domain.Wrap(domain.ErrStalePrice,
				"age %dus exceeds %dus", at-raw.ObservedAt, in.maxAge)
		}
	}

	return Price{Value: raw.Value, ObservedAt: raw.ObservedAt}, nil
}

// FromSigned converts a wire-level signed integer, rejecting negatives.
func FromSigned(v int64, observedAt int64) (RawPrice, error) {
	if v <= 0 {
		return RawPrice{}, domain.Wrap(domain.ErrInvalidPrice, "price must be positive, got %d", v)
	}
	return RawPrice{Value: uint64(v), ObservedAt: observedAt, Set: true}, nil
}

// Source supplies the current collateral price when a request omits one.
type Source interface {
	Price(ctx context.Context) (RawPrice, error)
}

// StaticSource is a Source holding a value set in-process.
type StaticSource struct {
	mu  sync.RWMutex
	raw RawPrice
	set bool
}

func NewStaticSource(raw RawPrice) *StaticSource {
	return &StaticSource{raw: raw, set: raw.Value > 0}
}

func (s *StaticSource) Set(raw RawPrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = raw
	s.set = true
}

func (s *StaticSource) Price(ctx context.Context) (RawPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return RawPrice{}, domain.ErrNotFound
	}
	return s.raw, nil
}
