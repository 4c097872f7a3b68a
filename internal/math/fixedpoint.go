// Package math holds the overflow-checked integer arithmetic used by the
// settlement engines. All quantities are uint64 on the wire; any product that
// could exceed 64 bits is evaluated in a 256-bit domain.
package math

import (
	"errors"
	stdmath "math"

	"github.com/holiman/uint256"
)

// BPSDenominator is the basis-point scale (10_000 = 100%).
const BPSDenominator uint64 = 10_000

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfEven
)

// CheckedAdd returns a + b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b or ErrOverflow when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// CheckedMul returns a * b or ErrOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	p := a * b
	if p/a != b {
		return 0, ErrOverflow
	}
	return p, nil
}

// Product multiplies factors in 256 bits. Up to four uint64 factors can never
// overflow; longer chains report ErrOverflow.
func Product(factors ...uint64) (*uint256.Int, error) {
	acc := uint256.NewInt(1)
	for _, f := range factors {
		if _, overflow := acc.MulOverflow(acc, uint256.NewInt(f)); overflow {
			return nil, ErrOverflow
		}
	}
	return acc, nil
}

// ProductLE reports whether prod(lhs) <= prod(rhs).
func ProductLE(lhs, rhs []uint64) (bool, error) {
	l, err := Product(lhs...)
	if err != nil {
		return false, err
	}
	r, err := Product(rhs...)
	if err != nil {
		return false, err
	}
	return !l.Gt(r), nil
}

// MulDiv computes a * b / denom with the given rounding, in 256 bits.
// The result must fit in a uint64.
func MulDiv(a, b, denom uint64, mode RoundingMode) (uint64, error) {
	num, err := Product(a, b)
	if err != nil {
		return 0, err
	}
	return DivWide(num, uint256.NewInt(denom), mode)
}

// DivWide divides a wide numerator and narrows the quotient to uint64.
func DivWide(num, denom *uint256.Int, mode RoundingMode) (uint64, error) {
	if denom.IsZero() {
		return 0, ErrDivisionByZero
	}

	quo := new(uint256.Int)
	rem := new(uint256.Int)
	quo.DivMod(num, denom, rem)

	if !rem.IsZero() {
		switch mode {
		case RoundUp:
			quo.AddUint64(quo, 1)
		case RoundHalfEven:
			// Compare 2*rem against denom without overflowing 256 bits.
			twice, overflow := new(uint256.Int).AddOverflow(rem, rem)
			cmp := 1
			if !overflow {
				cmp = twice.Cmp(denom)
			}
			if cmp > 0 || (cmp == 0 && quo.Uint64()%2 == 1) {
				quo.AddUint64(quo, 1)
			}
		}
	}

	if !quo.IsUint64() {
		return 0, ErrOverflow
	}
	return quo.Uint64(), nil
}

// ApplyBps returns amount * bps / 10_000.
func ApplyBps(amount, bps uint64, mode RoundingMode) (uint64, error) {
	return MulDiv(amount, bps, BPSDenominator, mode)
}

// ToLedgerAmount narrows a uint64 quantity into the signed journal domain.
func ToLedgerAmount(v uint64) (int64, error) {
	if v > stdmath.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(v), nil
}
