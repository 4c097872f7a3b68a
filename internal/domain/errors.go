package domain

import (
	"errors"
	"fmt"
)

// Code is the stable numeric identifier surfaced to callers for a rejected
// instruction. Values never change once assigned.
type Code uint32

const (
	CodeAlreadyInitialized Code = 6000 + iota
	CodeInvalidParameter
	CodeInvalidPrice
	CodeInsufficientCollateral
	CodeInvalidAmount
	CodeArithmeticOverflow
	CodeProtocolPaused
	CodeUnauthorized
	CodeNotInitialized
	CodeNotEligibleForLiquidation
	CodeStalePrice
	CodeInsufficientBalance
)

var codeNames = map[Code]string{
	CodeAlreadyInitialized:        "AlreadyInitialized",
	CodeInvalidParameter:          "InvalidParameter",
	CodeInvalidPrice:              "InvalidPrice",
	CodeInsufficientCollateral:    "InsufficientCollateral",
	CodeInvalidAmount:             "InvalidAmount",
	CodeArithmeticOverflow:        "ArithmeticOverflow",
	CodeProtocolPaused:            "ProtocolPaused",
	CodeUnauthorized:              "Unauthorized",
	CodeNotInitialized:            "NotInitialized",
	CodeNotEligibleForLiquidation: "NotEligibleForLiquidation",
	CodeStalePrice:                "StalePrice",
	CodeInsufficientBalance:       "InsufficientBalance",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Error is a rejected-instruction error. Two Errors match under errors.Is
// when their codes are equal, so detail-carrying errors built with Wrap still
// compare equal to the exported sentinels.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyInitialized        = &Error{Code: CodeAlreadyInitialized, Msg: "governance already initialized"}
	ErrInvalidParameter          = &Error{Code: CodeInvalidParameter, Msg: "invalid governance parameter"}
	ErrInvalidPrice              = &Error{Code: CodeInvalidPrice, Msg: "invalid price"}
	ErrInsufficientCollateral    = &Error{Code: CodeInsufficientCollateral, Msg: "insufficient collateral"}
	ErrInvalidAmount             = &Error{Code: CodeInvalidAmount, Msg: "invalid amount"}
	ErrArithmeticOverflow        = &Error{Code: CodeArithmeticOverflow, Msg: "arithmetic overflow"}
	ErrProtocolPaused            = &Error{Code: CodeProtocolPaused, Msg: "protocol paused"}
	ErrUnauthorized              = &Error{Code: CodeUnauthorized, Msg: "unauthorized"}
	ErrNotInitialized            = &Error{Code: CodeNotInitialized, Msg: "governance not initialized"}
	ErrNotEligibleForLiquidation = &Error{Code: CodeNotEligibleForLiquidation, Msg: "position not eligible for liquidation"}
	ErrStalePrice                = &Error{Code: CodeStalePrice, Msg: "stale price"}
	ErrInsufficientBalance       = &Error{Code: CodeInsufficientBalance, Msg: "insufficient balance"}
)

// Lookup errors from stores and caches. These never reject an instruction.
var (
	ErrNotFound = errors.New("not found")
)

// Wrap returns an error with base's code and a formatted detail suffix.
func Wrap(base *Error, format string, args ...any) error {
	return &Error{
		Code: base.Code,
		Msg:  base.Msg + ": " + fmt.Sprintf(format, args...),
	}
}

// CodeOf extracts the rejection code from err, if any.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
