package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrappedErrorMatchesSentinel(t *testing.T) {
	err := Wrap(ErrInsufficientCollateral, "debt=%d", 10)
	require.ErrorIs(t, err, ErrInsufficientCollateral)
	require.False(t, errors.Is(err, ErrInvalidAmount))
	require.Equal(t, "insufficient collateral: debt=10", err.Error())
}

func TestCodeOfThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("dispatch failed: %w", ErrProtocolPaused)
	code, ok := CodeOf(err)
	require.True(t, ok)
	require.Equal(t, CodeProtocolPaused, code)
	require.Equal(t, "ProtocolPaused", code.String())

	_, ok = CodeOf(errors.New("plain"))
	require.False(t, ok)
}

func TestCodesAreStable(t *testing.T) {
	require.Equal(t, Code(6000), CodeAlreadyInitialized)
	require.Equal(t, Code(6007), CodeUnauthorized)
	require.Equal(t, "Code(1)", Code(1).String())
}
