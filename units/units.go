// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package units converts between human-readable decimal strings and
// integer token amounts.
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// MaxDecimals bounds the decimals of a token amount
	MaxDecimals = 77
	// SpreadDecimals is the precision of a spread multiplier (1e9 = neutral)
	SpreadDecimals = 9

	ppbSuffix = "ppb"
)

// Errors - Units
var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNegative      = errors.New("amount must not be negative")
	ErrTooPrecise    = errors.New("amount has more fractional digits than decimals allow")
	ErrTooLarge      = errors.New("amount exceeds 256 bits")
	ErrZero          = errors.New("amount must be positive")
)

// ParseUnits converts a decimal string into integer base units
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: %d decimals", ErrInvalidAmount, decimals)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNegative, s)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %q at %d decimals", ErrTooPrecise, s, decimals)
	}
	v, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %q", ErrTooLarge, s)
	}
	return v, nil
}

// MustParseUnits is ParseUnits for constants. Panics on error.
func MustParseUnits(s string, decimals uint8) *uint256.Int {
	v, err := ParseUnits(s, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits renders an integer amount with the given decimals, trimming
// trailing zeros
func FormatUnits(v *uint256.Int, decimals uint8) string {
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).String()
}

// ParseSpread reads a spread as a decimal multiplier ("0.995") or as integer
// parts per billion ("995000000ppb")
func ParseSpread(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	var (
		v   *uint256.Int
		err error
	)
	if raw, ok := strings.CutSuffix(s, ppbSuffix); ok {
		v, err = ParseUnits(strings.TrimSpace(raw), 0)
	} else {
		v, err = ParseUnits(s, SpreadDecimals)
	}
	if err != nil {
		return nil, err
	}
	if v.IsZero() {
		return nil, fmt.Errorf("%w: spread %q", ErrZero, s)
	}
	return v, nil
}

// FormatSpread renders a ppb spread as a decimal multiplier
func FormatSpread(ppb *uint256.Int) string {
	return FormatUnits(ppb, SpreadDecimals)
}
