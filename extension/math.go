// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package extension

import (
	"fmt"

	"github.com/holiman/uint256"
)

// MaxDecimalsExponent is the largest n with 10^n below 2^256
const MaxDecimalsExponent = 77

// MulDiv returns x*y/d with a 512-bit intermediate, truncating
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s*%s/%s", ErrArithmeticOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return z, nil
}

// Mul returns x*y or ErrArithmeticOverflow
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s*%s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// Add returns x+y or ErrArithmeticOverflow
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s+%s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// Div returns x/y or ErrDivisionByZero
func Div(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(x, y), nil
}

// Pow10 returns 10^n for n <= MaxDecimalsExponent
func Pow10(n uint) (*uint256.Int, error) {
	if n > MaxDecimalsExponent {
		return nil, fmt.Errorf("%w: 10^%d", ErrArithmeticOverflow, n)
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n))), nil
}
