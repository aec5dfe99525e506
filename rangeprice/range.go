// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rangeprice prices an order along a line over fill progress: the
// first unit fills at priceStart and the last at priceEnd.
package rangeprice

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/orderext/extension"
	"github.com/luxfi/orderext/registry"
)

// PayloadSize is priceStart || priceEnd
const PayloadSize = 2 * extension.WordSize

// PriceScale is the fixed-point denominator of range prices
var PriceScale = uint256.NewInt(1e18)

var twoScale = uint256.NewInt(2e18)

func init() {
	registry.MustRegister(registry.Module{
		Kind:          extension.KindRange,
		ConfigKey:     extension.KindRange.String(),
		Hooks:         extension.FlagsAmount,
		Decode:        decodeStrategy,
		DefaultTarget: common.HexToAddress(registry.RangeAddress),
	})
}

var (
	_ extension.Strategy     = (*Range)(nil)
	_ extension.AmountGetter = (*Range)(nil)
)

// Range is a validated price range. Immutable.
type Range struct {
	priceStart *uint256.Int
	priceEnd   *uint256.Int
}

// New validates and builds a range
func New(priceStart, priceEnd *uint256.Int) (*Range, error) {
	if priceStart == nil || priceEnd == nil {
		return nil, fmt.Errorf("%w: missing price", extension.ErrInvalidRange)
	}
	if priceStart.IsZero() {
		return nil, fmt.Errorf("%w: zero start price", extension.ErrInvalidRange)
	}
	if !priceEnd.Gt(priceStart) {
		return nil, fmt.Errorf("%w: end price %s not above start price %s", extension.ErrInvalidRange, priceEnd.Dec(), priceStart.Dec())
	}
	return &Range{
		priceStart: new(uint256.Int).Set(priceStart),
		priceEnd:   new(uint256.Int).Set(priceEnd),
	}, nil
}

func (r *Range) Kind() extension.Kind { return extension.KindRange }

func (r *Range) Hooks() extension.HookFlags { return extension.FlagsAmount }

func (r *Range) Payload(extension.HookType) []byte { return r.Encode() }

func (r *Range) PriceStart() *uint256.Int { return new(uint256.Int).Set(r.priceStart) }

func (r *Range) PriceEnd() *uint256.Int { return new(uint256.Int).Set(r.priceEnd) }

// Price returns the marginal price once filled of total has been filled
func (r *Range) Price(total, filled *uint256.Int) (*uint256.Int, error) {
	if total.IsZero() {
		return nil, extension.ErrDivisionByZero
	}
	progress := filled
	if progress.Gt(total) {
		progress = total
	}
	spread := new(uint256.Int).Sub(r.priceEnd, r.priceStart)
	// progress <= total keeps the quotient below spread
	step, _ := new(uint256.Int).MulDivOverflow(spread, progress, total)
	return step.Add(step, r.priceStart), nil
}

// Taking integrates the price line over [filled, filled+making]; making is
// clamped to remaining. One truncating division keeps partial fills additive.
func (r *Range) Taking(total, remaining, making *uint256.Int) (*uint256.Int, error) {
	if total.IsZero() {
		return nil, extension.ErrDivisionByZero
	}
	filled, making := progress(total, remaining, making)

	spread := new(uint256.Int).Sub(r.priceEnd, r.priceStart)

	// (pe-ps)*(2*filled+making)
	if filled.BitLen() > 255 || r.priceStart.BitLen() > 255 {
		return nil, fmt.Errorf("%w: doubling %s", extension.ErrArithmeticOverflow, filled.Dec())
	}
	span, err := extension.Add(new(uint256.Int).Lsh(filled, 1), making)
	if err != nil {
		return nil, err
	}
	slope, err := extension.Mul(spread, span)
	if err != nil {
		return nil, err
	}
	// 2*ps*total
	base, err := extension.Mul(new(uint256.Int).Lsh(r.priceStart, 1), total)
	if err != nil {
		return nil, err
	}
	numerator, err := extension.Add(slope, base)
	if err != nil {
		return nil, err
	}
	denominator, err := extension.Mul(twoScale, total)
	if err != nil {
		return nil, err
	}
	return extension.MulDiv(numerator, making, denominator)
}

// Making is the inverse of Taking: the largest making amount whose cost does
// not exceed taking, clamped to remaining
func (r *Range) Making(total, remaining, taking *uint256.Int) (*uint256.Int, error) {
	if total.IsZero() {
		return nil, extension.ErrDivisionByZero
	}
	filled, rest := progress(total, remaining, total)

	// Solve a*m^2 + b*m = c with
	//   a = pe-ps
	//   b = 2*((pe-ps)*filled + ps*total)
	//   c = taking*2e18*total
	// m = (isqrt(b^2 + 4ac) - b) / 2a
	a := new(big.Int).Sub(r.priceEnd.ToBig(), r.priceStart.ToBig())
	b := new(big.Int).Mul(a, filled.ToBig())
	b.Add(b, new(big.Int).Mul(r.priceStart.ToBig(), total.ToBig()))
	b.Lsh(b, 1)
	c := new(big.Int).Mul(taking.ToBig(), twoScale.ToBig())
	c.Mul(c, total.ToBig())

	disc := new(big.Int).Mul(b, b)
	disc.Add(disc, new(big.Int).Lsh(new(big.Int).Mul(a, c), 2))
	m := new(big.Int).Sqrt(disc)
	m.Sub(m, b)
	m.Quo(m, new(big.Int).Lsh(a, 1))

	out, overflow := uint256.FromBig(m)
	if overflow || out.Gt(rest) {
		return rest, nil
	}
	return out, nil
}

// progress returns the filled amount and the request clamped to what remains
func progress(total, remaining, request *uint256.Int) (filled, clamped *uint256.Int) {
	left := remaining
	if left == nil || left.Gt(total) {
		left = total
	}
	filled = new(uint256.Int).Sub(total, left)
	clamped = new(uint256.Int).Set(request)
	if clamped.Gt(left) {
		clamped.Set(left)
	}
	return filled, clamped
}

// TakingAmount implements extension.AmountGetter over the order's fill state
func (r *Range) TakingAmount(_ context.Context, _ *extension.Env, fill *extension.Fill, makingAmount *uint256.Int) (*uint256.Int, error) {
	return r.Taking(fill.Order.MakingAmount, fill.RemainingMakingAmount, makingAmount)
}

// MakingAmount implements extension.AmountGetter over the order's fill state
func (r *Range) MakingAmount(_ context.Context, _ *extension.Env, fill *extension.Fill, takingAmount *uint256.Int) (*uint256.Int, error) {
	return r.Making(fill.Order.MakingAmount, fill.RemainingMakingAmount, takingAmount)
}

func decodeStrategy(b []byte) (extension.Strategy, error) {
	r, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// =========================================================================
// Codec
// =========================================================================

// Encode returns priceStart || priceEnd
func (r *Range) Encode() []byte {
	return extension.NewWriter(PayloadSize).
		Word(r.priceStart).
		Word(r.priceEnd).
		Bytes()
}

// Decode parses and validates a range payload
func Decode(b []byte) (*Range, error) {
	if len(b) != PayloadSize {
		return nil, fmt.Errorf("%w: range payload is %d bytes, want %d", extension.ErrMalformedPayload, len(b), PayloadSize)
	}
	rd := extension.NewReader(b)
	start := rd.Word()
	end := rd.Word()
	if err := rd.Close(); err != nil {
		return nil, err
	}
	r, err := New(start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", extension.ErrMalformedPayload, err)
	}
	return r, nil
}
