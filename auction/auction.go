// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package auction implements a Dutch auction price: the taker amount per
// order decays linearly from startAmount to endAmount over a time window.
package auction

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/orderext/extension"
	"github.com/luxfi/orderext/registry"
)

// PayloadSize is packedStartEndTime || startAmount || endAmount
const PayloadSize = 3 * extension.WordSize

var lowBits128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

func init() {
	registry.MustRegister(registry.Module{
		Kind:          extension.KindAuction,
		ConfigKey:     extension.KindAuction.String(),
		Hooks:         extension.FlagsAmount,
		Decode:        decodeStrategy,
		DefaultTarget: common.HexToAddress(registry.AuctionAddress),
	})
}

var (
	_ extension.Strategy     = (*Auction)(nil)
	_ extension.AmountGetter = (*Auction)(nil)
)

// Auction is a validated auction window. Immutable.
type Auction struct {
	startTime   uint64
	endTime     uint64
	startAmount *uint256.Int
	endAmount   *uint256.Int
}

// New validates and builds an auction
func New(startTime, endTime uint64, startAmount, endAmount *uint256.Int) (*Auction, error) {
	if startTime >= endTime {
		return nil, fmt.Errorf("%w: start %d not before end %d", extension.ErrInvalidAuctionWindow, startTime, endTime)
	}
	if startAmount == nil || endAmount == nil || !startAmount.Gt(endAmount) {
		return nil, fmt.Errorf("%w: start amount must exceed end amount", extension.ErrInvalidAuctionWindow)
	}
	return &Auction{
		startTime:   startTime,
		endTime:     endTime,
		startAmount: new(uint256.Int).Set(startAmount),
		endAmount:   new(uint256.Int).Set(endAmount),
	}, nil
}

func (a *Auction) Kind() extension.Kind { return extension.KindAuction }

func (a *Auction) Hooks() extension.HookFlags { return extension.FlagsAmount }

func (a *Auction) Payload(extension.HookType) []byte { return a.Encode() }

func (a *Auction) StartTime() uint64 { return a.startTime }

func (a *Auction) EndTime() uint64 { return a.endTime }

func (a *Auction) StartAmount() *uint256.Int { return new(uint256.Int).Set(a.startAmount) }

func (a *Auction) EndAmount() *uint256.Int { return new(uint256.Int).Set(a.endAmount) }

// Price returns the taker amount for the whole order at time t
func (a *Auction) Price(t uint64) *uint256.Int {
	if t <= a.startTime {
		return new(uint256.Int).Set(a.startAmount)
	}
	if t >= a.endTime {
		return new(uint256.Int).Set(a.endAmount)
	}

	diff := new(uint256.Int).Sub(a.startAmount, a.endAmount)
	elapsed := uint256.NewInt(t - a.startTime)
	window := uint256.NewInt(a.endTime - a.startTime)
	// elapsed < window so the quotient is below diff and cannot overflow
	decay, _ := new(uint256.Int).MulDivOverflow(diff, elapsed, window)
	return decay.Sub(a.startAmount, decay)
}

// TakingAmount scales the current price to the requested making amount
func (a *Auction) TakingAmount(_ context.Context, _ *extension.Env, fill *extension.Fill, makingAmount *uint256.Int) (*uint256.Int, error) {
	return extension.MulDiv(a.Price(fill.Timestamp), makingAmount, fill.Order.MakingAmount)
}

// MakingAmount is the inverse of TakingAmount, truncating
func (a *Auction) MakingAmount(_ context.Context, _ *extension.Env, fill *extension.Fill, takingAmount *uint256.Int) (*uint256.Int, error) {
	return extension.MulDiv(fill.Order.MakingAmount, takingAmount, a.Price(fill.Timestamp))
}

func decodeStrategy(b []byte) (extension.Strategy, error) {
	a, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// =========================================================================
// Codec
// =========================================================================

// Encode packs start (high 128 bits) and end (low 128 bits) into one word,
// followed by the two amounts
func (a *Auction) Encode() []byte {
	packed := new(uint256.Int).Lsh(uint256.NewInt(a.startTime), 128)
	packed.Or(packed, uint256.NewInt(a.endTime))
	return extension.NewWriter(PayloadSize).
		Word(packed).
		Word(a.startAmount).
		Word(a.endAmount).
		Bytes()
}

// Decode parses and validates an auction payload
func Decode(b []byte) (*Auction, error) {
	if len(b) != PayloadSize {
		return nil, fmt.Errorf("%w: auction payload is %d bytes, want %d", extension.ErrMalformedPayload, len(b), PayloadSize)
	}
	r := extension.NewReader(b)
	packed := r.Word()
	startAmount := r.Word()
	endAmount := r.Word()
	if err := r.Close(); err != nil {
		return nil, err
	}

	start := new(uint256.Int).Rsh(packed, 128)
	end := new(uint256.Int).And(packed, lowBits128)
	if !start.IsUint64() || !end.IsUint64() {
		return nil, fmt.Errorf("%w: auction timestamps exceed 64 bits", extension.ErrMalformedPayload)
	}

	a, err := New(start.Uint64(), end.Uint64(), startAmount, endAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", extension.ErrMalformedPayload, err)
	}
	return a, nil
}
