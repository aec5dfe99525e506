// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package settlement implements gas-sponsored settlement: the fill is funded
// by a same-transaction loan, and the taker pays gas, the loan fee and a taker
// fee out of the swapped proceeds.
package settlement

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/orderext/extension"
	"github.com/luxfi/orderext/registry"
)

const (
	// BpsDenominator is 100%
	BpsDenominator = 10_000
	// DefaultLoanFeeBps is charged by the loan source
	DefaultLoanFeeBps = 5
	// DefaultMaxTakerFeeBps caps the taker fee
	DefaultMaxTakerFeeBps = BpsDenominator

	// PayloadSize is takerFeeBps || gasStipend || loanFeeBps || settlementAsset
	PayloadSize = 3*extension.WordSize + extension.AddressSize
)

var bpsDenominator = uint256.NewInt(BpsDenominator)

func init() {
	registry.MustRegister(registry.Module{
		Kind:          extension.KindGasSponsored,
		ConfigKey:     extension.KindGasSponsored.String(),
		Hooks:         extension.FlagsInteraction,
		Decode:        Decoder(DefaultPolicy),
		DefaultTarget: common.HexToAddress(registry.GasSponsoredAddress),
	})
}

var (
	_ extension.Strategy   = (*GasSponsored)(nil)
	_ extension.Interactor = (*GasSponsored)(nil)
)

// Params configures a gas-sponsored settlement
type Params struct {
	TakerFeeBps     uint64
	GasStipend      *uint256.Int
	LoanFeeBps      uint64
	SettlementAsset common.Address
}

// Policy bounds the parameters a deployment accepts
type Policy struct {
	MaxTakerFeeBps uint64
}

// DefaultPolicy accepts taker fees up to 100%
var DefaultPolicy = Policy{MaxTakerFeeBps: DefaultMaxTakerFeeBps}

// Verify checks the policy itself
func (p Policy) Verify() error {
	if p.MaxTakerFeeBps > BpsDenominator {
		return fmt.Errorf("%w: taker fee cap %d above %d bps", extension.ErrInvalidSettlementConfig, p.MaxTakerFeeBps, BpsDenominator)
	}
	return nil
}

// GasSponsored is a validated settlement configuration. Immutable.
type GasSponsored struct {
	takerFeeBps uint64
	gasStipend  *uint256.Int
	loanFeeBps  uint64
	asset       common.Address
}

// New validates params against DefaultPolicy
func New(p Params) (*GasSponsored, error) {
	return NewWithPolicy(p, DefaultPolicy)
}

// NewWithPolicy validates params against policy
func NewWithPolicy(p Params, policy Policy) (*GasSponsored, error) {
	if err := policy.Verify(); err != nil {
		return nil, err
	}
	if p.TakerFeeBps > policy.MaxTakerFeeBps {
		return nil, fmt.Errorf("%w: taker fee %d bps above cap %d", extension.ErrInvalidSettlementConfig, p.TakerFeeBps, policy.MaxTakerFeeBps)
	}
	if p.LoanFeeBps > BpsDenominator {
		return nil, fmt.Errorf("%w: loan fee %d bps above %d", extension.ErrInvalidSettlementConfig, p.LoanFeeBps, BpsDenominator)
	}
	if p.GasStipend == nil || p.GasStipend.IsZero() {
		return nil, fmt.Errorf("%w: zero gas stipend", extension.ErrInvalidSettlementConfig)
	}
	if p.SettlementAsset == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero settlement asset", extension.ErrInvalidSettlementConfig)
	}
	return &GasSponsored{
		takerFeeBps: p.TakerFeeBps,
		gasStipend:  new(uint256.Int).Set(p.GasStipend),
		loanFeeBps:  p.LoanFeeBps,
		asset:       p.SettlementAsset,
	}, nil
}

func (g *GasSponsored) Kind() extension.Kind { return extension.KindGasSponsored }

func (g *GasSponsored) Hooks() extension.HookFlags { return extension.FlagsInteraction }

func (g *GasSponsored) Payload(extension.HookType) []byte { return g.Encode() }

// Params returns a copy of the configuration
func (g *GasSponsored) Params() Params {
	return Params{
		TakerFeeBps:     g.takerFeeBps,
		GasStipend:      new(uint256.Int).Set(g.gasStipend),
		LoanFeeBps:      g.loanFeeBps,
		SettlementAsset: g.asset,
	}
}

func (g *GasSponsored) SettlementAsset() common.Address { return g.asset }

// =========================================================================
// Cost model
// =========================================================================

// Costs breaks down what settling base costs the taker
type Costs struct {
	GasReimbursement *uint256.Int
	LoanFee          *uint256.Int
	TakerFee         *uint256.Int
	Total            *uint256.Int
}

// Costs computes the cost of settling base at gasPrice
func (g *GasSponsored) Costs(base, gasPrice *uint256.Int) (Costs, error) {
	if gasPrice == nil {
		gasPrice = new(uint256.Int)
	}
	gas, err := extension.Mul(g.gasStipend, gasPrice)
	if err != nil {
		return Costs{}, err
	}
	loanFee, err := extension.MulDiv(base, uint256.NewInt(g.loanFeeBps), bpsDenominator)
	if err != nil {
		return Costs{}, err
	}
	takerFee, err := extension.MulDiv(base, uint256.NewInt(g.takerFeeBps), bpsDenominator)
	if err != nil {
		return Costs{}, err
	}
	total, err := extension.Add(gas, loanFee)
	if err != nil {
		return Costs{}, err
	}
	if total, err = extension.Add(total, takerFee); err != nil {
		return Costs{}, err
	}
	return Costs{
		GasReimbursement: gas,
		LoanFee:          loanFee,
		TakerFee:         takerFee,
		Total:            total,
	}, nil
}

// TakingAmount is what the taker must provide to settle base: base plus costs
func (g *GasSponsored) TakingAmount(base, gasPrice *uint256.Int) (*uint256.Int, error) {
	c, err := g.Costs(base, gasPrice)
	if err != nil {
		return nil, err
	}
	return extension.Add(base, c.Total)
}

// MakingAmount is what the taker nets out of base after costs
func (g *GasSponsored) MakingAmount(base, gasPrice *uint256.Int) (*uint256.Int, error) {
	c, err := g.Costs(base, gasPrice)
	if err != nil {
		return nil, err
	}
	if !c.Total.Lt(base) {
		return nil, fmt.Errorf("%w: costs %s leave nothing of %s", extension.ErrInsufficientOutputAmount, c.Total.Dec(), base.Dec())
	}
	return new(uint256.Int).Sub(base, c.Total), nil
}

// Decoder returns a registry decoder that validates payloads against policy
func Decoder(policy Policy) registry.DecodeFunc {
	return func(b []byte) (extension.Strategy, error) {
		g, err := DecodeWithPolicy(b, policy)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
}

// =========================================================================
// Codec
// =========================================================================

// Encode serializes the settlement parameters
func (g *GasSponsored) Encode() []byte {
	return extension.NewWriter(PayloadSize).
		Uint64(g.takerFeeBps).
		Word(g.gasStipend).
		Uint64(g.loanFeeBps).
		Address(g.asset).
		Bytes()
}

// Decode parses a payload and validates it against DefaultPolicy
func Decode(b []byte) (*GasSponsored, error) {
	return DecodeWithPolicy(b, DefaultPolicy)
}

// DecodeWithPolicy parses a payload and validates it against policy
func DecodeWithPolicy(b []byte, policy Policy) (*GasSponsored, error) {
	if len(b) != PayloadSize {
		return nil, fmt.Errorf("%w: settlement payload is %d bytes, want %d", extension.ErrMalformedPayload, len(b), PayloadSize)
	}
	r := extension.NewReader(b)
	p := Params{
		TakerFeeBps:     r.Uint64(),
		GasStipend:      r.Word(),
		LoanFeeBps:      r.Uint64(),
		SettlementAsset: r.Address(),
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	g, err := NewWithPolicy(p, policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", extension.ErrMalformedPayload, err)
	}
	return g, nil
}
