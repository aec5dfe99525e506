// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/orderext/extension"
)

var (
	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	token = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	// 100k gas at 100 gwei
	stipend   = uint256.NewInt(100_000)
	gasPrice  = uint256.NewInt(100e9)
	oneEther  = uint256.NewInt(1e18)
	testParam = Params{
		TakerFeeBps:     30,
		GasStipend:      stipend,
		LoanFeeBps:      DefaultLoanFeeBps,
		SettlementAsset: weth,
	}
)

func mustNew(t *testing.T, p Params) *GasSponsored {
	t.Helper()
	g, err := New(p)
	require.NoError(t, err)
	return g
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Params)
		policy Policy
		ok     bool
	}{
		{"valid", func(*Params) {}, DefaultPolicy, true},
		{"full taker fee", func(p *Params) { p.TakerFeeBps = BpsDenominator }, DefaultPolicy, true},
		{"zero fees", func(p *Params) { p.TakerFeeBps, p.LoanFeeBps = 0, 0 }, DefaultPolicy, true},
		{"taker fee above 100%", func(p *Params) { p.TakerFeeBps = BpsDenominator + 1 }, DefaultPolicy, false},
		{"taker fee above cap", func(p *Params) { p.TakerFeeBps = 101 }, Policy{MaxTakerFeeBps: 100}, false},
		{"loan fee above 100%", func(p *Params) { p.LoanFeeBps = BpsDenominator + 1 }, DefaultPolicy, false},
		{"zero stipend", func(p *Params) { p.GasStipend = new(uint256.Int) }, DefaultPolicy, false},
		{"nil stipend", func(p *Params) { p.GasStipend = nil }, DefaultPolicy, false},
		{"zero asset", func(p *Params) { p.SettlementAsset = common.Address{} }, DefaultPolicy, false},
		{"invalid policy", func(*Params) {}, Policy{MaxTakerFeeBps: BpsDenominator + 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParam
			tt.mutate(&p)
			_, err := NewWithPolicy(p, tt.policy)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, extension.ErrInvalidSettlementConfig)
		})
	}
}

func TestCosts(t *testing.T) {
	g := mustNew(t, testParam)

	c, err := g.Costs(oneEther, gasPrice)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(1e16), c.GasReimbursement)
	require.Equal(t, uint256.NewInt(5e14), c.LoanFee)
	require.Equal(t, uint256.NewInt(3e15), c.TakerFee)
	require.Equal(t, uint256.NewInt(135e14), c.Total)

	// gas price unknown counts as zero
	c, err = g.Costs(oneEther, nil)
	require.NoError(t, err)
	require.True(t, c.GasReimbursement.IsZero())
}

func TestAmounts(t *testing.T) {
	g := mustNew(t, testParam)

	taking, err := g.TakingAmount(oneEther, gasPrice)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(1e18+135e14), taking)

	making, err := g.MakingAmount(oneEther, gasPrice)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(1e18-135e14), making)

	// taking - making == 2*totalCost and making < base < taking
	diff := new(uint256.Int).Sub(taking, making)
	require.Equal(t, uint256.NewInt(2*135e14), diff)
	require.True(t, making.Lt(oneEther))
	require.True(t, oneEther.Lt(taking))
}

func TestMakingAmountInsufficient(t *testing.T) {
	// 100 bps taker fee, 150k gas at 20 gwei
	smallFill := Params{
		TakerFeeBps:     100,
		GasStipend:      uint256.NewInt(150_000),
		LoanFeeBps:      DefaultLoanFeeBps,
		SettlementAsset: weth,
	}

	tests := []struct {
		name     string
		params   Params
		base     *uint256.Int
		gasPrice *uint256.Int
	}{
		{"dust", testParam, uint256.NewInt(100), gasPrice},
		{"exactly the gas", testParam, uint256.NewInt(1e16), gasPrice},
		{"zero", testParam, new(uint256.Int), gasPrice},
		{"gas dwarfs a small base", smallFill, uint256.NewInt(100), uint256.NewInt(20e9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mustNew(t, tt.params).MakingAmount(tt.base, tt.gasPrice)
			require.ErrorIs(t, err, extension.ErrInsufficientOutputAmount)
			require.Equal(t, extension.KindSettlement, extension.KindOf(err))
		})
	}

	// the taking side never fails for small bases
	taking, err := mustNew(t, testParam).TakingAmount(uint256.NewInt(100), gasPrice)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(1e16+100), taking)
}

func TestCostsOverflow(t *testing.T) {
	maxWord := new(uint256.Int).Not(new(uint256.Int))
	g := mustNew(t, Params{TakerFeeBps: 1, GasStipend: maxWord, LoanFeeBps: 0, SettlementAsset: weth})

	_, err := g.Costs(oneEther, uint256.NewInt(2))
	require.ErrorIs(t, err, extension.ErrArithmeticOverflow)

	_, err = mustNew(t, testParam).TakingAmount(maxWord, gasPrice)
	require.ErrorIs(t, err, extension.ErrArithmeticOverflow)
}

func TestCodec(t *testing.T) {
	g := mustNew(t, testParam)
	b := g.Encode()
	require.Len(t, b, PayloadSize)

	decoded, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, b, decoded.Encode())
	require.Equal(t, g.Params(), decoded.Params())

	_, err = DecodeWithPolicy(b, Policy{MaxTakerFeeBps: 10})
	require.ErrorIs(t, err, extension.ErrMalformedPayload)
	require.ErrorIs(t, err, extension.ErrInvalidSettlementConfig)

	bigFee := extension.NewWriter(PayloadSize).
		Word(new(uint256.Int).Lsh(uint256.NewInt(1), 64)).
		Word(stipend).
		Uint64(5).
		Address(weth).
		Bytes()
	zeroStipend := extension.NewWriter(PayloadSize).Uint64(1).Uint64(0).Uint64(5).Address(weth).Bytes()

	for name, data := range map[string][]byte{
		"empty":        nil,
		"truncated":    b[:PayloadSize-1],
		"oversized":    append(append([]byte{}, b...), 0),
		"fee overflow": bigFee,
		"zero stipend": zeroStipend,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			require.ErrorIs(t, err, extension.ErrMalformedPayload)
		})
	}
}
