// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry_test

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/orderext/auction"
	"github.com/luxfi/orderext/extension"
	"github.com/luxfi/orderext/oracle"
	"github.com/luxfi/orderext/rangeprice"
	"github.com/luxfi/orderext/registry"
	"github.com/luxfi/orderext/settlement"
)

func newAuction(t *testing.T) *auction.Auction {
	t.Helper()
	a, err := auction.New(10, 20, uint256.NewInt(200), uint256.NewInt(100))
	require.NoError(t, err)
	return a
}

func newSettlement(t *testing.T) *settlement.GasSponsored {
	t.Helper()
	g, err := settlement.New(settlement.Params{
		TakerFeeBps:     10,
		GasStipend:      uint256.NewInt(50_000),
		LoanFeeBps:      settlement.DefaultLoanFeeBps,
		SettlementAsset: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
	})
	require.NoError(t, err)
	return g
}

func TestDefaultModules(t *testing.T) {
	modules := registry.Default().Modules()
	require.Len(t, modules, 4)

	kinds := []extension.Kind{extension.KindAuction, extension.KindRange, extension.KindOracle, extension.KindGasSponsored}
	for i, m := range modules {
		require.Equal(t, kinds[i], m.Kind)
		require.Equal(t, m.Kind.String(), m.ConfigKey)
		require.True(t, registry.MarketsPage.Holds(m.DefaultTarget))

		byKey, ok := registry.Default().ModuleByKey(m.ConfigKey)
		require.True(t, ok)
		require.Equal(t, m.Kind, byKey.Kind)
	}

	targets := registry.Default().DefaultTargets()
	require.Equal(t, common.HexToAddress(registry.OracleAddress), targets[extension.KindOracle])
	require.Equal(t, common.HexToAddress(registry.GasSponsoredAddress), targets[extension.KindGasSponsored])
}

func TestRegister(t *testing.T) {
	decode := func([]byte) (extension.Strategy, error) { return nil, nil }
	valid := registry.Module{
		Kind:          extension.KindAuction,
		ConfigKey:     "auction",
		Hooks:         extension.FlagsAmount,
		Decode:        decode,
		DefaultTarget: common.HexToAddress(registry.AuctionAddress),
	}

	tests := []struct {
		name    string
		mutate  func(m *registry.Module)
		wantErr error
	}{
		{"zero kind", func(m *registry.Module) { m.Kind = 0 }, registry.ErrInvalidModule},
		{"no decoder", func(m *registry.Module) { m.Decode = nil }, registry.ErrInvalidModule},
		{"no config key", func(m *registry.Module) { m.ConfigKey = "" }, registry.ErrInvalidModule},
		{"unknown hooks", func(m *registry.Module) { m.Hooks = 0x80 }, registry.ErrInvalidModule},
		{"target outside markets", func(m *registry.Module) { m.DefaultTarget = common.HexToAddress("0x0400") }, registry.ErrInvalidModule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			require.ErrorIs(t, registry.New().Register(m), tt.wantErr)
		})
	}

	r := registry.New()
	require.NoError(t, r.Register(valid))
	require.ErrorIs(t, r.Register(valid), registry.ErrDuplicateKind)

	sameKey := valid
	sameKey.Kind = extension.KindRange
	require.ErrorIs(t, r.Register(sameKey), registry.ErrDuplicateKind)

	// registration order does not matter
	first := valid
	first.Kind, first.ConfigKey, first.DefaultTarget = extension.KindGasSponsored, "gas", common.Address{}
	second := valid
	second.Kind, second.ConfigKey, second.DefaultTarget = extension.KindRange, "range", common.Address{}
	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))
	modules := r.Modules()
	require.Len(t, modules, 3)
	require.Equal(t, extension.KindAuction, modules[0].Kind)
	require.Equal(t, extension.KindRange, modules[1].Kind)
	require.Equal(t, extension.KindGasSponsored, modules[2].Kind)
	require.Len(t, r.DefaultTargets(), 1)

	_, err := r.Decode(extension.KindOracle, nil)
	require.ErrorIs(t, err, registry.ErrUnknownKind)
}

func TestOverride(t *testing.T) {
	errRejected := errors.New("rejected")
	reject := func([]byte) (extension.Strategy, error) { return nil, errRejected }

	r, err := registry.Default().Override(extension.KindAuction, reject)
	require.NoError(t, err)
	require.Len(t, r.Modules(), len(registry.Default().Modules()))

	payload := newAuction(t).Encode()
	_, err = r.Decode(extension.KindAuction, payload)
	require.ErrorIs(t, err, errRejected)

	// the source registry is untouched
	_, err = registry.Default().Decode(extension.KindAuction, payload)
	require.NoError(t, err)

	_, err = registry.New().Override(extension.KindAuction, reject)
	require.ErrorIs(t, err, registry.ErrUnknownKind)
	_, err = registry.Default().Override(extension.KindAuction, nil)
	require.ErrorIs(t, err, registry.ErrInvalidModule)
}

func TestMarketsPage(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"0x0000000000000000000000000000000000009000", true},
		{"0x0000000000000000000000000000000000009fff", true},
		{"0x0000000000000000000000000000000000008fff", false},
		{"0x000000000000000000000000000000000000a000", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			require.Equal(t, tt.want, registry.MarketsPage.Holds(common.HexToAddress(tt.addr)))
		})
	}
}

func TestResolve(t *testing.T) {
	targets := registry.Default().DefaultTargets()
	a := newAuction(t)
	g := newSettlement(t)

	rng, err := rangeprice.New(uint256.NewInt(1), uint256.NewInt(2))
	require.NoError(t, err)
	o, err := oracle.NewSingle(common.HexToAddress("0x01"), uint256.NewInt(1e9), true)
	require.NoError(t, err)

	tests := []struct {
		name       string
		strategies []extension.Strategy
		want       []extension.Kind
	}{
		{"empty", nil, []extension.Kind{}},
		{"auction", []extension.Strategy{a}, []extension.Kind{extension.KindAuction}},
		{"settlement then auction", []extension.Strategy{g, a}, []extension.Kind{extension.KindAuction, extension.KindGasSponsored}},
		{"range", []extension.Strategy{rng}, []extension.Kind{extension.KindRange}},
		{"oracle with settlement", []extension.Strategy{o, g}, []extension.Kind{extension.KindOracle, extension.KindGasSponsored}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := extension.Compose(targets, tt.strategies...)
			require.NoError(t, err)

			// survives the wire
			decoded, err := extension.DecodeBlob(blob.Bytes())
			require.NoError(t, err)

			resolved, err := registry.Resolve(decoded, targets)
			require.NoError(t, err)
			kinds := make([]extension.Kind, len(resolved))
			for i, s := range resolved {
				kinds[i] = s.Kind()
				require.Equal(t, s.Hooks(), decoded.Hooks()&s.Hooks())
			}
			require.Equal(t, tt.want, kinds)
		})
	}

	// decoded strategies carry the same configuration
	blob := extension.MustCompose(targets, a)
	resolved, err := registry.Resolve(blob, targets)
	require.NoError(t, err)
	require.Equal(t, a.Encode(), resolved[0].(*auction.Auction).Encode())
}

func TestResolveErrors(t *testing.T) {
	targets := registry.Default().DefaultTargets()
	a := newAuction(t)
	blob := extension.MustCompose(targets, a)

	// a target the caller does not know
	other := extension.Targets{extension.KindRange: targets[extension.KindRange]}
	_, err := registry.Resolve(blob, other)
	require.ErrorIs(t, err, registry.ErrUnboundTarget)

	// the auction's payload bound to the range target fails to decode
	swapped := extension.Targets{extension.KindRange: targets[extension.KindAuction]}
	_, err = registry.Resolve(blob, swapped)
	require.ErrorIs(t, err, extension.ErrMalformedPayload)

	_, err = registry.Default().ResolveHook(blob, targets, extension.HookPreInteraction)
	require.ErrorIs(t, err, extension.ErrHookNotImplemented)

	s, err := registry.Default().ResolveHook(blob, targets, extension.HookTakerAmount)
	require.NoError(t, err)
	require.Equal(t, extension.KindAuction, s.Kind())
}
