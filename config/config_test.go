// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/orderext/engine"
	"github.com/luxfi/orderext/extension"
	"github.com/luxfi/orderext/oracle"
	"github.com/luxfi/orderext/registry"
	"github.com/luxfi/orderext/settlement"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Verify())
	require.Equal(t, uint64(5), c.Settlement.LoanFeeBps)
	require.Equal(t, uint64(10_000), c.Settlement.MaxTakerFeeBps)
	require.Equal(t, 4*time.Hour, c.Oracle.TTL)

	targets, err := c.ExtensionTargets()
	require.NoError(t, err)
	require.Equal(t, registry.Default().DefaultTargets(), targets)
	require.Equal(t, common.HexToAddress(registry.AuctionAddress), targets[extension.KindAuction])
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
targets:
  auction: "0x0000000000000000000000000000000000001111"
settlement:
  max_taker_fee_bps: 100
oracle:
  ttl: 30m
`))
	require.NoError(t, err)

	targets, err := c.ExtensionTargets()
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x1111"), targets[extension.KindAuction])
	// unspecified keys keep their defaults
	require.Equal(t, common.HexToAddress(registry.RangeAddress), targets[extension.KindRange])
	require.Equal(t, uint64(5), c.Settlement.LoanFeeBps)
	require.Equal(t, uint64(100), c.SettlementPolicy().MaxTakerFeeBps)

	o, err := oracle.NewSingle(common.HexToAddress("0x01"), uint256.NewInt(1e9), false)
	require.NoError(t, err)
	o, err = c.OracleStrategy(o)
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, o.TTL())
}

func TestSettlementPolicy(t *testing.T) {
	c, err := Parse([]byte("settlement:\n  loan_fee_bps: 7\n  max_taker_fee_bps: 10\n"))
	require.NoError(t, err)

	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	stipend := uint256.NewInt(100_000)

	g, err := c.GasSponsored(10, stipend, weth)
	require.NoError(t, err)
	require.Equal(t, uint64(7), g.Params().LoanFeeBps)

	_, err = c.GasSponsored(30, stipend, weth)
	require.ErrorIs(t, err, extension.ErrInvalidSettlementConfig)

	// a payload within the default cap but above the configured one
	loose, err := settlement.New(settlement.Params{TakerFeeBps: 30, GasStipend: stipend, LoanFeeBps: 7, SettlementAsset: weth})
	require.NoError(t, err)

	order := extension.Order{
		Salt:         uint256.NewInt(1),
		TakerAsset:   weth,
		MakingAmount: uint256.NewInt(1e18),
		TakingAmount: uint256.NewInt(1e18),
		MakerTraits:  new(uint256.Int),
	}
	pre, err := engine.PackPreInteraction(engine.Interaction{
		Order:        order,
		MakingAmount: uint256.NewInt(1e18),
		TakingAmount: uint256.NewInt(1e18),
		ExtraData:    loose.Encode(),
	})
	require.NoError(t, err)

	reg, err := c.Registry()
	require.NoError(t, err)
	contract := &engine.Contract{Kind: extension.KindGasSponsored, Registry: reg}
	_, err = contract.Run(context.Background(), pre)
	require.ErrorIs(t, err, extension.ErrMalformedPayload)
	require.ErrorIs(t, err, extension.ErrInvalidSettlementConfig)

	// the default registry still accepts it and fails later for want of a loan source
	_, err = (&engine.Contract{Kind: extension.KindGasSponsored}).Run(context.Background(), pre)
	require.ErrorIs(t, err, extension.ErrLoanSourcingFailed)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "targets: [:"},
		{"unknown strategy", "targets:\n  twap: \"0x0000000000000000000000000000000000001111\""},
		{"bad address", "targets:\n  auction: \"0x12\""},
		{"zero address", "targets:\n  auction: \"0x0000000000000000000000000000000000000000\""},
		{"shared target", "targets:\n  auction: \"0x0000000000000000000000000000000000001111\"\n  range: \"0x0000000000000000000000000000000000001111\""},
		{"loan fee above 100%", "settlement:\n  loan_fee_bps: 10001"},
		{"taker cap above 100%", "settlement:\n  max_taker_fee_bps: 10001"},
		{"zero ttl", "oracle:\n  ttl: 0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orderext.yaml")
	require.NoError(t, os.WriteFile(path, []byte("oracle:\n  ttl: 1h\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, time.Hour, c.Oracle.TTL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
