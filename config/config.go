// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads deployment settings: the hook target of every
// strategy kind and the policy values the strategies are validated against.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"gopkg.in/yaml.v3"

	_ "github.com/luxfi/orderext/auction"
	"github.com/luxfi/orderext/extension"
	"github.com/luxfi/orderext/oracle"
	_ "github.com/luxfi/orderext/rangeprice"
	"github.com/luxfi/orderext/registry"
	"github.com/luxfi/orderext/settlement"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the YAML configuration of a deployment
type Config struct {
	// Targets maps strategy config keys to hook target addresses
	Targets map[string]string `yaml:"targets"`

	Settlement struct {
		LoanFeeBps     uint64 `yaml:"loan_fee_bps"`
		MaxTakerFeeBps uint64 `yaml:"max_taker_fee_bps"`
	} `yaml:"settlement"`

	Oracle struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"oracle"`
}

// Default returns the registered default targets and policy values
func Default() *Config {
	c := &Config{Targets: make(map[string]string)}
	for _, m := range registry.Default().Modules() {
		if m.DefaultTarget != (common.Address{}) {
			c.Targets[m.ConfigKey] = m.DefaultTarget.Hex()
		}
	}
	c.Settlement.LoanFeeBps = settlement.DefaultLoanFeeBps
	c.Settlement.MaxTakerFeeBps = settlement.DefaultMaxTakerFeeBps
	c.Oracle.TTL = oracle.DefaultTTL
	return c
}

// Load reads and verifies the configuration file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse overlays data on the defaults and verifies the result
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Verify(); err != nil {
		return nil, err
	}
	return c, nil
}

// Verify checks every target and policy value
func (c *Config) Verify() error {
	keys := make([]string, 0, len(c.Targets))
	for key := range c.Targets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	seen := make(map[common.Address]string, len(keys))
	for _, key := range keys {
		if _, ok := registry.Default().ModuleByKey(key); !ok {
			return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, key)
		}
		addr := c.Targets[key]
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %s target %q is not an address", ErrInvalidConfig, key, addr)
		}
		target := common.HexToAddress(addr)
		if target == (common.Address{}) {
			return fmt.Errorf("%w: %s target is the zero address", ErrInvalidConfig, key)
		}
		if other, ok := seen[target]; ok {
			return fmt.Errorf("%w: %s and %s share target %s", ErrInvalidConfig, other, key, target)
		}
		seen[target] = key
	}

	if c.Settlement.LoanFeeBps > settlement.BpsDenominator {
		return fmt.Errorf("%w: loan fee %d bps above %d", ErrInvalidConfig, c.Settlement.LoanFeeBps, settlement.BpsDenominator)
	}
	if err := c.SettlementPolicy().Verify(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Oracle.TTL < time.Second {
		return fmt.Errorf("%w: oracle ttl %s", ErrInvalidConfig, c.Oracle.TTL)
	}
	return nil
}

// ExtensionTargets resolves the configured targets to strategy kinds
func (c *Config) ExtensionTargets() (extension.Targets, error) {
	targets := make(extension.Targets, len(c.Targets))
	for key, addr := range c.Targets {
		m, ok := registry.Default().ModuleByKey(key)
		if !ok {
			return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, key)
		}
		targets[m.Kind] = common.HexToAddress(addr)
	}
	return targets, nil
}

// SettlementPolicy is the policy settlement payloads are decoded against
func (c *Config) SettlementPolicy() settlement.Policy {
	return settlement.Policy{MaxTakerFeeBps: c.Settlement.MaxTakerFeeBps}
}

// Registry is the default registry with settlement payloads decoded against
// the configured policy
func (c *Config) Registry() (*registry.Registry, error) {
	return registry.Default().Override(extension.KindGasSponsored, settlement.Decoder(c.SettlementPolicy()))
}

// GasSponsored builds a settlement charging the configured loan fee, validated
// against the configured policy
func (c *Config) GasSponsored(takerFeeBps uint64, gasStipend *uint256.Int, asset common.Address) (*settlement.GasSponsored, error) {
	return settlement.NewWithPolicy(settlement.Params{
		TakerFeeBps:     takerFeeBps,
		GasStipend:      gasStipend,
		LoanFeeBps:      c.Settlement.LoanFeeBps,
		SettlementAsset: asset,
	}, c.SettlementPolicy())
}

// OracleStrategy applies the configured TTL to o
func (c *Config) OracleStrategy(o *oracle.Oracle) (*oracle.Oracle, error) {
	return o.WithTTL(c.Oracle.TTL)
}
