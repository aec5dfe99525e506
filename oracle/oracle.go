// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle converts amounts through one or two external price feeds
// with a maker-chosen spread.
package oracle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/orderext/extension"
	"github.com/luxfi/orderext/registry"
	"github.com/luxfi/orderext/units"
)

// Payload flags
const (
	FlagInverse byte = 0x80
	FlagDouble  byte = 0x40
)

const (
	// SinglePayloadSize is flags || oracle || spread
	SinglePayloadSize = 1 + extension.AddressSize + extension.WordSize
	// DoublePayloadSize is flags || oracle1 || oracle2 || decimalsScale || spread
	DoublePayloadSize = 1 + 2*extension.AddressSize + 2*extension.WordSize

	// DefaultTTL is how old a feed answer may be before it is rejected
	DefaultTTL = 4 * time.Hour
)

// SpreadDenominator is the neutral spread (parts per billion)
var SpreadDenominator = uint256.NewInt(1e9)

func init() {
	registry.MustRegister(registry.Module{
		Kind:          extension.KindOracle,
		ConfigKey:     extension.KindOracle.String(),
		Hooks:         extension.FlagsAmount,
		Decode:        decodeStrategy,
		DefaultTarget: common.HexToAddress(registry.OracleAddress),
	})
}

var (
	_ extension.Strategy     = (*Oracle)(nil)
	_ extension.AmountGetter = (*Oracle)(nil)
)

// Oracle is a validated single or double oracle conversion. Immutable.
type Oracle struct {
	double  bool
	inverse bool
	oracle1 common.Address
	oracle2 common.Address
	scale   int64
	spread  *uint256.Int
	ttl     time.Duration
}

// NewSingle converts through one feed: amount*price, or amount/price if inverse
func NewSingle(oracle common.Address, spread *uint256.Int, inverse bool) (*Oracle, error) {
	if oracle == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero oracle address", extension.ErrInvalidOracleConfig)
	}
	if err := checkSpread(spread); err != nil {
		return nil, err
	}
	return &Oracle{
		inverse: inverse,
		oracle1: oracle,
		spread:  new(uint256.Int).Set(spread),
		ttl:     DefaultTTL,
	}, nil
}

// NewDouble converts through a ratio of two feeds sharing decimals,
// rescaled by 10^scale
func NewDouble(oracle1, oracle2 common.Address, scale int64, spread *uint256.Int) (*Oracle, error) {
	if oracle1 == (common.Address{}) || oracle2 == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero oracle address", extension.ErrInvalidOracleConfig)
	}
	if oracle1 == oracle2 {
		return nil, fmt.Errorf("%w: identical oracles %s", extension.ErrInvalidOracleConfig, oracle1)
	}
	if scale > extension.MaxDecimalsExponent || scale < -extension.MaxDecimalsExponent {
		return nil, fmt.Errorf("%w: decimals scale %d out of range", extension.ErrInvalidOracleConfig, scale)
	}
	if err := checkSpread(spread); err != nil {
		return nil, err
	}
	return &Oracle{
		double:  true,
		oracle1: oracle1,
		oracle2: oracle2,
		scale:   scale,
		spread:  new(uint256.Int).Set(spread),
		ttl:     DefaultTTL,
	}, nil
}

func checkSpread(spread *uint256.Int) error {
	if spread == nil || spread.IsZero() {
		return fmt.Errorf("%w: zero spread", extension.ErrInvalidOracleConfig)
	}
	return nil
}

// ParseSingle builds a single-oracle conversion from text
func ParseSingle(id, spread string, inverse bool) (*Oracle, error) {
	addr, err := parseAddress(id)
	if err != nil {
		return nil, err
	}
	s, err := parseSpread(spread)
	if err != nil {
		return nil, err
	}
	return NewSingle(addr, s, inverse)
}

// ParseDouble builds a double-oracle conversion from text
func ParseDouble(id1, id2, scale, spread string) (*Oracle, error) {
	addr1, err := parseAddress(id1)
	if err != nil {
		return nil, err
	}
	addr2, err := parseAddress(id2)
	if err != nil {
		return nil, err
	}
	sc, err := strconv.ParseInt(strings.TrimSpace(scale), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: decimals scale %q", extension.ErrInvalidOracleConfig, scale)
	}
	s, err := parseSpread(spread)
	if err != nil {
		return nil, err
	}
	return NewDouble(addr1, addr2, sc, s)
}

func parseAddress(id string) (common.Address, error) {
	id = strings.TrimSpace(id)
	if !common.IsHexAddress(id) {
		return common.Address{}, fmt.Errorf("%w: oracle id %q is not a hex address", extension.ErrInvalidOracleConfig, id)
	}
	return common.HexToAddress(id), nil
}

func parseSpread(s string) (*uint256.Int, error) {
	v, err := units.ParseSpread(s)
	if err != nil {
		return nil, fmt.Errorf("%w: spread: %w", extension.ErrInvalidOracleConfig, err)
	}
	return v, nil
}

// WithTTL returns a copy that accepts answers up to ttl old
func (o *Oracle) WithTTL(ttl time.Duration) (*Oracle, error) {
	if ttl < time.Second {
		return nil, fmt.Errorf("%w: ttl %s below one second", extension.ErrInvalidOracleConfig, ttl)
	}
	cp := *o
	cp.ttl = ttl
	return &cp, nil
}

func (o *Oracle) Kind() extension.Kind { return extension.KindOracle }

func (o *Oracle) Hooks() extension.HookFlags { return extension.FlagsAmount }

func (o *Oracle) Payload(extension.HookType) []byte { return o.Encode() }

func (o *Oracle) IsDouble() bool { return o.double }

func (o *Oracle) IsInverse() bool { return o.inverse }

// Oracles returns the feed addresses; the second is zero in single mode
func (o *Oracle) Oracles() (common.Address, common.Address) { return o.oracle1, o.oracle2 }

func (o *Oracle) Scale() int64 { return o.scale }

func (o *Oracle) Spread() *uint256.Int { return new(uint256.Int).Set(o.spread) }

func (o *Oracle) TTL() time.Duration { return o.ttl }

// =========================================================================
// Conversion
// =========================================================================

// TakingAmount converts the making amount into taker units
func (o *Oracle) TakingAmount(ctx context.Context, env *extension.Env, fill *extension.Fill, makingAmount *uint256.Int) (*uint256.Int, error) {
	return o.Convert(ctx, env, fill.Timestamp, makingAmount)
}

// MakingAmount applies the same conversion to the taking amount
func (o *Oracle) MakingAmount(ctx context.Context, env *extension.Env, fill *extension.Fill, takingAmount *uint256.Int) (*uint256.Int, error) {
	return o.Convert(ctx, env, fill.Timestamp, takingAmount)
}

// Convert reads the feeds at now and applies the spread to amount
func (o *Oracle) Convert(ctx context.Context, env *extension.Env, now uint64, amount *uint256.Int) (*uint256.Int, error) {
	if env == nil || env.Feed == nil {
		return nil, fmt.Errorf("%w: price feed", extension.ErrMissingCollaborator)
	}
	if o.double {
		return o.convertDouble(ctx, env.Feed, now, amount)
	}
	return o.convertSingle(ctx, env.Feed, now, amount)
}

func (o *Oracle) convertSingle(ctx context.Context, feed extension.PriceFeed, now uint64, amount *uint256.Int) (*uint256.Int, error) {
	price, err := o.latest(ctx, feed, o.oracle1, now)
	if err != nil {
		return nil, err
	}
	decimals, err := feed.Decimals(ctx, o.oracle1)
	if err != nil {
		return nil, err
	}
	unit, err := extension.Pow10(uint(decimals))
	if err != nil {
		return nil, err
	}

	result, err := extension.Mul(amount, o.spread)
	if err != nil {
		return nil, err
	}
	if o.inverse {
		// amount*spread*10^dec/price/1e9
		if result, err = extension.Mul(result, unit); err != nil {
			return nil, err
		}
		result.Div(result, price)
	} else {
		// amount*spread*price/10^dec/1e9
		if result, err = extension.Mul(result, price); err != nil {
			return nil, err
		}
		result.Div(result, unit)
	}
	return result.Div(result, SpreadDenominator), nil
}

func (o *Oracle) convertDouble(ctx context.Context, feed extension.PriceFeed, now uint64, amount *uint256.Int) (*uint256.Int, error) {
	dec1, err := feed.Decimals(ctx, o.oracle1)
	if err != nil {
		return nil, err
	}
	dec2, err := feed.Decimals(ctx, o.oracle2)
	if err != nil {
		return nil, err
	}
	if dec1 != dec2 {
		return nil, fmt.Errorf("%w: %d != %d", extension.ErrDifferentOracleDecimals, dec1, dec2)
	}

	p1, err := o.latest(ctx, feed, o.oracle1, now)
	if err != nil {
		return nil, err
	}
	result, err := extension.Mul(amount, o.spread)
	if err != nil {
		return nil, err
	}
	if result, err = extension.Mul(result, p1); err != nil {
		return nil, err
	}

	switch {
	case o.scale > 0:
		unit, err := extension.Pow10(uint(o.scale))
		if err != nil {
			return nil, err
		}
		if result, err = extension.Mul(result, unit); err != nil {
			return nil, err
		}
	case o.scale < 0:
		unit, err := extension.Pow10(uint(-o.scale))
		if err != nil {
			return nil, err
		}
		result.Div(result, unit)
	}

	p2, err := o.latest(ctx, feed, o.oracle2, now)
	if err != nil {
		return nil, err
	}
	result.Div(result, p2)
	return result.Div(result, SpreadDenominator), nil
}

// latest returns a fresh positive answer of the feed
func (o *Oracle) latest(ctx context.Context, feed extension.PriceFeed, oracle common.Address, now uint64) (*uint256.Int, error) {
	answer, updatedAt, err := feed.LatestPrice(ctx, oracle)
	if err != nil {
		return nil, err
	}
	// answers are signed
	if answer == nil || answer.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", extension.ErrInvalidOraclePrice, oracle)
	}
	if now > updatedAt && now-updatedAt > uint64(o.ttl/time.Second) {
		return nil, fmt.Errorf("%w: %s updated at %d, now %d", extension.ErrStaleOraclePrice, oracle, updatedAt, now)
	}
	return answer, nil
}

func decodeStrategy(b []byte) (extension.Strategy, error) {
	o, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// =========================================================================
// Codec
// =========================================================================

// Encode serializes the single or double layout
func (o *Oracle) Encode() []byte {
	if o.double {
		return extension.NewWriter(DoublePayloadSize).
			Byte(FlagDouble).
			Address(o.oracle1).
			Address(o.oracle2).
			Int64(o.scale).
			Word(o.spread).
			Bytes()
	}
	var flags byte
	if o.inverse {
		flags |= FlagInverse
	}
	return extension.NewWriter(SinglePayloadSize).
		Byte(flags).
		Address(o.oracle1).
		Word(o.spread).
		Bytes()
}

// Decode parses and validates an oracle payload
func Decode(b []byte) (*Oracle, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty oracle payload", extension.ErrMalformedPayload)
	}

	r := extension.NewReader(b)
	flags := r.Byte()

	var (
		o   *Oracle
		err error
	)
	switch flags {
	case FlagDouble:
		if len(b) != DoublePayloadSize {
			return nil, fmt.Errorf("%w: double oracle payload is %d bytes, want %d", extension.ErrMalformedPayload, len(b), DoublePayloadSize)
		}
		oracle1 := r.Address()
		oracle2 := r.Address()
		scale := r.Int64()
		spread := r.Word()
		if err := r.Close(); err != nil {
			return nil, err
		}
		o, err = NewDouble(oracle1, oracle2, scale, spread)
	case 0, FlagInverse:
		if len(b) != SinglePayloadSize {
			return nil, fmt.Errorf("%w: oracle payload is %d bytes, want %d", extension.ErrMalformedPayload, len(b), SinglePayloadSize)
		}
		oracle := r.Address()
		spread := r.Word()
		if err := r.Close(); err != nil {
			return nil, err
		}
		o, err = NewSingle(oracle, spread, flags == FlagInverse)
	default:
		return nil, fmt.Errorf("%w: unknown oracle flags %#x", extension.ErrMalformedPayload, flags)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", extension.ErrMalformedPayload, err)
	}
	return o, nil
}
