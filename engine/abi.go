// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/orderext/extension"
)

// Methods the matching engine calls on a hook target
const (
	MethodGetMakingAmount = "getMakingAmount"
	MethodGetTakingAmount = "getTakingAmount"
	MethodPreInteraction  = "preInteraction"
	MethodPostInteraction = "postInteraction"
)

// Addresses travel as uint256 inside the order tuple
const orderTuple = `{"name":"order","type":"tuple","components":[
	{"name":"salt","type":"uint256"},
	{"name":"maker","type":"uint256"},
	{"name":"receiver","type":"uint256"},
	{"name":"makerAsset","type":"uint256"},
	{"name":"takerAsset","type":"uint256"},
	{"name":"makingAmount","type":"uint256"},
	{"name":"takingAmount","type":"uint256"},
	{"name":"makerTraits","type":"uint256"}]}`

const rawABI = `[
{"type":"function","name":"getMakingAmount","stateMutability":"view","inputs":[` + orderTuple + `,
	{"name":"extension","type":"bytes"},
	{"name":"orderHash","type":"bytes32"},
	{"name":"taker","type":"address"},
	{"name":"takingAmount","type":"uint256"},
	{"name":"remainingMakingAmount","type":"uint256"},
	{"name":"extraData","type":"bytes"}],
	"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getTakingAmount","stateMutability":"view","inputs":[` + orderTuple + `,
	{"name":"extension","type":"bytes"},
	{"name":"orderHash","type":"bytes32"},
	{"name":"taker","type":"address"},
	{"name":"makingAmount","type":"uint256"},
	{"name":"remainingMakingAmount","type":"uint256"},
	{"name":"extraData","type":"bytes"}],
	"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"preInteraction","stateMutability":"nonpayable","inputs":[` + orderTuple + `,
	{"name":"extension","type":"bytes"},
	{"name":"orderHash","type":"bytes32"},
	{"name":"taker","type":"address"},
	{"name":"makingAmount","type":"uint256"},
	{"name":"takingAmount","type":"uint256"},
	{"name":"remainingMakingAmount","type":"uint256"},
	{"name":"extraData","type":"bytes"}],
	"outputs":[]},
{"type":"function","name":"postInteraction","stateMutability":"nonpayable","inputs":[` + orderTuple + `,
	{"name":"extension","type":"bytes"},
	{"name":"orderHash","type":"bytes32"},
	{"name":"taker","type":"address"},
	{"name":"makingAmount","type":"uint256"},
	{"name":"takingAmount","type":"uint256"},
	{"name":"remainingMakingAmount","type":"uint256"},
	{"name":"extraData","type":"bytes"}],
	"outputs":[]}
]`

// ABI of the hook calls
var ABI = mustParseABI(rawABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("engine: hook ABI: %v", err))
	}
	return parsed
}

// hookMethod looks up one of the four hook calls
func hookMethod(name string) (abi.Method, error) {
	method, ok := ABI.Methods[name]
	if !ok {
		return abi.Method{}, fmt.Errorf("%w: %s", extension.ErrUnknownSelector, name)
	}
	return method, nil
}

// abiOrder mirrors the order tuple; field names follow the component names
type abiOrder struct {
	Salt         *big.Int
	Maker        *big.Int
	Receiver     *big.Int
	MakerAsset   *big.Int
	TakerAsset   *big.Int
	MakingAmount *big.Int
	TakingAmount *big.Int
	MakerTraits  *big.Int
}

// AmountQuery is the argument list of getMakingAmount and getTakingAmount.
// Amount is the known side: taking for getMakingAmount, making for getTakingAmount.
type AmountQuery struct {
	Order                 extension.Order
	Extension             []byte
	OrderHash             common.Hash
	Taker                 common.Address
	Amount                *uint256.Int
	RemainingMakingAmount *uint256.Int
	ExtraData             []byte
}

// Fill is the fill context the query describes
func (q *AmountQuery) Fill() *extension.Fill {
	return &extension.Fill{
		Order:                 q.Order,
		OrderHash:             q.OrderHash,
		Taker:                 q.Taker,
		RemainingMakingAmount: q.RemainingMakingAmount,
	}
}

// Interaction is the argument list of preInteraction and postInteraction
type Interaction struct {
	Order                 extension.Order
	Extension             []byte
	OrderHash             common.Hash
	Taker                 common.Address
	MakingAmount          *uint256.Int
	TakingAmount          *uint256.Int
	RemainingMakingAmount *uint256.Int
	ExtraData             []byte
}

// Fill is the fill context the interaction describes
func (c *Interaction) Fill() *extension.Fill {
	return &extension.Fill{
		Order:                 c.Order,
		OrderHash:             c.OrderHash,
		Taker:                 c.Taker,
		MakingAmount:          c.MakingAmount,
		TakingAmount:          c.TakingAmount,
		RemainingMakingAmount: c.RemainingMakingAmount,
	}
}

// PackGetMakingAmount packs a getMakingAmount call, method ID included
func PackGetMakingAmount(q AmountQuery) ([]byte, error) {
	return packQuery(MethodGetMakingAmount, q)
}

// PackGetTakingAmount packs a getTakingAmount call, method ID included
func PackGetTakingAmount(q AmountQuery) ([]byte, error) {
	return packQuery(MethodGetTakingAmount, q)
}

// PackPreInteraction packs a preInteraction call, method ID included
func PackPreInteraction(c Interaction) ([]byte, error) {
	return packInteraction(MethodPreInteraction, c)
}

// PackPostInteraction packs a postInteraction call, method ID included
func PackPostInteraction(c Interaction) ([]byte, error) {
	return packInteraction(MethodPostInteraction, c)
}

// UnpackGetMakingAmount decodes getMakingAmount arguments, method ID excluded
func UnpackGetMakingAmount(data []byte) (AmountQuery, error) {
	return unpackQuery(MethodGetMakingAmount, data)
}

// UnpackGetTakingAmount decodes getTakingAmount arguments, method ID excluded
func UnpackGetTakingAmount(data []byte) (AmountQuery, error) {
	return unpackQuery(MethodGetTakingAmount, data)
}

// UnpackPreInteraction decodes preInteraction arguments, method ID excluded
func UnpackPreInteraction(data []byte) (Interaction, error) {
	return unpackInteraction(MethodPreInteraction, data)
}

// UnpackPostInteraction decodes postInteraction arguments, method ID excluded
func UnpackPostInteraction(data []byte) (Interaction, error) {
	return unpackInteraction(MethodPostInteraction, data)
}

// PackAmount packs the uint256 returned by an amount getter
func PackAmount(method string, amount *uint256.Int) ([]byte, error) {
	m, err := hookMethod(method)
	if err != nil {
		return nil, err
	}
	return m.Outputs.Pack(toBig(amount))
}

// UnpackAmount decodes the uint256 returned by an amount getter
func UnpackAmount(method string, ret []byte) (*uint256.Int, error) {
	out, err := ABI.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", extension.ErrMalformedPayload, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", extension.ErrMalformedPayload, method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", extension.ErrMalformedPayload, method, out[0])
	}
	return fromBig(v)
}

func packQuery(method string, q AmountQuery) ([]byte, error) {
	return ABI.Pack(method,
		encodeOrder(q.Order),
		nonNil(q.Extension),
		[32]byte(q.OrderHash),
		q.Taker,
		toBig(q.Amount),
		toBig(q.RemainingMakingAmount),
		nonNil(q.ExtraData),
	)
}

func packInteraction(method string, c Interaction) ([]byte, error) {
	return ABI.Pack(method,
		encodeOrder(c.Order),
		nonNil(c.Extension),
		[32]byte(c.OrderHash),
		c.Taker,
		toBig(c.MakingAmount),
		toBig(c.TakingAmount),
		toBig(c.RemainingMakingAmount),
		nonNil(c.ExtraData),
	)
}

func unpackQuery(method string, data []byte) (AmountQuery, error) {
	args, err := unpackArgs(method, data, 7)
	if err != nil {
		return AmountQuery{}, err
	}
	var q AmountQuery
	if q.Order, err = args.order(0); err != nil {
		return AmountQuery{}, err
	}
	q.Extension = args.bytes(1)
	q.OrderHash = args.hash(2)
	q.Taker = args.address(3)
	if q.Amount, err = args.word(4); err != nil {
		return AmountQuery{}, err
	}
	if q.RemainingMakingAmount, err = args.word(5); err != nil {
		return AmountQuery{}, err
	}
	q.ExtraData = args.bytes(6)
	return q, args.err
}

func unpackInteraction(method string, data []byte) (Interaction, error) {
	args, err := unpackArgs(method, data, 8)
	if err != nil {
		return Interaction{}, err
	}
	var c Interaction
	if c.Order, err = args.order(0); err != nil {
		return Interaction{}, err
	}
	c.Extension = args.bytes(1)
	c.OrderHash = args.hash(2)
	c.Taker = args.address(3)
	if c.MakingAmount, err = args.word(4); err != nil {
		return Interaction{}, err
	}
	if c.TakingAmount, err = args.word(5); err != nil {
		return Interaction{}, err
	}
	if c.RemainingMakingAmount, err = args.word(6); err != nil {
		return Interaction{}, err
	}
	c.ExtraData = args.bytes(7)
	return c, args.err
}

// =========================================================================
// Argument conversion
// =========================================================================

type arguments struct {
	method string
	values []interface{}
	err    error
}

func unpackArgs(method string, data []byte, n int) (*arguments, error) {
	m, err := hookMethod(method)
	if err != nil {
		return nil, err
	}
	// calldata is a sequence of whole words
	if len(data)%extension.WordSize != 0 {
		return nil, fmt.Errorf("%w: %s calldata of %d bytes is not word aligned", extension.ErrMalformedPayload, method, len(data))
	}
	values, err := m.Inputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", extension.ErrMalformedPayload, err)
	}
	if len(values) != n {
		return nil, fmt.Errorf("%w: %s has %d arguments, want %d", extension.ErrMalformedPayload, method, len(values), n)
	}
	return &arguments{method: method, values: values}, nil
}

func (a *arguments) mismatch(i int, want string) {
	if a.err == nil {
		a.err = fmt.Errorf("%w: %s argument %d is %T, want %s", extension.ErrMalformedPayload, a.method, i, a.values[i], want)
	}
}

func (a *arguments) bytes(i int) []byte {
	v, ok := a.values[i].([]byte)
	if !ok {
		a.mismatch(i, "bytes")
	}
	return v
}

func (a *arguments) hash(i int) common.Hash {
	v, ok := a.values[i].([32]byte)
	if !ok {
		a.mismatch(i, "bytes32")
	}
	return common.Hash(v)
}

func (a *arguments) address(i int) common.Address {
	v, ok := a.values[i].(common.Address)
	if !ok {
		a.mismatch(i, "address")
	}
	return v
}

func (a *arguments) word(i int) (*uint256.Int, error) {
	v, ok := a.values[i].(*big.Int)
	if !ok {
		a.mismatch(i, "uint256")
		return new(uint256.Int), nil
	}
	return fromBig(v)
}

func (a *arguments) order(i int) (extension.Order, error) {
	o, ok := abi.ConvertType(a.values[i], new(abiOrder)).(*abiOrder)
	if !ok {
		return extension.Order{}, fmt.Errorf("%w: %s argument %d is not an order", extension.ErrMalformedPayload, a.method, i)
	}
	return decodeOrder(o)
}

func encodeOrder(o extension.Order) abiOrder {
	return abiOrder{
		Salt:         toBig(o.Salt),
		Maker:        new(big.Int).SetBytes(o.Maker.Bytes()),
		Receiver:     new(big.Int).SetBytes(o.Receiver.Bytes()),
		MakerAsset:   new(big.Int).SetBytes(o.MakerAsset.Bytes()),
		TakerAsset:   new(big.Int).SetBytes(o.TakerAsset.Bytes()),
		MakingAmount: toBig(o.MakingAmount),
		TakingAmount: toBig(o.TakingAmount),
		MakerTraits:  toBig(o.MakerTraits),
	}
}

func decodeOrder(o *abiOrder) (extension.Order, error) {
	var (
		order extension.Order
		err   error
	)
	if order.Salt, err = fromBig(o.Salt); err != nil {
		return order, err
	}
	if order.MakingAmount, err = fromBig(o.MakingAmount); err != nil {
		return order, err
	}
	if order.TakingAmount, err = fromBig(o.TakingAmount); err != nil {
		return order, err
	}
	if order.MakerTraits, err = fromBig(o.MakerTraits); err != nil {
		return order, err
	}
	for _, f := range []struct {
		dst *common.Address
		src *big.Int
	}{
		{&order.Maker, o.Maker},
		{&order.Receiver, o.Receiver},
		{&order.MakerAsset, o.MakerAsset},
		{&order.TakerAsset, o.TakerAsset},
	} {
		if f.src.BitLen() > 8*common.AddressLength {
			return order, fmt.Errorf("%w: order address word %#x exceeds 160 bits", extension.ErrMalformedPayload, f.src)
		}
		*f.dst = common.BigToAddress(f.src)
	}
	return order, nil
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	w, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s does not fit a uint256", extension.ErrArithmeticOverflow, v)
	}
	return w, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
