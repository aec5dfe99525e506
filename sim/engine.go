// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/orderext/engine"
	"github.com/luxfi/orderext/extension"
	"github.com/luxfi/orderext/registry"
)

// FillRequest is what a taker asks of an order
type FillRequest struct {
	Taker common.Address
	// Amount is a making amount when IsMakingAmount is set, a taking amount otherwise
	Amount         *uint256.Int
	IsMakingAmount bool
	// Threshold, when set, caps the taking amount of a making fill and floors
	// the making amount of a taking fill
	Threshold *uint256.Int
}

// Receipt describes a completed fill
type Receipt struct {
	OrderHash             common.Hash
	MakingAmount          *uint256.Int
	TakingAmount          *uint256.Int
	RemainingMakingAmount *uint256.Int
}

// OrderHash identifies an order by the keccak256 of its words
func OrderHash(o extension.Order) common.Hash {
	words := []*uint256.Int{
		o.Salt,
		new(uint256.Int).SetBytes(o.Maker.Bytes()),
		new(uint256.Int).SetBytes(o.Receiver.Bytes()),
		new(uint256.Int).SetBytes(o.MakerAsset.Bytes()),
		new(uint256.Int).SetBytes(o.TakerAsset.Bytes()),
		o.MakingAmount,
		o.TakingAmount,
		o.MakerTraits,
	}
	w := extension.NewWriter(len(words) * extension.WordSize)
	for _, word := range words {
		if word == nil {
			word = new(uint256.Int)
		}
		w.Word(word)
	}
	return common.BytesToHash(crypto.Keccak256(w.Bytes()))
}

// Engine fills orders against a ledger, calling hook targets through their
// ABI. A failed fill leaves the ledger as it was.
type Engine struct {
	ledger   *Ledger
	targets  extension.Targets
	env      *extension.Env
	registry *registry.Registry
	log      log.Logger

	mu        sync.Mutex
	timestamp uint64
	gasPrice  *uint256.Int
	contracts map[common.Address]*engine.Contract
}

// NewEngine fills against ledger; hooks resolve targets to kinds through
// targets and see env as their collaborators
func NewEngine(ledger *Ledger, targets extension.Targets, env *extension.Env, logger log.Logger) *Engine {
	return &Engine{
		ledger:    ledger,
		targets:   targets,
		env:       env,
		registry:  registry.Default(),
		log:       logger,
		gasPrice:  new(uint256.Int),
		contracts: make(map[common.Address]*engine.Contract),
	}
}

// SetRegistry decodes hook payloads through r from the next fill on
func (e *Engine) SetRegistry(r *registry.Registry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry = r
	e.contracts = make(map[common.Address]*engine.Contract)
}

// SetBlock sets what hooks observe as the current block
func (e *Engine) SetBlock(timestamp uint64, gasPrice *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timestamp = timestamp
	e.gasPrice = new(uint256.Int).Set(gasPrice)
}

func (e *Engine) Timestamp() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timestamp
}

func (e *Engine) GasPrice() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Set(e.gasPrice)
}

// Remaining is the unfilled making amount of order
func (e *Engine) Remaining(order extension.Order) (*uint256.Int, error) {
	return e.remaining(OrderHash(order), order)
}

// Fill executes one fill of order. blob must be the extension the order
// commits to; nil means no extension.
func (e *Engine) Fill(ctx context.Context, order extension.Order, blob *extension.Blob, req FillRequest) (*Receipt, error) {
	if blob == nil {
		blob = extension.MustCompose(nil)
	}
	hash := OrderHash(order)
	snap := e.ledger.Snapshot()

	receipt, err := e.fill(ctx, hash, order, blob, req)
	if err != nil {
		if entry, ok := blob.Entry(extension.HookPreInteraction); ok {
			if c, cerr := e.contract(entry.Target); cerr == nil {
				c.Abort(hash)
			}
		}
		if rerr := e.ledger.RevertToSnapshot(snap); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		e.log.Warn("fill reverted", "orderHash", hash, "taker", req.Taker, "err", err)
		return nil, err
	}

	e.log.Info("order filled",
		"orderHash", hash,
		"taker", req.Taker,
		"making", receipt.MakingAmount.Dec(),
		"taking", receipt.TakingAmount.Dec(),
		"remaining", receipt.RemainingMakingAmount.Dec(),
	)
	return receipt, nil
}

func (e *Engine) fill(ctx context.Context, hash common.Hash, order extension.Order, blob *extension.Blob, req FillRequest) (*Receipt, error) {
	if err := blob.Verify(order); err != nil {
		return nil, err
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return nil, ErrZeroFill
	}
	remaining, err := e.remaining(hash, order)
	if err != nil {
		return nil, err
	}
	if remaining.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrOrderFilled, hash)
	}

	q := engine.AmountQuery{
		Order:                 order,
		Extension:             blob.Bytes(),
		OrderHash:             hash,
		Taker:                 req.Taker,
		RemainingMakingAmount: remaining,
	}

	var making, taking *uint256.Int
	if req.IsMakingAmount {
		making = min256(req.Amount, remaining)
		if taking, err = e.takingAmount(ctx, blob, q, making); err != nil {
			return nil, err
		}
		if req.Threshold != nil && taking.Gt(req.Threshold) {
			return nil, fmt.Errorf("%w: taking %s above %s", ErrThreshold, taking.Dec(), req.Threshold.Dec())
		}
	} else {
		taking = new(uint256.Int).Set(req.Amount)
		if making, err = e.makingAmount(ctx, blob, q, taking); err != nil {
			return nil, err
		}
		if making.Gt(remaining) {
			making = remaining
			if taking, err = e.takingAmount(ctx, blob, q, making); err != nil {
				return nil, err
			}
		}
		if req.Threshold != nil && making.Lt(req.Threshold) {
			return nil, fmt.Errorf("%w: making %s below %s", ErrThreshold, making.Dec(), req.Threshold.Dec())
		}
	}
	if making.IsZero() {
		return nil, ErrZeroFill
	}

	call := engine.Interaction{
		Order:                 order,
		Extension:             q.Extension,
		OrderHash:             hash,
		Taker:                 req.Taker,
		MakingAmount:          making,
		TakingAmount:          taking,
		RemainingMakingAmount: remaining,
	}

	// funds move through the pre-interaction target when one settles for the taker
	payer := req.Taker
	if entry, ok := blob.Entry(extension.HookPreInteraction); ok {
		payer = entry.Target
		call.ExtraData = entry.Payload
		input, err := engine.PackPreInteraction(call)
		if err != nil {
			return nil, err
		}
		if _, err := e.call(ctx, entry.Target, input); err != nil {
			return nil, err
		}
	}

	receiver := order.Receiver
	if receiver == (common.Address{}) {
		receiver = order.Maker
	}
	if err := e.ledger.Transfer(order.MakerAsset, order.Maker, payer, making); err != nil {
		return nil, fmt.Errorf("maker transfer: %w", err)
	}
	if err := e.ledger.Transfer(order.TakerAsset, payer, receiver, taking); err != nil {
		return nil, fmt.Errorf("taker transfer: %w", err)
	}

	if entry, ok := blob.Entry(extension.HookPostInteraction); ok {
		call.ExtraData = entry.Payload
		input, err := engine.PackPostInteraction(call)
		if err != nil {
			return nil, err
		}
		if _, err := e.call(ctx, entry.Target, input); err != nil {
			return nil, err
		}
	}

	left := new(uint256.Int).Sub(remaining, making)
	word := left.Bytes32()
	if err := e.ledger.Put(makeStorageKey(prefixRemaining, hash[:]), word[:]); err != nil {
		return nil, err
	}
	return &Receipt{
		OrderHash:             hash,
		MakingAmount:          making,
		TakingAmount:          taking,
		RemainingMakingAmount: left,
	}, nil
}

// takingAmount asks the TakerAmount hook, or prices proportionally rounding up
func (e *Engine) takingAmount(ctx context.Context, blob *extension.Blob, q engine.AmountQuery, making *uint256.Int) (*uint256.Int, error) {
	entry, ok := blob.Entry(extension.HookTakerAmount)
	if !ok {
		return mulDivUp(q.Order.TakingAmount, making, q.Order.MakingAmount)
	}
	q.Amount, q.ExtraData = making, entry.Payload
	input, err := engine.PackGetTakingAmount(q)
	if err != nil {
		return nil, err
	}
	ret, err := e.call(ctx, entry.Target, input)
	if err != nil {
		return nil, err
	}
	return engine.UnpackAmount(engine.MethodGetTakingAmount, ret)
}

// makingAmount asks the MakerAmount hook, or prices proportionally rounding down
func (e *Engine) makingAmount(ctx context.Context, blob *extension.Blob, q engine.AmountQuery, taking *uint256.Int) (*uint256.Int, error) {
	entry, ok := blob.Entry(extension.HookMakerAmount)
	if !ok {
		return extension.MulDiv(q.Order.MakingAmount, taking, q.Order.TakingAmount)
	}
	q.Amount, q.ExtraData = taking, entry.Payload
	input, err := engine.PackGetMakingAmount(q)
	if err != nil {
		return nil, err
	}
	ret, err := e.call(ctx, entry.Target, input)
	if err != nil {
		return nil, err
	}
	return engine.UnpackAmount(engine.MethodGetMakingAmount, ret)
}

func (e *Engine) call(ctx context.Context, target common.Address, input []byte) ([]byte, error) {
	c, err := e.contract(target)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, input)
}

// contract returns the contract serving target, created on first use
func (e *Engine) contract(target common.Address) (*engine.Contract, error) {
	kind, ok := e.targets.KindOf(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnboundTarget, target)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.contracts[target]
	if !ok {
		c = &engine.Contract{Kind: kind, Env: e.env, Registry: e.registry, Block: e}
		e.contracts[target] = c
	}
	return c, nil
}

func (e *Engine) remaining(hash common.Hash, order extension.Order) (*uint256.Int, error) {
	v, err := e.ledger.Get(makeStorageKey(prefixRemaining, hash[:]))
	if err != nil {
		return nil, err
	}
	if v == nil {
		if order.MakingAmount == nil {
			return new(uint256.Int), nil
		}
		return new(uint256.Int).Set(order.MakingAmount), nil
	}
	return new(uint256.Int).SetBytes(v), nil
}

func min256(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

func mulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	q, err := extension.MulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		return extension.Add(q, uint256.NewInt(1))
	}
	return q, nil
}
