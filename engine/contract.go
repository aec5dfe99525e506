// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine implements the hook calling contract of the matching engine:
// calldata for getMakingAmount, getTakingAmount, preInteraction and
// postInteraction, and a Contract that dispatches those calls to a strategy.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/orderext/extension"
	"github.com/luxfi/orderext/registry"
)

// BlockContext supplies what the hooks observe from the execution environment
type BlockContext interface {
	Timestamp() uint64
	GasPrice() *uint256.Int
}

// StaticBlock is a fixed BlockContext
type StaticBlock struct {
	Time  uint64
	Price *uint256.Int
}

func (b StaticBlock) Timestamp() uint64 { return b.Time }

func (b StaticBlock) GasPrice() *uint256.Int { return b.Price }

// Contract serves the hook calls addressed to the target of one strategy kind.
// Interaction state is kept per order hash between pre and post.
type Contract struct {
	Kind extension.Kind
	Env  *extension.Env

	// Optional; registry.Default() and a zero block when unset
	Registry *registry.Registry
	Block    BlockContext

	mu      sync.Mutex
	pending map[common.Hash]*inflight
}

// inflight is the interaction state of one fill. sourcing is set while
// PreInteraction is still running.
type inflight struct {
	state    extension.InteractionState
	sourcing bool
}

// Run executes one hook call
func (c *Contract) Run(ctx context.Context, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("%w: input too short", extension.ErrUnknownSelector)
	}

	method, err := ABI.MethodById(input[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %#x", extension.ErrUnknownSelector, input[:4])
	}
	data := input[4:]

	switch method.Name {
	case MethodGetMakingAmount:
		return c.runGetMakingAmount(ctx, data)
	case MethodGetTakingAmount:
		return c.runGetTakingAmount(ctx, data)
	case MethodPreInteraction:
		return c.runPreInteraction(ctx, data)
	case MethodPostInteraction:
		return c.runPostInteraction(ctx, data)
	default:
		return nil, fmt.Errorf("%w: %s", extension.ErrUnknownSelector, method.Name)
	}
}

// Pending is the number of fills between pre and post
func (c *Contract) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Abort drops the interaction state of a fill that will not reach post
func (c *Contract) Abort(orderHash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, orderHash)
}

func (c *Contract) runGetMakingAmount(ctx context.Context, data []byte) ([]byte, error) {
	q, err := UnpackGetMakingAmount(data)
	if err != nil {
		return nil, err
	}
	getter, err := c.amountGetter(extension.HookMakerAmount, q.Order, q.Extension, q.ExtraData)
	if err != nil {
		return nil, err
	}
	amount, err := getter.MakingAmount(ctx, c.env(), c.observe(q.Fill()), q.Amount)
	if err != nil {
		return nil, err
	}
	return PackAmount(MethodGetMakingAmount, amount)
}

func (c *Contract) runGetTakingAmount(ctx context.Context, data []byte) ([]byte, error) {
	q, err := UnpackGetTakingAmount(data)
	if err != nil {
		return nil, err
	}
	getter, err := c.amountGetter(extension.HookTakerAmount, q.Order, q.Extension, q.ExtraData)
	if err != nil {
		return nil, err
	}
	amount, err := getter.TakingAmount(ctx, c.env(), c.observe(q.Fill()), q.Amount)
	if err != nil {
		return nil, err
	}
	return PackAmount(MethodGetTakingAmount, amount)
}

func (c *Contract) runPreInteraction(ctx context.Context, data []byte) ([]byte, error) {
	call, err := UnpackPreInteraction(data)
	if err != nil {
		return nil, err
	}
	interactor, err := c.interactor(extension.HookPreInteraction, call.Order, call.Extension, call.ExtraData)
	if err != nil {
		return nil, err
	}

	slot, err := c.claim(call.OrderHash)
	if err != nil {
		return nil, err
	}
	state, err := interactor.PreInteraction(ctx, c.env(), c.observe(call.Fill()))

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.pending[call.OrderHash] == slot {
			delete(c.pending, call.OrderHash)
		}
		return nil, err
	}
	slot.state = state
	slot.sourcing = false
	return nil, nil
}

// claim reserves the order hash before any side effect runs
func (c *Contract) claim(orderHash common.Hash) (*inflight, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.pending[orderHash]; busy {
		return nil, fmt.Errorf("%w: order %s already in flight", extension.ErrSequence, orderHash)
	}
	if c.pending == nil {
		c.pending = make(map[common.Hash]*inflight)
	}
	slot := &inflight{sourcing: true}
	c.pending[orderHash] = slot
	return slot, nil
}

func (c *Contract) runPostInteraction(ctx context.Context, data []byte) ([]byte, error) {
	call, err := UnpackPostInteraction(data)
	if err != nil {
		return nil, err
	}
	interactor, err := c.interactor(extension.HookPostInteraction, call.Order, call.Extension, call.ExtraData)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	slot, ok := c.pending[call.OrderHash]
	if ok && slot.sourcing {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: order %s still in pre", extension.ErrSequence, call.OrderHash)
	}
	delete(c.pending, call.OrderHash)
	c.mu.Unlock()

	var state extension.InteractionState
	if ok {
		state = slot.state
	}
	return nil, interactor.PostInteraction(ctx, c.env(), c.observe(call.Fill()), state)
}

func (c *Contract) amountGetter(hook extension.HookType, order extension.Order, ext, extraData []byte) (extension.AmountGetter, error) {
	s, err := c.strategy(hook, order, ext, extraData)
	if err != nil {
		return nil, err
	}
	getter, ok := s.(extension.AmountGetter)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not compute amounts", extension.ErrHookNotImplemented, s.Kind())
	}
	return getter, nil
}

func (c *Contract) interactor(hook extension.HookType, order extension.Order, ext, extraData []byte) (extension.Interactor, error) {
	s, err := c.strategy(hook, order, ext, extraData)
	if err != nil {
		return nil, err
	}
	interactor, ok := s.(extension.Interactor)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not interact", extension.ErrHookNotImplemented, s.Kind())
	}
	return interactor, nil
}

// strategy decodes extraData for the contract's kind. When the full extension
// is supplied it must be committed to by the order and carry extraData on hook.
func (c *Contract) strategy(hook extension.HookType, order extension.Order, ext, extraData []byte) (extension.Strategy, error) {
	if len(ext) > 0 {
		blob, err := extension.DecodeBlob(ext)
		if err != nil {
			return nil, err
		}
		if err := blob.Verify(order); err != nil {
			return nil, err
		}
		entry, ok := blob.Entry(hook)
		if !ok || !bytes.Equal(entry.Payload, extraData) {
			return nil, fmt.Errorf("%w: extra data does not match the %s field", extension.ErrMalformedPayload, hook)
		}
	}

	reg := c.Registry
	if reg == nil {
		reg = registry.Default()
	}
	s, err := reg.Decode(c.Kind, extraData)
	if err != nil {
		return nil, err
	}
	if !s.Hooks().Has(hook) {
		return nil, fmt.Errorf("%w: %s does not declare %s", extension.ErrHookNotImplemented, s.Kind(), hook)
	}
	return s, nil
}

func (c *Contract) observe(fill *extension.Fill) *extension.Fill {
	if c.Block != nil {
		fill.Timestamp = c.Block.Timestamp()
		fill.GasPrice = c.Block.GasPrice()
	}
	return fill
}

func (c *Contract) env() *extension.Env {
	if c.Env == nil {
		return &extension.Env{}
	}
	return c.Env
}
