// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package extension

import (
	"context"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
)

// Kind tags the strategy variant of an extension config
type Kind uint8

const (
	KindAuction Kind = iota + 1
	KindRange
	KindOracle
	KindGasSponsored
)

func (k Kind) String() string {
	switch k {
	case KindAuction:
		return "auction"
	case KindRange:
		return "range"
	case KindOracle:
		return "oracle"
	case KindGasSponsored:
		return "gasSponsored"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Strategy is a validated, immutable strategy configuration
type Strategy interface {
	Kind() Kind
	Hooks() HookFlags
	// Payload returns the bytes attached to the given hook
	Payload(hook HookType) []byte
}

// Targets maps each strategy kind to the contract the engine calls.
// Injected at composition time, never compiled in.
type Targets map[Kind]common.Address

// Lookup returns the target for kind
func (t Targets) Lookup(kind Kind) (common.Address, error) {
	addr, ok := t[kind]
	if !ok || addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrMissingTarget, kind)
	}
	return addr, nil
}

// KindOf returns the kind registered for a target address
func (t Targets) KindOf(addr common.Address) (Kind, bool) {
	kinds := make([]Kind, 0, len(t))
	for k := range t {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		if t[k] == addr {
			return k, true
		}
	}
	return 0, false
}

// =========================================================================
// Fill context handed to strategies by the matching engine
// =========================================================================

// Order is the subset of the limit order the hooks read
type Order struct {
	Salt         *uint256.Int
	Maker        common.Address
	Receiver     common.Address
	MakerAsset   common.Address
	TakerAsset   common.Address
	MakingAmount *uint256.Int
	TakingAmount *uint256.Int
	MakerTraits  *uint256.Int
}

// Fill carries everything the engine passes to a hook
type Fill struct {
	Order                 Order
	OrderHash             common.Hash
	Taker                 common.Address
	MakingAmount          *uint256.Int // interactions only
	TakingAmount          *uint256.Int // interactions only
	RemainingMakingAmount *uint256.Int

	// Observations from the execution environment
	Timestamp uint64
	GasPrice  *uint256.Int
}

// AmountGetter computes dynamic fill amounts (MakerAmount/TakerAmount hooks)
type AmountGetter interface {
	MakingAmount(ctx context.Context, env *Env, fill *Fill, takingAmount *uint256.Int) (*uint256.Int, error)
	TakingAmount(ctx context.Context, env *Env, fill *Fill, makingAmount *uint256.Int) (*uint256.Int, error)
}

// Interactor performs side effects around the core fill. The state returned by
// PreInteraction is handed back to PostInteraction of the same fill.
type Interactor interface {
	PreInteraction(ctx context.Context, env *Env, fill *Fill) (InteractionState, error)
	PostInteraction(ctx context.Context, env *Env, fill *Fill, state InteractionState) error
}

// InteractionState is opaque per-fill state kept between the two interactions
type InteractionState interface{}

// =========================================================================
// External collaborators
// =========================================================================

// PriceFeed is an external price oracle
type PriceFeed interface {
	LatestPrice(ctx context.Context, oracle common.Address) (value *uint256.Int, timestamp uint64, err error)
	Decimals(ctx context.Context, oracle common.Address) (uint8, error)
}

// SwapRouter converts assets; returns ErrRouterUnavailable when it cannot quote
type SwapRouter interface {
	QuoteAndSwap(ctx context.Context, from, to common.Address, amount *uint256.Int) (*uint256.Int, error)
}

// LoanHandle identifies an outstanding same-transaction loan
type LoanHandle [32]byte

// LoanSource advances funds that must be repaid within the fill
type LoanSource interface {
	Borrow(ctx context.Context, asset common.Address, amount *uint256.Int) (LoanHandle, error)
	Repay(ctx context.Context, handle LoanHandle, amount *uint256.Int) error
}

// Treasury moves funds held by the hook target
type Treasury interface {
	Transfer(ctx context.Context, asset, to common.Address, amount *uint256.Int) error
}

// SettlementObserver receives settlement outcomes, typically for metrics
type SettlementObserver interface {
	ObserveFill(outcome string)
	ObserveRouterFallback()
}

// Env bundles the collaborators available to hooks during a fill
type Env struct {
	Feed     PriceFeed
	Router   SwapRouter
	Loans    LoanSource
	Treasury Treasury

	// Optional
	Log      log.Logger
	Observer SettlementObserver
}
