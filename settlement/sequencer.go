// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/orderext/extension"
)

// State of a settlement sequence
type State uint8

const (
	StateIdle State = iota
	StateSourced
	StateSettled
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSourced:
		return "sourced"
	case StateSettled:
		return "settled"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome labels reported to the observer
const (
	OutcomeSettled            = "settled"
	OutcomeInsufficientOutput = "insufficient_output"
	OutcomeLoanFailed         = "loan_failed"
	OutcomeUnsupportedAsset   = "unsupported_asset"
	OutcomeError              = "error"
)

// Outcome summarizes a settled fill
type Outcome struct {
	Principal     *uint256.Int
	Costs         Costs
	Proceeds      *uint256.Int
	Repaid        *uint256.Int
	TakerProceeds *uint256.Int
	// RouterFallback is set when proceeds were taken 1:1
	RouterFallback bool
}

// Sequencer drives one fill through Pre and Post. Not reusable.
type Sequencer struct {
	strategy *GasSponsored
	env      *extension.Env

	state     State
	handle    extension.LoanHandle
	principal *uint256.Int
	required  *uint256.Int
	costs     Costs
	outcome   *Outcome
}

// NewSequencer starts an idle sequence over env
func (g *GasSponsored) NewSequencer(env *extension.Env) *Sequencer {
	if env == nil {
		env = &extension.Env{}
	}
	return &Sequencer{strategy: g, env: env}
}

// State returns the current state
func (s *Sequencer) State() State { return s.state }

// Outcome returns the result once settled
func (s *Sequencer) Outcome() (*Outcome, bool) {
	return s.outcome, s.outcome != nil
}

// Pre checks the settlement asset and the cost model, then borrows the
// fill's taking amount from the loan source
func (s *Sequencer) Pre(ctx context.Context, fill *extension.Fill) error {
	if s.state != StateIdle {
		return fmt.Errorf("%w: pre in state %s", extension.ErrSequence, s.state)
	}
	asset := s.strategy.asset
	if fill.Order.TakerAsset != asset {
		return s.abort(OutcomeUnsupportedAsset, fmt.Errorf("%w: taker asset %s, settles in %s",
			extension.ErrUnsupportedSettlementAsset, fill.Order.TakerAsset, asset))
	}

	principal := new(uint256.Int)
	if fill.TakingAmount != nil {
		principal.Set(fill.TakingAmount)
	}
	costs, err := s.strategy.Costs(principal, fill.GasPrice)
	if err != nil {
		return s.abort(OutcomeError, err)
	}
	if _, err := s.strategy.MakingAmount(principal, fill.GasPrice); err != nil {
		return s.abort(outcomeOf(err), err)
	}
	// proceeds owed at Post: the principal plus every cost
	required, err := s.strategy.TakingAmount(principal, fill.GasPrice)
	if err != nil {
		return s.abort(OutcomeError, err)
	}

	if s.env.Loans == nil {
		return s.abort(OutcomeLoanFailed, fmt.Errorf("%w: %w", extension.ErrLoanSourcingFailed, extension.ErrMissingCollaborator))
	}
	handle, err := s.env.Loans.Borrow(ctx, asset, principal)
	if err != nil {
		return s.abort(OutcomeLoanFailed, fmt.Errorf("%w: %w", extension.ErrLoanSourcingFailed, err))
	}

	s.handle = handle
	s.principal = principal
	s.required = required
	s.costs = costs
	s.state = StateSourced
	s.debug("settlement loan sourced",
		"orderHash", fill.OrderHash,
		"asset", asset,
		"principal", principal.Dec(),
		"totalCost", costs.Total.Dec(),
	)
	return nil
}

// Post swaps the received maker asset into the settlement asset, repays the
// loan with its fee and forwards the remainder to the taker
func (s *Sequencer) Post(ctx context.Context, fill *extension.Fill) (*Outcome, error) {
	if s.state != StateSourced {
		return nil, fmt.Errorf("%w: post in state %s", extension.ErrSequence, s.state)
	}
	asset := s.strategy.asset

	received := new(uint256.Int)
	if fill.MakingAmount != nil {
		received.Set(fill.MakingAmount)
	}
	proceeds, fallback, err := s.swap(ctx, fill.Order.MakerAsset, asset, received)
	if err != nil {
		return nil, s.abort(OutcomeError, err)
	}

	repay, err := extension.Add(s.principal, s.costs.LoanFee)
	if err != nil {
		return nil, s.abort(OutcomeError, err)
	}
	if proceeds.Lt(s.required) {
		return nil, s.abort(OutcomeInsufficientOutput, fmt.Errorf("%w: proceeds %s below principal %s plus costs %s",
			extension.ErrInsufficientOutputAmount, proceeds.Dec(), s.principal.Dec(), s.costs.Total.Dec()))
	}

	if err := s.env.Loans.Repay(ctx, s.handle, repay); err != nil {
		return nil, s.abort(OutcomeError, fmt.Errorf("repaying loan: %w", err))
	}

	remainder := new(uint256.Int).Sub(proceeds, repay)
	if !remainder.IsZero() {
		if s.env.Treasury == nil {
			return nil, s.abort(OutcomeError, fmt.Errorf("%w: treasury", extension.ErrMissingCollaborator))
		}
		if err := s.env.Treasury.Transfer(ctx, asset, fill.Taker, remainder); err != nil {
			return nil, s.abort(OutcomeError, fmt.Errorf("forwarding proceeds: %w", err))
		}
	}

	s.state = StateSettled
	s.outcome = &Outcome{
		Principal:      s.principal,
		Costs:          s.costs,
		Proceeds:       proceeds,
		Repaid:         repay,
		TakerProceeds:  remainder,
		RouterFallback: fallback,
	}
	if s.env.Observer != nil {
		s.env.Observer.ObserveFill(OutcomeSettled)
	}
	s.info("settlement complete",
		"orderHash", fill.OrderHash,
		"proceeds", proceeds.Dec(),
		"repaid", repay.Dec(),
		"takerProceeds", remainder.Dec(),
		"fallback", fallback,
	)
	return s.outcome, nil
}

// swap converts amount via the router; an unavailable router settles 1:1
func (s *Sequencer) swap(ctx context.Context, from, to common.Address, amount *uint256.Int) (*uint256.Int, bool, error) {
	if from == to {
		return amount, false, nil
	}
	if s.env.Router == nil {
		return nil, false, fmt.Errorf("%w: swap router", extension.ErrMissingCollaborator)
	}
	out, err := s.env.Router.QuoteAndSwap(ctx, from, to, amount)
	switch {
	case err == nil:
		return out, false, nil
	case errors.Is(err, extension.ErrRouterUnavailable):
		if s.env.Observer != nil {
			s.env.Observer.ObserveRouterFallback()
		}
		s.warn("swap router unavailable, settling 1:1", "from", from, "to", to, "amount", amount.Dec())
		return amount, true, nil
	default:
		return nil, false, fmt.Errorf("swapping proceeds: %w", err)
	}
}

func outcomeOf(err error) string {
	if errors.Is(err, extension.ErrInsufficientOutputAmount) {
		return OutcomeInsufficientOutput
	}
	return OutcomeError
}

func (s *Sequencer) abort(outcome string, err error) error {
	s.state = StateAborted
	if s.env.Observer != nil {
		s.env.Observer.ObserveFill(outcome)
	}
	s.warn("settlement aborted", "outcome", outcome, "err", err)
	return err
}

func (s *Sequencer) debug(msg string, ctx ...interface{}) {
	if s.env.Log != nil {
		s.env.Log.Debug(msg, ctx...)
	}
}

func (s *Sequencer) info(msg string, ctx ...interface{}) {
	if s.env.Log != nil {
		s.env.Log.Info(msg, ctx...)
	}
}

func (s *Sequencer) warn(msg string, ctx ...interface{}) {
	if s.env.Log != nil {
		s.env.Log.Warn(msg, ctx...)
	}
}

// =========================================================================
// extension.Interactor
// =========================================================================

// PreInteraction runs Pre on a fresh sequencer and hands it to PostInteraction
func (g *GasSponsored) PreInteraction(ctx context.Context, env *extension.Env, fill *extension.Fill) (extension.InteractionState, error) {
	seq := g.NewSequencer(env)
	if err := seq.Pre(ctx, fill); err != nil {
		return nil, err
	}
	return seq, nil
}

// PostInteraction completes the sequencer returned by PreInteraction
func (g *GasSponsored) PostInteraction(ctx context.Context, _ *extension.Env, fill *extension.Fill, state extension.InteractionState) error {
	seq, ok := state.(*Sequencer)
	if !ok || seq == nil {
		return fmt.Errorf("%w: post without pre", extension.ErrSequence)
	}
	_, err := seq.Post(ctx, fill)
	return err
}
