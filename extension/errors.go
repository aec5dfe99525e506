// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package extension

import (
	"errors"
	"fmt"
)

// Errors - Validation (raised by constructors only)
var (
	ErrInvalidAuctionWindow    = errors.New("invalid auction window")
	ErrInvalidRange            = errors.New("invalid range")
	ErrInvalidOracleConfig     = errors.New("invalid oracle config")
	ErrInvalidSettlementConfig = errors.New("invalid settlement config")
)

// Errors - Composition
var (
	ErrHookCollision = errors.New("hook collision")
	ErrMissingTarget = errors.New("no target registered for strategy kind")
)

// Errors - Settlement
var (
	ErrInsufficientOutputAmount   = errors.New("insufficient output amount")
	ErrLoanSourcingFailed         = errors.New("loan sourcing failed")
	ErrUnsupportedSettlementAsset = errors.New("unsupported settlement asset")
	ErrSequence                   = errors.New("settlement step out of order")
)

// Errors - Codec
var (
	ErrMalformedPayload = errors.New("malformed payload")
)

// Errors - Arithmetic
var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrDivisionByZero     = errors.New("division by zero")
)

// Errors - Runtime (collaborators and engine dispatch)
var (
	ErrStaleOraclePrice        = errors.New("stale oracle price")
	ErrInvalidOraclePrice      = errors.New("invalid oracle price")
	ErrDifferentOracleDecimals = errors.New("oracles have different decimals")
	ErrRouterUnavailable       = errors.New("swap router unavailable")
	ErrHookNotImplemented      = errors.New("hook not implemented by strategy")
	ErrUnknownSelector         = errors.New("unknown method selector")
	ErrMissingCollaborator     = errors.New("required collaborator not configured")
)

// HookCollisionError reports the hook claimed by more than one strategy
type HookCollisionError struct {
	Hook HookType
}

func (e *HookCollisionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrHookCollision, e.Hook)
}

// Is matches ErrHookCollision
func (e *HookCollisionError) Is(target error) bool {
	return target == ErrHookCollision
}

// ErrorKind classifies an error into the taxonomy the callers branch on
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindValidation
	KindCollision
	KindSettlement
	KindCodec
	KindArithmetic
	KindRuntime
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindCollision:
		return "collision"
	case KindSettlement:
		return "settlement"
	case KindCodec:
		return "codec"
	case KindArithmetic:
		return "arithmetic"
	case KindRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	// codec first: a malformed payload usually wraps its validation cause
	{ErrMalformedPayload, KindCodec},

	{ErrInvalidAuctionWindow, KindValidation},
	{ErrInvalidRange, KindValidation},
	{ErrInvalidOracleConfig, KindValidation},
	{ErrInvalidSettlementConfig, KindValidation},

	{ErrHookCollision, KindCollision},
	{ErrMissingTarget, KindCollision},

	{ErrInsufficientOutputAmount, KindSettlement},
	{ErrLoanSourcingFailed, KindSettlement},
	{ErrUnsupportedSettlementAsset, KindSettlement},
	{ErrSequence, KindSettlement},

	{ErrArithmeticOverflow, KindArithmetic},
	{ErrDivisionByZero, KindArithmetic},

	{ErrStaleOraclePrice, KindRuntime},
	{ErrInvalidOraclePrice, KindRuntime},
	{ErrDifferentOracleDecimals, KindRuntime},
	{ErrRouterUnavailable, KindRuntime},
	{ErrHookNotImplemented, KindRuntime},
	{ErrUnknownSelector, KindRuntime},
	{ErrMissingCollaborator, KindRuntime},
}

// KindOf returns the taxonomy kind of err
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return KindUnknown
}
