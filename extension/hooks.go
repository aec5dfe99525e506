// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package extension defines the shared vocabulary of order extensions:
// hooks, strategies, the composed extension blob and its wire format.
// Strategy packages (auction, rangeprice, oracle, settlement) build on it.
package extension

import "strings"

// HookType names an extension point invoked by the matching engine
type HookType uint8

const (
	HookMakerAmount HookType = iota
	HookTakerAmount
	HookPreInteraction
	HookPostInteraction

	numHooks
)

// AllHooks lists every hook in canonical order
var AllHooks = []HookType{
	HookMakerAmount,
	HookTakerAmount,
	HookPreInteraction,
	HookPostInteraction,
}

var hookNames = [numHooks]string{
	HookMakerAmount:     "MakerAmount",
	HookTakerAmount:     "TakerAmount",
	HookPreInteraction:  "PreInteraction",
	HookPostInteraction: "PostInteraction",
}

func (h HookType) String() string {
	if h >= numHooks {
		return "Unknown"
	}
	return hookNames[h]
}

// Valid reports whether h is a known hook
func (h HookType) Valid() bool {
	return h < numHooks
}

// Flag returns the bitmap flag for the hook
func (h HookType) Flag() HookFlags {
	return 1 << h
}

// HookFlags is a bitmap of declared hooks
type HookFlags uint8

const (
	FlagMakerAmount     = HookFlags(1 << HookMakerAmount)
	FlagTakerAmount     = HookFlags(1 << HookTakerAmount)
	FlagPreInteraction  = HookFlags(1 << HookPreInteraction)
	FlagPostInteraction = HookFlags(1 << HookPostInteraction)

	// FlagsAmount is the pair used by pricing strategies
	FlagsAmount = FlagMakerAmount | FlagTakerAmount
	// FlagsInteraction is the pair used by settlement strategies
	FlagsInteraction = FlagPreInteraction | FlagPostInteraction

	flagsAll = FlagsAmount | FlagsInteraction
)

// Has reports whether the hook is set
func (f HookFlags) Has(h HookType) bool {
	return f&h.Flag() != 0
}

// Hooks expands the bitmap in canonical order
func (f HookFlags) Hooks() []HookType {
	hooks := make([]HookType, 0, numHooks)
	for _, h := range AllHooks {
		if f.Has(h) {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

// Valid reports whether only known hook bits are set
func (f HookFlags) Valid() bool {
	return f&^flagsAll == 0
}

func (f HookFlags) String() string {
	hooks := f.Hooks()
	if len(hooks) == 0 {
		return "none"
	}
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = h.String()
	}
	return strings.Join(names, "|")
}

// HookPermissions is the struct form of HookFlags
type HookPermissions struct {
	MakerAmount     bool
	TakerAmount     bool
	PreInteraction  bool
	PostInteraction bool
}

// EncodeHookPermissions encodes permissions into a HookFlags bitmap
func EncodeHookPermissions(p HookPermissions) HookFlags {
	var flags HookFlags

	if p.MakerAmount {
		flags |= FlagMakerAmount
	}
	if p.TakerAmount {
		flags |= FlagTakerAmount
	}
	if p.PreInteraction {
		flags |= FlagPreInteraction
	}
	if p.PostInteraction {
		flags |= FlagPostInteraction
	}

	return flags
}

// DecodeHookPermissions decodes a HookFlags bitmap into permissions
func DecodeHookPermissions(flags HookFlags) HookPermissions {
	return HookPermissions{
		MakerAmount:     flags.Has(HookMakerAmount),
		TakerAmount:     flags.Has(HookTakerAmount),
		PreInteraction:  flags.Has(HookPreInteraction),
		PostInteraction: flags.Has(HookPostInteraction),
	}
}
