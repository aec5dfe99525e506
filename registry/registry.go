// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry maps strategy kinds to payload decoders and default
// hook targets, and resolves composed extensions back into strategies.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/orderext/extension"
)

// ============================================================================
// HOOK TARGET ADDRESS SCHEME
// ============================================================================
//
// Default strategy targets sit in the DEX/Markets page (LP-9xxx):
//   Format: 0x000000000000000000000000000000000000 9 C II
//                                                  │ │ └┴─ Strategy kind
//                                                  │ └──── Chain slot (2 = C-Chain)
//                                                  └────── Family page (9 = DEX/Markets)
//
// Deployments override these through config; nothing reads them implicitly.

const (
	AuctionAddress      = "0x0000000000000000000000000000000000009201"
	RangeAddress        = "0x0000000000000000000000000000000000009202"
	OracleAddress       = "0x0000000000000000000000000000000000009203"
	GasSponsoredAddress = "0x0000000000000000000000000000000000009204"
)

// TargetPage is the block of addresses default targets are allocated from
type TargetPage struct {
	First common.Address
	Last  common.Address
}

// Holds reports whether addr lies in the page, both bounds included
func (p TargetPage) Holds(addr common.Address) bool {
	return p.First.Cmp(addr) <= 0 && addr.Cmp(p.Last) <= 0
}

// MarketsPage is the DEX/Markets page (LP-9xxx)
var MarketsPage = TargetPage{
	First: common.HexToAddress("0x0000000000000000000000000000000000009000"),
	Last:  common.HexToAddress("0x0000000000000000000000000000000000009fff"),
}

// Errors - Registry
var (
	ErrDuplicateKind   = errors.New("strategy kind already registered")
	ErrUnknownKind     = errors.New("strategy kind not registered")
	ErrInvalidModule   = errors.New("invalid strategy module")
	ErrUnboundTarget   = errors.New("extension target not bound to a strategy kind")
	ErrPayloadMismatch = errors.New("strategy hooks carry different payloads")
)

// DecodeFunc parses a hook payload into a validated strategy
type DecodeFunc func(payload []byte) (extension.Strategy, error)

// Module describes one strategy kind
type Module struct {
	Kind extension.Kind
	// ConfigKey names the kind in configuration files
	ConfigKey string
	Hooks     extension.HookFlags
	Decode    DecodeFunc
	// DefaultTarget is used by DefaultTargets
	DefaultTarget common.Address
}

// Registry holds registered modules in kind order
type Registry struct {
	mu      sync.RWMutex
	modules []Module
}

// New returns an empty registry
func New() *Registry {
	return &Registry{}
}

// Register adds a module; kinds and config keys are unique
func (r *Registry) Register(m Module) error {
	if m.Kind == 0 || m.Decode == nil || m.ConfigKey == "" {
		return fmt.Errorf("%w: kind %d", ErrInvalidModule, uint8(m.Kind))
	}
	if !m.Hooks.Valid() {
		return fmt.Errorf("%w: %s declares unknown hooks", ErrInvalidModule, m.Kind)
	}
	if m.DefaultTarget != (common.Address{}) && !MarketsPage.Holds(m.DefaultTarget) {
		return fmt.Errorf("%w: default target %s not in the markets page", ErrInvalidModule, m.DefaultTarget)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, registered := range r.modules {
		if registered.Kind == m.Kind {
			return fmt.Errorf("%w: %s", ErrDuplicateKind, m.Kind)
		}
		if registered.ConfigKey == m.ConfigKey {
			return fmt.Errorf("%w: config key %q", ErrDuplicateKind, m.ConfigKey)
		}
	}
	r.modules = append(r.modules, m)
	// sort by kind to ensure deterministic iteration
	sort.Slice(r.modules, func(i, j int) bool { return r.modules[i].Kind < r.modules[j].Kind })
	return nil
}

// Module returns the module for kind
func (r *Registry) Module(kind extension.Kind) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.modules {
		if m.Kind == kind {
			return m, true
		}
	}
	return Module{}, false
}

// ModuleByKey returns the module registered under a config key
func (r *Registry) ModuleByKey(key string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.modules {
		if m.ConfigKey == key {
			return m, true
		}
	}
	return Module{}, false
}

// Modules returns a copy of the registered modules in kind order
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Module(nil), r.modules...)
}

// DefaultTargets collects the default target of every module that has one
func (r *Registry) DefaultTargets() extension.Targets {
	targets := make(extension.Targets)
	for _, m := range r.Modules() {
		if m.DefaultTarget != (common.Address{}) {
			targets[m.Kind] = m.DefaultTarget
		}
	}
	return targets
}

// Override returns a copy of r in which kind decodes through decode
func (r *Registry) Override(kind extension.Kind, decode DecodeFunc) (*Registry, error) {
	if decode == nil {
		return nil, fmt.Errorf("%w: no decoder for %s", ErrInvalidModule, kind)
	}
	out := New()
	found := false
	for _, m := range r.Modules() {
		if m.Kind == kind {
			m.Decode = decode
			found = true
		}
		if err := out.Register(m); err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return out, nil
}

// Decode parses payload as a strategy of the given kind
func (r *Registry) Decode(kind extension.Kind, payload []byte) (extension.Strategy, error) {
	m, ok := r.Module(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return m.Decode(payload)
}

// ResolveHook decodes the strategy bound to one hook of blob
func (r *Registry) ResolveHook(blob *extension.Blob, targets extension.Targets, hook extension.HookType) (extension.Strategy, error) {
	entry, ok := blob.Entry(hook)
	if !ok {
		return nil, fmt.Errorf("%w: %s not bound", extension.ErrHookNotImplemented, hook)
	}
	kind, ok := targets.KindOf(entry.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %s at %s", ErrUnboundTarget, hook, entry.Target)
	}
	s, err := r.Decode(kind, entry.Payload)
	if err != nil {
		return nil, err
	}
	if !s.Hooks().Has(hook) {
		return nil, fmt.Errorf("%w: %s does not serve %s", extension.ErrHookNotImplemented, kind, hook)
	}
	return s, nil
}

// Resolve turns a composed blob back into its strategies, one per kind,
// ordered by kind. Hooks of one strategy must carry identical payloads.
func (r *Registry) Resolve(blob *extension.Blob, targets extension.Targets) ([]extension.Strategy, error) {
	type resolved struct {
		payload  []byte
		strategy extension.Strategy
	}
	byKind := make(map[extension.Kind]resolved)

	for _, hook := range blob.Hooks().Hooks() {
		entry, _ := blob.Entry(hook)
		kind, ok := targets.KindOf(entry.Target)
		if !ok {
			return nil, fmt.Errorf("%w: %s at %s", ErrUnboundTarget, hook, entry.Target)
		}
		if prev, ok := byKind[kind]; ok {
			if !bytes.Equal(prev.payload, entry.Payload) {
				return nil, fmt.Errorf("%w: %s", ErrPayloadMismatch, kind)
			}
			continue
		}
		s, err := r.ResolveHook(blob, targets, hook)
		if err != nil {
			return nil, err
		}
		byKind[kind] = resolved{payload: entry.Payload, strategy: s}
	}

	kinds := make([]extension.Kind, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	strategies := make([]extension.Strategy, len(kinds))
	for i, k := range kinds {
		strategies[i] = byKind[k].strategy
	}
	return strategies, nil
}

// ============================================================================
// Default registry
// ============================================================================

var defaultRegistry = New()

// Default returns the process-wide registry strategy packages register into
func Default() *Registry {
	return defaultRegistry
}

// Register adds a module to the default registry
func Register(m Module) error {
	return defaultRegistry.Register(m)
}

// MustRegister is Register for use in init functions
func MustRegister(m Module) {
	if err := Register(m); err != nil {
		panic(err)
	}
}

// Resolve resolves blob against the default registry
func Resolve(blob *extension.Blob, targets extension.Targets) ([]extension.Strategy, error) {
	return defaultRegistry.Resolve(blob, targets)
}
