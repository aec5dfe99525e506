// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package extension

import (
	"bytes"
	"fmt"
)

// Compose folds strategies into a single extension blob. Each hook may be
// claimed by at most one strategy; on conflict the lowest colliding hook is
// reported so the verdict does not depend on argument order.
func Compose(targets Targets, strategies ...Strategy) (*Blob, error) {
	var claims [numHooks]int
	for _, s := range strategies {
		flags := s.Hooks()
		if !flags.Valid() {
			return nil, fmt.Errorf("%w: %s declares unknown hook bits %#x", ErrMalformedPayload, s.Kind(), uint8(flags))
		}
		for _, h := range flags.Hooks() {
			claims[h]++
		}
	}
	for _, h := range AllHooks {
		if claims[h] > 1 {
			return nil, &HookCollisionError{Hook: h}
		}
	}

	blob := newBlob()
	for _, s := range strategies {
		flags := s.Hooks()
		if flags == 0 {
			continue
		}
		target, err := targets.Lookup(s.Kind())
		if err != nil {
			return nil, err
		}
		for _, h := range flags.Hooks() {
			blob.entries[h] = Entry{
				Target:  target,
				Payload: bytes.Clone(s.Payload(h)),
			}
		}
	}
	return blob, nil
}

// MustCompose is like Compose but panics on error. Intended for fixtures.
func MustCompose(targets Targets, strategies ...Strategy) *Blob {
	blob, err := Compose(targets, strategies...)
	if err != nil {
		panic(err)
	}
	return blob
}
