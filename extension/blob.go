// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package extension

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
)

// Dynamic fields of the order extension, in wire order
const (
	fieldMakerAssetSuffix = iota
	fieldTakerAssetSuffix
	fieldMakingAmountData
	fieldTakingAmountData
	fieldPredicate
	fieldMakerPermit
	fieldPreInteractionData
	fieldPostInteractionData

	numFields
)

var hookFields = [numHooks]int{
	HookMakerAmount:     fieldMakingAmountData,
	HookTakerAmount:     fieldTakingAmountData,
	HookPreInteraction:  fieldPreInteractionData,
	HookPostInteraction: fieldPostInteractionData,
}

// Maker traits flags implied by an extension
const (
	TraitPostInteractionCall = 251
	TraitPreInteractionCall  = 252
	TraitHasExtension        = 249
)

var lowBits160 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 160), uint256.NewInt(1))

// Entry binds a hook to the contract the engine calls and its payload
type Entry struct {
	Target  common.Address
	Payload []byte
}

func (e Entry) clone() Entry {
	return Entry{Target: e.Target, Payload: bytes.Clone(e.Payload)}
}

// Blob is a composed extension. It is never mutated after construction.
type Blob struct {
	entries map[HookType]Entry
}

func newBlob() *Blob {
	return &Blob{entries: make(map[HookType]Entry)}
}

// Entry returns a copy of the entry bound to hook
func (b *Blob) Entry(hook HookType) (Entry, bool) {
	e, ok := b.entries[hook]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Hooks returns the bitmap of bound hooks
func (b *Blob) Hooks() HookFlags {
	var flags HookFlags
	for h := range b.entries {
		flags |= h.Flag()
	}
	return flags
}

// Len is the number of bound hooks
func (b *Blob) Len() int {
	return len(b.entries)
}

// IsEmpty reports whether the blob is a no-op extension
func (b *Blob) IsEmpty() bool {
	return len(b.entries) == 0
}

// Equal compares two blobs entry by entry
func (b *Blob) Equal(other *Blob) bool {
	return bytes.Equal(b.Bytes(), other.Bytes())
}

// Bytes serializes the blob: a 32-byte offsets word holding the cumulative end
// of each dynamic field in its 32-bit lane, followed by the fields.
// Hook fields are target(20) || payload. An empty blob is zero bytes.
func (b *Blob) Bytes() []byte {
	if b.IsEmpty() {
		return nil
	}

	var fields [numFields][]byte
	for hook, e := range b.entries {
		field := make([]byte, 0, AddressSize+len(e.Payload))
		field = append(field, e.Target.Bytes()...)
		field = append(field, e.Payload...)
		fields[hookFields[hook]] = field
	}

	var offsets [WordSize]byte
	total := 0
	for i, f := range fields {
		total += len(f)
		// lane i occupies bits [32i, 32i+32) of the big-endian word
		pos := WordSize - 4*(i+1)
		binary.BigEndian.PutUint32(offsets[pos:pos+4], uint32(total))
	}

	out := make([]byte, 0, WordSize+total)
	out = append(out, offsets[:]...)
	for _, f := range fields {
		out = append(out, f...)
	}
	return out
}

// Hash is keccak256 of the serialized blob
func (b *Blob) Hash() common.Hash {
	return common.BytesToHash(crypto.Keccak256(b.Bytes()))
}

// Salt binds an order salt to this extension: the low 160 bits are replaced
// by the low 160 bits of the blob hash. An empty blob leaves the salt as is.
func (b *Blob) Salt(base *uint256.Int) *uint256.Int {
	if b.IsEmpty() {
		return new(uint256.Int).Set(base)
	}
	h := b.Hash()
	low := new(uint256.Int).SetBytes32(h[:])
	low.And(low, lowBits160)
	salt := new(uint256.Int).Not(lowBits160)
	salt.And(salt, base)
	return salt.Or(salt, low)
}

// MakerTraits returns the maker traits bits the blob requires
func (b *Blob) MakerTraits() *uint256.Int {
	traits := new(uint256.Int)
	if b.IsEmpty() {
		return traits
	}
	setBit(traits, TraitHasExtension)
	if _, ok := b.entries[HookPreInteraction]; ok {
		setBit(traits, TraitPreInteractionCall)
	}
	if _, ok := b.entries[HookPostInteraction]; ok {
		setBit(traits, TraitPostInteractionCall)
	}
	return traits
}

func setBit(z *uint256.Int, bit uint) {
	z.Or(z, new(uint256.Int).Lsh(uint256.NewInt(1), bit))
}

// DecodeBlob parses a serialized extension. Only hook fields may be populated.
func DecodeBlob(data []byte) (*Blob, error) {
	blob := newBlob()
	if len(data) == 0 {
		return blob, nil
	}
	if len(data) < WordSize {
		return nil, fmt.Errorf("%w: extension shorter than offsets word", ErrMalformedPayload)
	}

	body := data[WordSize:]
	begin := 0
	for i := 0; i < numFields; i++ {
		pos := WordSize - 4*(i+1)
		end := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		if end < begin || end > len(body) {
			return nil, fmt.Errorf("%w: field %d offsets [%d,%d) out of bounds", ErrMalformedPayload, i, begin, end)
		}
		field := body[begin:end]
		begin = end

		if len(field) == 0 {
			continue
		}
		hook, ok := fieldHook(i)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported extension field %d", ErrMalformedPayload, i)
		}
		if len(field) < AddressSize {
			return nil, fmt.Errorf("%w: %s field shorter than target address", ErrMalformedPayload, hook)
		}
		blob.entries[hook] = Entry{
			Target:  common.BytesToAddress(field[:AddressSize]),
			Payload: bytes.Clone(field[AddressSize:]),
		}
	}
	if begin != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes after extension fields", ErrMalformedPayload, len(body)-begin)
	}
	if blob.IsEmpty() {
		return nil, fmt.Errorf("%w: offsets word with no fields", ErrMalformedPayload)
	}
	return blob, nil
}

func fieldHook(field int) (HookType, bool) {
	for h, f := range hookFields {
		if f == field {
			return HookType(h), true
		}
	}
	return 0, false
}

// Bind returns a copy of order whose salt and maker traits commit to the blob
func (b *Blob) Bind(order Order) Order {
	bound := order
	salt := order.Salt
	if salt == nil {
		salt = new(uint256.Int)
	}
	bound.Salt = b.Salt(salt)
	traits := new(uint256.Int)
	if order.MakerTraits != nil {
		traits.Set(order.MakerTraits)
	}
	bound.MakerTraits = traits.Or(traits, b.MakerTraits())
	return bound
}

// Verify checks that order commits to this blob: the extension flag is set
// and the low 160 bits of the salt equal those of the blob hash
func (b *Blob) Verify(order Order) error {
	traits := order.MakerTraits
	if traits == nil {
		traits = new(uint256.Int)
	}
	hasExtension := new(uint256.Int).Rsh(traits, TraitHasExtension).Uint64()&1 == 1
	if b.IsEmpty() {
		if hasExtension {
			return fmt.Errorf("%w: order flags an extension but none was supplied", ErrMalformedPayload)
		}
		return nil
	}
	if !hasExtension {
		return fmt.Errorf("%w: order does not flag an extension", ErrMalformedPayload)
	}
	salt := order.Salt
	if salt == nil {
		salt = new(uint256.Int)
	}
	want := b.Salt(salt)
	if !want.Eq(salt) {
		return fmt.Errorf("%w: salt does not commit to extension %s", ErrMalformedPayload, b.Hash())
	}
	return nil
}
