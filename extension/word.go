// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package extension

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

const (
	// WordSize is the width of an encoded integer
	WordSize = 32
	// AddressSize is the width of an encoded address
	AddressSize = common.AddressLength
)

// Writer appends fixed-width fields. Integers are big-endian 32-byte words.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given capacity hint
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Byte appends a single byte
func (w *Writer) Byte(b byte) *Writer {
	w.buf = append(w.buf, b)
	return w
}

// Word appends a 32-byte big-endian word
func (w *Writer) Word(v *uint256.Int) *Writer {
	word := v.Bytes32()
	w.buf = append(w.buf, word[:]...)
	return w
}

// Uint64 appends v as a 32-byte word
func (w *Writer) Uint64(v uint64) *Writer {
	return w.Word(uint256.NewInt(v))
}

// Int64 appends v as a two's-complement 32-byte word
func (w *Writer) Int64(v int64) *Writer {
	return w.Word(SignedWord(v))
}

// Address appends a 20-byte address
func (w *Writer) Address(a common.Address) *Writer {
	w.buf = append(w.buf, a.Bytes()...)
	return w
}

// Raw appends raw bytes
func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Bytes returns the encoded buffer
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reader consumes fixed-width fields. Any short read latches ErrMalformedPayload.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader creates a reader over data
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrMalformedPayload, n, r.off, len(r.data)-r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// Byte reads one byte
func (r *Reader) Byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Word reads a 32-byte big-endian word
func (r *Reader) Word() *uint256.Int {
	b := r.take(WordSize)
	if b == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).SetBytes32(b)
}

// Uint64 reads a word that must fit 64 bits
func (r *Reader) Uint64() uint64 {
	w := r.Word()
	if r.err == nil && !w.IsUint64() {
		r.err = fmt.Errorf("%w: word %s exceeds 64 bits", ErrMalformedPayload, w.Hex())
		return 0
	}
	return w.Uint64()
}

// Int64 reads a two's-complement word that must fit 64 bits
func (r *Reader) Int64() int64 {
	w := r.Word()
	if r.err != nil {
		return 0
	}
	v, ok := WordToInt64(w)
	if !ok {
		r.err = fmt.Errorf("%w: signed word %s exceeds 64 bits", ErrMalformedPayload, w.Hex())
		return 0
	}
	return v
}

// Address reads a 20-byte address
func (r *Reader) Address() common.Address {
	b := r.take(AddressSize)
	if b == nil {
		return common.Address{}
	}
	return common.BytesToAddress(b)
}

// Rest consumes the remaining bytes
func (r *Reader) Rest() []byte {
	return r.take(len(r.data) - r.off)
}

// Close fails if bytes remain unread or a previous read failed
func (r *Reader) Close() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedPayload, len(r.data)-r.off)
	}
	return nil
}

// Err returns the latched read error
func (r *Reader) Err() error {
	return r.err
}

// SignedWord converts v into its 256-bit two's-complement word
func SignedWord(v int64) *uint256.Int {
	if v >= 0 {
		return uint256.NewInt(uint64(v))
	}
	// -v overflows for MinInt64; uint64 negation handles it
	abs := uint256.NewInt(uint64(-(v + 1)) + 1)
	return new(uint256.Int).Neg(abs)
}

// WordToInt64 interprets w as a two's-complement signed value
func WordToInt64(w *uint256.Int) (int64, bool) {
	if w.Sign() >= 0 {
		if !w.IsUint64() || w.Uint64() > 1<<63-1 {
			return 0, false
		}
		return int64(w.Uint64()), true
	}
	abs := new(uint256.Int).Neg(w)
	if !abs.IsUint64() || abs.Uint64() > 1<<63 {
		return 0, false
	}
	return -int64(abs.Uint64()-1) - 1, true
}
