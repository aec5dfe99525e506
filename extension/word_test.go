// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package extension

import (
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func TestWriterReader(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	allOnes := uint256.MustFromHex("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

	data := NewWriter(0).
		Byte(0x80).
		Address(addr).
		Word(allOnes).
		Uint64(42).
		Int64(-18).
		Raw([]byte{1, 2, 3}).
		Bytes()
	require.Len(t, data, 1+AddressSize+3*WordSize+3)

	r := NewReader(data)
	require.Equal(t, byte(0x80), r.Byte())
	require.Equal(t, addr, r.Address())
	require.Equal(t, allOnes, r.Word())
	require.Equal(t, uint64(42), r.Uint64())
	require.Equal(t, int64(-18), r.Int64())
	require.Equal(t, []byte{1, 2, 3}, r.Rest())
	require.NoError(t, r.Close())
}

func TestReaderErrors(t *testing.T) {
	t.Run("short read latches", func(t *testing.T) {
		r := NewReader(make([]byte, 10))
		_ = r.Word()
		require.ErrorIs(t, r.Err(), ErrMalformedPayload)
		_ = r.Byte()
		require.ErrorIs(t, r.Close(), ErrMalformedPayload)
	})

	t.Run("trailing bytes", func(t *testing.T) {
		r := NewReader(make([]byte, WordSize+1))
		_ = r.Word()
		require.NoError(t, r.Err())
		require.ErrorIs(t, r.Close(), ErrMalformedPayload)
	})

	t.Run("uint64 overflow", func(t *testing.T) {
		word := new(uint256.Int).Lsh(uint256.NewInt(1), 64)
		r := NewReader(NewWriter(WordSize).Word(word).Bytes())
		_ = r.Uint64()
		require.ErrorIs(t, r.Err(), ErrMalformedPayload)
	})

	t.Run("int64 overflow", func(t *testing.T) {
		r := NewReader(NewWriter(WordSize).Uint64(math.MaxInt64 + 1).Bytes())
		_ = r.Int64()
		require.ErrorIs(t, r.Err(), ErrMalformedPayload)
	})
}

func TestSignedWord(t *testing.T) {
	tests := []struct {
		name string
		v    int64
	}{
		{"zero", 0},
		{"one", 1},
		{"minus one", -1},
		{"minus 77", -77},
		{"max", math.MaxInt64},
		{"min", math.MinInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := SignedWord(tt.v)
			got, ok := WordToInt64(w)
			require.True(t, ok)
			require.Equal(t, tt.v, got)
		})
	}

	minusOne := SignedWord(-1)
	require.Equal(t, new(uint256.Int).Not(new(uint256.Int)), minusOne)
}
