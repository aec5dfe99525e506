// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sim

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/orderext/extension"
)

var (
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	desk  = common.HexToAddress("0x000000000000000000000000000000000000de5c")
	pool  = common.HexToAddress("0x0000000000000000000000000000000000009001")

	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	token = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger(memdb.New())
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func requireBalance(t *testing.T, l *Ledger, asset, account common.Address, want *uint256.Int) {
	t.Helper()
	got, err := l.Balance(asset, account)
	require.NoError(t, err)
	require.Equal(t, want, got, "balance of %s in %s", account, asset)
}

func TestLedgerTransfer(t *testing.T) {
	l := newLedger(t)
	requireBalance(t, l, weth, alice, new(uint256.Int))

	require.NoError(t, l.Mint(weth, alice, uint256.NewInt(100)))
	require.NoError(t, l.Transfer(weth, alice, bob, uint256.NewInt(40)))
	requireBalance(t, l, weth, alice, uint256.NewInt(60))
	requireBalance(t, l, weth, bob, uint256.NewInt(40))

	// assets are separate books
	requireBalance(t, l, token, bob, new(uint256.Int))

	err := l.Transfer(weth, bob, alice, uint256.NewInt(41))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	requireBalance(t, l, weth, bob, uint256.NewInt(40))
}

func TestLedgerSnapshot(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(weth, alice, uint256.NewInt(100)))

	snap := l.Snapshot()
	require.NoError(t, l.Transfer(weth, alice, bob, uint256.NewInt(30)))
	require.NoError(t, l.Mint(token, bob, uint256.NewInt(5)))
	require.NoError(t, l.Put([]byte("k"), []byte("v")))

	inner := l.Snapshot()
	require.NoError(t, l.Delete([]byte("k")))
	require.NoError(t, l.RevertToSnapshot(inner))
	v, err := l.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, l.RevertToSnapshot(snap))
	requireBalance(t, l, weth, alice, uint256.NewInt(100))
	requireBalance(t, l, weth, bob, new(uint256.Int))
	requireBalance(t, l, token, bob, new(uint256.Int))
	v, err = l.Get([]byte("k"))
	require.NoError(t, err)
	require.Nil(t, v)

	require.ErrorIs(t, l.RevertToSnapshot(snap+1), ErrInvalidSnapshot)
	require.ErrorIs(t, l.RevertToSnapshot(-1), ErrInvalidSnapshot)
}

func TestLoanDesk(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(weth, desk, uint256.NewInt(1_000_000)))
	d := NewLoanDesk(l, desk, alice, 5)
	ctx := context.Background()

	h, err := d.Borrow(ctx, weth, uint256.NewInt(100_000))
	require.NoError(t, err)
	require.True(t, d.Outstanding(h))
	requireBalance(t, l, weth, alice, uint256.NewInt(100_000))

	// handles never repeat
	h2, err := d.Borrow(ctx, weth, uint256.NewInt(100_000))
	require.NoError(t, err)
	require.NotEqual(t, h, h2)

	require.NoError(t, l.Mint(weth, alice, uint256.NewInt(1000)))

	// fee is 5 bps of 100000 = 50
	require.ErrorIs(t, d.Repay(ctx, h, uint256.NewInt(100_049)), ErrLoanUnderpaid)
	require.NoError(t, d.Repay(ctx, h, uint256.NewInt(100_050)))
	require.False(t, d.Outstanding(h))
	require.ErrorIs(t, d.Repay(ctx, h, uint256.NewInt(100_050)), ErrUnknownLoan)

	requireBalance(t, l, weth, desk, uint256.NewInt(1_000_000-100_000+50))

	_, err = d.Borrow(ctx, weth, uint256.NewInt(10_000_000))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestLoanDeskRevert(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(weth, desk, uint256.NewInt(1000)))
	d := NewLoanDesk(l, desk, alice, 0)

	snap := l.Snapshot()
	h, err := d.Borrow(context.Background(), weth, uint256.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, l.RevertToSnapshot(snap))

	require.False(t, d.Outstanding(h))
	requireBalance(t, l, weth, desk, uint256.NewInt(1000))
}

func TestRouter(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(token, alice, uint256.NewInt(1000)))
	require.NoError(t, l.Mint(weth, pool, uint256.NewInt(1000)))
	r := NewRouter(l, alice, pool)
	ctx := context.Background()

	_, err := r.QuoteAndSwap(ctx, token, weth, uint256.NewInt(100))
	require.ErrorIs(t, err, ErrNoRoute)

	// 0.5 weth per token
	r.SetRate(token, weth, uint256.NewInt(5e17))
	out, err := r.QuoteAndSwap(ctx, token, weth, uint256.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(50), out)
	requireBalance(t, l, token, alice, uint256.NewInt(900))
	requireBalance(t, l, weth, alice, uint256.NewInt(50))
	requireBalance(t, l, token, pool, uint256.NewInt(100))

	r.SetAvailable(false)
	_, err = r.QuoteAndSwap(ctx, token, weth, uint256.NewInt(100))
	require.ErrorIs(t, err, extension.ErrRouterUnavailable)

	r.SetAvailable(true)
	_, err = r.QuoteAndSwap(ctx, token, weth, uint256.NewInt(100_000))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestFeed(t *testing.T) {
	f := NewFeed()
	ctx := context.Background()

	_, _, err := f.LatestPrice(ctx, alice)
	require.ErrorIs(t, err, ErrUnknownOracle)
	_, err = f.Decimals(ctx, alice)
	require.ErrorIs(t, err, ErrUnknownOracle)

	f.Set(alice, uint256.NewInt(2000e8), 1234, 8)
	v, ts, err := f.LatestPrice(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(2000e8), v)
	require.Equal(t, uint64(1234), ts)
	dec, err := f.Decimals(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint8(8), dec)
}

func TestTreasury(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(weth, alice, uint256.NewInt(10)))
	tr := NewTreasury(l, alice)

	require.NoError(t, tr.Transfer(context.Background(), weth, bob, uint256.NewInt(4)))
	requireBalance(t, l, weth, bob, uint256.NewInt(4))
	require.ErrorIs(t, tr.Transfer(context.Background(), weth, bob, uint256.NewInt(7)), ErrInsufficientBalance)
}
