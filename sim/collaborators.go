// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/orderext/extension"
)

var (
	_ extension.LoanSource = (*LoanDesk)(nil)
	_ extension.SwapRouter = (*Router)(nil)
	_ extension.PriceFeed  = (*Feed)(nil)
	_ extension.Treasury   = (*Treasury)(nil)
)

const (
	bpsDenominator = 10_000
	// loan record: asset(20) || principal(32) || fee(32)
	loanRecordSize = common.AddressLength + 64
)

// RateScale is the unit of router rates: 1e18 is 1:1
var RateScale = uint256.NewInt(1e18)

// =========================================================================
// Loan desk
// =========================================================================

// LoanDesk lends from its reserve to one borrower account within a fill.
// Outstanding loans live in the ledger so a reverted fill drops them.
type LoanDesk struct {
	ledger   *Ledger
	reserve  common.Address
	borrower common.Address
	feeBps   uint64

	mu    sync.Mutex
	nonce uint64
}

// NewLoanDesk lends reserve funds to borrower for feeBps
func NewLoanDesk(ledger *Ledger, reserve, borrower common.Address, feeBps uint64) *LoanDesk {
	return &LoanDesk{ledger: ledger, reserve: reserve, borrower: borrower, feeBps: feeBps}
}

// Borrow moves amount from the reserve to the borrower
func (d *LoanDesk) Borrow(_ context.Context, asset common.Address, amount *uint256.Int) (extension.LoanHandle, error) {
	fee, overflow := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(d.feeBps), uint256.NewInt(bpsDenominator))
	if overflow {
		return extension.LoanHandle{}, fmt.Errorf("loan fee on %s: %w", amount.Dec(), extension.ErrArithmeticOverflow)
	}
	if err := d.ledger.Transfer(asset, d.reserve, d.borrower, amount); err != nil {
		return extension.LoanHandle{}, err
	}

	d.mu.Lock()
	d.nonce++
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], d.nonce)
	d.mu.Unlock()

	var handle extension.LoanHandle
	copy(handle[:], makeStorageKey(prefixLoan, d.reserve.Bytes(), d.borrower.Bytes(), asset.Bytes(), nonce[:]))

	principal, feeWord := amount.Bytes32(), fee.Bytes32()
	record := make([]byte, 0, loanRecordSize)
	record = append(record, asset.Bytes()...)
	record = append(record, principal[:]...)
	record = append(record, feeWord[:]...)
	if err := d.ledger.Put(loanKey(handle), record); err != nil {
		return extension.LoanHandle{}, err
	}
	return handle, nil
}

// Repay returns amount to the reserve; it must cover principal and fee
func (d *LoanDesk) Repay(_ context.Context, handle extension.LoanHandle, amount *uint256.Int) error {
	record, err := d.ledger.Get(loanKey(handle))
	if err != nil {
		return err
	}
	if len(record) != loanRecordSize {
		return fmt.Errorf("%w: %x", ErrUnknownLoan, handle)
	}
	asset := common.BytesToAddress(record[:common.AddressLength])
	principal := new(uint256.Int).SetBytes(record[common.AddressLength : common.AddressLength+32])
	fee := new(uint256.Int).SetBytes(record[common.AddressLength+32:])

	owed := new(uint256.Int).Add(principal, fee)
	if amount.Lt(owed) {
		return fmt.Errorf("%w: repaid %s, owed %s", ErrLoanUnderpaid, amount.Dec(), owed.Dec())
	}
	if err := d.ledger.Transfer(asset, d.borrower, d.reserve, amount); err != nil {
		return err
	}
	return d.ledger.Delete(loanKey(handle))
}

// Outstanding reports whether handle is still open
func (d *LoanDesk) Outstanding(handle extension.LoanHandle) bool {
	record, err := d.ledger.Get(loanKey(handle))
	return err == nil && record != nil
}

func loanKey(handle extension.LoanHandle) []byte {
	return makeStorageKey(prefixLoan, handle[:])
}

// =========================================================================
// Router
// =========================================================================

type pair struct {
	from, to common.Address
}

// Router swaps the funds of one account against its reserve at fixed rates
type Router struct {
	ledger  *Ledger
	account common.Address
	reserve common.Address

	mu          sync.RWMutex
	rates       map[pair]*uint256.Int
	unavailable bool
}

// NewRouter swaps for account against reserve
func NewRouter(ledger *Ledger, account, reserve common.Address) *Router {
	return &Router{
		ledger:  ledger,
		account: account,
		reserve: reserve,
		rates:   make(map[pair]*uint256.Int),
	}
}

// SetRate quotes from→to at rate/RateScale
func (r *Router) SetRate(from, to common.Address, rate *uint256.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[pair{from, to}] = new(uint256.Int).Set(rate)
}

// SetAvailable toggles whether the router quotes at all
func (r *Router) SetAvailable(available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = !available
}

// QuoteAndSwap sells amount of from for to
func (r *Router) QuoteAndSwap(_ context.Context, from, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	r.mu.RLock()
	rate, ok := r.rates[pair{from, to}]
	unavailable := r.unavailable
	r.mu.RUnlock()

	if unavailable {
		return nil, extension.ErrRouterUnavailable
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoRoute, from, to)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(amount, rate, RateScale)
	if overflow {
		return nil, fmt.Errorf("quoting %s: %w", amount.Dec(), extension.ErrArithmeticOverflow)
	}
	if err := r.ledger.Transfer(from, r.account, r.reserve, amount); err != nil {
		return nil, err
	}
	if err := r.ledger.Transfer(to, r.reserve, r.account, out); err != nil {
		return nil, err
	}
	return out, nil
}

// =========================================================================
// Price feed
// =========================================================================

type price struct {
	value     *uint256.Int
	timestamp uint64
	decimals  uint8
}

// Feed is a static price feed
type Feed struct {
	mu     sync.RWMutex
	prices map[common.Address]price
}

// NewFeed returns an empty feed
func NewFeed() *Feed {
	return &Feed{prices: make(map[common.Address]price)}
}

// Set publishes value for oracle as of timestamp. value is a two's complement
// word so negative answers can be simulated.
func (f *Feed) Set(oracle common.Address, value *uint256.Int, timestamp uint64, decimals uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[oracle] = price{value: new(uint256.Int).Set(value), timestamp: timestamp, decimals: decimals}
}

func (f *Feed) lookup(oracle common.Address) (price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[oracle]
	if !ok {
		return price{}, fmt.Errorf("%w: %s", ErrUnknownOracle, oracle)
	}
	return p, nil
}

// LatestPrice returns the last published answer
func (f *Feed) LatestPrice(_ context.Context, oracle common.Address) (*uint256.Int, uint64, error) {
	p, err := f.lookup(oracle)
	if err != nil {
		return nil, 0, err
	}
	return new(uint256.Int).Set(p.value), p.timestamp, nil
}

// Decimals returns the oracle's decimals
func (f *Feed) Decimals(_ context.Context, oracle common.Address) (uint8, error) {
	p, err := f.lookup(oracle)
	if err != nil {
		return 0, err
	}
	return p.decimals, nil
}

// =========================================================================
// Treasury
// =========================================================================

// Treasury pays out of one ledger account
type Treasury struct {
	ledger  *Ledger
	account common.Address
}

// NewTreasury pays out of account
func NewTreasury(ledger *Ledger, account common.Address) *Treasury {
	return &Treasury{ledger: ledger, account: account}
}

// Transfer sends amount of asset to to
func (t *Treasury) Transfer(_ context.Context, asset, to common.Address, amount *uint256.Int) error {
	return t.ledger.Transfer(asset, t.account, to, amount)
}
