// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sim is an in-memory execution environment for order fills: a
// journaled balance ledger, a loan desk, a fixed-rate router, a static price
// feed and an engine that runs a fill atomically against them.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Errors
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidSnapshot     = errors.New("invalid snapshot")
	ErrUnknownLoan         = errors.New("unknown loan")
	ErrLoanUnderpaid       = errors.New("loan repayment below principal plus fee")
	ErrNoRoute             = errors.New("no route for asset pair")
	ErrUnknownOracle       = errors.New("unknown oracle")
	ErrOrderFilled         = errors.New("order fully filled")
	ErrThreshold           = errors.New("fill amount beyond taker threshold")
	ErrZeroFill            = errors.New("zero fill amount")
)

// Storage key prefixes
var (
	prefixBalance   = []byte("balance")
	prefixLoan      = []byte("loan")
	prefixRemaining = []byte("remaining")
)

// makeStorageKey creates a storage key from prefix and identifiers
func makeStorageKey(prefix []byte, ids ...[]byte) []byte {
	h := blake3.New()
	h.Write(prefix)
	for _, id := range ids {
		h.Write(id)
	}
	var key common.Hash
	h.Digest().Read(key[:])
	return key.Bytes()
}

type journalEntry struct {
	key     []byte
	prev    []byte
	existed bool
}

// Ledger is a key/value state with balances per (asset, account). Every
// write is journaled so a snapshot can be reverted.
type Ledger struct {
	mu      sync.Mutex
	db      database.Database
	journal []journalEntry
}

// NewLedger returns a ledger over db, or over a fresh memdb when db is nil
func NewLedger(db database.Database) *Ledger {
	if db == nil {
		db = memdb.New()
	}
	return &Ledger{db: db}
}

// Close closes the backing database
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Snapshot returns an identifier for the current state
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertToSnapshot undoes every write made after id was taken
func (l *Ledger) RevertToSnapshot(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id > len(l.journal) {
		return fmt.Errorf("%w: %d with journal length %d", ErrInvalidSnapshot, id, len(l.journal))
	}
	for i := len(l.journal) - 1; i >= id; i-- {
		e := l.journal[i]
		var err error
		if e.existed {
			err = l.db.Put(e.key, e.prev)
		} else {
			err = l.db.Delete(e.key)
		}
		if err != nil {
			return fmt.Errorf("reverting journal entry %d: %w", i, err)
		}
	}
	l.journal = l.journal[:id]
	return nil
}

// Balance returns the balance of account in asset
func (l *Ledger) Balance(asset, account common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(asset, account)
}

// Mint credits amount out of thin air
func (l *Ledger) Mint(asset, account common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, err := l.balance(asset, account)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("minting %s to %s: balance overflow", amount.Dec(), account)
	}
	return l.setBalance(asset, account, sum)
}

// Transfer moves amount of asset between accounts
func (l *Ledger) Transfer(asset, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.IsZero() || from == to {
		return nil
	}
	src, err := l.balance(asset, from)
	if err != nil {
		return err
	}
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, from, src.Dec(), asset, amount.Dec())
	}
	dst, err := l.balance(asset, to)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(dst, amount)
	if overflow {
		return fmt.Errorf("transferring %s to %s: balance overflow", amount.Dec(), to)
	}
	if err := l.setBalance(asset, from, new(uint256.Int).Sub(src, amount)); err != nil {
		return err
	}
	return l.setBalance(asset, to, sum)
}

// Get returns the value stored at key, or nil
func (l *Ledger) Get(key []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(key)
}

// Put stores value at key
func (l *Ledger) Put(key, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.put(key, value)
}

// Delete removes key
func (l *Ledger) Delete(key []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.put(key, nil)
}

func (l *Ledger) balance(asset, account common.Address) (*uint256.Int, error) {
	v, err := l.get(makeStorageKey(prefixBalance, asset.Bytes(), account.Bytes()))
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(v), nil
}

func (l *Ledger) setBalance(asset, account common.Address, amount *uint256.Int) error {
	word := amount.Bytes32()
	return l.put(makeStorageKey(prefixBalance, asset.Bytes(), account.Bytes()), word[:])
}

func (l *Ledger) get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// put writes value, deleting key when value is nil
func (l *Ledger) put(key, value []byte) error {
	prev, err := l.db.Get(key)
	existed := err == nil
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}
	if value == nil {
		err = l.db.Delete(key)
	} else {
		err = l.db.Put(key, value)
	}
	if err != nil {
		return err
	}
	l.journal = append(l.journal, journalEntry{key: key, prev: prev, existed: existed})
	return nil
}
