// Package state implements the layered account/storage cache every
// simulation runs against: a mutable overlay over an immutable parent
// snapshot, optionally backed by a live-chain fetcher.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// ErrCodeNotFound is returned when no layer knows the requested code hash
var ErrCodeNotFound = errors.New("code not found")

// LayeredDB is a read-write overlay with an optional read-only parent.
//
// Only the outermost overlay is ever mutated. Once a LayeredDB has been used
// as a parent it must be treated as frozen: many overlays may read it
// concurrently without locking. A single overlay is not safe for concurrent use.
type LayeredDB struct {
	accounts  map[common.Address]*DbAccount
	contracts map[common.Hash][]byte
	parent    *LayeredDB
	fetcher   Fetcher
}

// NewLayeredDB creates an empty root store. fetcher may be nil for a pure cache.
func NewLayeredDB(fetcher Fetcher) *LayeredDB {
	db := &LayeredDB{
		accounts:  make(map[common.Address]*DbAccount),
		contracts: make(map[common.Hash][]byte),
		fetcher:   fetcher,
	}
	db.contracts[types.EmptyCodeHash] = []byte{}
	db.contracts[common.Hash{}] = []byte{}
	return db
}

// NewOverlay forks a fresh overlay over parent, inheriting its fetcher.
// parent must not be mutated afterwards.
func NewOverlay(parent *LayeredDB) *LayeredDB {
	return &LayeredDB{
		accounts:  make(map[common.Address]*DbAccount),
		contracts: make(map[common.Hash][]byte),
		parent:    parent,
		fetcher:   parent.fetcher,
	}
}

// WithFetcher replaces the live fallback of this overlay and returns it.
// Overlays forked from it afterwards inherit the new fetcher.
func (db *LayeredDB) WithFetcher(fetcher Fetcher) *LayeredDB {
	db.fetcher = fetcher
	return db
}

// Parent returns the read-only parent layer, or nil
func (db *LayeredDB) Parent() *LayeredDB {
	return db.parent
}

// Depth returns the number of layers including this one
func (db *LayeredDB) Depth() int {
	depth := 0
	for l := db; l != nil; l = l.parent {
		depth++
	}
	return depth
}

// AccountCount returns the number of accounts held by this layer only
func (db *LayeredDB) AccountCount() int {
	return len(db.accounts)
}

// Accounts returns the addresses held by this layer only
func (db *LayeredDB) Accounts() []common.Address {
	addrs := make([]common.Address, 0, len(db.accounts))
	for addr := range db.accounts {
		addrs = append(addrs, addr)
	}
	return addrs
}

// AccountState returns the state of the top-most cached record of address
func (db *LayeredDB) AccountState(address common.Address) (AccountState, bool) {
	acc := db.lookupAccount(address)
	if acc == nil {
		return AccountLoaded, false
	}
	return acc.State, true
}

func (db *LayeredDB) lookupAccount(address common.Address) *DbAccount {
	for l := db; l != nil; l = l.parent {
		if acc, ok := l.accounts[address]; ok {
			return acc
		}
	}
	return nil
}

// lookupStorage walks the layers. found is false when no layer can answer.
func (db *LayeredDB) lookupStorage(address common.Address, slot uint256.Int) (value uint256.Int, found bool) {
	for l := db; l != nil; l = l.parent {
		acc, ok := l.accounts[address]
		if !ok {
			continue
		}
		if v, ok := acc.Storage[slot]; ok {
			return v, true
		}
		if acc.State.storageAuthoritative() {
			return uint256.Int{}, true
		}
	}
	return uint256.Int{}, false
}

// hasStorageSlot reports whether some layer holds slot explicitly
func (db *LayeredDB) hasStorageSlot(address common.Address, slot uint256.Int) bool {
	for l := db; l != nil; l = l.parent {
		acc, ok := l.accounts[address]
		if !ok {
			continue
		}
		if _, ok := acc.Storage[slot]; ok {
			return true
		}
		if acc.State.storageAuthoritative() {
			return false
		}
	}
	return false
}

func (db *LayeredDB) lookupCode(hash common.Hash) ([]byte, bool) {
	for l := db; l != nil; l = l.parent {
		if code, ok := l.contracts[hash]; ok {
			return code, true
		}
	}
	return nil, false
}

// Basic returns the account info, or nil if the account does not exist.
// A miss in every layer is fetched and cached in this overlay.
func (db *LayeredDB) Basic(ctx context.Context, address common.Address) (*AccountInfo, error) {
	if acc := db.lookupAccount(address); acc != nil {
		return acc.info(), nil
	}
	if db.fetcher == nil {
		return nil, nil
	}

	info, err := db.fetcher.Basic(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", address.Hex(), err)
	}
	if info == nil {
		db.accounts[address] = notExistingAccount()
		return nil, nil
	}

	cached := info.copy()
	db.insertContract(&cached)
	db.accounts[address] = newDbAccount(cached, AccountLoaded)
	out := cached.copy()
	return &out, nil
}

// Storage returns the slot value. Cleared or absent accounts read as zero
// without consulting lower layers or the fetcher.
func (db *LayeredDB) Storage(ctx context.Context, address common.Address, slot uint256.Int) (uint256.Int, error) {
	if v, found := db.lookupStorage(address, slot); found {
		return v, nil
	}
	if db.fetcher == nil {
		return uint256.Int{}, nil
	}

	if db.lookupAccount(address) == nil {
		if _, err := db.Basic(ctx, address); err != nil {
			return uint256.Int{}, err
		}
		if db.accounts[address].State == AccountNotExisting {
			return uint256.Int{}, nil
		}
	}

	value, err := db.fetcher.Storage(ctx, address, slot)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("fetch storage %s[%s]: %w", address.Hex(), slot.Hex(), err)
	}
	db.localAccount(address).Storage[slot] = value
	return value, nil
}

// CodeByHash resolves bytecode by its keccak hash
func (db *LayeredDB) CodeByHash(_ context.Context, hash common.Hash) ([]byte, error) {
	if code, ok := db.lookupCode(hash); ok {
		return code, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCodeNotFound, hash.Hex())
}

// localAccount returns the overlay record of address. A visible lower record
// whose storage falls through is copied without its slots; an authoritative
// one is cloned whole. Unknown accounts start as loaded zero records.
func (db *LayeredDB) localAccount(address common.Address) *DbAccount {
	if acc, ok := db.accounts[address]; ok {
		return acc
	}
	var acc *DbAccount
	if db.parent != nil {
		if lower := db.parent.lookupAccount(address); lower != nil {
			if lower.State.storageAuthoritative() {
				acc = lower.clone()
			} else {
				acc = newDbAccount(lower.Info.copy(), lower.State)
			}
		}
	}
	if acc == nil {
		acc = newDbAccount(AccountInfo{CodeHash: types.EmptyCodeHash}, AccountLoaded)
	}
	db.accounts[address] = acc
	return acc
}

// loadAccountForWrite makes sure the overlay holds address, fetching it on a
// miss so that a partial write does not hide the live record.
func (db *LayeredDB) loadAccountForWrite(ctx context.Context, address common.Address) (*DbAccount, error) {
	if acc, ok := db.accounts[address]; ok {
		return acc, nil
	}
	if db.lookupAccount(address) == nil && db.fetcher != nil {
		if _, err := db.Basic(ctx, address); err != nil {
			return nil, err
		}
	}
	return db.localAccount(address), nil
}

func (db *LayeredDB) insertContract(info *AccountInfo) {
	if len(info.Code) > 0 {
		if info.CodeHash == types.EmptyCodeHash || info.CodeHash == (common.Hash{}) {
			info.setCode(info.Code)
		}
		if _, ok := db.contracts[info.CodeHash]; !ok {
			db.contracts[info.CodeHash] = common.CopyBytes(info.Code)
		}
		return
	}
	if info.CodeHash == (common.Hash{}) {
		info.CodeHash = types.EmptyCodeHash
	}
}

// InsertContract registers the code of info, fixing its hash if needed
func (db *LayeredDB) InsertContract(info *AccountInfo) {
	db.insertContract(info)
}

// InsertAccountInfo sets the account info in the overlay
func (db *LayeredDB) InsertAccountInfo(address common.Address, info AccountInfo) {
	info = info.copy()
	db.insertContract(&info)
	acc := db.localAccount(address)
	acc.Info = info
	if acc.State == AccountNotExisting {
		acc.State = AccountTouched
	}
}

// InsertAccountStorage sets a single slot
func (db *LayeredDB) InsertAccountStorage(ctx context.Context, address common.Address, slot, value uint256.Int) error {
	acc, err := db.loadAccountForWrite(ctx, address)
	if err != nil {
		return err
	}
	acc.Storage[slot] = value
	if acc.State == AccountNotExisting {
		acc.State = AccountTouched
	}
	return nil
}

// ReplaceAccountStorage installs storage as the complete storage of the
// account. Slots not in storage read as zero afterwards.
func (db *LayeredDB) ReplaceAccountStorage(ctx context.Context, address common.Address, storage map[uint256.Int]uint256.Int) error {
	acc, err := db.loadAccountForWrite(ctx, address)
	if err != nil {
		return err
	}
	acc.State = AccountStorageCleared
	acc.Storage = make(map[uint256.Int]uint256.Int, len(storage))
	for k, v := range storage {
		acc.Storage[k] = v
	}
	return nil
}
