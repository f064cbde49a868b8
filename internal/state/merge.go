package state

import "github.com/ethereum/go-ethereum/common"

// The merge family folds an overlay into its parent. The old parent is never
// mutated; a fresh layer is built instead and returned wrapped in an empty
// overlay, so snapshots handed out earlier stay valid.

// MergeAll inserts or replaces every overlay account in the parent
func (db *LayeredDB) MergeAll() *LayeredDB {
	base := db.mergeBase()
	for addr, acc := range db.accounts {
		base.accounts[addr] = mergeAccount(base.lookupAccount(addr), acc)
	}
	return NewOverlay(base)
}

// MergeAccounts merges only accounts the parent chain already holds
func (db *LayeredDB) MergeAccounts() *LayeredDB {
	base := db.mergeBase()
	for addr, acc := range db.accounts {
		target := base.lookupAccount(addr)
		if target == nil {
			continue
		}
		base.accounts[addr] = mergeAccount(target, acc)
	}
	return NewOverlay(base)
}

// MergeCells overwrites only storage slots the parent chain already holds.
// Account info is left as it is in the parent.
func (db *LayeredDB) MergeCells() *LayeredDB {
	base := db.mergeBase()
	for addr, acc := range db.accounts {
		target := base.lookupAccount(addr)
		if target == nil {
			continue
		}
		var merged *DbAccount
		for slot, value := range acc.Storage {
			if !base.hasStorageSlot(addr, slot) {
				continue
			}
			if merged == nil {
				merged = target.clone()
			}
			merged.Storage[slot] = value
		}
		if merged != nil {
			base.accounts[addr] = merged
		}
	}
	return NewOverlay(base)
}

// mergeBase copies the top parent layer. Account records are shared with the
// old layer and must be cloned before modification.
func (db *LayeredDB) mergeBase() *LayeredDB {
	var base *LayeredDB
	if db.parent == nil {
		base = NewLayeredDB(db.fetcher)
	} else {
		p := db.parent
		base = &LayeredDB{
			accounts:  make(map[common.Address]*DbAccount, len(p.accounts)+len(db.accounts)),
			contracts: make(map[common.Hash][]byte, len(p.contracts)+len(db.contracts)),
			parent:    p.parent,
			fetcher:   db.fetcher,
		}
		for addr, acc := range p.accounts {
			base.accounts[addr] = acc
		}
		for hash, code := range p.contracts {
			base.contracts[hash] = code
		}
	}
	for hash, code := range db.contracts {
		base.contracts[hash] = code
	}
	return base
}

func mergeAccount(target, acc *DbAccount) *DbAccount {
	if target == nil || acc.State.storageAuthoritative() {
		return acc.clone()
	}
	merged := target.clone()
	merged.Info = acc.Info.copy()
	for slot, value := range acc.Storage {
		merged.Storage[slot] = value
	}
	merged.State = acc.State
	if target.State.storageAuthoritative() {
		merged.State = AccountStorageCleared
	}
	return merged
}
