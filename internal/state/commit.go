package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// AccountStatus flags an account in an execution result
type AccountStatus uint8

const (
	StatusTouched AccountStatus = 1 << iota
	StatusCreated
	StatusSelfDestructed
)

func (s AccountStatus) Has(flag AccountStatus) bool { return s&flag != 0 }

// Account is a post-execution account with its present slot values
type Account struct {
	Info    AccountInfo
	Storage map[uint256.Int]uint256.Int
	Status  AccountStatus
}

// Commit applies execution results to the overlay. Untouched accounts are
// skipped, self-destructed ones become absent and created ones get fresh storage.
func (db *LayeredDB) Commit(changes map[common.Address]*Account) {
	for addr, change := range changes {
		if change == nil || !change.Status.Has(StatusTouched) {
			continue
		}
		acc := db.localAccount(addr)
		if change.Status.Has(StatusSelfDestructed) {
			acc.Info = AccountInfo{CodeHash: types.EmptyCodeHash}
			acc.Storage = make(map[uint256.Int]uint256.Int)
			acc.State = AccountNotExisting
			continue
		}

		info := change.Info.copy()
		db.insertContract(&info)
		acc.Info = info

		if change.Status.Has(StatusCreated) {
			acc.Storage = make(map[uint256.Int]uint256.Int, len(change.Storage))
			acc.State = AccountStorageCleared
		} else if acc.State != AccountStorageCleared {
			acc.State = AccountTouched
		}
		for slot, value := range change.Storage {
			acc.Storage[slot] = value
		}
	}
}
