package state

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// AccountState describes how authoritative a cached account record is.
type AccountState uint8

const (
	// AccountLoaded is a record read from a lower layer or the fetcher.
	// Missing storage slots fall through.
	AccountLoaded AccountState = iota
	// AccountNotExisting is an account known to be absent. Storage reads
	// short-circuit to zero.
	AccountNotExisting
	// AccountTouched is a record modified locally. Missing storage slots fall through.
	AccountTouched
	// AccountStorageCleared is a record whose storage map is complete.
	// Missing slots read as zero without consulting lower layers.
	AccountStorageCleared
)

func (s AccountState) String() string {
	switch s {
	case AccountNotExisting:
		return "not_existing"
	case AccountTouched:
		return "touched"
	case AccountStorageCleared:
		return "storage_cleared"
	default:
		return "loaded"
	}
}

// storageAuthoritative reports whether missing slots must read as zero
func (s AccountState) storageAuthoritative() bool {
	return s == AccountNotExisting || s == AccountStorageCleared
}

// AccountInfo is the basic account record
type AccountInfo struct {
	Balance  uint256.Int
	Nonce    uint64
	CodeHash common.Hash
	// Code is optional; it can always be resolved through CodeHash
	Code []byte
}

// NewAccountInfo builds an info record with a consistent code hash
func NewAccountInfo(balance *uint256.Int, nonce uint64, code []byte) AccountInfo {
	info := AccountInfo{Nonce: nonce}
	if balance != nil {
		info.Balance = *balance
	}
	info.setCode(code)
	return info
}

func (i *AccountInfo) setCode(code []byte) {
	if len(code) == 0 {
		i.Code = nil
		i.CodeHash = types.EmptyCodeHash
		return
	}
	i.Code = common.CopyBytes(code)
	i.CodeHash = crypto.Keccak256Hash(code)
}

// HasCode reports whether the account carries bytecode
func (i *AccountInfo) HasCode() bool {
	return i.CodeHash != types.EmptyCodeHash && i.CodeHash != (common.Hash{})
}

// IsEmpty follows EIP-161: zero nonce, zero balance, no code
func (i *AccountInfo) IsEmpty() bool {
	return i.Nonce == 0 && i.Balance.IsZero() && !i.HasCode()
}

func (i AccountInfo) copy() AccountInfo {
	i.Code = common.CopyBytes(i.Code)
	return i
}

// DbAccount is one cached account with its storage overrides
type DbAccount struct {
	Info    AccountInfo
	State   AccountState
	Storage map[uint256.Int]uint256.Int
}

func newDbAccount(info AccountInfo, state AccountState) *DbAccount {
	return &DbAccount{
		Info:    info,
		State:   state,
		Storage: make(map[uint256.Int]uint256.Int),
	}
}

func notExistingAccount() *DbAccount {
	return newDbAccount(AccountInfo{CodeHash: types.EmptyCodeHash}, AccountNotExisting)
}

// info returns nil for absent accounts
func (a *DbAccount) info() *AccountInfo {
	if a.State == AccountNotExisting {
		return nil
	}
	info := a.Info.copy()
	return &info
}

func (a *DbAccount) clone() *DbAccount {
	c := &DbAccount{
		Info:    a.Info.copy(),
		State:   a.State,
		Storage: make(map[uint256.Int]uint256.Int, len(a.Storage)),
	}
	for k, v := range a.Storage {
		c.Storage[k] = v
	}
	return c
}

// Fetcher is the live-chain fallback consulted on a cache miss
type Fetcher interface {
	// Basic returns nil for an account that does not exist
	Basic(ctx context.Context, address common.Address) (*AccountInfo, error)
	Storage(ctx context.Context, address common.Address, slot uint256.Int) (uint256.Int, error)
}
