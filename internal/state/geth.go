package state

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// GethAccountState is one account entry of a prestateTracer diff.
// Absent fields are left untouched when applied.
type GethAccountState struct {
	Balance *hexutil.Big                `json:"balance,omitempty"`
	Nonce   *uint64                     `json:"nonce,omitempty"`
	Code    hexutil.Bytes               `json:"code,omitempty"`
	Storage map[common.Hash]common.Hash `json:"storage,omitempty"`
}

// GethStateUpdate is the post-state half of a block diff
type GethStateUpdate map[common.Address]GethAccountState

// Addresses returns the accounts touched by the update
func (u GethStateUpdate) Addresses() []common.Address {
	out := make([]common.Address, 0, len(u))
	for addr := range u {
		out = append(out, addr)
	}
	return out
}

// HashToUint converts a storage key or word to its integer form
func HashToUint(h common.Hash) uint256.Int {
	var v uint256.Int
	v.SetBytes32(h[:])
	return v
}

// ApplyGethUpdate writes every slot of every account, then the fields that
// are present. Accounts end up touched unless their storage was already
// authoritative. Applying the same update twice is a no-op.
func (db *LayeredDB) ApplyGethUpdate(ctx context.Context, update GethStateUpdate) error {
	for addr, diff := range update {
		for slot, value := range diff.Storage {
			if err := db.InsertAccountStorage(ctx, addr, HashToUint(slot), HashToUint(value)); err != nil {
				return fmt.Errorf("apply storage of %s: %w", addr.Hex(), err)
			}
		}

		acc, err := db.loadAccountForWrite(ctx, addr)
		if err != nil {
			return fmt.Errorf("apply account %s: %w", addr.Hex(), err)
		}
		if diff.Code != nil {
			acc.Info.setCode(diff.Code)
			db.insertContract(&acc.Info)
		}
		if diff.Nonce != nil {
			acc.Info.Nonce = *diff.Nonce
		}
		if diff.Balance != nil {
			acc.Info.Balance.SetFromBig((*big.Int)(diff.Balance))
		}
		if acc.State != AccountStorageCleared {
			acc.State = AccountTouched
		}
	}
	return nil
}

// ApplyGethUpdates applies a sequence of updates in order
func (db *LayeredDB) ApplyGethUpdates(ctx context.Context, updates []GethStateUpdate) error {
	for _, u := range updates {
		if err := db.ApplyGethUpdate(ctx, u); err != nil {
			return err
		}
	}
	return nil
}
