package eth

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/state"
)

// AccountReader is the subset of the client the state fetcher uses
type AccountReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// StateFetcher serves state cache misses from the node at a fixed block
type StateFetcher struct {
	reader AccountReader
	block  *big.Int
}

var _ state.Fetcher = (*StateFetcher)(nil)

// NewStateFetcher pins reads to block; nil reads the latest state
func NewStateFetcher(reader AccountReader, block *big.Int) *StateFetcher {
	f := &StateFetcher{reader: reader}
	if block != nil {
		f.block = new(big.Int).Set(block)
	}
	return f
}

// Basic returns nil for an empty account, which is indistinguishable from an
// absent one over RPC
func (f *StateFetcher) Basic(ctx context.Context, address common.Address) (*state.AccountInfo, error) {
	balance, err := f.reader.BalanceAt(ctx, address, f.block)
	if err != nil {
		return nil, err
	}
	nonce, err := f.reader.NonceAt(ctx, address, f.block)
	if err != nil {
		return nil, err
	}
	code, err := f.reader.CodeAt(ctx, address, f.block)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 && nonce == 0 && len(code) == 0 {
		return nil, nil
	}

	b, overflow := uint256.FromBig(balance)
	if overflow {
		log.Warn().Str("account", address.Hex()).Str("balance", balance.String()).Msg("Balance overflows 256 bits")
	}
	info := state.NewAccountInfo(b, nonce, code)
	return &info, nil
}

func (f *StateFetcher) Storage(ctx context.Context, address common.Address, slot uint256.Int) (uint256.Int, error) {
	raw, err := f.reader.StorageAt(ctx, address, common.Hash(slot.Bytes32()), f.block)
	if err != nil {
		return uint256.Int{}, err
	}
	var v uint256.Int
	v.SetBytes(raw)
	return v, nil
}
