package uniswapv2

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/pkg/types"
)

// Uniswap V2 Swap event signature
// event Swap(address indexed sender, uint amount0In, uint amount1In, uint amount0Out, uint amount1Out, address indexed to)
var SwapEventSignature = common.HexToHash("0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822")

// Sync event signature for reserve updates
// event Sync(uint112 reserve0, uint112 reserve1)
var SyncEventSignature = common.HexToHash("0x1c411e9a96e071241c2f21f7726b17ae89e3cab4c78be50e062b03a9fffbbad1")

// Common Uniswap V2 factory addresses
var (
	UniswapV2Factory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	SushiswapFactory = common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac")
)

// FactoryFees returns the pair fee in bps of the known factories
func FactoryFees() map[common.Address]uint32 {
	return map[common.Address]uint32{
		UniswapV2Factory: 30,
		SushiswapFactory: 30,
	}
}

// ErrNotPair is returned when an address does not hold a pair layout
var ErrNotPair = errors.New("not a uniswap v2 pair")

// DecodeSwapLog decodes a single swap log
func DecodeSwapLog(l ethtypes.Log) (*types.Swap, error) {
	if len(l.Topics) < 3 {
		return nil, fmt.Errorf("invalid swap log: expected 3 topics, got %d", len(l.Topics))
	}
	if l.Topics[0] != SwapEventSignature {
		return nil, fmt.Errorf("not a Uniswap V2 swap event")
	}
	if len(l.Data) < 128 {
		return nil, fmt.Errorf("invalid swap log data length: expected 128 bytes, got %d", len(l.Data))
	}

	return &types.Swap{
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		Pool:        l.Address,
		Protocol:    types.PoolClassUniswapV2.String(),
		Sender:      common.BytesToAddress(l.Topics[1].Bytes()),
		Recipient:   common.BytesToAddress(l.Topics[2].Bytes()),
		Amount0In:   new(big.Int).SetBytes(l.Data[0:32]),
		Amount1In:   new(big.Int).SetBytes(l.Data[32:64]),
		Amount0Out:  new(big.Int).SetBytes(l.Data[64:96]),
		Amount1Out:  new(big.Int).SetBytes(l.Data[96:128]),
	}, nil
}

// DecodeSyncLog returns the reserves announced by a Sync event
func DecodeSyncLog(l ethtypes.Log) (*big.Int, *big.Int, error) {
	if len(l.Topics) == 0 || l.Topics[0] != SyncEventSignature {
		return nil, nil, fmt.Errorf("not a Uniswap V2 sync event")
	}
	if len(l.Data) < 64 {
		return nil, nil, fmt.Errorf("invalid sync log data length: expected 64 bytes, got %d", len(l.Data))
	}
	return new(big.Int).SetBytes(l.Data[0:32]), new(big.Int).SetBytes(l.Data[32:64]), nil
}

// Loader builds pair adapters from the pair storage layout
type Loader struct {
	feeBps    uint32
	factories map[common.Address]uint32
}

// NewLoader creates a loader. Pairs of factories listed in fees use that
// fee, all others use defaultFeeBps.
func NewLoader(defaultFeeBps uint32, fees map[common.Address]uint32) *Loader {
	if defaultFeeBps == 0 {
		defaultFeeBps = DefaultFeeBps
	}
	return &Loader{feeBps: defaultFeeBps, factories: fees}
}

func (l *Loader) Class() types.PoolClass { return types.PoolClassUniswapV2 }

// Load reads token0, token1 and factory of the pair at address
func (l *Loader) Load(ctx context.Context, state types.StateReader, address common.Address) (types.Pool, error) {
	token0, err := readAddress(ctx, state, address, Token0Slot)
	if err != nil {
		return nil, fmt.Errorf("failed to get token0: %w", err)
	}
	token1, err := readAddress(ctx, state, address, Token1Slot)
	if err != nil {
		return nil, fmt.Errorf("failed to get token1: %w", err)
	}
	if token0 == (common.Address{}) || token1 == (common.Address{}) || token0 == token1 {
		return nil, fmt.Errorf("%w: %s", ErrNotPair, address.Hex())
	}
	factory, err := readAddress(ctx, state, address, FactorySlot)
	if err != nil {
		return nil, fmt.Errorf("failed to get factory: %w", err)
	}

	fee := l.feeBps
	if f, ok := l.factories[factory]; ok {
		fee = f
	}
	pool := NewPool(address, token0, token1, fee)
	pool.factory = factory

	log.Debug().
		Str("pool", address.Hex()).
		Str("token0", token0.Hex()).
		Str("token1", token1.Hex()).
		Uint32("fee_bps", fee).
		Msg("Loaded V2 pair")

	return pool, nil
}

func readAddress(ctx context.Context, state types.StateReader, address common.Address, slot uint256.Int) (common.Address, error) {
	word, err := state.Storage(ctx, address, slot)
	if err != nil {
		return common.Address{}, err
	}
	b := word.Bytes32()
	return common.BytesToAddress(b[12:]), nil
}
