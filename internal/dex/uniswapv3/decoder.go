package uniswapv3

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/pkg/types"
)

// Uniswap V3 Swap event signature
// event Swap(address indexed sender, address indexed recipient, int256 amount0, int256 amount1, uint160 sqrtPriceX96, uint128 liquidity, int24 tick)
var SwapEventSignature = common.HexToHash("0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67")

// Common Uniswap V3 factory address
var UniswapV3Factory = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")

var (
	// ErrTokenMismatch is returned when the pool does not trade the requested tokens
	ErrTokenMismatch = errors.New("token mismatch")
	// ErrInvalidAmount is returned for nil or negative amounts
	ErrInvalidAmount = errors.New("amount must be non-nil and non-negative")
)

// DecodeSwapLog decodes a single V3 swap log into V2-style in/out amounts
func DecodeSwapLog(l ethtypes.Log) (*types.Swap, error) {
	if len(l.Topics) < 3 {
		return nil, fmt.Errorf("invalid swap log: expected 3 topics, got %d", len(l.Topics))
	}
	if l.Topics[0] != SwapEventSignature {
		return nil, fmt.Errorf("not a Uniswap V3 swap event")
	}
	// amount0 (int256), amount1 (int256), sqrtPriceX96 (uint160), liquidity (uint128), tick (int24)
	if len(l.Data) < 160 {
		return nil, fmt.Errorf("invalid swap log data length: expected 160 bytes, got %d", len(l.Data))
	}

	amount0 := signedWord(l.Data[0:32])
	amount1 := signedWord(l.Data[32:64])

	swap := &types.Swap{
		TxHash:       l.TxHash,
		BlockNumber:  l.BlockNumber,
		LogIndex:     l.Index,
		Pool:         l.Address,
		Protocol:     types.PoolClassUniswapV3.String(),
		Sender:       common.BytesToAddress(l.Topics[1].Bytes()),
		Recipient:    common.BytesToAddress(l.Topics[2].Bytes()),
		SqrtPriceX96: new(big.Int).SetBytes(l.Data[64:96]),
		Liquidity:    new(big.Int).SetBytes(l.Data[96:128]),
		Tick:         signedWord(l.Data[128:160]),
	}
	// positive amounts went into the pool
	swap.Amount0In, swap.Amount0Out = splitSigned(amount0)
	swap.Amount1In, swap.Amount1Out = splitSigned(amount1)
	return swap, nil
}

func signedWord(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if b[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return v
}

func splitSigned(v *big.Int) (in, out *big.Int) {
	if v.Sign() > 0 {
		return new(big.Int).Set(v), new(big.Int)
	}
	return new(big.Int), new(big.Int).Neg(v)
}

// Loader builds pool adapters by calling the immutable getters of the pool
type Loader struct {
	caller ethereum.ContractCaller
}

func NewLoader(caller ethereum.ContractCaller) *Loader {
	return &Loader{caller: caller}
}

func (l *Loader) Class() types.PoolClass { return types.PoolClassUniswapV3 }

// Load fetches token0, token1 and fee. Token and fee are immutables, so the
// state cache cannot answer them.
func (l *Loader) Load(ctx context.Context, _ types.StateReader, address common.Address) (types.Pool, error) {
	token0, err := l.callAddress(ctx, address, "0dfe1681") // token0()
	if err != nil {
		return nil, fmt.Errorf("failed to get token0: %w", err)
	}
	token1, err := l.callAddress(ctx, address, "d21220a7") // token1()
	if err != nil {
		return nil, fmt.Errorf("failed to get token1: %w", err)
	}
	fee, err := l.callFee(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get fee: %w", err)
	}

	log.Debug().
		Str("pool", address.Hex()).
		Str("token0", token0.Hex()).
		Str("token1", token1.Hex()).
		Uint32("fee", fee).
		Msg("Loaded V3 pool")

	return NewPool(address, token0, token1, fee), nil
}

func (l *Loader) call(ctx context.Context, address common.Address, selector string) ([]byte, error) {
	msg := ethereum.CallMsg{
		To:   &address,
		Data: common.Hex2Bytes(selector),
	}
	result, err := l.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	if len(result) < 32 {
		return nil, fmt.Errorf("invalid response to %s: %d bytes", selector, len(result))
	}
	return result, nil
}

func (l *Loader) callAddress(ctx context.Context, address common.Address, selector string) (common.Address, error) {
	result, err := l.call(ctx, address, selector)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(result[12:32]), nil
}

// callFee calls fee() (selector 0xddca3f43)
func (l *Loader) callFee(ctx context.Context, address common.Address) (uint32, error) {
	result, err := l.call(ctx, address, "ddca3f43")
	if err != nil {
		return 0, err
	}
	return uint32(new(big.Int).SetBytes(result[:32]).Uint64()), nil
}
