package types

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInAmountUnsupported is returned by pools whose math cannot be inverted
var ErrInAmountUnsupported = errors.New("pool cannot calculate in amount")

// PoolClass identifies the protocol family of a pool
type PoolClass uint8

const (
	PoolClassUnknown PoolClass = iota
	PoolClassUniswapV2
	PoolClassUniswapV3
	PoolClassUniswapV4
	PoolClassCurve
)

func (c PoolClass) String() string {
	switch c {
	case PoolClassUniswapV2:
		return "uniswap_v2"
	case PoolClassUniswapV3:
		return "uniswap_v3"
	case PoolClassUniswapV4:
		return "uniswap_v4"
	case PoolClassCurve:
		return "curve"
	default:
		return "unknown"
	}
}

// SwapDirection is a tradeable (from, to) pair of a pool
type SwapDirection struct {
	From common.Address
	To   common.Address
}

// Reverse returns the opposite direction
func (d SwapDirection) Reverse() SwapDirection {
	return SwapDirection{From: d.To, To: d.From}
}

// StateReader is the read side of the state cache pools quote against.
// Reads may fall through to a live fetcher and therefore take a context.
type StateReader interface {
	Storage(ctx context.Context, address common.Address, slot uint256.Int) (uint256.Int, error)
}

// ABIEncoder builds executable calldata for a pool swap.
// amountIn or amountOut may be nil when the protocol does not use it.
type ABIEncoder interface {
	EncodeSwap(from, to common.Address, amountIn, amountOut *big.Int, recipient common.Address, payload []byte) ([]byte, error)
}

// Pool is the capability set every DEX adapter implements. Pools are
// immutable after construction; their enabled status lives in the market.
type Pool interface {
	Address() common.Address
	Class() PoolClass
	Tokens() []common.Address
	// SwapDirections lists tradeable pairs. They need not be symmetric.
	SwapDirections() []SwapDirection
	// Fee in the protocol's native unit (bps for V2, hundredths of a bip for V3)
	Fee() uint32
	CanFlashSwap() bool
	CanCalculateInAmount() bool
	IsNative() bool

	// CalculateOutAmount quotes amountIn of from into to without mutating state.
	// It returns the output amount and the gas the swap would use.
	CalculateOutAmount(ctx context.Context, state StateReader, env EVMEnv, from, to common.Address, amountIn *big.Int) (*big.Int, uint64, error)
	// CalculateInAmount returns the input of from needed to receive amountOut of to.
	CalculateInAmount(ctx context.Context, state StateReader, env EVMEnv, from, to common.Address, amountOut *big.Int) (*big.Int, uint64, error)

	ABIEncoder() ABIEncoder
}
