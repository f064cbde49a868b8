package uniswapv3

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/devlongs/mev-searcher/pkg/types"
)

// Pool storage layout
var (
	Slot0Slot     = *uint256.NewInt(0)
	LiquiditySlot = *uint256.NewInt(4)
)

// SwapGas is a conservative single-range swap cost
const SwapGas = 130_000

var (
	q96       = new(big.Int).Lsh(big.NewInt(1), 96)
	feeUnits  = big.NewInt(1_000_000)
	mask160   = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 160), 1)
	mask128   = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
	mask24    = uint256.NewInt(0xffffff)
	tickRange = int32(1 << 24)
)

// Slot0 is the price part of the pool state
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int32
}

// Pool quotes a V3 pool within its active tick range. The quote treats the
// current liquidity as constant for the whole swap, so it is exact only
// while no initialized tick is crossed.
type Pool struct {
	address common.Address
	token0  common.Address
	token1  common.Address
	fee     uint32
}

var _ types.Pool = (*Pool)(nil)

// NewPool creates a pool adapter. fee is in hundredths of a bip (3000 = 0.3%).
func NewPool(address, token0, token1 common.Address, fee uint32) *Pool {
	return &Pool{address: address, token0: token0, token1: token1, fee: fee}
}

func (p *Pool) Address() common.Address    { return p.address }
func (p *Pool) Class() types.PoolClass     { return types.PoolClassUniswapV3 }
func (p *Pool) Tokens() []common.Address   { return []common.Address{p.token0, p.token1} }
func (p *Pool) Fee() uint32                { return p.fee }
func (p *Pool) CanFlashSwap() bool         { return true }
func (p *Pool) CanCalculateInAmount() bool { return false }
func (p *Pool) IsNative() bool             { return false }

func (p *Pool) SwapDirections() []types.SwapDirection {
	return []types.SwapDirection{
		{From: p.token0, To: p.token1},
		{From: p.token1, To: p.token0},
	}
}

func (p *Pool) ABIEncoder() types.ABIEncoder {
	return encoder{pool: p}
}

// Slot0 decodes sqrtPriceX96 and tick from storage
func (p *Pool) Slot0(ctx context.Context, state types.StateReader) (Slot0, error) {
	word, err := state.Storage(ctx, p.address, Slot0Slot)
	if err != nil {
		return Slot0{}, fmt.Errorf("read slot0 of %s: %w", p.address.Hex(), err)
	}
	sqrtPrice := new(uint256.Int).And(&word, mask160)
	rawTick := new(uint256.Int).Rsh(&word, 160)
	rawTick.And(rawTick, mask24)

	tick := int32(rawTick.Uint64())
	if tick >= tickRange/2 {
		tick -= tickRange
	}
	return Slot0{SqrtPriceX96: sqrtPrice.ToBig(), Tick: tick}, nil
}

// Liquidity returns the in-range liquidity
func (p *Pool) Liquidity(ctx context.Context, state types.StateReader) (*big.Int, error) {
	word, err := state.Storage(ctx, p.address, LiquiditySlot)
	if err != nil {
		return nil, fmt.Errorf("read liquidity of %s: %w", p.address.Hex(), err)
	}
	return new(uint256.Int).And(&word, mask128).ToBig(), nil
}

func (p *Pool) zeroForOne(from, to common.Address) (bool, error) {
	switch {
	case from == p.token0 && to == p.token1:
		return true, nil
	case from == p.token1 && to == p.token0:
		return false, nil
	}
	return false, fmt.Errorf("%w: pool %s does not trade %s -> %s", ErrTokenMismatch, p.address.Hex(), from.Hex(), to.Hex())
}

func (p *Pool) CalculateOutAmount(ctx context.Context, state types.StateReader, _ types.EVMEnv, from, to common.Address, amountIn *big.Int) (*big.Int, uint64, error) {
	zeroForOne, err := p.zeroForOne(from, to)
	if err != nil {
		return nil, 0, err
	}
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, 0, ErrInvalidAmount
	}
	slot0, err := p.Slot0(ctx, state)
	if err != nil {
		return nil, 0, err
	}
	liquidity, err := p.Liquidity(ctx, state)
	if err != nil {
		return nil, 0, err
	}
	return GetAmountOut(amountIn, slot0.SqrtPriceX96, liquidity, p.fee, zeroForOne), SwapGas, nil
}

func (p *Pool) CalculateInAmount(context.Context, types.StateReader, types.EVMEnv, common.Address, common.Address, *big.Int) (*big.Int, uint64, error) {
	return nil, 0, fmt.Errorf("%w: uniswap v3 %s", types.ErrInAmountUnsupported, p.address.Hex())
}

// GetAmountOut swaps amountIn within a single liquidity range
func GetAmountOut(amountIn, sqrtPriceX96, liquidity *big.Int, fee uint32, zeroForOne bool) *big.Int {
	if amountIn.Sign() == 0 || sqrtPriceX96.Sign() == 0 || liquidity.Sign() == 0 {
		return new(big.Int)
	}
	amountLessFee := new(big.Int).Mul(amountIn, new(big.Int).Sub(feeUnits, big.NewInt(int64(fee))))
	amountLessFee.Div(amountLessFee, feeUnits)

	if zeroForOne {
		// next = ceil(L*Q96*sqrtP / (L*Q96 + amount*sqrtP))
		numerator := new(big.Int).Mul(liquidity, q96)
		denominator := new(big.Int).Mul(amountLessFee, sqrtPriceX96)
		denominator.Add(denominator, numerator)
		next := mulDivRoundingUp(numerator, sqrtPriceX96, denominator)

		// out = L * (sqrtP - next) / Q96
		out := new(big.Int).Sub(sqrtPriceX96, next)
		out.Mul(out, liquidity)
		return out.Div(out, q96)
	}

	// next = sqrtP + amount*Q96/L
	next := new(big.Int).Mul(amountLessFee, q96)
	next.Div(next, liquidity)
	next.Add(next, sqrtPriceX96)

	// out = (L*Q96*(next - sqrtP) / next) / sqrtP
	out := new(big.Int).Sub(next, sqrtPriceX96)
	out.Mul(out, liquidity)
	out.Mul(out, q96)
	out.Div(out, next)
	return out.Div(out, sqrtPriceX96)
}

func mulDivRoundingUp(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	quotient, remainder := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if remainder.Sign() != 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient
}

// PackSlot0 builds the slot0 word for sqrtPriceX96 and tick, other fields zero
func PackSlot0(sqrtPriceX96 *big.Int, tick int32) uint256.Int {
	var word, t uint256.Int
	word.SetFromBig(sqrtPriceX96)
	word.And(&word, mask160)
	if tick < 0 {
		tick += tickRange
	}
	t.SetUint64(uint64(tick))
	t.Lsh(&t, 160)
	word.Or(&word, &t)
	return word
}
