package uniswapv2

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/devlongs/mev-searcher/pkg/types"
)

// Pair storage layout
var (
	FactorySlot  = *uint256.NewInt(5)
	Token0Slot   = *uint256.NewInt(6)
	Token1Slot   = *uint256.NewInt(7)
	ReservesSlot = *uint256.NewInt(8)
)

// DefaultFeeBps is the 0.3% fee of canonical pairs
const DefaultFeeBps = 30

// SwapGas is the gas a pair swap costs including the token transfers
const SwapGas = 90_000

var mask112 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 112), 1)

// Pool quotes a V2 pair against the reserves held in the state cache
type Pool struct {
	address common.Address
	token0  common.Address
	token1  common.Address
	feeBps  uint32
	factory common.Address
}

var _ types.Pool = (*Pool)(nil)

// NewPool creates a pair adapter. feeBps of zero means the default 30.
func NewPool(address, token0, token1 common.Address, feeBps uint32) *Pool {
	if feeBps == 0 {
		feeBps = DefaultFeeBps
	}
	return &Pool{address: address, token0: token0, token1: token1, feeBps: feeBps}
}

func (p *Pool) Address() common.Address    { return p.address }
func (p *Pool) Class() types.PoolClass     { return types.PoolClassUniswapV2 }
func (p *Pool) Tokens() []common.Address   { return []common.Address{p.token0, p.token1} }
func (p *Pool) Fee() uint32                { return p.feeBps }
func (p *Pool) Factory() common.Address    { return p.factory }
func (p *Pool) CanFlashSwap() bool         { return true }
func (p *Pool) CanCalculateInAmount() bool { return true }
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

// Reserves reads reserve0 and reserve1 from the packed reserves slot
func (p *Pool) Reserves(ctx context.Context, state types.StateReader) (*big.Int, *big.Int, error) {
	word, err := state.Storage(ctx, p.address, ReservesSlot)
	if err != nil {
		return nil, nil, fmt.Errorf("read reserves of %s: %w", p.address.Hex(), err)
	}
	r0 := new(uint256.Int).And(&word, mask112)
	r1 := new(uint256.Int).Rsh(&word, 112)
	r1.And(r1, mask112)
	return r0.ToBig(), r1.ToBig(), nil
}

func (p *Pool) orientedReserves(ctx context.Context, state types.StateReader, from, to common.Address) (*big.Int, *big.Int, error) {
	r0, r1, err := p.Reserves(ctx, state)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case from == p.token0 && to == p.token1:
		return r0, r1, nil
	case from == p.token1 && to == p.token0:
		return r1, r0, nil
	}
	return nil, nil, fmt.Errorf("%w: pair %s does not trade %s -> %s", ErrTokenMismatch, p.address.Hex(), from.Hex(), to.Hex())
}

func (p *Pool) CalculateOutAmount(ctx context.Context, state types.StateReader, _ types.EVMEnv, from, to common.Address, amountIn *big.Int) (*big.Int, uint64, error) {
	reserveIn, reserveOut, err := p.orientedReserves(ctx, state, from, to)
	if err != nil {
		return nil, 0, err
	}
	out, err := GetAmountOut(amountIn, reserveIn, reserveOut, p.feeBps)
	if err != nil {
		return nil, 0, err
	}
	return out, SwapGas, nil
}

func (p *Pool) CalculateInAmount(ctx context.Context, state types.StateReader, _ types.EVMEnv, from, to common.Address, amountOut *big.Int) (*big.Int, uint64, error) {
	reserveIn, reserveOut, err := p.orientedReserves(ctx, state, from, to)
	if err != nil {
		return nil, 0, err
	}
	in, err := GetAmountIn(amountOut, reserveIn, reserveOut, p.feeBps)
	if err != nil {
		return nil, 0, err
	}
	return in, SwapGas, nil
}

// PackReserves builds the reserves slot word as the pair stores it
func PackReserves(reserve0, reserve1 *big.Int, blockTimestampLast uint32) uint256.Int {
	var word, r uint256.Int
	r.SetFromBig(reserve0)
	word.And(&r, mask112)
	r.SetFromBig(reserve1)
	r.And(&r, mask112)
	r.Lsh(&r, 112)
	word.Or(&word, &r)
	r.SetUint64(uint64(blockTimestampLast))
	r.Lsh(&r, 224)
	word.Or(&word, &r)
	return word
}
