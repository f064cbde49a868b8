package uniswapv2

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const pairABI = `[{"inputs":[{"name":"amount0Out","type":"uint256"},{"name":"amount1Out","type":"uint256"},{"name":"to","type":"address"},{"name":"data","type":"bytes"}],"name":"swap","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var parsedPairABI = mustParseABI(pairABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ErrAmountOutRequired is returned when encoding a pair swap without its output
var ErrAmountOutRequired = errors.New("pair swap requires amountOut")

type encoder struct {
	pool *Pool
}

// EncodeSwap encodes swap(amount0Out, amount1Out, to, data). The pair pays
// out first, so only amountOut is used; a non-empty payload triggers the
// flash-swap callback.
func (e encoder) EncodeSwap(from, to common.Address, _, amountOut *big.Int, recipient common.Address, payload []byte) ([]byte, error) {
	if amountOut == nil {
		return nil, ErrAmountOutRequired
	}
	amount0Out, amount1Out := new(big.Int), new(big.Int)
	switch {
	case from == e.pool.token0 && to == e.pool.token1:
		amount1Out.Set(amountOut)
	case from == e.pool.token1 && to == e.pool.token0:
		amount0Out.Set(amountOut)
	default:
		return nil, ErrTokenMismatch
	}
	if payload == nil {
		payload = []byte{}
	}
	return parsedPairABI.Pack("swap", amount0Out, amount1Out, recipient, payload)
}
