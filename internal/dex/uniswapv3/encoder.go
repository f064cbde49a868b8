package uniswapv3

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const poolABI = `[{"inputs":[{"name":"recipient","type":"address"},{"name":"zeroForOne","type":"bool"},{"name":"amountSpecified","type":"int256"},{"name":"sqrtPriceLimitX96","type":"uint160"},{"name":"data","type":"bytes"}],"name":"swap","outputs":[{"name":"amount0","type":"int256"},{"name":"amount1","type":"int256"}],"stateMutability":"nonpayable","type":"function"}]`

var (
	parsedPoolABI = mustParseABI(poolABI)

	// price limits that let a swap run to completion in either direction
	minSqrtRatioPlusOne  = big.NewInt(4295128740)
	maxSqrtRatioMinusOne = mustBig("1461446703485210103287273052203988822378723970341")

	// ErrAmountInRequired is returned when encoding an exact-input swap without its input
	ErrAmountInRequired = errors.New("v3 swap requires amountIn")
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid big integer " + s)
	}
	return n
}

type encoder struct {
	pool *Pool
}

// EncodeSwap encodes an exact-input swap(recipient, zeroForOne, amountSpecified, sqrtPriceLimitX96, data)
func (e encoder) EncodeSwap(from, to common.Address, amountIn, _ *big.Int, recipient common.Address, payload []byte) ([]byte, error) {
	if amountIn == nil {
		return nil, ErrAmountInRequired
	}
	zeroForOne, err := e.pool.zeroForOne(from, to)
	if err != nil {
		return nil, err
	}
	limit := maxSqrtRatioMinusOne
	if zeroForOne {
		limit = minSqrtRatioPlusOne
	}
	if payload == nil {
		payload = []byte{}
	}
	return parsedPoolABI.Pack("swap", recipient, zeroForOne, new(big.Int).Set(amountIn), limit, payload)
}
