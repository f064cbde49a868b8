package arbitrage

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devlongs/mev-searcher/pkg/types"
)

// ObservedCycle is a cyclic arbitrage some other searcher landed in the block
type ObservedCycle struct {
	TxHash      common.Hash
	Arbitrageur common.Address
	Token       common.Address
	Pools       []common.Address
	AmountIn    *big.Int
	AmountOut   *big.Int
	Profit      *big.Int
}

// TokensFunc resolves the token0/token1 pair of a pool, nil if unknown
type TokensFunc func(pool common.Address) []common.Address

type tokenFlow struct {
	tokenIn   common.Address
	tokenOut  common.Address
	amountIn  *big.Int
	amountOut *big.Int
}

// flowOf orients a swap by which side received tokens
func flowOf(s types.Swap, tokens []common.Address) (tokenFlow, bool) {
	if len(tokens) != 2 {
		return tokenFlow{}, false
	}
	positive := func(v *big.Int) bool { return v != nil && v.Sign() > 0 }
	switch {
	case positive(s.Amount0In) && positive(s.Amount1Out):
		return tokenFlow{tokens[0], tokens[1], s.Amount0In, s.Amount1Out}, true
	case positive(s.Amount1In) && positive(s.Amount0Out):
		return tokenFlow{tokens[1], tokens[0], s.Amount1In, s.Amount0Out}, true
	}
	return tokenFlow{}, false
}

// DetectCycles finds transactions whose swaps form a connected profitable
// cycle. Swaps of pools the market does not know break the chain.
func DetectCycles(swaps []types.Swap, tokensOf TokensFunc) []ObservedCycle {
	byTx := make(map[common.Hash][]types.Swap)
	var order []common.Hash
	for _, s := range swaps {
		if _, ok := byTx[s.TxHash]; !ok {
			order = append(order, s.TxHash)
		}
		byTx[s.TxHash] = append(byTx[s.TxHash], s)
	}

	var cycles []ObservedCycle
	for _, tx := range order {
		txSwaps := byTx[tx]
		if len(txSwaps) < 2 {
			continue
		}
		sort.Slice(txSwaps, func(i, j int) bool { return txSwaps[i].LogIndex < txSwaps[j].LogIndex })
		if c, ok := detectCycle(txSwaps, tokensOf); ok {
			cycles = append(cycles, c)
		}
	}
	return cycles
}

func detectCycle(swaps []types.Swap, tokensOf TokensFunc) (ObservedCycle, bool) {
	flows := make([]tokenFlow, 0, len(swaps))
	pools := make([]common.Address, 0, len(swaps))
	for _, s := range swaps {
		f, ok := flowOf(s, tokensOf(s.Pool))
		if !ok {
			return ObservedCycle{}, false
		}
		flows = append(flows, f)
		pools = append(pools, s.Pool)
	}

	first, last := flows[0], flows[len(flows)-1]
	if first.tokenIn != last.tokenOut {
		return ObservedCycle{}, false
	}
	for i := 0; i < len(flows)-1; i++ {
		if flows[i].tokenOut != flows[i+1].tokenIn {
			return ObservedCycle{}, false
		}
	}
	if last.amountOut.Cmp(first.amountIn) <= 0 {
		return ObservedCycle{}, false
	}

	return ObservedCycle{
		TxHash:      swaps[0].TxHash,
		Arbitrageur: swaps[0].Sender,
		Token:       first.tokenIn,
		Pools:       pools,
		AmountIn:    new(big.Int).Set(first.amountIn),
		AmountOut:   new(big.Int).Set(last.amountOut),
		Profit:      new(big.Int).Sub(last.amountOut, first.amountIn),
	}, true
}
