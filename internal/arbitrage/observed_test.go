package arbitrage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/mev-searcher/pkg/types"
)

func TestDetectCycles(t *testing.T) {
	tokens := map[common.Address][]common.Address{
		poolP1: {tokenW, tokenX},
		poolP2: {tokenX, tokenY},
		poolP3: {tokenY, tokenW},
	}
	tokensOf := func(a common.Address) []common.Address { return tokens[a] }
	zero := new(big.Int)
	tx1, tx2, tx3 := common.HexToHash("0x01"), common.HexToHash("0x02"), common.HexToHash("0x03")
	bot := common.HexToAddress("0xb0")

	swaps := []types.Swap{
		// tx1: W -> X -> Y -> W, logged out of order
		{TxHash: tx1, LogIndex: 3, Pool: poolP3, Amount0In: big.NewInt(90), Amount1In: zero, Amount0Out: zero, Amount1Out: big.NewInt(110)},
		{TxHash: tx1, LogIndex: 1, Pool: poolP1, Sender: bot, Amount0In: big.NewInt(100), Amount1In: zero, Amount0Out: zero, Amount1Out: big.NewInt(95)},
		{TxHash: tx1, LogIndex: 2, Pool: poolP2, Amount0In: big.NewInt(95), Amount1In: zero, Amount0Out: zero, Amount1Out: big.NewInt(90)},
		// tx2: a plain swap
		{TxHash: tx2, LogIndex: 4, Pool: poolP1, Amount0In: big.NewInt(1), Amount1In: zero, Amount0Out: zero, Amount1Out: big.NewInt(2)},
		// tx3: a losing round trip through an unknown pool
		{TxHash: tx3, LogIndex: 5, Pool: poolP1, Amount0In: big.NewInt(10), Amount1In: zero, Amount0Out: zero, Amount1Out: big.NewInt(20)},
		{TxHash: tx3, LogIndex: 6, Pool: poolP6, Amount0In: zero, Amount1In: big.NewInt(20), Amount0Out: big.NewInt(11), Amount1Out: zero},
	}

	cycles := DetectCycles(swaps, tokensOf)
	require.Len(t, cycles, 1)
	c := cycles[0]
	assert.Equal(t, tx1, c.TxHash)
	assert.Equal(t, bot, c.Arbitrageur)
	assert.Equal(t, tokenW, c.Token)
	assert.Equal(t, []common.Address{poolP1, poolP2, poolP3}, c.Pools)
	assert.Equal(t, "10", c.Profit.String())
}

func TestDetectCycles_Unprofitable(t *testing.T) {
	tokens := map[common.Address][]common.Address{
		poolP1: {tokenW, tokenX},
		poolP4: {tokenW, tokenX},
	}
	zero := new(big.Int)
	tx := common.HexToHash("0x01")
	swaps := []types.Swap{
		{TxHash: tx, LogIndex: 0, Pool: poolP1, Amount0In: big.NewInt(100), Amount1In: zero, Amount0Out: zero, Amount1Out: big.NewInt(200)},
		{TxHash: tx, LogIndex: 1, Pool: poolP4, Amount0In: zero, Amount1In: big.NewInt(200), Amount0Out: big.NewInt(99), Amount1Out: zero},
	}
	assert.Empty(t, DetectCycles(swaps, func(a common.Address) []common.Address { return tokens[a] }))
}
