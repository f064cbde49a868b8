package decoder

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/mev-searcher/internal/dex/uniswapv2"
	"github.com/devlongs/mev-searcher/internal/dex/uniswapv3"
	"github.com/devlongs/mev-searcher/internal/state"
	"github.com/devlongs/mev-searcher/pkg/types"
)

var (
	weth    = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc    = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	knownV2 = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	newV2   = common.HexToAddress("0x397FF1542f962076d0BFE58eA045FfA2d347ACa0")
	garbage = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

func addressWord(a common.Address) uint256.Int {
	var v uint256.Int
	v.SetBytes(a.Bytes())
	return v
}

func swapLog(pool common.Address, index uint) ethtypes.Log {
	data := make([]byte, 128)
	big.NewInt(1000).FillBytes(data[0:32])
	big.NewInt(2000).FillBytes(data[96:128])
	return ethtypes.Log{
		Address: pool,
		Topics: []common.Hash{
			uniswapv2.SwapEventSignature,
			common.BytesToHash(common.HexToAddress("0x01").Bytes()),
			common.BytesToHash(common.HexToAddress("0x02").Bytes()),
		},
		Data:   data,
		Index:  index,
		TxHash: common.HexToHash("0xabc"),
	}
}

func syncLog(pool common.Address, index uint) ethtypes.Log {
	return ethtypes.Log{
		Address: pool,
		Topics:  []common.Hash{uniswapv2.SyncEventSignature},
		Data:    make([]byte, 64),
		Index:   index,
	}
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	db := state.NewLayeredDB(nil)
	require.NoError(t, db.InsertAccountStorage(ctx, newV2, uniswapv2.Token0Slot, addressWord(usdc)))
	require.NoError(t, db.InsertAccountStorage(ctx, newV2, uniswapv2.Token1Slot, addressWord(weth)))

	d := NewDecoder(uniswapv2.NewLoader(0, nil), nil)
	known := func(a common.Address) bool { return a == knownV2 }
	other := common.HexToAddress("0x1234")

	logs := []ethtypes.Log{
		swapLog(newV2, 3),
		syncLog(knownV2, 1),
		swapLog(knownV2, 2),
		syncLog(newV2, 4),
		syncLog(garbage, 5),
		{Address: other, Topics: []common.Hash{common.HexToHash("0xdead")}},
	}
	res := d.Collect(ctx, known, db, logs, []common.Address{knownV2, other})

	assert.Equal(t, []common.Address{knownV2}, res.Touched)
	require.Len(t, res.Discovered, 1)
	assert.Equal(t, newV2, res.Discovered[0].Address())
	assert.Equal(t, []common.Address{usdc, weth}, res.Discovered[0].Tokens())

	require.Len(t, res.Swaps, 2)
	assert.Equal(t, uint(2), res.Swaps[0].LogIndex, "logs are processed in order")
	assert.Equal(t, knownV2, res.Swaps[0].Pool)
	assert.Equal(t, "1000", res.Swaps[0].Amount0In.String())

	// the garbage address is not retried
	assert.True(t, d.rejected.Contains(garbage))
	res = d.Collect(ctx, known, db, []ethtypes.Log{syncLog(garbage, 0)}, nil)
	assert.Empty(t, res.Discovered)
	assert.Empty(t, res.Touched)
}

func TestCollect_DisabledProtocol(t *testing.T) {
	d := NewDecoder(nil, nil)
	res := d.Collect(context.Background(), func(common.Address) bool { return true }, state.NewLayeredDB(nil), []ethtypes.Log{swapLog(knownV2, 0)}, nil)
	assert.Empty(t, res.Touched)
	assert.Empty(t, res.Swaps)

	swap, err := d.DecodeSwapLog(swapLog(knownV2, 0))
	assert.NoError(t, err)
	assert.Nil(t, swap)
}

func TestDecodeSwapLog_V3(t *testing.T) {
	d := NewDecoder(nil, uniswapv3.NewLoader(nil))
	data := make([]byte, 160)
	// amount0 = -5 (two's complement), amount1 = 7
	for i := 0; i < 32; i++ {
		data[i] = 0xff
	}
	data[31] = 0xfb
	data[63] = 7
	l := ethtypes.Log{
		Address: knownV2,
		Topics: []common.Hash{
			uniswapv3.SwapEventSignature,
			common.BytesToHash(common.HexToAddress("0x01").Bytes()),
			common.BytesToHash(common.HexToAddress("0x02").Bytes()),
		},
		Data: data,
	}
	swap, err := d.DecodeSwapLog(l)
	require.NoError(t, err)
	require.NotNil(t, swap)
	assert.Equal(t, types.PoolClassUniswapV3.String(), swap.Protocol)
}

func TestGroupSwapsByTransaction(t *testing.T) {
	tx1, tx2 := common.HexToHash("0x01"), common.HexToHash("0x02")
	groups := GroupSwapsByTransaction([]types.Swap{
		{TxHash: tx1, LogIndex: 5},
		{TxHash: tx2, LogIndex: 1},
		{TxHash: tx1, LogIndex: 2},
	})
	require.Len(t, groups, 2)
	require.Len(t, groups[tx1], 2)
	assert.Equal(t, uint(2), groups[tx1][0].LogIndex)
}
