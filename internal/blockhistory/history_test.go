package blockhistory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/mev-searcher/internal/state"
)

var (
	pair = common.HexToAddress("0x70")
	slot = common.BigToHash(big.NewInt(8))
)

type fakeChain struct {
	headers  map[common.Hash]*types.Header
	diffs    map[common.Hash][]state.GethStateUpdate
	traceErr map[common.Hash]error
	fetched  int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		headers:  make(map[common.Hash]*types.Header),
		diffs:    make(map[common.Hash][]state.GethStateUpdate),
		traceErr: make(map[common.Hash]error),
	}
}

// block adds a header on top of parent writing value into the pair's slot
func (c *fakeChain) block(parent *types.Header, value int64, extra byte) *types.Header {
	h := &types.Header{
		Number:     big.NewInt(1),
		Time:       1_700_000_000,
		Difficulty: new(big.Int),
		Extra:      []byte{extra},
	}
	if parent != nil {
		h.Number = new(big.Int).Add(parent.Number, big.NewInt(1))
		h.ParentHash = parent.Hash()
		h.Time = parent.Time + 12
	}
	c.headers[h.Hash()] = h
	c.diffs[h.Hash()] = []state.GethStateUpdate{{
		pair: {Storage: map[common.Hash]common.Hash{slot: common.BigToHash(big.NewInt(value))}},
	}}
	return h
}

func (c *fakeChain) HeaderByHash(_ context.Context, hash common.Hash) (*types.Header, error) {
	c.fetched++
	h, ok := c.headers[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return h, nil
}

func (c *fakeChain) BlockLogs(_ context.Context, hash common.Hash) ([]types.Log, error) {
	return []types.Log{{Address: pair, BlockHash: hash}}, nil
}

func (c *fakeChain) TraceBlockStateDiff(_ context.Context, hash common.Hash) ([]state.GethStateUpdate, error) {
	if err := c.traceErr[hash]; err != nil {
		return nil, err
	}
	return c.diffs[hash], nil
}

func slotValue(t *testing.T, h *History, hash common.Hash) uint64 {
	t.Helper()
	db, err := h.StateAt(hash)
	require.NoError(t, err)
	v, err := db.Storage(context.Background(), pair, state.HashToUint(slot))
	require.NoError(t, err)
	return v.Uint64()
}

func newHistory(chain *fakeChain, depth int) (*History, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return New(chain, state.NewLayeredDB(nil), Options{Depth: depth, TraceState: true, Registerer: reg}), reg
}

func TestIngest_Linear(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	h, _ := newHistory(chain, 0)

	b1 := chain.block(nil, 10, 0)
	b2 := chain.block(b1, 20, 0)
	b3 := chain.block(b2, 30, 0)

	for i, hdr := range []*types.Header{b1, b2, b3} {
		update, err := h.Ingest(ctx, hdr)
		require.NoError(t, err)
		require.Len(t, update.Applied, 1, "block %d", i+1)
		assert.Empty(t, update.Dropped)
		assert.Equal(t, hdr.Hash(), update.Head().Hash())
		assert.Len(t, update.Head().Logs, 1)
	}

	assert.Equal(t, uint64(10), slotValue(t, h, b1.Hash()))
	assert.Equal(t, uint64(20), slotValue(t, h, b2.Hash()))
	assert.Equal(t, uint64(30), slotValue(t, h, b3.Hash()))
	assert.Equal(t, b3.Hash(), h.Latest().Hash())
	assert.True(t, h.IsCanonical(b2.Hash()))
	assert.Equal(t, []common.Address{pair}, h.Latest().Touched())
	assert.Equal(t, 0, chain.fetched)

	// snapshots stay flat
	latest, err := h.Block(b3.Hash())
	require.NoError(t, err)
	assert.Equal(t, 1, latest.State.Depth())

	// ingesting the head again is a no-op
	update, err := h.Ingest(ctx, b3)
	require.NoError(t, err)
	assert.Empty(t, update.Applied)
}

func TestIngest_OverlaysDoNotLeak(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	h, _ := newHistory(chain, 0)
	b1 := chain.block(nil, 10, 0)
	_, err := h.Ingest(ctx, b1)
	require.NoError(t, err)

	db, err := h.StateAt(b1.Hash())
	require.NoError(t, err)
	require.NoError(t, db.InsertAccountStorage(ctx, pair, state.HashToUint(slot), *uint256.NewInt(99)))

	assert.Equal(t, uint64(10), slotValue(t, h, b1.Hash()))
}

func TestIngest_TraceFailureUsesEmptyDiff(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	h, reg := newHistory(chain, 0)

	b1 := chain.block(nil, 10, 0)
	b2 := chain.block(b1, 20, 0)
	chain.traceErr[b2.Hash()] = errors.New("tracer timeout")

	_, err := h.Ingest(ctx, b1)
	require.NoError(t, err)
	update, err := h.Ingest(ctx, b2)
	require.NoError(t, err)

	assert.Empty(t, update.Head().Diff)
	assert.Equal(t, uint64(10), slotValue(t, h, b2.Hash()), "state carried over from the parent")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.traceFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.m.blocks))

	count, err := testutil.GatherAndCount(reg, "searcher_history_trace_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngest_Reorg(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	h, _ := newHistory(chain, 0)

	a1 := chain.block(nil, 10, 0)
	a2 := chain.block(a1, 20, 0)
	a3 := chain.block(a2, 30, 0)
	b2 := chain.block(a1, 21, 1)
	b3 := chain.block(b2, 31, 1)
	b4 := chain.block(b3, 41, 1)

	for _, hdr := range []*types.Header{a1, a2, a3} {
		_, err := h.Ingest(ctx, hdr)
		require.NoError(t, err)
	}

	update, err := h.Ingest(ctx, b4)
	require.NoError(t, err)
	require.Len(t, update.Applied, 3)
	assert.Equal(t, b2.Hash(), update.Applied[0].Hash())
	assert.ElementsMatch(t, []common.Hash{a2.Hash(), a3.Hash()}, update.Dropped)
	assert.Equal(t, 2, chain.fetched)

	assert.False(t, h.IsCanonical(a2.Hash()))
	assert.False(t, h.IsCanonical(a3.Hash()))
	assert.True(t, h.IsCanonical(b3.Hash()))
	assert.True(t, h.IsCanonical(a1.Hash()))
	assert.Equal(t, uint64(41), slotValue(t, h, b4.Hash()))
	assert.Equal(t, uint64(30), slotValue(t, h, a3.Hash()), "side chain snapshots stay readable")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.reorgs))

	// switching back to a known side chain head
	update, err = h.Ingest(ctx, a3)
	require.NoError(t, err)
	require.Len(t, update.Applied, 2)
	assert.ElementsMatch(t, []common.Hash{b2.Hash(), b3.Hash(), b4.Hash()}, update.Dropped)
	assert.Equal(t, a3.Hash(), h.Latest().Hash())
	assert.True(t, h.IsCanonical(a2.Hash()))
}

func TestIngest_ExtendsSideChain(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	h, _ := newHistory(chain, 0)

	a1 := chain.block(nil, 10, 0)
	a2 := chain.block(a1, 20, 0)
	b2 := chain.block(a1, 21, 1)
	a3 := chain.block(a2, 30, 0)

	for _, hdr := range []*types.Header{a1, a2, b2} {
		_, err := h.Ingest(ctx, hdr)
		require.NoError(t, err)
	}
	require.True(t, h.IsCanonical(b2.Hash()))
	require.False(t, h.IsCanonical(a2.Hash()))

	update, err := h.Ingest(ctx, a3)
	require.NoError(t, err)
	require.Len(t, update.Applied, 2)
	assert.Equal(t, a2.Hash(), update.Applied[0].Hash())
	assert.Equal(t, a3.Hash(), update.Head().Hash())
	assert.Equal(t, []common.Hash{b2.Hash()}, update.Dropped)
	assert.Equal(t, 0, chain.fetched)

	assert.True(t, h.IsCanonical(a2.Hash()))
	assert.False(t, h.IsCanonical(b2.Hash()))
	assert.Equal(t, a3.Hash(), h.Latest().Hash())
	assert.Equal(t, uint64(30), slotValue(t, h, a3.Hash()))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.m.reorgs))
}

func TestIngest_RestartsWithoutAncestor(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	h, _ := newHistory(chain, 2)

	a1 := chain.block(nil, 10, 0)
	_, err := h.Ingest(ctx, a1)
	require.NoError(t, err)

	// a far ahead block whose ancestors leave the depth window
	b1 := chain.block(nil, 11, 1)
	b2 := chain.block(b1, 12, 1)
	b3 := chain.block(b2, 13, 1)
	b4 := chain.block(b3, 14, 1)

	update, err := h.Ingest(ctx, b4)
	require.NoError(t, err)
	require.Len(t, update.Applied, 2)
	assert.Equal(t, b3.Hash(), update.Applied[0].Hash())
	assert.Equal(t, uint64(14), slotValue(t, h, b4.Hash()))

	_, err = h.Block(a1.Hash())
	assert.ErrorIs(t, err, ErrUnknownBlock)
}

func TestIngest_Prunes(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	h, _ := newHistory(chain, 2)

	var headers []*types.Header
	var parent *types.Header
	for i := 0; i < 5; i++ {
		parent = chain.block(parent, int64(i), 0)
		headers = append(headers, parent)
		_, err := h.Ingest(ctx, parent)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, h.Len())
	_, err := h.StateAt(headers[2].Hash())
	assert.ErrorIs(t, err, ErrUnknownBlock)
	assert.False(t, h.IsCanonical(headers[0].Hash()))
	assert.Equal(t, uint64(4), slotValue(t, h, headers[4].Hash()))
}

func TestIngest_WithoutTracing(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	h := New(chain, state.NewLayeredDB(nil), Options{})

	b1 := chain.block(nil, 10, 0)
	update, err := h.Ingest(ctx, b1)
	require.NoError(t, err)
	assert.Nil(t, update.Head().Diff)
	assert.Equal(t, uint64(0), slotValue(t, h, b1.Hash()))
}

// blockFetcher answers every slot with the block number it is pinned to
type blockFetcher struct {
	number uint64
}

func (f blockFetcher) Basic(context.Context, common.Address) (*state.AccountInfo, error) {
	info := state.NewAccountInfo(uint256.NewInt(0), 1, nil)
	return &info, nil
}

func (f blockFetcher) Storage(context.Context, common.Address, uint256.Int) (uint256.Int, error) {
	return *uint256.NewInt(f.number), nil
}

func TestIngest_PinsFetcherToBlock(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	var pinned []uint64
	h := New(chain, state.NewLayeredDB(blockFetcher{number: 999}), Options{
		TraceState: true,
		FetcherAt: func(n uint64) state.Fetcher {
			pinned = append(pinned, n)
			return blockFetcher{number: n}
		},
	})

	b1 := chain.block(nil, 10, 0)
	b2 := chain.block(b1, 20, 0)
	for _, hdr := range []*types.Header{b1, b2} {
		_, err := h.Ingest(ctx, hdr)
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 2}, pinned)

	other := common.HexToAddress("0x71")
	for _, tc := range []struct {
		hash common.Hash
		want uint64
	}{{b1.Hash(), 1}, {b2.Hash(), 2}} {
		db, err := h.StateAt(tc.hash)
		require.NoError(t, err)
		v, err := db.Storage(ctx, other, state.HashToUint(slot))
		require.NoError(t, err)
		assert.Equal(t, tc.want, v.Uint64())
	}
	assert.Equal(t, uint64(20), slotValue(t, h, b2.Hash()))
}
