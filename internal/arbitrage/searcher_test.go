package arbitrage

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/mev-searcher/internal/blockhistory"
	"github.com/devlongs/mev-searcher/internal/decoder"
	"github.com/devlongs/mev-searcher/internal/dex/uniswapv2"
	"github.com/devlongs/mev-searcher/internal/market"
	"github.com/devlongs/mev-searcher/internal/state"
	"github.com/devlongs/mev-searcher/internal/swap"
	"github.com/devlongs/mev-searcher/pkg/types"
)

var (
	ether = big.NewInt(1_000_000_000_000_000_000)

	tokenW = common.HexToAddress("0xe000")
	tokenX = common.HexToAddress("0xe001")
	tokenY = common.HexToAddress("0xe002")

	poolP1 = common.HexToAddress("0x7001")
	poolP2 = common.HexToAddress("0x7002")
	poolP3 = common.HexToAddress("0x7003")
	poolP4 = common.HexToAddress("0x7004")
	poolP6 = common.HexToAddress("0x7006")
	poolP7 = common.HexToAddress("0x7007")
	poolP8 = common.HexToAddress("0x7008")
)

func eth(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), ether) }

func addressWord(a common.Address) uint256.Int {
	var v uint256.Int
	v.SetBytes(a.Bytes())
	return v
}

type fixture struct {
	t      *testing.T
	db     *state.LayeredDB
	market *market.SharedMarket
	pools  map[common.Address]*uniswapv2.Pool
}

func newFixture(t *testing.T) *fixture {
	m := market.New()
	w := types.NewToken(tokenW)
	w.Symbol = "W"
	w.Basic = true
	m.AddToken(w)
	return &fixture{
		t:      t,
		db:     state.NewLayeredDB(nil),
		market: market.NewShared(m),
		pools:  make(map[common.Address]*uniswapv2.Pool),
	}
}

// pair writes a full pair layout into the state; listed pairs are also
// registered in the market
func (f *fixture) pair(addr, token0, token1 common.Address, r0, r1 *big.Int, listed bool) {
	ctx := context.Background()
	require.NoError(f.t, f.db.InsertAccountStorage(ctx, addr, uniswapv2.Token0Slot, addressWord(token0)))
	require.NoError(f.t, f.db.InsertAccountStorage(ctx, addr, uniswapv2.Token1Slot, addressWord(token1)))
	require.NoError(f.t, f.db.InsertAccountStorage(ctx, addr, uniswapv2.ReservesSlot, uniswapv2.PackReserves(r0, r1, 0)))
	pool := uniswapv2.NewPool(addr, token0, token1, 30)
	f.pools[addr] = pool
	if listed {
		require.NoError(f.t, f.market.Update(func(m *market.Market) error { return m.AddPool(pool) }))
	}
}

func (f *fixture) block(logs ...ethtypes.Log) *blockhistory.Block {
	return &blockhistory.Block{
		Header: &ethtypes.Header{Number: big.NewInt(100), Time: 1_700_000_000, Difficulty: new(big.Int)},
		Logs:   logs,
		State:  f.db,
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

func newSearcher(f *fixture, reg prometheus.Registerer) *Searcher {
	return newSearcherWith(f, Config{Registerer: reg})
}

func newSearcherWith(f *fixture, cfg Config) *Searcher {
	cfg.Workers = 2
	cfg.SeedAmount = ether
	return New(f.market, decoder.NewDecoder(uniswapv2.NewLoader(0, nil), nil), cfg)
}

func TestSearcher_OnBlock(t *testing.T) {
	f := newFixture(t)
	f.pair(poolP1, tokenW, tokenX, eth(100), eth(200_000), true)
	f.pair(poolP4, tokenW, tokenX, eth(100), eth(180_000), true)
	// unlisted pair priced like P4
	f.pair(poolP6, tokenW, tokenX, eth(100), eth(180_000), false)

	s := newSearcher(f, prometheus.NewRegistry())
	res, err := s.OnBlock(context.Background(), f.block(syncLog(poolP1, 0), syncLog(poolP6, 1)))
	require.NoError(t, err)

	assert.Equal(t, uint64(100), res.Block)
	assert.Equal(t, 1, res.Touched)
	assert.Equal(t, 1, res.Discovered)
	assert.Greater(t, res.Paths, 0)
	assert.Greater(t, res.Profitable, 0)
	require.NotEmpty(t, res.Plans)

	f.market.Read(func(m *market.Market) {
		assert.True(t, m.HasPool(poolP6))
	})

	for _, p := range res.Plans {
		assert.Equal(t, 1, p.Profit.Sign())
		assert.Equal(t, uint64(101), p.Env.Number)
	}
	best := res.Plans[0]
	if !best.Merged() {
		assert.True(t, best.Line.Path.IsCycle())
		assert.Equal(t, tokenW, best.Line.FirstToken().Address)
		assert.Equal(t, poolP1, best.Line.Path.Pool(0).Address(), "P1 sells X cheapest")
	}

	got := <-s.Plans()
	assert.Same(t, res.Plans[0], got)
	assert.Equal(t, float64(len(res.Plans)), testutil.ToFloat64(s.m.plansEmitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.m.poolsDiscovered))
	assert.Equal(t, float64(res.Paths), testutil.ToFloat64(s.m.pathsBuilt))
}

func TestSearcher_NothingChanged(t *testing.T) {
	f := newFixture(t)
	f.pair(poolP1, tokenW, tokenX, eth(100), eth(200_000), true)
	s := newSearcher(f, nil)

	res, err := s.OnBlock(context.Background(), f.block())
	require.NoError(t, err)
	assert.Zero(t, res.Paths)
	assert.Empty(t, res.Plans)
}

func TestSearcher_NoOpportunity(t *testing.T) {
	f := newFixture(t)
	f.pair(poolP1, tokenW, tokenX, eth(100), eth(200_000), true)
	f.pair(poolP4, tokenW, tokenX, eth(100), eth(200_000), true)
	s := newSearcher(f, nil)

	res, err := s.OnBlock(context.Background(), f.block(syncLog(poolP1, 0)))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Paths)
	assert.Zero(t, res.Profitable)
	assert.Empty(t, res.Plans)
	assert.Equal(t, float64(2), testutil.ToFloat64(s.m.evaluations.WithLabelValues(outcomeUnprofitable)))
}

func TestSearcher_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.pair(poolP1, tokenW, tokenX, eth(100), eth(200_000), true)
	f.pair(poolP4, tokenW, tokenX, eth(100), eth(180_000), true)
	s := newSearcher(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.OnBlock(ctx, f.block(syncLog(poolP1, 0)))
	assert.ErrorIs(t, err, context.Canceled)
}

func (f *fixture) token(addr common.Address) *types.Token {
	var t *types.Token
	f.market.Read(func(m *market.Market) { t = m.GetToken(addr) })
	return t
}

func (f *fixture) line(tokens []common.Address, pools ...common.Address) *swap.SwapLine {
	var (
		ts []*types.Token
		ps []types.Pool
	)
	f.market.Read(func(m *market.Market) {
		for _, a := range tokens {
			ts = append(ts, m.GetToken(a))
		}
		for _, a := range pools {
			ps = append(ps, m.GetPool(a))
		}
	})
	path, err := types.NewSwapPath(ts, ps)
	require.NoError(f.t, err)
	l := swap.NewSwapLine(path)
	require.NoError(f.t, l.ApplyInAmount(context.Background(), f.db, types.EVMEnv{}, ether))
	return l
}

func TestSearcher_PlanMergesSharedPrefix(t *testing.T) {
	f := newFixture(t)
	f.pair(poolP1, tokenW, tokenX, eth(100), eth(200_000), true)
	f.pair(poolP4, tokenW, tokenX, eth(100), eth(180_000), true)
	f.pair(poolP2, tokenX, tokenY, eth(100_000), eth(100_000), true)
	f.pair(poolP3, tokenY, tokenW, eth(180_000), eth(100), true)
	s := newSearcher(f, nil)

	a := f.line([]common.Address{tokenW, tokenX, tokenW}, poolP1, poolP4)
	b := f.line([]common.Address{tokenW, tokenX, tokenY, tokenW}, poolP1, poolP2, poolP3)
	lone := f.line([]common.Address{tokenW, tokenX, tokenW}, poolP4, poolP1)

	plans := s.plan(context.Background(), f.db, types.EVMEnv{}, []*swap.SwapLine{a, b, lone})
	require.Len(t, plans, 2)

	merged := plans[0]
	require.True(t, merged.Merged())
	assert.True(t, merged.Profit.Cmp(a.Profit()) > 0)
	assert.True(t, merged.Profit.Cmp(b.Profit()) > 0)
	assert.Equal(t, merged.Step0.GasUsed()+merged.Step1.GasUsed(), merged.GasUsed)

	assert.False(t, plans[1].Merged())
	assert.Same(t, lone, plans[1].Line)
}

func TestSearcher_UpdatePrices(t *testing.T) {
	f := newFixture(t)
	usd := types.NewToken(tokenY)
	usd.Decimals = 6
	usd.Basic = true
	require.NoError(t, f.market.Update(func(m *market.Market) error { m.AddToken(usd); return nil }))

	million := big.NewInt(1_000_000)
	// 2,000,000 USD against 1000 W, and a shallower pair ordered W first
	f.pair(poolP7, tokenY, tokenW, new(big.Int).Mul(big.NewInt(2_000_000), million), eth(1000), true)
	f.pair(poolP8, tokenW, tokenY, eth(1), new(big.Int).Mul(big.NewInt(1_000), million), true)

	s := newSearcherWith(f, Config{EthToken: tokenW})
	s.updatePrices(context.Background(), f.db)

	w := f.token(tokenW)
	assert.Equal(t, ether.String(), w.EthPrice().String())
	assert.Equal(t, "500000000000000", usd.EthPrice().String())
	assert.Equal(t, "2000000000000000", ethValue(usd, big.NewInt(4_000_000)).String())
	assert.Nil(t, ethValue(types.NewToken(tokenX), big.NewInt(1)))
}

func TestSearcher_MinProfitInEth(t *testing.T) {
	f := newFixture(t)
	f.pair(poolP1, tokenW, tokenX, eth(100), eth(200_000), true)
	f.pair(poolP4, tokenW, tokenX, eth(100), eth(180_000), true)

	strict := newSearcherWith(f, Config{EthToken: tokenW, MinProfit: eth(1000)})
	res, err := strict.OnBlock(context.Background(), f.block(syncLog(poolP1, 0)))
	require.NoError(t, err)
	assert.Zero(t, res.Profitable)
	assert.Empty(t, res.Plans)

	s := newSearcherWith(f, Config{EthToken: tokenW})
	res, err = s.OnBlock(context.Background(), f.block(syncLog(poolP1, 0)))
	require.NoError(t, err)
	require.NotEmpty(t, res.Plans)
	for _, p := range res.Plans {
		require.NotNil(t, p.ProfitEth)
		assert.Equal(t, p.Profit.String(), p.ProfitEth.String())
	}
}
