// Package arbitrage runs the per-block search: changed pools in, profitable
// swap plans out.
package arbitrage

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/devlongs/mev-searcher/internal/blockhistory"
	"github.com/devlongs/mev-searcher/internal/decoder"
	"github.com/devlongs/mev-searcher/internal/market"
	"github.com/devlongs/mev-searcher/internal/pathbuilder"
	"github.com/devlongs/mev-searcher/internal/state"
	"github.com/devlongs/mev-searcher/internal/swap"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// maxMergeCandidates bounds the pairwise merge attempts per block
const maxMergeCandidates = 8

// Config holds the searcher settings. MinProfit is in wei of ETH once the
// anchor token has a price and in anchor token units before that. Basic
// tokens are priced through their pools against EthToken.
type Config struct {
	Workers     int
	SeedAmount  *big.Int
	MinProfit   *big.Int
	EthToken    common.Address
	FourHop     bool
	MaxPaths    int
	Multicaller common.Address
	PlanBuffer  int
	Registerer  prometheus.Registerer
}

// SwapPlan is an optimized opportunity ready for encoding. A plan holds
// either a single line or a pair of merged steps.
type SwapPlan struct {
	Block     uint64
	BlockHash common.Hash
	Env       types.EVMEnv

	Line         *swap.SwapLine
	Step0, Step1 *swap.SwapStep

	Profit    *big.Int
	ProfitEth *big.Int // nil while the anchor token has no price
	GasUsed   uint64
}

// Merged reports whether the plan is a pair of steps
func (p *SwapPlan) Merged() bool { return p.Step0 != nil }

// FirstToken returns the token the plan starts and ends with
func (p *SwapPlan) FirstToken() *types.Token {
	if p.Merged() {
		return p.Step0.FirstToken()
	}
	return p.Line.FirstToken()
}

// BlockResult summarizes one OnBlock call
type BlockResult struct {
	Block      uint64
	Touched    int
	Discovered int
	Swaps      int
	Paths      int
	Profitable int
	Observed   []ObservedCycle
	Plans      []*SwapPlan
	Duration   time.Duration
}

// Searcher turns block updates into swap plans
type Searcher struct {
	market  *market.SharedMarket
	decoder *decoder.Decoder
	cfg     Config
	plans   chan *SwapPlan
	m       *metrics
}

// New creates a searcher. Plans are published on a buffered channel; when
// the consumer falls behind new plans are dropped.
func New(m *market.SharedMarket, dec *decoder.Decoder, cfg Config) *Searcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.SeedAmount == nil || cfg.SeedAmount.Sign() <= 0 {
		cfg.SeedAmount = big.NewInt(1e17)
	}
	if cfg.MinProfit == nil {
		cfg.MinProfit = new(big.Int)
	}
	if cfg.PlanBuffer < 1 {
		cfg.PlanBuffer = 16
	}
	return &Searcher{
		market:  m,
		decoder: dec,
		cfg:     cfg,
		plans:   make(chan *SwapPlan, cfg.PlanBuffer),
		m:       newMetrics(cfg.Registerer),
	}
}

// Plans returns the channel plans are published on
func (s *Searcher) Plans() <-chan *SwapPlan {
	return s.plans
}

// OnBlock searches the block for opportunities against its post state.
// Simulation failures are logged and skipped; only context cancellation
// aborts the search.
func (s *Searcher) OnBlock(ctx context.Context, blk *blockhistory.Block) (*BlockResult, error) {
	start := time.Now()
	defer func() { s.m.blockDuration.Observe(time.Since(start).Seconds()) }()

	env := types.EnvFromHeader(blk.Header)
	result := &BlockResult{Block: blk.Number()}

	view := state.NewOverlay(blk.State)
	collected := s.decoder.Collect(ctx, s.isKnown, view, blk.Logs, blk.Touched())
	result.Swaps = len(collected.Swaps)
	if len(collected.Swaps) > 0 {
		log.Debug().
			Uint64("block", blk.Number()).
			Int("swaps", len(collected.Swaps)).
			Int("txs", len(decoder.GroupSwapsByTransaction(collected.Swaps))).
			Msg("Decoded swaps")
	}

	changes := make([]pathbuilder.PoolDirections, 0, len(collected.Touched)+len(collected.Discovered))
	for _, addr := range collected.Touched {
		changes = append(changes, pathbuilder.PoolDirections{Pool: addr})
	}
	for _, addr := range s.addPools(collected.Discovered) {
		changes = append(changes, pathbuilder.PoolDirections{Pool: addr})
	}
	result.Touched = len(collected.Touched)
	result.Discovered = len(changes) - len(collected.Touched)
	s.updatePrices(ctx, view)

	result.Observed = DetectCycles(collected.Swaps, s.poolTokens)
	for _, c := range result.Observed {
		log.Info().
			Str("txHash", c.TxHash.Hex()).
			Str("arbitrageur", c.Arbitrageur.Hex()).
			Str("token", c.Token.Hex()).
			Str("profit", c.Profit.String()).
			Int("hops", len(c.Pools)).
			Msg("Observed cyclic arbitrage")
	}
	if len(changes) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	var paths []*types.SwapPath
	s.market.Read(func(m *market.Market) {
		paths = pathbuilder.Build(m, changes, pathbuilder.Options{FourHop: s.cfg.FourHop, MaxPaths: s.cfg.MaxPaths})
	})
	result.Paths = len(paths)
	s.m.pathsBuilt.Add(float64(len(paths)))

	lines, err := s.evaluate(ctx, blk.State, env, paths)
	if err != nil {
		return nil, err
	}
	result.Profitable = len(lines)

	plans := s.plan(ctx, blk.State, env, lines)
	for _, p := range plans {
		p.Block = blk.Number()
		p.BlockHash = blk.Hash()
		p.Env = env
		p.ProfitEth = ethValue(p.FirstToken(), p.Profit)
		s.publish(p)
	}
	result.Plans = plans
	result.Duration = time.Since(start)
	return result, nil
}

func (s *Searcher) isKnown(addr common.Address) bool {
	var ok bool
	s.market.Read(func(m *market.Market) { ok = m.HasPool(addr) })
	return ok
}

func (s *Searcher) poolTokens(addr common.Address) []common.Address {
	var tokens []common.Address
	s.market.Read(func(m *market.Market) {
		if p := m.GetPool(addr); p != nil {
			tokens = p.Tokens()
		}
	})
	return tokens
}

// addPools registers discovered pools and returns the addresses added
func (s *Searcher) addPools(pools []types.Pool) []common.Address {
	if len(pools) == 0 {
		return nil
	}
	var added []common.Address
	_ = s.market.Update(func(m *market.Market) error {
		for _, p := range pools {
			if err := m.AddPool(p); err != nil {
				if !errors.Is(err, market.ErrDuplicatePool) {
					log.Debug().Err(err).Str("pool", p.Address().Hex()).Msg("Failed to add pool")
				}
				continue
			}
			added = append(added, p.Address())
		}
		return nil
	})
	s.m.poolsDiscovered.Add(float64(len(added)))
	return added
}

// evaluate optimizes every path in parallel, each on its own overlay, and
// returns the lines above the profit threshold sorted by profit descending
func (s *Searcher) evaluate(ctx context.Context, snapshot *state.LayeredDB, env types.EVMEnv, paths []*types.SwapPath) ([]*swap.SwapLine, error) {
	var (
		mu         sync.Mutex
		profitable []*swap.SwapLine
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, path := range paths {
		path := path
		if !path.FirstToken().IsBasic() {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			line := s.optimizeLine(gctx, snapshot, env, path)
			if line != nil {
				mu.Lock()
				profitable = append(profitable, line)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(profitable, func(i, j int) bool {
		return profitable[i].Profit().Cmp(profitable[j].Profit()) > 0
	})
	return profitable, nil
}

func (s *Searcher) optimizeLine(ctx context.Context, snapshot *state.LayeredDB, env types.EVMEnv, path *types.SwapPath) *swap.SwapLine {
	start := time.Now()
	defer func() { s.m.evalDuration.Observe(time.Since(start).Seconds()) }()

	line := swap.NewSwapLine(path)
	if s.cfg.Multicaller != (common.Address{}) {
		to := s.cfg.Multicaller
		line.SwapTo = &to
	}
	opt, err := line.OptimizeWithInAmount(ctx, state.NewOverlay(snapshot), env, s.cfg.SeedAmount)
	if err != nil {
		s.m.evaluations.WithLabelValues(outcomeError).Inc()
		log.Debug().Err(err).Str("path", path.String()).Msg("Swap line optimization failed")
		return nil
	}

	profit := line.Profit()
	value := profit
	if v := ethValue(line.FirstToken(), profit); v != nil {
		value = v
	}
	if profit.Sign() <= 0 || value.Cmp(s.cfg.MinProfit) < 0 {
		s.m.evaluations.WithLabelValues(outcomeUnprofitable).Inc()
		return nil
	}
	s.m.evaluations.WithLabelValues(outcomeProfitable).Inc()
	log.Debug().
		Str("path", path.String()).
		Str("profit", profit.String()).
		Int("iterations", opt.Iterations).
		Bool("capped", opt.Capped).
		Msg("Profitable swap line")
	return line
}

// plan pairs up the best lines through MergeSwapPaths and keeps a merge when
// it beats both of its lines. Every line ends up in at most one plan.
func (s *Searcher) plan(ctx context.Context, snapshot *state.LayeredDB, env types.EVMEnv, lines []*swap.SwapLine) []*SwapPlan {
	used := make([]bool, len(lines))
	var plans []*SwapPlan

	n := len(lines)
	if n > maxMergeCandidates {
		n = maxMergeCandidates
	}
	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}
		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			p := s.merge(ctx, snapshot, env, lines[i], lines[j])
			if p == nil {
				continue
			}
			used[i], used[j] = true, true
			plans = append(plans, p)
			break
		}
	}

	for i, l := range lines {
		if used[i] {
			continue
		}
		plans = append(plans, &SwapPlan{Line: l, Profit: l.Profit(), GasUsed: l.GasUsed})
	}
	return plans
}

func (s *Searcher) merge(ctx context.Context, snapshot *state.LayeredDB, env types.EVMEnv, a, b *swap.SwapLine) *SwapPlan {
	step0, step1, err := swap.MergeSwapPaths(a, b)
	if err != nil {
		return nil
	}
	step0, step1, _, err = swap.OptimizeSwapSteps(ctx, state.NewOverlay(snapshot), env, step0, step1)
	switch {
	case err == nil, errors.Is(err, swap.ErrTooManySteps):
	default:
		s.m.merges.WithLabelValues(outcomeError).Inc()
		log.Debug().Err(err).Str("a", a.Path.String()).Str("b", b.Path.String()).Msg("Swap step optimization failed")
		return nil
	}

	profit := swap.StepsProfit(step0, step1)
	if profit == nil || profit.Cmp(a.Profit()) <= 0 || profit.Cmp(b.Profit()) <= 0 {
		s.m.merges.WithLabelValues(outcomeUnprofitable).Inc()
		return nil
	}
	s.m.merges.WithLabelValues(outcomeProfitable).Inc()
	for _, st := range []*swap.SwapStep{step0, step1} {
		if s.cfg.Multicaller != (common.Address{}) {
			to := s.cfg.Multicaller
			st.SwapTo = &to
		}
	}
	return &SwapPlan{
		Step0:   step0,
		Step1:   step1,
		Profit:  profit,
		GasUsed: step0.GasUsed() + step1.GasUsed(),
	}
}

func (s *Searcher) publish(p *SwapPlan) {
	select {
	case s.plans <- p:
		s.m.plansEmitted.Inc()
		evt := log.Info().
			Uint64("block", p.Block).
			Str("profit", p.Profit.String())
		if p.ProfitEth != nil {
			evt = evt.Str("profitEth", p.ProfitEth.String())
		}
		evt.
			Uint64("gas", p.GasUsed).
			Bool("merged", p.Merged()).
			Msg("Swap plan emitted")
	default:
		s.m.plansDropped.Inc()
		log.Warn().Uint64("block", p.Block).Msg("Plan consumer busy, dropping swap plan")
	}
}
