// Package pathbuilder enumerates arbitrage cycles through recently changed pools.
package pathbuilder

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/market"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// PoolDirections is one changed pool with the directions worth re-checking.
// An empty Directions means every direction the pool declares.
type PoolDirections struct {
	Pool       common.Address
	Directions []types.SwapDirection
}

type Options struct {
	// FourHop enables the two-middle-token variants
	FourHop bool
	// MaxPaths stops enumeration once reached; zero means unlimited
	MaxPaths int
}

type builder struct {
	market *market.Market
	opts   Options
	seen   mapset.Set[string]
	paths  []*types.SwapPath
}

// Build returns every cycle anchored at a basic token that goes through at
// least one changed pool direction. Paths are unique by token and pool
// sequence; their order is unspecified. The caller holds the market read lock.
func Build(m *market.Market, changes []PoolDirections, opts Options) []*types.SwapPath {
	b := &builder{
		market: m,
		opts:   opts,
		seen:   mapset.NewThreadUnsafeSet[string](),
	}
	for _, change := range changes {
		pool := m.GetPool(change.Pool)
		if pool == nil || !m.IsPoolEnabled(change.Pool) {
			continue
		}
		directions := change.Directions
		if len(directions) == 0 {
			directions = pool.SwapDirections()
		}
		for _, d := range directions {
			if b.full() {
				break
			}
			b.direction(change.Pool, d)
		}
	}

	log.Debug().
		Int("changed_pools", len(changes)).
		Int("paths", len(b.paths)).
		Bool("four_hop", opts.FourHop).
		Msg("Built swap paths")

	return b.paths
}

func (b *builder) full() bool {
	return b.opts.MaxPaths > 0 && len(b.paths) >= b.opts.MaxPaths
}

func (b *builder) direction(pool common.Address, d types.SwapDirection) {
	if !contains(b.market.TokenTokenPools(d.From, d.To), pool) {
		return
	}
	from := b.market.GetToken(d.From)
	to := b.market.GetToken(d.To)
	if from == nil || to == nil {
		return
	}

	if from.IsBasic() {
		b.twoHopBasicIn(pool, d.From, d.To)
		b.threeHopBasicIn(pool, d.From, d.To)
		if b.opts.FourHop {
			b.fourHopBasicIn(pool, d.From, d.To)
		}
	}
	if to.IsBasic() {
		b.twoHopBasicOut(pool, d.From, d.To)
		b.threeHopBasicOut(pool, d.From, d.To)
		if b.opts.FourHop {
			b.fourHopBasicOut(pool, d.From, d.To)
		}
	}
	if !from.IsBasic() && !to.IsBasic() {
		b.threeHopNoBasic(pool, d.From, d.To)
	}
}

// basic -pool-> x -loop-> basic
func (b *builder) twoHopBasicIn(pool, basic, x common.Address) {
	for _, loop := range b.market.TokenTokenPools(x, basic) {
		if loop == pool {
			continue
		}
		b.emit([]common.Address{basic, x, basic}, []common.Address{pool, loop})
	}
}

// basic -loop-> x -pool-> basic
func (b *builder) twoHopBasicOut(pool, x, basic common.Address) {
	if len(b.market.TokenPools(x)) < 2 {
		return
	}
	for _, loop := range b.market.TokenTokenPools(basic, x) {
		if loop == pool {
			continue
		}
		b.emit([]common.Address{basic, x, basic}, []common.Address{loop, pool})
	}
}

// basic -pool-> x -p1-> m -p2-> basic
func (b *builder) threeHopBasicIn(pool, basic, x common.Address) {
	for _, m := range b.middleCandidates(x, basic) {
		for _, p1 := range b.market.TokenTokenPools(x, m) {
			for _, p2 := range b.market.TokenTokenPools(m, basic) {
				b.emit([]common.Address{basic, x, m, basic}, []common.Address{pool, p1, p2})
			}
		}
	}
}

// basic -p1-> m -p2-> x -pool-> basic
func (b *builder) threeHopBasicOut(pool, x, basic common.Address) {
	for _, m := range b.middleCandidates(x, basic) {
		for _, p1 := range b.market.TokenTokenPools(basic, m) {
			for _, p2 := range b.market.TokenTokenPools(m, x) {
				b.emit([]common.Address{basic, m, x, basic}, []common.Address{p1, p2, pool})
			}
		}
	}
}

// anchor -p1-> from -pool-> to -p2-> anchor, for every basic anchor next to from
func (b *builder) threeHopNoBasic(pool, from, to common.Address) {
	for _, anchor := range b.market.TokenTokens(from) {
		if t := b.market.GetToken(anchor); t == nil || !t.IsBasic() {
			continue
		}
		for _, p1 := range b.market.TokenTokenPools(anchor, from) {
			for _, p2 := range b.market.TokenTokenPools(to, anchor) {
				b.emit([]common.Address{anchor, from, to, anchor}, []common.Address{p1, pool, p2})
			}
		}
	}
}

// basic -pool-> x -p1-> m1 -p2-> m2 -p3-> basic
func (b *builder) fourHopBasicIn(pool, basic, x common.Address) {
	for _, m1 := range b.middleTokens(x, basic) {
		for _, m2 := range b.middleTokens(m1, basic) {
			if m2 == x {
				continue
			}
			for _, p1 := range b.market.TokenTokenPools(x, m1) {
				for _, p2 := range b.market.TokenTokenPools(m1, m2) {
					for _, p3 := range b.market.TokenTokenPools(m2, basic) {
						b.emit([]common.Address{basic, x, m1, m2, basic}, []common.Address{pool, p1, p2, p3})
					}
				}
			}
		}
	}
}

// basic -p1-> m2 -p2-> m1 -p3-> x -pool-> basic
func (b *builder) fourHopBasicOut(pool, x, basic common.Address) {
	for _, m1 := range b.middleTokens(x, basic) {
		for _, m2 := range b.middleTokens(m1, basic) {
			if m2 == x {
				continue
			}
			for _, p1 := range b.market.TokenTokenPools(basic, m2) {
				for _, p2 := range b.market.TokenTokenPools(m2, m1) {
					for _, p3 := range b.market.TokenTokenPools(m1, x) {
						b.emit([]common.Address{basic, m2, m1, x, basic}, []common.Address{p1, p2, p3, pool})
					}
				}
			}
		}
	}
}

// middleCandidates lists non-basic neighbours of x with at least two pools,
// since a single-pool token can only bounce back through the same pool.
func (b *builder) middleCandidates(x, basic common.Address) []common.Address {
	var out []common.Address
	for _, m := range b.market.TokenTokens(x) {
		if m == basic {
			continue
		}
		if t := b.market.GetToken(m); t == nil || t.IsBasic() {
			continue
		}
		if len(b.market.TokenPools(m)) < 2 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// middleTokens narrows middleCandidates to tokens flagged as middle
func (b *builder) middleTokens(x, basic common.Address) []common.Address {
	var out []common.Address
	for _, m := range b.middleCandidates(x, basic) {
		if b.market.GetToken(m).IsMiddle() {
			out = append(out, m)
		}
	}
	return out
}

func (b *builder) emit(tokenAddrs, poolAddrs []common.Address) {
	if b.full() {
		return
	}
	tokens := make([]*types.Token, len(tokenAddrs))
	for i, addr := range tokenAddrs {
		if tokens[i] = b.market.GetToken(addr); tokens[i] == nil {
			return
		}
	}
	pools := make([]types.Pool, len(poolAddrs))
	for i, addr := range poolAddrs {
		if pools[i] = b.market.GetPool(addr); pools[i] == nil {
			return
		}
	}

	path, err := types.NewSwapPath(tokens, pools)
	if err != nil {
		// reuses a pool
		return
	}
	if !b.seen.Add(path.Key()) {
		return
	}
	b.paths = append(b.paths, path)
}

func contains(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}
