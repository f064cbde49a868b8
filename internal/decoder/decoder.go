package decoder

import (
	"bytes"
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/dex/uniswapv2"
	"github.com/devlongs/mev-searcher/internal/dex/uniswapv3"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// PoolLoader builds a pool adapter for an address emitting protocol events
type PoolLoader interface {
	Class() types.PoolClass
	Load(ctx context.Context, state types.StateReader, address common.Address) (types.Pool, error)
}

// KnownFunc reports whether the market already holds a pool
type KnownFunc func(common.Address) bool

// Result is what a block's logs and state diff say about the pools
type Result struct {
	// Touched are known pools whose state changed, sorted by address
	Touched []common.Address
	// Discovered are new pools found through their events
	Discovered []types.Pool
	Swaps      []types.Swap
}

// Decoder maps protocol events to the pools that emitted them
type Decoder struct {
	loaders  map[common.Hash]PoolLoader
	rejected mapset.Set[common.Address]
}

// NewDecoder creates a decoder for the enabled protocols. A nil loader
// disables its protocol.
func NewDecoder(v2 *uniswapv2.Loader, v3 *uniswapv3.Loader) *Decoder {
	d := &Decoder{
		loaders:  make(map[common.Hash]PoolLoader),
		rejected: mapset.NewSet[common.Address](),
	}
	if v2 != nil {
		d.loaders[uniswapv2.SwapEventSignature] = v2
		d.loaders[uniswapv2.SyncEventSignature] = v2
	}
	if v3 != nil {
		d.loaders[uniswapv3.SwapEventSignature] = v3
	}
	return d
}

// Collect sorts the logs, decodes swaps, marks known pools touched by events
// or by the diff, and loads pools seen for the first time. Addresses that
// fail to load are remembered and skipped afterwards.
func (d *Decoder) Collect(ctx context.Context, known KnownFunc, state types.StateReader, logs []ethtypes.Log, diffAddresses []common.Address) *Result {
	sorted := append([]ethtypes.Log(nil), logs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].BlockNumber != sorted[j].BlockNumber {
			return sorted[i].BlockNumber < sorted[j].BlockNumber
		}
		return sorted[i].Index < sorted[j].Index
	})

	res := &Result{}
	touched := mapset.NewThreadUnsafeSet[common.Address]()
	seen := mapset.NewThreadUnsafeSet[common.Address]()

	for _, l := range sorted {
		if len(l.Topics) == 0 || l.Removed {
			continue
		}
		loader, ok := d.loaders[l.Topics[0]]
		if !ok {
			continue
		}
		if swap, err := d.DecodeSwapLog(l); err == nil && swap != nil {
			res.Swaps = append(res.Swaps, *swap)
		}

		addr := l.Address
		if known(addr) {
			touched.Add(addr)
			continue
		}
		if !seen.Add(addr) || d.rejected.Contains(addr) {
			continue
		}
		pool, err := loader.Load(ctx, state, addr)
		if err != nil {
			d.rejected.Add(addr)
			log.Debug().Err(err).Str("pool", addr.Hex()).Str("class", loader.Class().String()).Msg("Failed to load pool")
			continue
		}
		res.Discovered = append(res.Discovered, pool)
	}

	for _, addr := range diffAddresses {
		if known(addr) {
			touched.Add(addr)
		}
	}

	res.Touched = touched.ToSlice()
	sort.Slice(res.Touched, func(i, j int) bool {
		return bytes.Compare(res.Touched[i][:], res.Touched[j][:]) < 0
	})
	return res
}

// DecodeSwapLog decodes a swap log based on its event signature. Logs of
// disabled protocols or other events decode to nil.
func (d *Decoder) DecodeSwapLog(l ethtypes.Log) (*types.Swap, error) {
	if len(l.Topics) == 0 {
		return nil, nil
	}
	if _, ok := d.loaders[l.Topics[0]]; !ok {
		return nil, nil
	}

	switch l.Topics[0] {
	case uniswapv2.SwapEventSignature:
		return uniswapv2.DecodeSwapLog(l)
	case uniswapv3.SwapEventSignature:
		return uniswapv3.DecodeSwapLog(l)
	}
	return nil, nil
}

// GroupSwapsByTransaction groups decoded swaps by their transaction hash,
// each group ordered by log index
func GroupSwapsByTransaction(swaps []types.Swap) map[common.Hash][]types.Swap {
	groups := make(map[common.Hash][]types.Swap)
	for _, s := range swaps {
		groups[s.TxHash] = append(groups[s.TxHash], s)
	}
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].LogIndex < g[j].LogIndex })
	}
	return groups
}
