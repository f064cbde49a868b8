// Package blockhistory keeps the recent chain segment with one state
// snapshot per block and follows reorgs.
package blockhistory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/state"
)

// ErrUnknownBlock is returned for blocks never ingested or already pruned
var ErrUnknownBlock = errors.New("unknown block")

// DefaultDepth is the number of blocks kept behind the head
const DefaultDepth = 64

// ChainData is the node access the history needs
type ChainData interface {
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	BlockLogs(ctx context.Context, hash common.Hash) ([]types.Log, error)
	TraceBlockStateDiff(ctx context.Context, hash common.Hash) ([]state.GethStateUpdate, error)
}

// Block is one ingested block. State is a frozen snapshot of the state after
// the block; fork it with state.NewOverlay before writing.
type Block struct {
	Header *types.Header
	Logs   []types.Log
	Diff   []state.GethStateUpdate
	State  *state.LayeredDB
}

func (b *Block) Hash() common.Hash { return b.Header.Hash() }
func (b *Block) Number() uint64    { return b.Header.Number.Uint64() }

// Touched returns every account written by the block's diff
func (b *Block) Touched() []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, u := range b.Diff {
		for _, addr := range u.Addresses() {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// Update is the outcome of one Ingest. Applied lists the newly canonical
// blocks oldest first; Dropped lists the hashes they replaced.
type Update struct {
	Applied []*Block
	Dropped []common.Hash
}

// Head returns the new head block
func (u *Update) Head() *Block {
	if len(u.Applied) == 0 {
		return nil
	}
	return u.Applied[len(u.Applied)-1]
}

// Options tunes a History
type Options struct {
	Depth int
	// TraceState disables diff tracing when false; snapshots then only carry
	// what the fallback fetcher reads
	TraceState bool
	// FetcherAt pins the fallback of each snapshot to the block it belongs
	// to. Nil keeps the fetcher of the root store.
	FetcherAt  func(number uint64) state.Fetcher
	Registerer prometheus.Registerer
}

type metrics struct {
	blocks        prometheus.Counter
	reorgs        prometheus.Counter
	traceFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searcher",
			Subsystem: "history",
			Name:      "blocks_ingested_total",
			Help:      "Blocks ingested into the history.",
		}),
		reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searcher",
			Subsystem: "history",
			Name:      "reorgs_total",
			Help:      "Chain reorganizations followed.",
		}),
		traceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searcher",
			Subsystem: "history",
			Name:      "trace_failures_total",
			Help:      "Blocks whose state diff could not be traced.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.blocks, m.reorgs, m.traceFailures)
	}
	return m
}

// History is safe for concurrent use. Ingest calls are serialized.
type History struct {
	chain ChainData
	root  *state.LayeredDB
	opts  Options
	m     *metrics

	ingest sync.Mutex

	mu        sync.RWMutex
	blocks    map[common.Hash]*Block
	canonical map[uint64]common.Hash
	head      *Block
}

// New creates an empty history. root is the store the first ingested block
// builds on; it is never written.
func New(chain ChainData, root *state.LayeredDB, opts Options) *History {
	if opts.Depth <= 0 {
		opts.Depth = DefaultDepth
	}
	return &History{
		chain:     chain,
		root:      root,
		opts:      opts,
		m:         newMetrics(opts.Registerer),
		blocks:    make(map[common.Hash]*Block),
		canonical: make(map[uint64]common.Hash),
	}
}

// Ingest makes header the new head. Missing ancestors are fetched until a
// known block is found, then every new block is applied in order on top of
// its parent's snapshot.
func (h *History) Ingest(ctx context.Context, header *types.Header) (*Update, error) {
	h.ingest.Lock()
	defer h.ingest.Unlock()

	if b, ok := h.lookup(header.Hash()); ok {
		return h.recanonize(b), nil
	}

	pending, parent, err := h.collect(ctx, header)
	if err != nil {
		return nil, err
	}

	update := &Update{}
	if parent != nil && !h.IsCanonical(parent.Hash()) {
		// the new blocks extend a side chain: bring it back first
		for _, blk := range h.sideChain(parent) {
			update.Dropped = append(update.Dropped, h.commit(blk)...)
			update.Applied = append(update.Applied, blk)
		}
	}
	for _, hdr := range pending {
		b, err := h.build(ctx, hdr, parent)
		if err != nil {
			return nil, err
		}
		update.Dropped = append(update.Dropped, h.commit(b)...)
		update.Applied = append(update.Applied, b)
		parent = b
	}

	if len(update.Dropped) > 0 {
		h.m.reorgs.Inc()
		log.Warn().
			Uint64("block", header.Number.Uint64()).
			Int("dropped", len(update.Dropped)).
			Msg("Chain reorganization")
	}
	h.prune()
	return update, nil
}

// collect walks back from header to the first known ancestor, which may sit
// on a side chain. Without one
// inside the depth window the history restarts from the oldest fetched block.
func (h *History) collect(ctx context.Context, header *types.Header) ([]*types.Header, *Block, error) {
	pending := []*types.Header{header}
	if h.isEmpty() {
		return pending, nil, nil
	}
	for len(pending) < h.opts.Depth {
		first := pending[0]
		if b, ok := h.lookup(first.ParentHash); ok {
			return pending, b, nil
		}
		if first.Number.Sign() == 0 {
			break
		}
		parentHeader, err := h.chain.HeaderByHash(ctx, first.ParentHash)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch parent of block %d: %w", first.Number.Uint64(), err)
		}
		pending = append([]*types.Header{parentHeader}, pending...)
	}
	if b, ok := h.lookup(pending[0].ParentHash); ok {
		return pending, b, nil
	}

	log.Warn().
		Uint64("block", header.Number.Uint64()).
		Int("fetched", len(pending)).
		Msg("No known ancestor within history depth, restarting history")
	h.mu.Lock()
	h.blocks = make(map[common.Hash]*Block)
	h.canonical = make(map[uint64]common.Hash)
	h.head = nil
	h.mu.Unlock()
	return pending, nil, nil
}

// build fetches logs and the state diff and derives the snapshot
func (h *History) build(ctx context.Context, header *types.Header, parent *Block) (*Block, error) {
	hash := header.Hash()
	logs, err := h.chain.BlockLogs(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("fetch logs of block %d: %w", header.Number.Uint64(), err)
	}

	var diff []state.GethStateUpdate
	if h.opts.TraceState {
		diff, err = h.chain.TraceBlockStateDiff(ctx, hash)
		if err != nil {
			h.m.traceFailures.Inc()
			log.Warn().Err(err).Uint64("block", header.Number.Uint64()).Msg("Failed to trace state diff, using empty diff")
			diff = nil
		}
	}

	base := h.root
	if parent != nil {
		base = parent.State
	}
	overlay := state.NewOverlay(base)
	if h.opts.FetcherAt != nil {
		overlay.WithFetcher(h.opts.FetcherAt(header.Number.Uint64()))
	}
	if err := overlay.ApplyGethUpdates(ctx, diff); err != nil {
		return nil, fmt.Errorf("apply state diff of block %d: %w", header.Number.Uint64(), err)
	}

	h.m.blocks.Inc()
	return &Block{
		Header: header,
		Logs:   logs,
		Diff:   diff,
		State:  overlay.MergeAll().Parent(),
	}, nil
}

// commit stores b as canonical at its height and returns the hashes it displaced
func (h *History) commit(b *Block) []common.Hash {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dropped []common.Hash
	n := b.Number()
	if h.head != nil {
		for i := n; i <= h.head.Number(); i++ {
			if old, ok := h.canonical[i]; ok && old != b.Hash() {
				dropped = append(dropped, old)
				delete(h.canonical, i)
			}
		}
	}
	h.blocks[b.Hash()] = b
	h.canonical[n] = b.Hash()
	h.head = b
	return dropped
}

// recanonize handles a header that is already known: it becomes the head
// again if a sibling had replaced it
func (h *History) recanonize(b *Block) *Update {
	h.mu.RLock()
	isHead := h.head == b
	h.mu.RUnlock()
	if isHead {
		return &Update{}
	}

	update := &Update{}
	for _, blk := range h.sideChain(b) {
		update.Dropped = append(update.Dropped, h.commit(blk)...)
		update.Applied = append(update.Applied, blk)
	}
	if len(update.Dropped) > 0 {
		h.m.reorgs.Inc()
	}
	return update
}

// sideChain returns b and its known non-canonical ancestors, oldest first
func (h *History) sideChain(b *Block) []*Block {
	chain := []*Block{b}
	for {
		parent, ok := h.lookup(chain[0].Header.ParentHash)
		if !ok || h.IsCanonical(parent.Hash()) {
			return chain
		}
		chain = append([]*Block{parent}, chain...)
	}
}

func (h *History) prune() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.head == nil || h.head.Number() < uint64(h.opts.Depth) {
		return
	}
	cutoff := h.head.Number() - uint64(h.opts.Depth)
	for hash, b := range h.blocks {
		if b.Number() <= cutoff {
			delete(h.blocks, hash)
		}
	}
	for n := range h.canonical {
		if n <= cutoff {
			delete(h.canonical, n)
		}
	}
}

func (h *History) lookup(hash common.Hash) (*Block, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.blocks[hash]
	return b, ok
}

func (h *History) isEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.blocks) == 0
}

// Block returns an ingested block by hash
func (h *History) Block(hash common.Hash) (*Block, error) {
	b, ok := h.lookup(hash)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, hash.Hex())
	}
	return b, nil
}

// StateAt returns a fresh writable overlay over the snapshot after the block
func (h *History) StateAt(hash common.Hash) (*state.LayeredDB, error) {
	b, err := h.Block(hash)
	if err != nil {
		return nil, err
	}
	return state.NewOverlay(b.State), nil
}

// Latest returns the head block, nil before the first ingest
func (h *History) Latest() *Block {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.head
}

// IsCanonical reports whether hash is on the current chain
func (h *History) IsCanonical(hash common.Hash) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.blocks[hash]
	if !ok {
		return false
	}
	return h.canonical[b.Number()] == hash
}

// Len returns the number of retained blocks, side chains included
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.blocks)
}
