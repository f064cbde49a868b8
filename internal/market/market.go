// Package market holds the token and pool registries and the adjacency
// indices path building runs on.
package market

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devlongs/mev-searcher/pkg/types"
)

var (
	// ErrDuplicatePool is returned when a pool address is already registered
	ErrDuplicatePool = errors.New("pool already exists")
	// ErrPoolNotFound is returned for operations on an unregistered pool
	ErrPoolNotFound = errors.New("pool not found")
)

type direction = types.SwapDirection

// Market is the registry of tokens and pools. It is not safe for concurrent
// use; see SharedMarket.
//
// The direction index is authoritative for enabled status. The token
// adjacency and token→pool indices keep disabled pools.
type Market struct {
	tokens      map[common.Address]*types.Token
	pools       map[common.Address]types.Pool
	tokenTokens map[common.Address][]common.Address
	tokenPools  map[common.Address][]common.Address
	directions  map[direction][]common.Address
	disabled    map[common.Address]bool
}

func New() *Market {
	return &Market{
		tokens:      make(map[common.Address]*types.Token),
		pools:       make(map[common.Address]types.Pool),
		tokenTokens: make(map[common.Address][]common.Address),
		tokenPools:  make(map[common.Address][]common.Address),
		directions:  make(map[direction][]common.Address),
		disabled:    make(map[common.Address]bool),
	}
}

// AddToken inserts or replaces a token by address
func (m *Market) AddToken(token *types.Token) {
	m.tokens[token.Address] = token
}

// GetToken returns the token, or nil
func (m *Market) GetToken(address common.Address) *types.Token {
	return m.tokens[address]
}

// GetOrAddToken returns the registered token, registering a plain one if needed
func (m *Market) GetOrAddToken(address common.Address) *types.Token {
	if t, ok := m.tokens[address]; ok {
		return t
	}
	t := types.NewToken(address)
	m.tokens[address] = t
	return t
}

// AddPool registers a pool and indexes every direction it declares.
// Tokens not seen before are registered as plain tokens.
func (m *Market) AddPool(pool types.Pool) error {
	addr := pool.Address()
	if _, ok := m.pools[addr]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePool, addr.Hex())
	}
	m.pools[addr] = pool

	for _, t := range pool.Tokens() {
		m.GetOrAddToken(t)
	}
	for _, d := range pool.SwapDirections() {
		m.GetOrAddToken(d.From)
		m.GetOrAddToken(d.To)
		m.directions[d] = appendUnique(m.directions[d], addr)
		m.tokenTokens[d.From] = appendUnique(m.tokenTokens[d.From], d.To)
		m.tokenPools[d.From] = appendUnique(m.tokenPools[d.From], addr)
		m.tokenPools[d.To] = appendUnique(m.tokenPools[d.To], addr)
	}
	return nil
}

// SetPoolStatus enables or disables a pool for path building
func (m *Market) SetPoolStatus(address common.Address, enabled bool) error {
	pool, ok := m.pools[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, address.Hex())
	}
	if enabled {
		delete(m.disabled, address)
		for _, d := range pool.SwapDirections() {
			m.directions[d] = appendUnique(m.directions[d], address)
		}
		return nil
	}

	m.disabled[address] = true
	for _, d := range pool.SwapDirections() {
		bucket := remove(m.directions[d], address)
		if len(bucket) == 0 {
			delete(m.directions, d)
			continue
		}
		m.directions[d] = bucket
	}
	return nil
}

// IsPoolEnabled reports false for disabled and unknown pools
func (m *Market) IsPoolEnabled(address common.Address) bool {
	if _, ok := m.pools[address]; !ok {
		return false
	}
	return !m.disabled[address]
}

// GetPool returns nil for unregistered pools and for pools of unknown class
func (m *Market) GetPool(address common.Address) types.Pool {
	pool, ok := m.pools[address]
	if !ok || pool.Class() == types.PoolClassUnknown {
		return nil
	}
	return pool
}

// HasPool reports whether an entry exists for address, whatever its class
func (m *Market) HasPool(address common.Address) bool {
	_, ok := m.pools[address]
	return ok
}

// TokenTokenPools returns the enabled pools offering from→to
func (m *Market) TokenTokenPools(from, to common.Address) []common.Address {
	return clone(m.directions[direction{From: from, To: to}])
}

// TokenTokens returns the tokens reachable from token in one hop
func (m *Market) TokenTokens(token common.Address) []common.Address {
	return clone(m.tokenTokens[token])
}

// TokenPools returns the pools touching token
func (m *Market) TokenPools(token common.Address) []common.Address {
	return clone(m.tokenPools[token])
}

// Tokens returns every registered token
func (m *Market) Tokens() []*types.Token {
	out := make([]*types.Token, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t)
	}
	return out
}

// BasicTokens returns the tokens flagged as cycle anchors
func (m *Market) BasicTokens() []*types.Token {
	var out []*types.Token
	for _, t := range m.tokens {
		if t.IsBasic() {
			out = append(out, t)
		}
	}
	return out
}

// Pools returns every registered pool, disabled ones included
func (m *Market) Pools() []types.Pool {
	out := make([]types.Pool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	return out
}

func (m *Market) PoolCount() int {
	return len(m.pools)
}

func appendUnique(list []common.Address, addr common.Address) []common.Address {
	for _, a := range list {
		if a == addr {
			return list
		}
	}
	return append(list, addr)
}

func remove(list []common.Address, addr common.Address) []common.Address {
	out := list[:0:0]
	for _, a := range list {
		if a != addr {
			out = append(out, a)
		}
	}
	return out
}

func clone(list []common.Address) []common.Address {
	if len(list) == 0 {
		return nil
	}
	return append([]common.Address(nil), list...)
}
