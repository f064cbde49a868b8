package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrPathShape is returned when tokens and pools do not alternate
	ErrPathShape = errors.New("path must have exactly one more token than pools")
	// ErrPathPoolReuse is returned when a pool appears twice in a path
	ErrPathPoolReuse = errors.New("path uses the same pool twice")
)

// SwapPath is an immutable alternating sequence of tokens and pools:
// tokens[0] --pools[0]--> tokens[1] --pools[1]--> ... tokens[n]
type SwapPath struct {
	tokens []*Token
	pools  []Pool
	key    string
}

// NewSwapPath validates the path shape and pool uniqueness
func NewSwapPath(tokens []*Token, pools []Pool) (*SwapPath, error) {
	if len(pools) == 0 || len(tokens) != len(pools)+1 {
		return nil, fmt.Errorf("%w: %d tokens, %d pools", ErrPathShape, len(tokens), len(pools))
	}
	seen := make(map[common.Address]struct{}, len(pools))
	for _, p := range pools {
		if _, ok := seen[p.Address()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrPathPoolReuse, p.Address().Hex())
		}
		seen[p.Address()] = struct{}{}
	}

	path := &SwapPath{
		tokens: append([]*Token(nil), tokens...),
		pools:  append([]Pool(nil), pools...),
	}
	path.key = pathKey(path.tokens, path.pools)
	return path, nil
}

func pathKey(tokens []*Token, pools []Pool) string {
	var b strings.Builder
	b.Grow(len(tokens)*40 + len(pools)*41)
	for _, t := range tokens {
		b.WriteString(common.Bytes2Hex(t.Address.Bytes()))
	}
	b.WriteByte('|')
	for _, p := range pools {
		b.WriteString(common.Bytes2Hex(p.Address().Bytes()))
	}
	return b.String()
}

// Key identifies the path by its token and pool sequence
func (p *SwapPath) Key() string {
	return p.key
}

// Tokens returns a copy of the token sequence
func (p *SwapPath) Tokens() []*Token {
	return append([]*Token(nil), p.tokens...)
}

// Pools returns a copy of the pool sequence
func (p *SwapPath) Pools() []Pool {
	return append([]Pool(nil), p.pools...)
}

func (p *SwapPath) Token(i int) *Token {
	return p.tokens[i]
}

func (p *SwapPath) Pool(i int) Pool {
	return p.pools[i]
}

// Len returns the number of hops
func (p *SwapPath) Len() int {
	return len(p.pools)
}

func (p *SwapPath) FirstToken() *Token {
	return p.tokens[0]
}

func (p *SwapPath) LastToken() *Token {
	return p.tokens[len(p.tokens)-1]
}

// IsCycle reports whether the path starts and ends with the same token
func (p *SwapPath) IsCycle() bool {
	return p.FirstToken().Address == p.LastToken().Address
}

// ContainsPool reports whether the pool address is used by any hop
func (p *SwapPath) ContainsPool(address common.Address) bool {
	for _, pool := range p.pools {
		if pool.Address() == address {
			return true
		}
	}
	return false
}

// Split cuts the path at hop index i into [0,i) and [i,n)
func (p *SwapPath) Split(i int) (*SwapPath, *SwapPath, error) {
	if i <= 0 || i >= len(p.pools) {
		return nil, nil, fmt.Errorf("split index %d out of range for %d hops", i, len(p.pools))
	}
	head, err := NewSwapPath(p.tokens[:i+1], p.pools[:i])
	if err != nil {
		return nil, nil, err
	}
	tail, err := NewSwapPath(p.tokens[i:], p.pools[i:])
	if err != nil {
		return nil, nil, err
	}
	return head, tail, nil
}

func (p *SwapPath) String() string {
	var b strings.Builder
	for i, t := range p.tokens {
		if i > 0 {
			fmt.Fprintf(&b, " -%s:%s-> ", p.pools[i-1].Class(), p.pools[i-1].Address().Hex()[:10])
		}
		b.WriteString(t.Label())
	}
	return b.String()
}
