package types

import (
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// DefaultDecimals is used for tokens whose decimals were never observed
const DefaultDecimals = 18

// Token represents an ERC20 token. Tokens are shared by pointer across every
// pool and path that references them; identity is the address.
type Token struct {
	Address  common.Address
	Symbol   string
	Name     string
	Decimals uint8

	// Basic tokens anchor arbitrage cycles (e.g. WETH)
	Basic bool
	// Middle tokens may be used as intermediate hops of longer paths
	Middle bool

	ethPrice atomic.Pointer[big.Int]
}

// NewToken creates a plain token with the default decimals
func NewToken(address common.Address) *Token {
	return &Token{
		Address:  address,
		Decimals: DefaultDecimals,
	}
}

// IsBasic reports whether the token anchors arbitrage cycles
func (t *Token) IsBasic() bool {
	return t.Basic
}

// IsMiddle reports whether the token may be an intermediate hop
func (t *Token) IsMiddle() bool {
	return t.Middle
}

// EthPrice returns the cached ETH-denominated price, or nil if unknown
func (t *Token) EthPrice() *big.Int {
	p := t.ethPrice.Load()
	if p == nil {
		return nil
	}
	return new(big.Int).Set(p)
}

// SetEthPrice caches the ETH-denominated price of one whole token
func (t *Token) SetEthPrice(price *big.Int) {
	if price == nil {
		t.ethPrice.Store(nil)
		return
	}
	t.ethPrice.Store(new(big.Int).Set(price))
}

// Label returns the symbol if known, the short address otherwise
func (t *Token) Label() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()[:10]
}

// Swap represents a single decoded swap event
type Swap struct {
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	Pool        common.Address
	Protocol    string
	Sender      common.Address
	Recipient   common.Address
	Amount0In   *big.Int
	Amount1In   *big.Int
	Amount0Out  *big.Int
	Amount1Out  *big.Int
	// V3 specific
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         *big.Int
}

// EVMEnv is the block environment pools simulate against
type EVMEnv struct {
	Number    uint64
	Timestamp uint64
	BaseFee   *big.Int
	Coinbase  common.Address
}

// EnvFromHeader builds the simulation environment of the block following header
func EnvFromHeader(header *ethtypes.Header) EVMEnv {
	env := EVMEnv{
		Number:    header.Number.Uint64() + 1,
		Timestamp: header.Time + 12,
		Coinbase:  header.Coinbase,
	}
	if header.BaseFee != nil {
		env.BaseFee = new(big.Int).Set(header.BaseFee)
	}
	return env
}
