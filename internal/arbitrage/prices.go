package arbitrage

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/market"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// reservePool is a pool quoting from constant-product reserves
type reservePool interface {
	types.Pool
	Reserves(ctx context.Context, state types.StateReader) (*big.Int, *big.Int, error)
}

type priceSource struct {
	token *types.Token
	eth   *types.Token
	pools []reservePool
}

// updatePrices sets the ETH price of every basic token from its deepest
// reserve pool against the ETH token. Tokens without such a pool keep their
// previous price.
func (s *Searcher) updatePrices(ctx context.Context, db types.StateReader) {
	if s.cfg.EthToken == (common.Address{}) {
		return
	}

	var sources []priceSource
	s.market.Read(func(m *market.Market) {
		eth := m.GetToken(s.cfg.EthToken)
		if eth == nil {
			return
		}
		eth.SetEthPrice(pow10(eth.Decimals))
		for _, t := range m.BasicTokens() {
			if t == eth {
				continue
			}
			src := priceSource{token: t, eth: eth}
			for _, addr := range m.TokenTokenPools(t.Address, eth.Address) {
				if p, ok := m.GetPool(addr).(reservePool); ok {
					src.pools = append(src.pools, p)
				}
			}
			if len(src.pools) > 0 {
				sources = append(sources, src)
			}
		}
	})

	for _, src := range sources {
		var bestEth, bestToken *big.Int
		for _, p := range src.pools {
			r0, r1, err := p.Reserves(ctx, db)
			if err != nil {
				log.Debug().Err(err).Str("pool", p.Address().Hex()).Msg("Failed to read reserves for pricing")
				continue
			}
			rToken, rEth := r0, r1
			if p.Tokens()[0] == src.eth.Address {
				rToken, rEth = r1, r0
			}
			if rToken.Sign() == 0 || (bestEth != nil && rEth.Cmp(bestEth) <= 0) {
				continue
			}
			bestEth, bestToken = rEth, rToken
		}
		if bestEth == nil {
			continue
		}
		// wei of ETH per whole token
		price := new(big.Int).Mul(bestEth, pow10(src.token.Decimals))
		price.Quo(price, bestToken)
		src.token.SetEthPrice(price)
	}
}

// ethValue converts an amount of token into wei of ETH, nil when the token
// has no price yet
func ethValue(token *types.Token, amount *big.Int) *big.Int {
	price := token.EthPrice()
	if price == nil || amount == nil {
		return nil
	}
	v := new(big.Int).Mul(amount, price)
	return v.Quo(v, pow10(token.Decimals))
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
