package eth

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/config"
	"github.com/devlongs/mev-searcher/internal/state"
)

// Client wraps the Ethereum client with retry logic and the debug namespace
// calls the searcher needs
type Client struct {
	client *ethclient.Client
	rpc    *rpc.Client
	cfg    config.RPCConfig
}

var _ ethereum.ContractCaller = (*Client)(nil)

// NewClient dials the node and checks it answers
func NewClient(ctx context.Context, cfg config.RPCConfig) (*Client, error) {
	url := cfg.URL
	if cfg.WSUrl != "" {
		url = cfg.WSUrl
	}
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum node: %w", err)
	}
	client := ethclient.NewClient(rpcClient)

	callCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	chainID, err := client.ChainID(callCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	log.Info().
		Str("url", url).
		Str("chainID", chainID.String()).
		Msg("Connected to Ethereum node")

	return &Client{
		client: client,
		rpc:    rpcClient,
		cfg:    cfg,
	}, nil
}

// Close closes the client connection
func (c *Client) Close() {
	c.client.Close()
}

// withRetry runs call up to RetryAttempts times, sleeping RetryDelay between
// failures. Context cancellation stops the loop early.
func withRetry[T any](ctx context.Context, cfg config.RPCConfig, what string, call func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.RequestTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		}
		result, err = call(callCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		if i == attempts-1 {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msgf("Failed to %s, retrying...", what)
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}

	var zero T
	return zero, fmt.Errorf("failed to %s after %d attempts: %w", what, attempts, err)
}

// HeaderByNumber returns a header by number, the latest for nil
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return withRetry(ctx, c.cfg, "get header", func(ctx context.Context) (*types.Header, error) {
		return c.client.HeaderByNumber(ctx, number)
	})
}

// HeaderByHash returns a header by hash
func (c *Client) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	return withRetry(ctx, c.cfg, "get header", func(ctx context.Context) (*types.Header, error) {
		return c.client.HeaderByHash(ctx, hash)
	})
}

// FilterLogs fetches logs matching the query
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return withRetry(ctx, c.cfg, "get logs", func(ctx context.Context) ([]types.Log, error) {
		return c.client.FilterLogs(ctx, query)
	})
}

// BlockLogs returns every log emitted in the block
func (c *Client) BlockLogs(ctx context.Context, hash common.Hash) ([]types.Log, error) {
	return c.FilterLogs(ctx, ethereum.FilterQuery{BlockHash: &hash})
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return withRetry(ctx, c.cfg, "get balance", func(ctx context.Context) (*big.Int, error) {
		return c.client.BalanceAt(ctx, account, blockNumber)
	})
}

func (c *Client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return withRetry(ctx, c.cfg, "get nonce", func(ctx context.Context) (uint64, error) {
		return c.client.NonceAt(ctx, account, blockNumber)
	})
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return withRetry(ctx, c.cfg, "get code", func(ctx context.Context) ([]byte, error) {
		return c.client.CodeAt(ctx, account, blockNumber)
	})
}

func (c *Client) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	return withRetry(ctx, c.cfg, "get storage", func(ctx context.Context) ([]byte, error) {
		return c.client.StorageAt(ctx, account, key, blockNumber)
	})
}

// CallContract executes a contract call
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return withRetry(ctx, c.cfg, "call contract", func(ctx context.Context) ([]byte, error) {
		return c.client.CallContract(ctx, msg, blockNumber)
	})
}

// SubscribeNewHead subscribes to new block headers (requires WebSocket)
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return c.client.SubscribeNewHead(ctx, ch)
}

// TraceBlockStateDiff returns the per-transaction post states of a block,
// in execution order, using the prestate tracer in diff mode
func (c *Client) TraceBlockStateDiff(ctx context.Context, hash common.Hash) ([]state.GethStateUpdate, error) {
	traces, err := withRetry(ctx, c.cfg, "trace block", func(ctx context.Context) ([]txDiffTrace, error) {
		var out []txDiffTrace
		err := c.rpc.CallContext(ctx, &out, "debug_traceBlockByHash", hash, traceConfig{
			Tracer:       "prestateTracer",
			TracerConfig: prestateConfig{DiffMode: true},
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return postStates(traces)
}
