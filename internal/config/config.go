package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds all configuration for the searcher
type Config struct {
	RPC      RPCConfig
	Searcher SearcherConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

// RPCConfig holds Ethereum RPC configuration
type RPCConfig struct {
	URL            string
	WSUrl          string
	RetryAttempts  int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// SearcherConfig holds the arbitrage search settings
type SearcherConfig struct {
	PollInterval    time.Duration
	Workers         int
	SeedAmount      *big.Int // initial input of every optimization, in wei of the basic token
	MinProfit       *big.Int // wei of ETH once the anchor token is priced
	EthToken        common.Address
	FourHop         bool
	MaxPaths        int
	Multicaller     common.Address
	BasicTokens     []common.Address
	MiddleTokens    []common.Address
	HistoryDepth    int
	EnableUniswapV2 bool
	EnableUniswapV3 bool
	TraceState      bool // fetch prestate diffs; logs only otherwise
}

// MetricsConfig holds the prometheus endpoint settings
type MetricsConfig struct {
	ListenAddr string // empty disables the endpoint
	Path       string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "console"
}

const weth = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"

// Load reads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("rpc.url", "https://eth-mainnet.g.alchemy.com/v2/YOUR_API_KEY")
	v.SetDefault("rpc.ws_url", "")
	v.SetDefault("rpc.retry_attempts", 3)
	v.SetDefault("rpc.retry_delay", "1s")
	v.SetDefault("rpc.request_timeout", "30s")

	v.SetDefault("searcher.poll_interval", "12s")
	v.SetDefault("searcher.workers", 4)
	v.SetDefault("searcher.seed_amount", "100000000000000000")
	v.SetDefault("searcher.min_profit", "0")
	v.SetDefault("searcher.four_hop", false)
	v.SetDefault("searcher.max_paths", 0)
	v.SetDefault("searcher.multicaller", "")
	v.SetDefault("searcher.eth_token", weth)
	v.SetDefault("searcher.basic_tokens", []string{weth})
	v.SetDefault("searcher.middle_tokens", []string{})
	v.SetDefault("searcher.history_depth", 64)
	v.SetDefault("searcher.enable_uniswap_v2", true)
	v.SetDefault("searcher.enable_uniswap_v3", true)
	v.SetDefault("searcher.trace_state", true)

	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Environment variable support
	v.SetEnvPrefix("MEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file support
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.mev-searcher")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	seed, err := parseAmount(v.GetString("searcher.seed_amount"))
	if err != nil {
		return nil, fmt.Errorf("searcher.seed_amount: %w", err)
	}
	if seed.Sign() <= 0 {
		return nil, fmt.Errorf("searcher.seed_amount must be positive")
	}
	minProfit, err := parseAmount(v.GetString("searcher.min_profit"))
	if err != nil {
		return nil, fmt.Errorf("searcher.min_profit: %w", err)
	}
	basic, err := parseAddresses(v.GetStringSlice("searcher.basic_tokens"))
	if err != nil {
		return nil, fmt.Errorf("searcher.basic_tokens: %w", err)
	}
	middle, err := parseAddresses(v.GetStringSlice("searcher.middle_tokens"))
	if err != nil {
		return nil, fmt.Errorf("searcher.middle_tokens: %w", err)
	}
	multicaller, err := parseOptionalAddress(v.GetString("searcher.multicaller"))
	if err != nil {
		return nil, fmt.Errorf("searcher.multicaller: %w", err)
	}
	ethToken, err := parseOptionalAddress(v.GetString("searcher.eth_token"))
	if err != nil {
		return nil, fmt.Errorf("searcher.eth_token: %w", err)
	}

	cfg := &Config{
		RPC: RPCConfig{
			URL:            v.GetString("rpc.url"),
			WSUrl:          v.GetString("rpc.ws_url"),
			RetryAttempts:  v.GetInt("rpc.retry_attempts"),
			RetryDelay:     v.GetDuration("rpc.retry_delay"),
			RequestTimeout: v.GetDuration("rpc.request_timeout"),
		},
		Searcher: SearcherConfig{
			PollInterval:    v.GetDuration("searcher.poll_interval"),
			Workers:         v.GetInt("searcher.workers"),
			SeedAmount:      seed,
			MinProfit:       minProfit,
			EthToken:        ethToken,
			FourHop:         v.GetBool("searcher.four_hop"),
			MaxPaths:        v.GetInt("searcher.max_paths"),
			Multicaller:     multicaller,
			BasicTokens:     basic,
			MiddleTokens:    middle,
			HistoryDepth:    v.GetInt("searcher.history_depth"),
			EnableUniswapV2: v.GetBool("searcher.enable_uniswap_v2"),
			EnableUniswapV3: v.GetBool("searcher.enable_uniswap_v3"),
			TraceState:      v.GetBool("searcher.trace_state"),
		},
		Metrics: MetricsConfig{
			ListenAddr: v.GetString("metrics.listen_addr"),
			Path:       v.GetString("metrics.path"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}
	if cfg.Searcher.Workers < 1 {
		cfg.Searcher.Workers = 1
	}
	if cfg.Searcher.PollInterval <= 0 {
		return nil, fmt.Errorf("searcher.poll_interval must be positive")
	}
	return cfg, nil
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 0)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

func parseAddresses(in []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}

// parseOptionalAddress returns the zero address for an empty string
func parseOptionalAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
