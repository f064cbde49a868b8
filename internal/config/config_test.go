package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MEV_SEARCHER_WORKERS", "8")
	t.Setenv("MEV_RPC_RETRY_DELAY", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Searcher.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.RPC.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.RPC.RequestTimeout)
	assert.Equal(t, "100000000000000000", cfg.Searcher.SeedAmount.String())
	assert.Equal(t, []common.Address{common.HexToAddress(weth)}, cfg.Searcher.BasicTokens)
	assert.Empty(t, cfg.Searcher.MiddleTokens)
	assert.False(t, cfg.Searcher.FourHop)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, common.HexToAddress(weth), cfg.Searcher.EthToken)
}

func TestFromViper(t *testing.T) {
	testCases := []struct {
		name    string
		set     map[string]interface{}
		wantErr string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "hex amounts and token lists",
			set: map[string]interface{}{
				"searcher.seed_amount":   "0xde0b6b3a7640000",
				"searcher.middle_tokens": []string{"0x6B175474E89094C44Da98b954EedeAC495271d0F", " "},
				"searcher.multicaller":   "0x00000000000000000000000000000000000000aa",
				"searcher.workers":       0,
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "1000000000000000000", cfg.Searcher.SeedAmount.String())
				assert.Len(t, cfg.Searcher.MiddleTokens, 1)
				assert.Equal(t, common.HexToAddress("0xaa"), cfg.Searcher.Multicaller)
				assert.Equal(t, 1, cfg.Searcher.Workers)
			},
		},
		{
			name:    "zero seed",
			set:     map[string]interface{}{"searcher.seed_amount": "0"},
			wantErr: "must be positive",
		},
		{
			name:    "bad token",
			set:     map[string]interface{}{"searcher.basic_tokens": []string{"weth"}},
			wantErr: "basic_tokens",
		},
		{
			name:    "bad multicaller",
			set:     map[string]interface{}{"searcher.multicaller": "0x12"},
			wantErr: "multicaller",
		},
		{
			name:    "bad eth token",
			set:     map[string]interface{}{"searcher.eth_token": "eth"},
			wantErr: "eth_token",
		},
		{
			name:    "zero poll interval",
			set:     map[string]interface{}{"searcher.poll_interval": "0s"},
			wantErr: "poll_interval",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			v.SetDefault("searcher.seed_amount", "1")
			v.SetDefault("searcher.min_profit", "0")
			v.SetDefault("searcher.poll_interval", "1s")
			for k, val := range tc.set {
				v.Set(k, val)
			}
			cfg, err := fromViper(v)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}
