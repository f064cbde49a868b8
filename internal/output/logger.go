package output

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/arbitrage"
	"github.com/devlongs/mev-searcher/internal/config"
)

// Logger reports search results and keeps running statistics
type Logger struct {
	mu    sync.Mutex
	stats *Stats
}

// Stats tracks searcher statistics
type Stats struct {
	BlocksProcessed   uint64
	SwapsDecoded      uint64
	PoolsDiscovered   uint64
	PathsBuilt        uint64
	ProfitableLines   uint64
	PlansEmitted      uint64
	ObservedCycles    uint64
	BestProfitWei     *big.Int
	TotalPlannedWei   *big.Int
	ObservedProfitWei *big.Int
	StartTime         time.Time
}

// Setup configures the global zerolog logger
func Setup(cfg config.LoggingConfig) {
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// NewLogger configures logging and creates a statistics logger
func NewLogger(cfg config.LoggingConfig) *Logger {
	Setup(cfg)
	return &Logger{
		stats: &Stats{
			BestProfitWei:     big.NewInt(0),
			TotalPlannedWei:   big.NewInt(0),
			ObservedProfitWei: big.NewInt(0),
			StartTime:         time.Now(),
		},
	}
}

// LogBlock records and logs one searched block
func (l *Logger) LogBlock(res *arbitrage.BlockResult) {
	l.mu.Lock()
	l.stats.BlocksProcessed++
	l.stats.SwapsDecoded += uint64(res.Swaps)
	l.stats.PoolsDiscovered += uint64(res.Discovered)
	l.stats.PathsBuilt += uint64(res.Paths)
	l.stats.ProfitableLines += uint64(res.Profitable)
	l.stats.PlansEmitted += uint64(len(res.Plans))
	l.stats.ObservedCycles += uint64(len(res.Observed))
	for _, p := range res.Plans {
		v := planValue(p)
		l.stats.TotalPlannedWei.Add(l.stats.TotalPlannedWei, v)
		if v.Cmp(l.stats.BestProfitWei) > 0 {
			l.stats.BestProfitWei.Set(v)
		}
	}
	for _, c := range res.Observed {
		l.stats.ObservedProfitWei.Add(l.stats.ObservedProfitWei, c.Profit)
	}
	l.mu.Unlock()

	evt := log.Info()
	if len(res.Plans) == 0 {
		evt = log.Debug()
	}
	evt.
		Uint64("block", res.Block).
		Int("touched", res.Touched).
		Int("discovered", res.Discovered).
		Int("paths", res.Paths).
		Int("profitable", res.Profitable).
		Int("plans", len(res.Plans)).
		Dur("duration", res.Duration).
		Msg("Block searched")
}

// LogPlan logs an emitted plan with its route
func (l *Logger) LogPlan(p *arbitrage.SwapPlan) {
	route := ""
	switch {
	case p.Merged():
		route = p.Step0.String() + " => " + p.Step1.String()
	case p.Line != nil:
		route = p.Line.Path.String()
	}
	evt := log.Info().Uint64("block", p.Block)
	if p.ProfitEth != nil {
		evt = evt.Str("profitETH", weiToEther(p.ProfitEth))
	} else {
		evt = evt.Str("profit", p.Profit.String())
	}
	evt.
		Uint64("gas", p.GasUsed).
		Bool("merged", p.Merged()).
		Str("route", route).
		Msg("SWAP PLAN")
}

// LogStats logs current statistics
func (l *Logger) LogStats() {
	s := l.GetStats()
	elapsed := time.Since(s.StartTime)
	blocksPerSec := float64(s.BlocksProcessed) / elapsed.Seconds()

	log.Info().
		Uint64("blocksProcessed", s.BlocksProcessed).
		Uint64("swapsDecoded", s.SwapsDecoded).
		Uint64("poolsDiscovered", s.PoolsDiscovered).
		Uint64("pathsBuilt", s.PathsBuilt).
		Uint64("profitableLines", s.ProfitableLines).
		Uint64("plansEmitted", s.PlansEmitted).
		Uint64("observedCycles", s.ObservedCycles).
		Str("bestProfit", weiToEther(s.BestProfitWei)+" ETH").
		Str("totalPlanned", weiToEther(s.TotalPlannedWei)+" ETH").
		Str("observedProfit", weiToEther(s.ObservedProfitWei)+" ETH").
		Float64("blocksPerSec", blocksPerSec).
		Dur("uptime", elapsed).
		Msg("Searcher Stats")
}

// LogError logs an error
func (l *Logger) LogError(err error, context string) {
	log.Error().
		Err(err).
		Str("context", context).
		Msg("Error occurred")
}

// GetStats returns a copy of the current statistics
func (l *Logger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := *l.stats
	s.BestProfitWei = new(big.Int).Set(l.stats.BestProfitWei)
	s.TotalPlannedWei = new(big.Int).Set(l.stats.TotalPlannedWei)
	s.ObservedProfitWei = new(big.Int).Set(l.stats.ObservedProfitWei)
	return s
}

// planValue is the plan profit in wei of ETH, or in anchor units when the
// anchor has no price
func planValue(p *arbitrage.SwapPlan) *big.Int {
	if p.ProfitEth != nil {
		return p.ProfitEth
	}
	return p.Profit
}

// weiToEther converts wei to ether string with 6 decimal places
func weiToEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}

	// 1 ETH = 10^18 wei
	ether := new(big.Float).SetInt(wei)
	divisor := new(big.Float).SetInt(big.NewInt(1e18))
	ether.Quo(ether, divisor)

	return fmt.Sprintf("%.6f", ether)
}
