package main

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/arbitrage"
	"github.com/devlongs/mev-searcher/internal/blockhistory"
	"github.com/devlongs/mev-searcher/internal/config"
	"github.com/devlongs/mev-searcher/internal/decoder"
	"github.com/devlongs/mev-searcher/internal/dex/uniswapv2"
	"github.com/devlongs/mev-searcher/internal/dex/uniswapv3"
	"github.com/devlongs/mev-searcher/internal/eth"
	"github.com/devlongs/mev-searcher/internal/market"
	"github.com/devlongs/mev-searcher/internal/output"
	"github.com/devlongs/mev-searcher/internal/state"
)

// headSource is the part of the chain client the block loop drives
type headSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	Close()
}

// App wires the chain client, block history and searcher together
type App struct {
	client   headSource
	history  *blockhistory.History
	searcher *arbitrage.Searcher
	logger   *output.Logger
	registry *prometheus.Registry
	cfg      *config.Config

	lastHead common.Hash
}

// NewApp connects to the node and builds the pipeline
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	lgr := output.NewLogger(cfg.Logging)

	client, err := eth.NewClient(ctx, cfg.RPC)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := market.New()
	for _, addr := range cfg.Searcher.BasicTokens {
		t := m.GetOrAddToken(addr)
		t.Basic = true
	}
	for _, addr := range cfg.Searcher.MiddleTokens {
		t := m.GetOrAddToken(addr)
		t.Middle = true
	}
	if cfg.Searcher.EthToken != (common.Address{}) {
		m.GetOrAddToken(cfg.Searcher.EthToken)
	}

	var (
		v2 *uniswapv2.Loader
		v3 *uniswapv3.Loader
	)
	if cfg.Searcher.EnableUniswapV2 {
		v2 = uniswapv2.NewLoader(uniswapv2.DefaultFeeBps, uniswapv2.FactoryFees())
	}
	if cfg.Searcher.EnableUniswapV3 {
		v3 = uniswapv3.NewLoader(client)
	}

	// every snapshot falls back to the node at its own block
	fetcherAt := func(number uint64) state.Fetcher {
		return eth.NewStateFetcher(client, new(big.Int).SetUint64(number))
	}
	history := blockhistory.New(client, state.NewLayeredDB(nil), blockhistory.Options{
		Depth:      cfg.Searcher.HistoryDepth,
		TraceState: cfg.Searcher.TraceState,
		FetcherAt:  fetcherAt,
		Registerer: registry,
	})

	searcher := arbitrage.New(market.NewShared(m), decoder.NewDecoder(v2, v3), arbitrage.Config{
		Workers:     cfg.Searcher.Workers,
		SeedAmount:  cfg.Searcher.SeedAmount,
		MinProfit:   cfg.Searcher.MinProfit,
		EthToken:    cfg.Searcher.EthToken,
		FourHop:     cfg.Searcher.FourHop,
		MaxPaths:    cfg.Searcher.MaxPaths,
		Multicaller: cfg.Searcher.Multicaller,
		Registerer:  registry,
	})

	return &App{
		client:   client,
		history:  history,
		searcher: searcher,
		logger:   lgr,
		registry: registry,
		cfg:      cfg,
	}, nil
}

// Start runs the block loop until ctx is cancelled
func (a *App) Start(ctx context.Context) error {
	log.Info().
		Int("workers", a.cfg.Searcher.Workers).
		Int("basicTokens", len(a.cfg.Searcher.BasicTokens)).
		Bool("fourHop", a.cfg.Searcher.FourHop).
		Msg("Starting searcher...")

	if a.cfg.Metrics.ListenAddr != "" {
		go a.serveMetrics(ctx)
	}
	go a.consumePlans(ctx)

	heads, subErr := a.subscribe(ctx)

	// polling stays on as the fallback when the subscription is missing or dies
	ticker := time.NewTicker(a.cfg.Searcher.PollInterval)
	defer ticker.Stop()

	// Stats ticker (every 30 seconds)
	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	if err := a.poll(ctx); err != nil {
		a.logger.LogError(err, "processing head")
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down searcher...")
			return ctx.Err()

		case <-statsTicker.C:
			a.logger.LogStats()

		case header := <-heads:
			if err := a.process(ctx, header); err != nil {
				a.logger.LogError(err, "processing head")
			}

		case err := <-subErr:
			log.Warn().Err(err).Msg("Head subscription failed, falling back to polling")
			heads, subErr = nil, nil

		case <-ticker.C:
			if err := a.poll(ctx); err != nil {
				a.logger.LogError(err, "processing head")
			}
		}
	}
}

// subscribe opens a new-head subscription when a WebSocket endpoint is
// configured. Nil channels leave the loop on polling.
func (a *App) subscribe(ctx context.Context) (<-chan *types.Header, <-chan error) {
	if a.cfg.RPC.WSUrl == "" {
		return nil, nil
	}
	heads := make(chan *types.Header, 16)
	sub, err := a.client.SubscribeNewHead(ctx, heads)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to subscribe to new heads, polling instead")
		return nil, nil
	}
	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	log.Info().Msg("Subscribed to new heads")
	return heads, sub.Err()
}

// poll fetches the current head and processes it
func (a *App) poll(ctx context.Context) error {
	header, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return err
	}
	return a.process(ctx, header)
}

// process ingests header and searches it when the head changed
func (a *App) process(ctx context.Context, header *types.Header) error {
	if header.Hash() == a.lastHead {
		return nil
	}

	update, err := a.history.Ingest(ctx, header)
	if err != nil {
		return err
	}
	a.lastHead = header.Hash()

	head := update.Head()
	if head == nil {
		return nil
	}
	if len(update.Applied) > 1 {
		log.Debug().Int("blocks", len(update.Applied)).Msg("Caught up several blocks, searching the head only")
	}

	res, err := a.searcher.OnBlock(ctx, head)
	if err != nil {
		return err
	}
	a.logger.LogBlock(res)
	return nil
}

// consumePlans stands in for the executor until one is attached
func (a *App) consumePlans(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-a.searcher.Plans():
			a.logger.LogPlan(p)
		}
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", a.cfg.Metrics.ListenAddr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}

// Close shuts down the app
func (a *App) Close() {
	a.client.Close()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create searcher")
	}
	defer app.Close()

	if err := app.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Searcher error")
	}

	log.Info().Msg("Searcher stopped")
}
