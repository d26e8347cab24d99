package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"papertrade/internal/auth"
	"papertrade/internal/config"
	"papertrade/internal/domain"
	"papertrade/internal/engine"
	"papertrade/internal/feed"
	"papertrade/internal/handler"
	"papertrade/internal/hub"
	"papertrade/internal/market"
	"papertrade/internal/service"
	"papertrade/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PAPERTRADE_PORT")
		if port == "" {
			port = "8000"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load persisted state before anything can mutate it.
	fileStore := store.NewFileStore(cfg.Snapshot.Path)
	state, err := fileStore.Load()
	if err != nil {
		logger.Error("failed to load snapshot", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Domain.
	symbols := domain.NewSymbolSet(cfg.Symbols)

	// Stores and auth.
	users := store.NewUserStore()
	users.Restore(state.Users)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)

	// Subscription hub, market aggregator, and paper engine. The hub
	// needs the aggregator for EWMA registrations and the aggregator
	// and engine emit through the hub, so attach after construction.
	h := hub.New(tokens, symbols, cfg.Hub.ClientQueue, cfg.Hub.ClientRate, cfg.Hub.ClientBurst)
	agg := market.NewAggregator(cfg.Symbols, domain.KlineIntervals, h)
	h.AttachMarket(agg)

	eng := engine.New(symbols, h)
	eng.Restore(state.Balances, state.Orders, state.OrderSeq)
	logger.Info("state restored",
		slog.Int("users", len(state.Users)),
		slog.Int("orders", len(state.Orders)),
		slog.Uint64("order_seq", state.OrderSeq),
	)

	// Services.
	accountSvc := service.NewAccountService(users, tokens, eng, symbols)
	orderSvc := service.NewOrderService(eng)
	infoSvc := service.NewInfoService(symbols)

	// Router.
	router := handler.NewRouter(accountSvc, orderSvc, infoSvc, handler.NewWSHandler(h), tokens, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tick pipeline: each upstream feed publishes into the bus; the
	// aggregator and the engine each drain their own subscription so a
	// slow consumer never stalls the other.
	bus := feed.NewBus(cfg.Feed.TickBuffer)
	aggTicks := bus.Subscribe("aggregator")
	engTicks := bus.Subscribe("engine")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case tick := <-aggTicks:
				agg.OnTick(tick)
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case tick := <-engTicks:
				eng.OnTick(tick)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Upstream feeds.
	if cfg.Binance.Enabled {
		runner := feed.NewRunner(feed.NewBinance(cfg.Binance.URL, cfg.Symbols), bus.Publish,
			cfg.Feed.ReconnectBase, cfg.Feed.ReconnectMax)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}
	if cfg.OKX.Enabled {
		runner := feed.NewRunner(feed.NewOKX(cfg.OKX.URL, cfg.Symbols), bus.Publish,
			cfg.Feed.ReconnectBase, cfg.Feed.ReconnectMax)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}

	// Kline rolling and periodic snapshots.
	wg.Add(2)
	go func() {
		defer wg.Done()
		agg.RollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		fileStore.SnapshotLoop(ctx, cfg.Snapshot.Interval, func() *store.State {
			balances, orders, seq := eng.Snapshot()
			return &store.State{
				Users:    users.All(),
				Balances: balances,
				Orders:   orders,
				OrderSeq: seq,
			}
		})
	}()

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop accepting HTTP, drop websocket clients,
	// then cancel the pipeline. SnapshotLoop writes a final snapshot on
	// cancellation, so wait for every goroutine before exiting.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	h.CloseAll()
	cancel()
	wg.Wait()

	logger.Info("server stopped")
}
