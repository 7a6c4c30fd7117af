// Command clobbook connects to an exchange's public market-data feed,
// replicates its order books in memory, and serves them over HTTP for
// downstream analytics and visualization.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"clobbook/internal/config"
	"clobbook/internal/feed"
	"clobbook/internal/publisher"
	"clobbook/internal/registry"
	"clobbook/internal/server"
	"clobbook/internal/telemetry"
	"clobbook/internal/utils/logger"
)

func main() {
	cfg := config.Get()

	log := logger.Get()
	feedLog := logger.GetFeedLogger()
	defer log.Sync()
	defer feedLog.Sync()

	for _, sym := range cfg.Symbols {
		if err := sym.Validate(); err != nil {
			log.Fatal("invalid symbol configuration", zap.String("symbol", sym.Symbol), zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	stats := telemetry.Stats{}
	metricsReg := telemetry.Init()

	norm := feed.NewNormalizer(reg, log, feedLog, stats)
	norm.Verbose = cfg.VerboseWireLogging
	transport := feed.NewWebsocketTransport(cfg.FeedURL)
	session := feed.NewSession(transport, reg, norm, log, feedLog,
		feed.WithIdleTimeout(cfg.IdleTimeout),
		feed.WithBackoff(feed.BackoffPolicy{Initial: cfg.BackoffInitial, Max: cfg.BackoffMax, Jitter: 0.2}),
	)

	session.OnReconnect = func() { telemetry.ReconnectsTotal.Inc() }

	for _, sym := range cfg.Symbols {
		session.Subscribe(sym.Symbol, sym.Channels)
	}

	pubs := publisher.NewSet(reg)
	httpServer := server.New(pubs, metricsReg, log, cfg)

	go session.Run(ctx)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				telemetry.ObserveBooks(reg)
			}
		}
	}()

	go func() {
		if err := httpServer.Listen(cfg.HTTPAddr); err != nil {
			log.Error("http server stopped", zap.Error(err))
		}
	}()

	log.Info("clobbook started",
		zap.String("session", session.ID()),
		zap.String("feed_url", cfg.FeedURL),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Int("symbols", len(cfg.Symbols)),
	)

	<-ctx.Done()
	log.Info("shutting down gracefully, press Ctrl+C again to force")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("http server forced to shutdown", zap.Error(err))
	}
	if err := session.Close(); err != nil {
		log.Error("feed session close reported errors", zap.Error(err))
	}

	fmt.Println("clobbook exited")
	os.Exit(0)
}
