package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinwatch/config"
	"coinwatch/internal/exchange"
	"coinwatch/internal/logger"
	"coinwatch/internal/metrics"
	"coinwatch/internal/model"
	redisstore "coinwatch/internal/store/redis"
	"coinwatch/internal/stream"
	"coinwatch/internal/volume"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	slogger := logger.Init("streamer", slog.LevelInfo)
	slogger.Info("starting")

	cfg := config.Load()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Volume cache (required) ----
	cache, err := redisstore.New(redisstore.CacheConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[streamer] redis init failed: %v", err)
	}
	defer cache.Close()
	health.StartLivenessChecker(ctx, cache.Client(), nil, 15*time.Second)

	agg := volume.New(cache, volume.Config{BucketWidth: cfg.BucketWidth, TTL: cfg.BucketTTL})
	agg.OnWriteError = func(model.TradeEvent, error) {
		prom.CacheFailures.Inc()
		prom.DroppedTrades.Inc()
	}

	// ---- Subscription universe ----
	exch := exchange.New(exchange.Config{
		BaseURL:     cfg.ExchangeBaseURL,
		QuotePrefix: cfg.QuotePrefix,
	})
	markets, err := exch.Markets(ctx)
	if err != nil {
		log.Fatalf("[streamer] market listing failed: %v", err)
	}
	log.Printf("[streamer] streaming trades for %d markets", len(markets))

	// ---- Trade ingestor ----
	ing, err := stream.New(stream.Config{
		URL:            cfg.ExchangeWSURL,
		Markets:        markets,
		Ticket:         cfg.StreamTicket,
		ReconnectDelay: cfg.ReconnectDelay,
	})
	if err != nil {
		log.Fatalf("[streamer] ingestor init failed: %v", err)
	}
	ing.OnReconnect = func() {
		prom.WSReconnects.Inc()
		health.SetWSConnected(false)
	}
	ing.OnDrop = func(model.TradeEvent) { prom.DroppedTrades.Inc() }
	ing.OnStateChange = func(s stream.State) {
		health.SetWSConnected(s == stream.StateSubscribed || s == stream.StateStreaming)
	}

	tradeCh := make(chan model.TradeEvent, 10000)
	aggCh := make(chan model.TradeEvent, 10000)

	// Count and timestamp each trade on its way to the aggregator.
	go func() {
		defer close(aggCh)
		for ev := range tradeCh {
			prom.TradesTotal.Inc()
			health.SetLastTradeTime(time.Now())
			aggCh <- ev
		}
	}()

	done := make(chan struct{})
	go func() {
		agg.Run(ctx, aggCh)
		close(done)
	}()
	go func() {
		ing.Start(ctx, tradeCh)
		close(tradeCh)
	}()

	sig := <-sigCh
	log.Printf("[streamer] received %s, shutting down", sig)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Println("[streamer] aggregator drain timed out")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	slogger.Info("stopped")
}
