package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinwatch/config"
	"coinwatch/internal/alert"
	"coinwatch/internal/collector"
	"coinwatch/internal/exchange"
	"coinwatch/internal/logger"
	"coinwatch/internal/metrics"
	"coinwatch/internal/model"
	sig "coinwatch/internal/signal"
	"coinwatch/internal/store/postgres"
	redisstore "coinwatch/internal/store/redis"
	sqlitestore "coinwatch/internal/store/sqlite"
	"coinwatch/internal/volume"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	slogger := logger.Init("collector", slog.LevelInfo)
	slogger.Info("starting")

	cfg := config.Load()
	g := model.Granularity(cfg.Granularity)

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

	// ---- Relational store ----
	store, db := openStore(cfg)
	defer store.Close()
	health.CheckDB(ctx, db)

	// ---- Volume cache (optional, enriches alerts) ----
	var agg *volume.Aggregator
	cache, err := redisstore.New(redisstore.CacheConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Printf("[collector] WARNING: redis init failed: %v (alerts go out without volume)", err)
	} else {
		defer cache.Close()
		agg = volume.New(cache, volume.Config{BucketWidth: cfg.BucketWidth, TTL: cfg.BucketTTL})
		health.StartLivenessChecker(ctx, cache.Client(), db, 15*time.Second)
	}

	// ---- Pipeline pieces ----
	exch := exchange.New(exchange.Config{
		BaseURL:     cfg.ExchangeBaseURL,
		QuotePrefix: cfg.QuotePrefix,
	})
	fetcher := collector.NewFetcher(exch, cfg.RatePerSec)
	fetcher.OnChunkWait = func(time.Duration) { prom.RateLimitWaits.Inc() }
	engine := sig.NewEngine(store, g)
	watcher := alert.NewWatcher(notifiers(cfg), volumeReader(agg), slopeFor(store, g))

	run := func() {
		if err := runBatch(ctx, cfg, g, exch, fetcher, engine, watcher, store, prom); err != nil {
			log.Printf("[collector] batch failed: %v", err)
			return
		}
		health.SetLastBatchAt(time.Now())
	}

	run()
	if cfg.CollectInterval == 0 {
		slogger.Info("single batch done, exiting")
		shutdown(metricsSrv)
		return
	}

	ticker := time.NewTicker(cfg.CollectInterval)
	defer ticker.Stop()
	for {
		select {
		case sig := <-sigCh:
			log.Printf("[collector] received %s, shutting down", sig)
			cancel()
			shutdown(metricsSrv)
			return
		case <-ticker.C:
			run()
		}
	}
}

// runBatch performs one full collection pass: discover markets, fetch
// candles under the rate cap, merge past each market's watermark, persist,
// recompute averages and publish any crossovers.
func runBatch(ctx context.Context, cfg *config.Config, g model.Granularity,
	exch *exchange.Client, fetcher *collector.Fetcher, engine *sig.Engine,
	watcher *alert.Watcher, store model.Store, prom *metrics.Metrics) error {

	started := time.Now()

	markets, err := exch.Markets(ctx)
	if err != nil {
		return err
	}
	prom.MarketsTracked.Set(float64(len(markets)))
	log.Printf("[collector] collecting %d markets", len(markets))

	reference := g.Floor(time.Now())
	results, report := fetcher.FetchAll(ctx, markets, cfg.CandleCount, g, reference)
	prom.FetchesTotal.Add(float64(report.Requested))
	prom.FetchFailures.Add(float64(report.Failed))
	log.Printf("[collector] fetched %d ok / %d failed in %s", report.OK, report.Failed, report.Elapsed)

	watermarks, err := store.MaxTimestamps(ctx)
	if err != nil {
		return err
	}
	merged := collector.Merge(collector.Flatten(results), watermarks)
	if err := store.UpsertCandles(ctx, merged); err != nil {
		return err
	}
	prom.MergedCandles.Add(float64(len(merged)))
	log.Printf("[collector] persisted %d new candles", len(merged))

	computeStart := time.Now()
	records, err := engine.Compute(ctx)
	if err != nil {
		return err
	}
	prom.SignalComputeDur.Observe(time.Since(computeStart).Seconds())
	if err := store.UpsertMARecords(ctx, records); err != nil {
		return err
	}

	crossed := sig.Crossed(records)
	for _, r := range crossed {
		kind := "golden"
		if r.DeadCross {
			kind = "dead"
		}
		prom.CrossSignals.WithLabelValues(kind).Inc()
	}
	if len(crossed) > 0 {
		log.Printf("[collector] %d crossover signals", len(crossed))
		watcher.Publish(ctx, crossed)
	}

	prom.BatchDur.Observe(time.Since(started).Seconds())
	return nil
}

func openStore(cfg *config.Config) (model.Store, *sql.DB) {
	switch cfg.DBDriver {
	case "postgres":
		settings, err := config.LoadDBSettings(cfg.DBSettingsFile)
		if err != nil {
			log.Fatalf("[collector] db settings: %v", err)
		}
		s, err := postgres.New(settings.DSN())
		if err != nil {
			log.Fatalf("[collector] postgres init failed: %v", err)
		}
		return s, s.DB()
	default:
		os.MkdirAll("data", 0o755)
		s, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[collector] sqlite init failed: %v", err)
		}
		return s, s.DB()
	}
}

func notifiers(cfg *config.Config) []alert.Notifier {
	var out []alert.Notifier
	if cfg.WebhookURL != "" {
		out = append(out, alert.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		out = append(out, alert.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if len(out) == 0 {
		out = append(out, alert.NewLogNotifier())
	}
	return out
}

func volumeReader(agg *volume.Aggregator) alert.VolumeReader {
	if agg == nil {
		return nil
	}
	return agg
}

func slopeFor(store model.Store, g model.Granularity) alert.SlopeFunc {
	return func(ctx context.Context, market string) (float64, error) {
		t, err := sig.TrendFor(ctx, store, market, g, model.ReferenceWindow)
		if err != nil {
			return 0, err
		}
		return t.Slope, nil
	}
}

func shutdown(srv *metrics.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Stop(ctx)
}
