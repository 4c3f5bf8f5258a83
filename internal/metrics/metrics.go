package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the collector and streamer.
type Metrics struct {
	// Batch collector
	FetchesTotal    prometheus.Counter
	FetchFailures   prometheus.Counter
	MergedCandles   prometheus.Counter
	BatchDur        prometheus.Histogram
	RateLimitWaits  prometheus.Counter
	MarketsTracked  prometheus.Gauge

	// Signal engine
	SignalComputeDur prometheus.Histogram
	CrossSignals     *prometheus.CounterVec // labels: kind=golden|dead

	// Trade streamer
	TradesTotal   prometheus.Counter
	WSReconnects  prometheus.Counter
	DroppedTrades prometheus.Counter
	CacheWriteDur prometheus.Histogram
	CacheFailures prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		FetchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinwatch_fetches_total",
			Help: "Total candle fetch requests issued",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinwatch_fetch_failures_total",
			Help: "Candle fetch requests that failed",
		}),
		MergedCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinwatch_merged_candles_total",
			Help: "Candles that survived the watermark merge and were persisted",
		}),
		BatchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coinwatch_batch_duration_seconds",
			Help:    "End-to-end collection batch latency",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		RateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinwatch_rate_limit_waits_total",
			Help: "Inter-chunk waits taken by the rate-limited fetcher",
		}),
		MarketsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coinwatch_markets_tracked",
			Help: "Markets in the current directory snapshot",
		}),

		SignalComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coinwatch_signal_compute_duration_seconds",
			Help:    "Moving-average engine compute latency per tick",
			Buckets: prometheus.DefBuckets,
		}),
		CrossSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinwatch_cross_signals_total",
			Help: "Crossover signals flagged (by kind)",
		}, []string{"kind"}),

		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinwatch_trades_total",
			Help: "Trade events received from the WebSocket feed",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinwatch_ws_reconnects_total",
			Help: "WebSocket reconnection attempts",
		}),
		DroppedTrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinwatch_dropped_trades_total",
			Help: "Trade events dropped (queue full or cache write failed)",
		}),
		CacheWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coinwatch_cache_write_duration_seconds",
			Help:    "Volume bucket write latency",
			Buckets: prometheus.DefBuckets,
		}),
		CacheFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinwatch_cache_failures_total",
			Help: "Volume bucket writes rejected by the cache",
		}),
	}

	prometheus.MustRegister(
		m.FetchesTotal,
		m.FetchFailures,
		m.MergedCandles,
		m.BatchDur,
		m.RateLimitWaits,
		m.MarketsTracked,
		m.SignalComputeDur,
		m.CrossSignals,
		m.TradesTotal,
		m.WSReconnects,
		m.DroppedTrades,
		m.CacheWriteDur,
		m.CacheFailures,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTradeTime  time.Time `json:"last_trade_time"`
	RedisConnected bool      `json:"redis_connected"`
	DBOK           bool      `json:"db_ok"`
	LastBatchAt    time.Time `json:"last_batch_at"`

	RedisLatencyMs float64   `json:"redis_latency_ms"`
	DBLatencyMs    float64   `json:"db_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTradeTime(t time.Time) {
	h.mu.Lock()
	h.LastTradeTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBatchAt(t time.Time) {
	h.mu.Lock()
	h.LastBatchAt = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckDB pings the relational store and records latency + health.
func (h *HealthStatus) CheckDB(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.DBOK = err == nil
	h.DBLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckDB(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.RedisConnected || !h.DBOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.DBOK {
		overallStatus = "unhealthy"
	}

	tradeAge := ""
	if !h.LastTradeTime.IsZero() {
		tradeAge = time.Since(h.LastTradeTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		WSConnected    bool    `json:"ws_connected"`
		LastTradeTime  string  `json:"last_trade_time"`
		TradeAge       string  `json:"trade_age"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		DBOK           bool    `json:"db_ok"`
		DBLatencyMs    float64 `json:"db_latency_ms"`
		LastBatchAt    string  `json:"last_batch_at"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:    h.WSConnected,
		LastTradeTime:  h.LastTradeTime.Format(time.RFC3339),
		TradeAge:       tradeAge,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		DBOK:           h.DBOK,
		DBLatencyMs:    h.DBLatencyMs,
		LastBatchAt:    h.LastBatchAt.Format(time.RFC3339),
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
