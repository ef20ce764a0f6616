// Package metrics exposes Prometheus instruments and the /healthz probe.
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

// Metrics holds all Prometheus metrics for the insight pipeline.
type Metrics struct {
	TicksTotal     prometheus.Counter
	RejectedTicks  *prometheus.CounterVec // labels: reason
	CandlesClosed  *prometheus.CounterVec // labels: tf
	WindowEvicted  prometheus.Counter
	TickBufOverwr  prometheus.Counter
	FeedReconnects prometheus.Counter

	// Indicator engine
	IndicatorComputeDur prometheus.Histogram
	IndicatorErrors     *prometheus.CounterVec // labels: kind

	// Seeding
	SeedDur      prometheus.Histogram
	SeedFailures *prometheus.CounterVec // labels: kind

	// Stream gateway
	WSClients      prometheus.Gauge
	ClientGapDrops prometheus.Counter
	FanoutLatency  prometheus.Histogram

	// Sinks
	BusDropsTotal        *prometheus.CounterVec // labels: sink
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name
	SQLiteCommitDur      prometheus.Histogram
	RedisWriteDur        prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// REST
	APIRequests *prometheus.CounterVec // labels: route, status
}

// NewMetrics creates every instrument and registers it with reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickinsight_ticks_total",
			Help: "Ticks accepted by symbol aggregators",
		}),
		RejectedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickinsight_rejected_ticks_total",
			Help: "Ticks rejected before aggregation (by reason)",
		}, []string{"reason"}),
		CandlesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickinsight_candles_closed_total",
			Help: "Closed candles emitted (by timeframe)",
		}, []string{"tf"}),
		WindowEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickinsight_window_evicted_total",
			Help: "Candles evicted from full windows",
		}),
		TickBufOverwr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickinsight_tickbuf_overwritten_total",
			Help: "Ticks overwritten in per-symbol tick buffers",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickinsight_feed_reconnects_total",
			Help: "Tick feed reconnection attempts",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickinsight_indicator_compute_duration_seconds",
			Help:    "Indicator fan-out latency per closed candle",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		IndicatorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickinsight_indicator_errors_total",
			Help: "Indicator computations that failed (by error kind)",
		}, []string{"kind"}),

		SeedDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickinsight_seed_duration_seconds",
			Help:    "History seeding latency per series",
			Buckets: prometheus.DefBuckets,
		}),
		SeedFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickinsight_seed_failures_total",
			Help: "Series that started without history (by error kind)",
		}, []string{"kind"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickinsight_ws_clients",
			Help: "Connected stream clients",
		}),
		ClientGapDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickinsight_client_gap_drops_total",
			Help: "Messages dropped from full client queues",
		}),
		FanoutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickinsight_fanout_latency_seconds",
			Help:    "Latency from candle close to client enqueue",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		BusDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickinsight_bus_drops_total",
			Help: "Events dropped by the sink bus (by sink)",
		}, []string{"sink"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickinsight_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickinsight_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickinsight_redis_write_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickinsight_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickinsight_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickinsight_api_requests_total",
			Help: "REST requests (by route and status code)",
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.RejectedTicks,
		m.CandlesClosed,
		m.WindowEvicted,
		m.TickBufOverwr,
		m.FeedReconnects,
		m.IndicatorComputeDur,
		m.IndicatorErrors,
		m.SeedDur,
		m.SeedFailures,
		m.WSClients,
		m.ClientGapDrops,
		m.FanoutLatency,
		m.BusDropsTotal,
		m.ChannelSaturationPct,
		m.SQLiteCommitDur,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.APIRequests,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Symbols        int       `json:"symbols"`
	Timeframes     []string  `json:"timeframes"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetServing(symbols int, tfs []string) {
	h.mu.Lock()
	h.Symbols = symbols
	h.Timeframes = tfs
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either handle may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
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
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. The pipeline is degraded when the
// feed or an enabled store is down; history-only failures never make it
// unhealthy because live ingestion keeps running.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.FeedConnected || !h.SQLiteOK || (h.RedisEnabled && !h.RedisConnected) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		FeedConnected   bool     `json:"feed_connected"`
		LastTickTime    string   `json:"last_tick_time"`
		TickAge         string   `json:"tick_age"`
		RedisEnabled    bool     `json:"redis_enabled"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Symbols         int      `json:"symbols"`
		Timeframes      []string `json:"timeframes"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Symbols:         h.Symbols,
		Timeframes:      h.Timeframes,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer may be nil for the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	if gatherer == nil {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

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
