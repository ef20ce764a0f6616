package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tickinsight/config"
	"tickinsight/internal/alert"
	"tickinsight/internal/marketdata/bus"
	"tickinsight/internal/metrics"
	"tickinsight/internal/model"
	"tickinsight/internal/store/influx"
	redisstore "tickinsight/internal/store/redis"
	sqlitestore "tickinsight/internal/store/sqlite"
)

// stores holds the persistence side: the event bus and every sink attached
// to it, plus the history source used for seeding and ranged queries.
type stores struct {
	bus     *bus.FanOut
	sqlite  *sqlitestore.Writer
	reader  *sqlitestore.Reader
	history model.HistorySource
	redis   *goredis.Client
	influx  *influx.Store
}

// openStores opens SQLite (required) and, when configured, Redis and
// InfluxDB, and attaches their sinks to a new bus. sinkCtx bounds background
// writes and outlives ctx.
func openStores(ctx, sinkCtx context.Context, cfg *config.Config, prom *metrics.Metrics, health *metrics.HealthStatus, alerts *alert.Dispatcher) (*stores, error) {
	s := &stores{bus: bus.New(cfg.BusBuffer)}
	s.bus.OnDrop = func(sink string) { prom.BusDropsTotal.WithLabelValues(sink).Inc() }

	// ---- SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		return nil, fmt.Errorf("sqlite init: %w", err)
	}
	w.OnCommit = func(_ int, d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }
	w.OnError = func(error) { health.SetSQLiteOK(false) }
	w.OnDrop = func() { prom.BusDropsTotal.WithLabelValues("sqlite_queue").Inc() }
	s.sqlite = w

	r, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("sqlite reader: %w", err)
	}
	s.reader = r
	s.history = r
	s.bus.Attach("sqlite", w)
	health.SetSQLiteOK(true)
	log.Printf("[insightd] sqlite ready at %s", cfg.SQLitePath)

	// ---- Redis (optional) ----
	if cfg.RedisAddr != "" {
		client, err := redisstore.Dial(ctx, redisstore.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		switch {
		case err != nil && cfg.TickSource == config.SourceRedis:
			s.Close()
			return nil, fmt.Errorf("redis required by TICK_SOURCE=redis: %w", err)
		case err != nil:
			log.Printf("[insightd] WARNING: redis init failed: %v (continuing without redis)", err)
		default:
			s.redis = client
			if cfg.RedisPublish {
				s.bus.Attach("redis", newRedisSink(sinkCtx, client, prom, alerts))
			}
		}
	}

	// ---- InfluxDB (optional) ----
	if cfg.InfluxURL != "" {
		store, err := influx.New(ctx, influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			log.Printf("[insightd] WARNING: influx init failed: %v (continuing without influx)", err)
		} else {
			store.OnError = func(error) { prom.BusDropsTotal.WithLabelValues("influx").Inc() }
			s.influx = store
			s.bus.Attach("influx", store)
		}
	}

	health.StartLivenessChecker(sinkCtx, s.redis, w.DB(), 10*time.Second)
	return s, nil
}

func newRedisSink(ctx context.Context, client *goredis.Client, prom *metrics.Metrics, alerts *alert.Dispatcher) *redisstore.BufferedWriter {
	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		log.Printf("[insightd] redis circuit breaker %s -> %s", from, to)
		prom.RedisCircuitBreakerState.Set(float64(to))
		switch to {
		case redisstore.StateOpen:
			prom.RedisCircuitBreakerTrips.Inc()
			alerts.Notify(alert.Warning, "redis sink circuit open", "publishing paused, events are buffered until redis recovers")
		case redisstore.StateClosed:
			alerts.Notify(alert.Info, "redis sink recovered", "circuit closed, replaying buffered events")
		}
	}
	bw := redisstore.NewBufferedWriter(ctx, redisstore.NewWriter(client), cb, 10000)
	bw.OnWrite = func(d time.Duration) { prom.RedisWriteDur.Observe(d.Seconds()) }
	return bw
}

// Run drives the bus and the SQLite writer until ctx is cancelled.
func (s *stores) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.bus.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.sqlite.Run(ctx)
	}()
	wg.Wait()
}

// Close releases every store.
func (s *stores) Close() {
	if s.influx != nil {
		s.influx.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.reader != nil {
		s.reader.Close()
	}
	if s.sqlite != nil {
		s.sqlite.Close()
	}
}
