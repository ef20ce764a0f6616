// Command insightd runs the tick-to-insight pipeline: tick ingestion, candle
// aggregation, indicators, the WebSocket stream, REST queries and metrics.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tickinsight/config"
	"tickinsight/internal/alert"
	"tickinsight/internal/api"
	"tickinsight/internal/gateway"
	"tickinsight/internal/indicator"
	"tickinsight/internal/levels"
	"tickinsight/internal/logger"
	"tickinsight/internal/marketdata/bus"
	"tickinsight/internal/metrics"
	"tickinsight/internal/model"
	"tickinsight/internal/pipeline"
	"tickinsight/internal/window"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[insightd] config: %v", err)
	}
	logger.Init(logger.Options{
		Service:    "insightd",
		Level:      logger.ParseLevel(cfg.LogLevel),
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	log.Println("[insightd] starting...")

	tfs, err := cfg.Timeframes()
	if err != nil {
		log.Fatalf("[insightd] timeframes: %v", err)
	}
	reg := indicator.NewRegistry()
	plan, err := cfg.IndicatorPlan(reg)
	if err != nil {
		log.Fatalf("[insightd] indicator plan: %v", err)
	}

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	tfNames := make([]string, len(tfs))
	for i, tf := range tfs {
		tfNames[i] = tf.String()
	}
	health.SetServing(len(cfg.Symbols), tfNames)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)
	metricsSrv.Start()

	// ---- Shutdown context ----
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sinks outlive the pipeline so candles flushed at shutdown still land.
	sinkCtx, sinkCancel := context.WithCancel(context.Background())
	defer sinkCancel()

	// ---- Alerts ----
	alerts := newAlerts(cfg)
	go alerts.Run(sinkCtx)

	// ---- Stores & event bus ----
	stores, err := openStores(ctx, sinkCtx, cfg, prom, health, alerts)
	if err != nil {
		log.Fatalf("[insightd] %v", err)
	}
	defer stores.Close()

	// ---- Stream gateway ----
	hub := gateway.NewHub(gateway.Options{
		QueueSize:  cfg.QueueSize,
		RateLimit:  rate.Limit(cfg.RateLimit),
		RateBurst:  cfg.RateBurst,
		Symbols:    cfg.Symbols,
		Timeframes: tfs,
		Indicators: reg,
	})
	hub.OnConnect = func(total int) { prom.WSClients.Set(float64(total)) }
	hub.OnDisconnect = func(total int) { prom.WSClients.Set(float64(total)) }
	hub.Broadcaster.OnDrop = func(string) { prom.ClientGapDrops.Inc() }
	hub.Broadcaster.OnLatency = func(d time.Duration) { prom.FanoutLatency.Observe(d.Seconds()) }

	// ---- Pipeline ----
	store := window.NewStore(cfg.WindowCapacity)
	engine := indicator.NewEngine(reg)
	pipe := pipeline.New(pipeline.Options{
		Exchange:        cfg.Exchange,
		Symbols:         cfg.Symbols,
		Timeframes:      tfs,
		WindowCapacity:  cfg.WindowCapacity,
		TickBufferSize:  cfg.TickBufferSize,
		SeedTimeout:     cfg.SeedTimeout,
		Parallelism:     cfg.Parallelism,
		Plan:            plan.For,
		Wanted:          hub.Registry.WantedIndicators,
		FlushOnShutdown: cfg.FlushOnShutdown,
	}, pipeline.Deps{
		Store:   store,
		Engine:  engine,
		Sink:    bus.Multi{hub.Broadcaster, stores.bus},
		History: stores.history,
		Metrics: prom,
		Health:  health,
	})
	hub.Latest = pipe.Latest

	// ---- REST + WS ----
	apiSrv := api.New(api.Deps{
		Windows: store,
		Engine:  engine,
		History: stores.history,
		Detector: levels.Detector{
			K:               cfg.SwingK,
			Tolerance:       cfg.Tolerance,
			ATRPeriod:       cfg.ATRPeriod,
			RecencyWeighted: cfg.RecencyWeighted,
		},
		Exchange:    cfg.Exchange,
		Symbols:     pipe.Symbols(),
		Timeframes:  tfs,
		Forming:     pipe.Forming,
		RecentTicks: pipe.RecentTicks,
		Stats: func() any {
			delivered, dropped := hub.Broadcaster.Stats()
			clients, series := hub.Registry.Stats()
			return map[string]any{
				"symbols":        pipe.Stats(),
				"seed_failures":  pipe.SeedFailures(),
				"ws_clients":     clients,
				"ws_series":      series,
				"ws_delivered":   delivered,
				"ws_dropped":     dropped,
				"fanout_latency": hub.Broadcaster.Latency.Summary(),
				"bus_channels":   stores.bus.ChannelStats(),
			}
		},
		QueryTimeout: cfg.QueryTimeout,
		Metrics:      prom,
	}, hub)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiSrv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ---- Tick source ----
	source, err := newTickSource(cfg, tfs, stores, prom, health, alerts)
	if err != nil {
		log.Fatalf("[insightd] tick source: %v", err)
	}

	// ---- Run ----
	var sinks sync.WaitGroup
	sinks.Add(1)
	go func() {
		defer sinks.Done()
		stores.Run(sinkCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipe.Run(gctx) })
	g.Go(func() error {
		health.SetFeedConnected(true)
		defer health.SetFeedConnected(false)
		submit := pipe.Submit
		if cfg.TickSource == config.SourceReplay {
			// Replay is lossless: wait for a full inbox instead of dropping.
			submit = func(t model.Tick) error { return pipe.SubmitWait(gctx, t) }
		}
		err := source.Start(gctx, submit)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[insightd] tick source stopped: %v", err)
			alerts.Notify(alert.Critical, "tick source stopped", err.Error())
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("[insightd] http listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		reportSaturation(gctx, stores.bus, prom)
		return nil
	})

	log.Printf("[insightd] ready: symbols=%v timeframes=%v source=%s", pipe.Symbols(), tfNames, cfg.TickSource)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[insightd] stopped with error: %v", err)
	}

	log.Println("[insightd] shutdown signal received, draining sinks...")
	sinkCancel()
	sinks.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Stop(shutdownCtx)
	log.Println("[insightd] shutdown complete.")
}

// reportSaturation samples the bus sink channels every 5s.
func reportSaturation(ctx context.Context, fanout *bus.FanOut, prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range fanout.ChannelStats() {
				if s.Cap > 0 {
					prom.ChannelSaturationPct.WithLabelValues("bus_" + s.Sink).Set(float64(s.Len) / float64(s.Cap) * 100)
				}
			}
		}
	}
}
