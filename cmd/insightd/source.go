package main

import (
	"fmt"
	"log"

	"tickinsight/config"
	"tickinsight/internal/alert"
	"tickinsight/internal/marketdata/replay"
	"tickinsight/internal/marketdata/wssim"
	"tickinsight/internal/metrics"
	"tickinsight/internal/model"
	redisstore "tickinsight/internal/store/redis"
)

// newAlerts builds the alert dispatcher from ALERT_* settings; without any it
// only logs.
func newAlerts(cfg *config.Config) *alert.Dispatcher {
	var ns alert.Multi
	if cfg.AlertWebhookURL != "" {
		ns = append(ns, alert.NewWebhookNotifier(cfg.AlertWebhookURL, "insightd"))
	}
	if cfg.AlertTelegramToken != "" && cfg.AlertTelegramChat != "" {
		ns = append(ns, alert.NewTelegramNotifier(cfg.AlertTelegramToken, cfg.AlertTelegramChat))
	}
	if len(ns) == 0 {
		return alert.NewDispatcher(alert.LogNotifier{}, alert.DispatcherConfig{})
	}
	return alert.NewDispatcher(ns, alert.DispatcherConfig{})
}

// newTickSource picks the tick source named by TICK_SOURCE.
func newTickSource(cfg *config.Config, tfs []model.Timeframe, s *stores, prom *metrics.Metrics, health *metrics.HealthStatus, alerts *alert.Dispatcher) (model.TickSource, error) {
	switch cfg.TickSource {
	case config.SourceWS:
		ing, err := wssim.New(wssim.Config{URL: cfg.FeedURL})
		if err != nil {
			return nil, err
		}
		ing.OnReconnect = func() {
			prom.FeedReconnects.Inc()
			health.SetFeedConnected(true)
			alerts.Notify(alert.Info, "tick feed reconnected", cfg.FeedURL)
		}
		log.Printf("[insightd] tick source: ws feed %s", cfg.FeedURL)
		return ing, nil

	case config.SourceRedis:
		if s.redis == nil {
			return nil, fmt.Errorf("TICK_SOURCE=redis needs REDIS_ADDR")
		}
		log.Printf("[insightd] tick source: redis stream %s", cfg.RedisStream)
		return redisstore.NewTickStream(s.redis, redisstore.TickStreamConfig{
			Stream:   cfg.RedisStream,
			Group:    cfg.RedisGroup,
			Consumer: cfg.RedisConsumer,
			Exchange: cfg.Exchange,
		}), nil

	case config.SourceReplay:
		rng, err := cfg.ReplayRange()
		if err != nil {
			return nil, err
		}
		log.Printf("[insightd] tick source: replay of %s candles from %s at %.1fx", tfs[0], cfg.SQLitePath, cfg.ReplaySpeed)
		return replay.New(s.history, replay.Config{
			Symbols:  cfg.Symbols,
			Exchange: cfg.Exchange,
			TF:       tfs[0],
			Range:    rng,
			Speed:    cfg.ReplaySpeed,
		}), nil

	default:
		return nil, model.Errorf(model.KindMalformedInput, "unknown TICK_SOURCE %q", cfg.TickSource)
	}
}
