// Package config loads process configuration from the environment (and an
// optional .env file) plus an optional YAML indicator plan.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"tickinsight/internal/indicator"
	"tickinsight/internal/model"
)

// Tick source kinds.
const (
	SourceWS     = "ws"
	SourceRedis  = "redis"
	SourceReplay = "replay"
)

// Config holds every env-parsed setting of insightd.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Symbols       []string `envconfig:"SYMBOLS" default:"INFY,TCS,RELIANCE"`
	Exchange      string   `envconfig:"DEFAULT_EXCHANGE" default:"NSE"`
	TimeframeList []string `envconfig:"TIMEFRAMES" default:"1m,5m,15m,1h"`

	WindowCapacity  int     `envconfig:"WINDOW_CAPACITY" default:"500"`
	TickBufferSize  int     `envconfig:"TICK_BUFFER_SIZE" default:"4096"`
	SwingK          int     `envconfig:"SWING_K" default:"3"`
	Tolerance       float64 `envconfig:"LEVEL_TOLERANCE" default:"0.5"`
	ATRPeriod       int     `envconfig:"ATR_PERIOD" default:"14"`
	RecencyWeighted bool    `envconfig:"RECENCY_WEIGHTED" default:"false"`

	// Indicators computed on every candle close, e.g. "rsi:14;ema:20;macd:12,26,9".
	Indicators     string `envconfig:"INDICATORS" default:"rsi:14;ema:20;sma:50;macd:12,26,9;bbands:20,2,2;atr:14"`
	IndicatorsFile string `envconfig:"INDICATORS_FILE"`
	Parallelism    int    `envconfig:"INDICATOR_PARALLELISM" default:"4"`

	QueueSize int     `envconfig:"CLIENT_QUEUE_SIZE" default:"256"`
	RateLimit float64 `envconfig:"WS_RATE_LIMIT" default:"10"`
	RateBurst int     `envconfig:"WS_RATE_BURST" default:"20"`
	BusBuffer int     `envconfig:"BUS_BUFFER" default:"1024"`

	SeedTimeout  time.Duration `envconfig:"SEED_TIMEOUT" default:"5s"`
	QueryTimeout time.Duration `envconfig:"QUERY_TIMEOUT" default:"5s"`

	TickSource  string  `envconfig:"TICK_SOURCE" default:"ws"`
	FeedURL     string  `envconfig:"FEED_URL" default:"ws://localhost:9001/ws"`
	ReplaySpeed float64 `envconfig:"REPLAY_SPEED" default:"10"`
	ReplayFrom  string  `envconfig:"REPLAY_FROM"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisStream   string `envconfig:"REDIS_TICK_STREAM" default:"ticks"`
	RedisGroup    string `envconfig:"REDIS_CONSUMER_GROUP" default:"insightd"`
	RedisConsumer string `envconfig:"REDIS_CONSUMER_NAME" default:"worker-1"`
	RedisPublish  bool   `envconfig:"REDIS_PUBLISH" default:"false"`

	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/candles.db"`

	InfluxURL    string `envconfig:"INFLUX_URL"`
	InfluxToken  string `envconfig:"INFLUX_TOKEN"`
	InfluxOrg    string `envconfig:"INFLUX_ORG"`
	InfluxBucket string `envconfig:"INFLUX_BUCKET" default:"candles"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"7"`

	AlertWebhookURL    string `envconfig:"ALERT_WEBHOOK_URL"`
	AlertTelegramToken string `envconfig:"ALERT_TELEGRAM_TOKEN"`
	AlertTelegramChat  string `envconfig:"ALERT_TELEGRAM_CHAT"`

	FlushOnShutdown bool `envconfig:"FLUSH_ON_SHUTDOWN" default:"false"`
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, model.Wrap(model.KindMalformedInput, err, "config")
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	syms := make([]string, 0, len(c.Symbols))
	seen := map[string]bool{}
	for _, s := range c.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" && !seen[s] {
			seen[s] = true
			syms = append(syms, s)
		}
	}
	c.Symbols = syms
	c.Exchange = strings.ToUpper(strings.TrimSpace(c.Exchange))
	c.TickSource = strings.ToLower(strings.TrimSpace(c.TickSource))
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return model.Errorf(model.KindMalformedInput, "config: SYMBOLS is empty")
	}
	if _, err := c.Timeframes(); err != nil {
		return err
	}
	switch {
	case c.WindowCapacity < 2:
		return model.Errorf(model.KindMalformedInput, "config: WINDOW_CAPACITY must be >= 2")
	case c.SwingK < 1:
		return model.Errorf(model.KindMalformedInput, "config: SWING_K must be >= 1")
	case c.Tolerance < 0:
		return model.Errorf(model.KindMalformedInput, "config: LEVEL_TOLERANCE must be >= 0")
	case c.QueueSize < 1:
		return model.Errorf(model.KindMalformedInput, "config: CLIENT_QUEUE_SIZE must be >= 1")
	case c.SeedTimeout <= 0:
		return model.Errorf(model.KindMalformedInput, "config: SEED_TIMEOUT must be positive")
	}
	switch c.TickSource {
	case SourceWS, SourceReplay:
	case SourceRedis:
		if c.RedisAddr == "" {
			return model.Errorf(model.KindMalformedInput, "config: TICK_SOURCE=redis needs REDIS_ADDR")
		}
	default:
		return model.Errorf(model.KindMalformedInput, "config: unknown TICK_SOURCE %q", c.TickSource)
	}
	if _, err := indicator.ParseSpecList(c.Indicators); err != nil {
		return err
	}
	return nil
}

// Timeframes parses TIMEFRAMES, sorted ascending without duplicates.
func (c *Config) Timeframes() ([]model.Timeframe, error) {
	seen := map[model.Timeframe]bool{}
	var out []model.Timeframe
	for _, s := range c.TimeframeList {
		tf, err := model.ParseTimeframe(s)
		if err != nil {
			return nil, err
		}
		if !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	if len(out) == 0 {
		return nil, model.Errorf(model.KindUnknownTimeframe, "config: TIMEFRAMES is empty")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seconds() < out[j].Seconds() })
	return out, nil
}

// ReplayRange returns the history range replayed when TICK_SOURCE=replay.
func (c *Config) ReplayRange() (model.Range, error) {
	if c.ReplayFrom == "" {
		return model.Range{}, nil
	}
	from, err := time.Parse(time.RFC3339, c.ReplayFrom)
	if err != nil {
		return model.Range{}, model.Wrap(model.KindMalformedInput, err, "config: REPLAY_FROM")
	}
	return model.Range{From: from}, nil
}

// ── Indicator plan ──

// Plan lists the indicator specs computed on every candle close, per timeframe.
type Plan map[model.Timeframe][]indicator.Spec

// For returns the specs for tf.
func (p Plan) For(tf model.Timeframe) []indicator.Spec { return p[tf] }

// planFile is the YAML layout of INDICATORS_FILE:
//
//	default: ["rsi:14", "ema:20"]
//	timeframes:
//	  1h: ["sma:200"]
type planFile struct {
	Default    []string            `yaml:"default"`
	Timeframes map[string][]string `yaml:"timeframes"`
}

// IndicatorPlan resolves INDICATORS and INDICATORS_FILE against reg. File
// defaults replace INDICATORS when present; per-timeframe entries are added
// on top. Duplicate keys collapse.
func (c *Config) IndicatorPlan(reg *indicator.Registry) (Plan, error) {
	tfs, err := c.Timeframes()
	if err != nil {
		return nil, err
	}
	base, err := indicator.ParseSpecList(c.Indicators)
	if err != nil {
		return nil, err
	}

	extra := map[model.Timeframe][]indicator.Spec{}
	if c.IndicatorsFile != "" {
		pf, err := readPlanFile(c.IndicatorsFile)
		if err != nil {
			return nil, err
		}
		if len(pf.Default) > 0 {
			if base, err = parseAll(pf.Default); err != nil {
				return nil, err
			}
		}
		for name, list := range pf.Timeframes {
			tf, err := model.ParseTimeframe(name)
			if err != nil {
				return nil, err
			}
			specs, err := parseAll(list)
			if err != nil {
				return nil, err
			}
			extra[tf] = specs
		}
	}

	plan := make(Plan, len(tfs))
	for _, tf := range tfs {
		specs := dedup(append(append([]indicator.Spec(nil), base...), extra[tf]...))
		if err := indicator.ValidateSpecs(reg, specs); err != nil {
			return nil, err
		}
		plan[tf] = specs
	}
	return plan, nil
}

func readPlanFile(path string) (planFile, error) {
	var pf planFile
	data, err := os.ReadFile(path)
	if err != nil {
		return pf, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return pf, model.Wrap(model.KindMalformedInput, err, "config: parse "+path)
	}
	return pf, nil
}

func parseAll(list []string) ([]indicator.Spec, error) {
	out := make([]indicator.Spec, 0, len(list))
	for _, s := range list {
		spec, err := indicator.ParseSpec(s)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func dedup(specs []indicator.Spec) []indicator.Spec {
	seen := map[string]bool{}
	out := specs[:0]
	for _, s := range specs {
		if k := s.Key(); !seen[k] {
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}
