// Package influx mirrors closed candles and indicator sets into InfluxDB and
// reads candles back as history.
package influx

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"tickinsight/internal/model"
)

const (
	candleMeasurement    = "candles"
	indicatorMeasurement = "indicators"
)

// Config configures the InfluxDB client.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Store writes through the non-blocking WriteAPI and queries with Flux.
type Store struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string

	// Hooks (optional)
	OnError func(err error)
}

// New connects and checks server health.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health %s: %w", cfg.URL, err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx at %s is not healthy: %+v", cfg.URL, health)
	}

	s := &Store{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
	}
	go s.watchErrors()

	log.Printf("[influx] connected to %s (org=%s, bucket=%s)", cfg.URL, cfg.Org, cfg.Bucket)
	return s, nil
}

func (s *Store) watchErrors() {
	for err := range s.writeAPI.Errors() {
		log.Printf("[influx] write error: %v", err)
		if s.OnError != nil {
			s.OnError(err)
		}
	}
}

// Publish implements model.EventSink. Forming candles are skipped. Points are
// batched by the client and never block the caller.
func (s *Store) Publish(ev model.Event) {
	switch ev.Kind {
	case model.EventCandle:
		if ev.Candle != nil && ev.Candle.Closed {
			s.writeAPI.WritePoint(candlePoint(ev.Candle))
		}
	case model.EventIndicators:
		if p := indicatorPoint(ev); p != nil {
			s.writeAPI.WritePoint(p)
		}
	}
}

// GetCandles implements model.HistorySource.
func (s *Store) GetCandles(ctx context.Context, symbol, exchange string, tf model.Timeframe, rng model.Range) ([]model.Candle, error) {
	result, err := s.queryAPI.Query(ctx, candleQuery(s.bucket, symbol, exchange, tf, rng))
	if err != nil {
		return nil, model.Wrap(model.KindUpstreamUnavailable, err, "influx query candles")
	}
	defer result.Close()

	var candles []model.Candle
	for result.Next() {
		rec := result.Record()
		c := model.Candle{
			Symbol: symbol, Exchange: exchange, TF: tf,
			OpenTime: rec.Time().UTC(),
			Closed:   true,
		}
		c.Open, _ = rec.ValueByKey("open").(float64)
		c.High, _ = rec.ValueByKey("high").(float64)
		c.Low, _ = rec.ValueByKey("low").(float64)
		c.Close, _ = rec.ValueByKey("close").(float64)
		c.Volume, _ = rec.ValueByKey("volume").(float64)
		if n, ok := rec.ValueByKey("ticks").(int64); ok {
			c.Ticks = int(n)
		}
		candles = append(candles, c)
	}
	if err := result.Err(); err != nil {
		return nil, model.Wrap(model.KindUpstreamUnavailable, err, "influx read candles")
	}
	return candles, nil
}

// Close flushes pending points and closes the client.
func (s *Store) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

func candlePoint(c *model.Candle) *write.Point {
	return influxdb2.NewPoint(
		candleMeasurement,
		map[string]string{
			"symbol":    c.Symbol,
			"exchange":  c.Exchange,
			"timeframe": c.TF.String(),
		},
		map[string]interface{}{
			"open":   c.Open,
			"high":   c.High,
			"low":    c.Low,
			"close":  c.Close,
			"volume": c.Volume,
			"ticks":  int64(c.Ticks),
		},
		c.OpenTime,
	)
}

// indicatorPoint flattens an indicator set into fields. Multi-output values
// become "key[i]" fields; nil (insufficient data) values are left out.
func indicatorPoint(ev model.Event) *write.Point {
	fields := make(map[string]interface{}, len(ev.Indicators))
	for key, v := range ev.Indicators {
		switch val := v.(type) {
		case float64:
			fields[key] = val
		case []float64:
			for i, x := range val {
				fields[fmt.Sprintf("%s[%d]", key, i)] = x
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return influxdb2.NewPoint(
		indicatorMeasurement,
		map[string]string{
			"symbol":    ev.Symbol,
			"exchange":  ev.Exchange,
			"timeframe": ev.TF.String(),
		},
		fields,
		ev.TS,
	)
}

func candleQuery(bucket, symbol, exchange string, tf model.Timeframe, rng model.Range) string {
	start := "0"
	if !rng.From.IsZero() {
		start = rng.From.UTC().Format(time.RFC3339)
	}
	stop := "now()"
	if !rng.To.IsZero() {
		stop = rng.To.UTC().Format(time.RFC3339)
	}

	filters := []string{
		fmt.Sprintf(`r._measurement == %q`, candleMeasurement),
		fmt.Sprintf(`r.symbol == %q`, symbol),
		fmt.Sprintf(`r.exchange == %q`, exchange),
		fmt.Sprintf(`r.timeframe == %q`, tf.String()),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "\t|> range(start: %s, stop: %s)\n", start, stop)
	fmt.Fprintf(&b, "\t|> filter(fn: (r) => %s)\n", strings.Join(filters, " and "))
	b.WriteString("\t|> pivot(rowKey: [\"_time\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	b.WriteString("\t|> sort(columns: [\"_time\"])\n")
	return b.String()
}
