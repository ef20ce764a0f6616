package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tickinsight/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

// Writer mirrors events into Redis. Closed candles and indicator sets are
// appended to a capped stream, stored as the latest value and published;
// forming candles are only published.
type Writer struct {
	client *goredis.Client
}

// NewWriter wraps a connected client.
func NewWriter(client *goredis.Client) *Writer {
	return &Writer{client: client}
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Write sends one event in a single pipeline round trip.
func (w *Writer) Write(ctx context.Context, ev model.Event) error {
	var kind string
	switch ev.Kind {
	case model.EventCandle:
		if ev.Candle == nil {
			return nil
		}
		kind = "candle"
	case model.EventIndicators:
		kind = "ind"
	default:
		return nil
	}

	payload := string(ev.JSON())
	suffix := seriesSuffix(ev.Exchange, ev.Symbol, ev.TF)
	pipe := w.client.Pipeline()

	if ev.Kind == model.EventCandle && !ev.Candle.Closed {
		pipe.Publish(ctx, "pub:"+kind+":forming:"+suffix, payload)
	} else {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: kind + ":" + suffix,
			MaxLen: streamMaxLen(ev.TF),
			Approx: true,
			Values: map[string]interface{}{"data": payload},
		})
		pipe.Set(ctx, kind+":latest:"+suffix, payload, defaultLatestTTL)
		pipe.Publish(ctx, "pub:"+kind+":"+suffix, payload)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis %s pipeline for %s: %w", kind, ev.Key(), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

// seriesSuffix is "exchange:symbol:tf".
func seriesSuffix(exchange, symbol string, tf model.Timeframe) string {
	return exchange + ":" + symbol + ":" + tf.String()
}

// streamMaxLen keeps roughly three hours of entries, never fewer than 200.
func streamMaxLen(tf model.Timeframe) int64 {
	secs := tf.Seconds()
	if secs <= 0 {
		return 200
	}
	n := 10800/secs + 100
	if n < 200 {
		n = 200
	}
	return n
}
