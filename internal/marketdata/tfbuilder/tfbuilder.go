// Package tfbuilder resamples closed candles of a base timeframe into a
// coarser one. It backs history queries for timeframes the candle store does
// not hold directly.
package tfbuilder

import (
	"log"
	"time"

	"tickinsight/internal/model"
)

// Builder folds base candles into target-timeframe buckets in O(1) per candle.
// Not safe for concurrent use.
type Builder struct {
	target model.Timeframe

	bucket  int64 // bucket start, unix seconds
	candle  model.Candle
	lastEnd time.Time // close time of the newest merged base candle
	started bool

	// Hooks (optional)
	OnStale func(c model.Candle) // base candle older than the forming bucket, skipped
}

// New creates a builder emitting target candles.
func New(target model.Timeframe) *Builder {
	return &Builder{target: target}
}

// Add merges one closed base candle and returns the target candle it closed,
// if any. Candles behind the forming bucket are skipped.
func (b *Builder) Add(c model.Candle) (model.Candle, bool) {
	bucket := b.target.BucketUnix(c.OpenTime.Unix())

	if b.started && bucket < b.bucket {
		if b.OnStale != nil {
			b.OnStale(c)
		}
		return model.Candle{}, false
	}

	var out model.Candle
	var closed bool
	if b.started && bucket > b.bucket {
		out, closed = b.finish(), true
	}

	if !b.started {
		b.bucket = bucket
		b.started = true
		b.candle = model.Candle{
			Symbol:   c.Symbol,
			Exchange: c.Exchange,
			TF:       b.target,
			OpenTime: time.Unix(bucket, 0).UTC(),
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
			Ticks:    c.Ticks,
		}
		b.lastEnd = c.CloseTime()
		return out, closed
	}

	fc := &b.candle
	if c.High > fc.High {
		fc.High = c.High
	}
	if c.Low < fc.Low {
		fc.Low = c.Low
	}
	fc.Close = c.Close
	fc.Volume += c.Volume
	fc.Ticks += c.Ticks
	if end := c.CloseTime(); end.After(b.lastEnd) {
		b.lastEnd = end
	}
	return out, closed
}

// Forming returns a copy of the bucket being built.
func (b *Builder) Forming() (model.Candle, bool) {
	return b.candle, b.started
}

// Complete reports whether the forming bucket has been covered up to its end.
func (b *Builder) Complete() bool {
	return b.started && !b.lastEnd.Before(b.candle.CloseTime())
}

// Flush closes and returns the forming bucket.
func (b *Builder) Flush() (model.Candle, bool) {
	if !b.started {
		return model.Candle{}, false
	}
	return b.finish(), true
}

func (b *Builder) finish() model.Candle {
	c := b.candle
	c.Closed = true
	b.started = false
	return c
}

// Resample converts sorted closed base candles into target candles. The
// trailing bucket is kept only when its last base candle reaches the bucket
// end, so a partially covered bucket never appears as closed.
func Resample(base []model.Candle, target model.Timeframe) ([]model.Candle, error) {
	if len(base) == 0 {
		return nil, nil
	}
	src := base[0].TF
	if src == target {
		out := make([]model.Candle, len(base))
		copy(out, base)
		return out, nil
	}
	if !src.Divides(target) {
		return nil, model.Errorf(model.KindUnknownTimeframe, "cannot resample %s into %s", src, target)
	}

	b := New(target)
	stale := 0
	b.OnStale = func(model.Candle) { stale++ }

	out := make([]model.Candle, 0, len(base)*int(src.Seconds())/int(target.Seconds())+1)
	for _, c := range base {
		if !c.Closed || c.TF != src {
			continue
		}
		if done, ok := b.Add(c); ok {
			out = append(out, done)
		}
	}
	if b.Complete() {
		last, _ := b.Flush()
		out = append(out, last)
	}
	if stale > 0 {
		log.Printf("[tfbuilder] %s→%s: skipped %d out-of-order base candles", src, target, stale)
	}
	return out, nil
}
