package pipeline

import (
	"time"

	"tickinsight/internal/indicator"
	"tickinsight/internal/model"
)

// Options configures a Pipeline.
type Options struct {
	Exchange   string
	Symbols    []string
	Timeframes []model.Timeframe

	WindowCapacity int           // candles retained per (symbol, tf); default 500
	TickBufferSize int           // ticks retained per symbol; default 4096
	InboxSize      int           // per-worker tick queue; default 4096
	SeedTimeout    time.Duration // per-series history fetch; default 5s
	Parallelism    int           // concurrent indicator computations per close; default 4

	// Plan returns the indicator specs computed on every close of tf.
	Plan func(tf model.Timeframe) []indicator.Spec
	// Wanted returns extra indicator keys requested by stream clients.
	Wanted func(symbol string, tf model.Timeframe) []string

	FlushOnShutdown bool
}

func (o *Options) defaults() {
	if o.WindowCapacity <= 0 {
		o.WindowCapacity = 500
	}
	if o.TickBufferSize <= 0 {
		o.TickBufferSize = 4096
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 4096
	}
	if o.SeedTimeout <= 0 {
		o.SeedTimeout = 5 * time.Second
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 4
	}
	if len(o.Timeframes) == 0 {
		o.Timeframes = []model.Timeframe{model.TF1m}
	}
}

// baseTimeframe returns the finest configured timeframe that divides tf,
// used to resample history the store does not hold for tf directly.
func (o *Options) baseTimeframe(tf model.Timeframe) (model.Timeframe, bool) {
	var best model.Timeframe
	for _, c := range o.Timeframes {
		if c == tf || !c.Divides(tf) {
			continue
		}
		if best.IsZero() || c.Seconds() < best.Seconds() {
			best = c
		}
	}
	return best, !best.IsZero()
}
