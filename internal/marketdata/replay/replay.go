// Package replay turns stored candles back into ticks so the live pipeline
// can be driven from history (development, backtests, demos).
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"tickinsight/internal/model"
)

// Config selects what is replayed.
type Config struct {
	Symbols  []string
	Exchange string
	TF       model.Timeframe // stored timeframe read from the source
	Range    model.Range
	// Speed is the playback rate: 1.0 = real time, 10.0 = 10x, 0 = as fast as possible.
	Speed float64
	// FetchTimeout bounds each history read. Defaults to 30s.
	FetchTimeout time.Duration
}

// Replayer implements model.TickSource on top of a HistorySource.
type Replayer struct {
	src model.HistorySource
	cfg Config
}

// New creates a Replayer.
func New(src model.HistorySource, cfg Config) *Replayer {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.TF.IsZero() {
		cfg.TF = model.TF1m
	}
	return &Replayer{src: src, cfg: cfg}
}

// Start loads every configured series and submits synthetic ticks in time
// order, sleeping between them according to Speed. Returns when the history
// is exhausted or ctx is cancelled.
func (r *Replayer) Start(ctx context.Context, submit func(model.Tick) error) error {
	var all []model.Candle
	for _, sym := range r.cfg.Symbols {
		fctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
		candles, err := r.src.GetCandles(fctx, sym, r.cfg.Exchange, r.cfg.TF, r.cfg.Range)
		cancel()
		if err != nil {
			return model.Wrap(model.KindUpstreamUnavailable, err, "replay load "+sym)
		}
		all = append(all, candles...)
	}
	if len(all) == 0 {
		log.Println("[replay] no candles found")
		return nil
	}

	ticks := make([]model.Tick, 0, len(all)*4)
	for _, c := range all {
		ticks = append(ticks, Ticks(c)...)
	}
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].TS.Before(ticks[j].TS) })

	log.Printf("[replay] loaded %d candles (%d ticks) for %d symbols, speed=%.1fx",
		len(all), len(ticks), len(r.cfg.Symbols), r.cfg.Speed)

	var prevTS time.Time
	emitted, rejected := 0, 0
	for _, tk := range ticks {
		if ctx.Err() != nil {
			log.Printf("[replay] cancelled after %d ticks", emitted)
			return nil
		}

		if r.cfg.Speed > 0 && !prevTS.IsZero() {
			if gap := tk.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / r.cfg.Speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(scaled):
				}
			}
		}
		prevTS = tk.TS

		if err := submit(tk); err != nil {
			rejected++
			continue
		}
		emitted++
	}

	log.Printf("[replay] completed: %d ticks replayed, %d rejected", emitted, rejected)
	return nil
}

// Ticks expands a candle into four ticks inside its bucket whose fold
// reproduces the candle: open, then the extreme nearer the open, then the
// other extreme, then close. Volume is split evenly.
func Ticks(c model.Candle) []model.Tick {
	step := c.TF.Duration() / 4
	vol := c.Volume / 4
	first, second := c.Low, c.High
	if c.Close < c.Open {
		first, second = c.High, c.Low
	}
	prices := [4]float64{c.Open, first, second, c.Close}
	out := make([]model.Tick, 4)
	for i, p := range prices {
		out[i] = model.Tick{
			Symbol:   c.Symbol,
			Exchange: c.Exchange,
			Price:    p,
			Volume:   vol,
			TS:       c.OpenTime.Add(time.Duration(i) * step),
		}
	}
	return out
}
