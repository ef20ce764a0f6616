// Package pipeline routes ticks to one worker per symbol and turns closed
// candles into events: windows are appended, indicators computed and the
// results handed to an EventSink.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tickinsight/internal/indicator"
	"tickinsight/internal/marketdata/tfbuilder"
	"tickinsight/internal/metrics"
	"tickinsight/internal/model"
	"tickinsight/internal/window"
)

// ErrStopped is returned by Submit after Run has returned.
var ErrStopped = errors.New("pipeline: stopped")

// Deps are the collaborators of a Pipeline. Only Store and Engine are required.
type Deps struct {
	Store   *window.Store
	Engine  *indicator.Engine
	Sink    model.EventSink
	History model.HistorySource
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
}

// Pipeline is the tick-to-insight core.
type Pipeline struct {
	opts    Options
	store   *window.Store
	engine  *indicator.Engine
	sink    model.EventSink
	history model.HistorySource
	prom    *metrics.Metrics
	health  *metrics.HealthStatus

	workers map[string]*worker
	symbols []string
	running atomic.Bool
	done    chan struct{}

	seedFailures atomic.Uint64
}

// New builds a pipeline with one idle worker per configured symbol.
func New(opts Options, deps Deps) *Pipeline {
	opts.defaults()
	p := &Pipeline{
		opts:    opts,
		store:   deps.Store,
		engine:  deps.Engine,
		sink:    deps.Sink,
		history: deps.History,
		prom:    deps.Metrics,
		health:  deps.Health,
		workers: make(map[string]*worker, len(opts.Symbols)),
		done:    make(chan struct{}),
	}
	for _, s := range opts.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || p.workers[s] != nil {
			continue
		}
		p.workers[s] = newWorker(p, s)
		p.symbols = append(p.symbols, s)
	}
	sort.Strings(p.symbols)
	return p
}

// Run starts every worker and blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.running.Store(true)
	defer close(p.done)

	log.Printf("[pipeline] starting %d symbol workers, timeframes=%v window=%d",
		len(p.workers), p.opts.Timeframes, p.opts.WindowCapacity)

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error { return w.run(gctx) })
	}
	err := g.Wait()
	log.Printf("[pipeline] stopped")
	return err
}

// Submit routes a tick to its symbol's worker without blocking. When that
// worker's inbox is full the tick is dropped with a BackpressureDrop error,
// so a stalled symbol never holds up a feed shared with other symbols.
// Malformed ticks and unknown symbols are rejected here; ordering is
// enforced by the worker.
func (p *Pipeline) Submit(t model.Tick) error {
	w, err := p.route(&t)
	if err != nil {
		return err
	}
	select {
	case w.inbox <- t:
		return nil
	case <-p.done:
		return ErrStopped
	default:
		w.dropped.Add(1)
		p.rejectEarly("inbox_full")
		return model.Errorf(model.KindBackpressureDrop, "%s: inbox full (%d queued), tick dropped", t.Symbol, cap(w.inbox))
	}
}

// SubmitWait is Submit for producers that would rather wait than drop, such
// as a replay. It blocks while the worker's inbox is full.
func (p *Pipeline) SubmitWait(ctx context.Context, t model.Tick) error {
	w, err := p.route(&t)
	if err != nil {
		return err
	}
	select {
	case w.inbox <- t:
		return nil
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) route(t *model.Tick) (*worker, error) {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	if err := t.Validate(); err != nil {
		p.rejectEarly("malformed")
		return nil, err
	}
	w, ok := p.workers[t.Symbol]
	if !ok {
		p.rejectEarly("unknown_symbol")
		return nil, model.Errorf(model.KindMalformedInput, "symbol %q is not served", t.Symbol)
	}
	return w, nil
}

func (p *Pipeline) rejectEarly(reason string) {
	if p.prom != nil {
		p.prom.RejectedTicks.WithLabelValues(reason).Inc()
	}
}

// Symbols returns the served symbols, sorted.
func (p *Pipeline) Symbols() []string { return p.symbols }

// Timeframes returns the aggregated timeframes.
func (p *Pipeline) Timeframes() []model.Timeframe { return p.opts.Timeframes }

// Exchange returns the default exchange.
func (p *Pipeline) Exchange() string { return p.opts.Exchange }

// Store returns the window store.
func (p *Pipeline) Store() *window.Store { return p.store }

// Engine returns the indicator engine.
func (p *Pipeline) Engine() *indicator.Engine { return p.engine }

// Latest returns the newest closed candle of (symbol, tf).
func (p *Pipeline) Latest(symbol string, tf model.Timeframe) (model.Candle, bool) {
	snap, ok := p.store.Snapshot(symbol, tf)
	if !ok {
		return model.Candle{}, false
	}
	return snap.Last()
}

// Forming returns the in-progress candle of (symbol, tf).
func (p *Pipeline) Forming(symbol string, tf model.Timeframe) (model.Candle, bool) {
	w, ok := p.workers[symbol]
	if !ok {
		return model.Candle{}, false
	}
	return w.Forming(tf)
}

// RecentTicks returns up to n of symbol's most recent accepted ticks, oldest
// first. It waits for the worker, which answers between ticks but not while
// it is still seeding.
func (p *Pipeline) RecentTicks(ctx context.Context, symbol string, n int) ([]model.Tick, error) {
	w, ok := p.workers[symbol]
	if !ok {
		return nil, model.Errorf(model.KindMalformedInput, "symbol %q is not served", symbol)
	}
	req := ticksReq{n: n, reply: make(chan []model.Tick, 1)}
	select {
	case w.reqs <- req:
	case <-p.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, model.Wrap(model.KindUpstreamUnavailable, ctx.Err(), symbol+" worker busy")
	}
	return <-req.reply, nil
}

// SymbolStats is the per-symbol view on /api/stats.
type SymbolStats struct {
	Accepted       uint64 `json:"accepted"`
	Rejected       uint64 `json:"rejected"`
	CandlesClosed  uint64 `json:"candles_closed"`
	TicksBuffered  int    `json:"ticks_buffered"`
	TicksOverwrote uint64 `json:"ticks_overwritten"`
	InboxLen       int    `json:"inbox_len"`
	InboxDropped   uint64 `json:"inbox_dropped"`
}

// Stats returns per-symbol counters.
func (p *Pipeline) Stats() map[string]SymbolStats {
	out := make(map[string]SymbolStats, len(p.workers))
	for s, w := range p.workers {
		out[s] = SymbolStats{
			Accepted:       w.accepted.Load(),
			Rejected:       w.rejected.Load(),
			CandlesClosed:  w.closed.Load(),
			TicksBuffered:  w.ticks.Len(),
			TicksOverwrote: w.ticks.Overwritten(),
			InboxLen:       len(w.inbox),
			InboxDropped:   w.dropped.Load(),
		}
	}
	return out
}

// SeedFailures returns how many series started without history.
func (p *Pipeline) SeedFailures() uint64 { return p.seedFailures.Load() }

func (p *Pipeline) publish(ev model.Event) {
	if p.sink != nil {
		p.sink.Publish(ev)
	}
}

// specsFor merges the configured plan with whatever stream clients want.
func (p *Pipeline) specsFor(symbol string, tf model.Timeframe) []indicator.Spec {
	var specs []indicator.Spec
	seen := map[string]bool{}
	if p.opts.Plan != nil {
		for _, s := range p.opts.Plan(tf) {
			if k := s.Key(); !seen[k] {
				seen[k] = true
				specs = append(specs, s)
			}
		}
	}
	if p.opts.Wanted != nil {
		for _, key := range p.opts.Wanted(symbol, tf) {
			if seen[key] {
				continue
			}
			spec, err := indicator.ParseSpec(key)
			if err != nil {
				continue
			}
			seen[key] = true
			specs = append(specs, spec)
		}
	}
	return specs
}

// seedSeries loads recent history for one window under SeedTimeout. When the
// source has nothing for the timeframe, the finest configured base timeframe
// is fetched and resampled instead.
func (p *Pipeline) seedSeries(ctx context.Context, win *window.Window) (int, error) {
	snap := win.Snapshot()
	tf := snap.TF
	start := time.Now()
	r := model.Range{From: time.Now().Add(-time.Duration(p.opts.WindowCapacity+1) * tf.Duration())}

	candles, err := p.fetch(ctx, snap.Symbol, snap.Exchange, tf, r)
	if (err != nil || len(candles) == 0) && ctx.Err() == nil {
		if base, ok := p.opts.baseTimeframe(tf); ok {
			baseCandles, berr := p.fetch(ctx, snap.Symbol, snap.Exchange, base, r)
			if berr == nil && len(baseCandles) > 0 {
				candles, err = tfbuilder.Resample(baseCandles, tf)
			} else if err == nil {
				err = berr
			}
		}
	}
	if p.prom != nil {
		p.prom.SeedDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.seedFailures.Add(1)
		if p.prom != nil {
			p.prom.SeedFailures.WithLabelValues(string(model.KindOf(err))).Inc()
		}
		return 0, err
	}

	n := win.Seed(candles)
	if n > 0 {
		log.Printf("[pipeline] %s: seeded %d candles", snap.Key(), n)
	}
	return n, nil
}

func (p *Pipeline) fetch(ctx context.Context, symbol, exchange string, tf model.Timeframe, r model.Range) ([]model.Candle, error) {
	fctx, cancel := context.WithTimeout(ctx, p.opts.SeedTimeout)
	defer cancel()
	candles, err := p.history.GetCandles(fctx, symbol, exchange, tf, r)
	if err != nil {
		if model.KindOf(err) == model.KindInternal {
			err = model.Wrap(model.KindUpstreamUnavailable, err, "history "+model.SeriesKey(symbol, tf))
		}
		return nil, err
	}
	return candles, nil
}
