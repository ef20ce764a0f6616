package pipeline

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tickinsight/internal/indicator"
	"tickinsight/internal/marketdata/agg"
	"tickinsight/internal/model"
	"tickinsight/internal/ringbuf"
	"tickinsight/internal/window"
)

// worker owns everything mutable about one symbol: its tick buffer, its
// aggregator and the write side of its windows. Ticks are handled strictly
// in arrival order on a single goroutine.
type worker struct {
	p       *Pipeline
	symbol  string
	inbox   chan model.Tick
	reqs    chan ticksReq
	ticks   *ringbuf.TickBuffer
	agg     *agg.Aggregator
	windows map[model.Timeframe]*window.Window

	accepted atomic.Uint64
	rejected atomic.Uint64
	closed   atomic.Uint64
	dropped  atomic.Uint64

	formingMu sync.RWMutex
	forming   map[model.Timeframe]model.Candle
}

func newWorker(p *Pipeline, symbol string) *worker {
	w := &worker{
		p:       p,
		symbol:  symbol,
		inbox:   make(chan model.Tick, p.opts.InboxSize),
		reqs:    make(chan ticksReq),
		ticks:   ringbuf.New(p.opts.TickBufferSize),
		agg:     agg.New(symbol, p.opts.Exchange, p.opts.Timeframes),
		windows: make(map[model.Timeframe]*window.Window, len(p.opts.Timeframes)),
		forming: make(map[model.Timeframe]model.Candle, len(p.opts.Timeframes)),
	}
	for _, tf := range p.opts.Timeframes {
		w.windows[tf] = p.store.GetOrCreate(symbol, p.opts.Exchange, tf)
	}
	w.agg.OnRejected = func(reason string) {
		w.rejected.Add(1)
		if p.prom != nil {
			p.prom.RejectedTicks.WithLabelValues(reason).Inc()
		}
	}
	return w
}

// run seeds the windows and then consumes the inbox until ctx is cancelled.
// Ticks that arrive while seeding wait in the inbox.
func (w *worker) run(ctx context.Context) error {
	w.seed(ctx)

	for {
		select {
		case <-ctx.Done():
			w.drain()
			if w.p.opts.FlushOnShutdown {
				w.flush()
			}
			return nil
		case t := <-w.inbox:
			w.handle(t)
		case r := <-w.reqs:
			r.reply <- w.ticks.Recent(r.n)
		}
	}
}

// ticksReq asks the worker for its n most recent ticks. The ring is only
// read on the worker goroutine.
type ticksReq struct {
	n     int
	reply chan []model.Tick
}

// drain processes ticks already queued when shutdown began.
func (w *worker) drain() {
	for {
		select {
		case t := <-w.inbox:
			w.handle(t)
		default:
			return
		}
	}
}

func (w *worker) handle(t model.Tick) {
	if t.Exchange == "" {
		t.Exchange = w.p.opts.Exchange
	}
	closed, err := w.agg.Ingest(t)
	if err != nil {
		return
	}
	w.accepted.Add(1)
	if w.ticks.Len() == w.ticks.Cap() && w.p.prom != nil {
		w.p.prom.TickBufOverwr.Inc()
	}
	w.ticks.Push(t)
	if w.p.prom != nil {
		w.p.prom.TicksTotal.Inc()
	}
	if w.p.health != nil {
		w.p.health.SetLastTickTime(t.TS)
	}

	for _, c := range closed {
		w.onClosed(c)
	}
	w.publishForming()
}

// onClosed appends a closed candle to its window, publishes it and then the
// indicator values computed on the new snapshot.
func (w *worker) onClosed(c model.Candle) {
	win, ok := w.windows[c.TF]
	if !ok {
		return
	}
	evicted, err := win.Append(c)
	if err != nil {
		log.Printf("[pipeline] %s: window append rejected: %v", c.Key(), err)
		return
	}
	w.closed.Add(1)
	if w.p.prom != nil {
		w.p.prom.CandlesClosed.WithLabelValues(c.TF.String()).Inc()
		if evicted {
			w.p.prom.WindowEvicted.Inc()
		}
	}

	cc := c
	w.p.publish(model.Event{
		Kind:      model.EventCandle,
		Symbol:    c.Symbol,
		Exchange:  c.Exchange,
		TF:        c.TF,
		Candle:    &cc,
		TS:        c.OpenTime,
		EmittedAt: time.Now(),
	})

	specs := w.p.specsFor(c.Symbol, c.TF)
	if len(specs) == 0 {
		return
	}
	values := w.p.computeLatest(win.Snapshot(), specs)
	w.p.publish(model.Event{
		Kind:       model.EventIndicators,
		Symbol:     c.Symbol,
		Exchange:   c.Exchange,
		TF:         c.TF,
		Indicators: values,
		TS:         c.OpenTime,
		EmittedAt:  time.Now(),
	})
}

func (w *worker) publishForming() {
	w.formingMu.Lock()
	for _, tf := range w.p.opts.Timeframes {
		if c, ok := w.agg.Open(tf); ok {
			w.forming[tf] = c
		} else {
			delete(w.forming, tf)
		}
	}
	w.formingMu.Unlock()
}

// Forming returns the in-progress candle for tf.
func (w *worker) Forming(tf model.Timeframe) (model.Candle, bool) {
	w.formingMu.RLock()
	defer w.formingMu.RUnlock()
	c, ok := w.forming[tf]
	return c, ok
}

func (w *worker) flush() {
	out := w.agg.Flush()
	for _, c := range out {
		w.onClosed(c)
	}
	if len(out) > 0 {
		log.Printf("[pipeline] %s: flushed %d open candles on shutdown", w.symbol, len(out))
	}
	w.publishForming()
}

// seed fills every window from history and sets a per-timeframe floor so
// live ticks cannot reopen a seeded bucket. Failures are counted and logged;
// the worker starts regardless.
func (w *worker) seed(ctx context.Context) {
	if w.p.history == nil {
		return
	}
	for _, tf := range w.p.opts.Timeframes {
		n, err := w.p.seedSeries(ctx, w.windows[tf])
		if err != nil {
			log.Printf("[pipeline] %s:%s: seeding failed, starting empty: %v", w.symbol, tf, err)
			continue
		}
		if last, ok := w.windows[tf].Snapshot().Last(); ok && n > 0 {
			w.agg.SeedFloor(tf, last.CloseTime())
		}
	}
}

// computeLatest runs every spec on a bounded errgroup and returns key → latest
// value (nil while data is insufficient). Failed specs are logged and counted.
func (p *Pipeline) computeLatest(snap *window.Snapshot, specs []indicator.Spec) map[string]any {
	start := time.Now()
	candles := snap.Candles()
	values := make([]any, len(specs))
	errs := make([]error, len(specs))

	var g errgroup.Group
	g.SetLimit(p.opts.Parallelism)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			s, err := p.engine.Compute(candles, spec)
			if err != nil {
				errs[i] = err
				return nil
			}
			if v, ok := s.Latest(); ok {
				values[i] = v
			}
			return nil
		})
	}
	g.Wait()

	out := make(map[string]any, len(specs))
	for i, spec := range specs {
		if errs[i] != nil {
			log.Printf("[pipeline] %s: indicator %s failed: %v", snap.Key(), spec.Key(), errs[i])
			if p.prom != nil {
				p.prom.IndicatorErrors.WithLabelValues(string(model.KindOf(errs[i]))).Inc()
			}
			continue
		}
		out[spec.Key()] = values[i]
	}
	if p.prom != nil {
		p.prom.IndicatorComputeDur.Observe(time.Since(start).Seconds())
	}
	return out
}
