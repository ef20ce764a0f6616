// Package window keeps the most recent closed candles of each (symbol,
// timeframe) series. Writers are the owning symbol worker; readers (query
// service, indicator engine, level detector) take immutable snapshots.
package window

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tickinsight/internal/model"
)

// Snapshot is an immutable view of a window at one version. The candle slice
// is shared between readers and must not be modified.
type Snapshot struct {
	Symbol   string
	Exchange string
	TF       model.Timeframe
	Version  uint64
	candles  []model.Candle
}

// Candles returns the candles oldest first. Read-only.
func (s *Snapshot) Candles() []model.Candle { return s.candles }

// Key returns "symbol:tf".
func (s *Snapshot) Key() string { return model.SeriesKey(s.Symbol, s.TF) }

// Len returns the number of candles in the snapshot.
func (s *Snapshot) Len() int { return len(s.candles) }

// Last returns the newest candle.
func (s *Snapshot) Last() (model.Candle, bool) {
	if len(s.candles) == 0 {
		return model.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Tail returns the newest n candles (all when n <= 0 or n > Len). Read-only.
func (s *Snapshot) Tail(n int) []model.Candle {
	if n <= 0 || n >= len(s.candles) {
		return s.candles
	}
	return s.candles[len(s.candles)-n:]
}

// Range returns the candles whose open time falls inside r. Read-only.
func (s *Snapshot) Range(r model.Range) []model.Candle {
	if r.IsZero() {
		return s.candles
	}
	lo := 0
	if !r.From.IsZero() {
		lo = sort.Search(len(s.candles), func(i int) bool {
			return !s.candles[i].OpenTime.Before(r.From)
		})
	}
	hi := len(s.candles)
	if !r.To.IsZero() {
		hi = sort.Search(len(s.candles), func(i int) bool {
			return !s.candles[i].OpenTime.Before(r.To)
		})
	}
	if lo >= hi {
		return nil
	}
	return s.candles[lo:hi]
}

// Window is a bounded, append-only sequence of closed candles with strictly
// increasing open times. Each append publishes a fresh snapshot; readers
// holding an older snapshot are unaffected.
type Window struct {
	symbol   string
	exchange string
	tf       model.Timeframe
	capacity int

	mu      sync.Mutex // serializes writers
	cur     atomic.Pointer[Snapshot]
	evicted atomic.Uint64
}

// New creates an empty window. capacity < 1 is treated as 1.
func New(symbol, exchange string, tf model.Timeframe, capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	w := &Window{symbol: symbol, exchange: exchange, tf: tf, capacity: capacity}
	w.cur.Store(&Snapshot{Symbol: symbol, Exchange: exchange, TF: tf})
	return w
}

// Append adds a closed candle, evicting the oldest when at capacity.
// Returns true when a candle was evicted.
func (w *Window) Append(c model.Candle) (bool, error) {
	if err := w.check(c); err != nil {
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.cur.Load()
	if n := len(prev.candles); n > 0 && !c.OpenTime.After(prev.candles[n-1].OpenTime) {
		return false, model.Errorf(model.KindMalformedInput, "%s: candle %s does not follow %s",
			model.SeriesKey(w.symbol, w.tf), c.OpenTime.Format(time.RFC3339), prev.candles[n-1].OpenTime.Format(time.RFC3339))
	}

	c.Closed = true
	evict := len(prev.candles) >= w.capacity
	start := 0
	if evict {
		start = len(prev.candles) - w.capacity + 1
	}
	next := make([]model.Candle, 0, w.capacity)
	next = append(next, prev.candles[start:]...)
	next = append(next, c)

	w.publish(prev, next)
	if evict {
		w.evicted.Add(uint64(start))
	}
	return evict, nil
}

// Seed replaces the window content with history. Candles are sorted; unclosed,
// invalid or duplicate open times are dropped and only the newest capacity are kept.
// Returns the number retained.
func (w *Window) Seed(history []model.Candle) int {
	buf := make([]model.Candle, 0, len(history))
	for _, c := range history {
		if c.Closed && w.check(c) == nil {
			buf = append(buf, c)
		}
	}
	sort.SliceStable(buf, func(i, j int) bool { return buf[i].OpenTime.Before(buf[j].OpenTime) })

	dedup := buf[:0]
	for i, c := range buf {
		if i > 0 && c.OpenTime.Equal(dedup[len(dedup)-1].OpenTime) {
			dedup[len(dedup)-1] = c // later duplicate wins
			continue
		}
		dedup = append(dedup, c)
	}
	if len(dedup) > w.capacity {
		dedup = dedup[len(dedup)-w.capacity:]
	}
	next := make([]model.Candle, len(dedup), w.capacity)
	copy(next, dedup)

	w.mu.Lock()
	w.publish(w.cur.Load(), next)
	w.mu.Unlock()
	return len(next)
}

// Snapshot returns the current immutable view.
func (w *Window) Snapshot() *Snapshot { return w.cur.Load() }

// Len returns the number of candles currently held.
func (w *Window) Len() int { return len(w.cur.Load().candles) }

// Cap returns the window capacity.
func (w *Window) Cap() int { return w.capacity }

// Evicted returns how many candles have been pushed out by appends.
func (w *Window) Evicted() uint64 { return w.evicted.Load() }

// TF returns the window timeframe.
func (w *Window) TF() model.Timeframe { return w.tf }

func (w *Window) check(c model.Candle) error {
	if c.Symbol != w.symbol || c.TF != w.tf {
		return model.Errorf(model.KindMalformedInput, "candle %s appended to window %s",
			model.SeriesKey(c.Symbol, c.TF), model.SeriesKey(w.symbol, w.tf))
	}
	if c.OpenTime.IsZero() || !c.Valid() {
		return model.Errorf(model.KindMalformedInput, "%s: invalid candle at %s", model.SeriesKey(w.symbol, w.tf), c.OpenTime)
	}
	return nil
}

// publish must be called with mu held.
func (w *Window) publish(prev *Snapshot, candles []model.Candle) {
	w.cur.Store(&Snapshot{
		Symbol:   w.symbol,
		Exchange: w.exchange,
		TF:       w.tf,
		Version:  prev.Version + 1,
		candles:  candles,
	})
}
