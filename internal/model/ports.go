package model

import (
	"context"
	"time"
)

// ── Collaborator ports ──
// Concrete stores (SQLite, Redis, InfluxDB) satisfy these; the pipeline only
// sees the interfaces.

// Range is a half-open [From, To) time range. Zero bounds are open.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether ts falls inside the range.
func (r Range) Contains(ts time.Time) bool {
	if !r.From.IsZero() && ts.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !ts.Before(r.To) {
		return false
	}
	return true
}

// IsZero reports an unbounded range.
func (r Range) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// HistorySource supplies closed historical candles used to seed windows and
// answer ranged queries. Callers always pass a context with a deadline.
type HistorySource interface {
	GetCandles(ctx context.Context, symbol, exchange string, tf Timeframe, r Range) ([]Candle, error)
}

// EventSink consumes pipeline events. Publish must not block.
type EventSink interface {
	Publish(ev Event)
}

// TickSource pushes ticks into the pipeline until ctx is cancelled.
type TickSource interface {
	Start(ctx context.Context, submit func(Tick) error) error
}
