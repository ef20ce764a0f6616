// Package agg folds one symbol's ticks into candles for every configured
// timeframe. An Aggregator is owned by a single symbol worker and is not
// safe for concurrent use.
package agg

import (
	"fmt"
	"log"
	"time"

	"tickinsight/internal/model"
)

// Rejection reasons passed to OnRejected and used as metric labels.
const (
	ReasonMalformed  = "malformed"
	ReasonOutOfOrder = "out_of_order"
	ReasonSymbol     = "wrong_symbol"
	ReasonBeforeSeed = "before_seed"
)

// tfState holds the open candle for one timeframe.
type tfState struct {
	tf     model.Timeframe
	bucket int64 // open_time in unix seconds
	candle model.Candle
	open   bool
	floor  int64 // ticks before this unix second are already in seeded history
}

// Aggregator maintains one open candle per timeframe for a single symbol.
type Aggregator struct {
	symbol   string
	exchange string
	states   []tfState

	lastTS   time.Time
	accepted uint64
	rejected uint64

	// Hooks (optional)
	OnRejected func(reason string)  // called for every rejected tick
	OnClosed   func(c model.Candle) // called for every closed candle
}

// New creates an aggregator for symbol over the given timeframes.
func New(symbol, exchange string, tfs []model.Timeframe) *Aggregator {
	states := make([]tfState, 0, len(tfs))
	seen := make(map[model.Timeframe]bool, len(tfs))
	for _, tf := range tfs {
		if tf.IsZero() || seen[tf] {
			continue
		}
		seen[tf] = true
		states = append(states, tfState{tf: tf})
	}
	return &Aggregator{
		symbol:   symbol,
		exchange: exchange,
		states:   states,
	}
}

// Ingest applies one tick to every timeframe and returns the candles it closed,
// in timeframe order. A rejected tick leaves the aggregator untouched.
func (a *Aggregator) Ingest(t model.Tick) ([]model.Candle, error) {
	if err := t.Validate(); err != nil {
		a.reject(ReasonMalformed)
		return nil, err
	}
	if t.Symbol != a.symbol {
		a.reject(ReasonSymbol)
		return nil, model.Errorf(model.KindMalformedInput, "tick for %s routed to %s aggregator", t.Symbol, a.symbol)
	}
	if !a.lastTS.IsZero() && t.TS.Before(a.lastTS) {
		a.reject(ReasonOutOfOrder)
		log.Printf("[agg] %s: out-of-order tick ts=%s last=%s rejected",
			a.symbol, t.TS.Format(time.RFC3339Nano), a.lastTS.Format(time.RFC3339Nano))
		return nil, model.Errorf(model.KindMalformedInput, "%s: out-of-order tick at %s (last accepted %s)",
			a.symbol, t.TS.Format(time.RFC3339Nano), a.lastTS.Format(time.RFC3339Nano))
	}

	unix := t.TS.Unix()
	if !a.wantsAny(unix) {
		a.reject(ReasonBeforeSeed)
		return nil, model.Errorf(model.KindMalformedInput, "%s: tick at %s predates seeded history on every timeframe",
			a.symbol, t.TS.Format(time.RFC3339Nano))
	}

	a.lastTS = t.TS
	a.accepted++

	var closed []model.Candle
	for i := range a.states {
		st := &a.states[i]
		if unix < st.floor {
			continue
		}
		bucket := st.tf.BucketUnix(unix)

		if st.open && bucket > st.bucket {
			// Boundary crossed: finalize. Empty buckets in between are not synthesized.
			st.candle.Closed = true
			closed = append(closed, st.candle)
			if a.OnClosed != nil {
				a.OnClosed(st.candle)
			}
			st.open = false
		}

		if !st.open {
			st.bucket = bucket
			st.open = true
			st.candle = model.Candle{
				Symbol:   a.symbol,
				Exchange: a.exchange,
				TF:       st.tf,
				OpenTime: time.Unix(bucket, 0).UTC(),
				Open:     t.Price,
				High:     t.Price,
				Low:      t.Price,
				Close:    t.Price,
				Volume:   t.Volume,
				Ticks:    1,
			}
			continue
		}

		c := &st.candle
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Close = t.Price
		c.Volume += t.Volume
		c.Ticks++
	}
	return closed, nil
}

// Open returns a copy of the in-progress candle for tf.
func (a *Aggregator) Open(tf model.Timeframe) (model.Candle, bool) {
	for i := range a.states {
		if a.states[i].tf == tf && a.states[i].open {
			return a.states[i].candle, true
		}
	}
	return model.Candle{}, false
}

// Flush closes and returns every open candle. Used on shutdown when the
// operator opts to persist unfinished buckets.
func (a *Aggregator) Flush() []model.Candle {
	var out []model.Candle
	for i := range a.states {
		st := &a.states[i]
		if !st.open {
			continue
		}
		st.candle.Closed = true
		out = append(out, st.candle)
		if a.OnClosed != nil {
			a.OnClosed(st.candle)
		}
		st.open = false
	}
	return out
}

// Timeframes returns the configured timeframes in order.
func (a *Aggregator) Timeframes() []model.Timeframe {
	out := make([]model.Timeframe, len(a.states))
	for i := range a.states {
		out[i] = a.states[i].tf
	}
	return out
}

// SeedFloor marks tf as seeded up to end: ticks before end are skipped for
// that timeframe only, so a coarse bucket still running (today's 1d candle)
// cannot hold back finer ones. The ordering clock is left to live ticks.
func (a *Aggregator) SeedFloor(tf model.Timeframe, end time.Time) {
	for i := range a.states {
		if a.states[i].tf == tf && end.Unix() > a.states[i].floor {
			a.states[i].floor = end.Unix()
		}
	}
}

func (a *Aggregator) wantsAny(unix int64) bool {
	for i := range a.states {
		if unix >= a.states[i].floor {
			return true
		}
	}
	return len(a.states) == 0
}

// Stats returns accepted and rejected tick counts.
func (a *Aggregator) Stats() (accepted, rejected uint64) {
	return a.accepted, a.rejected
}

// LastTS returns the timestamp of the last accepted tick.
func (a *Aggregator) LastTS() time.Time {
	return a.lastTS
}

func (a *Aggregator) reject(reason string) {
	a.rejected++
	if a.OnRejected != nil {
		a.OnRejected(reason)
	}
}

func (a *Aggregator) String() string {
	return fmt.Sprintf("agg(%s, %d tfs)", a.symbol, len(a.states))
}
