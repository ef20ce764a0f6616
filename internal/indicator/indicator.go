// Package indicator computes technical indicators over candle windows.
//
// Every indicator is a pure function registered by name in a Registry. The
// Engine looks the name up, copies OHLCV out of the candles and returns a
// Series aligned to the trailing candles. Inputs are never modified.
package indicator

import (
	"time"

	"tickinsight/internal/model"
)

// Family groups indicators for discovery.
type Family string

const (
	FamilyTrend       Family = "trend"
	FamilyMomentum    Family = "momentum"
	FamilyVolatility  Family = "volatility"
	FamilyVolume      Family = "volume"
	FamilyStatistical Family = "statistical"
	FamilyPattern     Family = "pattern"
)

// Streaming is an incremental indicator fed one close at a time.
// O(1) per update.
type Streaming interface {
	// Name returns the lowercase indicator name ("sma", "ema").
	Name() string

	// Update feeds the next close.
	Update(price float64)

	// Value returns the current value. 0 until Ready.
	Value() float64

	// Ready returns true once enough closes have been seen.
	Ready() bool
}

// Input holds fresh OHLCV columns copied out of a candle slice.
type Input struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
	Times  []time.Time
}

// InputFrom copies candles into columns.
func InputFrom(candles []model.Candle) Input {
	n := len(candles)
	in := Input{
		Open:   make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Close:  make([]float64, n),
		Volume: make([]float64, n),
		Times:  make([]time.Time, n),
	}
	for i := range candles {
		c := &candles[i]
		in.Open[i] = c.Open
		in.High[i] = c.High
		in.Low[i] = c.Low
		in.Close[i] = c.Close
		in.Volume[i] = c.Volume
		in.Times[i] = c.OpenTime
	}
	return in
}

// Len returns the number of bars.
func (in Input) Len() int { return len(in.Close) }

// Output is one named output line of an indicator.
type Output struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// Series is the result of one indicator over one candle slice. All outputs
// have the same length as Times; the last value belongs to the last candle.
type Series struct {
	Key     string      `json:"key"`
	Name    string      `json:"name"`
	Family  Family      `json:"family"`
	Params  []float64   `json:"params"`
	Outputs []Output    `json:"outputs"`
	Times   []time.Time `json:"times"`
}

// Len returns the number of values per output.
func (s *Series) Len() int { return len(s.Times) }

// Latest returns the newest value: a float64 for single-output indicators, a
// []float64 (one per output) otherwise. ok is false when the series is empty.
func (s *Series) Latest() (any, bool) {
	n := s.Len()
	if n == 0 {
		return nil, false
	}
	if len(s.Outputs) == 1 {
		return s.Outputs[0].Values[n-1], true
	}
	out := make([]float64, len(s.Outputs))
	for i, o := range s.Outputs {
		out[i] = o.Values[n-1]
	}
	return out, true
}
