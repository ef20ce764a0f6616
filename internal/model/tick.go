package model

import (
	"math"
	"time"
)

// Tick is a single trade/quote update for one symbol.
// Immutable once recorded; consumed exactly once by that symbol's aggregator.
type Tick struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange,omitempty"`
	Price    float64   `json:"price"`
	Volume   float64   `json:"volume"`
	TS       time.Time `json:"timestamp"`
}

// Validate rejects ticks that must never reach an aggregator.
func (t *Tick) Validate() error {
	switch {
	case t.Symbol == "":
		return Errorf(KindMalformedInput, "tick without symbol")
	case math.IsNaN(t.Price) || math.IsInf(t.Price, 0):
		return Errorf(KindMalformedInput, "non-finite price for %s", t.Symbol)
	case t.Price < 0:
		return Errorf(KindMalformedInput, "negative price %.4f for %s", t.Price, t.Symbol)
	case math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0):
		return Errorf(KindMalformedInput, "non-finite volume for %s", t.Symbol)
	case t.Volume < 0:
		return Errorf(KindMalformedInput, "negative volume %.4f for %s", t.Volume, t.Symbol)
	case t.TS.IsZero():
		return Errorf(KindMalformedInput, "tick without timestamp for %s", t.Symbol)
	}
	return nil
}
