package model

import (
	"encoding/json"
	"time"
)

// EventKind discriminates pipeline events.
type EventKind int

const (
	EventCandle EventKind = iota + 1
	EventIndicators
)

func (k EventKind) String() string {
	switch k {
	case EventCandle:
		return "candle"
	case EventIndicators:
		return "indicator"
	default:
		return "unknown"
	}
}

// Event is the only thing a symbol worker hands to the rest of the system.
// Indicators maps a spec key ("rsi:14") to a scalar or a []float64 for
// multi-output indicators.
type Event struct {
	Kind       EventKind      `json:"kind"`
	Symbol     string         `json:"symbol"`
	Exchange   string         `json:"exchange,omitempty"`
	TF         Timeframe      `json:"timeframe"`
	Candle     *Candle        `json:"candle,omitempty"`
	Indicators map[string]any `json:"indicators,omitempty"`
	TS         time.Time      `json:"ts"` // candle open time the event belongs to
	EmittedAt  time.Time      `json:"emitted_at"`
}

// Key returns "symbol:tf".
func (e *Event) Key() string {
	return SeriesKey(e.Symbol, e.TF)
}

// JSON returns the JSON-encoded event.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
