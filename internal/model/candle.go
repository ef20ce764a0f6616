package model

import (
	"encoding/json"
	"time"
)

// Candle is an OHLCV summary of ticks for one (symbol, timeframe) bucket.
// OpenTime is the bucket start, aligned to the timeframe period.
// An open candle (Closed=false) is mutated in place by its aggregator only;
// once Closed it is never modified.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange,omitempty"`
	TF       Timeframe `json:"timeframe"`
	OpenTime time.Time `json:"timestamp"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Ticks    int       `json:"ticks,omitempty"`
	Closed   bool      `json:"closed"`
}

// Key returns "symbol:tf".
func (c *Candle) Key() string {
	return SeriesKey(c.Symbol, c.TF)
}

// CloseTime returns the exclusive end of the candle's bucket.
func (c *Candle) CloseTime() time.Time {
	return c.OpenTime.Add(c.TF.Duration())
}

// Valid reports whether the OHLC relations hold.
func (c *Candle) Valid() bool {
	if c.Low > c.High {
		return false
	}
	if c.High < c.Open || c.High < c.Close {
		return false
	}
	if c.Low > c.Open || c.Low > c.Close {
		return false
	}
	return c.Volume >= 0
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// SeriesKey is the canonical "symbol:tf" key used by windows, subscriptions and streams.
func SeriesKey(symbol string, tf Timeframe) string {
	return symbol + ":" + tf.String()
}
