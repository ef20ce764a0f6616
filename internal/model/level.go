package model

import "time"

// SwingKind tells whether a swing point or level comes from highs or lows.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint is a local extremum found during detection. Transient.
type SwingPoint struct {
	Index int       `json:"index"`
	Price float64   `json:"price"`
	Kind  SwingKind `json:"kind"`
	Time  time.Time `json:"time"`
}

// LevelKind is support or resistance.
type LevelKind string

const (
	Support    LevelKind = "support"
	Resistance LevelKind = "resistance"
)

// Level is a clustered price zone. Strength is the touch count, or the
// recency-weighted touch sum when weighting is enabled.
type Level struct {
	Price          float64   `json:"price"`
	Kind           LevelKind `json:"kind"`
	Strength       float64   `json:"strength"`
	Touches        int       `json:"touches"`
	LastTouchIndex int       `json:"last_touch_index"`
	LastTouchTime  time.Time `json:"last_touch_time"`
	Low            float64   `json:"zone_low"`
	High           float64   `json:"zone_high"`
}

// Subscription is one (symbol, timeframe, indicators) interest of a stream client.
type Subscription struct {
	ClientID   string    `json:"client_id"`
	Symbol     string    `json:"symbol"`
	TF         Timeframe `json:"timeframe"`
	Indicators []string  `json:"indicators"`
}

// Key returns "symbol:tf".
func (s *Subscription) Key() string {
	return SeriesKey(s.Symbol, s.TF)
}
