package levels

import (
	"strings"
	"time"

	"tickinsight/internal/model"
)

// PivotVariant selects the pivot formula.
type PivotVariant string

const (
	Standard  PivotVariant = "standard"
	Fibonacci PivotVariant = "fibonacci"
	Woodie    PivotVariant = "woodie"
	Camarilla PivotVariant = "camarilla"
)

// ParseVariant accepts the variant names case-insensitively; "" is standard.
func ParseVariant(s string) (PivotVariant, error) {
	switch v := PivotVariant(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return Standard, nil
	case Standard, Fibonacci, Woodie, Camarilla:
		return v, nil
	default:
		return "", model.Errorf(model.KindMalformedInput, "unknown pivot variant %q", s)
	}
}

// Bar is one OHLC period the pivots are derived from.
type Bar struct {
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

// PivotLevel is one named pivot price.
type PivotLevel struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// PivotSet is the ordered output of Pivots.
type PivotSet struct {
	Variant PivotVariant `json:"variant"`
	Bar     Bar          `json:"bar"`
	Levels  []PivotLevel `json:"levels"`
}

// Get returns the named level.
func (p PivotSet) Get(name string) (float64, bool) {
	for _, l := range p.Levels {
		if l.Name == name {
			return l.Price, true
		}
	}
	return 0, false
}

// BarFrom folds the last lookback candles (at least 1) into one bar.
func BarFrom(candles []model.Candle, lookback int) (Bar, bool) {
	if len(candles) == 0 {
		return Bar{}, false
	}
	if lookback < 1 {
		lookback = 1
	}
	if lookback < len(candles) {
		candles = candles[len(candles)-lookback:]
	}
	first, last := candles[0], candles[len(candles)-1]
	b := Bar{
		Open:  first.Open,
		High:  first.High,
		Low:   first.Low,
		Close: last.Close,
		From:  first.OpenTime,
		To:    last.CloseTime(),
	}
	for _, c := range candles[1:] {
		if c.High > b.High {
			b.High = c.High
		}
		if c.Low < b.Low {
			b.Low = c.Low
		}
	}
	return b, true
}

// Pivots computes the levels of variant over bar. Output order is
// P R1 R2 R3 S1 S2 S3, with R4 and S4 added for camarilla.
func Pivots(bar Bar, variant PivotVariant) (PivotSet, error) {
	h, l, c := bar.High, bar.Low, bar.Close
	rng := h - l
	set := PivotSet{Variant: variant, Bar: bar}

	switch variant {
	case Standard, Woodie:
		p := (h + l + c) / 3
		if variant == Woodie {
			p = (h + l + 2*c) / 4
		}
		set.Levels = []PivotLevel{
			{"P", p},
			{"R1", 2*p - l}, {"R2", p + rng}, {"R3", h + 2*(p-l)},
			{"S1", 2*p - h}, {"S2", p - rng}, {"S3", l - 2*(h-p)},
		}
	case Fibonacci:
		p := (h + l + c) / 3
		set.Levels = []PivotLevel{
			{"P", p},
			{"R1", p + 0.382*rng}, {"R2", p + 0.618*rng}, {"R3", p + rng},
			{"S1", p - 0.382*rng}, {"S2", p - 0.618*rng}, {"S3", p - rng},
		}
	case Camarilla:
		p := (h + l + c) / 3
		k := rng * 1.1
		set.Levels = []PivotLevel{
			{"P", p},
			{"R1", c + k/12}, {"R2", c + k/6}, {"R3", c + k/4}, {"R4", c + k/2},
			{"S1", c - k/12}, {"S2", c - k/6}, {"S3", c - k/4}, {"S4", c - k/2},
		}
	default:
		return PivotSet{}, model.Errorf(model.KindMalformedInput, "unknown pivot variant %q", variant)
	}
	return set, nil
}
