// Package levels finds support and resistance zones from swing points and
// computes classic pivot levels. Everything here is a pure function of the
// candles passed in.
package levels

import (
	"math"
	"sort"

	talib "github.com/markcheno/go-talib"

	"tickinsight/internal/model"
)

// Detector holds the swing and clustering parameters.
type Detector struct {
	K               int     // neighbours on each side a swing must beat
	Tolerance       float64 // cluster distance as a fraction of ATR
	ATRPeriod       int
	RecencyWeighted bool
}

// DefaultDetector returns k=3, half an ATR(14) tolerance, plain touch counts.
func DefaultDetector() Detector {
	return Detector{K: 3, Tolerance: 0.5, ATRPeriod: 14}
}

// Result is one detection run. Lists are ranked strongest first.
type Result struct {
	Support     []model.Level `json:"support"`
	Resistance  []model.Level `json:"resistance"`
	Price       float64       `json:"price"`
	CandlesUsed int           `json:"candles_used"`
	Tolerance   float64       `json:"tolerance"`
	Swings      int           `json:"swings"`
}

// Detect runs over the last lookback candles (all when lookback <= 0). The
// current price is the last close. Fewer than 2k+1 candles yields empty lists.
func (d Detector) Detect(candles []model.Candle, lookback int) Result {
	if lookback > 0 && lookback < len(candles) {
		candles = candles[len(candles)-lookback:]
	}
	k := d.K
	if k < 1 {
		k = 1
	}
	res := Result{
		Support:     []model.Level{},
		Resistance:  []model.Level{},
		CandlesUsed: len(candles),
	}
	if len(candles) == 0 {
		return res
	}
	res.Price = candles[len(candles)-1].Close
	if len(candles) < 2*k+1 {
		return res
	}

	highs, lows := FindSwings(candles, k)
	res.Swings = len(highs) + len(lows)
	res.Tolerance = d.Tolerance * d.volatility(candles)

	n := len(candles)
	for _, lv := range cluster(highs, res.Tolerance, n, d.RecencyWeighted) {
		if lv.Price > res.Price {
			lv.Kind = model.Resistance
			res.Resistance = append(res.Resistance, lv)
		}
	}
	for _, lv := range cluster(lows, res.Tolerance, n, d.RecencyWeighted) {
		if lv.Price < res.Price {
			lv.Kind = model.Support
			res.Support = append(res.Support, lv)
		}
	}
	rank(res.Resistance, res.Price)
	rank(res.Support, res.Price)
	return res
}

// volatility is ATR(period) when enough bars exist, else the mean bar range.
func (d Detector) volatility(candles []model.Candle) float64 {
	p := d.ATRPeriod
	if p < 1 {
		p = 14
	}
	n := len(candles)
	if n > p {
		h := make([]float64, n)
		l := make([]float64, n)
		c := make([]float64, n)
		for i := range candles {
			h[i], l[i], c[i] = candles[i].High, candles[i].Low, candles[i].Close
		}
		atr := talib.Atr(h, l, c, p)
		if v := atr[n-1]; v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	}
	var sum float64
	for i := range candles {
		sum += candles[i].High - candles[i].Low
	}
	return sum / float64(n)
}

// rank orders by strength desc, then most recent touch, then closeness to price.
func rank(levels []model.Level, price float64) {
	sort.SliceStable(levels, func(i, j int) bool {
		a, b := levels[i], levels[j]
		if a.Strength != b.Strength {
			return a.Strength > b.Strength
		}
		if a.LastTouchIndex != b.LastTouchIndex {
			return a.LastTouchIndex > b.LastTouchIndex
		}
		return math.Abs(a.Price-price) < math.Abs(b.Price-price)
	})
}

// Nearest merges support and resistance and returns the n levels closest to
// price, ignoring strength except as a tie-break. n <= 0 returns all.
func Nearest(res Result, price float64, n int) []model.Level {
	all := make([]model.Level, 0, len(res.Support)+len(res.Resistance))
	all = append(all, res.Resistance...)
	all = append(all, res.Support...)
	sort.SliceStable(all, func(i, j int) bool {
		di, dj := math.Abs(all[i].Price-price), math.Abs(all[j].Price-price)
		if di != dj {
			return di < dj
		}
		return all[i].Strength > all[j].Strength
	})
	if n > 0 && n < len(all) {
		all = all[:n]
	}
	return all
}
