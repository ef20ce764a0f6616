package indicator

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

func registerMomentum(r *Registry) {
	r.MustRegister(Def{
		Name: "rsi", Family: FamilyMomentum,
		Description: "Relative strength index (Wilder)",
		Params:      []Param{period("period", 14)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(0),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(runStreaming(NewRSI(ip(p, 0)), in.Close))
		},
	})
	r.MustRegister(Def{
		Name: "stoch", Family: FamilyMomentum,
		Description: "Slow stochastic oscillator; undefined while the fast_k high-low range is flat",
		Params: []Param{
			period("fast_k", 14),
			{Name: "slow_k", Default: 3, Min: 1, Max: maxPeriod, Integer: true},
			{Name: "slow_d", Default: 3, Min: 1, Max: maxPeriod, Integer: true},
		},
		Outputs: []string{"k", "d"},
		Lookback: func(p []float64) int {
			return ip(p, 0) - 1 + ip(p, 1) - 1 + ip(p, 2) - 1
		},
		Compute: func(in Input, p []float64) [][]float64 {
			k, d := talib.Stoch(in.High, in.Low, in.Close, ip(p, 0), ip(p, 1), talib.SMA, ip(p, 2), talib.SMA)
			flat := flatRange(in, ip(p, 0))
			kFlat := widen(flat, ip(p, 1))
			return [][]float64{undefinedWhere(k, kFlat), undefinedWhere(d, widen(kFlat, ip(p, 2)))}
		},
	})
	r.MustRegister(Def{
		Name: "cci", Family: FamilyMomentum,
		Description: "Commodity channel index",
		Params:      []Param{period("period", 20)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Cci(in.High, in.Low, in.Close, ip(p, 0)))
		},
	})
	r.MustRegister(Def{
		Name: "willr", Family: FamilyMomentum,
		Description: "Williams %R; undefined while the high-low range is flat",
		Params:      []Param{period("period", 14)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(undefinedWhere(talib.WillR(in.High, in.Low, in.Close, ip(p, 0)), flatRange(in, ip(p, 0))))
		},
	})
	r.MustRegister(Def{
		Name: "roc", Family: FamilyMomentum,
		Description: "Rate of change in percent",
		Params:      []Param{period("period", 10)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(0),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Roc(in.Close, ip(p, 0)))
		},
	})
	r.MustRegister(Def{
		Name: "mom", Family: FamilyMomentum,
		Description: "Momentum (close minus close n bars ago)",
		Params:      []Param{period("period", 10)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(0),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Mom(in.Close, ip(p, 0)))
		},
	})
}

// flatRange marks bars whose trailing n-bar high equals the low. Range-based
// oscillators have no reading there.
func flatRange(in Input, n int) []bool {
	out := make([]bool, in.Len())
	for i := n - 1; i < in.Len(); i++ {
		hi, lo := in.High[i], in.Low[i]
		for j := i - n + 1; j < i; j++ {
			hi = math.Max(hi, in.High[j])
			lo = math.Min(lo, in.Low[j])
		}
		out[i] = hi == lo
	}
	return out
}

// widen marks bar i when any of the w bars ending at i is marked, so a
// smoothed value that averages a flat bar is undefined too.
func widen(mask []bool, w int) []bool {
	out := make([]bool, len(mask))
	last := -w
	for i, m := range mask {
		if m {
			last = i
		}
		out[i] = i-last < w
	}
	return out
}

// undefinedWhere replaces masked values with NaN, which the engine treats as
// the start of a new series.
func undefinedWhere(vals []float64, mask []bool) []float64 {
	for i := range vals {
		if i < len(mask) && mask[i] {
			vals[i] = math.NaN()
		}
	}
	return vals
}
