package indicator

import talib "github.com/markcheno/go-talib"

func registerVolume(r *Registry) {
	r.MustRegister(Def{
		Name: "obv", Family: FamilyVolume,
		Description: "On-balance volume",
		Outputs:     []string{"value"},
		Lookback:    fixedLookback(0),
		Compute: func(in Input, _ []float64) [][]float64 {
			return single(talib.Obv(in.Close, in.Volume))
		},
	})
	r.MustRegister(Def{
		Name: "ad", Family: FamilyVolume,
		Description: "Chaikin accumulation/distribution line",
		Outputs:     []string{"value"},
		Lookback:    fixedLookback(0),
		Compute: func(in Input, _ []float64) [][]float64 {
			return single(talib.Ad(in.High, in.Low, in.Close, in.Volume))
		},
	})
	r.MustRegister(Def{
		Name: "mfi", Family: FamilyVolume,
		Description: "Money flow index",
		Params:      []Param{period("period", 14)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(0),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Mfi(in.High, in.Low, in.Close, in.Volume, ip(p, 0)))
		},
	})
	r.MustRegister(Def{
		Name: "vwap", Family: FamilyVolume,
		Description: "Volume weighted typical price; period 0 accumulates over the whole window",
		Params:      []Param{{Name: "period", Default: 0, Min: 0, Max: maxPeriod, Integer: true}},
		Outputs:     []string{"value"},
		Lookback: func(p []float64) int {
			if ip(p, 0) == 0 {
				return 0
			}
			return ip(p, 0) - 1
		},
		Compute: func(in Input, p []float64) [][]float64 {
			return single(vwap(in, ip(p, 0)))
		},
	})
	r.MustRegister(Def{
		Name: "volume_sma", Family: FamilyVolume,
		Description: "Simple moving average of volume",
		Params:      []Param{period("period", 20)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Sma(in.Volume, ip(p, 0)))
		},
	})
}

// vwap over a rolling window of n bars, or cumulative when n == 0. A window
// with no volume falls back to the mean typical price.
func vwap(in Input, n int) []float64 {
	size := in.Len()
	out := make([]float64, size)
	tp := make([]float64, size)
	for i := range tp {
		tp[i] = (in.High[i] + in.Low[i] + in.Close[i]) / 3
	}

	var pv, vol, tpSum float64
	for i := 0; i < size; i++ {
		pv += tp[i] * in.Volume[i]
		vol += in.Volume[i]
		tpSum += tp[i]
		count := i + 1
		if n > 0 && i >= n {
			j := i - n
			pv -= tp[j] * in.Volume[j]
			vol -= in.Volume[j]
			tpSum -= tp[j]
			count = n
		}
		if n > 0 && i < n-1 {
			continue
		}
		if vol > 0 {
			out[i] = pv / vol
		} else {
			out[i] = tpSum / float64(count)
		}
	}
	return out
}
