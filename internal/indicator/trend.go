package indicator

import talib "github.com/markcheno/go-talib"

// runStreaming feeds closes through an incremental indicator and returns a
// full-length series (zeros until Ready).
func runStreaming(ind Streaming, closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i, c := range closes {
		ind.Update(c)
		if ind.Ready() {
			out[i] = ind.Value()
		}
	}
	return out
}

func registerTrend(r *Registry) {
	r.MustRegister(Def{
		Name: "sma", Family: FamilyTrend,
		Description: "Simple moving average of close",
		Params:      []Param{period("period", 20)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(runStreaming(NewSMA(ip(p, 0)), in.Close))
		},
	})
	r.MustRegister(Def{
		Name: "ema", Family: FamilyTrend,
		Description: "Exponential moving average of close, SMA seeded",
		Params:      []Param{period("period", 20)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(runStreaming(NewEMA(ip(p, 0)), in.Close))
		},
	})
	r.MustRegister(Def{
		Name: "smma", Family: FamilyTrend,
		Description: "Smoothed (Wilder) moving average of close",
		Params:      []Param{period("period", 14)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(runStreaming(NewSMMA(ip(p, 0)), in.Close))
		},
	})
	r.MustRegister(Def{
		Name: "wma", Family: FamilyTrend,
		Description: "Linearly weighted moving average of close",
		Params:      []Param{period("period", 20)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Wma(in.Close, ip(p, 0)))
		},
	})
	r.MustRegister(Def{
		Name: "dema", Family: FamilyTrend,
		Description: "Double exponential moving average",
		Params:      []Param{period("period", 20)},
		Outputs:     []string{"value"},
		Lookback:    func(p []float64) int { return 2 * (ip(p, 0) - 1) },
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Dema(in.Close, ip(p, 0)))
		},
	})
	r.MustRegister(Def{
		Name: "tema", Family: FamilyTrend,
		Description: "Triple exponential moving average",
		Params:      []Param{period("period", 20)},
		Outputs:     []string{"value"},
		Lookback:    func(p []float64) int { return 3 * (ip(p, 0) - 1) },
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Tema(in.Close, ip(p, 0)))
		},
	})
	r.MustRegister(Def{
		Name: "macd", Family: FamilyTrend,
		Description: "Moving average convergence/divergence",
		Params:      []Param{period("fast", 12), period("slow", 26), period("signal", 9)},
		Outputs:     []string{"macd", "signal", "hist"},
		Lookback: func(p []float64) int {
			slow := ip(p, 1)
			if f := ip(p, 0); f > slow {
				slow = f
			}
			return slow - 1 + ip(p, 2) - 1
		},
		Compute: func(in Input, p []float64) [][]float64 {
			m, s, h := talib.Macd(in.Close, ip(p, 0), ip(p, 1), ip(p, 2))
			return [][]float64{m, s, h}
		},
	})
	r.MustRegister(Def{
		Name: "adx", Family: FamilyTrend,
		Description: "Average directional index",
		Params:      []Param{period("period", 14)},
		Outputs:     []string{"value"},
		Lookback:    func(p []float64) int { return 2*ip(p, 0) - 1 },
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Adx(in.High, in.Low, in.Close, ip(p, 0)))
		},
	})
	r.MustRegister(Def{
		Name: "sar", Family: FamilyTrend,
		Description: "Parabolic stop and reverse",
		Params: []Param{
			{Name: "acceleration", Default: 0.02, Min: 0.001, Max: 1},
			{Name: "maximum", Default: 0.2, Min: 0.001, Max: 1},
		},
		Outputs:  []string{"value"},
		Lookback: fixedLookback(1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Sar(in.High, in.Low, p[0], p[1]))
		},
	})
	r.MustRegister(Def{
		Name: "aroon", Family: FamilyTrend,
		Description: "Aroon up/down",
		Params:      []Param{period("period", 14)},
		Outputs:     []string{"down", "up"},
		Lookback:    periodLookback(0),
		Compute: func(in Input, p []float64) [][]float64 {
			down, up := talib.Aroon(in.High, in.Low, ip(p, 0))
			return [][]float64{down, up}
		},
	})
}
