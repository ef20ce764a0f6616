package indicator

import talib "github.com/markcheno/go-talib"

func registerVolatility(r *Registry) {
	r.MustRegister(Def{
		Name: "atr", Family: FamilyVolatility,
		Description: "Average true range",
		Params:      []Param{period("period", 14)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(0),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Atr(in.High, in.Low, in.Close, ip(p, 0)))
		},
	})
	r.MustRegister(Def{
		Name: "natr", Family: FamilyVolatility,
		Description: "Normalized average true range in percent of close; undefined at a zero close",
		Params:      []Param{period("period", 14)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(0),
		Compute: func(in Input, p []float64) [][]float64 {
			zero := make([]bool, in.Len())
			for i, c := range in.Close {
				zero[i] = c == 0
			}
			return single(undefinedWhere(talib.Natr(in.High, in.Low, in.Close, ip(p, 0)), zero))
		},
	})
	r.MustRegister(Def{
		Name: "bbands", Family: FamilyVolatility,
		Description: "Bollinger bands around an SMA of close",
		Params: []Param{
			period("period", 20),
			{Name: "stddev", Default: 2, Min: 0.1, Max: 10},
		},
		Outputs:  []string{"upper", "middle", "lower"},
		Lookback: periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			upper, middle, lower := talib.BBands(in.Close, ip(p, 0), p[1], p[1], talib.SMA)
			return [][]float64{upper, middle, lower}
		},
	})
	r.MustRegister(Def{
		Name: "stddev", Family: FamilyVolatility,
		Description: "Rolling standard deviation of close",
		Params:      []Param{period("period", 20)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.StdDev(in.Close, ip(p, 0), 1))
		},
	})
}
