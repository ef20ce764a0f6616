package indicator

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

func registerStatistical(r *Registry) {
	r.MustRegister(Def{
		Name: "variance", Family: FamilyStatistical,
		Description: "Rolling population variance of close",
		Params:      []Param{period("period", 20)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.Var(in.Close, ip(p, 0)))
		},
	})
	r.MustRegister(Def{
		Name: "linreg_slope", Family: FamilyStatistical,
		Description: "Slope of the least-squares line through close",
		Params:      []Param{period("period", 14)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(talib.LinearRegSlope(in.Close, ip(p, 0)))
		},
	})
	r.MustRegister(Def{
		Name: "zscore", Family: FamilyStatistical,
		Description: "Distance of close from its rolling mean in standard deviations",
		Params:      []Param{period("period", 20)},
		Outputs:     []string{"value"},
		Lookback:    periodLookback(-1),
		Compute: func(in Input, p []float64) [][]float64 {
			return single(zscore(in.Close, ip(p, 0)))
		},
	})
}

// zscore is 0 where the window has no dispersion.
func zscore(x []float64, n int) []float64 {
	out := make([]float64, len(x))
	for i := n - 1; i < len(x); i++ {
		var sum, sq float64
		for _, v := range x[i-n+1 : i+1] {
			sum += v
			sq += v * v
		}
		mean := sum / float64(n)
		variance := sq/float64(n) - mean*mean
		if variance <= 1e-12 {
			continue
		}
		out[i] = (x[i] - mean) / math.Sqrt(variance)
	}
	return out
}
