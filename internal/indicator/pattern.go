package indicator

import "math"

// Pattern outputs are signals: 1 (bullish / present), -1 (bearish), 0 (none).
func registerPattern(r *Registry) {
	r.MustRegister(Def{
		Name: "doji", Family: FamilyPattern,
		Description: "Body no larger than a fraction of the range",
		Params:      []Param{{Name: "body_ratio", Default: 0.1, Min: 0, Max: 1}},
		Outputs:     []string{"signal"},
		Lookback:    fixedLookback(0),
		Compute: func(in Input, p []float64) [][]float64 {
			out := make([]float64, in.Len())
			for i := range out {
				body := math.Abs(in.Close[i] - in.Open[i])
				rng := in.High[i] - in.Low[i]
				if body <= p[0]*rng {
					out[i] = 1
				}
			}
			return single(out)
		},
	})
	r.MustRegister(Def{
		Name: "hammer", Family: FamilyPattern,
		Description: "Long lower shadow, small body near the high",
		Params:      []Param{{Name: "shadow_ratio", Default: 2, Min: 1, Max: 10}},
		Outputs:     []string{"signal"},
		Lookback:    fixedLookback(0),
		Compute: func(in Input, p []float64) [][]float64 {
			out := make([]float64, in.Len())
			for i := range out {
				rng := in.High[i] - in.Low[i]
				if rng <= 0 {
					continue
				}
				body := math.Abs(in.Close[i] - in.Open[i])
				lower := math.Min(in.Open[i], in.Close[i]) - in.Low[i]
				upper := in.High[i] - math.Max(in.Open[i], in.Close[i])
				if lower > 0 && lower >= p[0]*body && upper <= 0.1*rng {
					out[i] = 1
				}
			}
			return single(out)
		},
	})
	r.MustRegister(Def{
		Name: "engulfing", Family: FamilyPattern,
		Description: "Body engulfs the previous opposite-colored body",
		Outputs:     []string{"signal"},
		Lookback:    fixedLookback(1),
		Compute: func(in Input, _ []float64) [][]float64 {
			out := make([]float64, in.Len())
			for i := 1; i < len(out); i++ {
				po, pc := in.Open[i-1], in.Close[i-1]
				o, c := in.Open[i], in.Close[i]
				switch {
				case pc < po && c > o && o <= pc && c >= po:
					out[i] = 1
				case pc > po && c < o && o >= pc && c <= po:
					out[i] = -1
				}
			}
			return single(out)
		},
	})
}
