package indicator

import (
	"math"
	"time"

	"tickinsight/internal/model"
)

// Engine evaluates registered indicators over candle slices. Stateless and
// safe for concurrent use.
type Engine struct {
	reg *Registry
}

// NewEngine creates an engine over reg.
func NewEngine(reg *Registry) *Engine {
	return &Engine{reg: reg}
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.reg }

// Compute evaluates one indicator. With too few candles the series is
// truncated (possibly to zero values); that is not an error.
func (e *Engine) Compute(candles []model.Candle, spec Spec) (Series, error) {
	return e.compute(InputFrom(candles), spec)
}

// ComputeMany evaluates every spec over one shared copy of the candles.
// Failed specs are reported in errs keyed by the spec as given and do not
// stop the others.
func (e *Engine) ComputeMany(candles []model.Candle, specs []Spec) (series []Series, errs map[string]error) {
	in := InputFrom(candles)
	series = make([]Series, 0, len(specs))
	for _, s := range specs {
		out, err := e.compute(in, s)
		if err != nil {
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[s.Key()] = err
			continue
		}
		series = append(series, out)
	}
	return series, errs
}

// ComputeLatest returns the newest value per spec key: a float64, a
// []float64 for multi-output indicators, or nil while data is insufficient.
func (e *Engine) ComputeLatest(candles []model.Candle, specs []Spec) (map[string]any, map[string]error) {
	series, errs := e.ComputeMany(candles, specs)
	out := make(map[string]any, len(series))
	for i := range series {
		v, ok := series[i].Latest()
		if !ok {
			out[series[i].Key] = nil
			continue
		}
		out[series[i].Key] = v
	}
	return out, errs
}

func (e *Engine) compute(in Input, spec Spec) (Series, error) {
	def, params, err := e.reg.Resolve(spec)
	if err != nil {
		return Series{}, err
	}

	s := Series{
		Key:     spec.Key(),
		Name:    def.Name,
		Family:  def.Family,
		Params:  params,
		Outputs: make([]Output, len(def.Outputs)),
	}
	for i, name := range def.Outputs {
		s.Outputs[i] = Output{Name: name, Values: []float64{}}
	}

	lb := def.Lookback(params)
	if lb < 0 {
		lb = 0
	}
	n := in.Len()
	if n <= lb {
		s.Times = []time.Time{}
		return s, nil
	}

	raw := def.Compute(in, params)
	// A non-finite value (flat window, zero range) has no meaningful reading;
	// the series restarts after the last one, same as insufficient data.
	from := lb
	for i := range s.Outputs {
		for j := n - 1; j >= from; j-- {
			if v := raw[i][j]; math.IsNaN(v) || math.IsInf(v, 0) {
				from = j + 1
				break
			}
		}
	}
	for i := range s.Outputs {
		s.Outputs[i].Values = raw[i][from:n]
	}
	s.Times = in.Times[from:n]
	return s, nil
}
