package indicator

import (
	"fmt"
	"math"
	"sort"

	"tickinsight/internal/model"
)

// Param describes one positional parameter.
type Param struct {
	Name    string  `json:"name"`
	Default float64 `json:"default"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Integer bool    `json:"integer"`
}

// ComputeFunc returns one full-length slice per output. Values before the
// lookback are ignored by the engine. It must not modify in.
type ComputeFunc func(in Input, p []float64) [][]float64

// Def is a registered indicator.
type Def struct {
	Name        string              `json:"name"`
	Family      Family              `json:"family"`
	Description string              `json:"description"`
	Params      []Param             `json:"params"`
	Outputs     []string            `json:"outputs"`
	Lookback    func([]float64) int `json:"-"`
	Compute     ComputeFunc         `json:"-"`
}

// Registry maps indicator names to definitions. Built once at startup and
// read-only afterwards.
type Registry struct {
	defs map[string]*Def
}

// NewRegistry returns a registry holding the full built-in catalog.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]*Def, 40)}
	registerTrend(r)
	registerMomentum(r)
	registerVolatility(r)
	registerVolume(r)
	registerStatistical(r)
	registerPattern(r)
	return r
}

// MustRegister adds a definition and panics on a duplicate or incomplete def.
func (r *Registry) MustRegister(d Def) {
	if d.Name == "" || d.Compute == nil || d.Lookback == nil || len(d.Outputs) == 0 {
		panic(fmt.Sprintf("indicator: incomplete definition %q", d.Name))
	}
	if _, dup := r.defs[d.Name]; dup {
		panic(fmt.Sprintf("indicator: %q registered twice", d.Name))
	}
	def := d
	r.defs[d.Name] = &def
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (*Def, error) {
	d, ok := r.defs[name]
	if !ok {
		return nil, model.Errorf(model.KindUnknownIndicator, "unknown indicator %q", name)
	}
	return d, nil
}

// Resolve looks the spec up and returns its full parameter list (given values
// followed by defaults), validated against each parameter's bounds.
func (r *Registry) Resolve(s Spec) (*Def, []float64, error) {
	d, err := r.Lookup(s.Name)
	if err != nil {
		return nil, nil, err
	}
	if len(s.Params) > len(d.Params) {
		return nil, nil, model.Errorf(model.KindMalformedInput, "%s takes at most %d parameters, got %d",
			d.Name, len(d.Params), len(s.Params))
	}
	params := make([]float64, len(d.Params))
	for i, p := range d.Params {
		v := p.Default
		if i < len(s.Params) {
			v = s.Params[i]
		}
		if math.IsNaN(v) || v < p.Min || v > p.Max {
			return nil, nil, model.Errorf(model.KindMalformedInput, "%s: %s=%v out of range [%v, %v]",
				d.Name, p.Name, v, p.Min, p.Max)
		}
		if p.Integer && v != math.Trunc(v) {
			return nil, nil, model.Errorf(model.KindMalformedInput, "%s: %s must be an integer", d.Name, p.Name)
		}
		params[i] = v
	}
	return d, params, nil
}

// Catalog lists every definition, ordered by family then name.
func (r *Registry) Catalog() []Def {
	out := make([]Def, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of registered indicators.
func (r *Registry) Len() int { return len(r.defs) }

// ── helpers shared by the family tables ──

const maxPeriod = 1000

func period(name string, def float64) Param {
	return Param{Name: name, Default: def, Min: 2, Max: maxPeriod, Integer: true}
}

func ip(p []float64, i int) int { return int(p[i]) }

func fixedLookback(n int) func([]float64) int {
	return func([]float64) int { return n }
}

// periodLookback returns p[0] + offset.
func periodLookback(offset int) func([]float64) int {
	return func(p []float64) int { return int(p[0]) + offset }
}

func single(out []float64) [][]float64 { return [][]float64{out} }
