package indicator

import (
	"strconv"
	"strings"

	"tickinsight/internal/model"
)

// Spec names an indicator with optional positional parameters.
// "rsi:14" → {Name: "rsi", Params: [14]}; "macd" uses registry defaults.
type Spec struct {
	Name   string
	Params []float64
}

// ParseSpec parses "name" or "name:p1,p2,...". Only syntax is checked here;
// unknown names surface when the spec is resolved against a Registry.
func ParseSpec(s string) (Spec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Spec{}, model.Errorf(model.KindMalformedInput, "empty indicator spec")
	}
	name, rest, hasParams := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if !validName(name) {
		return Spec{}, model.Errorf(model.KindMalformedInput, "indicator spec %q has no valid name", s)
	}
	spec := Spec{Name: name}
	if !hasParams {
		return spec, nil
	}
	for _, p := range strings.Split(rest, ",") {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Spec{}, model.Errorf(model.KindMalformedInput, "indicator spec %q: bad parameter %q", s, p)
		}
		spec.Params = append(spec.Params, v)
	}
	return spec, nil
}

// validName accepts [a-z][a-z0-9_]*.
func validName(s string) bool {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// MustSpec is ParseSpec for literals.
func MustSpec(s string) Spec {
	spec, err := ParseSpec(s)
	if err != nil {
		panic(err)
	}
	return spec
}

// ParseSpecList splits a list such as "rsi:14,macd:12,26,9;ema:50". Both ';'
// and ',' separate specs; a bare number after a comma continues the previous
// spec's parameter list.
func ParseSpecList(s string) ([]Spec, error) {
	var raw []string
	for _, group := range strings.Split(s, ";") {
		for _, tok := range strings.Split(group, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if _, err := strconv.ParseFloat(tok, 64); err == nil && len(raw) > 0 && strings.Contains(raw[len(raw)-1], ":") {
				raw[len(raw)-1] += "," + tok
				continue
			}
			raw = append(raw, tok)
		}
	}
	specs := make([]Spec, 0, len(raw))
	for _, r := range raw {
		spec, err := ParseSpec(r)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Key returns the canonical form used as a map key and on the wire.
func (s Spec) Key() string {
	if len(s.Params) == 0 {
		return s.Name
	}
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte(':')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(p, 'f', -1, 64))
	}
	return b.String()
}

func (s Spec) String() string { return s.Key() }

// ValidateSpecs resolves every spec against reg and returns the first error.
func ValidateSpecs(reg *Registry, specs []Spec) error {
	for _, s := range specs {
		if _, _, err := reg.Resolve(s); err != nil {
			return err
		}
	}
	return nil
}

// CanonicalKeys parses and canonicalizes indicator names, returning the
// first error.
func CanonicalKeys(reg *Registry, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		spec, err := ParseSpec(n)
		if err != nil {
			return nil, err
		}
		if _, _, err := reg.Resolve(spec); err != nil {
			return nil, err
		}
		out = append(out, spec.Key())
	}
	return out, nil
}
