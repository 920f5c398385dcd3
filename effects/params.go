// Package effects provides the per-layer visual effect runtime: a
// process-wide registry of effect types, per-layer instances with ordered
// parameter lists and solo/bypass flags, and the GPU pipelines that apply
// them through ping-pong render targets.
package effects

import "math"

// ParamKind distinguishes numeric sliders from enumerated choices.
type ParamKind int

const (
	// ParamNumber is a float parameter with a [Min, Max] range.
	ParamNumber ParamKind = iota

	// ParamEnum is an index into Options.
	ParamEnum
)

// Parameter is one effect parameter: a declared default with a range, and
// a current value. Values outside the declared range are clamped, never
// rejected.
type Parameter struct {
	Name    string
	Kind    ParamKind
	Value   float64
	Default float64
	Min     float64
	Max     float64
	// Options holds the enum labels for ParamEnum.
	Options []string
}

// Clamp returns v limited to the parameter's declared range. For enums the
// range is [0, len(Options)-1] with the index truncated toward zero.
// Clamping is idempotent.
func (p *Parameter) Clamp(v float64) float64 {
	if p.Kind == ParamEnum {
		n := float64(len(p.Options) - 1)
		if n < 0 {
			return 0
		}
		v = math.Trunc(v)
		if v < 0 {
			return 0
		}
		if v > n {
			return n
		}
		return v
	}
	if p.Max > p.Min {
		if v < p.Min {
			return p.Min
		}
		if v > p.Max {
			return p.Max
		}
	}
	return v
}

// Set updates the value, clamping into range.
func (p *Parameter) Set(v float64) { p.Value = p.Clamp(v) }

// cloneParams deep-copies a parameter list so instances never share
// mutable state with the registry's defaults.
func cloneParams(src []Parameter) []Parameter {
	out := make([]Parameter, len(src))
	copy(out, src)
	for i := range out {
		if len(src[i].Options) > 0 {
			out[i].Options = append([]string(nil), src[i].Options...)
		}
	}
	return out
}

// findParam returns the named parameter, or nil.
func findParam(params []Parameter, name string) *Parameter {
	for i := range params {
		if params[i].Name == name {
			return &params[i]
		}
	}
	return nil
}
