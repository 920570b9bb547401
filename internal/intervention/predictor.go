package intervention

import (
	"fmt"
	"math"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
)

// Predictor estimates how many risk points a candidate removes for a given state
type Predictor interface {
	Predict(state analysis.StateVector, risk int) float64
}

// PredictorFunc adapts a plain function to Predictor
type PredictorFunc func(state analysis.StateVector, risk int) float64

// Predict calls f(state, risk)
func (f PredictorFunc) Predict(state analysis.StateVector, risk int) float64 {
	return f(state, risk)
}

// Predictor kinds accepted in catalog files
const (
	KindConstant  = "constant"
	KindDeficit   = "deficit"
	KindExcess    = "excess"
	KindRiskAbove = "risk_above"
	KindWarning   = "warning"
)

// PredictorSpec is the declarative form of a built-in predictor
type PredictorSpec struct {
	Kind      string             `yaml:"kind" json:"kind"`
	Dimension analysis.Dimension `yaml:"dimension,omitempty" json:"dimension,omitempty"`
	Threshold float64            `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Scale     float64            `yaml:"scale,omitempty" json:"scale,omitempty"`
	Floor     int                `yaml:"floor,omitempty" json:"floor,omitempty"`
	Fraction  float64            `yaml:"fraction,omitempty" json:"fraction,omitempty"`
	Drop      float64            `yaml:"drop,omitempty" json:"drop,omitempty"`
}

// Constant predicts the same drop for every state
type Constant struct {
	Drop float64
}

func (c Constant) Predict(analysis.StateVector, int) float64 { return c.Drop }

// Deficit scales with how far a favorable dimension sits below a threshold
type Deficit struct {
	Dimension analysis.Dimension
	Threshold float64
	Scale     float64
}

func (d Deficit) Predict(state analysis.StateVector, _ int) float64 {
	gap := d.Threshold - state.Get(d.Dimension)
	if gap <= 0 {
		return 0
	}
	return d.Scale * gap / d.Threshold
}

// Excess scales with how far an adverse dimension sits above a threshold
type Excess struct {
	Dimension analysis.Dimension
	Threshold float64
	Scale     float64
}

func (e Excess) Predict(state analysis.StateVector, _ int) float64 {
	over := state.Get(e.Dimension) - e.Threshold
	if over <= 0 {
		return 0
	}
	return e.Scale * over / (1 - e.Threshold)
}

// RiskAbove removes a fraction of the risk above a floor
type RiskAbove struct {
	Floor    int
	Fraction float64
}

func (r RiskAbove) Predict(_ analysis.StateVector, risk int) float64 {
	if risk <= r.Floor {
		return 0
	}
	return r.Fraction * float64(risk-r.Floor)
}

// WarningRelief scales with the compound warning level
type WarningRelief struct {
	Scale float64
}

func (w WarningRelief) Predict(state analysis.StateVector, _ int) float64 {
	return w.Scale * state.W
}

// Build turns a spec into a predictor, rejecting out-of-domain parameters
func (s PredictorSpec) Build() (Predictor, error) {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: predictor %s: %s", analysis.ErrConfiguration, s.Kind, fmt.Sprintf(format, args...))
	}
	finite := func(xs ...float64) bool {
		for _, x := range xs {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
		return true
	}
	if !finite(s.Threshold, s.Scale, s.Fraction, s.Drop) {
		return nil, bad("non-finite parameter")
	}

	switch s.Kind {
	case KindConstant:
		if s.Drop < 0 {
			return nil, bad("drop must be non-negative")
		}
		return Constant{Drop: s.Drop}, nil
	case KindDeficit:
		if !s.Dimension.Valid() || !s.Dimension.Favorable() {
			return nil, bad("dimension %q must be a favorable dimension", s.Dimension)
		}
		if s.Threshold <= 0 || s.Threshold > 1 {
			return nil, bad("threshold must be in (0,1]")
		}
		if s.Scale < 0 {
			return nil, bad("scale must be non-negative")
		}
		return Deficit{Dimension: s.Dimension, Threshold: s.Threshold, Scale: s.Scale}, nil
	case KindExcess:
		if !s.Dimension.Valid() {
			return nil, bad("unknown dimension %q", s.Dimension)
		}
		if s.Threshold < 0 || s.Threshold >= 1 {
			return nil, bad("threshold must be in [0,1)")
		}
		if s.Scale < 0 {
			return nil, bad("scale must be non-negative")
		}
		return Excess{Dimension: s.Dimension, Threshold: s.Threshold, Scale: s.Scale}, nil
	case KindRiskAbove:
		if s.Floor < 0 || s.Floor > 100 {
			return nil, bad("floor must be in [0,100]")
		}
		if s.Fraction < 0 || s.Fraction > 1 {
			return nil, bad("fraction must be in [0,1]")
		}
		return RiskAbove{Floor: s.Floor, Fraction: s.Fraction}, nil
	case KindWarning:
		if s.Scale < 0 {
			return nil, bad("scale must be non-negative")
		}
		return WarningRelief{Scale: s.Scale}, nil
	default:
		return nil, fmt.Errorf("%w: unknown predictor kind %q", analysis.ErrConfiguration, s.Kind)
	}
}
