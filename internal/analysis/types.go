package analysis

import (
	"errors"
	"math"
)

var (
	// ErrDataUnavailable is returned when a student has no records of any kind in the lookback window.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrConfiguration is returned when calibration or catalog data is malformed.
	ErrConfiguration = errors.New("configuration error")
)

// Dimension names one axis of the state vector
type Dimension string

const (
	DimEngagement Dimension = "engagement"
	DimMastery    Dimension = "mastery"
	DimStability  Dimension = "stability"
	DimSupport    Dimension = "support"
	DimLoad       Dimension = "load"
	DimWarning    Dimension = "warning"
)

// Dimensions lists every dimension in vector order
var Dimensions = []Dimension{DimEngagement, DimMastery, DimStability, DimSupport, DimLoad, DimWarning}

// Valid reports whether d is a known dimension
func (d Dimension) Valid() bool {
	switch d {
	case DimEngagement, DimMastery, DimStability, DimSupport, DimLoad, DimWarning:
		return true
	}
	return false
}

// Favorable reports whether a higher value is better for the student.
// Load and Warning are adverse dimensions.
func (d Dimension) Favorable() bool {
	return d != DimLoad && d != DimWarning
}

// Label returns the display name used in rationales
func (d Dimension) Label() string {
	switch d {
	case DimEngagement:
		return "Engagement"
	case DimMastery:
		return "Mastery"
	case DimStability:
		return "Stability"
	case DimSupport:
		return "Support"
	case DimLoad:
		return "Load"
	case DimWarning:
		return "Warning"
	}
	return string(d)
}

// StateVector is the normalized six-dimension snapshot of a student.
// Every field is in [0,1]. W is derived from the other five.
type StateVector struct {
	E float64 `json:"E"`
	M float64 `json:"M"`
	S float64 `json:"S"`
	P float64 `json:"P"`
	L float64 `json:"L"`
	W float64 `json:"W"`
}

// NeutralState is the vector produced when no evidence is available
var NeutralState = StateVector{E: 0.5, M: 0.5, S: 0.5, P: 0.5, L: 0.5, W: 0}

// Get returns the value of a dimension
func (v StateVector) Get(d Dimension) float64 {
	switch d {
	case DimEngagement:
		return v.E
	case DimMastery:
		return v.M
	case DimStability:
		return v.S
	case DimSupport:
		return v.P
	case DimLoad:
		return v.L
	case DimWarning:
		return v.W
	}
	return 0
}

// Pressure returns how adverse a dimension currently is, in [0,1]
func (v StateVector) Pressure(d Dimension) float64 {
	if d.Favorable() {
		return 1 - v.Get(d)
	}
	return v.Get(d)
}

// Clamped returns a copy with every dimension clamped to [0,1] and non-finite values neutralized
func (v StateVector) Clamped() StateVector {
	return StateVector{
		E: unit(v.E, 0.5),
		M: unit(v.M, 0.5),
		S: unit(v.S, 0.5),
		P: unit(v.P, 0.5),
		L: unit(v.L, 0.5),
		W: unit(v.W, 0),
	}
}

func unit(x, fallback float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fallback
	}
	return clip(x, 0, 1)
}

// Band is the categorical performance label derived from risk
type Band string

const (
	BandThriving Band = "THRIVING"
	BandStable   Band = "STABLE"
	BandAtRisk   Band = "AT_RISK"
	BandCritical Band = "CRITICAL"
)

// Bands lists bands from best to worst
var Bands = []Band{BandThriving, BandStable, BandAtRisk, BandCritical}

// Severity orders bands; higher is worse
func (b Band) Severity() int {
	for i, band := range Bands {
		if band == b {
			return i
		}
	}
	return -1
}

// RiskAssessment is the scorer output
type RiskAssessment struct {
	Risk         int           `json:"risk"`
	Band         Band          `json:"performance_band"`
	State        StateVector   `json:"state"`
	Contributors []Contributor `json:"contributors,omitempty"`
}
