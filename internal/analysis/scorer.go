package analysis

import (
	"math"
	"sort"
)

// Contributor is one dimension's share of the raw risk
type Contributor struct {
	Dimension    Dimension `json:"dimension"`
	Contribution float64   `json:"contribution"`
}

// Scorer reduces a state vector to a 0..100 risk and a band
type Scorer struct {
	weights RiskWeights
	bands   BandThresholds
}

// NewScorer validates cal and returns a scorer using its weights and bands
func NewScorer(cal Calibration) (*Scorer, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: cal.Risk, bands: cal.Bands}, nil
}

// Bands returns the thresholds in use
func (s *Scorer) Bands() BandThresholds {
	return s.bands
}

// Score computes the risk assessment. Warning enters squared so it only
// dominates once several patterns fire.
func (s *Scorer) Score(v StateVector) RiskAssessment {
	v = v.Clamped()
	w := s.weights

	contribs := []Contributor{
		{Dimension: DimEngagement, Contribution: w.Engagement * (1 - v.E)},
		{Dimension: DimMastery, Contribution: w.Mastery * (1 - v.M)},
		{Dimension: DimStability, Contribution: w.Stability * (1 - v.S)},
		{Dimension: DimSupport, Contribution: w.Support * (1 - v.P)},
		{Dimension: DimLoad, Contribution: w.Load * v.L},
		{Dimension: DimWarning, Contribution: w.Warning * v.W * v.W},
	}

	raw := 0.0
	for _, c := range contribs {
		raw += c.Contribution
	}
	risk := int(math.Round(100 * clip(raw, 0, 1)))

	sort.SliceStable(contribs, func(i, j int) bool {
		return contribs[i].Contribution > contribs[j].Contribution
	})

	return RiskAssessment{
		Risk:         risk,
		Band:         s.bands.BandFor(risk),
		State:        v,
		Contributors: contribs,
	}
}
