package analysis

// Estimator maps StudentSignals to a StateVector
type Estimator struct {
	cal Calibration
}

// NewEstimator validates cal and returns an estimator using it
func NewEstimator(cal Calibration) (*Estimator, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cal: cal}, nil
}

// Estimate computes the state vector. Pure: identical signals give an identical vector.
func (e *Estimator) Estimate(signals StudentSignals) StateVector {
	v := StateVector{
		E: e.dimension(DimEngagement, signals),
		M: e.dimension(DimMastery, signals),
		S: e.dimension(DimStability, signals),
		P: e.dimension(DimSupport, signals),
		L: e.dimension(DimLoad, signals),
	}
	v.W = e.warning(v)
	return v.Clamped()
}

// dimension is 0.5 plus the confidence-weighted mean deviation from the midpoint.
// Missing signals contribute no deviation, so no evidence means exactly 0.5.
func (e *Estimator) dimension(d Dimension, signals StudentSignals) float64 {
	var num, den float64
	for _, t := range e.cal.Terms(d) {
		den += t.Weight
		sig, ok := signals.Get(t.Signal)
		if !ok || sig.Missing() {
			continue
		}
		if r, ok := e.cal.Ranges[t.Signal]; ok && sig.Range.Max <= sig.Range.Min {
			sig.Range = r
		}
		x := sig.Normalized()
		if t.Invert {
			x = 1 - x
		}
		num += t.Weight * e.cal.Confidence(t.Signal, sig.Samples) * (x - 0.5)
	}
	if den == 0 {
		return 0.5
	}
	return unit(0.5+num/den, 0.5)
}

// warning combines compound deterioration patterns with a noisy-OR. Each pattern
// scores the smallest adverse pressure among its dimensions, so it only fires when
// all of them are adverse together.
func (e *Estimator) warning(v StateVector) float64 {
	w := e.cal.Warning
	survive := 1.0
	for _, pattern := range w.Patterns {
		score := 1.0
		for _, d := range pattern {
			score = min(score, v.Pressure(d))
		}
		ramp := clip((score-w.Onset)/w.Span, 0, 1)
		survive *= 1 - ramp
	}
	return unit(1-survive, 0)
}
