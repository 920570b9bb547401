package analysis

import "time"

var testAsOf = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

// fullSignals builds signals with enough samples for full confidence
func fullSignals(values map[SignalName]float64) StudentSignals {
	cal := DefaultCalibration()
	sigs := make(map[SignalName]Signal, len(values))
	for name, v := range values {
		sigs[name] = Signal{Value: v, Range: cal.Ranges[name], Samples: 20}
	}
	return NewStudentSignals("student-1", testAsOf, sigs)
}

func mustEstimator() *Estimator {
	e, err := NewEstimator(DefaultCalibration())
	if err != nil {
		panic(err)
	}
	return e
}

func mustScorer() *Scorer {
	s, err := NewScorer(DefaultCalibration())
	if err != nil {
		panic(err)
	}
	return s
}

func daysAgo(n int) time.Time {
	return testAsOf.Add(-time.Duration(n) * 24 * time.Hour)
}
