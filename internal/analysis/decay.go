package analysis

import (
	"math"
	"time"
)

// DecayWeight computes exp(-ageDays/tauDays). Future-dated records get full weight.
func DecayWeight(ageDays float64, tauDays float64) float64 {
	if tauDays <= 0 {
		return 0
	}
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / tauDays)
}

// ageDays returns the age of t relative to asOf in fractional days
func ageDays(asOf, t time.Time) float64 {
	return asOf.Sub(t).Hours() / 24
}

// decayedMean is the exponentially recency-weighted mean of values observed at the given ages
func decayedMean(values, ages []float64, tauDays float64) (float64, bool) {
	var num, den float64
	for i, v := range values {
		w := DecayWeight(ages[i], tauDays)
		num += w * v
		den += w
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

func days(d time.Duration) float64 {
	return d.Hours() / 24
}
