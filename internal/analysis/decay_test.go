package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecayWeight(t *testing.T) {
	tests := []struct {
		name     string
		age      float64
		tau      float64
		expected float64
	}{
		{name: "fresh record", age: 0, tau: 30, expected: 1},
		{name: "one time constant", age: 30, tau: 30, expected: math.Exp(-1)},
		{name: "future record gets full weight", age: -3, tau: 30, expected: 1},
		{name: "non-positive tau", age: 5, tau: 0, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, DecayWeight(tt.age, tt.tau), 1e-12)
		})
	}
}

func TestDecayedMean(t *testing.T) {
	t.Run("recent values dominate", func(t *testing.T) {
		mean, ok := decayedMean([]float64{1, 0}, []float64{0, 60}, 30)
		assert.True(t, ok)
		assert.Greater(t, mean, 0.8)
	})

	t.Run("no values", func(t *testing.T) {
		_, ok := decayedMean(nil, nil, 30)
		assert.False(t, ok)
	})
}

func TestAgeDays(t *testing.T) {
	asOf := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 2.5, ageDays(asOf, asOf.Add(-60*time.Hour)), 1e-12)
}
