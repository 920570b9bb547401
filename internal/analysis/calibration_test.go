package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCalibrationIsValid(t *testing.T) {
	require.NoError(t, DefaultCalibration().Validate())
}

func TestCalibration_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Calibration)
	}{
		{name: "bands not increasing", mutate: func(c *Calibration) { c.Bands = BandThresholds{Stable: 50, AtRisk: 40, Critical: 65} }},
		{name: "critical above 100", mutate: func(c *Calibration) { c.Bands.Critical = 101 }},
		{name: "zero stable band", mutate: func(c *Calibration) { c.Bands.Stable = 0 }},
		{name: "negative term weight", mutate: func(c *Calibration) { c.Engagement[0].Weight = -1 }},
		{name: "dimension without terms", mutate: func(c *Calibration) { c.Load = nil }},
		{name: "signal without range", mutate: func(c *Calibration) { delete(c.Ranges, SignalAttendanceRate) }},
		{name: "empty range", mutate: func(c *Calibration) { c.Ranges[SignalAvgAssessment] = Range{Min: 1, Max: 1} }},
		{name: "zero warning span", mutate: func(c *Calibration) { c.Warning.Span = 0 }},
		{name: "warning onset out of range", mutate: func(c *Calibration) { c.Warning.Onset = 1 }},
		{name: "warning pattern referencing warning", mutate: func(c *Calibration) {
			c.Warning.Patterns = append(c.Warning.Patterns, []Dimension{DimWarning})
		}},
		{name: "unknown dimension in pattern", mutate: func(c *Calibration) {
			c.Warning.Patterns = [][]Dimension{{"grit"}}
		}},
		{name: "negative risk weight", mutate: func(c *Calibration) { c.Risk.Load = -0.1 }},
		{name: "non-positive full confidence", mutate: func(c *Calibration) { c.FullConfidence[SignalAttendanceRate] = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := DefaultCalibration()
			tt.mutate(&cal)
			assert.ErrorIs(t, cal.Validate(), ErrConfiguration)
		})
	}
}

func TestCalibration_Confidence(t *testing.T) {
	cal := DefaultCalibration()
	assert.Equal(t, 0.0, cal.Confidence(SignalAttendanceRate, 0))
	assert.InDelta(t, 0.5, cal.Confidence(SignalAttendanceRate, 5), 1e-12)
	assert.Equal(t, 1.0, cal.Confidence(SignalAttendanceRate, 50))
	assert.Equal(t, 1.0, cal.Confidence("unknown", 1))
}

func TestCalibrationStore_LoadCalibration(t *testing.T) {
	dir := t.TempDir()
	store := NewCalibrationStore(dir)

	t.Run("missing file returns defaults", func(t *testing.T) {
		cal, err := store.LoadCalibration("default")
		require.NoError(t, err)
		assert.Equal(t, DefaultCalibration(), cal)
	})

	t.Run("partial file overrides named fields", func(t *testing.T) {
		body := `{"bands": {"stable": 20, "at_risk": 40, "critical": 70}}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "strict.json"), []byte(body), 0644))

		cal, err := store.LoadCalibration("strict")
		require.NoError(t, err)
		assert.Equal(t, BandThresholds{Stable: 20, AtRisk: 40, Critical: 70}, cal.Bands)
		assert.Equal(t, DefaultCalibration().Risk, cal.Risk)
	})

	t.Run("invalid bands fail with configuration error", func(t *testing.T) {
		body := `{"bands": {"stable": 60, "at_risk": 40, "critical": 70}}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(body), 0644))

		_, err := store.LoadCalibration("broken")
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("malformed json fails with configuration error", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{"), 0644))

		_, err := store.LoadCalibration("garbage")
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestCalibrationStore_SaveCalibration(t *testing.T) {
	store := NewCalibrationStore(filepath.Join(t.TempDir(), "nested"))

	cal := DefaultCalibration()
	cal.Bands.Critical = 70
	require.NoError(t, store.SaveCalibration("district-7", cal))

	loaded, err := store.LoadCalibration("district-7")
	require.NoError(t, err)
	assert.Equal(t, 70, loaded.Bands.Critical)

	cal.Bands.Stable = 0
	assert.ErrorIs(t, store.SaveCalibration("district-7", cal), ErrConfiguration)
}
