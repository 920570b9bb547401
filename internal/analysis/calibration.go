package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Term is one weighted signal contribution to a dimension
type Term struct {
	Signal SignalName `json:"signal"`
	Weight float64    `json:"weight"`
	// Invert flips the normalized value for signals where more is worse
	Invert bool `json:"invert,omitempty"`
}

// WarningConfig controls the compound-deterioration dimension
type WarningConfig struct {
	Onset    float64       `json:"onset"`
	Span     float64       `json:"span"`
	Patterns [][]Dimension `json:"patterns"`
}

// RiskWeights are the scorer coefficients
type RiskWeights struct {
	Engagement float64 `json:"engagement"`
	Mastery    float64 `json:"mastery"`
	Stability  float64 `json:"stability"`
	Support    float64 `json:"support"`
	Load       float64 `json:"load"`
	Warning    float64 `json:"warning"`
}

// BandThresholds are the inclusive lower risk bounds of each band above THRIVING
type BandThresholds struct {
	Stable   int `json:"stable"`
	AtRisk   int `json:"at_risk"`
	Critical int `json:"critical"`
}

// BandFor maps a risk score to its band
func (b BandThresholds) BandFor(risk int) Band {
	switch {
	case risk >= b.Critical:
		return BandCritical
	case risk >= b.AtRisk:
		return BandAtRisk
	case risk >= b.Stable:
		return BandStable
	default:
		return BandThriving
	}
}

// LowerBound returns the smallest risk that falls in band
func (b BandThresholds) LowerBound(band Band) int {
	switch band {
	case BandCritical:
		return b.Critical
	case BandAtRisk:
		return b.AtRisk
	case BandStable:
		return b.Stable
	default:
		return 0
	}
}

// Calibration is the full set of tunable constants for a school policy
type Calibration struct {
	Engagement     []Term               `json:"engagement"`
	Mastery        []Term               `json:"mastery"`
	Stability      []Term               `json:"stability"`
	Support        []Term               `json:"support"`
	Load           []Term               `json:"load"`
	Warning        WarningConfig        `json:"warning"`
	Risk           RiskWeights          `json:"risk"`
	Bands          BandThresholds       `json:"bands"`
	Ranges         map[SignalName]Range `json:"ranges"`
	FullConfidence map[SignalName]int   `json:"full_confidence"`
}

// Terms returns the terms of a linear dimension
func (c Calibration) Terms(d Dimension) []Term {
	switch d {
	case DimEngagement:
		return c.Engagement
	case DimMastery:
		return c.Mastery
	case DimStability:
		return c.Stability
	case DimSupport:
		return c.Support
	case DimLoad:
		return c.Load
	}
	return nil
}

// Confidence returns min(1, samples/full) for a signal
func (c Calibration) Confidence(name SignalName, samples int) float64 {
	if samples <= 0 {
		return 0
	}
	full := c.FullConfidence[name]
	if full <= 0 {
		return 1
	}
	return clip(float64(samples)/float64(full), 0, 1)
}

// DefaultCalibration returns the stock calibration
func DefaultCalibration() Calibration {
	return Calibration{
		Engagement: []Term{
			{Signal: SignalAttendanceRate, Weight: 0.55},
			{Signal: SignalMissingWork, Weight: 0.25, Invert: true},
			{Signal: SignalPositiveNoteRatio, Weight: 0.20},
		},
		Mastery: []Term{
			{Signal: SignalAvgAssessment, Weight: 0.80},
			{Signal: SignalAssessmentTrend, Weight: 0.20},
		},
		Stability: []Term{
			{Signal: SignalAttendanceTrend, Weight: 0.40},
			{Signal: SignalAssessmentVolatility, Weight: 0.35, Invert: true},
			{Signal: SignalAssessmentTrend, Weight: 0.25},
		},
		Support: []Term{
			{Signal: SignalInterventionRecency, Weight: 0.50, Invert: true},
			{Signal: SignalPositiveNoteRatio, Weight: 0.30},
			{Signal: SignalInterventionCount, Weight: 0.20},
		},
		Load: []Term{
			{Signal: SignalMissingWork, Weight: 0.50},
			{Signal: SignalAssessmentLoad, Weight: 0.30},
			{Signal: SignalPositiveNoteRatio, Weight: 0.20, Invert: true},
		},
		Warning: WarningConfig{
			Onset: 0.5,
			Span:  0.25,
			Patterns: [][]Dimension{
				{DimEngagement, DimMastery},
				{DimEngagement, DimLoad},
				{DimMastery, DimStability},
				{DimStability, DimSupport, DimLoad},
			},
		},
		Risk: RiskWeights{
			Engagement: 0.30,
			Mastery:    0.30,
			Stability:  0.15,
			Support:    0.10,
			Load:       0.15,
			Warning:    0.25,
		},
		Bands: BandThresholds{Stable: 25, AtRisk: 45, Critical: 65},
		Ranges: map[SignalName]Range{
			SignalAttendanceRate:       {Min: 0, Max: 1},
			SignalAttendanceTrend:      {Min: -1, Max: 1},
			SignalAvgAssessment:        {Min: 0, Max: 1},
			SignalAssessmentTrend:      {Min: -1, Max: 1},
			SignalAssessmentVolatility: {Min: 0, Max: 0.5},
			SignalAssessmentLoad:       {Min: 0, Max: 8},
			SignalMissingWork:          {Min: 0, Max: 5},
			SignalPositiveNoteRatio:    {Min: 0, Max: 1},
			SignalInterventionRecency:  {Min: 0, Max: 90},
			SignalInterventionCount:    {Min: 0, Max: 4},
		},
		FullConfidence: map[SignalName]int{
			SignalAttendanceRate:       10,
			SignalAttendanceTrend:      5,
			SignalAvgAssessment:        4,
			SignalAssessmentTrend:      3,
			SignalAssessmentVolatility: 4,
			SignalAssessmentLoad:       4,
			SignalMissingWork:          4,
			SignalPositiveNoteRatio:    3,
			SignalInterventionRecency:  1,
			SignalInterventionCount:    3,
		},
	}
}

// Validate checks every constant and wraps failures in ErrConfiguration
func (c Calibration) Validate() error {
	for _, d := range []Dimension{DimEngagement, DimMastery, DimStability, DimSupport, DimLoad} {
		terms := c.Terms(d)
		if len(terms) == 0 {
			return fmt.Errorf("%w: dimension %s has no terms", ErrConfiguration, d)
		}
		total := 0.0
		for _, t := range terms {
			if !finite(t.Weight) || t.Weight < 0 {
				return fmt.Errorf("%w: dimension %s has invalid weight %v for %s", ErrConfiguration, d, t.Weight, t.Signal)
			}
			r, ok := c.Ranges[t.Signal]
			if !ok {
				return fmt.Errorf("%w: signal %s has no range", ErrConfiguration, t.Signal)
			}
			if !finite(r.Min) || !finite(r.Max) || r.Max <= r.Min {
				return fmt.Errorf("%w: signal %s has empty range [%v,%v]", ErrConfiguration, t.Signal, r.Min, r.Max)
			}
			total += t.Weight
		}
		if total <= 0 {
			return fmt.Errorf("%w: dimension %s has zero total weight", ErrConfiguration, d)
		}
	}

	for name, full := range c.FullConfidence {
		if full <= 0 {
			return fmt.Errorf("%w: full confidence for %s must be positive", ErrConfiguration, name)
		}
	}

	w := c.Warning
	if !finite(w.Onset) || w.Onset < 0 || w.Onset >= 1 {
		return fmt.Errorf("%w: warning onset %v outside [0,1)", ErrConfiguration, w.Onset)
	}
	if !finite(w.Span) || w.Span <= 0 {
		return fmt.Errorf("%w: warning span must be positive", ErrConfiguration)
	}
	if len(w.Patterns) == 0 {
		return fmt.Errorf("%w: warning has no patterns", ErrConfiguration)
	}
	for i, p := range w.Patterns {
		if len(p) == 0 {
			return fmt.Errorf("%w: warning pattern %d is empty", ErrConfiguration, i)
		}
		for _, d := range p {
			if !d.Valid() || d == DimWarning {
				return fmt.Errorf("%w: warning pattern %d references invalid dimension %q", ErrConfiguration, i, d)
			}
		}
	}

	r := c.Risk
	for _, v := range []float64{r.Engagement, r.Mastery, r.Stability, r.Support, r.Load, r.Warning} {
		if !finite(v) || v < 0 {
			return fmt.Errorf("%w: risk weight %v must be non-negative", ErrConfiguration, v)
		}
	}

	b := c.Bands
	if !(0 < b.Stable && b.Stable < b.AtRisk && b.AtRisk < b.Critical && b.Critical <= 100) {
		return fmt.Errorf("%w: band thresholds %d/%d/%d must be strictly increasing in (0,100]",
			ErrConfiguration, b.Stable, b.AtRisk, b.Critical)
	}
	return nil
}

// CalibrationStore manages calibration files by school policy
type CalibrationStore struct {
	dataDir string
}

// NewCalibrationStore creates a new calibration store
func NewCalibrationStore(dataDir string) *CalibrationStore {
	return &CalibrationStore{dataDir: dataDir}
}

// LoadCalibration loads and validates the calibration for a policy.
// A missing file yields the default calibration.
func (c *CalibrationStore) LoadCalibration(policy string) (Calibration, error) {
	filePath := filepath.Join(c.dataDir, fmt.Sprintf("%s.json", policy))

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return DefaultCalibration(), nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return Calibration{}, fmt.Errorf("failed to open calibration file: %w", err)
	}
	defer file.Close()

	// Start from defaults so partial files only override what they name
	data := DefaultCalibration()
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return Calibration{}, fmt.Errorf("%w: failed to decode calibration %s: %v", ErrConfiguration, policy, err)
	}

	if err := data.Validate(); err != nil {
		return Calibration{}, fmt.Errorf("calibration %s: %w", policy, err)
	}
	return data, nil
}

// SaveCalibration saves calibration data for a policy
func (c *CalibrationStore) SaveCalibration(policy string, data Calibration) error {
	if err := data.Validate(); err != nil {
		return err
	}

	filePath := filepath.Join(c.dataDir, fmt.Sprintf("%s.json", policy))
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create calibration directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create calibration file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode calibration data: %w", err)
	}

	return nil
}
