package analysis

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/types"
)

// Window is the closed interval [From, To] of record dates considered
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Preprocessor handles data cleaning before reduction
type Preprocessor struct {
	window Window
}

// NewPreprocessor creates a preprocessor for one aggregation window
func NewPreprocessor(window Window) *Preprocessor {
	return &Preprocessor{window: window}
}

// ProcessAttendance drops out-of-window and unknown-status marks and keeps
// one mark per calendar day, the latest recorded.
func (p *Preprocessor) ProcessAttendance(events []types.AttendanceEvent) []types.AttendanceEvent {
	cleaned := make([]types.AttendanceEvent, 0, len(events))
	for _, e := range events {
		if e.Date.IsZero() || !p.window.Contains(e.Date) {
			continue
		}
		e.Status = normalizeStatus(e.Status)
		switch e.Status {
		case types.StatusPresent, types.StatusLate, types.StatusAbsent, types.StatusExcused:
		default:
			continue
		}
		cleaned = append(cleaned, e)
	}

	sort.SliceStable(cleaned, func(i, j int) bool {
		if !cleaned[i].Date.Equal(cleaned[j].Date) {
			return cleaned[i].Date.Before(cleaned[j].Date)
		}
		return cleaned[i].ID < cleaned[j].ID
	})

	// Collapse multiple marks on the same day
	out := make([]types.AttendanceEvent, 0, len(cleaned))
	for _, e := range cleaned {
		if n := len(out); n > 0 && sameDay(out[n-1].Date, e.Date) {
			out[n-1] = e
			continue
		}
		out = append(out, e)
	}
	return out
}

// ProcessAssessments drops malformed and duplicate assessments
func (p *Preprocessor) ProcessAssessments(events []types.AssessmentEvent) []types.AssessmentEvent {
	seen := make(map[string]struct{}, len(events))
	out := make([]types.AssessmentEvent, 0, len(events))
	for _, e := range events {
		if e.Date.IsZero() || !p.window.Contains(e.Date) {
			continue
		}
		if !finite(e.Score) || !finite(e.MaxScore) || e.MaxScore <= 0 || e.Score < 0 {
			continue
		}
		if e.ID != "" {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ProcessNotes drops out-of-window and duplicate notes and normalizes kinds and tags
func (p *Preprocessor) ProcessNotes(events []types.NoteEvent) []types.NoteEvent {
	seen := make(map[string]struct{}, len(events))
	out := make([]types.NoteEvent, 0, len(events))
	for _, e := range events {
		if e.Date.IsZero() || !p.window.Contains(e.Date) {
			continue
		}
		if e.ID != "" {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
		}

		e.Kind = normalizeStatus(e.Kind)
		if e.Kind == "" {
			e.Kind = types.NoteKindNote
		}
		e.Status = normalizeStatus(e.Status)
		tags := make([]string, 0, len(e.Tags))
		for _, tag := range e.Tags {
			if t := normalizeStatus(tag); t != "" {
				tags = append(tags, t)
			}
		}
		e.Tags = tags
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func normalizeStatus(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// pct converts an assessment to a fraction in [0,1]
func pct(e types.AssessmentEvent) float64 {
	v := e.Score / e.MaxScore
	if math.IsNaN(v) {
		return 0
	}
	return clip(v, 0, 1)
}
