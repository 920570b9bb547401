package intervention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
)

func constCandidate(id string, cost, drop float64) Candidate {
	return Candidate{ID: id, Name: id, Role: id, Cost: cost, Predictor: Constant{Drop: drop}}
}

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Candidate
	}{
		{name: "empty id", candidates: []Candidate{constCandidate("", 1, 1)}},
		{name: "duplicate id", candidates: []Candidate{constCandidate("a", 1, 1), constCandidate("a", 2, 2)}},
		{name: "negative cost", candidates: []Candidate{constCandidate("a", -1, 1)}},
		{name: "missing predictor", candidates: []Candidate{{ID: "a", Cost: 1}}},
		{name: "unknown target", candidates: []Candidate{{ID: "a", Cost: 1, Targets: []analysis.Dimension{"grit"}, Predictor: Constant{Drop: 1}}}},
		{
			name: "negative prediction on the state grid",
			candidates: []Candidate{{
				ID:   "a",
				Cost: 1,
				Predictor: PredictorFunc(func(state analysis.StateVector, risk int) float64 {
					return state.E - 0.5
				}),
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog("test", tt.candidates)
			assert.ErrorIs(t, err, analysis.ErrConfiguration)
		})
	}
}

func TestCatalog_ListIsACopyInOrder(t *testing.T) {
	c, err := NewCatalog("test", []Candidate{
		{ID: "b", Cost: 1, Targets: []analysis.Dimension{analysis.DimEngagement}, Predictor: Constant{Drop: 1}},
		constCandidate("a", 1, 1),
	})
	require.NoError(t, err)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)

	list[0].ID = "mutated"
	list[0].Targets[0] = analysis.DimLoad

	again := c.List()
	assert.Equal(t, "b", again[0].ID)
	assert.Equal(t, analysis.DimEngagement, again[0].Targets[0])
}

func TestCatalog_PredictClamps(t *testing.T) {
	c, err := NewCatalog("test", []Candidate{constCandidate("big", 1, 500), constCandidate("none", 1, 0)})
	require.NoError(t, err)

	big, ok := c.Get("big")
	require.True(t, ok)
	assert.Equal(t, 30.0, c.Predict(big, analysis.NeutralState, 30))
	assert.Equal(t, 0.0, c.Predict(big, analysis.NeutralState, 0))

	none, _ := c.Get("none")
	assert.Equal(t, 0.0, c.Predict(none, analysis.NeutralState, 30))

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	a, err := NewCatalog("default", []Candidate{constCandidate("x", 1, 1)})
	require.NoError(t, err)
	b, err := NewCatalog("strict", nil)
	require.NoError(t, err)

	r, err := NewRegistry(a, b)
	require.NoError(t, err)

	assert.Same(t, b, r.Get("strict"))
	assert.Same(t, a, r.Get("unknown"), "unknown policies fall back to the first catalog")
	_, ok := r.Lookup("unknown")
	assert.False(t, ok)
	assert.Equal(t, []string{"default", "strict"}, r.Policies())

	_, err = NewRegistry(a, a)
	assert.ErrorIs(t, err, analysis.ErrConfiguration)

	_, err = NewRegistry()
	assert.ErrorIs(t, err, analysis.ErrConfiguration)
}

func TestRegistry_CatalogsDoNotShareState(t *testing.T) {
	a, err := NewCatalog("a", []Candidate{constCandidate("x", 1, 1)})
	require.NoError(t, err)
	b, err := NewCatalog("b", []Candidate{constCandidate("x", 9, 9)})
	require.NoError(t, err)

	xa, _ := a.Get("x")
	xb, _ := b.Get("x")
	assert.Equal(t, 1.0, xa.Cost)
	assert.Equal(t, 9.0, xb.Cost)
}
