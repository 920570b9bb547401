// Package optimizer selects the smallest, cheapest set of interventions
// predicted to move a student's risk down by a target amount.
//
// Selection is a budgeted covering problem and is NP-hard in general. The
// optimizer ranks candidates by drop per unit cost, accepts greedily, prunes
// redundant picks and finally compares the result against the best single
// lever. Catalogs are small (tens of candidates) so every step is linear or
// n log n in catalog size.
package optimizer

import (
	"errors"
	"math"
	"sort"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/intervention"
)

// ErrNoViableIntervention is returned when no candidate predicts any risk reduction
var ErrNoViableIntervention = errors.New("no viable intervention")

// MinTargetDrop is the smallest default target, in risk points
const MinTargetDrop = 1.0

const epsilon = 1e-9

// Constraints bound a selection. A nil Budget means unlimited; a nil TargetDrop
// means "move the student one band better".
type Constraints struct {
	Budget     *float64
	TargetDrop *float64
}

// Recommendation is one selected intervention
type Recommendation struct {
	ActionKey     string             `json:"action_key"`
	Name          string             `json:"name"`
	Cost          float64            `json:"cost"`
	PredictedDrop float64            `json:"predicted_risk_drop"`
	Rationale     string             `json:"rationale"`
	Dimension     analysis.Dimension `json:"dimension,omitempty"`
}

// Plan is the optimizer output
type Plan struct {
	Recommendations []Recommendation `json:"recommendations"`
	TotalCost       float64          `json:"total_cost"`
	TotalDrop       float64          `json:"total_drop"`
	TargetDrop      float64          `json:"target_drop"`
	TargetMet       bool             `json:"target_met"`
}

// Optimizer holds the band thresholds used to derive default targets
type Optimizer struct {
	bands analysis.BandThresholds
}

// New creates an optimizer using bands for default targets
func New(bands analysis.BandThresholds) *Optimizer {
	return &Optimizer{bands: bands}
}

// Optimize selects interventions with the stock band thresholds
func Optimize(state analysis.StateVector, risk int, catalog *intervention.Catalog, c Constraints) (Plan, error) {
	return New(analysis.DefaultCalibration().Bands).Optimize(state, risk, catalog, c)
}

type scored struct {
	cand  intervention.Candidate
	index int
	drop  float64
}

func (s scored) ratio() float64 {
	if s.cand.Cost == 0 {
		return math.Inf(1)
	}
	return s.drop / s.cand.Cost
}

// DefaultTarget returns the drop needed to reach the next better band
func (o *Optimizer) DefaultTarget(risk int) float64 {
	band := o.bands.BandFor(risk)
	if band == analysis.BandThriving {
		return MinTargetDrop
	}
	return math.Max(MinTargetDrop, float64(risk-o.bands.LowerBound(band)+1))
}

// Optimize selects interventions for state/risk from catalog within c.
// The result never exceeds the budget and is deterministic for fixed inputs.
func (o *Optimizer) Optimize(state analysis.StateVector, risk int, catalog *intervention.Catalog, c Constraints) (Plan, error) {
	target := o.DefaultTarget(risk)
	if c.TargetDrop != nil && !math.IsNaN(*c.TargetDrop) {
		target = math.Max(MinTargetDrop, *c.TargetDrop)
	}
	budget := math.Inf(1)
	if c.Budget != nil && !math.IsNaN(*c.Budget) {
		budget = math.Max(0, *c.Budget)
	}

	var viable []scored
	if catalog != nil {
		for i, cand := range catalog.List() {
			drop := catalog.Predict(cand, state, risk)
			if drop <= 0 {
				continue
			}
			viable = append(viable, scored{cand: cand, index: i, drop: drop})
		}
	}
	if len(viable) == 0 {
		return Plan{TargetDrop: target, Recommendations: []Recommendation{}}, ErrNoViableIntervention
	}

	affordable := viable[:0:0]
	for _, s := range viable {
		if s.cand.Cost <= budget {
			affordable = append(affordable, s)
		}
	}

	sort.SliceStable(affordable, func(i, j int) bool {
		a, b := affordable[i], affordable[j]
		ra, rb := a.ratio(), b.ratio()
		if ra != rb {
			return ra > rb
		}
		if a.drop != b.drop {
			return a.drop > b.drop
		}
		return a.index < b.index
	})

	selected := greedy(affordable, budget, target)
	if met(selected, target) {
		selected = prune(selected, target)
	}
	if single, ok := cheapestSingle(affordable, budget, target); ok {
		if !met(selected, target) || better([]scored{single}, selected) {
			selected = []scored{single}
		}
	}

	return o.plan(selected, state, target), nil
}

func greedy(ranked []scored, budget, target float64) []scored {
	var (
		out  []scored
		cost float64
		drop float64
	)
	for _, s := range ranked {
		if drop+epsilon >= target {
			break
		}
		if cost+s.cand.Cost > budget {
			continue
		}
		out = append(out, s)
		cost += s.cand.Cost
		drop += s.drop
	}
	return out
}

// prune walks the selection in reverse rank order dropping redundant items
func prune(selected []scored, target float64) []scored {
	out := append([]scored(nil), selected...)
	for i := len(out) - 1; i >= 0; i-- {
		if totalDrop(out)-out[i].drop+epsilon >= target {
			out = append(out[:i], out[i+1:]...)
		}
	}
	return out
}

func cheapestSingle(ranked []scored, budget, target float64) (scored, bool) {
	var (
		best  scored
		found bool
	)
	for _, s := range ranked {
		if s.drop+epsilon < target || s.cand.Cost > budget {
			continue
		}
		if !found ||
			s.cand.Cost < best.cand.Cost ||
			(s.cand.Cost == best.cand.Cost && s.drop > best.drop) ||
			(s.cand.Cost == best.cand.Cost && s.drop == best.drop && s.index < best.index) {
			best, found = s, true
		}
	}
	return best, found
}

// better orders selections by item count, then cost, then drop
func better(a, b []scored) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	ca, cb := totalCost(a), totalCost(b)
	if ca != cb {
		return ca < cb
	}
	return totalDrop(a) > totalDrop(b)
}

func met(selected []scored, target float64) bool {
	return len(selected) > 0 && totalDrop(selected)+epsilon >= target
}

func totalDrop(ss []scored) float64 {
	sum := 0.0
	for _, s := range ss {
		sum += s.drop
	}
	return sum
}

func totalCost(ss []scored) float64 {
	sum := 0.0
	for _, s := range ss {
		sum += s.cand.Cost
	}
	return sum
}

func (o *Optimizer) plan(selected []scored, state analysis.StateVector, target float64) Plan {
	p := Plan{
		Recommendations: make([]Recommendation, 0, len(selected)),
		TargetDrop:      target,
		TargetMet:       met(selected, target),
	}
	for _, s := range selected {
		rationale, dim := Rationale(s.cand, state)
		p.Recommendations = append(p.Recommendations, Recommendation{
			ActionKey:     s.cand.ID,
			Name:          s.cand.Name,
			Cost:          s.cand.Cost,
			PredictedDrop: s.drop,
			Rationale:     rationale,
			Dimension:     dim,
		})
		p.TotalCost += s.cand.Cost
		p.TotalDrop += s.drop
	}
	return p
}
