package intervention

import (
	"fmt"
	"math"
	"sort"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
)

// Candidate is one intervention the optimizer may recommend
type Candidate struct {
	ID        string
	Name      string
	Role      string
	Cost      float64
	Targets   []analysis.Dimension
	Predictor Predictor
}

// Catalog is an immutable, ordered set of candidates for one school policy
type Catalog struct {
	name       string
	candidates []Candidate
	index      map[string]int
}

// NewCatalog validates candidates and builds a catalog. Insertion order is preserved.
func NewCatalog(name string, candidates []Candidate) (*Catalog, error) {
	c := &Catalog{
		name:       name,
		candidates: make([]Candidate, 0, len(candidates)),
		index:      make(map[string]int, len(candidates)),
	}
	for _, cand := range candidates {
		if err := validateCandidate(cand); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", name, err)
		}
		if _, dup := c.index[cand.ID]; dup {
			return nil, fmt.Errorf("%w: catalog %s: duplicate candidate id %q", analysis.ErrConfiguration, name, cand.ID)
		}
		cand.Targets = append([]analysis.Dimension(nil), cand.Targets...)
		c.index[cand.ID] = len(c.candidates)
		c.candidates = append(c.candidates, cand)
	}
	return c, nil
}

// Name returns the policy name of the catalog
func (c *Catalog) Name() string {
	return c.name
}

// Len returns the number of candidates
func (c *Catalog) Len() int {
	return len(c.candidates)
}

// List returns a copy of the candidates in insertion order
func (c *Catalog) List() []Candidate {
	out := make([]Candidate, len(c.candidates))
	for i, cand := range c.candidates {
		cand.Targets = append([]analysis.Dimension(nil), cand.Targets...)
		out[i] = cand
	}
	return out
}

// Get returns a candidate by id
func (c *Catalog) Get(id string) (Candidate, bool) {
	i, ok := c.index[id]
	if !ok {
		return Candidate{}, false
	}
	cand := c.candidates[i]
	cand.Targets = append([]analysis.Dimension(nil), cand.Targets...)
	return cand, true
}

// Predict returns the candidate's expected risk drop clamped to [0, risk]
func (c *Catalog) Predict(cand Candidate, state analysis.StateVector, risk int) float64 {
	return clampDrop(cand.Predictor.Predict(state, risk), risk)
}

func clampDrop(drop float64, risk int) float64 {
	if math.IsNaN(drop) || drop <= 0 || risk <= 0 {
		return 0
	}
	return math.Min(drop, float64(risk))
}

func validateCandidate(cand Candidate) error {
	if cand.ID == "" {
		return fmt.Errorf("%w: candidate with empty id", analysis.ErrConfiguration)
	}
	if math.IsNaN(cand.Cost) || math.IsInf(cand.Cost, 0) || cand.Cost < 0 {
		return fmt.Errorf("%w: candidate %s has invalid cost %v", analysis.ErrConfiguration, cand.ID, cand.Cost)
	}
	if cand.Predictor == nil {
		return fmt.Errorf("%w: candidate %s has no predictor", analysis.ErrConfiguration, cand.ID)
	}
	for _, d := range cand.Targets {
		if !d.Valid() {
			return fmt.Errorf("%w: candidate %s targets unknown dimension %q", analysis.ErrConfiguration, cand.ID, d)
		}
	}
	return checkGrid(cand)
}

var (
	gridLevels = []float64{0, 0.5, 1}
	gridRisks  = []int{0, 25, 50, 75, 100}
)

// checkGrid evaluates the predictor over a grid of states and rejects negative or non-finite output
func checkGrid(cand Candidate) error {
	for _, e := range gridLevels {
		for _, m := range gridLevels {
			for _, s := range gridLevels {
				for _, p := range gridLevels {
					for _, l := range gridLevels {
						for _, w := range gridLevels {
							state := analysis.StateVector{E: e, M: m, S: s, P: p, L: l, W: w}
							for _, risk := range gridRisks {
								drop := cand.Predictor.Predict(state, risk)
								if math.IsNaN(drop) || math.IsInf(drop, 0) || drop < 0 {
									return fmt.Errorf("%w: candidate %s predicts %v for state %+v at risk %d",
										analysis.ErrConfiguration, cand.ID, drop, state, risk)
								}
							}
						}
					}
				}
			}
		}
	}
	return nil
}

// Registry maps policy names to catalogs. It is read-only after construction.
type Registry struct {
	catalogs map[string]*Catalog
	fallback string
}

// NewRegistry builds a registry. The first catalog is the fallback for unknown policies.
func NewRegistry(catalogs ...*Catalog) (*Registry, error) {
	if len(catalogs) == 0 {
		return nil, fmt.Errorf("%w: registry needs at least one catalog", analysis.ErrConfiguration)
	}
	r := &Registry{catalogs: make(map[string]*Catalog, len(catalogs)), fallback: catalogs[0].Name()}
	for _, c := range catalogs {
		if _, dup := r.catalogs[c.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate catalog %q", analysis.ErrConfiguration, c.Name())
		}
		r.catalogs[c.Name()] = c
	}
	return r, nil
}

// Get returns the catalog for a policy, falling back to the default catalog
func (r *Registry) Get(policy string) *Catalog {
	if c, ok := r.catalogs[policy]; ok {
		return c
	}
	return r.catalogs[r.fallback]
}

// Lookup returns the catalog for a policy without falling back
func (r *Registry) Lookup(policy string) (*Catalog, bool) {
	c, ok := r.catalogs[policy]
	return c, ok
}

// Policies returns the registered policy names in sorted order
func (r *Registry) Policies() []string {
	names := make([]string, 0, len(r.catalogs))
	for name := range r.catalogs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
