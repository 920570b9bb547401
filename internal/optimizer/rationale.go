package optimizer

import (
	"fmt"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/intervention"
)

// Rationale explains a recommendation in terms of the targeted dimension
// under the most adverse pressure. Ties keep catalog target order.
func Rationale(cand intervention.Candidate, state analysis.StateVector) (string, analysis.Dimension) {
	role := cand.Role
	if role == "" {
		role = cand.Name
	}
	if len(cand.Targets) == 0 {
		return fmt.Sprintf("Reduces overall risk via %s", role), ""
	}

	dim := cand.Targets[0]
	for _, d := range cand.Targets[1:] {
		if state.Pressure(d) > state.Pressure(dim) {
			dim = d
		}
	}

	qualifier := "low"
	if !dim.Favorable() {
		qualifier = "high"
	}
	return fmt.Sprintf("Addresses %s %s via %s", qualifier, dim.Label(), role), dim
}
