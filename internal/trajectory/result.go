package trajectory

import (
	"math"
	"time"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/optimizer"
)

// Result is one computed trajectory. It is shared by pointer between coalesced
// callers and must not be mutated after it is returned.
type Result struct {
	StudentID       string                     `json:"student_id"`
	Assessment      analysis.RiskAssessment    `json:"assessment"`
	Recommendations []optimizer.Recommendation `json:"recommendations"`
	TargetDrop      float64                    `json:"target_drop"`
	TargetMet       bool                       `json:"target_met"`
	NoViable        bool                       `json:"no_viable"`
	AsOf            time.Time                  `json:"as_of"`
	ComputedAt      time.Time                  `json:"computed_at"`
}

// StateResponse is the display form of the state vector
type StateResponse struct {
	E    float64 `json:"E"`
	M    float64 `json:"M"`
	S    float64 `json:"S"`
	P    float64 `json:"P"`
	L    float64 `json:"L"`
	W    float64 `json:"W"`
	Risk int     `json:"risk"`
	Band string  `json:"performance_band"`
}

// RecommendationResponse is the display form of a recommendation
type RecommendationResponse struct {
	ActionKey         string  `json:"action_key"`
	Name              string  `json:"name"`
	Cost              float64 `json:"cost"`
	PredictedRiskDrop float64 `json:"predicted_risk_drop"`
	Rationale         string  `json:"rationale"`
}

// Response is the body returned by the trajectory endpoint
type Response struct {
	StudentID       string                   `json:"student_id"`
	State           StateResponse            `json:"state"`
	Recommendations []RecommendationResponse `json:"recommendations"`
	TargetDrop      float64                  `json:"target_drop"`
	TargetMet       bool                     `json:"target_met"`
	AsOf            string                   `json:"as_of"`
}

// Response renders r for display: dimensions to 2 decimals, drops to 1
func (r *Result) Response() Response {
	v := r.Assessment.State
	resp := Response{
		StudentID: r.StudentID,
		State: StateResponse{
			E:    round(v.E, 2),
			M:    round(v.M, 2),
			S:    round(v.S, 2),
			P:    round(v.P, 2),
			L:    round(v.L, 2),
			W:    round(v.W, 2),
			Risk: r.Assessment.Risk,
			Band: string(r.Assessment.Band),
		},
		Recommendations: make([]RecommendationResponse, 0, len(r.Recommendations)),
		TargetDrop:      round(r.TargetDrop, 1),
		TargetMet:       r.TargetMet,
		AsOf:            r.AsOf.Format(time.DateOnly),
	}
	for _, rec := range r.Recommendations {
		resp.Recommendations = append(resp.Recommendations, RecommendationResponse{
			ActionKey:         rec.ActionKey,
			Name:              rec.Name,
			Cost:              rec.Cost,
			PredictedRiskDrop: round(rec.PredictedDrop, 1),
			Rationale:         rec.Rationale,
		})
	}
	return resp
}

func round(x float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(x*p) / p
}
