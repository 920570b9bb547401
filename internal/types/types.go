package types

import "time"

// Attendance statuses as recorded by the school shell
const (
	StatusPresent = "PRESENT"
	StatusLate    = "LATE"
	StatusAbsent  = "ABSENT"
	StatusExcused = "EXCUSED"
)

// Note kinds
const (
	NoteKindNote         = "NOTE"
	NoteKindIntervention = "INTERVENTION"
)

// Note tags the aggregator understands. Unknown tags are kept but ignored.
const (
	TagMissingWork = "MISSING_WORK"
	TagPraise      = "PRAISE"
	TagImprovement = "IMPROVEMENT"
	TagConcern     = "CONCERN"
	TagBehavior    = "BEHAVIOR"
)

// AttendanceEvent is a single attendance mark for a student
type AttendanceEvent struct {
	ID     string    `json:"id"`
	Date   time.Time `json:"date"`
	Status string    `json:"status"`
}

// AssessmentEvent is a graded piece of work
type AssessmentEvent struct {
	ID       string    `json:"id"`
	Date     time.Time `json:"date"`
	Subject  string    `json:"subject"`
	Score    float64   `json:"score"`
	MaxScore float64   `json:"max_score"`
}

// NoteEvent is a free-text note or a recorded intervention. For interventions
// the first tag carries the intervention type (e.g. TUTORING).
type NoteEvent struct {
	ID     string    `json:"id"`
	Date   time.Time `json:"date"`
	Kind   string    `json:"kind"`
	Tags   []string  `json:"tags"`
	Text   string    `json:"text"`
	Status string    `json:"status,omitempty"`
}

// TrajectoryRequest represents the request structure for the trajectory endpoint
type TrajectoryRequest struct {
	UserID     string   `json:"user_id" binding:"required"`
	StudentID  string   `json:"student_id" binding:"required"`
	Refresh    bool     `json:"refresh,omitempty"`
	Budget     *float64 `json:"budget,omitempty"`
	TargetDrop *float64 `json:"target_drop,omitempty"`
}
