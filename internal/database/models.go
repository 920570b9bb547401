package database

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a staff role. Only some roles may read trajectories.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleFinance Role = "MANAGEMENT_FINANCE"
)

// User is a staff account
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Student is the subject of records
type Student struct {
	ID          string `json:"id"`
	StudentCode string `json:"student_code"`
	FullName    string `json:"full_name"`
	Status      string `json:"status"`
}

// NewUser creates an active user with a generated ID
func NewUser(email string, role Role) *User {
	return &User{
		ID:        uuid.New().String(),
		Email:     email,
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
}

// NewRecordID returns a fresh id for an attendance, assessment or note row
func NewRecordID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}

// joinTags and splitTags store note tags in a single text column
func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

func dateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func parseDate(s string) (time.Time, error) {
	if len(s) > len(time.DateOnly) {
		s = s[:len(time.DateOnly)]
	}
	return time.Parse(time.DateOnly, s)
}
