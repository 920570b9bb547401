package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/types"
)

// ErrUserNotFound is returned when a user id has no row
var ErrUserNotFound = errors.New("user not found")

// Repository reads and writes student records in SQLite. It satisfies
// analysis.RecordSource.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Attendance returns the attendance marks of studentID dated within [from, to]
func (r *Repository) Attendance(ctx context.Context, studentID string, from, to time.Time) ([]types.AttendanceEvent, error) {
	rows, err := r.query(ctx, stmtAttendance, studentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.AttendanceEvent
	for rows.Next() {
		var (
			e    types.AttendanceEvent
			date string
		)
		if err := rows.Scan(&e.ID, &date, &e.Status); err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		if e.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("attendance %s has bad date %q: %w", e.ID, date, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Assessments returns the graded work of studentID dated within [from, to]
func (r *Repository) Assessments(ctx context.Context, studentID string, from, to time.Time) ([]types.AssessmentEvent, error) {
	rows, err := r.query(ctx, stmtAssessments, studentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.AssessmentEvent
	for rows.Next() {
		var (
			e    types.AssessmentEvent
			date string
		)
		if err := rows.Scan(&e.ID, &date, &e.Subject, &e.Score, &e.MaxScore); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		if e.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("assessment %s has bad date %q: %w", e.ID, date, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Notes returns the notes and recorded interventions of studentID dated within [from, to]
func (r *Repository) Notes(ctx context.Context, studentID string, from, to time.Time) ([]types.NoteEvent, error) {
	rows, err := r.query(ctx, stmtNotes, studentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.NoteEvent
	for rows.Next() {
		var (
			e          types.NoteEvent
			date, tags string
		)
		if err := rows.Scan(&e.ID, &date, &e.Kind, &tags, &e.Text, &e.Status); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		if e.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("note %s has bad date %q: %w", e.ID, date, err)
		}
		e.Tags = splitTags(tags)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *Repository) query(ctx context.Context, name, studentID string, from, to time.Time) (*sql.Rows, error) {
	stmt, err := r.db.GetPreparedStatement(name)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, studentID, dateKey(from), dateKey(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", name, err)
	}
	return rows, nil
}

// GetUser returns the user with id, or ErrUserNotFound
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	stmt, err := r.db.GetPreparedStatement(stmtUser)
	if err != nil {
		return nil, err
	}

	var (
		user    User
		role    string
		created string
	)
	err = stmt.QueryRowContext(ctx, id).Scan(&user.ID, &user.Email, &role, &user.Active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.Role = Role(role)
	if user.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return nil, fmt.Errorf("user %s has bad created_at %q: %w", id, created, err)
	}
	return &user, nil
}

// CreateUser inserts or replaces a user
func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, role, active, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, role = excluded.role, active = excluded.active
	`, u.ID, u.Email, string(u.Role), u.Active, u.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// CreateStudent inserts a student
func (r *Repository) CreateStudent(ctx context.Context, s *Student) error {
	status := s.Status
	if status == "" {
		status = "ACTIVE"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, student_code, full_name, status) VALUES (?, ?, ?, ?)
	`, s.ID, s.StudentCode, s.FullName, status)
	if err != nil {
		return fmt.Errorf("failed to create student: %w", err)
	}
	return nil
}

// RecordAttendance inserts an attendance mark
func (r *Repository) RecordAttendance(ctx context.Context, studentID string, e types.AttendanceEvent) error {
	if e.ID == "" {
		e.ID = NewRecordID("att")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, date, status) VALUES (?, ?, ?, ?)
	`, e.ID, studentID, dateKey(e.Date), e.Status)
	if err != nil {
		return fmt.Errorf("failed to record attendance: %w", err)
	}
	return nil
}

// RecordAssessment inserts a graded assessment
func (r *Repository) RecordAssessment(ctx context.Context, studentID string, e types.AssessmentEvent) error {
	if e.ID == "" {
		e.ID = NewRecordID("score")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assessments (id, student_id, subject, date, max_score, score) VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, studentID, e.Subject, dateKey(e.Date), e.MaxScore, e.Score)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

// RecordNote inserts a note or an intervention
func (r *Repository) RecordNote(ctx context.Context, studentID string, e types.NoteEvent) error {
	if e.ID == "" {
		e.ID = NewRecordID("note")
	}
	kind := e.Kind
	if kind == "" {
		kind = types.NoteKindNote
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notes (id, student_id, date, kind, tags, text, status) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, studentID, dateKey(e.Date), kind, joinTags(e.Tags), e.Text, e.Status)
	if err != nil {
		return fmt.Errorf("failed to record note: %w", err)
	}
	return nil
}

// CountUsers returns the number of user rows
func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
