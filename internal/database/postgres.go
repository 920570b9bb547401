package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/types"
)

// ErrConnectionClosed indicates the connection pool is closed
var ErrConnectionClosed = errors.New("postgres: connection pool is closed")

// PostgresStore reads student records from a PostgreSQL database shared by
// several schools. It satisfies analysis.RecordSource.
type PostgresStore struct {
	pool   *pgxpool.Pool
	closed bool
	mu     sync.RWMutex
}

// NewPostgresStore connects using a database URL
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse database URL: %w", err)
	}
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		date DATE NOT NULL,
		status TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		date DATE NOT NULL,
		max_score DOUBLE PRECISION NOT NULL,
		score DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		date DATE NOT NULL,
		kind TEXT NOT NULL DEFAULT 'NOTE',
		tags TEXT[] NOT NULL DEFAULT '{}',
		text TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_student_date ON attendance_records(student_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_assessments_student_date ON assessments(student_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_notes_student_date ON notes(student_id, date)`,
}

// Migrate creates the record tables if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	pool, err := s.acquire()
	if err != nil {
		return err
	}
	for _, q := range postgresSchema {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: migration failed: %w", err)
		}
	}
	return nil
}

// Attendance returns the attendance marks of studentID dated within [from, to]
func (s *PostgresStore) Attendance(ctx context.Context, studentID string, from, to time.Time) ([]types.AttendanceEvent, error) {
	rows, err := s.query(ctx, `SELECT id, date, status FROM attendance_records
		WHERE student_id = $1 AND date BETWEEN $2 AND $3 ORDER BY date, id`, studentID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AttendanceEvent, error) {
		var e types.AttendanceEvent
		err := row.Scan(&e.ID, &e.Date, &e.Status)
		return e, err
	})
}

// Assessments returns the graded work of studentID dated within [from, to]
func (s *PostgresStore) Assessments(ctx context.Context, studentID string, from, to time.Time) ([]types.AssessmentEvent, error) {
	rows, err := s.query(ctx, `SELECT id, date, subject, score, max_score FROM assessments
		WHERE student_id = $1 AND date BETWEEN $2 AND $3 ORDER BY date, id`, studentID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AssessmentEvent, error) {
		var e types.AssessmentEvent
		err := row.Scan(&e.ID, &e.Date, &e.Subject, &e.Score, &e.MaxScore)
		return e, err
	})
}

// Notes returns the notes and recorded interventions of studentID dated within [from, to]
func (s *PostgresStore) Notes(ctx context.Context, studentID string, from, to time.Time) ([]types.NoteEvent, error) {
	rows, err := s.query(ctx, `SELECT id, date, kind, tags, text, status FROM notes
		WHERE student_id = $1 AND date BETWEEN $2 AND $3 ORDER BY date, id`, studentID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.NoteEvent, error) {
		var e types.NoteEvent
		err := row.Scan(&e.ID, &e.Date, &e.Kind, &e.Tags, &e.Text, &e.Status)
		return e, err
	})
}

// InsertNote writes a note; used by tests and imports
func (s *PostgresStore) InsertNote(ctx context.Context, studentID string, e types.NoteEvent) error {
	pool, err := s.acquire()
	if err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = NewRecordID("note")
	}
	if e.Kind == "" {
		e.Kind = types.NoteKindNote
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	_, err = pool.Exec(ctx, `INSERT INTO notes (id, student_id, date, kind, tags, text, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, e.ID, studentID, e.Date, e.Kind, e.Tags, e.Text, e.Status)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	pool, err := s.acquire()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query failed: %w", err)
	}
	return rows, nil
}

func (s *PostgresStore) acquire() (*pgxpool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrConnectionClosed
	}
	return s.pool, nil
}

// Ping checks if the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	pool, err := s.acquire()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pool.Close()
}
