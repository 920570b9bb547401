package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/ZanzyTHEbar/resonance-trajectory/internal/errors"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/monitoring"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/resilience"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/types"
)

const sourceName = "remote"

// RemoteAttendance is an attendance mark as served by the school records service
type RemoteAttendance struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Status string `json:"status"`
}

// RemoteAssessment is a graded assessment as served by the school records service
type RemoteAssessment struct {
	ID       string  `json:"id"`
	Date     string  `json:"date"`
	Subject  string  `json:"subject"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
}

// RemoteNote is a note or intervention as served by the school records service
type RemoteNote struct {
	ID     string   `json:"id"`
	Date   string   `json:"date"`
	Kind   string   `json:"kind"`
	Tags   []string `json:"tags"`
	Text   string   `json:"text"`
	Status string   `json:"status"`
}

// RecordsConfig configures the remote records client
type RecordsConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retry   resilience.RetryConfig
	Logger  *monitoring.Logger
}

// RecordsAdapter reads student records from a school records HTTP service.
// It satisfies analysis.RecordSource.
type RecordsAdapter struct {
	baseURL string
	token   string
	client  *http.Client
	retry   resilience.RetryConfig
	logger  *monitoring.Logger
}

// NewRecordsAdapter creates a client for cfg.BaseURL
func NewRecordsAdapter(cfg RecordsConfig) *RecordsAdapter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = monitoring.NopLogger()
	}

	transport := &http.Transport{
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	return &RecordsAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Transport: transport, Timeout: cfg.Timeout},
		retry:   cfg.Retry,
		logger:  cfg.Logger,
	}
}

// Attendance fetches attendance marks dated within [from, to]
func (a *RecordsAdapter) Attendance(ctx context.Context, studentID string, from, to time.Time) ([]types.AttendanceEvent, error) {
	var raw []RemoteAttendance
	if err := a.fetch(ctx, studentID, "attendance", from, to, &raw); err != nil {
		return nil, err
	}

	events := make([]types.AttendanceEvent, 0, len(raw))
	for _, r := range raw {
		date, err := parseRemoteDate(r.Date)
		if err != nil {
			a.logger.Warn("Skipping attendance with bad date", "id", r.ID, "date", r.Date)
			continue
		}
		events = append(events, types.AttendanceEvent{ID: r.ID, Date: date, Status: r.Status})
	}
	return events, nil
}

// Assessments fetches graded assessments dated within [from, to]
func (a *RecordsAdapter) Assessments(ctx context.Context, studentID string, from, to time.Time) ([]types.AssessmentEvent, error) {
	var raw []RemoteAssessment
	if err := a.fetch(ctx, studentID, "assessments", from, to, &raw); err != nil {
		return nil, err
	}

	events := make([]types.AssessmentEvent, 0, len(raw))
	for _, r := range raw {
		date, err := parseRemoteDate(r.Date)
		if err != nil {
			a.logger.Warn("Skipping assessment with bad date", "id", r.ID, "date", r.Date)
			continue
		}
		events = append(events, types.AssessmentEvent{
			ID:       r.ID,
			Date:     date,
			Subject:  r.Subject,
			Score:    r.Score,
			MaxScore: r.MaxScore,
		})
	}
	return events, nil
}

// Notes fetches notes and interventions dated within [from, to]
func (a *RecordsAdapter) Notes(ctx context.Context, studentID string, from, to time.Time) ([]types.NoteEvent, error) {
	var raw []RemoteNote
	if err := a.fetch(ctx, studentID, "notes", from, to, &raw); err != nil {
		return nil, err
	}

	events := make([]types.NoteEvent, 0, len(raw))
	for _, r := range raw {
		date, err := parseRemoteDate(r.Date)
		if err != nil {
			a.logger.Warn("Skipping note with bad date", "id", r.ID, "date", r.Date)
			continue
		}
		events = append(events, types.NoteEvent{
			ID:     r.ID,
			Date:   date,
			Kind:   r.Kind,
			Tags:   r.Tags,
			Text:   r.Text,
			Status: r.Status,
		})
	}
	return events, nil
}

// fetch GETs /students/{id}/{collection}. An unknown student yields an empty
// collection so the aggregator can report missing data.
func (a *RecordsAdapter) fetch(ctx context.Context, studentID, collection string, from, to time.Time, out interface{}) error {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.DateOnly))
	q.Set("to", to.UTC().Format(time.DateOnly))
	endpoint := fmt.Sprintf("%s/students/%s/%s?%s", a.baseURL, url.PathEscape(studentID), collection, q.Encode())

	start := time.Now()
	resp, err := resilience.RetryHTTP(ctx, a.retry, func() (*http.Response, error) {
		return a.makeRequest(ctx, endpoint)
	})
	if err != nil {
		a.logger.ExternalAPILogger(sourceName, http.MethodGet, collection, 0, time.Since(start), false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewDataSourceError(sourceName, fmt.Errorf("failed to fetch %s: %w", collection, err))
	}
	defer resp.Body.Close()
	a.logger.ExternalAPILogger(sourceName, http.MethodGet, collection, resp.StatusCode, time.Since(start), resp.StatusCode < 400)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.NewDataSourceError(sourceName,
			fmt.Errorf("records API error: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewDataSourceError(sourceName, fmt.Errorf("failed to decode %s: %w", collection, err))
	}
	return nil
}

func (a *RecordsAdapter) makeRequest(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Resonance-Trajectory/1.0")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if id := monitoring.RequestID(ctx); id != "" {
		req.Header.Set(monitoring.RequestIDHeader, id)
	}
	return a.client.Do(req)
}

// Ping checks the service's health endpoint
func (a *RecordsAdapter) Ping(ctx context.Context) error {
	resp, err := a.makeRequest(ctx, a.baseURL+"/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resilience.NewHTTPError(resp.StatusCode, resp.Status)
	}
	return nil
}

// Close releases idle connections
func (a *RecordsAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// parseRemoteDate accepts plain dates and RFC 3339 timestamps
func parseRemoteDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
