package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/config"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/database"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/monitoring"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/trajectory"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{
			Port:            "0",
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: time.Second,
		},
		Source: config.SourceConfig{
			Kind:    config.SourceSQLite,
			DataDir: dir,
			Seed:    true,
		},
		Engine: config.EngineConfig{
			Policy:         "default",
			CalibrationDir: filepath.Join(dir, "calibration"),
			CatalogDir:     filepath.Join(dir, "catalogs"),
			CacheTTL:       time.Minute,
			ComputeTimeout: 10 * time.Second,
			Lookback:       90 * 24 * time.Hour,
		},
		Resilience: config.ResilienceConfig{
			MaxAttempts:      1,
			InitialDelay:     time.Millisecond,
			MaxDelay:         time.Millisecond,
			FailureThreshold: 5,
			OpenTimeout:      time.Minute,
			HealthInterval:   time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			IPPerMinute:     1000,
			RefreshPerHour:  1,
			BurstMultiplier: 1,
		},
		Security: config.SecurityConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		LogLevel: "error",
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(t), monitoring.NopLogger())
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func (a *app) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		var raw []byte
		switch b := body.(type) {
		case string:
			raw = []byte(b)
		default:
			var err error
			raw, err = json.Marshal(b)
			require.NoError(t, err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)

	w := a.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, config.SourceSQLite, body["source"])
	assert.Equal(t, "closed", body["circuit_breaker"])
	assert.Equal(t, false, body["redis"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestTrajectoryEndpoint(t *testing.T) {
	a := newTestApp(t)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name:       "teacher gets a plan",
			body:       map[string]interface{}{"user_id": database.SeedTeacherID, "student_id": "student_20"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "admin with budget",
			body:       map[string]interface{}{"user_id": database.SeedAdminID, "student_id": "student_10", "budget": 5},
			wantStatus: http.StatusOK,
		},
		{
			name:       "finance role is refused",
			body:       map[string]interface{}{"user_id": database.SeedFinanceID, "student_id": "student_01"},
			wantStatus: http.StatusForbidden,
			wantCode:   "FORBIDDEN",
		},
		{
			name:       "unknown user is refused",
			body:       map[string]interface{}{"user_id": "user_ghost", "student_id": "student_01"},
			wantStatus: http.StatusForbidden,
			wantCode:   "FORBIDDEN",
		},
		{
			name:       "student without records",
			body:       map[string]interface{}{"user_id": database.SeedTeacherID, "student_id": "student_99"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "INSUFFICIENT_DATA",
		},
		{
			name:       "malformed body",
			body:       `{"user_id":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "negative budget",
			body:       map[string]interface{}{"user_id": database.SeedTeacherID, "student_id": "student_01", "budget": -1},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, http.MethodPost, "/api/trajectory", tt.body, nil)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			body := decode(t, w)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
				return
			}

			var resp trajectory.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.StudentID)
			assert.GreaterOrEqual(t, resp.State.Risk, 0)
			assert.LessOrEqual(t, resp.State.Risk, 100)
			assert.NotEmpty(t, resp.State.Band)
			assert.NotNil(t, resp.Recommendations)
			assert.NotEmpty(t, resp.AsOf)

			seen := map[string]bool{}
			for _, rec := range resp.Recommendations {
				assert.False(t, seen[rec.ActionKey], "duplicate action %s", rec.ActionKey)
				seen[rec.ActionKey] = true
			}
		})
	}
}

func TestTrajectoryEndpoint_SecurityHeaders(t *testing.T) {
	a := newTestApp(t)

	w := a.do(t, http.MethodPost, "/api/trajectory",
		map[string]interface{}{"user_id": database.SeedTeacherID, "student_id": "student_03"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestTrajectoryEndpoint_RefreshIsRateLimited(t *testing.T) {
	a := newTestApp(t)
	refresh := map[string]interface{}{"user_id": database.SeedTeacherID, "student_id": "student_07", "refresh": true}

	w := a.do(t, http.MethodPost, "/api/trajectory", refresh, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Refresh-Remaining"))

	w = a.do(t, http.MethodPost, "/api/trajectory", refresh, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decode(t, w)["code"])

	// plain reads are not limited by the refresh budget
	plain := map[string]interface{}{"user_id": database.SeedTeacherID, "student_id": "student_07"}
	w = a.do(t, http.MethodPost, "/api/trajectory", plain, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// an administrator can restore the budget
	w = a.do(t, http.MethodDelete, "/api/admin/ratelimit/users/"+database.SeedTeacherID, nil,
		map[string]string{"X-User-ID": database.SeedAdminID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, "/api/trajectory", refresh, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTrajectoryEndpoint_ConcurrentRequestsShareOneComputation(t *testing.T) {
	a := newTestApp(t)
	body := map[string]interface{}{"user_id": database.SeedTeacherID, "student_id": "student_15"}

	const callers = 16
	codes := make([]int, callers)
	risks := make([]int, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := a.do(t, http.MethodPost, "/api/trajectory", body, nil)
			codes[i] = w.Code
			var resp trajectory.Response
			if json.Unmarshal(w.Body.Bytes(), &resp) == nil {
				risks[i] = resp.State.Risk
			}
		}(i)
	}
	wg.Wait()

	for i := range codes {
		assert.Equal(t, http.StatusOK, codes[i])
		assert.Equal(t, risks[0], risks[i])
	}
	assert.Equal(t, int64(1), a.metrics.GetStats()["trajectory_computations"])
}

func TestAdminRoutes(t *testing.T) {
	a := newTestApp(t)

	tests := []struct {
		name       string
		userID     string
		wantStatus int
	}{
		{name: "admin", userID: database.SeedAdminID, wantStatus: http.StatusOK},
		{name: "teacher", userID: database.SeedTeacherID, wantStatus: http.StatusForbidden},
		{name: "anonymous", userID: "", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.userID != "" {
				headers["X-User-ID"] = tt.userID
			}
			w := a.do(t, http.MethodGet, "/api/admin/sources", nil, headers)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantStatus == http.StatusOK {
				body := decode(t, w)
				assert.Contains(t, body, "sources")
				assert.Contains(t, body, "sqlite_pool")
				assert.Contains(t, body, "rate_limiter")
				assert.Contains(t, body, "result_cache")
			}
		})
	}
}

func TestMetricsAndRateLimitStatus(t *testing.T) {
	a := newTestApp(t)

	a.do(t, http.MethodPost, "/api/trajectory",
		map[string]interface{}{"user_id": database.SeedTeacherID, "student_id": "student_02"}, nil)

	w := a.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Contains(t, body, "stats")
	stats := body["stats"].(map[string]interface{})
	assert.EqualValues(t, 1, stats["trajectory_computations"])
	assert.Contains(t, body, "status_codes")

	w = a.do(t, http.MethodGet, "/api/ratelimit", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "limits")
}

func TestSwaggerDoc(t *testing.T) {
	a := newTestApp(t)

	w := a.do(t, http.MethodGet, "/swagger/doc.json", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/trajectory")
	assert.Contains(t, w.Body.String(), "predicted_risk_drop")
}

func TestNewApp_BadCalibration(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, writeFile(filepath.Join(cfg.Engine.CalibrationDir, "default.json"), "{not json"))

	_, err := newApp(context.Background(), cfg, monitoring.NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calibration")
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
