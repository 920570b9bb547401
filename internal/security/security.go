package security

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/database"
	apperrors "github.com/ZanzyTHEbar/resonance-trajectory/internal/errors"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/monitoring"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/types"
	"github.com/gin-gonic/gin"
)

// Context keys set by the middleware in this package
const (
	UserIDKey            = "user_id"
	UserKey              = "user"
	TrajectoryRequestKey = "trajectory_request"

	// UserIDHeader identifies the caller on routes without a JSON body
	UserIDHeader = "X-User-ID"
)

// SecurityConfig holds security configuration
type SecurityConfig struct {
	MaxIDLength    int           `json:"max_id_length"`
	MaxBudget      float64       `json:"max_budget"`
	AllowedOrigins []string      `json:"allowed_origins"`
	TrustedProxies []string      `json:"trusted_proxies"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableHSTS     bool          `json:"enable_hsts"`
}

// DefaultSecurityConfig returns secure defaults
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxIDLength:    64,
		MaxBudget:      1000,
		AllowedOrigins: []string{"http://localhost:1420", "http://localhost:5173"},
		TrustedProxies: []string{"127.0.0.1", "::1"},
		RequestTimeout: 30 * time.Second,
	}
}

// UserLookup resolves staff accounts for the role gate
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*database.User, error)
}

// SecurityMiddleware validates requests and gates them by role
type SecurityMiddleware struct {
	config SecurityConfig
	logger *monitoring.Logger
}

// NewSecurityMiddleware creates a new security middleware instance
func NewSecurityMiddleware(config SecurityConfig, logger *monitoring.Logger) *SecurityMiddleware {
	if config.MaxIDLength <= 0 {
		config.MaxIDLength = 64
	}
	if logger == nil {
		logger = monitoring.NopLogger()
	}
	return &SecurityMiddleware{config: config, logger: logger}
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

// ValidateID checks a user or student identifier
func (sm *SecurityMiddleware) ValidateID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(id) > sm.config.MaxIDLength {
		return fmt.Errorf("%s exceeds maximum length of %d characters", field, sm.config.MaxIDLength)
	}
	if strings.Contains(id, "\x00") || !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s has an invalid format", field)
	}
	return nil
}

// validateAmount accepts nil or a finite value in [0, max]
func validateAmount(field string, v *float64, limit float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return fmt.Errorf("%s must be a non-negative number", field)
	}
	if limit > 0 && *v > limit {
		return fmt.Errorf("%s must not exceed %s", field, strconv.FormatFloat(limit, 'f', -1, 64))
	}
	return nil
}

// ValidateTrajectoryRequest binds and validates the trajectory request body.
// The parsed request is stored under TrajectoryRequestKey.
func (sm *SecurityMiddleware) ValidateTrajectoryRequest(c *gin.Context) {
	var req types.TrajectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewValidationError("invalid request body", err.Error()))
		c.Abort()
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.StudentID = strings.TrimSpace(req.StudentID)

	problems := map[string]string{}
	if err := sm.ValidateID("user_id", req.UserID); err != nil {
		problems["user_id"] = err.Error()
	}
	if err := sm.ValidateID("student_id", req.StudentID); err != nil {
		problems["student_id"] = err.Error()
	}
	if err := validateAmount("budget", req.Budget, sm.config.MaxBudget); err != nil {
		problems["budget"] = err.Error()
	}
	if err := validateAmount("target_drop", req.TargetDrop, 100); err != nil {
		problems["target_drop"] = err.Error()
	}
	if len(problems) > 0 {
		for field, value := range map[string]string{"user_id": req.UserID, "student_id": req.StudentID} {
			if _, bad := problems[field]; bad && monitoring.LooksLikeInjection(value) {
				sm.logger.SecurityLogger("potential_injection", c.ClientIP(), c.Request.UserAgent(), map[string]interface{}{
					"field": field,
					"value": value,
				})
			}
		}
		_ = c.Error(apperrors.NewValidationErrorWithMap(problems))
		c.Abort()
		return
	}

	c.Set(TrajectoryRequestKey, &req)
	c.Set(UserIDKey, req.UserID)
	c.Next()
}

// TrajectoryRequest returns the request stored by ValidateTrajectoryRequest
func TrajectoryRequest(c *gin.Context) (*types.TrajectoryRequest, bool) {
	v, ok := c.Get(TrajectoryRequestKey)
	if !ok {
		return nil, false
	}
	req, ok := v.(*types.TrajectoryRequest)
	return req, ok
}

// RequireRole admits active users whose role is one of roles. The user id comes
// from a preceding validation step or from the X-User-ID header.
func (sm *SecurityMiddleware) RequireRole(users UserLookup, roles ...database.Role) gin.HandlerFunc {
	allowed := make(map[database.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		userID := c.GetString(UserIDKey)
		if userID == "" {
			userID = strings.TrimSpace(c.GetHeader(UserIDHeader))
		}
		if err := sm.ValidateID("user_id", userID); err != nil {
			sm.deny(c, "missing_user", userID, "user not found or inactive")
			return
		}

		user, err := users.GetUser(c.Request.Context(), userID)
		if errors.Is(err, database.ErrUserNotFound) || (err == nil && !user.Active) {
			sm.deny(c, "unknown_user", userID, "user not found or inactive")
			return
		}
		if err != nil {
			_ = c.Error(fmt.Errorf("failed to look up user: %w", err))
			c.Abort()
			return
		}

		if !allowed[user.Role] {
			sm.deny(c, "role_denied", userID, fmt.Sprintf("role %s may not perform this action", user.Role))
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Set(UserKey, user)
		c.Next()
	}
}

func (sm *SecurityMiddleware) deny(c *gin.Context, event, userID, message string) {
	sm.logger.SecurityLogger(event, c.ClientIP(), c.Request.UserAgent(), map[string]interface{}{
		"user_id": userID,
		"path":    c.Request.URL.Path,
	})
	_ = c.Error(apperrors.NewForbiddenError(message))
	c.Abort()
}

// ValidateContentType rejects bodies that are not JSON
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	if c.Request.ContentLength == 0 {
		c.Next()
		return
	}

	contentType := strings.ToLower(c.GetHeader("Content-Type"))
	if !strings.HasPrefix(contentType, "application/json") {
		_ = c.Error(apperrors.NewValidationError("unsupported content type", contentType))
		c.Abort()
		return
	}

	c.Next()
}

// RequestTimeout bounds the request context
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	if sm.config.RequestTimeout <= 0 {
		c.Next()
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))

	c.Next()
}
