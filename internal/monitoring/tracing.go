package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in and out of the service
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	spanKey
)

// SpanStatus represents the status of a span
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
)

// Span times one stage of a request
type Span struct {
	RequestID string
	SpanID    string
	ParentID  string
	Operation string
	StartTime time.Time
	Duration  time.Duration
	Status    SpanStatus
	Error     string
	Tags      map[string]string
}

// Tracer logs spans for pipeline stages
type Tracer struct {
	serviceName string
	logger      *Logger
}

// NewTracer creates a new tracer instance
func NewTracer(serviceName string, logger *Logger) *Tracer {
	if logger == nil {
		logger = NopLogger()
	}
	return &Tracer{serviceName: serviceName, logger: logger}
}

// WithRequestID stores a request id on ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id on ctx, or "" if there is none
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// StartSpan starts a span as a child of any span already on ctx
func (t *Tracer) StartSpan(ctx context.Context, operation string, tags ...string) (*Span, context.Context) {
	span := &Span{
		RequestID: RequestID(ctx),
		SpanID:    uuid.NewString()[:8],
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanStatusOK,
		Tags:      make(map[string]string, len(tags)/2),
	}
	if parent, ok := ctx.Value(spanKey).(*Span); ok {
		span.ParentID = parent.SpanID
	}
	for i := 0; i+1 < len(tags); i += 2 {
		span.Tags[tags[i]] = tags[i+1]
	}
	return span, context.WithValue(ctx, spanKey, span)
}

// EndSpan records the outcome of span and logs it
func (t *Tracer) EndSpan(span *Span, err error) {
	span.Duration = time.Since(span.StartTime)
	if err != nil {
		span.Status = SpanStatusError
		span.Error = err.Error()
	}

	entry := []any{
		"service", t.serviceName,
		"request_id", span.RequestID,
		"span_id", span.SpanID,
		"operation", span.Operation,
		"status", span.Status,
		"duration_ms", span.Duration.Milliseconds(),
	}
	if span.ParentID != "" {
		entry = append(entry, "parent_id", span.ParentID)
	}
	if span.Error != "" {
		entry = append(entry, "error", span.Error)
	}
	for k, v := range span.Tags {
		entry = append(entry, fmt.Sprintf("tag_%s", k), v)
	}
	t.logger.Debug("Trace Span", entry...)
}

// Trace runs fn inside a span
func (t *Tracer) Trace(ctx context.Context, operation string, fn func(context.Context) error) error {
	span, spanCtx := t.StartSpan(ctx, operation)
	err := fn(spanCtx)
	t.EndSpan(span, err)
	return err
}

// RequestIDMiddleware assigns every request an id, reusing a well-formed inbound one
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}
