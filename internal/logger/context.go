package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context. It is attached to the
// context.Context flowing through the ingest pipeline and the HTTP handlers
// so every log line emitted while handling a record or a request carries
// consistent correlation fields.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	Component string    // pipeline stage or subsystem: parser, reconstructor, resolver, jobs, api
	DeviceKey string    // firewall device_key being processed, if any
	JobID     string    // ingest_job UUID, if the work belongs to a job
	ClientIP  string    // remote address (UDP peer or HTTP client)
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext with the given client IP
func NewLogContext(clientIP string) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		Component: lc.Component,
		DeviceKey: lc.DeviceKey,
		JobID:     lc.JobID,
		ClientIP:  lc.ClientIP,
		StartTime: lc.StartTime,
	}
}

// WithComponent returns a copy with the component set
func (lc *LogContext) WithComponent(component string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Component = component
	}
	return clone
}

// WithDevice returns a copy with the device_key set
func (lc *LogContext) WithDevice(deviceKey string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.DeviceKey = deviceKey
	}
	return clone
}

// WithJob returns a copy with the job id set
func (lc *LogContext) WithJob(jobID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.JobID = jobID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
