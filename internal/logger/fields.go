package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so aggregation and
// querying (grep, Loki, whatever) stays uniform across the pipeline, the
// job manager, and the API.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Pipeline & Device Identity
	// ========================================================================
	KeyComponent = "component"  // pipeline stage: parser, rawlog, reconstructor, resolver, jobs, api
	KeyDeviceKey = "device_key" // canonical firewall identifier
	KeyRecordKind = "record_kind" // CONN, DEVICE, other
	KeyParseStatus = "parse_status" // ok, error

	// ========================================================================
	// Flow / Event identity
	// ========================================================================
	KeyProto    = "proto"     // tcp, udp, icmp, ...
	KeySrcIP    = "src_ip"    // source address
	KeySrcPort  = "src_port"  // source port
	KeyDstIP    = "dst_ip"    // destination address
	KeyDstPort  = "dst_port"  // destination port
	KeyOpenTS   = "open_ts"   // flow open timestamp
	KeyCloseTS  = "close_ts"  // flow close timestamp
	KeyRawLogID = "raw_log_id" // raw_log surrogate id that produced an event

	// ========================================================================
	// Job manager
	// ========================================================================
	KeyJobID    = "job_id"    // ingest_job UUID
	KeyJobKind  = "job_kind"  // import, purge, cleanup
	KeyJobPhase = "job_phase" // uploading, parsing, storing, indexing, vacuum
	KeyProgress = "progress"  // 0..1

	// ========================================================================
	// Client / network identification
	// ========================================================================
	KeyClientIP   = "client_ip"   // UDP peer or HTTP client address
	KeyClientPort = "client_port" // UDP peer or HTTP client port

	// ========================================================================
	// HTTP
	// ========================================================================
	KeyRequestID = "request_id" // chi request id
	KeyMethod    = "method"
	KeyPath      = "path"
	KeyStatus    = "status"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyErrorCode  = "error_code"  // taxonomy error code (see internal/netwallerr)
	KeySource     = "source"      // data source / backend name
	KeyOperation  = "operation"   // sub-operation type for complex operations
	KeyAttempt    = "attempt"     // retry attempt number
	KeyMaxRetries = "max_retries" // maximum retry attempts

	// ========================================================================
	// Batching / counters
	// ========================================================================
	KeyBatchSize = "batch_size"
	KeyCount     = "count"
	KeyDropped   = "dropped"
)

// ----------------------------------------------------------------------------
// Field constructors for type safety
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// Component returns a slog.Attr for the pipeline stage/subsystem
func Component(name string) slog.Attr { return slog.String(KeyComponent, name) }

// DeviceKey returns a slog.Attr for the firewall device_key
func DeviceKey(key string) slog.Attr { return slog.String(KeyDeviceKey, key) }

// RecordKind returns a slog.Attr for the parsed record kind
func RecordKind(kind string) slog.Attr { return slog.String(KeyRecordKind, kind) }

// ParseStatus returns a slog.Attr for parse outcome
func ParseStatus(status string) slog.Attr { return slog.String(KeyParseStatus, status) }

// Proto returns a slog.Attr for the transport protocol
func Proto(p string) slog.Attr { return slog.String(KeyProto, p) }

// SrcIP returns a slog.Attr for the flow source address
func SrcIP(ip string) slog.Attr { return slog.String(KeySrcIP, ip) }

// SrcPort returns a slog.Attr for the flow source port
func SrcPort(port int) slog.Attr { return slog.Int(KeySrcPort, port) }

// DstIP returns a slog.Attr for the flow destination address
func DstIP(ip string) slog.Attr { return slog.String(KeyDstIP, ip) }

// DstPort returns a slog.Attr for the flow destination port
func DstPort(port int) slog.Attr { return slog.Int(KeyDstPort, port) }

// RawLogID returns a slog.Attr for the originating raw_log surrogate id
func RawLogID(id int64) slog.Attr { return slog.Int64(KeyRawLogID, id) }

// JobID returns a slog.Attr for an ingest_job id
func JobID(id string) slog.Attr { return slog.String(KeyJobID, id) }

// JobKind returns a slog.Attr for the job kind
func JobKind(kind string) slog.Attr { return slog.String(KeyJobKind, kind) }

// JobPhase returns a slog.Attr for the job's current phase
func JobPhase(phase string) slog.Attr { return slog.String(KeyJobPhase, phase) }

// Progress returns a slog.Attr for job progress in [0,1]
func Progress(p float64) slog.Attr { return slog.Float64(KeyProgress, p) }

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr { return slog.String(KeyClientIP, addr) }

// ClientPort returns a slog.Attr for client source port
func ClientPort(port int) slog.Attr { return slog.Int(KeyClientPort, port) }

// RequestIDStr returns a slog.Attr for request ID as string
func RequestIDStr(id string) slog.Attr { return slog.String(KeyRequestID, id) }

// Method returns a slog.Attr for HTTP method
func Method(m string) slog.Attr { return slog.String(KeyMethod, m) }

// Path returns a slog.Attr for HTTP path
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// Status returns a slog.Attr for HTTP/operation status code
func Status(code int) slog.Attr { return slog.Int(KeyStatus, code) }

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for the taxonomy error code
func ErrorCode(code string) slog.Attr { return slog.String(KeyErrorCode, code) }

// Source returns a slog.Attr for data source / backend name
func Source(src string) slog.Attr { return slog.String(KeySource, src) }

// Operation returns a slog.Attr for sub-operation type
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr { return slog.Int(KeyMaxRetries, n) }

// BatchSize returns a slog.Attr for a batch size
func BatchSize(n int) slog.Attr { return slog.Int(KeyBatchSize, n) }

// Count returns a slog.Attr for a generic count
func Count(n int) slog.Attr { return slog.Int(KeyCount, n) }

// Dropped returns a slog.Attr for a dropped-item counter
func Dropped(n int64) slog.Attr { return slog.Int64(KeyDropped, n) }
