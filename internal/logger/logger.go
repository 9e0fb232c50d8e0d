// Package logger provides structured logging for the viewer runtime.
// It wraps log/slog so every package logs with the same handler and
// snake_case field names.
//
// Console output is either JSON (default) or a human format with
// status prefixes; see SetLevelAndFormat and SetLogFile.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is the process-wide logger. Replace it with SetLevelAndFormat
// or SetLogFile rather than assigning directly.
var Logger = slog.New(newConsoleHandler(os.Stdout, slog.LevelInfo, FormatJSON))

// OutputFormat selects the console encoding.
type OutputFormat int

const (
	FormatJSON OutputFormat = iota
	FormatHuman
)

func (f OutputFormat) String() string {
	if f == FormatHuman {
		return "human"
	}
	return "json"
}

// ParseFormat maps a --log-format value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "human":
		return FormatHuman, nil
	}
	return FormatJSON, fmt.Errorf("unknown log format %q (want json or human)", s)
}

// SetLevelAndFormat replaces Logger with a console logger.
func SetLevelAndFormat(level slog.Level, format OutputFormat) {
	Logger = slog.New(newConsoleHandler(os.Stdout, level, format))
}

func newConsoleHandler(w io.Writer, level slog.Level, format OutputFormat) slog.Handler {
	if format == FormatHuman {
		return NewHumanHandler(w, &HumanHandlerOptions{Level: level, UseColors: isTerminal(w)})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

func Info(msg string, args ...any)  { Logger.Info(msg, args...) }
func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }
func Warn(msg string, args ...any)  { Logger.Warn(msg, args...) }
func Error(msg string, args ...any) { Logger.Error(msg, args...) }

// WithLayer returns a logger tagged with a feature collection name.
func WithLayer(name string) *slog.Logger {
	return Logger.With("layer", name)
}

// OperationContext identifies a user-visible operation for logging.
type OperationContext struct {
	SessionID string
	// Operation is apply_filter, clear_filter, query, validate...
	Operation string
	Layer     string
	Endpoint  string
}

func (c OperationContext) attrs() []any {
	var b attrs
	b.str("session_id", c.SessionID)
	b.str("operation", c.Operation)
	b.str("layer", c.Layer)
	b.str("endpoint", c.Endpoint)
	return b
}

// ErrorContext is the structured payload of LogError. Zero fields are omitted.
type ErrorContext struct {
	SessionID  string
	Operation  string
	Layer      string
	ErrorCode  string
	Err        error
	Expression string
	Endpoint   string
	HTTPStatus int
	Duration   time.Duration
	Extra      map[string]interface{}

	// ErrorMessage overrides Err.Error() in the "error" field.
	ErrorMessage string
}

// QueryMetrics summarizes a batch of feature service requests.
type QueryMetrics struct {
	TotalDuration  time.Duration
	Requests       int
	RequestsFailed int
	Features       int
	AvgRequestTime time.Duration
}

// LogOperationStart logs the start of an operation at debug level.
func LogOperationStart(ctx OperationContext) {
	Logger.Debug("operation started", ctx.attrs()...)
}

// LogOperationEnd logs an operation's outcome.
func LogOperationEnd(ctx OperationContext, status string, featureCount int, duration time.Duration) {
	a := attrs(ctx.attrs())
	a = append(a,
		slog.String("status", status),
		slog.Int("feature_count", featureCount),
		slog.Duration("duration", duration),
	)
	Logger.Info("operation completed", a...)
}

// LogMetrics logs request metrics collected over a batch of queries.
func LogMetrics(ctx OperationContext, m QueryMetrics) {
	a := attrs(ctx.attrs())
	a = append(a,
		slog.Duration("total_duration", m.TotalDuration),
		slog.Int("requests", m.Requests),
		slog.Int("requests_failed", m.RequestsFailed),
		slog.Int("features", m.Features),
		slog.Duration("avg_request_time", m.AvgRequestTime),
	)
	Logger.Info("query metrics", a...)
}

// LogError logs an error with its operation context and unwrap chain.
func LogError(message string, ec ErrorContext) {
	var b attrs
	b.str("session_id", ec.SessionID)
	b.str("operation", ec.Operation)
	b.str("layer", ec.Layer)
	b.str("error_code", ec.ErrorCode)

	msg := ec.ErrorMessage
	if msg == "" && ec.Err != nil {
		msg = ec.Err.Error()
	}
	b.str("error", msg)
	if ec.Err != nil {
		b = append(b, slog.String("error_type", fmt.Sprintf("%T", ec.Err)))
		if chain := unwrapChain(ec.Err); len(chain) > 1 {
			b = append(b, slog.String("error_chain", strings.Join(chain, " -> ")))
		}
	}

	b.str("expression", ec.Expression)
	b.str("endpoint", ec.Endpoint)
	if ec.HTTPStatus > 0 {
		b = append(b, slog.Int("http_status", ec.HTTPStatus))
	}
	if ec.Duration > 0 {
		b = append(b, slog.Duration("duration", ec.Duration))
	}
	for k, v := range ec.Extra {
		b = append(b, slog.Any(k, v))
	}
	Logger.Error(message, b...)
}

func unwrapChain(err error) []string {
	var chain []string
	for ; err != nil; err = errors.Unwrap(err) {
		chain = append(chain, err.Error())
	}
	return chain
}

// attrs accumulates slog key/value args, skipping empty strings.
type attrs []any

func (a *attrs) str(key, value string) {
	if value != "" {
		*a = append(*a, slog.String(key, value))
	}
}
