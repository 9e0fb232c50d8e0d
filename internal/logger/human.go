package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const maxInlineAttrs = 5

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// successWords mark info messages that get the ✓ prefix.
var successWords = []string{"completed", "applied", "cleared", "ready", "passed"}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// HumanHandlerOptions configures HumanHandler.
type HumanHandlerOptions struct {
	Level     slog.Level
	UseColors bool
}

// HumanHandler writes one line per record:
//
//	15:04:05 ✓ filter applied layer=albedo expression=AlbedoMean <= 0.5
type HumanHandler struct {
	opts  HumanHandlerOptions
	w     io.Writer
	attrs []slog.Attr
}

func NewHumanHandler(w io.Writer, opts *HumanHandlerOptions) *HumanHandler {
	h := &HumanHandler{w: w, opts: HumanHandlerOptions{Level: slog.LevelInfo}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *HumanHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

func (h *HumanHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]string, 0, r.NumAttrs()+len(h.attrs))
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, formatAttr(a))
		return true
	})
	for _, a := range h.attrs {
		fields = append(fields, formatAttr(a))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s", r.Time.Format("15:04:05"), h.prefix(r.Level, r.Message), r.Message)
	if n := len(fields); n > 0 {
		shown := fields
		if n > maxInlineAttrs {
			shown = fields[:maxInlineAttrs]
		}
		sb.WriteString(" " + strings.Join(shown, " "))
		if n > maxInlineAttrs {
			fmt.Fprintf(&sb, " (+%d more)", n-maxInlineAttrs)
		}
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

// WithGroup is a no-op: the human format prints attributes flat.
func (h *HumanHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *HumanHandler) prefix(level slog.Level, message string) string {
	symbol, color := "·", ansiReset
	switch {
	case level >= slog.LevelError:
		symbol, color = "✗", ansiRed
	case level >= slog.LevelWarn:
		symbol, color = "⚠", ansiYellow
	case level >= slog.LevelInfo && isSuccess(message):
		symbol, color = "✓", ansiGreen
	case level >= slog.LevelInfo:
		symbol, color = "ℹ", ansiCyan
	}
	if !h.opts.UseColors {
		return symbol
	}
	return color + symbol + ansiReset
}

func isSuccess(message string) bool {
	lower := strings.ToLower(message)
	for _, w := range successWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func formatAttr(a slog.Attr) string {
	switch v := a.Value.Any().(type) {
	case time.Duration:
		return a.Key + "=" + formatDuration(v)
	case float64:
		return fmt.Sprintf("%s=%.2f", a.Key, v)
	default:
		return fmt.Sprintf("%s=%v", a.Key, v)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
