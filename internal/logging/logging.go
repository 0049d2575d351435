// Package logging builds the structured loggers of hayabusa processes and
// keeps large search payloads out of log lines.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hayabusa-search/hayabusa/pkg/types"
)

// New returns a JSON logger writing to w at the named level. Unknown level
// names fall back to info.
func New(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Truncate cuts s to at most max bytes and marks the cut with "...". The cut
// backs off to a rune boundary so the result stays valid UTF-8. A max of
// zero or less disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Result renders a result message as a log group with stdout and stderr
// truncated to max bytes.
func Result(r *types.Result, max int) slog.Attr {
	return slog.Group("result",
		slog.String("type", string(r.Kind)),
		slog.String("id", r.ID),
		slog.Int("index", r.Index),
		slog.Int("commands", r.Total),
		slog.String("worker", r.Worker),
		slog.Int("exit_status", r.ExitStatus),
		slog.String("stdout", Truncate(r.Stdout, max)),
		slog.String("stderr", Truncate(r.Stderr, max)),
	)
}

// Delivery renders a final message as a log group with stdout and stderr
// truncated to max bytes.
func Delivery(d *types.Delivery, max int) slog.Attr {
	return slog.Group("delivery",
		slog.String("id", d.ID),
		slog.Int("exit_status", d.ExitStatus),
		slog.String("stdout", Truncate(d.Stdout, max)),
		slog.String("stderr", Truncate(d.Stderr, max)),
	)
}

// Elapsed formats a duration as "12.3s", "4m 5.0s" or "1h 2m 3.0s".
func Elapsed(d time.Duration) string {
	secs := d.Seconds()
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	mins := math.Floor(secs / 60)
	secs -= mins * 60
	if mins < 60 {
		return fmt.Sprintf("%dm %.1fs", int(mins), secs)
	}
	hours := math.Floor(mins / 60)
	mins -= hours * 60
	return fmt.Sprintf("%dh %dm %.1fs", int(hours), int(mins), secs)
}
