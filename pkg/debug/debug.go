// Package debug configures the process logger and gates verbose
// diagnostics behind named categories.
//
// The log level decides how much slog prints overall. Categories decide
// which subsystems emit their debug lines at all, so AUTHCORE_DEBUG=oauth
// with level DEBUG shows provider exchanges without every authenticated
// request. At TRACE, upstream payloads are logged untruncated.
//
//	debug.Log(debug.OAuth, "token exchange", "provider", name)
//
// Tokens and secrets are passed through Mask before they reach a log line.
package debug

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Category names a subsystem whose debug output can be switched on.
type Category string

const (
	Auth      Category = "auth"
	Sessions  Category = "sessions"
	OAuth     Category = "oauth"
	Storage   Category = "storage"
	Transport Category = "transport"
	Config    Category = "config"

	// All enables every category.
	All Category = "all"
)

var known = map[Category]bool{
	Auth: true, Sessions: true, OAuth: true, Storage: true, Transport: true, Config: true, All: true,
}

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

// bodyLimit is how much of an upstream payload is logged below TRACE.
const bodyLimit = 256

type categorySet map[Category]bool

var active atomic.Pointer[categorySet]

func init() {
	active.Store(&categorySet{})
}

// Options configures Setup.
type Options struct {
	// Categories is a comma-separated list such as "oauth,sessions".
	Categories string
	// Level is one of TRACE, DEBUG, INFO, WARN, ERROR. Empty means INFO.
	Level string
	// Format is "text" or "json". Empty means text.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// Setup enables the requested categories and returns a logger for the
// requested level and format. Unknown categories, levels and formats are
// reported together; the category set is only replaced on success.
func Setup(opts Options) (*slog.Logger, error) {
	var errs []error

	cats, unknown := parseCategories(opts.Categories)
	for _, c := range unknown {
		errs = append(errs, fmt.Errorf("unknown debug category %q", c))
	}
	level, err := ParseLevel(opts.Level)
	if err != nil {
		errs = append(errs, err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: levelNames}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", opts.Format))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	active.Store(&cats)
	return slog.New(handler), nil
}

// levelNames prints TRACE instead of slog's "DEBUG-4".
func levelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// Enabled reports whether cat has been switched on.
func Enabled(cat Category) bool {
	set := *active.Load()
	return set[All] || set[cat]
}

// Log emits a DEBUG record tagged with cat when cat is enabled.
func Log(cat Category, msg string, args ...any) {
	if !Enabled(cat) {
		return
	}
	slog.Debug(msg, append([]any{"category", string(cat)}, args...)...)
}

func traceEnabled(cat Category) bool {
	return Enabled(cat) && slog.Default().Enabled(context.Background(), LevelTrace)
}

// Body renders an upstream payload for a log line: complete at TRACE,
// otherwise cut to a short prefix.
func Body(cat Category, b []byte) string {
	if traceEnabled(cat) {
		return string(b)
	}
	return Truncate(string(b), bodyLimit)
}

// ParseLevel converts a level name to a slog.Level. Matching is
// case-insensitive and the empty string is INFO.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Truncate cuts s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Mask keeps the last four characters of a secret. Anything of four
// characters or fewer is hidden entirely.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return "..."
	}
	return "..." + secret[len(secret)-4:]
}

func parseCategories(s string) (categorySet, []string) {
	set := categorySet{}
	var unknown []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !known[Category(part)] {
			unknown = append(unknown, part)
			continue
		}
		set[Category(part)] = true
	}
	return set, unknown
}
