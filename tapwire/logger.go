package tapwire

import (
	"io"
	"log"
	"strings"
)

// Diagnostic log levels, in increasing severity. LevelNone silences the
// logger entirely.
type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelWarn
	levelError
	levelNone
)

func parseLogLevel(s string) logLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn", "warning":
		return levelWarn
	case "", "error":
		return levelError
	case "none", "off":
		return levelNone
	default:
		return levelError
	}
}

// diag is the leveled wrapper around the host-provided diagnostic sink.
// Engine failures are reported here and nowhere else; they never surface to
// the proxied transaction.
type diag struct {
	out   *log.Logger
	level logLevel
}

func newDiag(logger *log.Logger, level string) *diag {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &diag{out: logger, level: parseLogLevel(level)}
}

func (d *diag) Debugf(format string, args ...any) { d.printf(levelDebug, format, args...) }
func (d *diag) Infof(format string, args ...any)  { d.printf(levelInfo, format, args...) }
func (d *diag) Warnf(format string, args ...any)  { d.printf(levelWarn, format, args...) }
func (d *diag) Errorf(format string, args ...any) { d.printf(levelError, format, args...) }

func (d *diag) printf(level logLevel, format string, args ...any) {
	if d == nil || level < d.level {
		return
	}
	d.out.Printf(format, args...)
}
