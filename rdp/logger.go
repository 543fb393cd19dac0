package rdp

import (
	"context"
	"log/slog"
)

// levelTrace sits below slog.LevelDebug for per-segment chatter that is
// too noisy even for debug builds, mirroring the teacher's own extra
// logging level below the stdlib's four.
const levelTrace = slog.LevelDebug - 2

// logger is embedded in Handle and Conn so every component can log through
// the same lazily-evaluated attribute helpers without holding a logger
// reference of its own.
type logger struct {
	log *slog.Logger
}

func (l *logger) logenabled(lvl slog.Level) bool {
	return l.log != nil && l.log.Handler().Enabled(context.Background(), lvl)
}

func (l *logger) logattrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	if l.log == nil {
		return
	}
	if !l.logenabled(lvl) {
		return
	}
	l.log.LogAttrs(context.Background(), lvl, msg, attrs...)
}

func (l *logger) trace(msg string, attrs ...slog.Attr) { l.logattrs(levelTrace, msg, attrs...) }
func (l *logger) debug(msg string, attrs ...slog.Attr) { l.logattrs(slog.LevelDebug, msg, attrs...) }
func (l *logger) info(msg string, attrs ...slog.Attr)  { l.logattrs(slog.LevelInfo, msg, attrs...) }
func (l *logger) logerr(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelError, msg, attrs...)
}
