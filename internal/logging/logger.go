// Package logging defines the structured-logging interface shared by every
// component in the reader core, and a default slog-backed implementation.
package logging

import (
	"log/slog"
	"os"
)

// Logger is the structured logging interface every component logs through.
// Using an interface instead of a concrete *slog.Logger lets tests inject a
// capturing logger without touching global state.
//
// Example:
//
//	logger.Info("card scanned", "uid", uidHex, "seq", seq)
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// SlogLogger adapts *slog.Logger to Logger.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlog wraps an existing *slog.Logger. A nil logger falls back to
// slog.Default().
func NewSlog(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

// NewJSON returns a Logger writing JSON records to os.Stderr, tagging each
// record with component, matching the firmware's "each subsystem tags its
// own log lines" style.
func NewJSON(component string) *SlogLogger {
	h := slog.NewJSONHandler(os.Stderr, nil)
	return &SlogLogger{l: slog.New(h).With("component", component)}
}

func (s *SlogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
func (s *SlogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }

// Nop discards everything. Useful as a safe default for components that were
// constructed without an explicit logger.
type Nop struct{}

func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
func (Nop) Debug(string, ...any) {}
