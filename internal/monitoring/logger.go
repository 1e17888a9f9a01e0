// Package monitoring holds the process-wide diagnostic log streams shared by
// the fatigue engine, frame sources and command-line tools.
//
// There are three streams:
//   - ops:   lifecycle events and actionable warnings (calibration, resets,
//     level changes, alerts)
//   - diag:  day-to-day diagnostics (skipped frames, rejected events)
//   - trace: per-frame telemetry, normally disabled
//
// A nil writer disables a stream.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   = newLogger("[fatigue] ", os.Stderr)
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// Logf is the package-level diagnostic logger. It defaults to the ops stream
// but may be replaced by SetLogger. Tests or production code can redirect or
// mute it.
var Logf func(format string, v ...interface{}) = Opsf

// SetLogger replaces Logf. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger("[fatigue] ", w.Ops)
	diagLogger = newLogger("[fatigue] ", w.Diag)
	traceLogger = newLogger("[fatigue] ", w.Trace)
}

// newLogger creates a *log.Logger for a given writer, or returns nil if w is nil.
func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream. Callers on the per-frame path should
// check TraceEnabled first to avoid formatting cost.
func Tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// TraceEnabled reports whether the trace stream has a writer.
func TraceEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return traceLogger != nil
}
