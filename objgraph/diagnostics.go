package objgraph

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// Diagnostics receives non-fatal errors and warnings raised during a session.
// *log.Logger from github.com/charmbracelet/log satisfies it.
type Diagnostics interface {
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

// NewDiagnostics returns a diagnostic sink writing to w at the given level.
func NewDiagnostics(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix: "objgraph",
		Level:  level,
	})
}

// discardDiagnostics is the default sink.
var discardDiagnostics Diagnostics = log.New(io.Discard)

// RecordedDiagnostic is one message captured by a DiagnosticRecorder.
type RecordedDiagnostic struct {
	Level   log.Level
	Message string
	KeyVals []any
}

// DiagnosticRecorder collects diagnostics in memory. It is meant for tests and
// for callers that report problems after a session completes.
type DiagnosticRecorder struct {
	Entries []RecordedDiagnostic
}

// Warn implements Diagnostics.
func (d *DiagnosticRecorder) Warn(msg any, keyvals ...any) {
	d.record(log.WarnLevel, msg, keyvals)
}

// Error implements Diagnostics.
func (d *DiagnosticRecorder) Error(msg any, keyvals ...any) {
	d.record(log.ErrorLevel, msg, keyvals)
}

// Count returns the number of entries recorded at level.
func (d *DiagnosticRecorder) Count(level log.Level) int {
	n := 0
	for _, e := range d.Entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

func (d *DiagnosticRecorder) record(level log.Level, msg any, keyvals []any) {
	d.Entries = append(d.Entries, RecordedDiagnostic{Level: level, Message: fmt.Sprint(msg), KeyVals: keyvals})
}
