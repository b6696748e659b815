// Package report carries the line-oriented progress and status text of a
// backup or restore run to whoever invoked it.
package report

import (
	"fmt"
	"strings"
	"sync"
)

// Verbosity levels understood by Printf.
const (
	Quiet   = 0
	Normal  = 1
	Verbose = 2
	Debug   = 3
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

var (
	warningKeywords = []string{"warning", "skipping", "skipped", "cancelled"}
	errorKeywords   = []string{"error", "failed", "mismatch", "not found"}
)

// Classify derives a severity from the wording of a status line.
func Classify(text string) Severity {
	lower := strings.ToLower(text)
	for _, kw := range warningKeywords {
		if strings.Contains(lower, kw) {
			return SeverityWarning
		}
	}
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return SeverityError
		}
	}
	return SeverityInfo
}

type Line struct {
	Level    int
	Severity Severity
	Text     string
}

type Sink interface {
	Line(Line)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Line)

func (f SinkFunc) Line(l Line) { f(l) }

type Reporter struct {
	verbosity int
	sinks     []Sink
}

func New(verbosity int, sinks ...Sink) *Reporter {
	return &Reporter{verbosity: verbosity, sinks: sinks}
}

// Discard returns a reporter that drops every line.
func Discard() *Reporter { return &Reporter{} }

func (r *Reporter) Verbosity() int {
	if r == nil {
		return Quiet
	}
	return r.verbosity
}

// Enabled reports whether a line at level would be emitted.
func (r *Reporter) Enabled(level int) bool {
	return r != nil && level <= r.verbosity && len(r.sinks) > 0
}

func (r *Reporter) Printf(level int, format string, args ...any) {
	if !r.Enabled(level) {
		return
	}
	text := fmt.Sprintf(format, args...)
	line := Line{Level: level, Severity: Classify(text), Text: text}
	for _, s := range r.sinks {
		s.Line(line)
	}
}

// Recorder keeps every line it receives.
type Recorder struct {
	mu    sync.Mutex
	lines []Line
}

func (r *Recorder) Line(l Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, l)
}

func (r *Recorder) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Line(nil), r.lines...)
}

// Text joins the recorded lines with newlines.
func (r *Recorder) Text() string {
	var b strings.Builder
	for _, l := range r.Lines() {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
