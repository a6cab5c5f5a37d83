// Package diag collects user-facing diagnostics and defines the error classes
// shared by the analysis, emission and injection stages.
package diag

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/segmentio/encoding/json"
)

// Error classes. Stages wrap one of these with fmt.Errorf("stage: ...: %w")
// so the driver can tell an impossible graph apart from a construct that is
// simply not modelled yet.
var (
	// ErrInternal marks a graph that violates a structural invariant.
	ErrInternal = errors.New("internal consistency failure")
	// ErrUnsupported marks a pattern the analyses do not model.
	ErrUnsupported = errors.New("unsupported pattern")
	// ErrExternalTool marks a failed scheduler invocation.
	ErrExternalTool = errors.New("external tool failure")
	// ErrConfig marks missing or malformed configuration.
	ErrConfig = errors.New("configuration error")
	// ErrInput marks a malformed region description.
	ErrInput = errors.New("invalid input")
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic is one reported message.
type Diagnostic struct {
	Severity Severity `json:"-"`
	Level    string   `json:"severity"`
	At       string   `json:"at,omitempty"`
	Message  string   `json:"message"`
}

// Reporter writes diagnostics as they are reported and remembers them for
// later inspection.
type Reporter struct {
	mu       sync.Mutex
	w        io.Writer
	format   string
	diags    []Diagnostic
	errCount int
}

// NewReporter builds a reporter writing to w. format is "text" or "json";
// anything else falls back to text.
func NewReporter(w io.Writer, format string) *Reporter {
	if w == nil {
		w = io.Discard
	}
	if format != "json" {
		format = "text"
	}
	return &Reporter{w: w, format: format}
}

// Error reports an error attached to the location at (may be empty).
func (r *Reporter) Error(at, msg string) {
	r.add(Diagnostic{Severity: SeverityError, At: at, Message: msg})
}

// Errorf reports an error without a location.
func (r *Reporter) Errorf(format string, args ...interface{}) {
	r.add(Diagnostic{Severity: SeverityError, Message: fmt.Sprintf(format, args...)})
}

// Warning reports a non-fatal condition.
func (r *Reporter) Warning(at, msg string) {
	r.add(Diagnostic{Severity: SeverityWarning, At: at, Message: msg})
}

// Warningf reports a non-fatal condition without a location.
func (r *Reporter) Warningf(format string, args ...interface{}) {
	r.add(Diagnostic{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any error-level diagnostic was recorded.
func (r *Reporter) HasErrors() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errCount > 0
}

// Diagnostics returns a copy of everything reported so far.
func (r *Reporter) Diagnostics() []Diagnostic {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.diags))
	copy(out, r.diags)
	return out
}

// Warnings returns the warning-level diagnostics.
func (r *Reporter) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics() {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}

func (r *Reporter) add(d Diagnostic) {
	if r == nil {
		return
	}
	d.Level = d.Severity.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diags = append(r.diags, d)
	if d.Severity == SeverityError {
		r.errCount++
	}
	switch r.format {
	case "json":
		data, err := json.Marshal(d)
		if err != nil {
			fmt.Fprintf(r.w, "%s: %s\n", d.Level, d.Message)
			return
		}
		fmt.Fprintf(r.w, "%s\n", data)
	default:
		if d.At != "" {
			fmt.Fprintf(r.w, "%s: %s: %s\n", d.At, d.Level, d.Message)
			return
		}
		fmt.Fprintf(r.w, "%s: %s\n", d.Level, d.Message)
	}
}
