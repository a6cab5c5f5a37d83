package diag

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestReporterTextFormat(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, "text")
	r.Warning("vecadd:%st", "recurrence distance is not constant")
	r.Errorf("port %s has no assignment", "sub0_v1_")

	got := buf.String()
	want := "vecadd:%st: warning: recurrence distance is not constant\nerror: port sub0_v1_ has no assignment\n"
	if got != want {
		t.Fatalf("unexpected text output:\n%s\nwant:\n%s", got, want)
	}
	if !r.HasErrors() {
		t.Fatalf("expected HasErrors after Errorf")
	}
	if len(r.Warnings()) != 1 {
		t.Fatalf("expected one warning, got %d", len(r.Warnings()))
	}
}

func TestReporterJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, "json")
	r.Warning("", "fifo depth 12 required")
	if r.HasErrors() {
		t.Fatalf("warnings must not count as errors")
	}
	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, `"severity":"warning"`) || !strings.Contains(line, `"message":"fifo depth 12 required"`) {
		t.Fatalf("unexpected json diagnostic %q", line)
	}
}

func TestErrorClassesSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("inject: %w: port %d assigned twice", ErrInternal, 3)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected wrapped error to match ErrInternal")
	}
	if errors.Is(err, ErrUnsupported) {
		t.Fatalf("error classes must stay distinct")
	}
}
