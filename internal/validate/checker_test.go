package validate

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"dsac/internal/dfg"
	"dsac/internal/dfgtest"
	"dsac/internal/diag"
	"dsac/internal/ir"
)

func runValidation(t *testing.T, f *dfg.File) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	reporter := diag.NewReporter(&buf, "text")
	err := CheckFile(f, reporter)
	return buf.String(), err
}

func TestValidateAcceptsFixtures(t *testing.T) {
	for name, r := range map[string]*dfgtest.Region{
		"vecadd":  dfgtest.VecAdd(8, 4),
		"reduce":  dfgtest.Reduce(2),
		"gather":  dfgtest.Gather(),
		"pipe":    dfgtest.Pipe(),
		"guarded": dfgtest.Guarded(true),
		"relax":   dfgtest.Relax(8),
	} {
		diagStr, err := runValidation(t, r.File)
		if err != nil {
			t.Fatalf("%s: expected success, got error %v with diagnostics %s", name, err, diagStr)
		}
		if diagStr != "" {
			t.Fatalf("%s: expected no diagnostics, got %q", name, diagStr)
		}
	}
}

func TestValidateRejectsSwappedMarkers(t *testing.T) {
	r := dfgtest.VecAdd(8, 1)
	r.File.Start, r.File.End = r.File.End, r.File.Start
	diagStr, err := runValidation(t, r.File)
	if err == nil {
		t.Fatalf("expected swapped markers to fail")
	}
	if !strings.Contains(diagStr, "start marker dfg.end is a config.end") {
		t.Fatalf("expected marker kind diagnostic, got %q", diagStr)
	}
}

func TestValidateRejectsMarkerOutsideFunction(t *testing.T) {
	r := dfgtest.VecAdd(8, 1)
	r.Fn.Erase(r.File.End)
	diagStr, err := runValidation(t, r.File)
	if err == nil {
		t.Fatalf("expected erased marker to fail")
	}
	if !strings.Contains(diagStr, "end marker dfg.end is not in vecadd") {
		t.Fatalf("expected marker placement diagnostic, got %q", diagStr)
	}
}

func TestValidateRejectsNonPositiveUnroll(t *testing.T) {
	r := dfgtest.VecAdd(8, 1)
	r.Graph(0).Unroll = 0
	diagStr, err := runValidation(t, r.File)
	if err == nil {
		t.Fatalf("expected zero unroll to fail")
	}
	if !strings.Contains(diagStr, "DFG0: error: unroll degree 0 is not positive") {
		t.Fatalf("expected unroll diagnostic, got %q", diagStr)
	}
}

func TestValidateRejectsSharedEntry(t *testing.T) {
	r := dfgtest.Pipe()
	shared := r.Graph(0).Entries[0]
	r.Graph(1).Entries = append(r.Graph(1).Entries, shared)
	diagStr, err := runValidation(t, r.File)
	if err == nil {
		t.Fatalf("expected shared entry to fail")
	}
	if !strings.Contains(diagStr, "MemPort already listed in DFG0") {
		t.Fatalf("expected ownership diagnostic, got %q", diagStr)
	}
}

func TestValidateRejectsSparseIndices(t *testing.T) {
	r := dfgtest.Scale()
	g := r.Graph(0)
	g.Entries = append(g.Entries[:1], g.Entries[2:]...)
	diagStr, err := runValidation(t, r.File)
	if err == nil {
		t.Fatalf("expected a gap in entry numbering to fail")
	}
	if !strings.Contains(diagStr, "ComputeBody numbered 2") {
		t.Fatalf("expected numbering diagnostic, got %q", diagStr)
	}
}

func TestValidateRejectsInstructionsOutsideRegion(t *testing.T) {
	r := dfgtest.VecAdd(8, 1)
	b := ir.NewBuilder(r.Fn)
	late := b.Binary(ir.OpAdd, "late", r.Fn.Param("a"), ir.ConstInt(64, 1))
	r.Graph(0).Add(&dfg.ComputeBody{Op: late})
	diagStr, err := runValidation(t, r.File)
	if err == nil {
		t.Fatalf("expected an instruction after the end marker to fail")
	}
	if !strings.Contains(diagStr, "ComputeBody instruction late lies outside the region") {
		t.Fatalf("expected containment diagnostic, got %q", diagStr)
	}
}

func TestValidateRequiresReporter(t *testing.T) {
	if err := CheckFile(dfgtest.VecAdd(8, 1).File, nil); err == nil {
		t.Fatalf("expected a missing reporter to fail")
	}
}

func TestValidateRejectsAccumulatorWithoutControl(t *testing.T) {
	r := dfgtest.Reduce(1)
	r.Graph(0).Entries[2].(*dfg.Accumulator).Ctrl = nil
	diagStr, err := runValidation(t, r.File)
	if !errors.Is(err, diag.ErrInput) {
		t.Fatalf("expected ErrInput, got %v", err)
	}
	if !strings.Contains(err.Error(), "accumulator sum.next has no control signal") {
		t.Fatalf("error should name the accumulator: %v", err)
	}
	if !strings.Contains(diagStr, "DFG0/entry2: error: accumulator sum.next has no control signal") {
		t.Fatalf("expected accumulator diagnostic, got %q", diagStr)
	}
}

func TestValidateRejectsForeignControlSignal(t *testing.T) {
	r := dfgtest.Reduce(1)
	other := dfgtest.Reduce(1)
	r.Graph(0).Entries[2].(*dfg.Accumulator).Ctrl = other.Graph(0).Entries[1].(*dfg.CtrlSignal)
	_, err := runValidation(t, r.File)
	if !errors.Is(err, diag.ErrInput) || !strings.Contains(err.Error(), "controlled from another graph") {
		t.Fatalf("expected foreign control rejection, got %v", err)
	}
}
