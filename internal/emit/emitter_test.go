package emit

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"dsac/internal/analysis"
	"dsac/internal/dfg"
	"dsac/internal/dfgtest"
	"dsac/internal/diag"
)

func emitRegion(t *testing.T, r *dfgtest.Region, opts Options) (string, error) {
	t.Helper()
	var cmis []*analysis.CoalMemoryInfo
	for _, g := range r.File.Graphs {
		cmis = append(cmis, analysis.Coalesce(g))
	}
	var buf bytes.Buffer
	err := File(&buf, r.File, cmis, opts)
	return buf.String(), err
}

func mustEmit(t *testing.T, r *dfgtest.Region, opts Options) string {
	t.Helper()
	text, err := emitRegion(t, r, opts)
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	return text
}

func TestRoundTripVecAdd(t *testing.T) {
	got := mustEmit(t, dfgtest.VecAdd(16, 1), Options{})
	want := `#pragma group unroll 1
# [MemPort]: DFG0 Entry0
# Inst: %x = load i32, %a.addr
#pragma cmd=0x1
#pragma repeat=1
Input32: sub0_v0_[1]
# [ComputeBody]: DFG0 Entry1
# Inst: %y = add i32 %x, 1
sub0_v1_0 = ADD32(sub0_v0_0, 1)
# [PortMem]: DFG0 Entry2
# Inst: store i32 %y, %b.addr
sub0_v2_0 = sub0_v1_0
Output32: sub0_v2_[1]
`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("emitted text mismatch (-want +got):\n%s", diff)
	}

	// Exactly one input, one add and one output, in that order, without a
	// control clause.
	var kinds []string
	for _, l := range strings.Split(got, "\n") {
		switch {
		case strings.HasPrefix(l, "Input32:"):
			kinds = append(kinds, "in")
		case strings.Contains(l, "ADD32("):
			kinds = append(kinds, "add")
		case strings.HasPrefix(l, "Output32:"):
			kinds = append(kinds, "out")
		}
		if strings.Contains(l, "ctrl=") {
			t.Fatalf("unexpected control clause: %q", l)
		}
	}
	if diff := cmp.Diff([]string{"in", "add", "out"}, kinds); diff != "" {
		t.Fatalf("declaration order mismatch (-want +got):\n%s", diff)
	}
}

func TestCoalescedInputs(t *testing.T) {
	got := mustEmit(t, dfgtest.PairSum(2), Options{})
	if n := strings.Count(got, "Input32: ICluster_0_0_[4]"); n != 1 {
		t.Fatalf("want one shared cluster declaration, got %d in:\n%s", n, got)
	}
	for _, l := range []string{
		"# Cluster 0",
		"# Vector Port Width: 2 * 2",
		"sub0_v0_0 = ICluster_0_0_0",
		"sub0_v0_1 = ICluster_0_0_2",
		"sub0_v1_0 = ICluster_0_0_1",
		"sub0_v1_1 = ICluster_0_0_3",
		"sub0_v2_1 = ADD32(sub0_v0_1, sub0_v1_1)",
		"Output32: sub0_v3_[2]",
	} {
		if !strings.Contains(got, l+"\n") {
			t.Errorf("missing line %q in:\n%s", l, got)
		}
	}
}

func TestCoalescedOutputsAreDelayed(t *testing.T) {
	r := dfgtest.Interleave(2)
	cmi := analysis.Coalesce(r.Graph(0))
	if len(cmi.Clusters) != 2 || cmi.Belong[3] != cmi.Belong[4] {
		t.Fatalf("both stores should share one cluster: %+v", cmi.Clusters)
	}

	var buf bytes.Buffer
	if err := Graph(&buf, r.Graph(0), cmi, Options{}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	got := buf.String()
	lines := strings.Split(strings.TrimSpace(got), "\n")
	if last := lines[len(lines)-1]; last != "Output32: OCluster_0_1_[4]" {
		t.Fatalf("cluster declaration must come last, got %q in:\n%s", last, got)
	}
	if n := strings.Count(got, "Output32: OCluster_0_1_"); n != 1 {
		t.Fatalf("want one shared declaration, got %d in:\n%s", n, got)
	}
	for _, l := range []string{
		"# Vector Port Width: 2 * 2",
		"OCluster_0_1_0 = sub0_v1_0",
		"OCluster_0_1_2 = sub0_v1_1",
		"OCluster_0_1_1 = sub0_v2_0",
		"OCluster_0_1_3 = sub0_v2_1",
	} {
		if !strings.Contains(got, l+"\n") {
			t.Errorf("missing line %q in:\n%s", l, got)
		}
	}
}

func TestAccumulatorReductionTree(t *testing.T) {
	got := mustEmit(t, dfgtest.Reduce(4), Options{})
	want := `#pragma group unroll 4
# [MemPort]: DFG0 Entry0
# Inst: %x = load i64, %a.addr
#pragma cmd=0x1
#pragma repeat=1
Input64: sub0_v0_[4]
# [CtrlSignal]: DFG0 Entry1
Input64: sub0_v1_
# [Accumulator]: DFG0 Entry2
# Inst: %sum.next = add i64 %sum, %x
TMP0 = ADD64(sub0_v0_0, sub0_v0_1)
TMP1 = ADD64(sub0_v0_2, sub0_v0_3)
TMP2 = ADD64(TMP0, TMP1)
sub0_v2_ = ACC64(TMP2, ctrl=sub0_v1_{2:d})
# [OutputPort]: DFG0 Entry3
# Inst: %sum.next = add i64 %sum, %x
sub0_v3_ = sub0_v2_
Output64: sub0_v3_
`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("emitted text mismatch (-want +got):\n%s", diff)
	}
}

func TestPredicatedCompute(t *testing.T) {
	r := dfgtest.Guarded(false)
	got := mustEmit(t, r, Options{Pred: true})
	for _, l := range []string{
		"pred0_2 = COMPARE32(sub0_v0_, 0, self={0:b1})",
		"sub0_v3_0 = ADD32(sub0_v1_0, sub0_v0_0, ctrl=pred0_2{0:b2, 1:b1, 2:a})",
	} {
		if !strings.Contains(got, l+"\n") {
			t.Errorf("missing line %q in:\n%s", l, got)
		}
	}
	cmp0 := r.Graph(0).Entries[0].(*dfg.CtrlMemPort)
	if !cmp0.ForPredicate {
		t.Fatalf("condition stream was not marked as feeding a predicate")
	}

	off := mustEmit(t, dfgtest.Guarded(false), Options{})
	if strings.Contains(off, "ctrl=") || strings.Contains(off, "COMPARE") {
		t.Fatalf("predication disabled but control emitted:\n%s", off)
	}
}

func TestMixedPredicatesRejected(t *testing.T) {
	for _, pred := range []bool{false, true} {
		_, err := emitRegion(t, dfgtest.Guarded(true), Options{Pred: pred})
		if !errors.Is(err, diag.ErrInternal) {
			t.Fatalf("pred=%v: want internal consistency error, got %v", pred, err)
		}
	}
}

func TestAccumulatorWithoutControlRejected(t *testing.T) {
	for _, pred := range []bool{false, true} {
		r := dfgtest.Reduce(1)
		r.Graph(0).Entries[2].(*dfg.Accumulator).Ctrl = nil
		_, err := emitRegion(t, r, Options{Pred: pred})
		if !errors.Is(err, diag.ErrInternal) {
			t.Fatalf("pred=%v: want internal consistency error, got %v", pred, err)
		}
		if !strings.Contains(err.Error(), "sum.next has no control signal") {
			t.Fatalf("pred=%v: error should name the accumulator: %v", pred, err)
		}
	}
}

func TestGraphHeaders(t *testing.T) {
	r := dfgtest.Pipe()
	r.Graph(1).Kind = dfg.Temporal
	got := mustEmit(t, r, Options{Temporal: true})
	parts := strings.Split(got, "----\n")
	if len(parts) != 2 {
		t.Fatalf("want two graphs, got %d:\n%s", len(parts), got)
	}
	if strings.Contains(parts[0], "#pragma group temporal") {
		t.Fatalf("dedicated graph marked temporal:\n%s", parts[0])
	}
	if !strings.HasPrefix(parts[1], "#pragma group temporal\n#pragma group unroll 1\n") {
		t.Fatalf("temporal header missing:\n%s", parts[1])
	}

	if _, err := emitRegion(t, dfgtest.VecAdd(4, 1), Options{Trigger: true}); !errors.Is(err, diag.ErrConfig) {
		t.Fatalf("trigger without temporal: got %v", err)
	}
	trig := mustEmit(t, dfgtest.VecAdd(4, 1), Options{Trigger: true, Temporal: true})
	if !strings.HasPrefix(trig, "#pragma group temporal\n") {
		t.Fatalf("trigger must mark dedicated graphs temporal:\n%s", trig)
	}
}

func TestIndirectSideGraph(t *testing.T) {
	got := mustEmit(t, dfgtest.Gather(), Options{})
	if strings.Contains(got, "DFG0 Entry2\n") {
		t.Fatalf("duplicated indirect port must not be emitted:\n%s", got)
	}
	for _, l := range []string{
		"Input32: indirect_in_0_1",
		"indirect_out_0_1 = indirect_in_0_1",
		"Output32: indirect_out_0_2",
	} {
		if !strings.Contains(got, l+"\n") {
			t.Errorf("missing line %q in:\n%s", l, got)
		}
	}
}

func TestMnemonic(t *testing.T) {
	r := dfgtest.Reduce(1)
	next := r.Fn.Lookup("sum.next")
	cases := []struct {
		acc, pred bool
		want      string
	}{
		{false, false, "ADD64"},
		{true, false, "ACC64"},
		{true, true, "ACCUMULATE64"},
	}
	for _, tc := range cases {
		if got := mnemonic(next, tc.acc, tc.pred); got != tc.want {
			t.Errorf("mnemonic(acc=%v, pred=%v) = %s, want %s", tc.acc, tc.pred, got, tc.want)
		}
	}
	cond := dfgtest.Guarded(false).Fn.Lookup("cond")
	if got := mnemonic(cond, false, false); got != "COMPARE32" {
		t.Errorf("compare mnemonic = %s", got)
	}
}
