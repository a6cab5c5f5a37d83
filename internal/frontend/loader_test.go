package frontend

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"dsac/internal/analysis"
	"dsac/internal/dfg"
	"dsac/internal/dfgtest"
	"dsac/internal/diag"
	"dsac/internal/emit"
	"dsac/internal/ir"
)

func loadTestdata(t *testing.T, name string) *Module {
	t.Helper()
	var buf bytes.Buffer
	m, err := Load(filepath.Join("testdata", name+".toml"), diag.NewReporter(&buf, "text"))
	if err != nil {
		t.Fatalf("load %s: %v\n%s", name, err, buf.String())
	}
	return m
}

func dump(fn *ir.Function) string {
	var buf bytes.Buffer
	ir.Dump(fn, &buf)
	for _, inst := range fn.Body {
		if inst.Op == ir.OpGEP {
			buf.WriteString(inst.Nm + " = " + fn.SCEV(inst).String() + "\n")
		}
	}
	return buf.String()
}

func emitted(t *testing.T, f *dfg.File, opts emit.Options) string {
	t.Helper()
	var cmis []*analysis.CoalMemoryInfo
	for _, g := range f.Graphs {
		cmis = append(cmis, analysis.Coalesce(g))
	}
	var buf bytes.Buffer
	if err := emit.File(&buf, f, cmis, opts); err != nil {
		t.Fatalf("emit %s: %v", f.Name, err)
	}
	return buf.String()
}

func TestLoadMatchesFixtures(t *testing.T) {
	tests := []struct {
		name string
		want *dfgtest.Region
		opts emit.Options
	}{
		{"vecadd", dfgtest.VecAdd(16, 2), emit.Options{}},
		{"reduce", dfgtest.Reduce(1), emit.Options{}},
		{"gather", dfgtest.Gather(), emit.Options{}},
		{"guarded", dfgtest.Guarded(false), emit.Options{Pred: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := loadTestdata(t, tt.name)
			if diff := cmp.Diff(dump(tt.want.Fn), dump(m.Fn)); diff != "" {
				t.Fatalf("host function mismatch (-want +got):\n%s", diff)
			}
			if len(m.Files) != 1 {
				t.Fatalf("expected one region, got %d", len(m.Files))
			}
			if m.Files[0].Name != tt.want.File.Name {
				t.Fatalf("region named %q, want %q", m.Files[0].Name, tt.want.File.Name)
			}
			want := emitted(t, tt.want.File, tt.opts)
			got := emitted(t, m.Files[0], tt.opts)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("emitted DFG mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadLinksControlSignal(t *testing.T) {
	m := loadTestdata(t, "reduce")
	g := m.Files[0].Graphs[0]
	acc := dfg.Of[*dfg.Accumulator](g)[0]
	sig := dfg.Of[*dfg.CtrlSignal](g)[0]
	if acc.Ctrl != sig || sig.Controlled != acc {
		t.Fatalf("control signal and accumulator are not linked")
	}
	sum := m.Fn.Lookup("sum")
	if len(sum.Operands) != 2 || sum.Operands[1] != acc.Op {
		t.Fatalf("phi incoming not resolved: %v", sum.Operands)
	}
}

func TestParseReportsEveryProblem(t *testing.T) {
	src := `
function = "broken"

[[param]]
name = "a"
type = "ptr"

[[inst]]
name = "x"
op = "load"
type = "i3x"
args = ["%a"]

[[inst]]
name = "y"
op = "add"
args = ["%missing", "i32 1"]

[[inst]]
name = "i"
op = "loop"
backedge = "%a +"

[[region]]
`
	var buf bytes.Buffer
	_, err := Parse([]byte(src), diag.NewReporter(&buf, "text"))
	if !errors.Is(err, diag.ErrInput) {
		t.Fatalf("expected input error, got %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`inst[0] x: error: unknown type "i3x"`,
		"inst[1] y: error: %missing is used before it is defined",
		"inst[2] i: error: expression",
		"body: error: 1 loop(s) left open",
		"region[0]: error: no config.start marker for this region",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in diagnostics:\n%s", want, out)
		}
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	var buf bytes.Buffer
	_, err := Parse([]byte("function = \"f\"\nunroll = 4\n"), diag.NewReporter(&buf, "text"))
	if !errors.Is(err, diag.ErrInput) {
		t.Fatalf("expected input error, got %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected a diagnostic for the unknown key")
	}
}

func TestParseRejectsBadEntries(t *testing.T) {
	src := `
function = "f"

[[param]]
name = "p"
type = "ptr"

[[inst]]
name = "s"
op = "config.start"

[[inst]]
name = "v"
op = "load"
type = "i32"
args = ["%p"]

[[inst]]
name = "e"
op = "config.end"

[[region]]
start = "s"
end = "e"

[[region.graph]]

[[region.graph.entry]]
kind = "PortMem"
value = "v"

[[region.graph.entry]]
kind = "IndMemPort"
value = "v"
index = "nowhere"

[[region.graph.entry]]
kind = "Widget"
`
	var buf bytes.Buffer
	_, err := Parse([]byte(src), diag.NewReporter(&buf, "text"))
	if !errors.Is(err, diag.ErrInput) {
		t.Fatalf("expected input error, got %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"%v cannot back this entry",
		`index "nowhere" does not label a memory port`,
		`unknown entry kind "Widget"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in diagnostics:\n%s", want, out)
		}
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want ir.Type
		ok   bool
	}{
		{"i1", ir.IntType(1), true},
		{"i64", ir.IntType(64), true},
		{"f32", ir.FloatType(32), true},
		{"ptr", ir.PtrType(), true},
		{"void", ir.Type{Kind: ir.Void}, true},
		{"f7", ir.Type{}, false},
		{"i0", ir.Type{}, false},
		{"int", ir.Type{}, false},
	}
	for _, tt := range tests {
		got, err := parseType(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseType(%q) error = %v", tt.in, err)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("parseType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
