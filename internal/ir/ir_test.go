package ir

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExprFolding(t *testing.T) {
	n := &Param{Nm: "n", Ty: IntType(64)}
	outer := &Loop{Name: "i"}
	inner := &Loop{Name: "j", Parent: outer}

	cases := []struct {
		name string
		got  Expr
		want string
	}{
		{"const add", Add(C(3), C(4)), "7"},
		{"zero add", Add(C(0), Sym(n)), "%n"},
		{"mul one", Mul(Sym(n), C(1)), "%n"},
		{"mul zero", Mul(Sym(n), C(0)), "0"},
		{"rec plus invariant", Add(IndVar(inner), Sym(n)), "{%n,+,1}<j>"},
		{"scaled rec", Mul(IndVar(inner), C(4)), "{0,+,4}<j>"},
		{"inner wraps outer", Add(Mul(IndVar(outer), C(64)), Mul(IndVar(inner), C(4))), "{{0,+,64}<i>,+,4}<j>"},
		{"ceil", CeilDiv(C(10), C(4)), "3"},
		{"symbolic ceil", CeilDiv(Sym(n), C(2)), "(%n /^ 2)"},
		{"sub self", Sub(Sym(n), Sym(n)), "0"},
		{"nested const", Add(Add(Sym(n), C(2)), C(3)), "(%n + 5)"},
	}
	for _, tc := range cases {
		if got := tc.got.String(); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestSplitConstOffset(t *testing.T) {
	a := &Param{Nm: "a", Ty: PtrType()}
	l := &Loop{Name: "i"}
	addr := AddRec(Add(Sym(a), C(8)), C(16), l)
	base, off := SplitConstOffset(addr)
	if off != 8 {
		t.Fatalf("expected offset 8, got %d", off)
	}
	if base.String() != "{%a,+,16}<i>" {
		t.Fatalf("unexpected base %s", base)
	}
	if !Uses(addr, l) {
		t.Fatalf("expected address to vary in loop %s", l.Name)
	}
}

func TestLoopInvariance(t *testing.T) {
	fn := NewFunction("k", &Param{Nm: "n", Ty: IntType(64)})
	b := NewBuilder(fn)
	outside := b.Binary(OpAdd, "pre", fn.Param("n"), ConstInt(64, 1))
	loop := b.EnterLoop("i", Sym(fn.Param("n")))
	inside := b.Binary(OpMul, "body", outside, ConstInt(64, 3))
	b.ExitLoop()

	if !loop.IsInvariant(outside) {
		t.Fatalf("value defined before the loop must be invariant")
	}
	if loop.IsInvariant(inside) {
		t.Fatalf("value defined in the loop must not be invariant")
	}
	if !loop.IsInvariant(fn.Param("n")) {
		t.Fatalf("parameters are invariant")
	}
}

func TestEquivalentPhis(t *testing.T) {
	fn := NewFunction("acc")
	b := NewBuilder(fn)
	zero := ConstInt(32, 0)
	b.EnterLoop("i", C(7))
	phi := b.Phi("sum", IntType(32), zero)
	next := b.Binary(OpAdd, "sum.next", phi, ConstInt(32, 2))
	b.AddIncoming(phi, next)
	b.ExitLoop()
	exit := b.Phi("sum.lcssa", IntType(32), next)

	got := names(fn.EquivalentPhis(next))
	want := []string{"sum.next", "sum", "sum.lcssa"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("equivalence class mismatch (-want +got):\n%s", diff)
	}
	_ = exit
}

func TestInsertBeforeAndErase(t *testing.T) {
	fn := NewFunction("f")
	b := NewBuilder(fn)
	start := b.Marker(OpRegionStart, "start")
	x := b.Binary(OpAdd, "x", ConstInt(32, 1), ConstInt(32, 2))
	end := b.Marker(OpRegionEnd, "end")

	cfg := Intrinsic("ss_cfg", Type{Kind: Void}, Arg{Key: "size", Value: C(64)})
	if err := fn.InsertBefore(start, cfg); err != nil {
		t.Fatalf("insert: %v", err)
	}
	fn.Erase(x, start, end)
	if !x.Erased() {
		t.Fatalf("expected x to be marked erased")
	}
	var buf bytes.Buffer
	Dump(fn, &buf)
	if !strings.Contains(buf.String(), "ss_cfg size=64") {
		t.Fatalf("expected intrinsic in dump, got:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "config.start") {
		t.Fatalf("erased marker still printed:\n%s", buf.String())
	}
	if err := fn.InsertBefore(start, cfg); err == nil {
		t.Fatalf("expected error inserting before an erased instruction")
	}
}

func names(vals []Value) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.Name())
	}
	return out
}
