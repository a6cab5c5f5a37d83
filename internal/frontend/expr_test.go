package frontend

import (
	"strings"
	"testing"

	"dsac/internal/ir"
)

type testScope struct {
	values map[string]ir.Value
	loops  map[string]*ir.Loop
}

func (s testScope) Value(name string) (ir.Value, bool) {
	v, ok := s.values[name]
	return v, ok
}

func (s testScope) Loop(name string) (*ir.Loop, bool) {
	l, ok := s.loops[name]
	return l, ok
}

func newScope() testScope {
	outer := &ir.Loop{Name: "o"}
	inner := &ir.Loop{Name: "j", Parent: outer}
	return testScope{
		values: map[string]ir.Value{
			"a":   &ir.Param{Nm: "a", Ty: ir.PtrType()},
			"n":   &ir.Param{Nm: "n", Ty: ir.IntType(64)},
			"x.y": &ir.Param{Nm: "x.y", Ty: ir.IntType(32)},
		},
		loops: map[string]*ir.Loop{"o": outer, "j": inner},
	}
}

// Printed expressions parse back to themselves.
func TestParseExprRoundTrip(t *testing.T) {
	for _, src := range []string{
		"42",
		"%a",
		"(%n + -1)",
		"{%a,+,4}<j>",
		"{{%a,+,64}<o>,+,4}<j>",
		"{%a,+,{4,+,4}<o>}<j>",
		"(%n * %x.y)",
		"((%n + 1) /^ 4)",
		"(%n /s 2)",
		"(%n /u 2)",
		"(%n - %x.y)",
	} {
		e, err := ParseExpr(src, newScope())
		if err != nil {
			t.Fatalf("ParseExpr(%q): %v", src, err)
		}
		if e.String() != src {
			t.Fatalf("ParseExpr(%q) prints %q", src, e.String())
		}
	}
}

func TestParseExprFolds(t *testing.T) {
	tests := map[string]string{
		"%n - 1":          "(%n + -1)",
		"2 * 3 + 4":       "10",
		"-(5)":            "-5",
		"4 * {%a,+,1}<j>": "{(%a * 4),+,4}<j>",
		"%n / 1":          "%n",
		"0x10":            "16",
	}
	for src, want := range tests {
		e, err := ParseExpr(src, newScope())
		if err != nil {
			t.Fatalf("ParseExpr(%q): %v", src, err)
		}
		if e.String() != want {
			t.Fatalf("ParseExpr(%q) = %s, want %s", src, e, want)
		}
	}
}

func TestParseExprErrors(t *testing.T) {
	tests := map[string]string{
		"%nope":       "unknown value %nope",
		"{%a,+,4}<k>": "unknown loop k",
		"%a +":        "unexpected",
		"(%a":         `expected ")"`,
		"%a %n":       "unexpected",
		"{%a,-,4}<j>": `expected "+"`,
	}
	for src, want := range tests {
		_, err := ParseExpr(src, newScope())
		if err == nil {
			t.Fatalf("ParseExpr(%q) succeeded", src)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("ParseExpr(%q) error %q does not mention %q", src, err, want)
		}
	}
}
