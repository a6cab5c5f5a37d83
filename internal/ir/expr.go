package ir

import (
	"fmt"
	"strings"
)

// Expr is a closed-form integer expression over function parameters, opaque
// values and loop induction variables, in the style of a scalar-evolution
// recurrence: {start,+,step}<loop> advances by step on every iteration of
// loop.
type Expr interface {
	String() string
	isExpr()
}

// ConstExpr is an integer literal.
type ConstExpr struct{ V int64 }

// SymExpr is an opaque runtime value.
type SymExpr struct{ V Value }

// AddRecExpr is the recurrence {Start,+,Step}<Loop>.
type AddRecExpr struct {
	Start Expr
	Step  Expr
	Loop  *Loop
}

// BinKind enumerates the non-affine helpers kept symbolic.
type BinKind int

const (
	BinAdd BinKind = iota
	BinSub
	BinMul
	BinSDiv
	BinUDiv
	BinCeilDiv
)

var binSymbols = [...]string{"+", "-", "*", "/s", "/u", "/^"}

// BinExpr is a binary expression that could not be folded.
type BinExpr struct {
	Op   BinKind
	L, R Expr
}

func (ConstExpr) isExpr()  {}
func (SymExpr) isExpr()    {}
func (AddRecExpr) isExpr() {}
func (BinExpr) isExpr()    {}

func (c ConstExpr) String() string { return fmt.Sprintf("%d", c.V) }

func (s SymExpr) String() string {
	if s.V == nil {
		return "%?"
	}
	return "%" + s.V.Name()
}

func (a AddRecExpr) String() string {
	name := "?"
	if a.Loop != nil {
		name = a.Loop.Name
	}
	return fmt.Sprintf("{%s,+,%s}<%s>", a.Start, a.Step, name)
}

func (b BinExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.L, binSymbols[b.Op], b.R)
}

// C returns the literal v.
func C(v int64) Expr { return ConstExpr{V: v} }

// Sym wraps a runtime value.
func Sym(v Value) Expr { return SymExpr{V: v} }

// AddRec builds {start,+,step}<l>; a zero step collapses to start.
func AddRec(start, step Expr, l *Loop) Expr {
	if IsZero(step) {
		return start
	}
	return AddRecExpr{Start: start, Step: step, Loop: l}
}

// AsConst returns the literal value of e when it is one.
func AsConst(e Expr) (int64, bool) {
	if c, ok := e.(ConstExpr); ok {
		return c.V, true
	}
	return 0, false
}

// IsZero reports whether e is the literal zero.
func IsZero(e Expr) bool {
	v, ok := AsConst(e)
	return ok && v == 0
}

// Equal compares two expressions structurally.
func Equal(a, b Expr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

// Add returns a+b, folding literals and pushing invariant terms into
// recurrence starts.
func Add(a, b Expr) Expr {
	if IsZero(a) {
		return b
	}
	if IsZero(b) {
		return a
	}
	ca, aok := AsConst(a)
	cb, bok := AsConst(b)
	if aok && bok {
		return C(ca + cb)
	}
	ra, aRec := a.(AddRecExpr)
	rb, bRec := b.(AddRecExpr)
	switch {
	case aRec && bRec && ra.Loop == rb.Loop:
		return AddRec(Add(ra.Start, rb.Start), Add(ra.Step, rb.Step), ra.Loop)
	case aRec && bRec:
		// Inner recurrences wrap outer ones.
		if ra.Loop.Contains(rb.Loop) {
			return AddRec(Add(ra, rb.Start), rb.Step, rb.Loop)
		}
		return AddRec(Add(ra.Start, rb), ra.Step, ra.Loop)
	case aRec:
		return AddRec(Add(ra.Start, b), ra.Step, ra.Loop)
	case bRec:
		return AddRec(Add(a, rb.Start), rb.Step, rb.Loop)
	}
	if aok {
		return BinExpr{Op: BinAdd, L: b, R: a}
	}
	if bin, ok := a.(BinExpr); ok && bin.Op == BinAdd && bok {
		if inner, ok := AsConst(bin.R); ok {
			return Add(bin.L, C(inner+cb))
		}
	}
	return BinExpr{Op: BinAdd, L: a, R: b}
}

// Sub returns a-b.
func Sub(a, b Expr) Expr {
	if cb, ok := AsConst(b); ok {
		return Add(a, C(-cb))
	}
	if Equal(a, b) {
		return C(0)
	}
	return BinExpr{Op: BinSub, L: a, R: b}
}

// Mul returns a*b, distributing literals over recurrences.
func Mul(a, b Expr) Expr {
	ca, aok := AsConst(a)
	cb, bok := AsConst(b)
	switch {
	case aok && bok:
		return C(ca * cb)
	case aok && ca == 0, bok && cb == 0:
		return C(0)
	case aok && ca == 1:
		return b
	case bok && cb == 1:
		return a
	}
	if aok {
		a, b = b, a
		cb, bok = ca, true
	}
	if bok {
		if rec, ok := a.(AddRecExpr); ok {
			return AddRec(Mul(rec.Start, C(cb)), Mul(rec.Step, C(cb)), rec.Loop)
		}
	}
	return BinExpr{Op: BinMul, L: a, R: b}
}

// SDiv returns the signed quotient a/b.
func SDiv(a, b Expr) Expr {
	ca, aok := AsConst(a)
	cb, bok := AsConst(b)
	if Equal(a, b) {
		return C(1)
	}
	if bok && cb == 1 {
		return a
	}
	if aok && bok && cb != 0 {
		return C(ca / cb)
	}
	return BinExpr{Op: BinSDiv, L: a, R: b}
}

// UDiv returns the unsigned quotient a/b.
func UDiv(a, b Expr) Expr {
	ca, aok := AsConst(a)
	cb, bok := AsConst(b)
	if Equal(a, b) {
		return C(1)
	}
	if bok && cb == 1 {
		return a
	}
	if aok && bok && cb != 0 {
		return C(int64(uint64(ca) / uint64(cb)))
	}
	return BinExpr{Op: BinUDiv, L: a, R: b}
}

// CeilDiv returns ceil(a/b).
func CeilDiv(a, b Expr) Expr {
	ca, aok := AsConst(a)
	cb, bok := AsConst(b)
	if Equal(a, b) {
		return C(1)
	}
	if bok && cb == 1 {
		return a
	}
	if aok && bok && cb != 0 {
		return C((ca + cb - 1) / cb)
	}
	return BinExpr{Op: BinCeilDiv, L: a, R: b}
}

// Uses reports whether e contains a recurrence over l or a loop nested in l.
func Uses(e Expr, l *Loop) bool {
	switch x := e.(type) {
	case AddRecExpr:
		if l.Contains(x.Loop) {
			return true
		}
		return Uses(x.Start, l) || Uses(x.Step, l)
	case BinExpr:
		return Uses(x.L, l) || Uses(x.R, l)
	}
	return false
}

// SplitConstOffset separates the literal displacement of an address from its
// base: {a+8,+,4}<i> splits into {a,+,4}<i> and 8.
func SplitConstOffset(e Expr) (Expr, int64) {
	switch x := e.(type) {
	case ConstExpr:
		return C(0), x.V
	case AddRecExpr:
		base, off := SplitConstOffset(x.Start)
		return AddRecExpr{Start: base, Step: x.Step, Loop: x.Loop}, off
	case BinExpr:
		if x.Op != BinAdd {
			return e, 0
		}
		if c, ok := AsConst(x.R); ok {
			base, off := SplitConstOffset(x.L)
			return base, off + c
		}
		if c, ok := AsConst(x.L); ok {
			base, off := SplitConstOffset(x.R)
			return base, off + c
		}
	}
	return e, 0
}

// Format renders a list of expressions separated by ", ".
func Format(exprs []Expr) string {
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, ", ")
}
