// Package analysis derives the per-graph facts the emitter and the injector
// need: the loop nest with its trip counts, affine decompositions of
// addresses, and memory-port coalescing clusters.
package analysis

import (
	"fmt"
	"strings"

	"dsac/internal/diag"
	"dsac/internal/ir"
)

// MaxDimension is the deepest stream descriptor the accelerator supports.
const MaxDimension = 2

// LinearInfo is the decomposition base + Σ Coef[i]·iv[i] of an expression
// over a loop nest, innermost loop first. A coefficient is itself a
// LinearInfo over the same nest; one with coefficients of its own varies
// across outer iterations (a stretch). A fully invariant expression has no
// coefficients.
type LinearInfo struct {
	Base ir.Expr
	Coef []*LinearInfo
}

// AnalyzeIndexExpr decomposes e over nest (innermost first). Recurrences
// over loops outside the nest are folded into the base.
func AnalyzeIndexExpr(e ir.Expr, nest []*ir.Loop) (*LinearInfo, error) {
	if !usesAny(e, nest) {
		return &LinearInfo{Base: e}, nil
	}
	coef := make([]*LinearInfo, len(nest))
	cur := e
	for {
		rec, ok := cur.(ir.AddRecExpr)
		if !ok {
			break
		}
		k := indexOf(nest, rec.Loop)
		if k < 0 {
			break
		}
		if coef[k] != nil {
			return nil, fmt.Errorf("analysis: %s recurs twice over loop %s: %w", e, rec.Loop.Name, diag.ErrUnsupported)
		}
		step, err := AnalyzeIndexExpr(rec.Step, nest)
		if err != nil {
			return nil, err
		}
		coef[k] = step
		cur = rec.Start
	}
	if usesAny(cur, nest) {
		return nil, fmt.Errorf("analysis: %s is not affine in the loop nest: %w", e, diag.ErrUnsupported)
	}
	for i := range coef {
		if coef[i] == nil {
			coef[i] = &LinearInfo{Base: ir.C(0)}
		}
	}
	return &LinearInfo{Base: cur, Coef: coef}, nil
}

// Invariant returns the base of an expression that does not vary in the
// nest.
func (li *LinearInfo) Invariant() (ir.Expr, bool) {
	if len(li.Coef) != 0 {
		return nil, false
	}
	return li.Base, true
}

// ConstInt returns the literal value of an invariant expression.
func (li *LinearInfo) ConstInt() (int64, bool) {
	e, ok := li.Invariant()
	if !ok {
		return 0, false
	}
	return ir.AsConst(e)
}

// Stretched reports whether the expression varies in the nest.
func (li *LinearInfo) Stretched() bool { return len(li.Coef) != 0 }

// PartialInvariant returns how many innermost dimensions have a literal
// zero coefficient: the value repeats across those loops.
func (li *LinearInfo) PartialInvariant() int {
	n := 0
	for _, c := range li.Coef {
		v, ok := c.ConstInt()
		if !ok || v != 0 {
			break
		}
		n++
	}
	return n
}

// Dimension returns the number of dimensions a stream over the expression
// needs. Anything deeper than MaxDimension is rejected.
func (li *LinearInfo) Dimension() (int, error) {
	d := len(li.Coef) - li.PartialInvariant()
	if d > MaxDimension {
		return d, fmt.Errorf("analysis: %d-dimensional stream over %s: %w", d, li, diag.ErrUnsupported)
	}
	return d, nil
}

func (li *LinearInfo) String() string {
	if len(li.Coef) == 0 {
		return li.Base.String()
	}
	parts := make([]string, len(li.Coef))
	for i, c := range li.Coef {
		parts[i] = c.String()
	}
	return fmt.Sprintf("[%s; %s]", li.Base, strings.Join(parts, ", "))
}

func usesAny(e ir.Expr, nest []*ir.Loop) bool {
	for _, l := range nest {
		if ir.Uses(e, l) {
			return true
		}
	}
	return false
}

func indexOf(nest []*ir.Loop, l *ir.Loop) int {
	for i, cur := range nest {
		if cur == l {
			return i
		}
	}
	return -1
}
