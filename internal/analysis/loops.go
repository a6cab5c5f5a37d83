package analysis

import (
	"fmt"

	"dsac/internal/dfg"
	"dsac/internal/ir"
)

// LoopInfo is the loop nest of one graph, innermost first, with each loop's
// backedge-taken count decomposed over the same nest. A count with
// coefficients shrinks or grows with an outer loop.
type LoopInfo struct {
	LoopNest  []*ir.Loop
	TripCount []*LinearInfo
}

// AnalyzeLoops builds the loop info of g.
func AnalyzeLoops(g *dfg.Graph) (*LoopInfo, error) {
	n := len(g.Loops)
	li := &LoopInfo{LoopNest: make([]*ir.Loop, n)}
	for i, l := range g.Loops {
		li.LoopNest[n-1-i] = l
	}
	for _, l := range li.LoopNest {
		if l.Backedge == nil {
			return nil, fmt.Errorf("analysis: DFG%d: loop %s has no trip count", g.ID, l.Name)
		}
		tc, err := AnalyzeIndexExpr(l.Backedge, li.LoopNest)
		if err != nil {
			return nil, fmt.Errorf("analysis: DFG%d: trip count of %s: %w", g.ID, l.Name, err)
		}
		li.TripCount = append(li.TripCount, tc)
	}
	return li, nil
}

// Trips returns the trip count, one more than the backedge count, of
// LoopNest[i].
func (li *LoopInfo) Trips(i int) ir.Expr {
	return ir.Add(li.TripCount[i].Base, ir.C(1))
}

// ProdTripCount multiplies the trip counts of the n innermost loops.
func (li *LoopInfo) ProdTripCount(n int) ir.Expr {
	prod := ir.C(1)
	for i := 0; i < n && i < len(li.TripCount); i++ {
		prod = ir.Mul(prod, li.Trips(i))
	}
	return prod
}
