package passes

import (
	"fmt"

	"dsac/internal/dfg"
	"dsac/internal/diag"
	"dsac/internal/ir"
)

// PredicateCheck verifies that every guarded operation sees one predicate:
// its own guard and the guards of the control streams feeding it must be
// the same object, owned by the same graph.
type PredicateCheck struct {
	reporter *diag.Reporter
	failures int
}

// NewPredicateCheck constructs the pass. reporter is optional.
func NewPredicateCheck(reporter *diag.Reporter) *PredicateCheck {
	return &PredicateCheck{reporter: reporter}
}

// Name implements Pass.
func (p *PredicateCheck) Name() string { return "predicate-check" }

// Run implements Pass.
func (p *PredicateCheck) Run(f *dfg.File) error {
	p.failures = 0
	for _, g := range f.Graphs {
		for _, e := range g.Entries {
			switch x := e.(type) {
			case *dfg.ComputeBody:
				p.checkOperation(g, e, x.Op, x.Pred)
			case *dfg.Accumulator:
				p.checkOperation(g, e, x.Op, x.Pred)
			case *dfg.CtrlMemPort:
				if x.Pred == nil {
					p.fail(g, e, "control stream has no predicate")
				} else {
					p.checkOwner(g, e, x.Pred)
				}
			case *dfg.MemPort:
				if x.Pred != nil {
					p.checkOwner(g, e, x.Pred)
				}
			}
		}
	}
	if p.failures > 0 {
		return fmt.Errorf("%d inconsistent predicates: %w", p.failures, diag.ErrInternal)
	}
	return nil
}

func (p *PredicateCheck) checkOperation(g *dfg.Graph, e dfg.Entry, inst *ir.Instr, own *dfg.Predicate) {
	seen := own
	if own != nil {
		p.checkOwner(g, e, own)
	}
	for _, op := range inst.Operands {
		cmp, ok := g.InThisDFG(op).(*dfg.CtrlMemPort)
		if !ok || cmp.Pred == nil {
			continue
		}
		if seen == nil {
			seen = cmp.Pred
			continue
		}
		if seen != cmp.Pred {
			p.fail(g, e, fmt.Sprintf("controlled by both %s and %s", dfg.Name(seen, -1), dfg.Name(cmp.Pred, -1)))
			return
		}
	}
}

func (p *PredicateCheck) checkOwner(g *dfg.Graph, e dfg.Entry, pred *dfg.Predicate) {
	if pred.Graph() != g {
		p.fail(g, e, fmt.Sprintf("guarded by %s from another graph", dfg.Name(pred, -1)))
	}
}

func (p *PredicateCheck) fail(g *dfg.Graph, e dfg.Entry, msg string) {
	p.failures++
	if p.reporter != nil {
		p.reporter.Error(location(g, e), msg)
	}
}
