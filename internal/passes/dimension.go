package passes

import (
	"fmt"

	"dsac/internal/analysis"
	"dsac/internal/dfg"
	"dsac/internal/diag"
	"dsac/internal/ir"
)

// DimensionCheck rejects what the stream engines cannot express: memory
// accesses that are not affine or need more than analysis.MaxDimension
// strides, loop nests without a trip count, and atomic updates.
type DimensionCheck struct {
	reporter *diag.Reporter
	failures int
}

// NewDimensionCheck constructs the pass. reporter is optional.
func NewDimensionCheck(reporter *diag.Reporter) *DimensionCheck {
	return &DimensionCheck{reporter: reporter}
}

// Name implements Pass.
func (d *DimensionCheck) Name() string { return "dimension-check" }

// Run implements Pass.
func (d *DimensionCheck) Run(f *dfg.File) error {
	d.failures = 0
	for _, g := range f.Graphs {
		li, err := analysis.AnalyzeLoops(g)
		if err != nil {
			d.failures++
			if d.reporter != nil {
				d.reporter.Error(fmt.Sprintf("DFG%d", g.ID), err.Error())
			}
			continue
		}
		for _, e := range g.Entries {
			switch x := e.(type) {
			case *dfg.MemPort:
				d.checkAccess(f, g, e, x.Load, li.LoopNest)
			case *dfg.PortMem:
				d.checkAccess(f, g, e, x.Store, li.LoopNest)
			case *dfg.CtrlMemPort:
				d.checkAccess(f, g, e, x.Load, li.LoopNest)
			case *dfg.ComputeBody:
				if x.Atomic {
					d.fail(g, e, "atomic updates have no stream lowering")
				}
			}
		}
	}
	if d.failures > 0 {
		return fmt.Errorf("%d accesses the stream engines cannot express: %w", d.failures, diag.ErrUnsupported)
	}
	return nil
}

func (d *DimensionCheck) checkAccess(f *dfg.File, g *dfg.Graph, e dfg.Entry, inst *ir.Instr, nest []*ir.Loop) {
	idx, err := analysis.AnalyzeIndexExpr(f.Fn.SCEV(inst.PointerOperand()), nest)
	if err != nil {
		d.fail(g, e, err.Error())
		return
	}
	if _, err := idx.Dimension(); err != nil {
		d.fail(g, e, err.Error())
	}
}

func (d *DimensionCheck) fail(g *dfg.Graph, e dfg.Entry, msg string) {
	d.failures++
	if d.reporter != nil {
		d.reporter.Error(location(g, e), msg)
	}
}
