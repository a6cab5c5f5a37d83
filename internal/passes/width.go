package passes

import (
	"fmt"

	"dsac/internal/dfg"
	"dsac/internal/diag"
	"dsac/internal/ir"
)

// WidthCheck verifies that every compute node agrees with its operands on
// bit width and that every port moves whole bytes.
type WidthCheck struct {
	reporter *diag.Reporter

	mismatches  int
	unsupported int
}

// NewWidthCheck constructs the pass. reporter is optional.
func NewWidthCheck(reporter *diag.Reporter) *WidthCheck {
	return &WidthCheck{reporter: reporter}
}

// Name implements Pass.
func (w *WidthCheck) Name() string { return "width-check" }

// Run implements Pass.
func (w *WidthCheck) Run(f *dfg.File) error {
	w.mismatches, w.unsupported = 0, 0
	for _, g := range f.Graphs {
		for _, e := range g.Entries {
			w.visit(g, e)
		}
	}
	switch {
	case w.mismatches > 0:
		return fmt.Errorf("%d width mismatches: %w", w.mismatches, diag.ErrInternal)
	case w.unsupported > 0:
		return fmt.Errorf("%d ports with unsupported widths: %w", w.unsupported, diag.ErrUnsupported)
	}
	return nil
}

func (w *WidthCheck) visit(g *dfg.Graph, e dfg.Entry) {
	switch x := e.(type) {
	case *dfg.ComputeBody:
		w.checkOp(g, e, x.Op)
	case *dfg.Accumulator:
		if !x.Op.Op.IsBinary() {
			w.mismatch(g, e, fmt.Sprintf("reduction %s is not a binary operation", x.Op.Op))
			return
		}
		w.checkOp(g, e, x.Op)
	case *dfg.MemPort:
		w.checkBytes(g, e, x.Load.Ty)
	case *dfg.PortMem:
		w.checkBytes(g, e, x.Output().Type())
	case *dfg.IndMemPort:
		w.checkBytes(g, e, x.Load.Ty)
	case *dfg.CtrlMemPort:
		w.checkBytes(g, e, x.Load.Ty)
	case *dfg.InputConst:
		w.checkBytes(g, e, x.Val.Type())
	case *dfg.InputPort:
		w.checkBytes(g, e, x.Value.Type())
	case *dfg.OutputPort:
		w.checkBytes(g, e, x.Output.Type())
	case *dfg.StreamOutPort:
		w.checkBytes(g, e, x.Output.Type())
	case *dfg.StreamInPort:
		w.checkBytes(g, e, x.DataFrom.Type())
	case *dfg.Predicate:
		for _, c := range x.Cond {
			w.checkOp(g, e, c)
		}
	case *dfg.CtrlSignal:
	default:
		panic(fmt.Sprintf("passes: unknown entry %T", e))
	}
}

// checkOp propagates operand widths into the result the way the emitter
// derives mnemonics: comparisons agree on operand width, arithmetic agrees
// on operand and result width, shifts only on the result.
func (w *WidthCheck) checkOp(g *dfg.Graph, e dfg.Entry, inst *ir.Instr) {
	switch {
	case inst.Op.IsCompare():
		l, r := inst.Operands[0].Type(), inst.Operands[1].Type()
		if l.Bits != r.Bits {
			w.mismatch(g, e, fmt.Sprintf("compare %s has operands of %d and %d bits", inst.Nm, l.Bits, r.Bits))
		}
		if inst.Ty.Bits != 1 {
			w.mismatch(g, e, fmt.Sprintf("compare %s produces %d bits instead of one", inst.Nm, inst.Ty.Bits))
		}
	case inst.Op.IsBinary():
		matching := inst.Op != ir.OpShl && inst.Op != ir.OpLShr && inst.Op != ir.OpAShr
		for i, op := range inst.Operands {
			if i > 0 && !matching {
				break
			}
			if op.Type().Bits != inst.Ty.Bits {
				w.mismatch(g, e, fmt.Sprintf("%s %s is declared as %s but operand %s is %s",
					inst.Op, inst.Nm, inst.Ty, op.Name(), op.Type()))
			}
		}
	}
}

func (w *WidthCheck) checkBytes(g *dfg.Graph, e dfg.Entry, ty ir.Type) {
	if ty.Bits <= 0 || ty.Bits%8 != 0 {
		w.unsupported++
		w.report(g, e, fmt.Sprintf("port of %d bits does not move whole bytes", ty.Bits))
	}
}

func (w *WidthCheck) mismatch(g *dfg.Graph, e dfg.Entry, msg string) {
	w.mismatches++
	w.report(g, e, msg)
}

func (w *WidthCheck) report(g *dfg.Graph, e dfg.Entry, msg string) {
	if w.reporter == nil {
		return
	}
	w.reporter.Error(location(g, e), msg)
}

func location(g *dfg.Graph, e dfg.Entry) string {
	return fmt.Sprintf("DFG%d/%s", g.ID, dfg.Name(e, -1))
}
