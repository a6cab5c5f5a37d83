package ir

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a human-readable listing of fn.
func Dump(fn *Function, w io.Writer) {
	if fn == nil {
		fmt.Fprintln(w, "<nil function>")
		return
	}
	params := make([]string, 0, len(fn.Params))
	for _, p := range fn.Params {
		params = append(params, fmt.Sprintf("%s %%%s", p.Ty, p.Nm))
	}
	fmt.Fprintf(w, "func %s(%s)\n", fn.Name, strings.Join(params, ", "))
	dumpLoops(fn, w)
	for _, inst := range fn.Body {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depthOf(inst)+1), inst)
	}
}

func dumpLoops(fn *Function, w io.Writer) {
	if len(fn.Loops) == 0 {
		return
	}
	fmt.Fprintln(w, "  loops:")
	for _, l := range fn.Loops {
		parent := "-"
		if l.Parent != nil {
			parent = l.Parent.Name
		}
		fmt.Fprintf(w, "    %s parent=%s backedge=%s\n", l.Name, parent, l.Backedge)
	}
}

func depthOf(inst *Instr) int {
	if inst.Loop == nil {
		return 0
	}
	return inst.Loop.Depth()
}

// String renders one instruction.
func (i *Instr) String() string {
	switch i.Op {
	case OpLoad:
		return fmt.Sprintf("%%%s = load %s, %s", i.Nm, i.Ty, operand(i.Operands[0]))
	case OpStore:
		return fmt.Sprintf("store %s %s, %s", i.Operands[0].Type(), operand(i.Operands[0]), operand(i.Operands[1]))
	case OpICmp, OpFCmp:
		return fmt.Sprintf("%%%s = %s %s %s %s", i.Nm, i.Op, i.Predicate, i.Operands[0].Type(), operandList(i.Operands))
	case OpCall:
		return fmt.Sprintf("%%%s = call %s @%s(%s)", i.Nm, i.Ty, i.Callee, operandList(i.Operands))
	case OpRegionStart, OpRegionEnd, OpTemporalStart, OpTemporalEnd:
		return fmt.Sprintf("%s ; %s", i.Op, i.Nm)
	case OpIntrinsic:
		args := make([]string, 0, len(i.Args))
		for _, a := range i.Args {
			args = append(args, fmt.Sprintf("%s=%s", a.Key, a.Value))
		}
		if i.Ty.Kind == Void {
			return fmt.Sprintf("%s %s", i.Callee, strings.Join(args, " "))
		}
		return fmt.Sprintf("%%%s = %s %s", i.Nm, i.Callee, strings.Join(args, " "))
	default:
		return fmt.Sprintf("%%%s = %s %s %s", i.Nm, i.Op, i.Ty, operandList(i.Operands))
	}
}

func operand(v Value) string {
	if v == nil {
		return "<nil>"
	}
	if c, ok := v.(*Const); ok {
		return c.Name()
	}
	return "%" + v.Name()
}

func operandList(vals []Value) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, operand(v))
	}
	return strings.Join(parts, ", ")
}
