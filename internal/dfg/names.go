package dfg

import (
	"fmt"
	"strconv"

	"dsac/internal/ir"
)

// Name returns the symbolic name of e for unroll lane lane. A negative lane
// names the entry as a whole, and so does any lane of an entry that does not
// unroll.
func Name(e Entry, lane int) string {
	n := e.node()
	gid := -1
	if n.graph != nil {
		gid = n.graph.ID
	}
	if _, ok := e.(*Predicate); ok {
		return fmt.Sprintf("pred%d_%d", gid, n.ID)
	}
	prefix := fmt.Sprintf("sub%d_v%d_", gid, n.ID)
	if lane < 0 || !ShouldUnroll(e) {
		return prefix
	}
	return prefix + strconv.Itoa(lane)
}

// ShouldUnroll reports whether the data of e differs across unroll lanes.
func ShouldUnroll(e Entry) bool {
	g := GraphOf(e)
	if g == nil {
		return false
	}
	switch x := e.(type) {
	case *MemPort:
		return variesInner(g, x.Load.PointerOperand())
	case *PortMem:
		return variesInner(g, x.Store.PointerOperand())
	case *IndMemPort:
		return ShouldUnroll(x.Index)
	case *CtrlMemPort:
		return variesInner(g, x.Load.PointerOperand())
	case *ComputeBody:
		return operandsUnroll(g, x.Op)
	case *OutputPort:
		if producer := g.InThisDFG(x.Output); producer != nil {
			return ShouldUnroll(producer)
		}
		return false
	case *StreamOutPort:
		if producer := g.InThisDFG(x.Output); producer != nil {
			return ShouldUnroll(producer)
		}
		return false
	case *StreamInPort:
		return g.Innermost() != nil
	case *InputPort, *InputConst, *Accumulator, *Predicate, *CtrlSignal:
		return false
	default:
		panic(fmt.Sprintf("dfg: unknown entry %T", e))
	}
}

func variesInner(g *Graph, ptr ir.Value) bool {
	inner := g.Innermost()
	if inner == nil || ptr == nil {
		return false
	}
	return ir.Uses(g.scev(ptr), inner)
}

func operandsUnroll(g *Graph, inst *ir.Instr) bool {
	for _, op := range inst.Operands {
		if producer := g.InThisDFG(op); producer != nil && ShouldUnroll(producer) {
			return true
		}
	}
	return false
}

// UnderlyingInsts returns the host instructions e replaces.
func UnderlyingInsts(e Entry) []*ir.Instr {
	switch x := e.(type) {
	case *InputPort:
		return instOf(x.Value)
	case *OutputPort:
		return instOf(x.Output)
	case *MemPort:
		return []*ir.Instr{x.Load}
	case *PortMem:
		return []*ir.Instr{x.Store}
	case *IndMemPort:
		return []*ir.Instr{x.Load}
	case *InputConst:
		return instOf(x.Val)
	case *ComputeBody:
		return []*ir.Instr{x.Op}
	case *Accumulator:
		return []*ir.Instr{x.Op}
	case *Predicate:
		return append([]*ir.Instr(nil), x.Cond...)
	case *CtrlMemPort:
		return []*ir.Instr{x.Load}
	case *StreamOutPort:
		return instOf(x.Output)
	case *CtrlSignal, *StreamInPort:
		return nil
	default:
		panic(fmt.Sprintf("dfg: unknown entry %T", e))
	}
}

// UnderlyingInst returns the single instruction of e, nil when it has none.
func UnderlyingInst(e Entry) *ir.Instr {
	insts := UnderlyingInsts(e)
	if len(insts) == 0 {
		return nil
	}
	return insts[0]
}

func underlyingValue(e Entry) ir.Value {
	switch x := e.(type) {
	case *InputPort:
		return x.Value
	case *MemPort:
		return x.Load
	case *IndMemPort:
		return x.Load
	case *InputConst:
		return x.Val
	case *ComputeBody:
		return x.Op
	case *Accumulator:
		return x.Op
	case *CtrlMemPort:
		return x.Load
	case *StreamInPort:
		return x.DataFrom
	}
	return nil
}

func instOf(v ir.Value) []*ir.Instr {
	if inst, ok := v.(*ir.Instr); ok {
		return []*ir.Instr{inst}
	}
	return nil
}
