package frontend

import (
	"fmt"

	"dsac/internal/dfg"
	"dsac/internal/ir"
)

var fills = map[string]dfg.Padding{
	"":          dfg.NoPadding,
	"none":      dfg.NoPadding,
	"post_zero": dfg.PostStrideZero,
	"pre_zero":  dfg.PreStrideZero,
	"post_off":  dfg.PostStridePredOff,
	"pre_off":   dfg.PreStridePredOff,
}

func (l *loader) region(i int, rd *regionDesc, starts, ends []*ir.Instr) *dfg.File {
	at := fmt.Sprintf("region[%d]", i)
	start := l.marker(at, rd.Start, ir.OpRegionStart, starts, i)
	end := l.marker(at, rd.End, ir.OpRegionEnd, ends, i)
	if start == nil || end == nil {
		return nil
	}
	name := rd.Name
	if name == "" {
		name = fmt.Sprintf("%s_dfg_%d.dfg", l.fn.Name, i)
	}
	f := dfg.NewFile(name, l.fn, start, end)
	for j := range rd.Graphs {
		l.graph(fmt.Sprintf("%s.graph[%d]", at, j), f, &rd.Graphs[j])
	}
	return f
}

func (l *loader) marker(at, name string, op ir.Opcode, all []*ir.Instr, i int) *ir.Instr {
	if name == "" {
		if i >= len(all) {
			l.error(at, fmt.Sprintf("no %s marker for this region", op))
			return nil
		}
		return all[i]
	}
	inst, ok := l.values[name].(*ir.Instr)
	if !ok || inst.Op != op {
		l.error(at, fmt.Sprintf("%s is not a %s marker", name, op))
		return nil
	}
	return inst
}

func (l *loader) graph(at string, f *dfg.File, gd *graphDesc) {
	kind := dfg.Dedicated
	switch gd.Kind {
	case "", "dedicated":
	case "temporal":
		kind = dfg.Temporal
	default:
		l.error(at, fmt.Sprintf("unknown graph kind %q", gd.Kind))
	}
	unroll := gd.Unroll
	if unroll == 0 {
		unroll = 1
	}
	var loops []*ir.Loop
	for _, name := range gd.Loops {
		lp, ok := l.loops[name]
		if !ok {
			l.error(at, fmt.Sprintf("unknown loop %s", name))
			continue
		}
		loops = append(loops, lp)
	}
	g := f.AddGraph(kind, unroll, loops...)

	entries := make([]dfg.Entry, len(gd.Entries))
	labels := make(map[string]dfg.Entry)
	for k := range gd.Entries {
		ed := &gd.Entries[k]
		eat := fmt.Sprintf("%s.entry[%d]", at, k)
		entries[k] = l.entry(eat, ed)
		if ed.Label == "" || entries[k] == nil {
			continue
		}
		if _, dup := labels[ed.Label]; dup {
			l.error(eat, fmt.Sprintf("label %s is used twice", ed.Label))
		}
		labels[ed.Label] = entries[k]
	}
	for k := range gd.Entries {
		if entries[k] != nil {
			l.link(fmt.Sprintf("%s.entry[%d]", at, k), &gd.Entries[k], entries[k], labels)
		}
	}
	for _, e := range entries {
		if e != nil {
			g.Add(e)
		}
	}
}

// instruction resolves name to an instruction with one of ops.
func (l *loader) instruction(at, name string, ops ...ir.Opcode) *ir.Instr {
	v := l.operand(at, "%"+name)
	if v == nil {
		return nil
	}
	inst, ok := v.(*ir.Instr)
	if ok && len(ops) == 0 {
		return inst
	}
	if ok {
		for _, op := range ops {
			if inst.Op == op {
				return inst
			}
		}
	}
	l.error(at, fmt.Sprintf("%%%s cannot back this entry", name))
	return nil
}

func (l *loader) computation(at, name string) *ir.Instr {
	inst := l.instruction(at, name)
	if inst == nil {
		return nil
	}
	if !inst.Op.IsBinary() && !inst.Op.IsCompare() && inst.Op != ir.OpSelect && inst.Op != ir.OpCall {
		l.error(at, fmt.Sprintf("%%%s is a %s, not a computation", name, inst.Op))
		return nil
	}
	return inst
}

func (l *loader) expr(at, src string) ir.Expr {
	if src == "" {
		return nil
	}
	e, err := ParseExpr(src, l)
	if err != nil {
		l.error(at, err.Error())
		return nil
	}
	return e
}

// entry builds the entry without its references to other entries.
func (l *loader) entry(at string, ed *entryDesc) dfg.Entry {
	switch ed.Kind {
	case "InputPort":
		if v := l.operand(at, "%"+ed.Value); v != nil {
			return &dfg.InputPort{Value: v}
		}
	case "OutputPort":
		if v := l.operand(at, "%"+ed.Value); v != nil {
			return &dfg.OutputPort{Output: v}
		}
	case "InputConst":
		if v := l.operand(at, "%"+ed.Value); v != nil {
			return &dfg.InputConst{Val: v}
		}
	case "StreamInPort":
		if v := l.operand(at, "%"+ed.Value); v != nil {
			return &dfg.StreamInPort{DataFrom: v}
		}
	case "StreamOutPort":
		if v := l.operand(at, "%"+ed.Value); v != nil {
			return &dfg.StreamOutPort{Output: v}
		}
	case "MemPort":
		fill, ok := fills[ed.Fill]
		if !ok {
			l.error(at, fmt.Sprintf("unknown fill %q", ed.Fill))
		}
		if ld := l.instruction(at, ed.Value, ir.OpLoad); ld != nil {
			return &dfg.MemPort{Load: ld, Fill: fill}
		}
	case "PortMem":
		if st := l.instruction(at, ed.Value, ir.OpStore); st != nil {
			return &dfg.PortMem{Store: st, Latency: ed.Latency, InMajor: ed.InMajor}
		}
	case "IndMemPort":
		if ld := l.instruction(at, ed.Value, ir.OpLoad); ld != nil {
			return &dfg.IndMemPort{Load: ld, Duplicate: ed.Duplicate}
		}
	case "ComputeBody":
		if op := l.computation(at, ed.Value); op != nil {
			return &dfg.ComputeBody{Op: op, Atomic: ed.Atomic, AbstainMask: ed.Abstain}
		}
	case "Accumulator":
		if op := l.computation(at, ed.Value); op != nil {
			return &dfg.Accumulator{Op: op, AbstainMask: ed.Abstain, Dims: ed.Dims}
		}
	case "Predicate":
		p := &dfg.Predicate{}
		for _, c := range ed.Conds {
			if cmp := l.instruction(at, c, ir.OpICmp, ir.OpFCmp); cmp != nil {
				p.Cond = append(p.Cond, cmp)
			}
		}
		if len(p.Cond) == 0 {
			l.error(at, "predicate without conditions")
			return nil
		}
		return p
	case "CtrlSignal":
		return &dfg.CtrlSignal{}
	case "CtrlMemPort":
		ld := l.instruction(at, ed.Value, ir.OpLoad)
		if ld == nil {
			return nil
		}
		return &dfg.CtrlMemPort{Load: ld, Start: l.expr(at, ed.Start), TripCnt: l.expr(at, ed.Trip), Mask: ed.Mask}
	default:
		l.error(at, fmt.Sprintf("unknown entry kind %q", ed.Kind))
	}
	return nil
}

// link resolves the label references of e.
func (l *loader) link(at string, ed *entryDesc, e dfg.Entry, labels map[string]dfg.Entry) {
	pred := func() *dfg.Predicate {
		if ed.Pred == "" {
			return nil
		}
		p, ok := labels[ed.Pred].(*dfg.Predicate)
		if !ok {
			l.error(at, fmt.Sprintf("%s does not label a predicate", ed.Pred))
		}
		return p
	}
	switch x := e.(type) {
	case *dfg.MemPort:
		x.Pred = pred()
	case *dfg.ComputeBody:
		x.Pred = pred()
	case *dfg.Accumulator:
		x.Pred = pred()
	case *dfg.CtrlMemPort:
		x.Pred = pred()
	case *dfg.IndMemPort:
		idx, ok := labels[ed.Index].(*dfg.MemPort)
		if !ok {
			l.error(at, fmt.Sprintf("index %q does not label a memory port", ed.Index))
			return
		}
		x.Index = idx
	case *dfg.CtrlSignal:
		acc, ok := labels[ed.Controls].(*dfg.Accumulator)
		if !ok {
			l.error(at, fmt.Sprintf("%q does not label an accumulator", ed.Controls))
			return
		}
		if acc.Ctrl != nil {
			l.error(at, fmt.Sprintf("accumulator %s already has a control signal", ed.Controls))
			return
		}
		x.Controlled = acc
		acc.Ctrl = x
	}
}
