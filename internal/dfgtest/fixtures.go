// Package dfgtest builds small host functions and regions shared by the
// analysis, emitter and injector tests.
package dfgtest

import (
	"dsac/internal/dfg"
	"dsac/internal/ir"
)

// Region bundles a host function with its extracted region.
type Region struct {
	Fn   *ir.Function
	File *dfg.File
}

// Graph returns graph i of the region.
func (r *Region) Graph(i int) *dfg.Graph { return r.File.Graphs[i] }

func newRegion(name string, params ...*ir.Param) (*Region, *ir.Builder) {
	fn := ir.NewFunction(name, params...)
	b := ir.NewBuilder(fn)
	return &Region{Fn: fn}, b
}

func (r *Region) seal(b *ir.Builder, start *ir.Instr) {
	end := b.Marker(ir.OpRegionEnd, "dfg.end")
	r.File = dfg.NewFile(r.Fn.Name+"_dfg_0.dfg", r.Fn, start, end)
}

// VecAdd builds b[i] = a[i] + 1 for i in [0, n): one memory read, one add
// and one memory write, with a constant trip count n.
func VecAdd(n int64, unroll int) *Region {
	a := &ir.Param{Nm: "a", Ty: ir.PtrType()}
	out := &ir.Param{Nm: "b", Ty: ir.PtrType()}
	r, b := newRegion("vecadd", a, out)
	start := b.Marker(ir.OpRegionStart, "dfg.start")
	i := b.EnterLoop("i", ir.C(n-1))
	pa := b.Address("a.addr", a, nil, ir.AddRec(ir.Sym(a), ir.C(4), i))
	x := b.Load("x", ir.IntType(32), pa)
	y := b.Binary(ir.OpAdd, "y", x, ir.ConstInt(32, 1))
	pb := b.Address("b.addr", out, nil, ir.AddRec(ir.Sym(out), ir.C(4), i))
	st := b.Store("st", y, pb)
	b.ExitLoop()
	r.seal(b, start)

	g := r.File.AddGraph(dfg.Dedicated, unroll, i)
	g.Add(&dfg.MemPort{Load: x})
	g.Add(&dfg.ComputeBody{Op: y})
	g.Add(&dfg.PortMem{Store: st, Latency: 4, InMajor: true})
	return r
}

// PairSum builds out[i] = a[2i] + a[2i+1]: two 4-byte reads of the same base
// at byte offsets 0 and 4.
func PairSum(unroll int) *Region {
	a := &ir.Param{Nm: "a", Ty: ir.PtrType()}
	out := &ir.Param{Nm: "out", Ty: ir.PtrType()}
	n := &ir.Param{Nm: "n", Ty: ir.IntType(64)}
	r, b := newRegion("pairsum", a, out, n)
	start := b.Marker(ir.OpRegionStart, "dfg.start")
	i := b.EnterLoop("i", ir.Sub(ir.Sym(n), ir.C(1)))
	p0 := b.Address("a0.addr", a, nil, ir.AddRec(ir.Sym(a), ir.C(8), i))
	x0 := b.Load("x0", ir.IntType(32), p0)
	p1 := b.Address("a1.addr", a, nil, ir.AddRec(ir.Add(ir.Sym(a), ir.C(4)), ir.C(8), i))
	x1 := b.Load("x1", ir.IntType(32), p1)
	s := b.Binary(ir.OpAdd, "s", x0, x1)
	po := b.Address("out.addr", out, nil, ir.AddRec(ir.Sym(out), ir.C(4), i))
	st := b.Store("st", s, po)
	b.ExitLoop()
	r.seal(b, start)

	g := r.File.AddGraph(dfg.Dedicated, unroll, i)
	g.Add(&dfg.MemPort{Load: x0})
	g.Add(&dfg.MemPort{Load: x1})
	g.Add(&dfg.ComputeBody{Op: s})
	g.Add(&dfg.PortMem{Store: st, InMajor: true})
	return r
}

// Interleave builds out[2i] = a[i] + 1 and out[2i+1] = a[i] * 2: two 4-byte
// writes of the same base at byte offsets 0 and 4.
func Interleave(unroll int) *Region {
	a := &ir.Param{Nm: "a", Ty: ir.PtrType()}
	out := &ir.Param{Nm: "out", Ty: ir.PtrType()}
	r, b := newRegion("interleave", a, out)
	start := b.Marker(ir.OpRegionStart, "dfg.start")
	i := b.EnterLoop("i", ir.C(63))
	pa := b.Address("a.addr", a, nil, ir.AddRec(ir.Sym(a), ir.C(4), i))
	x := b.Load("x", ir.IntType(32), pa)
	lo := b.Binary(ir.OpAdd, "lo", x, ir.ConstInt(32, 1))
	hi := b.Binary(ir.OpMul, "hi", x, ir.ConstInt(32, 2))
	p0 := b.Address("out0.addr", out, nil, ir.AddRec(ir.Sym(out), ir.C(8), i))
	st0 := b.Store("st0", lo, p0)
	p1 := b.Address("out1.addr", out, nil, ir.AddRec(ir.Add(ir.Sym(out), ir.C(4)), ir.C(8), i))
	st1 := b.Store("st1", hi, p1)
	b.ExitLoop()
	r.seal(b, start)

	g := r.File.AddGraph(dfg.Dedicated, unroll, i)
	g.Add(&dfg.MemPort{Load: x})
	g.Add(&dfg.ComputeBody{Op: lo})
	g.Add(&dfg.ComputeBody{Op: hi})
	g.Add(&dfg.PortMem{Store: st0, InMajor: true})
	g.Add(&dfg.PortMem{Store: st1, InMajor: true})
	return r
}

// Relax builds the in-place update a[j] = a[j] * 3 repeated over an outer
// loop: for o in [0, O]: for j in [0, I]. The inner and outer backedge
// counts are the symbols %I and %O.
func Relax(latency int) *Region {
	a := &ir.Param{Nm: "a", Ty: ir.PtrType()}
	inner := &ir.Param{Nm: "I", Ty: ir.IntType(64)}
	outer := &ir.Param{Nm: "O", Ty: ir.IntType(64)}
	r, b := newRegion("relax", a, inner, outer)
	start := b.Marker(ir.OpRegionStart, "dfg.start")
	o := b.EnterLoop("o", ir.Sym(outer))
	j := b.EnterLoop("j", ir.Sym(inner))
	addr := ir.AddRec(ir.Sym(a), ir.C(4), j)
	pl := b.Address("a.ld", a, nil, addr)
	x := b.Load("x", ir.IntType(32), pl)
	y := b.Binary(ir.OpMul, "y", x, ir.ConstInt(32, 3))
	st := b.Store("st", y, pl)
	b.ExitLoop()
	b.ExitLoop()
	r.seal(b, start)

	g := r.File.AddGraph(dfg.Dedicated, 1, o, j)
	g.Add(&dfg.MemPort{Load: x})
	g.Add(&dfg.ComputeBody{Op: y})
	g.Add(&dfg.PortMem{Store: st, Latency: latency, InMajor: true})
	return r
}

// Reduce builds sum += a[i] over i in [0, n) with an accumulator, its
// control toggle and the scalar result leaving through an output port.
func Reduce(unroll int) *Region {
	a := &ir.Param{Nm: "a", Ty: ir.PtrType()}
	n := &ir.Param{Nm: "n", Ty: ir.IntType(64)}
	r, b := newRegion("reduce", a, n)
	start := b.Marker(ir.OpRegionStart, "dfg.start")
	i := b.EnterLoop("i", ir.Sub(ir.Sym(n), ir.C(1)))
	sum := b.Phi("sum", ir.IntType(64), ir.ConstInt(64, 0))
	pa := b.Address("a.addr", a, nil, ir.AddRec(ir.Sym(a), ir.C(8), i))
	x := b.Load("x", ir.IntType(64), pa)
	next := b.Binary(ir.OpAdd, "sum.next", sum, x)
	b.AddIncoming(sum, next)
	b.ExitLoop()
	exit := b.Phi("sum.exit", ir.IntType(64), next)
	b.Call("", "use", ir.Type{Kind: ir.Void}, exit)
	r.seal(b, start)

	g := r.File.AddGraph(dfg.Dedicated, unroll, i)
	g.Add(&dfg.MemPort{Load: x})
	acc := &dfg.Accumulator{Op: next}
	ctrl := &dfg.CtrlSignal{Controlled: acc}
	acc.Ctrl = ctrl
	g.Add(ctrl)
	g.Add(acc)
	g.Add(&dfg.OutputPort{Output: next})
	return r
}

// Scale builds out[i] = a[i] * k with k a loop-invariant parameter.
func Scale() *Region {
	a := &ir.Param{Nm: "a", Ty: ir.PtrType()}
	out := &ir.Param{Nm: "out", Ty: ir.PtrType()}
	k := &ir.Param{Nm: "k", Ty: ir.IntType(32)}
	r, b := newRegion("scale", a, out, k)
	start := b.Marker(ir.OpRegionStart, "dfg.start")
	i := b.EnterLoop("i", ir.C(63))
	pa := b.Address("a.addr", a, nil, ir.AddRec(ir.Sym(a), ir.C(4), i))
	x := b.Load("x", ir.IntType(32), pa)
	y := b.Binary(ir.OpMul, "y", x, k)
	po := b.Address("out.addr", out, nil, ir.AddRec(ir.Sym(out), ir.C(4), i))
	st := b.Store("st", y, po)
	b.ExitLoop()
	r.seal(b, start)

	g := r.File.AddGraph(dfg.Dedicated, 1, i)
	g.Add(&dfg.MemPort{Load: x})
	g.Add(&dfg.InputConst{Val: k})
	g.Add(&dfg.ComputeBody{Op: y})
	g.Add(&dfg.PortMem{Store: st, InMajor: true})
	return r
}

// Gather builds out[i] = a[idx[i]] + b[idx[i]]: two indirect reads sharing
// one index stream.
func Gather() *Region {
	a := &ir.Param{Nm: "a", Ty: ir.PtrType()}
	bb := &ir.Param{Nm: "b", Ty: ir.PtrType()}
	idx := &ir.Param{Nm: "idx", Ty: ir.PtrType()}
	out := &ir.Param{Nm: "out", Ty: ir.PtrType()}
	r, b := newRegion("gather", a, bb, idx, out)
	start := b.Marker(ir.OpRegionStart, "dfg.start")
	i := b.EnterLoop("i", ir.C(127))
	pi := b.Address("idx.addr", idx, nil, ir.AddRec(ir.Sym(idx), ir.C(4), i))
	k := b.Load("k", ir.IntType(32), pi)
	pa := b.Address("a.addr", a, k, nil)
	xa := b.Load("xa", ir.IntType(64), pa)
	pb := b.Address("b.addr", bb, k, nil)
	xb := b.Load("xb", ir.IntType(64), pb)
	s := b.Binary(ir.OpAdd, "s", xa, xb)
	po := b.Address("out.addr", out, nil, ir.AddRec(ir.Sym(out), ir.C(8), i))
	st := b.Store("st", s, po)
	b.ExitLoop()
	r.seal(b, start)

	g := r.File.AddGraph(dfg.Dedicated, 1, i)
	index := &dfg.MemPort{Load: k}
	g.Add(index)
	g.Add(&dfg.IndMemPort{Load: xa, Index: index})
	g.Add(&dfg.IndMemPort{Load: xb, Index: index, Duplicate: true})
	g.Add(&dfg.ComputeBody{Op: s})
	g.Add(&dfg.PortMem{Store: st, InMajor: true})
	return r
}

// Pipe builds two graphs linked by a recurrence: graph 0 computes
// t = a[i] + a[i] and forwards it, graph 1 consumes t and stores t * 2.
func Pipe() *Region {
	a := &ir.Param{Nm: "a", Ty: ir.PtrType()}
	out := &ir.Param{Nm: "out", Ty: ir.PtrType()}
	r, b := newRegion("pipe", a, out)
	start := b.Marker(ir.OpRegionStart, "dfg.start")
	i := b.EnterLoop("i", ir.C(31))
	pa := b.Address("a.addr", a, nil, ir.AddRec(ir.Sym(a), ir.C(4), i))
	x := b.Load("x", ir.IntType(32), pa)
	t := b.Binary(ir.OpAdd, "t", x, x)
	u := b.Binary(ir.OpMul, "u", t, ir.ConstInt(32, 2))
	po := b.Address("out.addr", out, nil, ir.AddRec(ir.Sym(out), ir.C(4), i))
	st := b.Store("st", u, po)
	b.ExitLoop()
	r.seal(b, start)

	g0 := r.File.AddGraph(dfg.Dedicated, 1, i)
	g0.Add(&dfg.MemPort{Load: x})
	g0.Add(&dfg.ComputeBody{Op: t})
	g0.Add(&dfg.StreamOutPort{Output: t})

	g1 := r.File.AddGraph(dfg.Dedicated, 1, i)
	g1.Add(&dfg.StreamInPort{DataFrom: t})
	g1.Add(&dfg.ComputeBody{Op: u})
	g1.Add(&dfg.PortMem{Store: st, InMajor: true})
	return r
}

// Guarded builds out[i] = (c[i] > 0) ? a[i] + 1 : skipped, with the
// condition stream c feeding a predicate that controls the add. When
// twoPredicates is set, a second predicate object is attached to another
// operand so the same control bit sees two distinct predicates.
func Guarded(twoPredicates bool) *Region {
	a := &ir.Param{Nm: "a", Ty: ir.PtrType()}
	c := &ir.Param{Nm: "c", Ty: ir.PtrType()}
	out := &ir.Param{Nm: "out", Ty: ir.PtrType()}
	n := &ir.Param{Nm: "n", Ty: ir.IntType(64)}
	r, b := newRegion("guarded", a, c, out, n)
	start := b.Marker(ir.OpRegionStart, "dfg.start")
	i := b.EnterLoop("i", ir.Sub(ir.Sym(n), ir.C(1)))
	addrC := ir.AddRec(ir.Sym(c), ir.C(4), i)
	pc := b.Address("c.addr", c, nil, addrC)
	cv := b.Load("cv", ir.IntType(32), pc)
	cond := b.Cmp(ir.CmpSGT, "cond", cv, ir.ConstInt(32, 0))
	addrA := ir.AddRec(ir.Sym(a), ir.C(4), i)
	pa := b.Address("a.addr", a, nil, addrA)
	av := b.Load("av", ir.IntType(32), pa)
	y := b.Binary(ir.OpAdd, "y", av, cv)
	po := b.Address("out.addr", out, nil, ir.AddRec(ir.Sym(out), ir.C(4), i))
	st := b.Store("st", y, po)
	b.ExitLoop()
	r.seal(b, start)

	trip := ir.Sym(n)
	g := r.File.AddGraph(dfg.Dedicated, 1, i)
	pred := &dfg.Predicate{Cond: []*ir.Instr{cond}}
	g.Add(&dfg.CtrlMemPort{Load: cv, Start: ir.Sym(c), TripCnt: trip, Pred: pred, Mask: 0b110})
	other := pred
	if twoPredicates {
		other = &dfg.Predicate{Cond: []*ir.Instr{cond}}
	}
	g.Add(&dfg.CtrlMemPort{Load: av, Start: ir.Sym(a), TripCnt: trip, Pred: other, Mask: 0b101})
	g.Add(pred)
	if twoPredicates {
		g.Add(other)
	}
	g.Add(&dfg.ComputeBody{Op: y, Pred: pred, AbstainMask: 0b100})
	g.Add(&dfg.PortMem{Store: st, InMajor: true})
	return r
}
