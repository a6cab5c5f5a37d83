package xform

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"dsac/internal/analysis"
	"dsac/internal/backend"
	"dsac/internal/dfg"
	"dsac/internal/diag"
	"dsac/internal/ir"
)

// Options mirror the accelerator features that change the lowering.
type Options struct {
	// Pred lowers control streams as predicated memory streams.
	Pred bool
	// Ind lowers indirect ports as indirect streams instead of constants.
	Ind bool
}

// Injector lowers the graphs of one region into a Plan. Entries already in
// the completion set are skipped, so lowering a graph twice adds nothing.
type Injector struct {
	opts Options
	regs *RegisterFile
	log  *zap.Logger
	rep  *diag.Reporter
	plan *Plan
}

// NewInjector returns an injector for f. regs must belong to the function f
// was extracted from.
func NewInjector(f *dfg.File, regs *RegisterFile, opts Options, log *zap.Logger, rep *diag.Reporter) (*Injector, error) {
	if regs == nil || regs.Function() != f.Fn {
		return nil, fmt.Errorf("xform: %s: register file belongs to another function: %w", f.Name, diag.ErrInternal)
	}
	if log == nil {
		log = zap.NewNop()
	}
	regs.Enter(f.Start, f.End)
	return &Injector{opts: opts, regs: regs, log: log, rep: rep, plan: newPlan(f)}, nil
}

// Plan returns the plan built so far.
func (in *Injector) Plan() *Plan { return in.plan }

// InjectConfiguration loads the scheduled bitstream before the region and
// waits for the accelerator before it ends.
func (in *Injector) InjectConfiguration(asg *backend.Assignment) {
	if len(in.plan.Prologue) != 0 {
		return
	}
	bits := &ir.Global{Nm: in.plan.File.Name + "_bitstream", Data: asg.Bitstream}
	in.plan.Prologue = append(in.plan.Prologue,
		ir.Intrinsic("ss_cfg", voidType, arg("bitstream", ir.Sym(bits)), num("size", asg.Size)))
	in.plan.Epilogue = append(in.plan.Epilogue, ir.Intrinsic("ss_wait_all", voidType))
}

// InjectFile lowers every graph of the region and checks that every port
// was lowered.
func (in *Injector) InjectFile(lis []*analysis.LoopInfo, cmis []*analysis.CoalMemoryInfo) error {
	f := in.plan.File
	if len(lis) != len(f.Graphs) || len(cmis) != len(f.Graphs) {
		return fmt.Errorf("xform: %s: analyses do not match the %d graphs: %w", f.Name, len(f.Graphs), diag.ErrInternal)
	}
	for i, g := range f.Graphs {
		if err := in.InjectGraph(g, lis[i], cmis[i]); err != nil {
			return err
		}
	}
	return in.plan.Verify()
}

// InjectGraph lowers the entries of g in emission order.
func (in *Injector) InjectGraph(g *dfg.Graph, li *analysis.LoopInfo, cmi *analysis.CoalMemoryInfo) error {
	if g.File != in.plan.File {
		return fmt.Errorf("xform: DFG%d belongs to another region: %w", g.ID, diag.ErrInternal)
	}
	l := &lowering{
		Injector: in,
		g:        g,
		li:       li,
		cmi:      cmi,
		cg:       &codegen{regs: in.regs, calls: &in.plan.Graphs[g.ID]},
	}
	return dfg.Walk(g, func(e dfg.Entry) error {
		if err := l.recurrence(e); err != nil {
			return fmt.Errorf("xform: DFG%d entry %d: %w", g.ID, dfg.IDOf(e), err)
		}
		if err := l.lower(e); err != nil {
			return fmt.Errorf("xform: DFG%d entry %d: %w", g.ID, dfg.IDOf(e), err)
		}
		return nil
	})
}

// lowering is the state of one InjectGraph call.
type lowering struct {
	*Injector
	g   *dfg.Graph
	li  *analysis.LoopInfo
	cmi *analysis.CoalMemoryInfo
	cg  *codegen
}

func (l *lowering) done(e dfg.Entry) bool { return l.plan.Done(e) }

func (l *lowering) scev(v ir.Value) ir.Expr { return l.plan.File.Fn.SCEV(v) }

func (l *lowering) lower(e dfg.Entry) error {
	if l.done(e) {
		return nil
	}
	if p, ok := dfg.PortOf(e); ok && p.SoftPortNum < 0 && !l.clustered(e) {
		// The emitter left this port out; there is nothing to feed.
		l.log.Debug("port not scheduled", zap.String("entry", dfg.Name(e, -1)))
		l.plan.complete(e)
		return nil
	}
	switch x := e.(type) {
	case *dfg.MemPort:
		return l.memPort(x)
	case *dfg.PortMem:
		return l.portMem(x)
	case *dfg.IndMemPort:
		return l.indMemPort(x)
	case *dfg.InputConst:
		return l.invariant(e, x.Val, x.SoftPortNum)
	case *dfg.InputPort:
		return l.invariant(e, x.Value, x.SoftPortNum)
	case *dfg.CtrlSignal:
		return l.ctrlSignal(x)
	case *dfg.CtrlMemPort:
		return l.ctrlMemPort(x)
	case *dfg.OutputPort:
		return l.outputPort(x)
	case *dfg.StreamInPort:
		return l.streamIn(x)
	case *dfg.StreamOutPort:
		l.plan.complete(x)
		return nil
	case *dfg.ComputeBody:
		if x.Atomic {
			return fmt.Errorf("atomic update %s: %w", x.Op.Nm, diag.ErrUnsupported)
		}
		return nil
	case *dfg.Accumulator, *dfg.Predicate:
		return nil
	default:
		panic(fmt.Sprintf("xform: unknown entry %T", e))
	}
}

func (l *lowering) clustered(e dfg.Entry) bool {
	switch e.(type) {
	case *dfg.MemPort, *dfg.PortMem:
		return l.cmi.IsCoalesced(dfg.IDOf(e))
	}
	return false
}

// clusterPort returns the port, the first member and the largest offset of
// the cluster holding entry id.
func (l *lowering) clusterPort(id int, own int) (int, dfg.Entry, int64, error) {
	members, idx, ok := l.cmi.ClusterOf(id)
	if !ok {
		return -1, nil, 0, fmt.Errorf("memory port %d is in no cluster: %w", id, diag.ErrInternal)
	}
	port := own
	if len(members) > 1 {
		port = l.cmi.ClusterPorts[idx]
	}
	if port < 0 {
		return -1, nil, 0, fmt.Errorf("cluster %d has no port: %w", idx, diag.ErrInternal)
	}
	return port, l.g.Entries[members[0].ID], l.cmi.MaxOffset(idx), nil
}

func (l *lowering) completeCluster(id int) {
	members, _, _ := l.cmi.ClusterOf(id)
	for _, m := range members {
		l.plan.complete(l.g.Entries[m.ID])
	}
}

func (l *lowering) isIndex(mp *dfg.MemPort) bool {
	for _, imp := range dfg.Of[*dfg.IndMemPort](l.g) {
		if imp.Index == mp {
			return true
		}
	}
	return false
}

func (l *lowering) memPort(mp *dfg.MemPort) error {
	if mp.Pred != nil {
		return fmt.Errorf("predicated stream %s must be a control memory port: %w", mp.Load.Nm, diag.ErrInternal)
	}
	if l.opts.Ind && l.isIndex(mp) {
		// Streamed together with its indirect consumers.
		return nil
	}
	port, first, maxOffset, err := l.clusterPort(mp.ID, mp.SoftPortNum)
	if err != nil {
		return err
	}
	mp0, ok := first.(*dfg.MemPort)
	if !ok {
		return fmt.Errorf("cluster of %s starts with a %s: %w", mp.Load.Nm, dfg.Kind(first), diag.ErrInternal)
	}
	s := stream{
		port:    port,
		op:      OpRead,
		mem:     MemDMA,
		pad:     mp.Fill,
		dtype:   mp.Load.Ty.Bytes(),
		unroll:  l.g.Unroll,
		offsets: maxOffset,
	}
	if err := l.cg.linear(s, l.scev(mp0.Load.PointerOperand()), l.li.LoopNest, l.li.TripCount); err != nil {
		return err
	}
	l.completeCluster(mp.ID)
	return nil
}

func (l *lowering) portMem(pm *dfg.PortMem) error {
	port, first, maxOffset, err := l.clusterPort(pm.ID, pm.SoftPortNum)
	if err != nil {
		return err
	}
	pm0, ok := first.(*dfg.PortMem)
	if !ok {
		return fmt.Errorf("cluster of %s starts with a %s: %w", pm.Store.Nm, dfg.Kind(first), diag.ErrInternal)
	}
	s := stream{
		port:    port,
		op:      OpWrite,
		mem:     MemDMA,
		pad:     dfg.NoPadding,
		dtype:   pm.Output().Type().Bytes(),
		unroll:  l.g.Unroll,
		offsets: maxOffset,
	}
	if err := l.cg.linear(s, l.scev(pm0.Store.PointerOperand()), l.li.LoopNest, l.li.TripCount); err != nil {
		return err
	}
	l.completeCluster(pm.ID)
	return nil
}

func (l *lowering) indMemPort(imp *dfg.IndMemPort) error {
	bytes := imp.Load.Ty.Bytes()
	if !l.opts.Ind {
		l.cg.constant(imp.SoftPortNum, ir.Sym(imp.Load), ir.C(1), bytes)
		if err := setMeta(&imp.Meta, "src", "memory", "cmd", "0.1"); err != nil {
			return err
		}
		l.plan.complete(imp)
		return nil
	}
	var together []*dfg.IndMemPort
	for _, other := range dfg.Of[*dfg.IndMemPort](l.g) {
		if l.done(other) || other.Index.Load != imp.Index.Load {
			continue
		}
		if other.Index.SoftPortNum < 0 {
			return fmt.Errorf("index stream of %s has no port: %w", other.Load.Nm, diag.ErrInternal)
		}
		together = append(together, other)
	}
	if len(together) == 0 || together[0] != imp {
		return fmt.Errorf("indirect port %s is not the first reader of its index: %w", imp.Load.Nm, diag.ErrInternal)
	}
	for _, other := range together[1:] {
		l.cg.call("ss_cfg_port", num("port", int64(other.Index.SoftPortNum)), num("broadcast", 1))
	}

	index := imp.Index
	idxBytes := index.Load.Ty.Bytes()
	s := stream{
		port:   index.SoftPortNum,
		op:     OpRead,
		mem:    MemDMA,
		pad:    dfg.NoPadding,
		dtype:  idxBytes,
		unroll: l.g.Unroll,
	}
	if err := l.cg.linear(s, l.scev(index.Load.PointerOperand()), l.li.LoopNest, l.li.TripCount); err != nil {
		return err
	}
	l.plan.complete(index)

	count := l.li.ProdTripCount(len(l.li.LoopNest))
	for _, cur := range together {
		gep, ok := cur.Load.PointerOperand().(*ir.Instr)
		if !ok || gep.Op != ir.OpGEP {
			return fmt.Errorf("indirect load %s is not addressed by an array index: %w", cur.Load.Nm, diag.ErrUnsupported)
		}
		l.cg.params(RegWrite{SAR, valueExpr(gep.Operands[0])}, RegWrite{L1D, count})
		l.cg.call("ss_ind_strm",
			num("port", int64(imp.SoftPortNum)),
			num("ind_port", int64(imp.IndexOutPort)),
			num("ind_bytes", int64(idxBytes)),
			num("dtype", int64(cur.Load.Ty.Bytes())),
			num("op", int64(OpRead)),
			num("mem", int64(MemDMA)))
		if err := setMeta(&cur.Meta, "src", "memory", "dest", "memory", "op", "indread"); err != nil {
			return err
		}
		l.plan.complete(cur)
	}
	return nil
}

// invariant replicates a loop-invariant host value once per iteration of
// the nest.
func (l *lowering) invariant(e dfg.Entry, v ir.Value, port int) error {
	for _, loop := range l.li.LoopNest {
		if !loop.IsInvariant(v) || ir.Uses(l.scev(v), loop) {
			return fmt.Errorf("%s is not invariant under loop %s: %w", v.Name(), loop.Name, diag.ErrUnsupported)
		}
	}
	repeat, stretch, err := computedRepeat(l.li.TripCount, len(l.li.TripCount), l.g.Unroll)
	if err != nil {
		return err
	}
	if stretch != nil {
		return fmt.Errorf("constant %s cannot be stretched: %w", v.Name(), diag.ErrUnsupported)
	}
	l.cg.constant(port, valueExpr(v), repeat, v.Type().Bytes())
	l.plan.complete(e)
	return nil
}

func (l *lowering) ctrlSignal(cs *dfg.CtrlSignal) error {
	if l.g.Kind != dfg.Dedicated {
		return fmt.Errorf("control signal %s in a temporal graph: %w", dfg.Name(cs, -1), diag.ErrUnsupported)
	}
	one, two := ir.C(1), ir.C(2)
	if cs.Controlled.Pred != nil {
		if !l.opts.Pred {
			l.cg.constant(cs.SoftPortNum, two, one, 8)
			l.cg.constant(cs.SoftPortNum, one, one, 8)
		}
		l.plan.complete(cs)
		return nil
	}
	produced := l.li.ProdTripCount(cs.Controlled.ReducedDims())
	iters := ir.UDiv(l.li.ProdTripCount(len(l.li.LoopNest)), produced)
	repeatTwo := ir.Sub(ir.CeilDiv(produced, ir.C(int64(l.g.Unroll))), one)
	l.cg.call("ss_2d_const",
		num("port", int64(cs.SoftPortNum)),
		arg("v1", two), arg("n1", repeatTwo),
		arg("v2", one), arg("n2", one),
		arg("iters", iters), num("bytes", 8))
	l.plan.complete(cs)
	return nil
}

func (l *lowering) ctrlMemPort(cmp *dfg.CtrlMemPort) error {
	if l.g.Kind != dfg.Dedicated {
		return fmt.Errorf("control stream %s in a temporal graph: %w", cmp.Load.Nm, diag.ErrUnsupported)
	}
	bytes := cmp.Load.Ty.Bytes()
	if !l.opts.Pred {
		l.cg.constant(cmp.SoftPortNum, ir.Sym(cmp.Load), ir.C(1), bytes)
		l.cg.constant(cmp.SoftPortNum, ir.C(0), ir.C(1), 8)
		l.plan.complete(cmp)
		return nil
	}
	// The array must end with a sentinel word; the stream does not append
	// one.
	s := stream{port: cmp.SoftPortNum, op: OpRead, mem: MemDMA, dtype: bytes, unroll: l.g.Unroll}
	l.cg.stream1D(s, cmp.Start, ir.C(int64(bytes)), cmp.TripCnt)
	if err := setMeta(&cmp.Meta, "op", "read", "src", "memory"); err != nil {
		return err
	}
	if !cmp.ForPredicate {
		l.cg.constant(cmp.SoftPortNum, ir.C(0), ir.C(1), bytes)
	}
	l.plan.complete(cmp)
	return nil
}

func (l *lowering) outputPort(op *dfg.OutputPort) error {
	ty := op.Output.Type()
	recv := ir.Intrinsic("ss_recv", ty, num("port", int64(op.SoftPortNum)), num("bytes", int64(ty.Bytes())))
	l.cg.emit(recv)
	l.plan.Replacements = append(l.plan.Replacements, Replacement{Old: op.Output, New: recv})
	l.plan.complete(op)
	return nil
}

func (l *lowering) streamIn(sip *dfg.StreamInPort) error {
	var sop *dfg.StreamOutPort
	for _, g := range l.plan.File.Graphs {
		for _, cand := range dfg.Of[*dfg.StreamOutPort](g) {
			if cand.Output == sip.DataFrom {
				sop = cand
				break
			}
		}
		if sop != nil {
			break
		}
	}
	if sop == nil {
		return fmt.Errorf("no graph produces %s: %w", sip.DataFrom.Name(), diag.ErrInternal)
	}
	bytes := sop.Output.Type().Bytes()
	if l.g.Kind == dfg.Temporal {
		l.cg.call("ss_recurrence", num("out", int64(sop.SoftPortNum)), num("in", int64(sip.SoftPortNum)), num("n", 1), num("bytes", int64(bytes)))
		l.plan.complete(sip)
		return nil
	}
	i := 0
	for ; i < len(l.li.LoopNest); i++ {
		if !l.li.LoopNest[i].IsInvariant(sop.Output) {
			break
		}
	}
	repeat, stretch, err := computedRepeat(l.li.TripCount, i, l.g.Unroll)
	if err != nil {
		return err
	}
	l.cg.call("ss_repeat_port", num("port", int64(sip.SoftPortNum)), arg("n", repeat))
	if stretch != nil {
		l.cg.call("ss_cfg_port", num("port", int64(sip.SoftPortNum)), arg("repeat_stretch", stretch))
	}
	n := ir.C(1)
	for ; i < len(l.li.LoopNest); i++ {
		n = ir.Mul(n, l.li.Trips(i))
	}
	l.cg.call("ss_recurrence", num("out", int64(sop.SoftPortNum)), num("in", int64(sip.SoftPortNum)), arg("n", n), num("bytes", int64(bytes)))
	l.plan.complete(sip)
	return nil
}

// recurrence replaces a read and a write of the same address in the main
// loop body with an on-chip recurrence when the address does not move
// across the outermost loop.
func (l *lowering) recurrence(e dfg.Entry) error {
	mp, ok := e.(*dfg.MemPort)
	if !ok || l.done(mp) || len(l.li.TripCount) <= 1 || l.g.Kind != dfg.Dedicated {
		return nil
	}
	for _, pm := range dfg.Of[*dfg.PortMem](l.g) {
		if !pm.InMajor || l.done(pm) {
			continue
		}
		ptr := mp.Load.PointerOperand()
		if ptr != pm.Store.PointerOperand() {
			continue
		}
		addr := l.scev(ptr)
		idx, err := analysis.AnalyzeIndexExpr(addr, l.li.LoopNest)
		if err != nil {
			return err
		}
		if !idx.Stretched() || idx.PartialInvariant() != 0 {
			return nil
		}
		outer := idx.Coef[len(idx.Coef)-1]
		if v, ok := outer.ConstInt(); !ok || v != 0 {
			return nil
		}
		depth := len(l.li.LoopNest)
		if depth != 2 {
			return fmt.Errorf("recurrence over a %d-deep loop nest: %w", depth, diag.ErrUnsupported)
		}
		l.log.Debug("recurrence", zap.String("load", mp.Load.Nm), zap.String("store", pm.Store.Nm))

		dtype := mp.Load.Ty.Bytes()
		nest, trips := l.li.LoopNest[:depth-1], l.li.TripCount[:depth-1]
		read := stream{port: mp.SoftPortNum, op: OpRead, mem: MemDMA, pad: mp.Fill, dtype: dtype, unroll: l.g.Unroll}
		if err := l.cg.linear(read, addr, nest, trips); err != nil {
			return err
		}
		inner, outerN := l.li.TripCount[0].Base, l.li.TripCount[1].Base
		l.cg.call("ss_recurrence",
			num("out", int64(pm.SoftPortNum)),
			num("in", int64(mp.SoftPortNum)),
			arg("n", ir.Mul(ir.Add(inner, ir.C(1)), outerN)),
			num("bytes", int64(dtype)))
		write := stream{port: pm.SoftPortNum, op: OpWrite, mem: MemDMA, dtype: dtype, unroll: l.g.Unroll}
		if err := l.cg.linear(write, addr, nest, trips); err != nil {
			return err
		}

		conc := int64(-1)
		at := dfg.Name(pm, -1)
		if c, ok := ir.AsConst(inner); ok {
			canHide := c * int64(dtype)
			if ii := int64(pm.Latency) - canHide; ii > 0 {
				l.log.Debug("recurrence interval", zap.Int64("ii", ii))
			} else if l.rep != nil {
				l.rep.Warning(at, fmt.Sprintf("to hide the latency %d, %d elements are active; this requires a %d-deep FIFO buffer",
					pm.Latency, canHide, canHide-int64(pm.Latency)))
			}
			conc = c
		} else if l.rep != nil {
			l.rep.Warning(at, fmt.Sprintf("to hide the latency %d, make sure the variable recurrence distance %s does not overwhelm the FIFO buffer",
				pm.Latency, inner))
		}
		if err := setMeta(&pm.Meta, "dest", "localport", "dest", dfg.Name(mp, -1), "conc", strconv.FormatInt(conc*int64(dtype), 10)); err != nil {
			return err
		}
		l.plan.complete(pm, mp)
		return nil
	}
	return nil
}

func setMeta(m *dfg.MetaPort, kv ...string) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if err := m.Set(kv[i], kv[i+1]); err != nil {
			return err
		}
	}
	return nil
}
