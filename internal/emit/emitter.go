// Package emit serializes dataflow graphs into the textual format consumed
// by the scheduler.
package emit

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/oleiade/lane"

	"dsac/internal/analysis"
	"dsac/internal/dfg"
	"dsac/internal/diag"
	"dsac/internal/ir"
)

// Options mirror the accelerator features that change the text.
type Options struct {
	Pred     bool
	Temporal bool
	Trigger  bool
}

// File writes every graph of f, separated by "----" lines. cmis holds the
// coalescing result of each graph, in graph order.
func File(w io.Writer, f *dfg.File, cmis []*analysis.CoalMemoryInfo, opts Options) error {
	if len(cmis) != len(f.Graphs) {
		return fmt.Errorf("emit: %s: %d coalescing results for %d graphs: %w", f.Name, len(cmis), len(f.Graphs), diag.ErrInternal)
	}
	if opts.Trigger && !opts.Temporal {
		return fmt.Errorf("emit: trigger requires temporal support: %w", diag.ErrConfig)
	}
	for i, g := range f.Graphs {
		if i > 0 {
			if _, err := io.WriteString(w, "----\n"); err != nil {
				return err
			}
		}
		if err := Graph(w, g, cmis[i], opts); err != nil {
			return err
		}
	}
	return nil
}

// Graph writes one graph.
func Graph(w io.Writer, g *dfg.Graph, cmi *analysis.CoalMemoryInfo, opts Options) error {
	p := &printer{
		opts:    opts,
		g:       g,
		cmi:     cmi,
		emitted: make([]bool, len(cmi.Clusters)),
	}
	if g.Kind == dfg.Temporal || opts.Trigger {
		p.line("#pragma group temporal")
	}
	p.linef("#pragma group unroll %d", g.Unroll)
	if err := dfg.Walk(g, p.emitEntry); err != nil {
		return err
	}
	for _, decl := range p.delayed {
		p.line(decl)
	}
	for _, imp := range dfg.Of[*dfg.IndMemPort](g) {
		bits := imp.Index.Load.Type().Bits
		p.line("\n\n----\n")
		p.linef("Input%d: indirect_in_%d_%d", bits, g.ID, imp.ID)
		p.linef("indirect_out_%d_%d = indirect_in_%d_%d", g.ID, imp.ID, g.ID, imp.ID)
		p.linef("Output%d: indirect_out_%d_%d", bits, g.ID, imp.ID)
	}
	_, err := io.WriteString(w, p.buf.String())
	return err
}

type printer struct {
	opts Options
	g    *dfg.Graph
	cmi  *analysis.CoalMemoryInfo
	buf  strings.Builder

	// nextTemp numbers the reduction temporaries of the graph.
	nextTemp int
	emitted  []bool
	delayed  []string
}

func (p *printer) line(s string) {
	p.buf.WriteString(s)
	p.buf.WriteByte('\n')
}

func (p *printer) linef(format string, args ...interface{}) {
	fmt.Fprintf(&p.buf, format, args...)
	p.buf.WriteByte('\n')
}

func (p *printer) emitEntry(e dfg.Entry) error {
	switch x := e.(type) {
	case *dfg.InputPort:
		return p.emitInput(e)
	case *dfg.CtrlMemPort:
		return p.emitInput(e)
	case *dfg.StreamInPort:
		return p.emitInput(e)
	case *dfg.IndMemPort:
		if x.Duplicate {
			return nil
		}
		return p.emitInput(e)
	case *dfg.MemPort:
		return p.emitMemPort(x)
	case *dfg.InputConst:
		p.header(e)
		p.linef("Input%d: %s", x.Val.Type().Bits, dfg.Name(e, -1))
		return nil
	case *dfg.CtrlSignal:
		if x.Controlled.Pred == nil || !p.opts.Pred {
			p.header(e)
			p.linef("Input64: %s", dfg.Name(e, -1))
		}
		return nil
	case *dfg.ComputeBody:
		return p.emitCompute(x)
	case *dfg.Accumulator:
		return p.emitAccumulator(x)
	case *dfg.Predicate:
		return p.emitPredicate(x)
	case *dfg.OutputPort:
		return p.emitOutput(e, x.Output)
	case *dfg.StreamOutPort:
		return p.emitOutput(e, x.Output)
	case *dfg.PortMem:
		return p.emitPortMem(x)
	default:
		panic(fmt.Sprintf("emit: unknown entry %T", e))
	}
}

// header writes the comment block naming e and its host instructions.
func (p *printer) header(e dfg.Entry) {
	p.linef("# [%s]: DFG%d Entry%d", dfg.Kind(e), p.g.ID, dfg.IDOf(e))
	insts := dfg.UnderlyingInsts(e)
	for i, inst := range insts {
		if len(insts) == 1 {
			p.linef("# Inst: %s", inst)
		} else {
			p.linef("# Inst%d: %s", i, inst)
		}
	}
}

func (p *printer) pragmas(e dfg.Entry, input bool) {
	port, _ := dfg.PortOf(e)
	for _, l := range port.Meta.Pragmas(input) {
		p.line(l)
	}
}

func (p *printer) degree(e dfg.Entry) int {
	if dfg.ShouldUnroll(e) {
		return p.g.Unroll
	}
	return 1
}

func (p *printer) emitInput(e dfg.Entry) error {
	v := inputValue(e)
	if !p.opts.Pred && p.onlyFeedsPredicates(v) {
		return nil
	}
	p.header(e)
	p.pragmas(e, true)
	decl := fmt.Sprintf("Input%d: %s", v.Type().Bits, dfg.Name(e, -1))
	if dfg.ShouldUnroll(e) {
		decl += fmt.Sprintf("[%d]", p.g.Unroll)
	}
	p.line(decl)
	return nil
}

func inputValue(e dfg.Entry) ir.Value {
	switch x := e.(type) {
	case *dfg.InputPort:
		return x.Value
	case *dfg.MemPort:
		return x.Load
	case *dfg.IndMemPort:
		return x.Load
	case *dfg.CtrlMemPort:
		return x.Load
	case *dfg.StreamInPort:
		return x.DataFrom
	}
	panic(fmt.Sprintf("emit: %s is not an input port", dfg.Kind(e)))
}

// onlyFeedsPredicates reports whether every in-graph consumer of v is a
// predicate. Without predication those ports carry nothing.
func (p *printer) onlyFeedsPredicates(v ir.Value) bool {
	fn := p.g.File.Fn
	if fn == nil {
		return false
	}
	found := false
	for _, u := range fn.Users(v) {
		user := p.g.InThisDFG(u)
		if user == nil {
			continue
		}
		if _, ok := user.(*dfg.Predicate); !ok {
			return false
		}
		found = true
	}
	return found
}

func (p *printer) emitMemPort(mp *dfg.MemPort) error {
	cluster, idx, ok := p.cmi.ClusterOf(mp.ID)
	if !ok {
		return fmt.Errorf("emit: DFG%d Entry%d has no coalescing cluster: %w", p.g.ID, mp.ID, diag.ErrInternal)
	}
	if len(cluster) == 1 {
		return p.emitInput(mp)
	}
	bits := mp.Load.Type().Bits
	words, degree, off, err := p.clusterShape(mp, cluster, idx, bits)
	if err != nil {
		return err
	}
	p.linef("# Cluster %d", idx)
	p.header(mp)
	p.linef("# Vector Port Width: %d * %d", words, degree)
	if !p.emitted[idx] {
		p.linef("Input%d: ICluster_%d_%d_[%d]", bits, p.g.ID, idx, words*degree)
		p.emitted[idx] = true
	}
	for i := 0; i < degree; i++ {
		p.linef("%s = ICluster_%d_%d_%d", dfg.Name(mp, i), p.g.ID, idx, off+i*words)
	}
	return nil
}

func (p *printer) emitPortMem(pm *dfg.PortMem) error {
	cluster, idx, ok := p.cmi.ClusterOf(pm.ID)
	if !ok {
		return fmt.Errorf("emit: DFG%d Entry%d has no coalescing cluster: %w", p.g.ID, pm.ID, diag.ErrInternal)
	}
	if len(cluster) == 1 {
		return p.emitOutput(pm, pm.Output())
	}
	bits := pm.Output().Type().Bits
	words, degree, off, err := p.clusterShape(pm, cluster, idx, bits)
	if err != nil {
		return err
	}
	producer := p.g.InThisDFG(pm.Output())
	if producer == nil {
		return fmt.Errorf("emit: DFG%d Entry%d: stored value has no producer in the graph: %w", p.g.ID, pm.ID, diag.ErrInternal)
	}
	p.linef("# Cluster %d", idx)
	p.header(pm)
	p.linef("# Vector Port Width: %d * %d", words, degree)
	for i := 0; i < degree; i++ {
		p.linef("OCluster_%d_%d_%d = %s", p.g.ID, idx, off+i*words, dfg.Name(producer, i))
	}
	if !p.emitted[idx] {
		p.delayed = append(p.delayed, fmt.Sprintf("Output%d: OCluster_%d_%d_[%d]", bits, p.g.ID, idx, words*degree))
		p.emitted[idx] = true
	}
	return nil
}

// clusterShape returns the words per lane, the unroll degree and the word
// offset of e inside its cluster.
func (p *printer) clusterShape(e dfg.Entry, cluster []analysis.CoalescedEntry, idx, bits int) (int, int, int, error) {
	bytes := bits / 8
	if bytes == 0 {
		return 0, 0, 0, fmt.Errorf("emit: DFG%d Entry%d: %d-bit element cannot be clustered: %w", p.g.ID, dfg.IDOf(e), bits, diag.ErrUnsupported)
	}
	words := int(p.cmi.MaxOffset(idx))/bytes + 1
	for _, ce := range cluster {
		if ce.ID == dfg.IDOf(e) {
			return words, p.degree(e), int(ce.Offset) / bytes, nil
		}
	}
	return 0, 0, 0, fmt.Errorf("emit: DFG%d Entry%d missing from cluster %d: %w", p.g.ID, dfg.IDOf(e), idx, diag.ErrInternal)
}

func (p *printer) emitOutput(e dfg.Entry, out ir.Value) error {
	producer := p.g.InThisDFG(out)
	if producer == nil {
		return fmt.Errorf("emit: DFG%d Entry%d: output %s has no producer in the graph: %w", p.g.ID, dfg.IDOf(e), out.Name(), diag.ErrInternal)
	}
	p.header(e)
	p.pragmas(e, false)
	n := 1
	if dfg.ShouldUnroll(producer) {
		n = p.g.Unroll
	}
	for i := 0; i < n; i++ {
		p.linef("%s = %s", dfg.Name(e, i), dfg.Name(producer, i))
	}
	decl := fmt.Sprintf("Output%d: %s", out.Type().Bits, dfg.Name(e, -1))
	if dfg.ShouldUnroll(producer) {
		decl += fmt.Sprintf("[%d]", p.g.Unroll)
	}
	p.line(decl)
	return nil
}

func (p *printer) emitCompute(cb *dfg.ComputeBody) error {
	if cb.Atomic {
		return nil
	}
	p.header(cb)
	for vec := 0; vec < p.degree(cb); vec++ {
		var ctrl controlBit
		args := make([]string, 0, len(cb.Op.Operands))
		for i, v := range cb.Op.Operands {
			if producer := p.g.InThisDFG(v); producer != nil {
				args = append(args, dfg.Name(producer, vec))
				if err := ctrl.addControlledStream(i, producer); err != nil {
					return fmt.Errorf("emit: DFG%d Entry%d: %w", p.g.ID, cb.ID, err)
				}
				continue
			}
			text, err := operandText(v)
			if err != nil {
				return err
			}
			args = append(args, text)
		}
		if cb.Pred != nil {
			if ctrl.pred != nil && ctrl.pred != cb.Pred {
				return fmt.Errorf("emit: DFG%d Entry%d: guarded by %s but fed by streams of %s: %w",
					p.g.ID, cb.ID, dfg.Name(cb.Pred, -1), dfg.Name(ctrl.pred, -1), diag.ErrInternal)
			}
			ctrl.pred = cb.Pred
		}
		if p.opts.Pred {
			if cb.Pred != nil {
				ctrl.updateAbstain(cb.AbstainMask, false)
			}
			if !ctrl.empty() {
				args = append(args, fmt.Sprintf("ctrl=%s{%s}", dfg.Name(ctrl.pred, vec), ctrl.finalize()))
			}
		}
		p.linef("%s = %s(%s)", dfg.Name(cb, vec), mnemonic(cb.Op, false, false), strings.Join(args, ", "))
	}
	return nil
}

func (p *printer) emitAccumulator(acc *dfg.Accumulator) error {
	p.header(acc)
	inst := acc.Op
	reduce := mnemonic(inst, false, false)
	q := lane.NewQueue()
	for vec := 0; vec < p.g.Unroll; vec++ {
		for _, v := range inst.Operands {
			if op, ok := v.(*ir.Instr); ok && op.Op == ir.OpPhi {
				continue
			}
			producer := p.g.InThisDFG(v)
			if producer == nil {
				return fmt.Errorf("emit: DFG%d Entry%d: accumulated operand %s has no producer: %w", p.g.ID, acc.ID, v.Name(), diag.ErrInternal)
			}
			q.Enqueue(dfg.Name(producer, vec))
		}
	}
	if q.Empty() {
		return fmt.Errorf("emit: DFG%d Entry%d: nothing to accumulate: %w", p.g.ID, acc.ID, diag.ErrInternal)
	}
	for q.Size() > 1 {
		a := q.Dequeue().(string)
		b := q.Dequeue().(string)
		tmp := fmt.Sprintf("TMP%d", p.nextTemp)
		p.nextTemp++
		p.linef("%s = %s(%s, %s)", tmp, reduce, a, b)
		q.Enqueue(tmp)
	}
	last := q.Dequeue().(string)
	op := mnemonic(inst, true, acc.Pred != nil)
	if acc.Ctrl == nil && (!p.opts.Pred || acc.Pred == nil) {
		return fmt.Errorf("emit: DFG%d Entry%d: accumulator %s has no control signal: %w", p.g.ID, acc.ID, inst.Nm, diag.ErrInternal)
	}
	var ctrl string
	switch {
	case !p.opts.Pred:
		ctrl = fmt.Sprintf("ctrl=%s{2:d}", dfg.Name(acc.Ctrl, -1))
	case acc.Pred != nil:
		var bit controlBit
		bit.updateAbstain(acc.AbstainMask, true)
		ctrl = fmt.Sprintf("ctrl=%s{%s}", dfg.Name(acc.Pred, -1), bit.finalize())
	default:
		ctrl = dfg.Name(acc.Ctrl, -1)
	}
	p.linef("%s = %s(%s, %s)", dfg.Name(acc, -1), op, last, ctrl)
	return nil
}

func (p *printer) emitPredicate(pred *dfg.Predicate) error {
	if !p.opts.Pred {
		return nil
	}
	if len(pred.Cond) == 0 {
		return fmt.Errorf("emit: DFG%d predicate %d has no condition: %w", p.g.ID, pred.ID, diag.ErrInternal)
	}
	p.line("# [Predication] Combination")
	for _, c := range pred.Cond {
		p.linef("# %s", c)
	}
	cond := pred.Cond[0]
	var ctrl controlBit
	args := make([]string, 0, len(cond.Operands))
	for i, v := range cond.Operands {
		if producer := p.g.InThisDFG(v); producer != nil {
			args = append(args, dfg.Name(producer, -1))
			if err := ctrl.addControlledStream(i, producer); err != nil {
				return fmt.Errorf("emit: DFG%d predicate %d: %w", p.g.ID, pred.ID, err)
			}
			if cmp, ok := producer.(*dfg.CtrlMemPort); ok {
				cmp.ForPredicate = true
			}
			continue
		}
		text, err := operandText(v)
		if err != nil {
			return err
		}
		args = append(args, text)
	}
	if !ctrl.empty() {
		if ctrl.pred == pred {
			args = append(args, fmt.Sprintf("self={%s}", ctrl.finalize()))
		} else {
			args = append(args, fmt.Sprintf("ctrl=%s{%s}", dfg.Name(ctrl.pred, -1), ctrl.finalize()))
		}
	}
	p.linef("%s = COMPARE%d(%s)", dfg.Name(pred, -1), cond.Operands[0].Type().Bits, strings.Join(args, ", "))
	return nil
}

// mnemonic returns the upper-case operation name with its bit width:
// ADD32, FMUL64, COMPARE32, ACC64.
func mnemonic(inst *ir.Instr, acc, predicated bool) string {
	bits := inst.Ty.Bits
	var op string
	switch {
	case inst.Op.IsCompare():
		op = "compare"
		bits = inst.Operands[0].Type().Bits
	case inst.Op == ir.OpCall:
		op = inst.Callee
	default:
		op = inst.OpcodeName()
		if acc {
			float := strings.HasPrefix(op, "f")
			switch {
			case predicated && float:
				op = "faccumulate"
			case predicated:
				op = "accumulate"
			case float:
				op = "facc"
			default:
				op = "acc"
			}
		}
	}
	return strings.ToUpper(op) + strconv.Itoa(bits)
}

// operandText renders a value that is not produced in the graph. Only
// literals can be inlined; floats print their raw bits.
func operandText(v ir.Value) (string, error) {
	c, ok := v.(*ir.Const)
	if !ok {
		return "", fmt.Errorf("emit: operand %s is neither a literal nor produced in the graph: %w", v.Name(), diag.ErrInternal)
	}
	if c.Ty.Kind == ir.Float {
		return strconv.FormatUint(math.Float64bits(c.Float), 10), nil
	}
	return strconv.FormatInt(c.Int, 10), nil
}
