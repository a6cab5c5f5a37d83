package xform

import (
	"fmt"
	"math"

	"dsac/internal/analysis"
	"dsac/internal/dfg"
	"dsac/internal/diag"
	"dsac/internal/ir"
)

// RepeatFixedPoint is the number of fractional bits of a port repeat count
// and its stretch.
const RepeatFixedPoint = 10

// MemoryOperation is the direction of a stream.
type MemoryOperation int

const (
	OpRead MemoryOperation = iota
	OpWrite
)

// MemoryType is the memory a stream accesses.
type MemoryType int

const (
	MemDMA MemoryType = iota
	MemSpad
)

var voidType = ir.Type{Kind: ir.Void}

// codegen appends calls for one graph and keeps the register file in step.
type codegen struct {
	regs  *RegisterFile
	calls *[]*ir.Instr
}

// resetting lists the commands after which non-sticky registers reset.
var resetting = map[string]bool{
	"ss_lin_strm": true,
	"ss_ind_strm": true,
	"ss_recv":     true,
	"ss_wr_rd":    true,
}

func (cg *codegen) emit(inst *ir.Instr) *ir.Instr {
	*cg.calls = append(*cg.calls, inst)
	if resetting[inst.Callee] {
		cg.regs.Reset()
	}
	return inst
}

func (cg *codegen) call(mnemonic string, args ...ir.Arg) *ir.Instr {
	return cg.emit(ir.Intrinsic(mnemonic, voidType, args...))
}

func (cg *codegen) params(writes ...RegWrite) {
	*cg.calls = append(*cg.calls, cg.regs.Write(writes...)...)
}

func arg(key string, v ir.Expr) ir.Arg { return ir.Arg{Key: key, Value: v} }

func num(key string, v int64) ir.Arg { return ir.Arg{Key: key, Value: ir.C(v)} }

// valueExpr turns a host value into a call operand; floating point literals
// travel as their bit pattern.
func valueExpr(v ir.Value) ir.Expr {
	if c, ok := v.(*ir.Const); ok {
		if c.Ty.Kind == ir.Float {
			return ir.C(int64(math.Float64bits(c.Float)))
		}
		return ir.C(c.Int)
	}
	return ir.Sym(v)
}

func controlWord(dtype int, pad dfg.Padding) ir.Expr {
	return ir.C(int64(pad)<<8 | int64(dtype))
}

// stream describes one linear stream to instantiate.
type stream struct {
	port    int
	op      MemoryOperation
	mem     MemoryType
	pad     dfg.Padding
	dtype   int
	unroll  int
	offsets int64
}

func (cg *codegen) stream1D(s stream, start, stride, n ir.Expr) {
	cg.params(
		RegWrite{SAR, start},
		RegWrite{I1D, stride},
		RegWrite{L1D, n},
		RegWrite{CSR, controlWord(s.dtype, s.pad)},
	)
	cg.call("ss_lin_strm", num("port", int64(s.port)), num("dim", 1), num("op", int64(s.op)), num("mem", int64(s.mem)))
}

func (cg *codegen) stream2D(s stream, start, stride1, n1, stride2, stretch, n2 ir.Expr) {
	cg.params(
		RegWrite{SAR, start},
		RegWrite{I1D, stride1},
		RegWrite{L1D, n1},
		RegWrite{I2D, stride2},
		RegWrite{E2D, stretch},
		RegWrite{L2D, n2},
		RegWrite{CSR, controlWord(s.dtype, s.pad)},
	)
	cg.call("ss_lin_strm", num("port", int64(s.port)), num("dim", 2), num("op", int64(s.op)), num("mem", int64(s.mem)))
}

func (cg *codegen) constant(port int, v, n ir.Expr, bytes int) {
	cg.call("ss_const", num("port", int64(port)), arg("value", v), arg("n", n), num("bytes", int64(bytes)))
}

// computedRepeat multiplies the trip counts of the n innermost loops; the
// innermost one is divided among the unrolled lanes. A stretched innermost
// trip count yields the per-outer-iteration change of the repeat, in fixed
// point.
func computedRepeat(trips []*analysis.LinearInfo, n, unroll int) (ir.Expr, ir.Expr, error) {
	repeat := ir.C(1)
	var stretch ir.Expr
	for i := 0; i < n; i++ {
		if trips[i].Stretched() {
			if i != 0 {
				return nil, nil, fmt.Errorf("xform: only the innermost dimension supports a repeat stretch: %w", diag.ErrUnsupported)
			}
			if len(trips[i].Coef) < 2 {
				return nil, nil, fmt.Errorf("xform: trip count %s varies with its own loop: %w", trips[i], diag.ErrUnsupported)
			}
			for j := 0; j < n; j++ {
				if j == 1 {
					continue
				}
				if v, ok := trips[i].Coef[j].ConstInt(); !ok || v != 0 {
					return nil, nil, fmt.Errorf("xform: trip count %s stretches over more than one loop: %w", trips[i], diag.ErrUnsupported)
				}
			}
			stretch = trips[0].Coef[1].Base
		}
		cur := ir.Add(trips[i].Base, ir.C(1))
		if i == 0 {
			cur = ir.CeilDiv(cur, ir.C(int64(unroll)))
			if stretch != nil {
				stretch = ir.SDiv(ir.Mul(stretch, ir.C(1<<RepeatFixedPoint)), ir.C(int64(unroll)))
			}
		}
		repeat = ir.Mul(repeat, cur)
	}
	return repeat, stretch, nil
}

// linear lowers an address expression over a loop nest into a repeat
// configuration (reads only) and a 1D or 2D stream.
func (cg *codegen) linear(s stream, addr ir.Expr, nest []*ir.Loop, trips []*analysis.LinearInfo) error {
	idx, err := analysis.AnalyzeIndexExpr(addr, nest)
	if err != nil {
		return err
	}
	if s.op == OpRead {
		if err := cg.repeat(s, idx, trips); err != nil {
			return err
		}
	}
	return cg.instantiate(s, idx, trips)
}

func (cg *codegen) repeat(s stream, idx *analysis.LinearInfo, trips []*analysis.LinearInfo) error {
	n := len(trips)
	if idx.Stretched() {
		n = idx.PartialInvariant()
	}
	repeat, stretch, err := computedRepeat(trips, n, s.unroll)
	if err != nil {
		return err
	}
	if v, ok := ir.AsConst(repeat); ok && v == 1 {
		return nil
	}
	cg.call("ss_cfg_port", num("port", int64(s.port)), arg("repeat", ir.Mul(repeat, ir.C(1<<RepeatFixedPoint))))
	if stretch != nil {
		cg.call("ss_cfg_port", num("port", int64(s.port)), arg("repeat_stretch", stretch))
	}
	return nil
}

// coalesceStrideAndWord folds a constant stride that spans exactly one
// coalesced word into a unit-element stride over a longer stream.
func coalesceStrideAndWord(s stream, stride, n ir.Expr) (ir.Expr, ir.Expr) {
	c, ok := ir.AsConst(stride)
	if !ok {
		return stride, n
	}
	dtype := int64(s.dtype)
	mult := s.offsets/dtype + 1
	if c/dtype == mult {
		return ir.C(dtype), ir.Mul(n, ir.C(mult))
	}
	return stride, n
}

func (cg *codegen) instantiate(s stream, idx *analysis.LinearInfo, trips []*analysis.LinearInfo) error {
	if base, ok := idx.Invariant(); ok {
		cg.stream1D(s, base, ir.C(0), ir.C(1))
		return nil
	}
	if len(trips) != len(idx.Coef) {
		return fmt.Errorf("xform: %d trip counts for a %d-deep address %s: %w", len(trips), len(idx.Coef), idx, diag.ErrInternal)
	}
	dim, err := idx.Dimension()
	if err != nil {
		return err
	}
	i := idx.PartialInvariant()
	switch dim {
	case 0:
		cg.stream1D(s, idx.Base, ir.C(0), ir.C(1))
	case 1:
		trip, ok := trips[i].Invariant()
		if !ok {
			return fmt.Errorf("xform: 1D stream over a stretched trip count %s: %w", trips[i], diag.ErrUnsupported)
		}
		stride, ok := idx.Coef[i].Invariant()
		if !ok {
			return fmt.Errorf("xform: stride %s varies in the loop nest: %w", idx.Coef[i], diag.ErrUnsupported)
		}
		stride, n := coalesceStrideAndWord(s, stride, ir.Add(trip, ir.C(1)))
		cg.stream1D(s, idx.Base, stride, n)
	case 2:
		stride1, ok := idx.Coef[i].Invariant()
		if !ok {
			return fmt.Errorf("xform: stride %s varies in the loop nest: %w", idx.Coef[i], diag.ErrUnsupported)
		}
		outer, ok := idx.Coef[i+1].Invariant()
		if !ok {
			return fmt.Errorf("xform: stride %s varies in the loop nest: %w", idx.Coef[i+1], diag.ErrUnsupported)
		}
		stride1, n1 := coalesceStrideAndWord(s, stride1, ir.Add(trips[i].Base, ir.C(1)))
		stretch := ir.C(0)
		if trips[i].Stretched() {
			stretch = trips[i].Coef[i+1].Base
		}
		n2 := ir.Add(trips[i+1].Base, ir.C(1))
		stride2 := ir.SDiv(outer, ir.C(int64(s.dtype)))
		cg.stream2D(s, idx.Base, stride1, n1, stride2, stretch, n2)
	default:
		return fmt.Errorf("xform: %d-dimensional stream: %w", dim, diag.ErrUnsupported)
	}
	return nil
}
