// Package frontend loads region descriptions: a host function written out
// instruction by instruction, plus the dataflow graphs extracted from each
// of its configuration regions.
package frontend

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"dsac/internal/dfg"
	"dsac/internal/diag"
	"dsac/internal/ir"
)

// Module is a loaded host function and its regions, in marker order.
type Module struct {
	Fn    *ir.Function
	Files []*dfg.File
}

// Load reads the description at path.
func Load(path string, reporter *diag.Reporter) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("frontend: failed to read %s: %w", path, err)
	}
	m, err := Parse(data, reporter)
	if err != nil {
		return nil, fmt.Errorf("frontend: %s: %w", path, err)
	}
	return m, nil
}

// Parse builds a module from TOML text. Problems are reported to reporter
// and summarized in the returned error.
func Parse(data []byte, reporter *diag.Reporter) (*Module, error) {
	if reporter == nil {
		reporter = diag.NewReporter(nil, "text")
	}
	var desc description
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&desc); err != nil {
		var de *toml.DecodeError
		if errors.As(err, &de) {
			row, col := de.Position()
			reporter.Error(fmt.Sprintf("%d:%d", row, col), de.Error())
		} else {
			reporter.Errorf("%v", err)
		}
		return nil, fmt.Errorf("malformed description: %w", diag.ErrInput)
	}
	l := &loader{
		reporter: reporter,
		values:   make(map[string]ir.Value),
		loops:    make(map[string]*ir.Loop),
	}
	m := l.build(&desc)
	if l.errCount > 0 {
		return nil, fmt.Errorf("description has %d issue(s): %w", l.errCount, diag.ErrInput)
	}
	return m, nil
}

type loader struct {
	reporter *diag.Reporter
	errCount int

	fn     *ir.Function
	b      *ir.Builder
	values map[string]ir.Value
	loops  map[string]*ir.Loop
	phis   []pendingPhi
}

type pendingPhi struct {
	at   string
	phi  *ir.Instr
	args []string
}

func (l *loader) error(at, msg string) {
	l.errCount++
	l.reporter.Error(at, msg)
}

// Value implements Scope.
func (l *loader) Value(name string) (ir.Value, bool) {
	v, ok := l.values[name]
	return v, ok
}

// Loop implements Scope.
func (l *loader) Loop(name string) (*ir.Loop, bool) {
	lp, ok := l.loops[name]
	return lp, ok
}

func (l *loader) build(desc *description) *Module {
	if desc.Function == "" {
		l.error("function", "missing function name")
	}
	var params []*ir.Param
	for i, pd := range desc.Params {
		at := fmt.Sprintf("param[%d]", i)
		ty, err := parseType(pd.Type)
		if err != nil {
			l.error(at, err.Error())
			continue
		}
		p := &ir.Param{Nm: pd.Name, Ty: ty}
		if l.define(at, pd.Name, p) {
			params = append(params, p)
		}
	}
	l.fn = ir.NewFunction(desc.Function, params...)
	l.b = ir.NewBuilder(l.fn)

	depth := 0
	for i := range desc.Body {
		at := fmt.Sprintf("inst[%d]", i)
		if n := desc.Body[i].Name; n != "" {
			at += " " + n
		}
		depth = l.inst(at, &desc.Body[i], depth)
	}
	if depth != 0 {
		l.error("body", fmt.Sprintf("%d loop(s) left open", depth))
	}
	for _, pp := range l.phis {
		for _, a := range pp.args {
			if v := l.operand(pp.at, a); v != nil {
				l.b.AddIncoming(pp.phi, v)
			}
		}
	}

	m := &Module{Fn: l.fn}
	starts := l.fn.Markers(ir.OpRegionStart)
	ends := l.fn.Markers(ir.OpRegionEnd)
	for i := range desc.Regions {
		if f := l.region(i, &desc.Regions[i], starts, ends); f != nil {
			m.Files = append(m.Files, f)
		}
	}
	return m
}

func (l *loader) define(at, name string, v ir.Value) bool {
	if name == "" {
		l.error(at, "missing name")
		return false
	}
	if _, dup := l.values[name]; dup {
		l.error(at, fmt.Sprintf("%s is defined twice", name))
		return false
	}
	l.values[name] = v
	return true
}

func (l *loader) inst(at string, d *instDesc, depth int) int {
	switch d.Op {
	case "loop":
		var backedge ir.Expr
		if d.Backedge == "" {
			l.error(at, "loop without a backedge count")
		} else if e, err := ParseExpr(d.Backedge, l); err != nil {
			l.error(at, err.Error())
		} else {
			backedge = e
		}
		if _, dup := l.loops[d.Name]; dup || d.Name == "" {
			l.error(at, fmt.Sprintf("loop name %q is missing or reused", d.Name))
		}
		l.loops[d.Name] = l.b.EnterLoop(d.Name, backedge)
		return depth + 1
	case "end":
		if depth == 0 {
			l.error(at, "end without an open loop")
			return 0
		}
		l.b.ExitLoop()
		return depth - 1
	}

	op, ok := ir.ParseOpcode(d.Op)
	if !ok {
		l.error(at, fmt.Sprintf("unknown op %q", d.Op))
		return depth
	}
	inst := l.emit(at, op, d)
	if inst == nil {
		return depth
	}
	if d.Name != "" || inst.Ty.Kind != ir.Void {
		l.define(at, inst.Nm, inst)
	}
	if d.SCEV != "" {
		e, err := ParseExpr(d.SCEV, l)
		if err != nil {
			l.error(at, err.Error())
		} else {
			l.fn.SetSCEV(inst, e)
		}
	}
	return depth
}

func (l *loader) emit(at string, op ir.Opcode, d *instDesc) *ir.Instr {
	if op == ir.OpPhi {
		ty, err := parseType(d.Type)
		if err != nil {
			l.error(at, err.Error())
			return nil
		}
		phi := l.b.Phi(d.Name, ty)
		l.phis = append(l.phis, pendingPhi{at: at, phi: phi, args: d.Args})
		return phi
	}
	args, ok := l.operands(at, d.Args)
	if !ok {
		return nil
	}
	arity := func(n int) bool {
		if len(args) != n {
			l.error(at, fmt.Sprintf("%s takes %d operand(s), got %d", op, n, len(args)))
			return false
		}
		return true
	}
	typed := func() (ir.Type, bool) {
		ty, err := parseType(d.Type)
		if err != nil {
			l.error(at, err.Error())
			return ir.Type{}, false
		}
		return ty, true
	}

	switch {
	case op.IsMarker():
		return l.b.Marker(op, d.Name)
	case op.IsBinary():
		if !arity(2) {
			return nil
		}
		return l.b.Binary(op, d.Name, args[0], args[1])
	case op.IsCompare():
		pred, ok := ir.ParseCmpPredicate(d.Pred)
		if !ok {
			l.error(at, fmt.Sprintf("unknown comparison %q", d.Pred))
			return nil
		}
		if !arity(2) {
			return nil
		}
		return l.b.Cmp(pred, d.Name, args[0], args[1])
	}

	switch op {
	case ir.OpSelect:
		if !arity(3) {
			return nil
		}
		return l.b.Select(d.Name, args[0], args[1], args[2])
	case ir.OpGEP:
		base := l.operand(at, d.Base)
		if base == nil {
			return nil
		}
		var index ir.Value
		if d.Index != "" {
			if index = l.operand(at, d.Index); index == nil {
				return nil
			}
		}
		var addr ir.Expr
		if d.Addr != "" {
			e, err := ParseExpr(d.Addr, l)
			if err != nil {
				l.error(at, err.Error())
				return nil
			}
			addr = e
		}
		return l.b.Address(d.Name, base, index, addr)
	case ir.OpLoad:
		ty, ok := typed()
		if !ok || !arity(1) {
			return nil
		}
		return l.b.Load(d.Name, ty, args[0])
	case ir.OpStore:
		if !arity(2) {
			return nil
		}
		return l.b.Store(d.Name, args[0], args[1])
	case ir.OpCall:
		ty := ir.Type{Kind: ir.Void}
		if d.Type != "" {
			var ok bool
			if ty, ok = typed(); !ok {
				return nil
			}
		}
		if d.Callee == "" {
			l.error(at, "call without a callee")
			return nil
		}
		return l.b.Call(d.Name, d.Callee, ty, args...)
	}
	l.error(at, fmt.Sprintf("%s cannot appear in a description", op))
	return nil
}

// operands resolves args, reporting every one that fails.
func (l *loader) operands(at string, args []string) ([]ir.Value, bool) {
	out := make([]ir.Value, 0, len(args))
	ok := true
	for _, a := range args {
		v := l.operand(at, a)
		if v == nil {
			ok = false
			continue
		}
		out = append(out, v)
	}
	return out, ok
}

func (l *loader) operand(at, a string) ir.Value {
	v, err := l.resolve(a)
	if err != nil {
		l.error(at, err.Error())
		return nil
	}
	return v
}

// resolve parses "%name" or a typed literal such as "i32 1" or "f64 0.5".
func (l *loader) resolve(a string) (ir.Value, error) {
	a = strings.TrimSpace(a)
	if strings.HasPrefix(a, "%") {
		v, ok := l.values[a[1:]]
		if !ok {
			return nil, fmt.Errorf("%s is used before it is defined", a)
		}
		return v, nil
	}
	fields := strings.Fields(a)
	if len(fields) != 2 {
		return nil, fmt.Errorf("operand %q is neither %%name nor <type> <literal>", a)
	}
	ty, err := parseType(fields[0])
	if err != nil {
		return nil, err
	}
	switch ty.Kind {
	case ir.Int:
		v, err := strconv.ParseInt(fields[1], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer literal %q", a)
		}
		return ir.ConstInt(ty.Bits, v), nil
	case ir.Float:
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad float literal %q", a)
		}
		return ir.ConstFloat(ty.Bits, v), nil
	}
	return nil, fmt.Errorf("no %s literals", ty)
}

// parseType reads the names ir.Type prints: iN, fN, ptr and void.
func parseType(s string) (ir.Type, error) {
	switch {
	case s == "ptr":
		return ir.PtrType(), nil
	case s == "void":
		return ir.Type{Kind: ir.Void}, nil
	case len(s) > 1 && (s[0] == 'i' || s[0] == 'f'):
		bits, err := strconv.Atoi(s[1:])
		if err != nil || bits <= 0 {
			break
		}
		if s[0] == 'i' {
			return ir.IntType(bits), nil
		}
		if bits != 16 && bits != 32 && bits != 64 {
			break
		}
		return ir.FloatType(bits), nil
	}
	return ir.Type{}, fmt.Errorf("unknown type %q", s)
}
