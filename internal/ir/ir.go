// Package ir is the host program representation the accelerator code
// generator reads and rewrites: typed values, a flat instruction list per
// function, the loop nest, and affine address expressions.
package ir

import "fmt"

// TypeKind classifies a scalar type.
type TypeKind int

const (
	Void TypeKind = iota
	Int
	Float
	Pointer
)

// Type is a scalar host type.
type Type struct {
	Kind TypeKind
	Bits int
}

// IntType returns an integer type of the given width.
func IntType(bits int) Type { return Type{Kind: Int, Bits: bits} }

// FloatType returns a floating point type of the given width.
func FloatType(bits int) Type { return Type{Kind: Float, Bits: bits} }

// PtrType returns the 64-bit pointer type.
func PtrType() Type { return Type{Kind: Pointer, Bits: 64} }

// ScalarBits returns the width of the type in bits.
func (t Type) ScalarBits() int { return t.Bits }

// Bytes returns the width of the type in bytes.
func (t Type) Bytes() int { return t.Bits / 8 }

func (t Type) String() string {
	switch t.Kind {
	case Int:
		return fmt.Sprintf("i%d", t.Bits)
	case Float:
		return fmt.Sprintf("f%d", t.Bits)
	case Pointer:
		return "ptr"
	default:
		return "void"
	}
}

// Value is anything an instruction can consume.
type Value interface {
	Name() string
	Type() Type
}

// Const is an integer or floating point literal.
type Const struct {
	Ty    Type
	Int   int64
	Float float64
}

// ConstInt builds an integer literal.
func ConstInt(bits int, v int64) *Const { return &Const{Ty: IntType(bits), Int: v} }

// ConstFloat builds a floating point literal.
func ConstFloat(bits int, v float64) *Const { return &Const{Ty: FloatType(bits), Float: v} }

func (c *Const) Name() string {
	if c.Ty.Kind == Float {
		return fmt.Sprintf("%g", c.Float)
	}
	return fmt.Sprintf("%d", c.Int)
}

func (c *Const) Type() Type { return c.Ty }

// Param is a function argument.
type Param struct {
	Nm string
	Ty Type
}

func (p *Param) Name() string { return p.Nm }
func (p *Param) Type() Type   { return p.Ty }

// Global is a named constant blob, such as a configuration bitstream.
type Global struct {
	Nm   string
	Data string
}

func (g *Global) Name() string { return g.Nm }
func (g *Global) Type() Type   { return PtrType() }

// Opcode enumerates host instruction kinds.
type Opcode int

const (
	OpAdd Opcode = iota
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpShl
	OpLShr
	OpAShr
	OpAnd
	OpOr
	OpXor
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpICmp
	OpFCmp
	OpSelect
	OpLoad
	OpStore
	OpGEP
	OpPhi
	OpCall
	OpRegionStart
	OpRegionEnd
	OpTemporalStart
	OpTemporalEnd
	OpIntrinsic
)

var opcodeNames = [...]string{
	OpAdd:           "add",
	OpSub:           "sub",
	OpMul:           "mul",
	OpSDiv:          "sdiv",
	OpUDiv:          "udiv",
	OpShl:           "shl",
	OpLShr:          "lshr",
	OpAShr:          "ashr",
	OpAnd:           "and",
	OpOr:            "or",
	OpXor:           "xor",
	OpFAdd:          "fadd",
	OpFSub:          "fsub",
	OpFMul:          "fmul",
	OpFDiv:          "fdiv",
	OpICmp:          "icmp",
	OpFCmp:          "fcmp",
	OpSelect:        "select",
	OpLoad:          "load",
	OpStore:         "store",
	OpGEP:           "gep",
	OpPhi:           "phi",
	OpCall:          "call",
	OpRegionStart:   "config.start",
	OpRegionEnd:     "config.end",
	OpTemporalStart: "temporal.start",
	OpTemporalEnd:   "temporal.end",
	OpIntrinsic:     "intrinsic",
}

func (op Opcode) String() string {
	if int(op) >= 0 && int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// ParseOpcode maps a textual opcode name back to its Opcode.
func ParseOpcode(name string) (Opcode, bool) {
	for op, n := range opcodeNames {
		if n == name {
			return Opcode(op), true
		}
	}
	return 0, false
}

// IsBinary reports whether op is a two-operand arithmetic or logic op.
func (op Opcode) IsBinary() bool { return op >= OpAdd && op <= OpFDiv }

// IsMarker reports whether op delimits a region or a temporal section.
func (op Opcode) IsMarker() bool { return op >= OpRegionStart && op <= OpTemporalEnd }

// IsCompare reports whether op is a comparison.
func (op Opcode) IsCompare() bool { return op == OpICmp || op == OpFCmp }

// CmpPredicate is the condition of a comparison.
type CmpPredicate int

const (
	CmpEQ CmpPredicate = iota
	CmpNE
	CmpSLT
	CmpSLE
	CmpSGT
	CmpSGE
	CmpULT
	CmpUGT
	CmpOLT
	CmpOGT
)

var cmpNames = [...]string{"eq", "ne", "slt", "sle", "sgt", "sge", "ult", "ugt", "olt", "ogt"}

func (p CmpPredicate) String() string {
	if int(p) >= 0 && int(p) < len(cmpNames) {
		return cmpNames[p]
	}
	return "?"
}

// ParseCmpPredicate maps a textual predicate back to its value.
func ParseCmpPredicate(name string) (CmpPredicate, bool) {
	for p, n := range cmpNames {
		if n == name {
			return CmpPredicate(p), true
		}
	}
	return 0, false
}

// Instr is one host instruction.
type Instr struct {
	ID        int
	Nm        string
	Op        Opcode
	Ty        Type
	Operands  []Value
	Predicate CmpPredicate
	// Callee names the function of an OpCall or the mnemonic of an
	// OpIntrinsic.
	Callee string
	// Args carries the symbolic operands of an OpIntrinsic.
	Args []Arg
	// Loop is the innermost loop containing the instruction, nil outside
	// any loop.
	Loop *Loop

	fn     *Function
	erased bool
}

// Arg is one named operand of an intrinsic call.
type Arg struct {
	Key   string
	Value Expr
}

func (i *Instr) Name() string { return i.Nm }
func (i *Instr) Type() Type   { return i.Ty }

// OpcodeName returns the lower-case opcode mnemonic.
func (i *Instr) OpcodeName() string { return i.Op.String() }

// Erased reports whether the instruction was removed from its function.
func (i *Instr) Erased() bool { return i.erased }

// Function returns the owning function.
func (i *Instr) Function() *Function { return i.fn }

// PointerOperand returns the address operand of a load or store.
func (i *Instr) PointerOperand() Value {
	switch i.Op {
	case OpLoad:
		return i.Operands[0]
	case OpStore:
		return i.Operands[1]
	}
	return nil
}

// ValueOperand returns the stored value of a store.
func (i *Instr) ValueOperand() Value {
	if i.Op == OpStore {
		return i.Operands[0]
	}
	return nil
}

// Loop is one level of a loop nest.
type Loop struct {
	Name   string
	Parent *Loop
	// Backedge is the backedge-taken count, one less than the trip count.
	Backedge Expr
}

// Depth returns 1 for an outermost loop.
func (l *Loop) Depth() int {
	d := 0
	for cur := l; cur != nil; cur = cur.Parent {
		d++
	}
	return d
}

// Contains reports whether other is l or nested inside l.
func (l *Loop) Contains(other *Loop) bool {
	for cur := other; cur != nil; cur = cur.Parent {
		if cur == l {
			return true
		}
	}
	return false
}

// IsInvariant reports whether v is computed outside l.
func (l *Loop) IsInvariant(v Value) bool {
	inst, ok := v.(*Instr)
	if !ok {
		return true
	}
	return inst.Loop == nil || !l.Contains(inst.Loop)
}

// Function is a host function: parameters, a flat instruction list in
// program order and its loops.
type Function struct {
	Name   string
	Params []*Param
	Body   []*Instr
	Loops  []*Loop

	scev   map[Value]Expr
	nextID int
}

// NewFunction creates an empty function.
func NewFunction(name string, params ...*Param) *Function {
	return &Function{
		Name:   name,
		Params: params,
		scev:   make(map[Value]Expr),
	}
}

// Param returns the parameter with the given name.
func (f *Function) Param(name string) *Param {
	for _, p := range f.Params {
		if p.Nm == name {
			return p
		}
	}
	return nil
}

// Lookup returns the live instruction with the given name.
func (f *Function) Lookup(name string) *Instr {
	for _, inst := range f.Body {
		if inst.Nm == name {
			return inst
		}
	}
	return nil
}

// SetSCEV records the affine form of v.
func (f *Function) SetSCEV(v Value, e Expr) {
	f.scev[v] = e
}

// SCEV returns the affine form of v: the recorded expression, a literal for
// constants, and an opaque symbol otherwise.
func (f *Function) SCEV(v Value) Expr {
	if e, ok := f.scev[v]; ok {
		return e
	}
	if c, ok := v.(*Const); ok && c.Ty.Kind != Float {
		return C(c.Int)
	}
	return Sym(v)
}

// Users returns the live instructions consuming v, in program order.
func (f *Function) Users(v Value) []*Instr {
	var users []*Instr
	for _, inst := range f.Body {
		for _, op := range inst.Operands {
			if op == v {
				users = append(users, inst)
				break
			}
		}
	}
	return users
}

// ReplaceAllUsesWith rewires every operand use of old to repl.
func (f *Function) ReplaceAllUsesWith(old, repl Value) {
	for _, inst := range f.Body {
		for i, op := range inst.Operands {
			if op == old {
				inst.Operands[i] = repl
			}
		}
	}
}

// Append adds inst at the end of the body.
func (f *Function) Append(inst *Instr) *Instr {
	f.attach(inst)
	f.Body = append(f.Body, inst)
	return inst
}

// InsertBefore places insts, in order, immediately before pos.
func (f *Function) InsertBefore(pos *Instr, insts ...*Instr) error {
	idx := f.indexOf(pos)
	if idx < 0 {
		return fmt.Errorf("ir: insertion point %s is not in function %s", pos.Nm, f.Name)
	}
	for _, inst := range insts {
		f.attach(inst)
	}
	body := make([]*Instr, 0, len(f.Body)+len(insts))
	body = append(body, f.Body[:idx]...)
	body = append(body, insts...)
	body = append(body, f.Body[idx:]...)
	f.Body = body
	return nil
}

// Erase removes insts from the body. Remaining uses are left dangling on
// purpose so callers replace them first.
func (f *Function) Erase(insts ...*Instr) {
	drop := make(map[*Instr]bool, len(insts))
	for _, inst := range insts {
		drop[inst] = true
		inst.erased = true
	}
	kept := f.Body[:0]
	for _, inst := range f.Body {
		if !drop[inst] {
			kept = append(kept, inst)
		}
	}
	f.Body = kept
}

// Markers returns the live instructions with the given opcode.
func (f *Function) Markers(op Opcode) []*Instr {
	var out []*Instr
	for _, inst := range f.Body {
		if inst.Op == op {
			out = append(out, inst)
		}
	}
	return out
}

// Before reports whether a precedes b in program order.
func (f *Function) Before(a, b *Instr) bool {
	ia, ib := f.indexOf(a), f.indexOf(b)
	return ia >= 0 && ib >= 0 && ia < ib
}

func (f *Function) indexOf(inst *Instr) int {
	for i, cur := range f.Body {
		if cur == inst {
			return i
		}
	}
	return -1
}

func (f *Function) attach(inst *Instr) {
	inst.fn = f
	inst.ID = f.nextID
	f.nextID++
	if inst.Nm == "" && inst.Ty.Kind != Void {
		inst.Nm = fmt.Sprintf("t%d", inst.ID)
	}
}
