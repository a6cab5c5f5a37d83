package ir

import "fmt"

// Builder appends instructions to a function while tracking the loop the
// insertion point is nested in.
type Builder struct {
	fn    *Function
	loops []*Loop
}

// NewBuilder returns a builder appending to fn.
func NewBuilder(fn *Function) *Builder {
	return &Builder{fn: fn}
}

// Function returns the function under construction.
func (b *Builder) Function() *Function { return b.fn }

// EnterLoop opens a loop nested in the current one. backedge is the
// backedge-taken count.
func (b *Builder) EnterLoop(name string, backedge Expr) *Loop {
	l := &Loop{Name: name, Parent: b.current(), Backedge: backedge}
	b.fn.Loops = append(b.fn.Loops, l)
	b.loops = append(b.loops, l)
	return l
}

// ExitLoop closes the innermost open loop.
func (b *Builder) ExitLoop() {
	if len(b.loops) == 0 {
		panic("ir: ExitLoop without a matching EnterLoop")
	}
	b.loops = b.loops[:len(b.loops)-1]
}

// IndVar returns the canonical induction variable {0,+,1}<l>.
func IndVar(l *Loop) Expr { return AddRec(C(0), C(1), l) }

// Binary appends a two-operand operation.
func (b *Builder) Binary(op Opcode, name string, x, y Value) *Instr {
	if !op.IsBinary() {
		panic(fmt.Sprintf("ir: %s is not a binary opcode", op))
	}
	return b.emit(&Instr{Nm: name, Op: op, Ty: x.Type(), Operands: []Value{x, y}})
}

// Cmp appends an integer or floating point comparison producing an i1.
func (b *Builder) Cmp(pred CmpPredicate, name string, x, y Value) *Instr {
	op := OpICmp
	if x.Type().Kind == Float {
		op = OpFCmp
	}
	return b.emit(&Instr{Nm: name, Op: op, Ty: IntType(1), Operands: []Value{x, y}, Predicate: pred})
}

// Select appends cond ? x : y.
func (b *Builder) Select(name string, cond, x, y Value) *Instr {
	return b.emit(&Instr{Nm: name, Op: OpSelect, Ty: x.Type(), Operands: []Value{cond, x, y}})
}

// Address appends a pointer computation whose affine form is addr. base is
// the array the pointer indexes into; index may be nil.
func (b *Builder) Address(name string, base, index Value, addr Expr) *Instr {
	ops := []Value{base}
	if index != nil {
		ops = append(ops, index)
	}
	gep := b.emit(&Instr{Nm: name, Op: OpGEP, Ty: PtrType(), Operands: ops})
	if addr != nil {
		b.fn.SetSCEV(gep, addr)
	}
	return gep
}

// Load appends a load of ty from ptr.
func (b *Builder) Load(name string, ty Type, ptr Value) *Instr {
	return b.emit(&Instr{Nm: name, Op: OpLoad, Ty: ty, Operands: []Value{ptr}})
}

// Store appends a store of val to ptr.
func (b *Builder) Store(name string, val, ptr Value) *Instr {
	return b.emit(&Instr{Nm: name, Op: OpStore, Ty: Type{Kind: Void}, Operands: []Value{val, ptr}})
}

// Phi appends a phi merging incoming.
func (b *Builder) Phi(name string, ty Type, incoming ...Value) *Instr {
	return b.emit(&Instr{Nm: name, Op: OpPhi, Ty: ty, Operands: incoming})
}

// AddIncoming appends an incoming value to a phi once the value exists.
func (b *Builder) AddIncoming(phi *Instr, v Value) {
	phi.Operands = append(phi.Operands, v)
}

// Call appends a call to callee.
func (b *Builder) Call(name, callee string, ty Type, args ...Value) *Instr {
	return b.emit(&Instr{Nm: name, Op: OpCall, Ty: ty, Callee: callee, Operands: args})
}

// Marker appends a region or temporal marker.
func (b *Builder) Marker(op Opcode, name string) *Instr {
	switch op {
	case OpRegionStart, OpRegionEnd, OpTemporalStart, OpTemporalEnd:
	default:
		panic(fmt.Sprintf("ir: %s is not a marker", op))
	}
	return b.emit(&Instr{Nm: name, Op: op, Ty: Type{Kind: Void}})
}

// Intrinsic builds, without inserting, an accelerator configuration call.
func Intrinsic(mnemonic string, ty Type, args ...Arg) *Instr {
	return &Instr{Op: OpIntrinsic, Callee: mnemonic, Ty: ty, Args: args}
}

func (b *Builder) current() *Loop {
	if len(b.loops) == 0 {
		return nil
	}
	return b.loops[len(b.loops)-1]
}

func (b *Builder) emit(inst *Instr) *Instr {
	inst.Loop = b.current()
	return b.fn.Append(inst)
}
