// Package xform lowers scheduled dataflow graphs into accelerator
// configuration calls and rewrites the host function around them.
package xform

import (
	"fmt"

	"dsac/internal/ir"
)

// Register names one slot of the accelerator's configuration register file.
type Register int

const (
	// SAR holds the start address of the next stream.
	SAR Register = iota
	// I1D and L1D hold the inner stride and length.
	I1D
	L1D
	// I2D, E2D and L2D hold the outer stride, stretch and length.
	I2D
	E2D
	L2D
	// CSR packs the element width and padding mode.
	CSR
	numRegisters
)

var registerNames = [numRegisters]string{"SAR", "I1D", "L1D", "I2D", "E2D", "L2D", "CSR"}

var registerDefaults = [numRegisters]int64{0, 0, 1, 0, 0, 1, 0}

// Only the control word survives a stream command.
var registerSticky = [numRegisters]bool{CSR: true}

func (r Register) String() string {
	if r >= 0 && r < numRegisters {
		return registerNames[r]
	}
	return fmt.Sprintf("reg(%d)", int(r))
}

// RegWrite is one pending register update.
type RegWrite struct {
	Reg   Register
	Value ir.Expr
}

// RegisterFile tracks what the configuration registers hold at the current
// insertion point of one function, so a stream command only rewrites the
// registers whose value changes. Build one per function before lowering
// any of its regions.
type RegisterFile struct {
	fn *ir.Function
	// vals holds nil for a register whose content is unknown.
	vals [numRegisters]ir.Expr
	// fuse packs two register writes into one ss_cfg_param.
	fuse bool
	// last is the end marker of the region lowered before.
	last *ir.Instr
}

// NewRegisterFile returns the register file of fn with every register at
// its reset value.
func NewRegisterFile(fn *ir.Function, fuse bool) *RegisterFile {
	rf := &RegisterFile{fn: fn, fuse: fuse}
	for r := Register(0); r < numRegisters; r++ {
		rf.vals[r] = ir.C(registerDefaults[r])
	}
	return rf
}

// Function returns the function the register file belongs to.
func (rf *RegisterFile) Function() *ir.Function { return rf.fn }

// Value returns what r currently holds, or nil when that is unknown.
func (rf *RegisterFile) Value(r Register) ir.Expr { return rf.vals[r] }

// Enter moves the file to the region between start and end. Contents are
// only carried over straight-line host code: a region inside a host loop
// may run after any region of that loop, and code after a loop may run
// after zero iterations of it.
func (rf *RegisterFile) Enter(start, end *ir.Instr) {
	if (start != nil && start.Loop != nil) || (rf.last != nil && rf.last.Loop != nil) {
		rf.Forget()
	}
	rf.last = end
}

// Forget marks every register as unknown, so the next write to it is
// always emitted.
func (rf *RegisterFile) Forget() {
	for r := range rf.vals {
		rf.vals[r] = nil
	}
}

// Write records the updates and returns the ss_cfg_param calls that
// perform the ones that change a register.
func (rf *RegisterFile) Write(writes ...RegWrite) []*ir.Instr {
	var args []ir.Arg
	for _, w := range writes {
		if rf.vals[w.Reg] != nil && ir.Equal(rf.vals[w.Reg], w.Value) {
			continue
		}
		rf.vals[w.Reg] = w.Value
		args = append(args, ir.Arg{Key: w.Reg.String(), Value: w.Value})
	}
	step := 1
	if rf.fuse {
		step = 2
	}
	var calls []*ir.Instr
	for i := 0; i < len(args); i += step {
		end := i + step
		if end > len(args) {
			end = len(args)
		}
		calls = append(calls, ir.Intrinsic("ss_cfg_param", ir.Type{Kind: ir.Void}, args[i:end]...))
	}
	return calls
}

// Reset returns every non-sticky register to its reset value, as the
// hardware does after a stream command.
func (rf *RegisterFile) Reset() {
	for r := Register(0); r < numRegisters; r++ {
		if !registerSticky[r] {
			rf.vals[r] = ir.C(registerDefaults[r])
		}
	}
}
