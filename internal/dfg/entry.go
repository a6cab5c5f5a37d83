package dfg

import (
	"fmt"

	"dsac/internal/ir"
)

// Entry is one node of a graph. The set of implementations is closed; code
// that consumes entries switches over the concrete types below and panics
// on anything else.
type Entry interface {
	node() *Node
}

// Node is embedded by every entry.
type Node struct {
	ID    int
	graph *Graph
}

func (n *Node) node() *Node { return n }

// Graph returns the owning graph.
func (n *Node) Graph() *Graph { return n.graph }

// Port is embedded by entries that occupy an accelerator port.
type Port struct {
	// SoftPortNum is the scheduler-assigned port, -1 until assigned.
	SoftPortNum int
	Meta        MetaPort
}

func (p *Port) port() *Port { return p }

type portEntry interface {
	Entry
	port() *Port
}

// PortOf returns the port state of e when e occupies a port.
func PortOf(e Entry) (*Port, bool) {
	if pe, ok := e.(portEntry); ok {
		return pe.port(), true
	}
	return nil, false
}

// IDOf returns the ID of e within its graph.
func IDOf(e Entry) int { return e.node().ID }

// GraphOf returns the graph owning e.
func GraphOf(e Entry) *Graph { return e.node().graph }

// Padding selects how a memory stream fills the tail of a vector word.
type Padding int

const (
	NoPadding Padding = iota
	PostStrideZero
	PreStrideZero
	PostStridePredOff
	PreStridePredOff
)

// InputPort is a host value entering the graph.
type InputPort struct {
	Node
	Port
	Value ir.Value
}

// OutputPort is a graph value leaving to the host.
type OutputPort struct {
	Node
	Port
	Output ir.Value
}

// MemPort is an input port fed by a memory read.
type MemPort struct {
	Node
	Port
	Load *ir.Instr
	Fill Padding
	Pred *Predicate
}

// PortMem is an output port drained by a memory write.
type PortMem struct {
	Node
	Port
	Store *ir.Instr
	// Latency is the producer latency in cycles, used to size recurrences.
	Latency int
	// InMajor is set when the store runs in the graph's main loop body.
	InMajor bool
}

// Output returns the stored value.
func (pm *PortMem) Output() ir.Value { return pm.Store.ValueOperand() }

// IndMemPort is an indirect (gather) read addressed by the values of the
// Index port.
type IndMemPort struct {
	Node
	Port
	Load  *ir.Instr
	Index *MemPort
	// IndexOutPort is the port the index side-graph forwards indices to.
	IndexOutPort int
	// Duplicate marks a port merged into a sibling reading the same index
	// stream.
	Duplicate bool
}

// InputConst is a loop-invariant scalar replicated into a stream.
type InputConst struct {
	Node
	Port
	Val ir.Value
}

// ComputeBody wraps one arithmetic, comparison or call instruction.
type ComputeBody struct {
	Node
	Op *ir.Instr
	// Atomic marks an operation lowered as an atomic update; it is not
	// emitted as a compute line.
	Atomic      bool
	Pred        *Predicate
	AbstainMask int
}

// Accumulator is a reduction of Op over the innermost Dims loops.
type Accumulator struct {
	Node
	Op          *ir.Instr
	Ctrl        *CtrlSignal
	Pred        *Predicate
	AbstainMask int
	// Dims is the number of innermost loops reduced over; zero means one.
	Dims int
}

// ReducedDims returns the number of innermost loops the reduction covers.
func (a *Accumulator) ReducedDims() int {
	if a.Dims <= 0 {
		return 1
	}
	return a.Dims
}

// Predicate combines comparisons into a control signal.
type Predicate struct {
	Node
	Cond []*ir.Instr
}

// CtrlSignal is a toggle stream telling an accumulator when to emit.
type CtrlSignal struct {
	Node
	Port
	Controlled *Accumulator
}

// CtrlMemPort is a memory-backed control stream.
type CtrlMemPort struct {
	Node
	Port
	Load    *ir.Instr
	Start   ir.Expr
	TripCnt ir.Expr
	Pred    *Predicate
	// Mask selects, per control value, the lanes this stream does not
	// enable.
	Mask int
	// ForPredicate is set by the emitter when the stream feeds a predicate
	// rather than ordinary data.
	ForPredicate bool
}

// StreamInPort receives values another graph produces on a StreamOutPort.
type StreamInPort struct {
	Node
	Port
	DataFrom ir.Value
}

// StreamOutPort forwards a value to a sibling graph.
type StreamOutPort struct {
	Node
	Port
	Output ir.Value
}

// PredicateOf returns the predicate guarding e, if any.
func PredicateOf(e Entry) *Predicate {
	switch x := e.(type) {
	case *MemPort:
		return x.Pred
	case *ComputeBody:
		return x.Pred
	case *Accumulator:
		return x.Pred
	case *CtrlMemPort:
		return x.Pred
	}
	return nil
}

// Kind returns the variant name used in emitted comments.
func Kind(e Entry) string {
	switch e.(type) {
	case *InputPort:
		return "InputPort"
	case *OutputPort:
		return "OutputPort"
	case *MemPort:
		return "MemPort"
	case *PortMem:
		return "PortMem"
	case *IndMemPort:
		return "IndMemPort"
	case *InputConst:
		return "InputConst"
	case *ComputeBody:
		return "ComputeBody"
	case *Accumulator:
		return "Accumulator"
	case *Predicate:
		return "Predicate"
	case *CtrlSignal:
		return "CtrlSignal"
	case *CtrlMemPort:
		return "CtrlMemPort"
	case *StreamInPort:
		return "StreamInPort"
	case *StreamOutPort:
		return "StreamOutPort"
	default:
		panic(fmt.Sprintf("dfg: unknown entry %T", e))
	}
}

// IsInput reports whether e is an input-side port.
func IsInput(e Entry) bool {
	switch e.(type) {
	case *InputPort, *MemPort, *IndMemPort, *InputConst, *CtrlSignal, *CtrlMemPort, *StreamInPort:
		return true
	}
	return false
}

// IsOutput reports whether e is an output-side port.
func IsOutput(e Entry) bool {
	switch e.(type) {
	case *OutputPort, *PortMem, *StreamOutPort:
		return true
	}
	return false
}
