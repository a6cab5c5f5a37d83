// Package dfg models the dataflow graphs extracted from one configuration
// region: ports, compute nodes and control entries, grouped per graph.
package dfg

import (
	"fmt"

	"dsac/internal/ir"
)

// GraphKind distinguishes statically scheduled graphs from time-multiplexed
// ones.
type GraphKind int

const (
	Dedicated GraphKind = iota
	Temporal
)

func (k GraphKind) String() string {
	if k == Temporal {
		return "temporal"
	}
	return "dedicated"
}

// File owns every graph extracted from one region, delimited by the Start
// and End markers of the host function.
type File struct {
	Name   string
	Fn     *ir.Function
	Start  *ir.Instr
	End    *ir.Instr
	Graphs []*Graph
}

// NewFile creates an empty region.
func NewFile(name string, fn *ir.Function, start, end *ir.Instr) *File {
	return &File{Name: name, Fn: fn, Start: start, End: end}
}

// AddGraph appends a graph. loops lists the enclosing loops outermost first.
func (f *File) AddGraph(kind GraphKind, unroll int, loops ...*ir.Loop) *Graph {
	g := &Graph{
		ID:     len(f.Graphs),
		Kind:   kind,
		Unroll: unroll,
		Loops:  loops,
		File:   f,
	}
	f.Graphs = append(f.Graphs, g)
	return g
}

// OffloadedInstructions returns every host instruction absorbed by the
// region's graphs, deduplicated, in discovery order.
func (f *File) OffloadedInstructions() []*ir.Instr {
	seen := make(map[*ir.Instr]bool)
	var out []*ir.Instr
	for _, g := range f.Graphs {
		for _, e := range g.Entries {
			for _, inst := range UnderlyingInsts(e) {
				if !seen[inst] {
					seen[inst] = true
					out = append(out, inst)
				}
			}
		}
	}
	return out
}

// Graph is one extracted dataflow graph.
type Graph struct {
	ID     int
	Kind   GraphKind
	Unroll int
	// Loops lists the enclosing loops, outermost first.
	Loops   []*ir.Loop
	Entries []Entry
	File    *File
}

// Add appends e to the graph and assigns its ID. An entry belongs to exactly
// one graph.
func (g *Graph) Add(e Entry) Entry {
	n := e.node()
	if n.graph != nil {
		panic(fmt.Sprintf("dfg: entry %d already belongs to DFG%d", n.ID, n.graph.ID))
	}
	n.ID = len(g.Entries)
	n.graph = g
	if p, ok := PortOf(e); ok {
		p.SoftPortNum = -1
	}
	g.Entries = append(g.Entries, e)
	return e
}

// Innermost returns the innermost enclosing loop, nil for straight-line
// graphs.
func (g *Graph) Innermost() *ir.Loop {
	if len(g.Loops) == 0 {
		return nil
	}
	return g.Loops[len(g.Loops)-1]
}

// InThisDFG returns the entry producing v inside this graph. Output ports
// consume values and are never returned.
func (g *Graph) InThisDFG(v ir.Value) Entry {
	if v == nil {
		return nil
	}
	for _, e := range g.Entries {
		if IsOutput(e) {
			continue
		}
		if p, ok := e.(*Predicate); ok {
			for _, c := range p.Cond {
				if ir.Value(c) == v {
					return e
				}
			}
			continue
		}
		if u := underlyingValue(e); u != nil && u == v {
			return e
		}
	}
	return nil
}

func (g *Graph) scev(v ir.Value) ir.Expr {
	if g.File == nil || g.File.Fn == nil {
		return ir.Sym(v)
	}
	return g.File.Fn.SCEV(v)
}

// Of returns the entries of g with concrete type T, in insertion order.
func Of[T Entry](g *Graph) []T {
	var out []T
	for _, e := range g.Entries {
		if t, ok := e.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// Ports returns every port-like entry of g.
func Ports(g *Graph) []Entry {
	var out []Entry
	for _, e := range g.Entries {
		if _, ok := PortOf(e); ok {
			out = append(out, e)
		}
	}
	return out
}
