package xform

import (
	"fmt"

	"go.uber.org/multierr"

	"dsac/internal/dfg"
	"dsac/internal/diag"
	"dsac/internal/ir"
)

// Replacement substitutes New for every use of Old and of the phis that
// merge it.
type Replacement struct {
	Old ir.Value
	New *ir.Instr
}

// Plan is the outcome of lowering one region: the calls to insert, the host
// values to replace and the entries that are done. Building a plan does not
// touch the host function; Apply does.
type Plan struct {
	File *dfg.File
	// Prologue runs before the region starts.
	Prologue []*ir.Instr
	// Graphs holds the stream configuration of each graph, in graph order.
	Graphs [][]*ir.Instr
	// Epilogue runs before the region ends.
	Epilogue     []*ir.Instr
	Replacements []Replacement

	done map[dfg.Entry]bool
}

func newPlan(f *dfg.File) *Plan {
	return &Plan{
		File:   f,
		Graphs: make([][]*ir.Instr, len(f.Graphs)),
		done:   make(map[dfg.Entry]bool),
	}
}

// Done reports whether e is in the completion set.
func (p *Plan) Done(e dfg.Entry) bool { return p.done[e] }

func (p *Plan) complete(es ...dfg.Entry) {
	for _, e := range es {
		p.done[e] = true
	}
}

// Completed returns the completion set in graph and entry order.
func (p *Plan) Completed() []dfg.Entry {
	var out []dfg.Entry
	for _, g := range p.File.Graphs {
		for _, e := range g.Entries {
			if p.done[e] {
				out = append(out, e)
			}
		}
	}
	return out
}

// Calls returns every call of the plan in insertion order.
func (p *Plan) Calls() []*ir.Instr {
	var out []*ir.Instr
	out = append(out, p.Prologue...)
	for _, calls := range p.Graphs {
		out = append(out, calls...)
	}
	return append(out, p.Epilogue...)
}

// Verify checks that every port of every graph was lowered.
func (p *Plan) Verify() error {
	var err error
	for _, g := range p.File.Graphs {
		for _, e := range dfg.Ports(g) {
			if !p.done[e] {
				err = multierr.Append(err, fmt.Errorf("DFG%d: %s %s was never lowered: %w",
					g.ID, dfg.Kind(e), dfg.Name(e, -1), diag.ErrInternal))
			}
		}
	}
	return err
}

// Apply rewrites fn: the prologue and the stream configuration go before
// the start marker, the epilogue before the end marker, received values
// replace the outputs they stand for, and offloaded instructions are
// erased. There is no undo.
func (p *Plan) Apply(fn *ir.Function) error {
	if p.File.Fn != fn {
		return fmt.Errorf("xform: %s was not extracted from %s: %w", p.File.Name, fn.Name, diag.ErrInternal)
	}
	var head []*ir.Instr
	head = append(head, p.Prologue...)
	for _, calls := range p.Graphs {
		head = append(head, calls...)
	}
	if err := fn.InsertBefore(p.File.Start, head...); err != nil {
		return err
	}
	if err := fn.InsertBefore(p.File.End, p.Epilogue...); err != nil {
		return err
	}
	for _, r := range p.Replacements {
		for _, v := range fn.EquivalentPhis(r.Old) {
			fn.ReplaceAllUsesWith(v, r.New)
		}
	}
	fn.Erase(p.File.OffloadedInstructions()...)
	return nil
}
