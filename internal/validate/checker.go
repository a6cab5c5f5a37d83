// Package validate checks that a loaded region is structurally sound before
// any analysis runs on it.
package validate

import (
	"fmt"

	"dsac/internal/dfg"
	"dsac/internal/diag"
	"dsac/internal/ir"
)

// CheckFile validates the region f: its markers exist and are ordered, every
// graph and entry is numbered densely and owned exactly once, unroll degrees
// are positive, and every offloaded instruction sits between the markers.
func CheckFile(f *dfg.File, reporter *diag.Reporter) error {
	if f == nil {
		return fmt.Errorf("no region provided for validation")
	}
	if reporter == nil {
		return fmt.Errorf("no reporter provided for validation")
	}
	c := &checker{reporter: reporter, file: f, owner: make(map[dfg.Entry]*dfg.Graph)}
	c.checkMarkers()
	for i, g := range f.Graphs {
		c.checkGraph(i, g)
	}
	if c.firstInput != "" {
		return fmt.Errorf("validation of %s failed with %d issue(s), first %s: %w", f.Name, c.errCount, c.firstInput, diag.ErrInput)
	}
	if c.errCount > 0 {
		return fmt.Errorf("validation of %s failed with %d issue(s): %w", f.Name, c.errCount, diag.ErrInternal)
	}
	return nil
}

type checker struct {
	reporter *diag.Reporter
	errCount int
	// firstInput is the first problem the description itself could fix.
	firstInput string
	file     *dfg.File
	owner    map[dfg.Entry]*dfg.Graph
	// span is false when the markers are unusable; containment checks are
	// skipped then.
	span bool
}

func (c *checker) checkMarkers() {
	f := c.file
	if f.Fn == nil {
		c.error(f.Name, "region has no host function")
		return
	}
	okStart := c.checkMarker("start", f.Start, ir.OpRegionStart)
	okEnd := c.checkMarker("end", f.End, ir.OpRegionEnd)
	if okStart && okEnd {
		if !f.Fn.Before(f.Start, f.End) {
			c.error(f.Name, "region end marker precedes its start marker")
			return
		}
		c.span = true
	}
}

func (c *checker) checkMarker(which string, m *ir.Instr, op ir.Opcode) bool {
	f := c.file
	switch {
	case m == nil:
		c.error(f.Name, fmt.Sprintf("region has no %s marker", which))
	case m.Op != op:
		c.error(f.Name, fmt.Sprintf("%s marker %s is a %s", which, m.Nm, m.Op))
	case m.Erased() || m.Function() != f.Fn:
		c.error(f.Name, fmt.Sprintf("%s marker %s is not in %s", which, m.Nm, f.Fn.Name))
	default:
		return true
	}
	return false
}

func (c *checker) checkGraph(i int, g *dfg.Graph) {
	at := fmt.Sprintf("DFG%d", i)
	if g.ID != i {
		c.error(at, fmt.Sprintf("graph numbered %d", g.ID))
	}
	if g.File != c.file {
		c.error(at, "graph belongs to another region")
	}
	if g.Unroll <= 0 {
		c.error(at, fmt.Sprintf("unroll degree %d is not positive", g.Unroll))
	}
	for j, l := range g.Loops {
		if j > 0 && l.Parent != g.Loops[j-1] {
			c.error(at, fmt.Sprintf("loop %s is not nested in %s", l.Name, g.Loops[j-1].Name))
		}
	}
	for j, e := range g.Entries {
		c.checkEntry(g, j, e)
	}
}

func (c *checker) checkEntry(g *dfg.Graph, j int, e dfg.Entry) {
	at := fmt.Sprintf("DFG%d/entry%d", g.ID, j)
	if prev, ok := c.owner[e]; ok {
		c.error(at, fmt.Sprintf("%s already listed in DFG%d", dfg.Kind(e), prev.ID))
		return
	}
	c.owner[e] = g
	if dfg.GraphOf(e) != g {
		c.error(at, fmt.Sprintf("%s is owned by another graph", dfg.Kind(e)))
	}
	if id := dfg.IDOf(e); id != j {
		c.error(at, fmt.Sprintf("%s numbered %d", dfg.Kind(e), id))
	}
	if acc, ok := e.(*dfg.Accumulator); ok {
		c.checkAccumulator(g, at, acc)
	}
	if !c.span || !offloadsBody(e) {
		return
	}
	for _, inst := range dfg.UnderlyingInsts(e) {
		if inst == nil {
			c.error(at, fmt.Sprintf("%s has no host instruction", dfg.Kind(e)))
			continue
		}
		if !c.file.Fn.Before(c.file.Start, inst) || !c.file.Fn.Before(inst, c.file.End) {
			c.error(at, fmt.Sprintf("%s instruction %s lies outside the region", dfg.Kind(e), inst.Nm))
		}
	}
}

// checkAccumulator requires the control signal that resets acc.
func (c *checker) checkAccumulator(g *dfg.Graph, at string, acc *dfg.Accumulator) {
	name := "accumulator"
	if acc.Op != nil {
		name = "accumulator " + acc.Op.Nm
	}
	switch {
	case acc.Ctrl == nil:
		c.inputError(at, fmt.Sprintf("%s has no control signal", name))
	case dfg.GraphOf(acc.Ctrl) != g:
		c.inputError(at, fmt.Sprintf("%s is controlled from another graph", name))
	}
}

// offloadsBody reports whether the instructions of e come from the region
// body. Values crossing the boundary may be defined anywhere.
func offloadsBody(e dfg.Entry) bool {
	switch e.(type) {
	case *dfg.MemPort, *dfg.PortMem, *dfg.IndMemPort, *dfg.CtrlMemPort,
		*dfg.ComputeBody, *dfg.Accumulator, *dfg.Predicate:
		return true
	}
	return false
}

func (c *checker) inputError(at, msg string) {
	if c.firstInput == "" {
		c.firstInput = at + ": " + msg
	}
	c.error(at, msg)
}

func (c *checker) error(at, msg string) {
	c.errCount++
	c.reporter.Error(at, msg)
}
