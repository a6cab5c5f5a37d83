package backend

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"dsac/internal/analysis"
	"dsac/internal/dfg"
	"dsac/internal/diag"
)

// Assignment is what a scheduler reports for one region.
type Assignment struct {
	// Ports maps a declared port name to its hardware port.
	Ports map[string]int
	// Inputs and Outputs list the declared port names in declaration
	// order.
	Inputs  []string
	Outputs []string
	// Bitstream is the configuration payload and Size its length in bytes.
	Bitstream string
	Size      int64
	// Text is the scheduled DFG file.
	Text string
}

var declRE = regexp.MustCompile(`^(Input|Output)\d*: ([A-Za-z_][A-Za-z0-9_]*)(\[\d+\])?$`)

// ParseAssignment reads a scheduled DFG file: the declarations the emitter
// wrote plus the "#pragma port <name> <num>" and
// "#pragma bitstream <size> <payload>" lines the scheduler appended.
func ParseAssignment(r io.Reader) (*Assignment, error) {
	asg := &Assignment{Ports: make(map[string]int)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	seenBitstream := false
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if m := declRE.FindStringSubmatch(line); m != nil {
			if m[1] == "Input" {
				asg.Inputs = append(asg.Inputs, m[2])
			} else {
				asg.Outputs = append(asg.Outputs, m[2])
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "#pragma" {
			continue
		}
		switch fields[1] {
		case "port":
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: malformed port pragma %q: %w", lineNo, line, diag.ErrExternalTool)
			}
			num, err := strconv.Atoi(fields[3])
			if err != nil || num < 0 {
				return nil, fmt.Errorf("line %d: bad port number %q: %w", lineNo, fields[3], diag.ErrExternalTool)
			}
			if prev, ok := asg.Ports[fields[2]]; ok && prev != num {
				return nil, fmt.Errorf("line %d: port %s assigned twice: %w", lineNo, fields[2], diag.ErrExternalTool)
			}
			asg.Ports[fields[2]] = num
		case "bitstream":
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: malformed bitstream pragma: %w", lineNo, diag.ErrExternalTool)
			}
			size, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad bitstream size %q: %w", lineNo, fields[2], diag.ErrExternalTool)
			}
			asg.Size, asg.Bitstream = size, fields[3]
			seenBitstream = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !seenBitstream {
		return nil, fmt.Errorf("scheduler produced no bitstream: %w", diag.ErrExternalTool)
	}
	return asg, nil
}

// declaredName returns the name under which the port of e is declared:
// the shared cluster name for coalesced memory ports, its own name
// otherwise.
func declaredName(g *dfg.Graph, e dfg.Entry, cmi *analysis.CoalMemoryInfo) (string, int) {
	switch e.(type) {
	case *dfg.MemPort:
		if cmi.IsCoalesced(dfg.IDOf(e)) {
			idx := cmi.Belong[dfg.IDOf(e)]
			return fmt.Sprintf("ICluster_%d_%d_", g.ID, idx), idx
		}
	case *dfg.PortMem:
		if cmi.IsCoalesced(dfg.IDOf(e)) {
			idx := cmi.Belong[dfg.IDOf(e)]
			return fmt.Sprintf("OCluster_%d_%d_", g.ID, idx), idx
		}
	}
	return dfg.Name(e, -1), -1
}

// ApplyAssignment copies the scheduled port numbers into the graphs of f and
// the cluster ports of cmis. Ports the emitter left out keep -1. A declared
// port without a number, or two ports of one graph sharing a number, is an
// internal error.
func ApplyAssignment(f *dfg.File, cmis []*analysis.CoalMemoryInfo, asg *Assignment) error {
	declared := make(map[string]bool, len(asg.Inputs)+len(asg.Outputs))
	for _, n := range asg.Inputs {
		declared[n] = true
	}
	for _, n := range asg.Outputs {
		declared[n] = true
	}
	for i, g := range f.Graphs {
		cmi := cmis[i]
		type slot struct {
			input bool
			num   int
		}
		owner := make(map[slot]string)
		for _, e := range dfg.Ports(g) {
			name, cluster := declaredName(g, e, cmi)
			if !declared[name] {
				continue
			}
			num, ok := asg.Ports[name]
			if !ok {
				return fmt.Errorf("backend: DFG%d: no port assigned to %s: %w", g.ID, name, diag.ErrInternal)
			}
			s := slot{dfg.IsInput(e), num}
			if prev, taken := owner[s]; taken && prev != name {
				return fmt.Errorf("backend: DFG%d: %s and %s share port %d: %w", g.ID, prev, name, num, diag.ErrInternal)
			}
			owner[s] = name
			p, _ := dfg.PortOf(e)
			p.SoftPortNum = num
			if cluster >= 0 {
				cmi.ClusterPorts[cluster] = num
			}
		}
		for _, imp := range dfg.Of[*dfg.IndMemPort](g) {
			if num, ok := asg.Ports[fmt.Sprintf("indirect_out_%d_%d", g.ID, imp.ID)]; ok {
				imp.IndexOutPort = num
			}
		}
	}
	return nil
}
