package analysis

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"dsac/internal/dfg"
	"dsac/internal/ir"
)

// CoalescedEntry is one member of a cluster: the entry ID and its byte
// offset inside the shared vector word.
type CoalescedEntry struct {
	ID     int
	Offset int64
}

// CoalMemoryInfo groups the memory ports of one graph into clusters that
// share a physical vector port. Every MemPort and PortMem belongs to exactly
// one cluster; a single-member cluster is an ordinary port.
type CoalMemoryInfo struct {
	// Belong maps an entry ID to its cluster.
	Belong map[int]int
	// Clusters lists members sorted by offset.
	Clusters [][]CoalescedEntry
	// ClusterPorts holds the scheduler port of each cluster, -1 until
	// assigned.
	ClusterPorts []int
}

type coalesceKey struct {
	base  string
	write bool
	bytes int
}

type member struct {
	id     int
	offset int64
	bytes  int
}

// Coalesce clusters the memory ports of g. Ports reading (or writing) the
// same base with the same element width join one cluster when their byte
// ranges overlap or touch.
func Coalesce(g *dfg.Graph) *CoalMemoryInfo {
	cmi := &CoalMemoryInfo{Belong: make(map[int]int)}
	var order []coalesceKey
	groups := make(map[coalesceKey][]member)
	for _, e := range g.Entries {
		key, m, ok := memoryKey(g, e)
		if !ok {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}
	for _, key := range order {
		for _, cluster := range components(groups[key]) {
			idx := len(cmi.Clusters)
			for _, ce := range cluster {
				cmi.Belong[ce.ID] = idx
			}
			cmi.Clusters = append(cmi.Clusters, cluster)
			cmi.ClusterPorts = append(cmi.ClusterPorts, -1)
		}
	}
	return cmi
}

func memoryKey(g *dfg.Graph, e dfg.Entry) (coalesceKey, member, bool) {
	var ptr ir.Value
	var ty ir.Type
	write := false
	switch x := e.(type) {
	case *dfg.MemPort:
		ptr, ty = x.Load.PointerOperand(), x.Load.Type()
	case *dfg.PortMem:
		ptr, ty, write = x.Store.PointerOperand(), x.Output().Type(), true
	default:
		return coalesceKey{}, member{}, false
	}
	addr := g.File.Fn.SCEV(ptr)
	base, off := ir.SplitConstOffset(addr)
	key := coalesceKey{base: base.String(), write: write, bytes: ty.Bytes()}
	return key, member{id: dfg.IDOf(e), offset: off, bytes: ty.Bytes()}, true
}

// components splits members of one key into clusters of overlapping or
// adjacent byte ranges, each sorted by offset, ordered by lowest offset.
func components(ms []member) [][]CoalescedEntry {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].offset != ms[j].offset {
			return ms[i].offset < ms[j].offset
		}
		return ms[i].id < ms[j].id
	})
	ug := simple.NewUndirectedGraph()
	for i := range ms {
		ug.AddNode(simple.Node(i))
	}
	for i := range ms {
		for j := i + 1; j < len(ms); j++ {
			if touches(ms[i], ms[j]) {
				ug.SetEdge(simple.Edge{F: simple.Node(i), T: simple.Node(j)})
			}
		}
	}
	var out [][]CoalescedEntry
	for _, comp := range topo.ConnectedComponents(ug) {
		idx := make([]int, 0, len(comp))
		for _, n := range comp {
			idx = append(idx, int(n.ID()))
		}
		sort.Ints(idx)
		cluster := make([]CoalescedEntry, 0, len(idx))
		for _, i := range idx {
			cluster = append(cluster, CoalescedEntry{ID: ms[i].id, Offset: ms[i].offset})
		}
		out = append(out, cluster)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0].Offset < out[j][0].Offset })
	return out
}

func touches(a, b member) bool {
	if a.offset > b.offset {
		a, b = b, a
	}
	return b.offset <= a.offset+int64(a.bytes)
}

// ClusterOf returns the members of the cluster holding entry id.
func (c *CoalMemoryInfo) ClusterOf(id int) ([]CoalescedEntry, int, bool) {
	idx, ok := c.Belong[id]
	if !ok {
		return nil, -1, false
	}
	return c.Clusters[idx], idx, true
}

// IsCoalesced reports whether entry id shares its port with other entries.
func (c *CoalMemoryInfo) IsCoalesced(id int) bool {
	cl, _, ok := c.ClusterOf(id)
	return ok && len(cl) > 1
}

// MaxOffset returns the largest member offset of cluster idx.
func (c *CoalMemoryInfo) MaxOffset(idx int) int64 {
	cl := c.Clusters[idx]
	return cl[len(cl)-1].Offset
}

// Width returns the declared array size of cluster idx for elements of
// elemBytes bytes unrolled degree times.
func (c *CoalMemoryInfo) Width(idx, elemBytes, degree int) int {
	return (int(c.MaxOffset(idx))/elemBytes + 1) * degree
}

// Port returns the scheduler port shared by the cluster of entry id.
func (c *CoalMemoryInfo) Port(id int) (int, error) {
	idx, ok := c.Belong[id]
	if !ok {
		return -1, fmt.Errorf("analysis: entry %d is not a clustered memory port", id)
	}
	return c.ClusterPorts[idx], nil
}
