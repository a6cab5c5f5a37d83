package dfg

// Reorder returns the entries of g in emission order: input ports, then
// interior nodes, then output ports. The partition is stable, so applying it
// to its own output is a no-op.
func Reorder(g *Graph) []Entry {
	return partition(g.Entries)
}

func partition(entries []Entry) []Entry {
	res := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if IsInput(e) {
			res = append(res, e)
		}
	}
	for _, e := range entries {
		if !IsInput(e) && !IsOutput(e) {
			res = append(res, e)
		}
	}
	for _, e := range entries {
		if IsOutput(e) {
			res = append(res, e)
		}
	}
	return res
}

// Walk calls fn on every entry of g in emission order and stops at the first
// error.
func Walk(g *Graph, fn func(Entry) error) error {
	for _, e := range Reorder(g) {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
