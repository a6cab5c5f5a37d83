package ir

import "github.com/oleiade/lane"

// EquivalentPhis returns v together with every phi that transitively merges
// v, in discovery order. Replacing v means replacing the whole class.
func (f *Function) EquivalentPhis(v Value) []Value {
	seen := map[Value]bool{v: true}
	order := []Value{v}
	q := lane.NewQueue()
	q.Enqueue(v)
	for !q.Empty() {
		cur := q.Dequeue().(Value)
		for _, user := range f.Users(cur) {
			if user.Op != OpPhi || seen[user] {
				continue
			}
			seen[user] = true
			order = append(order, user)
			q.Enqueue(user)
		}
		// A phi is also equivalent to the phis it merges.
		if phi, ok := cur.(*Instr); ok && phi.Op == OpPhi {
			for _, in := range phi.Operands {
				if inPhi, ok := in.(*Instr); ok && inPhi.Op == OpPhi && !seen[inPhi] {
					seen[inPhi] = true
					order = append(order, inPhi)
					q.Enqueue(inPhi)
				}
			}
		}
	}
	return order
}
