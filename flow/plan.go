package flow

import "container/heap"

// Plan computes the execution order for a workflow: a topological sort of
// the node graph with a deterministic tie-break among ready nodes.
//
// Among nodes whose upstream dependencies are all planned, the node with the
// smallest (position.y, position.x, id) tuple runs first, comparing
// lexicographically. Nodes placed at the zero position fall back to id order
// naturally. The rule is observable through the NodeExecution append order
// and must hold identically across replays, so the heap below is the single
// implementation.
//
// Validate rejects cyclic graphs before planning; Plan still returns
// ErrCycleDetected if it cannot place every node.
func Plan(w *Workflow) ([]string, error) {
	indegree := make(map[string]int, len(w.Nodes))
	adj := make(map[string][]string, len(w.Nodes))
	byID := make(map[string]*Node, len(w.Nodes))

	for i := range w.Nodes {
		n := &w.Nodes[i]
		indegree[n.ID] = 0
		byID[n.ID] = n
	}

	// Duplicate edges between the same node pair only count once for
	// scheduling purposes; dataflow multiplicity is the input resolver's
	// concern.
	linked := make(map[[2]string]bool, len(w.Edges))
	for _, e := range w.Edges {
		if byID[e.Source] == nil || byID[e.Target] == nil {
			continue
		}
		key := [2]string{e.Source, e.Target}
		if linked[key] {
			continue
		}
		linked[key] = true
		adj[e.Source] = append(adj[e.Source], e.Target)
		indegree[e.Target]++
	}

	ready := &readyHeap{}
	heap.Init(ready)
	for i := range w.Nodes {
		n := &w.Nodes[i]
		if indegree[n.ID] == 0 {
			heap.Push(ready, planKey{n.Position.Y, n.Position.X, n.ID})
		}
	}

	order := make([]string, 0, len(w.Nodes))
	for ready.Len() > 0 {
		k := heap.Pop(ready).(planKey)
		order = append(order, k.id)
		for _, next := range adj[k.id] {
			indegree[next]--
			if indegree[next] == 0 {
				n := byID[next]
				heap.Push(ready, planKey{n.Position.Y, n.Position.X, n.ID})
			}
		}
	}

	if len(order) < len(w.Nodes) {
		return nil, ErrCycleDetected
	}
	return order, nil
}

// planKey is the tie-break tuple for the ready queue.
type planKey struct {
	y, x float64
	id   string
}

func (a planKey) less(b planKey) bool {
	if a.y != b.y {
		return a.y < b.y
	}
	if a.x != b.x {
		return a.x < b.x
	}
	return a.id < b.id
}

// readyHeap is a min-heap of planKeys; the smallest tuple is the next node
// to schedule.
type readyHeap []planKey

func (h readyHeap) Len() int            { return len(h) }
func (h readyHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h readyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) { *h = append(*h, x.(planKey)) }

func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
