package flow

import (
	"fmt"
	"sort"
)

// IssueKind classifies a structural validation failure.
type IssueKind string

const (
	// UnknownNodeReference: an edge names a node that does not exist.
	UnknownNodeReference IssueKind = "UnknownNodeReference"

	// UnknownEndpoint: an edge's sourceOutput or targetInput is not
	// declared on the referenced node.
	UnknownEndpoint IssueKind = "UnknownEndpoint"

	// TypeMismatch: the parameter types at the two ends of an edge are
	// incompatible.
	TypeMismatch IssueKind = "TypeMismatch"

	// DuplicateEdge: the same endpoint tuple appears twice.
	DuplicateEdge IssueKind = "DuplicateEdge"

	// MultipleEdgesToScalarInput: a non-repeated input receives more
	// than one incoming edge.
	MultipleEdgesToScalarInput IssueKind = "MultipleEdgesToScalarInput"

	// CycleDetected: a path in the edge graph returns to a visited node.
	CycleDetected IssueKind = "CycleDetected"

	// MissingRequiredInput: a required input has neither a default value
	// nor an incoming edge.
	MissingRequiredInput IssueKind = "MissingRequiredInput"

	// DuplicateNodeID: two nodes share an id.
	DuplicateNodeID IssueKind = "DuplicateNodeId"
)

// Issue is one structural problem found by Validate. NodeID and EdgeIndex
// point at the offending graph element where applicable; EdgeIndex is -1
// for node-level issues.
type Issue struct {
	Kind      IssueKind `json:"kind"`
	Message   string    `json:"message"`
	NodeID    string    `json:"nodeId,omitempty"`
	EdgeIndex int       `json:"edgeIndex"`

	// Param names the offending input parameter for
	// MissingRequiredInput and MultipleEdgesToScalarInput.
	Param string `json:"param,omitempty"`
}

func (i Issue) String() string {
	return string(i.Kind) + ": " + i.Message
}

// Validate runs every static check on the workflow graph and returns the
// complete list of issues found. It never short-circuits: all issues are
// collected so a caller can surface them in one pass. An empty slice means
// the workflow is valid.
//
// Checks, in order:
//  1. node ids are unique
//  2. every edge references existing nodes and declared endpoints
//  3. endpoint types are compatible (Compatible)
//  4. no duplicate edges; at most one edge into each non-repeated input
//  5. every required input has a default value or an incoming edge
//  6. the edge graph is acyclic
//
// Validate is pure: it reads the workflow and allocates the result, nothing
// else. Trigger-supplied parameters must be applied to input defaults before
// calling (the executor's validate step does this).
func Validate(w *Workflow) []Issue {
	var issues []Issue

	// 1. Duplicate node ids.
	seen := make(map[string]bool, len(w.Nodes))
	for i := range w.Nodes {
		id := w.Nodes[i].ID
		if seen[id] {
			issues = append(issues, Issue{
				Kind:      DuplicateNodeID,
				Message:   fmt.Sprintf("node id %q declared more than once", id),
				NodeID:    id,
				EdgeIndex: -1,
			})
		}
		seen[id] = true
	}

	// 2-4. Edge checks. incoming counts edges per (target, input) so the
	// scalar fan-in rule can be enforced; dup tracks full endpoint tuples.
	type endpoint struct{ s, so, t, ti string }
	dup := make(map[endpoint]bool, len(w.Edges))
	incoming := make(map[[2]string]int)

	for idx, e := range w.Edges {
		src := w.NodeByID(e.Source)
		dst := w.NodeByID(e.Target)

		if src == nil {
			issues = append(issues, Issue{
				Kind:      UnknownNodeReference,
				Message:   fmt.Sprintf("edge %d: source node %q does not exist", idx, e.Source),
				NodeID:    e.Source,
				EdgeIndex: idx,
			})
		}
		if dst == nil {
			issues = append(issues, Issue{
				Kind:      UnknownNodeReference,
				Message:   fmt.Sprintf("edge %d: target node %q does not exist", idx, e.Target),
				NodeID:    e.Target,
				EdgeIndex: idx,
			})
		}

		var out, in *Parameter
		if src != nil {
			out = src.Output(e.SourceOutput)
			if out == nil {
				issues = append(issues, Issue{
					Kind:      UnknownEndpoint,
					Message:   fmt.Sprintf("edge %d: node %q declares no output %q", idx, e.Source, e.SourceOutput),
					NodeID:    e.Source,
					EdgeIndex: idx,
					Param:     e.SourceOutput,
				})
			}
		}
		if dst != nil {
			in = dst.Input(e.TargetInput)
			if in == nil {
				issues = append(issues, Issue{
					Kind:      UnknownEndpoint,
					Message:   fmt.Sprintf("edge %d: node %q declares no input %q", idx, e.Target, e.TargetInput),
					NodeID:    e.Target,
					EdgeIndex: idx,
					Param:     e.TargetInput,
				})
			}
		}

		if out != nil && in != nil && !Compatible(out.Type, in.Type) {
			issues = append(issues, Issue{
				Kind: TypeMismatch,
				Message: fmt.Sprintf("edge %d: output %s.%s (%s) is not compatible with input %s.%s (%s)",
					idx, e.Source, e.SourceOutput, out.Type, e.Target, e.TargetInput, in.Type),
				NodeID:    e.Target,
				EdgeIndex: idx,
				Param:     e.TargetInput,
			})
		}

		key := endpoint{e.Source, e.SourceOutput, e.Target, e.TargetInput}
		if dup[key] {
			issues = append(issues, Issue{
				Kind: DuplicateEdge,
				Message: fmt.Sprintf("edge %d: duplicate edge %s.%s -> %s.%s",
					idx, e.Source, e.SourceOutput, e.Target, e.TargetInput),
				NodeID:    e.Target,
				EdgeIndex: idx,
			})
		}
		dup[key] = true

		incoming[[2]string{e.Target, e.TargetInput}]++
		if in != nil && !in.Repeated && incoming[[2]string{e.Target, e.TargetInput}] > 1 {
			issues = append(issues, Issue{
				Kind: MultipleEdgesToScalarInput,
				Message: fmt.Sprintf("edge %d: input %s.%s is not repeated but receives multiple edges",
					idx, e.Target, e.TargetInput),
				NodeID:    e.Target,
				EdgeIndex: idx,
				Param:     e.TargetInput,
			})
		}
	}

	// 5. Required inputs must resolve from a default or an edge.
	for i := range w.Nodes {
		n := &w.Nodes[i]
		for j := range n.Inputs {
			p := &n.Inputs[j]
			if !p.Required || p.Value != nil {
				continue
			}
			if incoming[[2]string{n.ID, p.Name}] == 0 {
				issues = append(issues, Issue{
					Kind:      MissingRequiredInput,
					Message:   fmt.Sprintf("node %q: required input %q has no default and no incoming edge", n.ID, p.Name),
					NodeID:    n.ID,
					EdgeIndex: -1,
					Param:     p.Name,
				})
			}
		}
	}

	// 6. Acyclicity via Kahn's algorithm over the node graph. Edges with
	// unknown endpoints were already reported and are ignored here.
	indegree := make(map[string]int, len(w.Nodes))
	adj := make(map[string][]string, len(w.Nodes))
	for i := range w.Nodes {
		indegree[w.Nodes[i].ID] = 0
	}
	for _, e := range w.Edges {
		if _, ok := indegree[e.Source]; !ok {
			continue
		}
		if _, ok := indegree[e.Target]; !ok {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		indegree[e.Target]++
	}
	queue := make([]string, 0, len(w.Nodes))
	for i := range w.Nodes {
		if indegree[w.Nodes[i].ID] == 0 {
			queue = append(queue, w.Nodes[i].ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited < len(indegree) {
		var stuck []string
		for id, d := range indegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		issues = append(issues, Issue{
			Kind:      CycleDetected,
			Message:   fmt.Sprintf("cycle involving %d node(s) %v", len(stuck), stuck),
			EdgeIndex: -1,
		})
	}

	return issues
}
