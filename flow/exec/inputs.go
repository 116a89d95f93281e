package exec

import (
	"context"
	"fmt"

	"github.com/nodeflow/nodeflow/flow"
)

// applyParameters promotes trigger-supplied values into input defaults on
// the run's workflow copy before validation. A "<nodeId>.<input>" key
// targets that exact input; a bare key applies to inputs of that name on
// entry nodes (nodes with no incoming edges) that have no default yet.
func applyParameters(w *flow.Workflow, params map[string]any) {
	if len(params) == 0 {
		return
	}
	hasIncoming := make(map[string]bool, len(w.Nodes))
	for _, e := range w.Edges {
		hasIncoming[e.Target] = true
	}
	for i := range w.Nodes {
		n := &w.Nodes[i]
		for j := range n.Inputs {
			p := &n.Inputs[j]
			if v, ok := params[n.ID+"."+p.Name]; ok {
				p.Value = v
				continue
			}
			if v, ok := params[p.Name]; ok && !hasIncoming[n.ID] && p.Value == nil {
				p.Value = v
			}
		}
	}
}

// resolveInputs computes the wire-form input map for one node: defaults
// first, then edge values. Edges into a repeated input append in
// edge-declaration order; edges into a scalar input overwrite the default.
// A required input left unresolved is an error.
func resolveInputs(w *flow.Workflow, node *flow.Node, outputs map[string]map[string]any) (map[string]any, error) {
	inputs := make(map[string]any, len(node.Inputs))
	for i := range node.Inputs {
		p := &node.Inputs[i]
		if p.Value != nil {
			inputs[p.Name] = p.Value
		}
	}

	for _, e := range w.EdgesInto(node.ID) {
		upstream, ok := outputs[e.Source]
		if !ok {
			continue
		}
		v, ok := upstream[e.SourceOutput]
		if !ok {
			continue
		}
		p := node.Input(e.TargetInput)
		if p != nil && p.Repeated {
			list, _ := inputs[p.Name].([]any)
			inputs[p.Name] = append(list, v)
		} else {
			inputs[e.TargetInput] = v
		}
	}

	for i := range node.Inputs {
		p := &node.Inputs[i]
		if p.Required && inputs[p.Name] == nil {
			return nil, fmt.Errorf("required input %q unresolved", p.Name)
		}
	}
	return inputs, nil
}

// decodeInputs converts resolved wire-form inputs to node form using the
// declared parameter types. Undeclared inputs convert as any. Elements of a
// repeated input convert individually at the declared element type.
func (x *Executor) decodeInputs(ctx context.Context, node *flow.Node, wire map[string]any) (map[string]any, error) {
	inputs := make(map[string]any, len(wire))
	for name, v := range wire {
		p := node.Input(name)
		t := flow.TypeAny
		if p != nil {
			t = p.Type
		}

		if p != nil && p.Repeated {
			if list, ok := v.([]any); ok {
				decoded := make([]any, len(list))
				for i, item := range list {
					nv, err := x.codec.WireToNode(ctx, t, item)
					if err != nil {
						return nil, fmt.Errorf("input conversion failed for %q[%d]: %w", name, i, err)
					}
					decoded[i] = nv
				}
				inputs[name] = decoded
				continue
			}
		}

		nv, err := x.codec.WireToNode(ctx, t, v)
		if err != nil {
			return nil, fmt.Errorf("input conversion failed for %q: %w", name, err)
		}
		inputs[name] = nv
	}
	return inputs, nil
}

// encodeOutputs converts a node's outputs back to wire form using the
// declared output types. Binary values above the inline threshold move to
// the object store here.
func (x *Executor) encodeOutputs(ctx context.Context, node *flow.Node, outputs map[string]any) (map[string]any, error) {
	if len(outputs) == 0 {
		return outputs, nil
	}
	wire := make(map[string]any, len(outputs))
	for name, v := range outputs {
		p := node.Output(name)
		t := flow.TypeAny
		if p != nil {
			t = p.Type
		}
		wv, err := x.codec.NodeToWire(ctx, t, v)
		if err != nil {
			return nil, fmt.Errorf("output conversion failed for %q: %w", name, err)
		}
		wire[name] = wv
	}
	return wire, nil
}
