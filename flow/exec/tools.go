package exec

import (
	"context"
	"fmt"

	"github.com/nodeflow/nodeflow/flow"
	"github.com/nodeflow/nodeflow/flow/emit"
	"github.com/nodeflow/nodeflow/flow/registry"
)

// toolRunner executes tool calls on behalf of a function-calling node. Each
// call runs the referenced node synchronously with a fresh sub-context;
// usage accrues to the parent run's ledger. Recursion is bounded by depth
// and a visited-node chain that rejects cycles.
type toolRunner struct {
	x     *Executor
	r     *run
	depth int
	chain map[string]bool
}

func toolKey(workflowID, nodeID string) string {
	return workflowID + "/" + nodeID
}

func (t *toolRunner) ExecuteTool(ctx context.Context, ref registry.ToolReference, args map[string]any) registry.ToolResult {
	t.x.metrics.toolCall()

	if t.depth >= t.x.toolDepth {
		return toolFailure("tool recursion depth %d exceeded", t.x.toolDepth)
	}

	workflowID := ref.WorkflowID
	if workflowID == "" {
		workflowID = t.r.w.ID
	}
	key := toolKey(workflowID, ref.NodeID)
	if t.chain[key] {
		return toolFailure("tool call cycle: %s already on the call chain", key)
	}

	w := &t.r.w
	if workflowID != t.r.w.ID {
		loaded, err := t.x.store.GetWorkflow(ctx, workflowID, t.r.req.OrganizationID)
		if err != nil {
			return toolFailure("load workflow %s: %v", workflowID, err)
		}
		w = loaded
	}
	node := w.NodeByID(ref.NodeID)
	if node == nil {
		return toolFailure("workflow %s has no node %s", workflowID, ref.NodeID)
	}

	desc, err := t.x.reg.GetNodeType(node.Type)
	if err != nil {
		return toolFailure("node %s: %v", ref.NodeID, err)
	}
	if !desc.AsTool {
		return toolFailure("node type %q is not callable as a tool", node.Type)
	}

	// Tool arguments override the node's declared defaults.
	wire := make(map[string]any, len(node.Inputs)+len(args))
	for i := range node.Inputs {
		if node.Inputs[i].Value != nil {
			wire[node.Inputs[i].Name] = node.Inputs[i].Value
		}
	}
	for name, v := range args {
		wire[name] = v
	}

	inputs, err := t.x.decodeInputs(ctx, node, wire)
	if err != nil {
		return toolFailure("%v", err)
	}

	executable, err := t.x.reg.Create(*node)
	if err != nil {
		return toolFailure("%v", err)
	}

	rc := &registry.Context{
		NodeID:         node.ID,
		WorkflowID:     w.ID,
		OrganizationID: t.r.req.OrganizationID,
		Mode:           t.r.req.Mode,
		Inputs:         inputs,
		Env:            t.r.req.Env,
		GetIntegration: t.r.integrations,
	}
	if desc.FunctionCalling {
		child := make(map[string]bool, len(t.chain)+1)
		for k := range t.chain {
			child[k] = true
		}
		child[key] = true
		rc.Tools = &toolRunner{x: t.x, r: t.r, depth: t.depth + 1, chain: child}
	}

	ne := executable.Execute(ctx, rc)

	charge := ne.Usage
	if charge == 0 && ne.Status == flow.NodeCompleted {
		charge = desc.ComputeCost
	}
	t.r.led.Spend(charge)
	t.x.metrics.spend(charge)

	t.x.emit(emit.Event{
		ExecutionID: t.r.ex.ID,
		NodeID:      ref.NodeID,
		Msg:         emit.MsgToolCall,
		Meta: map[string]any{
			"tool_ref": key,
			"status":   string(ne.Status),
			"usage":    charge,
		},
	})

	if ne.Status != flow.NodeCompleted {
		return registry.ToolResult{Success: false, Error: ne.Error}
	}
	return registry.ToolResult{Success: true, Result: ne.Outputs}
}

func toolFailure(format string, args ...any) registry.ToolResult {
	return registry.ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}
