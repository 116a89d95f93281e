package exec

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nodeflow/nodeflow/flow"
	"github.com/nodeflow/nodeflow/flow/registry"
)

// callerFactory registers a function-calling type that invokes one tool and
// returns its result verbatim.
func callerFactory(typ string, ref registry.ToolReference, args map[string]any) registry.Factory {
	return registry.Factory{
		Descriptor: registry.NodeType{
			ID: typ, Type: typ, Name: "Caller",
			FunctionCalling: true,
			AsTool:          true,
			Inputs:          []flow.Parameter{{Name: "input", Type: flow.TypeString}},
			Outputs:         []flow.Parameter{{Name: "output", Type: flow.TypeJSON}},
		},
		New: func(flow.Node) (registry.Executable, error) {
			return registry.ExecutableFunc(func(ctx context.Context, rc *registry.Context) flow.NodeExecution {
				if rc.Tools == nil {
					return registry.Errorf("no tool runner")
				}
				result := rc.Tools.ExecuteTool(ctx, ref, args)
				if !result.Success {
					return registry.Errorf("tool: %s", result.Error)
				}
				return registry.Success(map[string]any{"output": result.Result}, 0)
			}), nil
		},
	}
}

func callerWorkflow(callerType string) flow.Workflow {
	return flow.Workflow{
		ID: "wf-tools", OrganizationID: "org",
		Nodes: []flow.Node{
			{
				ID: "caller", Type: callerType,
				Inputs:  []flow.Parameter{{Name: "input", Type: flow.TypeString}},
				Outputs: []flow.Parameter{{Name: "output", Type: flow.TypeJSON}},
			},
			{
				ID: "target", Type: "string-upper", Position: flow.Position{Y: -1},
				Inputs:  []flow.Parameter{{Name: "input", Type: flow.TypeString, Value: "unused"}},
				Outputs: []flow.Parameter{{Name: "output", Type: flow.TypeString}},
			},
		},
	}
}

func TestToolCallRunsReferencedNode(t *testing.T) {
	f := newFixture(t)
	f.reg.MustRegister(callerFactory("caller-1",
		registry.ToolReference{NodeID: "target"},
		map[string]any{"input": "loud"}))

	ex := executeWF(t, f, callerWorkflow("caller-1"))

	if ex.Status != flow.StatusCompleted {
		t.Fatalf("status = %s (%s)", ex.Status, ex.Error)
	}
	caller := ex.NodeExecutionFor("caller")
	result, ok := caller.Outputs["output"].(map[string]any)
	if !ok {
		t.Fatalf("caller output = %T", caller.Outputs["output"])
	}
	if result["output"] != "LOUD" {
		t.Errorf("tool result = %+v", result)
	}
}

func TestToolCallRejectsCycle(t *testing.T) {
	f := newFixture(t)
	// caller invokes itself as a tool: the call chain already holds it.
	f.reg.MustRegister(callerFactory("caller-cyc",
		registry.ToolReference{NodeID: "caller"},
		map[string]any{"input": "x"}))

	ex, err := f.exec.Execute(context.Background(), Request{
		Workflow: callerWorkflow("caller-cyc"), OrganizationID: "org", ComputeCredits: 100,
	})
	if !errors.Is(err, ErrNodeExecution) {
		t.Fatalf("err = %v, want ErrNodeExecution", err)
	}
	caller := ex.NodeExecutionFor("caller")
	if caller == nil || caller.Status != flow.NodeError {
		t.Fatalf("caller = %+v", caller)
	}
	if !strings.Contains(caller.Error, "cycle") {
		t.Errorf("error = %q, want cycle rejection", caller.Error)
	}
}

func TestToolCallDepthBounded(t *testing.T) {
	f := newFixture(t, WithToolDepth(1))
	// caller-a invokes hop, hop invokes target; depth 1 stops at hop's
	// own call.
	f.reg.MustRegister(callerFactory("hop-type",
		registry.ToolReference{NodeID: "target"},
		map[string]any{"input": "deep"}))
	f.reg.MustRegister(callerFactory("caller-a",
		registry.ToolReference{NodeID: "hop"},
		map[string]any{"input": "x"}))

	w := callerWorkflow("caller-a")
	w.Nodes = append(w.Nodes, flow.Node{
		ID: "hop", Type: "hop-type", Position: flow.Position{Y: -2},
		Inputs:  []flow.Parameter{{Name: "input", Type: flow.TypeString}},
		Outputs: []flow.Parameter{{Name: "output", Type: flow.TypeJSON}},
	})

	ex, err := f.exec.Execute(context.Background(), Request{
		Workflow: w, OrganizationID: "org", ComputeCredits: 100,
	})
	if !errors.Is(err, ErrNodeExecution) {
		t.Fatalf("err = %v, want ErrNodeExecution", err)
	}
	caller := ex.NodeExecutionFor("caller")
	if caller == nil || !strings.Contains(caller.Error, "depth") {
		t.Errorf("caller = %+v, want depth error", caller)
	}
}

func TestToolCallRequiresAsTool(t *testing.T) {
	f := newFixture(t)
	// image-gen does not declare itself callable as a tool.
	f.reg.MustRegister(callerFactory("caller-b",
		registry.ToolReference{NodeID: "gen"},
		map[string]any{"sizeKB": float64(1)}))

	w := callerWorkflow("caller-b")
	w.Nodes = append(w.Nodes, flow.Node{
		ID: "gen", Type: "image-gen", Position: flow.Position{Y: -2},
		Inputs:  []flow.Parameter{{Name: "sizeKB", Type: flow.TypeNumber, Value: float64(1)}},
		Outputs: []flow.Parameter{{Name: "image", Type: flow.TypeImage}},
	})

	ex, err := f.exec.Execute(context.Background(), Request{
		Workflow: w, OrganizationID: "org", ComputeCredits: 100,
	})
	if !errors.Is(err, ErrNodeExecution) {
		t.Fatalf("err = %v, want ErrNodeExecution", err)
	}
	caller := ex.NodeExecutionFor("caller")
	if caller == nil || !strings.Contains(caller.Error, "not callable") {
		t.Errorf("caller = %+v", caller)
	}
}

func TestToolUsageAccruesToParent(t *testing.T) {
	f := newFixture(t)
	f.reg.MustRegister(registry.Factory{
		Descriptor: registry.NodeType{
			ID: "paid-tool", Type: "paid-tool", Name: "Paid Tool",
			AsTool:      true,
			ComputeCost: 7,
			Inputs:      []flow.Parameter{{Name: "input", Type: flow.TypeString}},
			Outputs:     []flow.Parameter{{Name: "output", Type: flow.TypeString}},
		},
		New: func(flow.Node) (registry.Executable, error) {
			return registry.ExecutableFunc(func(_ context.Context, rc *registry.Context) flow.NodeExecution {
				return registry.Success(map[string]any{"output": "paid"}, 7)
			}), nil
		},
	})

	// The paid node lives in its own workflow, so it only ever runs as a
	// tool and the single charge of 7 lands on the parent run's ledger.
	paid := flow.Workflow{
		ID: "wf-paid", OrganizationID: "org",
		Nodes: []flow.Node{{
			ID: "paid", Type: "paid-tool",
			Inputs:  []flow.Parameter{{Name: "input", Type: flow.TypeString}},
			Outputs: []flow.Parameter{{Name: "output", Type: flow.TypeString}},
		}},
	}
	if err := f.store.SaveWorkflow(context.Background(), &paid); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}

	f.reg.MustRegister(callerFactory("caller-c",
		registry.ToolReference{WorkflowID: "wf-paid", NodeID: "paid"},
		map[string]any{"input": "x"}))

	ex := executeWF(t, f, callerWorkflow("caller-c"))
	if ex.Usage != 7 {
		t.Errorf("usage = %v, want 7 accrued from the tool call", ex.Usage)
	}
}

func executeWF(t *testing.T, f *fixture, w flow.Workflow) *flow.Execution {
	t.Helper()
	ex, err := f.exec.Execute(context.Background(), Request{Workflow: w, OrganizationID: "org", ComputeCredits: 100})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return ex
}
