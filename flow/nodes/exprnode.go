package nodes

import (
	"context"

	"github.com/expr-lang/expr"

	"github.com/nodeflow/nodeflow/flow"
	"github.com/nodeflow/nodeflow/flow/registry"
)

func exprFactory() registry.Factory {
	return registry.Factory{
		Descriptor: registry.NodeType{
			ID:          "expr",
			Type:        "expr",
			Name:        "Expression",
			Description: "Evaluates an expr-lang expression over the node input.",
			Tags:        []string{"transform"},
			Inlinable:   true,
			AsTool:      true,
			Inputs: []flow.Parameter{
				{Name: "expression", Type: flow.TypeString, Required: true},
				{Name: "input", Type: flow.TypeAny},
			},
			Outputs: []flow.Parameter{{Name: "output", Type: flow.TypeAny}},
		},
		New: func(node flow.Node) (registry.Executable, error) {
			return registry.ExecutableFunc(func(_ context.Context, rc *registry.Context) flow.NodeExecution {
				src, ok := rc.Input("expression").(string)
				if !ok || src == "" {
					return registry.Errorf("expression is required")
				}

				env := map[string]any{"input": rc.Input("input")}
				program, err := expr.Compile(src, expr.Env(env))
				if err != nil {
					return registry.Errorf("compile expression: %v", err)
				}
				out, err := expr.Run(program, env)
				if err != nil {
					return registry.Errorf("evaluate expression: %v", err)
				}
				return registry.Success(map[string]any{"output": out}, 0)
			}), nil
		},
	}
}
