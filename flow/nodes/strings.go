package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/nodeflow/nodeflow/flow"
	"github.com/nodeflow/nodeflow/flow/registry"
)

// stringValues flattens a scalar or fan-in input into its string parts,
// preserving order.
func stringValues(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{val}, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string, got %T", v)
	}
}

func stringConcatFactory() registry.Factory {
	return registry.Factory{
		Descriptor: registry.NodeType{
			ID:          "string-concat",
			Type:        "string-concat",
			Name:        "Concatenate",
			Description: "Joins incoming strings in fan-in order with an optional separator.",
			Tags:        []string{"string"},
			Inlinable:   true,
			AsTool:      true,
			Inputs: []flow.Parameter{
				{Name: "values", Type: flow.TypeString, Required: true, Repeated: true},
				{Name: "separator", Type: flow.TypeString, Value: ""},
			},
			Outputs: []flow.Parameter{{Name: "result", Type: flow.TypeString}},
		},
		New: func(flow.Node) (registry.Executable, error) {
			return registry.ExecutableFunc(func(_ context.Context, rc *registry.Context) flow.NodeExecution {
				parts, err := stringValues(rc.Input("values"))
				if err != nil {
					return registry.Errorf("values: %v", err)
				}
				sep := rc.StringInput("separator")
				return registry.Success(map[string]any{"result": strings.Join(parts, sep)}, 0)
			}), nil
		},
	}
}

func stringUpperFactory() registry.Factory {
	return registry.Factory{
		Descriptor: registry.NodeType{
			ID:          "string-upper",
			Type:        "string-upper",
			Name:        "Uppercase",
			Description: "Uppercases the input string.",
			Tags:        []string{"string"},
			Inlinable:   true,
			AsTool:      true,
			Inputs: []flow.Parameter{
				{Name: "input", Type: flow.TypeString, Required: true},
			},
			Outputs: []flow.Parameter{{Name: "output", Type: flow.TypeString}},
		},
		New: func(flow.Node) (registry.Executable, error) {
			return registry.ExecutableFunc(func(_ context.Context, rc *registry.Context) flow.NodeExecution {
				in, ok := rc.Input("input").(string)
				if !ok {
					return registry.Errorf("input: expected string, got %T", rc.Input("input"))
				}
				return registry.Success(map[string]any{"output": strings.ToUpper(in)}, 0)
			}), nil
		},
	}
}

func stringTemplateFactory() registry.Factory {
	return registry.Factory{
		Descriptor: registry.NodeType{
			ID:          "string-template",
			Type:        "string-template",
			Name:        "Template",
			Description: "Substitutes {{name}} placeholders with values from a JSON object.",
			Tags:        []string{"string"},
			Inlinable:   true,
			Inputs: []flow.Parameter{
				{Name: "template", Type: flow.TypeString, Required: true},
				{Name: "variables", Type: flow.TypeJSON},
			},
			Outputs: []flow.Parameter{{Name: "output", Type: flow.TypeString}},
		},
		New: func(flow.Node) (registry.Executable, error) {
			return registry.ExecutableFunc(func(_ context.Context, rc *registry.Context) flow.NodeExecution {
				tmpl, ok := rc.Input("template").(string)
				if !ok {
					return registry.Errorf("template: expected string, got %T", rc.Input("template"))
				}

				out := tmpl
				if vars, ok := rc.Input("variables").(map[string]any); ok {
					pairs := make([]string, 0, len(vars)*2)
					for name, value := range vars {
						pairs = append(pairs, "{{"+name+"}}", fmt.Sprintf("%v", value))
					}
					out = strings.NewReplacer(pairs...).Replace(out)
				}
				return registry.Success(map[string]any{"output": out}, 0)
			}), nil
		},
	}
}
