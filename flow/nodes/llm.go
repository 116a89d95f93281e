package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nodeflow/nodeflow/flow"
	"github.com/nodeflow/nodeflow/flow/model"
	"github.com/nodeflow/nodeflow/flow/registry"
)

// maxToolRounds bounds how many tool-call turns one llm-chat execution may
// drive. The tool runner enforces depth and cycle limits separately.
const maxToolRounds = 8

func llmChatFactory(chat model.ChatModel, gate registry.Capability) registry.Factory {
	var requires []registry.Capability
	if gate != "" {
		requires = []registry.Capability{gate}
	}

	return registry.Factory{
		Descriptor: registry.NodeType{
			ID:              "llm-chat",
			Type:            "llm-chat",
			Name:            "LLM Chat",
			Description:     "Sends a prompt to the configured chat model, optionally letting it call other nodes as tools.",
			Tags:            []string{"llm"},
			FunctionCalling: true,
			ComputeCost:     5,
			Inputs: []flow.Parameter{
				{Name: "prompt", Type: flow.TypeString, Required: true},
				{Name: "system", Type: flow.TypeString},
				{Name: "tools", Type: flow.TypeJSON},
			},
			Outputs: []flow.Parameter{
				{Name: "response", Type: flow.TypeString},
			},
		},
		Requires: requires,
		New: func(flow.Node) (registry.Executable, error) {
			return registry.ExecutableFunc(func(ctx context.Context, rc *registry.Context) flow.NodeExecution {
				prompt := rc.StringInput("prompt")
				if prompt == "" {
					return registry.Errorf("prompt is required")
				}

				var messages []model.Message
				if system := rc.StringInput("system"); system != "" {
					messages = append(messages, model.Message{Role: model.RoleSystem, Content: system})
				}
				messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})

				refs, err := toolReferences(rc.Input("tools"))
				if err != nil {
					return registry.Errorf("tools: %v", err)
				}
				specs := toolSpecs(refs)

				var usage float64
				for round := 0; round < maxToolRounds; round++ {
					out, err := chat.Chat(ctx, messages, specs)
					if err != nil {
						return registry.Errorf("chat model: %v", err)
					}
					usage += float64(out.TokensUsed) / 1000

					if len(out.ToolCalls) == 0 {
						return registry.Success(map[string]any{"response": out.Text}, usage)
					}
					if rc.Tools == nil {
						return registry.Errorf("model requested tool %q but tool calls are not available here", out.ToolCalls[0].Name)
					}

					if out.Text != "" {
						messages = append(messages, model.Message{Role: model.RoleAssistant, Content: out.Text})
					}
					for _, call := range out.ToolCalls {
						ref, ok := refByName(refs, call.Name)
						if !ok {
							return registry.Errorf("model requested unknown tool %q", call.Name)
						}
						result := rc.Tools.ExecuteTool(ctx, ref, call.Input)
						messages = append(messages, model.Message{
							Role:    model.RoleUser,
							Content: formatToolResult(call.Name, result),
						})
					}
				}
				return registry.Errorf("tool call rounds exceeded %d", maxToolRounds)
			}), nil
		},
	}
}

// toolReferences decodes the tools input, which arrives as a JSON array of
// tool references, through a JSON round trip.
func toolReferences(v any) ([]registry.ToolReference, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var refs []registry.ToolReference
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, fmt.Errorf("expected an array of tool references: %w", err)
	}
	for i := range refs {
		if refs[i].Name == "" {
			refs[i].Name = refs[i].NodeID
		}
	}
	return refs, nil
}

func toolSpecs(refs []registry.ToolReference) []model.ToolSpec {
	if len(refs) == 0 {
		return nil
	}
	specs := make([]model.ToolSpec, 0, len(refs))
	for _, ref := range refs {
		specs = append(specs, model.ToolSpec{
			Name:        ref.Name,
			Description: fmt.Sprintf("Runs node %s of workflow %s.", ref.NodeID, ref.WorkflowID),
		})
	}
	return specs
}

func refByName(refs []registry.ToolReference, name string) (registry.ToolReference, bool) {
	for _, ref := range refs {
		if ref.Name == name {
			return ref, true
		}
	}
	return registry.ToolReference{}, false
}

func formatToolResult(name string, result registry.ToolResult) string {
	if !result.Success {
		return fmt.Sprintf("Tool %s failed: %s", name, result.Error)
	}
	raw, err := json.Marshal(result.Result)
	if err != nil {
		return fmt.Sprintf("Tool %s returned an unserializable result.", name)
	}
	return fmt.Sprintf("Tool %s result: %s", name, raw)
}
