package registry

import (
	"context"
	"fmt"

	"github.com/nodeflow/nodeflow/flow"
)

// Mode distinguishes development runs from production runs. Nodes may relax
// side effects in dev mode.
type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// Integration is a resolved credential bundle for an external service.
// Values come from the credential isolator, never from the registry.
type Integration struct {
	ID       string
	Provider string
	Secrets  map[string]string
}

// HTTPRequest carries the inbound request for HTTP-triggered workflows. It
// is nil for every other trigger flavor.
type HTTPRequest struct {
	Method   string
	Headers  map[string]string
	Query    map[string]string
	Body     []byte
	FormData map[string]string
}

// ToolReference names a node in some workflow that an LLM node may invoke
// as a tool.
type ToolReference struct {
	WorkflowID string `json:"workflowId"`
	NodeID     string `json:"nodeId"`
	Name       string `json:"name,omitempty"`
}

// ToolResult is the synchronous outcome of a tool invocation.
type ToolResult struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ToolRunner lets a node invoke other nodes as tools. The runner enforces
// recursion depth and cycle limits; nodes just call it.
type ToolRunner interface {
	ExecuteTool(ctx context.Context, ref ToolReference, args map[string]any) ToolResult
}

// IntegrationLookup resolves a credential bundle by id.
type IntegrationLookup func(ctx context.Context, id string) (Integration, error)

// Context is everything a node implementation may see during Execute.
// Inputs hold node-form values keyed by input parameter name; repeated
// inputs arrive as []any in fan-in edge order.
type Context struct {
	NodeID         string
	WorkflowID     string
	OrganizationID string
	Mode           Mode
	Inputs         map[string]any

	// Env is an opaque service handle owned by the host process.
	Env any

	// GetIntegration is nil when the host provides no credential isolator.
	GetIntegration IntegrationLookup

	// Tools is non-nil only for nodes whose type declares tool calling.
	Tools ToolRunner

	// HTTPRequest is populated only for http_webhook and http_request
	// triggered workflows.
	HTTPRequest *HTTPRequest
}

// Input returns the node-form value for a named input, or nil.
func (c *Context) Input(name string) any {
	return c.Inputs[name]
}

// StringInput returns a string input value, or "" when absent or not a
// string.
func (c *Context) StringInput(name string) string {
	s, _ := c.Inputs[name].(string)
	return s
}

// Executable is a constructed node instance bound to its workflow Node
// snapshot, ready to run exactly once.
type Executable interface {
	Execute(ctx context.Context, rc *Context) flow.NodeExecution
}

// ExecutableFunc adapts a function to the Executable interface.
type ExecutableFunc func(ctx context.Context, rc *Context) flow.NodeExecution

func (f ExecutableFunc) Execute(ctx context.Context, rc *Context) flow.NodeExecution {
	return f(ctx, rc)
}

// Success builds a completed NodeExecution with the given wire outputs.
func Success(outputs map[string]any, usage float64) flow.NodeExecution {
	return flow.NodeExecution{
		Status:  flow.NodeCompleted,
		Outputs: outputs,
		Usage:   usage,
	}
}

// Errorf builds a failed NodeExecution with a formatted message.
func Errorf(format string, args ...any) flow.NodeExecution {
	return flow.NodeExecution{
		Status: flow.NodeError,
		Error:  fmt.Sprintf(format, args...),
	}
}
