package flow

import "time"

// ExecutionStatus is the lifecycle state of a whole execution.
type ExecutionStatus string

const (
	StatusSubmitted ExecutionStatus = "submitted"
	StatusExecuting ExecutionStatus = "executing"
	StatusCompleted ExecutionStatus = "completed"
	StatusError     ExecutionStatus = "error"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of a single node within an execution.
type NodeStatus string

const (
	NodeIdle      NodeStatus = "idle"
	NodeExecuting NodeStatus = "executing"
	NodeCompleted NodeStatus = "completed"
	NodeError     NodeStatus = "error"
	NodeSkipped   NodeStatus = "skipped"
)

// MCPAgentUserID is the sentinel user id recorded for executions submitted
// by an agent surface rather than an interactive user.
const MCPAgentUserID = "mcp-agent"

// NodeExecution is the journal entry for one node. Entries are appended in
// topological order; a completed entry is immutable.
type NodeExecution struct {
	NodeID string     `json:"nodeId"`
	Status NodeStatus `json:"status"`

	// Inputs holds the resolved wire-form inputs the node observed.
	// Nil for skipped nodes.
	Inputs map[string]any `json:"inputs,omitempty"`

	// Outputs holds the emitted wire-form outputs. Nil unless completed.
	// A node that errored contributes no outputs.
	Outputs map[string]any `json:"outputs,omitempty"`

	// Error carries the node failure or skip reason.
	Error string `json:"error,omitempty"`

	// Usage is the compute credits this node consumed.
	Usage float64 `json:"usage,omitempty"`
}

// ExecutionData is the JSON data blob persisted alongside the execution
// metadata row.
type ExecutionData struct {
	NodeExecutions []NodeExecution `json:"nodeExecutions"`
}

// Execution records one attempt to run a workflow. It is created before the
// first step runs and updated monotonically through a terminal status.
type Execution struct {
	ID             string `json:"id"`
	WorkflowID     string `json:"workflowId"`
	DeploymentID   string `json:"deploymentId,omitempty"`
	OrganizationID string `json:"organizationId"`
	UserID         string `json:"userId"`

	Status ExecutionStatus `json:"status"`

	// Error is the first fatal error, verbatim. Per-node errors live on
	// the NodeExecution entries.
	Error string `json:"error,omitempty"`

	// Partial marks a run that completed with remaining nodes skipped
	// because the credit budget ran out mid-run.
	Partial bool `json:"partial,omitempty"`

	// CancelRequested is set by the trigger layer to stop a running
	// execution. The Executor observes it between steps and finalizes the
	// run as cancelled.
	CancelRequested bool `json:"cancelRequested,omitempty"`

	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	// Usage is the accumulated compute credits for the run, tool calls
	// included.
	Usage float64 `json:"usage"`

	Data ExecutionData `json:"data"`
}

// NodeExecutionFor returns the journal entry for the given node, or nil.
func (e *Execution) NodeExecutionFor(nodeID string) *NodeExecution {
	for i := range e.Data.NodeExecutions {
		if e.Data.NodeExecutions[i].NodeID == nodeID {
			return &e.Data.NodeExecutions[i]
		}
	}
	return nil
}
