// Package emit carries observability events out of the executor.
//
// The executor emits one event per lifecycle transition; an Emitter decides
// what to do with it. Backends range from plain text logs to OpenTelemetry
// spans, and the BufferedEmitter keeps a queryable in-memory history for
// tests and dashboards.
package emit

// Standard event messages produced by the executor.
const (
	MsgExecutionStarted  = "execution_started"
	MsgExecutionFinished = "execution_finished"
	MsgNodeStarted       = "node_started"
	MsgNodeCompleted     = "node_completed"
	MsgNodeError         = "node_error"
	MsgNodeSkipped       = "node_skipped"
	MsgStepJournaled     = "step_journaled"
	MsgToolCall          = "tool_call"
)

// Event is one observability record from a workflow execution.
type Event struct {
	// ExecutionID identifies the execution that emitted the event.
	ExecutionID string

	// Step is the 1-based journal sequence number, zero for
	// execution-level events emitted outside any step.
	Step int

	// NodeID is set for node-level events, empty otherwise.
	NodeID string

	// Msg names the event, usually one of the Msg constants.
	Msg string

	// Meta holds event-specific structured data. Common keys:
	// "duration_ms", "error", "usage", "status", "tool_ref".
	Meta map[string]any
}

// Emitter receives events from workflow execution.
//
// Implementations must be safe for concurrent use, must not block the
// executor and must not panic; backend failures are swallowed or logged
// internally.
type Emitter interface {
	Emit(event Event)
}
