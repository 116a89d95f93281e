// Package store provides persistence for workflows, executions and
// deployments.
//
// Three backends ship with the engine:
//   - MemStore for tests and single-process development
//   - SQLiteStore for zero-setup durable local runs
//   - MySQLStore for shared production deployments
//
// All backends use the same layout: a few indexed metadata columns per
// entity plus the full entity as a JSON blob, so schema migrations are rare
// and reads rehydrate the exact value that was written.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nodeflow/nodeflow/flow"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateStep is returned when a journal step with the same
// idempotency key has already been recorded. Callers treat it as "already
// done" and skip the step.
var ErrDuplicateStep = errors.New("step already journaled")

// Step is one journaled unit of executor work. Steps are appended in
// sequence order and replayed verbatim on resume.
type Step struct {
	// Seq is the 1-based position of the step within its execution.
	Seq int `json:"seq"`

	// Name identifies the step: "validate", "plan", "node:<id>" or
	// "finalize".
	Name string `json:"name"`

	// Key is the sha256 idempotency key guarding against duplicate
	// commits of the same step.
	Key string `json:"key"`

	// Result is the step's outcome payload. For node steps this is the
	// NodeExecution; for plan it is the node order.
	Result []byte `json:"result,omitempty"`

	RecordedAt time.Time `json:"recordedAt"`
}

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	// SaveWorkflow inserts or replaces a workflow by id.
	SaveWorkflow(ctx context.Context, w *flow.Workflow) error

	// GetWorkflow returns a workflow by id within an organization, or
	// ErrNotFound. A workflow belonging to another organization reads as
	// absent.
	GetWorkflow(ctx context.Context, id, organizationID string) (*flow.Workflow, error)

	// ListWorkflows returns all workflows of an organization, ordered by
	// creation time then id.
	ListWorkflows(ctx context.Context, organizationID string) ([]*flow.Workflow, error)

	// DeleteWorkflow removes a workflow within an organization. Deleting
	// an unknown id, or one owned elsewhere, is ErrNotFound.
	DeleteWorkflow(ctx context.Context, id, organizationID string) error
}

// ExecutionQuery filters ListExecutions.
type ExecutionQuery struct {
	// WorkflowID restricts results to one workflow when non-empty.
	WorkflowID string

	// Limit caps the result count. Non-positive means no limit.
	Limit int
}

// ExecutionStore persists execution records and their step journals.
type ExecutionStore interface {
	// CreateExecution inserts a new execution record.
	CreateExecution(ctx context.Context, e *flow.Execution) error

	// UpdateExecution replaces an existing execution record.
	UpdateExecution(ctx context.Context, e *flow.Execution) error

	// GetExecution returns an execution by id, or ErrNotFound.
	GetExecution(ctx context.Context, id string) (*flow.Execution, error)

	// ListExecutions returns an organization's executions, most recent
	// first, optionally filtered by workflow.
	ListExecutions(ctx context.Context, organizationID string, q ExecutionQuery) ([]*flow.Execution, error)

	// AppendStep journals a step. A step whose idempotency key was
	// already recorded fails with ErrDuplicateStep and leaves the
	// journal unchanged.
	AppendStep(ctx context.Context, executionID string, s Step) error

	// Steps returns the journal of an execution in sequence order.
	Steps(ctx context.Context, executionID string) ([]Step, error)
}

// DeploymentStore persists frozen workflow snapshots.
type DeploymentStore interface {
	// SaveDeployment inserts a deployment. Deployments are immutable;
	// saving an existing id is an error.
	SaveDeployment(ctx context.Context, d *flow.Deployment) error

	// GetDeployment returns a deployment by id, or ErrNotFound.
	GetDeployment(ctx context.Context, id string) (*flow.Deployment, error)

	// ReadWorkflowSnapshot returns the frozen workflow of a deployment,
	// or ErrNotFound.
	ReadWorkflowSnapshot(ctx context.Context, deploymentID string) (*flow.Workflow, error)
}

// Store is the full persistence surface the engine needs from one backend.
type Store interface {
	WorkflowStore
	ExecutionStore
	DeploymentStore

	// Close releases the backend's resources. Operations after Close
	// fail.
	Close() error
}
