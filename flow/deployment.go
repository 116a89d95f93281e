package flow

import "time"

// Deployment is a frozen snapshot of a workflow taken when it is published.
// Production runs read the snapshot, never the live definition, so edits to
// a workflow cannot change an execution already in flight.
type Deployment struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflowId"`
	Version    int    `json:"version"`

	// Snapshot is the workflow exactly as deployed.
	Snapshot Workflow `json:"snapshot"`

	CreatedAt time.Time `json:"createdAt"`
}
