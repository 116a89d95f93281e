package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nodeflow/nodeflow/flow"
)

// MemStore is an in-memory Store implementation for tests and development.
// Entities are deep-copied through JSON on write and read, so callers can
// never alias stored state.
type MemStore struct {
	mu          sync.RWMutex
	closed      bool
	workflows   map[string][]byte
	executions  map[string][]byte
	deployments map[string][]byte
	journals    map[string][]Step
	stepKeys    map[string]bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		workflows:   make(map[string][]byte),
		executions:  make(map[string][]byte),
		deployments: make(map[string][]byte),
		journals:    make(map[string][]Step),
		stepKeys:    make(map[string]bool),
	}
}

func (m *MemStore) checkOpen() error {
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// SaveWorkflow inserts or replaces a workflow by id.
func (m *MemStore) SaveWorkflow(_ context.Context, w *flow.Workflow) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.workflows[w.ID] = data
	return nil
}

// GetWorkflow returns a workflow by id within an organization.
func (m *MemStore) GetWorkflow(_ context.Context, id, organizationID string) (*flow.Workflow, error) {
	m.mu.RLock()
	data, ok := m.workflows[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	var w flow.Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	if w.OrganizationID != organizationID {
		return nil, fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	return &w, nil
}

// ListWorkflows returns an organization's workflows ordered by creation
// time then id.
func (m *MemStore) ListWorkflows(_ context.Context, organizationID string) ([]*flow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*flow.Workflow
	for _, data := range m.workflows {
		var w flow.Workflow
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		if w.OrganizationID == organizationID {
			out = append(out, &w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteWorkflow removes a workflow by id within an organization.
func (m *MemStore) DeleteWorkflow(_ context.Context, id, organizationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.workflows[id]
	if !ok {
		return fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	var w flow.Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal workflow: %w", err)
	}
	if w.OrganizationID != organizationID {
		return fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	delete(m.workflows, id)
	return nil
}

// CreateExecution inserts a new execution record.
func (m *MemStore) CreateExecution(_ context.Context, e *flow.Execution) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, exists := m.executions[e.ID]; exists {
		return fmt.Errorf("execution %q already exists", e.ID)
	}
	m.executions[e.ID] = data
	return nil
}

// UpdateExecution replaces an existing execution record.
func (m *MemStore) UpdateExecution(_ context.Context, e *flow.Execution) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[e.ID]; !exists {
		return fmt.Errorf("execution %q: %w", e.ID, ErrNotFound)
	}
	m.executions[e.ID] = data
	return nil
}

// GetExecution returns an execution by id.
func (m *MemStore) GetExecution(_ context.Context, id string) (*flow.Execution, error) {
	m.mu.RLock()
	data, ok := m.executions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	var e flow.Execution
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &e, nil
}

// ListExecutions returns an organization's executions, most recent first.
func (m *MemStore) ListExecutions(_ context.Context, organizationID string, q ExecutionQuery) ([]*flow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*flow.Execution
	for _, data := range m.executions {
		var e flow.Execution
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		if e.OrganizationID != organizationID {
			continue
		}
		if q.WorkflowID != "" && e.WorkflowID != q.WorkflowID {
			continue
		}
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// AppendStep journals a step, rejecting duplicate idempotency keys.
func (m *MemStore) AppendStep(_ context.Context, executionID string, s Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	if s.Key != "" && m.stepKeys[s.Key] {
		return fmt.Errorf("key %q: %w", s.Key, ErrDuplicateStep)
	}
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now().UTC()
	}
	m.journals[executionID] = append(m.journals[executionID], s)
	if s.Key != "" {
		m.stepKeys[s.Key] = true
	}
	return nil
}

// Steps returns the journal of an execution in sequence order.
func (m *MemStore) Steps(_ context.Context, executionID string) ([]Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	journal := m.journals[executionID]
	out := make([]Step, len(journal))
	copy(out, journal)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// SaveDeployment inserts an immutable deployment snapshot.
func (m *MemStore) SaveDeployment(_ context.Context, d *flow.Deployment) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deployment: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, exists := m.deployments[d.ID]; exists {
		return fmt.Errorf("deployment %q already exists", d.ID)
	}
	m.deployments[d.ID] = data
	return nil
}

// GetDeployment returns a deployment by id.
func (m *MemStore) GetDeployment(_ context.Context, id string) (*flow.Deployment, error) {
	m.mu.RLock()
	data, ok := m.deployments[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("deployment %q: %w", id, ErrNotFound)
	}
	var d flow.Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal deployment: %w", err)
	}
	return &d, nil
}

// ReadWorkflowSnapshot returns the frozen workflow of a deployment.
func (m *MemStore) ReadWorkflowSnapshot(ctx context.Context, deploymentID string) (*flow.Workflow, error) {
	d, err := m.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	return &d.Snapshot, nil
}

// Close marks the store closed. Reads keep working so late observers can
// inspect final state in tests.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
