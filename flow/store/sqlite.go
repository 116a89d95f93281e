package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nodeflow/nodeflow/flow"
)

// SQLiteStore is a SQLite implementation of Store.
//
// Designed for development, testing and single-process deployments:
// a single-file database with zero setup. Uses WAL mode so readers are
// never blocked by the writer, and a single pooled connection because
// SQLite supports one writer at a time.
//
// Tables:
//   - workflows: definition metadata + JSON data blob
//   - executions: execution metadata + JSON data blob
//   - execution_steps: the append-only step journal
//   - deployments: immutable workflow snapshots
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store.
//
// The path is the database file location; ":memory:" gives an in-memory
// database whose contents vanish on Close, which is what the tests use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// One writer at a time; keep the single connection alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			handle TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_org ON workflows(organization_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			status TEXT NOT NULL,
			data TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_org ON executions(organization_id, started_at)`,

		`CREATE TABLE IF NOT EXISTS execution_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			idempotency_key TEXT UNIQUE,
			result TEXT,
			recorded_at TIMESTAMP NOT NULL,
			UNIQUE(execution_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_execution ON execution_steps(execution_id, seq)`,

		`CREATE TABLE IF NOT EXISTS deployments (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deployments_workflow ON deployments(workflow_id, version)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// SaveWorkflow inserts or replaces a workflow by id.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, w *flow.Workflow) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, organization_id, handle, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			handle = excluded.handle,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		w.ID, w.OrganizationID, w.Handle, string(data), w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// GetWorkflow returns a workflow by id within an organization.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id, organizationID string) (*flow.Workflow, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM workflows WHERE id = ? AND organization_id = ?`,
		id, organizationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	var w flow.Workflow
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &w, nil
}

// ListWorkflows returns an organization's workflows ordered by creation
// time then id.
func (s *SQLiteStore) ListWorkflows(ctx context.Context, organizationID string) ([]*flow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM workflows
		WHERE organization_id = ?
		ORDER BY created_at, id`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*flow.Workflow
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var w flow.Workflow
		if err := json.Unmarshal([]byte(data), &w); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// DeleteWorkflow removes a workflow by id within an organization.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id, organizationID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflows WHERE id = ? AND organization_id = ?`,
		id, organizationID)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	return nil
}

// CreateExecution inserts a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, e *flow.Execution) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, organization_id, status, data, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkflowID, e.OrganizationID, string(e.Status), string(data), e.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// UpdateExecution replaces an existing execution record.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, e *flow.Execution) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, data = ? WHERE id = ?`,
		string(e.Status), string(data), e.ID)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %q: %w", e.ID, ErrNotFound)
	}
	return nil
}

// GetExecution returns an execution by id.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*flow.Execution, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM executions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}

	var e flow.Execution
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &e, nil
}

// ListExecutions returns an organization's executions, most recent first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, organizationID string, q ExecutionQuery) ([]*flow.Execution, error) {
	query := `
		SELECT data FROM executions
		WHERE organization_id = ?`
	args := []any{organizationID}
	if q.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, q.WorkflowID)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*flow.Execution
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		var e flow.Execution
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// AppendStep journals a step inside a transaction, rejecting duplicate
// idempotency keys.
func (s *SQLiteStore) AppendStep(ctx context.Context, executionID string, st Step) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var key sql.NullString
	if st.Key != "" {
		key = sql.NullString{String: st.Key, Valid: true}

		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM execution_steps WHERE idempotency_key = ?)`,
			st.Key).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check idempotency key: %w", err)
		}
		if exists {
			return fmt.Errorf("key %q: %w", st.Key, ErrDuplicateStep)
		}
	}

	recordedAt := st.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_steps (execution_id, seq, name, idempotency_key, result, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		executionID, st.Seq, st.Name, key, string(st.Result), recordedAt.UTC())
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return tx.Commit()
}

// Steps returns the journal of an execution in sequence order.
func (s *SQLiteStore) Steps(ctx context.Context, executionID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, name, COALESCE(idempotency_key, ''), result, recorded_at
		FROM execution_steps
		WHERE execution_id = ?
		ORDER BY seq`, executionID)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var st Step
		var result string
		if err := rows.Scan(&st.Seq, &st.Name, &st.Key, &result, &st.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if result != "" {
			st.Result = []byte(result)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveDeployment inserts an immutable deployment snapshot.
func (s *SQLiteStore) SaveDeployment(ctx context.Context, d *flow.Deployment) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deployment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, workflow_id, version, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.WorkflowID, d.Version, string(data), d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save deployment: %w", err)
	}
	return nil
}

// GetDeployment returns a deployment by id.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*flow.Deployment, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM deployments WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}

	var d flow.Deployment
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("unmarshal deployment: %w", err)
	}
	return &d, nil
}

// ReadWorkflowSnapshot returns the frozen workflow of a deployment.
func (s *SQLiteStore) ReadWorkflowSnapshot(ctx context.Context, deploymentID string) (*flow.Workflow, error) {
	d, err := s.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	return &d.Snapshot, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
