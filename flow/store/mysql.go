package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/nodeflow/nodeflow/flow"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for production deployments with multiple workers: pooled
// connections, transactional journal appends and the same metadata + JSON
// blob layout as the SQLite backend.
//
// The DSN must include parseTime=true so TIMESTAMP columns scan into
// time.Time:
//
//	user:pass@tcp(localhost:3306)/nodeflow?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a MySQL-backed store, creating its tables on first
// use.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(191) PRIMARY KEY,
			organization_id VARCHAR(191) NOT NULL,
			handle VARCHAR(191) NOT NULL,
			data JSON NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			INDEX idx_workflows_org (organization_id, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(191) PRIMARY KEY,
			workflow_id VARCHAR(191) NOT NULL,
			organization_id VARCHAR(191) NOT NULL,
			status VARCHAR(32) NOT NULL,
			data JSON NOT NULL,
			started_at TIMESTAMP NOT NULL,
			INDEX idx_executions_workflow (workflow_id, started_at),
			INDEX idx_executions_org (organization_id, started_at)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			execution_id VARCHAR(191) NOT NULL,
			seq INT NOT NULL,
			name VARCHAR(191) NOT NULL,
			idempotency_key VARCHAR(64) NULL,
			result JSON NULL,
			recorded_at TIMESTAMP NOT NULL,
			UNIQUE KEY uq_steps_key (idempotency_key),
			UNIQUE KEY uq_steps_seq (execution_id, seq),
			INDEX idx_steps_execution (execution_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS deployments (
			id VARCHAR(191) PRIMARY KEY,
			workflow_id VARCHAR(191) NOT NULL,
			version INT NOT NULL,
			data JSON NOT NULL,
			created_at TIMESTAMP NOT NULL,
			INDEX idx_deployments_workflow (workflow_id, version)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// SaveWorkflow inserts or replaces a workflow by id.
func (s *MySQLStore) SaveWorkflow(ctx context.Context, w *flow.Workflow) error {
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
		ON DUPLICATE KEY UPDATE
			organization_id = VALUES(organization_id),
			handle = VALUES(handle),
			data = VALUES(data),
			updated_at = VALUES(updated_at)`,
		w.ID, w.OrganizationID, w.Handle, string(data), w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// GetWorkflow returns a workflow by id within an organization.
func (s *MySQLStore) GetWorkflow(ctx context.Context, id, organizationID string) (*flow.Workflow, error) {
	var data []byte
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
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &w, nil
}

// ListWorkflows returns an organization's workflows ordered by creation
// time then id.
func (s *MySQLStore) ListWorkflows(ctx context.Context, organizationID string) ([]*flow.Workflow, error) {
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
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var w flow.Workflow
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// DeleteWorkflow removes a workflow by id within an organization.
func (s *MySQLStore) DeleteWorkflow(ctx context.Context, id, organizationID string) error {
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
func (s *MySQLStore) CreateExecution(ctx context.Context, e *flow.Execution) error {
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
func (s *MySQLStore) UpdateExecution(ctx context.Context, e *flow.Execution) error {
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
	// RowsAffected is 0 both for a missing row and for an identical
	// rewrite, so check existence before reporting ErrNotFound.
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM executions WHERE id = ?)`, e.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update execution: %w", err)
		}
		if !exists {
			return fmt.Errorf("execution %q: %w", e.ID, ErrNotFound)
		}
	}
	return nil
}

// GetExecution returns an execution by id.
func (s *MySQLStore) GetExecution(ctx context.Context, id string) (*flow.Execution, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM executions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}

	var e flow.Execution
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &e, nil
}

// ListExecutions returns an organization's executions, most recent first.
func (s *MySQLStore) ListExecutions(ctx context.Context, organizationID string, q ExecutionQuery) ([]*flow.Execution, error) {
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
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		var e flow.Execution
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// AppendStep journals a step inside a transaction, rejecting duplicate
// idempotency keys.
func (s *MySQLStore) AppendStep(ctx context.Context, executionID string, st Step) error {
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
			`SELECT EXISTS(SELECT 1 FROM execution_steps WHERE idempotency_key = ?) FOR UPDATE`,
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
	var result sql.NullString
	if len(st.Result) > 0 {
		result = sql.NullString{String: string(st.Result), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_steps (execution_id, seq, name, idempotency_key, result, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		executionID, st.Seq, st.Name, key, result, recordedAt.UTC())
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return tx.Commit()
}

// Steps returns the journal of an execution in sequence order.
func (s *MySQLStore) Steps(ctx context.Context, executionID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, name, COALESCE(idempotency_key, ''), COALESCE(result, ''), recorded_at
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
func (s *MySQLStore) SaveDeployment(ctx context.Context, d *flow.Deployment) error {
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
func (s *MySQLStore) GetDeployment(ctx context.Context, id string) (*flow.Deployment, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM deployments WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}

	var d flow.Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal deployment: %w", err)
	}
	return &d, nil
}

// ReadWorkflowSnapshot returns the frozen workflow of a deployment.
func (s *MySQLStore) ReadWorkflowSnapshot(ctx context.Context, deploymentID string) (*flow.Workflow, error) {
	d, err := s.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	return &d.Snapshot, nil
}

// Close closes the database connection pool.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
