package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/nodeflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	now := time.Now().UTC()
	wf.CreatedAt = timeOr(wf.CreatedAt, now)
	wf.UpdatedAt = timeOr(wf.UpdatedAt, now)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.UserID, wf.CreatedAt, wf.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already exists", wf.ID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, user_id, created_at, updated_at FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.Name, &wf.UserID, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	var where []string
	var args []any
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}

	query := `SELECT id, name, user_id, created_at, updated_at FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	query += limitOffset(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Workflow
	for rows.Next() {
		wf := &schema.Workflow{}
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.UserID, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Graph ---

// SaveGraph replaces the workflow's nodes and connections in one transaction.
// Slice order is stored and reproduced by LoadGraph.
func (s *LibSQLStore) SaveGraph(ctx context.Context, workflowID string, nodes []schema.Node, conns []schema.Connection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save graph: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE workflows SET updated_at = ? WHERE id = ?`, time.Now().UTC(), workflowID)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "workflow", workflowID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM connections WHERE workflow_id = ?`, workflowID); err != nil {
		return fmt.Errorf("clear connections: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE workflow_id = ?`, workflowID); err != nil {
		return fmt.Errorf("clear nodes: %w", err)
	}

	for i, n := range nodes {
		cfg, err := marshalMapOrDefault(n.Config)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "node %q config is not JSON-compatible", n.ID).WithCause(err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (workflow_id, id, seq, name, type, config, position_x, position_y)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			workflowID, n.ID, i, nullStr(n.Name), string(n.Type), string(cfg), n.Position.X, n.Position.Y,
		); err != nil {
			if isUniqueViolation(err) {
				return schema.NewErrorf(schema.ErrCodeConflict, "duplicate node id %q", n.ID).WithCause(err)
			}
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}

	for i, c := range conns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO connections (id, workflow_id, seq, from_node_id, to_node_id) VALUES (?, ?, ?, ?, ?)`,
			c.ID, workflowID, i, c.FromNodeID, c.ToNodeID,
		); err != nil {
			if isForeignKeyViolation(err) {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"connection %q references a node outside workflow %q", c.ID, workflowID).WithCause(err)
			}
			return fmt.Errorf("insert connection %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save graph: %w", err)
	}
	return nil
}

// LoadGraph returns the workflow with its nodes and connections in stored order.
func (s *LibSQLStore) LoadGraph(ctx context.Context, workflowID string) (*schema.Graph, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	g := &schema.Graph{Workflow: *wf, Nodes: []schema.Node{}, Connections: []schema.Connection{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, config, position_x, position_y FROM nodes WHERE workflow_id = ? ORDER BY seq`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		n := schema.Node{WorkflowID: workflowID}
		var name sql.NullString
		var typ, cfg string
		if err := rows.Scan(&n.ID, &name, &typ, &cfg, &n.Position.X, &n.Position.Y); err != nil {
			return nil, err
		}
		n.Name = name.String
		n.Type = schema.NodeType(typ)
		if err := json.Unmarshal([]byte(cfg), &n.Config); err != nil {
			return nil, fmt.Errorf("unmarshal node %s config: %w", n.ID, err)
		}
		g.Nodes = append(g.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.db.QueryContext(ctx,
		`SELECT id, from_node_id, to_node_id FROM connections WHERE workflow_id = ? ORDER BY seq`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		c := schema.Connection{WorkflowID: workflowID}
		if err := crows.Scan(&c.ID, &c.FromNodeID, &c.ToNodeID); err != nil {
			return nil, err
		}
		g.Connections = append(g.Connections, c)
	}
	return g, crows.Err()
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *Execution) error {
	exec.StartedAt = timeOr(exec.StartedAt, time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, status, event_id, output, error, error_stack, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, string(exec.Status), nullStr(exec.EventID), nullRaw(exec.Output),
		nullStr(exec.Error), nullStr(exec.ErrorStack), exec.StartedAt, nullTime(exec.CompletedAt),
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q or event %q already recorded", exec.ID, exec.EventID).WithCause(err)
	}
	return err
}

const executionColumns = `id, workflow_id, status, event_id, output, error, error_stack, started_at, completed_at`

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return exec, err
}

func (s *LibSQLStore) GetExecutionByEventID(ctx context.Context, eventID string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE event_id = ?`, eventID)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution for event", eventID)
	}
	return exec, err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, nullRaw(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.ErrorStack != nil {
		sets = append(sets, "error_stack = ?")
		args = append(args, nullStr(*update.ErrorStack))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	query += limitOffset(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	e := &Execution{}
	var (
		status                            string
		eventID, output, errMsg, errStack sql.NullString
		completedAt                       sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.WorkflowID, &status, &eventID, &output, &errMsg, &errStack, &e.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	e.Status = schema.ExecutionStatus(status)
	e.EventID = eventID.String
	e.Output = rawOrNil(output)
	e.Error = errMsg.String
	e.ErrorStack = errStack.String
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return e, nil
}

// --- Credentials ---

func (s *LibSQLStore) CreateCredential(ctx context.Context, cred *Credential) error {
	now := time.Now().UTC()
	cred.CreatedAt = timeOr(cred.CreatedAt, now)
	cred.UpdatedAt = timeOr(cred.UpdatedAt, now)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, user_id, name, type, value, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, value=excluded.value, updated_at=excluded.updated_at
		 WHERE credentials.user_id = excluded.user_id`,
		cred.ID, cred.UserID, cred.Name, string(cred.Type), cred.Value, cred.CreatedAt, cred.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	c := &Credential{}
	var typ string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, type, value, created_at, updated_at FROM credentials WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Name, &typ, &c.Value, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("credential", id)
	}
	if err != nil {
		return nil, err
	}
	c.Type = schema.CredentialType(typ)
	return c, nil
}

// ListCredentials returns the user's credentials without their values.
func (s *LibSQLStore) ListCredentials(ctx context.Context, userID string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, type, created_at, updated_at FROM credentials WHERE user_id = ? ORDER BY name`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		c := &Credential{}
		var typ string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &typ, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Type = schema.CredentialType(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteCredential(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "credential", id)
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	job.CreatedAt = timeOr(job.CreatedAt, time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, workflow_id, cron_expression, initial_data, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkflowID, job.CronExpression, nullRaw(job.InitialData), job.Enabled,
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), job.CreatedAt,
	)
	return err
}

const scheduledJobColumns = `id, workflow_id, cron_expression, initial_data, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanScheduledJob(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled job", id)
	}
	return job, err
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}

	query := `SELECT ` + scheduledJobColumns + ` FROM scheduled_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	query += limitOffset(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func scanScheduledJob(row rowScanner) (*ScheduledJob, error) {
	j := &ScheduledJob{}
	var (
		initialData, lastStatus sql.NullString
		lastRun, nextRun        sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.WorkflowID, &j.CronExpression, &initialData, &j.Enabled,
		&lastRun, &nextRun, &lastStatus, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.InitialData = rawOrNil(initialData)
	j.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		j.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		j.NextRunAt = &nextRun.Time
	}
	return j, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func limitOffset(limit, offset int) string {
	var q string
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
		if offset > 0 {
			q += fmt.Sprintf(" OFFSET %d", offset)
		}
	}
	return q
}

func timeOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
