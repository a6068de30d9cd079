package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flowforge/workflow-go/model"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file disk-backed Store, intended for development,
// single-process deployments, and as a durable fallback below MySQLStore.
// It serializes all writes through a single connection (SQLite allows one
// writer at a time) and runs in WAL mode so readers aren't blocked by it.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed store at
// path. Use ":memory:" for an ephemeral database useful in tests that still
// want to exercise real SQL.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			definition_key TEXT NOT NULL,
			status TEXT NOT NULL,
			state_payload TEXT NOT NULL,
			current_step_index INTEGER NOT NULL,
			total_steps INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			error TEXT,
			inserted_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_definition_key ON workflows(definition_key)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			type TEXT NOT NULL,
			data TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_workflow_id ON events(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
		`CREATE TABLE IF NOT EXISTS idempotency (
			key_value TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			result TEXT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_status ON idempotency(status)`,
		`CREATE TABLE IF NOT EXISTS dlq (
			entry_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			definition_key TEXT NOT NULL,
			failed_step TEXT,
			error TEXT NOT NULL,
			context TEXT NOT NULL,
			original_params TEXT NOT NULL,
			metadata TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			retry_count INTEGER NOT NULL,
			next_retry_at TIMESTAMP,
			resolution TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dlq_status ON dlq(status)`,
		`CREATE INDEX IF NOT EXISTS idx_dlq_type ON dlq(type)`,
		`CREATE INDEX IF NOT EXISTS idx_dlq_workflow_id ON dlq(workflow_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	payload, err := json.Marshal(wf.StatePayload)
	if err != nil {
		return fmt.Errorf("store: marshal state_payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, definition_key, status, state_payload, current_step_index, total_steps,
			started_at, completed_at, error, inserted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			definition_key=excluded.definition_key, status=excluded.status, state_payload=excluded.state_payload,
			current_step_index=excluded.current_step_index, total_steps=excluded.total_steps,
			completed_at=excluded.completed_at, error=excluded.error, updated_at=excluded.updated_at
	`, wf.ID, wf.DefinitionKey, string(wf.Status), string(payload), wf.CurrentStepIndex, wf.TotalSteps,
		wf.StartedAt, wf.CompletedAt, nullString(wf.Error), wf.InsertedAt, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save workflow: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	return s.scanWorkflow(s.db.QueryRowContext(ctx, workflowSelect+" WHERE id = ?", id))
}

// GetWorkflowDirty is the same query as GetWorkflow: SQLite's single-writer
// model means there is no separate snapshot-isolated read path to offer,
// so the "dirty" variant reads through the same connection.
func (s *SQLiteStore) GetWorkflowDirty(ctx context.Context, id string) (*model.Workflow, error) {
	return s.GetWorkflow(ctx, id)
}

const workflowSelect = `SELECT id, definition_key, status, state_payload, current_step_index, total_steps,
	started_at, completed_at, error, inserted_at, updated_at FROM workflows`

func (s *SQLiteStore) scanWorkflow(row *sql.Row) (*model.Workflow, error) {
	var wf model.Workflow
	var status, payload string
	var completedAt sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(&wf.ID, &wf.DefinitionKey, &status, &payload, &wf.CurrentStepIndex, &wf.TotalSteps,
		&wf.StartedAt, &completedAt, &errMsg, &wf.InsertedAt, &wf.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan workflow: %w", err)
	}
	wf.Status = model.Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		wf.CompletedAt = &t
	}
	wf.Error = errMsg.String
	if err := json.Unmarshal([]byte(payload), &wf.StatePayload); err != nil {
		return nil, fmt.Errorf("store: unmarshal state_payload: %w", err)
	}
	return &wf, nil
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context, filter WorkflowFilter, limit int) ([]*model.Workflow, error) {
	query := workflowSelect
	var args []any
	var clauses []string
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.DefinitionKey != "" {
		clauses = append(clauses, "definition_key = ?")
		args = append(args, filter.DefinitionKey)
	}
	if len(clauses) > 0 {
		query += " WHERE " + clauses[0]
		for _, c := range clauses[1:] {
			query += " AND " + c
		}
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list workflows: %w", err)
	}
	defer rows.Close()

	var out []*model.Workflow
	for rows.Next() {
		var wf model.Workflow
		var status, payload string
		var completedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&wf.ID, &wf.DefinitionKey, &status, &payload, &wf.CurrentStepIndex, &wf.TotalSteps,
			&wf.StartedAt, &completedAt, &errMsg, &wf.InsertedAt, &wf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan workflow: %w", err)
		}
		wf.Status = model.Status(status)
		if completedAt.Valid {
			t := completedAt.Time
			wf.CompletedAt = &t
		}
		wf.Error = errMsg.String
		if err := json.Unmarshal([]byte(payload), &wf.StatePayload); err != nil {
			return nil, fmt.Errorf("store: unmarshal state_payload: %w", err)
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE workflow_id = ?", id); err != nil {
		return fmt.Errorf("store: cascade delete events: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM workflows GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("store: count by status: %w", err)
	}
	defer rows.Close()
	out := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.Status(status)] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *model.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("store: marshal event data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO events (event_id, workflow_id, type, data, timestamp)
		VALUES (?, ?, ?, ?, ?)`, ev.EventID, ev.WorkflowID, string(ev.Type), string(data), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEvents(ctx context.Context, workflowID string, filter EventFilter, limit int) ([]*model.Event, error) {
	query := `SELECT event_id, workflow_id, type, data, timestamp FROM events WHERE workflow_id = ?`
	args := []any{workflowID}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	query += " ORDER BY timestamp ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get events: %w", err)
	}
	defer rows.Close()

	var out []*model.Event
	for rows.Next() {
		var ev model.Event
		var typ, data string
		if err := rows.Scan(&ev.EventID, &ev.WorkflowID, &typ, &data, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Type = model.EventType(typ)
		if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
			return nil, fmt.Errorf("store: unmarshal event data: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) IdempotencyBegin(ctx context.Context, key string) (*model.Idempotency, IdempotencyOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("store: begin idempotency tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.scanIdempotencyTx(ctx, tx, key)
	if err == nil {
		if rec.Status == model.IdempotencyCompleted {
			return rec, OutcomeAlreadyCompleted, tx.Commit()
		}
		return rec, OutcomeAlreadyPending, tx.Commit()
	}
	if err != ErrNotFound {
		return nil, "", err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `INSERT INTO idempotency (key_value, status, started_at) VALUES (?, ?, ?)`,
		key, string(model.IdempotencyPending), now); err != nil {
		return nil, "", fmt.Errorf("store: insert idempotency: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, "", err
	}
	return &model.Idempotency{Key: key, Status: model.IdempotencyPending, StartedAt: now}, OutcomeOK, nil
}

func (s *SQLiteStore) scanIdempotencyTx(ctx context.Context, tx *sql.Tx, key string) (*model.Idempotency, error) {
	row := tx.QueryRowContext(ctx, `SELECT key_value, status, started_at, completed_at, result, error
		FROM idempotency WHERE key_value = ?`, key)
	return scanIdempotencyRow(row)
}

func scanIdempotencyRow(row *sql.Row) (*model.Idempotency, error) {
	var rec model.Idempotency
	var status string
	var completedAt sql.NullTime
	var result, errMsg sql.NullString
	if err := row.Scan(&rec.Key, &status, &rec.StartedAt, &completedAt, &result, &errMsg); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan idempotency: %w", err)
	}
	rec.Status = model.IdempotencyStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	rec.Error = errMsg.String
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &rec.Result); err != nil {
			return nil, fmt.Errorf("store: unmarshal idempotency result: %w", err)
		}
	}
	return &rec, nil
}

func (s *SQLiteStore) IdempotencyComplete(ctx context.Context, key string, result model.State) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: marshal idempotency result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE idempotency SET status = ?, completed_at = ?, result = ? WHERE key_value = ?`,
		string(model.IdempotencyCompleted), time.Now().UTC(), string(data), key)
	if err != nil {
		return fmt.Errorf("store: complete idempotency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) IdempotencyFail(ctx context.Context, key string, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE idempotency SET status = ?, completed_at = ?, error = ? WHERE key_value = ?`,
		string(model.IdempotencyFailed), time.Now().UTC(), errMsg, key)
	if err != nil {
		return fmt.Errorf("store: fail idempotency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) IdempotencyStatus(ctx context.Context, key string) (*model.Idempotency, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key_value, status, started_at, completed_at, result, error
		FROM idempotency WHERE key_value = ?`, key)
	return scanIdempotencyRow(row)
}

func (s *SQLiteStore) IdempotencyListPending(ctx context.Context) ([]*model.Idempotency, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key_value, status, started_at, completed_at, result, error
		FROM idempotency WHERE status = ?`, string(model.IdempotencyPending))
	if err != nil {
		return nil, fmt.Errorf("store: list pending idempotency: %w", err)
	}
	defer rows.Close()

	var out []*model.Idempotency
	for rows.Next() {
		var rec model.Idempotency
		var status string
		var completedAt sql.NullTime
		var result, errMsg sql.NullString
		if err := rows.Scan(&rec.Key, &status, &rec.StartedAt, &completedAt, &result, &errMsg); err != nil {
			return nil, err
		}
		rec.Status = model.IdempotencyStatus(status)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// IdempotencyCleanupOlderThan deletes only completed and failed records
// whose completed_at is before cutoff; pending records are left untouched
// for forensic recovery.
func (s *SQLiteStore) IdempotencyCleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency WHERE status != ? AND completed_at < ?`,
		string(model.IdempotencyPending), cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup idempotency: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) SaveDLQEntry(ctx context.Context, e *model.DLQEntry) error {
	ctxData, err1 := json.Marshal(e.Context)
	params, err2 := json.Marshal(e.OriginalParams)
	meta, err3 := json.Marshal(e.Metadata)
	if err1 != nil || err2 != nil || err3 != nil {
		return fmt.Errorf("store: marshal dlq entry")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dlq (entry_id, type, status, workflow_id, definition_key, failed_step, error, context,
			original_params, metadata, created_at, updated_at, retry_count, next_retry_at, resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			status=excluded.status, updated_at=excluded.updated_at, retry_count=excluded.retry_count,
			next_retry_at=excluded.next_retry_at, resolution=excluded.resolution
	`, e.EntryID, string(e.Type), string(e.Status), e.WorkflowID, e.DefinitionKey, nullString(e.FailedStep),
		e.Error, string(ctxData), string(params), string(meta), e.CreatedAt, e.UpdatedAt, e.RetryCount,
		e.NextRetryAt, nullString(string(e.Resolution)))
	if err != nil {
		return fmt.Errorf("store: save dlq entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDLQEntry(ctx context.Context, id string) (*model.DLQEntry, error) {
	row := s.db.QueryRowContext(ctx, dlqSelect+" WHERE entry_id = ?", id)
	return scanDLQRow(row)
}

const dlqSelect = `SELECT entry_id, type, status, workflow_id, definition_key, failed_step, error, context,
	original_params, metadata, created_at, updated_at, retry_count, next_retry_at, resolution FROM dlq`

func scanDLQRow(row *sql.Row) (*model.DLQEntry, error) {
	var e model.DLQEntry
	var typ, status, ctxData, params, meta string
	var failedStep, resolution sql.NullString
	var nextRetryAt sql.NullTime
	if err := row.Scan(&e.EntryID, &typ, &status, &e.WorkflowID, &e.DefinitionKey, &failedStep, &e.Error,
		&ctxData, &params, &meta, &e.CreatedAt, &e.UpdatedAt, &e.RetryCount, &nextRetryAt, &resolution); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan dlq entry: %w", err)
	}
	e.Type = model.DLQType(typ)
	e.Status = model.DLQStatus(status)
	e.FailedStep = failedStep.String
	e.Resolution = model.Resolution(resolution.String)
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		e.NextRetryAt = &t
	}
	_ = json.Unmarshal([]byte(ctxData), &e.Context)
	_ = json.Unmarshal([]byte(params), &e.OriginalParams)
	_ = json.Unmarshal([]byte(meta), &e.Metadata)
	return &e, nil
}

func (s *SQLiteStore) ListDLQEntries(ctx context.Context, status model.DLQStatus, limit int) ([]*model.DLQEntry, error) {
	query := dlqSelect
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list dlq entries: %w", err)
	}
	defer rows.Close()

	var out []*model.DLQEntry
	for rows.Next() {
		var e model.DLQEntry
		var typ, st, ctxData, params, meta string
		var failedStep, resolution sql.NullString
		var nextRetryAt sql.NullTime
		if err := rows.Scan(&e.EntryID, &typ, &st, &e.WorkflowID, &e.DefinitionKey, &failedStep, &e.Error,
			&ctxData, &params, &meta, &e.CreatedAt, &e.UpdatedAt, &e.RetryCount, &nextRetryAt, &resolution); err != nil {
			return nil, err
		}
		e.Type = model.DLQType(typ)
		e.Status = model.DLQStatus(st)
		e.FailedStep = failedStep.String
		e.Resolution = model.Resolution(resolution.String)
		if nextRetryAt.Valid {
			t := nextRetryAt.Time
			e.NextRetryAt = &t
		}
		_ = json.Unmarshal([]byte(ctxData), &e.Context)
		_ = json.Unmarshal([]byte(params), &e.OriginalParams)
		_ = json.Unmarshal([]byte(meta), &e.Metadata)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DLQStats(ctx context.Context) (map[model.DLQStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM dlq GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("store: dlq stats: %w", err)
	}
	defer rows.Close()
	out := make(map[model.DLQStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.DLQStatus(status)] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Backup(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Timestamp: time.Now().UTC()}
	var err error
	if snap.Workflows, err = s.ListWorkflows(ctx, WorkflowFilter{}, 0); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, workflow_id, type, data, timestamp FROM events`)
	if err != nil {
		return nil, fmt.Errorf("store: backup events: %w", err)
	}
	for rows.Next() {
		var ev model.Event
		var typ, data string
		if err := rows.Scan(&ev.EventID, &ev.WorkflowID, &typ, &data, &ev.Timestamp); err != nil {
			rows.Close()
			return nil, err
		}
		ev.Type = model.EventType(typ)
		_ = json.Unmarshal([]byte(data), &ev.Data)
		snap.Events = append(snap.Events, &ev)
	}
	rows.Close()
	if snap.Idempotent, err = s.IdempotencyListPending(ctx); err != nil {
		return nil, err
	}
	allIdem, err := s.db.QueryContext(ctx, `SELECT key_value, status, started_at, completed_at, result, error FROM idempotency`)
	if err != nil {
		return nil, fmt.Errorf("store: backup idempotency: %w", err)
	}
	snap.Idempotent = nil
	for allIdem.Next() {
		var rec model.Idempotency
		var status string
		var completedAt sql.NullTime
		var result, errMsg sql.NullString
		if err := allIdem.Scan(&rec.Key, &status, &rec.StartedAt, &completedAt, &result, &errMsg); err != nil {
			allIdem.Close()
			return nil, err
		}
		rec.Status = model.IdempotencyStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			rec.CompletedAt = &t
		}
		rec.Error = errMsg.String
		if result.Valid && result.String != "" {
			_ = json.Unmarshal([]byte(result.String), &rec.Result)
		}
		snap.Idempotent = append(snap.Idempotent, &rec)
	}
	allIdem.Close()
	if snap.DLQ, err = s.ListDLQEntries(ctx, "", 0); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteStore) Destroy(ctx context.Context) error {
	for _, tbl := range []string{"workflows", "events", "idempotency", "dlq"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+tbl); err != nil {
			return fmt.Errorf("store: destroy %s: %w", tbl, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Restore(ctx context.Context, snapshot *Snapshot) error {
	return restoreAtomic(snapshot, func(snap *Snapshot) error {
		if err := s.Destroy(ctx); err != nil {
			return err
		}
		for _, wf := range snap.Workflows {
			if err := s.SaveWorkflow(ctx, wf); err != nil {
				return err
			}
		}
		for _, ev := range snap.Events {
			if err := s.AppendEvent(ctx, ev); err != nil {
				return err
			}
		}
		for _, rec := range snap.Idempotent {
			if _, _, err := s.IdempotencyBegin(ctx, rec.Key); err != nil {
				return err
			}
			switch rec.Status {
			case model.IdempotencyCompleted:
				if err := s.IdempotencyComplete(ctx, rec.Key, rec.Result); err != nil {
					return err
				}
			case model.IdempotencyFailed:
				if err := s.IdempotencyFail(ctx, rec.Key, rec.Error); err != nil {
					return err
				}
			}
		}
		for _, e := range snap.DLQ {
			if err := s.SaveDLQEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
