package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowforge/catalog/pkg/catalog/model"
)

// SQLiteStore is the pure-Go SQL-backed RecordStore, suitable for a
// single-process deployment that wants durability without an external
// database. Each entity lives in its own table as an id plus a JSON
// column; indexed columns needed for the store's scan-style queries
// (NextRunAt, Status, ...) are denormalized alongside the JSON blob.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed record store
// at dsn, e.g. "file:catalog.db?_pragma=busy_timeout(5000)" or ":memory:".
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ RecordStore = (*SQLiteStore)(nil)

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_definitions (slug TEXT PRIMARY KEY, data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS workflow_definitions (slug TEXT PRIMARY KEY, data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS bundle_versions (slug TEXT NOT NULL, version INTEGER NOT NULL, data TEXT NOT NULL, PRIMARY KEY (slug, version))`,
		`CREATE TABLE IF NOT EXISTS job_runs (id TEXT PRIMARY KEY, status TEXT NOT NULL, data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (id TEXT PRIMARY KEY, status TEXT NOT NULL, workflow_definition_id TEXT NOT NULL, partition_key TEXT NOT NULL DEFAULT '', created_at TEXT NOT NULL, data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS workflow_run_steps (workflow_run_id TEXT NOT NULL, step_id TEXT NOT NULL, data TEXT NOT NULL, PRIMARY KEY (workflow_run_id, step_id))`,
		`CREATE TABLE IF NOT EXISTS schedules (id TEXT PRIMARY KEY, is_active INTEGER NOT NULL, next_run_at TEXT, data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS event_triggers (id TEXT PRIMARY KEY, status TEXT NOT NULL, event_type TEXT NOT NULL, event_source TEXT NOT NULL DEFAULT '', data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS deliveries (id TEXT PRIMARY KEY, trigger_id TEXT NOT NULL, status TEXT NOT NULL, idempotency_key TEXT NOT NULL DEFAULT '', workflow_run_id TEXT NOT NULL DEFAULT '', created_at TEXT NOT NULL, data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS materializations (asset_id TEXT NOT NULL, partition_key TEXT NOT NULL DEFAULT '', produced_at TEXT NOT NULL, data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS advisory_locks (lock_key TEXT PRIMARY KEY, expires_at TEXT NOT NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) PutJobDefinition(ctx context.Context, def *model.JobDefinition) error {
	var currentVersion int
	row := s.db.QueryRowContext(ctx, `SELECT data FROM job_definitions WHERE slug = ?`, def.Slug)
	var raw string
	if err := row.Scan(&raw); err == nil {
		var existing model.JobDefinition
		if jsonErr := json.Unmarshal([]byte(raw), &existing); jsonErr == nil {
			currentVersion = existing.Version
		}
	}
	if currentVersion > 0 {
		def.Version = currentVersion + 1
	} else if def.Version == 0 {
		def.Version = 1
	}
	data, err := json.Marshal(def)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO job_definitions (slug, data) VALUES (?, ?)
		ON CONFLICT(slug) DO UPDATE SET data = excluded.data`, def.Slug, string(data))
	return err
}

func (s *SQLiteStore) GetJobDefinition(ctx context.Context, slug string) (*model.JobDefinition, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM job_definitions WHERE slug = ?`, slug).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var def model.JobDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *SQLiteStore) ListJobDefinitions(ctx context.Context) ([]*model.JobDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM job_definitions ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.JobDefinition
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var def model.JobDefinition
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, err
		}
		out = append(out, &def)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutWorkflowDefinition(ctx context.Context, def *model.WorkflowDefinition) error {
	var currentVersion int
	var raw string
	if err := s.db.QueryRowContext(ctx, `SELECT data FROM workflow_definitions WHERE slug = ?`, def.Slug).Scan(&raw); err == nil {
		var existing model.WorkflowDefinition
		if jsonErr := json.Unmarshal([]byte(raw), &existing); jsonErr == nil {
			currentVersion = existing.Version
		}
	}
	if currentVersion > 0 {
		def.Version = currentVersion + 1
	} else if def.Version == 0 {
		def.Version = 1
	}
	data, err := json.Marshal(def)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO workflow_definitions (slug, data) VALUES (?, ?)
		ON CONFLICT(slug) DO UPDATE SET data = excluded.data`, def.Slug, string(data))
	return err
}

func (s *SQLiteStore) GetWorkflowDefinition(ctx context.Context, slug string) (*model.WorkflowDefinition, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM workflow_definitions WHERE slug = ?`, slug).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var def model.WorkflowDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *SQLiteStore) ListWorkflowDefinitions(ctx context.Context) ([]*model.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM workflow_definitions ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.WorkflowDefinition
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var def model.WorkflowDefinition
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, err
		}
		out = append(out, &def)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutBundleVersion(ctx context.Context, v *model.JobBundleVersion) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO bundle_versions (slug, version, data) VALUES (?, ?, ?)
		ON CONFLICT(slug, version) DO UPDATE SET data = excluded.data`, v.BundleSlug, v.Version, string(data))
	return err
}

func (s *SQLiteStore) GetBundleVersion(ctx context.Context, slug string, version int) (*model.JobBundleVersion, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM bundle_versions WHERE slug = ? AND version = ?`, slug, version).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v model.JobBundleVersion
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteStore) GetLatestBundleVersion(ctx context.Context, slug string) (*model.JobBundleVersion, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM bundle_versions WHERE slug = ? ORDER BY version DESC LIMIT 1`, slug).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v model.JobBundleVersion
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteStore) CreateJobRun(ctx context.Context, run *model.JobRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO job_runs (id, status, data) VALUES (?, ?, ?)`, run.ID, string(run.Status), string(data))
	return err
}

func (s *SQLiteStore) GetJobRun(ctx context.Context, id string) (*model.JobRun, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM job_runs WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var run model.JobRun
	if err := json.Unmarshal([]byte(raw), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) UpdateJobRun(ctx context.Context, id string, mutate func(*model.JobRun) error) (*model.JobRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT data FROM job_runs WHERE id = ?`, id).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var run model.JobRun
	if err := json.Unmarshal([]byte(raw), &run); err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return &run, tx.Commit()
	}
	if err := mutate(&run); err != nil {
		return nil, err
	}
	data, err := json.Marshal(&run)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE job_runs SET status = ?, data = ? WHERE id = ?`, string(run.Status), string(data), id); err != nil {
		return nil, err
	}
	return &run, tx.Commit()
}

func (s *SQLiteStore) CreateWorkflowRun(ctx context.Context, run *model.WorkflowRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO workflow_runs (id, status, workflow_definition_id, partition_key, created_at, data) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.WorkflowDefinitionID, run.PartitionKey, run.CreatedAt.UTC().Format(time.RFC3339Nano), string(data))
	return err
}

func (s *SQLiteStore) GetWorkflowRun(ctx context.Context, id string) (*model.WorkflowRun, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM workflow_runs WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var run model.WorkflowRun
	if err := json.Unmarshal([]byte(raw), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) UpdateWorkflowRun(ctx context.Context, id string, mutate func(*model.WorkflowRun) error) (*model.WorkflowRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT data FROM workflow_runs WHERE id = ?`, id).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var run model.WorkflowRun
	if err := json.Unmarshal([]byte(raw), &run); err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return &run, tx.Commit()
	}
	if err := mutate(&run); err != nil {
		return nil, err
	}
	data, err := json.Marshal(&run)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE workflow_runs SET status = ?, partition_key = ?, data = ? WHERE id = ?`,
		string(run.Status), run.PartitionKey, string(data), id); err != nil {
		return nil, err
	}
	return &run, tx.Commit()
}

func (s *SQLiteStore) ListWorkflowRunsByPartition(ctx context.Context, workflowDefinitionID, partitionKey string) ([]*model.WorkflowRun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM workflow_runs WHERE workflow_definition_id = ? AND partition_key = ? ORDER BY created_at DESC`,
		workflowDefinitionID, partitionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.WorkflowRun
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var run model.WorkflowRun
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			return nil, err
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutWorkflowRunStep(ctx context.Context, step *model.WorkflowRunStep) error {
	data, err := json.Marshal(step)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO workflow_run_steps (workflow_run_id, step_id, data) VALUES (?, ?, ?)
		ON CONFLICT(workflow_run_id, step_id) DO UPDATE SET data = excluded.data`, step.WorkflowRunID, step.StepID, string(data))
	return err
}

func (s *SQLiteStore) GetWorkflowRunStep(ctx context.Context, workflowRunID, stepID string) (*model.WorkflowRunStep, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM workflow_run_steps WHERE workflow_run_id = ? AND step_id = ?`, workflowRunID, stepID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var step model.WorkflowRunStep
	if err := json.Unmarshal([]byte(raw), &step); err != nil {
		return nil, err
	}
	return &step, nil
}

func (s *SQLiteStore) ListWorkflowRunSteps(ctx context.Context, workflowRunID string) ([]*model.WorkflowRunStep, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM workflow_run_steps WHERE workflow_run_id = ? ORDER BY step_id`, workflowRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.WorkflowRunStep
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var step model.WorkflowRunStep
		if err := json.Unmarshal([]byte(raw), &step); err != nil {
			return nil, err
		}
		out = append(out, &step)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutSchedule(ctx context.Context, sched *model.Schedule) error {
	data, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	var nextRunAt interface{}
	if sched.NextRunAt != nil {
		nextRunAt = sched.NextRunAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO schedules (id, is_active, next_run_at, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET is_active = excluded.is_active, next_run_at = excluded.next_run_at, data = excluded.data`,
		sched.ID, boolToInt(sched.IsActive), nextRunAt, string(data))
	return err
}

func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM schedules WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sched model.Schedule
	if err := json.Unmarshal([]byte(raw), &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (s *SQLiteStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*model.Schedule, error) {
	query := `SELECT data FROM schedules WHERE is_active = 1 AND next_run_at IS NOT NULL AND next_run_at <= ? ORDER BY next_run_at ASC`
	args := []interface{}{now.UTC().Format(time.RFC3339Nano)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Schedule
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var sched model.Schedule
		if err := json.Unmarshal([]byte(raw), &sched); err != nil {
			return nil, err
		}
		out = append(out, &sched)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutEventTrigger(ctx context.Context, t *model.WorkflowEventTrigger) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO event_triggers (id, status, event_type, event_source, data) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, event_type = excluded.event_type, event_source = excluded.event_source, data = excluded.data`,
		t.ID, string(t.Status), t.EventType, t.EventSource, string(data))
	return err
}

func (s *SQLiteStore) ListActiveEventTriggers(ctx context.Context, eventType, eventSource string) ([]*model.WorkflowEventTrigger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM event_triggers WHERE status = ? AND event_type = ? AND (event_source = '' OR event_source = ?) ORDER BY id`,
		string(model.TriggerActive), eventType, eventSource)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.WorkflowEventTrigger
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var t model.WorkflowEventTrigger
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutDelivery(ctx context.Context, d *model.WorkflowTriggerDelivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO deliveries (id, trigger_id, status, idempotency_key, workflow_run_id, created_at, data) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, workflow_run_id = excluded.workflow_run_id, data = excluded.data`,
		d.ID, d.TriggerID, string(d.Status), d.IdempotencyKey, d.WorkflowRunID, d.CreatedAt.UTC().Format(time.RFC3339Nano), string(data))
	return err
}

func (s *SQLiteStore) CountLaunchedDeliveries(ctx context.Context, triggerID string, since, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE trigger_id = ? AND status = ? AND created_at >= ? AND created_at <= ?`,
		triggerID, string(model.DeliveryLaunched), since.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano)).Scan(&count)
	return count, err
}

func (s *SQLiteStore) CountLiveDeliveries(ctx context.Context, triggerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries d JOIN workflow_runs r ON r.id = d.workflow_run_id
		WHERE d.trigger_id = ? AND d.status = ? AND r.status IN (?, ?)`,
		triggerID, string(model.DeliveryLaunched), string(model.WorkflowRunPending), string(model.WorkflowRunRunning)).Scan(&count)
	return count, err
}

func (s *SQLiteStore) FindLaunchedDeliveryByIdempotencyKey(ctx context.Context, triggerID, idempotencyKey string) (*model.WorkflowTriggerDelivery, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM deliveries WHERE trigger_id = ? AND idempotency_key = ? AND status = ? LIMIT 1`,
		triggerID, idempotencyKey, string(model.DeliveryLaunched)).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d model.WorkflowTriggerDelivery
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) PutAssetMaterialization(ctx context.Context, m *model.AssetMaterialization) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO materializations (asset_id, partition_key, produced_at, data) VALUES (?, ?, ?, ?)`,
		m.AssetID, m.PartitionKey, m.ProducedAt.UTC().Format(time.RFC3339Nano), string(data))
	return err
}

func (s *SQLiteStore) GetLatestMaterialization(ctx context.Context, assetID, partitionKey string) (*model.AssetMaterialization, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM materializations WHERE asset_id = ? AND partition_key = ? ORDER BY produced_at DESC LIMIT 1`,
		assetID, partitionKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m model.AssetMaterialization
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) TryAcquireLock(ctx context.Context, namespace, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	full := namespace + ":" + key
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var expiresAtRaw string
	err = tx.QueryRowContext(ctx, `SELECT expires_at FROM advisory_locks WHERE lock_key = ?`, full).Scan(&expiresAtRaw)
	if err == nil {
		expiresAt, parseErr := time.Parse(time.RFC3339Nano, expiresAtRaw)
		if parseErr == nil && expiresAt.After(now) {
			return nil, false, nil
		}
	} else if err != sql.ErrNoRows {
		return nil, false, err
	}

	newExpiry := now.Add(ttl).Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `INSERT INTO advisory_locks (lock_key, expires_at) VALUES (?, ?)
		ON CONFLICT(lock_key) DO UPDATE SET expires_at = excluded.expires_at`, full, newExpiry); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	release := func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM advisory_locks WHERE lock_key = ? AND expires_at = ?`, full, newExpiry)
		return err
	}
	return release, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
