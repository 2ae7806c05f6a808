package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/warden/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS targets (
    id             TEXT PRIMARY KEY,
    host           TEXT NOT NULL,
    port           INTEGER,
    credential_ref TEXT,
    tags           TEXT NOT NULL,
    created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS definitions (
    id         TEXT NOT NULL,
    version    INTEGER NOT NULL,
    name       TEXT NOT NULL,
    checks     TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE TABLE IF NOT EXISTS schedule_rules (
    id            TEXT PRIMARY KEY,
    definition_id TEXT NOT NULL,
    target_ids    TEXT NOT NULL,
    tag_selector  TEXT NOT NULL,
    interval_s    INTEGER NOT NULL,
    enabled       INTEGER NOT NULL,
    last_fired    DATETIME,
    created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    id                 TEXT PRIMARY KEY,
    definition_id      TEXT NOT NULL,
    definition_version INTEGER NOT NULL,
    target_ids         TEXT NOT NULL,
    mode               TEXT NOT NULL,
    state              TEXT NOT NULL,
    rule_id            TEXT,
    error              TEXT,
    duration_ms        INTEGER,
    created_at         DATETIME NOT NULL,
    started_at         DATETIME,
    finished_at        DATETIME
);

CREATE TABLE IF NOT EXISTS check_results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id      TEXT NOT NULL,
    target_id   TEXT NOT NULL,
    check_id    TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    outcome     TEXT NOT NULL,
    detail      TEXT,
    duration_ms INTEGER NOT NULL,
    created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS job_results (
    job_id     TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    per_target TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs (state);
CREATE INDEX IF NOT EXISTS idx_check_results_job ON check_results (job_id);
`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases
	// from splitting across pool connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeStrings marshals a string slice into its JSON column representation.
// nil encodes as an empty array so membership probes stay simple.
func encodeStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	if len(v) == 0 {
		return nil
	}
	return v
}

// --- Targets ---

// CreateTarget inserts a new target record.
func (s *SQLiteStore) CreateTarget(ctx context.Context, t *model.Target) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (id, host, port, credential_ref, tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Host, t.Port, t.CredentialRef, encodeStrings(t.Tags), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanTarget(row *sql.Row) (*model.Target, error) {
	t := &model.Target{}
	var tags string
	err := row.Scan(&t.ID, &t.Host, &t.Port, &t.CredentialRef, &tags, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	t.Tags = decodeStrings(tags)
	return t, nil
}

// GetTarget retrieves a target by ID.
func (s *SQLiteStore) GetTarget(ctx context.Context, id string) (*model.Target, error) {
	return s.scanTarget(s.db.QueryRowContext(ctx,
		`SELECT id, host, port, credential_ref, tags, created_at FROM targets WHERE id = ?`, id))
}

// ListTargets returns all targets ordered by creation time.
func (s *SQLiteStore) ListTargets(ctx context.Context) ([]*model.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host, port, credential_ref, tags, created_at FROM targets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []*model.Target
	for rows.Next() {
		t := &model.Target{}
		var tags string
		if err := rows.Scan(&t.ID, &t.Host, &t.Port, &t.CredentialRef, &tags, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		t.Tags = decodeStrings(tags)
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// ListTargetsByTags returns targets carrying at least one of the given tags.
// Tag sets are small JSON columns, so filtering happens in process.
func (s *SQLiteStore) ListTargetsByTags(ctx context.Context, tags []string) ([]*model.Target, error) {
	all, err := s.ListTargets(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*model.Target
	for _, t := range all {
		for _, tag := range tags {
			if t.HasTag(tag) {
				matched = append(matched, t)
				break
			}
		}
	}
	return matched, nil
}

// UpdateTargetTags replaces a target's tag set. Tags are the only mutable
// part of a target.
func (s *SQLiteStore) UpdateTargetTags(ctx context.Context, id string, tags []string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE targets SET tags = ? WHERE id = ?`, encodeStrings(tags), id)
	if err != nil {
		return fmt.Errorf("update target tags: %w", err)
	}
	return requireRow(result)
}

// DeleteTarget removes a target. It fails with ErrReferenceInUse while a
// non-terminal job still references the target; terminal jobs keep the
// frozen target id, not a live pointer, so they do not block deletion.
func (s *SQLiteStore) DeleteTarget(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE state IN (?, ?) AND instr(target_ids, '"' || ? || '"') > 0`,
		model.StatePending, model.StateRunning, id,
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("count referencing jobs: %w", err)
	}
	if active > 0 {
		return fmt.Errorf("target %s: %w", id, ErrReferenceInUse)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Definitions ---

// CreateDefinition inserts a definition version. The caller assigns the
// version number; existing (id, version) pairs are never overwritten.
func (s *SQLiteStore) CreateDefinition(ctx context.Context, d *model.AuditDefinition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO definitions (id, version, name, checks, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Version, d.Name, encodeStrings(d.Checks), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert definition: %w", err)
	}
	return nil
}

func scanDefinition(scan func(dest ...any) error) (*model.AuditDefinition, error) {
	d := &model.AuditDefinition{}
	var checks string
	if err := scan(&d.ID, &d.Version, &d.Name, &checks, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Checks = decodeStrings(checks)
	return d, nil
}

// GetDefinition retrieves the latest version of a definition.
func (s *SQLiteStore) GetDefinition(ctx context.Context, id string) (*model.AuditDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, name, checks, created_at FROM definitions
		 WHERE id = ? ORDER BY version DESC LIMIT 1`, id)
	d, err := scanDefinition(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	return d, nil
}

// GetDefinitionVersion retrieves a specific definition version. Jobs resolve
// their frozen (id, version) pair through this.
func (s *SQLiteStore) GetDefinitionVersion(ctx context.Context, id string, version int) (*model.AuditDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, name, checks, created_at FROM definitions
		 WHERE id = ? AND version = ?`, id, version)
	d, err := scanDefinition(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get definition version: %w", err)
	}
	return d, nil
}

// ListDefinitions returns the latest version of every definition.
func (s *SQLiteStore) ListDefinitions(ctx context.Context) ([]*model.AuditDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.version, d.name, d.checks, d.created_at
		 FROM definitions d
		 JOIN (SELECT id, MAX(version) AS v FROM definitions GROUP BY id) latest
		   ON d.id = latest.id AND d.version = latest.v
		 ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*model.AuditDefinition
	for rows.Next() {
		d, err := scanDefinition(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// DeleteDefinition removes all versions of a definition, failing with
// ErrReferenceInUse while a non-terminal job references it.
func (s *SQLiteStore) DeleteDefinition(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE state IN (?, ?) AND definition_id = ?`,
		model.StatePending, model.StateRunning, id,
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("count referencing jobs: %w", err)
	}
	if active > 0 {
		return fmt.Errorf("definition %s: %w", id, ErrReferenceInUse)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM definitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete definition: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Schedule rules ---

// CreateRule inserts a new schedule rule.
func (s *SQLiteStore) CreateRule(ctx context.Context, r *model.ScheduleRule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_rules
		 (id, definition_id, target_ids, tag_selector, interval_s, enabled, last_fired, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DefinitionID, encodeStrings(r.TargetIDs), encodeStrings(r.TagSelector),
		r.IntervalS, r.Enabled, r.LastFired, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func scanRule(scan func(dest ...any) error) (*model.ScheduleRule, error) {
	r := &model.ScheduleRule{}
	var targetIDs, tagSelector string
	if err := scan(&r.ID, &r.DefinitionID, &targetIDs, &tagSelector,
		&r.IntervalS, &r.Enabled, &r.LastFired, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.TargetIDs = decodeStrings(targetIDs)
	r.TagSelector = decodeStrings(tagSelector)
	return r, nil
}

const ruleColumns = `id, definition_id, target_ids, tag_selector, interval_s, enabled, last_fired, created_at`

// GetRule retrieves a schedule rule by ID.
func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*model.ScheduleRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM schedule_rules WHERE id = ?`, id)
	r, err := scanRule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) listRules(ctx context.Context, query string, args ...any) ([]*model.ScheduleRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.ScheduleRule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ListRules returns all schedule rules ordered by creation time.
func (s *SQLiteStore) ListRules(ctx context.Context) ([]*model.ScheduleRule, error) {
	return s.listRules(ctx, `SELECT `+ruleColumns+` FROM schedule_rules ORDER BY created_at`)
}

// ListEnabledRules returns the rules eligible for scheduler evaluation.
func (s *SQLiteStore) ListEnabledRules(ctx context.Context) ([]*model.ScheduleRule, error) {
	return s.listRules(ctx,
		`SELECT `+ruleColumns+` FROM schedule_rules WHERE enabled = 1 ORDER BY created_at`)
}

// SetRuleEnabled flips a rule's enabled flag.
func (s *SQLiteStore) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE schedule_rules SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
	}
	return requireRow(result)
}

// DeleteRule removes a schedule rule. Materialized jobs keep their rule id
// as a plain forward reference, so deletion never cascades.
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedule_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return requireRow(result)
}

// FireRule advances the rule's last-fired timestamp and inserts the
// materialized job in one transaction. The UPDATE is guarded on the stored
// last-fired value, so replaying a tick against the same stored state
// changes nothing and produces no duplicate job. The guard also keeps
// last-fired monotonically non-decreasing.
func (s *SQLiteStore) FireRule(ctx context.Context, ruleID string, firedAt time.Time, job *model.AuditJob) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE schedule_rules SET last_fired = ?
		 WHERE id = ? AND enabled = 1 AND (last_fired IS NULL OR last_fired < ?)`,
		firedAt, ruleID, firedAt,
	)
	if err != nil {
		return false, fmt.Errorf("advance last_fired: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if err := insertJob(ctx, tx, job); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit fire: %w", err)
	}
	return true, nil
}

// --- Jobs ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertJob(ctx context.Context, db execer, j *model.AuditJob) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO jobs
		 (id, definition_id, definition_version, target_ids, mode, state, rule_id,
		  error, duration_ms, created_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.DefinitionID, j.DefinitionVersion, encodeStrings(j.TargetIDs),
		j.Mode, j.State, j.RuleID, j.Error, nil, j.CreatedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.AuditJob) error {
	return insertJob(ctx, s.db, j)
}

const jobColumns = `id, definition_id, definition_version, target_ids, mode, state,
	rule_id, error, created_at, started_at, finished_at`

func scanJob(scan func(dest ...any) error) (*model.AuditJob, error) {
	j := &model.AuditJob{}
	var targetIDs string
	var ruleID, errMsg sql.NullString
	if err := scan(&j.ID, &j.DefinitionID, &j.DefinitionVersion, &targetIDs, &j.Mode,
		&j.State, &ruleID, &errMsg, &j.CreatedAt, &j.StartedAt, &j.FinishedAt); err != nil {
		return nil, err
	}
	j.TargetIDs = decodeStrings(targetIDs)
	j.RuleID = ruleID.String
	j.Error = errMsg.String
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.AuditJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a paginated list of jobs ordered by created_at DESC,
// along with the total count.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.AuditJob, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.AuditJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, total, nil
}

// ListJobsByState returns jobs in any of the given states, oldest first.
// The recovery sweep and scheduler overlap checks use this.
func (s *SQLiteStore) ListJobsByState(ctx context.Context, states ...string) ([]*model.AuditJob, error) {
	if len(states) == 0 {
		return nil, nil
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE state IN (?` +
		strings.Repeat(", ?", len(states)-1) + `) ORDER BY created_at`
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = st
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs by state: %w", err)
	}
	defer rows.Close()

	var jobs []*model.AuditJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// StartJob transitions a pending job to running and records started_at. The
// guarded UPDATE makes the transition happen exactly once; concurrent batch
// units racing to start the same job are harmless no-ops.
func (s *SQLiteStore) StartJob(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, started_at = ? WHERE id = ? AND state = ?`,
		model.StateRunning, at, id, model.StatePending,
	)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		// Already running (another unit won the race) or terminal; verify
		// the job exists so typos still surface.
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// HasActiveJob reports whether a non-terminal job for the definition covers
// the given target. Used to hold the one-active-job-per-(target, definition)
// invariant at creation time.
func (s *SQLiteStore) HasActiveJob(ctx context.Context, definitionID, targetID string) (bool, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE state IN (?, ?) AND definition_id = ?`
	args := []any{model.StatePending, model.StateRunning, definitionID}
	if targetID != "" {
		query += ` AND instr(target_ids, '"' || ? || '"') > 0`
		args = append(args, targetID)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("count active jobs: %w", err)
	}
	return n > 0, nil
}

// HasActiveJobForRule reports whether a rule's prior materialized job is
// still non-terminal.
func (s *SQLiteStore) HasActiveJobForRule(ctx context.Context, ruleID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE state IN (?, ?) AND rule_id = ?`,
		model.StatePending, model.StateRunning, ruleID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count active rule jobs: %w", err)
	}
	return n > 0, nil
}

// --- Results ---

// InsertCheckResult appends one check result. Results are immutable once
// written.
func (s *SQLiteStore) InsertCheckResult(ctx context.Context, r *model.CheckResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO check_results
		 (job_id, target_id, check_id, seq, outcome, detail, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.TargetID, r.CheckID, r.Seq, r.Outcome, r.Detail, r.DurationMS, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert check result: %w", err)
	}
	return nil
}

// ListCheckResults returns a job's check results ordered by target and
// definition position.
func (s *SQLiteStore) ListCheckResults(ctx context.Context, jobID string) ([]model.CheckResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, target_id, check_id, seq, outcome, detail, duration_ms, created_at
		 FROM check_results WHERE job_id = ? ORDER BY target_id, seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list check results: %w", err)
	}
	defer rows.Close()

	var results []model.CheckResult
	for rows.Next() {
		var r model.CheckResult
		var detail sql.NullString
		if err := rows.Scan(&r.ID, &r.JobID, &r.TargetID, &r.CheckID, &r.Seq,
			&r.Outcome, &detail, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan check result: %w", err)
		}
		r.Detail = detail.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// FinishJob writes the job's terminal state and its JobResult in one
// transaction. The state UPDATE is guarded on the current state, so a second
// finisher for the same job hits ErrAlreadyTerminal instead of double-writing.
func (s *SQLiteStore) FinishJob(ctx context.Context, jobID, state, errMsg string, res *model.JobResult) error {
	if !model.IsTerminal(state) {
		return fmt.Errorf("finish to %q: %w", state, ErrInvalidTransition)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	var startedAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT state, started_at FROM jobs WHERE id = ?`, jobID,
	).Scan(&current, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job state: %w", err)
	}
	if model.IsTerminal(current) {
		return fmt.Errorf("job %s in state %s: %w", jobID, current, ErrAlreadyTerminal)
	}
	if !model.ValidTransition(current, state) {
		return fmt.Errorf("%s -> %s: %w", current, state, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	var durationMS *int
	if startedAt.Valid {
		d := int(now.Sub(startedAt.Time).Milliseconds())
		durationMS = &d
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error = ?, duration_ms = ?, finished_at = ?
		 WHERE id = ? AND state = ?`,
		state, errMsg, durationMS, now, jobID, current,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrAlreadyTerminal)
	}

	perTarget, err := json.Marshal(res.PerTarget)
	if err != nil {
		return fmt.Errorf("encode per-target aggregates: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_results (job_id, status, per_target, created_at)
		 VALUES (?, ?, ?, ?)`,
		jobID, res.Status, string(perTarget), now,
	); err != nil {
		return fmt.Errorf("insert job result: %w", err)
	}

	return tx.Commit()
}

// GetJobResult retrieves the immutable result of a terminal job, including
// its check results. Returns ErrNotYetComplete while the job is still
// non-terminal.
func (s *SQLiteStore) GetJobResult(ctx context.Context, jobID string) (*model.JobResult, error) {
	res := &model.JobResult{JobID: jobID}
	var perTarget string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, per_target, created_at FROM job_results WHERE job_id = ?`, jobID,
	).Scan(&res.Status, &perTarget, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotYetComplete)
	}
	if err != nil {
		return nil, fmt.Errorf("get job result: %w", err)
	}

	if err := json.Unmarshal([]byte(perTarget), &res.PerTarget); err != nil {
		return nil, fmt.Errorf("decode per-target aggregates: %w", err)
	}

	checks, err := s.ListCheckResults(ctx, jobID)
	if err != nil {
		return nil, err
	}
	res.Checks = checks
	return res, nil
}

// GetJobStats returns aggregate job statistics.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByState: make(map[string]int),
		CountByMode:  make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT state, mode, COUNT(*) FROM jobs GROUP BY state, mode`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state, mode string
		var n int
		if err := rows.Scan(&state, &mode, &n); err != nil {
			return nil, fmt.Errorf("scan job counts: %w", err)
		}
		stats.Total += n
		stats.CountByState[state] += n
		stats.CountByMode[mode] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(duration_ms) FROM jobs WHERE duration_ms IS NOT NULL`,
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	stats.AvgDurationMS = avg.Float64

	return stats, nil
}

// requireRow converts a zero-rows-affected result into ErrNotFound.
func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
