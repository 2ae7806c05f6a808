package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/warden/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a job state transition is not allowed.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrReferenceInUse is returned when deleting an entity that a non-terminal
// job still references.
var ErrReferenceInUse = errors.New("reference in use")

// ErrAlreadyTerminal is returned when finishing or cancelling a job that has
// already reached a terminal state.
var ErrAlreadyTerminal = errors.New("job already terminal")

// ErrNotYetComplete is returned when requesting the result of a job that has
// not reached a terminal state.
var ErrNotYetComplete = errors.New("job not yet complete")

// JobStats holds aggregate job statistics.
type JobStats struct {
	Total         int            `json:"total"`
	CountByState  map[string]int `json:"count_by_state"`
	CountByMode   map[string]int `json:"count_by_mode"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for the audit engine. It is the
// single source of truth for job state; implementations must serialize
// concurrent writers per job and support the atomic dual-writes used by
// FireRule and FinishJob.
type Store interface {
	// Targets.
	CreateTarget(ctx context.Context, t *model.Target) error
	GetTarget(ctx context.Context, id string) (*model.Target, error)
	ListTargets(ctx context.Context) ([]*model.Target, error)
	ListTargetsByTags(ctx context.Context, tags []string) ([]*model.Target, error)
	UpdateTargetTags(ctx context.Context, id string, tags []string) error
	DeleteTarget(ctx context.Context, id string) error

	// Audit definitions. Each (id, version) pair is immutable; edits insert
	// a new version.
	CreateDefinition(ctx context.Context, d *model.AuditDefinition) error
	GetDefinition(ctx context.Context, id string) (*model.AuditDefinition, error)
	GetDefinitionVersion(ctx context.Context, id string, version int) (*model.AuditDefinition, error)
	ListDefinitions(ctx context.Context) ([]*model.AuditDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error

	// Schedule rules.
	CreateRule(ctx context.Context, r *model.ScheduleRule) error
	GetRule(ctx context.Context, id string) (*model.ScheduleRule, error)
	ListRules(ctx context.Context) ([]*model.ScheduleRule, error)
	ListEnabledRules(ctx context.Context) ([]*model.ScheduleRule, error)
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error
	DeleteRule(ctx context.Context, id string) error

	// FireRule materializes a scheduled job and advances the rule's
	// last-fired timestamp in one transaction, guarded on the stored
	// last-fired value. It reports false without error when the guard loses
	// (the rule already fired for this due interval).
	FireRule(ctx context.Context, ruleID string, firedAt time.Time, job *model.AuditJob) (bool, error)

	// Jobs.
	CreateJob(ctx context.Context, j *model.AuditJob) error
	GetJob(ctx context.Context, id string) (*model.AuditJob, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.AuditJob, int, error)
	ListJobsByState(ctx context.Context, states ...string) ([]*model.AuditJob, error)
	// StartJob transitions pending→running exactly once; subsequent calls
	// are no-ops so batch units may race to start their job.
	StartJob(ctx context.Context, id string, at time.Time) error
	// HasActiveJob reports whether a non-terminal job for the definition
	// already covers the target. targetID may be empty to match any target.
	HasActiveJob(ctx context.Context, definitionID, targetID string) (bool, error)
	// HasActiveJobForRule reports whether a rule's prior materialized job is
	// still non-terminal.
	HasActiveJobForRule(ctx context.Context, ruleID string) (bool, error)

	// Results.
	InsertCheckResult(ctx context.Context, r *model.CheckResult) error
	ListCheckResults(ctx context.Context, jobID string) ([]model.CheckResult, error)
	// FinishJob writes the job's terminal state and its JobResult in one
	// transaction; readers never observe one without the other. Finishing a
	// job that is already terminal returns ErrAlreadyTerminal, which is the
	// collector's idempotency gate.
	FinishJob(ctx context.Context, jobID, state, errMsg string, res *model.JobResult) error
	GetJobResult(ctx context.Context, jobID string) (*model.JobResult, error)

	GetJobStats(ctx context.Context) (*JobStats, error)
	Close() error
}
