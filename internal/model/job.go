package model

import "time"

// Job state constants.
const (
	StatePending         = "pending"
	StateRunning         = "running"
	StateCompleted       = "completed"
	StatePartiallyFailed = "partially_failed"
	StateFailed          = "failed"
	StateCancelled       = "cancelled"
)

// Job mode constants.
const (
	ModeSingle    = "single"
	ModeBatch     = "batch"
	ModeScheduled = "scheduled"
)

// Check outcome constants.
const (
	OutcomePass    = "pass"
	OutcomeFail    = "fail"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeSkipped = "skipped"
)

// Per-target aggregate constants for JobResult.
const (
	TargetClean     = "clean"
	TargetError     = "error"
	TargetCancelled = "cancelled"
)

// JobResult overall status constants.
const (
	ResultComplete  = "complete"
	ResultPartial   = "partial"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

// validTransitions maps each job state to the set of states it may transition to.
// Terminal states have no outgoing edges; a terminal job never reopens.
var validTransitions = map[string]map[string]bool{
	StatePending: {
		StateRunning:   true,
		StateFailed:    true,
		StateCancelled: true,
	},
	StateRunning: {
		StateCompleted:       true,
		StatePartiallyFailed: true,
		StateFailed:          true,
		StateCancelled:       true,
	},
}

// ValidTransition reports whether transitioning from one job state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether the given job state is terminal.
func IsTerminal(state string) bool {
	switch state {
	case StateCompleted, StatePartiallyFailed, StateFailed, StateCancelled:
		return true
	}
	return false
}

// AuditJob represents one request to run an audit definition against one or
// more targets. Definition, targets, and mode are frozen at creation; only
// state, error, and timestamps mutate afterwards.
type AuditJob struct {
	ID                string     `json:"id"`
	DefinitionID      string     `json:"definition_id"`
	DefinitionVersion int        `json:"definition_version"`
	TargetIDs         []string   `json:"target_ids"`
	Mode              string     `json:"mode"`
	State             string     `json:"state"`
	RuleID            string     `json:"rule_id,omitempty"`
	Error             string     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// CheckResult is the outcome of a single check against a single target.
// Immutable once written.
type CheckResult struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	TargetID   string    `json:"target_id"`
	CheckID    string    `json:"check_id"`
	Seq        int       `json:"seq"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	DurationMS int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// JobResult is the immutable aggregated outcome of a terminal job. PerTarget
// maps each target id to its aggregate (clean, error, or cancelled).
type JobResult struct {
	JobID     string            `json:"job_id"`
	Status    string            `json:"status"`
	PerTarget map[string]string `json:"per_target"`
	Checks    []CheckResult     `json:"checks"`
	CreatedAt time.Time         `json:"created_at"`
}
