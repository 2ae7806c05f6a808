package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/warden/internal/check"
	"github.com/seantiz/warden/internal/config"
	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/report"
	"github.com/seantiz/warden/internal/store"
)

// ErrUnknownDefinition is returned when a job references a definition that
// does not exist.
var ErrUnknownDefinition = errors.New("unknown definition")

// ErrUnknownTarget is returned when a job references a target that does not
// exist.
var ErrUnknownTarget = errors.New("unknown target")

// ErrInvalidRequest is returned when a job request is malformed (bad mode,
// duplicate targets, empty target list).
var ErrInvalidRequest = errors.New("invalid job request")

// ErrTargetBusy is returned when a target cannot accept another job: either
// a non-terminal job for the same definition already covers it, or the
// reject busy policy found the target occupied.
var ErrTargetBusy = errors.New("target busy")

// DefaultCheckTimeout applies to checks that declare no timeout of their own.
const DefaultCheckTimeout = 30 * time.Second

// Options configures the engine.
type Options struct {
	// MaxConcurrent bounds concurrently running execution units.
	MaxConcurrent int
	// CheckTimeout is the default per-check deadline.
	CheckTimeout time.Duration
	// JobTimeout is the wall-clock ceiling per job; zero disables it.
	JobTimeout time.Duration
	// AbortThreshold is the consecutive error/timeout count that truncates
	// a unit; zero disables early abort.
	AbortThreshold int
	// BusyPolicy is config.BusyPolicyQueue or config.BusyPolicyReject.
	BusyPolicy string
	// ReportRetries caps handoff retry attempts.
	ReportRetries int
}

// Engine coordinates audit job execution: admission, dispatch, check
// execution, result collection, and report handoff.
type Engine struct {
	store      store.Store
	checks     *check.Registry
	logger     *slog.Logger
	broker     *EventBroker
	dispatcher *Dispatcher
	collector  *Collector
	jobTimeout time.Duration
	busyPolicy string

	// admission serializes job admission so the one-active-job-per-
	// (target, definition) invariant holds across concurrent CreateJob
	// calls.
	admission sync.Mutex
}

// New creates an engine executing checks from reg, persisting through s,
// and delivering finished results to reporter.
func New(s store.Store, reg *check.Registry, reporter report.Handler, logger *slog.Logger, opts Options) *Engine {
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}
	if opts.BusyPolicy == "" {
		opts.BusyPolicy = config.BusyPolicyQueue
	}

	broker := NewEventBroker()
	w := &worker{
		store:          s,
		checks:         reg,
		broker:         broker,
		logger:         logger,
		defaultTimeout: opts.CheckTimeout,
		abortThreshold: opts.AbortThreshold,
	}
	collector := NewCollector(s, reporter, broker, logger, opts.ReportRetries)

	e := &Engine{
		store:      s,
		checks:     reg,
		logger:     logger,
		broker:     broker,
		collector:  collector,
		jobTimeout: opts.JobTimeout,
		busyPolicy: opts.BusyPolicy,
	}
	e.dispatcher = NewDispatcher(opts.MaxConcurrent, w.runUnit, collector.finish, logger)
	return e
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Checks returns the engine's check registry.
func (e *Engine) Checks() *check.Registry {
	return e.checks
}

// Wait blocks until all in-flight units and report deliveries complete.
func (e *Engine) Wait() {
	e.dispatcher.Wait()
	e.collector.Wait()
}

// CreateJob validates and admits a new job, persists it as pending, and
// enqueues its units. Mode may be empty, in which case it is inferred from
// the target count.
func (e *Engine) CreateJob(ctx context.Context, definitionID string, targetIDs []string, mode string) (*model.AuditJob, error) {
	if len(targetIDs) == 0 {
		return nil, fmt.Errorf("at least one target is required: %w", ErrInvalidRequest)
	}
	switch mode {
	case "":
		mode = model.ModeSingle
		if len(targetIDs) > 1 {
			mode = model.ModeBatch
		}
	case model.ModeSingle:
		if len(targetIDs) != 1 {
			return nil, fmt.Errorf("single mode requires exactly one target, got %d: %w", len(targetIDs), ErrInvalidRequest)
		}
	case model.ModeBatch:
	default:
		return nil, fmt.Errorf("unsupported mode %q: %w", mode, ErrInvalidRequest)
	}

	seen := make(map[string]bool, len(targetIDs))
	for _, id := range targetIDs {
		if seen[id] {
			return nil, fmt.Errorf("duplicate target %s: %w", id, ErrInvalidRequest)
		}
		seen[id] = true
	}

	def, err := e.store.GetDefinition(ctx, definitionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("definition %s: %w", definitionID, ErrUnknownDefinition)
	}
	if err != nil {
		return nil, err
	}

	targets := make([]*model.Target, 0, len(targetIDs))
	for _, id := range targetIDs {
		tgt, err := e.store.GetTarget(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("target %s: %w", id, ErrUnknownTarget)
		}
		if err != nil {
			return nil, err
		}
		targets = append(targets, tgt)
	}

	e.admission.Lock()
	defer e.admission.Unlock()

	for _, id := range targetIDs {
		busy, err := e.store.HasActiveJob(ctx, def.ID, id)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, fmt.Errorf("target %s already has an active %s job: %w", id, def.ID, ErrTargetBusy)
		}
	}
	if e.busyPolicy == config.BusyPolicyReject && e.dispatcher.TargetsBusy(targetIDs) {
		return nil, fmt.Errorf("busy policy rejects submission: %w", ErrTargetBusy)
	}

	job := &model.AuditJob{
		ID:                model.NewID(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		TargetIDs:         targetIDs,
		Mode:              mode,
		State:             model.StatePending,
		CreatedAt:         time.Now().UTC(),
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	e.launch(job, def, targets)
	return job, nil
}

// fireScheduled admits a scheduler-materialized job. The occupancy re-check
// and the guarded rule fire happen under the same admission lock CreateJob
// holds, so the two admission paths cannot interleave and admit two
// non-terminal jobs for one (target, definition). Returns whether the rule
// actually fired; a busy target returns ErrTargetBusy without advancing
// last-fired.
func (e *Engine) fireScheduled(ctx context.Context, now time.Time, job *model.AuditJob, def *model.AuditDefinition, targets []*model.Target) (bool, error) {
	e.admission.Lock()
	defer e.admission.Unlock()

	for _, tgt := range targets {
		busy, err := e.store.HasActiveJob(ctx, def.ID, tgt.ID)
		if err != nil {
			return false, err
		}
		if busy {
			return false, fmt.Errorf("target %s already has an active %s job: %w", tgt.ID, def.ID, ErrTargetBusy)
		}
	}

	fired, err := e.store.FireRule(ctx, job.RuleID, now, job)
	if err != nil {
		return false, fmt.Errorf("fire rule %s: %w", job.RuleID, err)
	}
	if !fired {
		return false, nil
	}
	e.launch(job, def, targets)
	return true, nil
}

// launch tracks the job and hands its units to the dispatcher. Used by
// CreateJob, the scheduler, and the recovery sweep.
func (e *Engine) launch(job *model.AuditJob, def *model.AuditDefinition, targets []*model.Target) {
	tr := newJobTracker(job, def)
	if e.jobTimeout > 0 {
		tr.timer = time.AfterFunc(e.jobTimeout, func() {
			if e.dispatcher.Cancel(job.ID) {
				e.logger.Warn("job exceeded wall-clock ceiling, cancelling",
					"job_id", job.ID, "ceiling", e.jobTimeout.String())
			}
		})
	}
	e.dispatcher.Submit(tr, targets)
}

// CancelJob requests cooperative cancellation. In-flight checks finish
// before their units stop; the job then reaches the cancelled terminal
// state. Returns store.ErrAlreadyTerminal when the job has already finished.
func (e *Engine) CancelJob(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if model.IsTerminal(job.State) {
		return fmt.Errorf("job %s in state %s: %w", jobID, job.State, store.ErrAlreadyTerminal)
	}

	if e.dispatcher.Cancel(jobID) {
		return nil
	}

	// Not tracked in this process (persisted before a restart); finalize
	// directly.
	perTarget := make(map[string]string, len(job.TargetIDs))
	for _, id := range job.TargetIDs {
		perTarget[id] = model.TargetCancelled
	}
	e.collector.finalize(jobID, model.StateCancelled, "cancelled by operator", &model.JobResult{
		JobID:     jobID,
		Status:    model.ResultCancelled,
		PerTarget: perTarget,
	})
	return nil
}

// TargetStatus summarizes one target's progress within a job.
type TargetStatus struct {
	TargetID string         `json:"target_id"`
	Recorded int            `json:"checks_recorded"`
	Outcomes map[string]int `json:"outcomes"`
}

// JobStatus is the operator-facing view of a job: its record plus
// per-target progress derived from persisted check results.
type JobStatus struct {
	Job       *model.AuditJob `json:"job"`
	PerTarget []TargetStatus  `json:"per_target"`
}

// GetJobStatus returns the job and its per-target progress.
func (e *Engine) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	results, err := e.store.ListCheckResults(ctx, jobID)
	if err != nil {
		return nil, err
	}

	byTarget := make(map[string]*TargetStatus, len(job.TargetIDs))
	perTarget := make([]TargetStatus, len(job.TargetIDs))
	for i, id := range job.TargetIDs {
		perTarget[i] = TargetStatus{TargetID: id, Outcomes: make(map[string]int)}
		byTarget[id] = &perTarget[i]
	}
	for _, r := range results {
		ts, ok := byTarget[r.TargetID]
		if !ok {
			continue
		}
		ts.Recorded++
		ts.Outcomes[r.Outcome]++
	}

	return &JobStatus{Job: job, PerTarget: perTarget}, nil
}

// GetJobResult returns the immutable result of a terminal job.
func (e *Engine) GetJobResult(ctx context.Context, jobID string) (*model.JobResult, error) {
	return e.store.GetJobResult(ctx, jobID)
}

// Recover reconciles stored job state after a restart: pending jobs are
// resubmitted to the dispatcher; jobs interrupted while running are
// finalized as failed with their persisted partial results, keeping the
// terminal-notification guarantee instead of leaving them running forever.
func (e *Engine) Recover(ctx context.Context) error {
	pending, err := e.store.ListJobsByState(ctx, model.StatePending)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	for _, job := range pending {
		def, targets, err := e.resolveJobRefs(ctx, job)
		if err != nil {
			e.logger.Error("cannot resubmit pending job", "job_id", job.ID, "error", err)
			e.finalizeInterrupted(ctx, job, fmt.Sprintf("unresolvable after restart: %v", err))
			continue
		}
		e.logger.Info("resubmitting pending job", "job_id", job.ID)
		e.launch(job, def, targets)
	}

	running, err := e.store.ListJobsByState(ctx, model.StateRunning)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	for _, job := range running {
		e.logger.Warn("finalizing job interrupted by restart", "job_id", job.ID)
		e.finalizeInterrupted(ctx, job, "interrupted by engine restart")
	}
	return nil
}

// resolveJobRefs loads the job's frozen definition version and its targets.
func (e *Engine) resolveJobRefs(ctx context.Context, job *model.AuditJob) (*model.AuditDefinition, []*model.Target, error) {
	def, err := e.store.GetDefinitionVersion(ctx, job.DefinitionID, job.DefinitionVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("definition %s v%d: %w", job.DefinitionID, job.DefinitionVersion, err)
	}
	targets := make([]*model.Target, 0, len(job.TargetIDs))
	for _, id := range job.TargetIDs {
		tgt, err := e.store.GetTarget(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("target %s: %w", id, err)
		}
		targets = append(targets, tgt)
	}
	return def, targets, nil
}

// finalizeInterrupted marks an orphaned job failed, recording never-run
// checks as skipped so the result still covers the full definition.
func (e *Engine) finalizeInterrupted(ctx context.Context, job *model.AuditJob, reason string) {
	var defChecks []string
	if def, err := e.store.GetDefinitionVersion(ctx, job.DefinitionID, job.DefinitionVersion); err == nil {
		defChecks = def.Checks
	}

	results, err := e.store.ListCheckResults(ctx, job.ID)
	if err != nil {
		e.logger.Error("cannot load partial results", "job_id", job.ID, "error", err)
	}
	recorded := make(map[string]int, len(job.TargetIDs))
	sawError := make(map[string]bool, len(job.TargetIDs))
	for _, r := range results {
		recorded[r.TargetID]++
		if r.Outcome == model.OutcomeError || r.Outcome == model.OutcomeTimeout {
			sawError[r.TargetID] = true
		}
	}

	perTarget := make(map[string]string, len(job.TargetIDs))
	for _, id := range job.TargetIDs {
		perTarget[id] = model.TargetError
		if !sawError[id] && len(defChecks) > 0 && recorded[id] == len(defChecks) {
			perTarget[id] = model.TargetClean
		}
		for seq := recorded[id]; seq < len(defChecks); seq++ {
			e.recordSkipped(ctx, job.ID, id, defChecks[seq], seq, reason)
		}
	}

	e.collector.finalize(job.ID, stateForInterrupted(job), reason, &model.JobResult{
		JobID:     job.ID,
		Status:    model.ResultFailed,
		PerTarget: perTarget,
	})
}

// stateForInterrupted picks the legal terminal transition for an orphaned
// job: pending jobs cancel, running jobs fail.
func stateForInterrupted(job *model.AuditJob) string {
	if job.State == model.StatePending {
		return model.StateCancelled
	}
	return model.StateFailed
}

func (e *Engine) recordSkipped(ctx context.Context, jobID, targetID, checkID string, seq int, reason string) {
	err := e.store.InsertCheckResult(ctx, &model.CheckResult{
		JobID:     jobID,
		TargetID:  targetID,
		CheckID:   checkID,
		Seq:       seq,
		Outcome:   model.OutcomeSkipped,
		Detail:    reason,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("failed to record skipped check", "job_id", jobID, "check_id", checkID, "error", err)
	}
}
