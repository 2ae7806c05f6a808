package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/warden/internal/check"
	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/store"
)

// worker executes one unit at a time: the job's checks against one target,
// sequentially in definition order. Checks may depend on their
// predecessors' side effects, so there is no reordering.
type worker struct {
	store          store.Store
	checks         *check.Registry
	broker         *EventBroker
	logger         *slog.Logger
	defaultTimeout time.Duration
	abortThreshold int
}

// runUnit executes the unit to completion or abort and returns its
// aggregate status (clean, error, or cancelled). A unit is clean only when
// no check produced error or timeout; fail outcomes are valid audit results
// and stay clean.
func (w *worker) runUnit(u *unit, tr *jobTracker) string {
	jobID := u.job.ID
	targetID := u.target.ID

	// First unit to start moves the job to running; the store guard makes
	// the transition happen exactly once.
	if err := w.store.StartJob(context.Background(), jobID, time.Now().UTC()); err != nil {
		w.logger.Error("failed to transition job to running", "job_id", jobID, "error", err)
	}
	w.broker.Publish(jobID, Event{Type: EventUnitStarted, JobID: jobID, TargetID: targetID})

	checks := tr.def.Checks
	consecutive := 0
	errored := false
	cancelled := false

	for i, checkID := range checks {
		// Cooperative cancellation: observed between checks, never mid-check.
		if tr.cancelled.Load() {
			cancelled = true
			w.skipRemaining(u, checks[i:], i, "job cancelled")
			break
		}

		outcome, detail, duration := w.runCheck(checkID, u.target)
		w.record(u, checkID, i, outcome, detail, duration)

		if outcome == model.OutcomeError || outcome == model.OutcomeTimeout {
			errored = true
			consecutive++
			if w.abortThreshold > 0 && consecutive >= w.abortThreshold {
				// A stuck target must not stall the rest of the batch.
				if i+1 < len(checks) {
					w.skipRemaining(u, checks[i+1:], i+1, fmt.Sprintf("aborted after %d consecutive failures", consecutive))
				}
				break
			}
		} else {
			consecutive = 0
		}
	}

	status := model.TargetClean
	switch {
	case cancelled:
		status = model.TargetCancelled
	case errored:
		status = model.TargetError
	}

	w.broker.Publish(jobID, Event{
		Type:     EventUnitFinished,
		JobID:    jobID,
		TargetID: targetID,
		Outcome:  status,
	})
	return status
}

// runCheck resolves and executes a single check under its timeout,
// converting panics and context deadlines into engine-level outcomes.
func (w *worker) runCheck(checkID string, target *model.Target) (outcome, detail string, duration time.Duration) {
	impl, err := w.checks.Resolve(checkID)
	if err != nil {
		return model.OutcomeError, err.Error(), 0
	}

	timeout := impl.Timeout()
	if timeout <= 0 {
		timeout = w.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	outcome, detail, err = execute(ctx, impl, target)
	duration = time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return model.OutcomeTimeout, fmt.Sprintf("check timed out after %s", timeout), duration
		}
		return model.OutcomeError, err.Error(), duration
	}
	return outcome, detail, duration
}

// execute invokes the check, converting an unhandled panic into an error so
// one faulty check cannot take down the worker.
func execute(ctx context.Context, c check.Check, target *model.Target) (outcome, detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return c.Execute(ctx, target)
}

// record persists one check result and publishes its progress event.
func (w *worker) record(u *unit, checkID string, seq int, outcome, detail string, duration time.Duration) {
	result := &model.CheckResult{
		JobID:      u.job.ID,
		TargetID:   u.target.ID,
		CheckID:    checkID,
		Seq:        seq,
		Outcome:    outcome,
		Detail:     detail,
		DurationMS: int(duration.Milliseconds()),
		CreatedAt:  time.Now().UTC(),
	}
	if err := w.store.InsertCheckResult(context.Background(), result); err != nil {
		w.logger.Error("failed to persist check result",
			"job_id", u.job.ID, "target_id", u.target.ID, "check_id", checkID, "error", err)
	}

	checkDuration.WithLabelValues(checkID, outcome).Observe(duration.Seconds())
	w.broker.Publish(u.job.ID, Event{
		Type:     EventCheckFinished,
		JobID:    u.job.ID,
		TargetID: u.target.ID,
		CheckID:  checkID,
		Outcome:  outcome,
		Detail:   detail,
	})
}

// skipRemaining records the checks a truncated unit never ran as skipped,
// so a completed job's result always covers the full definition.
func (w *worker) skipRemaining(u *unit, checkIDs []string, firstSeq int, reason string) {
	for i, checkID := range checkIDs {
		w.record(u, checkID, firstSeq+i, model.OutcomeSkipped, reason, 0)
	}
}
