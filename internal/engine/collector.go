package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/report"
	"github.com/seantiz/warden/internal/store"
)

// deliveryTimeout bounds a single report handoff attempt.
const deliveryTimeout = time.Minute

// Collector aggregates per-unit outcomes into the job's terminal state,
// writes it atomically with the JobResult, and pushes the result to the
// reporting collaborator.
type Collector struct {
	store       store.Store
	reporter    report.Handler
	broker      *EventBroker
	logger      *slog.Logger
	maxRetries  int
	baseBackoff time.Duration

	wg sync.WaitGroup
}

// NewCollector creates a result collector delivering to reporter with at
// most maxRetries backoff retries per result.
func NewCollector(s store.Store, reporter report.Handler, broker *EventBroker, logger *slog.Logger, maxRetries int) *Collector {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Collector{
		store:       s,
		reporter:    reporter,
		broker:      broker,
		logger:      logger,
		maxRetries:  maxRetries,
		baseBackoff: time.Second,
	}
}

// Wait blocks until all in-flight report deliveries finish.
func (c *Collector) Wait() {
	c.wg.Wait()
}

// finish runs once per job, when its last unit completes.
func (c *Collector) finish(tr *jobTracker) {
	state, status, errMsg := aggregate(tr.cancelled.Load(), tr.statuses())
	c.finalize(tr.job.ID, state, errMsg, &model.JobResult{
		JobID:     tr.job.ID,
		Status:    status,
		PerTarget: tr.statuses(),
	})
}

// finalize persists the terminal state and its result atomically, then
// hands the full result off for reporting. The store's guarded terminal
// write is the idempotency gate: a duplicate completion notification hits
// ErrAlreadyTerminal and delivers nothing twice.
func (c *Collector) finalize(jobID, state, errMsg string, res *model.JobResult) {
	ctx := context.Background()
	defer c.broker.Close(jobID)

	err := c.store.FinishJob(ctx, jobID, state, errMsg, res)
	if errors.Is(err, store.ErrAlreadyTerminal) {
		return
	}
	if err != nil {
		// Never mark a job terminal in memory when the store could not
		// persist it; the recovery sweep resolves the ambiguity on restart.
		c.logger.Error("failed to persist terminal state, leaving job for recovery",
			"job_id", jobID, "state", state, "error", err)
		return
	}

	jobsFinished.WithLabelValues(state).Inc()
	c.logger.Info("job finished", "job_id", jobID, "state", state)

	full, err := c.store.GetJobResult(ctx, jobID)
	if err != nil {
		c.logger.Error("failed to load result for handoff", "job_id", jobID, "error", err)
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.deliver(full)
	}()
}

// deliver pushes the result to the reporting collaborator, retrying
// retryable failures with exponential backoff. Delivery is best-effort:
// exhausting retries never rolls back the terminal state, and the result
// stays queryable for a manual retry.
func (c *Collector) deliver(res *model.JobResult) {
	backoff := c.baseBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := c.reporter.Deliver(ctx, res)
		cancel()

		if err == nil {
			reportDeliveries.WithLabelValues("delivered").Inc()
			return
		}
		if !errors.Is(err, report.ErrRetryLater) {
			reportDeliveries.WithLabelValues("rejected").Inc()
			c.logger.Error("report handoff rejected", "job_id", res.JobID, "error", err)
			return
		}
		if attempt >= c.maxRetries {
			reportDeliveries.WithLabelValues("exhausted").Inc()
			c.logger.Error("report handoff gave up",
				"job_id", res.JobID, "attempts", attempt, "error", err)
			return
		}

		c.logger.Warn("report handoff retrying",
			"job_id", res.JobID, "attempt", attempt, "backoff", backoff.String())
		time.Sleep(backoff)
		backoff *= 2
	}
}

// aggregate folds per-target aggregates into the job's terminal state, its
// result status, and an operator-facing error summary. Individual check
// fails count as clean runs; only error/timeout units degrade the job.
// Mixed outcomes only arise in batch mode; a single-target job has exactly
// one unit.
func aggregate(cancelled bool, perTarget map[string]string) (state, status, errMsg string) {
	if cancelled {
		return model.StateCancelled, model.ResultCancelled, "cancelled by operator"
	}

	var clean, errored int
	for _, s := range perTarget {
		if s == model.TargetClean {
			clean++
		} else {
			errored++
		}
	}

	switch {
	case errored == 0:
		return model.StateCompleted, model.ResultComplete, ""
	case clean == 0:
		return model.StateFailed, model.ResultFailed,
			fmt.Sprintf("all %d targets errored", errored)
	default:
		return model.StatePartiallyFailed, model.ResultPartial,
			fmt.Sprintf("%d of %d targets errored", errored, clean+errored)
	}
}
