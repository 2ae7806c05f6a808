package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/warden/internal/model"
)

// unit is the execution of one job's checks against exactly one target.
type unit struct {
	job    *model.AuditJob
	target *model.Target
	pos    int // position in the job's target list
}

// jobTracker holds the in-flight bookkeeping for one job: its frozen
// definition, the resolved targets, the per-unit outcomes, and the shared
// cancellation flag units observe between checks.
type jobTracker struct {
	job *model.AuditJob
	def *model.AuditDefinition

	cancelled atomic.Bool
	timer     *time.Timer

	mu         sync.Mutex
	remaining  int
	unitStatus map[string]string // target id → clean | error | cancelled
}

func newJobTracker(job *model.AuditJob, def *model.AuditDefinition) *jobTracker {
	return &jobTracker{
		job:        job,
		def:        def,
		remaining:  len(job.TargetIDs),
		unitStatus: make(map[string]string, len(job.TargetIDs)),
	}
}

// cancel requests cooperative cancellation. Units observe the flag between
// checks; an in-flight check finishes first.
func (t *jobTracker) cancel() {
	t.cancelled.Store(true)
}

// finishUnit records one unit's aggregate and reports whether it was the
// job's last.
func (t *jobTracker) finishUnit(targetID, status string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unitStatus[targetID] = status
	t.remaining--
	return t.remaining == 0
}

// statuses returns a copy of the per-target aggregates.
func (t *jobTracker) statuses() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.unitStatus))
	for k, v := range t.unitStatus {
		out[k] = v
	}
	return out
}

func (t *jobTracker) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Dispatcher owns the unit queue. It starts units in FIFO order (job
// creation order, batch units in target-list position order) whenever the
// global concurrency bound has room and the unit's target is free. A unit
// whose target is busy never blocks units behind it that touch free
// targets.
type Dispatcher struct {
	maxConcurrent int
	runUnit       func(u *unit, tr *jobTracker) string
	onJobDone     func(tr *jobTracker)
	logger        *slog.Logger

	mu       sync.Mutex
	running  int
	busy     map[string]bool // target id → a unit holds the target's slot
	pending  []*unit
	trackers map[string]*jobTracker
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given global concurrency
// bound. runUnit executes one unit and returns its aggregate status;
// onJobDone fires exactly once when a job's last unit finishes.
func NewDispatcher(maxConcurrent int, runUnit func(*unit, *jobTracker) string, onJobDone func(*jobTracker), logger *slog.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		maxConcurrent: maxConcurrent,
		runUnit:       runUnit,
		onJobDone:     onJobDone,
		logger:        logger,
		busy:          make(map[string]bool),
		trackers:      make(map[string]*jobTracker),
	}
}

// Submit fans the tracked job out into one unit per target and enqueues
// them. Units are appended in target-list order behind all earlier jobs'
// units.
func (d *Dispatcher) Submit(tr *jobTracker, targets []*model.Target) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.trackers[tr.job.ID] = tr
	for i, tgt := range targets {
		d.pending = append(d.pending, &unit{job: tr.job, target: tgt, pos: i})
	}
	unitsQueued.Add(float64(len(targets)))
	d.pump()
}

// TargetsBusy reports whether any of the given targets currently holds or
// waits for an execution slot. The reject busy policy consults this before
// admitting a job.
func (d *Dispatcher) TargetsBusy(targetIDs []string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	queued := make(map[string]bool, len(d.pending))
	for _, u := range d.pending {
		queued[u.target.ID] = true
	}
	for _, id := range targetIDs {
		if d.busy[id] || queued[id] {
			return true
		}
	}
	return false
}

// Cancel flags the job for cooperative cancellation. It reports false when
// the job is not tracked by this dispatcher.
func (d *Dispatcher) Cancel(jobID string) bool {
	d.mu.Lock()
	tr, ok := d.trackers[jobID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	tr.cancel()
	return true
}

// Wait blocks until all in-flight units complete.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// pump scans the pending queue in FIFO order and starts every unit that can
// acquire both a global slot and its target's lock. Callers must hold d.mu.
func (d *Dispatcher) pump() {
	for i := 0; i < len(d.pending); {
		if d.running >= d.maxConcurrent {
			return
		}
		u := d.pending[i]
		if d.busy[u.target.ID] {
			// Target held by an older unit; later units on other targets
			// may still proceed.
			i++
			continue
		}

		d.pending = append(d.pending[:i], d.pending[i+1:]...)
		d.busy[u.target.ID] = true
		d.running++
		unitsQueued.Dec()
		unitsRunning.Inc()

		tr := d.trackers[u.job.ID]
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.execute(u, tr)
		}()
	}
}

// execute runs one unit, releases its slots, and finalizes the job when the
// last unit reports in.
func (d *Dispatcher) execute(u *unit, tr *jobTracker) {
	status := d.runUnit(u, tr)

	d.mu.Lock()
	delete(d.busy, u.target.ID)
	d.running--
	unitsRunning.Dec()
	d.pump()
	d.mu.Unlock()

	if tr.finishUnit(u.target.ID, status) {
		d.mu.Lock()
		delete(d.trackers, tr.job.ID)
		d.mu.Unlock()
		tr.stopTimer()
		d.onJobDone(tr)
	}
}
