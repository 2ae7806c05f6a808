// Package report defines the handoff contract between the audit engine and
// the external reporting collaborator. The engine pushes finished job
// results through a Handler; rendering (HTML, PDF) happens on the other side.
package report

import (
	"context"
	"errors"
	"log/slog"

	"github.com/seantiz/warden/internal/model"
)

// ErrRetryLater signals that the reporting collaborator cannot accept the
// result right now and the engine should retry with backoff.
var ErrRetryLater = errors.New("report handoff: retry later")

// Handler receives finished job results. Deliver is invoked once per
// terminal job; the engine retries on ErrRetryLater or transport failure
// with exponential backoff up to a configured cap, after which the failure
// is logged and the result remains queryable through the job store.
type Handler interface {
	Deliver(ctx context.Context, res *model.JobResult) error
}

// LogHandler writes a summary of each finished result to the structured log.
// It is the default sink when no external collaborator is configured.
type LogHandler struct {
	Logger *slog.Logger
}

// Deliver logs the result summary. It never fails.
func (h *LogHandler) Deliver(_ context.Context, res *model.JobResult) error {
	h.Logger.Info("job result ready",
		"job_id", res.JobID,
		"status", res.Status,
		"targets", len(res.PerTarget),
		"checks", len(res.Checks),
	)
	return nil
}
