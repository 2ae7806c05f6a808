package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/store"
)

// Scheduler evaluates enabled schedule rules on a fixed tick and
// materializes scheduled jobs for the rules that are due. The store's
// guarded FireRule keeps ticks idempotent: evaluating the same due interval
// twice materializes at most one job.
type Scheduler struct {
	store    store.Store
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	// now is swapped out by tests to drive time.
	now func() time.Time
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(s store.Store, e *Engine, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:    s,
		engine:   e,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled. The first evaluation happens after one
// full interval so a restart does not immediately refire rules the recovery
// sweep is still reconciling.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every enabled rule once. A rule whose prior job is still
// active, or whose targets are all occupied, misfires: the due firing is
// suppressed without advancing last-fired, so the rule fires on the next
// tick once the contention clears rather than silently skipping an interval.
func (s *Scheduler) Tick(ctx context.Context) {
	rules, err := s.store.ListEnabledRules(ctx)
	if err != nil {
		s.logger.Error("failed to list schedule rules", "error", err)
		return
	}

	now := s.now().UTC()
	for _, rule := range rules {
		if !rule.Due(now) {
			continue
		}
		s.fire(ctx, rule, now)
	}
}

// fire materializes one due rule into a scheduled job.
func (s *Scheduler) fire(ctx context.Context, rule *model.ScheduleRule, now time.Time) {
	active, err := s.store.HasActiveJobForRule(ctx, rule.ID)
	if err != nil {
		s.logger.Error("failed to probe rule's prior job", "rule_id", rule.ID, "error", err)
		return
	}
	if active {
		s.misfire(rule, "prior job still active")
		return
	}

	def, err := s.store.GetDefinition(ctx, rule.DefinitionID)
	if err != nil {
		s.logger.Error("rule references missing definition",
			"rule_id", rule.ID, "definition_id", rule.DefinitionID, "error", err)
		return
	}

	targets, err := s.resolveTargets(ctx, rule)
	if err != nil {
		s.logger.Error("failed to resolve rule targets", "rule_id", rule.ID, "error", err)
		return
	}
	if len(targets) == 0 {
		s.logger.Warn("rule matches no targets, skipping", "rule_id", rule.ID)
		return
	}

	targetIDs := make([]string, len(targets))
	for i, tgt := range targets {
		targetIDs[i] = tgt.ID
	}
	job := &model.AuditJob{
		ID:                model.NewID(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		TargetIDs:         targetIDs,
		Mode:              model.ModeScheduled,
		State:             model.StatePending,
		RuleID:            rule.ID,
		CreatedAt:         now,
	}

	// The engine holds its admission lock across the occupancy re-check and
	// the guarded fire, so a concurrent CreateJob cannot slip a job in for
	// the same (target, definition) between the two.
	fired, err := s.engine.fireScheduled(ctx, now, job, def, targets)
	if errors.Is(err, ErrTargetBusy) {
		s.misfire(rule, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to fire rule", "rule_id", rule.ID, "error", err)
		return
	}
	if !fired {
		// The guard lost: another evaluation already fired this interval.
		return
	}

	s.logger.Info("rule fired", "rule_id", rule.ID, "job_id", job.ID, "targets", len(targetIDs))
}

// resolveTargets returns the rule's explicit target list, or the current
// tag-selector match when the rule carries no explicit list.
func (s *Scheduler) resolveTargets(ctx context.Context, rule *model.ScheduleRule) ([]*model.Target, error) {
	if len(rule.TargetIDs) > 0 {
		targets := make([]*model.Target, 0, len(rule.TargetIDs))
		for _, id := range rule.TargetIDs {
			tgt, err := s.store.GetTarget(ctx, id)
			if err != nil {
				return nil, err
			}
			targets = append(targets, tgt)
		}
		return targets, nil
	}
	return s.store.ListTargetsByTags(ctx, rule.TagSelector)
}

func (s *Scheduler) misfire(rule *model.ScheduleRule, reason string) {
	schedulerMisfires.Inc()
	s.logger.Warn("rule misfired", "rule_id", rule.ID, "reason", reason)
}
