package model

import "time"

// Target is an addressable system under audit. Immutable once created except
// for tag updates. Jobs reference targets by id, never by embedded copy.
type Target struct {
	ID            string    `json:"id"`
	Host          string    `json:"host"`
	Port          int       `json:"port,omitempty"`
	CredentialRef string    `json:"credential_ref,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasTag reports whether the target carries the given tag.
func (t *Target) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}

// AuditDefinition is an ordered, versioned set of check references.
// Immutable after creation; edits create a new version so historical jobs
// stay reproducible.
type AuditDefinition struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	Checks    []string  `json:"checks"`
	CreatedAt time.Time `json:"created_at"`
}

// ScheduleRule is a recurring trigger that materializes scheduled jobs.
// LastFired is monotonically non-decreasing; it is advanced only by the
// scheduler, atomically with job materialization.
type ScheduleRule struct {
	ID           string     `json:"id"`
	DefinitionID string     `json:"definition_id"`
	TargetIDs    []string   `json:"target_ids,omitempty"`
	TagSelector  []string   `json:"tag_selector,omitempty"`
	IntervalS    int        `json:"interval_s"`
	Enabled      bool       `json:"enabled"`
	LastFired    *time.Time `json:"last_fired,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Due reports whether the rule should fire at the given instant.
func (r *ScheduleRule) Due(now time.Time) bool {
	if !r.Enabled || r.IntervalS <= 0 {
		return false
	}
	if r.LastFired == nil {
		return true
	}
	return !now.Before(r.LastFired.Add(time.Duration(r.IntervalS) * time.Second))
}
