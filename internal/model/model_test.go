package model

import (
	"regexp"
	"testing"
	"time"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidTransitions(t *testing.T) {
	allowed := []struct{ from, to string }{
		{StatePending, StateRunning},
		{StatePending, StateFailed},
		{StatePending, StateCancelled},
		{StateRunning, StateCompleted},
		{StateRunning, StatePartiallyFailed},
		{StateRunning, StateFailed},
		{StateRunning, StateCancelled},
	}
	for _, tr := range allowed {
		if !ValidTransition(tr.from, tr.to) {
			t.Errorf("ValidTransition(%q, %q) = false, want true", tr.from, tr.to)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	terminals := []string{StateCompleted, StatePartiallyFailed, StateFailed, StateCancelled}
	all := []string{
		StatePending, StateRunning, StateCompleted,
		StatePartiallyFailed, StateFailed, StateCancelled,
	}
	for _, from := range terminals {
		if !IsTerminal(from) {
			t.Errorf("IsTerminal(%q) = false, want true", from)
		}
		for _, to := range all {
			if ValidTransition(from, to) {
				t.Errorf("ValidTransition(%q, %q) = true, terminal states must not reopen", from, to)
			}
		}
	}
}

func TestPendingCannotComplete(t *testing.T) {
	// Running is entered exactly once; a job cannot jump pending→completed.
	if ValidTransition(StatePending, StateCompleted) {
		t.Error("pending→completed must not be allowed")
	}
	if ValidTransition(StatePending, StatePartiallyFailed) {
		t.Error("pending→partially_failed must not be allowed")
	}
}

func TestScheduleRuleDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fired := now.Add(-45 * time.Second)

	cases := []struct {
		name string
		rule ScheduleRule
		want bool
	}{
		{"disabled", ScheduleRule{Enabled: false, IntervalS: 60}, false},
		{"zero interval", ScheduleRule{Enabled: true, IntervalS: 0}, false},
		{"never fired", ScheduleRule{Enabled: true, IntervalS: 60}, true},
		{"not yet due", ScheduleRule{Enabled: true, IntervalS: 60, LastFired: &fired}, false},
		{"due", ScheduleRule{Enabled: true, IntervalS: 30, LastFired: &fired}, true},
	}
	for _, tc := range cases {
		if got := tc.rule.Due(now); got != tc.want {
			t.Errorf("%s: Due() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTargetHasTag(t *testing.T) {
	tgt := &Target{ID: NewID(), Host: "10.0.0.5", Tags: []string{"prod", "web"}}
	if !tgt.HasTag("prod") {
		t.Error("HasTag(prod) = false, want true")
	}
	if tgt.HasTag("db") {
		t.Error("HasTag(db) = true, want false")
	}
}
