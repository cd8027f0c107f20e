// Package schedule implements the rule scheduler (C12): cron-window and
// cooldown arbitration of when anomaly rules are due to evaluate.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/streamgraph/corepipeline/internal/rules"
)

// lookbackWindow bounds how far before "now" a rule with no prior trigger
// is still considered to have a cron window open, so a rule added moments
// after its scheduled minute ticked over is not skipped until the next
// occurrence.
const lookbackWindow = 60 * time.Second

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Entry is one rule's scheduling state.
type Entry struct {
	RuleID        string
	Schedule      cron.Schedule
	Cooldown      time.Duration
	HasCooldown   bool
	Enabled       bool
	LastTriggered time.Time
	HasTriggered  bool
}

// ScheduleError reports a rule whose cron expression failed to parse. The
// rule is excluded from scheduling; other rules in the same sync are
// unaffected.
type ScheduleError struct {
	RuleID string
	Err    error
}

func (e ScheduleError) Error() string {
	return fmt.Sprintf("rule %s: invalid schedule: %v", e.RuleID, e.Err)
}

// Scheduler tracks per-rule cron schedules and cooldowns, arbitrating
// which rules are due to fire on each evaluation tick. All mutation
// happens through sync_rules/record_trigger calls driven by the single
// evaluation loop; callers should not sync concurrently with due_rules.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{entries: make(map[string]*Entry)}
}

// SyncRules reconciles the scheduler's entries against the given set of
// rules: adds new ids, removes ids no longer present, and updates the
// parsed cron/cooldown/enabled state of existing ids while preserving
// their last_triggered timestamp. Rules with an invalid cron expression
// are reported but do not abort the sync.
func (s *Scheduler) SyncRules(ruleSet []*rules.AnomalyRule) []ScheduleError {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []ScheduleError
	seen := make(map[string]bool, len(ruleSet))

	for _, r := range ruleSet {
		id := r.Metadata.ID
		seen[id] = true

		schedule, err := parser.Parse(NormalizeCron(r.Spec.Cron))
		if err != nil {
			errs = append(errs, ScheduleError{RuleID: id, Err: err})
			delete(s.entries, id)
			continue
		}

		cooldown, hasCooldown := ParseCooldown(r.Spec.Cooldown)

		existing, ok := s.entries[id]
		if !ok {
			s.entries[id] = &Entry{
				RuleID:      id,
				Schedule:    schedule,
				Cooldown:    cooldown,
				HasCooldown: hasCooldown,
				Enabled:     r.Spec.Enabled,
			}
			continue
		}

		existing.Schedule = schedule
		existing.Cooldown = cooldown
		existing.HasCooldown = hasCooldown
		existing.Enabled = r.Spec.Enabled
	}

	for id := range s.entries {
		if !seen[id] {
			delete(s.entries, id)
		}
	}

	return errs
}

// ShouldRun reports whether the named rule is due to evaluate at now.
func (s *Scheduler) ShouldRun(ruleID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[ruleID]
	if !ok {
		return false
	}
	return s.shouldRunLocked(entry, now)
}

func (s *Scheduler) shouldRunLocked(entry *Entry, now time.Time) bool {
	if !entry.Enabled {
		return false
	}

	if !entry.HasTriggered {
		next := entry.Schedule.Next(now.Add(-lookbackWindow))
		return !next.After(now)
	}

	next := entry.Schedule.Next(entry.LastTriggered)
	if next.After(now) {
		return false
	}
	if entry.HasCooldown && now.Sub(entry.LastTriggered) < entry.Cooldown {
		return false
	}
	return true
}

// DueRules returns the ids of every enabled rule due to evaluate at now.
// A rule whose cron window has been crossed multiple times since its
// last trigger is still returned at most once.
func (s *Scheduler) DueRules(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for id, entry := range s.entries {
		if s.shouldRunLocked(entry, now) {
			due = append(due, id)
		}
	}
	return due
}

// RecordTrigger marks a rule as triggered at the current wall-clock time.
func (s *Scheduler) RecordTrigger(ruleID string) {
	s.RecordTriggerAt(ruleID, time.Now())
}

// RecordTriggerAt marks a rule as triggered at an explicit timestamp, for
// tests and for replaying missed triggers.
func (s *Scheduler) RecordTriggerAt(ruleID string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[ruleID]
	if !ok {
		return
	}
	entry.LastTriggered = ts
	entry.HasTriggered = true
}

// Entry returns a copy of a rule's scheduling state, for diagnostics and
// the API projection.
func (s *Scheduler) Entry(ruleID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[ruleID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}
