package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamgraph/corepipeline/internal/rules"
)

func anomalyRule(id, cron, cooldown string, enabled bool) *rules.AnomalyRule {
	r := &rules.AnomalyRule{}
	r.Metadata.ID = id
	r.Spec.Cron = cron
	r.Spec.Cooldown = cooldown
	r.Spec.Enabled = enabled
	return r
}

func TestNormalizeCron_LeftExtendsFiveField(t *testing.T) {
	require.Equal(t, "0 */5 * * * *", NormalizeCron("*/5 * * * *"))
	require.Equal(t, "30 */5 * * * *", NormalizeCron("30 */5 * * * *"))
}

func TestNormalizeCron_Idempotent(t *testing.T) {
	expr := "*/5 * * * *"
	once := NormalizeCron(expr)
	require.Equal(t, once, NormalizeCron(once))
}

func TestParseCooldown_CompoundDuration(t *testing.T) {
	d, ok := ParseCooldown("1d2h30m15s")
	require.True(t, ok)
	require.Equal(t, 24*time.Hour+2*time.Hour+30*time.Minute+15*time.Second, d)
}

func TestParseCooldown_BareIntegerIsSeconds(t *testing.T) {
	d, ok := ParseCooldown("90")
	require.True(t, ok)
	require.Equal(t, 90*time.Second, d)
}

func TestParseCooldown_EmptyOrInvalidIsNoCooldown(t *testing.T) {
	_, ok := ParseCooldown("")
	require.False(t, ok)
	_, ok = ParseCooldown("not-a-duration")
	require.False(t, ok)
}

func TestScheduler_SyncRules_AddsUpdatesRemoves(t *testing.T) {
	s := New()
	errs := s.SyncRules([]*rules.AnomalyRule{
		anomalyRule("r1", "*/5 * * * *", "30m", true),
		anomalyRule("r2", "* * * * *", "", true),
	})
	require.Empty(t, errs)

	e1, ok := s.Entry("r1")
	require.True(t, ok)
	require.True(t, e1.HasCooldown)

	now := time.Now()
	s.RecordTriggerAt("r1", now)

	errs = s.SyncRules([]*rules.AnomalyRule{
		anomalyRule("r1", "*/10 * * * *", "1h", false),
	})
	require.Empty(t, errs)

	_, ok = s.Entry("r2")
	require.False(t, ok, "r2 removed from sync set should be dropped")

	e1, ok = s.Entry("r1")
	require.True(t, ok)
	require.False(t, e1.Enabled)
	require.Equal(t, time.Hour, e1.Cooldown)
	require.True(t, e1.HasTriggered)
	require.WithinDuration(t, now, e1.LastTriggered, time.Second, "last_triggered preserved across sync")
}

func TestScheduler_SyncRules_InvalidCronReportsError(t *testing.T) {
	s := New()
	errs := s.SyncRules([]*rules.AnomalyRule{
		anomalyRule("bad", "not a cron", "", true),
		anomalyRule("good", "* * * * *", "", true),
	})
	require.Len(t, errs, 1)
	require.Equal(t, "bad", errs[0].RuleID)

	_, ok := s.Entry("good")
	require.True(t, ok)
	_, ok = s.Entry("bad")
	require.False(t, ok)
}

func TestScheduler_ShouldRun_DisabledIsFalse(t *testing.T) {
	s := New()
	s.SyncRules([]*rules.AnomalyRule{anomalyRule("r1", "* * * * * *", "", false)})
	require.False(t, s.ShouldRun("r1", time.Now()))
}

func TestScheduler_ShouldRun_NoPriorTriggerUsesLookbackWindow(t *testing.T) {
	s := New()
	s.SyncRules([]*rules.AnomalyRule{anomalyRule("r1", "* * * * * *", "", true)})
	require.True(t, s.ShouldRun("r1", time.Now()), "every-second cron should always be due with no prior trigger")
}

func TestScheduler_ShouldRun_CooldownArbitration(t *testing.T) {
	s := New()
	s.SyncRules([]*rules.AnomalyRule{anomalyRule("r1", "*/5 * * * *", "30m", true)})

	trigger := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.RecordTriggerAt("r1", trigger)

	require.False(t, s.ShouldRun("r1", trigger.Add(5*time.Minute)), "within cooldown window")
	require.True(t, s.ShouldRun("r1", trigger.Add(31*time.Minute)), "cooldown elapsed and cron window open")
}

func TestScheduler_DueRules_OncePerTickRegardlessOfMultipleWindows(t *testing.T) {
	s := New()
	s.SyncRules([]*rules.AnomalyRule{anomalyRule("r1", "* * * * * *", "", true)})

	trigger := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.RecordTriggerAt("r1", trigger)

	due := s.DueRules(trigger.Add(10 * time.Second))
	require.Len(t, due, 1)
	require.Equal(t, "r1", due[0])
}

func TestScheduler_RecordTrigger_UnknownRuleIsNoop(t *testing.T) {
	s := New()
	s.RecordTriggerAt("ghost", time.Now())
	_, ok := s.Entry("ghost")
	require.False(t, ok)
}
