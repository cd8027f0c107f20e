package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLog_QueryUnknownRuleIsEmpty(t *testing.T) {
	l := New(10)
	require.Empty(t, l.Query("ghost", Query{}, time.Now()))
}

func TestLog_QueryReturnsNewestFirst(t *testing.T) {
	l := New(10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		l.Append("r1", Entry{Time: base.Add(time.Duration(i) * time.Minute), Level: Info, Message: "m"})
	}
	out := l.Query("r1", Query{}, base.Add(10*time.Minute))
	require.Len(t, out, 3)
	require.True(t, out[0].Time.After(out[1].Time))
	require.True(t, out[1].Time.After(out[2].Time))
}

func TestLog_CapacityEvictsOldest(t *testing.T) {
	l := New(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		l.Append("r1", Entry{Time: base.Add(time.Duration(i) * time.Minute), Message: "m"})
	}
	out := l.Query("r1", Query{}, base.Add(time.Hour))
	require.Len(t, out, 3)
	require.Equal(t, base.Add(4*time.Minute), out[0].Time)
	require.Equal(t, base.Add(2*time.Minute), out[2].Time)
}

func TestLog_QueryFiltersByMinLevel(t *testing.T) {
	l := New(10)
	now := time.Now()
	l.Append("r1", Entry{Time: now, Level: Debug, Message: "debug"})
	l.Append("r1", Entry{Time: now, Level: Error, Message: "error"})

	out := l.Query("r1", Query{MinLevel: Warning}, now)
	require.Len(t, out, 1)
	require.Equal(t, Error, out[0].Level)
}

func TestLog_QueryFiltersByPhase(t *testing.T) {
	l := New(10)
	now := time.Now()
	l.Append("r1", Entry{Time: now, Phase: "evaluate", Message: "a"})
	l.Append("r1", Entry{Time: now, Phase: "dispatch", Message: "b"})

	out := l.Query("r1", Query{Phase: "dispatch"}, now)
	require.Len(t, out, 1)
	require.Equal(t, "b", out[0].Message)
}

func TestLog_QueryFiltersBySince(t *testing.T) {
	l := New(10)
	now := time.Now()
	l.Append("r1", Entry{Time: now.Add(-2 * time.Hour), Message: "old"})
	l.Append("r1", Entry{Time: now.Add(-1 * time.Minute), Message: "recent"})

	out := l.Query("r1", Query{Since: 10 * time.Minute}, now)
	require.Len(t, out, 1)
	require.Equal(t, "recent", out[0].Message)
}

func TestLog_QueryRespectsLimit(t *testing.T) {
	l := New(10)
	now := time.Now()
	for i := 0; i < 5; i++ {
		l.Append("r1", Entry{Time: now.Add(time.Duration(i) * time.Second), Message: "m"})
	}
	out := l.Query("r1", Query{Limit: 2}, now.Add(time.Minute))
	require.Len(t, out, 2)
}

func TestLog_RulesAreIndependent(t *testing.T) {
	l := New(10)
	now := time.Now()
	l.Append("r1", Entry{Time: now, Message: "r1-entry"})
	l.Append("r2", Entry{Time: now, Message: "r2-entry"})

	require.Len(t, l.Query("r1", Query{}, now), 1)
	require.Len(t, l.Query("r2", Query{}, now), 1)
}
