package knowledge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamgraph/corepipeline/internal/anomaly"
)

func TestState_SnapshotStartsEmpty(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	require.Empty(t, snap.Clusters)
	require.Empty(t, snap.Anomalies)
	require.True(t, snap.PublishedAt.IsZero())
}

func TestState_PublishReplacesSnapshot(t *testing.T) {
	s := New()
	next := emptySnapshot()
	next.Clusters = map[string]int{"m1": 2}
	s.Publish(next)

	snap := s.Snapshot()
	require.Equal(t, 2, snap.Clusters["m1"])
	require.False(t, snap.PublishedAt.IsZero())
}

func TestState_PublishCapsInsights(t *testing.T) {
	s := New()
	next := emptySnapshot()
	for i := 0; i < MaxInsights+10; i++ {
		next.Insights = append(next.Insights, NewInsight("t", "d", SeverityInfo, nil))
	}
	s.Publish(next)
	require.Len(t, s.Snapshot().Insights, MaxInsights)
}

func TestState_UpdateClustersLeavesOtherFieldsUntouched(t *testing.T) {
	s := New()
	base := emptySnapshot()
	base.Anomalies = map[string]anomaly.Score{"m1": {Composite: 0.1, Classification: anomaly.Normal}}
	s.Publish(base)

	s.UpdateClusters(map[string]int{"m1": 0}, map[int]ClusterInfo{0: {MemberCount: 1}})

	snap := s.Snapshot()
	require.Equal(t, 0, snap.Clusters["m1"])
	require.Len(t, snap.Anomalies, 1)
}

func TestAppendInsight_CapsQueue(t *testing.T) {
	snap := emptySnapshot()
	for i := 0; i < MaxInsights+5; i++ {
		AppendInsight(&snap, NewInsight("t", "d", SeverityInfo, nil))
	}
	require.Len(t, snap.Insights, MaxInsights)
}
