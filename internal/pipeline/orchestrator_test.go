package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamgraph/corepipeline/internal/cluster"
	"github.com/streamgraph/corepipeline/internal/cooccur"
	"github.com/streamgraph/corepipeline/internal/document"
	"github.com/streamgraph/corepipeline/internal/features"
	"github.com/streamgraph/corepipeline/internal/graph"
	"github.com/streamgraph/corepipeline/internal/knowledge"
)

func newTestOrchestrator() *Orchestrator {
	cfg := DefaultConfig()
	return New(cfg,
		graph.New(),
		features.New(cfg.EntityKeyField),
		cluster.New(3, features.Dim),
		cooccur.NewStore(),
		knowledge.New(),
		nil,
	)
}

func doc(id, eventType, memberCode string, ts time.Time, fields map[string]document.Value) document.Document {
	f := map[string]document.Value{"memberCode": document.Text(memberCode)}
	for k, v := range fields {
		f[k] = v
	}
	return document.Document{ID: id, Timestamp: ts, EventType: eventType, Fields: f}
}

func TestOrchestrator_WarmPass_PopulatesAnomaliesAndCooccurrence(t *testing.T) {
	o := newTestOrchestrator()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var docs []document.Document
	members := []string{"m1", "m2", "m3", "m4", "m5"}
	for i, m := range members {
		for j := 0; j < 4; j++ {
			ts := base.Add(time.Duration(i*4+j) * time.Hour)
			fields := map[string]document.Value{
				"gameName": document.Text("slots"),
				"platform": document.Text("mobile"),
				"vipGroup": document.Text("gold"),
			}
			eventType := "LoginEvent"
			if j == 1 {
				eventType = "GameOpenEvent"
			}
			if j == 2 {
				eventType = "PopupEvent"
			}
			if j == 3 {
				eventType = "ErrorEvent"
			}
			docs = append(docs, doc("d", eventType, m, ts, fields))
		}
	}
	require.Len(t, docs, 20)

	o.HotConnect(docs)
	o.WarmCompute(docs)

	snap := o.state.Snapshot()
	require.NotEmpty(t, snap.Cooccurrence)

	for _, m := range members {
		_, ok := snap.Anomalies[m]
		require.True(t, ok, "expected anomaly entry for %s", m)
	}
	require.LessOrEqual(t, len(snap.Insights), knowledge.MaxInsights)
}

func TestOrchestrator_HotConnect_EmptyBatchNoop(t *testing.T) {
	o := newTestOrchestrator()
	o.HotConnect(nil)
	snap := o.state.Snapshot()
	require.Empty(t, snap.Clusters)
}

func TestOrchestrator_HotConnect_IgnoresDocsWithMissingKey(t *testing.T) {
	o := newTestOrchestrator()
	docs := []document.Document{
		{ID: "a", EventType: "LoginEvent", Timestamp: time.Now(), Fields: map[string]document.Value{"memberCode": document.Text("")}},
	}
	o.HotConnect(docs)
	require.Empty(t, o.features.Keys())
}

func TestOrchestrator_ProjectsGraphEdgesOnHotConnect(t *testing.T) {
	o := newTestOrchestrator()
	ts := time.Now()
	docs := []document.Document{
		doc("a", "LoginEvent", "m1", ts, map[string]document.Value{"deviceId": document.Text("dev-1")}),
		doc("b", "GameOpenEvent", "m1", ts, map[string]document.Value{"gameName": document.Text("slots")}),
	}
	o.HotConnect(docs)

	memberID, ok := o.graph.NodeByKey(graph.EntityMember, "m1")
	require.True(t, ok)
	out := o.graph.OutEdges(memberID)
	require.Len(t, out, 2)
}

func TestOrchestrator_EvaluationSnapshot_CarriesFeaturesClustersAndSignals(t *testing.T) {
	o := newTestOrchestrator()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var docs []document.Document
	for i, m := range []string{"m1", "m2", "m3"} {
		ts := base.Add(time.Duration(i) * time.Hour)
		docs = append(docs, doc("d", "LoginEvent", m, ts, nil))
	}
	o.HotConnect(docs)
	o.WarmCompute(docs)

	snap := o.EvaluationSnapshot()
	require.Len(t, snap.Entities, 3)

	data, ok := snap.Entities["m1"]
	require.True(t, ok)
	require.Len(t, data.Features, features.Dim)
	require.True(t, data.HasCluster)

	signals, ok := snap.SignalScores["m1"]
	require.True(t, ok)
	require.Contains(t, signals, "statistical")
	require.Contains(t, signals, "behavioral")

	require.NotEmpty(t, snap.ClusterStats)
	require.Len(t, snap.GlobalMean, features.Dim)
}

func TestOrchestrator_EvaluationSnapshot_EmptyBeforeAnyDocs(t *testing.T) {
	o := newTestOrchestrator()
	snap := o.EvaluationSnapshot()
	require.Empty(t, snap.Entities)
	require.Empty(t, snap.ClusterStats)
}
