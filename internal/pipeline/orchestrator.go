// Package pipeline implements the orchestrator (C9): the hot path that
// folds each document into feature state and the streaming clusterer, and
// the warm path that periodically drives co-occurrence, anomaly scoring,
// trend detection and pattern mining over a recent batch, publishing a
// consistent knowledge-state snapshot when it completes.
//
// Both paths run sequentially on the calling goroutine under the
// orchestrator's single mutex; there is no per-batch worker fan-out.
package pipeline

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/streamgraph/corepipeline/internal/anomaly"
	"github.com/streamgraph/corepipeline/internal/cluster"
	"github.com/streamgraph/corepipeline/internal/cooccur"
	"github.com/streamgraph/corepipeline/internal/document"
	"github.com/streamgraph/corepipeline/internal/features"
	"github.com/streamgraph/corepipeline/internal/graph"
	"github.com/streamgraph/corepipeline/internal/knowledge"
	"github.com/streamgraph/corepipeline/internal/pattern"
	"github.com/streamgraph/corepipeline/internal/ruleeval"
	"github.com/streamgraph/corepipeline/internal/trend"
	"github.com/streamgraph/corepipeline/pkg/logging"
	"github.com/streamgraph/corepipeline/pkg/telemetry"
)

// Config bounds the algorithms the orchestrator drives.
type Config struct {
	EntityKeyField   string
	AnomalyWeights   anomaly.Weights
	AnomalyThreshold anomaly.Thresholds
	DBSCAN           anomaly.DBSCANParams
	TrendThresholds  trend.Thresholds
	TrendWindow      int
	PatternConfig    pattern.Config
}

// DefaultConfig returns conservative defaults for every sub-algorithm.
func DefaultConfig() Config {
	return Config{
		EntityKeyField:   "memberCode",
		AnomalyWeights:   anomaly.DefaultWeights(),
		AnomalyThreshold: anomaly.DefaultThresholds(),
		DBSCAN:           anomaly.DefaultDBSCANParams(),
		TrendThresholds:  trend.DefaultThresholds(),
		TrendWindow:      trend.DefaultWindow,
		PatternConfig:    pattern.DefaultConfig(),
	}
}

// Orchestrator owns the shared pipeline state and drives the hot and warm
// paths against it. The feature accumulator and streaming clusterer share
// one mutex, held only for the duration of a hot batch or a warm pass, per
// spec.md §5.
type Orchestrator struct {
	mu sync.Mutex

	cfg      Config
	graph    *graph.Store
	features *features.Accumulator
	cluster  *cluster.KMeans
	cooccur  *cooccur.Store
	trends   *trend.Detector
	state    *knowledge.State
	log      *logging.Logger
}

// New wires an orchestrator over the given shared stores.
func New(cfg Config, g *graph.Store, acc *features.Accumulator, km *cluster.KMeans, co *cooccur.Store, state *knowledge.State, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.NewDefault("pipeline")
	}
	return &Orchestrator{
		cfg:      cfg,
		graph:    g,
		features: acc,
		cluster:  km,
		cooccur:  co,
		trends:   trend.NewDetector(cfg.TrendWindow, cfg.TrendThresholds),
		state:    state,
		log:      log,
	}
}

// HotConnect folds a batch of documents into feature state and the
// streaming clusterer, then publishes fresh cluster assignments. A nil or
// empty batch is a no-op.
func (o *Orchestrator) HotConnect(docs []document.Document) {
	if len(docs) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	touched := make(map[string]struct{})
	for _, doc := range docs {
		o.projectGraph(doc)
		if key, ok := o.features.Update(doc); ok {
			touched[key] = struct{}{}
		}
	}

	for key := range touched {
		vec, ok := o.features.ToFeatureVector(key)
		if !ok {
			continue
		}
		o.cluster.Update(key, vec)
	}

	telemetry.DocsProcessed.Add(float64(len(docs)))
	o.publishClusters()
}

// projectGraph upserts the member node and, based on the event-type
// classification shared with the feature accumulator, a secondary node and
// edge recording the observed relationship.
func (o *Orchestrator) projectGraph(doc document.Document) {
	key := doc.FieldString(o.cfg.EntityKeyField)
	if key == "" {
		return
	}
	segment := doc.FieldString("segment")
	if segment == "" {
		segment = doc.Timestamp.Format("2006-01-02")
	}

	member := o.graph.UpsertNode(graph.EntityMember, key, segment)
	lower := strings.ToLower(doc.EventType)

	switch {
	case strings.Contains(lower, "login"):
		if device := doc.FieldString("deviceId"); device != "" {
			d := o.graph.UpsertNode(graph.EntityDevice, device, segment)
			o.graph.AddEdge(member, d, graph.EdgeLoggedInFrom, segment)
		}
	case strings.Contains(lower, "game"):
		if name := doc.FieldString("gameName"); name != "" {
			g := o.graph.UpsertNode(graph.EntityGame, name, segment)
			o.graph.AddEdge(member, g, graph.EdgeOpenedGame, segment)
		}
	case strings.Contains(lower, "popup"):
		if name := doc.FieldString("gameName"); name != "" {
			g := o.graph.UpsertNode(graph.EntityGame, name, segment)
			o.graph.AddEdge(member, g, graph.EdgeSawPopup, segment)
		}
	case strings.Contains(lower, "error"):
		if name := doc.FieldString("gameName"); name != "" {
			g := o.graph.UpsertNode(graph.EntityGame, name, segment)
			o.graph.AddEdge(member, g, graph.EdgeHitError, segment)
		}
	}
}

func (o *Orchestrator) publishClusters() {
	clusters := make(map[string]int)
	for _, key := range o.features.Keys() {
		if idx, ok := o.cluster.GetCluster(key); ok {
			clusters[key] = idx
		}
	}

	centroids := o.cluster.Centroids()
	counts := o.cluster.ClusterCounts()
	info := make(map[int]knowledge.ClusterInfo, len(centroids))
	for i, c := range centroids {
		info[i] = knowledge.ClusterInfo{Centroid: c, MemberCount: counts[i]}
	}

	o.state.UpdateClusters(clusters, info)
}

// WarmCompute drives co-occurrence, anomaly scoring, trend detection and
// pattern mining over a batch of recently ingested documents, then publishes
// a consistent knowledge-state snapshot. It is not cancellable once started.
func (o *Orchestrator) WarmCompute(recentDocs []document.Document) {
	start := time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	next := o.state.Snapshot()

	o.updateCooccurrence(recentDocs)
	next.Cooccurrence = o.cooccurrenceSnapshot()

	entities, vectors, clusterOf := o.collectTrackedEntities()
	next.Anomalies = o.scoreAnomalies(entities, vectors, clusterOf, &next)

	batchMetrics := trend.BatchMetrics(recentDocs, o.cfg.EntityKeyField)
	next.Trends = o.detectTrends(batchMetrics, &next)

	next.PrefixSpanPatterns = o.minePatterns(recentDocs)

	o.state.Publish(next)
	telemetry.WarmPassDuration.Observe(time.Since(start).Seconds())
	telemetry.InsightQueueLength.Set(float64(len(next.Insights)))
}

func (o *Orchestrator) updateCooccurrence(docs []document.Document) {
	for _, doc := range docs {
		matrix := o.cooccur.Matrix(doc.EventType)
		values := make([]string, 0, len(doc.Fields))
		for name, v := range doc.Fields {
			if name == o.cfg.EntityKeyField || v.IsNull() {
				continue
			}
			values = append(values, name+"="+v.AsString())
		}
		sort.Strings(values)
		for i := 0; i < len(values); i++ {
			for j := i + 1; j < len(values); j++ {
				matrix.Observe(values[i], values[j])
			}
		}
	}
}

func (o *Orchestrator) cooccurrenceSnapshot() map[string][]cooccur.Pair {
	out := make(map[string][]cooccur.Pair)
	for _, eventType := range o.cooccur.EventTypes() {
		out[eventType] = o.cooccur.Matrix(eventType).Pairs()
	}
	return out
}

func (o *Orchestrator) collectTrackedEntities() (keys []string, vectors [][]float64, clusterOf map[string]int) {
	clusterOf = make(map[string]int)
	for _, key := range o.features.Keys() {
		vec, ok := o.features.ToFeatureVector(key)
		if !ok {
			continue
		}
		idx, _ := o.cluster.GetCluster(key)
		keys = append(keys, key)
		vectors = append(vectors, vec)
		clusterOf[key] = idx
	}
	return keys, vectors, clusterOf
}

func (o *Orchestrator) scoreAnomalies(keys []string, vectors [][]float64, clusterOf map[string]int, next *knowledge.Snapshot) map[string]anomaly.Score {
	scores := make(map[string]anomaly.Score, len(keys))
	if len(keys) == 0 {
		return scores
	}

	populationStats := anomaly.ComputePopulationStats(vectors)
	noise := anomaly.DBSCANNoise(vectors, o.cfg.DBSCAN)

	byCluster := make(map[int][]int) // cluster idx -> vector indices
	for i, key := range keys {
		byCluster[clusterOf[key]] = append(byCluster[clusterOf[key]], i)
	}
	clusterStats := make(map[int]anomaly.PopulationStats, len(byCluster))
	for idx, members := range byCluster {
		var vecs [][]float64
		for _, m := range members {
			vecs = append(vecs, vectors[m])
		}
		clusterStats[idx] = anomaly.ComputePopulationStats(vecs)
	}

	var neighborCounts []int
	for _, key := range keys {
		neighborCounts = append(neighborCounts, o.neighborCount(key))
	}
	fleetStats := anomaly.ComputePopulationStats(intsToVectors(neighborCounts))

	for i, key := range keys {
		vec := vectors[i]
		stats := clusterStats[clusterOf[key]]
		behavioral := anomaly.BehavioralSignal(vec, stats.Mean, stats.Stddev)
		statistical := anomaly.StatisticalSignal(vec, populationStats)
		dbscanNoise := 0.0
		if noise[i] {
			dbscanNoise = 1.0
		}
		graphSignal := anomaly.GraphSignal(neighborCounts[i], fleetStats.Mean[0], fleetStats.Stddev[0])

		score := anomaly.Composite(statistical, dbscanNoise, behavioral, graphSignal, o.cfg.AnomalyWeights, o.cfg.AnomalyThreshold)
		scores[key] = score

		if score.Classification == anomaly.Anomalous || score.Classification == anomaly.HighlyAnomalous {
			z := anomaly.ClusterRelativeZScore(vec, stats.Mean, stats.Stddev)
			severity := knowledge.SeverityInfo
			switch {
			case z > 4:
				severity = knowledge.SeverityCritical
			case z > 3:
				severity = knowledge.SeverityWarning
			}
			knowledge.AppendInsight(next, knowledge.NewInsight(
				"anomalous entity detected",
				key+" scored "+string(score.Classification)+" with composite "+floatStr(score.Composite),
				severity,
				[]string{key},
			))
		}
	}
	return scores
}

func (o *Orchestrator) neighborCount(key string) int {
	id, ok := o.graph.NodeByKey(graph.EntityMember, key)
	if !ok {
		return 0
	}
	return len(o.graph.OutEdges(id)) + len(o.graph.InEdges(id))
}

func intsToVectors(vals []int) [][]float64 {
	out := make([][]float64, len(vals))
	for i, v := range vals {
		out[i] = []float64{float64(v)}
	}
	return out
}

func (o *Orchestrator) detectTrends(batchMetrics map[string]float64, next *knowledge.Snapshot) map[string]trend.Trend {
	out := make(map[string]trend.Trend, len(batchMetrics))
	names := make([]string, 0, len(batchMetrics))
	for name := range batchMetrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := batchMetrics[name]
		t, emitted := o.trends.Observe(name, value)
		if !emitted {
			continue
		}
		out[name] = t
		if absFloat(t.ZScore) > 3 {
			knowledge.AppendInsight(next, knowledge.NewInsight(
				"metric trend detected",
				name+" moved to "+floatStr(value)+" ("+string(t.Direction)+", "+string(t.Severity)+")",
				knowledge.SeverityWarning,
				nil,
			))
		}
	}
	return out
}

func (o *Orchestrator) minePatterns(docs []document.Document) []pattern.Pattern {
	sorted := make([]document.Document, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	keys := make([]string, 0, len(sorted))
	types := make([]string, 0, len(sorted))
	for _, d := range sorted {
		key := d.FieldString(o.cfg.EntityKeyField)
		if key == "" {
			continue
		}
		keys = append(keys, key)
		types = append(types, d.EventType)
	}

	sessions := pattern.BuildSessions(keys, types)
	return pattern.Mine(sessions, o.cfg.PatternConfig)
}

// EvaluationSnapshot builds the point-in-time view the rule evaluator runs
// detection templates and signal composition against: the current feature
// vector and cluster assignment per tracked entity, the latest published
// per-signal anomaly breakdown, and the cluster centroids rules compare
// against for spike detection.
func (o *Orchestrator) EvaluationSnapshot() ruleeval.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := o.state.Snapshot()
	keys := o.features.Keys()

	entities := make(map[string]ruleeval.EntityData, len(keys))
	signalScores := make(map[string]map[string]float64, len(snap.Anomalies))
	vectors := make([][]float64, 0, len(keys))
	for _, key := range keys {
		vec, ok := o.features.ToFeatureVector(key)
		if !ok {
			continue
		}
		vectors = append(vectors, vec)

		idx, hasCluster := o.cluster.GetCluster(key)
		data := ruleeval.EntityData{Features: vec, ClusterIdx: idx, HasCluster: hasCluster}
		if score, ok := snap.Anomalies[key]; ok {
			data.CompositeScore = score.Composite
			perSignal := make(map[string]float64, len(score.Signals))
			for _, s := range score.Signals {
				perSignal[s.Name] = s.Value
			}
			signalScores[key] = perSignal
		}
		entities[key] = data
	}

	centroids := o.cluster.Centroids()
	counts := o.cluster.ClusterCounts()
	clusterStats := make(map[int]ruleeval.ClusterStat, len(centroids))
	for i, c := range centroids {
		var members int64
		if i < len(counts) {
			members = counts[i]
		}
		if members == 0 {
			continue
		}
		clusterStats[i] = ruleeval.ClusterStat{Centroid: c, MemberCount: members}
	}

	return ruleeval.Snapshot{
		Entities:     entities,
		ClusterStats: clusterStats,
		SignalScores: signalScores,
		GlobalMean:   anomaly.ComputePopulationStats(vectors).Mean,
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func floatStr(f float64) string {
	return strconv.FormatFloat(f, 'g', 4, 64)
}
