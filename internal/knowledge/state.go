// Package knowledge implements the shared derived-state snapshot (C8): the
// single published view every consumer (HTTP surface, rule evaluator) reads
// from, published as a fresh struct under a reader-writer lock so readers
// never observe a partially-updated snapshot.
package knowledge

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamgraph/corepipeline/internal/anomaly"
	"github.com/streamgraph/corepipeline/internal/cooccur"
	"github.com/streamgraph/corepipeline/internal/pattern"
	"github.com/streamgraph/corepipeline/internal/trend"
)

// Severity classifies an Insight.
type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeverityWarning  Severity = "Warning"
	SeverityCritical Severity = "Critical"
)

// Insight is a human-readable record surfaced by the warm pipeline.
type Insight struct {
	ID             string
	Title          string
	Description    string
	Severity       Severity
	CreatedAt      time.Time
	RelatedEntities []string
}

// MaxInsights bounds the insight queue; oldest entries are evicted first.
const MaxInsights = 10000

// ClusterInfo summarizes one cluster for external consumption.
type ClusterInfo struct {
	Centroid     []float64
	MemberCount  int64
	Label        string
}

// Snapshot is the full set of derived artifacts as of the last completed
// warm pass.
type Snapshot struct {
	Clusters            map[string]int
	ClusterInfo         map[int]ClusterInfo
	Degrees             map[string]int
	Anomalies           map[string]anomaly.Score
	Cooccurrence        map[string][]cooccur.Pair
	Trends              map[string]trend.Trend
	PrefixSpanPatterns  []pattern.Pattern
	Insights            []Insight
	PublishedAt         time.Time
}

// emptySnapshot returns a zero-value snapshot with initialized maps, so
// readers never have to nil-check before ranging.
func emptySnapshot() Snapshot {
	return Snapshot{
		Clusters:     make(map[string]int),
		ClusterInfo:  make(map[int]ClusterInfo),
		Degrees:      make(map[string]int),
		Anomalies:    make(map[string]anomaly.Score),
		Cooccurrence: make(map[string][]cooccur.Pair),
		Trends:       make(map[string]trend.Trend),
	}
}

// State holds the current published Snapshot behind a reader-writer lock.
// The pipeline orchestrator is the sole writer; the HTTP surface and the
// rule evaluator are readers.
type State struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// New constructs an empty knowledge state.
func New() *State {
	return &State{snapshot: emptySnapshot()}
}

// Snapshot returns the current published snapshot. The returned value is a
// shallow copy of the struct; callers must not mutate its maps/slices.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Publish atomically replaces the current snapshot. Callers build the next
// snapshot off to the side (typically starting from a copy via Snapshot())
// and publish it once warm compute completes, so readers never see a
// partially updated view.
func (s *State) Publish(next Snapshot) {
	next.PublishedAt = time.Now().UTC()
	if len(next.Insights) > MaxInsights {
		next.Insights = next.Insights[len(next.Insights)-MaxInsights:]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = next
}

// UpdateClusters replaces the clusters/cluster-info portion of the current
// snapshot in place, leaving every other field untouched. Used by the hot
// path, which only has new cluster assignments to contribute; the warm path
// is the sole source for every other derived structure.
func (s *State) UpdateClusters(clusters map[string]int, info map[int]ClusterInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Clusters = clusters
	s.snapshot.ClusterInfo = info
}

// NewInsight constructs an insight with a fresh random id and timestamp.
func NewInsight(title, description string, severity Severity, related []string) Insight {
	return Insight{
		ID:              uuid.New().String(),
		Title:           title,
		Description:     description,
		Severity:        severity,
		CreatedAt:       time.Now().UTC(),
		RelatedEntities: related,
	}
}

// AppendInsight appends an insight to a snapshot's queue, capping it at
// MaxInsights by evicting the oldest entries.
func AppendInsight(snap *Snapshot, insight Insight) {
	snap.Insights = append(snap.Insights, insight)
	if len(snap.Insights) > MaxInsights {
		snap.Insights = snap.Insights[len(snap.Insights)-MaxInsights:]
	}
}
