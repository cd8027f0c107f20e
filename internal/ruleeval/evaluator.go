// Package ruleeval implements the rule evaluator (C11): detection
// templates and boolean signal composition run over a point-in-time
// snapshot of entity features, cluster stats and per-entity signal scores.
package ruleeval

import (
	"fmt"
	"math"

	"github.com/streamgraph/corepipeline/internal/features"
	"github.com/streamgraph/corepipeline/internal/pipelineerr"
	"github.com/streamgraph/corepipeline/internal/rules"
)

// featureNameIndex maps the names rule authors use onto the fixed feature
// vector's dimension indices, grounded directly on the accumulator's
// emission order rather than a separately maintained schema.
var featureNameIndex = map[string]int{
	"loginCount":         features.IdxLoginCount,
	"gameCount":          features.IdxGameCount,
	"uniqueGames":        features.IdxUniqueGames,
	"errorCount":         features.IdxErrorCount,
	"popupCount":         features.IdxPopupCount,
	"mobileRatio":        features.IdxMobileRatio,
	"sessionCount":       features.IdxSessionCount,
	"avgSessionGapHours": features.IdxAvgSessionGapHours,
	"vipGroupNumeric":    features.IdxVIPGroupNumeric,
	"currencyNumeric":    features.IdxCurrencyNumeric,
}

// EntityData is one entity's view as of the snapshot a rule evaluates
// against.
type EntityData struct {
	Features       []float64
	CompositeScore float64
	ClusterIdx     int
	HasCluster     bool
}

// ClusterStat summarizes one cluster for baseline lookups.
type ClusterStat struct {
	Centroid    []float64
	MemberCount int64
}

// Snapshot is the point-in-time view the evaluator runs detection
// templates and signal composition against.
type Snapshot struct {
	Entities     map[string]EntityData
	ClusterStats map[int]ClusterStat
	SignalScores map[string]map[string]float64
	GlobalMean   []float64
	RollingMeans map[string]float64 // feature name -> rolling mean, if tracked
}

// RuleMatch is one entity that satisfied a rule, with the signals that
// contributed for audit purposes.
type RuleMatch struct {
	EntityKey           string
	ContributingSignals []string
}

const epsilon = 1e-9

// FeatureMap renders a raw feature vector back into the named form rule
// authors and notification templates use, the inverse of
// featureNameIndex. Indices beyond the vector's length are omitted.
func FeatureMap(vec []float64) map[string]float64 {
	out := make(map[string]float64, len(featureNameIndex))
	for name, idx := range featureNameIndex {
		if idx < len(vec) {
			out[name] = vec[idx]
		}
	}
	return out
}

// Evaluate runs a rule's detection template (if any) and boolean
// composition (if any) against the snapshot, returning one RuleMatch per
// satisfied entity. A rule with both set must satisfy both; a rule with
// neither matches nothing.
func Evaluate(rule *rules.AnomalyRule, snap Snapshot) ([]RuleMatch, error) {
	var detectionMatches map[string][]string
	if rule.Spec.Detection != nil {
		var err error
		detectionMatches, err = evaluateDetection(rule.Spec.Detection, snap)
		if err != nil {
			return nil, err
		}
	}

	var composeMatches map[string][]string
	if rule.Spec.Compose != nil {
		var err error
		composeMatches, err = evaluateComposition(rule.Spec.Compose, snap)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case rule.Spec.Detection != nil && rule.Spec.Compose != nil:
		var out []RuleMatch
		for key, signals := range detectionMatches {
			if composeSignals, ok := composeMatches[key]; ok {
				out = append(out, RuleMatch{EntityKey: key, ContributingSignals: append(signals, composeSignals...)})
			}
		}
		return out, nil
	case rule.Spec.Detection != nil:
		return toMatches(detectionMatches), nil
	case rule.Spec.Compose != nil:
		return toMatches(composeMatches), nil
	default:
		return nil, nil
	}
}

func toMatches(m map[string][]string) []RuleMatch {
	out := make([]RuleMatch, 0, len(m))
	for key, signals := range m {
		out = append(out, RuleMatch{EntityKey: key, ContributingSignals: signals})
	}
	return out
}

func evaluateDetection(d *rules.Detection, snap Snapshot) (map[string][]string, error) {
	switch d.Kind {
	case rules.DetectionSpike:
		return evaluateSpike(d, snap), nil
	case rules.DetectionDrift:
		return evaluateDrift(d, snap), nil
	case rules.DetectionAbsence:
		return evaluateAbsence(d, snap), nil
	case rules.DetectionThreshold:
		return evaluateThreshold(d, snap), nil
	default:
		return nil, pipelineerr.EvaluationError(nil, "unknown detection kind %q", d.Kind)
	}
}

// evaluateSpike matches entities whose feature value exceeds a baseline
// scaled by a multiplier. Unknown feature names match nothing; entities
// without that feature index, or with fewer samples than min_samples, are
// skipped silently.
func evaluateSpike(d *rules.Detection, snap Snapshot) map[string][]string {
	idx, ok := featureNameIndex[d.Feature]
	if !ok {
		return nil
	}

	out := make(map[string][]string)
	for key, entity := range snap.Entities {
		if idx >= len(entity.Features) {
			continue
		}
		samples := entity.Features[features.IdxLoginCount] + entity.Features[features.IdxGameCount]
		if int(samples) < d.MinSamples {
			continue
		}

		baseline := spikeBaseline(d, entity, idx, snap)
		if baseline <= 0 {
			continue
		}
		if entity.Features[idx] > baseline*d.Multiplier {
			out[key] = []string{"spike:" + d.Feature}
		}
	}
	return out
}

func spikeBaseline(d *rules.Detection, entity EntityData, idx int, snap Snapshot) float64 {
	switch d.Baseline {
	case rules.BaselineClusterCentroid:
		if !entity.HasCluster {
			return 0
		}
		stat, ok := snap.ClusterStats[entity.ClusterIdx]
		if !ok || idx >= len(stat.Centroid) {
			return 0
		}
		return stat.Centroid[idx]
	case rules.BaselineRollingMean:
		if mean, ok := snap.RollingMeans[d.Feature]; ok {
			return mean
		}
		return globalMeanAt(snap, idx)
	case rules.BaselineGlobalMean:
		return globalMeanAt(snap, idx)
	default:
		return 0
	}
}

func globalMeanAt(snap Snapshot, idx int) float64 {
	if idx < len(snap.GlobalMean) {
		return snap.GlobalMean[idx]
	}
	return 0
}

// evaluateDrift matches entities whose selected-feature subvector deviates
// from the population mean over those features by more than threshold.
func evaluateDrift(d *rules.Detection, snap Snapshot) map[string][]string {
	var indices []int
	for _, name := range d.Features {
		idx, ok := featureNameIndex[name]
		if !ok {
			return nil
		}
		indices = append(indices, idx)
	}
	if len(indices) == 0 {
		return nil
	}

	out := make(map[string][]string)
	for key, entity := range snap.Entities {
		sub := make([]float64, 0, len(indices))
		mean := make([]float64, 0, len(indices))
		skip := false
		for _, idx := range indices {
			if idx >= len(entity.Features) {
				skip = true
				break
			}
			sub = append(sub, entity.Features[idx])
			mean = append(mean, globalMeanAt(snap, idx))
		}
		if skip {
			continue
		}

		var distance float64
		switch d.Method {
		case rules.DriftCosine:
			distance = 1 - cosineSimilarity(sub, mean)
		default:
			distance = euclideanDistance(sub, mean)
		}
		if distance > d.Threshold {
			out[key] = []string{"drift:" + fmt.Sprint(d.Features)}
		}
	}
	return out
}

func euclideanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na <= epsilon || nb <= epsilon {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// evaluateAbsence matches entities whose feature value has dropped to or
// below threshold despite having positive prior activity.
func evaluateAbsence(d *rules.Detection, snap Snapshot) map[string][]string {
	idx, ok := featureNameIndex[d.Feature]
	if !ok {
		return nil
	}

	out := make(map[string][]string)
	for key, entity := range snap.Entities {
		if idx >= len(entity.Features) {
			continue
		}
		if entity.Features[idx] > d.Threshold {
			continue
		}
		activity := entity.Features[features.IdxLoginCount] + entity.Features[features.IdxGameCount] + entity.Features[features.IdxSessionCount]
		if activity <= 0 && entity.CompositeScore == 0 {
			continue
		}
		out[key] = []string{"absence:" + d.Feature}
	}
	return out
}

// evaluateThreshold matches entities via a direct comparison.
func evaluateThreshold(d *rules.Detection, snap Snapshot) map[string][]string {
	idx, ok := featureNameIndex[d.Feature]
	if !ok {
		return nil
	}

	out := make(map[string][]string)
	for key, entity := range snap.Entities {
		if idx >= len(entity.Features) {
			continue
		}
		if compare(entity.Features[idx], d.Operator, d.Value) {
			out[key] = []string{"threshold:" + d.Feature}
		}
	}
	return out
}

func compare(value float64, op rules.CompareOp, target float64) bool {
	switch op {
	case rules.OpGT:
		return value > target
	case rules.OpGTE:
		return value >= target
	case rules.OpLT:
		return value < target
	case rules.OpLTE:
		return value <= target
	case rules.OpEQ:
		return math.Abs(value-target) < epsilon
	case rules.OpNEQ:
		return math.Abs(value-target) >= epsilon
	default:
		return false
	}
}

// evaluateComposition recursively evaluates a boolean composition over
// signal scores, returning the matched entities with the leaf signal names
// that contributed.
func evaluateComposition(c *rules.Composition, snap Snapshot) (map[string][]string, error) {
	if c.Operator == rules.BoolNot && len(c.Conditions) != 1 {
		return nil, pipelineerr.EvaluationError(nil, "not composition must have exactly one condition, got %d", len(c.Conditions))
	}

	childResults := make([]map[string][]string, len(c.Conditions))
	for i, cond := range c.Conditions {
		res, err := evaluateCondition(cond, snap)
		if err != nil {
			return nil, err
		}
		childResults[i] = res
	}

	switch c.Operator {
	case rules.BoolAnd:
		return intersect(childResults), nil
	case rules.BoolOr:
		return union(childResults), nil
	case rules.BoolNot:
		return negate(childResults[0], snap), nil
	default:
		return nil, pipelineerr.EvaluationError(nil, "unknown composition operator %q", c.Operator)
	}
}

// evaluateCondition evaluates one leaf or nested condition for every
// entity, returning the subset that satisfies it.
func evaluateCondition(cond rules.Condition, snap Snapshot) (map[string][]string, error) {
	if cond.Compose != nil {
		return evaluateComposition(cond.Compose, snap)
	}

	out := make(map[string][]string)
	for key := range snap.Entities {
		scores, ok := snap.SignalScores[key]
		if !ok {
			continue
		}
		value, ok := scores[cond.Signal]
		if !ok {
			continue
		}
		if value > cond.Threshold {
			out[key] = []string{cond.Signal}
		}
	}
	return out, nil
}

func intersect(results []map[string][]string) map[string][]string {
	if len(results) == 0 {
		return nil
	}
	out := make(map[string][]string)
	for key, signals := range results[0] {
		inAll := true
		all := append([]string{}, signals...)
		for _, other := range results[1:] {
			sigs, ok := other[key]
			if !ok {
				inAll = false
				break
			}
			all = append(all, sigs...)
		}
		if inAll {
			out[key] = all
		}
	}
	return out
}

func union(results []map[string][]string) map[string][]string {
	out := make(map[string][]string)
	for _, res := range results {
		for key, signals := range res {
			out[key] = append(out[key], signals...)
		}
	}
	return out
}

func negate(matched map[string][]string, snap Snapshot) map[string][]string {
	out := make(map[string][]string)
	for key := range snap.Entities {
		if _, ok := matched[key]; !ok {
			out[key] = nil
		}
	}
	return out
}
