// Package anomaly implements the multi-signal anomaly scorer (C5):
// cluster-relative z-scores and a weighted composite over four signals,
// classified against configurable ascending thresholds.
package anomaly

import (
	"fmt"
	"math"
)

// epsilon below which a dimension's stddev is treated as zero variance and
// excluded from the z-score mean.
const epsilon = 1e-9

// Classification buckets the composite score.
type Classification string

const (
	Normal           Classification = "Normal"
	Mild             Classification = "Mild"
	Anomalous        Classification = "Anomalous"
	HighlyAnomalous  Classification = "HighlyAnomalous"
)

// Weights controls the composite blend of the four signals. Overridable via
// ScoringConfig; defaults match spec.md §4.5.
type Weights struct {
	Statistical float64
	DBSCANNoise float64
	Behavioral  float64
	Graph       float64
}

// DefaultWeights returns the spec's default signal blend.
func DefaultWeights() Weights {
	return Weights{Statistical: 0.2, DBSCANNoise: 0.3, Behavioral: 0.3, Graph: 0.2}
}

// Thresholds are the strictly-ascending classification cutoffs.
type Thresholds struct {
	Mild            float64
	Anomalous       float64
	HighlyAnomalous float64
}

// DefaultThresholds returns conservative default cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Mild: 0.25, Anomalous: 0.5, HighlyAnomalous: 0.75}
}

// Validate enforces strictly ascending thresholds.
func (t Thresholds) Validate() error {
	if !(t.Mild < t.Anomalous && t.Anomalous < t.HighlyAnomalous) {
		return fmt.Errorf("anomaly thresholds must be strictly ascending: mild=%v anomalous=%v highly_anomalous=%v", t.Mild, t.Anomalous, t.HighlyAnomalous)
	}
	return nil
}

// Classify buckets a composite score using the given ascending thresholds.
func Classify(score float64, t Thresholds) Classification {
	switch {
	case score < t.Mild:
		return Normal
	case score < t.Anomalous:
		return Mild
	case score < t.HighlyAnomalous:
		return Anomalous
	default:
		return HighlyAnomalous
	}
}

// ClusterRelativeZScore returns the mean over dimensions of
// |f_i - c_i| / sigma_i, skipping dimensions with sigma_i <= epsilon.
// Identical vectors always score 0 regardless of sigma.
func ClusterRelativeZScore(feature, centroid, stddev []float64) float64 {
	var sum float64
	var n int
	for i := range feature {
		if i >= len(centroid) || i >= len(stddev) {
			break
		}
		if stddev[i] <= epsilon {
			continue
		}
		sum += math.Abs(feature[i]-centroid[i]) / stddev[i]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// IsAnomalous applies a threshold-based cutoff (default 2.0) to a
// cluster-relative z-score.
func IsAnomalous(zscore, cutoff float64) bool {
	return zscore >= cutoff
}

// Signal is one named scalar contribution to the composite score.
type Signal struct {
	Name  string
	Value float64
}

// Score is the per-entity composite anomaly assessment.
type Score struct {
	Composite      float64
	Classification Classification
	Signals        []Signal
}

// Composite blends the four signals with the given weights, clamping to
// [0,1], and classifies the result against thresholds.
func Composite(statistical, dbscanNoise, behavioral, graphSignal float64, w Weights, t Thresholds) Score {
	raw := w.Statistical*statistical + w.DBSCANNoise*dbscanNoise + w.Behavioral*behavioral + w.Graph*graphSignal
	clamped := math.Max(0, math.Min(1, raw))
	return Score{
		Composite:      clamped,
		Classification: Classify(clamped, t),
		Signals: []Signal{
			{Name: "statistical", Value: statistical},
			{Name: "dbscan_noise", Value: dbscanNoise},
			{Name: "behavioral", Value: behavioral},
			{Name: "graph", Value: graphSignal},
		},
	}
}

// PopulationStats holds per-dimension mean and stddev over a batch, computed
// once and reused across every entity scored in that pass.
type PopulationStats struct {
	Mean   []float64
	Stddev []float64
}

// ComputePopulationStats computes per-dimension mean and population stddev
// over a batch of feature vectors (all must share the same dimensionality).
func ComputePopulationStats(vectors [][]float64) PopulationStats {
	if len(vectors) == 0 {
		return PopulationStats{}
	}
	dim := len(vectors[0])
	mean := make([]float64, dim)
	for _, v := range vectors {
		for i := 0; i < dim; i++ {
			mean[i] += v[i]
		}
	}
	n := float64(len(vectors))
	for i := range mean {
		mean[i] /= n
	}

	stddev := make([]float64, dim)
	for _, v := range vectors {
		for i := 0; i < dim; i++ {
			d := v[i] - mean[i]
			stddev[i] += d * d
		}
	}
	for i := range stddev {
		stddev[i] = math.Sqrt(stddev[i] / n)
	}

	return PopulationStats{Mean: mean, Stddev: stddev}
}

// StatisticalSignal maps a cluster-relative z-score computed against
// population stats into a [0,1] scalar via a saturating transform.
func StatisticalSignal(feature []float64, stats PopulationStats) float64 {
	z := ClusterRelativeZScore(feature, stats.Mean, stats.Stddev)
	return saturate(z)
}

// BehavioralSignal maps a cluster-relative deviation into [0,1].
func BehavioralSignal(feature, centroid, clusterStddev []float64) float64 {
	z := ClusterRelativeZScore(feature, centroid, clusterStddev)
	return saturate(z)
}

// GraphSignal maps a neighbor-count's deviation from the fleet mean
// neighbor count into [0,1].
func GraphSignal(neighborCount int, fleetMean, fleetStddev float64) float64 {
	if fleetStddev <= epsilon {
		return 0
	}
	z := math.Abs(float64(neighborCount)-fleetMean) / fleetStddev
	return saturate(z)
}

// saturate maps a non-negative z-score onto [0,1], saturating at z=4.
func saturate(z float64) float64 {
	const saturationPoint = 4.0
	if z <= 0 {
		return 0
	}
	if z >= saturationPoint {
		return 1
	}
	return z / saturationPoint
}
