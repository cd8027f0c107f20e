package trend

import (
	"math"
	"strings"
	"sync"

	"github.com/streamgraph/corepipeline/internal/document"
)

// Direction classifies which way a detected trend moved.
type Direction string

const (
	DirectionUp     Direction = "Up"
	DirectionDown   Direction = "Down"
	DirectionStable Direction = "Stable"
)

// Severity classifies how extreme a detected trend is.
type Severity string

const (
	SeverityNotable     Severity = "Notable"
	SeveritySignificant Severity = "Significant"
	SeverityCritical    Severity = "Critical"
)

// Trend is one emitted detection.
type Trend struct {
	Metric    string
	Value     float64
	Mean      float64
	Stddev    float64
	ZScore    float64
	Direction Direction
	Severity  Severity
}

// Thresholds configures detection sensitivity. All values are config-driven
// per spec.md §4.6.
type Thresholds struct {
	MinDataPoints  int
	ZScoreTrigger  float64
	UpThreshold    float64
	DownThreshold  float64
	Significant    float64
	Critical       float64
}

// DefaultThresholds returns conservative defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDataPoints: 10,
		ZScoreTrigger: 2.0,
		UpThreshold:   2.0,
		DownThreshold: 2.0,
		Significant:   3.0,
		Critical:      4.0,
	}
}

// Detector owns one Baseline per tracked metric name.
type Detector struct {
	mu         sync.Mutex
	window     int
	thresholds Thresholds
	baselines  map[string]*Baseline
}

// NewDetector constructs a detector with the given window size and thresholds.
func NewDetector(window int, thresholds Thresholds) *Detector {
	return &Detector{
		window:     window,
		thresholds: thresholds,
		baselines:  make(map[string]*Baseline),
	}
}

func (d *Detector) baseline(metric string) *Baseline {
	b, ok := d.baselines[metric]
	if !ok {
		b = NewBaseline(d.window)
		d.baselines[metric] = b
	}
	return b
}

// Observe evaluates one (metric, value) reading against its baseline,
// optionally emitting a Trend, then folds the value into the baseline
// regardless of whether a trend fired.
func (d *Detector) Observe(metric string, value float64) (Trend, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.baseline(metric)
	var trend Trend
	var emitted bool

	if b.Len() >= d.thresholds.MinDataPoints {
		mean := b.Mean()
		stddev := b.Stddev()
		if stddev > epsilon {
			z := (value - mean) / stddev
			if math.Abs(z) > d.thresholds.ZScoreTrigger {
				trend = Trend{
					Metric:    metric,
					Value:     value,
					Mean:      mean,
					Stddev:    stddev,
					ZScore:    z,
					Direction: direction(z, d.thresholds),
					Severity:  severity(z, d.thresholds),
				}
				emitted = true
			}
		}
	}

	b.Push(value)
	return trend, emitted
}

func direction(z float64, t Thresholds) Direction {
	switch {
	case z > t.UpThreshold:
		return DirectionUp
	case z < -t.DownThreshold:
		return DirectionDown
	default:
		return DirectionStable
	}
}

func severity(z float64, t Thresholds) Severity {
	abs := math.Abs(z)
	switch {
	case abs > t.Critical:
		return SeverityCritical
	case abs > t.Significant:
		return SeveritySignificant
	default:
		return SeverityNotable
	}
}

// BatchMetrics extracts the standard metric set from a batch of documents:
// one events_<type> counter per distinct event type, unique_members
// (set cardinality over entityKeyField), error_rate, and total_events.
func BatchMetrics(docs []document.Document, entityKeyField string) map[string]float64 {
	metrics := make(map[string]float64)
	byType := make(map[string]int64)
	members := make(map[string]struct{})
	var errors, total int64

	for _, doc := range docs {
		total++
		byType[doc.EventType]++
		if strings.Contains(strings.ToLower(doc.EventType), "error") {
			errors++
		}
		if key := doc.FieldString(entityKeyField); key != "" {
			members[key] = struct{}{}
		}
	}

	for t, count := range byType {
		metrics["events_"+t] = float64(count)
	}
	metrics["unique_members"] = float64(len(members))
	metrics["total_events"] = float64(total)
	if total > 0 {
		metrics["error_rate"] = float64(errors) / float64(total)
	} else {
		metrics["error_rate"] = 0
	}
	return metrics
}
