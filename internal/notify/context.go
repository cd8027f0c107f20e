package notify

import "time"

// RuleContext is the rule metadata surfaced to notification templates.
type RuleContext struct {
	ID          string
	Name        string
	Description string
	Tags        []string
}

// SignalValue is one named signal score surfaced to templates as an
// iterable (signal, value) pair.
type SignalValue struct {
	Signal string
	Value  float64
}

// AnomalyContext is the matched entity's state at the moment a rule fired.
type AnomalyContext struct {
	Key            string
	Score          float64
	Classification string
	EntityType     string
	ClusterID      int
	HasCluster     bool
	Signals        []SignalValue
	Features       map[string]float64
}

// Context is the full context a notification template renders against.
type Context struct {
	Rule      RuleContext
	Anomaly   AnomalyContext
	Event     Kind
	Timestamp time.Time
}

// toMap flattens Context into the nested map/slice shape the template
// engine walks by dotted path.
func (c Context) toMap() map[string]any {
	tags := make([]any, len(c.Rule.Tags))
	for i, t := range c.Rule.Tags {
		tags[i] = t
	}

	signals := make([]any, len(c.Anomaly.Signals))
	for i, s := range c.Anomaly.Signals {
		signals[i] = map[string]any{"signal": s.Signal, "value": s.Value}
	}

	features := make(map[string]any, len(c.Anomaly.Features))
	for k, v := range c.Anomaly.Features {
		features[k] = v
	}

	return map[string]any{
		"rule": map[string]any{
			"id":          c.Rule.ID,
			"name":        c.Rule.Name,
			"description": c.Rule.Description,
			"tags":        tags,
		},
		"anomaly": map[string]any{
			"key":            c.Anomaly.Key,
			"score":          c.Anomaly.Score,
			"classification": c.Anomaly.Classification,
			"entity_type":    c.Anomaly.EntityType,
			"cluster_id":     c.Anomaly.ClusterID,
			"signals":        signals,
			"features":       features,
		},
		"event":     string(c.Event),
		"timestamp": c.Timestamp.UTC().Format(time.RFC3339),
	}
}
