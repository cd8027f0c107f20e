// Package rules implements the rule document loader (C10) and the
// per-kind configuration compilation step (C17): YAML documents on disk,
// each declaring a kind, are parsed, validated, inheritance-resolved and
// compiled into the dense lookup forms the rest of the pipeline consumes.
package rules

// Kind is the closed set of document kinds a rule file may declare.
type Kind string

const (
	KindAnomalyRule   Kind = "AnomalyRule"
	KindEntitySchema  Kind = "EntitySchema"
	KindFeatureConfig Kind = "FeatureConfig"
	KindScoringConfig Kind = "ScoringConfig"
	KindTrendConfig   Kind = "TrendConfig"
	KindPatternConfig Kind = "PatternConfig"
)

// Metadata carries the fields common to every document kind.
type Metadata struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags,omitempty"`
	Extends     string   `yaml:"extends,omitempty"`
}

// Envelope is the first-pass parse: enough to dispatch on kind and resolve
// inheritance before the second, kind-specific pass.
type Envelope struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       Kind     `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
}

// DetectionKind is the closed set of detection templates a rule may use.
type DetectionKind string

const (
	DetectionSpike     DetectionKind = "spike"
	DetectionDrift     DetectionKind = "drift"
	DetectionAbsence   DetectionKind = "absence"
	DetectionThreshold DetectionKind = "threshold"
)

// Baseline is the closed set of spike-detection baselines.
type Baseline string

const (
	BaselineClusterCentroid Baseline = "cluster_centroid"
	BaselineRollingMean     Baseline = "rolling_mean"
	BaselineGlobalMean      Baseline = "global_mean"
)

// DriftMethod is the closed set of drift-detection distance methods.
type DriftMethod string

const (
	DriftCosine    DriftMethod = "cosine"
	DriftEuclidean DriftMethod = "euclidean"
)

// CompareOp is the closed set of threshold-detection comparison operators.
type CompareOp string

const (
	OpGT  CompareOp = "gt"
	OpGTE CompareOp = "gte"
	OpLT  CompareOp = "lt"
	OpLTE CompareOp = "lte"
	OpEQ  CompareOp = "eq"
	OpNEQ CompareOp = "neq"
)

// Detection configures one of the four detection templates. Only the
// fields relevant to Kind are meaningful; the loader does not zero out the
// rest, and nothing checks which combination is well-formed: the
// evaluator reads only the fields its Kind uses.
type Detection struct {
	Kind       DetectionKind `yaml:"kind"`
	Feature    string        `yaml:"feature,omitempty"`
	Features   []string      `yaml:"features,omitempty"`
	Multiplier float64       `yaml:"multiplier,omitempty"`
	Baseline   Baseline      `yaml:"baseline,omitempty"`
	MinSamples int           `yaml:"min_samples,omitempty"`
	Method     DriftMethod   `yaml:"method,omitempty"`
	Operator   CompareOp     `yaml:"operator,omitempty"`
	Threshold  float64       `yaml:"threshold,omitempty"`
	Value      float64       `yaml:"value,omitempty"`
}

// BoolOp is the closed set of composition operators.
type BoolOp string

const (
	BoolAnd BoolOp = "and"
	BoolOr  BoolOp = "or"
	BoolNot BoolOp = "not"
)

// Condition is a leaf signal test, or (when Compose is set) a nested
// composition. Exactly one of (Signal) or (Compose) should be set per
// spec.md §4.11; the evaluator does not check this and uses Compose
// whenever it is set.
type Condition struct {
	Signal    string       `yaml:"signal,omitempty"`
	Feature   string       `yaml:"feature,omitempty"`
	Threshold float64      `yaml:"threshold,omitempty"`
	Compose   *Composition `yaml:"compose,omitempty"`
}

// Composition is a boolean combination of child conditions.
type Composition struct {
	Operator   BoolOp      `yaml:"operator"`
	Conditions []Condition `yaml:"conditions"`
}

// AnomalyRule is a scheduled detection that fires notifications.
type AnomalyRule struct {
	Metadata Metadata `yaml:"metadata"`
	Spec     struct {
		Cron      string       `yaml:"cron"`
		Cooldown  string       `yaml:"cooldown,omitempty"`
		Enabled   bool         `yaml:"enabled"`
		Detection *Detection   `yaml:"detection,omitempty"`
		Compose   *Composition `yaml:"compose,omitempty"`
		Channels  []string     `yaml:"channels,omitempty"`
	} `yaml:"spec"`
}

// FieldAlias maps a canonical field name to its alias list.
type FieldAlias struct {
	Canonical string   `yaml:"canonical"`
	EntityType string  `yaml:"entity_type"`
	Aliases   []string `yaml:"aliases,omitempty"`
}

// EventExtractor names the event-type classification an alias set feeds.
type EventExtractor struct {
	Primary string   `yaml:"primary"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// EntitySchema declares how raw document fields map onto the graph's
// entity/edge model.
type EntitySchema struct {
	Metadata Metadata `yaml:"metadata"`
	Spec     struct {
		Fields             []FieldAlias     `yaml:"fields"`
		KeyPrefixes        map[string]string `yaml:"key_prefixes,omitempty"`
		EventExtractors    []EventExtractor  `yaml:"event_extractors,omitempty"`
		NullValues         []string          `yaml:"null_values,omitempty"`
		EmbeddingTemplates []string          `yaml:"embedding_templates,omitempty"`
	} `yaml:"spec"`
}

// FeatureDef names one dense feature-vector dimension.
type FeatureDef struct {
	Index int    `yaml:"index"`
	Name  string `yaml:"name"`
}

// FeatureConfig declares the feature vector's dimension metadata.
type FeatureConfig struct {
	Metadata Metadata `yaml:"metadata"`
	Spec     struct {
		Features []FeatureDef `yaml:"features"`
	} `yaml:"spec"`
}

// ScoringConfig overrides the anomaly scorer's weights and thresholds.
type ScoringConfig struct {
	Metadata Metadata `yaml:"metadata"`
	Spec     struct {
		Weights struct {
			Statistical float64 `yaml:"statistical"`
			DBSCANNoise float64 `yaml:"dbscan_noise"`
			Behavioral  float64 `yaml:"behavioral"`
			Graph       float64 `yaml:"graph"`
		} `yaml:"weights"`
		Thresholds struct {
			Mild            float64 `yaml:"mild"`
			Anomalous       float64 `yaml:"anomalous"`
			HighlyAnomalous float64 `yaml:"highly_anomalous"`
		} `yaml:"thresholds"`
	} `yaml:"spec"`
}

// TrendConfig overrides the trend detector's window size and thresholds.
type TrendConfig struct {
	Metadata Metadata `yaml:"metadata"`
	Spec     struct {
		WindowSize    int     `yaml:"window_size"`
		MinDataPoints int     `yaml:"min_data_points"`
		ZScoreTrigger float64 `yaml:"zscore_trigger"`
		UpThreshold   float64 `yaml:"up_threshold"`
		DownThreshold float64 `yaml:"down_threshold"`
		Significant   float64 `yaml:"significant"`
		Critical      float64 `yaml:"critical"`
	} `yaml:"spec"`
}

// PatternClassificationRule tags a mined pattern's category when a naming
// condition (substring match over its sequence) holds.
type PatternClassificationRule struct {
	Category  string `yaml:"category"`
	Condition string `yaml:"condition"`
}

// PatternConfig overrides the sequence miner's bounds and classification.
type PatternConfig struct {
	Metadata Metadata `yaml:"metadata"`
	Spec     struct {
		MinSupport      int                         `yaml:"min_support"`
		MaxLength       int                         `yaml:"max_length"`
		Classifications []PatternClassificationRule `yaml:"classifications,omitempty"`
	} `yaml:"spec"`
}
