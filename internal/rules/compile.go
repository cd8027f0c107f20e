package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Diagnostic is one validation error or warning, addressed with a
// JSON-pointer-like path into the document it came from.
type Diagnostic struct {
	Path    string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Path, d.Message)
}

// CompileResult carries a compiled form alongside its diagnostics. Warnings
// never fail the load; a non-empty Errors does.
type CompileResult struct {
	Errors   []Diagnostic
	Warnings []Diagnostic
}

func (r CompileResult) OK() bool { return len(r.Errors) == 0 }

func (r *CompileResult) errorf(path, format string, args ...any) {
	r.Errors = append(r.Errors, Diagnostic{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *CompileResult) warnf(path, format string, args ...any) {
	r.Warnings = append(r.Warnings, Diagnostic{Path: path, Message: fmt.Sprintf(format, args...)})
}

// EmbeddingSegment is one parsed piece of an embedding template.
type EmbeddingSegment struct {
	Literal   string
	Field     string
	Truncate  int // 0 means no truncation
	IsField   bool
}

// CompiledEntitySchema is the O(1)-lookup form of an EntitySchema.
type CompiledEntitySchema struct {
	FieldToEntity   map[string]string // canonical or alias -> entity type
	KeyPrefixes     map[string]string
	EventExtractors map[string]string // alias (incl. primary) -> primary
	NullValues      map[string]struct{}
	Embeddings      [][]EmbeddingSegment
	Result          CompileResult
}

// Compile flattens an EntitySchema's authored aliases and templates into
// dense lookup forms.
func (s *EntitySchema) Compile() CompiledEntitySchema {
	out := CompiledEntitySchema{
		FieldToEntity:   make(map[string]string),
		KeyPrefixes:     map[string]string{},
		EventExtractors: make(map[string]string),
		NullValues:      make(map[string]struct{}),
	}

	for i, f := range s.Spec.Fields {
		path := fmt.Sprintf("/spec/fields/%d", i)
		if f.Canonical == "" {
			out.Result.errorf(path+"/canonical", "canonical field name is required")
			continue
		}
		out.FieldToEntity[f.Canonical] = f.EntityType
		for _, alias := range f.Aliases {
			if existing, ok := out.FieldToEntity[alias]; ok && existing != f.EntityType {
				out.Result.errorf(path+"/aliases", "alias %q already maps to entity type %q", alias, existing)
				continue
			}
			out.FieldToEntity[alias] = f.EntityType
		}
	}

	for k, v := range s.Spec.KeyPrefixes {
		out.KeyPrefixes[k] = v
	}

	for i, e := range s.Spec.EventExtractors {
		path := fmt.Sprintf("/spec/event_extractors/%d", i)
		if e.Primary == "" {
			out.Result.errorf(path+"/primary", "primary extractor name is required")
			continue
		}
		out.EventExtractors[e.Primary] = e.Primary
		for _, alias := range e.Aliases {
			out.EventExtractors[alias] = e.Primary
		}
	}

	for _, v := range s.Spec.NullValues {
		out.NullValues[v] = struct{}{}
	}

	for i, tpl := range s.Spec.EmbeddingTemplates {
		segs, err := parseEmbeddingTemplate(tpl)
		if err != nil {
			out.Result.errorf(fmt.Sprintf("/spec/embedding_templates/%d", i), "%v", err)
			continue
		}
		out.Embeddings = append(out.Embeddings, segs)
	}

	return out
}

// parseEmbeddingTemplate splits a template like "user {field|truncate:8} did
// {gameName}" into literal and field segments via a small bracket scanner.
func parseEmbeddingTemplate(tpl string) ([]EmbeddingSegment, error) {
	var segs []EmbeddingSegment
	var literal strings.Builder

	flushLiteral := func() {
		if literal.Len() > 0 {
			segs = append(segs, EmbeddingSegment{Literal: literal.String()})
			literal.Reset()
		}
	}

	i := 0
	for i < len(tpl) {
		c := tpl[i]
		if c != '{' {
			literal.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(tpl[i:], '}')
		if end < 0 {
			return nil, fmt.Errorf("unterminated field reference at offset %d", i)
		}
		end += i
		inner := tpl[i+1 : end]
		flushLiteral()

		field := inner
		truncate := 0
		if idx := strings.Index(inner, "|truncate:"); idx >= 0 {
			field = inner[:idx]
			n, err := strconv.Atoi(inner[idx+len("|truncate:"):])
			if err != nil {
				return nil, fmt.Errorf("invalid truncate length in %q: %w", inner, err)
			}
			truncate = n
		}
		if field == "" {
			return nil, fmt.Errorf("empty field reference at offset %d", i)
		}
		segs = append(segs, EmbeddingSegment{IsField: true, Field: field, Truncate: truncate})
		i = end + 1
	}
	flushLiteral()
	return segs, nil
}

// CompiledScoringConfig is the validated form of a ScoringConfig.
type CompiledScoringConfig struct {
	Statistical, DBSCANNoise, Behavioral, Graph float64
	Mild, Anomalous, HighlyAnomalous            float64
	Result                                      CompileResult
}

// Compile validates a ScoringConfig's weights and strictly ascending
// thresholds.
func (c *ScoringConfig) Compile() CompiledScoringConfig {
	out := CompiledScoringConfig{
		Statistical:     c.Spec.Weights.Statistical,
		DBSCANNoise:     c.Spec.Weights.DBSCANNoise,
		Behavioral:      c.Spec.Weights.Behavioral,
		Graph:           c.Spec.Weights.Graph,
		Mild:            c.Spec.Thresholds.Mild,
		Anomalous:       c.Spec.Thresholds.Anomalous,
		HighlyAnomalous: c.Spec.Thresholds.HighlyAnomalous,
	}
	if !(out.Mild < out.Anomalous && out.Anomalous < out.HighlyAnomalous) {
		out.Result.errorf("/spec/thresholds", "thresholds must be strictly ascending: mild=%v anomalous=%v highly_anomalous=%v", out.Mild, out.Anomalous, out.HighlyAnomalous)
	}
	sum := out.Statistical + out.DBSCANNoise + out.Behavioral + out.Graph
	if sum <= 0 {
		out.Result.errorf("/spec/weights", "signal weights must sum to a positive value")
	} else if sum < 0.99 || sum > 1.01 {
		out.Result.warnf("/spec/weights", "signal weights sum to %.3f, not 1.0", sum)
	}
	return out
}

// CompiledTrendConfig is the validated form of a TrendConfig.
type CompiledTrendConfig struct {
	WindowSize                                                   int
	MinDataPoints                                                int
	ZScoreTrigger, UpThreshold, DownThreshold, Significant, Critical float64
	Result                                                        CompileResult
}

// Compile validates a TrendConfig's ascending severity thresholds.
func (c *TrendConfig) Compile() CompiledTrendConfig {
	out := CompiledTrendConfig{
		WindowSize:    c.Spec.WindowSize,
		MinDataPoints: c.Spec.MinDataPoints,
		ZScoreTrigger: c.Spec.ZScoreTrigger,
		UpThreshold:   c.Spec.UpThreshold,
		DownThreshold: c.Spec.DownThreshold,
		Significant:   c.Spec.Significant,
		Critical:      c.Spec.Critical,
	}
	if !(out.ZScoreTrigger < out.Significant && out.Significant < out.Critical) {
		out.Result.errorf("/spec", "severity thresholds must be strictly ascending: zscore_trigger=%v significant=%v critical=%v", out.ZScoreTrigger, out.Significant, out.Critical)
	}
	if out.WindowSize <= 0 {
		out.Result.errorf("/spec/window_size", "window_size must be positive")
	}
	return out
}

// CompiledFeatureConfig maps each dense index to its metadata.
type CompiledFeatureConfig struct {
	ByIndex map[int]string
	Result  CompileResult
}

// Compile flattens a FeatureConfig's index -> name declarations.
func (c *FeatureConfig) Compile() CompiledFeatureConfig {
	out := CompiledFeatureConfig{ByIndex: make(map[int]string)}
	for i, f := range c.Spec.Features {
		path := fmt.Sprintf("/spec/features/%d", i)
		if existing, ok := out.ByIndex[f.Index]; ok {
			out.Result.errorf(path+"/index", "index %d already used by %q", f.Index, existing)
			continue
		}
		out.ByIndex[f.Index] = f.Name
	}
	return out
}

// CompiledPatternConfig is the flattened PatternConfig.
type CompiledPatternConfig struct {
	MinSupport      int
	MaxLength       int
	Classifications []PatternClassificationRule
	Result          CompileResult
}

// Compile validates a PatternConfig's bounds.
func (c *PatternConfig) Compile() CompiledPatternConfig {
	out := CompiledPatternConfig{
		MinSupport:      c.Spec.MinSupport,
		MaxLength:       c.Spec.MaxLength,
		Classifications: c.Spec.Classifications,
	}
	if out.MinSupport <= 0 {
		out.Result.errorf("/spec/min_support", "min_support must be positive")
	}
	if out.MaxLength <= 0 {
		out.Result.errorf("/spec/max_length", "max_length must be positive")
	}
	return out
}
