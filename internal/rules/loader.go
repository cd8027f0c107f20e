package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/streamgraph/corepipeline/pkg/logging"
)

// Document is one loaded, kind-dispatched rule file. Raw holds the parsed
// YAML as a generic map so inheritance can deep-merge it before the
// second-pass typed decode.
type Document struct {
	ID   string
	Kind Kind
	Path string
	Raw  map[string]any

	Anomaly *AnomalyRule
	Entity  *EntitySchema
	Feature *FeatureConfig
	Scoring *ScoringConfig
	Trend   *TrendConfig
	Pattern *PatternConfig
}

// FileError records a per-file failure that did not abort the scan.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

// LoadReport summarizes one Load call: per-file errors and skipped paths,
// neither of which abort the remainder of the scan.
type LoadReport struct {
	Errors  []FileError
	Skipped []string
}

func (r LoadReport) OK() bool { return len(r.Errors) == 0 }

// Loader is the filesystem-backed rule document store: a recursive YAML
// scan feeding two maps (every kind, and an anomaly-only backward-compat
// view) kept consistent by Load, Write and the hot-reload watcher.
type Loader struct {
	mu        sync.RWMutex
	dir       string
	documents map[string]*Document
	anomalies map[string]*AnomalyRule

	// envelopes, raws and paths hold the unresolved per-id parse state,
	// kept alongside the resolved documents map so a hot-reload touching
	// one file can recompute just that file's (and its extends
	// descendants') resolved form without a full rescan.
	envelopes map[string]Envelope
	raws      map[string]map[string]any
	paths     map[string]string
	pathToID  map[string]string

	log *logging.Logger
}

// NewLoader constructs a loader rooted at dir. Load must be called before
// any document is visible.
func NewLoader(dir string, log *logging.Logger) *Loader {
	if log == nil {
		log = logging.NewDefault("rules")
	}
	return &Loader{
		dir:       dir,
		documents: make(map[string]*Document),
		anomalies: make(map[string]*AnomalyRule),
		envelopes: make(map[string]Envelope),
		raws:      make(map[string]map[string]any),
		paths:     make(map[string]string),
		pathToID:  make(map[string]string),
		log:       log,
	}
}

// Load performs a full recursive rescan of dir, replacing the current
// document set. Per-file parse errors are collected in the report rather
// than aborting the scan.
func (l *Loader) Load() (LoadReport, error) {
	var report LoadReport

	raws := make(map[string]map[string]any) // id -> raw
	envelopes := make(map[string]Envelope)   // id -> envelope
	paths := make(map[string]string)         // id -> path
	pathToID := make(map[string]string)

	err := filepath.WalkDir(l.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if skip, reason := skipPath(path); skip {
			_ = reason
			report.Skipped = append(report.Skipped, path)
			return nil
		}

		id, env, raw, parseErr := parseRuleFile(path)
		if parseErr != nil {
			report.Errors = append(report.Errors, FileError{Path: path, Err: parseErr})
			return nil
		}

		envelopes[id] = env
		raws[id] = raw
		paths[id] = path
		pathToID[path] = id
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("scan rule directory %s: %w", l.dir, err)
	}

	documents, anomalies, resolveErrs := resolveAndDecodeAll(envelopes, raws, paths)
	report.Errors = append(report.Errors, resolveErrs...)

	l.mu.Lock()
	l.documents = documents
	l.anomalies = anomalies
	l.envelopes = envelopes
	l.raws = raws
	l.paths = paths
	l.pathToID = pathToID
	l.mu.Unlock()

	return report, nil
}

// skipPath reports whether a path should be skipped by the scan (dotfiles,
// non-YAML extensions) and why.
func skipPath(path string) (bool, string) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true, "dotfile"
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return true, "non-yaml extension"
	}
	return false, ""
}

// parseRuleFile runs the first-pass envelope parse plus a raw generic
// parse of one file.
func parseRuleFile(path string) (id string, env Envelope, raw map[string]any, err error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return "", Envelope{}, nil, readErr
	}
	if err := yaml.Unmarshal(data, &env); err != nil {
		return "", Envelope{}, nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Metadata.ID == "" {
		return "", Envelope{}, nil, fmt.Errorf("metadata.id is required")
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return "", Envelope{}, nil, fmt.Errorf("parse document: %w", err)
	}
	return env.Metadata.ID, env, raw, nil
}

// resolveAndDecodeAll resolves extends chains and decodes every document in
// the given id sets, returning per-file errors rather than aborting.
func resolveAndDecodeAll(envelopes map[string]Envelope, raws map[string]map[string]any, paths map[string]string) (map[string]*Document, map[string]*AnomalyRule, []FileError) {
	var errs []FileError

	resolved := make(map[string]map[string]any, len(raws))
	for id := range raws {
		merged, mergeErr := resolveInheritance(id, envelopes, raws, nil)
		if mergeErr != nil {
			errs = append(errs, FileError{Path: paths[id], Err: mergeErr})
			continue
		}
		resolved[id] = merged
	}

	documents := make(map[string]*Document, len(resolved))
	anomalies := make(map[string]*AnomalyRule)

	for id, merged := range resolved {
		env := envelopes[id]
		doc, err := decodeDocument(id, env.Kind, paths[id], merged)
		if err != nil {
			errs = append(errs, FileError{Path: paths[id], Err: err})
			continue
		}
		documents[id] = doc
		if doc.Anomaly != nil {
			anomalies[id] = doc.Anomaly
		}
	}

	return documents, anomalies, errs
}

// resolveInheritance deep-merges a chain of `extends` parents into id's raw
// document, detecting cycles and missing parents. visiting tracks the
// in-progress chain for cycle detection.
func resolveInheritance(id string, envelopes map[string]Envelope, raws map[string]map[string]any, visiting map[string]bool) (map[string]any, error) {
	env, ok := envelopes[id]
	if !ok {
		return nil, fmt.Errorf("extends references unknown document %q", id)
	}
	if env.Metadata.Extends == "" {
		return raws[id], nil
	}

	if visiting == nil {
		visiting = make(map[string]bool)
	}
	if visiting[id] {
		return nil, fmt.Errorf("circular extends chain at %q", id)
	}
	visiting[id] = true

	parentID := env.Metadata.Extends
	if _, ok := raws[parentID]; !ok {
		return nil, fmt.Errorf("extends references missing parent %q", parentID)
	}
	parentMerged, err := resolveInheritance(parentID, envelopes, raws, visiting)
	if err != nil {
		return nil, err
	}

	return mergeInherit(parentMerged, raws[id]), nil
}

// mergeInherit deep-merges child over parent: scalar and map keys are
// last-write-wins (child wins) with recursion into nested maps; arrays
// replace entirely rather than concatenating.
func mergeInherit(parent, child map[string]any) map[string]any {
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		if pv, ok := out[k]; ok {
			if pm, ok1 := pv.(map[string]any); ok1 {
				if cm, ok2 := v.(map[string]any); ok2 {
					out[k] = mergeInherit(pm, cm)
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

func decodeDocument(id string, kind Kind, path string, raw map[string]any) (*Document, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("remarshal merged document: %w", err)
	}

	doc := &Document{ID: id, Kind: kind, Path: path, Raw: raw}
	switch kind {
	case KindAnomalyRule:
		doc.Anomaly = &AnomalyRule{}
		err = yaml.Unmarshal(data, doc.Anomaly)
	case KindEntitySchema:
		doc.Entity = &EntitySchema{}
		err = yaml.Unmarshal(data, doc.Entity)
	case KindFeatureConfig:
		doc.Feature = &FeatureConfig{}
		err = yaml.Unmarshal(data, doc.Feature)
	case KindScoringConfig:
		doc.Scoring = &ScoringConfig{}
		err = yaml.Unmarshal(data, doc.Scoring)
	case KindTrendConfig:
		doc.Trend = &TrendConfig{}
		err = yaml.Unmarshal(data, doc.Trend)
	case KindPatternConfig:
		doc.Pattern = &PatternConfig{}
		err = yaml.Unmarshal(data, doc.Pattern)
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return doc, nil
}

// upsertPath reparses a single file and recomputes its resolved document
// plus any documents that extend it, without rescanning the directory. A
// parse or resolution failure leaves the previously loaded version of every
// affected document untouched.
func (l *Loader) upsertPath(path string) error {
	id, env, raw, err := parseRuleFile(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if oldID, ok := l.pathToID[path]; ok && oldID != id {
		delete(l.envelopes, oldID)
		delete(l.raws, oldID)
		delete(l.paths, oldID)
		delete(l.documents, oldID)
		delete(l.anomalies, oldID)
	}

	l.envelopes[id] = env
	l.raws[id] = raw
	l.paths[id] = path
	l.pathToID[path] = id

	affected := append([]string{id}, findDescendants(id, l.envelopes)...)
	for _, aid := range affected {
		merged, mergeErr := resolveInheritance(aid, l.envelopes, l.raws, nil)
		if mergeErr != nil {
			continue
		}
		doc, decodeErr := decodeDocument(aid, l.envelopes[aid].Kind, l.paths[aid], merged)
		if decodeErr != nil {
			continue
		}
		l.documents[aid] = doc
		if doc.Anomaly != nil {
			l.anomalies[aid] = doc.Anomaly
		} else {
			delete(l.anomalies, aid)
		}
	}
	return nil
}

// removePath drops the document previously loaded from path. Any document
// that extended it keeps its last successfully resolved form.
func (l *Loader) removePath(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.pathToID[path]
	if !ok {
		return
	}
	delete(l.pathToID, path)
	delete(l.envelopes, id)
	delete(l.raws, id)
	delete(l.paths, id)
	delete(l.documents, id)
	delete(l.anomalies, id)
}

// findDescendants returns every document (transitively) extending id.
func findDescendants(id string, envelopes map[string]Envelope) []string {
	var out []string
	for cid, env := range envelopes {
		if env.Metadata.Extends == id {
			out = append(out, cid)
			out = append(out, findDescendants(cid, envelopes)...)
		}
	}
	return out
}

// Document returns one loaded document by id.
func (l *Loader) Document(id string) (*Document, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.documents[id]
	return d, ok
}

// Documents returns a snapshot of every loaded document, optionally
// filtered by kind (pass "" for no filter).
func (l *Loader) Documents(kind Kind) []*Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Document, 0, len(l.documents))
	for _, d := range l.documents {
		if kind == "" || d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// AnomalyRules returns a snapshot of the backward-compatible anomaly-only map.
func (l *Loader) AnomalyRules() map[string]*AnomalyRule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*AnomalyRule, len(l.anomalies))
	for k, v := range l.anomalies {
		out[k] = v
	}
	return out
}
