// Package features implements the per-entity rolling feature accumulator
// (C2): a fixed-dimension numeric projection of each entity's activity,
// built incrementally from ingress documents.
package features

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/streamgraph/corepipeline/internal/document"
)

// Dim is the fixed feature-vector dimensionality.
const Dim = 10

// Index names for each dimension of the feature vector, in emission order.
const (
	IdxLoginCount = iota
	IdxGameCount
	IdxUniqueGames
	IdxErrorCount
	IdxPopupCount
	IdxMobileRatio
	IdxSessionCount
	IdxAvgSessionGapHours
	IdxVIPGroupNumeric
	IdxCurrencyNumeric
)

// nullValues are sentinel strings treated as missing.
var nullValues = map[string]struct{}{
	"":          {},
	"None":      {},
	"null":      {},
	"undefined": {},
}

// vipTiers maps known VIP tiers to fixed small-integer codes, normalized to [0,1].
var vipTiers = map[string]float64{
	"none":     0.0,
	"bronze":   0.1,
	"silver":   0.2,
	"gold":     0.3,
	"platinum": 0.4,
	"diamond":  0.5,
	"vip":      0.6,
}

// currencyCodes maps known ISO currency codes to fixed small-integer codes.
var currencyCodes = map[string]float64{
	"usd": 0.1,
	"eur": 0.2,
	"gbp": 0.3,
	"jpy": 0.4,
	"cny": 0.5,
	"krw": 0.6,
	"brl": 0.7,
}

// entityState is the mutable rolling state for one tracked entity key.
type entityState struct {
	loginCount    int64
	gameCount     int64
	uniqueGames   map[string]struct{}
	errorCount    int64
	popupCount    int64
	mobileEvents  int64
	totalEvents   int64
	sessionTimes  []time.Time
	vipGroup      string
	currency      string
}

// Accumulator tracks rolling per-entity counters keyed by an arbitrary
// entity key (e.g. memberCode), guarded by a single mutex so hot-path
// updates from multiple ingestion workers serialize cheaply.
type Accumulator struct {
	mu       sync.Mutex
	entities map[string]*entityState
	keyField string
}

// New constructs an accumulator that classifies documents by the given
// entity-key field name (e.g. "memberCode").
func New(keyField string) *Accumulator {
	return &Accumulator{
		entities: make(map[string]*entityState),
		keyField: keyField,
	}
}

func isMissing(s string) bool {
	_, missing := nullValues[s]
	return missing
}

// Update classifies and folds one document into its entity's rolling state.
// Documents with a missing or sentinel-null entity key are ignored.
func (a *Accumulator) Update(doc document.Document) (entityKey string, ok bool) {
	key := doc.FieldString(a.keyField)
	if isMissing(key) {
		return "", false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.entities[key]
	if st == nil {
		st = &entityState{uniqueGames: make(map[string]struct{})}
		a.entities[key] = st
	}

	st.totalEvents++

	eventType := doc.EventType
	lower := strings.ToLower(eventType)
	switch {
	case strings.Contains(lower, "login"):
		st.loginCount++
		st.sessionTimes = append(st.sessionTimes, doc.Timestamp)
	case strings.Contains(lower, "game"):
		st.gameCount++
		if name := doc.FieldString("gameName"); !isMissing(name) {
			st.uniqueGames[name] = struct{}{}
		}
	case strings.Contains(lower, "error"):
		st.errorCount++
	case strings.Contains(lower, "popup"):
		st.popupCount++
	}

	platform := strings.ToLower(doc.FieldString("platform"))
	if strings.Contains(platform, "mobile") || strings.Contains(platform, "ios") || strings.Contains(platform, "android") {
		st.mobileEvents++
	}

	if v := doc.FieldString("vipGroup"); !isMissing(v) {
		st.vipGroup = v
	}
	if v := doc.FieldString("currency"); !isMissing(v) {
		st.currency = v
	}

	return key, true
}

// ToFeatureVector projects the current state of an entity into a fixed-dim
// vector. Returns ok=false for unknown keys.
func (a *Accumulator) ToFeatureVector(entityKey string) ([]float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.entities[entityKey]
	if !ok {
		return nil, false
	}

	vec := make([]float64, Dim)
	vec[IdxLoginCount] = float64(st.loginCount)
	vec[IdxGameCount] = float64(st.gameCount)
	vec[IdxUniqueGames] = float64(len(st.uniqueGames))
	vec[IdxErrorCount] = float64(st.errorCount)
	vec[IdxPopupCount] = float64(st.popupCount)
	if st.totalEvents > 0 {
		vec[IdxMobileRatio] = float64(st.mobileEvents) / float64(st.totalEvents)
	}
	vec[IdxSessionCount] = float64(len(st.sessionTimes))
	vec[IdxAvgSessionGapHours] = avgSessionGapHours(st.sessionTimes)
	vec[IdxVIPGroupNumeric] = encodeCategory(st.vipGroup, vipTiers)
	vec[IdxCurrencyNumeric] = encodeCategory(st.currency, currencyCodes)
	return vec, true
}

// avgSessionGapHours returns the mean of consecutive differences over the
// sorted session timestamps, in hours; 0.0 if fewer than two timestamps.
func avgSessionGapHours(times []time.Time) float64 {
	if len(times) < 2 {
		return 0.0
	}
	sorted := make([]time.Time, len(times))
	copy(sorted, times)
	insertionSortTimes(sorted)

	var total float64
	for i := 1; i < len(sorted); i++ {
		total += sorted[i].Sub(sorted[i-1]).Hours()
	}
	return total / float64(len(sorted)-1)
}

func insertionSortTimes(times []time.Time) {
	for i := 1; i < len(times); i++ {
		for j := i; j > 0 && times[j].Before(times[j-1]); j-- {
			times[j], times[j-1] = times[j-1], times[j]
		}
	}
}

// encodeCategory maps a known category to its fixed code, or derives a
// stable (hash % 100)/100 code for unknown values. The derived code is
// the same for the same value on every call, but it can coincide with a
// known tier's code.
func encodeCategory(value string, known map[string]float64) float64 {
	if value == "" {
		return 0.0
	}
	lower := strings.ToLower(value)
	if code, ok := known[lower]; ok {
		return code
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(lower))
	return float64(h.Sum32()%100) / 100.0
}

// Keys returns a snapshot of every tracked entity key.
func (a *Accumulator) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entities))
	for k := range a.entities {
		out = append(out, k)
	}
	return out
}
