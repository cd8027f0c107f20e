// Package pattern implements a PrefixSpan-like frequent sequence miner
// (C7) over recent per-entity event sessions.
package pattern

import "sort"

// Session is an ordered sequence of event-type labels for one entity.
type Session []string

// Pattern is a frequent sequence with its support count.
type Pattern struct {
	Sequence []string
	Support  int
}

// Config bounds the search.
type Config struct {
	MinSupport int
	MaxLength  int
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{MinSupport: 2, MaxLength: 5}
}

// Mine runs a PrefixSpan-style frequent-sequence search: starting from every
// frequent single item, recursively grows the prefix by scanning each
// session's projected (post-prefix) suffix, until support falls below the
// minimum or the configured max length is reached.
//
// Output is ordered by descending support, then lexicographically by
// sequence for determinism.
func Mine(sessions []Session, cfg Config) []Pattern {
	if cfg.MinSupport <= 0 {
		cfg.MinSupport = 1
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 1
	}

	projected := make([]Session, len(sessions))
	copy(projected, sessions)

	var out []Pattern
	mineRecursive(nil, projected, cfg, &out)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Support != out[j].Support {
			return out[i].Support > out[j].Support
		}
		return lessSequence(out[i].Sequence, out[j].Sequence)
	})
	return out
}

func mineRecursive(prefix []string, projectedDB []Session, cfg Config, out *[]Pattern) {
	if len(prefix) >= cfg.MaxLength {
		return
	}

	counts := make(map[string]int)
	suffixes := make(map[string][]Session)

	for _, session := range projectedDB {
		seen := make(map[string]bool)
		for i, item := range session {
			if seen[item] {
				continue
			}
			seen[item] = true
			counts[item]++
			suffixes[item] = append(suffixes[item], session[i+1:])
		}
	}

	items := make([]string, 0, len(counts))
	for item := range counts {
		items = append(items, item)
	}
	sort.Strings(items)

	for _, item := range items {
		support := counts[item]
		if support < cfg.MinSupport {
			continue
		}
		seq := append(append([]string{}, prefix...), item)
		*out = append(*out, Pattern{Sequence: seq, Support: support})

		var nextDB []Session
		for _, s := range suffixes[item] {
			if len(s) > 0 {
				nextDB = append(nextDB, s)
			}
		}
		if len(nextDB) > 0 {
			mineRecursive(seq, nextDB, cfg, out)
		}
	}
}

func lessSequence(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// BuildSessions groups a batch of (entityKey, eventType) pairs, already
// ordered by timestamp, into one session per entity key.
func BuildSessions(entityKeys, eventTypes []string) []Session {
	order := make([]string, 0)
	grouped := make(map[string][]string)
	for i := range entityKeys {
		key := entityKeys[i]
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], eventTypes[i])
	}
	sessions := make([]Session, 0, len(order))
	for _, key := range order {
		sessions = append(sessions, Session(grouped[key]))
	}
	return sessions
}
