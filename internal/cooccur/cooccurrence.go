// Package cooccur implements the co-occurrence and pointwise mutual
// information matrix (C4): pairwise counts of field values observed
// together within an event type, with PMI recomputed lazily on read.
package cooccur

import (
	"math"
	"sync"
)

type pairKey struct {
	a, b string
}

// orderedPair canonicalizes an unordered pair so (a,b) and (b,a) hash the
// same way.
func orderedPair(a, b string) pairKey {
	if a <= b {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}

// Matrix tracks joint and marginal counts for one event type.
type Matrix struct {
	mu        sync.Mutex
	joint     map[pairKey]int64
	marginals map[string]int64
	total     int64
}

// NewMatrix constructs an empty co-occurrence matrix.
func NewMatrix() *Matrix {
	return &Matrix{
		joint:     make(map[pairKey]int64),
		marginals: make(map[string]int64),
	}
}

// Observe records one co-occurrence of valueA and valueB, and increments
// each of their marginal counts and the shared total.
func (m *Matrix) Observe(valueA, valueB string) {
	if valueA == "" || valueB == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joint[orderedPair(valueA, valueB)]++
	m.marginals[valueA]++
	m.marginals[valueB]++
	m.total++
}

// Pair summarizes one joint observation with its derived PMI.
type Pair struct {
	A, B  string
	Count int64
	PMI   float64
}

// Pairs returns every observed pair with its raw count and PMI score,
// computed lazily: PMI = log( P(A,B) / (P(A)*P(B)) ).
func (m *Matrix) Pairs() []Pair {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.total == 0 {
		return nil
	}

	n := float64(m.total)
	out := make([]Pair, 0, len(m.joint))
	for key, count := range m.joint {
		pAB := float64(count) / n
		pA := float64(m.marginals[key.a]) / n
		pB := float64(m.marginals[key.b]) / n
		var pmi float64
		if pA > 0 && pB > 0 && pAB > 0 {
			pmi = math.Log(pAB / (pA * pB))
		}
		out = append(out, Pair{A: key.a, B: key.b, Count: count, PMI: pmi})
	}
	return out
}

// Count returns the raw joint count for an unordered pair.
func (m *Matrix) Count(a, b string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joint[orderedPair(a, b)]
}

// Store holds one Matrix per event type of interest.
type Store struct {
	mu        sync.Mutex
	matrices  map[string]*Matrix
}

// NewStore constructs an empty per-event-type matrix store.
func NewStore() *Store {
	return &Store{matrices: make(map[string]*Matrix)}
}

// Matrix returns (creating if absent) the matrix for an event type.
func (s *Store) Matrix(eventType string) *Matrix {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matrices[eventType]
	if !ok {
		m = NewMatrix()
		s.matrices[eventType] = m
	}
	return m
}

// EventTypes returns a snapshot of tracked event types.
func (s *Store) EventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.matrices))
	for k := range s.matrices {
		out = append(out, k)
	}
	return out
}
