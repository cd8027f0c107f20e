package cooccur

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObserve_SymmetricPair(t *testing.T) {
	m := NewMatrix()
	m.Observe("login", "mobile")
	m.Observe("mobile", "login")
	require.Equal(t, int64(2), m.Count("login", "mobile"))
	require.Equal(t, int64(2), m.Count("mobile", "login"))
}

func TestPairs_EmptyMatrix(t *testing.T) {
	m := NewMatrix()
	require.Empty(t, m.Pairs())
}

func TestPairs_PMIPositiveForCorrelatedValues(t *testing.T) {
	m := NewMatrix()
	for i := 0; i < 10; i++ {
		m.Observe("a", "b")
	}
	// c is common overall but seen with a only once, so (a, c) co-occurs
	// less often than its marginals predict
	m.Observe("a", "c")
	for i := 0; i < 10; i++ {
		m.Observe("c", "d")
	}

	pairs := m.Pairs()
	require.NotEmpty(t, pairs)

	var abPMI, acPMI float64
	for _, p := range pairs {
		if p.A == "a" && p.B == "b" || p.A == "b" && p.B == "a" {
			abPMI = p.PMI
		}
		if p.A == "a" && p.B == "c" || p.A == "c" && p.B == "a" {
			acPMI = p.PMI
		}
	}
	require.Greater(t, abPMI, acPMI)
}

func TestStore_MatrixPerEventType(t *testing.T) {
	s := NewStore()
	s.Matrix("login").Observe("a", "b")
	s.Matrix("error").Observe("x", "y")
	require.ElementsMatch(t, []string{"login", "error"}, s.EventTypes())
	require.Equal(t, int64(1), s.Matrix("login").Count("a", "b"))
}
