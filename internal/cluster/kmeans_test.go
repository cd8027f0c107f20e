package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetCluster_AlwaysLessThanK(t *testing.T) {
	km := New(3, 2)
	for i := 0; i < 10; i++ {
		km.Update("e"+string(rune('a'+i)), []float64{float64(i), float64(i)})
	}
	for i := 0; i < 10; i++ {
		idx, ok := km.GetCluster("e" + string(rune('a'+i)))
		require.True(t, ok)
		require.Less(t, idx, 3)
	}
}

func TestSingleEntitySingleCluster_CentroidIsRunningMean(t *testing.T) {
	km := New(1, 2)
	for i := 0; i < 20; i++ {
		km.Update("e1", []float64{float64(i), float64(i) * 2})
	}
	idx, ok := km.GetCluster("e1")
	require.True(t, ok)
	require.Equal(t, 0, idx)

	centroids := km.Centroids()
	require.InDelta(t, 9.5, centroids[0][0], 1e-9)
	require.InDelta(t, 19.0, centroids[0][1], 1e-9)
}

func TestSeeding_FirstKDistinctVectorsBecomeCentroids(t *testing.T) {
	km := New(2, 1)
	km.Update("e1", []float64{0})
	km.Update("e2", []float64{100})

	c1, _ := km.GetCluster("e1")
	c2, _ := km.GetCluster("e2")
	require.Equal(t, 0, c1)
	require.Equal(t, 1, c2)

	centroids := km.Centroids()
	require.Equal(t, 0.0, centroids[0][0])
	require.Equal(t, 100.0, centroids[1][0])
}

func TestSeeding_DuplicateVectorDoesNotConsumeASeedSlot(t *testing.T) {
	km := New(2, 1)
	km.Update("e1", []float64{7})
	km.Update("e2", []float64{7})

	c1, _ := km.GetCluster("e1")
	c2, _ := km.GetCluster("e2")
	require.Equal(t, 0, c1)
	require.Equal(t, 0, c2)

	// cluster 1 has never been seeded yet, so the next, genuinely
	// distinct vector takes the second seed slot rather than nearest().
	km.Update("e3", []float64{99})
	c3, _ := km.GetCluster("e3")
	require.Equal(t, 1, c3)

	centroids := km.Centroids()
	require.Equal(t, 7.0, centroids[0][0])
	require.Equal(t, 99.0, centroids[1][0])
}

func TestAssign_TiesBreakToLowestIndex(t *testing.T) {
	km := New(2, 1)
	km.Update("seed0", []float64{-1})
	km.Update("seed1", []float64{1})

	// point at 0 is equidistant from both seeds.
	km.Update("mid", []float64{0})
	idx, ok := km.GetCluster("mid")
	require.True(t, ok)
	require.Equal(t, 0, idx)
}

func TestGetCluster_UnknownID(t *testing.T) {
	km := New(2, 1)
	_, ok := km.GetCluster("nope")
	require.False(t, ok)
}
