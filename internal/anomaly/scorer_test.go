package anomaly

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClusterRelativeZScore_IdenticalVectorIsZero(t *testing.T) {
	f := []float64{1, 2, 3}
	require.Zero(t, ClusterRelativeZScore(f, f, []float64{0.5, 0.5, 0.5}))
}

func TestClusterRelativeZScore_ZeroStddevSkipsDimension(t *testing.T) {
	f := []float64{1, 100}
	c := []float64{0, 0}
	sigma := []float64{1, 0}
	// dimension 1 (huge deviation) is skipped because its stddev is 0.
	require.InDelta(t, 1.0, ClusterRelativeZScore(f, c, sigma), 1e-9)
}

func TestComposite_ClampsAndClassifies(t *testing.T) {
	w := DefaultWeights()
	thr := DefaultThresholds()

	s := Composite(0.5, 0.8, 0.0, 0.0, w, thr)
	require.InDelta(t, 0.34, s.Composite, 1e-9)
	require.Equal(t, Mild, s.Classification)

	s2 := Composite(1, 1, 1, 1, w, thr)
	require.Equal(t, 1.0, s2.Composite)
	require.Equal(t, HighlyAnomalous, s2.Classification)

	s3 := Composite(0, 0, 0, 0, w, thr)
	require.Equal(t, 0.0, s3.Composite)
	require.Equal(t, Normal, s3.Classification)
}

func TestThresholds_Validate_RejectsNonAscending(t *testing.T) {
	bad := Thresholds{Mild: 0.5, Anomalous: 0.4, HighlyAnomalous: 0.9}
	require.Error(t, bad.Validate())

	good := DefaultThresholds()
	require.NoError(t, good.Validate())
}

func TestComputePopulationStats_MeanAndStddev(t *testing.T) {
	vectors := [][]float64{
		{0, 10},
		{2, 10},
		{4, 10},
	}
	stats := ComputePopulationStats(vectors)
	require.InDelta(t, 2.0, stats.Mean[0], 1e-9)
	require.InDelta(t, 0.0, stats.Mean[1]-10, 1e-9)
	require.Greater(t, stats.Stddev[0], 0.0)
	require.InDelta(t, 0.0, stats.Stddev[1], 1e-9)
}

func TestGraphSignal_ZeroStddevReturnsZero(t *testing.T) {
	require.Zero(t, GraphSignal(50, 10, 0))
}
