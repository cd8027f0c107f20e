package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamgraph/corepipeline/internal/document"
)

func doc(entity, eventType string, fields map[string]document.Value, ts time.Time) document.Document {
	f := map[string]document.Value{"memberCode": document.Text(entity)}
	for k, v := range fields {
		f[k] = v
	}
	return document.Document{ID: "d1", Timestamp: ts, EventType: eventType, Fields: f}
}

func TestUpdate_MissingEntityKeyIgnored(t *testing.T) {
	a := New("memberCode")
	key, ok := a.Update(document.Document{EventType: "Login", Fields: map[string]document.Value{"memberCode": document.Text("")}})
	require.False(t, ok)
	require.Empty(t, key)
}

func TestToFeatureVector_ConstantDimension(t *testing.T) {
	a := New("memberCode")
	a.Update(doc("alice", "Login", nil, time.Now()))
	vec, ok := a.ToFeatureVector("alice")
	require.True(t, ok)
	require.Len(t, vec, Dim)

	_, ok = a.ToFeatureVector("unknown")
	require.False(t, ok)
}

func TestUpdate_ClassifiesByEventTypeSubstring(t *testing.T) {
	a := New("memberCode")
	now := time.Now()
	a.Update(doc("alice", "UserLogin", nil, now))
	a.Update(doc("alice", "GameOpened", map[string]document.Value{"gameName": document.Text("Chess")}, now))
	a.Update(doc("alice", "GameOpened", map[string]document.Value{"gameName": document.Text("Chess")}, now))
	a.Update(doc("alice", "GameOpened", map[string]document.Value{"gameName": document.Text("Poker")}, now))
	a.Update(doc("alice", "ErrorRaised", nil, now))
	a.Update(doc("alice", "PopupShown", nil, now))

	vec, ok := a.ToFeatureVector("alice")
	require.True(t, ok)
	require.Equal(t, 1.0, vec[IdxLoginCount])
	require.Equal(t, 3.0, vec[IdxGameCount])
	require.Equal(t, 2.0, vec[IdxUniqueGames])
	require.Equal(t, 1.0, vec[IdxErrorCount])
	require.Equal(t, 1.0, vec[IdxPopupCount])
}

func TestAvgSessionGapHours_FewerThanTwoSamples(t *testing.T) {
	a := New("memberCode")
	a.Update(doc("alice", "Login", nil, time.Now()))
	vec, _ := a.ToFeatureVector("alice")
	require.Zero(t, vec[IdxAvgSessionGapHours])
}

func TestAvgSessionGapHours_MeanOfConsecutiveDiffs(t *testing.T) {
	a := New("memberCode")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.Update(doc("alice", "Login", nil, base))
	a.Update(doc("alice", "Login", nil, base.Add(2*time.Hour)))
	a.Update(doc("alice", "Login", nil, base.Add(6*time.Hour)))

	vec, ok := a.ToFeatureVector("alice")
	require.True(t, ok)
	// gaps: 2h, 4h -> mean 3h
	require.InDelta(t, 3.0, vec[IdxAvgSessionGapHours], 1e-9)
}

func TestMobileRatio(t *testing.T) {
	a := New("memberCode")
	now := time.Now()
	a.Update(doc("alice", "Login", map[string]document.Value{"platform": document.Text("iOS")}, now))
	a.Update(doc("alice", "Login", map[string]document.Value{"platform": document.Text("Windows")}, now))
	vec, _ := a.ToFeatureVector("alice")
	require.InDelta(t, 0.5, vec[IdxMobileRatio], 1e-9)
}

func TestEncodeCategory_UnknownIsStableAndDistinguishable(t *testing.T) {
	a1 := encodeCategory("weird-tier", vipTiers)
	a2 := encodeCategory("weird-tier", vipTiers)
	require.Equal(t, a1, a2)
	require.NotEqual(t, vipTiers["gold"], a1)
}

func TestVIPGroupAndCurrency_LatestWins(t *testing.T) {
	a := New("memberCode")
	now := time.Now()
	a.Update(doc("alice", "Login", map[string]document.Value{"vipGroup": document.Text("Gold")}, now))
	a.Update(doc("alice", "Login", map[string]document.Value{"vipGroup": document.Text("Platinum")}, now))
	vec, _ := a.ToFeatureVector("alice")
	require.Equal(t, vipTiers["platinum"], vec[IdxVIPGroupNumeric])
}
