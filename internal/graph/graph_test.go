package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertNode_Idempotent(t *testing.T) {
	g := New()
	id1 := g.UpsertNode(EntityMember, "alice", "seg-1")
	id2 := g.UpsertNode(EntityMember, "alice", "seg-2")
	require.Equal(t, id1, id2)

	otherID := g.UpsertNode(EntityMember, "bob", "seg-1")
	require.NotEqual(t, id1, otherID)
}

func TestNodeID_Deterministic(t *testing.T) {
	require.Equal(t, NodeID(EntityMember, "alice"), NodeID(EntityMember, "alice"))
	require.NotEqual(t, NodeID(EntityMember, "alice"), NodeID(EntityDevice, "alice"))
}

func TestAddEdge_DedupIncrementsWeight(t *testing.T) {
	g := New()
	a := g.UpsertNode(EntityMember, "alice", "seg-1")
	b := g.UpsertNode(EntityDevice, "device-1", "seg-1")

	id1 := g.AddEdge(a, b, EdgeLoggedInFrom, "seg-1")
	id2 := g.AddEdge(a, b, EdgeLoggedInFrom, "seg-1")
	require.Equal(t, id1, id2)

	edges := g.OutEdges(a)
	require.Len(t, edges, 1)
	require.Equal(t, int64(2), edges[0].Weight)
}

func TestAddEdge_UnknownEndpointNoOp(t *testing.T) {
	g := New()
	a := g.UpsertNode(EntityMember, "alice", "seg-1")
	id := g.AddEdge(a, "nonexistent", EdgeLoggedInFrom, "seg-1")
	require.Empty(t, id)
	require.Empty(t, g.OutEdges(a))
}

func TestShortestPath_SameSource(t *testing.T) {
	g := New()
	a := g.UpsertNode(EntityMember, "alice", "seg-1")
	path, dist, ok := g.ShortestPath(a, a)
	require.True(t, ok)
	require.Equal(t, []string{a}, path)
	require.Zero(t, dist)
}

func TestShortestPath_UnknownEndpoints(t *testing.T) {
	g := New()
	a := g.UpsertNode(EntityMember, "alice", "seg-1")
	_, _, ok := g.ShortestPath(a, "unknown")
	require.False(t, ok)
}

func TestShortestPath_HighWeightIsShort(t *testing.T) {
	g := New()
	a := g.UpsertNode(EntityMember, "alice", "seg-1")
	b := g.UpsertNode(EntityDevice, "device-1", "seg-1")
	c := g.UpsertNode(EntityGame, "game-1", "seg-1")

	// a-b has weight 1 (cost 1.0); a-c has weight 10 via 10 upserts (cost 0.1).
	g.AddEdge(a, b, EdgeLoggedInFrom, "seg-1")
	for i := 0; i < 10; i++ {
		g.AddEdge(a, c, EdgeOpenedGame, "seg-1")
	}

	pathB, distB, ok := g.ShortestPath(a, b)
	require.True(t, ok)
	require.Equal(t, []string{a, b}, pathB)

	pathC, distC, ok := g.ShortestPath(a, c)
	require.True(t, ok)
	require.Equal(t, []string{a, c}, pathC)

	require.Less(t, distC, distB)
}

func TestShortestPath_TraversesIncomingEdges(t *testing.T) {
	g := New()
	a := g.UpsertNode(EntityMember, "alice", "seg-1")
	b := g.UpsertNode(EntityDevice, "device-1", "seg-1")
	// edge points b -> a; path a -> b should still be found via the incoming side.
	g.AddEdge(b, a, EdgeLoggedInFrom, "seg-1")

	path, _, ok := g.ShortestPath(a, b)
	require.True(t, ok)
	require.Equal(t, []string{a, b}, path)
}

func TestShortestPath_NoPath(t *testing.T) {
	g := New()
	a := g.UpsertNode(EntityMember, "alice", "seg-1")
	b := g.UpsertNode(EntityMember, "bob", "seg-1")
	_, _, ok := g.ShortestPath(a, b)
	require.False(t, ok)
}
