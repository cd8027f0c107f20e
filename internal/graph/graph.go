// Package graph implements the labelled property graph store (C1): typed
// nodes and edges with segment-scoped, idempotent upsert and a Dijkstra
// shortest-path query over edge weight treated as affinity.
//
// The adjacency-list shape (separate out/in maps keyed by node ID) is
// grounded on the event-network store pattern in the retrieval pack, widened
// from a single untyped "relation" string to the closed entity/edge type
// sets this spec requires and guarded by a single mutex for concurrent
// upserts from multiple ingestion workers.
package graph

import (
	"crypto/sha1"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntityType is a closed set of node kinds.
type EntityType string

const (
	EntityMember   EntityType = "Member"
	EntityDevice   EntityType = "Device"
	EntityGame     EntityType = "Game"
	EntityCurrency EntityType = "Currency"
	EntityPlatform EntityType = "Platform"
)

// EdgeType is a closed set of edge kinds.
type EdgeType string

const (
	EdgeLoggedInFrom EdgeType = "LoggedInFrom"
	EdgeOpenedGame   EdgeType = "OpenedGame"
	EdgeSawPopup     EdgeType = "SawPopup"
	EdgeHitError     EdgeType = "HitError"
)

// namespace is the domain-separation seed for deterministic node IDs: two
// different entity-type tags never collide even for the same key, because
// the tag is mixed into the hashed name, not just the namespace.
var namespace = uuid.MustParse("6f6e6b6e-6f77-6c65-6467-655f67726170")

// NodeID deterministically derives a node identifier from (entityType, key)
// via a keyed SHA-1 hash (uuid.NewSHA1), so re-deriving a graph from the same
// segments across separate runs yields identical IDs.
func NodeID(entityType EntityType, key string) string {
	name := string(entityType) + "\x00" + key
	return uuid.NewHash(sha1.New(), namespace, []byte(name), 5).String()
}

// Node is a typed, keyed vertex.
type Node struct {
	ID             string
	EntityType     EntityType
	Key            string
	CreatedSegment string
	LastSeen       time.Time
}

// Edge is a typed, weighted, directed connection between two nodes.
type Edge struct {
	ID             string
	Source         string
	Target         string
	EdgeType       EdgeType
	Weight         int64
	CreatedSegment string
	LastSeen       time.Time
}

type edgeKey struct {
	src, tgt string
	typ      EdgeType
}

// Store is the in-process graph: single-writer, reader-snapshot via RWMutex.
type Store struct {
	mu sync.RWMutex

	nodes   map[string]*Node
	byKey   map[EntityType]map[string]string // entityType -> key -> node id
	edges   map[edgeKey]*Edge
	edgeIDs map[string]*Edge // edge id -> edge, for direct lookup
	out     map[string][]*Edge
	in      map[string][]*Edge
}

// New constructs an empty graph store.
func New() *Store {
	return &Store{
		nodes:   make(map[string]*Node),
		byKey:   make(map[EntityType]map[string]string),
		edges:   make(map[edgeKey]*Edge),
		edgeIDs: make(map[string]*Edge),
		out:     make(map[string][]*Edge),
		in:      make(map[string][]*Edge),
	}
}

// UpsertNode inserts or touches a node, returning the same id every time for
// the same (entityType, key) pair.
func (s *Store) UpsertNode(entityType EntityType, key, segment string) string {
	id := NodeID(entityType, key)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[id]; ok {
		n.LastSeen = now
		return id
	}

	n := &Node{
		ID:             id,
		EntityType:     entityType,
		Key:            key,
		CreatedSegment: segment,
		LastSeen:       now,
	}
	s.nodes[id] = n
	if s.byKey[entityType] == nil {
		s.byKey[entityType] = make(map[string]string)
	}
	s.byKey[entityType][key] = id
	return id
}

// AddEdge inserts or increments the weight of a (source,target,type) edge.
// Both endpoints must already exist as nodes; AddEdge is a no-op returning
// "" if either is unknown, preserving the invariant that every edge
// endpoint referenced by the store is a live node id.
func (s *Store) AddEdge(source, target string, edgeType EdgeType, segment string) string {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[source]; !ok {
		return ""
	}
	if _, ok := s.nodes[target]; !ok {
		return ""
	}

	key := edgeKey{src: source, tgt: target, typ: edgeType}
	if e, ok := s.edges[key]; ok {
		e.Weight++
		e.LastSeen = now
		return e.ID
	}

	e := &Edge{
		ID:             uuid.New().String(),
		Source:         source,
		Target:         target,
		EdgeType:       edgeType,
		Weight:         1,
		CreatedSegment: segment,
		LastSeen:       now,
	}
	s.edges[key] = e
	s.edgeIDs[e.ID] = e
	s.out[source] = append(s.out[source], e)
	s.in[target] = append(s.in[target], e)
	return e.ID
}

// NodeByKey looks up a node id by (entityType, key).
func (s *Store) NodeByKey(entityType EntityType, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[entityType][key]
	return id, ok
}

// Node returns a copy of the node by id.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// OutEdges returns a snapshot of edges with the given source.
func (s *Store) OutEdges(source string) []Edge {
	return s.snapshotEdges(source, s.out)
}

// InEdges returns a snapshot of edges with the given target.
func (s *Store) InEdges(target string) []Edge {
	return s.snapshotEdges(target, s.in)
}

func (s *Store) snapshotEdges(key string, dir map[string][]*Edge) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := dir[key]
	out := make([]Edge, 0, len(list))
	for _, e := range list {
		out = append(out, *e)
	}
	return out
}

// Nodes returns a snapshot of every node, for bulk iteration (warm compute,
// full-graph rebuilds).
func (s *Store) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, *n)
	}
	return out
}

// EdgesByType returns a snapshot of every edge of the given type.
func (s *Store) EdgesByType(edgeType EdgeType) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Edge
	for _, e := range s.edges {
		if e.EdgeType == edgeType {
			out = append(out, *e)
		}
	}
	return out
}
