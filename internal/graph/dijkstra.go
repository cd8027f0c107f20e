package graph

import "container/heap"

// ShortestPath computes a min-cost path between two node ids, where the cost
// of traversing an edge is 1/weight (high-weight edges read as high affinity,
// hence short distance). Both outgoing and incoming edges are traversed,
// treating the graph as undirected for reachability. Edges with weight <= 0
// are skipped (infinite cost).
//
// Returns (nil, 0, false) for unknown endpoints or no path, and
// ([]string{source}, 0, true) when source == target.
func (s *Store) ShortestPath(source, target string) ([]string, float64, bool) {
	s.mu.RLock()
	_, srcOK := s.nodes[source]
	_, tgtOK := s.nodes[target]
	s.mu.RUnlock()
	if !srcOK || !tgtOK {
		return nil, 0, false
	}
	if source == target {
		return []string{source}, 0, true
	}

	dist := map[string]float64{source: 0}
	prev := map[string]string{}
	visited := map[string]bool{}

	pq := &priorityQueue{{node: source, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true
		if cur.node == target {
			break
		}

		for _, neighbor := range s.neighbors(cur.node) {
			if neighbor.weight <= 0 || visited[neighbor.node] {
				continue
			}
			cost := cur.dist + 1.0/float64(neighbor.weight)
			if existing, ok := dist[neighbor.node]; !ok || cost < existing {
				dist[neighbor.node] = cost
				// First discovered predecessor wins: only set prev when this
				// is the first relaxation that reaches neighbor.node, or when
				// a strictly shorter path supersedes it.
				prev[neighbor.node] = cur.node
				heap.Push(pq, pqItem{node: neighbor.node, dist: cost})
			}
		}
	}

	finalDist, ok := dist[target]
	if !ok {
		return nil, 0, false
	}

	path := []string{target}
	cursor := target
	for cursor != source {
		p, ok := prev[cursor]
		if !ok {
			return nil, 0, false
		}
		path = append(path, p)
		cursor = p
	}
	reverse(path)
	return path, finalDist, true
}

type weightedNeighbor struct {
	node   string
	weight int64
}

// neighbors returns both out- and in-edges as undirected neighbors.
func (s *Store) neighbors(node string) []weightedNeighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []weightedNeighbor
	for _, e := range s.out[node] {
		out = append(out, weightedNeighbor{node: e.Target, weight: e.Weight})
	}
	for _, e := range s.in[node] {
		out = append(out, weightedNeighbor{node: e.Source, weight: e.Weight})
	}
	return out
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

type pqItem struct {
	node string
	dist float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}
