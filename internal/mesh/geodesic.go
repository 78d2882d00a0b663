package mesh

import (
	"container/heap"
	"math"
)

// GeodesicDistances returns the shortest-path distance from the source
// vertex to every vertex, measured along mesh edges with their current
// lengths. It is the distance field used for curvature domains, masks, and
// the external-force profile.
func (s *Surface) GeodesicDistances(source int) []float64 {
	dist := make([]float64, len(s.positions))
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	dist[source] = 0

	pq := &distQueue{items: []distItem{{vertex: source, dist: 0}}}
	for pq.Len() > 0 {
		it := heap.Pop(pq).(distItem)
		if it.dist > dist[it.vertex] {
			continue
		}
		for _, ei := range s.vertexEdges[it.vertex] {
			e := &s.edges[ei]
			other := e.V0
			if other == it.vertex {
				other = e.V1
			}
			if d := it.dist + s.edgeLengths[ei]; d < dist[other] {
				dist[other] = d
				heap.Push(pq, distItem{vertex: other, dist: d})
			}
		}
	}
	return dist
}

type distItem struct {
	vertex int
	dist   float64
}

type distQueue struct{ items []distItem }

func (q *distQueue) Len() int            { return len(q.items) }
func (q *distQueue) Less(i, j int) bool  { return q.items[i].dist < q.items[j].dist }
func (q *distQueue) Swap(i, j int)       { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *distQueue) Push(x interface{})  { q.items = append(q.items, x.(distItem)) }
func (q *distQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	it := old[n-1]
	q.items = old[:n-1]
	return it
}
