package mesh

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Edge is an undirected edge of the triangulation. Faces holds the indices
// of the (at most two) incident faces, Opp the vertex opposite the edge in
// each of them. For boundary edges Faces[1] and Opp[1] are -1.
type Edge struct {
	V0, V1 int
	Faces  [2]int
	Opp    [2]int
}

// Boundary reports whether the edge has only one incident face.
func (e Edge) Boundary() bool { return e.Faces[1] < 0 }

// Surface is a manifold triangle mesh with cached geometric quantities.
// Connectivity is fixed at construction; positions may be replaced through
// SetPositions, after which Refresh must run before any quantity is read.
type Surface struct {
	positions []r3.Vec
	faces     [][3]int

	edges           []Edge
	vertexEdges     [][]int
	vertexFaces     [][]int
	vertexNeighbors [][]int
	boundaryVertex  []bool
	closed          bool

	// quantities cached by Refresh
	faceNormals   []r3.Vec
	faceAreas     []float64
	vertexNormals []r3.Vec
	dualAreas     []float64
	edgeLengths   []float64
	cotanWeights  []float64
	gaussCurv     []float64
	totalArea     float64
	minEdgeLen    float64
	lap           *Laplacian
}

// New builds a Surface from vertex positions and CCW triangle indices.
// The triangulation must be edge-manifold: no edge may appear in more than
// two faces, and the two incident faces must traverse it in opposite
// directions.
func New(positions []r3.Vec, faces [][3]int) (*Surface, error) {
	if len(positions) < 3 || len(faces) < 1 {
		return nil, fmt.Errorf("mesh: need at least 3 vertices and 1 face, got %d/%d", len(positions), len(faces))
	}
	s := &Surface{
		positions: append([]r3.Vec(nil), positions...),
		faces:     append([][3]int(nil), faces...),
	}
	if err := s.buildConnectivity(); err != nil {
		return nil, err
	}
	s.allocQuantities()
	s.Refresh()
	return s, nil
}

func (s *Surface) buildConnectivity() error {
	nv := len(s.positions)
	type edgeKey struct{ a, b int }
	index := make(map[edgeKey]int)

	s.vertexEdges = make([][]int, nv)
	s.vertexFaces = make([][]int, nv)
	s.vertexNeighbors = make([][]int, nv)
	s.boundaryVertex = make([]bool, nv)

	for fi, f := range s.faces {
		for c := 0; c < 3; c++ {
			i, j := f[c], f[(c+1)%3]
			k := f[(c+2)%3]
			if i < 0 || i >= nv || j < 0 || j >= nv {
				return fmt.Errorf("mesh: face %d references vertex out of range", fi)
			}
			if i == j {
				return fmt.Errorf("mesh: face %d is degenerate", fi)
			}
			key := edgeKey{min(i, j), max(i, j)}
			ei, ok := index[key]
			if !ok {
				ei = len(s.edges)
				index[key] = ei
				s.edges = append(s.edges, Edge{V0: key.a, V1: key.b, Faces: [2]int{fi, -1}, Opp: [2]int{k, -1}})
				s.vertexEdges[key.a] = append(s.vertexEdges[key.a], ei)
				s.vertexEdges[key.b] = append(s.vertexEdges[key.b], ei)
				s.vertexNeighbors[key.a] = append(s.vertexNeighbors[key.a], key.b)
				s.vertexNeighbors[key.b] = append(s.vertexNeighbors[key.b], key.a)
			} else {
				e := &s.edges[ei]
				if e.Faces[1] >= 0 {
					return fmt.Errorf("mesh: edge (%d,%d) is non-manifold", i, j)
				}
				e.Faces[1] = fi
				e.Opp[1] = k
			}
		}
		for c := 0; c < 3; c++ {
			s.vertexFaces[f[c]] = append(s.vertexFaces[f[c]], fi)
		}
	}

	s.closed = true
	for ei := range s.edges {
		if s.edges[ei].Boundary() {
			s.closed = false
			s.boundaryVertex[s.edges[ei].V0] = true
			s.boundaryVertex[s.edges[ei].V1] = true
		}
	}
	return nil
}

func (s *Surface) allocQuantities() {
	nv, nf, ne := len(s.positions), len(s.faces), len(s.edges)
	s.faceNormals = make([]r3.Vec, nf)
	s.faceAreas = make([]float64, nf)
	s.vertexNormals = make([]r3.Vec, nv)
	s.dualAreas = make([]float64, nv)
	s.edgeLengths = make([]float64, ne)
	s.cotanWeights = make([]float64, ne)
	s.gaussCurv = make([]float64, nv)
}

// NumVertices returns the vertex count.
func (s *Surface) NumVertices() int { return len(s.positions) }

// NumFaces returns the face count.
func (s *Surface) NumFaces() int { return len(s.faces) }

// NumEdges returns the unique edge count.
func (s *Surface) NumEdges() int { return len(s.edges) }

// Closed reports whether the surface has no boundary.
func (s *Surface) Closed() bool { return s.closed }

// BoundaryVertex reports whether vertex v lies on the boundary.
func (s *Surface) BoundaryVertex(v int) bool { return s.boundaryVertex[v] }

// Position returns the position of vertex v.
func (s *Surface) Position(v int) r3.Vec { return s.positions[v] }

// Positions returns a copy of the current vertex positions.
func (s *Surface) Positions() []r3.Vec {
	return append([]r3.Vec(nil), s.positions...)
}

// SetPositions replaces all vertex positions. Cached quantities are stale
// until the next Refresh.
func (s *Surface) SetPositions(p []r3.Vec) error {
	if len(p) != len(s.positions) {
		return fmt.Errorf("mesh: position count %d does not match vertex count %d", len(p), len(s.positions))
	}
	copy(s.positions, p)
	return nil
}

// Face returns the vertex indices of face f.
func (s *Surface) Face(f int) [3]int { return s.faces[f] }

// Edges returns the edge table. Callers must not modify it.
func (s *Surface) Edges() []Edge { return s.edges }

// VertexFaces returns the faces incident to vertex v.
func (s *Surface) VertexFaces(v int) []int { return s.vertexFaces[v] }

// VertexEdges returns the edges incident to vertex v.
func (s *Surface) VertexEdges(v int) []int { return s.vertexEdges[v] }

// VertexNeighbors returns the one-ring vertex indices of v.
func (s *Surface) VertexNeighbors(v int) []int { return s.vertexNeighbors[v] }

// ClosestVertex returns the index of the vertex nearest to p.
func (s *Surface) ClosestVertex(p r3.Vec) int {
	best, bestD := 0, r3.Norm(r3.Sub(s.positions[0], p))
	for v := 1; v < len(s.positions); v++ {
		if d := r3.Norm(r3.Sub(s.positions[v], p)); d < bestD {
			best, bestD = v, d
		}
	}
	return best
}
