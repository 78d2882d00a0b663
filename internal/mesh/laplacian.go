package mesh

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

var _ mat.Matrix = (*Laplacian)(nil)

// Laplacian is the cotangent Laplacian in the positive semi-definite weak
// form: (L x)_i = sum_j w_ij (x_i - x_j). It is stored as per-vertex
// adjacency and applied as an operator; Matrix exposes a gonum view for
// callers that want dense algebra.
type Laplacian struct {
	n         int
	neighbors [][]int
	weights   [][]float64
	diag      []float64
}

func newLaplacian(s *Surface) *Laplacian {
	n := len(s.positions)
	l := &Laplacian{
		n:         n,
		neighbors: make([][]int, n),
		weights:   make([][]float64, n),
		diag:      make([]float64, n),
	}
	for v := 0; v < n; v++ {
		deg := len(s.vertexEdges[v])
		l.neighbors[v] = make([]int, 0, deg)
		l.weights[v] = make([]float64, 0, deg)
	}
	for ei := range s.edges {
		e := &s.edges[ei]
		w := s.cotanWeights[ei]
		l.neighbors[e.V0] = append(l.neighbors[e.V0], e.V1)
		l.weights[e.V0] = append(l.weights[e.V0], w)
		l.neighbors[e.V1] = append(l.neighbors[e.V1], e.V0)
		l.weights[e.V1] = append(l.weights[e.V1], w)
		l.diag[e.V0] += w
		l.diag[e.V1] += w
	}
	return l
}

// Apply computes out = L x for a scalar field.
func (l *Laplacian) Apply(out, x []float64) {
	for i := 0; i < l.n; i++ {
		acc := l.diag[i] * x[i]
		nb := l.neighbors[i]
		w := l.weights[i]
		for k, j := range nb {
			acc -= w[k] * x[j]
		}
		out[i] = acc
	}
}

// ApplyVec computes out = L x componentwise for a vector field.
func (l *Laplacian) ApplyVec(out, x []r3.Vec) {
	for i := 0; i < l.n; i++ {
		acc := r3.Scale(l.diag[i], x[i])
		nb := l.neighbors[i]
		w := l.weights[i]
		for k, j := range nb {
			acc = r3.Sub(acc, r3.Scale(w[k], x[j]))
		}
		out[i] = acc
	}
}

// Dims implements gonum's mat.Matrix.
func (l *Laplacian) Dims() (int, int) { return l.n, l.n }

// At implements gonum's mat.Matrix.
func (l *Laplacian) At(i, j int) float64 {
	if i == j {
		return l.diag[i]
	}
	for k, nb := range l.neighbors[i] {
		if nb == j {
			return -l.weights[i][k]
		}
	}
	return 0
}

// T implements gonum's mat.Matrix; L is symmetric.
func (l *Laplacian) T() mat.Matrix { return l }
