package mesh

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Refresh recomputes every cached quantity from the current positions:
// face areas and normals, angle-weighted vertex normals, barycentric dual
// areas, edge lengths, cotangent weights, angle-defect Gaussian curvature,
// and the Laplacian adjacency. It must run after every position change and
// before any quantity read.
func (s *Surface) Refresh() {
	s.totalArea = 0
	for fi, f := range s.faces {
		a, b, c := s.positions[f[0]], s.positions[f[1]], s.positions[f[2]]
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		twice := r3.Norm(n)
		area := 0.5 * twice
		s.faceAreas[fi] = area
		if twice > 0 {
			s.faceNormals[fi] = r3.Scale(1/twice, n)
		} else {
			s.faceNormals[fi] = r3.Vec{}
		}
		s.totalArea += area
	}

	for v := range s.positions {
		s.vertexNormals[v] = r3.Vec{}
		s.dualAreas[v] = 0
		s.gaussCurv[v] = 0
	}
	for fi, f := range s.faces {
		third := s.faceAreas[fi] / 3
		for c := 0; c < 3; c++ {
			v := f[c]
			s.dualAreas[v] += third
			// angle-weighted normal accumulation
			p := s.positions[v]
			e1 := r3.Sub(s.positions[f[(c+1)%3]], p)
			e2 := r3.Sub(s.positions[f[(c+2)%3]], p)
			angle := cornerAngle(e1, e2)
			s.vertexNormals[v] = r3.Add(s.vertexNormals[v], r3.Scale(angle, s.faceNormals[fi]))
			s.gaussCurv[v] += angle
		}
	}
	for v := range s.positions {
		if n := r3.Norm(s.vertexNormals[v]); n > 0 {
			s.vertexNormals[v] = r3.Scale(1/n, s.vertexNormals[v])
		}
		defect := 2*math.Pi - s.gaussCurv[v]
		if s.boundaryVertex[v] {
			defect = math.Pi - s.gaussCurv[v]
		}
		if s.dualAreas[v] > 0 {
			s.gaussCurv[v] = defect / s.dualAreas[v]
		} else {
			s.gaussCurv[v] = 0
		}
	}

	s.minEdgeLen = math.Inf(1)
	for ei := range s.edges {
		e := &s.edges[ei]
		l := r3.Norm(r3.Sub(s.positions[e.V1], s.positions[e.V0]))
		s.edgeLengths[ei] = l
		if l < s.minEdgeLen {
			s.minEdgeLen = l
		}
		w := 0.0
		for side := 0; side < 2; side++ {
			if e.Opp[side] < 0 {
				continue
			}
			o := s.positions[e.Opp[side]]
			u := r3.Sub(s.positions[e.V0], o)
			v := r3.Sub(s.positions[e.V1], o)
			w += 0.5 * cotangent(u, v)
		}
		s.cotanWeights[ei] = w
	}

	s.lap = newLaplacian(s)
}

func cornerAngle(e1, e2 r3.Vec) float64 {
	d := r3.Dot(e1, e2) / (r3.Norm(e1) * r3.Norm(e2))
	return math.Acos(math.Max(-1, math.Min(1, d)))
}

func cotangent(u, v r3.Vec) float64 {
	cross := r3.Norm(r3.Cross(u, v))
	if cross == 0 {
		return 0
	}
	return r3.Dot(u, v) / cross
}

// FaceArea returns the area of face f.
func (s *Surface) FaceArea(f int) float64 { return s.faceAreas[f] }

// FaceNormal returns the unit normal of face f.
func (s *Surface) FaceNormal(f int) r3.Vec { return s.faceNormals[f] }

// VertexNormal returns the angle-weighted unit normal at vertex v.
func (s *Surface) VertexNormal(v int) r3.Vec { return s.vertexNormals[v] }

// DualArea returns the barycentric dual area of vertex v.
func (s *Surface) DualArea(v int) float64 { return s.dualAreas[v] }

// GaussianCurvature returns the angle-defect Gaussian curvature at v.
func (s *Surface) GaussianCurvature(v int) float64 { return s.gaussCurv[v] }

// EdgeLength returns the length of edge e.
func (s *Surface) EdgeLength(e int) float64 { return s.edgeLengths[e] }

// CotanWeight returns the cotangent weight of edge e.
func (s *Surface) CotanWeight(e int) float64 { return s.cotanWeights[e] }

// TotalArea returns the summed face area.
func (s *Surface) TotalArea() float64 { return s.totalArea }

// MinEdgeLength returns the shortest current edge length.
func (s *Surface) MinEdgeLength() float64 { return s.minEdgeLen }

// Laplacian returns the cotangent Laplacian built by the last Refresh.
func (s *Surface) Laplacian() *Laplacian { return s.lap }

// LumpedMass returns the diagonal (barycentric) lumped mass matrix. The
// matrix is SPD as long as no vertex has zero dual area.
func (s *Surface) LumpedMass() *mat.DiagDense {
	return mat.NewDiagDense(len(s.dualAreas), append([]float64(nil), s.dualAreas...))
}

// SignedVolume computes the enclosed volume as a sum of signed tetrahedra
// with apex at the given point. For a closed, consistently oriented surface
// the result is independent of the apex (divergence theorem).
func (s *Surface) SignedVolume(apex r3.Vec) float64 {
	vol := 0.0
	for _, f := range s.faces {
		a := r3.Sub(s.positions[f[0]], apex)
		b := r3.Sub(s.positions[f[1]], apex)
		c := r3.Sub(s.positions[f[2]], apex)
		vol += r3.Dot(a, r3.Cross(b, c)) / 6
	}
	return vol
}

// FaceAreaGradient returns the gradient of the area of face f with respect
// to its corner at vertex index corner (0..2): half the face normal crossed
// with the opposite edge vector.
func (s *Surface) FaceAreaGradient(f, corner int) r3.Vec {
	face := s.faces[f]
	opp := r3.Sub(s.positions[face[(corner+2)%3]], s.positions[face[(corner+1)%3]])
	return r3.Scale(0.5, r3.Cross(s.faceNormals[f], opp))
}

// FaceVolumeGradient returns the gradient of the enclosed volume with
// respect to the corner vertex of face f: one sixth of the cross product of
// the remaining two corners. Summed over a closed fan this is the vertex
// vector area / 3.
func (s *Surface) FaceVolumeGradient(f, corner int) r3.Vec {
	face := s.faces[f]
	b := s.positions[face[(corner+1)%3]]
	c := s.positions[face[(corner+2)%3]]
	return r3.Scale(1.0/6.0, r3.Cross(b, c))
}

// CrossLengthRatio returns the length cross-ratio of interior edge e:
// the product of the two opposite-corner distances over the product of the
// remaining flap edges. Boundary edges report 1.
func (s *Surface) CrossLengthRatio(e int) float64 {
	ed := s.edges[e]
	if ed.Boundary() {
		return 1
	}
	i, j := s.positions[ed.V0], s.positions[ed.V1]
	k, l := s.positions[ed.Opp[0]], s.positions[ed.Opp[1]]
	num := r3.Norm(r3.Sub(k, i)) * r3.Norm(r3.Sub(l, j))
	den := r3.Norm(r3.Sub(l, i)) * r3.Norm(r3.Sub(k, j))
	if den == 0 {
		return 1
	}
	return num / den
}
