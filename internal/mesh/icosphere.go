package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Icosphere builds a sphere of the given radius centered at the origin by
// subdividing an icosahedron and projecting onto the sphere. Subdivision 0
// is the bare icosahedron (12 vertices); each level quadruples the face
// count.
func Icosphere(radius float64, subdivisions int) *Surface {
	phi := (1 + math.Sqrt(5)) / 2
	verts := []r3.Vec{
		{X: -1, Y: phi}, {X: 1, Y: phi}, {X: -1, Y: -phi}, {X: 1, Y: -phi},
		{Y: -1, Z: phi}, {Y: 1, Z: phi}, {Y: -1, Z: -phi}, {Y: 1, Z: -phi},
		{X: phi, Z: -1}, {X: phi, Z: 1}, {X: -phi, Z: -1}, {X: -phi, Z: 1},
	}
	faces := [][3]int{
		{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
		{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
		{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
		{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
	}

	for level := 0; level < subdivisions; level++ {
		midpoint := make(map[[2]int]int)
		mid := func(a, b int) int {
			key := [2]int{min(a, b), max(a, b)}
			if v, ok := midpoint[key]; ok {
				return v
			}
			m := r3.Scale(0.5, r3.Add(verts[a], verts[b]))
			verts = append(verts, m)
			midpoint[key] = len(verts) - 1
			return len(verts) - 1
		}
		next := make([][3]int, 0, 4*len(faces))
		for _, f := range faces {
			ab, bc, ca := mid(f[0], f[1]), mid(f[1], f[2]), mid(f[2], f[0])
			next = append(next,
				[3]int{f[0], ab, ca},
				[3]int{f[1], bc, ab},
				[3]int{f[2], ca, bc},
				[3]int{ab, bc, ca},
			)
		}
		faces = next
	}

	for i, v := range verts {
		verts[i] = r3.Scale(radius/r3.Norm(v), v)
	}

	s, err := New(verts, faces)
	if err != nil {
		// the generator produces a valid manifold by construction
		panic(err)
	}
	return s
}
