package membrane

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"memsim/internal/mesh"
)

// System aggregates the geometry-derived physical state of a membrane run:
// curvature fields, cached pressures, protein chemistry, reference-shape
// targets, and the seeded random stream. All derived caches are valid only
// between a Recompute call and the next position mutation; every force or
// energy entry point re-establishes freshness before reading.
type System struct {
	P    Parameters
	Opts Options

	mesh *mesh.Surface
	ref  *mesh.Surface

	policy curvaturePolicy

	// reference-shape constants, fixed at construction
	targetFaceAreas   []float64
	targetEdgeLengths []float64
	targetLcr         []float64
	targetArea        float64
	refVolume         float64
	refPositions      []r3.Vec
	refApex           r3.Vec
	pullAxis          r3.Vec
	ptIndex           int
	mask              []bool

	// geometry-derived caches
	h                []float64
	h0               []float64
	dH0dRho          []float64
	geodesicDistance []float64
	surfaceArea      float64
	volume           float64
	interfaceArea    float64
	interfaceLength  float64

	// per-vertex force caches
	bendingPressure     []r3.Vec
	capillaryPressure   []r3.Vec
	lineTensionPressure []r3.Vec
	insidePressure      []r3.Vec
	externalPressure    []r3.Vec
	regularizationForce []r3.Vec
	dampingForce        []r3.Vec
	stochasticForce     []r3.Vec

	proteinDensity    []float64
	chemicalPotential []float64

	// stepping state
	pastPositions []r3.Vec
	velocity      []r3.Vec
	E             Energy

	normal     distuv.Normal
	posScratch []r3.Vec
	stale      bool
}

// NewSystem builds the physical state from the current and reference
// surfaces. The reference surface supplies rest-shape targets (face areas,
// edge lengths, cross-length ratios, reference volume) and the anchor
// vertex for distances; both surfaces must share connectivity. The seed
// fixes the stochastic stream for the whole run.
func NewSystem(current, reference *mesh.Surface, p Parameters, opts Options, seed uint64) (*System, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if current.NumVertices() != reference.NumVertices() || current.NumFaces() != reference.NumFaces() {
		return nil, fmt.Errorf("membrane: current and reference meshes disagree (%d/%d vertices, %d/%d faces)",
			current.NumVertices(), reference.NumVertices(), current.NumFaces(), reference.NumFaces())
	}
	if p.Kv != 0 && !current.Closed() {
		return nil, ErrOpenVolume
	}

	nv := current.NumVertices()
	s := &System{
		P:      p,
		Opts:   opts,
		mesh:   current,
		ref:    reference,
		policy: selectCurvaturePolicy(p, opts),
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)},
		stale:  true,
	}
	if p.Eta != 0 && !s.policy.hasInterface() {
		return nil, ErrLineTensionDomain
	}

	s.h = make([]float64, nv)
	s.h0 = make([]float64, nv)
	s.dH0dRho = make([]float64, nv)
	s.proteinDensity = make([]float64, nv)
	s.chemicalPotential = make([]float64, nv)
	s.bendingPressure = make([]r3.Vec, nv)
	s.capillaryPressure = make([]r3.Vec, nv)
	s.lineTensionPressure = make([]r3.Vec, nv)
	s.insidePressure = make([]r3.Vec, nv)
	s.externalPressure = make([]r3.Vec, nv)
	s.regularizationForce = make([]r3.Vec, nv)
	s.dampingForce = make([]r3.Vec, nv)
	s.stochasticForce = make([]r3.Vec, nv)
	s.velocity = make([]r3.Vec, nv)
	s.pastPositions = current.Positions()

	pt := r3.Vec{X: p.Pt[0], Y: p.Pt[1], Z: p.Pt[2]}
	s.ptIndex = reference.ClosestVertex(pt)
	s.refApex = reference.Position(s.ptIndex)
	s.refPositions = reference.Positions()
	s.pullAxis = reference.VertexNormal(s.ptIndex)

	// the mask restricts integration to vertices within Radius of the
	// anchor (measured on the reference shape) and off any boundary
	s.mask = make([]bool, nv)
	refDist := reference.GeodesicDistances(s.ptIndex)
	for v := 0; v < nv; v++ {
		s.mask[v] = p.Radius <= 0 || refDist[v] < p.Radius
		if current.BoundaryVertex(v) {
			s.mask[v] = false
		}
	}

	s.targetFaceAreas = make([]float64, reference.NumFaces())
	s.targetArea = 0
	for f := 0; f < reference.NumFaces(); f++ {
		s.targetFaceAreas[f] = reference.FaceArea(f)
		s.targetArea += s.targetFaceAreas[f]
	}
	s.targetEdgeLengths = make([]float64, reference.NumEdges())
	s.targetLcr = make([]float64, reference.NumEdges())
	for e := 0; e < reference.NumEdges(); e++ {
		s.targetEdgeLengths[e] = reference.EdgeLength(e)
		s.targetLcr[e] = reference.CrossLengthRatio(e)
	}

	// reference volume of the sphere with the target area; open surfaces
	// carry no volume constraint
	if current.Closed() {
		s.refVolume = math.Pow(s.targetArea/(4*math.Pi), 1.5) * (4 * math.Pi / 3)
	}

	if err := s.Recompute(); err != nil {
		return nil, err
	}
	return s, nil
}

// Recompute refreshes every geometry-derived cache from the current vertex
// positions: mesh quantities, the geodesic distance field, the spontaneous
// and mean curvature fields, enclosed volume, surface and interface areas,
// the external pressure profile, and the past-position snapshot. All force
// caches are zeroed. It is the single entry point that re-validates state
// after a position mutation.
func (s *System) Recompute() error {
	s.mesh.Refresh()

	nv := s.mesh.NumVertices()
	for v := 0; v < nv; v++ {
		if s.mesh.DualArea(v) <= 0 {
			return fmt.Errorf("%w: vertex %d has dual area %g", ErrSingularMass, v, s.mesh.DualArea(v))
		}
	}

	s.geodesicDistance = s.mesh.GeodesicDistances(s.ptIndex)
	s.policy.apply(s, s.h0, s.dH0dRho)

	// H = M^-1 (L x . n) / 2, per-vertex dot with the angle-weighted normal
	lx := make([]r3.Vec, nv)
	s.mesh.Laplacian().ApplyVec(lx, s.positionsRef())
	for v := 0; v < nv; v++ {
		s.h[v] = r3.Dot(lx[v], s.mesh.VertexNormal(v)) / (2 * s.mesh.DualArea(v))
	}

	s.volume = 0
	if s.mesh.Closed() {
		s.volume = s.mesh.SignedVolume(s.refApex)
	}
	s.surfaceArea = s.mesh.TotalArea()
	s.recomputeInterface()

	for v := 0; v < nv; v++ {
		s.bendingPressure[v] = r3.Vec{}
		s.capillaryPressure[v] = r3.Vec{}
		s.lineTensionPressure[v] = r3.Vec{}
		s.insidePressure[v] = r3.Vec{}
		s.externalPressure[v] = r3.Vec{}
		s.regularizationForce[v] = r3.Vec{}
		s.dampingForce[v] = r3.Vec{}
		s.stochasticForce[v] = r3.Vec{}
		s.chemicalPotential[v] = 0
	}
	s.stale = false
	s.computeExternalPressure()

	copy(s.pastPositions, s.positionsRef())
	return nil
}

// recomputeInterface measures the curvature interface: the dual area of the
// transition band (10%-90% of the curvature magnitude) and the length of
// the mid-level set traced across faces.
func (s *System) recomputeInterface() {
	s.interfaceArea = 0
	s.interfaceLength = 0
	h0Max := s.P.H0
	if h0Max == 0 || !s.policy.hasInterface() {
		return
	}
	for v := range s.h0 {
		frac := s.h0[v] / h0Max
		if frac > 0.1 && frac < 0.9 && s.h[v] != 0 {
			s.interfaceArea += s.mesh.DualArea(v)
		}
	}
	for f := 0; f < s.mesh.NumFaces(); f++ {
		face := s.mesh.Face(f)
		var pts []r3.Vec
		for c := 0; c < 3; c++ {
			i, j := face[c], face[(c+1)%3]
			fi := s.h0[i]/h0Max - 0.5
			fj := s.h0[j]/h0Max - 0.5
			if fi == fj || fi*fj > 0 {
				continue
			}
			t := fi / (fi - fj)
			pi, pj := s.mesh.Position(i), s.mesh.Position(j)
			pts = append(pts, r3.Add(pi, r3.Scale(t, r3.Sub(pj, pi))))
		}
		if len(pts) == 2 {
			s.interfaceLength += r3.Norm(r3.Sub(pts[1], pts[0]))
		}
	}
}

// positionsRef fills and returns the position scratch slice for internal
// kernels; all external mutation goes through SetPositions or Displace.
func (s *System) positionsRef() []r3.Vec {
	if s.posScratch == nil {
		s.posScratch = make([]r3.Vec, s.mesh.NumVertices())
	}
	for v := range s.posScratch {
		s.posScratch[v] = s.mesh.Position(v)
	}
	return s.posScratch
}

// ensureFresh recomputes derived state if a mutation happened since the
// last Recompute. Force kernels call it so stale reads are impossible.
func (s *System) ensureFresh() error {
	if s.stale {
		return s.Recompute()
	}
	return nil
}

// SetPositions replaces the vertex positions and marks derived state
// stale.
func (s *System) SetPositions(p []r3.Vec) error {
	if err := s.mesh.SetPositions(p); err != nil {
		return err
	}
	s.stale = true
	return nil
}

// Displace moves masked vertices by alpha*dir and marks derived state
// stale. Vertices outside the integration mask do not move.
func (s *System) Displace(dir []r3.Vec, alpha float64) {
	pos := s.mesh.Positions()
	for v := range pos {
		if !s.mask[v] {
			continue
		}
		pos[v] = r3.Add(pos[v], r3.Scale(alpha, dir[v]))
	}
	// SetPositions cannot fail here: the slice length is unchanged
	_ = s.mesh.SetPositions(pos)
	s.stale = true
}

// Stale reports whether a position mutation has invalidated the caches.
func (s *System) Stale() bool { return s.stale }

// Mesh returns the borrowed surface. Mutating its positions directly
// bypasses the staleness protocol; collaborators that do so must call
// Recompute before reading any derived quantity.
func (s *System) Mesh() *mesh.Surface { return s.mesh }

// Accessors for cached physical fields. Values are valid only after
// Recompute; the compute entry points enforce this.

func (s *System) MeanCurvature() []float64        { return s.h }
func (s *System) SpontaneousCurvature() []float64 { return s.h0 }
func (s *System) GeodesicDistance() []float64     { return s.geodesicDistance }
func (s *System) Mask() []bool                    { return s.mask }
func (s *System) ProteinDensity() []float64       { return s.proteinDensity }
func (s *System) ChemicalPotential() []float64    { return s.chemicalPotential }
func (s *System) SurfaceArea() float64            { return s.surfaceArea }
func (s *System) Volume() float64                 { return s.volume }
func (s *System) InterfaceArea() float64          { return s.interfaceArea }
func (s *System) InterfaceLength() float64        { return s.interfaceLength }
func (s *System) ReferenceVolume() float64        { return s.refVolume }
func (s *System) TargetArea() float64             { return s.targetArea }
func (s *System) AnchorVertex() int               { return s.ptIndex }

func (s *System) BendingPressure() []r3.Vec     { return s.bendingPressure }
func (s *System) CapillaryPressure() []r3.Vec   { return s.capillaryPressure }
func (s *System) LineTensionPressure() []r3.Vec { return s.lineTensionPressure }
func (s *System) InsidePressure() []r3.Vec      { return s.insidePressure }
func (s *System) ExternalPressure() []r3.Vec    { return s.externalPressure }
func (s *System) RegularizationForce() []r3.Vec { return s.regularizationForce }
func (s *System) DampingForce() []r3.Vec        { return s.dampingForce }
func (s *System) StochasticForce() []r3.Vec     { return s.stochasticForce }

// Velocity returns the per-vertex velocity field. Velocity-stepping
// integrators own and advance it; descent schemes leave it zero.
func (s *System) Velocity() []r3.Vec { return s.velocity }

// UpdateVelocityFromPastPositions estimates velocity by finite-differencing
// the current positions against the snapshot taken at the last Recompute.
func (s *System) UpdateVelocityFromPastPositions(dt float64) {
	pos := s.positionsRef()
	for v := range s.velocity {
		s.velocity[v] = r3.Scale(1/dt, r3.Sub(pos[v], s.pastPositions[v]))
	}
}

// AreaDeviation returns the relative surface-area constraint violation.
// It is zero when the constraint is disabled.
func (s *System) AreaDeviation() float64 {
	if s.P.Ksg == 0 {
		return 0
	}
	return math.Abs(s.surfaceArea/s.targetArea - 1)
}

// VolumeDeviation returns the relative volume constraint violation against
// the reduced-volume target; zero when disabled or the surface is open.
func (s *System) VolumeDeviation() float64 {
	if s.P.Kv == 0 || !s.mesh.Closed() {
		return 0
	}
	return math.Abs(s.volume/(s.P.Vt*s.refVolume) - 1)
}

// EvolveProtein advances the protein density down the chemical-potential
// gradient: rho += Bc * mu * dt, clamped non-negative. A no-op unless the
// protein policy is active.
func (s *System) EvolveProtein(dt float64) {
	if !s.Opts.Protein {
		return
	}
	for v := range s.proteinDensity {
		s.proteinDensity[v] += s.P.Bc * s.chemicalPotential[v] * dt
		if s.proteinDensity[v] < 0 {
			s.proteinDensity[v] = 0
		}
	}
	s.stale = true
}

// SetProteinDensity seeds the density field, e.g. from a stored frame.
func (s *System) SetProteinDensity(rho []float64) error {
	if len(rho) != len(s.proteinDensity) {
		return fmt.Errorf("membrane: density length %d does not match %d vertices", len(rho), len(s.proteinDensity))
	}
	copy(s.proteinDensity, rho)
	s.stale = true
	return nil
}
