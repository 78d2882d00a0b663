package membrane

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ComputeBendingPressure accumulates the Helfrich bending force density
// along the vertex normal:
//
//	p = Kb [ Δ(H-H0) + 2(H-H0)(H^2 + H*H0 - K) ] n
//
// with Δ the (negated weak) cotangent Laplacian and K the angle-defect
// Gaussian curvature. The coefficient is exact for the sphere family under
// the energy Kb * sum A (H-H0)^2.
func (s *System) ComputeBendingPressure() error {
	if err := s.ensureFresh(); err != nil {
		return err
	}
	if s.P.Kb == 0 {
		return nil
	}
	nv := s.mesh.NumVertices()
	diff := make([]float64, nv)
	for v := 0; v < nv; v++ {
		diff[v] = s.h[v] - s.h0[v]
	}
	lap := make([]float64, nv)
	s.mesh.Laplacian().Apply(lap, diff)
	for v := 0; v < nv; v++ {
		area := s.mesh.DualArea(v)
		k := s.mesh.GaussianCurvature(v)
		scalar := s.P.Kb * (-lap[v]/area + 2*diff[v]*(s.h[v]*s.h[v]+s.h[v]*s.h0[v]-k))
		s.bendingPressure[v] = r3.Add(s.bendingPressure[v], r3.Scale(scalar, s.mesh.VertexNormal(v)))
	}
	return nil
}

// ComputeCapillaryPressure accumulates the global-area (surface tension)
// force density: the negative area gradient scaled by the constraint
// stress Ksg*(A-At)/At plus the augmented-Lagrangian multiplier.
func (s *System) ComputeCapillaryPressure() error {
	if err := s.ensureFresh(); err != nil {
		return err
	}
	if s.P.Ksg == 0 && s.P.LambdaSG == 0 {
		return nil
	}
	stress := 2*s.P.Ksg*(s.surfaceArea-s.targetArea)/s.targetArea + s.P.LambdaSG
	for v := 0; v < s.mesh.NumVertices(); v++ {
		grad := s.areaGradient(v)
		s.capillaryPressure[v] = r3.Add(s.capillaryPressure[v],
			r3.Scale(-stress/s.mesh.DualArea(v), grad))
	}
	return nil
}

// ComputeInsidePressure accumulates the osmotic/volume force density: the
// negative volume gradient scaled by the volume constraint stress. With a
// volume deficit the stress is negative and the pressure pushes outward.
func (s *System) ComputeInsidePressure() error {
	if err := s.ensureFresh(); err != nil {
		return err
	}
	if (s.P.Kv == 0 && s.P.LambdaV == 0) || !s.mesh.Closed() {
		return nil
	}
	target := s.P.Vt * s.refVolume
	stress := 2*s.P.Kv*(s.volume-target)/target + s.P.LambdaV
	for v := 0; v < s.mesh.NumVertices(); v++ {
		grad := s.volumeGradient(v)
		s.insidePressure[v] = r3.Add(s.insidePressure[v],
			r3.Scale(-stress/s.mesh.DualArea(v), grad))
	}
	return nil
}

// ComputeLineTensionPressure accumulates the interfacial tension force
// density as the gradient flow of the normalized spontaneous-curvature
// profile: -eta * M^-1 L phi along the normal, nonzero only in the
// transition band.
func (s *System) ComputeLineTensionPressure() error {
	if err := s.ensureFresh(); err != nil {
		return err
	}
	if s.P.Eta == 0 || s.P.H0 == 0 {
		return nil
	}
	nv := s.mesh.NumVertices()
	phi := make([]float64, nv)
	for v := 0; v < nv; v++ {
		phi[v] = s.h0[v] / s.P.H0
	}
	lap := make([]float64, nv)
	s.mesh.Laplacian().Apply(lap, phi)
	for v := 0; v < nv; v++ {
		scalar := -s.P.Eta * lap[v] / s.mesh.DualArea(v)
		s.lineTensionPressure[v] = r3.Add(s.lineTensionPressure[v],
			r3.Scale(scalar, s.mesh.VertexNormal(v)))
	}
	return nil
}

// ComputeRegularizationForce accumulates the in-plane mesh regularization
// forces: local face-area restoration (Ksl), edge springs (Kse), and
// cross-length-ratio restoring (Kst). They keep the triangulation healthy
// and are not part of the physical pressure or the residual.
func (s *System) ComputeRegularizationForce() error {
	if err := s.ensureFresh(); err != nil {
		return err
	}
	if s.P.Ksl != 0 {
		for v := 0; v < s.mesh.NumVertices(); v++ {
			var f r3.Vec
			for _, fi := range s.mesh.VertexFaces(v) {
				face := s.mesh.Face(fi)
				corner := 0
				for c := 0; c < 3; c++ {
					if face[c] == v {
						corner = c
						break
					}
				}
				strain := (s.mesh.FaceArea(fi) - s.targetFaceAreas[fi]) / s.targetFaceAreas[fi]
				f = r3.Add(f, r3.Scale(-2*s.P.Ksl*strain, s.mesh.FaceAreaGradient(fi, corner)))
			}
			s.regularizationForce[v] = r3.Add(s.regularizationForce[v], f)
		}
	}
	if s.P.Kse != 0 {
		for ei, e := range s.mesh.Edges() {
			l := s.mesh.EdgeLength(ei)
			lt := s.targetEdgeLengths[ei]
			if l == 0 || lt == 0 {
				continue
			}
			coeff := -2 * s.P.Kse * (l - lt) / lt / l
			d := r3.Sub(s.mesh.Position(e.V0), s.mesh.Position(e.V1))
			s.regularizationForce[e.V0] = r3.Add(s.regularizationForce[e.V0], r3.Scale(coeff, d))
			s.regularizationForce[e.V1] = r3.Sub(s.regularizationForce[e.V1], r3.Scale(coeff, d))
		}
	}
	if s.P.Kst != 0 {
		// cross-length-ratio restoring: a spring on the flap diagonal of
		// each interior edge, pulling the opposite corners together when
		// the ratio exceeds its rest value
		for ei, e := range s.mesh.Edges() {
			if e.Boundary() {
				continue
			}
			lcr := s.mesh.CrossLengthRatio(ei)
			lt := s.targetLcr[ei]
			if lt == 0 {
				continue
			}
			k, l := e.Opp[0], e.Opp[1]
			d := r3.Sub(s.mesh.Position(k), s.mesh.Position(l))
			dist := r3.Norm(d)
			if dist == 0 {
				continue
			}
			coeff := -s.P.Kst * (lcr - lt) / lt / dist
			s.regularizationForce[k] = r3.Add(s.regularizationForce[k], r3.Scale(coeff, d))
			s.regularizationForce[l] = r3.Sub(s.regularizationForce[l], r3.Scale(coeff, d))
		}
	}
	return nil
}

// ComputeDPDForces accumulates the dissipative-particle-dynamics pair: for
// every edge, a damping force along the edge direction proportional to the
// relative velocity, and a Gaussian stochastic force from the run's single
// seeded stream with the fluctuation-dissipation amplitude
// sigma*sqrt(2*gamma*temp/dt).
func (s *System) ComputeDPDForces(dt float64) error {
	if err := s.ensureFresh(); err != nil {
		return err
	}
	if s.P.Gamma == 0 && s.P.Sigma == 0 {
		return nil
	}
	amp := 0.0
	if dt > 0 {
		amp = s.P.Sigma * math.Sqrt(2*s.P.Gamma*s.P.Temp/dt)
	}
	for ei, e := range s.mesh.Edges() {
		l := s.mesh.EdgeLength(ei)
		if l == 0 {
			continue
		}
		dir := r3.Scale(1/l, r3.Sub(s.mesh.Position(e.V1), s.mesh.Position(e.V0)))
		if s.P.Gamma != 0 {
			vrel := r3.Sub(s.velocity[e.V0], s.velocity[e.V1])
			fd := r3.Scale(-s.P.Gamma*r3.Dot(vrel, dir), dir)
			s.dampingForce[e.V0] = r3.Add(s.dampingForce[e.V0], fd)
			s.dampingForce[e.V1] = r3.Sub(s.dampingForce[e.V1], fd)
		}
		if amp != 0 {
			fs := r3.Scale(amp*s.normal.Rand(), dir)
			s.stochasticForce[e.V0] = r3.Add(s.stochasticForce[e.V0], fs)
			s.stochasticForce[e.V1] = r3.Sub(s.stochasticForce[e.V1], fs)
		}
	}
	return nil
}

// ComputeChemicalPotential fills the chemical potential of the protein
// field: the negative per-area energy derivative with respect to density,
// mu = 2 Kb (H-H0) dH0/drho - epsilon.
func (s *System) ComputeChemicalPotential() error {
	if err := s.ensureFresh(); err != nil {
		return err
	}
	if !s.Opts.Protein {
		return nil
	}
	for v := range s.chemicalPotential {
		s.chemicalPotential[v] = 2*s.P.Kb*(s.h[v]-s.h0[v])*s.dH0dRho[v] - s.P.Epsilon
	}
	return nil
}

// computeExternalPressure fills the externally applied force density: a
// Gaussian profile of the geodesic distance from the anchor vertex, along
// the fixed pull axis, gated off once the anchor has advanced past the
// target height. Vertices outside the mask feel nothing. It runs inside
// Recompute so the field tracks geometry like the other cached quantities.
func (s *System) computeExternalPressure() {
	if s.P.Kf == 0 {
		return
	}
	reached := r3.Dot(r3.Sub(s.mesh.Position(s.ptIndex), s.refPositions[s.ptIndex]), s.pullAxis)
	if s.P.Height > 0 && reached >= s.P.Height {
		return
	}
	for v := 0; v < s.mesh.NumVertices(); v++ {
		if !s.mask[v] {
			continue
		}
		m := s.P.Kf
		if s.P.Conc > 0 {
			d := s.geodesicDistance[v] / s.P.Conc
			m *= math.Exp(-d * d)
		} else if v != s.ptIndex {
			continue
		}
		s.externalPressure[v] = r3.Scale(m, s.pullAxis)
	}
}

// ComputeAllForces runs every mechanical kernel plus regularization and the
// chemical potential against the current (fresh) state.
func (s *System) ComputeAllForces() error {
	if err := s.ensureFresh(); err != nil {
		return err
	}
	for _, kernel := range []func() error{
		s.ComputeBendingPressure,
		s.ComputeCapillaryPressure,
		s.ComputeInsidePressure,
		s.ComputeLineTensionPressure,
		s.ComputeRegularizationForce,
		s.ComputeChemicalPotential,
	} {
		if err := kernel(); err != nil {
			return err
		}
	}
	return nil
}

// PhysicalPressure sums the five mechanical force densities into out,
// zeroing vertices outside the integration mask. The result is the field
// whose residual norm drives convergence detection.
func (s *System) PhysicalPressure(out []r3.Vec) {
	for v := range out {
		if !s.mask[v] {
			out[v] = r3.Vec{}
			continue
		}
		p := s.bendingPressure[v]
		p = r3.Add(p, s.capillaryPressure[v])
		p = r3.Add(p, s.insidePressure[v])
		p = r3.Add(p, s.lineTensionPressure[v])
		p = r3.Add(p, s.externalPressure[v])
		out[v] = p
	}
}

// TotalPressure sums the physical pressure with the regularization force
// density and, when includeDPD is set, the damping and stochastic force
// densities.
func (s *System) TotalPressure(out []r3.Vec, includeDPD bool) {
	s.PhysicalPressure(out)
	for v := range out {
		if !s.mask[v] {
			continue
		}
		area := s.mesh.DualArea(v)
		out[v] = r3.Add(out[v], r3.Scale(1/area, s.regularizationForce[v]))
		if includeDPD {
			dpd := r3.Add(s.dampingForce[v], s.stochasticForce[v])
			out[v] = r3.Add(out[v], r3.Scale(1/area, dpd))
		}
	}
}

// L2ResidualNorm is the mass-weighted L2 norm of the summed physical
// pressure, the discrete residual of the equilibrium shape equation.
func (s *System) L2ResidualNorm() float64 {
	p := make([]r3.Vec, s.mesh.NumVertices())
	s.PhysicalPressure(p)
	sum := 0.0
	for v := range p {
		d := r3.Dot(p[v], p[v])
		sum += s.mesh.DualArea(v) * d
	}
	return math.Sqrt(sum)
}

// ApplyVertexShift relaxes masked vertices toward the barycenter of their
// one-ring, the tangential regularization used between descent steps. The
// caller must Recompute afterwards; the method marks state stale.
func (s *System) ApplyVertexShift() {
	if !s.Opts.VertexShift {
		return
	}
	pos := s.mesh.Positions()
	shifted := make([]r3.Vec, len(pos))
	copy(shifted, pos)
	for v := range pos {
		if !s.mask[v] {
			continue
		}
		nbs := s.mesh.VertexNeighbors(v)
		if len(nbs) == 0 {
			continue
		}
		var c r3.Vec
		for _, nb := range nbs {
			c = r3.Add(c, pos[nb])
		}
		c = r3.Scale(1/float64(len(nbs)), c)
		// project the shift onto the tangent plane so the move is purely
		// in-surface
		d := r3.Sub(c, pos[v])
		n := s.mesh.VertexNormal(v)
		d = r3.Sub(d, r3.Scale(r3.Dot(d, n), n))
		shifted[v] = r3.Add(pos[v], d)
	}
	_ = s.mesh.SetPositions(shifted)
	s.stale = true
}

func (s *System) areaGradient(v int) r3.Vec {
	var g r3.Vec
	for _, fi := range s.mesh.VertexFaces(v) {
		face := s.mesh.Face(fi)
		for c := 0; c < 3; c++ {
			if face[c] == v {
				g = r3.Add(g, s.mesh.FaceAreaGradient(fi, c))
				break
			}
		}
	}
	return g
}

func (s *System) volumeGradient(v int) r3.Vec {
	var g r3.Vec
	for _, fi := range s.mesh.VertexFaces(v) {
		face := s.mesh.Face(fi)
		for c := 0; c < 3; c++ {
			if face[c] == v {
				g = r3.Add(g, s.mesh.FaceVolumeGradient(fi, c))
				break
			}
		}
	}
	return g
}
