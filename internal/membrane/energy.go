package membrane

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// ComputeFreeEnergy evaluates the decomposed free energy of the current
// state and caches it on the system. Total is always the sum of the seven
// named contributions; Potential excludes the kinetic part.
func (s *System) ComputeFreeEnergy() (Energy, error) {
	if err := s.ensureFresh(); err != nil {
		return Energy{}, err
	}
	var e Energy
	nv := s.mesh.NumVertices()

	for v := 0; v < nv; v++ {
		area := s.mesh.DualArea(v)
		e.Kinetic += 0.5 * area * r3.Dot(s.velocity[v], s.velocity[v])
		diff := s.h[v] - s.h0[v]
		e.Bending += s.P.Kb * area * diff * diff
		e.Chemical += s.P.Epsilon * s.proteinDensity[v] * area
	}

	dA := s.surfaceArea - s.targetArea
	if s.P.Ksg != 0 || s.P.LambdaSG != 0 {
		e.Stretching += s.P.Ksg*dA*dA/s.targetArea + s.P.LambdaSG*dA
	}
	if s.P.Ksl != 0 {
		for f := 0; f < s.mesh.NumFaces(); f++ {
			d := s.mesh.FaceArea(f) - s.targetFaceAreas[f]
			e.Stretching += s.P.Ksl * d * d / s.targetFaceAreas[f]
		}
	}
	if s.P.Kse != 0 {
		for ei := 0; ei < s.mesh.NumEdges(); ei++ {
			d := s.mesh.EdgeLength(ei) - s.targetEdgeLengths[ei]
			e.Stretching += s.P.Kse * d * d / s.targetEdgeLengths[ei]
		}
	}

	if s.mesh.Closed() && (s.P.Kv != 0 || s.P.LambdaV != 0) {
		target := s.P.Vt * s.refVolume
		dV := s.volume - target
		e.PressureWork = s.P.Kv*dV*dV/target + s.P.LambdaV*dV
	}

	e.LineTension = s.P.Eta * s.interfaceLength

	if s.P.Kf != 0 {
		for v := 0; v < nv; v++ {
			disp := r3.Sub(s.mesh.Position(v), s.refPositions[v])
			e.ExternalWork -= r3.Dot(s.externalPressure[v], disp)
		}
	}

	e.Total = e.Kinetic + e.Bending + e.Stretching + e.PressureWork +
		e.Chemical + e.LineTension + e.ExternalWork
	e.Potential = e.Total - e.Kinetic
	s.E = e
	return e, nil
}
