package membrane

import "math"

// curvaturePolicy computes the spontaneous-curvature field H0. The policy
// is chosen once at construction so illegal combinations (protein coupling
// plus a fixed geometric domain) cannot be represented.
type curvaturePolicy interface {
	name() string
	// apply fills h0 and its derivative with respect to protein density.
	// dH0dRho is nil for policies without protein coupling.
	apply(s *System, h0, dH0dRho []float64)
	// hasInterface reports whether the field can form a curvature
	// interface for line tension to act on.
	hasInterface() bool
}

// selectCurvaturePolicy implements the tie-break order: protein coupling
// wins if enabled; otherwise a nonzero magnitude selects the geometric
// domain, circular when the radii coincide; otherwise the field is zero.
func selectCurvaturePolicy(p Parameters, opts Options) curvaturePolicy {
	switch {
	case opts.Protein:
		return proteinCurvature{h0Max: p.H0}
	case p.H0 != 0 && p.RH0[0] == p.RH0[1]:
		return circularCurvature{h0Max: p.H0, sharpness: p.Sharpness, radius: p.RH0[0]}
	case p.H0 != 0:
		return ellipticCurvature{h0Max: p.H0, sharpness: p.Sharpness, radii: p.RH0}
	default:
		return zeroCurvature{}
	}
}

// proteinCurvature saturates with density: H0 = H0max * rho^2/(1+rho^2).
type proteinCurvature struct{ h0Max float64 }

func (proteinCurvature) name() string       { return "protein" }
func (proteinCurvature) hasInterface() bool { return true }

func (c proteinCurvature) apply(s *System, h0, dH0dRho []float64) {
	for v, rho := range s.proteinDensity {
		sq := rho * rho
		den := 1 + sq
		h0[v] = c.h0Max * sq / den
		dH0dRho[v] = c.h0Max * 2 * rho / (den * den)
	}
}

// circularCurvature is a tanh transition in geodesic distance from the
// reference vertex.
type circularCurvature struct {
	h0Max     float64
	sharpness float64
	radius    float64
}

func (circularCurvature) name() string       { return "circular" }
func (circularCurvature) hasInterface() bool { return true }

func (c circularCurvature) apply(s *System, h0, _ []float64) {
	for v, d := range s.geodesicDistance {
		h0[v] = c.h0Max * 0.5 * (1 - math.Tanh(c.sharpness*(d-c.radius)))
	}
}

// ellipticCurvature generalizes the circular domain to two principal radii.
// The transition coordinate is the elliptical radius of the position offset
// from the reference vertex, measured in the two in-plane directions.
type ellipticCurvature struct {
	h0Max     float64
	sharpness float64
	radii     [2]float64
}

func (ellipticCurvature) name() string       { return "elliptic" }
func (ellipticCurvature) hasInterface() bool { return true }

func (c ellipticCurvature) apply(s *System, h0, _ []float64) {
	center := s.mesh.Position(s.ptIndex)
	for v := range h0 {
		off := s.mesh.Position(v)
		dx := (off.X - center.X) / c.radii[0]
		dy := (off.Y - center.Y) / c.radii[1]
		r := math.Sqrt(dx*dx + dy*dy)
		h0[v] = c.h0Max * 0.5 * (1 - math.Tanh(c.sharpness*(r-1)))
	}
}

// zeroCurvature leaves the field at zero. Line tension has nothing to act
// on, which NewSystem rejects when Eta != 0.
type zeroCurvature struct{}

func (zeroCurvature) name() string       { return "none" }
func (zeroCurvature) hasInterface() bool { return false }

func (zeroCurvature) apply(_ *System, h0, _ []float64) {
	for v := range h0 {
		h0[v] = 0
	}
}
