package integrate

import (
	"gonum.org/v1/gonum/spatial/r3"

	"memsim/internal/membrane"
)

// GradientDescent marches positions along the total pressure field,
// optionally guarded by the Armijo backtracking line search so that no
// accepted step increases the potential energy beyond the
// sufficient-decrease bound.
type GradientDescent struct {
	dir []r3.Vec
}

// NewGradientDescent returns the steepest-descent stepper.
func NewGradientDescent() *GradientDescent { return &GradientDescent{} }

// Name implements Stepper.
func (g *GradientDescent) Name() string { return "gradient_descent" }

// Check implements Stepper. The multiplier outer loop lives in the
// conjugate-gradient scheme; steepest descent would never satisfy its
// termination condition.
func (g *GradientDescent) Check(_ *membrane.System, opts Options) error {
	if opts.AugmentedLagrangian {
		return errIncompatiblef("augmented Lagrangian requires the conjugate-gradient scheme")
	}
	return nil
}

// afterStatus snapshots the descent direction while the force caches are
// fresh; March may trigger recomputes that zero them.
func (g *GradientDescent) afterStatus(s *membrane.System, _ Sample, _ Options) error {
	if g.dir == nil {
		g.dir = make([]r3.Vec, s.Mesh().NumVertices())
	}
	s.TotalPressure(g.dir, false)
	return nil
}

// March implements Stepper.
func (g *GradientDescent) March(s *membrane.System, dt float64, opts Options) (bool, error) {
	s.EvolveProtein(dt)

	if opts.Backtrack {
		alpha, err := backtrackLineSearch(s, g.dir, dt, opts.Rho, opts.C1)
		if err != nil {
			return false, err
		}
		if alpha == 0 {
			return false, nil
		}
	} else {
		s.Displace(g.dir, dt)
	}
	s.ApplyVertexShift()
	return true, nil
}
