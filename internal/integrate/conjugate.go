package integrate

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"memsim/internal/membrane"
)

// ConjugateGradient maintains a Fletcher-Reeves search direction over
// successive pressure fields, restarted periodically, with the same Armijo
// backtracking as gradient descent. When the augmented-Lagrangian option is
// on, it also runs the outer constraint loop: whenever area or volume
// violation exceeds CTol at a restart boundary or once the inner
// minimization has finished, the corresponding multiplier absorbs the
// current constraint stress, converting the hard constraint into a
// sequence of unconstrained inner minimizations.
type ConjugateGradient struct {
	dir       []r3.Vec
	force     []r3.Vec
	prevNorm2 float64
	count     int
	stalled   bool
}

// NewConjugateGradient returns the nonlinear conjugate-gradient stepper.
func NewConjugateGradient() *ConjugateGradient { return &ConjugateGradient{} }

// Name implements Stepper.
func (c *ConjugateGradient) Name() string { return "conjugate_gradient" }

// Check implements Stepper.
func (c *ConjugateGradient) Check(_ *membrane.System, opts Options) error {
	if opts.AugmentedLagrangian && opts.CTol <= 0 {
		return errIncompatiblef("augmented Lagrangian needs a positive ctol")
	}
	return nil
}

// afterStatus runs the augmented-Lagrangian outer step when due, then
// updates the search direction from the fresh pressure field. Multipliers
// move at restart boundaries and whenever the inner minimization has
// finished (residual under tolerance or a stalled line search) with the
// constraints still violated; the run must not terminate at such a point,
// so the loop keeps minimizing against the updated functional.
func (c *ConjugateGradient) afterStatus(s *membrane.System, sample Sample, opts Options) error {
	n := s.Mesh().NumVertices()
	if c.dir == nil {
		c.dir = make([]r3.Vec, n)
		c.force = make([]r3.Vec, n)
	}

	restart := opts.RestartEvery > 0 && c.count%opts.RestartEvery == 0
	innerDone := sample.Residual < opts.Tol || c.stalled
	c.stalled = false

	if opts.AugmentedLagrangian && (restart || innerDone) {
		p := &s.P
		updated := false
		if sample.DArea > opts.CTol {
			p.LambdaSG += 2 * p.Ksg * (s.SurfaceArea() - s.TargetArea()) / s.TargetArea()
			updated = true
		}
		if sample.DVolume > opts.CTol {
			target := p.Vt * s.ReferenceVolume()
			p.LambdaV += 2 * p.Kv * (s.Volume() - target) / target
			updated = true
		}
		if updated {
			// the penalty functional changed: rebuild the force caches
			// against the new multipliers and drop conjugacy
			if err := s.Recompute(); err != nil {
				return err
			}
			if err := s.ComputeAllForces(); err != nil {
				return err
			}
			restart = true
		}
	}

	s.TotalPressure(c.force, false)
	norm2 := maskedProjection(s, c.force, c.force)
	if restart || c.prevNorm2 == 0 {
		copy(c.dir, c.force)
	} else {
		beta := norm2 / c.prevNorm2
		for v := range c.dir {
			c.dir[v] = r3.Add(c.force[v], r3.Scale(beta, c.dir[v]))
		}
	}
	c.prevNorm2 = norm2
	c.count++
	return nil
}

// March implements Stepper.
func (c *ConjugateGradient) March(s *membrane.System, dt float64, opts Options) (bool, error) {
	s.EvolveProtein(dt)

	if opts.Backtrack {
		alpha, err := backtrackLineSearch(s, c.dir, dt, opts.Rho, opts.C1)
		if err != nil {
			return false, err
		}
		if alpha == 0 {
			// a conjugate direction can stop being a descent direction;
			// fall back to steepest descent before giving up
			copy(c.dir, c.force)
			c.prevNorm2 = 0
			alpha, err = backtrackLineSearch(s, c.dir, dt, opts.Rho, opts.C1)
			if err != nil {
				return false, err
			}
			if alpha == 0 {
				c.stalled = true
				return false, nil
			}
		}
	} else {
		s.Displace(c.dir, dt)
	}
	s.ApplyVertexShift()
	return true, nil
}

func errIncompatiblef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIncompatible, fmt.Sprintf(format, args...))
}
