package integrate

import (
	"gonum.org/v1/gonum/spatial/r3"

	"memsim/internal/membrane"
)

// VelocityVerlet is the explicit two-stage velocity scheme. The position
// half-step consumes the pressure snapshot captured at the end of the
// previous march; the velocity update averages that snapshot with the
// pressure of the freshly recomputed state. It is the only stepper that
// carries kinetic energy and the DPD thermostat.
type VelocityVerlet struct {
	prevPressure []r3.Vec
	newPressure  []r3.Vec
	step         []r3.Vec
}

// NewVelocityVerlet returns the velocity-stepping integrator.
func NewVelocityVerlet() *VelocityVerlet { return &VelocityVerlet{} }

// Name implements Stepper.
func (vv *VelocityVerlet) Name() string { return "velocity_verlet" }

// Check implements Stepper. Vertex shifting and topology mutation move
// vertices outside the dynamical update and would corrupt the velocity
// state, so they are rejected as configuration errors.
func (vv *VelocityVerlet) Check(s *membrane.System, opts Options) error {
	if s.Opts.VertexShift {
		return errIncompatiblef("vertex shift is not supported by velocity stepping")
	}
	if s.Opts.MeshMutation() {
		return errIncompatiblef("mesh mutation is not supported by velocity stepping")
	}
	if opts.AugmentedLagrangian {
		return errIncompatiblef("augmented Lagrangian requires the conjugate-gradient scheme")
	}
	return nil
}

// afterStatus evaluates the DPD forces against the current velocity and
// captures the new total pressure snapshot.
func (vv *VelocityVerlet) afterStatus(s *membrane.System, sample Sample, _ Options) error {
	if vv.newPressure == nil {
		n := s.Mesh().NumVertices()
		vv.newPressure = make([]r3.Vec, n)
		vv.step = make([]r3.Vec, n)
	}
	if err := s.ComputeDPDForces(sample.Dt); err != nil {
		return err
	}
	s.TotalPressure(vv.newPressure, true)
	return nil
}

// March implements Stepper:
//
//	x   += v*dt + dt^2/2 * p_old
//	v   += dt/2 * (p_old + p_new)
//	p_old = p_new
func (vv *VelocityVerlet) March(s *membrane.System, dt float64, _ Options) (bool, error) {
	if vv.prevPressure == nil {
		// first step: the old snapshot is the current pressure
		vv.prevPressure = make([]r3.Vec, len(vv.newPressure))
		copy(vv.prevPressure, vv.newPressure)
	}

	vel := s.Velocity()
	mask := s.Mask()
	hdt := 0.5 * dt
	hdt2 := hdt * dt
	for v := range vv.step {
		vv.step[v] = r3.Add(r3.Scale(dt, vel[v]), r3.Scale(hdt2, vv.prevPressure[v]))
	}
	s.EvolveProtein(dt)
	s.Displace(vv.step, 1)

	for v := range vel {
		if !mask[v] {
			continue
		}
		vel[v] = r3.Add(vel[v], r3.Scale(hdt, r3.Add(vv.prevPressure[v], vv.newPressure[v])))
	}
	copy(vv.prevPressure, vv.newPressure)
	return true, nil
}
