package integrate

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"memsim/internal/membrane"
)

// Status is the terminal state of a run.
type Status int

const (
	Running Status = iota
	// Converged: the residual norm fell below the tolerance.
	Converged
	// TimeLimit: simulated time passed the horizon.
	TimeLimit
	// Failed: energy grew beyond the divergence band or a field went
	// non-finite.
	Failed
	// Interrupted: the context was canceled before any exit condition.
	Interrupted
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	case TimeLimit:
		return "time_limit"
	case Failed:
		return "failed"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Success reports whether the status counts as a physically successful
// termination.
func (s Status) Success() bool { return s == Converged || s == TimeLimit }

// ErrIncompatible marks integrator/feature combinations rejected at setup.
var ErrIncompatible = errors.New("integrate: incompatible configuration")

// RunError carries the step context of a mid-run failure.
type RunError struct {
	Step    int
	Time    float64
	Message string
}

func (e RunError) Error() string {
	return fmt.Sprintf("step %d (t=%.6g): %s", e.Step, e.Time, e.Message)
}

// Options tunes the shared integration loop and the stepping strategies.
type Options struct {
	// Dt is the base time step (or descent step size).
	Dt float64
	// TotalTime is the simulated-time horizon.
	TotalTime float64
	// TSave is the save cadence in simulated time.
	TSave float64
	// Tol is the residual norm below which the run converges.
	Tol float64
	// AdaptiveStep rescales dt to DtRatio * minEdgeLength^2 each step.
	AdaptiveStep bool
	DtRatio      float64
	// Backtrack enables the Armijo line search for descent schemes.
	Backtrack bool
	// Rho is the backtracking discount, C1 the sufficient-decrease
	// constant.
	Rho float64
	C1  float64
	// CTol is the constraint-violation threshold of the augmented
	// Lagrangian outer loop.
	CTol float64
	// AugmentedLagrangian enables multiplier updates in the
	// conjugate-gradient scheme.
	AugmentedLagrangian bool
	// RestartEvery is the conjugate-gradient restart period (iterations).
	RestartEvery int
}

// DefaultOptions returns loop settings that suit relaxation runs on
// unit-scale meshes.
func DefaultOptions() Options {
	return Options{
		Dt:           1e-4,
		TotalTime:    1.0,
		TSave:        0.05,
		Tol:          1e-6,
		DtRatio:      0.3,
		Rho:          0.5,
		C1:           1e-4,
		CTol:         1e-2,
		RestartEvery: 20,
	}
}

func (o Options) validate() error {
	if o.Dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %g", ErrIncompatible, o.Dt)
	}
	if o.TotalTime <= 0 {
		return fmt.Errorf("%w: total time must be positive, got %g", ErrIncompatible, o.TotalTime)
	}
	if o.Backtrack && (o.Rho <= 0 || o.Rho >= 1) {
		return fmt.Errorf("%w: backtracking discount rho must be in (0,1), got %g", ErrIncompatible, o.Rho)
	}
	if o.AdaptiveStep && o.DtRatio <= 0 {
		return fmt.Errorf("%w: adaptive stepping needs a positive dt ratio", ErrIncompatible)
	}
	return nil
}

// Sample is one status snapshot of the loop.
type Sample struct {
	Iteration int
	Time      float64
	Dt        float64
	Energy    membrane.Energy
	Residual  float64
	DArea     float64
	DVolume   float64
}

// Observer receives every status sample, e.g. for live display.
type Observer interface {
	OnStatus(s *membrane.System, sample Sample)
}

// Saver persists trajectory frames at the save cadence and is told the
// final status so failed runs can be tagged.
type Saver interface {
	SaveFrame(s *membrane.System, sample Sample) error
	Finish(status Status) error
}

// Stepper is the integrator strategy: March applies one position (and
// velocity/protein) update. It returns false when no acceptable step
// exists, which the loop treats as convergence at step-size precision.
type Stepper interface {
	Name() string
	// Check rejects incompatible system/option combinations before the
	// loop starts. Violations are configuration errors, never retried.
	Check(s *membrane.System, opts Options) error
	March(s *membrane.System, dt float64, opts Options) (bool, error)
}

// statusHook lets a stepper observe the freshly computed state each
// iteration before marching (pressure snapshots, search directions,
// multiplier updates).
type statusHook interface {
	afterStatus(s *membrane.System, sample Sample, opts Options) error
}

// Runner drives the shared status -> save -> exit-check -> march loop over
// a stepping strategy.
type Runner struct {
	sys       *membrane.System
	stepper   Stepper
	opts      Options
	observers []Observer
	saver     Saver
}

// NewRunner validates the configuration and the integrator preconditions.
func NewRunner(sys *membrane.System, stepper Stepper, opts Options) (*Runner, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := stepper.Check(sys, opts); err != nil {
		return nil, err
	}
	return &Runner{sys: sys, stepper: stepper, opts: opts}, nil
}

// AddObserver registers a status observer.
func (r *Runner) AddObserver(o Observer) { r.observers = append(r.observers, o) }

// SetSaver installs the trajectory sink.
func (r *Runner) SetSaver(s Saver) { r.saver = s }

// Result summarizes a finished run.
type Result struct {
	Status     Status
	Iterations int
	Time       float64
	Energy     membrane.Energy
	Residual   float64
	Trace      []Sample
	Err        error
}

// Run executes the integration loop until convergence, the time horizon,
// divergence, or context cancellation. Cancellation is cooperative: it is
// polled at the top of each iteration and still writes a final frame.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{Status: Running}
	t := 0.0
	dt := r.opts.Dt
	lastSave := math.Inf(-1)
	prevTotal := math.NaN()
	stalled := false

	for {
		interrupted := false
		select {
		case <-ctx.Done():
			interrupted = true
		default:
		}

		sample, exit, err := r.status(res.Iterations, t, dt, &prevTotal, stalled)
		if err != nil {
			res.Status = Failed
			res.Err = err
			r.finish(res, sample)
			return res, err
		}
		if r.opts.AdaptiveStep {
			minLen := r.sys.Mesh().MinEdgeLength()
			dt = r.opts.DtRatio * minLen * minLen
			sample.Dt = dt
		}
		if interrupted && exit == Running {
			exit = Interrupted
		}

		res.Trace = append(res.Trace, sample)
		for _, o := range r.observers {
			o.OnStatus(r.sys, sample)
		}

		mustSave := t-lastSave >= r.opts.TSave || res.Iterations == 0 || exit != Running
		if mustSave && r.saver != nil {
			lastSave = t
			if serr := r.saver.SaveFrame(r.sys, sample); serr != nil {
				res.Status = Failed
				res.Err = serr
				r.finish(res, sample)
				return res, serr
			}
		}

		if exit != Running {
			res.Status = exit
			res.Time = t
			res.Energy = sample.Energy
			res.Residual = sample.Residual
			r.finish(res, sample)
			if res.Status == Failed {
				res.Err = RunError{Step: res.Iterations, Time: t, Message: "numerical divergence"}
				return res, res.Err
			}
			return res, nil
		}

		moved, merr := r.stepper.March(r.sys, dt, r.opts)
		if merr != nil {
			res.Status = Failed
			res.Err = merr
			r.finish(res, sample)
			return res, merr
		}
		stalled = !moved
		t += dt
		res.Iterations++
	}
}

func (r *Runner) finish(res *Result, sample Sample) {
	res.Time = sample.Time
	if r.saver != nil {
		_ = r.saver.Finish(res.Status)
	}
}

// status recomputes derived state, evaluates forces and energy, and
// applies the exit conditions.
func (r *Runner) status(iter int, t, dt float64, prevTotal *float64, stalled bool) (Sample, Status, error) {
	if err := r.sys.Recompute(); err != nil {
		return Sample{Iteration: iter, Time: t, Dt: dt}, Failed, err
	}
	if err := r.sys.ComputeAllForces(); err != nil {
		return Sample{Iteration: iter, Time: t, Dt: dt}, Failed, err
	}

	sample := Sample{
		Iteration: iter,
		Time:      t,
		Dt:        dt,
		Residual:  r.sys.L2ResidualNorm(),
		DArea:     r.sys.AreaDeviation(),
		DVolume:   r.sys.VolumeDeviation(),
	}

	lsg, lv := r.sys.P.LambdaSG, r.sys.P.LambdaV
	if hook, ok := r.stepper.(statusHook); ok {
		if err := hook.afterStatus(r.sys, sample, r.opts); err != nil {
			return sample, Failed, err
		}
	}
	if r.sys.P.LambdaSG != lsg || r.sys.P.LambdaV != lv {
		// a multiplier update changed the penalty functional; the energy
		// divergence baseline restarts from the new value
		*prevTotal = math.NaN()
	}

	e, err := r.sys.ComputeFreeEnergy()
	if err != nil {
		return sample, Failed, err
	}
	sample.Energy = e

	if !isFinite(e.Total) || !isFinite(sample.Residual) {
		return sample, Failed, nil
	}
	if iter > 0 && isFinite(*prevTotal) && e.Total > *prevTotal+0.05*math.Abs(*prevTotal) {
		return sample, Failed, nil
	}
	*prevTotal = e.Total

	if sample.Residual < r.opts.Tol || stalled {
		violated := r.opts.AugmentedLagrangian &&
			(sample.DArea > r.opts.CTol || sample.DVolume > r.opts.CTol)
		if !violated {
			return sample, Converged, nil
		}
		// the inner minimization finished but a constraint is still
		// violated: the multipliers have just moved, keep minimizing
	}
	if t > r.opts.TotalTime {
		return sample, TimeLimit, nil
	}
	return sample, Running, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// maskedProjection is the descent slope <force, pressure-direction> used
// by the Armijo condition: the mass-weighted squared norm when dir is the
// pressure field itself.
func maskedProjection(s *membrane.System, force, dir []r3.Vec) float64 {
	sum := 0.0
	mask := s.Mask()
	for v := range dir {
		if !mask[v] {
			continue
		}
		sum += s.Mesh().DualArea(v) * r3.Dot(force[v], dir[v])
	}
	return sum
}

const maxBacktrackSteps = 40

// backtrackLineSearch finds a step length along dir satisfying the Armijo
// sufficient-decrease condition, leaving the system at the accepted
// position. It returns 0 (with the original positions restored) when no
// acceptable step exists above floating-point resolution.
func backtrackLineSearch(s *membrane.System, dir []r3.Vec, alpha0, rho, c1 float64) (float64, error) {
	pos0 := s.Mesh().Positions()
	e0, err := s.ComputeFreeEnergy()
	if err != nil {
		return 0, err
	}
	proj := maskedProjection(s, dir, dir)
	if proj <= 0 {
		return 0, nil
	}

	alpha := alpha0
	for i := 0; i < maxBacktrackSteps; i++ {
		if err := s.SetPositions(pos0); err != nil {
			return 0, err
		}
		s.Displace(dir, alpha)
		e, err := s.ComputeFreeEnergy()
		if err != nil {
			return 0, err
		}
		if isFinite(e.Potential) && e.Potential <= e0.Potential-c1*alpha*proj {
			return alpha, nil
		}
		alpha *= rho
	}

	if err := s.SetPositions(pos0); err != nil {
		return 0, err
	}
	return 0, s.Recompute()
}
