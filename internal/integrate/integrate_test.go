package integrate

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"memsim/internal/membrane"
	"memsim/internal/mesh"
)

func perturbedSystem(t *testing.T, p membrane.Parameters, opts membrane.Options) *membrane.System {
	t.Helper()
	reference := mesh.Icosphere(1.0, 3)
	faces := make([][3]int, reference.NumFaces())
	for f := range faces {
		faces[f] = reference.Face(f)
	}
	pos := reference.Positions()
	for v := range pos {
		scale := 1 + 0.08*math.Sin(float64(3*v))
		pos[v] = r3.Scale(scale, pos[v])
	}
	current, err := mesh.New(pos, faces)
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}
	s, err := membrane.NewSystem(current, reference, p, opts, 11)
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	return s
}

func TestGradientDescentRelaxes(t *testing.T) {
	sys := perturbedSystem(t, membrane.Parameters{Kb: 1}, membrane.Options{})

	opts := DefaultOptions()
	opts.Dt = 1e-3
	opts.TotalTime = 0.05
	opts.TSave = 1
	opts.Tol = 1e-8
	opts.Backtrack = true

	r, err := NewRunner(sys, NewGradientDescent(), opts)
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Status.Success() {
		t.Fatalf("status %s", res.Status)
	}
	if len(res.Trace) < 3 {
		t.Fatalf("only %d samples", len(res.Trace))
	}

	// the Armijo guard makes every accepted step non-increasing
	for i := 1; i < len(res.Trace); i++ {
		prev := res.Trace[i-1].Energy.Total
		cur := res.Trace[i].Energy.Total
		if cur > prev+1e-12*math.Abs(prev) {
			t.Fatalf("energy rose at sample %d: %e -> %e", i, prev, cur)
		}
	}
	first := res.Trace[0].Energy.Total
	last := res.Trace[len(res.Trace)-1].Energy.Total
	if last >= first {
		t.Errorf("no relaxation: %e -> %e", first, last)
	}
}

func TestVelocityVerletDivergesWithHugeStep(t *testing.T) {
	sys := perturbedSystem(t, membrane.Parameters{Kb: 1}, membrane.Options{})

	opts := DefaultOptions()
	opts.Dt = 10
	opts.TotalTime = 1000

	r, err := NewRunner(sys, NewVelocityVerlet(), opts)
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected a divergence error")
	}
	if res.Status != Failed {
		t.Errorf("status %s, want failed", res.Status)
	}
	if res.Iterations > 10 {
		t.Errorf("divergence detected only after %d iterations", res.Iterations)
	}
}

func TestVelocityVerletStableSmallStep(t *testing.T) {
	sys := perturbedSystem(t, membrane.Parameters{Kb: 1, Gamma: 0.5}, membrane.Options{})

	opts := DefaultOptions()
	opts.Dt = 1e-5
	opts.TotalTime = 2e-4
	opts.Tol = 0

	r, err := NewRunner(sys, NewVelocityVerlet(), opts)
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Status != TimeLimit {
		t.Errorf("status %s, want time_limit", res.Status)
	}
}

func TestVelocityVerletRejectsVertexShift(t *testing.T) {
	sys := perturbedSystem(t, membrane.Parameters{Kb: 1}, membrane.Options{VertexShift: true})
	_, err := NewRunner(sys, NewVelocityVerlet(), DefaultOptions())
	if !errors.Is(err, ErrIncompatible) {
		t.Errorf("expected ErrIncompatible, got %v", err)
	}
}

func TestConjugateGradientSatisfiesConstraints(t *testing.T) {
	sys := perturbedSystem(t, membrane.Parameters{Kb: 1, Ksg: 1, Kv: 1, Vt: 0.9}, membrane.Options{})

	opts := DefaultOptions()
	opts.Dt = 1e-3
	opts.TotalTime = 10
	opts.Tol = 1e-4
	opts.Backtrack = true
	opts.AugmentedLagrangian = true
	opts.CTol = 0.02
	opts.RestartEvery = 10

	r, err := NewRunner(sys, NewConjugateGradient(), opts)
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Status.Success() {
		t.Fatalf("status %s", res.Status)
	}

	first := res.Trace[0]
	last := res.Trace[len(res.Trace)-1]
	if last.DVolume >= first.DVolume {
		t.Errorf("volume violation did not shrink: %e -> %e", first.DVolume, last.DVolume)
	}
	// the outer loop may not stop while a constraint exceeds ctol
	if last.DArea > opts.CTol {
		t.Errorf("final area violation %e above ctol %e", last.DArea, opts.CTol)
	}
	if last.DVolume > opts.CTol {
		t.Errorf("final volume violation %e above ctol %e", last.DVolume, opts.CTol)
	}
	if sys.P.LambdaV == 0 {
		t.Error("volume multiplier never updated")
	}
}

func TestConjugateGradientRejectsBadCTol(t *testing.T) {
	sys := perturbedSystem(t, membrane.Parameters{Kb: 1}, membrane.Options{})
	opts := DefaultOptions()
	opts.AugmentedLagrangian = true
	opts.CTol = 0
	_, err := NewRunner(sys, NewConjugateGradient(), opts)
	if !errors.Is(err, ErrIncompatible) {
		t.Errorf("expected ErrIncompatible, got %v", err)
	}
}

func TestOptionsValidation(t *testing.T) {
	sys := perturbedSystem(t, membrane.Parameters{Kb: 1}, membrane.Options{})

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero dt", func(o *Options) { o.Dt = 0 }},
		{"negative total time", func(o *Options) { o.TotalTime = -1 }},
		{"rho out of range", func(o *Options) { o.Backtrack = true; o.Rho = 1.5 }},
		{"adaptive without ratio", func(o *Options) { o.AdaptiveStep = true; o.DtRatio = 0 }},
		{"augmented lagrangian with descent", func(o *Options) { o.AugmentedLagrangian = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			if _, err := NewRunner(sys, NewGradientDescent(), opts); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRunnerInterrupt(t *testing.T) {
	sys := perturbedSystem(t, membrane.Parameters{Kb: 1}, membrane.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := NewRunner(sys, NewGradientDescent(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("interrupt should not be an error: %v", err)
	}
	if res.Status != Interrupted {
		t.Errorf("status %s, want interrupted", res.Status)
	}
}

type recordingSaver struct {
	frames int
	status Status
	done   bool
}

func (r *recordingSaver) SaveFrame(*membrane.System, Sample) error {
	r.frames++
	return nil
}

func (r *recordingSaver) Finish(status Status) error {
	r.status = status
	r.done = true
	return nil
}

func TestRunnerSavesFirstAndFinalFrame(t *testing.T) {
	sys := perturbedSystem(t, membrane.Parameters{Kb: 1}, membrane.Options{})

	opts := DefaultOptions()
	opts.Dt = 1e-3
	opts.TotalTime = 0.01
	opts.TSave = 1 // beyond the horizon: only the forced saves fire
	opts.Tol = 1e-10
	opts.Backtrack = true

	r, err := NewRunner(sys, NewGradientDescent(), opts)
	if err != nil {
		t.Fatal(err)
	}
	saver := &recordingSaver{}
	r.SetSaver(saver)

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !saver.done {
		t.Fatal("saver was never finished")
	}
	if saver.status != res.Status {
		t.Errorf("saver finished with %s, run ended %s", saver.status, res.Status)
	}
	if saver.frames < 2 {
		t.Errorf("expected first and final frames, got %d", saver.frames)
	}
}

func TestBacktrackLineSearch(t *testing.T) {
	sys := perturbedSystem(t, membrane.Parameters{Kb: 1}, membrane.Options{})
	if err := sys.ComputeAllForces(); err != nil {
		t.Fatal(err)
	}

	dir := make([]r3.Vec, sys.Mesh().NumVertices())
	sys.TotalPressure(dir, false)

	e0, err := sys.ComputeFreeEnergy()
	if err != nil {
		t.Fatal(err)
	}
	alpha, err := backtrackLineSearch(sys, dir, 1e-2, 0.5, 1e-4)
	if err != nil {
		t.Fatal(err)
	}
	if alpha <= 0 {
		t.Fatal("expected an accepted step along the pressure field")
	}
	e1, err := sys.ComputeFreeEnergy()
	if err != nil {
		t.Fatal(err)
	}
	if e1.Potential >= e0.Potential {
		t.Errorf("accepted step did not decrease energy: %e -> %e", e0.Potential, e1.Potential)
	}
}

func TestBacktrackRejectsAscentDirection(t *testing.T) {
	sys := perturbedSystem(t, membrane.Parameters{Kb: 1}, membrane.Options{})
	if err := sys.ComputeAllForces(); err != nil {
		t.Fatal(err)
	}

	dir := make([]r3.Vec, sys.Mesh().NumVertices())
	sys.TotalPressure(dir, false)
	for v := range dir {
		dir[v] = r3.Scale(-1, dir[v])
	}

	pos0 := sys.Mesh().Positions()
	alpha, err := backtrackLineSearch(sys, dir, 1e-2, 0.5, 1e-4)
	if err != nil {
		t.Fatal(err)
	}
	if alpha != 0 {
		t.Fatalf("ascent direction accepted with alpha %g", alpha)
	}
	pos1 := sys.Mesh().Positions()
	for v := range pos0 {
		if r3.Norm(r3.Sub(pos0[v], pos1[v])) > 0 {
			t.Fatal("positions not restored after rejected search")
		}
	}
}
