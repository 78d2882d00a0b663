package membrane

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"memsim/internal/mesh"
)

func sphereSystem(t *testing.T, radius float64, sub int, p Parameters, opts Options) *System {
	t.Helper()
	current := mesh.Icosphere(radius, sub)
	reference := mesh.Icosphere(radius, sub)
	s, err := NewSystem(current, reference, p, opts, 7)
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	return s
}

// perturbedSphereSystem bumps the vertices radially so curvature gradients
// are nonzero.
func perturbedSphereSystem(t *testing.T, p Parameters, opts Options) *System {
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
	s, err := NewSystem(current, reference, p, opts, 7)
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	return s
}

func TestSphereMeanCurvature(t *testing.T) {
	radius := 2.0
	want := 1 / radius

	// area-weighted RMS relative error of H against the analytic constant
	rmsErr := func(sub int) float64 {
		s := sphereSystem(t, radius, sub, Parameters{Kb: 1}, Options{})
		sum := 0.0
		for v, h := range s.MeanCurvature() {
			if math.Abs(h-want)/want > 0.05 {
				t.Fatalf("subdivision %d vertex %d: H=%f, want %f", sub, v, h, want)
			}
			rel := (h - want) / want
			sum += s.Mesh().DualArea(v) * rel * rel
		}
		return math.Sqrt(sum / s.SurfaceArea())
	}

	coarse := rmsErr(3)
	fine := rmsErr(4)
	if fine >= coarse {
		t.Errorf("H error did not shrink with resolution: %e -> %e", coarse, fine)
	}
}

func TestSpontaneousCurvatureZeroWithoutDomain(t *testing.T) {
	// H0=0 and protein coupling off select the zero policy: the field must
	// be exactly zero on any mesh, not merely small
	s := perturbedSphereSystem(t, Parameters{Kb: 1}, Options{})
	for v, h0 := range s.SpontaneousCurvature() {
		if h0 != 0 {
			t.Fatalf("vertex %d: H0=%g, want exactly 0", v, h0)
		}
	}
}

func TestSphereBendingEnergy(t *testing.T) {
	// Kb * integral H^2 dA = 4 pi Kb for any sphere
	for _, radius := range []float64{1.0, 3.0} {
		s := sphereSystem(t, radius, 4, Parameters{Kb: 2}, Options{})
		e, err := s.ComputeFreeEnergy()
		if err != nil {
			t.Fatal(err)
		}
		want := 4 * math.Pi * 2.0
		if math.Abs(e.Bending-want)/want > 0.05 {
			t.Errorf("radius %g: bending energy %f, want %f", radius, e.Bending, want)
		}
	}
}

func TestEnergyDecomposition(t *testing.T) {
	p := Parameters{
		Kb: 1, H0: 2, Sharpness: 10, RH0: [2]float64{0.5, 0.5},
		Ksg: 0.5, Ksl: 0.1, Kse: 0.1, Kv: 1, Vt: 0.9,
		Eta: 0.05, Kf: 0.3, Conc: 0.5, Height: 1,
		Pt: [3]float64{0, 0, 1},
	}
	s := sphereSystem(t, 1.0, 3, p, Options{})
	e, err := s.ComputeFreeEnergy()
	if err != nil {
		t.Fatal(err)
	}

	sum := e.Kinetic + e.Bending + e.Stretching + e.PressureWork +
		e.Chemical + e.LineTension + e.ExternalWork
	if math.Abs(e.Total-sum) > 1e-12*math.Abs(e.Total) {
		t.Errorf("total %e, component sum %e", e.Total, sum)
	}
	if math.Abs(e.Potential-(e.Total-e.Kinetic)) > 1e-12 {
		t.Errorf("potential %e, total-kinetic %e", e.Potential, e.Total-e.Kinetic)
	}
	if e.Bending <= 0 {
		t.Error("expected positive bending energy")
	}
	if e.LineTension <= 0 {
		t.Error("expected positive line-tension energy with a curvature domain")
	}
}

func TestBendingOnlyReduction(t *testing.T) {
	// with all other moduli off the potential is purely bending
	s := perturbedSphereSystem(t, Parameters{Kb: 1}, Options{})
	e, err := s.ComputeFreeEnergy()
	if err != nil {
		t.Fatal(err)
	}
	if e.Stretching != 0 || e.PressureWork != 0 || e.Chemical != 0 ||
		e.LineTension != 0 || e.ExternalWork != 0 {
		t.Errorf("unexpected non-bending components: %+v", e)
	}
	if math.Abs(e.Potential-e.Bending) > 1e-12 {
		t.Errorf("potential %e != bending %e", e.Potential, e.Bending)
	}
}

func TestPressureIsDescentDirection(t *testing.T) {
	s := perturbedSphereSystem(t, Parameters{Kb: 1, Ksg: 1, Kv: 1, Vt: 0.95}, Options{})
	if err := s.ComputeAllForces(); err != nil {
		t.Fatal(err)
	}

	e0, err := s.ComputeFreeEnergy()
	if err != nil {
		t.Fatal(err)
	}

	dir := make([]r3.Vec, s.Mesh().NumVertices())
	s.TotalPressure(dir, false)

	// marching a small step along the pressure field must lower the
	// potential: the kernels are exact negative energy gradients
	s.Displace(dir, 1e-5)
	e1, err := s.ComputeFreeEnergy()
	if err != nil {
		t.Fatal(err)
	}
	if e1.Potential >= e0.Potential {
		t.Errorf("energy rose along pressure: %e -> %e", e0.Potential, e1.Potential)
	}
}

func TestResidualDropsOnRoundSphere(t *testing.T) {
	p := Parameters{Kb: 1}
	perturbed := perturbedSphereSystem(t, p, Options{})
	round := sphereSystem(t, 1.0, 3, p, Options{})

	if err := perturbed.ComputeAllForces(); err != nil {
		t.Fatal(err)
	}
	if err := round.ComputeAllForces(); err != nil {
		t.Fatal(err)
	}
	if round.L2ResidualNorm() >= perturbed.L2ResidualNorm() {
		t.Errorf("round-sphere residual %e not below perturbed %e",
			round.L2ResidualNorm(), perturbed.L2ResidualNorm())
	}
}

func TestProteinSpontaneousCurvature(t *testing.T) {
	s := sphereSystem(t, 1.0, 2, Parameters{Kb: 1, H0: 3}, Options{Protein: true})

	rho := make([]float64, s.Mesh().NumVertices())
	for v := range rho {
		rho[v] = float64(v%5) * 0.4
	}
	if err := s.SetProteinDensity(rho); err != nil {
		t.Fatal(err)
	}
	if err := s.Recompute(); err != nil {
		t.Fatal(err)
	}

	for v, r := range rho {
		want := 3 * r * r / (1 + r*r)
		if math.Abs(s.SpontaneousCurvature()[v]-want) > 1e-12 {
			t.Fatalf("vertex %d: h0=%f, want %f", v, s.SpontaneousCurvature()[v], want)
		}
	}
}

func TestCircularCurvatureDomain(t *testing.T) {
	p := Parameters{
		Kb: 1, H0: 4, Sharpness: 20, RH0: [2]float64{0.8, 0.8},
		Pt: [3]float64{0, 0, 1},
	}
	s := sphereSystem(t, 1.0, 3, p, Options{})

	h0 := s.SpontaneousCurvature()
	anchor := s.AnchorVertex()
	if math.Abs(h0[anchor]-4) > 0.1 {
		t.Errorf("h0 at anchor %f, want ~4", h0[anchor])
	}
	// the antipode lies well outside the 0.8 geodesic radius
	antipode := s.Mesh().ClosestVertex(r3.Vec{Z: -1})
	if h0[antipode] > 0.1 {
		t.Errorf("h0 at antipode %f, want ~0", h0[antipode])
	}
	if s.InterfaceLength() <= 0 {
		t.Error("expected a positive interface length")
	}
}

func TestLineTensionNeedsDomain(t *testing.T) {
	current := mesh.Icosphere(1.0, 1)
	reference := mesh.Icosphere(1.0, 1)
	_, err := NewSystem(current, reference, Parameters{Kb: 1, Eta: 0.1}, Options{}, 1)
	if !errors.Is(err, ErrLineTensionDomain) {
		t.Errorf("expected ErrLineTensionDomain, got %v", err)
	}
}

func TestVolumeDeviationNearZeroAtRest(t *testing.T) {
	s := sphereSystem(t, 1.0, 4, Parameters{Kb: 1, Kv: 1, Vt: 1}, Options{})
	if dev := s.VolumeDeviation(); dev > 0.02 {
		t.Errorf("volume deviation at rest %e", dev)
	}
	if dev := s.AreaDeviation(); dev != 0 {
		// Ksg is zero, so the area constraint reports no violation
		t.Errorf("area deviation with ksg=0: %e", dev)
	}
}

func TestMaskRestrictsDisplacement(t *testing.T) {
	p := Parameters{Kb: 1, Radius: 0.7, Pt: [3]float64{0, 0, 1}}
	s := sphereSystem(t, 1.0, 3, p, Options{})

	mask := s.Mask()
	inside, outside := 0, 0
	for _, m := range mask {
		if m {
			inside++
		} else {
			outside++
		}
	}
	if inside == 0 || outside == 0 {
		t.Fatalf("expected a partial mask, got %d/%d", inside, outside)
	}

	before := s.Mesh().Positions()
	dir := make([]r3.Vec, len(before))
	for v := range dir {
		dir[v] = r3.Vec{X: 1}
	}
	s.Displace(dir, 0.1)
	after := s.Mesh().Positions()
	for v := range after {
		moved := r3.Norm(r3.Sub(after[v], before[v])) > 0
		if moved != mask[v] {
			t.Fatalf("vertex %d: moved=%v mask=%v", v, moved, mask[v])
		}
	}
}

func TestFiniteDifferenceVelocity(t *testing.T) {
	s := sphereSystem(t, 1.0, 1, Parameters{Kb: 1}, Options{})
	dir := make([]r3.Vec, s.Mesh().NumVertices())
	for v := range dir {
		dir[v] = r3.Vec{X: 1}
	}
	s.Displace(dir, 0.02)
	s.UpdateVelocityFromPastPositions(0.01)
	want := r3.Vec{X: 2}
	for v, vel := range s.Velocity() {
		if r3.Norm(r3.Sub(vel, want)) > 1e-9 {
			t.Fatalf("vertex %d: velocity %v, want %v", v, vel, want)
		}
	}
}

func TestEvolveProteinClamp(t *testing.T) {
	s := sphereSystem(t, 1.0, 1, Parameters{Kb: 1, H0: 1, Bc: 1, Epsilon: 5}, Options{Protein: true})
	if err := s.ComputeChemicalPotential(); err != nil {
		t.Fatal(err)
	}
	// epsilon > 0 makes mu negative at rho=0; density must clamp at zero
	s.EvolveProtein(10)
	for v, rho := range s.ProteinDensity() {
		if rho < 0 {
			t.Fatalf("vertex %d: negative density %f", v, rho)
		}
	}
}

func TestDPDForcesMomentumFree(t *testing.T) {
	s := sphereSystem(t, 1.0, 2, Parameters{Kb: 1, Gamma: 1, Temp: 0.1, Sigma: 1}, Options{})
	vel := s.Velocity()
	for v := range vel {
		vel[v] = r3.Vec{X: math.Sin(float64(v)), Y: 0.3, Z: math.Cos(float64(2 * v))}
	}
	if err := s.ComputeDPDForces(1e-4); err != nil {
		t.Fatal(err)
	}

	var damp, noise r3.Vec
	for v := range vel {
		damp = r3.Add(damp, s.DampingForce()[v])
		noise = r3.Add(noise, s.StochasticForce()[v])
	}
	// pairwise equal-and-opposite forces: both sums vanish
	if r3.Norm(damp) > 1e-9 {
		t.Errorf("net damping force %v", damp)
	}
	if r3.Norm(noise) > 1e-9 {
		t.Errorf("net stochastic force %v", noise)
	}
}

func TestExternalPressureProfile(t *testing.T) {
	p := Parameters{Kb: 1, Kf: 2, Conc: 0.3, Height: 10, Pt: [3]float64{0, 0, 1}}
	s := sphereSystem(t, 1.0, 3, p, Options{})

	ext := s.ExternalPressure()
	anchor := s.AnchorVertex()
	if r3.Norm(ext[anchor]) == 0 {
		t.Fatal("no external pressure at the anchor")
	}
	antipode := s.Mesh().ClosestVertex(r3.Vec{Z: -1})
	if r3.Norm(ext[antipode]) > 1e-6*r3.Norm(ext[anchor]) {
		t.Errorf("external pressure leaks to the antipode: %v", ext[antipode])
	}
}

func TestParametersValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Parameters
		wantErr bool
	}{
		{"defaults", Parameters{}, false},
		{"bending only", Parameters{Kb: 1}, false},
		{"negative kb", Parameters{Kb: -1}, true},
		{"negative gamma", Parameters{Gamma: -0.1}, true},
		{"volume without vt", Parameters{Kv: 1}, true},
		{"vt above one", Parameters{Kv: 1, Vt: 1.5}, true},
		{"vt in range", Parameters{Kv: 1, Vt: 0.7}, false},
		{"preloaded multiplier", Parameters{LambdaSG: 0.1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
