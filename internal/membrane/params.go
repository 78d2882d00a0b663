package membrane

import (
	"errors"
	"fmt"
)

// Domain errors raised at construction or during a run.
var (
	// ErrSingularMass indicates a vertex with zero dual area, which makes
	// the lumped mass matrix singular.
	ErrSingularMass = errors.New("membrane: singular lumped mass matrix")

	// ErrLineTensionDomain indicates a nonzero line tension with no
	// spontaneous-curvature interface to act on.
	ErrLineTensionDomain = errors.New("membrane: line tension requires a spontaneous-curvature domain")

	// ErrOpenVolume indicates a volume constraint on an open surface.
	ErrOpenVolume = errors.New("membrane: volume constraint requires a closed surface")
)

// Parameters holds the physical coefficients of a run. The record is
// immutable during integration except for the augmented-Lagrangian
// multipliers LambdaSG and LambdaV, which only the constraint updater in
// the conjugate-gradient outer loop may touch.
type Parameters struct {
	// Bending modulus
	Kb float64 `yaml:"kb"`
	// Spontaneous curvature magnitude
	H0 float64 `yaml:"h0"`
	// Sharpness of the spontaneous-curvature transition
	Sharpness float64 `yaml:"sharpness"`
	// Principal radii of the spontaneous-curvature domain
	RH0 [2]float64 `yaml:"r_h0"`
	// Global stretching modulus
	Ksg float64 `yaml:"ksg"`
	// Local stretching modulus
	Ksl float64 `yaml:"ksl"`
	// Edge spring constant
	Kse float64 `yaml:"kse"`
	// Vertex shifting constant
	Kst float64 `yaml:"kst"`
	// Volume modulus
	Kv float64 `yaml:"kv"`
	// Interfacial line tension
	Eta float64 `yaml:"eta"`
	// Binding energy per protein
	Epsilon float64 `yaml:"epsilon"`
	// Protein binding mobility constant
	Bc float64 `yaml:"bc"`
	// Dissipation coefficient
	Gamma float64 `yaml:"gamma"`
	// Target reduced volume
	Vt float64 `yaml:"vt"`
	// Temperature (kB T)
	Temp float64 `yaml:"temp"`
	// Stochastic force scale
	Sigma float64 `yaml:"sigma"`
	// Spatial point whose closest vertex anchors distances and forcing
	Pt [3]float64 `yaml:"pt"`
	// External force magnitude
	Kf float64 `yaml:"kf"`
	// Concentration (width) of the external force profile
	Conc float64 `yaml:"conc"`
	// Target pull height of the external force
	Height float64 `yaml:"height"`
	// Radius of the integration domain mask; zero means unmasked
	Radius float64 `yaml:"radius"`
	// Augmented-Lagrangian multiplier for the area constraint
	LambdaSG float64 `yaml:"-"`
	// Augmented-Lagrangian multiplier for the volume constraint
	LambdaV float64 `yaml:"-"`
}

// Validate rejects parameter combinations that can never produce a
// meaningful run. Multipliers must start at zero; they belong to the
// constraint updater.
func (p Parameters) Validate() error {
	type bound struct {
		name string
		v    float64
	}
	for _, b := range []bound{
		{"kb", p.Kb}, {"ksg", p.Ksg}, {"ksl", p.Ksl}, {"kse", p.Kse},
		{"kst", p.Kst}, {"kv", p.Kv}, {"gamma", p.Gamma}, {"temp", p.Temp},
	} {
		if b.v < 0 {
			return fmt.Errorf("membrane: %s must be non-negative, got %g", b.name, b.v)
		}
	}
	if p.Kv != 0 && (p.Vt <= 0 || p.Vt > 1) {
		return fmt.Errorf("membrane: reduced volume vt must be in (0,1], got %g", p.Vt)
	}
	if p.LambdaSG != 0 || p.LambdaV != 0 {
		return errors.New("membrane: lagrange multipliers must start at zero")
	}
	return nil
}

// Options selects construction-time behavior of the system.
type Options struct {
	// Protein couples spontaneous curvature to the protein density field
	// and enables its evolution.
	Protein bool `yaml:"protein"`
	// VertexShift enables tangential vertex-shift regularization between
	// steps.
	VertexShift bool `yaml:"vertex_shift"`
	// EdgeFlip, SplitEdge, CollapseEdge flag external mesh mutation
	// operators that may run between steps. The integrators that cannot
	// tolerate them reject these at setup.
	EdgeFlip     bool `yaml:"edge_flip"`
	SplitEdge    bool `yaml:"split_edge"`
	CollapseEdge bool `yaml:"collapse_edge"`
}

// MeshMutation reports whether any topology-changing operator is enabled.
func (o Options) MeshMutation() bool {
	return o.EdgeFlip || o.SplitEdge || o.CollapseEdge
}

// Energy is the decomposed free energy of the current state. Total always
// equals the sum of the seven named contributions; Potential is Total minus
// Kinetic.
type Energy struct {
	Total        float64
	Kinetic      float64
	Potential    float64
	Bending      float64
	Stretching   float64
	PressureWork float64
	Chemical     float64
	LineTension  float64
	ExternalWork float64
}
