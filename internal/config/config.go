package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"memsim/internal/integrate"
	"memsim/internal/membrane"
)

const (
	DefaultRadius       = 1.0
	DefaultSubdivisions = 3
	DefaultDt           = 1e-4
	DefaultTotalTime    = 1.0
	DefaultTSave        = 0.05
	DefaultTol          = 1e-6
)

// MeshConfig describes the initial and reference geometry. The reference
// shape is the unperturbed sphere; Perturb displaces the initial vertices
// radially by a deterministic fraction of the radius.
type MeshConfig struct {
	Radius       float64 `yaml:"radius"`
	Subdivisions int     `yaml:"subdivisions"`
	Perturb      float64 `yaml:"perturb"`
}

// RunConfig tunes the integration loop.
type RunConfig struct {
	Integrator          string  `yaml:"integrator"`
	Dt                  float64 `yaml:"dt"`
	TotalTime           float64 `yaml:"total_time"`
	TSave               float64 `yaml:"t_save"`
	Tol                 float64 `yaml:"tol"`
	AdaptiveStep        bool    `yaml:"adaptive_step"`
	DtRatio             float64 `yaml:"dt_ratio"`
	Backtrack           bool    `yaml:"backtrack"`
	Rho                 float64 `yaml:"rho"`
	C1                  float64 `yaml:"c1"`
	CTol                float64 `yaml:"ctol"`
	AugmentedLagrangian bool    `yaml:"augmented_lagrangian"`
	RestartEvery        int     `yaml:"restart_every"`
}

// Config is the full run description loaded from YAML.
type Config struct {
	Mesh       MeshConfig          `yaml:"mesh"`
	Parameters membrane.Parameters `yaml:"parameters"`
	Options    membrane.Options    `yaml:"options"`
	Run        RunConfig           `yaml:"run"`
	Seed       uint64              `yaml:"seed"`
}

// DefaultConfig returns a pure bending relaxation on a subdivided
// icosphere.
func DefaultConfig() *Config {
	return &Config{
		Mesh: MeshConfig{
			Radius:       DefaultRadius,
			Subdivisions: DefaultSubdivisions,
			Perturb:      0.05,
		},
		Parameters: membrane.Parameters{
			Kb: 1.0,
			Pt: [3]float64{0, 0, DefaultRadius},
		},
		Run: RunConfig{
			Integrator:   "gradient_descent",
			Dt:           DefaultDt,
			TotalTime:    DefaultTotalTime,
			TSave:        DefaultTSave,
			Tol:          DefaultTol,
			Backtrack:    true,
			Rho:          0.5,
			C1:           1e-4,
			CTol:         1e-2,
			RestartEvery: 20,
		},
		Seed: 42,
	}
}

// Load reads a YAML config over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects configurations that could never start a run.
func (c *Config) Validate() error {
	if c.Mesh.Radius <= 0 {
		return fmt.Errorf("config: mesh radius must be positive, got %g", c.Mesh.Radius)
	}
	if c.Mesh.Subdivisions < 0 || c.Mesh.Subdivisions > 7 {
		return fmt.Errorf("config: subdivisions must be in [0,7], got %d", c.Mesh.Subdivisions)
	}
	if c.Run.Dt <= 0 {
		return fmt.Errorf("config: dt must be positive, got %g", c.Run.Dt)
	}
	if c.Run.TotalTime <= 0 {
		return fmt.Errorf("config: total time must be positive, got %g", c.Run.TotalTime)
	}
	switch c.Run.Integrator {
	case "gradient_descent", "conjugate_gradient", "velocity_verlet":
	default:
		return fmt.Errorf("config: unknown integrator %q", c.Run.Integrator)
	}
	return c.Parameters.Validate()
}

// IntegratorOptions maps the run section onto the loop options.
func (c *Config) IntegratorOptions() integrate.Options {
	return integrate.Options{
		Dt:                  c.Run.Dt,
		TotalTime:           c.Run.TotalTime,
		TSave:               c.Run.TSave,
		Tol:                 c.Run.Tol,
		AdaptiveStep:        c.Run.AdaptiveStep,
		DtRatio:             c.Run.DtRatio,
		Backtrack:           c.Run.Backtrack,
		Rho:                 c.Run.Rho,
		C1:                  c.Run.C1,
		CTol:                c.Run.CTol,
		AugmentedLagrangian: c.Run.AugmentedLagrangian,
		RestartEvery:        c.Run.RestartEvery,
	}
}

// NewStepper instantiates the configured integrator.
func (c *Config) NewStepper() (integrate.Stepper, error) {
	switch c.Run.Integrator {
	case "gradient_descent":
		return integrate.NewGradientDescent(), nil
	case "conjugate_gradient":
		return integrate.NewConjugateGradient(), nil
	case "velocity_verlet":
		return integrate.NewVelocityVerlet(), nil
	default:
		return nil, fmt.Errorf("config: unknown integrator %q", c.Run.Integrator)
	}
}
