package config

import (
	"fmt"
	"sort"
)

// Presets are named starting points for common membrane experiments.
var presets = map[string]func() *Config{
	"bending": bendingPreset,
	"vesicle": vesiclePreset,
	"budding": buddingPreset,
	"protein": proteinPreset,
	"tether":  tetherPreset,
	"thermal": thermalPreset,
}

// Preset returns a copy of the named preset configuration.
func Preset(name string) (*Config, error) {
	f, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("config: unknown preset %q (have %v)", name, PresetNames())
	}
	return f(), nil
}

// PresetNames lists the available presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// bendingPreset relaxes a perturbed sphere under pure bending.
func bendingPreset() *Config {
	return DefaultConfig()
}

// vesiclePreset deflates a sphere to a reduced volume under area and
// volume constraints solved by the augmented-Lagrangian outer loop.
func vesiclePreset() *Config {
	cfg := DefaultConfig()
	cfg.Mesh.Perturb = 0.02
	cfg.Parameters.Ksg = 1.0
	cfg.Parameters.Kv = 1.0
	cfg.Parameters.Vt = 0.7
	cfg.Run.Integrator = "conjugate_gradient"
	cfg.Run.AugmentedLagrangian = true
	cfg.Run.TotalTime = 5.0
	return cfg
}

// buddingPreset grows a curved circular domain that necks off under line
// tension.
func buddingPreset() *Config {
	cfg := DefaultConfig()
	cfg.Mesh.Perturb = 0
	cfg.Parameters.H0 = 4.0
	cfg.Parameters.Sharpness = 20
	cfg.Parameters.RH0 = [2]float64{0.4, 0.4}
	cfg.Parameters.Eta = 0.05
	cfg.Parameters.Ksg = 0.5
	cfg.Parameters.Ksl = 0.1
	cfg.Parameters.Kse = 0.1
	cfg.Parameters.Kst = 0.1
	cfg.Run.Integrator = "conjugate_gradient"
	cfg.Run.TotalTime = 5.0
	return cfg
}

// proteinPreset couples spontaneous curvature to a protein density seeded
// near the anchor vertex.
func proteinPreset() *Config {
	cfg := DefaultConfig()
	cfg.Mesh.Perturb = 0
	cfg.Parameters.H0 = 6.0
	cfg.Parameters.Epsilon = -1.0
	cfg.Parameters.Bc = 0.1
	cfg.Options.Protein = true
	cfg.Run.TotalTime = 2.0
	return cfg
}

// tetherPreset pulls a tether from the anchor vertex with a localized
// external force.
func tetherPreset() *Config {
	cfg := DefaultConfig()
	cfg.Mesh.Perturb = 0
	cfg.Parameters.Ksg = 1.0
	cfg.Parameters.Kf = 2.0
	cfg.Parameters.Conc = 0.2
	cfg.Parameters.Height = 0.5
	cfg.Run.TotalTime = 3.0
	return cfg
}

// thermalPreset runs velocity stepping with the DPD thermostat.
func thermalPreset() *Config {
	cfg := DefaultConfig()
	cfg.Mesh.Perturb = 0
	cfg.Parameters.Gamma = 1.0
	cfg.Parameters.Temp = 0.01
	cfg.Parameters.Sigma = 1.0
	cfg.Run.Integrator = "velocity_verlet"
	cfg.Run.Backtrack = false
	cfg.Run.AdaptiveStep = true
	cfg.Run.DtRatio = 0.3
	cfg.Run.TotalTime = 0.5
	return cfg
}
