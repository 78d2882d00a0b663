package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if _, err := cfg.NewStepper(); err != nil {
		t.Fatalf("default stepper: %v", err)
	}
}

func TestPresetsValid(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			cfg, err := Preset(name)
			if err != nil {
				t.Fatal(err)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("preset invalid: %v", err)
			}
			stepper, err := cfg.NewStepper()
			if err != nil {
				t.Fatal(err)
			}
			if stepper.Name() != cfg.Run.Integrator {
				t.Errorf("stepper %q for integrator %q", stepper.Name(), cfg.Run.Integrator)
			}
		})
	}
}

func TestPresetUnknown(t *testing.T) {
	if _, err := Preset("nonsense"); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg, err := Preset("vesicle")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Seed = 1234
	cfg.Run.Dt = 5e-4

	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Seed != 1234 {
		t.Errorf("seed %d, want 1234", loaded.Seed)
	}
	if loaded.Run.Dt != 5e-4 {
		t.Errorf("dt %g, want 5e-4", loaded.Run.Dt)
	}
	if loaded.Run.Integrator != "conjugate_gradient" {
		t.Errorf("integrator %q", loaded.Run.Integrator)
	}
	if loaded.Parameters.Vt != cfg.Parameters.Vt {
		t.Errorf("vt %g, want %g", loaded.Parameters.Vt, cfg.Parameters.Vt)
	}
	if !loaded.Run.AugmentedLagrangian {
		t.Error("augmented_lagrangian flag lost")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	// a sparse file picks up defaults for everything unset
	path := filepath.Join(t.TempDir(), "sparse.yaml")
	data := []byte("parameters:\n  kb: 2.5\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Parameters.Kb != 2.5 {
		t.Errorf("kb %g, want 2.5", cfg.Parameters.Kb)
	}
	if cfg.Run.Integrator != "gradient_descent" {
		t.Errorf("integrator %q, want default", cfg.Run.Integrator)
	}
	if cfg.Mesh.Radius != DefaultRadius {
		t.Errorf("radius %g, want default", cfg.Mesh.Radius)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero radius", func(c *Config) { c.Mesh.Radius = 0 }},
		{"subdivisions too deep", func(c *Config) { c.Mesh.Subdivisions = 9 }},
		{"zero dt", func(c *Config) { c.Run.Dt = 0 }},
		{"unknown integrator", func(c *Config) { c.Run.Integrator = "euler" }},
		{"negative modulus", func(c *Config) { c.Parameters.Kb = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
