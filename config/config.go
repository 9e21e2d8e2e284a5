// Package config handles run configuration loading for a sampling session.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	OuterTrunc int     `yaml:"outer_trunc"` // outer truncation level K
	InnerTrunc int     `yaml:"inner_trunc"` // inner truncation level L
	Threshold  float64 `yaml:"threshold"`   // null-snapping threshold on |effect|
	Seed       int64   `yaml:"seed"`
	Workers    int     `yaml:"workers"` // parallel group updates; <= 1 means sequential
	Sweeps     int     `yaml:"sweeps"`
	SaveEvery  int     `yaml:"save_every"`
	OutDir     string  `yaml:"outdir"`
}

// Default returns the configuration used when a field is not set.
func Default() Config {
	return Config{
		OuterTrunc: 100,
		InnerTrunc: 50,
		Threshold:  0.3,
		Seed:       1,
		Workers:    1,
		Sweeps:     10000,
		SaveEvery:  100,
		OutDir:     "declust-out",
	}
}

// Load reads a YAML configuration file, filling unset fields from Default.
func Load(filename string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(filename)
	if err != nil {
		return cfg, errors.Wrapf(err, "Could not READ config from %s", filename)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "Could not PARSE config %s", filename)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "Config %s is not valid", filename)
	}

	return cfg, nil
}

// Validate returns an error if any setting is unusable.
func (c Config) Validate() error {
	if c.OuterTrunc < 2 || c.InnerTrunc < 2 {
		return errors.Errorf("Invalid truncation levels (%d, %d)", c.OuterTrunc, c.InnerTrunc)
	}
	if c.Threshold < 0 {
		return errors.Errorf("Invalid threshold %f", c.Threshold)
	}
	if c.Sweeps < 1 {
		return errors.Errorf("Invalid sweep count %d", c.Sweeps)
	}
	if len(c.OutDir) == 0 {
		return errors.Errorf("Output directory is required")
	}
	return nil
}
