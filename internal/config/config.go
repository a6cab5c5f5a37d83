// Package config loads the compiler settings: feature switches, scheduler
// invocation and output paths. Values come from an optional TOML file, then
// the environment, then command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"dsac/internal/diag"
)

// EnvConfigLib names the variable holding the hardware description.
const EnvConfigLib = "SBCONFIG"

// Config is the complete compiler configuration.
type Config struct {
	Features  Features  `toml:"features"`
	Scheduler Scheduler `toml:"scheduler"`
	// OutputDir receives the .dfg files. Empty means a temporary directory
	// that is removed afterwards.
	OutputDir string `toml:"output_dir"`
}

// Features toggles accelerator capabilities and compiler modes.
type Features struct {
	// Pred enables predicated control streams.
	Pred bool `toml:"pred"`
	// Ind enables indirect memory streams.
	Ind bool `toml:"ind"`
	// Temporal keeps time-multiplexed graphs; without it temporal markers
	// are dropped.
	Temporal bool `toml:"temporal"`
	// Trigger emits the trigger-based control form. Requires Temporal.
	Trigger bool `toml:"trigger"`
	// Fusion packs two register writes into one configuration call.
	Fusion bool `toml:"fusion"`
	// Extract stops after writing the .dfg files.
	Extract bool `toml:"extract"`
}

// Scheduler configures the external scheduler.
type Scheduler struct {
	Path      string `toml:"path"`
	ConfigLib string `toml:"config_lib"`
	// Timeout is a Go duration string such as "30s". Empty means no limit.
	Timeout string `toml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{Features: Features{Pred: true, Ind: true}}
}

// Load reads the TOML file at path over the defaults. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %v: %w", path, err, diag.ErrConfig)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("unknown keys:\n%s: %w", strict.String(), diag.ErrConfig)
		}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			row, col := de.Position()
			return nil, fmt.Errorf("line %d column %d: %v: %w", row, col, de, diag.ErrConfig)
		}
		return nil, fmt.Errorf("failed to parse: %v: %w", err, diag.ErrConfig)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvConfigLib); v != "" {
		c.Scheduler.ConfigLib = v
	}
}

// Validate checks combinations that no stage could honor.
func (c *Config) Validate() error {
	if c.Features.Trigger && !c.Features.Temporal {
		return fmt.Errorf("config: trigger requires temporal: %w", diag.ErrConfig)
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	return nil
}

// Timeout returns the parsed scheduler timeout.
func (c *Config) Timeout() (time.Duration, error) {
	if c.Scheduler.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Scheduler.Timeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: invalid scheduler timeout %q: %w", c.Scheduler.Timeout, diag.ErrConfig)
	}
	return d, nil
}

// Encode renders c as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
