package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Input.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("input.sample_rate %d must be positive", cfg.Input.SampleRate))
	}
	if cfg.Input.Channels != 1 && cfg.Input.Channels != 2 {
		errs = append(errs, fmt.Errorf("input.channels %d is invalid; valid values: 1, 2", cfg.Input.Channels))
	}
	if cfg.Input.ChunkDuration < 0 {
		errs = append(errs, fmt.Errorf("input.chunk_duration %s is negative", cfg.Input.ChunkDuration.Std()))
	}

	if err := cfg.Detector.VAD().Validate(); err != nil {
		errs = append(errs, err)
	}

	if cfg.Segmenter.PreRoll < 0 {
		errs = append(errs, fmt.Errorf("segmenter.pre_roll %s is negative", cfg.Segmenter.PreRoll.Std()))
	}
	if cfg.Segmenter.MaxUtterance < 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_utterance %s is negative", cfg.Segmenter.MaxUtterance.Std()))
	}

	return errors.Join(errs...)
}
