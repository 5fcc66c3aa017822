// Package config provides the configuration schema and loader for the
// voxgate voice activity detection service.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voxgate/voxgate/pkg/vad"
)

// LogLevel controls log verbosity for the voxgate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration with YAML decoding from Go duration
// strings ("800ms", "1.5s").
type Duration time.Duration

// UnmarshalYAML decodes a duration string into d.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"800ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML encodes d as a Go duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for voxgate.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Input     InputConfig     `yaml:"input"`
	Detector  DetectorConfig  `yaml:"detector"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
}

// ServerConfig holds the observability HTTP endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the address the /metrics and health endpoints bind to,
	// e.g. ":9109". Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum level for structured logs. Default: info.
	LogLevel LogLevel `yaml:"log_level"`
}

// InputConfig describes the raw PCM stream fed to the pipeline.
type InputConfig struct {
	// Path is the file to read PCM from. "-" or empty reads stdin.
	Path string `yaml:"path"`

	// SampleRate of the input stream in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the input stream. Default: 1.
	Channels int `yaml:"channels"`

	// ChunkDuration is how much audio each chunk carries. Together with
	// SampleRate it fixes the read size. Default: 20ms.
	ChunkDuration Duration `yaml:"chunk_duration"`
}

// DetectorConfig holds the voice activity detector parameters. The
// fields are pointers so that an explicitly configured zero (threshold
// 0.0 classifies any non-zero energy as speech; duration 0s ends speech
// on the first quiet chunk) is distinguishable from an absent key.
type DetectorConfig struct {
	// SilenceThreshold is the minimum normalized RMS energy classified as
	// speech. Range [0, 1]. Unset defaults to 0.01.
	SilenceThreshold *float64 `yaml:"silence_threshold"`

	// SilenceDuration is the minimum continuous sub-threshold time before
	// the end of an utterance is declared. Unset defaults to 800ms.
	SilenceDuration *Duration `yaml:"silence_duration"`
}

// VAD returns the detector parameters as a vad.Config, with package
// defaults for unset fields and configured values taken verbatim,
// zeros included.
func (d DetectorConfig) VAD() vad.Config {
	cfg := vad.Config{}.WithDefaults()
	if d.SilenceThreshold != nil {
		cfg.SilenceThreshold = *d.SilenceThreshold
	}
	if d.SilenceDuration != nil {
		cfg.SilenceHangover = d.SilenceDuration.Std()
	}
	return cfg
}

// SegmenterConfig holds the utterance segmenter parameters.
type SegmenterConfig struct {
	// PreRoll is how much audio captured before speech onset is included
	// at the start of each utterance. Default: 200ms.
	PreRoll Duration `yaml:"pre_roll"`

	// MaxUtterance caps the length of a single utterance; longer speech
	// is split. Zero means no cap.
	MaxUtterance Duration `yaml:"max_utterance"`
}

// Default configuration values applied by [Load] for unset fields.
const (
	DefaultSampleRate    = 16000
	DefaultChannels      = 1
	DefaultChunkDuration = 20 * time.Millisecond
	DefaultPreRoll       = 200 * time.Millisecond
)

// applyDefaults fills zero-valued fields with defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Input.SampleRate == 0 {
		cfg.Input.SampleRate = DefaultSampleRate
	}
	if cfg.Input.Channels == 0 {
		cfg.Input.Channels = DefaultChannels
	}
	if cfg.Input.ChunkDuration == 0 {
		cfg.Input.ChunkDuration = Duration(DefaultChunkDuration)
	}
	// Detector defaults are applied by DetectorConfig.VAD so that an
	// explicit zero is not mistaken for an absent key.
	if cfg.Segmenter.PreRoll == 0 {
		cfg.Segmenter.PreRoll = Duration(DefaultPreRoll)
	}
}
