package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxhall/voxhall/pkg/audio"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Service
	if cfg.Service.URL == "" {
		errs = append(errs, errors.New("service.url is required"))
	} else if u, err := url.Parse(cfg.Service.URL); err != nil {
		errs = append(errs, fmt.Errorf("service.url %q is invalid: %w", cfg.Service.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("service.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
	}
	if cfg.Service.LogLevel != "" && !cfg.Service.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("service.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Service.LogLevel))
	}
	if cfg.Service.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("service.heartbeat_interval %s is negative", cfg.Service.HeartbeatInterval.Std()))
	}

	// Audio format is pinned, not negotiated. Catching a mismatch here is
	// the whole resampling story.
	if cfg.Audio.SampleRate != 0 && cfg.Audio.SampleRate != audio.DefaultSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; the service requires %d", cfg.Audio.SampleRate, audio.DefaultSampleRate))
	}
	if cfg.Audio.Channels != 0 && cfg.Audio.Channels != audio.DefaultChannels {
		errs = append(errs, fmt.Errorf("audio.channels %d is unsupported; the service requires mono", cfg.Audio.Channels))
	}
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d is negative", cfg.Audio.BlockSize))
	}

	// Playback
	if cfg.Playback.LowWatermark < 0 {
		errs = append(errs, fmt.Errorf("playback.low_watermark %d is negative", cfg.Playback.LowWatermark))
	}
	if cfg.Playback.ExtendedLowWatermark < 0 {
		errs = append(errs, fmt.Errorf("playback.extended_low_watermark %d is negative", cfg.Playback.ExtendedLowWatermark))
	}
	if cfg.Playback.StarvationTimeout < 0 {
		errs = append(errs, fmt.Errorf("playback.starvation_timeout %s is negative", cfg.Playback.StarvationTimeout.Std()))
	}
	if cfg.Playback.ExtendedTimeout < 0 {
		errs = append(errs, fmt.Errorf("playback.extended_timeout %s is negative", cfg.Playback.ExtendedTimeout.Std()))
	}
	if cfg.Playback.ExtendedTimeout != 0 && cfg.Playback.ExtendedTimeout < cfg.Playback.StarvationTimeout {
		errs = append(errs, fmt.Errorf("playback.extended_timeout %s is shorter than playback.starvation_timeout %s", cfg.Playback.ExtendedTimeout.Std(), cfg.Playback.StarvationTimeout.Std()))
	}
	if cfg.Playback.MaxRecoveryAttempts < 0 {
		errs = append(errs, fmt.Errorf("playback.max_recovery_attempts %d is negative", cfg.Playback.MaxRecoveryAttempts))
	}
	if cfg.Playback.MaxSilentPulls < 0 {
		errs = append(errs, fmt.Errorf("playback.max_silent_pulls %d is negative", cfg.Playback.MaxSilentPulls))
	}

	// Reconnect
	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts %d is negative", cfg.Reconnect.MaxAttempts))
	}
	if cfg.Reconnect.Backoff < 0 {
		errs = append(errs, fmt.Errorf("reconnect.backoff %s is negative", cfg.Reconnect.Backoff.Std()))
	}

	// Capture
	if cfg.Capture.InitRetries < 0 {
		errs = append(errs, fmt.Errorf("capture.init_retries %d is negative", cfg.Capture.InitRetries))
	}
	if cfg.Capture.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("capture.retry_delay %s is negative", cfg.Capture.RetryDelay.Std()))
	}

	return errors.Join(errs...)
}
