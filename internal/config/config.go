// Package config provides the configuration schema and loader for the
// voxhall voice client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the client.
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

// Duration wraps time.Duration so YAML values can be written in the usual
// "10s" / "250ms" notation.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for the client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Audio     AudioConfig     `yaml:"audio"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Capture   CaptureConfig   `yaml:"capture"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServiceConfig identifies the remote speech service and the session
// parameters sent in the configuration handshake.
type ServiceConfig struct {
	// URL is the websocket endpoint of the speech service (wss://...).
	URL string `yaml:"url"`

	// APIKey authenticates the websocket dial. Offered to the server as the
	// websocket subprotocol.
	APIKey string `yaml:"api_key"`

	// KnowledgeBaseID selects the knowledge base the service queries on the
	// session's behalf.
	KnowledgeBaseID string `yaml:"knowledge_base_id"`

	// Region is the service region, forwarded in the handshake.
	Region string `yaml:"region"`

	// HeartbeatInterval is the ping cadence while the session is active.
	// Zero selects the default of 30s.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig pins the stream format. The service speaks exactly one
// format; any other value is rejected at load time rather than resampled.
type AudioConfig struct {
	// SampleRate must be 16000 when set.
	SampleRate int `yaml:"sample_rate"`

	// Channels must be 1 when set.
	Channels int `yaml:"channels"`

	// BlockSize is the capture/playout block length in samples. Zero selects
	// the default of 512.
	BlockSize int `yaml:"block_size"`

	// OutputPath is where playout writes raw PCM16, typically a FIFO feeding
	// the system player. Empty selects standard output.
	OutputPath string `yaml:"output_path"`
}

// PlaybackConfig tunes the playback buffer. Zero values select the buffer's
// built-in defaults.
type PlaybackConfig struct {
	LowWatermark         int      `yaml:"low_watermark"`
	ExtendedLowWatermark int      `yaml:"extended_low_watermark"`
	StarvationTimeout    Duration `yaml:"starvation_timeout"`
	ExtendedTimeout      Duration `yaml:"extended_timeout"`
	MaxRecoveryAttempts  int      `yaml:"max_recovery_attempts"`
	MaxSilentPulls       int      `yaml:"max_silent_pulls"`
}

// ReconnectConfig bounds the session's reconnection behaviour.
type ReconnectConfig struct {
	// MaxAttempts is the attempt ceiling before the session fails
	// terminally. Zero selects the default of 5.
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff is the fixed delay between attempts. Zero selects the default
	// of 3s.
	Backoff Duration `yaml:"backoff"`
}

// CaptureConfig tunes microphone initialization.
type CaptureConfig struct {
	// InitRetries is the device-open retry ceiling before degrading to a
	// silent source. Zero selects the default of 3.
	InitRetries int `yaml:"init_retries"`

	// RetryDelay is the fixed delay between retries. Zero selects the
	// default of 1s.
	RetryDelay Duration `yaml:"retry_delay"`

	// StartMuted suppresses outbound audio until the user unmutes.
	StartMuted bool `yaml:"start_muted"`

	// Device is a raw PCM16 stream to capture from, typically a FIFO fed by
	// the system recorder. Empty selects standard input.
	Device string `yaml:"device"`
}

// TelemetryConfig configures the local metrics and health listener.
type TelemetryConfig struct {
	// ListenAddr is the TCP address of the telemetry HTTP server
	// (/metrics, /healthz, /readyz). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`
}
