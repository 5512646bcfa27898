package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/voxhall/voxhall/internal/config"
)

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  url: wss://voice.example.com/ws
  api_key: sk-test
  knowledge_base_id: KB12345
  region: us-east-1
  heartbeat_interval: 30s
  log_level: debug
audio:
  sample_rate: 16000
  channels: 1
  block_size: 512
playback:
  starvation_timeout: 10s
  extended_timeout: 30s
  max_recovery_attempts: 3
reconnect:
  max_attempts: 5
  backoff: 3s
telemetry:
  listen_addr: "127.0.0.1:9090"
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.KnowledgeBaseID != "KB12345" {
		t.Errorf("knowledge_base_id = %q, want KB12345", cfg.Service.KnowledgeBaseID)
	}
	if cfg.Service.HeartbeatInterval.Std() != 30*time.Second {
		t.Errorf("heartbeat_interval = %s, want 30s", cfg.Service.HeartbeatInterval.Std())
	}
	if cfg.Reconnect.Backoff.Std() != 3*time.Second {
		t.Errorf("backoff = %s, want 3s", cfg.Reconnect.Backoff.Std())
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  url: wss://voice.example.com/ws
  shard_count: 4
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_MissingURL(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`service: {}`))
	if err == nil {
		t.Fatal("expected error for missing service.url, got nil")
	}
	if !strings.Contains(err.Error(), "service.url") {
		t.Errorf("error should mention service.url, got: %v", err)
	}
}

func TestValidate_BadScheme(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  url: https://voice.example.com/ws
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-websocket scheme, got nil")
	}
	if !strings.Contains(err.Error(), "scheme") {
		t.Errorf("error should mention the scheme, got: %v", err)
	}
}

func TestValidate_UnsupportedSampleRate(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  url: wss://voice.example.com/ws
audio:
  sample_rate: 44100
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unsupported sample rate, got nil")
	}
	if !strings.Contains(err.Error(), "16000") {
		t.Errorf("error should name the required rate, got: %v", err)
	}
}

func TestValidate_JoinsAllFailures(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  log_level: loud
audio:
  channels: 2
reconnect:
  max_attempts: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"service.url", "log_level", "channels", "max_attempts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_ExtendedShorterThanNormal(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  url: wss://voice.example.com/ws
playback:
  starvation_timeout: 30s
  extended_timeout: 10s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for extended timeout shorter than normal, got nil")
	}
}

func TestDuration_Invalid(t *testing.T) {
	t.Parallel()
	yaml := `
service:
  url: wss://voice.example.com/ws
  heartbeat_interval: soon
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unparseable duration, got nil")
	}
}
