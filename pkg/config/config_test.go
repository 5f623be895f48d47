package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.State.Backend != "file" {
		t.Errorf("State.Backend = %q, want file", cfg.State.Backend)
	}
	if cfg.Room.CommandBuffer != 64 || cfg.Room.SendBuffer != 64 {
		t.Errorf("room buffers = (%d, %d), want (64, 64)", cfg.Room.CommandBuffer, cfg.Room.SendBuffer)
	}
	if cfg.SummarySchedule != "@every 1m" {
		t.Errorf("SummarySchedule = %q", cfg.SummarySchedule)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()

	validConfig := `
listen_addr: ":7000"
metrics_port: 9100
state:
  backend: redis
  redis:
    addr: localhost:6379
    prefix: "rooms:"
history:
  path: /var/lib/agentroom/log.db
room:
  command_buffer: 128
  rate_limit:
    frames_per_second: 20
    burst: 40
`

	validFile := filepath.Join(tmpDir, "valid.yaml")
	if err := os.WriteFile(validFile, []byte(validConfig), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cfg, err := Load(validFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":7000" {
		t.Errorf("ListenAddr = %q, want :7000", cfg.ListenAddr)
	}
	if cfg.State.Backend != "redis" || cfg.State.Redis.Addr != "localhost:6379" {
		t.Errorf("state = %+v", cfg.State)
	}
	if cfg.Room.RateLimit.FramesPerSecond != 20 {
		t.Errorf("FramesPerSecond = %v, want 20", cfg.Room.RateLimit.FramesPerSecond)
	}
	// Unset fields still get defaults.
	if cfg.Room.SendBuffer != 64 {
		t.Errorf("SendBuffer = %d, want default 64", cfg.Room.SendBuffer)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("config should validate, got %v", err)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()

	invalidFile := filepath.Join(tmpDir, "invalid.yaml")
	if err := os.WriteFile(invalidFile, []byte("listen_addr: [[["), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	if _, err := Load(invalidFile); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"unknown backend", func(c *Config) { c.State.Backend = "dynamo" }, true},
		{"redis without addr", func(c *Config) { c.State.Backend = "redis" }, true},
		{"redis with addr", func(c *Config) {
			c.State.Backend = "redis"
			c.State.Redis.Addr = "localhost:6379"
		}, false},
		{"empty history path", func(c *Config) { c.History.Path = "" }, true},
		{"negative rate", func(c *Config) { c.Room.RateLimit.FramesPerSecond = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
