package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with defaults: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 0 {
		t.Errorf("Server.WriteTimeout = %v, want 0 (streaming)", cfg.Server.WriteTimeout)
	}
	if cfg.Upload.Dir != "uploads" {
		t.Errorf("Upload.Dir = %q, want %q", cfg.Upload.Dir, "uploads")
	}
	if cfg.Stream.Buffer != 16 {
		t.Errorf("Stream.Buffer = %d, want 16", cfg.Stream.Buffer)
	}
	if cfg.Stream.PaceDelay != 0 {
		t.Errorf("Stream.PaceDelay = %v, want 0", cfg.Stream.PaceDelay)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("STREAM_PACE_DELAY", "250ms")
	t.Setenv("MOUSER_API_KEY", "test-key")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Stream.PaceDelay != 250*time.Millisecond {
		t.Errorf("Stream.PaceDelay = %v, want 250ms", cfg.Stream.PaceDelay)
	}
	if cfg.Mouser.APIKey != "test-key" {
		t.Errorf("Mouser.APIKey = %q, want %q", cfg.Mouser.APIKey, "test-key")
	}
	if cfg.Rate.Enabled {
		t.Error("Rate.Enabled = true, want false")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"SERVER_PORT": "notanumber"}},
		{"port out of range", map[string]string{"SERVER_PORT": "99999"}},
		{"bad duration", map[string]string{"STREAM_PACE_DELAY": "fast"}},
		{"negative buffer", map[string]string{"STREAM_BUFFER": "-1"}},
		{"half credentials", map[string]string{"DIGIKEY_CLIENT_ID": "id-only"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}

func TestAddr(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 8081}
	if got := c.Addr(); got != "127.0.0.1:8081" {
		t.Errorf("Addr() = %q, want %q", got, "127.0.0.1:8081")
	}
}
