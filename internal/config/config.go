// Package config provides centralized configuration management for the
// BOM checker service. Settings come from environment variables with
// sensible defaults and are validated on startup so misconfiguration
// fails fast.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Upload  UploadConfig
	Model   ModelConfig
	DigiKey DigiKeyConfig
	Mouser  MouserConfig
	Stream  StreamConfig
	Rate    RateLimitConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout must stay 0: NDJSON result streams are long-lived responses
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// UploadConfig holds spreadsheet upload settings.
type UploadConfig struct {
	// Dir is where uploaded workbooks are staged (default: uploads)
	Dir string `env:"UPLOAD_DIR" default:"uploads"`

	// MaxFileSize is the maximum allowed file size in bytes (default: 20MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"20971520"`
}

// ModelConfig holds column-classifier model settings.
type ModelConfig struct {
	// Path is the primary location of the model artifact. When empty or
	// missing, the classifier falls back to well-known candidate paths and
	// ultimately to degraded "Model not loaded" predictions.
	Path string `env:"MODEL_PATH"`
}

// DigiKeyConfig holds DigiKey API settings.
type DigiKeyConfig struct {
	ClientID     string `env:"DIGIKEY_CLIENT_ID"`
	ClientSecret string `env:"DIGIKEY_CLIENT_SECRET"`

	// BaseURL overrides the API host; empty selects production or sandbox.
	BaseURL string `env:"DIGIKEY_BASE_URL"`

	// Sandbox selects api-sandbox.digikey.com (default: false)
	Sandbox bool `env:"DIGIKEY_SANDBOX_MODE" default:"false"`

	// TokenFile is where the bearer token is cached across restarts
	TokenFile string `env:"DIGIKEY_TOKEN_FILE" default:"tokens/digikey_access_token.json"`
}

// MouserConfig holds Mouser API settings.
type MouserConfig struct {
	APIKey string `env:"MOUSER_API_KEY"`

	// BaseURL overrides the API host (default: https://api.mouser.com/api/v1)
	BaseURL string `env:"MOUSER_BASE_URL" default:"https://api.mouser.com/api/v1"`
}

// StreamConfig holds result-streaming settings.
type StreamConfig struct {
	// Buffer is the event channel capacity between the resolver worker
	// and the response writer (default: 16)
	Buffer int `env:"STREAM_BUFFER" default:"16"`

	// PaceDelay is an optional delay between emitted events. Zero means
	// events flush as fast as they are produced (default: 0s)
	PaceDelay time.Duration `env:"STREAM_PACE_DELAY" default:"0s"`

	// MaxConcurrent is the maximum number of simultaneous result streams
	// (default: 5)
	MaxConcurrent int `env:"STREAM_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long a request waits for a stream slot (default: 10s)
	MaxWaitTime time.Duration `env:"STREAM_MAX_WAIT_TIME" default:"10s"`
}

// RateLimitConfig holds per-IP request throttling settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks that the configuration is usable.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Upload.Dir == "" {
		errs = append(errs, "UPLOAD_DIR must not be empty")
	}
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Stream.Buffer <= 0 {
		errs = append(errs, "STREAM_BUFFER must be positive")
	}
	if c.Stream.PaceDelay < 0 {
		errs = append(errs, "STREAM_PACE_DELAY must be non-negative")
	}
	if c.Stream.MaxConcurrent <= 0 {
		errs = append(errs, "STREAM_MAX_CONCURRENT must be positive")
	}
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	// One credential without the other is always a mistake.
	if (c.DigiKey.ClientID == "") != (c.DigiKey.ClientSecret == "") {
		errs = append(errs, "DIGIKEY_CLIENT_ID and DIGIKEY_CLIENT_SECRET must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", joinLines(errs))
	}
	return nil
}

func joinLines(lines []string) string {
	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n  - " + l
	}
	return out
}
