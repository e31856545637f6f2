package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/aceql/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled         bool
	Endpoint        string
	Protocol        string // grpc or http/protobuf
	ServiceName     string
	ServiceVersion  string
	Insecure        bool
	SampleRate      float64
	ExportInterval  time.Duration
	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns defaults. Telemetry is off unless configured.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        "grpc",
		ServiceName:     "aceql",
		ServiceVersion:  "0.1.0",
		Insecure:        true,
		SampleRate:      1.0,
		ExportInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// FromConfig overlays the file/env settings onto the defaults.
func FromConfig(c config.TelemetryConfig) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = c.Enabled
	cfg.Insecure = c.Insecure
	if c.Endpoint != "" {
		cfg.Endpoint = c.Endpoint
	}
	if c.Protocol != "" {
		cfg.Protocol = c.Protocol
	}
	if c.ServiceName != "" {
		cfg.ServiceName = c.ServiceName
	}
	return cfg
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false or use a local endpoint")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %f", c.SampleRate)
	}
	if c.ExportInterval <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("export interval and shutdown timeout must be positive")
	}
	return nil
}

func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]"); idx != -1 {
			host = host[1:idx]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
