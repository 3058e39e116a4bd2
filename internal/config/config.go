// Package config loads echomine settings.
//
// Values come from built-in defaults, then an optional YAML file, then
// ECHOMINE_* environment variables, each layer overriding the previous one.
package config

import (
	"errors"
	"fmt"
)

// Config is the complete echomine configuration.
type Config struct {
	Search    SearchConfig    `koanf:"search"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// SearchConfig tunes ranking and result presentation.
type SearchConfig struct {
	DefaultLimit  int     `koanf:"default_limit"`
	SnippetLength int     `koanf:"snippet_length"`
	BM25K1        float64 `koanf:"bm25_k1"`
	BM25B         float64 `koanf:"bm25_b"`
}

// IngestConfig controls archive streaming.
type IngestConfig struct {
	// Provider is the archive dialect used when --provider is not given.
	Provider string `koanf:"provider"`
	// ProgressEvery is the record interval between progress callbacks.
	ProgressEvery int `koanf:"progress_every"`
}

// LoggingConfig is the file form of the logging settings.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig is the file form of the tracing settings.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"`
	ServiceName     string   `koanf:"service_name"`
	Insecure        bool     `koanf:"insecure"`
	SamplingRate    float64  `koanf:"sampling_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Validate checks ranges that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if c.Search.DefaultLimit < 0 {
		errs = append(errs, fmt.Errorf("search.default_limit must be >= 0, got %d", c.Search.DefaultLimit))
	}
	if c.Search.SnippetLength <= 0 {
		errs = append(errs, fmt.Errorf("search.snippet_length must be > 0, got %d", c.Search.SnippetLength))
	}
	if c.Search.BM25K1 <= 0 {
		errs = append(errs, fmt.Errorf("search.bm25_k1 must be > 0, got %g", c.Search.BM25K1))
	}
	if c.Search.BM25B < 0 || c.Search.BM25B > 1 {
		errs = append(errs, fmt.Errorf("search.bm25_b must be within [0, 1], got %g", c.Search.BM25B))
	}
	if c.Ingest.ProgressEvery <= 0 {
		errs = append(errs, fmt.Errorf("ingest.progress_every must be > 0, got %d", c.Ingest.ProgressEvery))
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sampling_rate must be within [0, 1], got %g", c.Telemetry.SamplingRate))
	}
	return errors.Join(errs...)
}
