package telemetry

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds environment-driven settings for Setup. All variables share
// the TRACEWEAVE_ prefix, e.g. TRACEWEAVE_EXPORTERS=console,http.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"traceweave-app"`

	// Exporters selects one or more sinks: console, file, http, otlp, memory.
	Exporters []string `envconfig:"EXPORTERS" default:"console"`

	// Endpoint is the collector URL for the http and otlp exporters.
	Endpoint string `envconfig:"ENDPOINT"`
	APIKey   string `envconfig:"API_KEY"`

	// OutputPath is the directory the file exporter writes into.
	OutputPath string `envconfig:"OUTPUT_PATH" default:"."`

	BatchSize     int           `envconfig:"BATCH_SIZE" default:"512"`
	BatchInterval time.Duration `envconfig:"BATCH_INTERVAL" default:"5s"`
	MaxRetries    int           `envconfig:"MAX_RETRIES" default:"4"`

	// Deferred forces the deferred delivery path even when no frozen host
	// is detected.
	Deferred bool `envconfig:"DEFERRED" default:"false"`
}

// LoadConfig reads the TRACEWEAVE_* environment into a Config.
func LoadConfig() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("traceweave", cfg); err != nil {
		return nil, fmt.Errorf("telemetry: load config: %w", err)
	}
	return cfg, nil
}
