// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"fmt"
	"time"
)

// Config configures tracing and metrics.
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on tracing.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Exporter is "otlp" (gRPC) or "stdout".
	Exporter string `yaml:"exporter,omitempty" json:"exporter,omitempty" jsonschema:"enum=otlp,enum=stdout,default=otlp"`

	// Endpoint is the OTLP collector address.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"default=localhost:4317"`

	// SamplingRate is the sampled fraction of traces, 0.0 to 1.0.
	// Default: 1.0
	SamplingRate float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty" jsonschema:"minimum=0,maximum=1"`

	ServiceName    string `yaml:"service_name,omitempty" json:"service_name,omitempty"`
	ServiceVersion string `yaml:"service_version,omitempty" json:"service_version,omitempty"`

	// Insecure disables TLS for the exporter connection.
	// Default: true
	Insecure *bool `yaml:"insecure,omitempty" json:"insecure,omitempty"`

	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Timeout for exporter operations.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Endpoint is the HTTP path metrics are served on.
	// Default: "/metrics"
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Namespace prefixes all metric names.
	// Default: "hookd"
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks the Config for errors.
func (c *Config) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// SetDefaults applies default values to TracingConfig.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = DefaultSamplingRate
	}
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultOTLPEndpoint
	}
	if c.Insecure == nil {
		insecure := true
		c.Insecure = &insecure
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate checks TracingConfig for errors.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	switch c.Exporter {
	case "otlp":
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the otlp exporter")
		}
	case "stdout":
	default:
		return fmt.Errorf("invalid exporter %q (valid: otlp, stdout)", c.Exporter)
	}
	return nil
}

// IsInsecure returns whether to use an insecure connection.
func (c *TracingConfig) IsInsecure() bool {
	if c.Insecure == nil {
		return true
	}
	return *c.Insecure
}

// SetDefaults applies default values to MetricsConfig.
func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultMetricsPath
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
}

// Validate checks MetricsConfig for errors.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" || c.Endpoint[0] != '/' {
		return fmt.Errorf("endpoint must be an absolute path, got %q", c.Endpoint)
	}
	return nil
}
