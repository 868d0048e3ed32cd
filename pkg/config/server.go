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

package config

import (
	"fmt"
	"time"
)

// ServerConfig configures the HTTP control API.
type ServerConfig struct {
	// Address to listen on. Default: ":8080"
	Address string `yaml:"address,omitempty" json:"address,omitempty"`

	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`

	Auth AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`
}

// AuthConfig configures JWT bearer authentication against a JWKS endpoint.
//
// Example:
//
//	auth:
//	  enabled: true
//	  jwks_url: https://auth.example.com/.well-known/jwks.json
//	  issuer: https://auth.example.com
//	  audience: hookd
type AuthConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// JWKSURL is the URL of the JSON Web Key Set.
	JWKSURL string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty"`

	// Issuer is the expected iss claim.
	Issuer string `yaml:"issuer,omitempty" json:"issuer,omitempty"`

	// Audience is the expected aud claim.
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// RefreshInterval is the minimum JWKS refresh interval. Default: 15m
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty"`

	// ExcludedPaths skip authentication. Default: ["/health"]
	ExcludedPaths []string `yaml:"excluded_paths,omitempty" json:"excluded_paths,omitempty"`
}

// SetDefaults applies default values to ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	c.Auth.SetDefaults()
}

// Validate checks ServerConfig.
func (c *ServerConfig) Validate() error {
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// SetDefaults applies default values to AuthConfig.
func (c *AuthConfig) SetDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if len(c.ExcludedPaths) == 0 {
		c.ExcludedPaths = []string{"/health"}
	}
}

// Validate checks the AuthConfig for errors.
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.JWKSURL == "" {
		return fmt.Errorf("jwks_url is required when auth is enabled")
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required when auth is enabled")
	}
	if c.Audience == "" {
		return fmt.Errorf("audience is required when auth is enabled")
	}
	if c.RefreshInterval < time.Minute {
		return fmt.Errorf("refresh_interval must be at least 1 minute")
	}
	return nil
}

// IsEnabled returns true if authentication is configured and enabled.
func (c *AuthConfig) IsEnabled() bool {
	return c != nil && c.Enabled && c.JWKSURL != ""
}
