// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"regexp"
	"strings"
)

// DatabaseConfig holds configuration for a SQL database connection.
// Supports PostgreSQL, MySQL, and SQLite.
type DatabaseConfig struct {
	// Driver is "postgres", "mysql", or "sqlite".
	Driver string `yaml:"driver" json:"driver" jsonschema:"title=Database Type,enum=postgres,enum=mysql,enum=sqlite,enum=sqlite3"`

	// DSN is a full connection string. When set, the discrete fields below
	// are ignored.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty" jsonschema:"title=Connection String"`

	Host     string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"description=Database server hostname (not required for SQLite)"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Database string `yaml:"database,omitempty" json:"database,omitempty" jsonschema:"description=Database name (or file path for SQLite)"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	MaxConns int `yaml:"max_conns,omitempty" json:"max_conns,omitempty" jsonschema:"minimum=1,default=25"`
	MaxIdle  int `yaml:"max_idle,omitempty" json:"max_idle,omitempty" jsonschema:"minimum=1,default=5"`
}

// SetDefaults applies default values to the database config.
func (c *DatabaseConfig) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.Driver == "postgres" && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "":
		return fmt.Errorf("driver is required")
	case "postgres", "mysql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver)
	}

	if c.DSN == "" {
		if c.Database == "" {
			return fmt.Errorf("database is required")
		}
		if c.Dialect() != "sqlite" && c.Host == "" {
			return fmt.Errorf("host is required for %s", c.Driver)
		}
	}

	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return fmt.Errorf("max_conns and max_idle must be non-negative")
	}
	return nil
}

// ConnectionString returns the data source name for sql.Open.
func (c *DatabaseConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch c.Dialect() {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s", c.Host, c.Port, c.Database)
		if c.Username != "" {
			dsn += fmt.Sprintf(" user=%s", c.Username)
		}
		if c.Password != "" {
			dsn += fmt.Sprintf(" password=%s", c.Password)
		}
		if c.SSLMode != "" {
			dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
		}
		return dsn
	case "mysql":
		// [username[:password]@][protocol[(address)]]/dbname
		if c.Username != "" {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
				c.Username, c.Password, c.Host, c.Port, c.Database)
		}
		return fmt.Sprintf("tcp(%s:%d)/%s?parseTime=true", c.Host, c.Port, c.Database)
	case "sqlite":
		return c.Database
	default:
		return ""
	}
}

// DriverName returns the name registered with database/sql.
func (c *DatabaseConfig) DriverName() string {
	if c.Driver == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect returns the normalized SQL dialect name.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return "sqlite"
	}
	return c.Driver
}

// Placeholder returns the bind placeholder for the n-th (1-based) parameter.
func (c *DatabaseConfig) Placeholder(n int) string {
	if c.Dialect() == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

var (
	urlCredentials = regexp.MustCompile(`://([^:/@]+):([^@]+)@`)
	mysqlPassword  = regexp.MustCompile(`^([^:/@]+):([^@/]+)@`)
	kvPassword     = regexp.MustCompile(`(?i)(password=)(\S+)`)
)

// MaskDSN hides passwords in a connection string for logging.
func MaskDSN(dsn string) string {
	masked := urlCredentials.ReplaceAllString(dsn, "://$1:****@")
	masked = mysqlPassword.ReplaceAllString(masked, "$1:****@")
	return kvPassword.ReplaceAllString(masked, "${1}****")
}

// String describes the connection with the password masked.
func (c *DatabaseConfig) String() string {
	return fmt.Sprintf("%s(%s)", c.Dialect(), strings.TrimSpace(MaskDSN(c.ConnectionString())))
}
