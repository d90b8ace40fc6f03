// Package config provides the configuration system for gridwalk-core.
//
// Configuration is loaded from YAML with ${VAR} environment substitution,
// so credentials stay out of checked-in files:
//
//	postgres:
//	  user: gridwalk
//	  password: ${GRIDWALK_DB_PASSWORD}
//	  host: localhost
//	  database: gis
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/enmeshed-analytics/gridwalk-core/pkg/errors"
)

// Config is the top-level configuration for the gridwalk CLI and pipeline.
type Config struct {
	// Log configures the global logger
	Log LogConfig `yaml:"log" json:"log"`

	// Postgres configures the PostGIS connector and layer catalog
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`

	// Pipeline configures the import pipeline
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" json:"level"`
	// Development enables console-friendly output
	Development bool `yaml:"development" json:"development"`
	// Encoding is json or console
	Encoding string `yaml:"encoding" json:"encoding"`
}

// PostgresConfig carries everything needed to build the connection pool.
// All fields are fixed at construction time; the connector never mutates them.
type PostgresConfig struct {
	// User is the database role name
	User string `yaml:"user" json:"user"`
	// Password for the role; typically injected via ${VAR}
	Password string `yaml:"password" json:"password"`
	// Host of the database server
	Host string `yaml:"host" json:"host"`
	// Port of the database server (default 5432)
	Port uint16 `yaml:"port" json:"port"`
	// Database is the database name
	Database string `yaml:"database" json:"database"`
	// Schema is the namespace layers are created in (default public)
	Schema string `yaml:"schema" json:"schema"`
	// MaxConnections caps the pool size (default 10)
	MaxConnections int32 `yaml:"max_connections" json:"max_connections"`
	// DisableTLS turns off TLS for local development
	DisableTLS bool `yaml:"disable_tls" json:"disable_tls"`
}

// PipelineConfig contains import pipeline settings.
type PipelineConfig struct {
	// Workers is the number of concurrent insert workers (default 4)
	Workers int `yaml:"workers" json:"workers"`
}

// Default returns a Config with defaults applied.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Schema:         "public",
			MaxConnections: 10,
		},
		Pipeline: PipelineConfig{
			Workers: 4,
		},
	}
}

// Load reads a YAML configuration file into cfg, substituting ${VAR}
// references from the environment first.
func Load(filePath string, cfg interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller and validated
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
	}

	content := substituteEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "json"
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 4
	}
	return c.Postgres.Validate()
}

// Validate checks the Postgres settings and fills in defaults.
func (c *PostgresConfig) Validate() error {
	if c.User == "" {
		return errors.New(errors.ErrorTypeConfig, "postgres user is required")
	}
	if c.Host == "" {
		return errors.New(errors.ErrorTypeConfig, "postgres host is required")
	}
	if c.Database == "" {
		return errors.New(errors.ErrorTypeConfig, "postgres database is required")
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	return nil
}

// ConnString builds the pool connection string. Credentials are URL-escaped;
// pool sizing and TLS mode travel as query parameters understood by pgxpool.
func (c *PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}

	sslmode := "require"
	if c.DisableTLS {
		sslmode = "disable"
	}

	q := url.Values{}
	q.Set("pool_max_conns", fmt.Sprintf("%d", c.MaxConnections))
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()

	return u.String()
}
