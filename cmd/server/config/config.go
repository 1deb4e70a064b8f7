// Package config provides configuration structures for the plantatlas server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/TFMV/plantatlas/pkg/models"
)

// Source formats.
const (
	FormatCSV   = "csv"
	FormatArrow = "arrow"
)

// Cache policies, mirrored from services.CachePolicy so config stays free of
// service imports.
const (
	PolicyReload = "reload"
	PolicyCached = "cached"
)

// Config represents the server configuration.
type Config struct {
	// Server settings
	Address         string        `yaml:"address" json:"address" mapstructure:"address"`
	LogLevel        string        `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// Data source
	Source SourceConfig `yaml:"source" json:"source" mapstructure:"source"`

	// Cache configuration
	Cache CacheConfig `yaml:"cache" json:"cache" mapstructure:"cache"`

	// Pagination limits
	Pagination PaginationConfig `yaml:"pagination" json:"pagination" mapstructure:"pagination"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" mapstructure:"metrics"`

	// CORS configuration
	CORS CORSConfig `yaml:"cors" json:"cors" mapstructure:"cors"`

	// DuckDB connection pool used to read CSV sources
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool" json:"connection_pool" mapstructure:"connection_pool"`
}

// SourceConfig describes the tabular file behind the service.
type SourceConfig struct {
	Path          string        `yaml:"path" json:"path" mapstructure:"path"`
	Format        string        `yaml:"format" json:"format" mapstructure:"format"` // csv, arrow
	Schema        models.Schema `yaml:"schema" json:"schema" mapstructure:"schema"`
	SkipMalformed bool          `yaml:"skip_malformed" json:"skip_malformed" mapstructure:"skip_malformed"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	LoadTimeout   time.Duration `yaml:"load_timeout" json:"load_timeout" mapstructure:"load_timeout"`
}

// CacheConfig represents cache configuration.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries" mapstructure:"max_entries"`
	TTL        time.Duration `yaml:"ttl" json:"ttl" mapstructure:"ttl"`
	Watch      bool          `yaml:"watch" json:"watch" mapstructure:"watch"`
}

// PaginationConfig bounds page sizes.
type PaginationConfig struct {
	DefaultPageSize int `yaml:"default_page_size" json:"default_page_size" mapstructure:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size" json:"max_page_size" mapstructure:"max_page_size"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Address string `yaml:"address" json:"address" mapstructure:"address"`
	Path    string `yaml:"path" json:"path" mapstructure:"path"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" mapstructure:"allowed_origins"`
}

// ConnectionPoolConfig represents connection pool configuration.
type ConnectionPoolConfig struct {
	MaxOpenConnections int           `yaml:"max_open_connections" json:"max_open_connections" mapstructure:"max_open_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections" json:"max_idle_connections" mapstructure:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `yaml:"health_check_period" json:"health_check_period" mapstructure:"health_check_period"`
	ConnectionTimeout  time.Duration `yaml:"connection_timeout" json:"connection_timeout" mapstructure:"connection_timeout"`
}

// Policy returns the cache policy implied by Cache.Enabled.
func (c *Config) Policy() string {
	if c.Cache.Enabled {
		return PolicyCached
	}
	return PolicyReload
}

// Validate validates the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}

	// Validate source
	if c.Source.Path == "" {
		return fmt.Errorf("source path is required")
	}
	c.Source.Format = strings.ToLower(c.Source.Format)
	if c.Source.Format == "" {
		c.Source.Format = formatFromPath(c.Source.Path)
	}
	switch c.Source.Format {
	case FormatCSV, FormatArrow:
	default:
		return fmt.Errorf("unsupported source format: %s", c.Source.Format)
	}
	if c.Source.Schema == (models.Schema{}) {
		c.Source.Schema = models.DefaultSchema()
	}
	if err := c.Source.Schema.Validate(); err != nil {
		return fmt.Errorf("invalid source schema: %w", err)
	}
	if c.Source.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative")
	}
	if c.Source.LoadTimeout < 0 {
		return fmt.Errorf("load timeout must not be negative")
	}
	if c.Source.LoadTimeout == 0 {
		c.Source.LoadTimeout = 2 * time.Minute
	}

	// Set defaults for cache
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 4
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	if c.Cache.Watch && !c.Cache.Enabled {
		return fmt.Errorf("cache watch requires the cache to be enabled")
	}

	// Set defaults for pagination
	if c.Pagination.DefaultPageSize <= 0 {
		c.Pagination.DefaultPageSize = 20
	}
	if c.Pagination.MaxPageSize <= 0 {
		c.Pagination.MaxPageSize = 500
	}
	if c.Pagination.DefaultPageSize > c.Pagination.MaxPageSize {
		return fmt.Errorf("default page size %d exceeds max page size %d",
			c.Pagination.DefaultPageSize, c.Pagination.MaxPageSize)
	}

	// Set defaults for metrics
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}

	// Set defaults for connection pool
	if c.ConnectionPool.MaxOpenConnections <= 0 {
		c.ConnectionPool.MaxOpenConnections = 4
	}
	if c.ConnectionPool.MaxIdleConnections <= 0 {
		c.ConnectionPool.MaxIdleConnections = 2
	}
	if c.ConnectionPool.ConnMaxLifetime <= 0 {
		c.ConnectionPool.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnectionPool.ConnMaxIdleTime <= 0 {
		c.ConnectionPool.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.ConnectionPool.ConnectionTimeout <= 0 {
		c.ConnectionPool.ConnectionTimeout = 10 * time.Second
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults. The result is validated.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:         "0.0.0.0:5000",
		LogLevel:        "info",
		ShutdownTimeout: 30 * time.Second,
		Source: SourceConfig{
			Path:        "powerplants.csv",
			Format:      FormatCSV,
			Schema:      models.DefaultSchema(),
			LoadTimeout: 2 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 4,
			Watch:      false,
		},
		Pagination: PaginationConfig{
			DefaultPageSize: 20,
			MaxPageSize:     500,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		ConnectionPool: ConnectionPoolConfig{
			MaxOpenConnections: 4,
			MaxIdleConnections: 2,
			ConnMaxLifetime:    30 * time.Minute,
			ConnMaxIdleTime:    10 * time.Minute,
			HealthCheckPeriod:  time.Minute,
			ConnectionTimeout:  10 * time.Second,
		},
	}
}

func formatFromPath(path string) string {
	lower := strings.ToLower(path)
	for _, ext := range []string{".arrow", ".arrows", ".ipc"} {
		if strings.HasSuffix(lower, ext) {
			return FormatArrow
		}
	}
	return FormatCSV
}
