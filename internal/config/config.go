// Package config provides configuration management for camgate using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 5000
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultCameraBaseURL     = "http://192.168.0.98:18080"
	defaultConnectTimeout    = 3 * time.Second
	defaultReadTimeout       = 5 * time.Second
	defaultStreamConnect     = 5 * time.Second
	defaultStreamRead        = 10 * time.Second
	defaultMaxIdleConns      = 20
	defaultMaxIdlePerHost    = 10
	defaultMaxConcurrent     = 5
	defaultInteractiveTTL    = 500 * time.Millisecond
	defaultCycleTTL          = 2 * time.Second
	defaultStaleTTL          = 30 * time.Second
	defaultCacheCeiling      = 60 * time.Second
	defaultOverloadBackoff   = 45 * time.Second
	defaultConnBackoffCap    = 30 * time.Second
	defaultCycleInterval     = 20 * time.Second
	defaultCycleRefresh      = 5 * time.Second
	defaultSingleInterval    = time.Second
	defaultGridInterval      = 5 * time.Second
	defaultDetectorTimeout   = 5 * time.Second
	defaultDetectorInterval  = 2 * time.Second
	defaultJPEGQuality       = 85
	defaultStreamJPEGQuality = 80
	defaultStallThreshold    = 5 * time.Second
	defaultForwardInterval   = 5 * time.Second
	defaultForwardTimeout    = 10 * time.Second
	defaultForwardRetries    = 2
	defaultForwardRetryDelay = 500 * time.Millisecond
	defaultSweepSchedule     = "@every 15s"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Camera      CameraConfig      `mapstructure:"camera"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Cycle       CycleConfig       `mapstructure:"cycle"`
	Prefetch    PrefetchConfig    `mapstructure:"prefetch"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Detector    DetectorConfig    `mapstructure:"detector"`
	Forwarder   ForwarderConfig   `mapstructure:"forwarder"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// CameraConfig describes the head-end and how to talk to it.
type CameraConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	StreamConnectTimeout time.Duration `mapstructure:"stream_connect_timeout"`
	StreamReadTimeout    time.Duration `mapstructure:"stream_read_timeout"`
	MaxIdleConns         int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost  int           `mapstructure:"max_idle_conns_per_host"`
}

// FetchConfig tunes snapshot acquisition and caching.
type FetchConfig struct {
	MaxConcurrent        int           `mapstructure:"max_concurrent"`
	InteractiveTTL       time.Duration `mapstructure:"interactive_ttl"`
	CycleTTL             time.Duration `mapstructure:"cycle_ttl"`
	StaleTTL             time.Duration `mapstructure:"stale_ttl"`
	CacheCeiling         time.Duration `mapstructure:"cache_ceiling"`
	OverloadBackoff      time.Duration `mapstructure:"overload_backoff"`
	ConnectionBackoffCap time.Duration `mapstructure:"connection_backoff_cap"`
}

// CycleConfig holds the two alternating channel groups.
type CycleConfig struct {
	GroupA          []int         `mapstructure:"group_a"`
	GroupB          []int         `mapstructure:"group_b"`
	Interval        time.Duration `mapstructure:"interval"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// PrefetchConfig controls the server-side acquisition loop.
type PrefetchConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SingleInterval time.Duration `mapstructure:"single_interval"`
	GridInterval   time.Duration `mapstructure:"grid_interval"`
}

// StreamConfig holds main stream reader settings.
type StreamConfig struct {
	StallThreshold time.Duration `mapstructure:"stall_threshold"`
	JPEGQuality    int           `mapstructure:"jpeg_quality"`
}

// DetectorConfig holds the external object detector settings.
type DetectorConfig struct {
	Enabled          bool               `mapstructure:"enabled"`
	Endpoint         string             `mapstructure:"endpoint"`
	Timeout          time.Duration      `mapstructure:"timeout"`
	StreamInterval   time.Duration      `mapstructure:"stream_interval"`
	JPEGQuality      int                `mapstructure:"jpeg_quality"`
	DefaultThreshold float64            `mapstructure:"default_threshold"`
	Thresholds       map[string]float64 `mapstructure:"thresholds"`
}

// ForwarderConfig holds settings for pushing the main frame to a remote receiver.
type ForwarderConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// MaintenanceConfig holds housekeeping job settings.
type MaintenanceConfig struct {
	SweepSchedule string `mapstructure:"sweep_schedule"` // robfig/cron spec, e.g. "@every 15s"
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CAMGATE_ and use underscores for nesting.
// Example: CAMGATE_CAMERA_BASE_URL=http://10.0.0.2:18080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/camgate")
		v.AddConfigPath("$HOME/.camgate")
	}

	v.SetEnvPrefix("CAMGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates configuration from an existing Viper
// instance. The CLI uses this with the global instance it has already
// populated from flags, environment and file.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment.
func Default() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	return FromViper(v)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // MJPEG proxy responses are unbounded
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Camera defaults
	v.SetDefault("camera.base_url", defaultCameraBaseURL)
	v.SetDefault("camera.username", "admin")
	v.SetDefault("camera.password", "admin")
	v.SetDefault("camera.connect_timeout", defaultConnectTimeout)
	v.SetDefault("camera.read_timeout", defaultReadTimeout)
	v.SetDefault("camera.stream_connect_timeout", defaultStreamConnect)
	v.SetDefault("camera.stream_read_timeout", defaultStreamRead)
	v.SetDefault("camera.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("camera.max_idle_conns_per_host", defaultMaxIdlePerHost)

	// Fetch defaults
	v.SetDefault("fetch.max_concurrent", defaultMaxConcurrent)
	v.SetDefault("fetch.interactive_ttl", defaultInteractiveTTL)
	v.SetDefault("fetch.cycle_ttl", defaultCycleTTL)
	v.SetDefault("fetch.stale_ttl", defaultStaleTTL)
	v.SetDefault("fetch.cache_ceiling", defaultCacheCeiling)
	v.SetDefault("fetch.overload_backoff", defaultOverloadBackoff)
	v.SetDefault("fetch.connection_backoff_cap", defaultConnBackoffCap)

	// Cycle defaults
	v.SetDefault("cycle.group_a", []int{2, 3, 4, 7, 11, 14})
	v.SetDefault("cycle.group_b", []int{1, 5, 10, 13, 14, 15})
	v.SetDefault("cycle.interval", defaultCycleInterval)
	v.SetDefault("cycle.refresh_interval", defaultCycleRefresh)

	// Prefetch defaults
	v.SetDefault("prefetch.enabled", false)
	v.SetDefault("prefetch.single_interval", defaultSingleInterval)
	v.SetDefault("prefetch.grid_interval", defaultGridInterval)

	// Stream defaults
	v.SetDefault("stream.stall_threshold", defaultStallThreshold)
	v.SetDefault("stream.jpeg_quality", defaultStreamJPEGQuality)

	// Detector defaults
	v.SetDefault("detector.enabled", false)
	v.SetDefault("detector.endpoint", "http://localhost:8081")
	v.SetDefault("detector.timeout", defaultDetectorTimeout)
	v.SetDefault("detector.stream_interval", defaultDetectorInterval)
	v.SetDefault("detector.jpeg_quality", defaultJPEGQuality)
	v.SetDefault("detector.default_threshold", 0.50)
	v.SetDefault("detector.thresholds", map[string]float64{
		"person":  0.20,
		"bicycle": 0.40,
		"car":     0.35,
		"bus":     0.35,
		"train":   0.35,
		"truck":   0.35,
	})

	// Forwarder defaults
	v.SetDefault("forwarder.enabled", false)
	v.SetDefault("forwarder.url", "")
	v.SetDefault("forwarder.interval", defaultForwardInterval)
	v.SetDefault("forwarder.timeout", defaultForwardTimeout)
	v.SetDefault("forwarder.retry_attempts", defaultForwardRetries)
	v.SetDefault("forwarder.retry_delay", defaultForwardRetryDelay)

	// Maintenance defaults
	v.SetDefault("maintenance.sweep_schedule", defaultSweepSchedule)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Camera validation
	u, err := url.Parse(c.Camera.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("camera.base_url must be an absolute http(s) URL")
	}
	if c.Camera.ConnectTimeout <= 0 || c.Camera.ReadTimeout <= 0 {
		return fmt.Errorf("camera.connect_timeout and camera.read_timeout must be positive")
	}
	if c.Camera.StreamConnectTimeout <= 0 || c.Camera.StreamReadTimeout <= 0 {
		return fmt.Errorf("camera.stream_connect_timeout and camera.stream_read_timeout must be positive")
	}

	// Fetch validation
	if c.Fetch.MaxConcurrent < 1 {
		return fmt.Errorf("fetch.max_concurrent must be at least 1")
	}
	if c.Fetch.StaleTTL > c.Fetch.CacheCeiling {
		return fmt.Errorf("fetch.stale_ttl must not exceed fetch.cache_ceiling")
	}

	// Cycle validation
	if len(c.Cycle.GroupA) == 0 || len(c.Cycle.GroupB) == 0 {
		return fmt.Errorf("cycle.group_a and cycle.group_b must not be empty")
	}
	for _, ch := range append(append([]int{}, c.Cycle.GroupA...), c.Cycle.GroupB...) {
		if ch < 1 || ch > 16 {
			return fmt.Errorf("cycle groups may only contain channels 1-16, got %d", ch)
		}
	}
	if c.Cycle.Interval <= 0 {
		return fmt.Errorf("cycle.interval must be positive")
	}

	// Detector validation
	if c.Detector.Enabled && c.Detector.Endpoint == "" {
		return fmt.Errorf("detector.endpoint is required when the detector is enabled")
	}
	if c.Detector.JPEGQuality < 1 || c.Detector.JPEGQuality > 100 {
		return fmt.Errorf("detector.jpeg_quality must be between 1 and 100")
	}

	// Forwarder validation
	if c.Forwarder.Enabled && c.Forwarder.URL == "" {
		return fmt.Errorf("forwarder.url is required when the forwarder is enabled")
	}
	if c.Forwarder.RetryAttempts < 0 {
		return fmt.Errorf("forwarder.retry_attempts must not be negative, got %d", c.Forwarder.RetryAttempts)
	}

	if c.Maintenance.SweepSchedule == "" {
		return fmt.Errorf("maintenance.sweep_schedule is required")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
