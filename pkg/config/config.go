// Package config loads clustergate member configuration from a YAML file,
// CLUSTERGATE_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/clustergate/internal/bytesize"
	"github.com/marmos91/clustergate/pkg/api"
	"github.com/marmos91/clustergate/pkg/controlplane/store"
)

// EnvPrefix prefixes every environment override, e.g. CLUSTERGATE_LOGGING_LEVEL.
const EnvPrefix = "CLUSTERGATE"

// Security backend names accepted in security.backend.
const (
	BackendNone     = "none"
	BackendToken    = "token"
	BackendKerberos = "kerberos"
	BackendPassword = "password"
	BackendChain    = "chain"
)

// Config is the complete member configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Server configures the member protocol listener
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Group is the cluster group used when no security backend is configured
	Group GroupConfig `mapstructure:"group" yaml:"group"`

	// Security selects and configures the pluggable security backend
	Security SecurityConfig `mapstructure:"security" yaml:"security"`

	// Engine sizes the asynchronous operation engine
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`

	// Database configures the control plane store (users, audit trail)
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Audit controls persistence of admission events
	Audit AuditConfig `mapstructure:"audit" yaml:"audit"`

	// Metrics controls Prometheus collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API configures the admin HTTP server
	API api.APIConfig `mapstructure:"api" yaml:"api"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of traces sampled (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`

	// Profiling controls continuous profiling
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether profiling is active.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes lists the profiles to collect.
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	// goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// ServerConfig configures the member protocol listener.
type ServerConfig struct {
	// BindAddress is the IP address to listen on. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip" yaml:"bind_address,omitempty"`

	// Port is the member protocol TCP port.
	// Default: 5701
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// MaxConnections limits concurrent client connections. 0 is unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0" yaml:"max_connections"`

	// MaxFrameSize bounds inbound request frames.
	// Default: 1Mi
	MaxFrameSize bytesize.ByteSize `mapstructure:"max_frame_size" validate:"gt=0" yaml:"max_frame_size"`

	// MetricsLogInterval periodically logs connection counts. 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval,omitempty"`

	// Timeouts bound connection I/O
	Timeouts ServerTimeouts `mapstructure:"timeouts" yaml:"timeouts"`
}

// ServerTimeouts bounds member connection I/O. Zero disables a timeout.
type ServerTimeouts struct {
	// Write bounds writing a single response.
	// Default: 30s
	Write time.Duration `mapstructure:"write" validate:"gte=0" yaml:"write"`

	// Idle bounds the wait for the next request.
	// Default: 5m
	Idle time.Duration `mapstructure:"idle" validate:"gte=0" yaml:"idle"`
}

// GroupConfig is the cluster group identity admitted by the fallback path.
type GroupConfig struct {
	// Name is the cluster group name. Compared case-sensitively.
	// Default: "dev"
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Password is the cluster group password.
	// Default: "dev-pass"
	Password string `mapstructure:"password" yaml:"password"`
}

// SecurityConfig selects the security backend.
type SecurityConfig struct {
	// Backend names the backend. "none" admits by group name and password.
	// Valid values: none, token, kerberos, password, chain
	// Default: "none"
	Backend string `mapstructure:"backend" validate:"required,oneof=none token kerberos password chain" yaml:"backend"`

	// Chain lists the backends tried in order when Backend is "chain".
	Chain []string `mapstructure:"chain" validate:"omitempty,dive,oneof=token kerberos password" yaml:"chain,omitempty"`

	// Token configures JWT member tokens
	Token TokenConfig `mapstructure:"token" yaml:"token,omitempty"`

	// Kerberos configures AP-REQ verification
	Kerberos KerberosConfig `mapstructure:"kerberos" yaml:"kerberos,omitempty"`
}

// TokenConfig configures the token backend.
type TokenConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	// Override: CLUSTERGATE_SECURITY_TOKEN_SECRET
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`

	// Issuer is the token issuer claim.
	// Default: "clustergate"
	Issuer string `mapstructure:"issuer" yaml:"issuer,omitempty"`

	// TTL is the lifetime of issued tokens.
	// Default: 1h
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl,omitempty"`
}

// KerberosConfig configures the Kerberos backend.
type KerberosConfig struct {
	// KeytabPath is the keytab holding the service principal key.
	// Override: CLUSTERGATE_KERBEROS_KEYTAB
	KeytabPath string `mapstructure:"keytab_path" yaml:"keytab_path,omitempty"`

	// ServicePrincipal is the SPN, e.g. clustergate/member1.example.com@EXAMPLE.COM
	// Override: CLUSTERGATE_KERBEROS_PRINCIPAL
	ServicePrincipal string `mapstructure:"service_principal" yaml:"service_principal,omitempty"`

	// MaxClockSkew is the tolerated client clock drift.
	// Default: 5m
	MaxClockSkew time.Duration `mapstructure:"max_clock_skew" yaml:"max_clock_skew,omitempty"`
}

// EngineConfig sizes the operation engine.
type EngineConfig struct {
	// Partitions is the number of partition workers.
	// Default: 8
	Partitions int `mapstructure:"partitions" validate:"gte=1" yaml:"partitions"`

	// QueueSize is the per-partition queue capacity.
	// Default: 1024
	QueueSize int `mapstructure:"queue_size" validate:"gte=1" yaml:"queue_size"`
}

// AuditConfig controls the admission audit trail.
type AuditConfig struct {
	// Enabled persists every admission decision to the control plane store.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Buffer is the number of events queued before new ones are dropped.
	// Default: 1024
	Buffer int `mapstructure:"buffer" validate:"gte=0" yaml:"buffer"`

	// Retention prunes events older than this. 0 keeps everything.
	Retention time.Duration `mapstructure:"retention" validate:"gte=0" yaml:"retention"`
}

// MetricsConfig controls Prometheus metrics, served on the API at /metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CLUSTERGATE_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location. A missing file yields the
// default configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, failing with instructions when the file does
// not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  clustergate config init\n\n"+
				"Or specify a custom config file:\n"+
				"  clustergate <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  clustergate config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML with owner-only permissions, since
// the file may hold the group password and token secret.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// CLUSTERGATE_GROUP_NAME=prod overrides group.name
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reports whether a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings like "1Mi" or "512KB" and plain numbers
// to bytesize.ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" to time.Duration. Raw
// integers are nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir uses XDG_CONFIG_HOME, then ~/.config, then the current
// directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "clustergate")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "clustergate")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
