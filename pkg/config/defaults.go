package config

import (
	"strings"
	"time"

	"github.com/marmos91/clustergate/internal/bytesize"
	"github.com/marmos91/clustergate/internal/telemetry"
	"github.com/marmos91/clustergate/pkg/api"
	"github.com/marmos91/clustergate/pkg/controlplane/store"
)

// Defaults for the member listener and the fallback cluster group.
const (
	DefaultPort          = 5701
	DefaultGroupName     = "dev"
	DefaultGroupPassword = "dev-pass"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyServerDefaults(&cfg.Server)
	applyGroupDefaults(&cfg.Group)
	applySecurityDefaults(&cfg.Security)
	applyEngineDefaults(&cfg.Engine)
	applyDatabaseDefaults(&cfg.Database)
	applyAuditDefaults(&cfg.Audit)
	applyAPIDefaults(&cfg.API)
}

// applyLoggingDefaults sets logging defaults and normalizes the level to
// uppercase.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = append([]string(nil), telemetry.DefaultProfileTypes...)
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = bytesize.MiB
	}
	if cfg.Timeouts.Write == 0 {
		cfg.Timeouts.Write = 30 * time.Second
	}
	if cfg.Timeouts.Idle == 0 {
		cfg.Timeouts.Idle = 5 * time.Minute
	}
}

// applyGroupDefaults uses the well-known development group. Password is only
// defaulted together with the name so an explicit empty password survives.
func applyGroupDefaults(cfg *GroupConfig) {
	if cfg.Name == "" {
		cfg.Name = DefaultGroupName
		if cfg.Password == "" {
			cfg.Password = DefaultGroupPassword
		}
	}
}

func applySecurityDefaults(cfg *SecurityConfig) {
	if cfg.Backend == "" {
		cfg.Backend = BackendNone
	}
	cfg.Backend = strings.ToLower(cfg.Backend)

	if cfg.Token.Issuer == "" {
		cfg.Token.Issuer = "clustergate"
	}
	if cfg.Token.TTL == 0 {
		cfg.Token.TTL = time.Hour
	}
	if cfg.Kerberos.MaxClockSkew == 0 {
		cfg.Kerberos.MaxClockSkew = 5 * time.Minute
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.Partitions == 0 {
		cfg.Partitions = 8
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
}

func applyDatabaseDefaults(cfg *store.Config) {
	cfg.ApplyDefaults()
}

func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.Buffer == 0 {
		cfg.Buffer = 1024
	}
}

// applyAPIDefaults sets admin API defaults. The API is enabled unless
// explicitly disabled.
func applyAPIDefaults(cfg *api.APIConfig) {
	cfg.ApplyDefaults()
}

// GetDefaultConfig returns a Config with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
