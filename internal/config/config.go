// Package config holds the broker's layered configuration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration tree.
type Config struct {
	App              AppConfig              `koanf:"app"`
	GRPC             GRPCConfig             `koanf:"grpc"`
	Log              LogConfig              `koanf:"log"`
	Metrics          MetricsConfig          `koanf:"metrics"`
	Tracing          TracingConfig          `koanf:"tracing"`
	Database         DatabaseConfig         `koanf:"database"`
	Discovery        DiscoveryConfig        `koanf:"discovery"`
	SchemaArchive    SchemaArchiveConfig    `koanf:"schema_archive"`
	EventBus         EventBusConfig         `koanf:"event_bus"`
	Callback         CallbackConfig         `koanf:"callback"`
	HealthGate       HealthGateConfig       `koanf:"health_gate"`
	SelfRegistration SelfRegistrationConfig `koanf:"self_registration"`
	RateLimit        RateLimitConfig        `koanf:"rate_limit"`
	Audit            AuditConfig            `koanf:"audit"`
	Retry            RetryConfig            `koanf:"retry"`
}

// AppConfig holds process-wide identity settings.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	Debug       bool   `koanf:"debug"`
}

// GRPCConfig configures the broker's own gRPC front door.
type GRPCConfig struct {
	Port              int             `koanf:"port"`
	MaxRecvMsgSize    int             `koanf:"max_recv_msg_size"`
	MaxSendMsgSize    int             `koanf:"max_send_msg_size"`
	MaxConcurrentConn int             `koanf:"max_concurrent_conn"`
	KeepAlive         KeepAliveConfig `koanf:"keepalive"`
	TLS               TLSConfig       `koanf:"tls"`
}

// KeepAliveConfig mirrors grpc/keepalive.ServerParameters.
type KeepAliveConfig struct {
	MaxConnectionIdle     time.Duration `koanf:"max_connection_idle"`
	MaxConnectionAge      time.Duration `koanf:"max_connection_age"`
	MaxConnectionAgeGrace time.Duration `koanf:"max_connection_age_grace"`
	Time                  time.Duration `koanf:"time"`
	Timeout               time.Duration `koanf:"timeout"`
}

// TLSConfig configures transport security for the front door.
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	CAFile   string `koanf:"ca_file"`
}

// LogConfig configures internal/logger.
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	Output     string `koanf:"output"`
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// DatabaseConfig configures C5's relational metadata store.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	MigrationsPath  string        `koanf:"migrations_path"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN builds the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	switch strings.ToLower(d.Driver) {
	case "postgres", "postgresql":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
		)
	default:
		return ""
	}
}

// DiscoveryConfig configures C2's connection to the Consul-style store.
type DiscoveryConfig struct {
	Address    string `koanf:"address"`
	Scheme     string `koanf:"scheme"`
	Datacenter string `koanf:"datacenter"`
	Token      string `koanf:"token"`
	TLSEnabled bool   `koanf:"tls_enabled"`
}

// SchemaArchiveConfig configures C6's HTTP client.
type SchemaArchiveConfig struct {
	BaseURL string        `koanf:"base_url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`
}

// EventBusConfig configures the Event Publisher's Kafka producer.
type EventBusConfig struct {
	Brokers            []string `koanf:"brokers"`
	ClientID           string   `koanf:"client_id"`
	TopicServiceReg    string   `koanf:"topic_service_registered"`
	TopicServiceUnreg  string   `koanf:"topic_service_unregistered"`
	TopicModuleReg     string   `koanf:"topic_module_registered"`
	TopicModuleUnreg   string   `koanf:"topic_module_unregistered"`
	RequiredAcks       int      `koanf:"required_acks"`
	PublishTimeoutSecs int      `koanf:"publish_timeout_seconds"`
}

// CallbackConfig configures C4's channel cache and flow control.
type CallbackConfig struct {
	ChannelIdleTTL        time.Duration `koanf:"channel_idle_ttl"`
	ChannelCapacity       int           `koanf:"channel_capacity"`
	DialTimeout           time.Duration `koanf:"dial_timeout"`
	InitialWindowSize     int32         `koanf:"initial_window_size"`
	InitialConnWindowSize int32         `koanf:"initial_conn_window_size"`
	GracefulCloseTimeout  time.Duration `koanf:"graceful_close_timeout"`
}

// HealthGateConfig configures C3's polling loop.
type HealthGateConfig struct {
	PollInterval   time.Duration `koanf:"poll_interval"`
	DefaultTimeout time.Duration `koanf:"default_timeout"`
}

// SelfRegistrationConfig describes how this process registers itself (spec §9).
type SelfRegistrationConfig struct {
	Enabled          bool   `koanf:"enabled"`
	Name             string `koanf:"name"`
	AdvertisedHost   string `koanf:"advertised_host"`
	AdvertisedPort   int    `koanf:"advertised_port"`
	InternalHost     string `koanf:"internal_host"`
	InternalPort     int    `koanf:"internal_port"`
	HealthPath       string `koanf:"health_path"`
	HealthCheckPort  int    `koanf:"health_check_port"`
}

// RateLimitConfig guards the Register/Unregister RPCs.
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Requests        int           `koanf:"requests"`
	Window          time.Duration `koanf:"window"`
	Strategy        string        `koanf:"strategy"`
	Backend         string        `koanf:"backend"`
	BurstSize       int           `koanf:"burst_size"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	RedisAddr       string        `koanf:"redis_addr"`
}

// AuditConfig configures the audit trail of registration lifecycle events.
type AuditConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Backend         string        `koanf:"backend"`
	FilePath        string        `koanf:"file_path"`
	BufferSize      int           `koanf:"buffer_size"`
	FlushPeriod     time.Duration `koanf:"flush_period"`
	ExcludeMethods  []string      `koanf:"exclude_methods"`
	IncludeRequest  bool          `koanf:"include_request"`
	IncludeResponse bool          `koanf:"include_response"`
}

// RetryConfig configures outbound client retry policy.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// Validate checks the configuration for consistency, aggregating every
// violation into a single error (teacher convention).
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Sprintf("grpc.port must be between 1 and 65535, got %d", c.GRPC.Port))
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}
	if c.Discovery.Address == "" {
		errs = append(errs, "discovery.address is required")
	}
	if c.SchemaArchive.BaseURL == "" {
		errs = append(errs, "schema_archive.base_url is required")
	}
	if c.HealthGate.DefaultTimeout <= 0 {
		errs = append(errs, "health_gate.default_timeout must be positive")
	}
	if c.Callback.ChannelCapacity <= 0 {
		errs = append(errs, "callback.channel_capacity must be positive")
	}
	if len(c.EventBus.Brokers) == 0 {
		errs = append(errs, "event_bus.brokers must have at least one entry")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsDevelopment reports whether the process runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the process runs in a production environment.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
