package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "BROKER_"
	configEnvVar = "CONFIG_PATH"
)

// Loader assembles a Config from defaults, an optional YAML file, and
// environment overrides, in that priority order.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader builds a Loader with the broker's default search paths.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/regbroker/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the file search paths.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix overrides the environment-variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load layers defaults, config file, and environment (highest priority),
// then unmarshals and validates the result.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"app.name":        "regbroker",
		"app.version":     "0.1.0",
		"app.environment": "development",
		"app.debug":       false,

		"grpc.port":                               50051,
		"grpc.max_recv_msg_size":                  16 * 1024 * 1024,
		"grpc.max_send_msg_size":                  16 * 1024 * 1024,
		"grpc.max_concurrent_conn":                1000,
		"grpc.keepalive.max_connection_idle":      15 * time.Minute,
		"grpc.keepalive.max_connection_age":       30 * time.Minute,
		"grpc.keepalive.max_connection_age_grace": 5 * time.Minute,
		"grpc.keepalive.time":                     5 * time.Minute,
		"grpc.keepalive.timeout":                  20 * time.Second,
		"grpc.tls.enabled":                        false,

		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "regbroker",
		"metrics.subsystem": "",

		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "regbroker",
		"tracing.sample_rate":  0.1,

		"database.driver":             "postgres",
		"database.host":               "localhost",
		"database.port":               5432,
		"database.database":           "regbroker",
		"database.username":           "postgres",
		"database.password":           "",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  5 * time.Minute,
		"database.conn_max_idle_time": 5 * time.Minute,
		"database.migrations_path":    "migrations",
		"database.auto_migrate":       true,

		"discovery.address":     "127.0.0.1:8500",
		"discovery.scheme":      "http",
		"discovery.datacenter":  "",
		"discovery.token":       "",
		"discovery.tls_enabled": false,

		"schema_archive.base_url": "http://127.0.0.1:8080/apis/registry/v2",
		"schema_archive.token":    "",
		"schema_archive.timeout":  10 * time.Second,

		"event_bus.brokers":                   []string{"127.0.0.1:9092"},
		"event_bus.client_id":                 "regbroker",
		"event_bus.topic_service_registered":  "broker.service.registered",
		"event_bus.topic_service_unregistered": "broker.service.unregistered",
		"event_bus.topic_module_registered":   "broker.module.registered",
		"event_bus.topic_module_unregistered": "broker.module.unregistered",
		"event_bus.required_acks":             1,
		"event_bus.publish_timeout_seconds":   5,

		"callback.channel_idle_ttl":         10 * time.Minute,
		"callback.channel_capacity":         256,
		"callback.dial_timeout":             5 * time.Second,
		"callback.initial_window_size":      100 * 1024 * 1024,
		"callback.initial_conn_window_size": 100 * 1024 * 1024,
		"callback.graceful_close_timeout":   500 * time.Millisecond,

		"health_gate.poll_interval":   1 * time.Second,
		"health_gate.default_timeout": 30 * time.Second,

		"self_registration.enabled":           true,
		"self_registration.name":              "regbroker",
		"self_registration.advertised_host":   "127.0.0.1",
		"self_registration.advertised_port":   50051,
		"self_registration.health_path":       "/healthz",
		"self_registration.health_check_port": 50051,

		"rate_limit.enabled":          true,
		"rate_limit.requests":         100,
		"rate_limit.window":           time.Minute,
		"rate_limit.strategy":         "sliding_window",
		"rate_limit.backend":          "memory",
		"rate_limit.burst_size":       10,
		"rate_limit.cleanup_interval": 5 * time.Minute,

		"audit.enabled":          true,
		"audit.backend":          "stdout",
		"audit.buffer_size":      1000,
		"audit.flush_period":     5 * time.Second,
		"audit.include_request":  false,
		"audit.include_response": false,

		"retry.max_attempts":       3,
		"retry.initial_backoff":    100 * time.Millisecond,
		"retry.max_backoff":        10 * time.Second,
		"retry.backoff_multiplier": 2.0,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, l.envPrefix)),
			"_", ".",
		)
	}), nil)
}

// MustLoad loads the configuration or panics, used by cmd/broker at startup.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load is the convenience entry point with default search paths/env prefix.
func Load() (*Config, error) {
	return NewLoader().Load()
}
