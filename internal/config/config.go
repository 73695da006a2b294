// Package config provides configuration management for the placement service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/notify"
	"github.com/limiquantix/placement/internal/placement"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Placement PlacementConfig `mapstructure:"placement"`
	Notify    notify.Config   `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds HTTP and gRPC server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the HTTP server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddress returns the gRPC listen address, or "" when gRPC is disabled.
func (c ServerConfig) GRPCAddress() string {
	if c.GRPCPort <= 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// StorageConfig selects the registry and ledger backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// SQLiteConfig holds the embedded database configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// EtcdConfig holds etcd configuration. When enabled, replicas share the
// round-robin cursor stored under CursorKey.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	CursorKey   string        `mapstructure:"cursor_key"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PlacementConfig holds allocation engine settings and the hosts loaded at startup.
type PlacementConfig struct {
	DefaultPolicy           string        `mapstructure:"default_policy"`
	SlowAllocationThreshold time.Duration `mapstructure:"slow_allocation_threshold"`
	SeedHosts               []SeedHost    `mapstructure:"seed_hosts"`
}

// SeedHost is a host registered at startup.
type SeedHost struct {
	ID       string  `mapstructure:"id"`
	CPUUsage float64 `mapstructure:"cpu_usage"`
	RAMUsage float64 `mapstructure:"ram_usage"`
	Status   string  `mapstructure:"status"`
}

// Engine returns the allocation engine configuration.
func (c PlacementConfig) Engine() placement.Config {
	return placement.Config{
		DefaultPolicy:           c.DefaultPolicy,
		SlowAllocationThreshold: c.SlowAllocationThreshold,
	}
}

// Hosts converts the seed set to domain hosts. Status defaults to active.
func (c PlacementConfig) Hosts() []*domain.Host {
	hosts := make([]*domain.Host, 0, len(c.SeedHosts))
	for _, s := range c.SeedHosts {
		status := domain.HostStatus(s.Status)
		if status == "" {
			status = domain.HostStatusActive
		}
		hosts = append(hosts, &domain.Host{
			ID:       s.ID,
			CPUUsage: s.CPUUsage,
			RAMUsage: s.RAMUsage,
			Status:   status,
		})
	}
	return hosts
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("placement")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("PLACEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageMemory, StoragePostgres, StorageSQLite:
	default:
		return fmt.Errorf("%w: unknown storage backend %q", domain.ErrInvalidArgument, c.Storage.Backend)
	}

	switch c.Placement.DefaultPolicy {
	case placement.PolicyRoundRobin, placement.PolicyLeastConnections, placement.PolicyWeighted:
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownPolicy, c.Placement.DefaultPolicy)
	}

	seen := make(map[string]bool, len(c.Placement.SeedHosts))
	for _, h := range c.Placement.Hosts() {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("invalid seed host %q: %w", h.ID, err)
		}
		if seen[h.ID] {
			return fmt.Errorf("%w: duplicate seed host %q", domain.ErrInvalidArgument, h.ID)
		}
		seen[h.ID] = true
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Storage
	v.SetDefault("storage.backend", StorageMemory)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "placement")
	v.SetDefault("database.user", "placement")
	v.SetDefault("database.password", "placement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// SQLite
	v.SetDefault("sqlite.path", "placement.db")

	// etcd
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.cursor_key", "/placement/round_robin_cursor")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "events:allocation")

	// Placement
	v.SetDefault("placement.default_policy", placement.PolicyWeighted)
	v.SetDefault("placement.slow_allocation_threshold", "500ms")

	// Notify
	v.SetDefault("notify.queue_size", 64)
	v.SetDefault("notify.delivery_timeout", "5s")
	v.SetDefault("notify.webhook_url", "")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", true)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
