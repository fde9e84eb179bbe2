package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord          DiscordConfig        `yaml:"discord"`
	Database         DatabaseConfig       `yaml:"database"`
	Server           ServerConfig         `yaml:"server"`
	Telemetry        TelemetryConfig      `yaml:"telemetry"`
	LeaderElection   LeaderElectionConfig `yaml:"leader_election"`
	Resolver         ResolverConfig       `yaml:"resolver"`
	Broadcast        BroadcastConfig      `yaml:"broadcast"`
	OutcomeCacheSize int                  `yaml:"outcome_cache_size"`
}

// DiscordConfig holds Discord bot settings. An empty token disables the bot.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
	// Migrate applies the embedded schema on startup.
	Migrate bool `yaml:"migrate"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// ResolverConfig tunes the auto-bid competition resolver.
type ResolverConfig struct {
	// SettleDelay is how long a triggered pass waits so that bursts of
	// bids coalesce into one pass.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// PassTimeout bounds a single pass, including its store transaction.
	PassTimeout time.Duration `yaml:"pass_timeout"`
}

// BroadcastConfig selects where price changes and outcomes are announced.
// An empty channel ID keeps broadcasting in the log only.
type BroadcastConfig struct {
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "bidengine",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "bidengine-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Resolver: ResolverConfig{
			SettleDelay: time.Second,
			PassTimeout: 10 * time.Second,
		},
		OutcomeCacheSize: 1024,
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if c.Resolver.SettleDelay < 0 {
		return errors.New("resolver.settle_delay must not be negative")
	}
	if c.Resolver.PassTimeout <= 0 {
		return errors.New("resolver.pass_timeout must be positive")
	}
	if c.OutcomeCacheSize <= 0 {
		return errors.New("outcome_cache_size must be positive")
	}
	if c.Broadcast.ChannelID != "" && c.Discord.Token == "" {
		return errors.New("broadcast.channel_id requires discord.token")
	}
	return nil
}
