package config

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Hass      HassConfig      `yaml:"hass"`
	Agent     AgentDefaults   `yaml:"agent"`
	Exposure  ExposureConfig  `yaml:"exposure"`
	Auth      AuthConfig      `yaml:"auth"`
	Probe     ProbeConfig     `yaml:"probe"`
	Entries   []EntrySeed     `yaml:"entries"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Enabled reports whether a database is configured. Without one, config
// entries live in memory only.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != "" || d.Host != ""
}

// DSN returns a plain libpq connection string, usable by the migrator as
// well as by pgx. Pool sizing lives in PoolConfig.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
}

// PoolConfig parses DSN and applies the pool limits on top of it.
func (d DatabaseConfig) PoolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(d.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if d.MaxOpenConns > 0 {
		pc.MaxConns = int32(d.MaxOpenConns)
	}
	if d.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = d.ConnMaxLifetime
	}
	return pc, nil
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// HassConfig points at the Home Assistant REST API used to read entity states.
type HassConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// AgentDefaults apply to every configured agent.
type AgentDefaults struct {
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	MaxHistory         int           `yaml:"max_history"`
	ContextEntityLimit int           `yaml:"context_entity_limit"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	MaxSessions        int           `yaml:"max_sessions"`
}

type ExposureConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

// AuthConfig lists SHA-256 hashes of the access tokens accepted on the API.
// An empty list disables inbound authentication.
type AuthConfig struct {
	TokenHashes []string `yaml:"token_hashes"`
}

type ProbeConfig struct {
	Address string `yaml:"address"`
}

// EntrySeed is a config entry created at startup when no entry with the same
// name exists yet.
type EntrySeed struct {
	Name         string   `yaml:"name"`
	APIKey       string   `yaml:"api_key"`
	BaseURL      string   `yaml:"base_url"`
	Model        string   `yaml:"model"`
	MaxTokens    int      `yaml:"max_tokens"`
	Temperature  *float64 `yaml:"temperature"`
	Language     string   `yaml:"language"`
	SystemPrompt string   `yaml:"system_prompt"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Port:            5432,
			Name:            "hass_agent",
			User:            "hass_agent",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:       0,
			PoolSize: 10,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Hass: HassConfig{
			URL:     "http://homeassistant.local:8123",
			Timeout: 10 * time.Second,
		},
		Agent: AgentDefaults{
			RequestTimeout:     DefaultRequestTimeout,
			MaxHistory:         DefaultMaxHistory,
			ContextEntityLimit: 25,
			SessionIdleTimeout: DefaultSessionIdleTimeout,
			MaxSessions:        DefaultMaxSessions,
		},
		Exposure: ExposureConfig{
			Enabled:           false,
			BundlePath:        "/etc/hass-agent/policies",
			EvaluationTimeout: 100 * time.Millisecond,
		},
		Probe: ProbeConfig{
			Address: ":9091",
		},
	}
}
