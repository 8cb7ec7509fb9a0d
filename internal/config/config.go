// Package config handles loading and validating Beacon configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Beacon.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.beacon/data. Override: BEACON_DATA_DIR env var.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default (derived from data dir)
	Scheduler     SchedulerConfig      `json:"scheduler" yaml:"scheduler"`
	Dispatch      DispatchConfig       `json:"dispatch" yaml:"dispatch"`
	Maintenance   MaintenanceConfig    `json:"maintenance" yaml:"maintenance"`
	Notification  NotificationConfig   `json:"notification" yaml:"notification"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = metrics only, no tracing
	Logging       LoggingConfig        `json:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr        string   `json:"listen_addr" yaml:"listen_addr"`                 // Default: ":8080".
	APIKeys           []string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`   // Empty = unauthenticated (local use). Override/append: BEACON_API_KEY env var.
	RateLimitPerMin   int      `json:"rate_limit_per_min" yaml:"rate_limit_per_min"`   // Per-client request budget. Default: 120. 0 < disabled is not supported; -1 disables.
	ShutdownTimeoutS  int      `json:"shutdown_timeout_s" yaml:"shutdown_timeout_s"`   // Graceful shutdown budget. Default: 15.
	ReadHeaderTimeout int      `json:"read_header_timeout" yaml:"read_header_timeout"` // Seconds. Default: 10.
}

// Addr returns the listen address, defaulting to ":8080".
func (s ServerConfig) Addr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// RateLimit returns the per-minute request budget. -1 disables limiting.
func (s ServerConfig) RateLimit() int {
	if s.RateLimitPerMin != 0 {
		return s.RateLimitPerMin
	}
	return 120
}

// ShutdownTimeout returns the graceful shutdown budget with a default of 15s.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	if s.ShutdownTimeoutS > 0 {
		return time.Duration(s.ShutdownTimeoutS) * time.Second
	}
	return 15 * time.Second
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN string `json:"dsn" yaml:"dsn"` // Override: BEACON_DB_DSN env var.
}

// SchedulerConfig tunes the autonomous execution loop. The schedule itself
// (enabled, frequency, channels) lives in the database and is managed over
// the API; this only tunes loop mechanics.
type SchedulerConfig struct {
	TickSeconds       int `json:"tick_seconds" yaml:"tick_seconds"`               // Due-ness re-evaluation cadence. Default: 60.
	RunTimeoutSeconds int `json:"run_timeout_seconds" yaml:"run_timeout_seconds"` // Hard cap on one run. Default: 1800.
}

// Tick returns the scheduler tick interval with a default of 60s.
func (s SchedulerConfig) Tick() time.Duration {
	if s.TickSeconds > 0 {
		return time.Duration(s.TickSeconds) * time.Second
	}
	return time.Minute
}

// RunTimeout returns the per-run timeout with a default of 30m.
func (s SchedulerConfig) RunTimeout() time.Duration {
	if s.RunTimeoutSeconds > 0 {
		return time.Duration(s.RunTimeoutSeconds) * time.Second
	}
	return 30 * time.Minute
}

// DispatchConfig tunes the suggestion delivery cycle.
type DispatchConfig struct {
	PollSeconds        int `json:"poll_seconds" yaml:"poll_seconds"`                 // Default: 10.
	MaxPerCycle        int `json:"max_per_cycle" yaml:"max_per_cycle"`               // Default: 20.
	SendTimeoutSeconds int `json:"send_timeout_seconds" yaml:"send_timeout_seconds"` // Per-suggestion fan-out budget. Default: 30.
}

// Poll returns the dispatch poll interval with a default of 10s.
func (d DispatchConfig) Poll() time.Duration {
	if d.PollSeconds > 0 {
		return time.Duration(d.PollSeconds) * time.Second
	}
	return 10 * time.Second
}

// PerCycle returns the per-poll processing cap with a default of 20.
func (d DispatchConfig) PerCycle() int {
	if d.MaxPerCycle > 0 {
		return d.MaxPerCycle
	}
	return 20
}

// SendTimeout returns the per-suggestion fan-out budget with a default of 30s.
func (d DispatchConfig) SendTimeout() time.Duration {
	if d.SendTimeoutSeconds > 0 {
		return time.Duration(d.SendTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// MaintenanceConfig tunes the built-in run workload.
type MaintenanceConfig struct {
	DigestWindowHours int `json:"digest_window_hours" yaml:"digest_window_hours"` // Lookahead for the upcoming digest. Default: 24.
	RetentionDays     int `json:"retention_days" yaml:"retention_days"`           // Delivered suggestion retention. Default: 30.
}

// DigestWindow returns the digest lookahead with a default of 24h.
func (m MaintenanceConfig) DigestWindow() time.Duration {
	if m.DigestWindowHours > 0 {
		return time.Duration(m.DigestWindowHours) * time.Hour
	}
	return 24 * time.Hour
}

// Retention returns the delivered-suggestion retention with a default of 30 days.
func (m MaintenanceConfig) Retention() time.Duration {
	if m.RetentionDays > 0 {
		return time.Duration(m.RetentionDays) * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// NotificationConfig configures the delivery channels. A channel with no
// credentials configured here simply reports itself unconfigured at send
// time; targets are chosen per schedule/suggestion, not here.
type NotificationConfig struct {
	SendTimeoutSeconds int          `json:"send_timeout_seconds" yaml:"send_timeout_seconds"` // Per-channel send budget. Default: 15.
	Ntfy               *NtfyConfig  `json:"ntfy,omitempty" yaml:"ntfy,omitempty"`             // nil = public ntfy.sh, no auth.
	Slack              *SlackConfig `json:"slack,omitempty" yaml:"slack,omitempty"`           // nil = Slack channel disabled.
	SMTP               *SMTPConfig  `json:"smtp,omitempty" yaml:"smtp,omitempty"`             // nil = email channel disabled.
}

// SendTimeout returns the per-channel send budget with a default of 15s.
func (n NotificationConfig) SendTimeout() time.Duration {
	if n.SendTimeoutSeconds > 0 {
		return time.Duration(n.SendTimeoutSeconds) * time.Second
	}
	return 15 * time.Second
}

// NtfyConfig holds ntfy server settings.
type NtfyConfig struct {
	Server    string `json:"server,omitempty" yaml:"server,omitempty"` // Default: https://ntfy.sh.
	AuthToken string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`
}

// SlackConfig holds Slack bot credentials.
type SlackConfig struct {
	BotToken string `json:"bot_token" yaml:"bot_token"` // Override: SLACK_BOT_TOKEN env var.
}

// SMTPConfig holds email delivery settings.
type SMTPConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"` // Default: 587.
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"` // Override: SMTP_PASSWORD env var.
	From     string `json:"from" yaml:"from"`
	TLS      bool   `json:"tls" yaml:"tls"` // Implicit TLS (port 465 style) instead of STARTTLS.
}

// ObservabilityConfig configures tracing. Prometheus metrics are always on;
// the OTLP exporter is opt-in.
type ObservabilityConfig struct {
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "beacon"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // "debug", "info" (default), "warn", "error".
	Format string `json:"format" yaml:"format"` // "json" (default) or "text".
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/beacon.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".beacon", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Credentials can be set in the config file or overridden by
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the zero-file configuration: SQLite under the data dir,
// unauthenticated API on :8080, notifications via public ntfy.sh.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides applies environment variables on top of file values.
func (c *Config) applyEnvOverrides() {
	if envDD := os.Getenv("BEACON_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envKey := os.Getenv("BEACON_API_KEY"); envKey != "" {
		c.Server.APIKeys = append(c.Server.APIKeys, envKey)
	}
	if envDSN := os.Getenv("BEACON_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
	if envTok := os.Getenv("SLACK_BOT_TOKEN"); envTok != "" {
		if c.Notification.Slack == nil {
			c.Notification.Slack = &SlackConfig{}
		}
		c.Notification.Slack.BotToken = envTok
	}
	if envTok := os.Getenv("NTFY_AUTH_TOKEN"); envTok != "" {
		if c.Notification.Ntfy == nil {
			c.Notification.Ntfy = &NtfyConfig{}
		}
		c.Notification.Ntfy.AuthToken = envTok
	}
	if envPw := os.Getenv("SMTP_PASSWORD"); envPw != "" {
		if c.Notification.SMTP != nil {
			c.Notification.SMTP.Password = envPw
		}
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".beacon", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "beacon.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	switch c.StorageDriverName() {
	case "sqlite":
	case "postgres":
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage driver postgres requires storage.postgres.dsn (or BEACON_DB_DSN)")
		}
	default:
		return fmt.Errorf("unknown storage driver %q (allowed: sqlite, postgres)", c.StorageDriverName())
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q (allowed: debug, info, warn, error)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log format %q (allowed: json, text)", c.Logging.Format)
	}

	if obs := c.Observability; obs != nil && obs.Tracing != nil && obs.Tracing.Enabled {
		if obs.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing enabled but no endpoint configured")
		}
		if obs.Tracing.SampleRate < 0 || obs.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing sample_rate %v out of range [0, 1]", obs.Tracing.SampleRate)
		}
	}

	if smtp := c.Notification.SMTP; smtp != nil {
		if smtp.Host == "" {
			return fmt.Errorf("smtp configured without host")
		}
		if smtp.From == "" {
			return fmt.Errorf("smtp configured without from address")
		}
	}

	if c.Server.RateLimitPerMin < -1 {
		return fmt.Errorf("rate_limit_per_min must be -1 (disabled) or positive, got %d", c.Server.RateLimitPerMin)
	}

	return nil
}
