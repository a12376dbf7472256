package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server        ServerConfig        `toml:"server"`        // HTTP server settings
	Logging       LoggingConfig       `toml:"logging"`       // Application logging settings
	Storage       StorageConfig       `toml:"storage"`       // Audit persistence settings
	Subscriptions SubscriptionsConfig `toml:"subscriptions"` // Real-time fan-out settings
	Commands      CommandsConfig      `toml:"commands"`      // Command lifecycle settings
	Telemetry     TelemetryConfig     `toml:"telemetry"`     // Telemetry ingest settings
	Conflicts     ConflictsConfig     `toml:"conflicts"`     // Conflict detection settings
	Redis         RedisConfig         `toml:"redis"`         // Optional live location mirror
	Simulation    SimulationConfig    `toml:"simulation"`    // Development drone simulator
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains audit persistence configuration
type StorageConfig struct {
	SQLitePath     string `toml:"sqlite_path"`      // SQLite database file for command/conflict audit and airspace zones
	AuditQueueSize int    `toml:"audit_queue_size"` // Pending audit records buffered before new ones are dropped
}

// SubscriptionsConfig contains per-connection queue settings
type SubscriptionsConfig struct {
	QueueSize  int    `toml:"queue_size"`  // Outbound events buffered per connection
	DropPolicy string `toml:"drop_policy"` // "drop_newest" (default) or "drop_oldest" when a queue is full
}

// CommandsConfig contains command lifecycle settings
type CommandsConfig struct {
	IssueRatePerSecond float64 `toml:"issue_rate_per_second"` // Sustained commands per second per drone (0 = unlimited)
	IssueBurst         int     `toml:"issue_burst"`           // Burst allowance per drone
}

// TelemetryConfig contains telemetry ingest settings
type TelemetryConfig struct {
	HistorySize                  int  `toml:"history_size"`                        // Points retained per flight for display
	SignalLostTimeoutSecs        int  `toml:"signal_lost_timeout_seconds"`         // Silence after which an airborne drone is marked lost (0 = disabled)
	MagneticHeading              bool `toml:"magnetic_heading"`                    // Derive magnetic heading from true heading using WMM
	UnknownFlightLogIntervalSecs int  `toml:"unknown_flight_log_interval_seconds"` // Minimum interval between warnings for the same unknown flight
}

// ConflictsConfig contains conflict detection settings
type ConflictsConfig struct {
	IntervalMs            int     `toml:"interval_ms"`             // Evaluation cadence
	HorizontalSeparationM float64 `toml:"horizontal_separation_m"` // Minimum horizontal separation between flights
	VerticalSeparationM   float64 `toml:"vertical_separation_m"`   // Minimum vertical separation between flights
	ZoneBufferM           float64 `toml:"zone_buffer_m"`           // Proximity buffer around restricted zones
	ResolvedRetention     int     `toml:"resolved_retention"`      // Resolved conflicts kept in memory for audit queries
}

// RedisConfig contains the optional drone location mirror
type RedisConfig struct {
	Enabled            bool   `toml:"enabled"`
	Addr               string `toml:"addr"`
	Password           string `toml:"password"`
	DB                 int    `toml:"db"`
	LocationTTLSeconds int    `toml:"location_ttl_seconds"`
}

// SimulationConfig contains development simulator settings
type SimulationConfig struct {
	Enabled   bool `toml:"enabled"`
	TickMs    int  `toml:"tick_ms"`
	MaxDrones int  `toml:"max_drones"`
}

const (
	DropNewest = "drop_newest"
	DropOldest = "drop_oldest"
)

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	// .env is optional; real environment variables still win over it
	_ = godotenv.Load()
	if err := config.applyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// applyEnv overlays UTM_* variables on top of the file configuration
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("UTM_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := getenv("UTM_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UTM_SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("UTM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("UTM_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := getenv("UTM_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("UTM_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = 15
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/co-utm.db"
	}
	if c.Storage.AuditQueueSize == 0 {
		c.Storage.AuditQueueSize = 1024
	}
	if c.Subscriptions.QueueSize == 0 {
		c.Subscriptions.QueueSize = 256
	}
	if c.Subscriptions.DropPolicy == "" {
		c.Subscriptions.DropPolicy = DropNewest
	}
	if c.Commands.IssueBurst == 0 {
		c.Commands.IssueBurst = 5
	}
	if c.Telemetry.HistorySize == 0 {
		c.Telemetry.HistorySize = 300
	}
	if c.Telemetry.UnknownFlightLogIntervalSecs == 0 {
		c.Telemetry.UnknownFlightLogIntervalSecs = 30
	}
	if c.Conflicts.IntervalMs == 0 {
		c.Conflicts.IntervalMs = 1000
	}
	if c.Conflicts.HorizontalSeparationM == 0 {
		c.Conflicts.HorizontalSeparationM = 150
	}
	if c.Conflicts.VerticalSeparationM == 0 {
		c.Conflicts.VerticalSeparationM = 30
	}
	if c.Conflicts.ZoneBufferM == 0 {
		c.Conflicts.ZoneBufferM = 100
	}
	if c.Conflicts.ResolvedRetention == 0 {
		c.Conflicts.ResolvedRetention = 1000
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.LocationTTLSeconds == 0 {
		c.Redis.LocationTTLSeconds = 120
	}
	if c.Simulation.TickMs == 0 {
		c.Simulation.TickMs = 1000
	}
	if c.Simulation.MaxDrones == 0 {
		c.Simulation.MaxDrones = 10
	}
}

// Validate fills in defaults and validates the configuration
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 || c.Server.IdleTimeoutSecs < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s (must be console or json)", c.Logging.Format)
	}

	if c.Storage.AuditQueueSize < 0 {
		return fmt.Errorf("invalid audit_queue_size: %d", c.Storage.AuditQueueSize)
	}

	if c.Subscriptions.QueueSize < 1 {
		return fmt.Errorf("invalid subscriptions queue_size: %d (must be >= 1)", c.Subscriptions.QueueSize)
	}
	if c.Subscriptions.DropPolicy != DropNewest && c.Subscriptions.DropPolicy != DropOldest {
		return fmt.Errorf("invalid drop_policy: %s (must be %s or %s)", c.Subscriptions.DropPolicy, DropNewest, DropOldest)
	}

	if c.Commands.IssueRatePerSecond < 0 {
		return fmt.Errorf("invalid issue_rate_per_second: %f", c.Commands.IssueRatePerSecond)
	}
	if c.Commands.IssueBurst < 1 {
		return fmt.Errorf("invalid issue_burst: %d (must be >= 1)", c.Commands.IssueBurst)
	}

	if c.Telemetry.HistorySize < 1 {
		return fmt.Errorf("invalid telemetry history_size: %d", c.Telemetry.HistorySize)
	}
	if c.Telemetry.SignalLostTimeoutSecs < 0 {
		return fmt.Errorf("invalid signal_lost_timeout_seconds: %d", c.Telemetry.SignalLostTimeoutSecs)
	}

	if c.Conflicts.IntervalMs < 10 {
		return fmt.Errorf("invalid conflicts interval_ms: %d (must be >= 10)", c.Conflicts.IntervalMs)
	}
	if c.Conflicts.HorizontalSeparationM <= 0 || c.Conflicts.VerticalSeparationM <= 0 {
		return fmt.Errorf("separation minima must be positive")
	}
	if c.Conflicts.ZoneBufferM < 0 {
		return fmt.Errorf("invalid zone_buffer_m: %f", c.Conflicts.ZoneBufferM)
	}

	if c.Simulation.TickMs < 10 {
		return fmt.Errorf("invalid simulation tick_ms: %d", c.Simulation.TickMs)
	}

	return nil
}

// ConflictInterval returns the conflict evaluation cadence
func (c *Config) ConflictInterval() time.Duration {
	return time.Duration(c.Conflicts.IntervalMs) * time.Millisecond
}

// SignalLostTimeout returns the telemetry silence threshold
func (c *Config) SignalLostTimeout() time.Duration {
	return time.Duration(c.Telemetry.SignalLostTimeoutSecs) * time.Second
}

// SimulationTick returns the simulator step interval
func (c *Config) SimulationTick() time.Duration {
	return time.Duration(c.Simulation.TickMs) * time.Millisecond
}
