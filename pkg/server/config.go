package server

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server      ServerSection      `toml:"server"`
	Limits      LimitsSection      `toml:"limits"`
	Credentials CredentialsSection `toml:"credentials"`
	Logging     LoggingSection     `toml:"logging"`
}

type ServerSection struct {
	TCPPort     int    `toml:"tcp_port"`
	SSHPort     int    `toml:"ssh_port"`
	HTTPPort    int    `toml:"http_port"`
	MetricsPort int    `toml:"metrics_port"`
	SSHHostKey  string `toml:"ssh_host_key"`
}

type LimitsSection struct {
	BlockDuration     Duration `toml:"block_duration"`
	RecentWindow      Duration `toml:"recent_window"`
	IdleTimeout       Duration `toml:"idle_timeout"`
	IdleSweepInterval Duration `toml:"idle_sweep_interval"`
	WriteTimeout      Duration `toml:"write_timeout"`
	MaxAuthAttempts   int      `toml:"max_auth_attempts"`
	MaxLineLength     int      `toml:"max_line_length"`
}

type CredentialsSection struct {
	File     string `toml:"file"`
	Database string `toml:"database"`
}

type LoggingSection struct {
	Verbose          bool `toml:"verbose"`
	ResolveHostnames bool `toml:"resolve_hostnames"`
}

// Duration is a time.Duration written as a string ("1m", "30m") in TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	def := DefaultConfig()
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:     def.TCPPort,
			SSHPort:     def.SSHPort,
			HTTPPort:    def.HTTPPort,
			MetricsPort: def.MetricsPort,
			SSHHostKey:  def.SSHHostKeyPath,
		},
		Limits: LimitsSection{
			BlockDuration:     Duration{def.BlockDuration},
			RecentWindow:      Duration{def.RecentWindow},
			IdleTimeout:       Duration{def.IdleTimeout},
			IdleSweepInterval: Duration{def.IdleSweepInterval},
			WriteTimeout:      Duration{def.WriteTimeout},
			MaxAuthAttempts:   def.MaxAuthAttempts,
			MaxLineLength:     def.MaxLineLength,
		},
		Credentials: CredentialsSection{
			File: "user_pass.txt",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefaultConfig(path); err != nil {
			// Still runnable on defaults (read-only directory, for example)
			log.Printf("Could not write default config: %v", err)
		}
		return applyEnvOverrides(DefaultTOMLConfig()), nil
	}

	// Keys missing from the file keep their defaults
	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: LINECHAT_SECTION_KEY
// Example: LINECHAT_SERVER_TCP_PORT=4000
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	// Server section
	envInt("LINECHAT_SERVER_TCP_PORT", &config.Server.TCPPort)
	envInt("LINECHAT_SERVER_SSH_PORT", &config.Server.SSHPort)
	envInt("LINECHAT_SERVER_HTTP_PORT", &config.Server.HTTPPort)
	envInt("LINECHAT_SERVER_METRICS_PORT", &config.Server.MetricsPort)
	if val := os.Getenv("LINECHAT_SERVER_SSH_HOST_KEY"); val != "" {
		config.Server.SSHHostKey = val
	}

	// Limits section
	envDuration("LINECHAT_LIMITS_BLOCK_DURATION", &config.Limits.BlockDuration)
	envDuration("LINECHAT_LIMITS_RECENT_WINDOW", &config.Limits.RecentWindow)
	envDuration("LINECHAT_LIMITS_IDLE_TIMEOUT", &config.Limits.IdleTimeout)
	envDuration("LINECHAT_LIMITS_IDLE_SWEEP_INTERVAL", &config.Limits.IdleSweepInterval)
	envDuration("LINECHAT_LIMITS_WRITE_TIMEOUT", &config.Limits.WriteTimeout)
	envInt("LINECHAT_LIMITS_MAX_AUTH_ATTEMPTS", &config.Limits.MaxAuthAttempts)
	envInt("LINECHAT_LIMITS_MAX_LINE_LENGTH", &config.Limits.MaxLineLength)

	// Credentials section
	if val := os.Getenv("LINECHAT_CREDENTIALS_FILE"); val != "" {
		config.Credentials.File = val
	}
	if val := os.Getenv("LINECHAT_CREDENTIALS_DATABASE"); val != "" {
		config.Credentials.Database = val
	}

	// Logging section
	envBool("LINECHAT_LOGGING_VERBOSE", &config.Logging.Verbose)
	envBool("LINECHAT_LOGGING_RESOLVE_HOSTNAMES", &config.Logging.ResolveHostnames)

	return config
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			dst.Duration = d
		}
	}
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# linechat server configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# LINECHAT_SECTION_KEY (e.g., LINECHAT_SERVER_TCP_PORT=4000)

[server]
# Port for plain TCP connections
tcp_port = 4000

# Port for SSH connections (same line protocol inside the session channel)
# Set to 0 to disable
ssh_port = 4001

# Port for the WebSocket endpoint (/ws), one text message per line
# Set to 0 to disable
http_port = 8080

# Port for /metrics and /health (internal only, never expose publicly)
# Set to 0 to disable
metrics_port = 9090

# Path to SSH host key file (generated on first start)
ssh_host_key = "~/.linechat/ssh_host_key"

[limits]
# How long an address/username pair stays locked after 3 failed logins
block_duration = "1m"

# Window listed by wholasthr
recent_window = "1h"

# Sessions idle longer than this are logged out ("0s" disables)
idle_timeout = "30m"

# How often silent sessions are checked against idle_timeout ("0s" only
# checks when a client sends input)
idle_sweep_interval = "1m"

# Give up on a client that does not accept output for this long
write_timeout = "10s"

# Consecutive failed logins for one username before a lockout
max_auth_attempts = 3

# Maximum input line length in bytes
max_line_length = 4096

[credentials]
# "username password" per line; read once at startup
file = "user_pass.txt"

# SQLite credential database managed with linechat-passwd.
# When set, it is used instead of file.
# database = "~/.linechat/users.db"

[logging]
# Log every protocol step (same as -v)
verbose = false

# Reverse-resolve client addresses to host names for lockouts and logs
resolve_hostnames = false
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	// Ports keep their value even when 0, which disables the listener
	cfg.TCPPort = c.Server.TCPPort
	cfg.SSHPort = c.Server.SSHPort
	cfg.HTTPPort = c.Server.HTTPPort
	cfg.MetricsPort = c.Server.MetricsPort

	if strings.TrimSpace(c.Server.SSHHostKey) != "" {
		cfg.SSHHostKeyPath = c.Server.SSHHostKey
	}

	if c.Limits.BlockDuration.Duration > 0 {
		cfg.BlockDuration = c.Limits.BlockDuration.Duration
	}
	if c.Limits.RecentWindow.Duration > 0 {
		cfg.RecentWindow = c.Limits.RecentWindow.Duration
	}
	if c.Limits.IdleTimeout.Duration >= 0 {
		cfg.IdleTimeout = c.Limits.IdleTimeout.Duration
	}
	if c.Limits.IdleSweepInterval.Duration >= 0 {
		cfg.IdleSweepInterval = c.Limits.IdleSweepInterval.Duration
	}
	if c.Limits.WriteTimeout.Duration > 0 {
		cfg.WriteTimeout = c.Limits.WriteTimeout.Duration
	}
	if c.Limits.MaxAuthAttempts > 0 {
		cfg.MaxAuthAttempts = c.Limits.MaxAuthAttempts
	}
	if c.Limits.MaxLineLength > 0 {
		cfg.MaxLineLength = c.Limits.MaxLineLength
	}

	cfg.Verbose = c.Logging.Verbose
	cfg.ResolveHostnames = c.Logging.ResolveHostnames

	return cfg
}

// GetCredentialsFile returns the credential file path with ~ expanded
func (c *TOMLConfig) GetCredentialsFile() (string, error) {
	return expandHome(c.Credentials.File)
}

// GetDatabasePath returns the credential database path with ~ expanded,
// or "" when no database is configured
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	if strings.TrimSpace(c.Credentials.Database) == "" {
		return "", nil
	}
	return expandHome(c.Credentials.Database)
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
