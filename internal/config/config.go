// Package config handles configuration loading, validation, and persistence
// for the Moongate server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 8088
	DefaultGamePort   = 2593
)

// Encryption modes for the login handshake.
const (
	CryptoModeNone     = "none"
	CryptoModeAuto     = "auto"
	CryptoModeRequired = "required"
)

// Config is the root configuration structure for Moongate.
type Config struct {
	mu   sync.RWMutex
	path string

	ServerData      ServerData      `json:"server"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServerData configures the game-facing protocol engine.
type ServerData struct {
	Name      string          `json:"name"`
	Network   NetworkConfig   `json:"network"`
	Crypto    CryptoConfig    `json:"crypto"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// NetworkConfig holds listener and per-connection limits.
type NetworkConfig struct {
	ListenAddresses     []string `json:"listen_addresses"`
	ReadBufferSize      int      `json:"read_buffer_size"`
	MaxWindowSize       int      `json:"max_window_size"`
	WriteTimeoutSec     int      `json:"write_timeout_sec"`
	IdleTimeoutSec      int      `json:"idle_timeout_sec"`
	HandshakeTimeoutSec int      `json:"handshake_timeout_sec"`
	StallTimeoutSec     int      `json:"stall_timeout_sec"`
	KeepAliveSec        int      `json:"keepalive_sec"`
	MaxReadsPerSecond   int      `json:"max_reads_per_second"`
	MaxConnections      int      `json:"max_connections"`
}

// CryptoConfig selects how the login handshake treats encryption.
type CryptoConfig struct {
	Mode           string   `json:"mode"`
	ClientVersions []string `json:"client_versions"`
}

// SchedulerConfig sizes the unit-of-work scheduler.
type SchedulerConfig struct {
	Lanes     int `json:"lanes"`
	QueueSize int `json:"queue_size"`
}

// ApplicationData contains operator-facing configuration.
type ApplicationData struct {
	API      APIConfig      `json:"api"`
	Database DatabaseConfig `json:"database"`
	Timers   TimerConfig    `json:"timers"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// APIConfig holds the operator REST API settings.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Token   string `json:"token"`
}

// DatabaseConfig points at the account database.
type DatabaseConfig struct {
	Path               string `json:"path"`
	AutoCreateAccount  bool   `json:"auto_create_accounts"`
	LoginRetentionDays int    `json:"login_retention_days"`
}

// TimerConfig holds watchdog and telemetry intervals.
type TimerConfig struct {
	WatchdogInterval     int `json:"watchdog_interval_sec"`
	HeartbeatInterval    int `json:"heartbeat_interval_sec"`
	LoginCleanupInterval int `json:"login_cleanup_interval_sec"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	AuthDisabled   bool     `json:"auth_disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerData: ServerData{
			Name: "Moongate Shard",
			Network: NetworkConfig{
				ListenAddresses:     []string{fmt.Sprintf("0.0.0.0:%d", DefaultGamePort)},
				ReadBufferSize:      4096,
				MaxWindowSize:       64 * 1024,
				WriteTimeoutSec:     10,
				IdleTimeoutSec:      300,
				HandshakeTimeoutSec: 30,
				StallTimeoutSec:     60,
				KeepAliveSec:        30,
				MaxReadsPerSecond:   200,
				MaxConnections:      1000,
			},
			Crypto: CryptoConfig{
				Mode:           CryptoModeAuto,
				ClientVersions: []string{"7.0.15.1", "7.0.86.2", "6.0.14.2", "5.0.9.1"},
			},
			Scheduler: SchedulerConfig{
				Lanes:     8,
				QueueSize: 1024,
			},
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    DefaultAPIPort,
			},
			Database: DatabaseConfig{
				Path:               filepath.Join("data", "moongate.db"),
				LoginRetentionDays: 30,
			},
			Timers: TimerConfig{
				WatchdogInterval:     15,
				HeartbeatInterval:    60,
				LoginCleanupInterval: 3600,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				BrokerURL:   "localhost",
				Port:        1883,
				TopicPrefix: "moongate",
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
				AuthDisabled: true,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json carries fields added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServerData returns a copy of the server configuration.
func (c *Config) GetServerData() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerData
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Seconds converts a *_sec setting to a Duration; non-positive means disabled.
func Seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
