package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration for errors and risky values.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServerData(&cfg.ServerData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

// versionParts mirrors crypto.ParseClientVersion without importing it.
func versionParts(v string) bool {
	parts := strings.Split(strings.TrimSpace(v), ".")
	if len(parts) < 3 || len(parts) > 4 {
		return false
	}
	for _, p := range parts {
		if _, err := strconv.ParseUint(p, 10, 32); err != nil {
			return false
		}
	}
	return true
}

func validateServerData(data *ServerData, result *ValidationResult) {
	netCfg := data.Network

	if len(netCfg.ListenAddresses) == 0 {
		result.AddError("server.network.listen_addresses", "at least one listen address is required")
	}
	seen := make(map[string]bool)
	for _, addr := range netCfg.ListenAddresses {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			result.AddError("server.network.listen_addresses", fmt.Sprintf("invalid address %q: %v", addr, err))
			continue
		}
		if host != "" && net.ParseIP(host) == nil && host != "localhost" {
			result.AddWarning("server.network.listen_addresses", fmt.Sprintf("host %q is not an IP address", host))
		}
		if n, err := strconv.Atoi(port); err != nil {
			result.AddError("server.network.listen_addresses", fmt.Sprintf("invalid port in %q", addr))
		} else {
			validatePort(n, "server.network.listen_addresses", result)
		}
		if seen[addr] {
			result.AddError("server.network.listen_addresses", fmt.Sprintf("duplicate address %q", addr))
		}
		seen[addr] = true
	}

	if netCfg.ReadBufferSize < 64 {
		result.AddError("server.network.read_buffer_size", "read buffer must be at least 64 bytes")
	}
	if netCfg.MaxWindowSize < 0xFFFF {
		result.AddError("server.network.max_window_size", "window must hold at least one maximum-size frame (65535 bytes)")
	}
	if netCfg.WriteTimeoutSec < 1 {
		result.AddWarning("server.network.write_timeout_sec", "writes have no deadline, a stuck client can block its send lane")
	}
	if netCfg.HandshakeTimeoutSec < 1 {
		result.AddWarning("server.network.handshake_timeout_sec", "connections may hold a slot forever without sending a seed")
	}
	if netCfg.IdleTimeoutSec > 0 && netCfg.IdleTimeoutSec < 30 {
		result.AddWarning("server.network.idle_timeout_sec", "idle timeout below 30s will drop clients between pings")
	}
	if netCfg.MaxReadsPerSecond < 0 {
		result.AddError("server.network.max_reads_per_second", "must not be negative")
	}

	switch data.Crypto.Mode {
	case CryptoModeNone, CryptoModeAuto, CryptoModeRequired:
	default:
		result.AddError("server.crypto.mode", fmt.Sprintf("unknown mode %q (none, auto, required)", data.Crypto.Mode))
	}
	if data.Crypto.Mode != CryptoModeNone && len(data.Crypto.ClientVersions) == 0 {
		result.AddError("server.crypto.client_versions", "encryption enabled but no client versions configured")
	}
	for _, v := range data.Crypto.ClientVersions {
		if !versionParts(v) {
			result.AddError("server.crypto.client_versions", fmt.Sprintf("invalid client version %q", v))
		}
	}

	if data.Scheduler.Lanes < 1 {
		result.AddError("server.scheduler.lanes", "must have at least 1 lane")
	}
	if data.Scheduler.QueueSize < 16 {
		result.AddWarning("server.scheduler.queue_size", "small queues reject units under load")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if !data.Security.AuthDisabled && strings.TrimSpace(data.API.Token) == "" {
			result.AddError("application_data.api.token", "API token is required when auth is enabled")
		}
	}

	if strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required")
	}

	if data.Timers.WatchdogInterval < 1 {
		result.AddWarning("application_data.timers.watchdog_interval_sec", "watchdog disabled, stalled connections are never reaped")
	}
	if data.MQTT.Enabled && data.Timers.HeartbeatInterval < 10 {
		result.AddWarning("application_data.timers.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
