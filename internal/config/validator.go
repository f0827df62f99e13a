package config

import (
	"fmt"
	"net"
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

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(&cfg.Server, result)
	validateApp(&cfg.App, result)

	return result
}

func validateServer(srv *Server, result *ValidationResult) {
	validatePort(srv.GamePort, "server.game_port", result)
	validatePort(srv.APIPort, "server.api_port", result)
	if srv.GamePort == srv.APIPort {
		result.AddError("server.ports", "game and API ports must be distinct")
	}

	if strings.TrimSpace(srv.DatabasePath) == "" {
		result.AddError("server.database_path", "database path is required")
	}
	if strings.TrimSpace(srv.ReplayDirectory) == "" {
		result.AddError("server.replay_directory", "replay directory is required")
	}
}

func validateApp(app *App, result *ValidationResult) {
	t := &app.Timers
	if t.TurnTimeoutSec < 5 {
		result.AddError("application.timers.turn_timeout_sec", "turn timeout must be at least 5 seconds")
	}
	if t.TickMillis < 10 {
		result.AddError("application.timers.tick_millis", "tick period must be at least 10ms")
	}
	if t.MatchmakingBatchSec < 1 {
		result.AddError("application.timers.matchmaking_batch_sec", "matchmaking batch interval must be at least 1 second")
	}
	if t.BroadcastSec < 1 {
		result.AddWarning("application.timers.broadcast_sec", "sub-second broadcasts may flood slow clients")
	}
	if t.AIActionSec < 1 {
		result.AddWarning("application.timers.ai_action_sec", "fast AI pacing makes matches hard to follow")
	}

	if app.ReplayCleaner.Enabled && app.ReplayCleaner.RetentionDays < 1 {
		result.AddError("application.replay_cleaner.retention_days", "retention days must be at least 1")
	}

	if app.MQTT.Enabled {
		if strings.TrimSpace(app.MQTT.BrokerURL) == "" {
			result.AddError("application.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if app.MQTT.Port < 1 || app.MQTT.Port > 65535 {
			result.AddError("application.mqtt.port", "invalid MQTT port")
		}
	}

	if app.Security.RateLimitRPS < 1 {
		result.AddWarning("application.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	if !app.Security.AuthDisabled && strings.TrimSpace(app.Security.APIToken) == "" {
		result.AddWarning("application.security.api_token",
			"no API token set, one will be generated at startup")
	}

	switch strings.ToLower(app.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		result.AddError("application.logging.level",
			fmt.Sprintf("unknown log level %q", app.Logging.Level))
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
