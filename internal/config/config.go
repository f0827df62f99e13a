// Package config handles configuration loading, validation, and persistence
// for the Buckshot duel server.
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
	DefaultGamePort   = 12345
	DefaultAPIPort    = 5000
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Server Server `json:"server"`
	App    App    `json:"application"`
}

// Server contains the game server's core settings.
type Server struct {
	// Network
	BindAddress string `json:"bind_address"`
	GamePort    int    `json:"game_port"`
	APIPort     int    `json:"api_port"`

	// Storage
	DatabasePath    string `json:"database_path"`
	ReplayDirectory string `json:"replay_directory"`

	// Identity
	Name string `json:"server_name"`
}

// App contains matchmaking, timer, telemetry, and housekeeping settings.
type App struct {
	Timers        Timers        `json:"timers"`
	ReplayCleaner ReplayCleaner `json:"replay_cleaner"`
	MQTT          MQTT          `json:"mqtt"`
	Security      Security      `json:"security"`
	Logging       Logging       `json:"logging"`
}

// Timers holds all periodic intervals. Seconds unless noted.
type Timers struct {
	TurnTimeoutSec      int `json:"turn_timeout_sec"`
	MatchmakingBatchSec int `json:"matchmaking_batch_sec"`
	TickMillis          int `json:"tick_millis"`
	BroadcastSec        int `json:"broadcast_sec"`
	AIActionSec         int `json:"ai_action_sec"`
	StatsPollingSec     int `json:"stats_polling_sec"`
}

// ReplayCleaner holds replay retention settings.
type ReplayCleaner struct {
	Enabled       bool   `json:"enabled"`
	CleanupTime   string `json:"cleanup_time"`
	RetentionDays int    `json:"retention_days"`
}

// MQTT holds MQTT telemetry settings.
type MQTT struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// Security holds API security settings.
type Security struct {
	APIToken       string   `json:"api_token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	AuthDisabled   bool     `json:"auth_disabled"`
}

// Logging holds logging configuration.
type Logging struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: Server{
			BindAddress:     "0.0.0.0",
			GamePort:        DefaultGamePort,
			APIPort:         DefaultAPIPort,
			DatabasePath:    "data/buckshot.db",
			ReplayDirectory: "replays",
			Name:            "Buckshot Duel Server",
		},
		App: App{
			Timers: Timers{
				TurnTimeoutSec:      30,
				MatchmakingBatchSec: 5,
				TickMillis:          100,
				BroadcastSec:        1,
				AIActionSec:         2,
				StatsPollingSec:     1,
			},
			ReplayCleaner: ReplayCleaner{
				Enabled:       true,
				CleanupTime:   "04:00",
				RetentionDays: 30,
			},
			MQTT: MQTT{
				Enabled:   false,
				BrokerURL: "localhost",
				Port:      1883,
			},
			Security: Security{
				RateLimitRPS: 100,
				AuthDisabled: false,
			},
			Logging: Logging{
				Level:     "info",
				Directory: "logs",
			},
		},
	}
}

// Load reads configuration from a JSON file. A missing file is created
// with defaults; a present file is overlaid on the defaults and
// re-saved so new options always appear on disk.
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

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() Server {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetApp returns a copy of the application configuration.
func (c *Config) GetApp() App {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.App
}

// SetAPIToken stores a freshly generated API token and persists it.
func (c *Config) SetAPIToken(token string) {
	c.mu.Lock()
	c.App.Security.APIToken = token
	c.mu.Unlock()
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// TurnTimeout returns the turn timer window as a duration.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.GetApp().Timers.TurnTimeoutSec) * time.Second
}

// MatchmakingInterval returns the queue batching interval.
func (c *Config) MatchmakingInterval() time.Duration {
	return time.Duration(c.GetApp().Timers.MatchmakingBatchSec) * time.Second
}

// TickInterval returns the dispatch loop tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.GetApp().Timers.TickMillis) * time.Millisecond
}

// BroadcastInterval returns the state broadcast period.
func (c *Config) BroadcastInterval() time.Duration {
	return time.Duration(c.GetApp().Timers.BroadcastSec) * time.Second
}
