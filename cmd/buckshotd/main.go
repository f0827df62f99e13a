// Buckshot - two-player shotgun duel server.
//
// Buckshot hosts real-time duels over a persistent binary TCP protocol,
// matches players by rating, persists accounts and match history in
// SQLite, records replays, exposes a REST monitoring API, and publishes
// real-time telemetry via MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nhatientri/Buckshot/internal/api"
	"github.com/nhatientri/Buckshot/internal/cli"
	"github.com/nhatientri/Buckshot/internal/config"
	"github.com/nhatientri/Buckshot/internal/events"
	"github.com/nhatientri/Buckshot/internal/scheduler"
	"github.com/nhatientri/Buckshot/internal/server"
	"github.com/nhatientri/Buckshot/internal/store"
	"github.com/nhatientri/Buckshot/internal/telemetry"
	"github.com/nhatientri/Buckshot/internal/util"
)

const (
	AppName    = "Buckshot"
	AppVersion = "1.0.0"
	Banner     = `
  ____             _        _           _
 | __ ) _   _  ___| | _____| |__   ___ | |_
 |  _ \| | | |/ __| |/ / __| '_ \ / _ \| __|
 | |_) | |_| | (__|   <\__ \ | | | (_) | |_
 |____/ \__,_|\___|_|\_\___/_| |_|\___/ \__|
                                 v%s
 Two-Player Shotgun Duel Server
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Buckshot")

	// Load configuration
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      cfg.GetApp().Logging.Level,
		Directory:  cfg.GetApp().Logging.Directory,
		MaxBackups: 5,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Validate configuration
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	// Generate an API token on first run so the monitoring API is never open
	if cfg.GetApp().Security.APIToken == "" && !cfg.GetApp().Security.AuthDisabled {
		token, err := util.GenerateToken(24)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate API token")
		}
		cfg.SetAPIToken(token)
		if err := cfg.Save(); err != nil {
			log.Warn().Err(err).Msg("failed to persist generated API token")
		}
		log.Info().Str("token", token).Msg("generated API token (saved to config)")
	}

	// Log system info
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize core components
	eventBus := events.NewEventBus()

	users, err := store.NewUserStore(cfg.GetServer().DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open user database")
	}
	defer users.Close()

	replays, err := store.NewReplayStore(cfg.GetServer().ReplayDirectory)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open replay directory")
	}

	// Game server (central orchestrator)
	gameServer := server.NewServer(cfg, users, replays, eventBus)

	// REST monitoring API
	apiServer := api.NewServer(cfg, gameServer, users, replays)

	// MQTT telemetry
	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetApp().MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// Background scheduler
	sched := scheduler.NewScheduler(cfg, users, replays)

	// Interactive CLI
	cliHandler := cli.NewCLI(cfg, eventBus, gameServer, users, replays)

	var wg sync.WaitGroup
	errCh := make(chan error, 10)

	// Task 1: Game server (fatal on failure, nothing works without it)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.GetServer().GamePort).Msg("starting game server")
		if err := gameServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("game server failed")
			errCh <- fmt.Errorf("game server: %w", err)
		}
	}()

	// Task 2: REST API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.GetServer().APIPort).Msg("starting REST API server")
		if err := apiServer.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("API server failed (non-fatal)")
		}
	}()

	// Task 3: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 4: Scheduler (replay cleanup, stats)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// Task 5: Interactive CLI
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// Shutdown via CLI quit command
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		cancel()
		return nil
	})

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	}

	log.Info().Msg("initiating graceful shutdown...")

	cancel()

	// Wait for all goroutines with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Stop the event bus last
	eventBus.Stop()

	log.Info().Msg("Buckshot stopped")
}
