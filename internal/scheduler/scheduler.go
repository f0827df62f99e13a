// Package scheduler implements background task scheduling, including
// replay file cleanup and daily statistics collection.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nhatientri/Buckshot/internal/config"
	"github.com/nhatientri/Buckshot/internal/store"
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	users   *store.UserStore
	replays *store.ReplayStore
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, users *store.UserStore, replays *store.ReplayStore) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		users:   users,
		replays: replays,
	}
}

// Start begins running all scheduled tasks. It blocks until the
// context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.cfg.GetApp().ReplayCleaner.Enabled {
		go s.runReplayCleanerLoop(ctx)
	}

	go s.runStatsCollectionLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runReplayCleanerLoop runs the replay cleaner at the configured time.
func (s *Scheduler) runReplayCleanerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nextRun := s.calculateNextCleanupTime()
		sleepDuration := time.Until(nextRun)

		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("replay cleaner scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			s.runReplayCleaner()
		}
	}
}

// runReplayCleaner removes replay files older than the retention window.
func (s *Scheduler) runReplayCleaner() {
	retentionDays := s.cfg.GetApp().ReplayCleaner.RetentionDays

	log.Info().
		Str("directory", s.replays.Dir()).
		Int("retention_days", retentionDays).
		Msg("running replay cleaner")

	deleted, err := s.replays.Prune(time.Duration(retentionDays) * 24 * time.Hour)
	if err != nil {
		log.Warn().Err(err).Msg("replay cleaner encountered errors")
	}

	log.Info().
		Int("deleted_files", deleted).
		Msg("replay cleaner completed")
}

// runStatsCollectionLoop collects daily statistics.
func (s *Scheduler) runStatsCollectionLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectStats()
		}
	}
}

// collectStats gathers and logs daily statistics.
func (s *Scheduler) collectStats() {
	userCount := 0
	if users, err := s.users.AllUsers(); err == nil {
		userCount = len(users)
	}

	replayCount := 0
	if names, err := s.replays.List(""); err == nil {
		replayCount = len(names)
	}

	log.Info().
		Int("registered_users", userCount).
		Int("replay_count", replayCount).
		Msg("daily stats collected")
}

// calculateNextCleanupTime returns the next time the cleanup should run.
func (s *Scheduler) calculateNextCleanupTime() time.Time {
	cleanupTime := s.cfg.GetApp().ReplayCleaner.CleanupTime
	parts := strings.Split(cleanupTime, ":")

	hour, minute := 4, 0 // Default: 4:00 AM
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	if next.Before(now) {
		next = next.Add(24 * time.Hour)
	}

	return next
}
