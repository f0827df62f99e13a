package server

import (
	"sort"
	"sync"
	"time"
)

// PlayerStat is one online player in the stats snapshot.
type PlayerStat struct {
	Username string `json:"username"`
	Elo      int    `json:"elo"`
	InGame   bool   `json:"in_game"`
}

// SessionStat is one active match in the stats snapshot.
type SessionStat struct {
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
	Turn    string `json:"turn"`
	AIMatch bool   `json:"ai_match"`
	Paused  bool   `json:"paused"`
}

// Stats is a point-in-time view of the server for the API and CLI. The
// dispatch loop refreshes it once a second so readers never touch
// loop-owned state.
type Stats struct {
	StartedAt      time.Time     `json:"started_at"`
	OnlinePlayers  []PlayerStat  `json:"online_players"`
	ActiveSessions []SessionStat `json:"active_sessions"`
	QueueDepth     int           `json:"queue_depth"`
}

type statsHolder struct {
	mu      sync.RWMutex
	current Stats
}

// refreshStats rebuilds the snapshot. Runs on the dispatch loop.
func (s *Server) refreshStats() {
	snap := Stats{
		StartedAt:  s.startedAt,
		QueueDepth: s.matchmaker.QueueDepth(),
	}

	names := s.registry.Usernames()
	sort.Strings(names)
	for _, name := range names {
		_, inGame := s.byPlayer[name]
		snap.OnlinePlayers = append(snap.OnlinePlayers, PlayerStat{
			Username: name,
			Elo:      s.users.Elo(name),
			InGame:   inGame,
		})
	}

	for sess := range s.sessions {
		snap.ActiveSessions = append(snap.ActiveSessions, SessionStat{
			Player1: sess.P1Name(),
			Player2: sess.P2Name(),
			Turn:    sess.CurrentTurn(),
			AIMatch: sess.IsAIGame(),
			Paused:  sess.IsPaused(),
		})
	}
	sort.Slice(snap.ActiveSessions, func(i, j int) bool {
		return snap.ActiveSessions[i].Player1 < snap.ActiveSessions[j].Player1
	})

	s.stats.mu.Lock()
	s.stats.current = snap
	s.stats.mu.Unlock()
}

// Stats returns the latest snapshot. Safe from any goroutine.
func (s *Server) Stats() Stats {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	return s.stats.current
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
