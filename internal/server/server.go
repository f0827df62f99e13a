package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nhatientri/Buckshot/internal/config"
	"github.com/nhatientri/Buckshot/internal/events"
	"github.com/nhatientri/Buckshot/internal/game"
	"github.com/nhatientri/Buckshot/internal/match"
	"github.com/nhatientri/Buckshot/internal/protocol"
	"github.com/nhatientri/Buckshot/internal/store"
)

// inboundFrame is one decoded frame handed from a reader goroutine to
// the dispatch loop.
type inboundFrame struct {
	connID  ConnID
	cmd     byte
	payload []byte
}

// Server is the TCP game server. Reader goroutines feed frames into the
// inbox; a single dispatch loop consumes them, so all session,
// matchmaking, and per-user state has exactly one writer and needs no
// locks of its own.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	users   *store.UserStore
	replays *store.ReplayStore
	bus     *events.EventBus

	registry   *Registry
	matchmaker *match.Engine

	// Dispatch-loop-owned state. Never touched off the loop.
	sessions map[*game.Session]struct{}
	byPlayer map[string]*game.Session

	listener net.Listener
	inbox    chan inboundFrame
	closes   chan ConnID
	nextID   atomic.Uint64

	startedAt     time.Time
	lastSweep     time.Time
	lastBroadcast time.Time
	lastStats     time.Time

	stats statsHolder
}

// NewServer wires the game server together.
func NewServer(cfg *config.Config, users *store.UserStore, replays *store.ReplayStore, bus *events.EventBus) *Server {
	return &Server{
		cfg:        cfg,
		logger:     log.With().Str("component", "server").Logger(),
		users:      users,
		replays:    replays,
		bus:        bus,
		registry:   NewRegistry(),
		matchmaker: match.NewEngine(cfg.MatchmakingInterval()),
		sessions:   make(map[*game.Session]struct{}),
		byPlayer:   make(map[string]*game.Session),
		inbox:      make(chan inboundFrame, 256),
		closes:     make(chan ConnID, 64),
		startedAt:  time.Now(),
	}
}

// Registry exposes the connection registry for the API server.
func (s *Server) Registry() *Registry { return s.registry }

// Start binds the listener and runs the dispatch loop until the context
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.GetServer().BindAddress, s.cfg.GetServer().GamePort)

	// SO_REUSEADDR to allow immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start game listener on %s: %w", addr, err)
	}
	s.listener = listener

	s.logger.Info().Str("addr", addr).Msg("game server listening")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	go s.acceptLoop(ctx)

	return s.dispatchLoop(ctx)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		conn := NewConn(ConnID(s.nextID.Add(1)), raw)
		s.registry.Register(conn)

		s.logger.Debug().
			Str("remote", raw.RemoteAddr().String()).
			Uint64("conn_id", uint64(conn.ID())).
			Msg("client connected")

		go s.readLoop(ctx, conn)
	}
}

// readLoop pumps frames from one connection into the inbox. Any read
// error, including a clean close, ends the connection.
func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	defer func() {
		select {
		case s.closes <- conn.ID():
		case <-ctx.Done():
		}
	}()

	for {
		cmd, payload, err := conn.ReadFrame()
		if err != nil {
			if !conn.IsClosed() {
				s.logger.Debug().Err(err).
					Uint64("conn_id", uint64(conn.ID())).
					Msg("read error, dropping connection")
			}
			return
		}

		select {
		case s.inbox <- inboundFrame{connID: conn.ID(), cmd: cmd, payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}

// dispatchLoop is the single owner of all game state. It interleaves
// client frames with periodic duties on a fixed tick.
func (s *Server) dispatchLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("dispatch loop stopping")
			s.registry.CloseAll()
			return nil

		case frame := <-s.inbox:
			s.handleFrame(ctx, frame)

		case id := <-s.closes:
			s.handleDisconnect(ctx, id)

		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick runs the periodic duties: turn timeout sweep, state broadcast,
// AI turns, matchmaking batches, and the stats snapshot refresh.
func (s *Server) tick(ctx context.Context, now time.Time) {
	if now.Sub(s.lastSweep) >= time.Second {
		s.lastSweep = now
		for sess := range s.sessions {
			if sess.CheckTimeout(s.cfg.TurnTimeout()) {
				s.settle(ctx, sess, events.EndCauseTimeout)
			}
		}
	}

	for sess := range s.sessions {
		if sess.ExecuteAITurn() {
			if sess.IsOver() {
				s.settle(ctx, sess, events.EndCauseDeath)
			} else {
				s.sendState(sess)
			}
		}
	}

	if now.Sub(s.lastBroadcast) >= s.cfg.BroadcastInterval() {
		s.lastBroadcast = now
		for sess := range s.sessions {
			if !sess.IsOver() {
				s.sendState(sess)
			}
		}
	}

	for _, pair := range s.matchmaker.Batch(now, s.users.Elo) {
		s.startSession(ctx, pair.First, pair.Second, false, true)
	}

	if now.Sub(s.lastStats) >= time.Second {
		s.lastStats = now
		s.refreshStats()
	}
}

// startSession opens a match between two players and notifies them.
// Both humans are purged from the matchmaker first so nobody sits in
// the queue, or holds open challenges, while already playing.
func (s *Server) startSession(ctx context.Context, p1, p2 string, ai, viaQueue bool) {
	s.matchmaker.RemoveUser(p1)
	if !ai {
		s.matchmaker.RemoveUser(p2)
	}

	sess := game.NewSession(p1, p2, ai)
	s.sessions[sess] = struct{}{}
	s.byPlayer[p1] = sess
	if !ai {
		s.byPlayer[p2] = sess
	}

	s.bus.Emit(ctx, events.Event{
		Type:   events.EventMatchStarted,
		Source: "server",
		Payload: events.MatchStartedPayload{
			Player1:  p1,
			Player2:  p2,
			AIMatch:  ai,
			ViaQueue: viaQueue,
		},
	})

	state := protocol.EncodeGameStatePacket(sess.State())
	s.sendToPlayer(p1, protocol.CmdGameStart, state)
	if !ai {
		s.sendToPlayer(p2, protocol.CmdGameStart, state)
	}
}

// sendState broadcasts the current session state to its human players.
func (s *Server) sendState(sess *game.Session) {
	payload := protocol.EncodeGameStatePacket(sess.State())
	s.sendToPlayer(sess.P1Name(), protocol.CmdGameState, payload)
	if !sess.IsAIGame() {
		s.sendToPlayer(sess.P2Name(), protocol.CmdGameState, payload)
	}
}

func (s *Server) sendToPlayer(username string, cmd byte, payload []byte) {
	conn, ok := s.registry.ByUser(username)
	if !ok {
		return
	}
	if err := conn.Send(cmd, payload); err != nil {
		s.logger.Warn().Err(err).Str("user", username).Msg("failed to send frame")
	}
}

// settle runs the end-of-match unit exactly once per session: the ELO
// exchange, one history row per human player, the replay file, the
// final state broadcast, and removal from the active set.
func (s *Server) settle(ctx context.Context, sess *game.Session, cause events.EndCause) {
	if !sess.MarkSettled() {
		return
	}

	winner, loser := sess.Winner(), sess.Loser()

	winDelta, loseDelta, err := s.users.RecordMatch(winner, loser)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to record match result")
	}
	if winner == sess.P1Name() {
		sess.SetEloChanges(int32(winDelta), int32(loseDelta))
	} else {
		sess.SetEloChanges(int32(loseDelta), int32(winDelta))
	}

	replayFile, err := s.replays.Save(winner, loser, sess.History())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to save replay")
	} else {
		s.bus.Emit(ctx, events.Event{
			Type:    events.EventReplaySaved,
			Source:  "server",
			Payload: events.ReplaySavedPayload{File: replayFile, Winner: winner, Loser: loser},
		})
	}

	if winner != game.AIName {
		if err := s.users.AddHistory(winner, loser, "WIN", winDelta, replayFile); err != nil {
			s.logger.Error().Err(err).Msg("failed to record winner history")
		}
	}
	if loser != game.AIName {
		if err := s.users.AddHistory(loser, winner, "LOSS", loseDelta, replayFile); err != nil {
			s.logger.Error().Err(err).Msg("failed to record loser history")
		}
	}

	s.sendState(sess)

	s.bus.Emit(ctx, events.Event{
		Type:   events.EventMatchCompleted,
		Source: "server",
		Payload: events.MatchCompletedPayload{
			Winner:     winner,
			Loser:      loser,
			Cause:      cause,
			EloDelta:   winDelta,
			ReplayFile: replayFile,
		},
	})

	delete(s.sessions, sess)
	delete(s.byPlayer, sess.P1Name())
	if !sess.IsAIGame() {
		delete(s.byPlayer, sess.P2Name())
	}

	s.logger.Info().
		Str("winner", winner).
		Str("loser", loser).
		Str("cause", cause.String()).
		Str("replay", replayFile).
		Msg("match settled")
}

// handleDisconnect cleans up a dropped connection: an in-flight match is
// resigned and settled, the matchmaker forgets the user, and everyone
// else gets a fresh online list.
func (s *Server) handleDisconnect(ctx context.Context, id ConnID) {
	conn, ok := s.registry.Get(id)
	if !ok {
		return
	}
	username := conn.Username()
	s.registry.Unregister(id)

	if username == "" {
		return
	}

	if sess, ok := s.byPlayer[username]; ok && !sess.IsOver() {
		sess.Resign(username)
		s.settle(ctx, sess, events.EndCauseDisconnect)
	}
	s.matchmaker.RemoveUser(username)

	s.bus.Emit(ctx, events.Event{
		Type:    events.EventPlayerDisconnected,
		Source:  "server",
		Payload: events.PlayerPayload{Username: username, Elo: s.users.Elo(username)},
	})

	s.broadcastUserList()
	s.logger.Info().Str("user", username).Msg("player disconnected")
}

// buildUserList encodes the online user list: count, then per user a
// fixed-size name, rating, and an in-game flag.
func (s *Server) buildUserList() []byte {
	names := s.registry.Usernames()
	b := protocol.NewPacketBuilder()
	b.WriteUint32(uint32(len(names)))
	for _, name := range names {
		b.WriteFixedString(name, protocol.NameLen)
		b.WriteInt32(int32(s.users.Elo(name)))
		_, inGame := s.byPlayer[name]
		b.WriteBool(inGame)
	}
	return b.Build()
}

func (s *Server) broadcastUserList() {
	payload := s.buildUserList()
	for _, name := range s.registry.Usernames() {
		s.sendToPlayer(name, protocol.CmdListUsersResp, payload)
	}
}
