package server

import (
	"context"
	"errors"

	"github.com/nhatientri/Buckshot/internal/events"
	"github.com/nhatientri/Buckshot/internal/game"
	"github.com/nhatientri/Buckshot/internal/protocol"
	"github.com/nhatientri/Buckshot/internal/store"
)

// handleFrame routes one inbound frame to its handler. Runs on the
// dispatch loop.
func (s *Server) handleFrame(ctx context.Context, frame inboundFrame) {
	conn, ok := s.registry.Get(frame.connID)
	if !ok {
		return // connection died between read and dispatch
	}

	switch frame.cmd {
	case protocol.CmdRegister:
		s.handleRegister(ctx, conn, frame.payload)
	case protocol.CmdLogin:
		s.handleLogin(ctx, conn, frame.payload)
	default:
		username := conn.Username()
		if username == "" {
			s.sendFail(conn, "not logged in")
			return
		}
		s.handleAuthed(ctx, conn, username, frame)
	}
}

func (s *Server) handleAuthed(ctx context.Context, conn *Conn, username string, frame inboundFrame) {
	switch frame.cmd {
	case protocol.CmdListUsers:
		conn.Send(protocol.CmdListUsersResp, s.buildUserList())

	case protocol.CmdChallengeReq, protocol.CmdChallengeResp:
		s.handleChallenge(ctx, conn, username, frame.payload)

	case protocol.CmdGameMove:
		s.handleMove(ctx, username, frame.payload)

	case protocol.CmdResign:
		if sess, ok := s.byPlayer[username]; ok && !sess.IsOver() {
			sess.Resign(username)
			s.settle(ctx, sess, events.EndCauseResignation)
		}

	case protocol.CmdPlayAI:
		s.handlePlayAI(ctx, conn, username)

	case protocol.CmdQueueJoin:
		s.handleQueueJoin(ctx, conn, username)

	case protocol.CmdQueueLeave:
		if s.matchmaker.LeaveQueue(username) {
			s.bus.Emit(ctx, events.Event{
				Type:    events.EventQueueLeft,
				Source:  "server",
				Payload: events.QueuePayload{Username: username, Depth: s.matchmaker.QueueDepth()},
			})
		}
		s.sendOK(conn, "left queue")

	case protocol.CmdTogglePause:
		s.handleTogglePause(ctx, username)

	case protocol.CmdLeaderboard:
		s.handleLeaderboard(conn)

	case protocol.CmdGetHistory:
		s.handleHistory(conn, username)

	case protocol.CmdListReplays:
		s.handleListReplays(conn, frame.payload)

	case protocol.CmdGetReplay:
		s.handleGetReplay(conn, frame.payload)

	case protocol.CmdFriendAdd, protocol.CmdFriendAccept, protocol.CmdFriendRemove:
		s.handleFriendMutation(conn, username, frame.cmd, frame.payload)

	case protocol.CmdFriendList:
		s.handleFriendList(conn, username)

	case protocol.CmdFriendReqIncoming:
		s.handleFriendIncoming(conn, username)

	default:
		s.logger.Debug().
			Uint8("cmd", frame.cmd).
			Str("user", username).
			Msg("unknown command ignored")
	}
}

func (s *Server) handleRegister(ctx context.Context, conn *Conn, payload []byte) {
	req, err := protocol.DecodeLoginRequest(payload)
	if err != nil {
		s.sendFail(conn, "malformed register request")
		return
	}

	// The AI seat name never gets an account: a human wearing it would
	// receive the AI's state pushes and settle its virtual rating.
	if req.Username == game.AIName {
		s.sendFail(conn, "username is reserved")
		return
	}

	if err := s.users.Register(req.Username, req.Password); err != nil {
		s.sendFail(conn, err.Error())
		return
	}

	s.bus.Emit(ctx, events.Event{
		Type:    events.EventPlayerRegistered,
		Source:  "server",
		Payload: events.PlayerPayload{Username: req.Username, Elo: store.DefaultElo},
	})
	s.sendOK(conn, "registered")
}

func (s *Server) handleLogin(ctx context.Context, conn *Conn, payload []byte) {
	req, err := protocol.DecodeLoginRequest(payload)
	if err != nil {
		s.sendFail(conn, "malformed login request")
		return
	}

	if err := s.users.Login(req.Username, req.Password); err != nil {
		s.sendFail(conn, err.Error())
		return
	}
	if err := s.registry.Bind(conn.ID(), req.Username); err != nil {
		s.sendFail(conn, err.Error())
		return
	}

	s.bus.Emit(ctx, events.Event{
		Type:    events.EventPlayerLoggedIn,
		Source:  "server",
		Payload: events.PlayerPayload{Username: req.Username, Elo: s.users.Elo(req.Username)},
	})

	s.sendOK(conn, "logged in")
	s.broadcastUserList()
	s.logger.Info().Str("user", req.Username).Msg("player logged in")
}

// handleChallenge covers both the initial challenge and the accept: a
// challenge back at an outstanding challenger is the accept, and the
// match starts the moment the pair is mutual.
func (s *Server) handleChallenge(ctx context.Context, conn *Conn, username string, payload []byte) {
	pkt, err := protocol.DecodeChallengePacket(payload)
	if err != nil {
		s.sendFail(conn, "malformed challenge")
		return
	}
	target := pkt.TargetUser

	if target == username {
		s.sendFail(conn, "cannot challenge yourself")
		return
	}
	if _, online := s.registry.ByUser(target); !online {
		s.sendFail(conn, "player is not online")
		return
	}
	if _, busy := s.byPlayer[username]; busy {
		s.sendFail(conn, "you are already in a game")
		return
	}
	if _, busy := s.byPlayer[target]; busy {
		s.sendFail(conn, "player is already in a game")
		return
	}

	pair, matched := s.matchmaker.Challenge(username, target)
	if matched {
		s.startSession(ctx, pair.First, pair.Second, false, false)
		return
	}

	// Forward the challenge so the target can answer it.
	s.sendToPlayer(target, protocol.CmdChallengeReq,
		protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: username}))
	s.sendOK(conn, "challenge sent")
}

// handleMove applies a move. A move without a session, or out of turn,
// is dropped without a reply; the session enforces its own rules.
func (s *Server) handleMove(ctx context.Context, username string, payload []byte) {
	mv, err := protocol.DecodeMovePayload(payload)
	if err != nil {
		return
	}
	sess, ok := s.byPlayer[username]
	if !ok {
		return
	}

	sess.ProcessMove(username, mv.Move, mv.Item)

	if sess.IsOver() {
		s.settle(ctx, sess, events.EndCauseDeath)
	} else {
		s.sendState(sess)
	}
}

func (s *Server) handlePlayAI(ctx context.Context, conn *Conn, username string) {
	if _, busy := s.byPlayer[username]; busy {
		s.sendFail(conn, "you are already in a game")
		return
	}
	s.startSession(ctx, username, game.AIName, true, false)
}

func (s *Server) handleQueueJoin(ctx context.Context, conn *Conn, username string) {
	if _, busy := s.byPlayer[username]; busy {
		s.sendFail(conn, "you are already in a game")
		return
	}
	if !s.matchmaker.JoinQueue(username) {
		s.sendFail(conn, "already in queue")
		return
	}

	s.bus.Emit(ctx, events.Event{
		Type:    events.EventQueueJoined,
		Source:  "server",
		Payload: events.QueuePayload{Username: username, Depth: s.matchmaker.QueueDepth()},
	})
	s.sendOK(conn, "joined queue")
}

// handleTogglePause only honors AI matches; pausing a human opponent's
// clock is not a thing.
func (s *Server) handleTogglePause(ctx context.Context, username string) {
	sess, ok := s.byPlayer[username]
	if !ok || !sess.IsAIGame() {
		return
	}
	sess.TogglePause()

	s.bus.Emit(ctx, events.Event{
		Type:    events.EventMatchPaused,
		Source:  "server",
		Payload: events.PlayerPayload{Username: username},
	})
	s.sendState(sess)
}

func (s *Server) handleLeaderboard(conn *Conn) {
	board, err := s.users.Leaderboard()
	if err != nil {
		s.sendFail(conn, "leaderboard unavailable")
		return
	}

	b := protocol.NewPacketBuilder()
	b.WriteUint32(uint32(len(board)))
	for _, row := range board {
		b.WriteFixedString(row.Username, protocol.NameLen)
		b.WriteInt32(int32(row.Elo))
		b.WriteInt32(int32(row.Wins))
		b.WriteInt32(int32(row.Losses))
	}
	conn.Send(protocol.CmdLeaderboardResp, b.Build())
}

func (s *Server) handleHistory(conn *Conn, username string) {
	entries, err := s.users.History(username)
	if err != nil {
		s.sendFail(conn, "history unavailable")
		return
	}
	conn.Send(protocol.CmdHistoryData, protocol.EncodeHistoryEntries(entries))
}

func (s *Server) handleListReplays(conn *Conn, payload []byte) {
	filter := protocol.TrimName(string(payload))
	names, err := s.replays.List(filter)
	if err != nil {
		s.sendFail(conn, "replay list unavailable")
		return
	}

	b := protocol.NewPacketBuilder()
	b.WriteUint32(uint32(len(names)))
	for _, name := range names {
		b.WriteFixedString(name, protocol.ReplayFileLen)
	}
	conn.Send(protocol.CmdListReplaysResp, b.Build())
}

func (s *Server) handleGetReplay(conn *Conn, payload []byte) {
	name := protocol.TrimName(string(payload))
	data, err := s.replays.Raw(name)
	if err != nil {
		s.sendFail(conn, "replay not found")
		return
	}
	conn.Send(protocol.CmdReplayData, data)
}

func (s *Server) handleFriendMutation(conn *Conn, username string, cmd byte, payload []byte) {
	pkt, err := protocol.DecodeChallengePacket(payload)
	if err != nil {
		s.sendFail(conn, "malformed friend request")
		return
	}
	other := pkt.TargetUser

	switch cmd {
	case protocol.CmdFriendAdd:
		err = s.users.AddFriend(username, other)
	case protocol.CmdFriendAccept:
		err = s.users.AcceptFriend(username, other)
	case protocol.CmdFriendRemove:
		err = s.users.RemoveFriend(username, other)
	}

	if err != nil {
		if isFriendError(err) {
			s.sendFail(conn, err.Error())
		} else {
			s.sendFail(conn, "friend operation failed")
		}
		return
	}
	s.sendOK(conn, "ok")
}

func isFriendError(err error) bool {
	return errors.Is(err, store.ErrSelfFriend) ||
		errors.Is(err, store.ErrUserNotFound) ||
		errors.Is(err, store.ErrFriendExists) ||
		errors.Is(err, store.ErrNoPendingRequest)
}

func (s *Server) handleFriendList(conn *Conn, username string) {
	friends, err := s.users.Friends(username)
	if err != nil {
		s.sendFail(conn, "friend list unavailable")
		return
	}
	conn.Send(protocol.CmdFriendListResp, encodeNameList(friends))
}

func (s *Server) handleFriendIncoming(conn *Conn, username string) {
	incoming, err := s.users.IncomingRequests(username)
	if err != nil {
		s.sendFail(conn, "friend requests unavailable")
		return
	}
	conn.Send(protocol.CmdFriendReqIncoming, encodeNameList(incoming))
}

func encodeNameList(names []string) []byte {
	b := protocol.NewPacketBuilder()
	b.WriteUint32(uint32(len(names)))
	for _, name := range names {
		b.WriteFixedString(name, protocol.NameLen)
	}
	return b.Build()
}

func (s *Server) sendOK(conn *Conn, msg string) {
	b := protocol.NewPacketBuilder()
	b.WriteFixedString(msg, protocol.MessageLen)
	conn.Send(protocol.CmdOK, b.Build())
}

func (s *Server) sendFail(conn *Conn, msg string) {
	b := protocol.NewPacketBuilder()
	b.WriteFixedString(msg, protocol.MessageLen)
	conn.Send(protocol.CmdFail, b.Build())
}
