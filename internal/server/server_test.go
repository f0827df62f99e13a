package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhatientri/Buckshot/internal/config"
	"github.com/nhatientri/Buckshot/internal/events"
	"github.com/nhatientri/Buckshot/internal/game"
	"github.com/nhatientri/Buckshot/internal/protocol"
	"github.com/nhatientri/Buckshot/internal/store"
)

type clientFrame struct {
	cmd     byte
	payload []byte
}

// testClient is the far end of a net.Pipe, pumping server frames into a
// channel so server writes never block.
type testClient struct {
	conn   net.Conn
	frames chan clientFrame
}

func (c *testClient) expect(t *testing.T, cmd byte) clientFrame {
	t.Helper()
	for {
		select {
		case f := <-c.frames:
			if f.cmd == cmd {
				return f
			}
			// Skip interleaved broadcasts (user lists, state pushes).
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for command %d", cmd)
		}
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	users, err := store.NewUserStore(filepath.Join(dir, "buckshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { users.Close() })

	replays, err := store.NewReplayStore(filepath.Join(dir, "replays"))
	require.NoError(t, err)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	return NewServer(config.DefaultConfig(), users, replays, bus)
}

// connect registers a pipe-backed connection and returns both ends.
func connect(t *testing.T, s *Server) (*Conn, *testClient) {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	conn := NewConn(ConnID(s.nextID.Add(1)), serverSide)
	s.registry.Register(conn)

	client := &testClient{conn: clientSide, frames: make(chan clientFrame, 64)}
	go func() {
		for {
			cmd, payload, err := protocol.ReadFrame(clientSide)
			if err != nil {
				close(client.frames)
				return
			}
			client.frames <- clientFrame{cmd: cmd, payload: payload}
		}
	}()
	t.Cleanup(func() { clientSide.Close() })

	return conn, client
}

func loginPayload(user, pass string) []byte {
	return protocol.EncodeLoginRequest(protocol.LoginRequest{Username: user, Password: pass})
}

// loginUser registers and logs a user in through the router.
func loginUser(t *testing.T, s *Server, name string) (*Conn, *testClient) {
	t.Helper()
	ctx := context.Background()
	conn, client := connect(t, s)

	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdRegister, payload: loginPayload(name, "pw")})
	client.expect(t, protocol.CmdOK)

	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdLogin, payload: loginPayload(name, "pw")})
	client.expect(t, protocol.CmdOK)

	require.Equal(t, name, conn.Username())
	return conn, client
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	conn, client := connect(t, s)

	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdRegister, payload: loginPayload("alice", "pw")})
	client.expect(t, protocol.CmdOK)

	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdRegister, payload: loginPayload("alice", "pw")})
	client.expect(t, protocol.CmdFail)
}

func TestLoginRejectsWrongPasswordAndDoubleLogin(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	loginUser(t, s, "alice")

	other, otherClient := connect(t, s)
	s.handleFrame(ctx, inboundFrame{connID: other.ID(), cmd: protocol.CmdLogin, payload: loginPayload("alice", "bad")})
	otherClient.expect(t, protocol.CmdFail)

	s.handleFrame(ctx, inboundFrame{connID: other.ID(), cmd: protocol.CmdLogin, payload: loginPayload("alice", "pw")})
	otherClient.expect(t, protocol.CmdFail)
}

func TestCommandsRequireLogin(t *testing.T) {
	s := newTestServer(t)
	conn, client := connect(t, s)

	s.handleFrame(context.Background(), inboundFrame{connID: conn.ID(), cmd: protocol.CmdListUsers})
	client.expect(t, protocol.CmdFail)
}

func TestMutualChallengeStartsMatch(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	aliceConn, aliceClient := loginUser(t, s, "alice")
	bobConn, bobClient := loginUser(t, s, "bob")

	challenge := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "bob"})
	s.handleFrame(ctx, inboundFrame{connID: aliceConn.ID(), cmd: protocol.CmdChallengeReq, payload: challenge})

	// Bob sees the forwarded challenge carrying the challenger's name.
	forwarded := bobClient.expect(t, protocol.CmdChallengeReq)
	pkt, err := protocol.DecodeChallengePacket(forwarded.payload)
	require.NoError(t, err)
	require.Equal(t, "alice", pkt.TargetUser)

	answer := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "alice"})
	s.handleFrame(ctx, inboundFrame{connID: bobConn.ID(), cmd: protocol.CmdChallengeResp, payload: answer})

	start := aliceClient.expect(t, protocol.CmdGameStart)
	state, err := protocol.DecodeGameStatePacket(start.payload)
	require.NoError(t, err)
	require.Equal(t, "alice", state.P1Name, "the earlier challenger opens")
	require.Equal(t, "bob", state.P2Name)
	bobClient.expect(t, protocol.CmdGameStart)

	require.Len(t, s.sessions, 1)
	require.Same(t, s.byPlayer["alice"], s.byPlayer["bob"])
}

func TestChallengeValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	aliceConn, aliceClient := loginUser(t, s, "alice")

	self := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "alice"})
	s.handleFrame(ctx, inboundFrame{connID: aliceConn.ID(), cmd: protocol.CmdChallengeReq, payload: self})
	aliceClient.expect(t, protocol.CmdFail)

	offline := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "ghost"})
	s.handleFrame(ctx, inboundFrame{connID: aliceConn.ID(), cmd: protocol.CmdChallengeReq, payload: offline})
	aliceClient.expect(t, protocol.CmdFail)
}

func TestPlayAIStartsSessionAndDisconnectSettlesIt(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	conn, client := loginUser(t, s, "alice")

	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdPlayAI})
	start := client.expect(t, protocol.CmdGameStart)
	state, err := protocol.DecodeGameStatePacket(start.payload)
	require.NoError(t, err)
	require.Equal(t, game.AIName, state.P2Name)
	require.Len(t, s.sessions, 1)

	s.handleDisconnect(ctx, conn.ID())

	require.Empty(t, s.sessions, "dropped player's match is settled and removed")
	require.Empty(t, s.byPlayer)

	hist, err := s.users.History("alice")
	require.NoError(t, err)
	require.Len(t, hist, 1, "exactly one history row")
	require.Equal(t, "LOSS", hist[0].Result)
	require.Equal(t, game.AIName, hist[0].Opponent)

	files, err := s.replays.List("")
	require.NoError(t, err)
	require.Len(t, files, 1, "exactly one replay file")
}

func TestResignSettlesOnce(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	aliceConn, aliceClient := loginUser(t, s, "alice")
	bobConn, _ := loginUser(t, s, "bob")

	challenge := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "bob"})
	s.handleFrame(ctx, inboundFrame{connID: aliceConn.ID(), cmd: protocol.CmdChallengeReq, payload: challenge})
	answer := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "alice"})
	s.handleFrame(ctx, inboundFrame{connID: bobConn.ID(), cmd: protocol.CmdChallengeResp, payload: answer})
	aliceClient.expect(t, protocol.CmdGameStart)

	s.handleFrame(ctx, inboundFrame{connID: bobConn.ID(), cmd: protocol.CmdResign})
	// A second resign after settlement must not double-settle.
	s.handleFrame(ctx, inboundFrame{connID: bobConn.ID(), cmd: protocol.CmdResign})

	final := aliceClient.expect(t, protocol.CmdGameState)
	state, err := protocol.DecodeGameStatePacket(final.payload)
	require.NoError(t, err)
	require.True(t, state.GameOver)
	require.Equal(t, "alice", state.Winner)
	require.Equal(t, int32(16), state.P1EloChange)
	require.Equal(t, int32(-16), state.P2EloChange)

	require.Equal(t, 1016, s.users.Elo("alice"))
	require.Equal(t, 984, s.users.Elo("bob"))

	hist, err := s.users.History("bob")
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestQueueJoinAndBatchPairing(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	aliceConn, aliceClient := loginUser(t, s, "alice")
	bobConn, bobClient := loginUser(t, s, "bob")

	s.handleFrame(ctx, inboundFrame{connID: aliceConn.ID(), cmd: protocol.CmdQueueJoin})
	aliceClient.expect(t, protocol.CmdOK)
	s.handleFrame(ctx, inboundFrame{connID: bobConn.ID(), cmd: protocol.CmdQueueJoin})
	bobClient.expect(t, protocol.CmdOK)

	s.handleFrame(ctx, inboundFrame{connID: aliceConn.ID(), cmd: protocol.CmdQueueJoin})
	aliceClient.expect(t, protocol.CmdFail)

	// Force a batch well past the interval.
	s.tick(ctx, time.Now().Add(time.Minute))

	aliceClient.expect(t, protocol.CmdGameStart)
	bobClient.expect(t, protocol.CmdGameStart)
	require.Len(t, s.sessions, 1)
	require.Zero(t, s.matchmaker.QueueDepth())
}

func TestTogglePauseOnlyForAIMatches(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	conn, client := loginUser(t, s, "alice")

	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdPlayAI})
	client.expect(t, protocol.CmdGameStart)

	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdTogglePause})
	paused := client.expect(t, protocol.CmdGameState)
	state, err := protocol.DecodeGameStatePacket(paused.payload)
	require.NoError(t, err)
	require.True(t, state.IsPaused)
}

func TestLeaderboardResponse(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	conn, client := loginUser(t, s, "alice")

	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdLeaderboard})
	resp := client.expect(t, protocol.CmdLeaderboardResp)

	require.GreaterOrEqual(t, len(resp.payload), 4)
	require.Equal(t, byte(1), resp.payload[0], "one ranked player")
}

func TestMoveWithoutSessionIsIgnored(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	conn, _ := loginUser(t, s, "alice")

	mv := protocol.EncodeMovePayload(protocol.MovePayload{Move: protocol.MoveShootSelf})
	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdGameMove, payload: mv})

	require.Empty(t, s.sessions)
}

func TestRegisterRejectsReservedName(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	conn, client := connect(t, s)

	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdRegister, payload: loginPayload(game.AIName, "pw")})
	client.expect(t, protocol.CmdFail)

	exists, err := s.users.Exists(game.AIName)
	require.NoError(t, err)
	require.False(t, exists, "no account behind the dealer's seat")
}

func TestMutualChallengeRemovesPlayersFromQueue(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	aliceConn, aliceClient := loginUser(t, s, "alice")
	bobConn, bobClient := loginUser(t, s, "bob")

	s.handleFrame(ctx, inboundFrame{connID: aliceConn.ID(), cmd: protocol.CmdQueueJoin})
	aliceClient.expect(t, protocol.CmdOK)
	s.handleFrame(ctx, inboundFrame{connID: bobConn.ID(), cmd: protocol.CmdQueueJoin})
	bobClient.expect(t, protocol.CmdOK)

	// Both are queued, then match each other directly instead.
	challenge := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "bob"})
	s.handleFrame(ctx, inboundFrame{connID: aliceConn.ID(), cmd: protocol.CmdChallengeReq, payload: challenge})
	answer := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "alice"})
	s.handleFrame(ctx, inboundFrame{connID: bobConn.ID(), cmd: protocol.CmdChallengeResp, payload: answer})

	aliceClient.expect(t, protocol.CmdGameStart)
	bobClient.expect(t, protocol.CmdGameStart)

	require.False(t, s.matchmaker.InQueue("alice"))
	require.False(t, s.matchmaker.InQueue("bob"))
	require.Zero(t, s.matchmaker.QueueDepth())

	first := s.byPlayer["alice"]
	require.NotNil(t, first)
	require.Same(t, first, s.byPlayer["bob"])

	// A later batch must not open a second session over the first.
	s.tick(ctx, time.Now().Add(time.Minute))

	require.Len(t, s.sessions, 1)
	require.Same(t, first, s.byPlayer["alice"])
	require.Same(t, first, s.byPlayer["bob"])
}

func TestTurnTimeoutSettlesWithHistoryAndReplay(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	aliceConn, aliceClient := loginUser(t, s, "alice")
	bobConn, bobClient := loginUser(t, s, "bob")

	// Zero window: the current turn is forfeit on the first sweep.
	s.cfg.App.Timers.TurnTimeoutSec = 0

	challenge := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "bob"})
	s.handleFrame(ctx, inboundFrame{connID: aliceConn.ID(), cmd: protocol.CmdChallengeReq, payload: challenge})
	answer := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "alice"})
	s.handleFrame(ctx, inboundFrame{connID: bobConn.ID(), cmd: protocol.CmdChallengeResp, payload: answer})
	aliceClient.expect(t, protocol.CmdGameStart)
	bobClient.expect(t, protocol.CmdGameStart)

	s.tick(ctx, time.Now().Add(time.Minute))

	final := bobClient.expect(t, protocol.CmdGameState)
	state, err := protocol.DecodeGameStatePacket(final.payload)
	require.NoError(t, err)
	require.True(t, state.GameOver)
	require.Equal(t, "bob", state.Winner, "alice opened, so her clock ran out")
	require.Contains(t, state.Message, "AFK TIMEOUT")

	require.Empty(t, s.sessions, "timed-out match is settled and removed")
	require.Empty(t, s.byPlayer)

	for user, result := range map[string]string{"alice": "LOSS", "bob": "WIN"} {
		hist, err := s.users.History(user)
		require.NoError(t, err)
		require.Len(t, hist, 1, "exactly one history row for %s", user)
		require.Equal(t, result, hist[0].Result)
	}

	files, err := s.replays.List("")
	require.NoError(t, err)
	require.Len(t, files, 1, "exactly one replay file")
}

func TestLethalMoveSettlesWithHistoryAndReplay(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	aliceConn, aliceClient := loginUser(t, s, "alice")
	bobConn, bobClient := loginUser(t, s, "bob")

	challenge := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "bob"})
	s.handleFrame(ctx, inboundFrame{connID: aliceConn.ID(), cmd: protocol.CmdChallengeReq, payload: challenge})
	answer := protocol.EncodeChallengePacket(protocol.ChallengePacket{TargetUser: "alice"})
	s.handleFrame(ctx, inboundFrame{connID: bobConn.ID(), cmd: protocol.CmdChallengeResp, payload: answer})

	sess := s.byPlayer["alice"]
	require.NotNil(t, sess)

	conns := map[string]*Conn{"alice": aliceConn, "bob": bobConn}
	drain := func(c *testClient) {
		for {
			select {
			case <-c.frames:
			default:
				return
			}
		}
	}

	// Whoever holds the turn keeps firing at the other until someone
	// drops. Every magazine loads at least one live shell, so the fight
	// cannot stall.
	mv := protocol.EncodeMovePayload(protocol.MovePayload{Move: protocol.MoveShootOpponent, Item: protocol.ItemNone})
	for i := 0; i < 1000 && !sess.IsOver(); i++ {
		shooter := conns[sess.CurrentTurn()]
		s.handleFrame(ctx, inboundFrame{connID: shooter.ID(), cmd: protocol.CmdGameMove, payload: mv})
		drain(aliceClient)
		drain(bobClient)
	}
	require.True(t, sess.IsOver(), "shootout must conclude")

	winner := sess.Winner()
	require.Contains(t, []string{"alice", "bob"}, winner)

	require.Empty(t, s.sessions, "concluded match is settled and removed")
	require.Empty(t, s.byPlayer)

	for _, user := range []string{"alice", "bob"} {
		hist, err := s.users.History(user)
		require.NoError(t, err)
		require.Len(t, hist, 1, "exactly one history row for %s", user)
		want := "LOSS"
		if user == winner {
			want = "WIN"
		}
		require.Equal(t, want, hist[0].Result)
	}

	files, err := s.replays.List("")
	require.NoError(t, err)
	require.Len(t, files, 1, "exactly one replay file")
}

func TestSettleEmitsReplaySavedEvent(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	conn, client := loginUser(t, s, "alice")

	saved := make(chan events.ReplaySavedPayload, 1)
	s.bus.Subscribe(events.EventReplaySaved, "test.replaySaved", func(ctx context.Context, event events.Event) error {
		if payload, ok := event.Payload.(events.ReplaySavedPayload); ok {
			saved <- payload
		}
		return nil
	})

	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdPlayAI})
	client.expect(t, protocol.CmdGameStart)
	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdResign})

	select {
	case payload := <-saved:
		require.Equal(t, game.AIName, payload.Winner)
		require.Equal(t, "alice", payload.Loser)

		files, err := s.replays.List("")
		require.NoError(t, err)
		require.Equal(t, []string{payload.File}, files)
	case <-time.After(2 * time.Second):
		t.Fatal("no replay notification after settlement")
	}
}

func TestStatsSnapshot(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	conn, client := loginUser(t, s, "alice")

	s.handleFrame(ctx, inboundFrame{connID: conn.ID(), cmd: protocol.CmdPlayAI})
	client.expect(t, protocol.CmdGameStart)
	s.refreshStats()

	stats := s.Stats()
	require.Len(t, stats.OnlinePlayers, 1)
	require.True(t, stats.OnlinePlayers[0].InGame)
	require.Len(t, stats.ActiveSessions, 1)
	require.True(t, stats.ActiveSessions[0].AIMatch)
}
