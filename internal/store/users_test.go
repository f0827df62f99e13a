package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *UserStore {
	t.Helper()
	us, err := NewUserStore(filepath.Join(t.TempDir(), "buckshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { us.Close() })
	return us
}

func TestRegisterAndLogin(t *testing.T) {
	us := newTestStore(t)

	require.NoError(t, us.Register("alice", "hunter2"))
	require.NoError(t, us.Login("alice", "hunter2"))

	require.ErrorIs(t, us.Login("alice", "wrong"), ErrInvalidCredentials)
	require.ErrorIs(t, us.Login("nobody", "hunter2"), ErrInvalidCredentials)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	us := newTestStore(t)

	require.NoError(t, us.Register("alice", "first"))
	require.ErrorIs(t, us.Register("alice", "second"), ErrUserExists)
}

func TestRegisterEmptyRejected(t *testing.T) {
	us := newTestStore(t)

	require.ErrorIs(t, us.Register("", "pw"), ErrInvalidCredentials)
	require.ErrorIs(t, us.Register("alice", ""), ErrInvalidCredentials)
}

func TestRecordMatchEqualRatings(t *testing.T) {
	us := newTestStore(t)
	require.NoError(t, us.Register("alice", "pw"))
	require.NoError(t, us.Register("bob", "pw"))

	winDelta, loseDelta, err := us.RecordMatch("alice", "bob")
	require.NoError(t, err)

	require.Equal(t, 16, winDelta)
	require.Equal(t, -16, loseDelta)
	require.Equal(t, 1016, us.Elo("alice"))
	require.Equal(t, 984, us.Elo("bob"))
}

func TestRecordMatchDeltasTruncateTowardZero(t *testing.T) {
	us := newTestStore(t)
	require.NoError(t, us.Register("alice", "pw"))
	require.NoError(t, us.Register("bob", "pw"))

	// 1100 vs 1000: expected score 0.64, raw exchange 11.51.
	_, err := us.db.Exec("UPDATE users SET elo = 1100 WHERE username = 'alice'")
	require.NoError(t, err)

	winDelta, loseDelta, err := us.RecordMatch("alice", "bob")
	require.NoError(t, err)

	require.Equal(t, 11, winDelta, "fraction is truncated, not rounded")
	require.Equal(t, -11, loseDelta, "both sides move by the same magnitude")
	require.Equal(t, 1111, us.Elo("alice"))
	require.Equal(t, 989, us.Elo("bob"))
}

func TestRecordMatchAgainstVirtualOpponent(t *testing.T) {
	us := newTestStore(t)
	require.NoError(t, us.Register("alice", "pw"))

	// "The Dealer" has no row and rates as the default 1000.
	winDelta, loseDelta, err := us.RecordMatch("alice", "The Dealer")
	require.NoError(t, err)

	require.Equal(t, 16, winDelta)
	require.Equal(t, -16, loseDelta)
	require.Equal(t, 1016, us.Elo("alice"))
	require.Equal(t, DefaultElo, us.Elo("The Dealer"), "virtual opponent is never persisted")

	exists, err := us.Exists("The Dealer")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestLeaderboardOrderAndCap(t *testing.T) {
	us := newTestStore(t)
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	for i, name := range names {
		require.NoError(t, us.Register(name, "pw"))
		_, err := us.db.Exec("UPDATE users SET elo = ? WHERE username = ?", 900+i*10, name)
		require.NoError(t, err)
	}

	board, err := us.Leaderboard()
	require.NoError(t, err)

	require.Len(t, board, LeaderboardSize)
	require.Equal(t, "l", board[0].Username)
	require.Equal(t, 1010, board[0].Elo)
	for i := 1; i < len(board); i++ {
		require.GreaterOrEqual(t, board[i-1].Elo, board[i].Elo)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	us := newTestStore(t)
	require.NoError(t, us.Register("alice", "pw"))

	require.NoError(t, us.AddHistory("alice", "bob", "WIN", 16, "123_alice_vs_bob.replay"))
	require.NoError(t, us.AddHistory("alice", "carol", "LOSS", -12, "124_carol_vs_alice.replay"))

	hist, err := us.History("alice")
	require.NoError(t, err)
	require.Len(t, hist, 2)

	require.Equal(t, "carol", hist[0].Opponent, "newest first")
	require.Equal(t, "LOSS", hist[0].Result)
	require.Equal(t, int32(-12), hist[0].EloChange)
	require.Equal(t, "bob", hist[1].Opponent)
	require.Equal(t, "123_alice_vs_bob.replay", hist[1].ReplayFile)
}

func TestFriendLifecycle(t *testing.T) {
	us := newTestStore(t)
	require.NoError(t, us.Register("alice", "pw"))
	require.NoError(t, us.Register("bob", "pw"))

	require.NoError(t, us.AddFriend("alice", "bob"))

	incoming, err := us.IncomingRequests("bob")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, incoming)

	// Only the target can accept; the requester accepting is a no-op error.
	require.ErrorIs(t, us.AcceptFriend("alice", "bob"), ErrNoPendingRequest)
	require.NoError(t, us.AcceptFriend("bob", "alice"))

	friends, err := us.Friends("alice")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, friends)

	friends, err = us.Friends("bob")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, friends)

	require.NoError(t, us.RemoveFriend("bob", "alice"))
	friends, err = us.Friends("alice")
	require.NoError(t, err)
	require.Empty(t, friends)
}

func TestFriendRequestValidation(t *testing.T) {
	us := newTestStore(t)
	require.NoError(t, us.Register("alice", "pw"))
	require.NoError(t, us.Register("bob", "pw"))

	require.ErrorIs(t, us.AddFriend("alice", "alice"), ErrSelfFriend)
	require.ErrorIs(t, us.AddFriend("alice", "ghost"), ErrUserNotFound)

	require.NoError(t, us.AddFriend("alice", "bob"))
	require.ErrorIs(t, us.AddFriend("alice", "bob"), ErrFriendExists)
	require.ErrorIs(t, us.AddFriend("bob", "alice"), ErrFriendExists,
		"one relation per unordered pair")
}
