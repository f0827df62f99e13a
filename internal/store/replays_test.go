package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhatientri/Buckshot/internal/protocol"
)

func newTestReplays(t *testing.T) *ReplayStore {
	t.Helper()
	rs, err := NewReplayStore(t.TempDir())
	require.NoError(t, err)
	return rs
}

func sampleSnapshots() []protocol.GameStatePacket {
	return []protocol.GameStatePacket{
		{
			P1HP: 5, P2HP: 5, ShellsRemaining: 4, LiveCount: 2, BlankCount: 2,
			CurrentTurnUser: "alice", P1Name: "alice", P2Name: "bob",
			Message: "Loaded 4 shells (2 Live, 2 Blank) Items distributed.",
		},
		{
			P1HP: 5, P2HP: 3, ShellsRemaining: 3, LiveCount: 1, BlankCount: 2,
			CurrentTurnUser: "bob", P1Name: "alice", P2Name: "bob",
			Message:  "alice shot bob. It was LIVE.",
			GameOver: false,
		},
	}
}

func TestReplaySaveLoadRoundTrip(t *testing.T) {
	rs := newTestReplays(t)
	snaps := sampleSnapshots()

	name, err := rs.Save("alice", "bob", snaps)
	require.NoError(t, err)
	require.Contains(t, name, "_alice_vs_bob.replay")

	loaded, err := rs.Load(name)
	require.NoError(t, err)
	require.Equal(t, snaps, loaded)
}

func TestReplayFileLayout(t *testing.T) {
	rs := newTestReplays(t)

	name, err := rs.Save("alice", "bob", sampleSnapshots())
	require.NoError(t, err)

	raw, err := rs.Raw(name)
	require.NoError(t, err)
	require.Len(t, raw, 4+2*protocol.GameStatePacketSize,
		"uint32 count header plus fixed-size snapshots")
	require.Equal(t, byte(2), raw[0], "little-endian snapshot count")
}

func TestReplayListFilter(t *testing.T) {
	rs := newTestReplays(t)

	_, err := rs.Save("alice", "bob", sampleSnapshots())
	require.NoError(t, err)
	_, err = rs.Save("carol", "dave", sampleSnapshots())
	require.NoError(t, err)

	all, err := rs.List("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	mine, err := rs.List("alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Contains(t, mine[0], "alice_vs_bob")

	none, err := rs.List("zed")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestReplayLoadRejectsCorruptFile(t *testing.T) {
	rs := newTestReplays(t)

	bad := filepath.Join(rs.Dir(), "bad.replay")
	require.NoError(t, os.WriteFile(bad, []byte{9, 0, 0, 0, 1, 2, 3}, 0644))

	_, err := rs.Load("bad.replay")
	require.Error(t, err)
}

func TestReplayLoadStripsPathTraversal(t *testing.T) {
	rs := newTestReplays(t)

	name, err := rs.Save("alice", "bob", sampleSnapshots())
	require.NoError(t, err)

	loaded, err := rs.Load("../../" + name)
	require.NoError(t, err, "name is flattened to its base")
	require.Len(t, loaded, 2)
}

func TestReplayPrune(t *testing.T) {
	rs := newTestReplays(t)

	old, err := rs.Save("alice", "bob", sampleSnapshots())
	require.NoError(t, err)
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(rs.Dir(), old), stale, stale))

	fresh, err := rs.Save("carol", "dave", sampleSnapshots())
	require.NoError(t, err)

	removed, err := rs.Prune(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	left, err := rs.List("")
	require.NoError(t, err)
	require.Equal(t, []string{fresh}, left)

	removed, err = rs.Prune(0)
	require.NoError(t, err)
	require.Zero(t, removed, "zero max age disables pruning")
}
