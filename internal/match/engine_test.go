package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedElo(ratings map[string]int) func(string) int {
	return func(name string) int {
		if r, ok := ratings[name]; ok {
			return r
		}
		return 1000
	}
}

func TestMutualChallengeMatches(t *testing.T) {
	e := NewEngine(time.Second)

	_, matched := e.Challenge("alice", "bob")
	require.False(t, matched, "first challenge just waits")

	pair, matched := e.Challenge("bob", "alice")
	require.True(t, matched)
	require.Equal(t, Pair{First: "alice", Second: "bob"}, pair,
		"the earlier challenger opens")

	_, ok := e.ChallengeTarget("alice")
	require.False(t, ok, "both entries consumed")
	_, ok = e.ChallengeTarget("bob")
	require.False(t, ok)
}

func TestChallengeSelfIgnored(t *testing.T) {
	e := NewEngine(time.Second)

	_, matched := e.Challenge("alice", "alice")
	require.False(t, matched)
	_, ok := e.ChallengeTarget("alice")
	require.False(t, ok)
}

func TestChallengeReplacedByNewerTarget(t *testing.T) {
	e := NewEngine(time.Second)

	e.Challenge("alice", "bob")
	e.Challenge("alice", "carol")

	target, ok := e.ChallengeTarget("alice")
	require.True(t, ok)
	require.Equal(t, "carol", target)

	// Bob answering the stale challenge now just records his own.
	_, matched := e.Challenge("bob", "alice")
	require.False(t, matched)
}

func TestQueueJoinLeave(t *testing.T) {
	e := NewEngine(time.Second)

	require.True(t, e.JoinQueue("alice"))
	require.False(t, e.JoinQueue("alice"), "double join refused")
	require.True(t, e.InQueue("alice"))
	require.Equal(t, 1, e.QueueDepth())

	require.True(t, e.LeaveQueue("alice"))
	require.False(t, e.LeaveQueue("alice"))
	require.False(t, e.InQueue("alice"))
}

func TestRemoveUserPurgesEverything(t *testing.T) {
	e := NewEngine(time.Second)

	e.JoinQueue("alice")
	e.Challenge("alice", "bob")
	e.Challenge("carol", "alice")

	e.RemoveUser("alice")

	require.False(t, e.InQueue("alice"))
	_, ok := e.ChallengeTarget("alice")
	require.False(t, ok)
	_, ok = e.ChallengeTarget("carol")
	require.False(t, ok, "challenges aimed at the leaver are dropped")
}

func TestPairByRatingJoinsClosestRatings(t *testing.T) {
	elo := fixedElo(map[string]int{
		"low": 900, "mid1": 1000, "mid2": 1010, "high1": 1200, "high2": 1210,
	})

	pairs, leftover := PairByRating([]string{"high2", "low", "mid1", "high1", "mid2"}, elo)

	require.Len(t, pairs, 2)
	require.Equal(t, Pair{First: "high1", Second: "high2"}, pairs[0])
	require.Equal(t, Pair{First: "mid1", Second: "mid2"}, pairs[1])
	require.Equal(t, []string{"low"}, leftover, "odd player out stays queued")
}

func TestPairByRatingEven(t *testing.T) {
	elo := fixedElo(map[string]int{"a": 1000, "b": 1100, "c": 1200, "d": 1300})

	pairs, leftover := PairByRating([]string{"a", "b", "c", "d"}, elo)

	require.Len(t, pairs, 2)
	require.Empty(t, leftover)
	require.Equal(t, Pair{First: "c", Second: "d"}, pairs[0])
	require.Equal(t, Pair{First: "a", Second: "b"}, pairs[1])
}

func TestBatchRespectsInterval(t *testing.T) {
	e := NewEngine(5 * time.Second)
	elo := fixedElo(nil)
	e.JoinQueue("alice")
	e.JoinQueue("bob")

	now := time.Now()
	require.Nil(t, e.Batch(now.Add(time.Second), elo), "too early")

	pairs := e.Batch(now.Add(6*time.Second), elo)
	require.Len(t, pairs, 1)
	require.Zero(t, e.QueueDepth())

	require.Nil(t, e.Batch(now.Add(7*time.Second), elo), "interval resets after a batch")
}

func TestBatchKeepsLeftoverQueued(t *testing.T) {
	e := NewEngine(time.Millisecond)
	elo := fixedElo(map[string]int{"alice": 1000, "bob": 1100, "carol": 1200})
	e.JoinQueue("alice")
	e.JoinQueue("bob")
	e.JoinQueue("carol")

	pairs := e.Batch(time.Now().Add(time.Second), elo)

	require.Len(t, pairs, 1)
	require.Equal(t, Pair{First: "bob", Second: "carol"}, pairs[0])
	require.True(t, e.InQueue("alice"))
}
