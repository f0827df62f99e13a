// Package match implements matchmaking: direct challenges between named
// players and the rating-sorted queue batcher.
package match

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBatchInterval is how often the queue is paired off.
const DefaultBatchInterval = 5 * time.Second

// Pair is one matched pairing; First gets the opening turn.
type Pair struct {
	First  string
	Second string
}

// Engine tracks pending challenges and the matchmaking queue. It is
// owned by the dispatch loop and is not safe for concurrent use.
type Engine struct {
	logger zerolog.Logger

	// challenges maps challenger to target. A mutual pair of entries
	// is a match.
	challenges map[string]string

	queue     []string
	interval  time.Duration
	lastBatch time.Time
}

// NewEngine creates a matchmaking engine batching at the given interval.
func NewEngine(interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	return &Engine{
		logger:     log.With().Str("component", "matchmaking").Logger(),
		challenges: make(map[string]string),
		interval:   interval,
		lastBatch:  time.Now(),
	}
}

// Challenge records a challenge from challenger to target. When the
// target already has an outstanding challenge back at the challenger,
// both entries are consumed and the pair is returned; the earlier
// challenger gets the opening turn.
func (e *Engine) Challenge(challenger, target string) (Pair, bool) {
	if challenger == target {
		return Pair{}, false
	}
	if e.challenges[target] == challenger {
		delete(e.challenges, target)
		delete(e.challenges, challenger)
		e.logger.Info().Str("p1", target).Str("p2", challenger).Msg("mutual challenge matched")
		return Pair{First: target, Second: challenger}, true
	}
	e.challenges[challenger] = target
	return Pair{}, false
}

// ChallengeTarget returns who the user has challenged, if anyone.
func (e *Engine) ChallengeTarget(user string) (string, bool) {
	target, ok := e.challenges[user]
	return target, ok
}

// CancelChallenge drops the user's outgoing challenge.
func (e *Engine) CancelChallenge(user string) {
	delete(e.challenges, user)
}

// JoinQueue adds a user to the matchmaking queue. Returns false when
// they are already queued.
func (e *Engine) JoinQueue(user string) bool {
	for _, queued := range e.queue {
		if queued == user {
			return false
		}
	}
	e.queue = append(e.queue, user)
	e.logger.Debug().Str("user", user).Int("depth", len(e.queue)).Msg("joined queue")
	return true
}

// LeaveQueue removes a user from the queue. Returns false when they
// were not queued.
func (e *Engine) LeaveQueue(user string) bool {
	for i, queued := range e.queue {
		if queued == user {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return true
		}
	}
	return false
}

// InQueue reports whether the user is queued.
func (e *Engine) InQueue(user string) bool {
	for _, queued := range e.queue {
		if queued == user {
			return true
		}
	}
	return false
}

// QueueDepth returns how many players are waiting.
func (e *Engine) QueueDepth() int { return len(e.queue) }

// RemoveUser purges a disconnected user from the queue, their outgoing
// challenge, and any challenges aimed at them.
func (e *Engine) RemoveUser(user string) {
	e.LeaveQueue(user)
	delete(e.challenges, user)
	for challenger, target := range e.challenges {
		if target == user {
			delete(e.challenges, challenger)
		}
	}
}

// Batch pairs off the queue when the batching interval has elapsed.
// Unpaired players stay queued for the next round.
func (e *Engine) Batch(now time.Time, elo func(string) int) []Pair {
	if now.Sub(e.lastBatch) < e.interval || len(e.queue) < 2 {
		return nil
	}
	e.lastBatch = now

	pairs, leftover := PairByRating(e.queue, elo)
	e.queue = leftover

	for _, p := range pairs {
		e.logger.Info().Str("p1", p.First).Str("p2", p.Second).Msg("queue pair matched")
	}
	return pairs
}

// PairByRating sorts players by rating ascending and repeatedly pops
// the two highest, so each pairing joins the closest-rated players
// still waiting. With an odd count the lowest-rated player is left
// over.
func PairByRating(players []string, elo func(string) int) (pairs []Pair, leftover []string) {
	sorted := append([]string(nil), players...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := elo(sorted[i]), elo(sorted[j])
		if ri != rj {
			return ri < rj
		}
		return sorted[i] < sorted[j]
	})

	for len(sorted) >= 2 {
		a := sorted[len(sorted)-2]
		b := sorted[len(sorted)-1]
		sorted = sorted[:len(sorted)-2]
		pairs = append(pairs, Pair{First: a, Second: b})
	}
	return pairs, sorted
}
