// Package game implements the per-match session state machine: shell and
// item mechanics, turn order, the turn timer with pause/resume, and the
// scripted AI opponent.
package game

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nhatientri/Buckshot/internal/protocol"
)

const (
	// MaxHP is the starting and maximum health of both players.
	MaxHP = 5

	// MaxInventory is the number of item slots each player has.
	MaxInventory = 6

	// MaxItemUsesPerTurn bounds item uses between shots.
	MaxItemUsesPerTurn = 2

	// TurnSeconds is the turn timer window.
	TurnSeconds = 30

	// itemsPerReload is how many items each player draws on a fresh load.
	itemsPerReload = 3
)

// shellKnowledge is what the AI remembers about the front shell from a
// magnifying-glass scan. It survives until the shell is fired or ejected;
// an Inverter flips it in place.
type shellKnowledge int

const (
	shellUnknown shellKnowledge = iota
	shellKnownLive
	shellKnownBlank
)

// Session is one active match. It is not safe for concurrent use: the
// dispatch loop is its single owner, which is what makes every transition
// atomic with respect to other connections.
type Session struct {
	logger zerolog.Logger
	rng    *rand.Rand

	p1Name string
	p2Name string
	aiSeat bool // player 2 is the scripted AI

	hp1, hp2 int
	shells   []bool // front of the queue is index 0; true = live
	p1Items  []protocol.ItemType
	p2Items  []protocol.ItemType

	p1Handcuffed bool
	p2Handcuffed bool
	knifeActive  bool

	currentTurn       string
	itemsUsedThisTurn int
	lastMessage       string
	gameOver          bool
	winner            string
	settled           bool

	eloChangeP1 int32
	eloChangeP2 int32

	// lastAction is the monotonic anchor for the turn timer. Pausing
	// freezes the remaining seconds; resuming recomputes the anchor so
	// the countdown is continuous across the pause.
	lastAction      time.Time
	paused          bool
	pausedRemaining int32

	aiKnown      shellKnowledge
	lastAIAction time.Time

	history []protocol.GameStatePacket
}

// NewSession creates a session between two players. P1 always has the
// first turn. When aiOpponent is true, player 2 is the built-in AI and
// has no connection.
func NewSession(p1, p2 string, aiOpponent bool) *Session {
	s := &Session{
		logger:      log.With().Str("component", "session").Str("p1", p1).Str("p2", p2).Logger(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		p1Name:      p1,
		p2Name:      p2,
		aiSeat:      aiOpponent,
		hp1:         MaxHP,
		hp2:         MaxHP,
		currentTurn: p1,
		lastAction:  time.Now(),
	}

	s.loadShells()
	s.history = append(s.history, s.State())

	s.logger.Info().Bool("ai", aiOpponent).Msg("session started")
	return s
}

// loadShells draws a fresh shell queue of 2-8 shells with at least one
// live and one blank, shuffles it, and deals 3 items to each player.
func (s *Session) loadShells() {
	count := 2 + s.rng.Intn(7)

	s.shells = s.shells[:0]
	s.shells = append(s.shells, true, false)
	for i := 2; i < count; i++ {
		s.shells = append(s.shells, s.rng.Intn(2) == 1)
	}
	s.rng.Shuffle(len(s.shells), func(i, j int) {
		s.shells[i], s.shells[j] = s.shells[j], s.shells[i]
	})

	// Whatever the AI knew about the old front shell is gone.
	s.aiKnown = shellUnknown

	live, blank := s.countShells()
	s.lastMessage += fmt.Sprintf(" Loaded %d shells (%d Live, %d Blank)", count, live, blank)

	s.distributeItems()
}

// distributeItems deals itemsPerReload random items to each player,
// filling empty slots up to the inventory cap.
func (s *Session) distributeItems() {
	for i := 0; i < itemsPerReload; i++ {
		item := protocol.ItemType(1 + s.rng.Intn(7))
		if len(s.p1Items) < MaxInventory {
			s.p1Items = append(s.p1Items, item)
		}
		item = protocol.ItemType(1 + s.rng.Intn(7))
		if len(s.p2Items) < MaxInventory {
			s.p2Items = append(s.p2Items, item)
		}
	}
	s.lastMessage += " Items distributed."
}

func (s *Session) countShells() (live, blank int) {
	for _, sh := range s.shells {
		if sh {
			live++
		} else {
			blank++
		}
	}
	return live, blank
}

// ProcessMove applies a move from a player. Moves from anyone but the
// current-turn player, or while the session is paused or over, are
// silently ignored.
func (s *Session) ProcessMove(player string, move protocol.MoveType, item protocol.ItemType) {
	if s.gameOver || s.paused || player != s.currentTurn {
		return
	}

	s.lastAction = time.Now()

	if len(s.shells) == 0 {
		s.lastMessage = ""
		s.loadShells()
	}

	if move == protocol.MoveUseItem {
		s.useItem(player, item)
		return // item use never ends the turn
	}
	if move != protocol.MoveShootSelf && move != protocol.MoveShootOpponent {
		return
	}

	isLive := s.shells[0]
	s.shells = s.shells[1:]
	s.aiKnown = shellUnknown

	damage := 1
	if s.knifeActive {
		damage = 2
	}
	s.knifeActive = false // consumed whatever the outcome
	s.itemsUsedThisTurn = 0

	shellType := "BLANK"
	if isLive {
		shellType = "LIVE"
	}

	switchTurn := true
	if move == protocol.MoveShootSelf {
		s.lastMessage = player + " shot THEMSELVES. It was " + shellType + "."
		if isLive {
			s.damage(player, damage)
		} else {
			// Blank on yourself grants an extra turn.
			switchTurn = false
			s.lastMessage += " Extra turn!"
		}
	} else {
		opponent := s.opponentOf(player)
		s.lastMessage = player + " shot " + opponent + ". It was " + shellType + "."
		if isLive {
			s.damage(opponent, damage)
		}
	}

	// The handcuff skip applies to the player about to receive the turn
	// and is consumed the moment it prevents the switch.
	if switchTurn && s.handcuffed(s.opponentOf(player)) {
		s.lastMessage += " Opponent was HANDCUFFED. Turn skipped!"
		s.setHandcuffed(s.opponentOf(player), false)
		switchTurn = false
	}

	if s.hp1 <= 0 {
		s.endGame(s.p2Name, s.p1Name+" died!")
	} else if s.hp2 <= 0 {
		s.endGame(s.p1Name, s.p2Name+" died!")
	} else if switchTurn {
		s.currentTurn = s.opponentOf(s.currentTurn)
	}

	if len(s.shells) == 0 && !s.gameOver {
		s.loadShells()
		s.lastMessage += " (Reloading...)"
	}

	s.history = append(s.history, s.State())
}

// useItem applies a single item effect. Consumes one of the turn's item
// uses; does not end the turn.
func (s *Session) useItem(player string, item protocol.ItemType) {
	if s.itemsUsedThisTurn >= MaxItemUsesPerTurn {
		s.lastMessage = player + " cannot use more items this turn!"
		return
	}
	if !item.Valid() {
		s.lastMessage = player + " tried to use invalid item!"
		return
	}

	inventory := &s.p1Items
	if player == s.p2Name {
		inventory = &s.p2Items
	}
	idx := -1
	for i, it := range *inventory {
		if it == item {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.lastMessage = player + " tried to use invalid item!"
		return
	}
	*inventory = append((*inventory)[:idx], (*inventory)[idx+1:]...)
	s.itemsUsedThisTurn++

	s.lastMessage = player + " used " + item.String() + ". "

	switch item {
	case protocol.ItemBeer:
		if len(s.shells) > 0 {
			ejected := s.shells[0]
			s.shells = s.shells[1:]
			s.aiKnown = shellUnknown
			if ejected {
				s.lastMessage += "Ejected a LIVE round."
			} else {
				s.lastMessage += "Ejected a BLANK round."
			}
		} else {
			s.lastMessage += "But gun was empty!"
		}

	case protocol.ItemCigarettes:
		if s.heal(player, 1) {
			s.lastMessage += "+1 HP."
		} else {
			s.lastMessage += "HP Full!"
		}

	case protocol.ItemHandcuffs:
		s.lastMessage += "Opponent skips next turn."
		s.setHandcuffed(s.opponentOf(player), true)

	case protocol.ItemMagnifyingGlass:
		if len(s.shells) > 0 {
			if s.shells[0] {
				s.lastMessage += "Next shell is LIVE."
			} else {
				s.lastMessage += "Next shell is BLANK."
			}
			if s.aiSeat && player == s.p2Name {
				if s.shells[0] {
					s.aiKnown = shellKnownLive
				} else {
					s.aiKnown = shellKnownBlank
				}
			}
		}

	case protocol.ItemKnife:
		s.lastMessage += "Next shot double damage."
		s.knifeActive = true

	case protocol.ItemInverter:
		s.lastMessage += "Polarity flipped."
		if len(s.shells) > 0 {
			s.shells[0] = !s.shells[0]
		}
		switch s.aiKnown {
		case shellKnownLive:
			s.aiKnown = shellKnownBlank
		case shellKnownBlank:
			s.aiKnown = shellKnownLive
		}

	case protocol.ItemExpiredMedicine:
		if s.rng.Intn(2) == 0 {
			s.heal(player, 2)
			s.lastMessage += "Healed 2 HP!"
		} else {
			s.lastMessage += "Lost 1 HP!"
			s.damage(player, 1)
			if s.hp1 <= 0 {
				s.endGame(s.p2Name, s.p1Name+" died!")
			} else if s.hp2 <= 0 {
				s.endGame(s.p1Name, s.p2Name+" died!")
			}
		}
	}
}

// Resign unconditionally ends the game with the other player as winner.
// No-op when the game is already over.
func (s *Session) Resign(player string) {
	if s.gameOver {
		return
	}
	if player != s.p1Name && player != s.p2Name {
		return
	}

	winner := s.opponentOf(player)
	s.gameOver = true
	s.winner = winner
	s.lastMessage = player + " RESIGNED. " + winner + " Wins!"
	// Zero the loser's HP so clients render a finished duel.
	if player == s.p1Name {
		s.hp1 = 0
	} else {
		s.hp2 = 0
	}

	s.history = append(s.history, s.State())
	s.logger.Info().Str("winner", winner).Msg("player resigned")
}

// CheckTimeout resigns the current-turn player when they have not acted
// within the window. Returns true when the session just timed out.
func (s *Session) CheckTimeout(window time.Duration) bool {
	if s.gameOver || s.paused {
		return false
	}
	if time.Since(s.lastAction) <= window {
		return false
	}
	s.Resign(s.currentTurn)
	s.lastMessage += " (AFK TIMEOUT)"
	return true
}

// TogglePause freezes or resumes the turn timer. While paused, moves,
// timeouts, and AI turns are all suppressed.
func (s *Session) TogglePause() {
	if s.gameOver {
		return
	}
	if !s.paused {
		s.pausedRemaining = s.turnTimeRemaining()
		s.paused = true
		s.lastMessage = "Game PAUSED."
		return
	}
	// Recompute the anchor so the countdown continues where it stopped.
	s.lastAction = time.Now().Add(-time.Duration(TurnSeconds-s.pausedRemaining) * time.Second)
	s.paused = false
	s.lastMessage = "Game RESUMED."
}

func (s *Session) turnTimeRemaining() int32 {
	if s.paused {
		return s.pausedRemaining
	}
	remaining := TurnSeconds - int32(time.Since(s.lastAction)/time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (s *Session) opponentOf(player string) string {
	if player == s.p1Name {
		return s.p2Name
	}
	return s.p1Name
}

func (s *Session) handcuffed(player string) bool {
	if player == s.p1Name {
		return s.p1Handcuffed
	}
	return s.p2Handcuffed
}

func (s *Session) setHandcuffed(player string, v bool) {
	if player == s.p1Name {
		s.p1Handcuffed = v
	} else {
		s.p2Handcuffed = v
	}
}

// heal raises a player's HP by amount, capped at MaxHP. Returns false if
// the player was already at full health.
func (s *Session) heal(player string, amount int) bool {
	hp := &s.hp1
	if player == s.p2Name {
		hp = &s.hp2
	}
	if *hp >= MaxHP {
		return false
	}
	*hp += amount
	if *hp > MaxHP {
		*hp = MaxHP
	}
	return true
}

func (s *Session) damage(player string, amount int) {
	if player == s.p1Name {
		s.hp1 -= amount
	} else {
		s.hp2 -= amount
	}
}

func (s *Session) endGame(winner, note string) {
	s.gameOver = true
	s.winner = winner
	s.lastMessage += " " + note
	s.logger.Info().Str("winner", winner).Msg("game over")
}

// SetEloChanges stores the settlement deltas for display in the final
// state broadcast.
func (s *Session) SetEloChanges(p1Delta, p2Delta int32) {
	s.eloChangeP1 = p1Delta
	s.eloChangeP2 = p2Delta
}

// MarkSettled records that ELO, history, and replay persistence have run.
// Returns false when the session was already settled, guaranteeing
// exactly-once settlement across resignation, disconnect, and timeout.
func (s *Session) MarkSettled() bool {
	if s.settled {
		return false
	}
	s.settled = true
	return true
}

// State builds the point-in-time read model sent to clients and stored
// in replays. It never exposes internal mutable structures.
func (s *Session) State() protocol.GameStatePacket {
	live, blank := s.countShells()

	pkt := protocol.GameStatePacket{
		P1HP:              int32(s.hp1),
		P2HP:              int32(s.hp2),
		ShellsRemaining:   int32(len(s.shells)),
		LiveCount:         int32(live),
		BlankCount:        int32(blank),
		P1Handcuffed:      s.p1Handcuffed,
		P2Handcuffed:      s.p2Handcuffed,
		KnifeActive:       s.knifeActive,
		CurrentTurnUser:   s.currentTurn,
		P1Name:            s.p1Name,
		P2Name:            s.p2Name,
		Message:           s.lastMessage,
		GameOver:          s.gameOver,
		TurnTimeRemaining: s.turnTimeRemaining(),
		P1EloChange:       s.eloChangeP1,
		P2EloChange:       s.eloChangeP2,
		IsPaused:          s.paused,
	}

	for i, it := range s.p1Items {
		if i >= protocol.InventorySize {
			break
		}
		pkt.P1Inventory[i] = it
	}
	for i, it := range s.p2Items {
		if i >= protocol.InventorySize {
			break
		}
		pkt.P2Inventory[i] = it
	}

	if s.gameOver {
		pkt.Winner = s.winner
	}

	return pkt
}

// History returns the ordered snapshot log for replay persistence.
func (s *Session) History() []protocol.GameStatePacket {
	out := make([]protocol.GameStatePacket, len(s.history))
	copy(out, s.history)
	return out
}

// P1Name returns player 1's username.
func (s *Session) P1Name() string { return s.p1Name }

// P2Name returns player 2's username (the AI name for AI sessions).
func (s *Session) P2Name() string { return s.p2Name }

// CurrentTurn returns the username whose turn it is.
func (s *Session) CurrentTurn() string { return s.currentTurn }

// IsOver reports whether the game has concluded.
func (s *Session) IsOver() bool { return s.gameOver }

// Winner returns the winner's username; empty until the game is over.
func (s *Session) Winner() string { return s.winner }

// Loser returns the loser's username; empty until the game is over.
func (s *Session) Loser() string {
	if !s.gameOver {
		return ""
	}
	return s.opponentOf(s.winner)
}

// IsAIGame reports whether player 2 is the scripted AI.
func (s *Session) IsAIGame() bool { return s.aiSeat }

// IsPaused reports whether the session is currently paused.
func (s *Session) IsPaused() bool { return s.paused }

// HasPlayer reports whether the named user occupies either seat.
func (s *Session) HasPlayer(player string) bool {
	return player == s.p1Name || player == s.p2Name
}
