package game

import (
	"time"

	"github.com/nhatientri/Buckshot/internal/protocol"
)

// AIName is the username of the built-in opponent. It has no account row;
// match settlement treats it as a virtual 1000-ELO player.
const AIName = "The Dealer"

// aiActionInterval paces AI actions so humans can follow the match.
const aiActionInterval = 2 * time.Second

// ExecuteAITurn performs at most one AI action. The dispatch loop calls
// this every tick; the interval gate turns the calls into one action
// every couple of seconds. Returns true when an action was taken.
//
// The decision ladder, first match wins:
//  1. low on health and holding cigarettes: heal
//  2. shell identity unknown and mixed shells left: scan with the glass
//  3. holding handcuffs and opponent not cuffed: cuff
//  4. front shell blank or probably blank: invert it
//  5. front shell blank or coin-flip blank: eject it with beer
//  6. front shell live or probably live: arm the knife
//  7. shoot the opponent when a live shell is likely, else shoot self
func (s *Session) ExecuteAITurn() bool {
	if !s.aiSeat || s.gameOver || s.paused || s.currentTurn != s.p2Name {
		return false
	}
	if time.Since(s.lastAIAction) < aiActionInterval {
		return false
	}
	s.lastAIAction = time.Now()

	live, blank := s.countShells()
	liveProb := 0.5
	if live+blank > 0 {
		liveProb = float64(live) / float64(live+blank)
	}
	switch s.aiKnown {
	case shellKnownLive:
		liveProb = 1.0
	case shellKnownBlank:
		liveProb = 0.0
	}

	if s.itemsUsedThisTurn < MaxItemUsesPerTurn {
		switch {
		case s.hp2 <= 2 && s.hp2 < MaxHP && s.aiHas(protocol.ItemCigarettes):
			s.ProcessMove(s.p2Name, protocol.MoveUseItem, protocol.ItemCigarettes)
			return true
		case s.aiKnown == shellUnknown && live > 0 && blank > 0 && s.aiHas(protocol.ItemMagnifyingGlass):
			s.ProcessMove(s.p2Name, protocol.MoveUseItem, protocol.ItemMagnifyingGlass)
			return true
		case !s.p1Handcuffed && s.aiHas(protocol.ItemHandcuffs):
			s.ProcessMove(s.p2Name, protocol.MoveUseItem, protocol.ItemHandcuffs)
			return true
		case liveProb < 0.4 && s.aiHas(protocol.ItemInverter):
			s.ProcessMove(s.p2Name, protocol.MoveUseItem, protocol.ItemInverter)
			return true
		case liveProb < 0.5 && s.aiHas(protocol.ItemBeer):
			s.ProcessMove(s.p2Name, protocol.MoveUseItem, protocol.ItemBeer)
			return true
		case liveProb > 0.6 && !s.knifeActive && s.aiHas(protocol.ItemKnife):
			s.ProcessMove(s.p2Name, protocol.MoveUseItem, protocol.ItemKnife)
			return true
		}
	}

	if liveProb >= 0.5 {
		s.ProcessMove(s.p2Name, protocol.MoveShootOpponent, 0)
	} else {
		s.ProcessMove(s.p2Name, protocol.MoveShootSelf, 0)
	}
	return true
}

func (s *Session) aiHas(item protocol.ItemType) bool {
	for _, it := range s.p2Items {
		if it == item {
			return true
		}
	}
	return false
}
