package core

import (
	"github.com/tolelom/pantheon/battle"
)

// MatchStatus is the lifecycle stage of a match. Transitions only go
// finding -> ongoing -> completed, or finding -> completed on cancel.
type MatchStatus string

const (
	MatchFinding   MatchStatus = "finding"
	MatchOngoing   MatchStatus = "ongoing"
	MatchCompleted MatchStatus = "completed"
)

// Match is a staked pairing of two character instances. Once completed the
// record is kept as history and never changes again.
type Match struct {
	ID        uint64           `json:"id"`
	Initiator string           `json:"initiator"`
	Opponent  string           `json:"opponent,omitempty"`
	Stake     uint64           `json:"stake"` // per side
	Status    MatchStatus      `json:"status"`
	Duel      battle.Duel      `json:"duel"`
	Winner    string           `json:"winner,omitempty"`
	EndReason battle.EndReason `json:"end_reason,omitempty"`
	Payout    uint64           `json:"payout"`
	Fee       uint64           `json:"fee"`

	CreatedAt   int64 `json:"created_at"`
	LastMoveAt  int64 `json:"last_move_at"`
	CompletedAt int64 `json:"completed_at,omitempty"`
}

// Player returns the address playing side.
func (m *Match) Player(side battle.Side) string {
	if side == battle.Initiator {
		return m.Initiator
	}
	return m.Opponent
}

// SideOf returns the side addr plays, if addr is a participant.
func (m *Match) SideOf(addr string) (battle.Side, bool) {
	switch {
	case addr == "":
		return 0, false
	case addr == m.Initiator:
		return battle.Initiator, true
	case addr == m.Opponent:
		return battle.Opponent, true
	}
	return 0, false
}

// Combat returns the combat state of side.
func (m *Match) Combat(side battle.Side) *battle.Combatant {
	return &m.Duel.Sides[side]
}

// TurnOwner returns the address allowed to move, or "" unless ongoing.
func (m *Match) TurnOwner() string {
	if m.Status != MatchOngoing {
		return ""
	}
	return m.Player(m.Duel.Turn)
}

// IdleFor returns how long, in nanoseconds, the match has gone without a
// move as of now.
func (m *Match) IdleFor(now int64) int64 {
	if now < m.LastMoveAt {
		return 0
	}
	return now - m.LastMoveAt
}
