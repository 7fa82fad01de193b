package models

import (
	"time"
)

const (
	MatchPhaseWaiting   = "waiting"
	MatchPhasePlacement = "placement"
	MatchPhaseBattle    = "battle"
	MatchPhaseFinished  = "finished"
)

const (
	AttackResultCritical = "hit_critical"
	AttackResultBody     = "hit_body"
	AttackResultMiss     = "miss"
)

// Match is one played instance of the grid battle, spawned 1:1 from the
// room that reached all-ready. Phase only moves forward:
// waiting -> placement -> battle -> finished.
type Match struct {
	ID        string  `json:"id" gorm:"primaryKey"`
	RoomID    string  `json:"room_id" gorm:"uniqueIndex;not null"`
	Player1ID string  `json:"player1_id" gorm:"index;not null"`
	Player2ID string  `json:"player2_id" gorm:"index;not null"`
	WinnerID  *string `json:"winner_id,omitempty"`

	Phase         string `json:"phase" gorm:"default:'placement'"`
	CurrentPlayer int    `json:"current_player" gorm:"default:1"` // meaningful only during battle
	TurnCount     int    `json:"turn_count" gorm:"default:0"`

	// Serialized Piece layouts; empty until the player has placed.
	// Never sent to the opposing client.
	Player1Piece string `json:"-" gorm:"type:text"`
	Player2Piece string `json:"-" gorm:"type:text"`

	Attacks []AttackRecord `json:"attacks" gorm:"foreignKey:MatchID"`

	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlayerNumber maps a user id to seat 1 or 2, or 0 when not a participant.
func (m *Match) PlayerNumber(userID string) int {
	switch userID {
	case m.Player1ID:
		return 1
	case m.Player2ID:
		return 2
	}
	return 0
}

// OpponentID returns the other participant's id.
func (m *Match) OpponentID(userID string) string {
	if userID == m.Player1ID {
		return m.Player2ID
	}
	return m.Player1ID
}

// BothPlaced reports whether both layouts are stored.
func (m *Match) BothPlaced() bool {
	return m.Player1Piece != "" && m.Player2Piece != ""
}

// AttackRecord is one append-only entry in the attack history.
// A coordinate appears at most once per attacker within a match.
type AttackRecord struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	MatchID    string    `json:"match_id" gorm:"index:idx_match_attacker_cell,unique;not null"`
	AttackerID string    `json:"attacker_id" gorm:"index:idx_match_attacker_cell,unique;not null"`
	X          int       `json:"x" gorm:"index:idx_match_attacker_cell,unique"`
	Y          int       `json:"y" gorm:"index:idx_match_attacker_cell,unique"`
	Result     string    `json:"result"` // hit_critical | hit_body | miss
	CreatedAt  time.Time `json:"created_at"`
}
