package models

import (
	"time"
)

const (
	RoomStatusWaiting  = "waiting"
	RoomStatusPlaying  = "playing"
	RoomStatusFinished = "finished"
)

const (
	RoomVisibilityPublic  = "public"
	RoomVisibilityPrivate = "private"
)

// Room is the lobby grouping up to MaxPlayers users before and during a match.
type Room struct {
	ID         string `json:"id" gorm:"primaryKey"`
	Name       string `json:"name" gorm:"not null"`
	Slug       string `json:"slug" gorm:"index"`
	Visibility string `json:"visibility" gorm:"default:'public'"` // public | private
	Password   string `json:"-"`                                  // required non-empty when private
	HostUserID string `json:"host_user_id" gorm:"index;not null"`
	Status     string `json:"status" gorm:"index;default:'waiting'"` // waiting | playing | finished
	MaxPlayers int    `json:"max_players" gorm:"default:2"`

	Members []RoomMember `json:"members" gorm:"foreignKey:RoomID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentPlayers is always derived from the member list, never stored,
// so the count cannot drift from the membership rows.
func (r *Room) CurrentPlayers() int {
	return len(r.Members)
}

// IsFull reports whether the room has no free seat.
func (r *Room) IsFull() bool {
	return len(r.Members) >= r.MaxPlayers
}

// MemberOf returns the membership row for userID, or nil.
func (r *Room) MemberOf(userID string) *RoomMember {
	for i := range r.Members {
		if r.Members[i].UserID == userID {
			return &r.Members[i]
		}
	}
	return nil
}

// AllReady reports whether every seated member has readied up.
func (r *Room) AllReady() bool {
	if len(r.Members) == 0 {
		return false
	}
	for _, m := range r.Members {
		if !m.IsReady {
			return false
		}
	}
	return true
}

// RoomMember is one seat in a room. UserID is unique per room.
type RoomMember struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	RoomID       string    `json:"room_id" gorm:"index:idx_room_user,unique;not null"`
	UserID       string    `json:"user_id" gorm:"index:idx_room_user,unique;not null"`
	PlayerNumber int       `json:"player_number"` // 1 or 2
	IsReady      bool      `json:"is_ready" gorm:"default:false"`
	JoinedAt     time.Time `json:"joined_at"`
}

// RoomDetail is the materialized view delivered to clients and cached
// under room:{roomId}. It carries usernames so clients never need a
// second lookup, plus the live match when one exists.
type RoomDetail struct {
	Room    Room               `json:"room"`
	Players []RoomPlayerDetail `json:"players"`
	Match   *Match             `json:"match,omitempty"`
}

type RoomPlayerDetail struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	PlayerNumber int       `json:"player_number"`
	IsReady      bool      `json:"is_ready"`
	IsHost       bool      `json:"is_host"`
	JoinedAt     time.Time `json:"joined_at"`
}
