package models

import (
	"time"
)

// User is the player account owned by this service.
// CurrentRoomID is the back-reference used by the reconnect resolver;
// it always points at the one room the user is active in, or nil.
type User struct {
	ID            string  `json:"id" gorm:"primaryKey"`
	Username      string  `json:"username" gorm:"uniqueIndex;not null"`
	PasswordHash  string  `json:"-" gorm:"not null"`
	CurrentRoomID *string `json:"current_room_id,omitempty" gorm:"index"`

	// Progression fields (not consulted by the coordinator, kept for the profile view)
	Rating int `json:"rating" gorm:"default:1000"`
	Level  int `json:"level" gorm:"default:1"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicProfile strips credential fields for API responses.
type PublicProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Level    int    `json:"level"`
}

func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:       u.ID,
		Username: u.Username,
		Rating:   u.Rating,
		Level:    u.Level,
	}
}
