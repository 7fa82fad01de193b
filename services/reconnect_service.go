package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"plane-wars-server/models"
	"plane-wars-server/utils"

	"gorm.io/gorm"
)

// ReconnectService reattaches a returning user to their still-active
// room and match. It is also the one consistency-repair path in the
// system: a dangling CurrentRoomID is cleared instead of erroring.
type ReconnectService struct {
	DB    *gorm.DB
	Rooms *RoomService
}

func NewReconnectService(db *gorm.DB, rooms *RoomService) *ReconnectService {
	return &ReconnectService{DB: db, Rooms: rooms}
}

// ReconnectInfo is the resolver's answer: either no active room, or the
// full detail view so the client resumes without replaying the join flow.
type ReconnectInfo struct {
	HasActiveRoom bool               `json:"has_active_room"`
	Room          *models.RoomDetail `json:"room,omitempty"`
}

// CheckReconnect resolves the user's CurrentRoomID. Stale references
// (room deleted, room finished, or the user no longer a member) are
// self-healed by clearing the pointer.
func (s *ReconnectService) CheckReconnect(ctx context.Context, userID string) (*ReconnectInfo, error) {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.CurrentRoomID == nil {
		return &ReconnectInfo{HasActiveRoom: false}, nil
	}
	roomID := *user.CurrentRoomID

	room, err := loadRoom(s.DB, roomID)
	if err != nil {
		if isRoomNotFound(err) {
			return s.repairStaleReference(userID, roomID)
		}
		return nil, err
	}

	if room.Status == models.RoomStatusFinished || room.MemberOf(userID) == nil {
		return s.repairStaleReference(userID, roomID)
	}

	detail, err := s.Rooms.GetRoomDetail(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &ReconnectInfo{HasActiveRoom: true, Room: detail}, nil
}

func (s *ReconnectService) repairStaleReference(userID, roomID string) (*ReconnectInfo, error) {
	if err := s.DB.Model(&models.User{}).Where("id = ?", userID).
		Update("current_room_id", nil).Error; err != nil {
		return nil, fmt.Errorf("clear stale room reference: %w", err)
	}
	log.Printf("[RECONNECT] cleared stale room reference %s for user %s", roomID, userID)
	return &ReconnectInfo{HasActiveRoom: false}, nil
}

func isRoomNotFound(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true
	}
	var ce *utils.CodedError
	return errors.As(err, &ce) && ce.Code == utils.CodeRoomNotFound
}
