package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"plane-wars-server/models"
	"plane-wars-server/utils"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// RoomService owns room lifecycle and membership invariants. All
// mutating operations on the same room are serialized by a per-room
// mutex; different rooms proceed in parallel. Cache invalidation and
// broadcasts always run after the transaction commits.
type RoomService struct {
	DB    *gorm.DB
	Cache *RoomCache
	Hub   Broadcaster

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRoomService(db *gorm.DB, cache *RoomCache, hub Broadcaster) *RoomService {
	if hub == nil {
		hub = NopBroadcaster{}
	}
	return &RoomService{
		DB:    db,
		Cache: cache,
		Hub:   hub,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockRoom returns the mutex serializing mutations of one room.
func (s *RoomService) lockRoom(roomID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[roomID] = l
	}
	return l
}

func (s *RoomService) dropLock(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, roomID)
}

// lockUser serializes enrollment of one user across rooms, so the
// one-active-room-per-user check cannot race between two rooms.
// Always acquired before any room lock, never after.
func (s *RoomService) lockUser(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := "user:" + userID
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

type CreateRoomRequest struct {
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
	Password   string `json:"password"`
	MaxPlayers int    `json:"max_players"`
}

// CreateRoom creates a room and auto-enrolls the host as member #1.
// The one-unfinished-room-per-host rule is always checked against the
// durable store, never the cache.
func (s *RoomService) CreateRoom(userID string, req CreateRoomRequest) (*models.RoomDetail, error) {
	if req.Name == "" {
		return nil, utils.NewCodedError(utils.CodeValidation, "room name is required")
	}
	if req.Visibility == "" {
		req.Visibility = models.RoomVisibilityPublic
	}
	if req.Visibility != models.RoomVisibilityPublic && req.Visibility != models.RoomVisibilityPrivate {
		return nil, utils.NewCodedError(utils.CodeValidation, "visibility must be public or private")
	}
	if req.Visibility == models.RoomVisibilityPrivate && req.Password == "" {
		return nil, utils.NewCodedError(utils.CodeValidation, "private rooms require a password")
	}
	if req.MaxPlayers == 0 {
		req.MaxPlayers = 2
	}
	if req.MaxPlayers != 2 {
		return nil, utils.NewCodedError(utils.CodeValidation, "rooms support exactly 2 players")
	}

	ul := s.lockUser(userID)
	ul.Lock()
	defer ul.Unlock()

	room := &models.Room{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Slug:       slug.Make(req.Name),
		Visibility: req.Visibility,
		Password:   req.Password,
		HostUserID: userID,
		Status:     models.RoomStatusWaiting,
		MaxPlayers: req.MaxPlayers,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var owned int64
		if err := tx.Model(&models.Room{}).
			Where("host_user_id = ? AND status IN ?", userID, []string{models.RoomStatusWaiting, models.RoomStatusPlaying}).
			Count(&owned).Error; err != nil {
			return fmt.Errorf("count owned rooms: %w", err)
		}
		if owned > 0 {
			return utils.NewCodedError(utils.CodeRoomLimitExceeded, "you already have an active room")
		}

		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if user.CurrentRoomID != nil {
			return utils.NewCodedError(utils.CodeAlreadyInRoom, "leave your current room first")
		}

		if err := tx.Create(room).Error; err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		member := &models.RoomMember{
			ID:           uuid.NewString(),
			RoomID:       room.ID,
			UserID:       userID,
			PlayerNumber: 1,
			JoinedAt:     time.Now().UTC(),
		}
		if err := tx.Create(member).Error; err != nil {
			return fmt.Errorf("enroll host: %w", err)
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).
			Update("current_room_id", room.ID).Error
	})
	if err != nil {
		return nil, err
	}

	detail, err := s.materializeDetail(room.ID)
	if err != nil {
		return nil, err
	}
	s.Cache.SetRoomDetail(context.Background(), detail)
	s.Hub.SubscribeUser(userID, room.ID)
	log.Printf("[ROOM] %s created room %s (%s)", userID, room.ID, room.Name)
	return detail, nil
}

// JoinRoom seats the user on the next free player number and announces
// them to the rest of the room. excludeConnID suppresses the echo to
// the joining connection when the join arrives over the socket.
func (s *RoomService) JoinRoom(userID, roomID, password, excludeConnID string) (*models.RoomDetail, error) {
	ul := s.lockUser(userID)
	ul.Lock()
	defer ul.Unlock()

	l := s.lockRoom(roomID)
	l.Lock()
	defer l.Unlock()

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.Status != models.RoomStatusWaiting {
			return utils.NewCodedError(utils.CodeRoomNotJoinable, "room is not accepting players")
		}
		if room.IsFull() {
			return utils.NewCodedError(utils.CodeRoomFull, "room is full")
		}
		if room.Visibility == models.RoomVisibilityPrivate && room.Password != password {
			return utils.NewCodedError(utils.CodeWrongPassword, "wrong room password")
		}
		if room.MemberOf(userID) != nil {
			return utils.NewCodedError(utils.CodeAlreadyInRoom, "already in this room")
		}

		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if user.CurrentRoomID != nil && *user.CurrentRoomID != roomID {
			return utils.NewCodedError(utils.CodeAlreadyInRoom, "leave your current room first")
		}

		member := &models.RoomMember{
			ID:           uuid.NewString(),
			RoomID:       roomID,
			UserID:       userID,
			PlayerNumber: nextFreePlayerNumber(room),
			JoinedAt:     time.Now().UTC(),
		}
		if err := tx.Create(member).Error; err != nil {
			return fmt.Errorf("create member: %w", err)
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Update("current_room_id", roomID).Error; err != nil {
			return err
		}
		return touchRoom(tx, roomID)
	})
	if err != nil {
		return nil, err
	}

	s.Cache.InvalidateRoom(context.Background(), roomID)
	detail, err := s.materializeDetail(roomID)
	if err != nil {
		return nil, err
	}
	s.Cache.SetRoomDetail(context.Background(), detail)
	s.Hub.SubscribeUser(userID, roomID)
	s.Hub.ToRoom(roomID, EventPlayerJoined, detail, excludeConnID)
	log.Printf("[ROOM] %s joined room %s", userID, roomID)
	return detail, nil
}

// LeaveRoom removes the member. Host departure hands authority to the
// earliest-joined remaining member; the last member leaving finishes
// the room. Leaving mid-match forfeits it to the remaining player.
func (s *RoomService) LeaveRoom(userID, roomID string) error {
	l := s.lockRoom(roomID)
	l.Lock()
	defer l.Unlock()

	var (
		newHostID   string
		roomEmptied bool
		forfeitedTo string
	)

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		member := room.MemberOf(userID)
		if member == nil {
			return utils.NewCodedError(utils.CodeNotInRoom, "you are not in this room")
		}

		if err := tx.Delete(&models.RoomMember{}, "id = ?", member.ID).Error; err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Update("current_room_id", nil).Error; err != nil {
			return err
		}

		remaining := make([]models.RoomMember, 0, len(room.Members)-1)
		for _, m := range room.Members {
			if m.UserID != userID {
				remaining = append(remaining, m)
			}
		}

		if len(remaining) == 0 {
			roomEmptied = true
			return tx.Model(&models.Room{}).Where("id = ?", roomID).
				Update("status", models.RoomStatusFinished).Error
		}

		if room.HostUserID == userID {
			successor := earliestJoined(remaining)
			newHostID = successor.UserID
			if err := tx.Model(&models.Room{}).Where("id = ?", roomID).
				Update("host_user_id", newHostID).Error; err != nil {
				return fmt.Errorf("transfer host: %w", err)
			}
		}

		// A member walking out of a live match forfeits it.
		if room.Status == models.RoomStatusPlaying {
			forfeitedTo = remaining[0].UserID
			if err := finishMatchByForfeit(tx, roomID, forfeitedTo); err != nil {
				return err
			}
			if err := tx.Model(&models.Room{}).Where("id = ?", roomID).
				Update("status", models.RoomStatusFinished).Error; err != nil {
				return err
			}
		}
		return touchRoom(tx, roomID)
	})
	if err != nil {
		return err
	}

	s.Cache.InvalidateRoom(context.Background(), roomID)
	s.Hub.UnsubscribeUser(userID, roomID)
	s.Hub.ToUser(userID, EventRoomLeft, map[string]string{"room_id": roomID})

	if roomEmptied {
		s.dropLock(roomID)
		log.Printf("[ROOM] %s left room %s (room finished, empty)", userID, roomID)
		return nil
	}

	s.Hub.ToRoom(roomID, EventPlayerLeft, map[string]string{
		"room_id": roomID,
		"user_id": userID,
	}, "")
	if newHostID != "" {
		s.Hub.ToRoom(roomID, EventHostTransferred, map[string]string{
			"room_id":      roomID,
			"host_user_id": newHostID,
		}, "")
	}
	if forfeitedTo != "" {
		s.Hub.ToRoom(roomID, EventAttackResult, map[string]interface{}{
			"room_id":   roomID,
			"phase":     models.MatchPhaseFinished,
			"winner_id": forfeitedTo,
			"reason":    "opponent_left",
		}, "")
	}
	log.Printf("[ROOM] %s left room %s", userID, roomID)
	return nil
}

// DissolveRoom deletes the room outright. Host only.
func (s *RoomService) DissolveRoom(roomID, requesterID string) error {
	l := s.lockRoom(roomID)
	l.Lock()
	defer l.Unlock()

	var memberIDs []string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.HostUserID != requesterID {
			return utils.NewCodedError(utils.CodeNotHost, "only the host can dissolve the room")
		}
		for _, m := range room.Members {
			memberIDs = append(memberIDs, m.UserID)
		}
		if err := tx.Model(&models.User{}).Where("current_room_id = ?", roomID).
			Update("current_room_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.RoomMember{}, "room_id = ?", roomID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Match{}, "room_id = ? AND phase <> ?", roomID, models.MatchPhaseFinished).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Room{}, "id = ?", roomID).Error
	})
	if err != nil {
		return err
	}

	s.Cache.InvalidateRoom(context.Background(), roomID)
	for _, uid := range memberIDs {
		s.Hub.ToUser(uid, EventRoomDissolved, map[string]string{"room_id": roomID})
		s.Hub.UnsubscribeUser(uid, roomID)
	}
	s.dropLock(roomID)
	log.Printf("[ROOM] host %s dissolved room %s", requesterID, roomID)
	return nil
}

// KickPlayer removes a member by host authority. The target gets a
// direct notice on every device plus the room-wide announcement.
// Kicking mid-match forfeits the match to the requester, the same
// terminal transition a voluntary leave takes.
func (s *RoomService) KickPlayer(roomID, requesterID, targetID string) error {
	if requesterID == targetID {
		return utils.NewCodedError(utils.CodeCannotKickSelf, "use leave instead of kicking yourself")
	}

	l := s.lockRoom(roomID)
	l.Lock()
	defer l.Unlock()

	var forfeitedTo string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.HostUserID != requesterID {
			return utils.NewCodedError(utils.CodeNotHost, "only the host can kick players")
		}
		member := room.MemberOf(targetID)
		if member == nil {
			return utils.NewCodedError(utils.CodePlayerNotInRoom, "player is not in this room")
		}
		if err := tx.Delete(&models.RoomMember{}, "id = ?", member.ID).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", targetID).
			Update("current_room_id", nil).Error; err != nil {
			return err
		}
		if room.Status == models.RoomStatusPlaying {
			forfeitedTo = requesterID
			if err := finishMatchByForfeit(tx, roomID, requesterID); err != nil {
				return err
			}
			if err := tx.Model(&models.Room{}).Where("id = ?", roomID).
				Update("status", models.RoomStatusFinished).Error; err != nil {
				return err
			}
		}
		return touchRoom(tx, roomID)
	})
	if err != nil {
		return err
	}

	s.Cache.InvalidateRoom(context.Background(), roomID)
	s.Hub.ToUser(targetID, EventPlayerKicked, map[string]string{
		"room_id": roomID,
		"user_id": targetID,
	})
	s.Hub.UnsubscribeUser(targetID, roomID)
	s.Hub.ToRoom(roomID, EventPlayerKicked, map[string]string{
		"room_id": roomID,
		"user_id": targetID,
	}, "")
	if forfeitedTo != "" {
		s.Hub.ToRoom(roomID, EventAttackResult, map[string]interface{}{
			"room_id":   roomID,
			"phase":     models.MatchPhaseFinished,
			"winner_id": forfeitedTo,
			"reason":    "opponent_kicked",
		}, "")
	}
	log.Printf("[ROOM] host %s kicked %s from room %s", requesterID, targetID, roomID)
	return nil
}

// SetReady toggles the member's ready flag. The moment every seat is
// filled and ready, the match is spawned and the room flips to playing
// inside the same transaction.
func (s *RoomService) SetReady(roomID, userID string, isReady bool) (*models.RoomDetail, bool, error) {
	l := s.lockRoom(roomID)
	l.Lock()
	defer l.Unlock()

	matchStarted := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.Status != models.RoomStatusWaiting {
			return utils.NewCodedError(utils.CodeRoomNotJoinable, "room is not in the lobby phase")
		}
		member := room.MemberOf(userID)
		if member == nil {
			return utils.NewCodedError(utils.CodeNotInRoom, "you are not in this room")
		}
		if err := tx.Model(&models.RoomMember{}).Where("id = ?", member.ID).
			Update("is_ready", isReady).Error; err != nil {
			return err
		}
		member.IsReady = isReady

		if isReady && room.IsFull() && room.AllReady() {
			matchStarted = true
			return spawnMatch(tx, room)
		}
		return touchRoom(tx, roomID)
	})
	if err != nil {
		return nil, false, err
	}

	s.Cache.InvalidateRoom(context.Background(), roomID)
	detail, err := s.materializeDetail(roomID)
	if err != nil {
		return nil, false, err
	}
	s.Cache.SetRoomDetail(context.Background(), detail)

	s.Hub.ToRoom(roomID, EventPlayerReady, map[string]interface{}{
		"room_id":  roomID,
		"user_id":  userID,
		"is_ready": isReady,
	}, "")
	if matchStarted {
		s.Hub.ToRoom(roomID, EventGameStarted, detail, "")
		log.Printf("[ROOM] room %s is full and ready, match %s started", roomID, detail.Match.ID)
	}
	return detail, matchStarted, nil
}

// ListWaitingRooms pages public rooms still accepting players, newest
// first. Read-only, no auth required.
func (s *RoomService) ListWaitingRooms(page, pageSize int) ([]models.Room, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 50 {
		pageSize = 10
	}

	q := s.DB.Model(&models.Room{}).
		Where("visibility = ? AND status = ?", models.RoomVisibilityPublic, models.RoomStatusWaiting)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count waiting rooms: %w", err)
	}

	var rooms []models.Room
	if err := q.Preload("Members").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rooms).Error; err != nil {
		return nil, 0, fmt.Errorf("list waiting rooms: %w", err)
	}
	return rooms, total, nil
}

// GetRoomDetail is the read path: cache first, store on a miss, then
// repopulate. Never used for write-side invariant checks.
func (s *RoomService) GetRoomDetail(ctx context.Context, roomID string) (*models.RoomDetail, error) {
	if detail, hit := s.Cache.GetRoomDetail(ctx, roomID); hit {
		return detail, nil
	}
	detail, err := s.materializeDetail(roomID)
	if err != nil {
		return nil, err
	}
	s.Cache.SetRoomDetail(ctx, detail)
	return detail, nil
}

// materializeDetail builds the full client view from the durable store.
func (s *RoomService) materializeDetail(roomID string) (*models.RoomDetail, error) {
	room, err := loadRoom(s.DB, roomID)
	if err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(room.Members))
	for _, m := range room.Members {
		userIDs = append(userIDs, m.UserID)
	}
	var users []models.User
	if len(userIDs) > 0 {
		if err := s.DB.Find(&users, "id IN ?", userIDs).Error; err != nil {
			return nil, fmt.Errorf("load member users: %w", err)
		}
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}

	detail := &models.RoomDetail{Room: *room}
	for _, m := range room.Members {
		detail.Players = append(detail.Players, models.RoomPlayerDetail{
			UserID:       m.UserID,
			Username:     names[m.UserID],
			PlayerNumber: m.PlayerNumber,
			IsReady:      m.IsReady,
			IsHost:       m.UserID == room.HostUserID,
			JoinedAt:     m.JoinedAt,
		})
	}

	var match models.Match
	err = s.DB.Preload("Attacks", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC")
	}).First(&match, "room_id = ?", roomID).Error
	switch {
	case err == nil:
		detail.Match = &match
	case errors.Is(err, gorm.ErrRecordNotFound):
		// waiting room, no match yet
	default:
		return nil, fmt.Errorf("load match: %w", err)
	}
	return detail, nil
}

// --- helpers ---

func loadRoom(tx *gorm.DB, roomID string) (*models.Room, error) {
	var room models.Room
	err := tx.Preload("Members", func(db *gorm.DB) *gorm.DB {
		return db.Order("joined_at ASC")
	}).First(&room, "id = ?", roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewCodedError(utils.CodeRoomNotFound, "room not found")
		}
		return nil, fmt.Errorf("load room: %w", err)
	}
	return &room, nil
}

func touchRoom(tx *gorm.DB, roomID string) error {
	return tx.Model(&models.Room{}).Where("id = ?", roomID).
		Update("updated_at", time.Now().UTC()).Error
}

func nextFreePlayerNumber(room *models.Room) int {
	used := make(map[int]bool, len(room.Members))
	for _, m := range room.Members {
		used[m.PlayerNumber] = true
	}
	for n := 1; n <= room.MaxPlayers; n++ {
		if !used[n] {
			return n
		}
	}
	return len(room.Members) + 1
}

// earliestJoined picks the succession target: minimal JoinedAt, with
// the player number as a stable tie-break.
func earliestJoined(members []models.RoomMember) models.RoomMember {
	best := members[0]
	for _, m := range members[1:] {
		if m.JoinedAt.Before(best.JoinedAt) ||
			(m.JoinedAt.Equal(best.JoinedAt) && m.PlayerNumber < best.PlayerNumber) {
			best = m
		}
	}
	return best
}

// spawnMatch transitions the room to playing and creates the match in
// placement phase, seats fixed by player number.
func spawnMatch(tx *gorm.DB, room *models.Room) error {
	var p1, p2 string
	for _, m := range room.Members {
		switch m.PlayerNumber {
		case 1:
			p1 = m.UserID
		case 2:
			p2 = m.UserID
		}
	}
	if p1 == "" || p2 == "" {
		return fmt.Errorf("room %s ready without two seated players", room.ID)
	}

	match := &models.Match{
		ID:            uuid.NewString(),
		RoomID:        room.ID,
		Player1ID:     p1,
		Player2ID:     p2,
		Phase:         models.MatchPhasePlacement,
		CurrentPlayer: 1,
		StartedAt:     time.Now().UTC(),
	}
	if err := tx.Create(match).Error; err != nil {
		return fmt.Errorf("spawn match: %w", err)
	}
	return tx.Model(&models.Room{}).Where("id = ?", room.ID).
		Updates(map[string]interface{}{
			"status":     models.RoomStatusPlaying,
			"updated_at": time.Now().UTC(),
		}).Error
}

// finishMatchByForfeit terminally resolves the room's live match in
// favor of winnerID. No-op when the match is already finished.
func finishMatchByForfeit(tx *gorm.DB, roomID, winnerID string) error {
	var match models.Match
	err := tx.First(&match, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load match for forfeit: %w", err)
	}
	if match.Phase == models.MatchPhaseFinished {
		return nil
	}
	now := time.Now().UTC()
	return tx.Model(&match).Updates(map[string]interface{}{
		"phase":            models.MatchPhaseFinished,
		"winner_id":        winnerID,
		"finished_at":      now,
		"duration_seconds": int(now.Sub(match.StartedAt).Seconds()),
	}).Error
}
