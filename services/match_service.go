package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"plane-wars-server/models"
	"plane-wars-server/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MatchService owns the per-match state machine: placement validation,
// turn ownership and attack resolution. It reuses the room service's
// per-room locks so a ready-toggle and an attack on the same room can
// never interleave.
type MatchService struct {
	DB    *gorm.DB
	Cache *RoomCache
	Hub   Broadcaster
	Rooms *RoomService
}

func NewMatchService(db *gorm.DB, cache *RoomCache, hub Broadcaster, rooms *RoomService) *MatchService {
	if hub == nil {
		hub = NopBroadcaster{}
	}
	return &MatchService{DB: db, Cache: cache, Hub: hub, Rooms: rooms}
}

// AttackOutcome is the resolved result fanned out to both players.
type AttackOutcome struct {
	MatchID       string            `json:"match_id"`
	RoomID        string            `json:"room_id"`
	AttackerID    string            `json:"attacker_id"`
	Coordinate    models.Coordinate `json:"coordinate"`
	Result        string            `json:"result"`
	Phase         string            `json:"phase"`
	CurrentPlayer int               `json:"current_player"`
	TurnCount     int               `json:"turn_count"`
	WinnerID      *string           `json:"winner_id,omitempty"`
}

// PlacePiece stores the player's hidden layout. Valid only during
// placement; once both players have placed, the phase advances to
// battle, player 1 takes the first turn and the match clock starts.
func (s *MatchService) PlacePiece(matchID, playerID string, piece *models.Piece) (*models.Match, error) {
	if err := piece.Validate(); err != nil {
		return nil, utils.NewCodedError(utils.CodeInvalidPiecePlacement, "piece violates the grid bounds or plane shape")
	}

	match, err := s.loadMatch(matchID)
	if err != nil {
		return nil, err
	}

	l := s.Rooms.lockRoom(match.RoomID)
	l.Lock()
	defer l.Unlock()

	var battleBegan bool
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		// Reload under the lock, the first read was only for the room id.
		if err := tx.First(match, "id = ?", matchID).Error; err != nil {
			return fmt.Errorf("reload match: %w", err)
		}
		if match.Phase != models.MatchPhasePlacement {
			return utils.NewCodedError(utils.CodeInvalidPhase, "match is not in the placement phase")
		}

		raw, err := piece.Marshal()
		if err != nil {
			return fmt.Errorf("marshal piece: %w", err)
		}
		switch match.PlayerNumber(playerID) {
		case 1:
			match.Player1Piece = raw
		case 2:
			match.Player2Piece = raw
		default:
			return utils.NewCodedError(utils.CodeNotInRoom, "you are not a participant of this match")
		}

		if match.BothPlaced() {
			battleBegan = true
			match.Phase = models.MatchPhaseBattle
			match.CurrentPlayer = 1
			match.StartedAt = time.Now().UTC() // battle clock starts here
		}
		return tx.Save(match).Error
	})
	if err != nil {
		return nil, err
	}

	s.Cache.InvalidateRoom(context.Background(), match.RoomID)
	s.Hub.ToRoom(match.RoomID, EventPiecePlaced, map[string]interface{}{
		"match_id": match.ID,
		"room_id":  match.RoomID,
		"user_id":  playerID,
	}, "")
	if battleBegan {
		s.Hub.ToRoom(match.RoomID, EventPlacementConfirmed, map[string]interface{}{
			"match_id":       match.ID,
			"room_id":        match.RoomID,
			"phase":          match.Phase,
			"current_player": match.CurrentPlayer,
		}, "")
		log.Printf("[MATCH] %s entered battle, player 1 to move", match.ID)
	}
	return match, nil
}

// ConfirmPlacement is the client's sync point after placing: it
// reports the match's phase and turn without revealing either layout.
func (s *MatchService) ConfirmPlacement(matchID, playerID string) (*models.Match, error) {
	match, err := s.loadMatch(matchID)
	if err != nil {
		return nil, err
	}
	if match.PlayerNumber(playerID) == 0 {
		return nil, utils.NewCodedError(utils.CodeNotInRoom, "you are not a participant of this match")
	}
	return match, nil
}

// Attack resolves one shot. Head -> hit_critical and the match ends
// frozen on the attacker's turn; any other occupied cell -> hit_body;
// empty -> miss. Non-critical results flip the turn.
func (s *MatchService) Attack(matchID, attackerID string, coord models.Coordinate) (*AttackOutcome, error) {
	if !coord.InBounds() {
		return nil, utils.NewCodedError(utils.CodeValidation, "coordinate outside the 10x10 grid")
	}

	match, err := s.loadMatch(matchID)
	if err != nil {
		return nil, err
	}

	l := s.Rooms.lockRoom(match.RoomID)
	l.Lock()
	defer l.Unlock()

	var outcome *AttackOutcome
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(match, "id = ?", matchID).Error; err != nil {
			return fmt.Errorf("reload match: %w", err)
		}
		if match.Phase != models.MatchPhaseBattle {
			return utils.NewCodedError(utils.CodeInvalidPhase, "match is not in the battle phase")
		}
		seat := match.PlayerNumber(attackerID)
		if seat == 0 {
			return utils.NewCodedError(utils.CodeNotInRoom, "you are not a participant of this match")
		}
		if seat != match.CurrentPlayer {
			return utils.NewCodedError(utils.CodeNotYourTurn, "wait for your turn")
		}

		var dup int64
		if err := tx.Model(&models.AttackRecord{}).
			Where("match_id = ? AND attacker_id = ? AND x = ? AND y = ?",
				matchID, attackerID, coord.X, coord.Y).
			Count(&dup).Error; err != nil {
			return fmt.Errorf("check attack history: %w", err)
		}
		if dup > 0 {
			return utils.NewCodedError(utils.CodeAlreadyAttacked, "coordinate already attacked")
		}

		targetRaw := match.Player2Piece
		if seat == 2 {
			targetRaw = match.Player1Piece
		}
		target, err := models.UnmarshalPiece(targetRaw)
		if err != nil || target == nil {
			return fmt.Errorf("load target piece: %v", err)
		}

		result := models.AttackResultMiss
		switch {
		case target.Head == coord:
			result = models.AttackResultCritical
		case target.Occupies(coord):
			result = models.AttackResultBody
		}

		record := &models.AttackRecord{
			ID:         uuid.NewString(),
			MatchID:    matchID,
			AttackerID: attackerID,
			X:          coord.X,
			Y:          coord.Y,
			Result:     result,
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("append attack: %w", err)
		}

		if result == models.AttackResultCritical {
			now := time.Now().UTC()
			match.Phase = models.MatchPhaseFinished
			match.WinnerID = &attackerID
			match.FinishedAt = &now
			match.DurationSeconds = int(now.Sub(match.StartedAt).Seconds())
			// currentPlayer freezes on the winning turn
			if err := tx.Model(&models.Room{}).Where("id = ?", match.RoomID).
				Update("status", models.RoomStatusFinished).Error; err != nil {
				return err
			}
		} else {
			match.CurrentPlayer = 3 - match.CurrentPlayer
			match.TurnCount++
		}
		if err := tx.Save(match).Error; err != nil {
			return err
		}

		outcome = &AttackOutcome{
			MatchID:       match.ID,
			RoomID:        match.RoomID,
			AttackerID:    attackerID,
			Coordinate:    coord,
			Result:        result,
			Phase:         match.Phase,
			CurrentPlayer: match.CurrentPlayer,
			TurnCount:     match.TurnCount,
			WinnerID:      match.WinnerID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Cache.InvalidateRoom(context.Background(), match.RoomID)
	s.Hub.ToRoom(match.RoomID, EventAttackResult, outcome, "")
	if outcome.WinnerID != nil {
		log.Printf("[MATCH] %s finished, winner %s after %d turns", match.ID, *outcome.WinnerID, outcome.TurnCount)
	}
	return outcome, nil
}

// Surrender terminally resolves the match in the opponent's favor.
// Idempotent: surrendering a finished match is a no-op.
func (s *MatchService) Surrender(matchID, playerID string) error {
	match, err := s.loadMatch(matchID)
	if err != nil {
		return err
	}
	if match.PlayerNumber(playerID) == 0 {
		return utils.NewCodedError(utils.CodeNotInRoom, "you are not a participant of this match")
	}
	winner := match.OpponentID(playerID)
	return s.forceFinish(match, &winner, "surrender")
}

// ForceEnd is the administrative terminal transition: no winner is
// declared. Idempotent on finished matches.
func (s *MatchService) ForceEnd(matchID, reason string) error {
	match, err := s.loadMatch(matchID)
	if err != nil {
		return err
	}
	return s.forceFinish(match, nil, reason)
}

func (s *MatchService) forceFinish(match *models.Match, winnerID *string, reason string) error {
	l := s.Rooms.lockRoom(match.RoomID)
	l.Lock()
	defer l.Unlock()

	finished := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(match, "id = ?", match.ID).Error; err != nil {
			return fmt.Errorf("reload match: %w", err)
		}
		if match.Phase == models.MatchPhaseFinished {
			return nil
		}
		finished = true
		now := time.Now().UTC()
		match.Phase = models.MatchPhaseFinished
		match.WinnerID = winnerID
		match.FinishedAt = &now
		match.DurationSeconds = int(now.Sub(match.StartedAt).Seconds())
		if err := tx.Save(match).Error; err != nil {
			return err
		}
		return tx.Model(&models.Room{}).Where("id = ?", match.RoomID).
			Update("status", models.RoomStatusFinished).Error
	})
	if err != nil {
		return err
	}
	if !finished {
		return nil
	}

	s.Cache.InvalidateRoom(context.Background(), match.RoomID)
	s.Hub.ToRoom(match.RoomID, EventAttackResult, map[string]interface{}{
		"match_id":  match.ID,
		"room_id":   match.RoomID,
		"phase":     models.MatchPhaseFinished,
		"winner_id": match.WinnerID,
		"reason":    reason,
	}, "")
	log.Printf("[MATCH] %s force-finished (%s)", match.ID, reason)
	return nil
}

func (s *MatchService) loadMatch(matchID string) (*models.Match, error) {
	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewCodedError(utils.CodeMatchNotFound, "match not found")
		}
		return nil, fmt.Errorf("load match: %w", err)
	}
	return &match, nil
}
