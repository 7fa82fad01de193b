package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"plane-wars-server/services"
	"plane-wars-server/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// Handler owns one read loop per connection and routes the inbound
// tagged union onto the coordinator services.
type Handler struct {
	Hub       *Hub
	Auth      *services.AuthService
	Rooms     *services.RoomService
	Matches   *services.MatchService
	Reconnect *services.ReconnectService
}

func NewHandler(hub *Hub, auth *services.AuthService, rooms *services.RoomService,
	matches *services.MatchService, reconnect *services.ReconnectService) *Handler {
	return &Handler{Hub: hub, Auth: auth, Rooms: rooms, Matches: matches, Reconnect: reconnect}
}

// Upgrade gates the route so only websocket requests reach the handler.
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Serve is the per-connection loop. A connection authenticates once by
// presenting its bearer token in an authenticate frame; until then only
// heartbeats are accepted (soft mode for read-only clients).
func (h *Handler) Serve(conn *websocket.Conn) {
	connID := uuid.NewString()
	client := h.Hub.Register(connID, conn)
	go client.WritePump()
	defer h.Hub.Disconnect(connID)

	var (
		userID string
		expiry time.Time
	)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] connection %s closed: %v", connID, err)
			return
		}

		msg, err := DecodeClientMessage(raw)
		if err != nil {
			h.sendError(connID, utils.NewCodedError(utils.CodeValidation, err.Error()))
			continue
		}

		if msg.Type == TypeHeartbeat {
			h.Hub.ToConn(connID, TypeHeartbeat, nil)
			continue
		}

		if msg.Type == TypeAuthenticate {
			userID, expiry = h.handleAuthenticate(connID, msg.Payload)
			continue
		}

		// Everything past this point mutates shared state and needs a
		// live identity. Expired tokens are rejected, not ignored.
		if userID == "" {
			h.sendError(connID, utils.NewCodedError(utils.CodeUnauthorized, "authenticate first"))
			continue
		}
		if time.Now().After(expiry) {
			h.sendError(connID, utils.NewCodedError(utils.CodeTokenExpired, "token expired, reconnect with a fresh token"))
			continue
		}

		switch msg.Type {
		case TypeJoinRoom:
			h.handleJoinRoom(connID, userID, msg.Payload)
		case TypeLeaveRoom:
			h.handleLeaveRoom(connID, userID, msg.Payload)
		case TypePlacePiece:
			h.handlePlacePiece(connID, userID, msg.Payload)
		case TypeConfirmPlacement:
			h.handleConfirmPlacement(connID, userID, msg.Payload)
		case TypeAttack:
			h.handleAttack(connID, userID, msg.Payload)
		}
	}
}

func (h *Handler) handleAuthenticate(connID string, raw json.RawMessage) (string, time.Time) {
	var payload AuthenticatePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Token == "" {
		h.sendError(connID, utils.NewCodedError(utils.CodeValidation, "authenticate requires a token"))
		return "", time.Time{}
	}
	claims, err := h.Auth.ParseToken(payload.Token)
	if err != nil {
		h.sendError(connID, err)
		return "", time.Time{}
	}

	h.Hub.Authenticate(connID, claims.UserID, claims.Username)

	// Reattach to a still-active room so the client resumes in place.
	info, err := h.Reconnect.CheckReconnect(context.Background(), claims.UserID)
	if err != nil {
		log.Printf("[WS] reconnect check for %s failed: %v", claims.UserID, err)
	} else if info.HasActiveRoom {
		h.Hub.Subscribe(connID, info.Room.Room.ID)
		h.Hub.ToConn(connID, services.EventRoomJoined, info.Room)
	}
	return claims.UserID, claims.ExpiresAt.Time
}

func (h *Handler) handleJoinRoom(connID, userID string, raw json.RawMessage) {
	var payload JoinRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomID == "" {
		h.sendError(connID, utils.NewCodedError(utils.CodeValidation, "join_room requires a room_id"))
		return
	}
	detail, err := h.Rooms.JoinRoom(userID, payload.RoomID, payload.Password, connID)
	if err != nil {
		h.sendError(connID, err)
		return
	}
	h.Hub.ToConn(connID, services.EventRoomJoined, detail)
}

func (h *Handler) handleLeaveRoom(connID, userID string, raw json.RawMessage) {
	var payload LeaveRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomID == "" {
		h.sendError(connID, utils.NewCodedError(utils.CodeValidation, "leave_room requires a room_id"))
		return
	}
	if err := h.Rooms.LeaveRoom(userID, payload.RoomID); err != nil {
		h.sendError(connID, err)
	}
}

func (h *Handler) handlePlacePiece(connID, userID string, raw json.RawMessage) {
	var payload PlacePiecePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MatchID == "" {
		h.sendError(connID, utils.NewCodedError(utils.CodeValidation, "place_piece requires a match_id and piece"))
		return
	}
	if _, err := h.Matches.PlacePiece(payload.MatchID, userID, &payload.Piece); err != nil {
		h.sendError(connID, err)
	}
}

func (h *Handler) handleConfirmPlacement(connID, userID string, raw json.RawMessage) {
	var payload ConfirmPlacementPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MatchID == "" {
		h.sendError(connID, utils.NewCodedError(utils.CodeValidation, "confirm_placement requires a match_id"))
		return
	}
	match, err := h.Matches.ConfirmPlacement(payload.MatchID, userID)
	if err != nil {
		h.sendError(connID, err)
		return
	}
	h.Hub.ToConn(connID, services.EventPlacementConfirmed, map[string]interface{}{
		"match_id":       match.ID,
		"phase":          match.Phase,
		"current_player": match.CurrentPlayer,
	})
}

func (h *Handler) handleAttack(connID, userID string, raw json.RawMessage) {
	var payload AttackPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MatchID == "" {
		h.sendError(connID, utils.NewCodedError(utils.CodeValidation, "attack requires a match_id and coordinate"))
		return
	}
	if _, err := h.Matches.Attack(payload.MatchID, userID, payload.Coordinate); err != nil {
		h.sendError(connID, err)
	}
}

func (h *Handler) sendError(connID string, err error) {
	ce := utils.AsCodedError(err)
	if ce.Code == utils.CodeInternal {
		log.Printf("[WS] internal error on %s: %v", connID, err)
	}
	h.Hub.ToConn(connID, services.EventError, ErrorPayload{Code: ce.Code, Message: ce.Message})
}
