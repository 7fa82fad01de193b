package ws

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"plane-wars-server/models"
)

// Client -> server message types. The set is closed: anything else is
// a validation error at the transport boundary, never a crash.
const (
	TypeAuthenticate     = "authenticate"
	TypeJoinRoom         = "join_room"
	TypeLeaveRoom        = "leave_room"
	TypePlacePiece       = "place_piece"
	TypeConfirmPlacement = "confirm_placement"
	TypeAttack           = "attack"
	TypeHeartbeat        = "heartbeat"
)

// ClientMessage is the inbound frame. Payload stays raw until the type
// switch picks the concrete shape.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type JoinRoomPayload struct {
	RoomID   string `json:"room_id"`
	Password string `json:"password,omitempty"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"room_id"`
}

type PlacePiecePayload struct {
	MatchID string       `json:"match_id"`
	Piece   models.Piece `json:"piece"`
}

type ConfirmPlacementPayload struct {
	MatchID string `json:"match_id"`
}

type AttackPayload struct {
	MatchID    string            `json:"match_id"`
	Coordinate models.Coordinate `json:"coordinate"`
}

// ServerMessage wraps every outbound frame. MessageID is assigned from
// a process-monotonic counter so clients can deduplicate and order.
type ServerMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
	MessageID int64       `json:"messageId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var messageSeq atomic.Int64

// NewServerMessage stamps the frame with the next message id and the
// server clock.
func NewServerMessage(msgType string, payload interface{}) ServerMessage {
	return ServerMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		MessageID: messageSeq.Add(1),
	}
}

// DecodeClientMessage parses an inbound frame and rejects unknown tags.
func DecodeClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	switch msg.Type {
	case TypeAuthenticate, TypeJoinRoom, TypeLeaveRoom,
		TypePlacePiece, TypeConfirmPlacement, TypeAttack, TypeHeartbeat:
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}
