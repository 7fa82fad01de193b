package services

// Server -> client event types fanned out by the realtime layer.
const (
	EventPlayerJoined       = "player_joined"
	EventPlayerLeft         = "player_left"
	EventRoomJoined         = "room_joined"
	EventRoomLeft           = "room_left"
	EventRoomDissolved      = "room_dissolved"
	EventPlayerKicked       = "player_kicked"
	EventHostTransferred    = "host_transferred"
	EventPlayerReady        = "player_ready"
	EventGameStarted        = "game_started"
	EventPiecePlaced        = "piece_placed"
	EventPlacementConfirmed = "placement_confirmed"
	EventAttackResult       = "attack_result"
	EventError              = "error"
)

// Broadcaster is the realtime fan-out surface the coordinator mutates
// through. The websocket hub implements it; tests substitute a recorder.
// Delivery is fire-and-forget and always happens after the durable
// write has committed.
type Broadcaster interface {
	// ToRoom delivers to every connection subscribed to the room,
	// optionally excluding one connection (the actor's own).
	ToRoom(roomID, event string, payload interface{}, excludeConnID string)
	// ToUser delivers to every live connection of one user.
	ToUser(userID, event string, payload interface{})
	// SubscribeUser attaches all of the user's connections to a room.
	SubscribeUser(userID, roomID string)
	// UnsubscribeUser detaches all of the user's connections from a room.
	UnsubscribeUser(userID, roomID string)
}

// NopBroadcaster satisfies Broadcaster for contexts with no realtime
// layer attached (tests, maintenance jobs).
type NopBroadcaster struct{}

func (NopBroadcaster) ToRoom(string, string, interface{}, string) {}
func (NopBroadcaster) ToUser(string, string, interface{})         {}
func (NopBroadcaster) SubscribeUser(string, string)               {}
func (NopBroadcaster) UnsubscribeUser(string, string)             {}
