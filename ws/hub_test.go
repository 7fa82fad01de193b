package ws

import (
	"context"
	"encoding/json"
	"testing"

	"plane-wars-server/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestHub(t *testing.T) (*Hub, *services.RoomCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := services.NewRoomCache(rdb)
	return NewHub(cache), cache
}

// drain pops one queued frame off the client's send channel.
func drain(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case raw := <-c.send:
		var msg ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("queued frame is not an envelope: %v", err)
		}
		return &msg
	default:
		return nil
	}
}

func TestToRoomFanOutWithExclusion(t *testing.T) {
	hub, _ := newTestHub(t)

	c1 := hub.Register("conn-1", nil)
	c2 := hub.Register("conn-2", nil)
	c3 := hub.Register("conn-3", nil)
	hub.Subscribe("conn-1", "room-a")
	hub.Subscribe("conn-2", "room-a")
	hub.Subscribe("conn-3", "room-b")

	hub.ToRoom("room-a", "player_joined", map[string]string{"user_id": "u9"}, "conn-1")

	if msg := drain(t, c1); msg != nil {
		t.Error("excluded connection must not receive the frame")
	}
	msg := drain(t, c2)
	if msg == nil || msg.Type != "player_joined" {
		t.Fatalf("subscriber should receive the frame, got %+v", msg)
	}
	if msg.MessageID == 0 {
		t.Error("frames carry a message id")
	}
	if drain(t, c3) != nil {
		t.Error("other rooms must not receive the frame")
	}
}

func TestToUserReachesEveryDevice(t *testing.T) {
	hub, _ := newTestHub(t)

	tab1 := hub.Register("conn-1", nil)
	tab2 := hub.Register("conn-2", nil)
	other := hub.Register("conn-3", nil)
	hub.Authenticate("conn-1", "u1", "alice")
	hub.Authenticate("conn-2", "u1", "alice")
	hub.Authenticate("conn-3", "u2", "bob")

	hub.ToUser("u1", "player_kicked", map[string]string{"room_id": "r"})

	if drain(t, tab1) == nil || drain(t, tab2) == nil {
		t.Error("every connection of the user should get the notice")
	}
	if drain(t, other) != nil {
		t.Error("other users must not receive the notice")
	}
}

func TestPresenceOnlyDropsOnLastDisconnect(t *testing.T) {
	hub, cache := newTestHub(t)
	ctx := context.Background()

	hub.Register("conn-1", nil)
	hub.Register("conn-2", nil)
	hub.Authenticate("conn-1", "u1", "alice")
	hub.Authenticate("conn-2", "u1", "alice")

	if n, _ := cache.CountActiveSessions(ctx); n != 1 {
		t.Fatalf("one user online, sessions = %d", n)
	}

	// closing one tab keeps the user online
	hub.Disconnect("conn-1")
	if n, _ := cache.CountActiveSessions(ctx); n != 1 {
		t.Errorf("multi-tab user flickered offline, sessions = %d", n)
	}

	hub.Disconnect("conn-2")
	if n, _ := cache.CountActiveSessions(ctx); n != 0 {
		t.Errorf("last disconnect should clear the session, sessions = %d", n)
	}
	if hub.ConnectionCount() != 0 {
		t.Errorf("registry should be empty, has %d", hub.ConnectionCount())
	}
}

func TestSubscribeUserAttachesAllConnections(t *testing.T) {
	hub, _ := newTestHub(t)

	tab1 := hub.Register("conn-1", nil)
	tab2 := hub.Register("conn-2", nil)
	hub.Authenticate("conn-1", "u1", "alice")
	hub.Authenticate("conn-2", "u1", "alice")

	hub.SubscribeUser("u1", "room-a")
	hub.ToRoom("room-a", "room_joined", nil, "")
	if drain(t, tab1) == nil || drain(t, tab2) == nil {
		t.Error("SubscribeUser should cover all of the user's connections")
	}

	hub.UnsubscribeUser("u1", "room-a")
	hub.ToRoom("room-a", "room_left", nil, "")
	if drain(t, tab1) != nil || drain(t, tab2) != nil {
		t.Error("unsubscribed connections must not receive room frames")
	}
}

func TestReauthenticateMovesUserBinding(t *testing.T) {
	hub, cache := newTestHub(t)
	ctx := context.Background()

	conn := hub.Register("conn-1", nil)
	hub.Authenticate("conn-1", "u1", "alice")
	hub.Authenticate("conn-1", "u2", "bob")

	hub.ToUser("u1", "player_kicked", nil)
	if drain(t, conn) != nil {
		t.Error("old identity must not receive frames after re-authentication")
	}
	hub.ToUser("u2", "player_kicked", nil)
	if drain(t, conn) == nil {
		t.Error("new identity should receive frames")
	}

	// presence followed the identity
	if n, _ := cache.CountActiveSessions(ctx); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
	hub.Disconnect("conn-1")
	if n, _ := cache.CountActiveSessions(ctx); n != 0 {
		t.Errorf("after disconnect sessions = %d, want 0", n)
	}
}

func TestDisconnectUnknownConnIsHarmless(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.Disconnect("ghost")
	hub.Subscribe("ghost", "room-a")
	hub.ToRoom("room-a", "player_joined", nil, "")
}
