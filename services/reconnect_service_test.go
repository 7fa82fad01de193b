package services

import (
	"context"
	"testing"

	"plane-wars-server/models"
)

func TestCheckReconnectNoRoom(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t, "alice")

	info, err := env.reconnect.CheckReconnect(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CheckReconnect: %v", err)
	}
	if info.HasActiveRoom {
		t.Error("user without a room should have no active room")
	}
}

func TestCheckReconnectActiveRoom(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t, "alice")
	detail, _ := env.rooms.CreateRoom(user.ID, CreateRoomRequest{Name: "R1"})

	info, err := env.reconnect.CheckReconnect(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CheckReconnect: %v", err)
	}
	if !info.HasActiveRoom || info.Room == nil || info.Room.Room.ID != detail.Room.ID {
		t.Errorf("expected full detail for the active room, got %+v", info)
	}
}

func TestCheckReconnectRepairsStaleReference(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t, "alice")
	detail, _ := env.rooms.CreateRoom(user.ID, CreateRoomRequest{Name: "R1"})

	// the room vanishes out-of-band but the back-reference survives
	env.db.Delete(&models.RoomMember{}, "room_id = ?", detail.Room.ID)
	env.db.Delete(&models.Room{}, "id = ?", detail.Room.ID)

	info, err := env.reconnect.CheckReconnect(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CheckReconnect: %v", err)
	}
	if info.HasActiveRoom {
		t.Error("dangling reference should report no active room")
	}
	var healed models.User
	env.db.First(&healed, "id = ?", user.ID)
	if healed.CurrentRoomID != nil {
		t.Error("stale currentRoomId should be cleared")
	}
}

func TestCheckReconnectFinishedRoomIsStale(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t, "alice")
	detail, _ := env.rooms.CreateRoom(user.ID, CreateRoomRequest{Name: "R1"})

	env.db.Model(&models.Room{}).Where("id = ?", detail.Room.ID).
		Update("status", models.RoomStatusFinished)

	info, err := env.reconnect.CheckReconnect(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CheckReconnect: %v", err)
	}
	if info.HasActiveRoom {
		t.Error("finished room must not be rejoinable")
	}
}
