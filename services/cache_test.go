package services

import (
	"context"
	"testing"

	"plane-wars-server/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCache(t *testing.T) (*RoomCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRoomCache(rdb), mr
}

func TestRoomCacheRoundTrip(t *testing.T) {
	cache, _ := newCache(t)
	ctx := context.Background()

	if _, hit := cache.GetRoomDetail(ctx, "nope"); hit {
		t.Error("empty cache should miss")
	}

	detail := &models.RoomDetail{Room: models.Room{ID: "r1", Name: "Test"}}
	cache.SetRoomDetail(ctx, detail)

	got, hit := cache.GetRoomDetail(ctx, "r1")
	if !hit || got.Room.Name != "Test" {
		t.Errorf("expected hit with stored view, got hit=%v detail=%+v", hit, got)
	}

	cache.InvalidateRoom(ctx, "r1")
	if _, hit := cache.GetRoomDetail(ctx, "r1"); hit {
		t.Error("invalidated entry should miss")
	}
}

func TestRoomCacheCorruptEntry(t *testing.T) {
	cache, mr := newCache(t)
	ctx := context.Background()

	mr.Set("room:bad", "{not json")
	if _, hit := cache.GetRoomDetail(ctx, "bad"); hit {
		t.Error("corrupt entry must degrade to a miss")
	}
	if mr.Exists("room:bad") {
		t.Error("corrupt entry should be dropped")
	}
}

func TestSessionPresence(t *testing.T) {
	cache, _ := newCache(t)
	ctx := context.Background()

	cache.MarkOnline(ctx, "u1")
	cache.MarkOnline(ctx, "u2")
	cache.MarkOnline(ctx, "u2") // refresh, not a second session

	n, err := cache.CountActiveSessions(ctx)
	if err != nil {
		t.Fatalf("CountActiveSessions: %v", err)
	}
	if n != 2 {
		t.Errorf("active sessions = %d, want 2", n)
	}

	cache.MarkOffline(ctx, "u1")
	n, _ = cache.CountActiveSessions(ctx)
	if n != 1 {
		t.Errorf("after offline, sessions = %d, want 1", n)
	}
}
