package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"plane-wars-server/models"

	"github.com/redis/go-redis/v9"
)

const (
	roomCacheTTL    = time.Hour
	sessionCacheTTL = 2 * time.Hour
)

// RoomCache is a read-through cache of materialized room detail views.
// The durable store stays the single source of truth: the cache is a
// latency optimization only and is never consulted on write paths.
type RoomCache struct {
	rdb *redis.Client
}

func NewRoomCache(rdb *redis.Client) *RoomCache {
	return &RoomCache{rdb: rdb}
}

func roomKey(roomID string) string {
	return "room:" + roomID
}

func sessionKey(userID string) string {
	return "session:" + userID
}

// GetRoomDetail returns the cached view and whether it was a hit.
// Cache failures degrade to a miss, they never fail the read.
func (c *RoomCache) GetRoomDetail(ctx context.Context, roomID string) (*models.RoomDetail, bool) {
	raw, err := c.rdb.Get(ctx, roomKey(roomID)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("[CACHE] Get %s failed: %v", roomKey(roomID), err)
		return nil, false
	}
	var detail models.RoomDetail
	if err := json.Unmarshal([]byte(raw), &detail); err != nil {
		log.Printf("[CACHE] Corrupt entry for %s, dropping: %v", roomKey(roomID), err)
		c.rdb.Del(ctx, roomKey(roomID))
		return nil, false
	}
	return &detail, true
}

// SetRoomDetail repopulates the view after a read miss or a mutation.
func (c *RoomCache) SetRoomDetail(ctx context.Context, detail *models.RoomDetail) {
	raw, err := json.Marshal(detail)
	if err != nil {
		log.Printf("[CACHE] Marshal room %s failed: %v", detail.Room.ID, err)
		return
	}
	if err := c.rdb.Set(ctx, roomKey(detail.Room.ID), raw, roomCacheTTL).Err(); err != nil {
		log.Printf("[CACHE] Set %s failed: %v", roomKey(detail.Room.ID), err)
	}
}

// InvalidateRoom deletes the view. Called after every durable mutation
// touching the room, always after the write commits.
func (c *RoomCache) InvalidateRoom(ctx context.Context, roomID string) {
	if err := c.rdb.Del(ctx, roomKey(roomID)).Err(); err != nil {
		log.Printf("[CACHE] Invalidate %s failed: %v", roomKey(roomID), err)
	}
}

// MarkOnline records a presence key for the user.
func (c *RoomCache) MarkOnline(ctx context.Context, userID string) {
	if err := c.rdb.Set(ctx, sessionKey(userID), time.Now().UTC().Format(time.RFC3339), sessionCacheTTL).Err(); err != nil {
		log.Printf("[CACHE] MarkOnline %s failed: %v", userID, err)
	}
}

// MarkOffline clears the presence key. Only called once the user's last
// connection has closed.
func (c *RoomCache) MarkOffline(ctx context.Context, userID string) {
	if err := c.rdb.Del(ctx, sessionKey(userID)).Err(); err != nil {
		log.Printf("[CACHE] MarkOffline %s failed: %v", userID, err)
	}
}

// CountActiveSessions scans presence keys for the admin stats endpoint.
func (c *RoomCache) CountActiveSessions(ctx context.Context) (int64, error) {
	var total int64
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, sessionKey("*"), 100).Result()
		if err != nil {
			return 0, fmt.Errorf("scan sessions: %w", err)
		}
		total += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}
