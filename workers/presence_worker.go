package workers

import (
	"context"
	"log"
	"time"

	"plane-wars-server/services"
	"plane-wars-server/ws"
)

// PollPresence periodically refreshes the redis presence keys for
// every authenticated connection so sessions of long-lived sockets
// never expire out from under the stats endpoint, and logs occupancy.
func PollPresence(ctx context.Context, hub *ws.Hub, cache *services.RoomCache, pollInterval time.Duration) {
	log.Println("Starting presence polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Presence polling stopped.")
			return
		case <-ticker.C:
			users := hub.OnlineUsers()
			for _, userID := range users {
				cache.MarkOnline(ctx, userID)
			}
			log.Printf("[PRESENCE] %d connections, %d users online",
				hub.ConnectionCount(), len(users))
		}
	}
}
