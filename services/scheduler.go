package services

import (
	"context"
	"log"
	"time"

	"plane-wars-server/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

const (
	abandonedAfter = 30 * time.Minute
	stalledAfter   = 2 * time.Hour
)

// StartRoomSweeper runs the periodic maintenance job: waiting rooms
// idle past the grace period are finished and their members evicted,
// and matches stalled well past any plausible game length are force
// ended with no winner.
func (s *RoomService) StartRoomSweeper() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(func() {
			now := time.Now().UTC()

			var stale []models.Room
			err := s.DB.Where("status = ? AND updated_at < ?",
				models.RoomStatusWaiting, now.Add(-abandonedAfter)).
				Find(&stale).Error
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}
			for _, room := range stale {
				if err := s.sweepRoom(room.ID); err != nil {
					log.Printf("[Scheduler] Failed to sweep room %s: %v", room.ID, err)
				} else {
					log.Printf("[Scheduler] Closed abandoned room %s (%s)", room.ID, room.Name)
				}
			}

			var stalled []models.Room
			err = s.DB.Where("status = ? AND updated_at < ?",
				models.RoomStatusPlaying, now.Add(-stalledAfter)).
				Find(&stalled).Error
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}
			for _, room := range stalled {
				if err := s.sweepStalledMatch(room.ID); err != nil {
					log.Printf("[Scheduler] Failed to end stalled match in room %s: %v", room.ID, err)
				} else {
					log.Printf("[Scheduler] Force ended stalled match in room %s (%s)", room.ID, room.Name)
				}
			}
		}),
	)
}

// sweepRoom finishes the room and evicts every member, under the same
// lock ordinary mutations take.
func (s *RoomService) sweepRoom(roomID string) error {
	l := s.lockRoom(roomID)
	l.Lock()
	defer l.Unlock()

	var memberIDs []string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.Status != models.RoomStatusWaiting {
			return nil
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
		return tx.Model(&models.Room{}).Where("id = ?", roomID).
			Update("status", models.RoomStatusFinished).Error
	})
	if err != nil {
		return err
	}

	s.Cache.InvalidateRoom(context.Background(), roomID)
	for _, uid := range memberIDs {
		s.Hub.ToUser(uid, EventRoomDissolved, map[string]string{
			"room_id": roomID,
			"reason":  "inactivity",
		})
		s.Hub.UnsubscribeUser(uid, roomID)
	}
	s.dropLock(roomID)
	return nil
}

// sweepStalledMatch force ends a match nobody is playing anymore. No
// winner is declared and the room moves to finished.
func (s *RoomService) sweepStalledMatch(roomID string) error {
	l := s.lockRoom(roomID)
	l.Lock()
	defer l.Unlock()

	var memberIDs []string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.Status != models.RoomStatusPlaying {
			return nil
		}
		for _, m := range room.Members {
			memberIDs = append(memberIDs, m.UserID)
		}
		now := time.Now().UTC()
		if err := tx.Model(&models.Match{}).
			Where("room_id = ? AND phase <> ?", roomID, models.MatchPhaseFinished).
			Updates(map[string]interface{}{
				"phase":       models.MatchPhaseFinished,
				"winner_id":   nil,
				"finished_at": now,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("current_room_id = ?", roomID).
			Update("current_room_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.RoomMember{}, "room_id = ?", roomID).Error; err != nil {
			return err
		}
		return tx.Model(&models.Room{}).Where("id = ?", roomID).
			Update("status", models.RoomStatusFinished).Error
	})
	if err != nil {
		return err
	}

	s.Cache.InvalidateRoom(context.Background(), roomID)
	for _, uid := range memberIDs {
		s.Hub.ToUser(uid, EventRoomDissolved, map[string]string{
			"room_id": roomID,
			"reason":  "match stalled",
		})
		s.Hub.UnsubscribeUser(uid, roomID)
	}
	s.dropLock(roomID)
	return nil
}
