package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkresic/strand/internal/repository"
)

// presenceTTL is how long a heartbeat keeps a user online. Clients beat
// roughly every 20s, so a single missed beat does not flip them offline.
const presenceTTL = 60 * time.Second

// PresenceService tracks liveness in Redis keyed by user id. The durable
// last_seen_at column is written only on the online to offline transition;
// repeated heartbeats and repeated disconnects never move it.
type PresenceService struct {
	rdb      *redis.Client
	userRepo repository.UserRepository
	notifier Notifier
}

func NewPresenceService(rdb *redis.Client, userRepo repository.UserRepository) *PresenceService {
	return &PresenceService{rdb: rdb, userRepo: userRepo}
}

func (s *PresenceService) SetNotifier(n Notifier) {
	s.notifier = n
}

func presenceKey(userID uuid.UUID) string {
	return "presence:" + userID.String()
}

// Heartbeat refreshes the liveness key and, on the offline to online
// transition, flips the durable flag and broadcasts the change.
func (s *PresenceService) Heartbeat(ctx context.Context, userID uuid.UUID) error {
	wasOnline, err := s.rdb.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("checking presence key: %w", err)
	}

	if err := s.rdb.Set(ctx, presenceKey(userID), "1", presenceTTL).Err(); err != nil {
		return fmt.Errorf("setting presence key: %w", err)
	}

	if wasOnline > 0 {
		return nil
	}

	if err := s.userRepo.SetPresence(ctx, userID, true, nil); err != nil {
		return fmt.Errorf("marking user online: %w", err)
	}
	s.broadcast(ctx, userID)
	return nil
}

// Offline drops the liveness key and stamps last_seen_at. The durable online
// flag, not the key, decides whether this is a real transition: the key may
// have already expired (heartbeats stop while the client is hidden but the
// connection stays up), and that expiry must still produce exactly one
// last_seen write. Calling it for a user who is already offline is a no-op.
func (s *PresenceService) Offline(ctx context.Context, userID uuid.UUID) error {
	if err := s.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("deleting presence key: %w", err)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user %s: %w", userID, err)
	}
	if user == nil || !user.Online {
		return nil
	}

	now := time.Now()
	if err := s.userRepo.SetPresence(ctx, userID, false, &now); err != nil {
		return fmt.Errorf("marking user offline: %w", err)
	}
	s.broadcast(ctx, userID)
	return nil
}

// Sweep flips users whose heartbeat key expired while their connection stayed
// open. Without it a hidden client would sit online forever.
func (s *PresenceService) Sweep(ctx context.Context) error {
	ids, err := s.userRepo.ListOnlineIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing online users: %w", err)
	}

	for _, id := range ids {
		alive, err := s.rdb.Exists(ctx, presenceKey(id)).Result()
		if err != nil {
			return fmt.Errorf("checking presence key: %w", err)
		}
		if alive > 0 {
			continue
		}
		if err := s.Offline(ctx, id); err != nil {
			log.Printf("presence service: sweeping %s offline: %v", id, err)
		}
	}
	return nil
}

// RunSweeper runs Sweep on an interval until the context is cancelled.
func (s *PresenceService) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(presenceTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Printf("presence service: sweep: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *PresenceService) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := s.rdb.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking presence key: %w", err)
	}
	return n > 0, nil
}

func (s *PresenceService) broadcast(ctx context.Context, userID uuid.UUID) {
	if s.notifier == nil {
		return
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil || user == nil {
		log.Printf("presence service: loading user %s: %v", userID, err)
		return
	}
	s.notifier.PresenceDelta(user)
}
