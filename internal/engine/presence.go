package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
)

// heartbeatInterval is how often a visible client refreshes its liveness;
// it must stay well under the server's presence TTL.
const heartbeatInterval = 20 * time.Second

// Presence mirrors other users' online state from feed deltas and beats its
// own heart while the app is visible. Last-seen timestamps arrive from the
// server, which stamps them only on the online to offline transition.
type Presence struct {
	heartbeat func(ctx context.Context) error

	mu      sync.RWMutex
	users   map[uuid.UUID]domain.User
	visible bool
	wake    chan struct{}
}

func NewPresence(heartbeat func(ctx context.Context) error) *Presence {
	return &Presence{
		heartbeat: heartbeat,
		users:     make(map[uuid.UUID]domain.User),
		wake:      make(chan struct{}, 1),
	}
}

// Resync replaces the known user set.
func (p *Presence) Resync(users []domain.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = make(map[uuid.UUID]domain.User, len(users))
	for _, u := range users {
		p.users[u.ID] = u
	}
}

// Apply folds one user delta in.
func (p *Presence) Apply(delta domain.Delta) error {
	user, err := delta.User()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if delta.Op == domain.OpDelete {
		delete(p.users, user.ID)
		return nil
	}
	p.users[user.ID] = *user
	return nil
}

// Online reports whether a user is currently online, false for unknowns.
func (p *Presence) Online(userID uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.users[userID].Online
}

// LastSeen returns when an offline user was last online; nil while they are
// online or unknown.
func (p *Presence) LastSeen(userID uuid.UUID) *time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[userID]
	if !ok || u.Online {
		return nil
	}
	return u.LastSeenAt
}

// SetVisible flips foreground state. Heartbeats run only while visible; the
// server times the session out once they stop.
func (p *Presence) SetVisible(visible bool) {
	p.mu.Lock()
	p.visible = visible
	p.mu.Unlock()

	if visible {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

func (p *Presence) isVisible() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.visible
}

// Run drives the heartbeat loop until the context is cancelled.
func (p *Presence) Run(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		if p.isVisible() {
			if err := p.heartbeat(ctx); err != nil && ctx.Err() == nil {
				log.Printf("engine presence: heartbeat: %v", err)
			}
		}

		select {
		case <-ticker.C:
		case <-p.wake:
			// Became visible: beat immediately instead of waiting out
			// the tick.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
