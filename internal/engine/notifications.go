package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
)

// FeedCap bounds how many notifications the dispatcher keeps; older entries
// age out of the local view without being deleted upstream.
const FeedCap = 50

// Notifications is the client-side dispatcher: a bounded feed newest first
// plus an unread counter, reconciled from feed deltas.
type Notifications struct {
	mu     sync.Mutex
	items  []domain.Notification
	unread int
}

func NewNotifications() *Notifications {
	return &Notifications{}
}

// Resync replaces the feed with a fresh snapshot, newest first.
func (n *Notifications) Resync(items []domain.Notification, unread int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(items) > FeedCap {
		items = items[:FeedCap]
	}
	n.items = make([]domain.Notification, len(items))
	copy(n.items, items)
	n.unread = unread
}

// Apply folds one notification delta in. Inserts prepend and evict past the
// cap; updates merge the read flag by id.
func (n *Notifications) Apply(delta domain.Delta) error {
	item, err := delta.Notification()
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	switch delta.Op {
	case domain.OpInsert:
		for _, existing := range n.items {
			if existing.ID == item.ID {
				return nil
			}
		}
		n.items = append([]domain.Notification{*item}, n.items...)
		if len(n.items) > FeedCap {
			n.items = n.items[:FeedCap]
		}
		if !item.Read {
			n.unread++
		}
		return nil

	case domain.OpUpdate:
		n.markRead(item.ID)
		return nil

	case domain.OpDelete:
		for i := range n.items {
			if n.items[i].ID == item.ID {
				if !n.items[i].Read {
					n.unread--
				}
				n.items = append(n.items[:i], n.items[i+1:]...)
				break
			}
		}
		return nil
	}
	return domain.ErrMalformedDelta
}

// MarkRead applies the read state locally before the server confirms. It is
// idempotent: repeats and unknown ids change nothing.
func (n *Notifications) MarkRead(id uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.markRead(id)
}

func (n *Notifications) markRead(id uuid.UUID) {
	for i := range n.items {
		if n.items[i].ID != id {
			continue
		}
		if !n.items[i].Read {
			n.items[i].Read = true
			if n.unread > 0 {
				n.unread--
			}
		}
		return
	}
}

// MarkAllRead clears the unread counter and flags every held item.
func (n *Notifications) MarkAllRead() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.items {
		n.items[i].Read = true
	}
	n.unread = 0
}

// Snapshot returns the feed newest first.
func (n *Notifications) Snapshot() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.Notification, len(n.items))
	copy(out, n.items)
	return out
}

func (n *Notifications) Unread() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unread
}
