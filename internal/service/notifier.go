package service

import (
	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
)

// ChatDeltaTarget pairs a recipient with their view of the chat row.
// Directory rows differ per viewer: a personal chat's display identity is
// the counterpart, so the same mutation fans out as distinct snapshots.
type ChatDeltaTarget struct {
	UserID  uuid.UUID
	Summary *domain.ChatSummary
}

// Notifier pushes row-level deltas into the change feed. Services call it
// after every committed mutation; delivery is best-effort, reconcilers
// resynchronize after transport gaps.
type Notifier interface {
	ChatDelta(op domain.Op, targets []ChatDeltaTarget)
	MessageDelta(op domain.Op, msg *domain.Message, recipients []uuid.UUID)
	NotificationDelta(op domain.Op, n *domain.Notification)
	PresenceDelta(user *domain.User)
}
