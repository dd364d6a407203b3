package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateSettings(ctx context.Context, id uuid.UUID, privacy domain.PrivacySettings, notify domain.NotifySettings) error
	// SetPresence flips the online flag; lastSeen is written only on the
	// online→offline transition and cleared otherwise.
	SetPresence(ctx context.Context, id uuid.UUID, online bool, lastSeen *time.Time) error
	// ListOnlineIDs returns the users whose durable online flag is set, for
	// reconciling against the liveness keys.
	ListOnlineIDs(ctx context.Context) ([]uuid.UUID, error)
}

type ChatRepository interface {
	// Create inserts the chat and its creator membership in one transaction.
	Create(ctx context.Context, chat *domain.Chat, creator *domain.Membership) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Chat, error)
	GetByInviteToken(ctx context.Context, token string) (*domain.Chat, error)
	// FindOrCreatePersonal is the dedup protocol: one atomic unit of work
	// that returns the existing personal chat for the canonical pair or
	// creates the chat plus both memberships. Reports whether it created.
	FindOrCreatePersonal(ctx context.Context, requester, other *domain.User) (uuid.UUID, bool, error)
	ListSummaries(ctx context.Context, viewerID uuid.UUID) ([]domain.ChatSummary, error)
	GetSummary(ctx context.Context, chatID, viewerID uuid.UUID) (*domain.ChatSummary, error)
	Update(ctx context.Context, chat *domain.Chat) error
	// Touch bumps updated_at, keeping it monotonically non-decreasing.
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type MembershipRepository interface {
	Add(ctx context.Context, m *domain.Membership) error
	Remove(ctx context.Context, chatID, userID uuid.UUID) error
	Get(ctx context.Context, chatID, userID uuid.UUID) (*domain.Membership, error)
	List(ctx context.Context, chatID uuid.UUID) ([]domain.Membership, error)
	ListUserIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)
	Update(ctx context.Context, m *domain.Membership) error
	CountAdmins(ctx context.Context, chatID uuid.UUID) (int, error)
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	ListByChat(ctx context.Context, chatID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error)
	Update(ctx context.Context, msg *domain.Message) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	// MarkRead reports whether the row transitioned from unread to read, so
	// replays stay idempotent.
	MarkRead(ctx context.Context, id, userID uuid.UUID) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}
