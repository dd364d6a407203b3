package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
	"github.com/nkresic/strand/internal/repository"
)

var ErrNotificationNotFound = errors.New("notification not found")

// feedLimit caps the unread feed; older entries age out of view without
// being deleted.
const feedLimit = 50

type NotificationService struct {
	notifRepo repository.NotificationRepository
	notifier  Notifier
}

func NewNotificationService(notifRepo repository.NotificationRepository) *NotificationService {
	return &NotificationService{notifRepo: notifRepo}
}

func (s *NotificationService) SetNotifier(n Notifier) {
	s.notifier = n
}

type NotificationFeed struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
}

func (s *NotificationService) Feed(ctx context.Context, userID uuid.UUID) (*NotificationFeed, error) {
	notifications, err := s.notifRepo.ListByUser(ctx, userID, feedLimit)
	if err != nil {
		return nil, err
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}

	unread, err := s.notifRepo.CountUnread(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &NotificationFeed{
		Notifications: notifications,
		UnreadCount:   unread,
	}, nil
}

// MarkRead is idempotent: marking an already-read or unknown notification
// changes nothing and emits nothing.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	changed, err := s.notifRepo.MarkRead(ctx, notificationID, userID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if s.notifier != nil {
		s.notifier.NotificationDelta(domain.OpUpdate, &domain.Notification{
			ID:     notificationID,
			UserID: userID,
			Read:   true,
		})
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	ids, err := s.notifRepo.MarkAllRead(ctx, userID)
	if err != nil {
		return err
	}

	if s.notifier != nil {
		for _, id := range ids {
			s.notifier.NotificationDelta(domain.OpUpdate, &domain.Notification{
				ID:     id,
				UserID: userID,
				Read:   true,
			})
		}
	}
	return nil
}
