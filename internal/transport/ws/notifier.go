package ws

import (
	"log"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
	"github.com/nkresic/strand/internal/service"
)

// FeedNotifier implements service.Notifier by fanning row-level deltas out
// through the Hub. Per-viewer rows (chat summaries, notifications) go to a
// single user; messages reach the members passed by the service; presence is
// shared.
type FeedNotifier struct {
	hub *Hub
}

func NewFeedNotifier(hub *Hub) *FeedNotifier {
	return &FeedNotifier{hub: hub}
}

func (n *FeedNotifier) ChatDelta(op domain.Op, targets []service.ChatDeltaTarget) {
	for _, t := range targets {
		evt, err := deltaEvent(TopicChats, op, domain.TableChats, t.Summary)
		if err != nil {
			log.Printf("ws notifier: marshal error: %v", err)
			continue
		}
		n.hub.SendToUser(t.UserID, TopicChats, evt)
	}
}

func (n *FeedNotifier) MessageDelta(op domain.Op, msg *domain.Message, recipients []uuid.UUID) {
	topic := MessagesTopic(msg.ChatID)
	evt, err := deltaEvent(topic, op, domain.TableMessages, msg)
	if err != nil {
		log.Printf("ws notifier: marshal error: %v", err)
		return
	}
	for _, userID := range recipients {
		n.hub.SendToUser(userID, topic, evt)
	}
}

func (n *FeedNotifier) NotificationDelta(op domain.Op, notification *domain.Notification) {
	evt, err := deltaEvent(TopicNotifications, op, domain.TableNotifications, notification)
	if err != nil {
		log.Printf("ws notifier: marshal error: %v", err)
		return
	}
	n.hub.SendToUser(notification.UserID, TopicNotifications, evt)
}

func (n *FeedNotifier) PresenceDelta(user *domain.User) {
	evt, err := deltaEvent(TopicUsers, domain.OpUpdate, domain.TableUsers, user)
	if err != nil {
		log.Printf("ws notifier: marshal error: %v", err)
		return
	}
	n.hub.SendToTopic(TopicUsers, evt)
}
