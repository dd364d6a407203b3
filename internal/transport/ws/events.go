package ws

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
)

// Event types - Client → Server
const (
	EventTypeSubscribe   = "subscribe"
	EventTypeUnsubscribe = "unsubscribe"
	EventTypePing        = "ping"
)

// Event types - Server → Client
const (
	EventTypeSubscribed = "subscribed"
	EventTypeDelta      = "delta"
	EventTypePong       = "pong"
	EventTypeError      = "error"
)

// Topics. Chats and notifications carry per-viewer rows, so deltas on them
// are routed to a single user. The users topic is shared presence, and every
// chat gets its own message topic gated by membership at subscribe time.
const (
	TopicChats         = "chats"
	TopicNotifications = "notifications"
	TopicUsers         = "users"
)

const messagesTopicPrefix = "messages:"

func MessagesTopic(chatID uuid.UUID) string {
	return messagesTopicPrefix + chatID.String()
}

// ParseMessagesTopic returns the chat id of a messages topic, or false for
// any other topic string.
func ParseMessagesTopic(topic string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(topic, messagesTopicPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

type SubscribePayload struct {
	Topic string `json:"topic"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType, topic string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}

// deltaEvent wraps a row snapshot into a change-feed delta. Inserts and
// updates carry the row in after; deletes carry it in before.
func deltaEvent(topic string, op domain.Op, table domain.Table, row any) (*Event, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	delta := domain.Delta{Op: op, Table: table}
	if op == domain.OpDelete {
		delta.Before = data
	} else {
		delta.After = data
	}
	return NewEvent(EventTypeDelta, topic, delta)
}
