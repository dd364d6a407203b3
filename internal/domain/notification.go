package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	NotificationNewMessage = "message.new"
	NotificationMention    = "mention"
	NotificationInvite     = "chat.invite"
)

type Notification struct {
	ID      uuid.UUID       `json:"id"`
	UserID  uuid.UUID       `json:"user_id"`
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Read    bool            `json:"read"`

	CreatedAt time.Time `json:"created_at"`
}
