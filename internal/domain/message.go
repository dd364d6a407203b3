package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageAudio MessageType = "audio"
	MessageVoice MessageType = "voice"
	MessageFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageVoice, MessageFile:
		return true
	}
	return false
}

type Message struct {
	ID       uuid.UUID   `json:"id"`
	ChatID   uuid.UUID   `json:"chat_id"`
	SenderID uuid.UUID   `json:"sender_id"`
	Content  *string     `json:"content,omitempty"`
	Type     MessageType `json:"type"`

	AttachmentRef  *string `json:"attachment_ref,omitempty"`
	AttachmentName *string `json:"attachment_name,omitempty"`

	// ReplyToID references a message in the same chat only.
	ReplyToID *uuid.UUID `json:"reply_to_id,omitempty"`

	Edited bool `json:"edited"`

	// CreatedAt is immutable and defines the total order within a chat.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Joined fields
	SenderUsername    string `json:"sender_username,omitempty"`
	SenderDisplayName string `json:"sender_display_name,omitempty"`
}

// HasBody reports whether the message carries any content at all. A message
// with neither text nor attachment is invalid.
func (m *Message) HasBody() bool {
	return (m.Content != nil && *m.Content != "") || (m.AttachmentRef != nil && *m.AttachmentRef != "")
}
