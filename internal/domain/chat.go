package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatKind is the conversation shape: one-to-one, group, or broadcast channel.
type ChatKind string

const (
	ChatPersonal ChatKind = "personal"
	ChatGroup    ChatKind = "group"
	ChatChannel  ChatKind = "channel"
)

func (k ChatKind) Valid() bool {
	switch k {
	case ChatPersonal, ChatGroup, ChatChannel:
		return true
	}
	return false
}

type Chat struct {
	ID           uuid.UUID         `json:"id"`
	Kind         ChatKind          `json:"kind"`
	Name         string            `json:"name"`
	AvatarRef    *string           `json:"avatar_ref,omitempty"`
	WallpaperRef *string           `json:"wallpaper_ref,omitempty"`
	Pinned       bool              `json:"pinned"`
	Archived     bool              `json:"archived"`
	Muted        bool              `json:"muted"`
	InviteToken  *string           `json:"invite_token,omitempty"`
	Settings     map[string]string `json:"settings,omitempty"`
	CreatedBy    uuid.UUID         `json:"created_by"`
	CreatedAt    time.Time         `json:"created_at"`
	// UpdatedAt drives directory sort order; bumped on any content-relevant
	// mutation, never decreased.
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatSummary is a directory entry: the chat row plus the per-viewer display
// identity (for personal chats the counterpart, not the stored name) and the
// last-message preview.
type ChatSummary struct {
	Chat
	DisplayName       string     `json:"display_name"`
	DisplayAvatarRef  *string    `json:"display_avatar_ref,omitempty"`
	CounterpartID     *uuid.UUID `json:"counterpart_id,omitempty"`
	CounterpartOnline bool       `json:"counterpart_online,omitempty"`
	LastMessage       *string    `json:"last_message,omitempty"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
}
