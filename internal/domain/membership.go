package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Membership links one user to one chat. A user appears at most once per
// chat; every chat keeps at least one admin (the creator at creation time).
type Membership struct {
	ChatID uuid.UUID `json:"chat_id"`
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`

	// Capability flags, independent of role. Admins bypass them.
	CanAddMembers     bool `json:"can_add_members"`
	CanPinMessages    bool `json:"can_pin_messages"`
	CanDeleteMessages bool `json:"can_delete_messages"`
	CanSendMessages   bool `json:"can_send_messages"`

	JoinedAt time.Time `json:"joined_at"`

	// Joined fields
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// DefaultMemberCapabilities returns the flags a plain member starts with.
func DefaultMemberCapabilities() (addMembers, pinMessages, deleteMessages, sendMessages bool) {
	return false, false, false, true
}
