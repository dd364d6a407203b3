// Package authority is the single decision point for "can user U perform
// action A on chat C". It is a pure function over the membership record and
// has no side effects; command paths consult it before dispatch, and the
// same rules are mirrored by the store's row constraints.
package authority

import (
	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
)

type Action string

const (
	// Capability-gated actions. Admins bypass the individual flags.
	ActionSendMessages   Action = "send_messages"
	ActionAddMembers     Action = "add_members"
	ActionPinMessages    Action = "pin_messages"
	ActionDeleteMessages Action = "delete_messages"

	// ActionManageRoles covers role and capability changes on other members.
	ActionManageRoles Action = "manage_roles"

	// ActionEditChat covers the pinned/archived/muted toggles and settings.
	ActionEditChat Action = "edit_chat"

	// ActionEditInfo covers renaming and avatar/wallpaper changes.
	ActionEditInfo Action = "edit_info"

	// ActionDeleteChat is restricted to the chat's creator, deliberately not
	// to any admin.
	ActionDeleteChat Action = "delete_chat"

	// ActionLeaveChat is self-removal, allowed to every member.
	ActionLeaveChat Action = "leave_chat"
)

// Allowed decides whether userID may perform action on chat given its
// membership record, or nil when the user holds no membership.
func Allowed(chat *domain.Chat, m *domain.Membership, userID uuid.UUID, action Action) bool {
	if chat == nil || m == nil {
		return false
	}
	if m.ChatID != chat.ID || m.UserID != userID {
		return false
	}

	switch action {
	case ActionLeaveChat:
		return true
	case ActionDeleteChat:
		return chat.CreatedBy == userID
	case ActionManageRoles, ActionEditInfo:
		return m.Role == domain.RoleAdmin
	case ActionEditChat:
		return true
	case ActionSendMessages:
		return m.Role == domain.RoleAdmin || m.CanSendMessages
	case ActionAddMembers:
		return m.Role == domain.RoleAdmin || m.CanAddMembers
	case ActionPinMessages:
		return m.Role == domain.RoleAdmin || m.CanPinMessages
	case ActionDeleteMessages:
		return m.Role == domain.RoleAdmin || m.CanDeleteMessages
	}
	return false
}
