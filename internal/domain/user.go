package domain

import (
	"time"

	"github.com/google/uuid"
)

// Visibility controls who may see a profile field.
type Visibility string

const (
	VisibilityEveryone Visibility = "everyone"
	VisibilityContacts Visibility = "contacts"
	VisibilityNobody   Visibility = "nobody"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityEveryone, VisibilityContacts, VisibilityNobody:
		return true
	}
	return false
}

// PrivacySettings is the per-user privacy preference block.
type PrivacySettings struct {
	LastSeen   Visibility `json:"last_seen"`
	Avatar     Visibility `json:"avatar"`
	GroupAdd   Visibility `json:"group_add"`
	Searchable bool       `json:"searchable"`
}

// NotifySettings is the per-user notification preference block.
type NotifySettings struct {
	InApp   bool `json:"in_app"`
	Preview bool `json:"preview"`
	Sound   bool `json:"sound"`
}

func DefaultPrivacySettings() PrivacySettings {
	return PrivacySettings{
		LastSeen:   VisibilityEveryone,
		Avatar:     VisibilityEveryone,
		GroupAdd:   VisibilityEveryone,
		Searchable: true,
	}
}

func DefaultNotifySettings() NotifySettings {
	return NotifySettings{InApp: true, Preview: true, Sound: true}
}

type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	PasswordHash string     `json:"-"`
	AvatarRef    *string    `json:"avatar_ref,omitempty"`
	Online       bool       `json:"online"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`

	Privacy PrivacySettings `json:"privacy"`
	Notify  NotifySettings  `json:"notify"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName joins the name parts the way chat lists render them.
func (u *User) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
