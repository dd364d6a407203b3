package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Op is a row-level change operation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Table identifies the entity scope a delta belongs to.
type Table string

const (
	TableChats         Table = "chats"
	TableMessages      Table = "messages"
	TableNotifications Table = "notifications"
	TableUsers         Table = "users"
)

var ErrMalformedDelta = errors.New("malformed delta payload")

// Delta is one change-feed event. Inserts and updates carry the row in
// After; deletes carry the last known row in Before.
type Delta struct {
	Op     Op              `json:"op"`
	Table  Table           `json:"table"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

func (d *Delta) snapshot() json.RawMessage {
	if d.Op == OpDelete {
		return d.Before
	}
	return d.After
}

// ChatSummary decodes the delta as a directory row, rejecting payloads
// missing the identifying fields rather than propagating zero values.
func (d *Delta) ChatSummary() (*ChatSummary, error) {
	if d.Table != TableChats {
		return nil, fmt.Errorf("%w: table %q is not %q", ErrMalformedDelta, d.Table, TableChats)
	}
	var c ChatSummary
	if err := decodeRow(d.snapshot(), &c); err != nil {
		return nil, err
	}
	if c.ID == uuid.Nil || !c.Kind.Valid() {
		return nil, fmt.Errorf("%w: chat row missing id or kind", ErrMalformedDelta)
	}
	return &c, nil
}

// Message decodes the delta as a message row.
func (d *Delta) Message() (*Message, error) {
	if d.Table != TableMessages {
		return nil, fmt.Errorf("%w: table %q is not %q", ErrMalformedDelta, d.Table, TableMessages)
	}
	var m Message
	if err := decodeRow(d.snapshot(), &m); err != nil {
		return nil, err
	}
	if m.ID == uuid.Nil || m.ChatID == uuid.Nil {
		return nil, fmt.Errorf("%w: message row missing id or chat_id", ErrMalformedDelta)
	}
	return &m, nil
}

// Notification decodes the delta as a notification row.
func (d *Delta) Notification() (*Notification, error) {
	if d.Table != TableNotifications {
		return nil, fmt.Errorf("%w: table %q is not %q", ErrMalformedDelta, d.Table, TableNotifications)
	}
	var n Notification
	if err := decodeRow(d.snapshot(), &n); err != nil {
		return nil, err
	}
	if n.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: notification row missing id", ErrMalformedDelta)
	}
	return &n, nil
}

// User decodes the delta as a user row (presence updates).
func (d *Delta) User() (*User, error) {
	if d.Table != TableUsers {
		return nil, fmt.Errorf("%w: table %q is not %q", ErrMalformedDelta, d.Table, TableUsers)
	}
	var u User
	if err := decodeRow(d.snapshot(), &u); err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: user row missing id", ErrMalformedDelta)
	}
	return &u, nil
}

func decodeRow(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty row snapshot", ErrMalformedDelta)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}
	return nil
}
