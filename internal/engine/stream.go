package engine

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
)

// Stream reconciles one chat's message log from feed deltas. Messages are
// kept ascending by created_at with the id as tiebreak; created_at is
// immutable, so a delta arriving late is slotted into place rather than
// appended.
type Stream struct {
	chatID uuid.UUID

	mu       sync.RWMutex
	messages []domain.Message
	index    map[uuid.UUID]struct{}

	// following marks the viewer as sitting at the newest message; while
	// set, a fresh tail append should scroll them along.
	following bool
}

func NewStream(chatID uuid.UUID) *Stream {
	return &Stream{
		chatID: chatID,
		index:  make(map[uuid.UUID]struct{}),
	}
}

func (s *Stream) ChatID() uuid.UUID {
	return s.chatID
}

// Resync replaces the log with a fresh snapshot, oldest first.
func (s *Stream) Resync(messages []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]domain.Message, len(messages))
	copy(s.messages, messages)
	sort.SliceStable(s.messages, func(i, j int) bool {
		return before(s.messages[i], s.messages[j])
	})

	s.index = make(map[uuid.UUID]struct{}, len(s.messages))
	for _, m := range s.messages {
		s.index[m.ID] = struct{}{}
	}
}

// Prepend adds an older page fetched via the pagination cursor.
func (s *Stream) Prepend(messages []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range messages {
		s.insert(m)
	}
}

// Apply folds one message delta into the log. It reports whether the delta
// landed at the tail while the viewer is following, so the owner knows to
// advance the view.
func (s *Stream) Apply(delta domain.Delta) (atTail bool, err error) {
	msg, err := delta.Message()
	if err != nil {
		return false, err
	}
	if msg.ChatID != s.chatID {
		return false, domain.ErrMalformedDelta
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch delta.Op {
	case domain.OpInsert:
		pos := s.insert(*msg)
		return s.following && pos == len(s.messages)-1, nil

	case domain.OpUpdate:
		for i := range s.messages {
			if s.messages[i].ID == msg.ID {
				s.messages[i] = *msg
				break
			}
		}
		return false, nil

	case domain.OpDelete:
		for i := range s.messages {
			if s.messages[i].ID == msg.ID {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
				delete(s.index, msg.ID)
				break
			}
		}
		return false, nil
	}
	return false, domain.ErrMalformedDelta
}

// insert slots a message into order and returns its position. Duplicates
// replace in place.
func (s *Stream) insert(msg domain.Message) int {
	if _, seen := s.index[msg.ID]; seen {
		for i := range s.messages {
			if s.messages[i].ID == msg.ID {
				s.messages[i] = msg
				return i
			}
		}
	}

	pos := sort.Search(len(s.messages), func(i int) bool {
		return before(msg, s.messages[i])
	})
	s.messages = append(s.messages, domain.Message{})
	copy(s.messages[pos+1:], s.messages[pos:])
	s.messages[pos] = msg
	s.index[msg.ID] = struct{}{}
	return pos
}

func before(a, b domain.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Follow marks whether the viewer is at the tail of the log.
func (s *Stream) Follow(following bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.following = following
}

// Snapshot returns the log oldest first.
func (s *Stream) Snapshot() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
