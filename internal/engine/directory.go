package engine

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
)

// Directory reconciles the viewer's chat list from feed deltas. It holds the
// full superset; the active/archived split and search are projections over
// it, so applying a delta never loses a row that a different projection
// would show.
type Directory struct {
	mu    sync.RWMutex
	chats map[uuid.UUID]domain.ChatSummary
}

func NewDirectory() *Directory {
	return &Directory{chats: make(map[uuid.UUID]domain.ChatSummary)}
}

// Resync replaces the whole working set with a fresh snapshot.
func (d *Directory) Resync(chats []domain.ChatSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.chats = make(map[uuid.UUID]domain.ChatSummary, len(chats))
	for _, c := range chats {
		d.chats[c.ID] = c
	}
}

// Apply folds one delta into the working set. Inserts and updates both
// upsert: an update for a row never seen (interleaved with a resync) must
// still land, and a replayed insert must not duplicate.
func (d *Directory) Apply(delta domain.Delta) error {
	summary, err := delta.ChatSummary()
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch delta.Op {
	case domain.OpInsert, domain.OpUpdate:
		d.chats[summary.ID] = *summary
	case domain.OpDelete:
		delete(d.chats, summary.ID)
	default:
		return domain.ErrMalformedDelta
	}
	return nil
}

// Get returns the reconciled row for one chat.
func (d *Directory) Get(chatID uuid.UUID) (domain.ChatSummary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.chats[chatID]
	return c, ok
}

// Snapshot projects the working set: archived selects which half of the
// split to show, search narrows by case-insensitive substring on the display
// name. Rows come back pinned first, then most recently updated, with the id
// as a stable tiebreak.
func (d *Directory) Snapshot(archived bool, search string) []domain.ChatSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(search))

	out := make([]domain.ChatSummary, 0, len(d.chats))
	for _, c := range d.chats {
		if c.Archived != archived {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(c.DisplayName), needle) {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return out
}

// Len reports the size of the working set across both projections.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.chats)
}
