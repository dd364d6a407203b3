package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkresic/strand/internal/domain"
)

func summary(name string, pinned, archived bool, updatedAt time.Time) domain.ChatSummary {
	return domain.ChatSummary{
		Chat: domain.Chat{
			ID:        uuid.New(),
			Kind:      domain.ChatGroup,
			Name:      name,
			Pinned:    pinned,
			Archived:  archived,
			UpdatedAt: updatedAt,
		},
		DisplayName: name,
	}
}

func chatDelta(t *testing.T, op domain.Op, c domain.ChatSummary) domain.Delta {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	d := domain.Delta{Op: op, Table: domain.TableChats}
	if op == domain.OpDelete {
		d.Before = data
	} else {
		d.After = data
	}
	return d
}

func names(chats []domain.ChatSummary) []string {
	out := make([]string, len(chats))
	for i, c := range chats {
		out[i] = c.DisplayName
	}
	return out
}

func TestDirectoryOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d := NewDirectory()
	d.Resync([]domain.ChatSummary{
		summary("old", false, false, base.Add(-time.Hour)),
		summary("newest", false, false, base.Add(time.Hour)),
		summary("pinned-old", true, false, base.Add(-2*time.Hour)),
		summary("middle", false, false, base),
	})

	got := names(d.Snapshot(false, ""))
	assert.Equal(t, []string{"pinned-old", "newest", "middle", "old"}, got)
}

func TestDirectoryOrderingTiebreak(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := summary("a", false, false, at)
	b := summary("b", false, false, at)

	d := NewDirectory()
	d.Resync([]domain.ChatSummary{a, b})

	first := d.Snapshot(false, "")
	// Same timestamps: order must still be deterministic.
	for i := 0; i < 10; i++ {
		assert.Equal(t, names(first), names(d.Snapshot(false, "")))
	}
	assert.True(t, first[0].ID.String() < first[1].ID.String())
}

func TestDirectoryApplyPermutationsConverge(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := summary("alpha", false, false, base)
	b := summary("beta", true, false, base.Add(time.Minute))
	c := summary("gamma", false, false, base.Add(2*time.Minute))

	bUpdated := b
	bUpdated.Pinned = false
	bUpdated.UpdatedAt = base.Add(3 * time.Minute)

	deltas := []domain.Delta{
		chatDelta(t, domain.OpInsert, a),
		chatDelta(t, domain.OpInsert, b),
		chatDelta(t, domain.OpInsert, c),
		chatDelta(t, domain.OpUpdate, bUpdated),
		chatDelta(t, domain.OpDelete, c),
	}

	// The delete of c must stay after its insert; everything else commutes.
	orders := [][]int{
		{0, 1, 2, 3, 4},
		{2, 4, 1, 3, 0},
		{1, 3, 0, 2, 4},
		{2, 4, 3, 1, 0},
	}

	var want []string
	for i, order := range orders {
		d := NewDirectory()
		for _, idx := range order {
			require.NoError(t, d.Apply(deltas[idx]))
		}
		got := names(d.Snapshot(false, ""))
		if i == 0 {
			want = got
			assert.Equal(t, []string{"beta", "alpha"}, got)
		} else {
			assert.Equal(t, want, got, "order %v diverged", order)
		}
	}
}

func TestDirectoryApplyUpsertsAndDeduplicates(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := summary("alpha", false, false, base)

	d := NewDirectory()

	// An update for a row never inserted still lands.
	require.NoError(t, d.Apply(chatDelta(t, domain.OpUpdate, a)))
	assert.Equal(t, 1, d.Len())

	// A replayed insert does not duplicate.
	require.NoError(t, d.Apply(chatDelta(t, domain.OpInsert, a)))
	assert.Equal(t, 1, d.Len())

	require.NoError(t, d.Apply(chatDelta(t, domain.OpDelete, a)))
	assert.Equal(t, 0, d.Len())
}

func TestDirectoryProjections(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d := NewDirectory()
	d.Resync([]domain.ChatSummary{
		summary("Team Standup", false, false, base),
		summary("Weekend Plans", false, false, base.Add(time.Minute)),
		summary("Old Project", false, true, base.Add(2*time.Minute)),
	})

	assert.Equal(t, []string{"Weekend Plans", "Team Standup"}, names(d.Snapshot(false, "")))
	assert.Equal(t, []string{"Old Project"}, names(d.Snapshot(true, "")))

	// Case-insensitive substring match.
	assert.Equal(t, []string{"Team Standup"}, names(d.Snapshot(false, "standUP")))
	assert.Equal(t, []string{"Old Project"}, names(d.Snapshot(true, "old")))
	assert.Empty(t, names(d.Snapshot(false, "nothing")))

	// Archiving a chat moves it between projections without losing it.
	weekend := d.Snapshot(false, "weekend")[0]
	weekend.Archived = true
	require.NoError(t, d.Apply(chatDelta(t, domain.OpUpdate, weekend)))
	assert.Equal(t, []string{"Team Standup"}, names(d.Snapshot(false, "")))
	assert.Contains(t, names(d.Snapshot(true, "")), "Weekend Plans")
}

func TestDirectoryRejectsMalformedDeltas(t *testing.T) {
	d := NewDirectory()

	err := d.Apply(domain.Delta{Op: domain.OpInsert, Table: domain.TableMessages, After: []byte(`{}`)})
	assert.ErrorIs(t, err, domain.ErrMalformedDelta)

	err = d.Apply(domain.Delta{Op: domain.OpInsert, Table: domain.TableChats})
	assert.ErrorIs(t, err, domain.ErrMalformedDelta)

	err = d.Apply(domain.Delta{Op: domain.OpInsert, Table: domain.TableChats, After: []byte(`{"id":"not-a-uuid"}`)})
	assert.Error(t, err)
}

func TestDirectoryResyncReplacesState(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := summary("stale", false, false, base)
	fresh := summary("fresh", false, false, base)

	d := NewDirectory()
	require.NoError(t, d.Apply(chatDelta(t, domain.OpInsert, stale)))

	d.Resync([]domain.ChatSummary{fresh})
	assert.Equal(t, []string{"fresh"}, names(d.Snapshot(false, "")))
}
