package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"setorin.id/notifclient/internal/domain"
)

func at(minute int) time.Time {
	return time.Date(2025, 1, 1, 0, minute, 0, 0, time.UTC)
}

func note(id string, minute int, read bool) domain.Notification {
	return domain.Notification{ID: id, Type: domain.TypeSystem, Priority: domain.PriorityLow, IsRead: read, CreatedAt: at(minute)}
}

func ids(items []domain.Notification) []string {
	out := make([]string, 0, len(items))
	for _, n := range items {
		out = append(out, n.ID)
	}
	return out
}

func TestSetOrdersNewestFirst(t *testing.T) {
	s := domain.NewNotificationSet()
	s.Upsert(note("a", 1, false))
	s.Upsert(note("c", 3, false))
	s.Upsert(note("b", 2, false))
	// Equal timestamps fall back to id, descending.
	s.Upsert(note("b2", 2, false))

	assert.Equal(t, []string{"c", "b2", "b", "a"}, ids(s.Items()))
}

func TestUpsertKeepsOneEntryPerID(t *testing.T) {
	s := domain.NewNotificationSet()
	require.True(t, s.Upsert(note("a", 2, false)))

	older := note("a", 1, true)
	assert.False(t, s.Upsert(older), "older record must not overwrite")
	got, _ := s.Get("a")
	assert.False(t, got.IsRead)

	same := note("a", 2, true)
	assert.True(t, s.Upsert(same), "equal timestamps overwrite")
	got, _ = s.Get("a")
	assert.True(t, got.IsRead)
	assert.Equal(t, 1, s.Len())
}

func TestMergeKeepsEntriesMissingFromPage(t *testing.T) {
	s := domain.NewNotificationSet()
	s.Upsert(note("pushed", 5, false))
	s.Upsert(note("a", 1, false))

	s.Merge([]domain.Notification{note("a", 1, true), note("b", 2, false), {ID: ""}})

	assert.Equal(t, []string{"pushed", "b", "a"}, ids(s.Items()))
	a, _ := s.Get("a")
	assert.True(t, a.IsRead)
}

func TestUnreadCountIsDerived(t *testing.T) {
	s := domain.NewNotificationSet()
	s.Merge([]domain.Notification{note("a", 1, false), note("b", 2, false), note("c", 3, true)})
	assert.Equal(t, 2, s.UnreadCount())

	assert.True(t, s.SetRead("a", true))
	assert.False(t, s.SetRead("a", true))
	assert.False(t, s.SetRead("missing", true))
	assert.Equal(t, 1, s.UnreadCount())

	assert.Equal(t, []string{"b"}, s.MarkAllRead())
	assert.Equal(t, 0, s.UnreadCount())
	assert.Empty(t, s.MarkAllRead())
}

func TestRemove(t *testing.T) {
	s := domain.NewNotificationSet()
	s.Merge([]domain.Notification{note("a", 1, false), note("b", 2, false)})

	removed, ok := s.Remove("a")
	require.True(t, ok)
	assert.Equal(t, "a", removed.ID)
	assert.Equal(t, []string{"b"}, ids(s.Items()))
	assert.Equal(t, 1, s.UnreadCount())

	_, ok = s.Remove("a")
	assert.False(t, ok)
}

func TestItemsIsACopy(t *testing.T) {
	s := domain.NewNotificationSet()
	s.Upsert(note("a", 1, false))

	items := s.Items()
	items[0].IsRead = true

	got, _ := s.Get("a")
	assert.False(t, got.IsRead)
}
