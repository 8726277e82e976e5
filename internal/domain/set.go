package domain

import "sort"

// NotificationSet is the working set of one user's notifications.
// It keeps at most one entry per ID, ordered by (CreatedAt desc, ID desc).
// The zero value is not usable; call NewNotificationSet.
type NotificationSet struct {
	byID  map[string]Notification
	order []string
}

// NewNotificationSet creates an empty set.
func NewNotificationSet() *NotificationSet {
	return &NotificationSet{byID: make(map[string]Notification)}
}

// Len returns the number of entries.
func (s *NotificationSet) Len() int { return len(s.order) }

// Get returns the entry with the given ID.
func (s *NotificationSet) Get(id string) (Notification, bool) {
	n, ok := s.byID[id]
	return n, ok
}

// Items returns a copy of the ordered entries.
func (s *NotificationSet) Items() []Notification {
	items := make([]Notification, 0, len(s.order))
	for _, id := range s.order {
		items = append(items, s.byID[id])
	}
	return items
}

// UnreadCount is derived from the entries, so it cannot drift or go negative.
func (s *NotificationSet) UnreadCount() int {
	count := 0
	for _, n := range s.byID {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// Upsert applies the push rule: an existing entry is overwritten only if
// n is at least as new. It reports whether the set changed.
func (s *NotificationSet) Upsert(n Notification) bool {
	if existing, ok := s.byID[n.ID]; ok {
		if !n.Supersedes(existing) {
			return false
		}
		s.byID[n.ID] = n
		s.sort()
		return true
	}
	s.byID[n.ID] = n
	s.order = append(s.order, n.ID)
	s.sort()
	return true
}

// Merge applies a pulled page. Entries absent from the page are kept: the
// server returns a page, not a snapshot.
func (s *NotificationSet) Merge(page []Notification) {
	for _, p := range page {
		if p.ID == "" {
			continue
		}
		if existing, ok := s.byID[p.ID]; ok {
			if p.Supersedes(existing) {
				s.byID[p.ID] = p
			}
			continue
		}
		s.byID[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	s.sort()
}

// Remove deletes the entry with the given ID and returns it.
func (s *NotificationSet) Remove(id string) (Notification, bool) {
	n, ok := s.byID[id]
	if !ok {
		return Notification{}, false
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return n, true
}

// SetRead updates the read flag of one entry. It reports whether the flag changed.
func (s *NotificationSet) SetRead(id string, read bool) bool {
	n, ok := s.byID[id]
	if !ok || n.IsRead == read {
		return false
	}
	n.IsRead = read
	s.byID[id] = n
	return true
}

// MarkAllRead flags every entry as read and returns the IDs that changed.
func (s *NotificationSet) MarkAllRead() []string {
	var changed []string
	for _, id := range s.order {
		if n := s.byID[id]; !n.IsRead {
			n.IsRead = true
			s.byID[id] = n
			changed = append(changed, id)
		}
	}
	return changed
}

func (s *NotificationSet) sort() {
	sort.Slice(s.order, func(i, j int) bool {
		return before(s.byID[s.order[i]], s.byID[s.order[j]])
	})
}
