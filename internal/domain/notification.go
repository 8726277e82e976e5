package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType represents the origin domain of the notification.
type NotificationType string

const (
	TypeBinStatus   NotificationType = "bin_status"
	TypeAchievement NotificationType = "achievement"
	TypeReward      NotificationType = "reward"
	TypeSystem      NotificationType = "system"
)

// Known reports whether t is one of the types the backend documents.
// Unknown types are kept verbatim and rendered with a generic title.
func (t NotificationType) Known() bool {
	switch t {
	case TypeBinStatus, TypeAchievement, TypeReward, TypeSystem:
		return true
	}
	return false
}

// Priority is 1 (lowest) to 3 (highest).
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

// Normalize degrades unknown priorities to the lowest one.
func (p Priority) Normalize() Priority {
	if p < PriorityLow || p > PriorityHigh {
		return PriorityLow
	}
	return p
}

// Notification is an immutable record as received from the gateway or the
// request proxy. Two records with the same ID are the same logical notification.
type Notification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Priority   Priority         `json:"priority"`
	IsRead     bool             `json:"is_read"`
	CreatedAt  time.Time        `json:"created_at"`
	ActionURL  string           `json:"action_url,omitempty"`
	ActionText string           `json:"action_text,omitempty"`
}

// UnmarshalJSON accepts string or numeric ids and normalizes the priority.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type plain Notification
	var aux struct {
		plain
		ID        json.RawMessage `json:"id"`
		CreatedAt string          `json:"created_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*n = Notification(aux.plain)

	id, err := decodeID(aux.ID)
	if err != nil {
		return err
	}
	n.ID = id
	if n.CreatedAt, err = parseTimestamp(aux.CreatedAt); err != nil {
		return err
	}
	n.Priority = n.Priority.Normalize()
	return nil
}

// Timestamps without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("notification created_at %q: unrecognized format", s)
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("notification id is missing")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("notification id: %w", err)
		}
		if s == "" {
			return "", fmt.Errorf("notification id is empty")
		}
		return s, nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return "", fmt.Errorf("notification id: %w", err)
	}
	return num.String(), nil
}

// Supersedes reports whether n may overwrite existing under the
// created_at rule shared by push and pull merges.
func (n Notification) Supersedes(existing Notification) bool {
	return !n.CreatedAt.Before(existing.CreatedAt)
}

// before orders by created_at descending, ties broken by id descending.
func before(a, b Notification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
