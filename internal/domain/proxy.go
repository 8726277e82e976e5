package domain

import (
	"context"
	"errors"
	"strconv"
)

// Settings is the user's notification settings object, passed through opaquely.
type Settings map[string]any

// ListFilter holds query parameters for pulling notifications.
type ListFilter struct {
	Limit      int
	UnreadOnly bool
}

// RequestProxy defines the port to the backend's authenticated REST surface.
// Implementations live in internal/proxy. Every call carries the session's
// bearer token.
type RequestProxy interface {
	// List pulls one page of notifications, newest first.
	List(ctx context.Context, sess Session, filter ListFilter) ([]Notification, error)

	// UnreadCount returns the server's unread badge count.
	UnreadCount(ctx context.Context, sess Session) (int64, error)

	// MarkRead marks a single notification as read.
	MarkRead(ctx context.Context, sess Session, id string) error

	// MarkAllRead marks all notifications of the user as read.
	MarkAllRead(ctx context.Context, sess Session) error

	// Delete removes a notification.
	Delete(ctx context.Context, sess Session, id string) error

	// Settings returns the user's notification settings.
	Settings(ctx context.Context, sess Session) (Settings, error)

	// UpdateSettings applies a partial settings update and returns the result.
	UpdateSettings(ctx context.Context, sess Session, patch Settings) (Settings, error)
}

// FailureKind classifies request proxy failures.
type FailureKind string

const (
	FailureUnauthorized FailureKind = "unauthorized"
	FailureNotFound     FailureKind = "not_found"
	FailureNetwork      FailureKind = "network"
	FailureServer       FailureKind = "server"
)

// ProxyError is returned by RequestProxy implementations.
type ProxyError struct {
	Kind   FailureKind
	Op     string
	Status int
	Err    error
}

func (e *ProxyError) Error() string {
	msg := e.Op + ": " + string(e.Kind)
	if e.Status != 0 {
		msg += " (status " + strconv.Itoa(e.Status) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProxyError) Unwrap() error { return e.Err }

// FailureOf extracts the FailureKind of a proxy error. Errors that are not
// ProxyErrors are treated as network failures.
func FailureOf(err error) FailureKind {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return FailureNetwork
}

// ErrorKind maps a proxy failure onto the kind surfaced to observers.
func (k FailureKind) ErrorKind() ErrorKind {
	switch k {
	case FailureUnauthorized:
		return KindAuthInvalid
	case FailureNotFound:
		return KindNotFound
	case FailureServer:
		return KindServerError
	default:
		return KindNetworkUnavailable
	}
}
