package domain

import (
	"errors"
	"time"
)

// Session is the (userID, token) pair authorizing both the gateway socket
// and the request proxy.
type Session struct {
	UserID string
	Token  string
}

// Valid reports whether the session may open a socket or issue requests.
// A token equal to the literal string "null" counts as absent.
func (s Session) Valid() bool {
	return s.UserID != "" && s.Token != "" && s.Token != "null"
}

// ConnState is the transport state machine value. Unauthenticated is only
// reported in snapshots when no session is bound.
type ConnState string

const (
	StateDisconnected    ConnState = "DISCONNECTED"
	StateConnecting      ConnState = "CONNECTING"
	StateOpen            ConnState = "OPEN"
	StateReconnecting    ConnState = "RECONNECTING"
	StateError           ConnState = "ERROR"
	StateUnauthenticated ConnState = "UNAUTHENTICATED"
)

// Degraded reports whether pushes may be delayed in this state.
func (s ConnState) Degraded() bool {
	return s == StateReconnecting || s == StateError
}

// ErrorKind classifies failures surfaced to observers and bus subscribers.
type ErrorKind string

const (
	// Kinds surfaced to UI observers.
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindAuthInvalid        ErrorKind = "auth_invalid"
	KindNetworkUnavailable ErrorKind = "network_unavailable"
	KindGatewayDegraded    ErrorKind = "gateway_degraded"
	KindMutationFailed     ErrorKind = "mutation_failed"
	KindServerError        ErrorKind = "server_error"
	KindNotFound           ErrorKind = "not_found"

	// Kinds raised by the transport on the event bus.
	KindParseFailed      ErrorKind = "parse_failed"
	KindAbnormalClose    ErrorKind = "abnormal_close"
	KindGatewayError     ErrorKind = "gateway_error"
	KindConnectionClosed ErrorKind = "connection_closed"
	KindGatewayMessage   ErrorKind = "gateway_message"
)

// Retryable reports whether the UI should offer a retry affordance.
func (k ErrorKind) Retryable() bool {
	return k == KindNetworkUnavailable || k == KindServerError
}

// Error is a typed failure returned by store and session operations.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind of err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MutationKind names a user-initiated mutation.
type MutationKind string

const (
	MutationMarkRead    MutationKind = "markRead"
	MutationMarkAllRead MutationKind = "markAllRead"
	MutationDelete      MutationKind = "delete"
)

// OutboundRequest tracks a user mutation from submission until it is
// acknowledged or fails.
type OutboundRequest struct {
	OpID        string
	Kind        MutationKind
	TargetID    string
	SubmittedAt time.Time
}

// Snapshot is what observers receive on every state change.
type Snapshot struct {
	Items             []Notification `json:"items"`
	UnreadCount       int            `json:"unread_count"`
	ServerUnreadCount int64          `json:"server_unread_count"`
	Status            ConnState      `json:"status"`
	Error             ErrorKind      `json:"error,omitempty"`
	Cause             ErrorKind      `json:"cause,omitempty"`
	Retryable         bool           `json:"retryable"`
	LastSyncedAt      time.Time      `json:"last_synced_at"`
}

// UnauthenticatedSnapshot is published while no identity is bound.
func UnauthenticatedSnapshot(kind ErrorKind) Snapshot {
	return Snapshot{
		Items:  []Notification{},
		Status: StateUnauthenticated,
		Error:  kind,
	}
}
