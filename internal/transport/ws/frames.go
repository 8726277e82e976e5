package ws

import (
	"encoding/json"
	"fmt"

	"setorin.id/notifclient/internal/domain"
)

// Inbound frame types.
const (
	FrameConnectionStatus      = "connection_status"
	FrameNotification          = "notification"
	FrameBroadcastNotification = "broadcast_notification"
	FramePong                  = "pong"
	FrameError                 = "error"
)

// AuthFrame is the first frame sent after the socket opens.
type AuthFrame struct {
	Token string `json:"token"`
}

// TypedFrame is an outbound frame carrying only a type, e.g. ping or get_status.
type TypedFrame struct {
	Type string `json:"type"`
}

var (
	pingFrame     = TypedFrame{Type: "ping"}
	StatusRequest = TypedFrame{Type: "get_status"}
)

// Frame is a decoded inbound frame.
type Frame struct {
	Type         string
	Status       string
	Notification *domain.Notification
	Message      string
}

type wireFrame struct {
	Type    string          `json:"type"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// DecodeFrame parses one inbound text frame. Unknown types decode without
// error; the caller decides to drop them.
func DecodeFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if w.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}

	f := Frame{Type: w.Type, Status: w.Status, Message: w.Message}

	switch w.Type {
	case FrameNotification, FrameBroadcastNotification:
		if len(w.Data) == 0 {
			return Frame{}, fmt.Errorf("decode %s frame: missing data", w.Type)
		}
		var n domain.Notification
		if err := json.Unmarshal(w.Data, &n); err != nil {
			return Frame{}, fmt.Errorf("decode %s frame: %w", w.Type, err)
		}
		f.Notification = &n
	}
	return f, nil
}
