package ws

import (
	"errors"
	"strconv"

	"github.com/gorilla/websocket"
	"setorin.id/notifclient/internal/domain"
	"setorin.id/notifclient/internal/eventbus"
)

// closeAction is what the transport does after the socket ends.
type closeAction int

const (
	actionStop closeAction = iota
	actionReconnect
	actionAuthRejected
)

// closeResult describes how a connection attempt ended.
type closeResult struct {
	code   int
	reason string
}

// interpret maps a close code onto the next action and the error event to
// raise, if any.
//
//	1000 normal, terminal, no error
//	1006 abnormal, retry
//	1008 authentication failure, terminal
//	1011 gateway-side error, retry
//	else retry with the raw reason
func interpret(r closeResult) (closeAction, *eventbus.ErrorEvent) {
	switch r.code {
	case websocket.CloseNormalClosure:
		return actionStop, nil
	case websocket.ClosePolicyViolation:
		return actionAuthRejected, &eventbus.ErrorEvent{
			Kind:      domain.KindAuthInvalid,
			Message:   reasonOr(r.reason, "authentication rejected"),
			CloseCode: r.code,
			Fatal:     true,
		}
	case websocket.CloseAbnormalClosure:
		return actionReconnect, &eventbus.ErrorEvent{
			Kind:      domain.KindAbnormalClose,
			Message:   reasonOr(r.reason, "connection dropped"),
			CloseCode: r.code,
		}
	case websocket.CloseInternalServerErr:
		return actionReconnect, &eventbus.ErrorEvent{
			Kind:      domain.KindGatewayError,
			Message:   reasonOr(r.reason, "gateway error"),
			CloseCode: r.code,
		}
	default:
		return actionReconnect, &eventbus.ErrorEvent{
			Kind:      domain.KindConnectionClosed,
			Message:   reasonOr(r.reason, "closed with code "+strconv.Itoa(r.code)),
			CloseCode: r.code,
		}
	}
}

// resultFromReadError extracts the close code from a read failure. Anything
// that is not a close frame counts as an abnormal closure.
func resultFromReadError(err error) closeResult {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return closeResult{code: ce.Code, reason: ce.Text}
	}
	return closeResult{code: websocket.CloseAbnormalClosure, reason: err.Error()}
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
