// Package ws maintains the duplex channel to the notification gateway.
//
// A Transport owns at most one socket at a time. It authenticates the socket
// with the session's bearer token, pings while open, reconnects after
// non-normal closes with a fixed delay, and turns inbound frames into
// eventbus events.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"setorin.id/notifclient/internal/domain"
	"setorin.id/notifclient/internal/eventbus"
	"setorin.id/notifclient/internal/metrics"
)

const (
	DefaultPingInterval     = 30 * time.Second
	DefaultReconnectDelay   = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	writeTimeout = 10 * time.Second
	// The socket is dropped after this many ping intervals without a pong.
	missedPongLimit = 2
)

var errNotConnected = errors.New("gateway socket not connected")

var allStates = []string{
	string(domain.StateDisconnected),
	string(domain.StateConnecting),
	string(domain.StateOpen),
	string(domain.StateReconnecting),
	string(domain.StateError),
}

// Option configures a Transport.
type Option func(*Transport)

func WithPingInterval(d time.Duration) Option {
	return func(t *Transport) { t.pingInterval = d }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(t *Transport) { t.reconnectDelay = d }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) { t.handshakeTimeout = d }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// Transport is the gateway connection state machine.
type Transport struct {
	url              string
	bus              *eventbus.Bus
	dialer           *websocket.Dialer
	pingInterval     time.Duration
	reconnectDelay   time.Duration
	handshakeTimeout time.Duration
	metrics          *metrics.Metrics

	// ctl serializes Start and Stop.
	ctl     sync.Mutex
	session domain.Session
	cancel  context.CancelFunc
	done    chan struct{}

	mu    sync.Mutex
	state domain.ConnState

	connMu sync.Mutex
	conn   *websocket.Conn
}

// New creates a Transport for the gateway at url. Events are emitted on bus.
func New(url string, bus *eventbus.Bus, opts ...Option) *Transport {
	t := &Transport{
		url:              url,
		bus:              bus,
		pingInterval:     DefaultPingInterval,
		reconnectDelay:   DefaultReconnectDelay,
		handshakeTimeout: DefaultHandshakeTimeout,
		state:            domain.StateDisconnected,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.dialer == nil {
		t.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: t.handshakeTimeout,
		}
	}
	return t
}

// Start connects for sess. It is a no-op if the transport is already running
// for the same session; a different session stops the current one first.
func (t *Transport) Start(sess domain.Session) {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	if t.cancel != nil {
		if t.session == sess && !isClosed(t.done) {
			return
		}
		t.stopLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.session = sess
	t.cancel = cancel
	t.done = make(chan struct{})

	log.Info().Str("user", sess.UserID).Str("url", t.url).Msg("gateway: starting transport")
	go t.run(ctx, sess, t.done)
}

// Stop closes the socket with a normal close code and cancels any pending
// reconnect or ping. No event is emitted after Stop returns.
func (t *Transport) Stop() {
	t.ctl.Lock()
	defer t.ctl.Unlock()
	t.stopLocked()
}

func (t *Transport) stopLocked() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.session = domain.Session{}
	t.setState(domain.StateDisconnected)
	log.Info().Msg("gateway: transport stopped")
}

// Status returns the current state.
func (t *Transport) Status() domain.ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Send writes an application frame. It returns false without retrying if
// the socket is not open or the write fails.
func (t *Transport) Send(frame any) bool {
	if t.Status() != domain.StateOpen {
		return false
	}
	if err := t.write(frame); err != nil {
		log.Debug().Err(err).Msg("gateway: send failed")
		return false
	}
	return true
}

func (t *Transport) run(ctx context.Context, sess domain.Session, done chan struct{}) {
	defer close(done)

	t.setState(domain.StateConnecting)
	for {
		result := t.connect(ctx, sess)
		if ctx.Err() != nil {
			t.setState(domain.StateDisconnected)
			return
		}

		action, evt := interpret(result)
		switch action {
		case actionStop:
			log.Info().Str("user", sess.UserID).Msg("gateway: closed normally")
			t.setState(domain.StateDisconnected)
			return
		case actionAuthRejected:
			log.Warn().Str("user", sess.UserID).Str("reason", result.reason).Msg("gateway: authentication rejected")
			t.setState(domain.StateError)
			t.bus.Emit(eventbus.EventError, *evt)
			return
		}

		log.Warn().
			Int("code", result.code).
			Str("reason", result.reason).
			Dur("retry_in", t.reconnectDelay).
			Msg("gateway: connection lost, reconnecting")
		t.setState(domain.StateReconnecting)
		t.bus.Emit(eventbus.EventError, *evt)
		t.metrics.IncReconnect()

		timer := time.NewTimer(t.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.setState(domain.StateDisconnected)
			return
		case <-timer.C:
		}
	}
}

// connect performs one connection attempt and blocks until the socket ends.
func (t *Transport) connect(ctx context.Context, sess domain.Session) closeResult {
	dialCtx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	conn, resp, err := t.dialer.DialContext(dialCtx, t.url, nil)
	cancel()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return closeResult{code: websocket.ClosePolicyViolation, reason: "handshake rejected: " + resp.Status}
		}
		return closeResult{code: websocket.CloseAbnormalClosure, reason: err.Error()}
	}

	t.setConn(conn)
	defer conn.Close()
	defer t.setConn(nil)

	if err := t.write(AuthFrame{Token: sess.Token}); err != nil {
		return closeResult{code: websocket.CloseAbnormalClosure, reason: "send auth frame: " + err.Error()}
	}
	t.setState(domain.StateOpen)
	log.Info().Str("user", sess.UserID).Msg("gateway: connected")

	return t.serve(ctx, conn)
}

// serve pumps inbound frames and drives the liveness timer while the socket is open.
func (t *Transport) serve(ctx context.Context, conn *websocket.Conn) closeResult {
	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- data:
			case <-quit:
				return
			}
		}
	}()

	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	awaitingPong := false
	missed := 0

	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)); err != nil {
				log.Debug().Err(err).Msg("gateway: close frame not sent")
			}
			return closeResult{code: websocket.CloseNormalClosure, reason: "stopped"}

		case err := <-readErr:
			return resultFromReadError(err)

		case data := <-inbound:
			if t.handle(data) {
				awaitingPong = false
				missed = 0
			}

		case <-ticker.C:
			if awaitingPong {
				missed++
			}
			if missed >= missedPongLimit {
				return closeResult{code: websocket.CloseAbnormalClosure, reason: "liveness timeout"}
			}
			if err := t.write(pingFrame); err != nil {
				log.Debug().Err(err).Msg("gateway: ping failed")
			}
			awaitingPong = true
		}
	}
}

// handle dispatches one inbound frame and reports whether it was a pong.
func (t *Transport) handle(data []byte) bool {
	f, err := DecodeFrame(data)
	if err != nil {
		log.Warn().Err(err).Msg("gateway: dropping malformed frame")
		t.metrics.IncFrame("invalid")
		t.bus.Emit(eventbus.EventError, eventbus.ErrorEvent{
			Kind:    domain.KindParseFailed,
			Message: err.Error(),
		})
		return false
	}

	switch f.Type {
	case FrameConnectionStatus:
		// Advisory only; the local state machine stays authoritative.
		log.Debug().Str("status", f.Status).Msg("gateway: connection status")
	case FrameNotification:
		t.bus.Emit(eventbus.EventNotification, *f.Notification)
	case FrameBroadcastNotification:
		t.bus.Emit(eventbus.EventBroadcastNotification, *f.Notification)
	case FramePong:
		t.metrics.IncFrame(f.Type)
		t.bus.Emit(eventbus.EventPong, struct{}{})
		return true
	case FrameError:
		log.Warn().Str("message", f.Message).Msg("gateway: error frame")
		t.bus.Emit(eventbus.EventError, eventbus.ErrorEvent{
			Kind:    domain.KindGatewayMessage,
			Message: f.Message,
		})
	default:
		log.Debug().Str("type", f.Type).Msg("gateway: unrecognized frame, dropping")
		t.metrics.IncFrame("unknown")
		return false
	}
	t.metrics.IncFrame(f.Type)
	return false
}

func (t *Transport) write(v any) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return errNotConnected
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteJSON(v)
}

func (t *Transport) setConn(conn *websocket.Conn) {
	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
}

func (t *Transport) setState(s domain.ConnState) {
	t.mu.Lock()
	prev := t.state
	if prev == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()

	t.metrics.SetTransportState(string(s), allStates)
	log.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("gateway: state change")
	t.bus.Emit(eventbus.EventConnectionStatus, eventbus.StatusEvent{State: s})
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
