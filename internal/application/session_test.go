package application

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"setorin.id/notifclient/internal/domain"
	"setorin.id/notifclient/internal/eventbus"
	"setorin.id/notifclient/internal/transport/ws"
)

type bindingFixture struct {
	binding   *Binding
	bus       *eventbus.Bus
	holder    *mockHolder
	proxy     *mockProxy
	transport *mockTransport
	notifier  *mockNotifier
	rec       *recorder
}

func startBinding(t *testing.T, holder *mockHolder, proxy *mockProxy) *bindingFixture {
	t.Helper()
	bus := eventbus.New()
	f := &bindingFixture{
		bus:       bus,
		holder:    holder,
		proxy:     proxy,
		transport: newMockTransport(bus),
		notifier:  &mockNotifier{},
		rec:       newRecorder(),
	}
	f.binding = NewBinding(holder, f.transport, proxy, bus, f.notifier)
	f.binding.Subscribe(f.rec.observe)
	runBinding(t, f.binding)
	return f
}

func runBinding(t *testing.T, b *Binding) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func synced(status domain.ConnState) func(domain.Snapshot) bool {
	return func(s domain.Snapshot) bool {
		return s.Status == status && !s.LastSyncedAt.IsZero()
	}
}

func unauthenticated(kind domain.ErrorKind) func(domain.Snapshot) bool {
	return func(s domain.Snapshot) bool {
		return s.Status == domain.StateUnauthenticated && s.Error == kind
	}
}

func TestBinding_ColdStartEmptyBackend(t *testing.T) {
	proxy := newMockProxy()
	proxy.setPage([]domain.Notification{}, 0)
	f := startBinding(t, newMockHolder("u1", "tok1"), proxy)

	snap := f.rec.waitFor(t, synced(domain.StateOpen))
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, snap.UnreadCount)
	assert.Empty(t, snap.Error)

	assert.Equal(t, []domain.Session{{UserID: "u1", Token: "tok1"}}, f.transport.started())
	assert.Equal(t, f.rec.all()[0], domain.UnauthenticatedSnapshot(domain.KindUnauthenticated))
}

func TestBinding_PushesReachStoreAndHost(t *testing.T) {
	f := startBinding(t, newMockHolder("u1", "tok1"), newMockProxy())
	f.rec.waitFor(t, synced(domain.StateOpen))

	f.bus.Emit(eventbus.EventNotification, note("n1", 0, false))
	f.bus.Emit(eventbus.EventBroadcastNotification, note("b1", 1, true))

	snap := f.rec.waitFor(t, func(s domain.Snapshot) bool { return len(s.Items) == 2 })
	assert.Equal(t, []string{"b1", "n1"}, ids(snap.Items))
	assert.Equal(t, 1, snap.UnreadCount)
	assert.Equal(t, []string{"n1"}, f.notifier.notified(), "only unread pushes reach the host")
}

func TestBinding_GatewayRejectionTearsDown(t *testing.T) {
	f := startBinding(t, newMockHolder("u1", "tok1"), newMockProxy())
	f.rec.waitFor(t, synced(domain.StateOpen))
	f.bus.Emit(eventbus.EventNotification, note("n1", 0, false))

	f.bus.Emit(eventbus.EventError, eventbus.ErrorEvent{
		Kind:      domain.KindAuthInvalid,
		Message:   "invalid token",
		CloseCode: 1008,
		Fatal:     true,
	})

	snap := f.rec.waitFor(t, unauthenticated(domain.KindAuthInvalid))
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, snap.UnreadCount)

	require.Eventually(t, func() bool { return f.holder.signOutCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.bus.Count(eventbus.EventNotification))

	// The holder's sign-out must not replace the auth_invalid snapshot.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.KindAuthInvalid, f.binding.Snapshot().Error)
	assert.Len(t, f.transport.started(), 1)
}

func TestBinding_NonFatalErrorsKeepSession(t *testing.T) {
	f := startBinding(t, newMockHolder("u1", "tok1"), newMockProxy())
	f.rec.waitFor(t, synced(domain.StateOpen))

	f.bus.Emit(eventbus.EventError, eventbus.ErrorEvent{Kind: domain.KindAbnormalClose, CloseCode: 1006})
	f.bus.Emit(eventbus.EventError, eventbus.ErrorEvent{Kind: domain.KindParseFailed})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.StateOpen, f.binding.Snapshot().Status)
	assert.Zero(t, f.holder.signOutCount())
}

func TestBinding_IdentityChangeRebuilds(t *testing.T) {
	proxy := newMockProxy()
	proxy.setPage([]domain.Notification{note("n1", 0, false)}, 1)
	f := startBinding(t, newMockHolder("u1", "tok1"), proxy)
	f.rec.waitFor(t, func(s domain.Snapshot) bool { return len(s.Items) == 1 })

	proxy.setPage([]domain.Notification{}, 0)
	f.holder.Set("u2", "tok2")

	require.Eventually(t, func() bool {
		s := f.binding.Snapshot()
		return len(f.transport.started()) == 2 && proxy.count("list") == 2 &&
			s.Status == domain.StateOpen && !s.LastSyncedAt.IsZero()
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, f.binding.Snapshot().Items, "no notifications from u1 under u2")
	assert.Equal(t, domain.Session{UserID: "u2", Token: "tok2"}, f.transport.started()[1])
	assert.GreaterOrEqual(t, f.transport.stopCount(), 1)

	f.bus.Emit(eventbus.EventNotification, note("n9", 3, false))
	snap := f.rec.waitFor(t, func(s domain.Snapshot) bool { return len(s.Items) == 1 && s.Items[0].ID == "n9" })
	assert.Equal(t, 1, snap.UnreadCount)
}

func TestBinding_TokenRotationKeepsStore(t *testing.T) {
	proxy := newMockProxy()
	proxy.setPage([]domain.Notification{note("n1", 0, false)}, 1)
	f := startBinding(t, newMockHolder("u1", "tok1"), proxy)
	f.rec.waitFor(t, func(s domain.Snapshot) bool { return len(s.Items) == 1 })

	proxy.setPage([]domain.Notification{note("n2", 1, false)}, 2)
	f.holder.Set("u1", "tok2")

	snap := f.rec.waitFor(t, func(s domain.Snapshot) bool { return len(s.Items) == 2 })
	assert.Equal(t, []string{"n2", "n1"}, ids(snap.Items))
	assert.Equal(t, domain.Session{UserID: "u1", Token: "tok2"}, f.transport.started()[1])

	require.NoError(t, f.binding.MarkRead(context.Background(), "n2"))
	proxy.mu.Lock()
	lastToken := proxy.tokens[len(proxy.tokens)-1]
	proxy.mu.Unlock()
	assert.Equal(t, "tok2", lastToken)
}

func TestBinding_SignOut(t *testing.T) {
	f := startBinding(t, newMockHolder("u1", "tok1"), newMockProxy())
	f.rec.waitFor(t, synced(domain.StateOpen))

	f.holder.Set("", "")
	snap := f.rec.waitFor(t, unauthenticated(domain.KindUnauthenticated))
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, f.bus.Count(eventbus.EventConnectionStatus))
	assert.Equal(t, domain.StateDisconnected, f.transport.Status())

	err := f.binding.MarkAllRead(context.Background())
	assert.Equal(t, domain.KindUnauthenticated, domain.KindOf(err))
}

func TestBinding_NullTokenIsAbsent(t *testing.T) {
	proxy := newMockProxy()
	f := startBinding(t, newMockHolder("u1", "null"), proxy)

	f.holder.Set("u1", "")
	f.holder.Set("", "tok1")
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, f.transport.started())
	assert.Zero(t, proxy.count("list"))
	assert.Equal(t, domain.StateUnauthenticated, f.binding.Snapshot().Status)

	_, err := f.binding.Settings(context.Background())
	assert.Equal(t, domain.KindUnauthenticated, domain.KindOf(err))
}

func TestBinding_ProxyUnauthorizedTearsDown(t *testing.T) {
	proxy := newMockProxy()
	proxy.failWith("list", domain.FailureUnauthorized)
	f := startBinding(t, newMockHolder("u1", "tok1"), proxy)

	f.rec.waitFor(t, unauthenticated(domain.KindAuthInvalid))
	require.Eventually(t, func() bool { return f.holder.signOutCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBinding_Settings(t *testing.T) {
	proxy := newMockProxy()
	f := startBinding(t, newMockHolder("u1", "tok1"), proxy)
	f.rec.waitFor(t, synced(domain.StateOpen))

	got, err := f.binding.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, got["push_enabled"])

	got, err = f.binding.UpdateSettings(context.Background(), domain.Settings{"push_enabled": false})
	require.NoError(t, err)
	assert.Equal(t, false, got["push_enabled"])

	proxy.failWith("settings", domain.FailureServer)
	_, err = f.binding.Settings(context.Background())
	assert.Equal(t, domain.KindServerError, domain.KindOf(err))
}

func TestBinding_StopsTransportOnShutdown(t *testing.T) {
	bus := eventbus.New()
	transport := newMockTransport(bus)
	b := NewBinding(newMockHolder("u1", "tok1"), transport, newMockProxy(), bus, nil)
	rec := newRecorder()
	b.Subscribe(rec.observe)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	rec.waitFor(t, synced(domain.StateOpen))

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, domain.StateDisconnected, transport.Status())
	assert.Equal(t, 0, bus.Count(eventbus.EventNotification))
	assert.Equal(t, domain.KindUnauthenticated, domain.KindOf(b.Refresh(context.Background())))
}

func TestBinding_GatewayCloseCodeRejectionEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var auth ws.AuthFrame
		if conn.ReadJSON(&auth) != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	bus := eventbus.New()
	transport := ws.New("ws"+strings.TrimPrefix(srv.URL, "http"), bus, ws.WithReconnectDelay(20*time.Millisecond))
	holder := newMockHolder("u1", "tok1")
	b := NewBinding(holder, transport, newMockProxy(), bus, nil)
	rec := newRecorder()
	b.Subscribe(rec.observe)
	runBinding(t, b)

	snap := rec.waitFor(t, unauthenticated(domain.KindAuthInvalid))
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, snap.UnreadCount)
	require.Eventually(t, func() bool { return holder.signOutCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StateDisconnected, transport.Status())
}
