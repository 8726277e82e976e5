package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"setorin.id/notifclient/internal/domain"
	"setorin.id/notifclient/internal/eventbus"
)

// ── Mock RequestProxy ──

type mockProxy struct {
	mu     sync.Mutex
	page   []domain.Notification
	unread int64
	errs   map[string]error
	gates  map[string]chan struct{}
	calls  []string
	tokens []string

	settings domain.Settings
}

func newMockProxy() *mockProxy {
	return &mockProxy{
		errs:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		settings: domain.Settings{"push_enabled": true},
	}
}

func (m *mockProxy) setPage(page []domain.Notification, unread int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.page = page
	m.unread = unread
}

func (m *mockProxy) failWith(op string, kind domain.FailureKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = &domain.ProxyError{Kind: kind, Op: op}
}

func (m *mockProxy) succeed(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errs, op)
}

// hold makes op block until the returned release function is called.
func (m *mockProxy) hold(op string) (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gates[op] = gate
	m.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (m *mockProxy) enter(op string, sess domain.Session) error {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	m.tokens = append(m.tokens, sess.Token)
	gate := m.gates[op]
	delete(m.gates, op)
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errs[op]
}

func (m *mockProxy) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (m *mockProxy) List(_ context.Context, sess domain.Session, _ domain.ListFilter) ([]domain.Notification, error) {
	if err := m.enter("list", sess); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Notification{}, m.page...), nil
}

func (m *mockProxy) UnreadCount(_ context.Context, sess domain.Session) (int64, error) {
	if err := m.enter("unread_count", sess); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread, nil
}

func (m *mockProxy) MarkRead(_ context.Context, sess domain.Session, _ string) error {
	return m.enter("mark_read", sess)
}

func (m *mockProxy) MarkAllRead(_ context.Context, sess domain.Session) error {
	return m.enter("mark_all_read", sess)
}

func (m *mockProxy) Delete(_ context.Context, sess domain.Session, _ string) error {
	return m.enter("delete", sess)
}

func (m *mockProxy) Settings(_ context.Context, sess domain.Session) (domain.Settings, error) {
	if err := m.enter("settings", sess); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *mockProxy) UpdateSettings(_ context.Context, sess domain.Session, patch domain.Settings) (domain.Settings, error) {
	if err := m.enter("update_settings", sess); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range patch {
		m.settings[k] = v
	}
	return m.settings, nil
}

// ── Mock Transport ──

// mockTransport reports OPEN on Start and DISCONNECTED on Stop through the bus.
type mockTransport struct {
	bus *eventbus.Bus

	mu       sync.Mutex
	state    domain.ConnState
	sessions []domain.Session
	stops    int
}

func newMockTransport(bus *eventbus.Bus) *mockTransport {
	return &mockTransport{bus: bus, state: domain.StateDisconnected}
}

func (m *mockTransport) Start(sess domain.Session) {
	m.mu.Lock()
	m.sessions = append(m.sessions, sess)
	m.mu.Unlock()
	m.setState(domain.StateOpen)
}

func (m *mockTransport) Stop() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	m.setState(domain.StateDisconnected)
}

func (m *mockTransport) Status() domain.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockTransport) setState(s domain.ConnState) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.bus.Emit(eventbus.EventConnectionStatus, eventbus.StatusEvent{State: s})
	}
}

func (m *mockTransport) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *mockTransport) started() []domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Session{}, m.sessions...)
}

// ── Mock IdentityHolder ──

type mockHolder struct {
	mu       sync.Mutex
	userID   string
	token    string
	subs     map[int]func(string, string)
	next     int
	signOuts int
}

func newMockHolder(userID, token string) *mockHolder {
	return &mockHolder{userID: userID, token: token, subs: make(map[int]func(string, string))}
}

func (m *mockHolder) Current() (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID, m.token
}

func (m *mockHolder) Subscribe(fn func(string, string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *mockHolder) Set(userID, token string) {
	m.mu.Lock()
	m.userID, m.token = userID, token
	subs := make([]func(string, string), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(userID, token)
	}
}

func (m *mockHolder) SignOut() {
	m.mu.Lock()
	m.signOuts++
	m.mu.Unlock()
	m.Set("", "")
}

func (m *mockHolder) signOutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signOuts
}

// ── Mock HostNotifier ──

type mockNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (m *mockNotifier) Notify(n domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, n.ID)
}

func (m *mockNotifier) notified() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.ids...)
}

// ── Snapshot recorder ──

type recorder struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
	ch    chan domain.Snapshot
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan domain.Snapshot, 256)}
}

func (r *recorder) observe(s domain.Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *recorder) all() []domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Snapshot{}, r.snaps...)
}

func (r *recorder) last() domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func (r *recorder) waitFor(t *testing.T, match func(domain.Snapshot) bool) domain.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
			return domain.Snapshot{}
		}
	}
}

// ── Fixtures ──

func at(minute int) time.Time {
	return time.Date(2025, 1, 1, 0, minute, 0, 0, time.UTC)
}

func note(id string, minute int, read bool) domain.Notification {
	return domain.Notification{
		ID:        id,
		Type:      domain.TypeBinStatus,
		Title:     "Tempat sampah " + id,
		Message:   "Status berubah",
		Priority:  domain.PriorityMedium,
		IsRead:    read,
		CreatedAt: at(minute),
	}
}

func ids(items []domain.Notification) []string {
	out := make([]string, 0, len(items))
	for _, n := range items {
		out = append(out, n.ID)
	}
	return out
}
