package application

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"setorin.id/notifclient/internal/domain"
	"setorin.id/notifclient/internal/eventbus"
)

// Transport is the gateway connection driven by the Binding.
// Implementation lives in transport/ws.
type Transport interface {
	Start(sess domain.Session)
	Stop()
	Status() domain.ConnState
}

// IdentityHolder supplies the current user and token and reports changes,
// sign-out included. Implementation lives in identity.
type IdentityHolder interface {
	Current() (userID, token string)
	Subscribe(fn func(userID, token string)) (unsubscribe func())
}

// SignOuter is implemented by holders that can drop a rejected identity.
type SignOuter interface {
	SignOut()
}

// HostNotifier surfaces unread pushes outside the application.
// Implementation lives in hostnotify.
type HostNotifier interface {
	Notify(n domain.Notification)
}

// Binding owns the Transport and Store lifetimes relative to the identity.
// All lifecycle changes run on its own queue, so bus handlers and store
// hooks only enqueue work and never block on a teardown.
type Binding struct {
	holder    IdentityHolder
	transport Transport
	proxy     domain.RequestProxy
	bus       *eventbus.Bus
	notifier  HostNotifier
	storeOpts []StoreOption
	queue     *taskQueue

	// Owned by the queue goroutine.
	ctx          context.Context
	gen          uint64
	bindCancel   context.CancelFunc
	unsubStore   func()
	observers    map[uint64]Observer
	nextObserver uint64

	// Written on the queue goroutine, read by delegating calls.
	mu      sync.RWMutex
	store   *Store
	session domain.Session

	snapMu sync.RWMutex
	snap   domain.Snapshot
}

// NewBinding wires the collaborators. notifier may be nil.
func NewBinding(holder IdentityHolder, transport Transport, proxy domain.RequestProxy, bus *eventbus.Bus, notifier HostNotifier, storeOpts ...StoreOption) *Binding {
	return &Binding{
		holder:    holder,
		transport: transport,
		proxy:     proxy,
		bus:       bus,
		notifier:  notifier,
		storeOpts: storeOpts,
		queue:     newTaskQueue(),
		ctx:       context.Background(),
		observers: make(map[uint64]Observer),
		snap:      domain.UnauthenticatedSnapshot(domain.KindUnauthenticated),
	}
}

// Run follows the identity holder until ctx is cancelled, then tears down.
func (b *Binding) Run(ctx context.Context) error {
	if !b.queue.push(func() { b.ctx = ctx }) {
		return ErrClosed
	}

	unsubscribe := b.holder.Subscribe(func(userID, token string) {
		b.queue.push(func() { b.apply(userID, token) })
	})
	userID, token := b.holder.Current()
	b.queue.push(func() { b.apply(userID, token) })

	<-ctx.Done()
	unsubscribe()

	b.queue.exec(func() {
		b.teardown()
		b.observers = nil
	})
	b.queue.close()
	log.Info().Msg("session: binding stopped")
	return nil
}

// Subscribe registers obs and delivers the current snapshot to it.
func (b *Binding) Subscribe(obs Observer) (unsubscribe func()) {
	var id uint64
	ok := b.queue.exec(func() {
		b.nextObserver++
		id = b.nextObserver
		b.observers[id] = obs
		deliver(obs, b.Snapshot())
	})
	if !ok {
		return func() {}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			b.queue.push(func() { delete(b.observers, id) })
		})
	}
}

// Snapshot returns the last published snapshot.
func (b *Binding) Snapshot() domain.Snapshot {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	return b.snap
}

func (b *Binding) Refresh(ctx context.Context) error {
	store, _, err := b.current("refresh")
	if err != nil {
		return err
	}
	return store.Refresh(ctx)
}

func (b *Binding) MarkRead(ctx context.Context, id string) error {
	store, _, err := b.current(string(domain.MutationMarkRead))
	if err != nil {
		return err
	}
	return store.MarkRead(ctx, id)
}

func (b *Binding) MarkAllRead(ctx context.Context) error {
	store, _, err := b.current(string(domain.MutationMarkAllRead))
	if err != nil {
		return err
	}
	return store.MarkAllRead(ctx)
}

func (b *Binding) Delete(ctx context.Context, id string) error {
	store, _, err := b.current(string(domain.MutationDelete))
	if err != nil {
		return err
	}
	return store.Delete(ctx, id)
}

// Settings returns the bound user's notification settings.
func (b *Binding) Settings(ctx context.Context) (domain.Settings, error) {
	_, sess, err := b.current("settings")
	if err != nil {
		return nil, err
	}
	out, err := b.proxy.Settings(ctx, sess)
	if err != nil {
		return nil, b.proxyError("settings", sess, err)
	}
	return out, nil
}

// UpdateSettings applies a partial settings update.
func (b *Binding) UpdateSettings(ctx context.Context, patch domain.Settings) (domain.Settings, error) {
	_, sess, err := b.current("update_settings")
	if err != nil {
		return nil, err
	}
	out, err := b.proxy.UpdateSettings(ctx, sess, patch)
	if err != nil {
		return nil, b.proxyError("update_settings", sess, err)
	}
	return out, nil
}

func (b *Binding) current(op string) (*Store, domain.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.store == nil {
		return nil, domain.Session{}, &domain.Error{Kind: domain.KindUnauthenticated, Op: op}
	}
	return b.store, b.session, nil
}

func (b *Binding) proxyError(op string, sess domain.Session, err error) error {
	kind := domain.FailureOf(err)
	if kind == domain.FailureUnauthorized {
		b.queue.push(func() { b.revoke(sess) })
	}
	return &domain.Error{Kind: kind.ErrorKind(), Op: op, Err: err}
}

// apply reacts to an identity update. Runs on the queue.
func (b *Binding) apply(userID, token string) {
	sess := domain.Session{UserID: userID, Token: token}
	cur := b.bound()

	switch {
	case !sess.Valid():
		if b.teardown() {
			log.Info().Str("user", cur.UserID).Msg("session: signed out")
			b.publish(domain.UnauthenticatedSnapshot(domain.KindUnauthenticated))
		}
	case cur == sess:
	case cur.UserID == sess.UserID:
		log.Info().Str("user", sess.UserID).Msg("session: token rotated")
		b.rotate(sess)
	default:
		if b.teardown() {
			log.Info().Str("from", cur.UserID).Str("to", sess.UserID).Msg("session: identity changed")
		}
		b.bind(sess)
	}
}

func (b *Binding) bound() domain.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// bind builds a store for sess, wires it to the bus and starts the transport.
func (b *Binding) bind(sess domain.Session) {
	b.gen++
	gen := b.gen

	opts := append([]StoreOption{}, b.storeOpts...)
	opts = append(opts, WithUnauthorizedHook(func(rejected domain.Session) {
		b.queue.push(func() { b.revoke(rejected) })
	}))
	store := NewStore(b.proxy, sess, opts...)
	b.unsubStore = store.Subscribe(func(snap domain.Snapshot) {
		b.queue.push(func() {
			if b.gen == gen {
				b.publish(snap)
			}
		})
	})

	ctx, cancel := context.WithCancel(b.ctx)
	b.bindCancel = cancel

	b.mu.Lock()
	b.store = store
	b.session = sess
	b.mu.Unlock()

	log.Info().Str("user", sess.UserID).Msg("session: bound")
	b.wire(store, sess)
	b.transport.Start(sess)
	b.refresh(ctx, store)
}

// rotate keeps the store and reconnects with the new token.
func (b *Binding) rotate(sess domain.Session) {
	// Stop first so no event from the old socket reaches the new handlers.
	b.transport.Stop()
	b.bus.Reset()
	b.bindCancel()
	ctx, cancel := context.WithCancel(b.ctx)
	b.bindCancel = cancel

	b.mu.Lock()
	store := b.store
	b.session = sess
	b.mu.Unlock()

	store.SetSession(sess)
	b.wire(store, sess)
	b.transport.Start(sess)
	b.refresh(ctx, store)
}

// wire registers the bus handlers feeding store. Handlers only enqueue.
func (b *Binding) wire(store *Store, sess domain.Session) {
	onPush := func(n domain.Notification) {
		store.IngestPush(n)
		b.notifyHost(n)
	}
	eventbus.Handle(b.bus, eventbus.EventNotification, onPush)
	eventbus.Handle(b.bus, eventbus.EventBroadcastNotification, onPush)
	eventbus.Handle(b.bus, eventbus.EventConnectionStatus, func(ev eventbus.StatusEvent) {
		store.SetStatus(ev.State)
	})
	eventbus.Handle(b.bus, eventbus.EventError, func(ev eventbus.ErrorEvent) {
		if ev.Fatal && ev.Kind == domain.KindAuthInvalid {
			b.queue.push(func() { b.revoke(sess) })
		}
	})
	store.SetStatus(b.transport.Status())
}

func (b *Binding) refresh(ctx context.Context, store *Store) {
	go func() {
		if err := store.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("session: initial refresh failed")
		}
	}()
}

// revoke tears down after the gateway or the backend rejected sess, then
// asks the holder to drop the identity.
func (b *Binding) revoke(sess domain.Session) {
	if b.bound() != sess || !b.teardown() {
		return
	}
	log.Warn().Str("user", sess.UserID).Msg("session: token rejected, signing out")
	b.publish(domain.UnauthenticatedSnapshot(domain.KindAuthInvalid))
	if so, ok := b.holder.(SignOuter); ok {
		so.SignOut()
	}
}

// teardown stops the transport and drops the store. It reports whether
// anything was bound.
func (b *Binding) teardown() bool {
	b.mu.Lock()
	store := b.store
	b.store = nil
	b.session = domain.Session{}
	b.mu.Unlock()
	if store == nil {
		return false
	}

	b.gen++
	b.bindCancel()
	b.transport.Stop()
	b.bus.Reset()
	b.unsubStore()
	store.Close()
	return true
}

func (b *Binding) notifyHost(n domain.Notification) {
	if b.notifier == nil || n.IsRead {
		return
	}
	b.notifier.Notify(n)
}

// publish must run on the queue goroutine.
func (b *Binding) publish(snap domain.Snapshot) {
	b.snapMu.Lock()
	b.snap = snap
	b.snapMu.Unlock()
	for _, obs := range b.observers {
		deliver(obs, snap)
	}
}
