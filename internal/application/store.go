package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"setorin.id/notifclient/internal/domain"
	"setorin.id/notifclient/internal/metrics"
)

const DefaultPageSize = 50

var (
	// ErrClosed is returned by operations on a closed Store or Binding.
	ErrClosed = errors.New("notification store closed")
	// ErrSessionChanged is returned when a request completes after the
	// session it was issued for has been replaced. Its result is discarded.
	ErrSessionChanged = errors.New("session changed while request was in flight")
)

// Observer receives every published snapshot. Observers run on the
// publisher's queue and must not call back into it synchronously.
type Observer func(domain.Snapshot)

// StoreOption configures a Store.
type StoreOption func(*Store)

func WithPageSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithStoreMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithUnauthorizedHook sets the function called when the backend rejects
// the session's token.
func WithUnauthorizedHook(fn func(rejected domain.Session)) StoreOption {
	return func(s *Store) { s.onUnauthorized = fn }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Store is the single source of truth for one user's notification list.
//
// Every state change runs as one task on the store's queue and publishes a
// snapshot before the next task starts. Network calls run on the caller's
// goroutine between two tasks, and their results are dropped if the
// session changed meanwhile.
type Store struct {
	proxy          domain.RequestProxy
	queue          *taskQueue
	pageSize       int
	metrics        *metrics.Metrics
	onUnauthorized func(domain.Session)
	now            func() time.Time

	// Owned by the queue goroutine.
	session      domain.Session
	set          *domain.NotificationSet
	status       domain.ConnState
	serverUnread int64
	lastErr      domain.ErrorKind
	cause        domain.ErrorKind
	lastSynced   time.Time
	observers    map[uint64]Observer
	nextObserver uint64
	closed       bool
	// reads holds IDs marked read locally, pending or confirmed; deleted
	// holds IDs removed locally. Both are overlaid on later merges so a
	// page fetched before the mutation landed cannot undo it. A confirmed
	// entry is pruned once a page pulled after the confirmation agrees
	// with it and no older pull is still in flight.
	reads   map[string]readMask
	deleted map[string]deleteMask
	// seq counts confirmed mutations; pulls maps each in-flight pull to
	// the value of seq when it started.
	seq      uint64
	pulls    map[uint64]uint64
	nextPull uint64

	snapMu sync.RWMutex
	snap   domain.Snapshot
}

// readMask forces an entry to read. serverRead is the flag carried by the
// record the mask hides, restored when the mutation fails.
type readMask struct {
	serverRead bool
	confirmed  uint64 // 0 while pending
}

type deleteMask struct {
	createdAt time.Time // zero when the entry was not known locally
	confirmed uint64    // 0 while pending
}

// NewStore creates a Store for sess. The set starts empty; call Refresh.
func NewStore(proxy domain.RequestProxy, sess domain.Session, opts ...StoreOption) *Store {
	s := &Store{
		proxy:     proxy,
		pageSize:  DefaultPageSize,
		now:       time.Now,
		session:   sess,
		set:       domain.NewNotificationSet(),
		status:    domain.StateDisconnected,
		observers: make(map[uint64]Observer),
		reads:     make(map[string]readMask),
		deleted:   make(map[string]deleteMask),
		pulls:     make(map[uint64]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap = s.build()
	s.queue = newTaskQueue()
	return s
}

// Subscribe registers obs and delivers the current snapshot to it.
func (s *Store) Subscribe(obs Observer) (unsubscribe func()) {
	var id uint64
	ok := s.queue.exec(func() {
		s.nextObserver++
		id = s.nextObserver
		s.observers[id] = obs
		deliver(obs, s.build())
	})
	if !ok {
		return func() {}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.queue.push(func() { delete(s.observers, id) })
		})
	}
}

// Snapshot returns the last published snapshot.
func (s *Store) Snapshot() domain.Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// SetSession replaces the token used for subsequent requests. Requests
// still in flight for the previous session are discarded on completion.
func (s *Store) SetSession(sess domain.Session) {
	s.queue.push(func() { s.session = sess })
}

// SetStatus records the transport state.
func (s *Store) SetStatus(state domain.ConnState) {
	s.queue.push(func() {
		if s.status == state {
			return
		}
		s.status = state
		s.publish()
	})
}

// IngestPush merges a notification delivered by the gateway.
func (s *Store) IngestPush(n domain.Notification) {
	s.queue.push(func() {
		if _, gone := s.deleted[n.ID]; gone {
			log.Debug().Str("id", n.ID).Msg("store: ignoring push for deleted notification")
			return
		}
		mask, masked := s.reads[n.ID]
		serverRead := n.IsRead
		if masked {
			n.IsRead = true
		}
		if !s.set.Upsert(n) {
			return
		}
		if masked {
			mask.serverRead = serverRead
			s.reads[n.ID] = mask
		}
		s.publish()
	})
}

// Refresh pulls the first page and the server unread count and merges them.
func (s *Store) Refresh(ctx context.Context) error {
	sess, pull, ok := s.beginPull()
	if !ok {
		return ErrClosed
	}

	page, count, err := s.pull(ctx, sess)
	var result error
	ok = s.queue.exec(func() {
		start := s.endPull(pull)
		if s.session != sess {
			result = ErrSessionChanged
			return
		}
		if err != nil {
			s.lastErr, s.cause = domain.FailureOf(err).ErrorKind(), ""
			s.publish()
			result = &domain.Error{Kind: s.lastErr, Op: "refresh", Err: err}
			return
		}
		s.apply(page, count, start)
		s.lastErr, s.cause = "", ""
		s.publish()
	})
	if !ok {
		return ErrClosed
	}
	s.checkUnauthorized(sess, err, result)
	return result
}

// MarkRead marks one notification as read, optimistically. A failure rolls
// the flag back and publishes mutation_failed.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	req := s.outbound(domain.MutationMarkRead, id)

	var (
		sess    domain.Session
		already bool
	)
	if !s.queue.exec(func() {
		sess = s.session
		n, found := s.set.Get(id)
		if found && n.IsRead {
			already = true
			return
		}
		s.reads[id] = readMask{}
		if found {
			s.set.SetRead(id, true)
			s.publish()
		}
	}) {
		return ErrClosed
	}
	if already {
		s.complete(req, "noop", nil)
		return nil
	}

	err := s.proxy.MarkRead(ctx, sess, id)

	var result error
	if !s.queue.exec(func() {
		if s.session != sess {
			result = ErrSessionChanged
			return
		}
		if err == nil {
			s.confirmRead(id)
			s.clearMutationError()
			return
		}
		s.unmaskRead(id)
		result = s.fail(req, err)
		s.publish()
	}) {
		return ErrClosed
	}
	s.complete(req, outcome(result), err)
	s.checkUnauthorized(sess, err, result)
	return result
}

// MarkAllRead marks every notification as read, optimistically. A failure
// restores the local flags and reloads from the backend.
func (s *Store) MarkAllRead(ctx context.Context) error {
	req := s.outbound(domain.MutationMarkAllRead, "")

	var (
		sess    domain.Session
		changed []string
	)
	if !s.queue.exec(func() {
		sess = s.session
		changed = s.set.MarkAllRead()
		for _, id := range changed {
			s.reads[id] = readMask{}
		}
		if len(changed) > 0 {
			s.publish()
		}
	}) {
		return ErrClosed
	}

	err := s.proxy.MarkAllRead(ctx, sess)

	var result error
	if !s.queue.exec(func() {
		if s.session != sess {
			result = ErrSessionChanged
			return
		}
		if err == nil {
			for _, id := range changed {
				s.confirmRead(id)
			}
			s.clearMutationError()
			return
		}
		for _, id := range changed {
			if s.reads[id].confirmed == 0 {
				s.unmaskRead(id)
			}
		}
		result = s.fail(req, err)
		s.publish()
	}) {
		return ErrClosed
	}
	s.complete(req, outcome(result), err)
	if s.checkUnauthorized(sess, err, result) || result == nil || errors.Is(result, ErrSessionChanged) {
		return result
	}
	s.reload(ctx, sess)
	return result
}

// Delete removes one notification, optimistically. A failure restores it and
// reloads from the backend. A notification the backend no longer knows
// counts as deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	req := s.outbound(domain.MutationDelete, id)

	var (
		sess    domain.Session
		prev    domain.Notification
		removed bool
	)
	if !s.queue.exec(func() {
		sess = s.session
		if prev, removed = s.set.Remove(id); removed {
			s.publish()
		}
		s.deleted[id] = deleteMask{createdAt: prev.CreatedAt}
	}) {
		return ErrClosed
	}

	err := s.proxy.Delete(ctx, sess, id)
	if domain.FailureOf(err) == domain.FailureNotFound {
		err = nil
	}

	var result error
	if !s.queue.exec(func() {
		if s.session != sess {
			result = ErrSessionChanged
			return
		}
		if err == nil {
			s.seq++
			s.deleted[id] = deleteMask{createdAt: prev.CreatedAt, confirmed: s.seq}
			s.clearMutationError()
			return
		}
		delete(s.deleted, id)
		if removed {
			s.set.Upsert(prev)
		}
		result = s.fail(req, err)
		s.publish()
	}) {
		return ErrClosed
	}
	s.complete(req, outcome(result), err)
	if s.checkUnauthorized(sess, err, result) || result == nil || errors.Is(result, ErrSessionChanged) {
		return result
	}
	s.reload(ctx, sess)
	return result
}

// Close stops the store. No snapshot is delivered after Close returns, and
// operations still in flight are discarded.
func (s *Store) Close() {
	s.queue.push(func() {
		s.closed = true
		s.observers = nil
	})
	s.queue.close()
}

// beginPull registers an in-flight pull and returns the session it is for.
func (s *Store) beginPull() (domain.Session, uint64, bool) {
	var (
		sess domain.Session
		id   uint64
	)
	ok := s.queue.exec(func() {
		sess = s.session
		s.nextPull++
		id = s.nextPull
		s.pulls[id] = s.seq
	})
	return sess, id, ok
}

// endPull unregisters a pull and returns the value of seq when it started.
// Runs on the queue.
func (s *Store) endPull(id uint64) uint64 {
	start := s.pulls[id]
	delete(s.pulls, id)
	return start
}

// pull fetches the first page and the unread count concurrently.
func (s *Store) pull(ctx context.Context, sess domain.Session) ([]domain.Notification, int64, error) {
	var (
		page  []domain.Notification
		count int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = s.proxy.List(gctx, sess, domain.ListFilter{Limit: s.pageSize})
		return err
	})
	g.Go(func() error {
		var err error
		count, err = s.proxy.UnreadCount(gctx, sess)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return page, count, nil
}

// reload restores truth after a failed mutation. It keeps the mutation
// error visible unless the reload itself fails.
func (s *Store) reload(ctx context.Context, sess domain.Session) {
	_, pull, ok := s.beginPull()
	if !ok {
		return
	}
	page, count, err := s.pull(ctx, sess)
	s.queue.exec(func() {
		start := s.endPull(pull)
		if s.session != sess {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("user", sess.UserID).Msg("store: reload after failed mutation failed")
			return
		}
		s.apply(page, count, start)
		s.publish()
	})
}

// apply merges a pulled page under the local read and delete overlays.
// start is the value of seq when the pull began.
func (s *Store) apply(page []domain.Notification, count int64, start uint64) {
	s.prune(page, start)

	merged := make([]domain.Notification, 0, len(page))
	for _, n := range page {
		if _, gone := s.deleted[n.ID]; gone {
			continue
		}
		if mask, masked := s.reads[n.ID]; masked {
			if cur, ok := s.set.Get(n.ID); !ok || n.Supersedes(cur) {
				mask.serverRead = n.IsRead
				s.reads[n.ID] = mask
			}
			n.IsRead = true
		}
		merged = append(merged, n)
	}
	s.set.Merge(merged)
	s.serverUnread = count
	s.lastSynced = s.now()
}

// prune drops confirmed overlays the page agrees with. Only a page pulled
// after the confirmation counts, and only while no older pull could still
// deliver a stale copy.
func (s *Store) prune(page []domain.Notification, start uint64) {
	horizon := start
	for _, st := range s.pulls {
		if st < horizon {
			horizon = st
		}
	}
	settled := func(confirmed uint64) bool {
		return confirmed != 0 && confirmed <= horizon
	}

	inPage := make(map[string]domain.Notification, len(page))
	for _, n := range page {
		inPage[n.ID] = n
	}
	// A short page is the whole list; otherwise absence only proves a
	// delete for entries newer than the oldest one returned.
	var oldest time.Time
	complete := len(page) < s.pageSize
	if !complete && len(page) > 0 {
		oldest = page[len(page)-1].CreatedAt
	}

	for id, mask := range s.reads {
		if n, ok := inPage[id]; ok && n.IsRead && settled(mask.confirmed) {
			delete(s.reads, id)
		}
	}
	for id, mask := range s.deleted {
		if _, ok := inPage[id]; ok || !settled(mask.confirmed) {
			continue
		}
		if complete || (!mask.createdAt.IsZero() && mask.createdAt.After(oldest)) {
			delete(s.deleted, id)
		}
	}
}

// confirmRead marks the read overlay of id as acknowledged by the backend.
func (s *Store) confirmRead(id string) {
	s.seq++
	s.reads[id] = readMask{serverRead: true, confirmed: s.seq}
}

// unmaskRead drops the read overlay of id and restores the flag of the
// record it was hiding.
func (s *Store) unmaskRead(id string) {
	mask, ok := s.reads[id]
	delete(s.reads, id)
	if !ok || mask.serverRead {
		return
	}
	s.set.SetRead(id, false)
}

// clearMutationError drops a previous mutation_failed once a later mutation succeeds.
func (s *Store) clearMutationError() {
	if s.lastErr != domain.KindMutationFailed {
		return
	}
	s.lastErr, s.cause = "", ""
	s.publish()
}

// fail records a mutation failure and returns the error for the caller.
func (s *Store) fail(req domain.OutboundRequest, err error) error {
	s.lastErr = domain.KindMutationFailed
	s.cause = domain.FailureOf(err).ErrorKind()
	return &domain.Error{Kind: domain.KindMutationFailed, Op: string(req.Kind), Err: err}
}

func (s *Store) checkUnauthorized(sess domain.Session, err, result error) bool {
	if err == nil || errors.Is(result, ErrSessionChanged) || domain.FailureOf(err) != domain.FailureUnauthorized {
		return false
	}
	log.Warn().Err(err).Msg("store: backend rejected the session token")
	if s.onUnauthorized != nil {
		s.onUnauthorized(sess)
	}
	return true
}

func (s *Store) outbound(kind domain.MutationKind, target string) domain.OutboundRequest {
	req := domain.OutboundRequest{
		OpID:        uuid.NewString(),
		Kind:        kind,
		TargetID:    target,
		SubmittedAt: s.now(),
	}
	log.Debug().
		Str("op_id", req.OpID).
		Str("kind", string(kind)).
		Str("target", target).
		Msg("store: mutation submitted")
	return req
}

func (s *Store) complete(req domain.OutboundRequest, result string, err error) {
	s.metrics.IncMutation(string(req.Kind), result)
	ev := log.Debug()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("op_id", req.OpID).
		Str("kind", string(req.Kind)).
		Str("result", result).
		Dur("took", s.now().Sub(req.SubmittedAt)).
		Msg("store: mutation completed")
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSessionChanged):
		return "discarded"
	default:
		return "failed"
	}
}

// publish must run on the queue goroutine.
func (s *Store) publish() {
	if s.closed {
		return
	}
	snap := s.build()
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()

	s.metrics.IncSnapshot()
	for _, obs := range s.observers {
		deliver(obs, snap)
	}
}

func (s *Store) build() domain.Snapshot {
	errKind := s.lastErr
	if errKind == "" && s.status.Degraded() {
		errKind = domain.KindGatewayDegraded
	}
	return domain.Snapshot{
		Items:             s.set.Items(),
		UnreadCount:       s.set.UnreadCount(),
		ServerUnreadCount: s.serverUnread,
		Status:            s.status,
		Error:             errKind,
		Cause:             s.cause,
		Retryable:         errKind.Retryable() || s.cause.Retryable(),
		LastSyncedAt:      s.lastSynced,
	}
}

func deliver(obs Observer, snap domain.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("store: observer panicked")
		}
	}()
	obs(snap)
}
