// Package identity holds the signed-in user and bearer token and reports
// changes to subscribers.
package identity

import (
	"sync"

	"github.com/rs/zerolog/log"
	"setorin.id/notifclient/internal/domain"
)

// TokenStore persists the identity between runs.
// Implementation lives in keyring.go.
type TokenStore interface {
	Save(userID, token string) error
	Load() (userID, token string, err error)
	Clear() error
}

// Holder is the in-process identity source. Subscribers are called
// synchronously, outside the holder's lock, on every change.
type Holder struct {
	store TokenStore

	mu     sync.Mutex
	userID string
	token  string
	subs   map[uint64]func(userID, token string)
	nextID uint64
}

// NewHolder creates an empty Holder. store may be nil.
func NewHolder(store TokenStore) *Holder {
	return &Holder{store: store, subs: make(map[uint64]func(string, string))}
}

// Valid reports whether the pair may be used to open a session.
func Valid(userID, token string) bool {
	return domain.Session{UserID: userID, Token: token}.Valid()
}

func (h *Holder) Current() (string, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userID, h.token
}

// Subscribe registers fn for identity changes, sign-out included.
func (h *Holder) Subscribe(fn func(userID, token string)) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Set replaces the identity and persists it. When userID is empty it is
// taken from the token's subject claim.
func (h *Holder) Set(userID, token string) error {
	if userID == "" && token != "" && token != "null" {
		sub, err := SubjectFromToken(token)
		if err != nil {
			return err
		}
		userID = sub
	}
	if Valid(userID, token) {
		if expired, err := Expired(token); err == nil && expired {
			log.Warn().Str("user", userID).Msg("identity: token already expired, the backend will reject it")
		}
	}
	if h.store != nil {
		if err := h.store.Save(userID, token); err != nil {
			log.Warn().Err(err).Msg("identity: token not persisted")
		}
	}
	h.update(userID, token)
	return nil
}

// Restore loads a persisted identity, if any.
func (h *Holder) Restore() error {
	if h.store == nil {
		return nil
	}
	userID, token, err := h.store.Load()
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}
	log.Info().Str("user", userID).Msg("identity: restored persisted session")
	h.update(userID, token)
	return nil
}

// SignOut drops the identity and its persisted copy.
func (h *Holder) SignOut() {
	if h.store != nil {
		if err := h.store.Clear(); err != nil {
			log.Warn().Err(err).Msg("identity: persisted token not cleared")
		}
	}
	log.Info().Msg("identity: signed out")
	h.update("", "")
}

func (h *Holder) update(userID, token string) {
	h.mu.Lock()
	if h.userID == userID && h.token == token {
		h.mu.Unlock()
		return
	}
	h.userID, h.token = userID, token
	subs := make([]func(string, string), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(userID, token)
	}
}
