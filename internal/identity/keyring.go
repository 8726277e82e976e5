package identity

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	userIDKey = "user_id"
	tokenKey  = "token"
)

// OpenKeyring opens the OS keyring for service.
func OpenKeyring(service string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/" + service + "/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// KeyringStore persists the identity in a keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func (s *KeyringStore) Save(userID, token string) error {
	if token == "" {
		return s.Clear()
	}
	if err := s.ring.Set(keyring.Item{Key: userIDKey, Data: []byte(userID)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", userIDKey, err)
	}
	if err := s.ring.Set(keyring.Item{Key: tokenKey, Data: []byte(token)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", tokenKey, err)
	}
	return nil
}

// Load returns empty strings when nothing is stored.
func (s *KeyringStore) Load() (string, string, error) {
	token, err := s.get(tokenKey)
	if err != nil || token == "" {
		return "", "", err
	}
	userID, err := s.get(userIDKey)
	if err != nil {
		return "", "", err
	}
	return userID, token, nil
}

func (s *KeyringStore) Clear() error {
	for _, key := range []string{tokenKey, userIDKey} {
		if err := s.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", key, err)
		}
	}
	return nil
}

func (s *KeyringStore) get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}
