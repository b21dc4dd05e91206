package memory

import (
	"context"
	"sync"

	"github.com/workly/workly-gate/internal/domain/auth"
)

// KeyStore implements auth.KeyStore with keys loaded from configuration.
type KeyStore struct {
	mu   sync.RWMutex
	keys []auth.OperatorKey
}

// NewKeyStore creates a KeyStore holding keys.
func NewKeyStore(keys ...auth.OperatorKey) *KeyStore {
	return &KeyStore{keys: append([]auth.OperatorKey(nil), keys...)}
}

// ListOperatorKeys implements auth.KeyStore. The returned slice is a copy.
func (s *KeyStore) ListOperatorKeys(context.Context) ([]auth.OperatorKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]auth.OperatorKey(nil), s.keys...), nil
}

// Add appends a key.
func (s *KeyStore) Add(key auth.OperatorKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
}

// Compile-time interface verification.
var _ auth.KeyStore = (*KeyStore)(nil)
