package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and redis-less development.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]string
	notifier Notifier
}

// NewMemoryStore builds an empty store. notifier may be nil.
func NewMemoryStore(notifier Notifier) *MemoryStore {
	return &MemoryStore{values: make(map[string]string), notifier: notifier}
}

func (m *MemoryStore) Load(_ context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := decode(m.values)
	if !ok {
		return nil, nil
	}
	return sess, nil
}

func (m *MemoryStore) Commit(ctx context.Context, s Session) error {
	values, err := encode(s)
	if err != nil {
		return err
	}
	m.apply(values)
	m.notify(ctx, AllKeys)
	return nil
}

func (m *MemoryStore) CommitProfile(ctx context.Context, user *UserProfile, app *AppConfig) error {
	values, err := encodeProfile(user, app)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.values[KeyToken] == "" {
		m.mu.Unlock()
		return ErrNoSession
	}
	m.applyLocked(values)
	m.mu.Unlock()
	m.notify(ctx, ProfileKeys)
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	had := len(m.values) > 0
	m.values = make(map[string]string)
	m.mu.Unlock()
	if had {
		m.notify(ctx, AllKeys)
	}
	return nil
}

// SetRaw writes a raw storage value, bypassing encoding. Tests use it to
// plant corrupt data.
func (m *MemoryStore) SetRaw(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *MemoryStore) apply(values map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(values)
}

func (m *MemoryStore) applyLocked(values map[string]string) {
	for k, v := range values {
		if v == "" {
			delete(m.values, k)
			continue
		}
		m.values[k] = v
	}
}

func (m *MemoryStore) notify(ctx context.Context, keys []string) {
	if m.notifier != nil {
		_ = m.notifier.StorageChanged(ctx, keys)
	}
}
