package service

import (
	"context"
	"sync"
)

// Locker serializes operations on one payment. The Redis locker in
// infrastructure/redis satisfies it for multi-instance deployments.
type Locker interface {
	// TryLock takes the lock for key without waiting. ok is false when
	// another holder has it.
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}

// KeyedMutex is an in-process Locker. Entries are removed on release, so
// the map only holds keys that are currently locked.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{held: make(map[string]struct{})}
}

func (m *KeyedMutex) TryLock(_ context.Context, key string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.held[key]; busy {
		return nil, false, nil
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, true, nil
}
