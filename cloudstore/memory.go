package cloudstore

import (
	"context"
	"sort"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

// A compile time check to ensure MemoryStore implements the Store interface.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]map[string]string),
	}
}

// Get returns the value stored under key.
//
// NOTE: This is part of the Store interface.
func (m *MemoryStore) Get(ctx context.Context, acct Account,
	key string) (fn.Option[string], error) {

	if err := ctx.Err(); err != nil {
		return fn.None[string](), err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[acct.ID][key]
	if !ok {
		return fn.None[string](), nil
	}

	return fn.Some(value), nil
}

// Set stores value under key.
//
// NOTE: This is part of the Store interface.
func (m *MemoryStore) Set(ctx context.Context, acct Account, key,
	value string) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.values[acct.ID] == nil {
		m.values[acct.ID] = make(map[string]string)
	}
	m.values[acct.ID][key] = value

	return nil
}

// Remove deletes key.
//
// NOTE: This is part of the Store interface.
func (m *MemoryStore) Remove(ctx context.Context, acct Account,
	key string) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values[acct.ID], key)

	return nil
}

// ListKeys returns the account's keys in lexical order.
//
// NOTE: This is part of the Store interface.
func (m *MemoryStore) ListKeys(ctx context.Context,
	acct Account) ([]string, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.values[acct.ID]))
	for key := range m.values[acct.ID] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys, nil
}
