package backends

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hypersim/hookengine/pkg/storage"
)

type memoryItem struct {
	data    []byte
	expires time.Time
}

// MemoryBackend keeps blobs in process memory. It is the default cache tier
// and the backend used by tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]memoryItem

	// Now is the clock used for expiry.
	Now func() time.Time
}

// NewMemoryBackend creates a new in-memory storage backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string]memoryItem),
		Now:  time.Now,
	}
}

// Init resets the backend. It takes no configuration.
func (m *MemoryBackend) Init(map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]memoryItem)
	return nil
}

// Save stores a copy of data at key, clearing any expiry.
func (m *MemoryBackend) Save(ctx context.Context, key string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memoryItem{data: dataBytes}
	return nil
}

// Load returns a copy of the data at key.
func (m *MemoryBackend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	item, exists := m.live(key)
	m.mu.RUnlock()

	if !exists {
		return nil, storage.ErrKeyNotFound
	}

	dataCopy := make([]byte, len(item.data))
	copy(dataCopy, item.data)
	return io.NopCloser(bytes.NewReader(dataCopy)), nil
}

// Delete removes data from memory for the given key
func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.live(key); !exists {
		delete(m.data, key)
		return storage.ErrKeyNotFound
	}
	delete(m.data, key)
	return nil
}

// Exists checks if data exists at the given key in memory
func (m *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.live(key)
	return exists, nil
}

// List returns the live keys with the given prefix, sorted.
func (m *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.data {
		if _, ok := m.live(key); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// SetExpiration makes key disappear after ttl.
func (m *MemoryBackend) SetExpiration(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, exists := m.live(key)
	if !exists {
		return storage.ErrKeyNotFound
	}
	item.expires = m.Now().Add(ttl)
	m.data[key] = item
	return nil
}

// Close drops all data.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]memoryItem)
	return nil
}

// Size returns the number of items stored, expired or not.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// live must be called with mu held.
func (m *MemoryBackend) live(key string) (memoryItem, bool) {
	item, exists := m.data[key]
	if !exists {
		return memoryItem{}, false
	}
	if !item.expires.IsZero() && !m.Now().Before(item.expires) {
		return memoryItem{}, false
	}
	return item, true
}
