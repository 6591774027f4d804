package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Store. It backs the request scope and stands in for
// the session scope in CLIs and tests.
type Memory struct {
	id    string
	items *gocache.Cache
}

// NewMemory creates a Memory store. A non-positive defaultTTL keeps entries
// until they are deleted.
func NewMemory(defaultTTL time.Duration) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
	}
	cleanup := time.Minute
	if defaultTTL > 0 && defaultTTL < cleanup {
		cleanup = defaultTTL
	}
	return &Memory{
		id:    "mem:" + uuid.NewString(),
		items: gocache.New(defaultTTL, cleanup),
	}
}

func (m *Memory) Namespace() string { return m.id }

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.items.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, ErrMiss
	}
	return b, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.items.Set(key, value, memoryTTL(ttl))
	return nil
}

func (m *Memory) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := m.items.Add(key, value, memoryTTL(ttl)); err != nil {
		// go-cache only fails Add when the key already exists.
		return false, nil
	}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	return m.items.ItemCount()
}

func memoryTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.DefaultExpiration
	}
	return ttl
}
