package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CategorySearch names the in-memory search result tier.
const CategorySearch Category = "search"

const (
	DefaultSearchExpiry = time.Hour
	DefaultSearchSize   = 512
)

// MemoryTier is a size-bounded in-memory cache whose entries expire after a blanket TTL.
// It is not persisted.
type MemoryTier[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewMemoryTier falls back to the search defaults for non-positive size or ttl.
func NewMemoryTier[V any](size int, ttl time.Duration) MemoryTier[V] {
	if size <= 0 {
		size = DefaultSearchSize
	}
	if ttl <= 0 {
		ttl = DefaultSearchExpiry
	}
	return MemoryTier[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

func (m MemoryTier[V]) Get(key string) (V, bool) {
	return m.lru.Get(key)
}

func (m MemoryTier[V]) Set(key string, value V) {
	m.lru.Add(key, value)
}

func (m MemoryTier[V]) Keys() []string {
	return m.lru.Keys()
}

func (m MemoryTier[V]) Len() int {
	return m.lru.Len()
}

func (m MemoryTier[V]) Purge() {
	m.lru.Purge()
}
