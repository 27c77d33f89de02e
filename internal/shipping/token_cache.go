package shipping

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// CacheKey identifies one merchant's session with one carrier. Version is
// the fingerprint of the sealed credentials the session was opened with, so
// a login still in flight when credentials change lands under a key nobody
// reads again.
type CacheKey struct {
	StoreID  uuid.UUID
	Provider enums.ShippingProvider
	Version  string
}

// CredentialVersion fingerprints a sealed credentials blob.
func CredentialVersion(sealed string) string {
	sum := sha256.Sum256([]byte(sealed))
	return hex.EncodeToString(sum[:8])
}

// TokenCache holds decrypted carrier session tokens. Entries are immutable
// strings replaced wholesale. Evict ignores Version and drops every session
// of the store and provider.
type TokenCache interface {
	Get(key CacheKey) (string, bool)
	Put(key CacheKey, token string)
	Evict(key CacheKey)
}

// LRUTokenCache bounds both the number of sessions and their lifetime.
type LRUTokenCache struct {
	lru *expirable.LRU[CacheKey, string]
}

func NewTokenCache(size int, ttl time.Duration) *LRUTokenCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &LRUTokenCache{lru: expirable.NewLRU[CacheKey, string](size, nil, ttl)}
}

func (c *LRUTokenCache) Get(key CacheKey) (string, bool) {
	return c.lru.Get(key)
}

func (c *LRUTokenCache) Put(key CacheKey, token string) {
	c.lru.Add(key, token)
}

func (c *LRUTokenCache) Evict(key CacheKey) {
	for _, cached := range c.lru.Keys() {
		if cached.StoreID == key.StoreID && cached.Provider == key.Provider {
			c.lru.Remove(cached)
		}
	}
}

// Len reports live entries.
func (c *LRUTokenCache) Len() int {
	return c.lru.Len()
}

type cacheSlot struct {
	cache TokenCache
	key   CacheKey
}

// SlotFor exposes one cache entry to a carrier adapter.
func SlotFor(cache TokenCache, key CacheKey) carriers.TokenSlot {
	if cache == nil {
		return &scratchSlot{}
	}
	return &cacheSlot{cache: cache, key: key}
}

func (s *cacheSlot) Load() (string, bool) {
	return s.cache.Get(s.key)
}

func (s *cacheSlot) Store(token string) {
	s.cache.Put(s.key, token)
}

func (s *cacheSlot) Clear() {
	s.cache.Evict(s.key)
}

// scratchSlot backs validation calls so unsaved credentials never reach
// the shared cache.
type scratchSlot struct {
	mu    sync.Mutex
	token string
}

func (s *scratchSlot) Load() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

func (s *scratchSlot) Store(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *scratchSlot) Clear() {
	s.Store("")
}
