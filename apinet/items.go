package apinet

import (
	"context"
	"sync"
	"time"

	"github.com/cyberinferno/go-apinet/cacher"
	"github.com/cyberinferno/go-apinet/logger"
	"github.com/cyberinferno/go-apinet/safemap"
)

// Items is one layer of session scratch data. Implementations must be safe for
// concurrent use: multiplexed requests on one session may write at the same
// time, and the last write wins.
type Items interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MapItems is the in-process primary layer every session starts with.
type MapItems struct {
	m *safemap.SafeMap[string, any]
}

// NewMapItems returns an empty in-memory layer.
func NewMapItems() *MapItems {
	return &MapItems{m: safemap.NewSafeMap[string, any]()}
}

// Get implements Items.
func (i *MapItems) Get(key string) (any, bool) {
	return i.m.Load(key)
}

// Set implements Items.
func (i *MapItems) Set(key string, value any) {
	i.m.Store(key, value)
}

// Len returns the number of keys in the layer.
func (i *MapItems) Len() int {
	return i.m.Len()
}

// CacheItems stores scratch data in a cacher under a per-session key prefix.
// Backend errors are logged and reported as misses, since the accessor has no
// error channel. After Release the layer is empty and drops writes, so work
// that outlives its session cannot leave keys behind in a shared store.
type CacheItems struct {
	cache   cacher.Cacher[any]
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  logger.Logger

	mu       sync.RWMutex
	released bool
}

// NewCacheItems returns a layer backed by c.
//
// Parameters:
//   - c: The cache holding the data
//   - prefix: Prepended to every key, normally unique per session
//   - ttl: Expiration applied on every write; zero uses the backend default
//   - log: Logger for backend failures
//
// Returns:
//   - The layer
func NewCacheItems(c cacher.Cacher[any], prefix string, ttl time.Duration, log logger.Logger) *CacheItems {
	return &CacheItems{
		cache:   c,
		prefix:  prefix,
		ttl:     ttl,
		timeout: 5 * time.Second,
		logger:  log,
	}
}

// Get implements Items.
func (i *CacheItems) Get(key string) (any, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.released {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	value, found, err := i.cache.Get(ctx, i.prefix+key)
	if err != nil {
		i.logger.Warn("scratch read failed", logger.Field{Key: "key", Value: i.prefix + key}, logger.Err(err))
		return nil, false
	}

	return value, found
}

// Set implements Items. Writes after Release are discarded.
func (i *CacheItems) Set(key string, value any) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.released {
		i.logger.Debug("scratch write after release dropped", logger.Field{Key: "key", Value: i.prefix + key})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	if err := i.cache.Set(ctx, i.prefix+key, value, i.ttl); err != nil {
		i.logger.Warn("scratch write failed", logger.Field{Key: "key", Value: i.prefix + key}, logger.Err(err))
	}
}

// Release deletes every key written under the layer's prefix. It waits for
// writes already in progress; later calls are no-ops.
func (i *CacheItems) Release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return
	}
	i.released = true

	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	if _, err := i.cache.DeleteByPrefix(ctx, i.prefix); err != nil {
		i.logger.Warn("scratch release failed", logger.Field{Key: "prefix", Value: i.prefix}, logger.Err(err))
	}
}

// CacheItemsOverride returns a Server.ItemsOverride hook that gives each
// session a CacheItems layer keyed by the session's UUID.
func CacheItemsOverride(c cacher.Cacher[any], ttl time.Duration, log logger.Logger) func(*Session) Items {
	return func(s *Session) Items {
		return NewCacheItems(c, "session:"+s.Key()+":", ttl, log)
	}
}

// LayeredItems is an ordered list of layers consulted front to back. Writes go
// to the front layer. Pushing a layer overrides reads and redirects writes
// without hiding what was written before.
type LayeredItems struct {
	mu     sync.RWMutex
	layers []Items
}

// NewLayeredItems returns a stack holding only primary.
func NewLayeredItems(primary Items) *LayeredItems {
	return &LayeredItems{layers: []Items{primary}}
}

// Push installs layer in front of the existing ones.
func (l *LayeredItems) Push(layer Items) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.layers = append([]Items{layer}, l.layers...)
}

// Depth returns the number of layers.
func (l *LayeredItems) Depth() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.layers)
}

// Get returns the value from the first layer that has key.
func (l *LayeredItems) Get(key string) (any, bool) {
	l.mu.RLock()
	layers := l.layers
	l.mu.RUnlock()

	for _, layer := range layers {
		if value, ok := layer.Get(key); ok {
			return value, true
		}
	}

	return nil, false
}

// Set writes key to the front layer.
func (l *LayeredItems) Set(key string, value any) {
	l.mu.RLock()
	front := l.layers[0]
	l.mu.RUnlock()

	front.Set(key, value)
}

// Release calls Release on every layer that supports it.
func (l *LayeredItems) Release() {
	l.mu.RLock()
	layers := l.layers
	l.mu.RUnlock()

	for _, layer := range layers {
		if r, ok := layer.(interface{ Release() }); ok {
			r.Release()
		}
	}
}
