package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"content-autopilot/internal/domain"
)

const contentScheme = "mem://"

// Contents хранит тексты статей в памяти.
type Contents struct {
	mu    sync.RWMutex
	items map[string][]byte
}

var _ domain.ContentStore = (*Contents)(nil)

// NewContents создаёт хранилище текстов.
func NewContents() *Contents {
	return &Contents{items: make(map[string][]byte)}
}

// Save сохраняет текст и возвращает ссылку mem://key.
func (c *Contents) Save(_ context.Context, key string, content []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = append([]byte(nil), content...)
	return contentScheme + key, nil
}

// Load читает текст по ссылке.
func (c *Contents) Load(_ context.Context, ref string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.items[strings.TrimPrefix(ref, contentScheme)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache реализует TTL-кэш в памяти.
type Cache struct {
	mu    sync.Mutex
	items map[string]cacheEntry
	now   func() time.Time
}

var _ domain.Cache = (*Cache)(nil)

// NewCache создаёт кэш.
func NewCache() *Cache {
	return &Cache{items: make(map[string]cacheEntry), now: time.Now}
}

// Get возвращает значение или domain.ErrCacheMiss.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		delete(c.items, key)
		return nil, domain.ErrCacheMiss
	}
	return entry.value, nil
}

// Set сохраняет значение; нулевой ttl означает хранение без срока.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = entry
	return nil
}

// Events запоминает опубликованные события.
type Events struct {
	mu     sync.Mutex
	events []domain.ArticleEvent
}

var _ domain.EventPublisher = (*Events)(nil)

// PublishEvent сохраняет событие.
func (e *Events) PublishEvent(_ context.Context, ev domain.ArticleEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

// List возвращает события в порядке публикации.
func (e *Events) List() []domain.ArticleEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ArticleEvent(nil), e.events...)
}
