package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"content-autopilot/internal/domain"
)

// Cached кэширует ответы исследователя на время TTL.
// Ошибки исследователя не кэшируются, ошибки кэша только логируются.
// Запросы insights всегда идут мимо кэша.
type Cached struct {
	next   domain.TopicResearcher
	cache  domain.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

var _ domain.TopicResearcher = (*Cached)(nil)

// NewCached оборачивает исследователя кэшем.
func NewCached(next domain.TopicResearcher, cache domain.Cache, ttl time.Duration, logger zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger.With().Str("component", "research_cache").Logger()}
}

// Research возвращает идеи из кэша или от обёрнутого исследователя.
func (c *Cached) Research(ctx context.Context, req domain.ResearchRequest) ([]domain.TopicIdea, error) {
	if req.Scope == domain.ResearchInsights {
		return c.next.Research(ctx, req)
	}
	key := cacheKey(req)
	if raw, err := c.cache.Get(ctx, key); err == nil {
		var ideas []domain.TopicIdea
		if err := json.Unmarshal(raw, &ideas); err == nil {
			return ideas, nil
		}
		c.logger.Warn().Str("key", key).Msg("research: повреждённая запись кэша")
	} else if !errors.Is(err, domain.ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("key", key).Msg("research: ошибка чтения кэша")
	}

	ideas, err := c.next.Research(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(ideas)
	if err != nil {
		return ideas, nil
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("research: ошибка записи кэша")
	}
	return ideas, nil
}

func cacheKey(req domain.ResearchRequest) string {
	keywords := make([]string, len(req.Keywords))
	for i, k := range req.Keywords {
		keywords[i] = strings.ToLower(strings.TrimSpace(k))
	}
	raw, _ := json.Marshal(struct {
		Scope    domain.ResearchScope `json:"s"`
		Niche    string               `json:"n"`
		Audience string               `json:"a"`
		Seed     string               `json:"d"`
		Keywords []string             `json:"k"`
		Count    int                  `json:"c"`
	}{req.Scope, strings.ToLower(req.Niche), strings.ToLower(req.Audience), strings.ToLower(req.Seed), keywords, req.Count})
	sum := sha256.Sum256(raw)
	return "research:" + string(req.Scope) + ":" + hex.EncodeToString(sum[:16])
}
