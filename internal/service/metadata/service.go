package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reelpick/internal/metrics"
	"github.com/reelpick/pkg/logger"
)

// Fetcher is the upstream metadata API.
type Fetcher interface {
	Details(ctx context.Context, mediaType string, id int) (json.RawMessage, error)
	Search(ctx context.Context, mediaType, query string, page int) (json.RawMessage, error)
}

// Service serves metadata lookups through the TTL cache.
type Service struct {
	fetcher Fetcher
	cache   *Cache
}

func NewService(fetcher Fetcher, cache *Cache) *Service {
	return &Service{fetcher: fetcher, cache: cache}
}

func (s *Service) Details(ctx context.Context, mediaType string, id int) (json.RawMessage, error) {
	key := fmt.Sprintf("details:%s:%d", mediaType, id)
	return s.cached(key, func() (json.RawMessage, error) {
		return s.fetcher.Details(ctx, mediaType, id)
	})
}

func (s *Service) Search(ctx context.Context, mediaType, query string, page int) (json.RawMessage, error) {
	if page < 1 {
		page = 1
	}
	key := fmt.Sprintf("search:%s:%d:%s", mediaType, page, strings.ToLower(strings.TrimSpace(query)))
	return s.cached(key, func() (json.RawMessage, error) {
		return s.fetcher.Search(ctx, mediaType, query, page)
	})
}

// Sweep removes expired cache entries.
func (s *Service) Sweep() {
	if removed := s.cache.Sweep(); removed > 0 {
		logger.Debugf("🧹 Metadata cache: swept %d expired, %d live", removed, s.cache.Len())
	}
}

// Cache exposes the underlying cache for resizing on config reload.
func (s *Service) Cache() *Cache {
	return s.cache
}

func (s *Service) cached(key string, fetch func() (json.RawMessage, error)) (json.RawMessage, error) {
	if v, ok := s.cache.Get(key); ok {
		metrics.MetadataCacheHits.Inc()
		return v, nil
	}
	metrics.MetadataCacheMisses.Inc()

	v, err := fetch()
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, v)
	return v, nil
}
