package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"kardex_assistant/internal/logger"
	"kardex_assistant/internal/metrics"
)

// Namespace identifies one of the two independent caches
type Namespace string

const (
	NamespaceResponse Namespace = "response"
	NamespaceQuery    Namespace = "query"
)

const (
	DefaultResponseTTL = 2 * time.Minute
	DefaultQueryTTL    = 5 * time.Minute
	DefaultResponseMax = 500
	DefaultQueryMax    = 1000

	// share of a namespace dropped when it grows past its bound
	evictFraction = 0.2
)

// Config sets TTL and capacity per namespace
type Config struct {
	ResponseTTL time.Duration `envconfig:"CACHE_RESPONSE_TTL" default:"2m"`
	QueryTTL    time.Duration `envconfig:"CACHE_QUERY_TTL" default:"5m"`
	ResponseMax int           `envconfig:"CACHE_RESPONSE_MAX" default:"500"`
	QueryMax    int           `envconfig:"CACHE_QUERY_MAX" default:"1000"`
	Sweep       string        `envconfig:"CACHE_SWEEP_SCHEDULE" default:"@every 1m"`
}

// DefaultConfig mirrors the envconfig defaults
func DefaultConfig() Config {
	return Config{
		ResponseTTL: DefaultResponseTTL,
		QueryTTL:    DefaultQueryTTL,
		ResponseMax: DefaultResponseMax,
		QueryMax:    DefaultQueryMax,
		Sweep:       "@every 1m",
	}
}

// Entry is a cached value with its insertion time
type Entry struct {
	Key       string
	Value     any
	CreatedAt time.Time
	seq       uint64
}

type space struct {
	name    Namespace
	ttl     time.Duration
	max     int
	entries map[string]*Entry
	hits    uint64
	misses  uint64
}

// Service holds the response and query caches shared by every pipeline run.
// Expired entries are dropped lazily on read, by SweepExpired, or by a Janitor.
type Service struct {
	mu       sync.Mutex
	response *space
	query    *space
	seq      uint64
	now      func() time.Time
	metrics  *metrics.Metrics
}

// Option customizes a Service
type Option func(*Service)

// WithClock replaces time.Now, used by tests to step past TTLs
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics reports lookups and evictions to m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a cache service. Zero values in cfg fall back to defaults.
func New(cfg Config, opts ...Option) *Service {
	if cfg.ResponseTTL <= 0 {
		cfg.ResponseTTL = DefaultResponseTTL
	}
	if cfg.QueryTTL <= 0 {
		cfg.QueryTTL = DefaultQueryTTL
	}
	if cfg.ResponseMax <= 0 {
		cfg.ResponseMax = DefaultResponseMax
	}
	if cfg.QueryMax <= 0 {
		cfg.QueryMax = DefaultQueryMax
	}

	s := &Service{
		response: &space{name: NamespaceResponse, ttl: cfg.ResponseTTL, max: cfg.ResponseMax, entries: make(map[string]*Entry)},
		query:    &space{name: NamespaceQuery, ttl: cfg.QueryTTL, max: cfg.QueryMax, entries: make(map[string]*Entry)},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) space(ns Namespace) *space {
	switch ns {
	case NamespaceResponse:
		return s.response
	case NamespaceQuery:
		return s.query
	default:
		return nil
	}
}

// GetResponse returns a cached response value
func (s *Service) GetResponse(key string) (any, bool) {
	return s.get(s.response, key)
}

// GetQuery returns a cached query result
func (s *Service) GetQuery(key string) (any, bool) {
	return s.get(s.query, key)
}

// SetResponse inserts or overwrites a response value
func (s *Service) SetResponse(key string, value any) {
	s.set(s.response, key, value)
}

// SetQuery inserts or overwrites a query result
func (s *Service) SetQuery(key string, value any) {
	s.set(s.query, key, value)
}

func (s *Service) get(sp *space, key string) (any, bool) {
	s.mu.Lock()
	e, ok := sp.entries[key]
	if ok && s.now().Sub(e.CreatedAt) > sp.ttl {
		delete(sp.entries, key)
		ok = false
		s.metrics.RecordEviction(string(sp.name), "expired", 1)
	}
	if ok {
		sp.hits++
	} else {
		sp.misses++
	}
	s.mu.Unlock()

	s.metrics.RecordCacheLookup(string(sp.name), ok)
	if !ok {
		return nil, false
	}
	logger.Debug().Str("namespace", string(sp.name)).Str("key", truncate(key, 30)).Msg("Cache hit")
	return e.Value, true
}

func (s *Service) set(sp *space, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	sp.entries[key] = &Entry{Key: key, Value: value, CreatedAt: s.now(), seq: s.seq}

	if len(sp.entries) > sp.max {
		evicted := s.evictOldest(sp)
		s.metrics.RecordEviction(string(sp.name), "capacity", evicted)
		logger.Debug().Str("namespace", string(sp.name)).Int("evicted", evicted).Int("size", len(sp.entries)).Msg("Cache over capacity")
	}
}

// evictOldest drops the oldest fifth of sp. Caller holds s.mu.
func (s *Service) evictOldest(sp *space) int {
	ordered := make([]*Entry, 0, len(sp.entries))
	for _, e := range sp.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].seq < ordered[j].seq
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	n := int(float64(len(ordered)) * evictFraction)
	for _, e := range ordered[:n] {
		delete(sp.entries, e.Key)
	}
	return n
}

// InvalidateByTag removes every entry in ns whose key contains tag
func (s *Service) InvalidateByTag(ns Namespace, tag string) int {
	if tag == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sp := s.space(ns)
	if sp == nil {
		return 0
	}
	removed := 0
	for key := range sp.entries {
		if strings.Contains(key, tag) {
			delete(sp.entries, key)
			removed++
		}
	}
	s.metrics.RecordEviction(string(ns), "tag", removed)
	if removed > 0 {
		logger.Debug().Str("namespace", string(ns)).Str("tag", tag).Int("removed", removed).Msg("Cache invalidated by tag")
	}
	return removed
}

// ProductTag is the substring query keys carry when they reference a product
func ProductTag(id int64) string {
	return fmt.Sprintf("product:%d:", id)
}

// OrderTag is the substring query keys carry when they reference an order
func OrderTag(id int64) string {
	return fmt.Sprintf("order:%d:", id)
}

// InvalidateProduct drops cached queries referencing product id
func (s *Service) InvalidateProduct(id int64) int {
	return s.InvalidateByTag(NamespaceQuery, ProductTag(id))
}

// InvalidateOrder drops cached queries referencing order id
func (s *Service) InvalidateOrder(id int64) int {
	return s.InvalidateByTag(NamespaceQuery, OrderTag(id))
}

// Clear empties both namespaces
func (s *Service) Clear() {
	s.mu.Lock()
	s.response.entries = make(map[string]*Entry)
	s.query.entries = make(map[string]*Entry)
	s.mu.Unlock()
	logger.Info().Msg("Cache cleared")
}

// SweepExpired removes all entries past their TTL and returns how many went
func (s *Service) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0
	for _, sp := range []*space{s.response, s.query} {
		n := 0
		for key, e := range sp.entries {
			if now.Sub(e.CreatedAt) > sp.ttl {
				delete(sp.entries, key)
				n++
			}
		}
		s.metrics.RecordEviction(string(sp.name), "expired", n)
		cleaned += n
	}
	if cleaned > 0 {
		logger.Debug().Int("cleaned", cleaned).Msg("Swept expired cache entries")
	}
	return cleaned
}

// NamespaceStats describes one namespace
type NamespaceStats struct {
	Size   int           `json:"size"`
	Max    int           `json:"max"`
	TTL    time.Duration `json:"ttl"`
	Hits   uint64        `json:"hits"`
	Misses uint64        `json:"misses"`
}

// Stats is a point-in-time snapshot of both namespaces
type Stats struct {
	Response NamespaceStats `json:"response"`
	Query    NamespaceStats `json:"query"`
}

// Stats reports current sizes, bounds and TTLs
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Response: s.response.stats(),
		Query:    s.query.stats(),
	}
}

func (sp *space) stats() NamespaceStats {
	return NamespaceStats{
		Size:   len(sp.entries),
		Max:    sp.max,
		TTL:    sp.ttl,
		Hits:   sp.hits,
		Misses: sp.misses,
	}
}

// truncate shortens s to n runes for log lines
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
