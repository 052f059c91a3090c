package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	engotel "github.com/engramhq/engram/internal/adapter/otel"
	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/domain/memory"
	"github.com/engramhq/engram/internal/port/broadcast"
	"github.com/engramhq/engram/internal/port/cache"
	"github.com/engramhq/engram/internal/port/database"
)

const (
	// DefaultContextTokens is the token budget used when the caller
	// passes a non-positive budget to LoadContext.
	DefaultContextTokens = 800

	// contextTTL bounds the staleness of a cached observation list.
	contextTTL = 5 * time.Minute

	// configTTL bounds the staleness of a cached agent config.
	configTTL = time.Minute

	// fetchCeiling caps how many observations a single store query may
	// return. A safety bound, not the token budget.
	fetchCeiling = 150
)

// contextKey is the cache key for a pair's active observation list.
func contextKey(userID, agentID string) string {
	return "memctx:" + userID + ":" + agentID
}

// configKey is the cache key for an agent's memory config.
func configKey(agentID string) string {
	return "memcfg:" + agentID
}

// MemoryService serves prompt context from a read-through cache and owns
// the management operations on stored observations and per-agent config.
// Every write path invalidates the pair's cache entry before returning.
type MemoryService struct {
	store   database.Store
	cache   cache.Cache
	metrics *engotel.Metrics
	hub     broadcast.Broadcaster
	group   singleflight.Group
	now     func() time.Time // for testing
}

// NewMemoryService creates a MemoryService.
func NewMemoryService(store database.Store, c cache.Cache) *MemoryService {
	return &MemoryService{
		store: store,
		cache: c,
		now:   time.Now,
	}
}

// SetMetrics wires optional metric instruments.
func (s *MemoryService) SetMetrics(m *engotel.Metrics) {
	s.metrics = m
}

// SetBroadcaster wires an optional real-time event sink.
func (s *MemoryService) SetBroadcaster(b broadcast.Broadcaster) {
	s.hub = b
}

// LoadContext returns the formatted memory block for a (user, agent)
// pair within maxTokens. This sits on the interactive critical path: any
// failure is logged and swallowed, and the result degrades to "" rather
// than surfacing an error to the chat turn. A pair with no active
// observations also yields "" exactly, so the prompt is byte-identical
// to one without the memory feature.
func (s *MemoryService) LoadContext(ctx context.Context, userID, agentID string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultContextTokens
	}

	observations := s.loadObservations(ctx, userID, agentID)
	if len(observations) == 0 {
		return ""
	}

	// Counters are bumped for every serve, cache hit or miss: the
	// reflector's compaction ranks green observations by how often they
	// were actually used, and a warm cache must not hide that usage.
	s.bumpAccess(observations)
	return memory.Assemble(observations, maxTokens, s.now())
}

// loadObservations returns the active observation list for a pair,
// serving from cache when possible and falling back to the store.
// Concurrent cache fills for the same key are collapsed to one query.
func (s *MemoryService) loadObservations(ctx context.Context, userID, agentID string) []memory.Observation {
	key := contextKey(userID, agentID)

	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("memory cache get failed", "key", key, "error", err)
	} else if found {
		var observations []memory.Observation
		if err := json.Unmarshal(data, &observations); err == nil {
			if s.metrics != nil {
				s.metrics.ContextHits.Add(ctx, 1)
			}
			return observations
		}
		slog.Warn("memory cache entry corrupt, refetching", "key", key)
	}

	if s.metrics != nil {
		s.metrics.ContextMisses.Add(ctx, 1)
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		observations, err := s.store.ListActiveObservations(ctx, userID, agentID, fetchCeiling)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(observations); err == nil {
			if err := s.cache.Set(ctx, key, data, contextTTL); err != nil {
				slog.Warn("memory cache set failed", "key", key, "error", err)
			}
		}
		return observations, nil
	})
	if err != nil {
		slog.Error("load observations failed", "user_id", userID, "agent_id", agentID, "error", err)
		return nil
	}
	return v.([]memory.Observation)
}

// bumpAccess updates usage telemetry for the served observations in the
// background. Best-effort: failures are logged and never propagated.
func (s *MemoryService) bumpAccess(observations []memory.Observation) {
	ids := make([]string, 0, len(observations))
	for i := range observations {
		ids = append(ids, observations[i].ID)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.BumpObservationAccess(ctx, ids); err != nil {
			slog.Debug("bump access counters failed", "count", len(ids), "error", err)
		}
	}()
}

// Invalidate removes the cached observation list for a pair. Called
// synchronously by every write path so the next read is fresh.
func (s *MemoryService) Invalidate(ctx context.Context, userID, agentID string) {
	if err := s.cache.Delete(ctx, contextKey(userID, agentID)); err != nil {
		slog.Warn("memory cache invalidate failed", "user_id", userID, "agent_id", agentID, "error", err)
	}
}

// ListActive returns the pair's active observations ordered by priority,
// then most-recently-updated, straight from the store.
func (s *MemoryService) ListActive(ctx context.Context, userID, agentID string) ([]memory.Observation, error) {
	return s.store.ListActiveObservations(ctx, userID, agentID, fetchCeiling)
}

// Deactivate soft-deletes a single observation after checking that it
// belongs to userID. Unknown ids and ownership mismatches report false
// rather than an error.
func (s *MemoryService) Deactivate(ctx context.Context, observationID, userID string) (bool, error) {
	obs, err := s.store.GetObservation(ctx, observationID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if obs.UserID != userID || !obs.IsActive {
		return false, nil
	}

	if err := s.store.DeactivateObservation(ctx, observationID); err != nil {
		return false, err
	}

	s.Invalidate(ctx, userID, obs.AgentID)
	return true, nil
}

// ClearAll soft-deletes every active observation for a pair and returns
// how many were deactivated. Records stay behind for audit.
func (s *MemoryService) ClearAll(ctx context.Context, userID, agentID string) (int, error) {
	n, err := s.store.DeactivateAllObservations(ctx, userID, agentID)
	if err != nil {
		return 0, err
	}
	s.Invalidate(ctx, userID, agentID)
	return n, nil
}

// GetConfig returns the agent's memory config, cached under a short TTL.
// Agents without a stored row get defaults; no row is written on read.
func (s *MemoryService) GetConfig(ctx context.Context, agentID string) (*memory.Config, error) {
	key := configKey(agentID)

	if data, found, err := s.cache.Get(ctx, key); err == nil && found {
		var cfg memory.Config
		if err := json.Unmarshal(data, &cfg); err == nil {
			return &cfg, nil
		}
	}

	cfg, err := s.store.GetMemoryConfig(ctx, agentID)
	if errors.Is(err, domain.ErrNotFound) {
		cfg = memory.DefaultConfig(agentID)
	} else if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cfg); err == nil {
		if err := s.cache.Set(ctx, key, data, configTTL); err != nil {
			slog.Warn("config cache set failed", "agent_id", agentID, "error", err)
		}
	}
	return cfg, nil
}

// UpdateConfig applies a partial update to the agent's memory config,
// creating the row with defaults on first write, and invalidates the
// config cache entry.
func (s *MemoryService) UpdateConfig(ctx context.Context, agentID string, upd *memory.ConfigUpdate) (*memory.Config, error) {
	cfg, err := s.store.GetMemoryConfig(ctx, agentID)
	if errors.Is(err, domain.ErrNotFound) {
		cfg = memory.DefaultConfig(agentID)
	} else if err != nil {
		return nil, err
	}

	upd.Apply(cfg)
	if err := s.store.UpsertMemoryConfig(ctx, cfg); err != nil {
		return nil, err
	}

	if err := s.cache.Delete(ctx, configKey(agentID)); err != nil {
		slog.Warn("config cache invalidate failed", "agent_id", agentID, "error", err)
	}
	return cfg, nil
}
