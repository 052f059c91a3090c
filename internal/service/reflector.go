package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	engotel "github.com/engramhq/engram/internal/adapter/otel"
	"github.com/engramhq/engram/internal/port/broadcast"
	"github.com/engramhq/engram/internal/port/database"
)

// ReflectResult reports what a reflector pass changed.
type ReflectResult struct {
	Expired   int `json:"expired"`
	Compacted int `json:"compacted"`
}

// ReflectorService is the maintenance pass over a pair's observations:
// it expires stale green records past the retention window, then
// compacts the least-valuable greens while the pair is over quota.
// Yellow and red observations are never touched automatically.
type ReflectorService struct {
	store   database.Store
	mem     *MemoryService
	metrics *engotel.Metrics
	hub     broadcast.Broadcaster
	now     func() time.Time // for testing
}

// NewReflectorService creates a ReflectorService.
func NewReflectorService(store database.Store, mem *MemoryService) *ReflectorService {
	return &ReflectorService{
		store: store,
		mem:   mem,
		now:   time.Now,
	}
}

// SetMetrics wires optional metric instruments.
func (s *ReflectorService) SetMetrics(m *engotel.Metrics) {
	s.metrics = m
}

// SetBroadcaster wires an optional real-time event sink.
func (s *ReflectorService) SetBroadcaster(b broadcast.Broadcaster) {
	s.hub = b
}

// Reflect runs both maintenance passes for one (user, agent) pair. The
// cache is invalidated only when something changed; an untouched pair
// keeps its warm entry.
func (s *ReflectorService) Reflect(ctx context.Context, userID, agentID string) (ReflectResult, error) {
	ctx, span := engotel.StartReflectSpan(ctx, userID, agentID)
	defer span.End()

	var result ReflectResult

	cfg, err := s.mem.GetConfig(ctx, agentID)
	if err != nil {
		return result, fmt.Errorf("load config: %w", err)
	}

	cutoff := s.now().AddDate(0, 0, -cfg.RetentionDays)
	expired, err := s.store.ExpireGreenObservations(ctx, userID, agentID, cutoff)
	if err != nil {
		return result, fmt.Errorf("expire green observations: %w", err)
	}
	result.Expired = expired

	count, err := s.store.CountActiveObservations(ctx, userID, agentID)
	if err != nil {
		return result, fmt.Errorf("count observations: %w", err)
	}
	if count > cfg.MaxMemoriesPerUser {
		compacted, err := s.store.CompactGreenObservations(ctx, userID, agentID, count-cfg.MaxMemoriesPerUser)
		if err != nil {
			return result, fmt.Errorf("compact green observations: %w", err)
		}
		result.Compacted = compacted
	}

	if result.Expired+result.Compacted == 0 {
		return result, nil
	}

	s.mem.Invalidate(ctx, userID, agentID)
	if s.metrics != nil {
		s.metrics.ReflectorExpired.Add(ctx, int64(result.Expired))
		s.metrics.ReflectorCompacted.Add(ctx, int64(result.Compacted))
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, "memory.reflected", map[string]any{
			"user_id":   userID,
			"agent_id":  agentID,
			"expired":   result.Expired,
			"compacted": result.Compacted,
		})
	}
	slog.Info("reflector pass completed",
		"user_id", userID,
		"agent_id", agentID,
		"expired", result.Expired,
		"compacted", result.Compacted,
	)
	return result, nil
}
