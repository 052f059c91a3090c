package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	engotel "github.com/engramhq/engram/internal/adapter/otel"
	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/domain/memory"
	"github.com/engramhq/engram/internal/port/broadcast"
	"github.com/engramhq/engram/internal/port/database"
	"github.com/engramhq/engram/internal/port/extractor"
	"github.com/engramhq/engram/internal/port/scheduler"
)

// Pipeline defaults; overridable through ObserverOptions.
const (
	defaultDedupWindow     = 2 * time.Minute
	defaultTranscriptLimit = 20
	defaultExistingLimit   = 50
)

// ObserverOptions tunes the extraction pipeline.
type ObserverOptions struct {
	// DedupWindow suppresses a second extraction for the same session
	// started within this window of an in-flight one.
	DedupWindow time.Duration
	// TranscriptLimit caps how many recent messages feed the extractor.
	TranscriptLimit int
	// ExistingLimit caps how many stored observations are summarized as
	// conflict-detection context for the extractor.
	ExistingLimit int
}

// ObserverService runs the asynchronous extraction pipeline: it reads a
// session transcript, asks the extractor for candidate facts, reconciles
// them against stored observations (supersession, quota) and persists
// the survivors. Runs are fire-and-forget; failures land on the job row
// and in the log, never on the caller.
type ObserverService struct {
	store     database.Store
	extractor extractor.Extractor
	sched     scheduler.Scheduler
	mem       *MemoryService
	metrics   *engotel.Metrics
	hub       broadcast.Broadcaster
	opts      ObserverOptions
	now       func() time.Time // for testing
}

// NewObserverService creates an ObserverService.
func NewObserverService(store database.Store, ex extractor.Extractor, sched scheduler.Scheduler, mem *MemoryService, opts ObserverOptions) *ObserverService {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	if opts.TranscriptLimit <= 0 {
		opts.TranscriptLimit = defaultTranscriptLimit
	}
	if opts.ExistingLimit <= 0 {
		opts.ExistingLimit = defaultExistingLimit
	}
	return &ObserverService{
		store:     store,
		extractor: ex,
		sched:     sched,
		mem:       mem,
		opts:      opts,
		now:       time.Now,
	}
}

// SetMetrics wires optional metric instruments.
func (s *ObserverService) SetMetrics(m *engotel.Metrics) {
	s.metrics = m
}

// SetBroadcaster wires an optional real-time event sink.
func (s *ObserverService) SetBroadcaster(b broadcast.Broadcaster) {
	s.hub = b
}

// TriggerExtraction schedules a background extraction run for the
// session and returns immediately.
func (s *ObserverService) TriggerExtraction(sessionID, agentID, userID string) {
	s.sched.Schedule("extract:"+sessionID, func(ctx context.Context) {
		s.runExtraction(ctx, sessionID, agentID, userID)
	})
}

// GetJob returns the most recent extraction job for a session.
func (s *ObserverService) GetJob(ctx context.Context, sessionID string) (*memory.ExtractionJob, error) {
	return s.store.GetExtractionJob(ctx, sessionID)
}

// runExtraction is the pipeline body. Precondition failures (disabled
// agent, duplicate run) exit quietly with no job row; anything that
// fails after the job row exists is recorded on it. Already-inserted
// observations survive a mid-run failure.
func (s *ObserverService) runExtraction(ctx context.Context, sessionID, agentID, userID string) {
	ctx, span := engotel.StartExtractionSpan(ctx, sessionID, agentID, userID)
	defer span.End()
	start := s.now()

	cfg, err := s.mem.GetConfig(ctx, agentID)
	if err != nil {
		slog.Error("extraction config load failed", "agent_id", agentID, "error", err)
		return
	}
	if !cfg.Enabled {
		slog.Debug("memory disabled, extraction skipped", "agent_id", agentID)
		return
	}

	recent, err := s.store.HasRecentExtractionJob(ctx, sessionID, s.now().Add(-s.opts.DedupWindow))
	if err != nil {
		slog.Error("extraction dedup check failed", "session_id", sessionID, "error", err)
		return
	}
	if recent {
		slog.Debug("duplicate extraction suppressed", "session_id", sessionID)
		return
	}

	job := &memory.ExtractionJob{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		AgentID:   agentID,
		UserID:    userID,
		Status:    memory.JobProcessing,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateExtractionJob(ctx, job); err != nil {
		slog.Error("extraction job create failed", "session_id", sessionID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.ExtractionsRun.Add(ctx, 1)
	}

	stored, considered, mutated, runErr := s.extractAndStore(ctx, cfg, sessionID, agentID, userID)

	status := memory.JobCompleted
	errMsg := ""
	if runErr != nil {
		status = memory.JobFailed
		errMsg = runErr.Error()
		slog.Error("extraction failed", "session_id", sessionID, "stored", stored, "error", runErr)
		if s.metrics != nil {
			s.metrics.ExtractionsFailed.Add(ctx, 1)
		}
	} else {
		slog.Info("extraction completed", "session_id", sessionID, "stored", stored, "considered", considered)
	}

	if err := s.store.FinalizeExtractionJob(ctx, job.ID, status, stored, considered, errMsg); err != nil {
		slog.Error("extraction job finalize failed", "job_id", job.ID, "error", err)
	}

	// Invalidate on any store mutation, not just inserts: a failed run
	// may already have deactivated a superseded or evicted observation,
	// and a warm cache would keep serving it.
	if mutated {
		s.mem.Invalidate(ctx, userID, agentID)
	}
	if s.metrics != nil {
		s.metrics.ExtractionDuration.Record(ctx, s.now().Sub(start).Seconds())
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, "memory.extraction.finished", map[string]any{
			"session_id": sessionID,
			"agent_id":   agentID,
			"user_id":    userID,
			"status":     status,
			"stored":     stored,
		})
	}
}

// extractAndStore performs the fallible middle of the pipeline and
// reports how many observations were stored, how many messages were
// considered and whether the store changed at all, alongside the first
// error that stopped it.
func (s *ObserverService) extractAndStore(ctx context.Context, cfg *memory.Config, sessionID, agentID, userID string) (stored, considered int, mutated bool, err error) {
	messages, err := s.store.ListRecentMessages(ctx, sessionID, s.opts.TranscriptLimit)
	if err != nil {
		return 0, 0, false, fmt.Errorf("list messages: %w", err)
	}
	if len(messages) < 2 {
		// A single turn holds nothing worth extracting.
		return 0, len(messages), false, nil
	}
	slices.Reverse(messages) // store returns newest-first; transcripts read oldest-first

	existing, err := s.store.ListActiveObservations(ctx, userID, agentID, s.opts.ExistingLimit)
	if err != nil {
		return 0, len(messages), false, fmt.Errorf("list existing observations: %w", err)
	}

	facts, err := s.extractor.ExtractFacts(ctx, formatExisting(existing), cfg.ExtractionInstructions, formatTranscript(messages))
	if err != nil {
		return 0, len(messages), false, fmt.Errorf("extract facts: %w", err)
	}

	for i := range facts {
		m, err := s.storeFact(ctx, cfg, existing, &facts[i], sessionID, agentID, userID)
		mutated = mutated || m
		if err != nil {
			return stored, len(messages), mutated, err
		}
		stored++
	}
	return stored, len(messages), mutated, nil
}

// storeFact persists one candidate: resolve a declared conflict by
// superseding the matched observation, make room under the per-user
// quota by evicting the single oldest green observation, then insert.
// Red and yellow records are never evicted by quota pressure. The
// mutated result is true once anything changed in the store, even if a
// later step failed.
func (s *ObserverService) storeFact(ctx context.Context, cfg *memory.Config, existing []memory.Observation, fact *memory.ExtractedFact, sessionID, agentID, userID string) (mutated bool, err error) {
	obs := &memory.Observation{
		ID:              uuid.NewString(),
		UserID:          userID,
		AgentID:         agentID,
		Type:            fact.NormalizedType(),
		Priority:        fact.NormalizedPriority(),
		Content:         strings.TrimSpace(fact.Content),
		ObservedAt:      s.now(),
		ReferencedAt:    fact.ReferencedAt(),
		SourceSessionID: sessionID,
		IsActive:        true,
		Confidence:      1.0,
	}

	if target := matchConflict(existing, fact.ConflictsWith); target != nil {
		if err := s.store.DeactivateObservation(ctx, target.ID); err != nil {
			return mutated, fmt.Errorf("supersede observation %s: %w", target.ID, err)
		}
		mutated = true
		target.IsActive = false
		obs.SupersedesID = target.ID
		if s.hub != nil {
			s.hub.BroadcastEvent(ctx, "memory.observation.superseded", map[string]any{
				"observation_id": target.ID,
				"superseded_by":  obs.ID,
			})
		}
	}

	count, err := s.store.CountActiveObservations(ctx, userID, agentID)
	if err != nil {
		return mutated, fmt.Errorf("count observations: %w", err)
	}
	if count >= cfg.MaxMemoriesPerUser {
		victim, err := s.store.OldestActiveGreen(ctx, userID, agentID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Nothing green left to evict; the insert proceeds and the
			// pair stays over quota until the reflector can act.
		case err != nil:
			return mutated, fmt.Errorf("find eviction candidate: %w", err)
		default:
			if err := s.store.DeactivateObservation(ctx, victim.ID); err != nil {
				return mutated, fmt.Errorf("evict observation %s: %w", victim.ID, err)
			}
			mutated = true
			if s.metrics != nil {
				s.metrics.QuotaEvictions.Add(ctx, 1)
			}
		}
	}

	if err := s.store.CreateObservation(ctx, obs); err != nil {
		return mutated, fmt.Errorf("insert observation: %w", err)
	}
	mutated = true
	if s.metrics != nil {
		s.metrics.FactsStored.Add(ctx, 1)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, "memory.observation.stored", map[string]any{
			"observation_id": obs.ID,
			"agent_id":       agentID,
			"user_id":        userID,
			"priority":       obs.Priority,
		})
	}
	return mutated, nil
}

// matchConflict finds the first still-active observation whose content
// contains the keyword, case-insensitively.
func matchConflict(existing []memory.Observation, keyword string) *memory.Observation {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil
	}
	for i := range existing {
		if existing[i].IsActive && strings.Contains(strings.ToLower(existing[i].Content), keyword) {
			return &existing[i]
		}
	}
	return nil
}

// formatTranscript renders messages oldest-first as "role: content" lines.
func formatTranscript(messages []memory.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// formatExisting summarizes stored observations for the extractor's
// conflict detection, or "None" when there are none.
func formatExisting(observations []memory.Observation) string {
	if len(observations) == 0 {
		return "None"
	}
	var b strings.Builder
	for i := range observations {
		b.WriteString("- [")
		b.WriteString(string(observations[i].Priority))
		b.WriteString("] ")
		b.WriteString(observations[i].Content)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
