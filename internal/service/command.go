package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/engramhq/engram/internal/domain/memory"
)

// rememberPattern matches imperative memory requests: whole-word
// "remember", "note", "save" or the phrase "don't forget".
var rememberPattern = regexp.MustCompile(`(?i)\b(remember|note|save)\b|don'?t\s+forget`)

// IsRememberCommand reports whether the utterance is an explicit request
// to store a memory.
func IsRememberCommand(text string) bool {
	return rememberPattern.MatchString(text)
}

// StoreExplicit schedules a background single-fact extraction for an
// explicit "remember that ..." request and returns immediately. Explicit
// requests are trusted and rare: the result is stored as a red fact,
// with no conflict search and no quota eviction.
func (s *ObserverService) StoreExplicit(userID, agentID, content, sessionID string) {
	s.sched.Schedule("remember:"+sessionID, func(ctx context.Context) {
		s.runExplicit(ctx, userID, agentID, content, sessionID)
	})
}

// runExplicit stores a single user-provided fact. A failed or empty
// extraction drops the command silently; no placeholder memory is ever
// stored.
func (s *ObserverService) runExplicit(ctx context.Context, userID, agentID, content, sessionID string) {
	cfg, err := s.mem.GetConfig(ctx, agentID)
	if err != nil {
		slog.Error("explicit memory config load failed", "agent_id", agentID, "error", err)
		return
	}
	if !cfg.Enabled {
		slog.Debug("memory disabled, explicit request skipped", "agent_id", agentID)
		return
	}

	fact, err := s.extractor.ExtractSingleFact(ctx, content)
	if err != nil {
		slog.Warn("explicit memory extraction failed", "session_id", sessionID, "error", err)
		return
	}
	fact = strings.TrimSpace(fact)
	if fact == "" {
		slog.Debug("explicit memory request yielded nothing", "session_id", sessionID)
		return
	}

	obs := &memory.Observation{
		ID:              uuid.NewString(),
		UserID:          userID,
		AgentID:         agentID,
		Type:            memory.TypeFact,
		Priority:        memory.PriorityRed,
		Content:         fact,
		ObservedAt:      s.now(),
		SourceSessionID: sessionID,
		IsActive:        true,
		Confidence:      1.0,
	}
	if err := s.store.CreateObservation(ctx, obs); err != nil {
		slog.Error("explicit memory insert failed", "session_id", sessionID, "error", err)
		return
	}

	s.mem.Invalidate(ctx, userID, agentID)
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
	slog.Info("explicit memory stored", "observation_id", obs.ID, "user_id", userID)
}
