package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/domain/memory"
	"github.com/engramhq/engram/internal/service"
)

// HealthChecker reports reachability of an external dependency.
type HealthChecker interface {
	Health(ctx context.Context) (bool, error)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Memory    *service.MemoryService
	Observer  *service.ObserverService
	Reflector *service.ReflectorService
	Extractor HealthChecker // optional; nil skips the LLM readiness probe
	DBPing    func(ctx context.Context) error
}

// GetContext serves the assembled memory block for a (user, agent) pair.
// Mirrors the prompt path: a pair with nothing to say returns an empty
// context string, never an error.
func (h *Handlers) GetContext(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	agentID := r.URL.Query().Get("agent_id")
	if !requireField(w, userID, "user_id") || !requireField(w, agentID, "agent_id") {
		return
	}

	maxTokens := 0
	if v := r.URL.Query().Get("max_tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "max_tokens must be an integer")
			return
		}
		maxTokens = n
	}

	blob := h.Memory.LoadContext(r.Context(), userID, agentID, maxTokens)
	writeJSON(w, http.StatusOK, map[string]string{"context": blob})
}

// ListObservations returns a pair's active observations.
func (h *Handlers) ListObservations(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "userID")
	agentID := urlParam(r, "agentID")

	observations, err := h.Memory.ListActive(r.Context(), userID, agentID)
	if err != nil {
		writeDomainError(w, err, "observations not found")
		return
	}
	if observations == nil {
		observations = []memory.Observation{}
	}
	writeJSON(w, http.StatusOK, observations)
}

// DeleteObservation soft-deletes a single observation. The user_id query
// parameter must match the record's owner.
func (h *Handlers) DeleteObservation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}

	ok, err := h.Memory.Deactivate(r.Context(), id, userID)
	if err != nil {
		writeDomainError(w, err, "observation not found")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "observation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearObservations soft-deletes every active observation for a pair.
func (h *Handlers) ClearObservations(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "userID")
	agentID := urlParam(r, "agentID")

	n, err := h.Memory.ClearAll(r.Context(), userID, agentID)
	if err != nil {
		writeDomainError(w, err, "observations not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// GetConfig returns the agent's memory configuration, falling back to
// defaults for agents without a stored row.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Memory.GetConfig(r.Context(), urlParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err, "config not found")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateConfig applies a partial update to the agent's memory config.
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	upd, ok := readJSON[memory.ConfigUpdate](w, r)
	if !ok {
		return
	}

	cfg, err := h.Memory.UpdateConfig(r.Context(), urlParam(r, "agentID"), &upd)
	if err != nil {
		writeDomainError(w, err, "config not found")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type extractionRequest struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	UserID    string `json:"user_id"`
}

// TriggerExtraction queues a background extraction run for a session and
// returns 202 immediately.
func (h *Handlers) TriggerExtraction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[extractionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.SessionID, "session_id") ||
		!requireField(w, req.AgentID, "agent_id") ||
		!requireField(w, req.UserID, "user_id") {
		return
	}

	if !h.requireMemoryEnabled(w, r, req.AgentID) {
		return
	}

	h.Observer.TriggerExtraction(req.SessionID, req.AgentID, req.UserID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type rememberRequest struct {
	UserID    string `json:"user_id"`
	AgentID   string `json:"agent_id"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// Remember queues storage of an explicitly requested memory and returns
// 202 immediately.
func (h *Handlers) Remember(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[rememberRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") ||
		!requireField(w, req.AgentID, "agent_id") ||
		!requireField(w, req.Content, "content") {
		return
	}

	if !h.requireMemoryEnabled(w, r, req.AgentID) {
		return
	}

	h.Observer.StoreExplicit(req.UserID, req.AgentID, req.Content, req.SessionID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// requireMemoryEnabled rejects queue requests for agents with memory
// disabled, so the caller learns up front instead of the run dying
// silently in the background. The pipeline re-checks before writing.
func (h *Handlers) requireMemoryEnabled(w http.ResponseWriter, r *http.Request, agentID string) bool {
	cfg, err := h.Memory.GetConfig(r.Context(), agentID)
	if err != nil {
		writeDomainError(w, err, "config not found")
		return false
	}
	if !cfg.Enabled {
		writeDomainError(w, domain.ErrDisabled, "")
		return false
	}
	return true
}

// GetExtractionJob returns the most recent extraction job for a session.
func (h *Handlers) GetExtractionJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Observer.GetJob(r.Context(), urlParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err, "no extraction job for session")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Reflect runs the maintenance pass for one pair synchronously and
// reports what changed.
func (h *Handlers) Reflect(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "userID")
	agentID := urlParam(r, "agentID")

	result, err := h.Reflector.Reflect(r.Context(), userID, agentID)
	if err != nil {
		writeDomainError(w, err, "reflect failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready is the readiness probe: the database must answer, and the
// extraction backend is reported but not required.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"database": "ok", "extractor": "ok"}

	if h.DBPing != nil {
		if err := h.DBPing(r.Context()); err != nil {
			status["database"] = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}

	if h.Extractor != nil {
		if healthy, err := h.Extractor.Health(r.Context()); err != nil || !healthy {
			// Extraction is async and retried; a down LLM does not fail readiness.
			status["extractor"] = "unreachable"
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// notFound is the catch-all handler.
func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}
