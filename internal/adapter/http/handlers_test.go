package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	enghttp "github.com/engramhq/engram/internal/adapter/http"
	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/domain/memory"
	"github.com/engramhq/engram/internal/service"
)

// fakeStore implements database.Store in memory.
type fakeStore struct {
	mu           sync.Mutex
	observations map[string]*memory.Observation
	configs      map[string]*memory.Config
	jobs         []*memory.ExtractionJob
	messages     map[string][]memory.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		observations: make(map[string]*memory.Observation),
		configs:      make(map[string]*memory.Config),
		messages:     make(map[string][]memory.Message),
	}
}

func (f *fakeStore) CreateObservation(_ context.Context, obs *memory.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *obs
	f.observations[obs.ID] = &cp
	return nil
}

func (f *fakeStore) GetObservation(_ context.Context, id string) (*memory.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if obs, ok := f.observations[id]; ok {
		cp := *obs
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) ListActiveObservations(_ context.Context, userID, agentID string, limit int) ([]memory.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []memory.Observation
	for _, obs := range f.observations {
		if obs.UserID == userID && obs.AgentID == agentID && obs.IsActive {
			list = append(list, *obs)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if a, b := list[i].Priority.Rank(), list[j].Priority.Rank(); a != b {
			return a < b
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (f *fakeStore) CountActiveObservations(ctx context.Context, userID, agentID string) (int, error) {
	list, err := f.ListActiveObservations(ctx, userID, agentID, 1<<30)
	return len(list), err
}

func (f *fakeStore) OldestActiveGreen(_ context.Context, userID, agentID string) (*memory.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *memory.Observation
	for _, obs := range f.observations {
		if obs.UserID != userID || obs.AgentID != agentID || !obs.IsActive || obs.Priority != memory.PriorityGreen {
			continue
		}
		if oldest == nil || obs.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = obs
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *oldest
	return &cp, nil
}

func (f *fakeStore) DeactivateObservation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	obs, ok := f.observations[id]
	if !ok || !obs.IsActive {
		return domain.ErrNotFound
	}
	obs.IsActive = false
	return nil
}

func (f *fakeStore) DeactivateAllObservations(_ context.Context, userID, agentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, obs := range f.observations {
		if obs.UserID == userID && obs.AgentID == agentID && obs.IsActive {
			obs.IsActive = false
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ExpireGreenObservations(_ context.Context, userID, agentID string, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, obs := range f.observations {
		if obs.UserID != userID || obs.AgentID != agentID || !obs.IsActive || obs.Priority != memory.PriorityGreen {
			continue
		}
		last := obs.UpdatedAt
		if obs.LastAccessedAt != nil {
			last = *obs.LastAccessedAt
		}
		if last.Before(cutoff) {
			obs.IsActive = false
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CompactGreenObservations(_ context.Context, userID, agentID string, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var greens []*memory.Observation
	for _, obs := range f.observations {
		if obs.UserID == userID && obs.AgentID == agentID && obs.IsActive && obs.Priority == memory.PriorityGreen {
			greens = append(greens, obs)
		}
	}
	sort.Slice(greens, func(i, j int) bool { return greens[i].AccessCount < greens[j].AccessCount })
	done := 0
	for _, obs := range greens {
		if done >= n {
			break
		}
		obs.IsActive = false
		done++
	}
	return done, nil
}

func (f *fakeStore) BumpObservationAccess(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, id := range ids {
		if obs, ok := f.observations[id]; ok {
			obs.AccessCount++
			obs.LastAccessedAt = &now
		}
	}
	return nil
}

func (f *fakeStore) GetMemoryConfig(_ context.Context, agentID string) (*memory.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg, ok := f.configs[agentID]; ok {
		cp := *cfg
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) UpsertMemoryConfig(_ context.Context, cfg *memory.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cfg
	f.configs[cfg.AgentID] = &cp
	return nil
}

func (f *fakeStore) CreateExtractionJob(_ context.Context, job *memory.ExtractionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs = append(f.jobs, &cp)
	return nil
}

func (f *fakeStore) HasRecentExtractionJob(_ context.Context, sessionID string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.SessionID != sessionID || !job.CreatedAt.After(since) {
			continue
		}
		if job.Status == memory.JobPending || job.Status == memory.JobProcessing {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) FinalizeExtractionJob(_ context.Context, id string, status memory.JobStatus, extracted, considered int, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.ID == id {
			now := time.Now()
			job.Status = status
			job.MemoriesExtracted = extracted
			job.MessagesConsidered = considered
			job.Error = errMsg
			job.FinishedAt = &now
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) GetExtractionJob(_ context.Context, sessionID string) (*memory.ExtractionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.jobs) - 1; i >= 0; i-- {
		if f.jobs[i].SessionID == sessionID {
			cp := *f.jobs[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) ListRecentMessages(_ context.Context, sessionID string, limit int) ([]memory.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[sessionID]
	out := make([]memory.Message, 0, limit)
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

// fakeCache implements cache.Cache in memory, ignoring TTLs.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	return data, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// fakeExtractor returns canned facts.
type fakeExtractor struct {
	facts  []memory.ExtractedFact
	single string
}

func (e *fakeExtractor) ExtractFacts(context.Context, string, string, string) ([]memory.ExtractedFact, error) {
	return e.facts, nil
}

func (e *fakeExtractor) ExtractSingleFact(context.Context, string) (string, error) {
	return e.single, nil
}

// syncScheduler runs tasks inline so tests observe their effects.
type syncScheduler struct{}

func (syncScheduler) Schedule(_ string, fn func(ctx context.Context)) {
	fn(context.Background())
}

func newTestServer(t *testing.T, store *fakeStore, ex *fakeExtractor) *httptest.Server {
	t.Helper()

	mem := service.NewMemoryService(store, newFakeCache())
	obs := service.NewObserverService(store, ex, syncScheduler{}, mem, service.ObserverOptions{})
	refl := service.NewReflectorService(store, mem)

	h := &enghttp.Handlers{
		Memory:    mem,
		Observer:  obs,
		Reflector: refl,
	}

	r := chi.NewRouter()
	enghttp.MountRoutes(r, h)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func seedObservation(store *fakeStore, id, userID, agentID string, prio memory.Priority, content string) {
	now := time.Now()
	_ = store.CreateObservation(context.Background(), &memory.Observation{
		ID:         id,
		UserID:     userID,
		AgentID:    agentID,
		Type:       memory.TypeFact,
		Priority:   prio,
		Content:    content,
		ObservedAt: now,
		IsActive:   true,
		Confidence: 1.0,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func TestGetContext(t *testing.T) {
	store := newFakeStore()
	seedObservation(store, "o1", "u1", "a1", memory.PriorityRed, "User is allergic to peanuts")
	srv := newTestServer(t, store, &fakeExtractor{})

	resp, err := http.Get(srv.URL + "/api/v1/memory/context?user_id=u1&agent_id=a1")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["context"] == "" {
		t.Fatal("expected non-empty context")
	}
}

func TestGetContextMissingParams(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), &fakeExtractor{})

	resp, err := http.Get(srv.URL + "/api/v1/memory/context?user_id=u1")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetContextEmptyPair(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), &fakeExtractor{})

	resp, err := http.Get(srv.URL + "/api/v1/memory/context?user_id=u1&agent_id=a1")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["context"] != "" {
		t.Fatalf("expected empty context, got %q", body["context"])
	}
}

func TestListObservations(t *testing.T) {
	store := newFakeStore()
	seedObservation(store, "o1", "u1", "a1", memory.PriorityYellow, "User prefers tea")
	seedObservation(store, "o2", "u1", "a1", memory.PriorityRed, "User is vegan")
	seedObservation(store, "o3", "u2", "a1", memory.PriorityGreen, "Other user fact")
	srv := newTestServer(t, store, &fakeExtractor{})

	resp, err := http.Get(srv.URL + "/api/v1/memory/users/u1/agents/a1/observations")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var list []memory.Observation
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(list))
	}
	if list[0].Priority != memory.PriorityRed {
		t.Fatalf("expected red first, got %s", list[0].Priority)
	}
}

func TestDeleteObservation(t *testing.T) {
	store := newFakeStore()
	seedObservation(store, "o1", "u1", "a1", memory.PriorityYellow, "User prefers tea")
	srv := newTestServer(t, store, &fakeExtractor{})

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/memory/observations/o1?user_id=u1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if obs, _ := store.GetObservation(context.Background(), "o1"); obs.IsActive {
		t.Fatal("observation still active after delete")
	}
}

func TestDeleteObservationWrongOwner(t *testing.T) {
	store := newFakeStore()
	seedObservation(store, "o1", "u1", "a1", memory.PriorityYellow, "User prefers tea")
	srv := newTestServer(t, store, &fakeExtractor{})

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/memory/observations/o1?user_id=intruder", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if obs, _ := store.GetObservation(context.Background(), "o1"); !obs.IsActive {
		t.Fatal("observation deactivated by non-owner")
	}
}

func TestClearObservations(t *testing.T) {
	store := newFakeStore()
	seedObservation(store, "o1", "u1", "a1", memory.PriorityYellow, "User prefers tea")
	seedObservation(store, "o2", "u1", "a1", memory.PriorityGreen, "Working on a move")
	srv := newTestServer(t, store, &fakeExtractor{})

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/memory/users/u1/agents/a1/observations", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["cleared"] != 2 {
		t.Fatalf("expected 2 cleared, got %d", body["cleared"])
	}
}

func TestGetConfigDefaults(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), &fakeExtractor{})

	resp, err := http.Get(srv.URL + "/api/v1/memory/agents/a1/config")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var cfg memory.Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatal(err)
	}
	if !cfg.Enabled || cfg.MaxMemoriesPerUser != memory.DefaultMaxMemoriesPerUser {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestUpdateConfig(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(t, store, &fakeExtractor{})

	body := bytes.NewBufferString(`{"enabled": false, "retention_days": 30}`)
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/memory/agents/a1/config", body)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var cfg memory.Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Enabled {
		t.Fatal("expected disabled config")
	}
	if cfg.RetentionDays != 30 {
		t.Fatalf("expected retention 30, got %d", cfg.RetentionDays)
	}

	stored, err := store.GetMemoryConfig(context.Background(), "a1")
	if err != nil {
		t.Fatalf("config row not created: %v", err)
	}
	if stored.Enabled {
		t.Fatal("stored config should be disabled")
	}
}

func TestTriggerExtraction(t *testing.T) {
	store := newFakeStore()
	store.messages["s1"] = []memory.Message{
		{Role: "user", Content: "I switched to decaf", CreatedAt: time.Now().Add(-time.Minute)},
		{Role: "assistant", Content: "Noted!", CreatedAt: time.Now()},
	}
	ex := &fakeExtractor{facts: []memory.ExtractedFact{
		{Content: "User drinks decaf", Type: "preference", Priority: "yellow"},
	}}
	srv := newTestServer(t, store, ex)

	body := bytes.NewBufferString(`{"session_id":"s1","agent_id":"a1","user_id":"u1"}`)
	resp, err := http.Post(srv.URL+"/api/v1/memory/extractions", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	// The test scheduler is synchronous, so the job is already finished.
	job, err := store.GetExtractionJob(context.Background(), "s1")
	if err != nil {
		t.Fatalf("no job recorded: %v", err)
	}
	if job.Status != memory.JobCompleted {
		t.Fatalf("expected completed job, got %s", job.Status)
	}
	if job.MemoriesExtracted != 1 {
		t.Fatalf("expected 1 extracted, got %d", job.MemoriesExtracted)
	}
}

func TestTriggerExtractionDisabledAgent(t *testing.T) {
	store := newFakeStore()
	store.configs["a1"] = &memory.Config{
		AgentID: "a1", Enabled: false,
		MaxMemoriesPerUser: 100, RetentionDays: 90,
	}
	srv := newTestServer(t, store, &fakeExtractor{})

	body := bytes.NewBufferString(`{"session_id":"s1","agent_id":"a1","user_id":"u1"}`)
	resp, err := http.Post(srv.URL+"/api/v1/memory/extractions", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if len(store.jobs) != 0 {
		t.Fatalf("expected no job queued, got %d", len(store.jobs))
	}
}

func TestGetExtractionJob(t *testing.T) {
	store := newFakeStore()
	_ = store.CreateExtractionJob(context.Background(), &memory.ExtractionJob{
		ID: "j1", SessionID: "s1", AgentID: "a1", UserID: "u1",
		Status: memory.JobCompleted, CreatedAt: time.Now(),
	})
	srv := newTestServer(t, store, &fakeExtractor{})

	resp, err := http.Get(srv.URL + "/api/v1/memory/sessions/s1/extraction")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var job memory.ExtractionJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.ID != "j1" {
		t.Fatalf("expected job j1, got %s", job.ID)
	}
}

func TestGetExtractionJobMissing(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), &fakeExtractor{})

	resp, err := http.Get(srv.URL + "/api/v1/memory/sessions/unknown/extraction")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRemember(t *testing.T) {
	store := newFakeStore()
	ex := &fakeExtractor{single: "User's birthday is March 3rd."}
	srv := newTestServer(t, store, ex)

	body := bytes.NewBufferString(`{"user_id":"u1","agent_id":"a1","content":"remember my birthday is March 3rd","session_id":"s1"}`)
	resp, err := http.Post(srv.URL+"/api/v1/memory/remember", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	list, _ := store.ListActiveObservations(context.Background(), "u1", "a1", 10)
	if len(list) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(list))
	}
	if list[0].Priority != memory.PriorityRed {
		t.Fatalf("explicit memory should be red, got %s", list[0].Priority)
	}
}

func TestReflect(t *testing.T) {
	store := newFakeStore()
	old := time.Now().AddDate(0, 0, -120)
	_ = store.CreateObservation(context.Background(), &memory.Observation{
		ID: "stale", UserID: "u1", AgentID: "a1",
		Type: memory.TypeContext, Priority: memory.PriorityGreen,
		Content: "Was planning a trip", ObservedAt: old,
		IsActive: true, Confidence: 1.0, CreatedAt: old, UpdatedAt: old,
	})
	srv := newTestServer(t, store, &fakeExtractor{})

	resp, err := http.Post(srv.URL+"/api/v1/memory/users/u1/agents/a1/reflect", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result service.ReflectResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Expired != 1 {
		t.Fatalf("expected 1 expired, got %d", result.Expired)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newFakeStore(), &fakeExtractor{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
