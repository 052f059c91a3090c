package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/adapter/litellm"
	"github.com/engramhq/engram/internal/resilience"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Fatalf("unexpected model: %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("unexpected messages: %+v", req.Messages)
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestExtractFacts(t *testing.T) {
	srv := completionServer(t, `Here you go:
[{"content":"User prefers dark roast coffee","type":"preference","priority":"yellow"},
 {"content":"User is allergic to peanuts","type":"fact","priority":"red"}]`)
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "gpt-4o-mini")
	facts, err := client.ExtractFacts(context.Background(), "None", "", "user: hi")
	if err != nil {
		t.Fatalf("ExtractFacts failed: %v", err)
	}

	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(facts))
	}
	if facts[1].Priority != "red" {
		t.Fatalf("expected red priority, got %q", facts[1].Priority)
	}
}

func TestExtractFactsMalformedResponse(t *testing.T) {
	srv := completionServer(t, "I could not find any facts in this conversation.")
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "gpt-4o-mini")
	facts, err := client.ExtractFacts(context.Background(), "None", "", "user: hi")
	if err != nil {
		t.Fatalf("ExtractFacts failed: %v", err)
	}
	if len(facts) != 0 {
		t.Fatalf("expected no facts, got %d", len(facts))
	}
}

func TestExtractSingleFact(t *testing.T) {
	srv := completionServer(t, `"User's birthday is March 3rd."`)
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "gpt-4o-mini")
	fact, err := client.ExtractSingleFact(context.Background(), "remember that my birthday is March 3rd")
	if err != nil {
		t.Fatalf("ExtractSingleFact failed: %v", err)
	}
	if fact != "User's birthday is March 3rd." {
		t.Fatalf("unexpected fact: %q", fact)
	}
}

func TestExtractFactsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "gpt-4o-mini")
	if _, err := client.ExtractFacts(context.Background(), "None", "", "user: hi"); err == nil {
		t.Fatal("expected error from 502 response")
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "gpt-4o-mini")
	client.SetBreaker(resilience.NewBreaker(2, time.Minute))

	for range 2 {
		if _, err := client.ExtractFacts(context.Background(), "None", "", "user: hi"); err == nil {
			t.Fatal("expected failure")
		}
	}

	_, err := client.ExtractFacts(context.Background(), "None", "", "user: hi")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health/liveliness" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`"I'm alive!"`))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "gpt-4o-mini")
	healthy, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !healthy {
		t.Fatal("expected healthy")
	}
}
