package service

import (
	"testing"

	"github.com/engramhq/engram/internal/domain/memory"
)

func TestIsRememberCommand(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"remember that I deploy on Fridays", true},
		{"Remember: my timezone is CET", true},
		{"please note that I prefer tabs", true},
		{"save this for later", true},
		{"don't forget I'm vegetarian", true},
		{"dont forget my API key rotates monthly", true},
		{"what's the weather like", false},
		{"I remembered to bring it", false},
		{"the notebook is on the desk", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsRememberCommand(tt.text); got != tt.want {
			t.Errorf("IsRememberCommand(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestStoreExplicitStoresRedFact(t *testing.T) {
	f := newObserverFixture()
	f.extractor.single = "User deploys on Fridays"

	f.obs.StoreExplicit("user-1", "agent-1", "remember that I deploy on Fridays", "sess-1")

	var stored *memory.Observation
	for _, obs := range f.store.observations {
		if obs.IsActive {
			stored = obs
		}
	}
	if stored == nil {
		t.Fatal("expected observation stored")
	}
	if stored.Priority != memory.PriorityRed {
		t.Errorf("explicit memories must be red, got %s", stored.Priority)
	}
	if stored.Content != "User deploys on Fridays" {
		t.Errorf("unexpected content: %q", stored.Content)
	}
	if stored.SourceSessionID != "sess-1" {
		t.Errorf("unexpected session: %q", stored.SourceSessionID)
	}
	if !f.cache.deleted(contextKey("user-1", "agent-1")) {
		t.Error("expected pair cache invalidated")
	}
	if !f.events.has("memory.observation.stored") {
		t.Error("expected stored event")
	}
}

func TestStoreExplicitDisabledAgent(t *testing.T) {
	f := newObserverFixture()
	f.store.configs["agent-1"] = &memory.Config{
		AgentID: "agent-1", Enabled: false,
		MaxMemoriesPerUser: 100, RetentionDays: 90,
	}
	f.extractor.single = "something"

	f.obs.StoreExplicit("user-1", "agent-1", "remember this", "sess-1")

	if len(f.store.observations) != 0 {
		t.Error("disabled agent must not store explicit memories")
	}
	if f.extractor.calls != 0 {
		t.Error("disabled agent must not call the extractor")
	}
}

func TestStoreExplicitEmptyExtraction(t *testing.T) {
	f := newObserverFixture()
	f.extractor.single = "  "

	f.obs.StoreExplicit("user-1", "agent-1", "remember ummm", "sess-1")

	if len(f.store.observations) != 0 {
		t.Error("empty extraction must not store a placeholder")
	}
}
