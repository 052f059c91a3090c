package memory_test

import (
	"strings"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/domain/memory"
)

var assembleNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func obs(priority memory.Priority, content, summary string) memory.Observation {
	return memory.Observation{
		Priority:       priority,
		Content:        content,
		ContentSummary: summary,
		IsActive:       true,
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcdefgh", 2},
	}
	for _, tt := range tests {
		if got := memory.EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAssembleEmpty(t *testing.T) {
	if got := memory.Assemble(nil, 800, assembleNow); got != "" {
		t.Errorf("expected empty result for no observations, got %q", got)
	}
}

func TestAssembleZeroBudget(t *testing.T) {
	observations := []memory.Observation{obs(memory.PriorityRed, "uses vim", "")}
	if got := memory.Assemble(observations, 0, assembleNow); got != "" {
		t.Errorf("expected empty result for zero budget, got %q", got)
	}
}

func TestAssembleHeaderOnlyIsEmpty(t *testing.T) {
	// Budget covers the header but no observation line.
	observations := []memory.Observation{
		obs(memory.PriorityRed, strings.Repeat("x", 200), ""),
	}
	if got := memory.Assemble(observations, 15, assembleNow); got != "" {
		t.Errorf("expected empty result when nothing fits under the header, got %q", got)
	}
}

func TestAssemblePriorityOrder(t *testing.T) {
	observations := []memory.Observation{
		obs(memory.PriorityGreen, "background detail", ""),
		obs(memory.PriorityRed, "allergic to penicillin", ""),
		obs(memory.PriorityYellow, "works at Acme", ""),
	}

	got := memory.Assemble(observations, 800, assembleNow)

	redIdx := strings.Index(got, "[!] allergic to penicillin")
	yellowIdx := strings.Index(got, "[*] works at Acme")
	greenIdx := strings.Index(got, "- background detail")
	if redIdx < 0 || yellowIdx < 0 || greenIdx < 0 {
		t.Fatalf("missing lines in result:\n%s", got)
	}
	if !(redIdx < yellowIdx && yellowIdx < greenIdx) {
		t.Errorf("expected red < yellow < green ordering, got:\n%s", got)
	}
	if !strings.HasPrefix(got, "Known facts about this user (memory, 2026-08-28):") {
		t.Errorf("expected dated header, got:\n%s", got)
	}
}

func TestAssembleDropsOverflowWhole(t *testing.T) {
	observations := []memory.Observation{
		obs(memory.PriorityRed, "short fact", ""),
		obs(memory.PriorityRed, strings.Repeat("long fact ", 100), ""),
	}

	got := memory.Assemble(observations, 30, assembleNow)

	if !strings.Contains(got, "[!] short fact") {
		t.Fatalf("expected short fact included, got:\n%s", got)
	}
	if strings.Contains(got, "long fact long fact") {
		t.Errorf("expected oversized fact dropped whole, got:\n%s", got)
	}
	if strings.Contains(got, "long fact\n") {
		t.Errorf("fact must never be truncated, got:\n%s", got)
	}
}

func TestAssembleGreenSummarySubstitution(t *testing.T) {
	// Two red lines push usage past 70% of the budget; the green item
	// then only fits in its summary form.
	observations := []memory.Observation{
		obs(memory.PriorityRed, strings.Repeat("a", 20), ""),
		obs(memory.PriorityRed, strings.Repeat("b", 20), ""),
		obs(memory.PriorityGreen, strings.Repeat("verbose detail ", 5), "ok"),
	}

	got := memory.Assemble(observations, 30, assembleNow)

	if !strings.Contains(got, "- ok") {
		t.Fatalf("expected green summary substituted, got:\n%s", got)
	}
	if strings.Contains(got, "verbose detail") {
		t.Errorf("expected full green content omitted past threshold, got:\n%s", got)
	}
}

// assembledContents strips the header and tier markers from an
// assembled block and returns the set of included observation contents.
func assembledContents(block string) map[string]bool {
	out := make(map[string]bool)
	if block == "" {
		return out
	}
	lines := strings.Split(strings.TrimRight(block, "\n"), "\n")
	for _, line := range lines[1:] {
		for _, marker := range []string{"[!] ", "[*] ", "- "} {
			if strings.HasPrefix(line, marker) {
				out[strings.TrimPrefix(line, marker)] = true
				break
			}
		}
	}
	return out
}

func TestAssembleBudgetMonotonic(t *testing.T) {
	observations := []memory.Observation{
		obs(memory.PriorityRed, "allergic to penicillin", ""),
		obs(memory.PriorityYellow, "works at Acme as a data engineer", ""),
		obs(memory.PriorityYellow, "prefers concise answers", ""),
		obs(memory.PriorityGreen, "mentioned a trip to Lisbon", ""),
		obs(memory.PriorityGreen, "uses vim", ""),
	}

	// Raising the budget may only add observations, never drop one that
	// a smaller budget included.
	prev := make(map[string]bool)
	for _, budget := range []int{20, 25, 30, 40, 60, 120} {
		got := assembledContents(memory.Assemble(observations, budget, assembleNow))
		for content := range prev {
			if !got[content] {
				t.Errorf("budget %d dropped %q included at a smaller budget", budget, content)
			}
		}
		prev = got
	}
	if len(prev) != len(observations) {
		t.Errorf("expected the largest budget to include everything, got %d of %d", len(prev), len(observations))
	}
}

func TestAssembleGreenFullContentUnderThreshold(t *testing.T) {
	observations := []memory.Observation{
		obs(memory.PriorityGreen, "prefers tabs over spaces", "tabs"),
	}

	got := memory.Assemble(observations, 800, assembleNow)

	if !strings.Contains(got, "- prefers tabs over spaces") {
		t.Errorf("expected full green content under threshold, got:\n%s", got)
	}
}
