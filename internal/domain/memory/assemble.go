package memory

import (
	"fmt"
	"strings"
	"time"
)

// summaryThreshold is the fraction of the budget after which green
// observations fall back to their short summary form.
const summaryThreshold = 0.7

// Markers distinguishing priority tiers in the assembled context.
const (
	markerRed    = "[!] "
	markerYellow = "[*] "
	markerGreen  = "- "
)

// EstimateTokens approximates the token cost of a string using a fixed
// 4-characters-per-token ratio. The estimate is deterministic and
// conservative; it never undercounts relative to itself, which is the
// property the budget walk depends on.
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		return 1
	}
	return n
}

// Assemble formats an ordered list of observations into a prompt block
// within maxTokens. The header is charged first, then red observations,
// then yellow, then green; once usage passes 70% of the budget, green
// items substitute their summary when one exists. An item that would
// overflow the budget is dropped whole, never truncated. If nothing
// beyond the header fits, Assemble returns "" — a header with nothing
// under it is worse than nothing.
func Assemble(observations []Observation, maxTokens int, now time.Time) string {
	if len(observations) == 0 || maxTokens <= 0 {
		return ""
	}

	header := fmt.Sprintf("Known facts about this user (memory, %s):", now.Format("2006-01-02"))
	used := EstimateTokens(header) + 1 // trailing newline
	if used >= maxTokens {
		return ""
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	included := 0

	for _, tier := range []Priority{PriorityRed, PriorityYellow, PriorityGreen} {
		for i := range observations {
			obs := &observations[i]
			if obs.Priority != tier {
				continue
			}

			line := formatLine(obs, tier, used, maxTokens)
			cost := EstimateTokens(line) + 1
			if used+cost > maxTokens {
				break
			}

			b.WriteString(line)
			b.WriteByte('\n')
			used += cost
			included++
		}
	}

	if included == 0 {
		return ""
	}
	return b.String()
}

// formatLine renders one observation with its tier marker. Green
// observations past the summary threshold use their short form to fit
// more items in the remaining space.
func formatLine(obs *Observation, tier Priority, used, maxTokens int) string {
	content := obs.Content
	if tier == PriorityGreen && obs.ContentSummary != "" &&
		float64(used) > float64(maxTokens)*summaryThreshold {
		content = obs.ContentSummary
	}

	switch tier {
	case PriorityRed:
		return markerRed + content
	case PriorityYellow:
		return markerYellow + content
	default:
		return markerGreen + content
	}
}
