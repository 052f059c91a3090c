// Package extractor defines the port for LLM-backed fact extraction.
package extractor

import (
	"context"

	"github.com/engramhq/engram/internal/domain/memory"
)

// Extractor derives candidate facts from conversation text. It is
// treated as unreliable: implementations return zero candidates for
// malformed model output instead of an error, and callers must tolerate
// both empty results and failures without degrading the chat turn.
type Extractor interface {
	// ExtractFacts reads a formatted transcript and returns candidate
	// facts. existing summarizes the observations already stored (or
	// "None"), instructions is the agent's free-text extraction hint
	// (may be empty).
	ExtractFacts(ctx context.Context, existing, instructions, transcript string) ([]memory.ExtractedFact, error)

	// ExtractSingleFact condenses one user utterance into a single
	// stored fact. Returns "" when nothing worth storing was found.
	ExtractSingleFact(ctx context.Context, utterance string) (string, error)
}
