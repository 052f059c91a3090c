// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/engramhq/engram/internal/domain/memory"
)

// Store is the port interface for database operations. All observation
// read paths return active records only; inactive records are retained
// for audit and never surface here.
type Store interface {
	// Observations
	CreateObservation(ctx context.Context, obs *memory.Observation) error
	GetObservation(ctx context.Context, id string) (*memory.Observation, error)
	ListActiveObservations(ctx context.Context, userID, agentID string, limit int) ([]memory.Observation, error)
	CountActiveObservations(ctx context.Context, userID, agentID string) (int, error)
	OldestActiveGreen(ctx context.Context, userID, agentID string) (*memory.Observation, error)
	DeactivateObservation(ctx context.Context, id string) error
	DeactivateAllObservations(ctx context.Context, userID, agentID string) (int, error)
	ExpireGreenObservations(ctx context.Context, userID, agentID string, cutoff time.Time) (int, error)
	CompactGreenObservations(ctx context.Context, userID, agentID string, n int) (int, error)
	BumpObservationAccess(ctx context.Context, ids []string) error

	// Memory configs
	GetMemoryConfig(ctx context.Context, agentID string) (*memory.Config, error)
	UpsertMemoryConfig(ctx context.Context, cfg *memory.Config) error

	// Extraction jobs
	CreateExtractionJob(ctx context.Context, job *memory.ExtractionJob) error
	HasRecentExtractionJob(ctx context.Context, sessionID string, since time.Time) (bool, error)
	FinalizeExtractionJob(ctx context.Context, id string, status memory.JobStatus, extracted, considered int, errMsg string) error
	GetExtractionJob(ctx context.Context, sessionID string) (*memory.ExtractionJob, error)

	// Session messages (owned by the chat pipeline; read-only here).
	// Returns newest-first; callers reverse to oldest-first for transcripts.
	ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]memory.Message, error)
}
