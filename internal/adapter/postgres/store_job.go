package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/engramhq/engram/internal/domain/memory"
)

// CreateExtractionJob inserts a new extraction job record.
func (s *Store) CreateExtractionJob(ctx context.Context, job *memory.ExtractionJob) error {
	query := `
		INSERT INTO extraction_jobs (id, session_id, agent_id, user_id, status, memories_extracted, messages_considered, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := s.pool.QueryRow(ctx, query,
		job.ID, job.SessionID, job.AgentID, job.UserID, job.Status,
		job.MemoriesExtracted, job.MessagesConsidered, job.Error,
	).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create extraction job: %w", err)
	}
	return nil
}

// HasRecentExtractionJob reports whether an in-flight job for the session
// was created after since. Only pending and processing jobs suppress a new
// run; a failed run must be retryable immediately.
func (s *Store) HasRecentExtractionJob(ctx context.Context, sessionID string, since time.Time) (bool, error) {
	query := `SELECT EXISTS(
		SELECT 1 FROM extraction_jobs
		WHERE session_id = $1 AND created_at > $2 AND status IN ('pending', 'processing')
	)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, sessionID, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("check recent extraction job: %w", err)
	}
	return exists, nil
}

// FinalizeExtractionJob records the terminal status and counters of a job.
func (s *Store) FinalizeExtractionJob(ctx context.Context, id string, status memory.JobStatus, extracted, considered int, errMsg string) error {
	query := `UPDATE extraction_jobs
		SET status = $2, memories_extracted = $3, messages_considered = $4, error = $5, finished_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, status, extracted, considered, errMsg)
	return execExpectOne(tag, err, "finalize extraction job %s", id)
}

// GetExtractionJob returns the most recent job for a session, or
// domain.ErrNotFound if the session has never been processed.
func (s *Store) GetExtractionJob(ctx context.Context, sessionID string) (*memory.ExtractionJob, error) {
	query := `
		SELECT id, session_id, agent_id, user_id, status, memories_extracted,
			messages_considered, error, created_at, finished_at
		FROM extraction_jobs
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var job memory.ExtractionJob
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&job.ID, &job.SessionID, &job.AgentID, &job.UserID, &job.Status,
		&job.MemoriesExtracted, &job.MessagesConsidered, &job.Error,
		&job.CreatedAt, &job.FinishedAt,
	)
	if err != nil {
		return nil, notFoundWrap(err, "get extraction job for session %s", sessionID)
	}
	return &job, nil
}
