package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/engramhq/engram/internal/domain/memory"
)

const observationColumns = `id, user_id, agent_id, memory_type, priority, content, content_summary,
	observed_at, referenced_at, source_session_id, COALESCE(supersedes_id::text, ''), is_active,
	confidence, access_count, last_accessed_at, created_at, updated_at`

func scanObservation(row scannable, obs *memory.Observation) error {
	return row.Scan(
		&obs.ID, &obs.UserID, &obs.AgentID, &obs.Type, &obs.Priority,
		&obs.Content, &obs.ContentSummary, &obs.ObservedAt, &obs.ReferencedAt,
		&obs.SourceSessionID, &obs.SupersedesID, &obs.IsActive,
		&obs.Confidence, &obs.AccessCount, &obs.LastAccessedAt,
		&obs.CreatedAt, &obs.UpdatedAt,
	)
}

// CreateObservation inserts a new observation row.
func (s *Store) CreateObservation(ctx context.Context, obs *memory.Observation) error {
	query := `
		INSERT INTO observations (
			id, user_id, agent_id, memory_type, priority, content, content_summary,
			observed_at, referenced_at, source_session_id, supersedes_id, is_active,
			confidence, access_count, last_accessed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		obs.ID, obs.UserID, obs.AgentID, obs.Type, obs.Priority,
		obs.Content, obs.ContentSummary, obs.ObservedAt, obs.ReferencedAt,
		obs.SourceSessionID, nullIfEmpty(obs.SupersedesID), obs.IsActive,
		obs.Confidence, obs.AccessCount, obs.LastAccessedAt,
	).Scan(&obs.CreatedAt, &obs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create observation: %w", err)
	}
	return nil
}

// GetObservation fetches a single observation by ID, active or not.
func (s *Store) GetObservation(ctx context.Context, id string) (*memory.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM observations WHERE id = $1`

	var obs memory.Observation
	if err := scanObservation(s.pool.QueryRow(ctx, query, id), &obs); err != nil {
		return nil, notFoundWrap(err, "get observation %s", id)
	}
	return &obs, nil
}

// ListActiveObservations returns active observations for a user/agent pair,
// ordered red before yellow before green and freshest first within a tier.
func (s *Store) ListActiveObservations(ctx context.Context, userID, agentID string, limit int) ([]memory.Observation, error) {
	query := `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE user_id = $1 AND agent_id = $2 AND is_active
		ORDER BY CASE priority WHEN 'red' THEN 0 WHEN 'yellow' THEN 1 ELSE 2 END,
			updated_at DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, userID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active observations: %w", err)
	}
	defer rows.Close()

	var list []memory.Observation
	for rows.Next() {
		var obs memory.Observation
		if err := scanObservation(rows, &obs); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		list = append(list, obs)
	}
	return list, rows.Err()
}

// CountActiveObservations counts active observations for a user/agent pair.
func (s *Store) CountActiveObservations(ctx context.Context, userID, agentID string) (int, error) {
	query := `SELECT COUNT(*) FROM observations WHERE user_id = $1 AND agent_id = $2 AND is_active`

	var count int
	if err := s.pool.QueryRow(ctx, query, userID, agentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active observations: %w", err)
	}
	return count, nil
}

// OldestActiveGreen returns the least-recently-used active green observation
// for a user/agent pair, or domain.ErrNotFound when none exists.
func (s *Store) OldestActiveGreen(ctx context.Context, userID, agentID string) (*memory.Observation, error) {
	query := `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE user_id = $1 AND agent_id = $2 AND is_active AND priority = 'green'
		ORDER BY last_accessed_at ASC NULLS FIRST, updated_at ASC
		LIMIT 1`

	var obs memory.Observation
	if err := scanObservation(s.pool.QueryRow(ctx, query, userID, agentID), &obs); err != nil {
		return nil, notFoundWrap(err, "oldest active green for %s/%s", userID, agentID)
	}
	return &obs, nil
}

// DeactivateObservation soft-deletes an observation. The row is retained.
func (s *Store) DeactivateObservation(ctx context.Context, id string) error {
	query := `UPDATE observations SET is_active = FALSE, updated_at = now() WHERE id = $1 AND is_active`

	tag, err := s.pool.Exec(ctx, query, id)
	return execExpectOne(tag, err, "deactivate observation %s", id)
}

// DeactivateAllObservations soft-deletes every active observation for a
// user/agent pair and returns how many rows it touched.
func (s *Store) DeactivateAllObservations(ctx context.Context, userID, agentID string) (int, error) {
	query := `UPDATE observations SET is_active = FALSE, updated_at = now()
		WHERE user_id = $1 AND agent_id = $2 AND is_active`

	tag, err := s.pool.Exec(ctx, query, userID, agentID)
	if err != nil {
		return 0, fmt.Errorf("deactivate all observations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ExpireGreenObservations deactivates active green observations whose last
// access (or last update, if never accessed) predates cutoff.
func (s *Store) ExpireGreenObservations(ctx context.Context, userID, agentID string, cutoff time.Time) (int, error) {
	query := `UPDATE observations SET is_active = FALSE, updated_at = now()
		WHERE user_id = $1 AND agent_id = $2 AND is_active AND priority = 'green'
		AND COALESCE(last_accessed_at, updated_at) < $3`

	tag, err := s.pool.Exec(ctx, query, userID, agentID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire green observations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CompactGreenObservations deactivates the n least-used active green
// observations for a user/agent pair.
func (s *Store) CompactGreenObservations(ctx context.Context, userID, agentID string, n int) (int, error) {
	query := `UPDATE observations SET is_active = FALSE, updated_at = now()
		WHERE id IN (
			SELECT id FROM observations
			WHERE user_id = $1 AND agent_id = $2 AND is_active AND priority = 'green'
			ORDER BY access_count ASC, last_accessed_at ASC NULLS FIRST, updated_at ASC
			LIMIT $3
		)`

	tag, err := s.pool.Exec(ctx, query, userID, agentID, n)
	if err != nil {
		return 0, fmt.Errorf("compact green observations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// BumpObservationAccess increments access counters for the given IDs.
// updated_at is deliberately left alone so access bumps do not reorder
// the assembled context.
func (s *Store) BumpObservationAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE observations
		SET access_count = access_count + 1, last_accessed_at = now()
		WHERE id = ANY($1)`

	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("bump observation access: %w", err)
	}
	return nil
}
