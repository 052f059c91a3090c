package postgres

import (
	"context"
	"fmt"

	"github.com/engramhq/engram/internal/domain/memory"
)

// GetMemoryConfig fetches the stored config for an agent, or
// domain.ErrNotFound if no row exists.
func (s *Store) GetMemoryConfig(ctx context.Context, agentID string) (*memory.Config, error) {
	query := `
		SELECT agent_id, enabled, extraction_instructions, max_memories_per_user,
			retention_days, created_at, updated_at
		FROM memory_configs
		WHERE agent_id = $1`

	var cfg memory.Config
	err := s.pool.QueryRow(ctx, query, agentID).Scan(
		&cfg.AgentID, &cfg.Enabled, &cfg.ExtractionInstructions,
		&cfg.MaxMemoriesPerUser, &cfg.RetentionDays,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, notFoundWrap(err, "get memory config %s", agentID)
	}
	return &cfg, nil
}

// UpsertMemoryConfig inserts or updates the config row for an agent.
func (s *Store) UpsertMemoryConfig(ctx context.Context, cfg *memory.Config) error {
	query := `
		INSERT INTO memory_configs (agent_id, enabled, extraction_instructions, max_memories_per_user, retention_days)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			extraction_instructions = EXCLUDED.extraction_instructions,
			max_memories_per_user = EXCLUDED.max_memories_per_user,
			retention_days = EXCLUDED.retention_days,
			updated_at = now()
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		cfg.AgentID, cfg.Enabled, cfg.ExtractionInstructions,
		cfg.MaxMemoriesPerUser, cfg.RetentionDays,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert memory config %s: %w", cfg.AgentID, err)
	}
	return nil
}
