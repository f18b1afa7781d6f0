package store

import (
	"context"
	"fmt"
	"time"

	"github.com/logwarden/logwarden/internal/model"
)

// RecordUsage persists one token accounting row.
func (s *Store) RecordUsage(ctx context.Context, u *model.LlmUsage) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO llm_usage (system_id, run_type, model, token_input, token_output,
		                       request_count, event_count, cost_estimate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		u.SystemID, u.RunType, u.Model, u.TokenInput, u.TokenOutput,
		u.RequestCount, u.EventCount, u.CostEstimate,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record llm usage: %w", err)
	}
	return nil
}

// UsageSummaries aggregates token usage per (run_type, model) in [from, to).
func (s *Store) UsageSummaries(ctx context.Context, from, to time.Time) ([]model.UsageSummary, error) {
	var rows []model.UsageSummary
	err := s.db.SelectContext(ctx, &rows, `
		SELECT run_type, model,
		       COALESCE(SUM(token_input), 0) AS token_input,
		       COALESCE(SUM(token_output), 0) AS token_output,
		       COALESCE(SUM(request_count), 0) AS request_count,
		       COALESCE(SUM(event_count), 0) AS event_count,
		       COALESCE(SUM(cost_estimate), 0) AS cost_estimate
		FROM llm_usage
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY run_type, model
		ORDER BY run_type, model`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate llm usage: %w", err)
	}
	return rows, nil
}
