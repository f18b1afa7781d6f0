package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/logwarden/logwarden/internal/model"
)

// SystemScores returns the per-system rolling-max effective score for
// every criterion over windows overlapping [from, to).
func (s *Store) SystemScores(ctx context.Context, from, to time.Time) ([]model.SystemScore, error) {
	var rows []model.SystemScore
	err := s.db.SelectContext(ctx, &rows, `
		SELECT es.system_id, es.criterion_id, MAX(es.effective_value) AS value
		FROM effective_scores es
		JOIN windows w ON w.id = es.window_id
		WHERE w.to_ts > $1 AND w.from_ts < $2
		GROUP BY es.system_id, es.criterion_id
		ORDER BY es.system_id, es.criterion_id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load system scores: %w", err)
	}
	return rows, nil
}

// EffectiveScoresForWindow returns the effective score rows of one window.
func (s *Store) EffectiveScoresForWindow(ctx context.Context, windowID int64) ([]model.EffectiveScore, error) {
	var rows []model.EffectiveScore
	err := s.db.SelectContext(ctx, &rows, `
		SELECT system_id, window_id, criterion_id, effective_value, meta_score, max_event_score
		FROM effective_scores WHERE window_id = $1 ORDER BY criterion_id`, windowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load effective scores: %w", err)
	}
	return rows, nil
}

// SystemScoreHistory returns a system's effective scores per window in
// [from, to), for the dashboard time series.
func (s *Store) SystemScoreHistory(ctx context.Context, systemID uuid.UUID, from, to time.Time) ([]model.EffectiveScore, error) {
	var rows []model.EffectiveScore
	err := s.db.SelectContext(ctx, &rows, `
		SELECT es.system_id, es.window_id, es.criterion_id, es.effective_value, es.meta_score, es.max_event_score
		FROM effective_scores es
		JOIN windows w ON w.id = es.window_id
		WHERE es.system_id = $1 AND w.to_ts > $2 AND w.from_ts < $3
		ORDER BY w.from_ts, es.criterion_id`, systemID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load score history: %w", err)
	}
	return rows, nil
}
