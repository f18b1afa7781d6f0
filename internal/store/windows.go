package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/model"
)

// LastWindow returns a system's most recent window, or nil when the
// system has never been analyzed.
func (s *Store) LastWindow(ctx context.Context, systemID uuid.UUID) (*model.Window, error) {
	var w model.Window
	err := s.db.GetContext(ctx, &w, `
		SELECT id, system_id, from_ts, to_ts, created_at FROM windows
		WHERE system_id = $1 ORDER BY to_ts DESC LIMIT 1`, systemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last window: %w", err)
	}
	return &w, nil
}

// CreateWindowWithMeta persists a window together with its meta result
// and effective scores in one transaction, so a window never exists
// without exactly one meta result.
func (s *Store) CreateWindowWithMeta(ctx context.Context, w *model.Window, meta *model.MetaResult, effective []model.EffectiveScore) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO windows (system_id, from_ts, to_ts)
			VALUES ($1, $2, $3)
			RETURNING id, created_at`, w.SystemID, w.FromTS, w.ToTS).Scan(&w.ID, &w.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert window: %w", err)
		}

		meta.WindowID = w.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO meta_results (window_id, summary, meta_scores, findings, recommended_action, key_event_ids)
			VALUES ($1, $2, COALESCE($3, '{}'::jsonb), COALESCE($4, '[]'::jsonb), $5, COALESCE($6, '[]'::jsonb))`,
			meta.WindowID, meta.Summary, meta.MetaScores, meta.Findings,
			meta.RecommendedAction, meta.KeyEventIDs)
		if err != nil {
			return fmt.Errorf("failed to insert meta result: %w", err)
		}

		for i := range effective {
			effective[i].WindowID = w.ID
			_, err = tx.ExecContext(ctx, `
				INSERT INTO effective_scores (system_id, window_id, criterion_id, effective_value, meta_score, max_event_score)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				effective[i].SystemID, effective[i].WindowID, effective[i].CriterionID,
				effective[i].EffectiveValue, effective[i].MetaScore, effective[i].MaxEventScore)
			if err != nil {
				return fmt.Errorf("failed to insert effective score: %w", err)
			}
		}
		return nil
	})
}

// GetMetaResult returns the meta result of one window.
func (s *Store) GetMetaResult(ctx context.Context, windowID int64) (*model.MetaResult, error) {
	var m model.MetaResult
	err := s.db.GetContext(ctx, &m, `
		SELECT window_id, summary, meta_scores, findings, recommended_action, key_event_ids, created_at
		FROM meta_results WHERE window_id = $1`, windowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewNotFound("window", fmt.Sprintf("%d", windowID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load meta result: %w", err)
	}
	return &m, nil
}

// PriorMetaResults returns the last n meta results of a system, oldest
// first, as context for the next meta analysis.
func (s *Store) PriorMetaResults(ctx context.Context, systemID uuid.UUID, n int) ([]model.MetaResult, error) {
	var results []model.MetaResult
	err := s.db.SelectContext(ctx, &results, `
		SELECT m.window_id, m.summary, m.meta_scores, m.findings, m.recommended_action, m.key_event_ids, m.created_at
		FROM meta_results m
		JOIN windows w ON w.id = m.window_id
		WHERE w.system_id = $1
		ORDER BY w.to_ts DESC
		LIMIT $2`, systemID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior meta results: %w", err)
	}
	// Reverse to oldest-first.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// DeleteOrphanWindows removes windows whose time range no longer
// contains any events, for primary-backed systems only. Meta results
// and effective scores cascade.
func (s *Store) DeleteOrphanWindows(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM windows w
		USING monitored_systems sys
		WHERE sys.id = w.system_id AND sys.event_source = 'primary'
		  AND NOT EXISTS (
		      SELECT 1 FROM events e
		      WHERE e.system_id = w.system_id AND e.ts >= w.from_ts AND e.ts < w.to_ts)`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan windows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
