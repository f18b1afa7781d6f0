package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/logwarden/logwarden/internal/model"
)

const templateColumns = `id, system_id, fingerprint, pattern, cached_scores,
	cached_severity_label, cached_reason_codes, last_scored_at,
	avg_max_score, scoring_count, created_at`

// FindTemplate returns the template for (system, fingerprint), or nil
// when none exists.
func (s *Store) FindTemplate(ctx context.Context, systemID uuid.UUID, fingerprint string) (*model.MessageTemplate, error) {
	var t model.MessageTemplate
	err := s.db.GetContext(ctx, &t, `
		SELECT `+templateColumns+` FROM message_templates
		WHERE system_id = $1 AND fingerprint = $2`, systemID, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find template: %w", err)
	}
	return &t, nil
}

// InsertTemplate stores a new template row. On a concurrent insert of
// the same fingerprint the existing row's ID is returned.
func (s *Store) InsertTemplate(ctx context.Context, t *model.MessageTemplate) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO message_templates (system_id, fingerprint, pattern)
		VALUES ($1, $2, $3)
		ON CONFLICT (system_id, fingerprint) DO UPDATE SET pattern = EXCLUDED.pattern
		RETURNING id`, t.SystemID, t.Fingerprint, t.Pattern).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert template: %w", err)
	}
	return id, nil
}

// UpdateTemplateScores stores a freshly scored vector and the running
// average bookkeeping on a template.
func (s *Store) UpdateTemplateScores(ctx context.Context, id int64, vec model.ScoreVector, avgMax float64, count int, scoredAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE message_templates
		SET cached_scores = $2, cached_severity_label = $3, cached_reason_codes = $4,
		    last_scored_at = $5, avg_max_score = $6, scoring_count = $7
		WHERE id = $1`, id, vec.Scores, vec.SeverityLabel, model.StringList(vec.ReasonCodes),
		scoredAt, avgMax, count)
	if err != nil {
		return fmt.Errorf("failed to update template scores: %w", err)
	}
	return nil
}

// FlushTemplateScores clears every cached vector. Returns the number of
// flushed templates.
func (s *Store) FlushTemplateScores(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_templates
		SET cached_scores = NULL, cached_severity_label = '', cached_reason_codes = NULL,
		    last_scored_at = NULL
		WHERE cached_scores IS NOT NULL OR last_scored_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to flush template scores: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearTemplateScoresForSystem clears the cached vectors of one
// system's templates so its events are re-scored from scratch.
func (s *Store) ClearTemplateScoresForSystem(ctx context.Context, systemID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_templates
		SET cached_scores = NULL, cached_severity_label = '', cached_reason_codes = NULL,
		    last_scored_at = NULL
		WHERE system_id = $1 AND (cached_scores IS NOT NULL OR last_scored_at IS NOT NULL)`,
		systemID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear template scores: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteOrphanTemplates removes templates no live event references.
func (s *Store) DeleteOrphanTemplates(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM message_templates t
		WHERE NOT EXISTS (SELECT 1 FROM events e WHERE e.template_id = t.id)`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan templates: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
