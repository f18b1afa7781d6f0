package store

import (
	"context"
	"fmt"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/model"
)

const normalColumns = `id, system_id, pattern_regex, host_pattern, program_pattern, enabled, created_at`

// ListNormalTemplates returns normal-behavior templates across all
// systems, optionally only enabled ones.
func (s *Store) ListNormalTemplates(ctx context.Context, enabledOnly bool) ([]model.NormalBehaviorTemplate, error) {
	q := `SELECT ` + normalColumns + ` FROM normal_behavior_templates`
	if enabledOnly {
		q += ` WHERE enabled`
	}
	q += ` ORDER BY created_at`

	var templates []model.NormalBehaviorTemplate
	if err := s.db.SelectContext(ctx, &templates, q); err != nil {
		return nil, fmt.Errorf("failed to list normal-behavior templates: %w", err)
	}
	return templates, nil
}

// InsertNormalTemplate stores a new normal-behavior template.
func (s *Store) InsertNormalTemplate(ctx context.Context, t *model.NormalBehaviorTemplate) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO normal_behavior_templates (system_id, pattern_regex, host_pattern, program_pattern, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		t.SystemID, t.PatternRegex, t.HostPattern, t.ProgramPattern, t.Enabled,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert normal-behavior template: %w", err)
	}
	return nil
}

// SetNormalTemplateEnabled toggles a template.
func (s *Store) SetNormalTemplateEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE normal_behavior_templates SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to toggle normal-behavior template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NewNotFound("normal-behavior template", fmt.Sprintf("%d", id))
	}
	return nil
}

// DeleteNormalTemplate removes a template.
func (s *Store) DeleteNormalTemplate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM normal_behavior_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete normal-behavior template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NewNotFound("normal-behavior template", fmt.Sprintf("%d", id))
	}
	return nil
}
