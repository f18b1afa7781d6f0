package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/model"
)

const systemColumns = `id, name, event_source, retention_days, active, search_url, search_index, search_token, created_at`

// ListSystems returns registered systems, optionally only active ones.
func (s *Store) ListSystems(ctx context.Context, activeOnly bool) ([]model.MonitoredSystem, error) {
	q := `SELECT ` + systemColumns + ` FROM monitored_systems`
	if activeOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY name`

	var systems []model.MonitoredSystem
	if err := s.db.SelectContext(ctx, &systems, q); err != nil {
		return nil, fmt.Errorf("failed to list systems: %w", err)
	}
	return systems, nil
}

// GetSystem returns one system by ID.
func (s *Store) GetSystem(ctx context.Context, id uuid.UUID) (*model.MonitoredSystem, error) {
	var sys model.MonitoredSystem
	err := s.db.GetContext(ctx, &sys,
		`SELECT `+systemColumns+` FROM monitored_systems WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewNotFound("system", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load system: %w", err)
	}
	return &sys, nil
}

// CreateSystem registers a new monitored system.
func (s *Store) CreateSystem(ctx context.Context, sys *model.MonitoredSystem) error {
	return s.db.QueryRowxContext(ctx, `
		INSERT INTO monitored_systems (name, event_source, retention_days, active, search_url, search_index, search_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		sys.Name, sys.EventSource, sys.RetentionDays, sys.Active, sys.SearchURL, sys.SearchIndex, sys.SearchToken,
	).Scan(&sys.ID, &sys.CreatedAt)
}

// UpdateSystem updates the mutable fields of a system.
func (s *Store) UpdateSystem(ctx context.Context, sys *model.MonitoredSystem) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE monitored_systems
		SET name = $2, event_source = $3, retention_days = $4, active = $5,
		    search_url = $6, search_index = $7, search_token = $8
		WHERE id = $1`,
		sys.ID, sys.Name, sys.EventSource, sys.RetentionDays, sys.Active,
		sys.SearchURL, sys.SearchIndex, sys.SearchToken)
	if err != nil {
		return fmt.Errorf("failed to update system: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NewNotFound("system", sys.ID.String())
	}
	return nil
}

// DeleteSystem removes a system. Events, scores via cascade paths,
// templates, windows and findings go with it.
func (s *Store) DeleteSystem(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM monitored_systems WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete system: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NewNotFound("system", id.String())
	}
	return nil
}
