package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// GetAppConfig returns the stored raw JSON for a settings key, or nil
// when the key has never been written.
func (s *Store) GetAppConfig(ctx context.Context, key string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := s.db.GetContext(ctx, &raw, `SELECT value FROM app_config WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read app config %s: %w", key, err)
	}
	return raw, nil
}

// SetAppConfig upserts a settings value.
func (s *Store) SetAppConfig(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write app config %s: %w", key, err)
	}
	return nil
}
