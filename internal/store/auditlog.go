package store

import (
	"context"
	"fmt"

	"github.com/logwarden/logwarden/internal/audit"
)

// InsertAuditEntry appends one row to the durable audit trail.
func (s *Store) InsertAuditEntry(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, operation, resource, resource_id, principal,
		                       success, duration_ms, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Timestamp, e.Operation, e.Resource, e.ResourceID, e.Principal,
		e.Success, e.Duration.Milliseconds(), e.ErrorMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}
