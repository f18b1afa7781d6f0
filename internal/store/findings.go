package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/model"
)

const findingColumns = `id, system_id, fingerprint, text, criterion_slug, severity, original_severity,
	status, occurrence_count, consecutive_misses, first_seen_at, last_seen_at,
	acknowledged_at, resolved_at, resolution_evidence, key_event_ids`

// FindingTx is the finding write surface inside one serialized
// transaction. All mutations of a window's findings go through it.
type FindingTx struct {
	tx *sqlx.Tx
}

// WithFindingLock runs fn inside a transaction holding the per-system
// advisory lock, serializing finding writes so concurrent dedup cannot
// produce duplicate open findings.
func (s *Store) WithFindingLock(ctx context.Context, systemID uuid.UUID, fn func(ftx *FindingTx) error) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, systemID); err != nil {
			return fmt.Errorf("failed to acquire finding lock: %w", err)
		}
		return fn(&FindingTx{tx: tx})
	})
}

// ActiveFindings returns a system's open and acknowledged findings.
func (t *FindingTx) ActiveFindings(ctx context.Context, systemID uuid.UUID) ([]model.Finding, error) {
	var findings []model.Finding
	err := t.tx.SelectContext(ctx, &findings, `
		SELECT `+findingColumns+` FROM findings
		WHERE system_id = $1 AND status <> 'resolved'
		ORDER BY last_seen_at DESC`, systemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active findings: %w", err)
	}
	return findings, nil
}

// ResolvedFinding returns the most recently resolved finding with the
// given fingerprint since the cutoff, or nil.
func (t *FindingTx) ResolvedFinding(ctx context.Context, systemID uuid.UUID, fingerprint string, since time.Time) (*model.Finding, error) {
	var f model.Finding
	err := t.tx.GetContext(ctx, &f, `
		SELECT `+findingColumns+` FROM findings
		WHERE system_id = $1 AND fingerprint = $2 AND status = 'resolved' AND resolved_at >= $3
		ORDER BY resolved_at DESC LIMIT 1`, systemID, fingerprint, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up resolved finding: %w", err)
	}
	return &f, nil
}

// CountOpen returns the number of non-resolved findings for a system.
func (t *FindingTx) CountOpen(ctx context.Context, systemID uuid.UUID) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM findings WHERE system_id = $1 AND status <> 'resolved'`, systemID)
	if err != nil {
		return 0, fmt.Errorf("failed to count open findings: %w", err)
	}
	return n, nil
}

// Insert stores a new finding, assigning its ID.
func (t *FindingTx) Insert(ctx context.Context, f *model.Finding) error {
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO findings (system_id, fingerprint, text, criterion_slug, severity, original_severity,
		                      status, occurrence_count, consecutive_misses, first_seen_at, last_seen_at, key_event_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, '[]'::jsonb))
		RETURNING id`,
		f.SystemID, f.Fingerprint, f.Text, f.CriterionSlug, f.Severity, f.OriginalSeverity,
		f.Status, f.OccurrenceCount, f.ConsecutiveMisses, f.FirstSeenAt, f.LastSeenAt,
		f.KeyEventIDs).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}
	return nil
}

// UpdateRecurrence persists the recurrence-path mutations of a finding.
func (t *FindingTx) UpdateRecurrence(ctx context.Context, f *model.Finding) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE findings
		SET occurrence_count = $2, consecutive_misses = $3, last_seen_at = $4,
		    severity = $5, key_event_ids = COALESCE($6, '[]'::jsonb)
		WHERE id = $1`,
		f.ID, f.OccurrenceCount, f.ConsecutiveMisses, f.LastSeenAt, f.Severity, f.KeyEventIDs)
	if err != nil {
		return fmt.Errorf("failed to update finding: %w", err)
	}
	return nil
}

// IncrementMisses bumps consecutive_misses on every open finding not in
// observedIDs and returns the updated rows.
func (t *FindingTx) IncrementMisses(ctx context.Context, systemID uuid.UUID, observedIDs []int64) ([]model.Finding, error) {
	q := `UPDATE findings SET consecutive_misses = consecutive_misses + 1
	      WHERE system_id = ? AND status = 'open'`
	args := []interface{}{systemID}
	if len(observedIDs) > 0 {
		q += ` AND id NOT IN (?)`
		args = append(args, observedIDs)
	}
	q += ` RETURNING ` + findingColumns

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build miss update: %w", err)
	}

	var findings []model.Finding
	if err := t.tx.SelectContext(ctx, &findings, t.tx.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("failed to increment finding misses: %w", err)
	}
	return findings, nil
}

// Resolve transitions a finding to resolved with the given evidence.
func (t *FindingTx) Resolve(ctx context.Context, findingID int64, evidence *model.ResolutionEvidence, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE findings SET status = 'resolved', resolved_at = $2, resolution_evidence = $3
		WHERE id = $1`, findingID, at, evidence)
	if err != nil {
		return fmt.Errorf("failed to resolve finding: %w", err)
	}
	return nil
}

// ListFindings returns a system's findings, optionally filtered by status.
func (s *Store) ListFindings(ctx context.Context, systemID uuid.UUID, status model.FindingStatus, limit int) ([]model.Finding, error) {
	q := `SELECT ` + findingColumns + ` FROM findings WHERE system_id = $1`
	args := []interface{}{systemID}
	if status != "" {
		args = append(args, status)
		q += ` AND status = $2`
	}
	args = append(args, clampLimit(limit))
	q += fmt.Sprintf(` ORDER BY last_seen_at DESC LIMIT $%d`, len(args))

	var findings []model.Finding
	if err := s.db.SelectContext(ctx, &findings, q, args...); err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	return findings, nil
}

// GetFinding returns one finding by ID.
func (s *Store) GetFinding(ctx context.Context, id int64) (*model.Finding, error) {
	var f model.Finding
	err := s.db.GetContext(ctx, &f,
		`SELECT `+findingColumns+` FROM findings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewNotFound("finding", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load finding: %w", err)
	}
	return &f, nil
}

// AcknowledgeFinding transitions open -> acknowledged. Applying it to
// an already acknowledged finding is a no-op.
func (s *Store) AcknowledgeFinding(ctx context.Context, id int64) (*model.Finding, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE findings SET status = 'acknowledged', acknowledged_at = now()
		WHERE id = $1 AND status = 'open'`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge finding: %w", err)
	}
	return s.GetFinding(ctx, id)
}

// ReopenFinding transitions acknowledged or resolved back to open.
// Reopening an open finding is a no-op. Occurrence counts are
// preserved across reopen.
func (s *Store) ReopenFinding(ctx context.Context, id int64) (*model.Finding, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE findings
		SET status = 'open', acknowledged_at = NULL, resolved_at = NULL,
		    resolution_evidence = NULL, consecutive_misses = 0
		WHERE id = $1 AND status <> 'open'`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen finding: %w", err)
	}
	return s.GetFinding(ctx, id)
}
