package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/model"
)

const eventColumns = `id, system_id, ts, message, host, program, severity, service, facility,
	source_ip, trace_id, span_id, external_id, template_id, acknowledged_at, raw`

// List limits for event queries.
const (
	DefaultListLimit = 200
	MaxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// IngestEvents appends events, assigning IDs in place. Events carrying
// an external_id already present for their system are skipped, so
// re-delivery from an upstream shipper stays idempotent. Returns the
// number of stored rows.
func (s *Store) IngestEvents(ctx context.Context, events []model.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	seen, err := s.existingExternalIDs(ctx, events)
	if err != nil {
		return 0, err
	}

	stored := 0
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO events (system_id, ts, message, host, program, severity, service,
			                    facility, source_ip, trace_id, span_id, external_id, raw)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id`)
		if err != nil {
			return fmt.Errorf("failed to prepare ingest statement: %w", err)
		}
		defer stmt.Close()

		for i := range events {
			ev := &events[i]
			if ev.ExternalID != "" && seen[extKey{ev.SystemID, ev.ExternalID}] {
				continue
			}
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now().UTC()
			}
			err := stmt.QueryRowxContext(ctx,
				ev.SystemID, ev.Timestamp, ev.Message, ev.Host, ev.Program, ev.Severity,
				ev.Service, ev.Facility, ev.SourceIP, ev.TraceID, ev.SpanID, ev.ExternalID,
				ev.Raw).Scan(&ev.ID)
			if err != nil {
				return fmt.Errorf("failed to insert event: %w", err)
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

type extKey struct {
	systemID   uuid.UUID
	externalID string
}

// existingExternalIDs loads the (system, external_id) pairs of the
// batch that are already stored. The events table carries no global
// unique constraint across partitions, so dedup happens here.
func (s *Store) existingExternalIDs(ctx context.Context, events []model.Event) (map[extKey]bool, error) {
	bySystem := make(map[uuid.UUID][]string)
	for _, ev := range events {
		if ev.ExternalID != "" {
			bySystem[ev.SystemID] = append(bySystem[ev.SystemID], ev.ExternalID)
		}
	}
	seen := make(map[extKey]bool)
	for systemID, ids := range bySystem {
		q, args, err := sqlx.In(
			`SELECT external_id FROM events WHERE system_id = ? AND external_id IN (?)`,
			systemID, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to build dedup query: %w", err)
		}
		var existing []string
		if err := s.db.SelectContext(ctx, &existing, s.db.Rebind(q), args...); err != nil {
			return nil, fmt.Errorf("failed to check existing external ids: %w", err)
		}
		for _, id := range existing {
			seen[extKey{systemID, id}] = true
		}
	}
	return seen, nil
}

// ListEvents returns events of a system in [from, to), newest first,
// with optional field filters.
func (s *Store) ListEvents(ctx context.Context, systemID uuid.UUID, from, to time.Time, filter model.EventFilter) ([]model.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE system_id = $1 AND ts >= $2 AND ts < $3`
	args := []interface{}{systemID, from, to}

	add := func(clause, value string) {
		if value != "" {
			args = append(args, value)
			q += fmt.Sprintf(clause, len(args))
		}
	}
	add(` AND host = $%d`, filter.Host)
	add(` AND program = $%d`, filter.Program)
	add(` AND severity = $%d`, filter.Severity)
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		q += fmt.Sprintf(` AND message ILIKE $%d`, len(args))
	}

	args = append(args, clampLimit(filter.Limit), filter.Offset)
	q += fmt.Sprintf(` ORDER BY ts DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	var events []model.Event
	if err := s.db.SelectContext(ctx, &events, q, args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// GetEventsByIDs rehydrates events for evidence display. Missing IDs
// are silently absent from the result.
func (s *Store) GetEventsByIDs(ctx context.Context, ids []int64) ([]model.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT `+eventColumns+` FROM events WHERE id IN (?) ORDER BY ts`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build event lookup: %w", err)
	}
	var events []model.Event
	if err := s.db.SelectContext(ctx, &events, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}

// UnscoredEvents returns up to limit events of a system lacking any
// event-typed score row, oldest first so template first-seen counts
// stay stable.
func (s *Store) UnscoredEvents(ctx context.Context, systemID uuid.UUID, limit int) ([]model.Event, error) {
	var events []model.Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+` FROM events e
		WHERE e.system_id = $1
		  AND NOT EXISTS (SELECT 1 FROM event_scores s WHERE s.event_id = e.id)
		ORDER BY e.ts ASC
		LIMIT $2`, systemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select unscored events: %w", err)
	}
	return events, nil
}

// EventsForSystemSince pages a system's events by ascending ID,
// starting after afterID. Used by the retroactive suppression scan.
func (s *Store) EventsForSystemSince(ctx context.Context, systemID uuid.UUID, since time.Time, afterID int64, limit int) ([]model.Event, error) {
	var events []model.Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+` FROM events
		WHERE system_id = $1 AND ts >= $2 AND id > $3
		ORDER BY id ASC
		LIMIT $4`, systemID, since, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page events: %w", err)
	}
	return events, nil
}

// ScoredEvent is an event joined with its max event-typed score.
type ScoredEvent struct {
	model.Event
	MaxScore float64 `db:"max_score"`
}

// ScoredEventsInRange returns events of a system in [from, to) with
// their per-event max score, for meta-analysis input selection.
func (s *Store) ScoredEventsInRange(ctx context.Context, systemID uuid.UUID, from, to time.Time) ([]ScoredEvent, error) {
	var events []ScoredEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+`,
		       COALESCE((SELECT MAX(score) FROM event_scores s
		                 WHERE s.event_id = events.id AND s.score_type = 'event'), 0) AS max_score
		FROM events
		WHERE system_id = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC`, systemID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load window events: %w", err)
	}
	return events, nil
}

// SetEventTemplate links an event to its resolved message template.
func (s *Store) SetEventTemplate(ctx context.Context, eventID, templateID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET template_id = $2 WHERE id = $1`, eventID, templateID)
	if err != nil {
		return fmt.Errorf("failed to set event template: %w", err)
	}
	return nil
}

// AckSelector narrows an event acknowledge operation. At least one
// field must be set.
type AckSelector struct {
	SystemID *uuid.UUID
	GroupKey *int64 // template_id, or negated event ID for singletons
	EventIDs []int64
	UpTo     *time.Time
}

func (sel AckSelector) empty() bool {
	return sel.SystemID == nil && sel.GroupKey == nil && len(sel.EventIDs) == 0 && sel.UpTo == nil
}

// AcknowledgeEvents sets acknowledged_at on the selected events.
// Idempotent: already-acknowledged rows keep their original timestamp.
func (s *Store) AcknowledgeEvents(ctx context.Context, sel AckSelector) (int64, error) {
	if sel.empty() {
		return 0, apperr.NewInvalidInput("acknowledge requires a selector")
	}

	q := `UPDATE events SET acknowledged_at = now() WHERE acknowledged_at IS NULL`
	var args []interface{}
	if sel.SystemID != nil {
		q += ` AND system_id = ?`
		args = append(args, *sel.SystemID)
	}
	if sel.GroupKey != nil {
		// Negative group keys address singleton events by ID.
		if *sel.GroupKey < 0 {
			q += ` AND id = ?`
			args = append(args, -*sel.GroupKey)
		} else {
			q += ` AND template_id = ?`
			args = append(args, *sel.GroupKey)
		}
	}
	if sel.UpTo != nil {
		q += ` AND ts <= ?`
		args = append(args, *sel.UpTo)
	}
	if len(sel.EventIDs) > 0 {
		q += ` AND id IN (?)`
		args = append(args, sel.EventIDs)
	}

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to build acknowledge query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to acknowledge events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteOldEvents removes a system's events older than cutoff together
// with their scores. Work runs in chunks of 500 events, each chunk one
// transaction, so long retention passes never hold wide locks and a
// mid-pass failure leaves no orphan scores.
func (s *Store) DeleteOldEvents(ctx context.Context, systemID uuid.UUID, cutoff time.Time) (model.DeleteResult, error) {
	return s.deleteEventsWhere(ctx, `system_id = $1 AND ts < $2`, systemID, cutoff)
}

// BulkDelete removes events matching the selector. At least one of
// from, to, systemID must be set.
func (s *Store) BulkDelete(ctx context.Context, from, to *time.Time, systemID *uuid.UUID) (model.DeleteResult, error) {
	if from == nil && to == nil && systemID == nil {
		return model.DeleteResult{}, apperr.NewInvalidInput("bulk delete requires at least one of from, to, system_id")
	}

	where := `true`
	var args []interface{}
	if systemID != nil {
		args = append(args, *systemID)
		where += fmt.Sprintf(` AND system_id = $%d`, len(args))
	}
	if from != nil {
		args = append(args, *from)
		where += fmt.Sprintf(` AND ts >= $%d`, len(args))
	}
	if to != nil {
		args = append(args, *to)
		where += fmt.Sprintf(` AND ts < $%d`, len(args))
	}

	result, err := s.deleteEventsWhere(ctx, where, args...)
	if err != nil {
		return result, err
	}

	cleaned, err := s.DeleteOrphanWindows(ctx)
	if err != nil {
		return result, err
	}
	result.CleanedWindows = cleaned
	return result, nil
}

func (s *Store) deleteEventsWhere(ctx context.Context, where string, args ...interface{}) (model.DeleteResult, error) {
	var result model.DeleteResult
	selectQ := fmt.Sprintf(`SELECT id FROM events WHERE %s ORDER BY id LIMIT %d`, where, deleteChunkSize)

	for {
		var ids []int64
		if err := s.db.SelectContext(ctx, &ids, selectQ, args...); err != nil {
			return result, fmt.Errorf("failed to select events for deletion: %w", err)
		}
		if len(ids) == 0 {
			return result, nil
		}

		err := s.withTx(ctx, func(tx *sqlx.Tx) error {
			q, inArgs, err := sqlx.In(`DELETE FROM event_scores WHERE event_id IN (?)`, ids)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, tx.Rebind(q), inArgs...)
			if err != nil {
				return fmt.Errorf("failed to delete event scores: %w", err)
			}
			n, _ := res.RowsAffected()
			result.DeletedScores += n

			q, inArgs, err = sqlx.In(`DELETE FROM events WHERE id IN (?)`, ids)
			if err != nil {
				return err
			}
			res, err = tx.ExecContext(ctx, tx.Rebind(q), inArgs...)
			if err != nil {
				return fmt.Errorf("failed to delete events: %w", err)
			}
			n, _ = res.RowsAffected()
			result.DeletedEvents += n
			return nil
		})
		if err != nil {
			return result, err
		}

		if len(ids) < deleteChunkSize {
			return result, nil
		}
	}
}
