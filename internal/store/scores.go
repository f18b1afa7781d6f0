package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/logwarden/logwarden/internal/model"
)

// InsertEventScores writes score rows. Conflicts on (event_id,
// criterion_id) are ignored so replayed batches stay idempotent.
func (s *Store) InsertEventScores(ctx context.Context, scores []model.EventScore) error {
	if len(scores) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO event_scores (event_id, criterion_id, score, score_type, severity_label, reason_codes)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_id, criterion_id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to prepare score insert: %w", err)
		}
		defer stmt.Close()

		for _, sc := range scores {
			if _, err := stmt.ExecContext(ctx, sc.EventID, sc.CriterionID, sc.Score,
				sc.ScoreType, sc.SeverityLabel, sc.ReasonCodes); err != nil {
				return fmt.Errorf("failed to insert event score: %w", err)
			}
		}
		return nil
	})
}

// ZeroEventScores sets every score of the given events to 0 in one
// transaction. Returns the number of updated rows.
func (s *Store) ZeroEventScores(ctx context.Context, eventIDs []int64) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In(`UPDATE event_scores SET score = 0 WHERE event_id IN (?) AND score <> 0`, eventIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to build zeroing query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to zero event scores: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteEventScoresForSystem removes the event-typed scores of a
// system's events newer than since, so a re-evaluation pass scores
// them again.
func (s *Store) DeleteEventScoresForSystem(ctx context.Context, systemID uuid.UUID, since time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM event_scores sc
		USING events e
		WHERE e.id = sc.event_id AND e.system_id = $1 AND e.ts >= $2 AND sc.score_type = 'event'`,
		systemID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to delete event scores: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MaxEventScores returns, per criterion, the max event-typed score of a
// system's events in [from, to), excluding the given event IDs
// (suppressor matches). Criteria with no scored events map to 0.
func (s *Store) MaxEventScores(ctx context.Context, systemID uuid.UUID, from, to time.Time, excludeEventIDs []int64) (map[int]float64, error) {
	q := `
		SELECT s.criterion_id, MAX(s.score) AS score
		FROM event_scores s
		JOIN events e ON e.id = s.event_id
		WHERE e.system_id = ? AND e.ts >= ? AND e.ts < ? AND s.score_type = 'event'`
	args := []interface{}{systemID, from, to}
	if len(excludeEventIDs) > 0 {
		q += ` AND s.event_id NOT IN (?)`
		args = append(args, excludeEventIDs)
	}
	q += ` GROUP BY s.criterion_id`

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build max score query: %w", err)
	}

	rows := []struct {
		CriterionID int     `db:"criterion_id"`
		Score       float64 `db:"score"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("failed to load max event scores: %w", err)
	}

	out := make(map[int]float64, len(model.Criteria))
	for _, crit := range model.Criteria {
		out[crit.ID] = 0
	}
	for _, r := range rows {
		out[r.CriterionID] = r.Score
	}
	return out, nil
}

// GroupedScoresParams narrows the grouped event-score view.
type GroupedScoresParams struct {
	SystemID         uuid.UUID
	CriterionID      int
	MinScore         float64
	ShowAcknowledged bool
	Limit            int
}

// GroupedScores returns the grouped dashboard rows for one criterion:
// events sharing a template collapse into one row keyed by template ID;
// template-less events stay singletons keyed by their negated event ID.
func (s *Store) GroupedScores(ctx context.Context, p GroupedScoresParams) ([]model.GroupedScore, error) {
	ackFilter := ``
	if !p.ShowAcknowledged {
		ackFilter = `AND e.acknowledged_at IS NULL`
	}

	q := fmt.Sprintf(`
		SELECT COALESCE(e.template_id, -e.id) AS group_key,
		       MAX(e.message) AS message,
		       COUNT(*) AS occurrence_count,
		       MIN(e.ts) AS first_seen,
		       MAX(e.ts) AS last_seen,
		       jsonb_agg(DISTINCT e.host) FILTER (WHERE e.host <> '') AS hosts,
		       jsonb_agg(DISTINCT e.source_ip) FILTER (WHERE e.source_ip <> '') AS source_ips,
		       MAX(e.program) AS program,
		       MAX(e.severity) AS severity,
		       c.slug AS criterion_slug,
		       MAX(sc.score) AS score,
		       MAX(sc.severity_label) AS severity_label,
		       (array_agg(sc.reason_codes ORDER BY sc.score DESC))[1] AS reason_codes,
		       bool_and(e.acknowledged_at IS NOT NULL) AS acknowledged
		FROM events e
		JOIN event_scores sc ON sc.event_id = e.id
		JOIN criteria c ON c.id = sc.criterion_id
		WHERE e.system_id = $1 AND sc.criterion_id = $2 AND sc.score >= $3 %s
		GROUP BY group_key, c.slug
		ORDER BY score DESC, last_seen DESC
		LIMIT $4`, ackFilter)

	var rows []model.GroupedScore
	if err := s.db.SelectContext(ctx, &rows, q,
		p.SystemID, p.CriterionID, p.MinScore, clampLimit(p.Limit)); err != nil {
		return nil, fmt.Errorf("failed to load grouped scores: %w", err)
	}
	return rows, nil
}

// GroupEvents returns the individual scored events behind one grouped
// row, newest first.
func (s *Store) GroupEvents(ctx context.Context, systemID uuid.UUID, groupKey int64, criterionID, limit int) ([]ScoredEvent, error) {
	keyClause := `e.template_id = $2`
	key := groupKey
	if groupKey < 0 {
		keyClause = `e.id = $2`
		key = -groupKey
	}

	var events []ScoredEvent
	err := s.db.SelectContext(ctx, &events, fmt.Sprintf(`
		SELECT `+eventColumns+`, sc.score AS max_score
		FROM events e
		JOIN event_scores sc ON sc.event_id = e.id
		WHERE e.system_id = $1 AND %s AND sc.criterion_id = $3
		ORDER BY e.ts DESC
		LIMIT $4`, keyClause), systemID, key, criterionID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to load group events: %w", err)
	}
	return events, nil
}
