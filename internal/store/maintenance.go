package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/model"
)

// Hot tables and indexes touched by every pipeline tick; the
// maintenance scheduler keeps their statistics and indexes healthy.
var (
	vacuumTables = []string{
		"events", "event_scores", "message_templates",
		"windows", "meta_results", "effective_scores", "findings",
	}
	reindexIndexes = []string{
		"idx_events_system_ts",
		"idx_event_scores_score",
		"idx_findings_system_status",
	}
)

// EnsurePartitions creates monthly event partitions for the current
// month and monthsAhead future months. Returns the number created.
func (s *Store) EnsurePartitions(ctx context.Context, now time.Time, monthsAhead int) (int, error) {
	created := 0
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i <= monthsAhead; i++ {
		var madeNew bool
		err := s.db.GetContext(ctx, &madeNew,
			`SELECT ensure_events_partition($1)`, month.AddDate(0, i, 0))
		if err != nil {
			return created, fmt.Errorf("failed to ensure partition for %s: %w",
				month.AddDate(0, i, 0).Format("2006-01"), err)
		}
		if madeNew {
			created++
		}
	}
	return created, nil
}

// PartitionName returns the monthly partition name for a timestamp.
func PartitionName(t time.Time) string {
	return fmt.Sprintf("events_y%04dm%02d", t.Year(), int(t.Month()))
}

// DropExpiredPartitions drops monthly partitions whose entire range
// lies before cutoff. The drop itself is metadata-only DDL; the row
// count is read beforehand for the maintenance log.
func (s *Store) DropExpiredPartitions(ctx context.Context, cutoff time.Time) (dropped int, deletedEvents int64, err error) {
	var names []string
	err = s.db.SelectContext(ctx, &names, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		WHERE p.relname = 'events'
		ORDER BY c.relname`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list event partitions: %w", err)
	}

	for _, name := range names {
		var year, month int
		if _, err := fmt.Sscanf(name, "events_y%4dm%2d", &year, &month); err != nil {
			s.logger.Warn("Skipping unrecognized partition name", zap.String("partition", name))
			continue
		}
		partEnd := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		if partEnd.After(cutoff) {
			continue
		}

		var rows int64
		if err := s.db.GetContext(ctx, &rows, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, name)); err != nil {
			return dropped, deletedEvents, fmt.Errorf("failed to count partition %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %q`, name)); err != nil {
			return dropped, deletedEvents, fmt.Errorf("failed to drop partition %s: %w", name, err)
		}

		dropped++
		deletedEvents += rows
		s.logger.Info("Dropped expired event partition",
			zap.String("partition", name), zap.Int64("rows", rows))
	}
	return dropped, deletedEvents, nil
}

// VacuumTables runs VACUUM ANALYZE over the hot tables. Failures are
// collected, not fatal.
func (s *Store) VacuumTables(ctx context.Context) []error {
	var errs []error
	for _, table := range vacuumTables {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`VACUUM ANALYZE %q`, table)); err != nil {
			errs = append(errs, fmt.Errorf("vacuum %s: %w", table, err))
		}
	}
	return errs
}

// ReindexIndexes rebuilds the hot indexes, concurrently where the
// backend supports it, falling back to a blocking REINDEX.
func (s *Store) ReindexIndexes(ctx context.Context) []error {
	var errs []error
	for _, index := range reindexIndexes {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`REINDEX INDEX CONCURRENTLY %q`, index))
		if err != nil {
			s.logger.Debug("Concurrent reindex failed, falling back to blocking reindex",
				zap.String("index", index), zap.Error(err))
			if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`REINDEX INDEX %q`, index)); err != nil {
				errs = append(errs, fmt.Errorf("reindex %s: %w", index, err))
			}
		}
	}
	return errs
}

// InsertMaintenanceLog persists the summary of one maintenance run.
func (s *Store) InsertMaintenanceLog(ctx context.Context, l *model.MaintenanceLog) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO maintenance_log (started_at, finished_at, deleted_events, deleted_scores,
		                             created_partitions, dropped_partitions, deleted_windows,
		                             deleted_templates, backup_file, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		l.StartedAt, l.FinishedAt, l.DeletedEvents, l.DeletedScores,
		l.CreatedPartitions, l.DroppedPartitions, l.DeletedWindows,
		l.DeletedTemplates, l.BackupFile, l.Errors).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to insert maintenance log: %w", err)
	}
	return nil
}

// ListMaintenanceLogs returns the most recent maintenance runs.
func (s *Store) ListMaintenanceLogs(ctx context.Context, limit int) ([]model.MaintenanceLog, error) {
	var logs []model.MaintenanceLog
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, started_at, finished_at, deleted_events, deleted_scores,
		       created_partitions, dropped_partitions, deleted_windows,
		       deleted_templates, backup_file, errors
		FROM maintenance_log ORDER BY started_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list maintenance logs: %w", err)
	}
	return logs, nil
}
