// Package maintenance owns the periodic housekeeping of the event
// store: partition management, retention cleanup, orphan removal,
// VACUUM/REINDEX and scheduled database backups.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/metrics"
	"github.com/logwarden/logwarden/internal/model"
	"github.com/logwarden/logwarden/internal/sched"
	"github.com/logwarden/logwarden/internal/store"
)

// partitionsAhead is how many future monthly partitions are kept ready.
const partitionsAhead = 3

// Runner drives the maintenance schedule.
type Runner struct {
	store    *store.Store
	resolver *config.Resolver
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// gate holds pipeline ticks out of the backup phase.
	gate *sched.Gate

	cron *cron.Cron

	// mu prevents overlapping runs; a tick firing while the previous
	// run is active is skipped.
	mu         sync.Mutex
	lastRun    time.Time
	lastBackup time.Time
}

// NewRunner creates a maintenance runner. Call Start to begin the schedule.
func NewRunner(st *store.Store, resolver *config.Resolver, cfg *config.Config, gate *sched.Gate, m *metrics.Metrics, logger *zap.Logger) *Runner {
	return &Runner{
		store:    st,
		resolver: resolver,
		cfg:      cfg,
		gate:     gate,
		metrics:  m,
		logger:   logger.Named("maintenance"),
	}
}

// Start begins the hourly check. The check runs a full pass only when
// the configured interval has elapsed, so interval changes through the
// settings API apply without restart.
func (r *Runner) Start(ctx context.Context) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc("@hourly", func() {
		settings := r.resolver.Maintenance(ctx)
		interval := time.Duration(settings.IntervalHours) * time.Hour
		if interval <= 0 {
			interval = 6 * time.Hour
		}
		r.mu.Lock()
		due := time.Since(r.lastRun) >= interval
		r.mu.Unlock()
		if !due {
			return
		}
		if _, err := r.Run(ctx); err != nil {
			r.logger.Error("Maintenance run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	r.cron.Start()
	r.logger.Info("Maintenance scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Runner) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Run executes one full maintenance pass. Concurrent invocations are
// rejected; the caller sees the conflict, not a queued run.
func (r *Runner) Run(ctx context.Context) (*model.MaintenanceLog, error) {
	if !r.mu.TryLock() {
		return nil, fmt.Errorf("a maintenance run is already in progress")
	}
	defer r.mu.Unlock()

	settings := r.resolver.Maintenance(ctx)
	started := time.Now().UTC()
	log := &model.MaintenanceLog{StartedAt: started}
	var errs []string
	fail := func(stage string, err error) {
		errs = append(errs, fmt.Sprintf("%s: %v", stage, err))
		r.logger.Warn("Maintenance stage failed", zap.String("stage", stage), zap.Error(err))
	}

	// 1. Partition management: ensure current + future months exist,
	// drop partitions entirely past the global retention cutoff.
	created, err := r.store.EnsurePartitions(ctx, started, partitionsAhead)
	if err != nil {
		fail("ensure_partitions", err)
	}
	log.CreatedPartitions = created

	globalCutoff := started.AddDate(0, 0, -settings.DefaultRetentionDays)
	dropped, droppedEvents, err := r.store.DropExpiredPartitions(ctx, globalCutoff)
	if err != nil {
		fail("drop_partitions", err)
	}
	log.DroppedPartitions = dropped
	log.DeletedEvents += droppedEvents

	// 2. Per-system retention, failures isolated per system.
	systems, err := r.store.ListSystems(ctx, false)
	if err != nil {
		fail("list_systems", err)
	}
	for i := range systems {
		sys := &systems[i]
		cutoff := started.AddDate(0, 0, -sys.Retention(settings.DefaultRetentionDays))
		res, err := r.store.DeleteOldEvents(ctx, sys.ID, cutoff)
		log.DeletedEvents += res.DeletedEvents
		log.DeletedScores += res.DeletedScores
		if err != nil {
			fail("retention:"+sys.Name, err)
		}
	}

	// 3. Orphan cleanup.
	if n, err := r.store.DeleteOrphanWindows(ctx); err != nil {
		fail("orphan_windows", err)
	} else {
		log.DeletedWindows = n
	}
	if n, err := r.store.DeleteOrphanTemplates(ctx); err != nil {
		fail("orphan_templates", err)
	} else {
		log.DeletedTemplates = n
	}

	// 4. VACUUM ANALYZE, 5. REINDEX. Logged, never fatal.
	for _, err := range r.store.VacuumTables(ctx) {
		fail("vacuum", err)
	}
	for _, err := range r.store.ReindexIndexes(ctx) {
		fail("reindex", err)
	}

	// 6. Backup when enabled and the backup interval has elapsed.
	if settings.BackupEnabled {
		backupInterval := time.Duration(settings.BackupIntervalHours) * time.Hour
		if backupInterval <= 0 {
			backupInterval = 24 * time.Hour
		}
		if time.Since(r.lastBackup) >= backupInterval {
			result := r.RunBackup(ctx, settings)
			if result.Success {
				log.BackupFile = result.File
				r.lastBackup = time.Now().UTC()
			} else {
				fail("backup", fmt.Errorf("%s", result.Error))
			}
		}
	}

	log.FinishedAt = time.Now().UTC()
	log.Errors = errs
	if err := r.store.InsertMaintenanceLog(ctx, log); err != nil {
		r.logger.Error("Failed to persist maintenance log", zap.Error(err))
	}

	r.lastRun = log.FinishedAt
	r.metrics.RecordStageDuration("maintenance", log.FinishedAt.Sub(started))
	r.logger.Info("Maintenance run completed",
		zap.Duration("duration", log.FinishedAt.Sub(started)),
		zap.Int64("deleted_events", log.DeletedEvents),
		zap.Int64("deleted_scores", log.DeletedScores),
		zap.Int("created_partitions", log.CreatedPartitions),
		zap.Int("dropped_partitions", log.DroppedPartitions),
		zap.Int("errors", len(errs)))
	return log, nil
}
