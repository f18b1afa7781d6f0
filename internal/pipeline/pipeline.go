// Package pipeline drives the periodic analysis: per-system event
// scoring, window meta-analysis, effective-score aggregation and
// finding reconciliation. One scheduler goroutine owns the tick loop;
// per-system work fans out to a bounded worker pool.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/findings"
	"github.com/logwarden/logwarden/internal/metrics"
	"github.com/logwarden/logwarden/internal/model"
	"github.com/logwarden/logwarden/internal/sched"
	"github.com/logwarden/logwarden/internal/store"
	"github.com/logwarden/logwarden/internal/suppress"
	"github.com/logwarden/logwarden/internal/template"
)

// Scorer is the LLM surface the pipeline calls.
type Scorer interface {
	ScoreBatch(ctx context.Context, systemID uuid.UUID, runType string, events []model.Event, criteria []model.Criterion) ([]model.ScoreVector, error)
	MetaAnalyze(ctx context.Context, systemID uuid.UUID, windowEvents []model.Event, priors []model.MetaResult, maxContextTokens int) (*model.MetaResult, error)
}

// Pipeline owns the scoring and meta-analysis loops.
type Pipeline struct {
	store      *store.Store
	resolver   *config.Resolver
	scorer     Scorer
	templates  *template.Manager
	suppressor *suppress.Suppressor
	engine     *findings.Engine
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// gate keeps ticks out of the database backup phase.
	gate *sched.Gate

	jobs *jobManager

	// Backpressure state, owned by the scheduler goroutine.
	concurrency int
	cleanTicks  int
	sawErrors   bool
	errMu       sync.Mutex
}

// New wires a pipeline. Call Run to start the tick loop.
func New(st *store.Store, resolver *config.Resolver, scorer Scorer, templates *template.Manager,
	suppressor *suppress.Suppressor, engine *findings.Engine, gate *sched.Gate, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:      st,
		resolver:   resolver,
		scorer:     scorer,
		templates:  templates,
		suppressor: suppressor,
		engine:     engine,
		gate:       gate,
		metrics:    m,
		logger:     logger.Named("pipeline"),
		jobs:       newJobManager(),
	}
}

// Run drives the pipeline until ctx is cancelled. The interval is
// re-resolved every tick so config changes apply without restart.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("Pipeline scheduler started")
	for {
		cfg := p.resolver.Pipeline(ctx)
		interval := time.Duration(cfg.IntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		select {
		case <-ctx.Done():
			p.logger.Info("Pipeline scheduler stopped")
			return
		case <-time.After(interval):
		}

		p.Tick(ctx)
	}
}

// Tick runs one full pipeline pass: scoring then meta for every active
// system, fanned out up to the backpressure-adjusted concurrency.
// A failure on one system never blocks the others. Ticks never overlap
// the database backup; a tick arriving mid-backup waits.
func (p *Pipeline) Tick(ctx context.Context) {
	p.gate.Enter()
	defer p.gate.Leave()

	start := time.Now()
	cfg := p.resolver.Pipeline(ctx)

	systems, err := p.store.ListSystems(ctx, true)
	if err != nil {
		p.logger.Error("Failed to list systems for pipeline tick", zap.Error(err))
		return
	}
	if len(systems) == 0 {
		return
	}

	limit := p.adjustConcurrency(cfg.MaxParallelSystems)
	p.metrics.SetConcurrency(limit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range systems {
		sys := systems[i]
		g.Go(func() error {
			// Scoring precedes meta-analysis within one system.
			if err := p.runScoring(gctx, &sys); err != nil {
				p.noteSystemError(&sys, "scoring", err)
			} else if err := p.runMeta(gctx, &sys); err != nil {
				p.noteSystemError(&sys, "meta", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.metrics.RecordStageDuration("scoring", time.Since(start))
	p.logger.Debug("Pipeline tick completed",
		zap.Int("systems", len(systems)),
		zap.Duration("duration", time.Since(start)))
}

func (p *Pipeline) noteSystemError(sys *model.MonitoredSystem, stage string, err error) {
	p.errMu.Lock()
	p.sawErrors = true
	p.errMu.Unlock()
	p.metrics.RecordDeferred(stage)
	p.logger.Warn("Pipeline stage failed for system, continuing with others",
		zap.String("system", sys.Name), zap.String("stage", stage), zap.Error(err))
}

// adjustConcurrency applies the backpressure policy: halve after a tick
// with transport errors, double back after two clean ticks, capped at
// the configured ceiling.
func (p *Pipeline) adjustConcurrency(ceiling int) int {
	if ceiling <= 0 {
		ceiling = 1
	}
	if p.concurrency <= 0 {
		p.concurrency = ceiling
	}

	p.errMu.Lock()
	sawErrors := p.sawErrors
	p.sawErrors = false
	p.errMu.Unlock()

	if sawErrors {
		p.cleanTicks = 0
		p.concurrency = p.concurrency / 2
		if p.concurrency < 1 {
			p.concurrency = 1
		}
	} else {
		p.cleanTicks++
		if p.cleanTicks >= 2 && p.concurrency < ceiling {
			p.cleanTicks = 0
			p.concurrency *= 2
		}
	}
	if p.concurrency > ceiling {
		p.concurrency = ceiling
	}
	return p.concurrency
}
