package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/findings"
	"github.com/logwarden/logwarden/internal/metrics"
	"github.com/logwarden/logwarden/internal/model"
	"github.com/logwarden/logwarden/internal/store"
	"github.com/logwarden/logwarden/internal/template"
)

// neutralSummary is the synthesized summary for windows with no
// notable activity.
const neutralSummary = "no notable activity"

// runMeta creates at most one new window for the system and analyzes
// it: select scored events, call the meta analyzer (or synthesize a
// neutral result), persist window + meta + effective scores atomically
// and reconcile findings.
func (p *Pipeline) runMeta(ctx context.Context, sys *model.MonitoredSystem) error {
	cfg := p.resolver.Meta(ctx)
	tokenOpt := p.resolver.TokenOpt(ctx)
	now := time.Now().UTC().Truncate(time.Minute)

	windowLen := time.Duration(cfg.WindowMinutes) * time.Minute
	if windowLen <= 0 {
		windowLen = 5 * time.Minute
	}

	last, err := p.store.LastWindow(ctx, sys.ID)
	if err != nil {
		return err
	}
	var from time.Time
	if last != nil {
		from = last.ToTS
	} else {
		from = now.Add(-windowLen)
	}
	to := from.Add(windowLen)
	if to.After(now) {
		// Window not complete yet.
		return nil
	}
	window := &model.Window{SystemID: sys.ID, FromTS: from, ToTS: to}

	scored, err := p.store.ScoredEventsInRange(ctx, sys.ID, from, to)
	if err != nil {
		return err
	}

	candidates, suppressedIDs := p.metaCandidates(ctx, scored, tokenOpt)

	meta, err := p.windowMeta(ctx, sys, candidates, cfg, tokenOpt, now)
	if err != nil {
		return fmt.Errorf("meta analysis for %s: %w", sys.Name, err)
	}

	effective, err := p.effectiveScores(ctx, sys, window, meta, cfg, suppressedIDs)
	if err != nil {
		return err
	}

	if err := p.store.CreateWindowWithMeta(ctx, window, meta, effective); err != nil {
		return err
	}

	return p.reconcileFindings(ctx, sys, window, meta, cfg, now)
}

// metaCandidates selects the meta-analysis input: suppressed events,
// zero-score events and events of low-interest templates stay out of
// the prompt. Suppressed event IDs are returned separately so the
// effective-score aggregation excludes them too.
func (p *Pipeline) metaCandidates(ctx context.Context, scored []store.ScoredEvent, tokenOpt config.TokenOptSettings) (candidates []store.ScoredEvent, suppressedIDs []int64) {
	for _, se := range scored {
		if p.suppressor.Matches(&se.Event) {
			suppressedIDs = append(suppressedIDs, se.ID)
			continue
		}
		if tokenOpt.FilterZeroScoreMetaEvents && se.MaxScore == 0 {
			continue
		}
		if tokenOpt.LowScoreSkipEnabled {
			t, err := p.templates.Resolve(ctx, &se.Event, tokenOpt.MessageMaxLength)
			if err != nil {
				// Keep the event; template bookkeeping must not drop input.
				p.logger.Warn("Template resolve failed during meta selection",
					zap.Int64("event_id", se.ID), zap.Error(err))
			} else if template.LowInterest(t, tokenOpt) {
				continue
			}
		}
		candidates = append(candidates, se)
	}
	return candidates, suppressedIDs
}

// windowMeta runs the meta analyzer, or synthesizes a neutral result
// without an LLM call when the window carries no signal.
func (p *Pipeline) windowMeta(ctx context.Context, sys *model.MonitoredSystem, candidates []store.ScoredEvent, cfg config.MetaSettings, tokenOpt config.TokenOptSettings, now time.Time) (*model.MetaResult, error) {
	if tokenOpt.SkipZeroScoreMeta && allZero(candidates) {
		return neutralMeta(now), nil
	}
	return p.analyzeWindow(ctx, sys, candidates, cfg, tokenOpt)
}

// allZero reports whether no candidate carries a positive score. An
// empty window is all zero.
func allZero(candidates []store.ScoredEvent) bool {
	for _, se := range candidates {
		if se.MaxScore > 0 {
			return false
		}
	}
	return true
}

// analyzeWindow caps and prioritizes the candidate events and runs the
// LLM meta analysis with the recent window summaries as context.
func (p *Pipeline) analyzeWindow(ctx context.Context, sys *model.MonitoredSystem, candidates []store.ScoredEvent, cfg config.MetaSettings, tokenOpt config.TokenOptSettings) (*model.MetaResult, error) {
	if tokenOpt.MetaPrioritizeHighScores {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].MaxScore > candidates[j].MaxScore
		})
	}
	if tokenOpt.MetaMaxEvents > 0 && len(candidates) > tokenOpt.MetaMaxEvents {
		candidates = candidates[:tokenOpt.MetaMaxEvents]
	}

	events := make([]model.Event, len(candidates))
	for i, se := range candidates {
		events[i] = se.Event
	}

	priors, err := p.store.PriorMetaResults(ctx, sys.ID, cfg.ContextWindowSize)
	if err != nil {
		return nil, err
	}

	return p.scorer.MetaAnalyze(ctx, sys.ID, events, priors, tokenOpt.MetaMaxContextTokens)
}

// neutralMeta synthesizes an all-zero meta result without an LLM call.
func neutralMeta(now time.Time) *model.MetaResult {
	scores := make(model.ScoreMap, len(model.Criteria))
	for _, crit := range model.Criteria {
		scores[crit.Slug] = 0
	}
	return &model.MetaResult{
		Summary:    neutralSummary,
		MetaScores: scores,
		CreatedAt:  now,
	}
}

// effectiveScores combines meta scores with per-criterion max event
// scores of the window, excluding suppressed events.
func (p *Pipeline) effectiveScores(ctx context.Context, sys *model.MonitoredSystem, w *model.Window, meta *model.MetaResult, cfg config.MetaSettings, suppressedIDs []int64) ([]model.EffectiveScore, error) {
	maxScores, err := p.store.MaxEventScores(ctx, sys.ID, w.FromTS, w.ToTS, suppressedIDs)
	if err != nil {
		return nil, err
	}
	return computeEffective(sys.ID, meta, maxScores, cfg.EffectiveScoreMetaWeight), nil
}

// computeEffective combines meta and per-criterion max event scores:
// effective = w*meta + (1-w)*maxEvent. Out-of-range weights fall back
// to the 0.7 default.
func computeEffective(systemID uuid.UUID, meta *model.MetaResult, maxScores map[int]float64, weight float64) []model.EffectiveScore {
	if weight < 0 || weight > 1 {
		weight = 0.7
	}
	rows := make([]model.EffectiveScore, 0, len(model.Criteria))
	for _, crit := range model.Criteria {
		metaScore := meta.MetaScores[crit.Slug]
		maxEvent := maxScores[crit.ID]
		rows = append(rows, model.EffectiveScore{
			SystemID:       systemID,
			CriterionID:    crit.ID,
			EffectiveValue: weight*metaScore + (1-weight)*maxEvent,
			MetaScore:      metaScore,
			MaxEventScore:  maxEvent,
		})
	}
	return rows
}

// reconcileFindings runs the finding engine over the window's emitted
// findings under the per-system advisory lock.
func (p *Pipeline) reconcileFindings(ctx context.Context, sys *model.MonitoredSystem, w *model.Window, meta *model.MetaResult, cfg config.MetaSettings, now time.Time) error {
	var result findings.Result
	err := p.store.WithFindingLock(ctx, sys.ID, func(ftx *store.FindingTx) error {
		var err error
		result, err = p.engine.Reconcile(ctx, ftx, sys.ID, w, meta.Findings, cfg, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("finding reconciliation for %s: %w", sys.Name, err)
	}

	p.metrics.RecordFindingAction(metrics.FindingCreated, result.Created)
	p.metrics.RecordFindingAction(metrics.FindingRecurred, result.Recurred)
	p.metrics.RecordFindingAction(metrics.FindingAutoResolved, result.AutoResolved)
	p.metrics.RecordFindingAction(metrics.FindingDropped, result.Dropped)

	if result.Created+result.Recurred+result.AutoResolved > 0 {
		p.logger.Info("Findings reconciled",
			zap.String("system", sys.Name),
			zap.Int64("window_id", w.ID),
			zap.Int("created", result.Created),
			zap.Int("recurred", result.Recurred),
			zap.Int("auto_resolved", result.AutoResolved),
			zap.Int("dropped", result.Dropped))
	}
	return nil
}
