package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/model"
	"github.com/logwarden/logwarden/internal/template"
)

// group collects the events of one scoring pass sharing a template.
type group struct {
	template *model.MessageTemplate
	events   []model.Event
}

// runScoring executes one scoring pass for a system: select unscored
// events oldest first, zero out suppressed and severity-filtered ones,
// serve fresh template caches, and batch the rest to the LLM.
func (p *Pipeline) runScoring(ctx context.Context, sys *model.MonitoredSystem) error {
	return p.scoreSystem(ctx, sys, model.RunTypeScoring)
}

func (p *Pipeline) scoreSystem(ctx context.Context, sys *model.MonitoredSystem, runType string) error {
	cfg := p.resolver.Pipeline(ctx)
	tokenOpt := p.resolver.TokenOpt(ctx)
	now := time.Now().UTC()

	events, err := p.store.UnscoredEvents(ctx, sys.ID, cfg.ScoringLimitPerRun)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	// Suppressor matches never reach the LLM; their scores are zero.
	matched, rest := p.suppressor.FilterMatching(events)
	if len(matched) > 0 {
		if err := p.writeZeroScores(ctx, matched); err != nil {
			return err
		}
		p.metrics.RecordSuppressed(len(matched))
	}

	// Severity-filtered events are assigned zero without an LLM call.
	if cfg.SeverityFilterEnabled && len(cfg.SkipSeverities) > 0 {
		skip := make(map[string]bool, len(cfg.SkipSeverities))
		for _, s := range cfg.SkipSeverities {
			skip[s] = true
		}
		var kept, skipped []model.Event
		for _, ev := range rest {
			if skip[ev.Severity] {
				skipped = append(skipped, ev)
			} else {
				kept = append(kept, ev)
			}
		}
		if len(skipped) > 0 {
			if err := p.writeZeroScores(ctx, skipped); err != nil {
				return err
			}
		}
		rest = kept
	}
	if len(rest) == 0 {
		return nil
	}

	groups, err := p.groupByTemplate(ctx, rest, tokenOpt.MessageMaxLength)
	if err != nil {
		return err
	}

	ttl := time.Duration(tokenOpt.ScoreCacheTTLMinutes) * time.Minute
	fromCache := 0
	var misses []*group

	for _, g := range groups {
		t := g.template
		cacheable := template.Fresh(t, ttl, now) ||
			(template.LowInterest(t, tokenOpt) && t.CachedScores != nil)
		if cacheable {
			if err := p.store.InsertEventScores(ctx, scoreRows(g.events, cachedVector(t))); err != nil {
				return err
			}
			fromCache += len(g.events)
			continue
		}
		misses = append(misses, g)
	}

	fromLLM := 0
	batchSize := cfg.ScoringBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	// One representative event per template; fresh vectors fan out to
	// the whole group.
	for start := 0; start < len(misses); start += batchSize {
		end := start + batchSize
		if end > len(misses) {
			end = len(misses)
		}
		batch := misses[start:end]

		reps := make([]model.Event, len(batch))
		for i, g := range batch {
			reps[i] = g.events[0]
		}

		vectors, err := p.scorer.ScoreBatch(ctx, sys.ID, runType, reps, model.Criteria)
		if err != nil {
			// Unscored events stay unscored and retry next tick.
			return fmt.Errorf("scoring batch for %s: %w", sys.Name, err)
		}

		for i, g := range batch {
			if err := p.templates.RecordScores(ctx, g.template, vectors[i], now); err != nil {
				p.logger.Warn("Failed to update template cache",
					zap.Int64("template_id", g.template.ID), zap.Error(err))
			}
			if err := p.store.InsertEventScores(ctx, scoreRows(g.events, vectors[i])); err != nil {
				return err
			}
			fromLLM += len(g.events)
		}
	}

	p.metrics.RecordScored(fromLLM, fromCache)
	if fromLLM+fromCache > 0 {
		p.logger.Debug("Scoring pass completed",
			zap.String("system", sys.Name),
			zap.Int("from_llm", fromLLM),
			zap.Int("from_cache", fromCache),
			zap.Int("suppressed", len(matched)))
	}
	return nil
}

// groupByTemplate resolves each event's template and buckets events
// per template in first-seen order.
func (p *Pipeline) groupByTemplate(ctx context.Context, events []model.Event, maxLen int) ([]*group, error) {
	var ordered []*group
	byID := make(map[int64]*group)

	for i := range events {
		ev := events[i]
		t, err := p.templates.Resolve(ctx, &ev, maxLen)
		if err != nil {
			return nil, err
		}
		if ev.TemplateID == nil || *ev.TemplateID != t.ID {
			if err := p.store.SetEventTemplate(ctx, ev.ID, t.ID); err != nil {
				return nil, err
			}
		}
		g, ok := byID[t.ID]
		if !ok {
			g = &group{template: t}
			byID[t.ID] = g
			ordered = append(ordered, g)
		}
		g.events = append(g.events, ev)
	}
	return ordered, nil
}

// cachedVector rebuilds the score vector a template was last scored
// with, so cache hits carry the same label and reason codes as the
// original scoring call.
func cachedVector(t *model.MessageTemplate) model.ScoreVector {
	vec := model.ScoreVector{
		Scores:        t.CachedScores,
		SeverityLabel: t.CachedSeverityLabel,
		ReasonCodes:   t.CachedReasonCodes,
	}
	if vec.SeverityLabel == "" {
		vec.SeverityLabel = string(model.SeverityInfo)
	}
	return vec
}

// writeZeroScores assigns a zero score for every criterion to the
// given events.
func (p *Pipeline) writeZeroScores(ctx context.Context, events []model.Event) error {
	zero := model.ScoreVector{
		Scores:        make(model.ScoreMap, len(model.Criteria)),
		SeverityLabel: string(model.SeverityInfo),
	}
	for _, crit := range model.Criteria {
		zero.Scores[crit.Slug] = 0
	}
	return p.store.InsertEventScores(ctx, scoreRows(events, zero))
}

// scoreRows expands one score vector into per-criterion rows for a set
// of events.
func scoreRows(events []model.Event, vec model.ScoreVector) []model.EventScore {
	rows := make([]model.EventScore, 0, len(events)*len(model.Criteria))
	for _, ev := range events {
		for _, crit := range model.Criteria {
			rows = append(rows, model.EventScore{
				EventID:       ev.ID,
				CriterionID:   crit.ID,
				Score:         vec.Scores[crit.Slug],
				ScoreType:     model.ScoreTypeEvent,
				SeverityLabel: vec.SeverityLabel,
				ReasonCodes:   vec.ReasonCodes,
			})
		}
	}
	return rows
}
