package findings

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/model"
)

// keyEventCap bounds the evidence list carried on a finding.
const keyEventCap = 50

// Tx is the serialized finding write surface the engine reconciles
// through. One window's reconciliation runs inside one Tx.
type Tx interface {
	ActiveFindings(ctx context.Context, systemID uuid.UUID) ([]model.Finding, error)
	ResolvedFinding(ctx context.Context, systemID uuid.UUID, fingerprint string, since time.Time) (*model.Finding, error)
	CountOpen(ctx context.Context, systemID uuid.UUID) (int, error)
	Insert(ctx context.Context, f *model.Finding) error
	UpdateRecurrence(ctx context.Context, f *model.Finding) error
	IncrementMisses(ctx context.Context, systemID uuid.UUID, observedIDs []int64) ([]model.Finding, error)
	Resolve(ctx context.Context, findingID int64, evidence *model.ResolutionEvidence, at time.Time) error
}

// Result summarizes one window's reconciliation.
type Result struct {
	Created      int
	Recurred     int
	Recurring    int
	AutoResolved int
	Dropped      int
}

// Engine reconciles emitted findings against durable ones.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a finding engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("findings")}
}

// Reconcile processes one window's emitted findings. Emitted findings
// are handled highest severity first so the new-per-window cap keeps
// the most important ones. After matching, every open finding not
// re-observed this window accrues a miss, and findings past the miss
// threshold auto-resolve.
func (e *Engine) Reconcile(ctx context.Context, tx Tx, systemID uuid.UUID, window *model.Window, emitted []model.EmittedFinding, cfg config.MetaSettings, now time.Time) (Result, error) {
	var result Result

	ranked := make([]model.EmittedFinding, len(emitted))
	copy(ranked, emitted)
	// Rank 0 is critical; ascending order processes highest severity first.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Severity.Rank() < ranked[j].Severity.Rank()
	})

	active, err := tx.ActiveFindings(ctx, systemID)
	if err != nil {
		return result, err
	}
	openCount, err := tx.CountOpen(ctx, systemID)
	if err != nil {
		return result, err
	}

	var observedIDs []int64
	observed := make(map[int64]bool)

	for _, em := range ranked {
		fp := Fingerprint(em.Text)
		if fp == "" {
			continue
		}

		if match := matchActive(active, fp, cfg); match != nil {
			e.recur(match, em, window, cfg)
			if err := tx.UpdateRecurrence(ctx, match); err != nil {
				return result, err
			}
			if !observed[match.ID] {
				observed[match.ID] = true
				observedIDs = append(observedIDs, match.ID)
			}
			result.Recurred++
			continue
		}

		// A finding resolved within the lookback returning with the
		// same fingerprint is flagged as recurring, not silently new.
		text := em.Text
		since := now.AddDate(0, 0, -cfg.RecurringLookbackDays)
		prior, err := tx.ResolvedFinding(ctx, systemID, fp, since)
		if err != nil {
			return result, err
		}
		if prior != nil {
			text = "Recurring: " + em.Text
			result.Recurring++
		}

		if result.Created >= cfg.MaxNewFindingsPerWindow || openCount >= cfg.MaxOpenFindingsPerSystem {
			e.logger.Warn("Dropping emitted finding over cap",
				zap.String("system_id", systemID.String()),
				zap.String("severity", string(em.Severity)),
				zap.Int("open_count", openCount))
			result.Dropped++
			continue
		}

		f := &model.Finding{
			SystemID:         systemID,
			Fingerprint:      fp,
			Text:             text,
			CriterionSlug:    em.CriterionSlug,
			Severity:         em.Severity,
			OriginalSeverity: em.Severity,
			Status:           model.FindingOpen,
			OccurrenceCount:  1,
			FirstSeenAt:      window.ToTS,
			LastSeenAt:       window.ToTS,
			KeyEventIDs:      capIDs(em.KeyEventIDs, keyEventCap),
		}
		if err := tx.Insert(ctx, f); err != nil {
			return result, err
		}
		active = append(active, *f)
		observed[f.ID] = true
		observedIDs = append(observedIDs, f.ID)
		openCount++
		result.Created++
	}

	missed, err := tx.IncrementMisses(ctx, systemID, observedIDs)
	if err != nil {
		return result, err
	}
	if cfg.AutoResolveAfterMisses > 0 {
		for _, f := range missed {
			if f.ConsecutiveMisses < cfg.AutoResolveAfterMisses {
				continue
			}
			evidence := &model.ResolutionEvidence{
				Text: fmt.Sprintf("Auto-resolved after %d consecutive windows without recurrence", f.ConsecutiveMisses),
			}
			if err := tx.Resolve(ctx, f.ID, evidence, now); err != nil {
				return result, err
			}
			result.AutoResolved++
		}
	}

	return result, nil
}

// matchActive finds the active finding an emitted one belongs to: exact
// fingerprint first, then token-Jaccard similarity when dedup is on.
func matchActive(active []model.Finding, fp string, cfg config.MetaSettings) *model.Finding {
	for i := range active {
		if active[i].Fingerprint == fp {
			return &active[i]
		}
	}
	if !cfg.FindingDedupEnabled {
		return nil
	}
	var best *model.Finding
	bestScore := cfg.FindingDedupThreshold
	for i := range active {
		if score := Jaccard(fp, active[i].Fingerprint); score >= bestScore {
			best = &active[i]
			bestScore = score
		}
	}
	return best
}

// recur applies the recurrence-path mutations to a finding in place.
func (e *Engine) recur(f *model.Finding, em model.EmittedFinding, window *model.Window, cfg config.MetaSettings) {
	f.OccurrenceCount++
	f.ConsecutiveMisses = 0
	f.LastSeenAt = window.ToTS
	f.KeyEventIDs = capIDs(mergeIDs(f.KeyEventIDs, em.KeyEventIDs), keyEventCap)

	if cfg.SeverityDecayEnabled && f.OccurrenceCount >= cfg.SeverityDecayAfterOccurrences {
		f.Severity = f.Severity.Decay()
	}
}

func mergeIDs(existing model.Int64List, incoming []int64) model.Int64List {
	seen := make(map[int64]bool, len(existing))
	out := make(model.Int64List, 0, len(existing)+len(incoming))
	for _, id := range existing {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range incoming {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func capIDs(ids model.Int64List, limit int) model.Int64List {
	if len(ids) > limit {
		return ids[:limit]
	}
	return ids
}
