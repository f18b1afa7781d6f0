package template

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/model"
)

// Store is the persistence surface the cache manager needs.
type Store interface {
	// FindTemplate returns the template for (system, fingerprint), or
	// nil when none exists.
	FindTemplate(ctx context.Context, systemID uuid.UUID, fingerprint string) (*model.MessageTemplate, error)
	InsertTemplate(ctx context.Context, t *model.MessageTemplate) (int64, error)
	UpdateTemplateScores(ctx context.Context, id int64, vec model.ScoreVector, avgMax float64, count int, scoredAt time.Time) error
	FlushTemplateScores(ctx context.Context) (int64, error)
}

// systemCache holds the per-system fingerprint index. Readers take
// lock-free snapshots; writers rebuild the map under the mutex.
type systemCache struct {
	mu   sync.Mutex
	snap atomic.Value // map[string]*model.MessageTemplate
}

func (c *systemCache) snapshot() map[string]*model.MessageTemplate {
	if m, ok := c.snap.Load().(map[string]*model.MessageTemplate); ok {
		return m
	}
	return nil
}

// replaceLocked installs a copy-on-write snapshot with t added or
// replaced. Caller must hold c.mu.
func (c *systemCache) replaceLocked(t *model.MessageTemplate) {
	old := c.snapshot()
	next := make(map[string]*model.MessageTemplate, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[t.Fingerprint] = t
	c.snap.Store(next)
}

// Manager is the content-addressed template score cache. One instance
// is shared by the scoring loop and the HTTP surface.
type Manager struct {
	store Store

	mu      sync.Mutex
	systems map[uuid.UUID]*systemCache
}

// NewManager creates a template cache manager.
func NewManager(store Store) *Manager {
	return &Manager{
		store:   store,
		systems: make(map[uuid.UUID]*systemCache),
	}
}

func (m *Manager) system(id uuid.UUID) *systemCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.systems[id]
	if !ok {
		c = &systemCache{}
		m.systems[id] = c
	}
	return c
}

// Resolve returns the template for an event's message, inserting a new
// template row on first sight. The returned template may carry a cached
// score vector; callers decide freshness via Fresh.
func (m *Manager) Resolve(ctx context.Context, ev *model.Event, maxLen int) (*model.MessageTemplate, error) {
	pattern := Canonicalize(ev.Message, maxLen)
	fp := Fingerprint(pattern)

	c := m.system(ev.SystemID)
	if t, ok := c.snapshot()[fp]; ok {
		return t, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check after acquiring the write lock.
	if t, ok := c.snapshot()[fp]; ok {
		return t, nil
	}

	t, err := m.store.FindTemplate(ctx, ev.SystemID, fp)
	if err != nil {
		return nil, fmt.Errorf("template lookup failed: %w", err)
	}
	if t == nil {
		t = &model.MessageTemplate{
			SystemID:    ev.SystemID,
			Fingerprint: fp,
			Pattern:     pattern,
			CreatedAt:   time.Now().UTC(),
		}
		id, err := m.store.InsertTemplate(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("template insert failed: %w", err)
		}
		t.ID = id
	}

	c.replaceLocked(t)
	return t, nil
}

// Fresh reports whether the template's cached vector may be reused.
func Fresh(t *model.MessageTemplate, ttl time.Duration, now time.Time) bool {
	if t == nil || t.CachedScores == nil || t.LastScoredAt == nil {
		return false
	}
	return now.Sub(*t.LastScoredAt) < ttl
}

// LowInterest reports whether the template qualifies for the low-score
// auto-skip: enough observations, consistently low max scores.
func LowInterest(t *model.MessageTemplate, opts config.TokenOptSettings) bool {
	if t == nil || !opts.LowScoreSkipEnabled {
		return false
	}
	return t.ScoringCount >= opts.LowScoreMinScorings && t.AvgMaxScore < opts.LowScoreThreshold
}

// RecordScores stores a freshly scored vector on the template and
// updates the running average of per-observation max scores.
func (m *Manager) RecordScores(ctx context.Context, t *model.MessageTemplate, vec model.ScoreVector, now time.Time) error {
	maxScore := vec.Scores.Max()
	newCount := t.ScoringCount + 1
	newAvg := t.AvgMaxScore + (maxScore-t.AvgMaxScore)/float64(newCount)

	if err := m.store.UpdateTemplateScores(ctx, t.ID, vec, newAvg, newCount, now); err != nil {
		return fmt.Errorf("template score update failed: %w", err)
	}

	updated := *t
	updated.CachedScores = vec.Scores
	updated.CachedSeverityLabel = vec.SeverityLabel
	updated.CachedReasonCodes = vec.ReasonCodes
	updated.LastScoredAt = &now
	updated.AvgMaxScore = newAvg
	updated.ScoringCount = newCount

	c := m.system(t.SystemID)
	c.mu.Lock()
	c.replaceLocked(&updated)
	c.mu.Unlock()

	// Keep the caller's view current as well.
	*t = updated
	return nil
}

// Flush clears every cached vector (operator-triggered) and drops all
// in-memory snapshots. Returns the number of templates flushed.
func (m *Manager) Flush(ctx context.Context) (int64, error) {
	n, err := m.store.FlushTemplateScores(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache flush failed: %w", err)
	}
	m.InvalidateAll()
	return n, nil
}

// Invalidate drops the in-memory snapshot for one system. Used after
// retroactive suppression updates and template deletions.
func (m *Manager) Invalidate(systemID uuid.UUID) {
	m.mu.Lock()
	delete(m.systems, systemID)
	m.mu.Unlock()
}

// InvalidateAll drops every in-memory snapshot.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	m.systems = make(map[uuid.UUID]*systemCache)
	m.mu.Unlock()
}
