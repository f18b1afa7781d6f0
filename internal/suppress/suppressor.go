// Package suppress implements the normal-behavior suppression engine.
// Operator-supplied regex templates mark matching events as known
// normal: their scores are zeroed (retroactively and prospectively) and
// they are excluded from meta-analysis input.
package suppress

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/model"
)

// retroChunkSize bounds the per-transaction work of retroactive zeroing.
const retroChunkSize = 500

// Store is the persistence surface the suppressor needs.
type Store interface {
	ListNormalTemplates(ctx context.Context, enabledOnly bool) ([]model.NormalBehaviorTemplate, error)
	// EventsForSystemSince pages events by ascending ID, starting after afterID.
	EventsForSystemSince(ctx context.Context, systemID uuid.UUID, since time.Time, afterID int64, limit int) ([]model.Event, error)
	// ZeroEventScores sets every score of the given events to 0 in one transaction.
	ZeroEventScores(ctx context.Context, eventIDs []int64) (int64, error)
}

// compiledTemplate is one enabled template with its compiled regexes.
type compiledTemplate struct {
	id        int64
	msgRe     *regexp.Regexp
	hostRe    *regexp.Regexp // nil = match any host
	programRe *regexp.Regexp // nil = match any program
}

func (t *compiledTemplate) matches(ev *model.Event) bool {
	if !t.msgRe.MatchString(ev.Message) {
		return false
	}
	if t.hostRe != nil && !t.hostRe.MatchString(ev.Host) {
		return false
	}
	if t.programRe != nil && !t.programRe.MatchString(ev.Program) {
		return false
	}
	return true
}

// Suppressor holds the compiled per-system template index. Readers take
// lock-free snapshots; Rebuild swaps the whole index under a mutex.
type Suppressor struct {
	store  Store
	logger *zap.Logger

	mu   sync.Mutex
	snap atomic.Value // map[uuid.UUID][]*compiledTemplate
}

// New creates a suppressor; call Rebuild before first use.
func New(store Store, logger *zap.Logger) *Suppressor {
	s := &Suppressor{store: store, logger: logger.Named("suppress")}
	s.snap.Store(map[uuid.UUID][]*compiledTemplate{})
	return s
}

// Rebuild recompiles the index from all enabled templates. Called at
// startup and after any template add/delete/toggle. Templates with
// invalid regexes are skipped with a warning.
func (s *Suppressor) Rebuild(ctx context.Context) error {
	templates, err := s.store.ListNormalTemplates(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to load normal-behavior templates: %w", err)
	}

	index := make(map[uuid.UUID][]*compiledTemplate)
	for _, t := range templates {
		ct, err := compile(&t)
		if err != nil {
			s.logger.Warn("Skipping template with invalid regex",
				zap.Int64("template_id", t.ID), zap.Error(err))
			continue
		}
		index[t.SystemID] = append(index[t.SystemID], ct)
	}

	s.mu.Lock()
	s.snap.Store(index)
	s.mu.Unlock()

	s.logger.Debug("Suppressor index rebuilt", zap.Int("templates", len(templates)))
	return nil
}

func compile(t *model.NormalBehaviorTemplate) (*compiledTemplate, error) {
	msgRe, err := regexp.Compile(t.PatternRegex)
	if err != nil {
		return nil, fmt.Errorf("pattern_regex: %w", err)
	}
	ct := &compiledTemplate{id: t.ID, msgRe: msgRe}
	if t.HostPattern != "" {
		if ct.hostRe, err = regexp.Compile(t.HostPattern); err != nil {
			return nil, fmt.Errorf("host_pattern: %w", err)
		}
	}
	if t.ProgramPattern != "" {
		if ct.programRe, err = regexp.Compile(t.ProgramPattern); err != nil {
			return nil, fmt.Errorf("program_pattern: %w", err)
		}
	}
	return ct, nil
}

func (s *Suppressor) index() map[uuid.UUID][]*compiledTemplate {
	if m, ok := s.snap.Load().(map[uuid.UUID][]*compiledTemplate); ok {
		return m
	}
	return nil
}

// Matches reports whether any enabled template of the event's system
// matches the event.
func (s *Suppressor) Matches(ev *model.Event) bool {
	for _, t := range s.index()[ev.SystemID] {
		if t.matches(ev) {
			return true
		}
	}
	return false
}

// FilterMatching splits events into (suppressed, remaining).
func (s *Suppressor) FilterMatching(events []model.Event) (matched, rest []model.Event) {
	templates := s.index()
	for _, ev := range events {
		hit := false
		for _, t := range templates[ev.SystemID] {
			if t.matches(&ev) {
				hit = true
				break
			}
		}
		if hit {
			matched = append(matched, ev)
		} else {
			rest = append(rest, ev)
		}
	}
	return matched, rest
}

// ApplyRetroactive zeroes the scores of every existing event that the
// new template matches, bounded to lookbackDays, in chunks of 500
// events. Returns the number of zeroed score rows.
func (s *Suppressor) ApplyRetroactive(ctx context.Context, t *model.NormalBehaviorTemplate, lookbackDays int) (int64, error) {
	ct, err := compile(t)
	if err != nil {
		return 0, err
	}

	since := time.Now().UTC().AddDate(0, 0, -lookbackDays)
	var zeroed int64
	var afterID int64

	for {
		events, err := s.store.EventsForSystemSince(ctx, t.SystemID, since, afterID, retroChunkSize)
		if err != nil {
			return zeroed, fmt.Errorf("retroactive scan failed: %w", err)
		}
		if len(events) == 0 {
			return zeroed, nil
		}

		var ids []int64
		for _, ev := range events {
			afterID = ev.ID
			if ct.matches(&ev) {
				ids = append(ids, ev.ID)
			}
		}

		if len(ids) > 0 {
			n, err := s.store.ZeroEventScores(ctx, ids)
			if err != nil {
				return zeroed, fmt.Errorf("retroactive zeroing failed: %w", err)
			}
			zeroed += n
		}

		if len(events) < retroChunkSize {
			return zeroed, nil
		}
	}
}
