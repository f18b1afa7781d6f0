package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/model"
	"github.com/logwarden/logwarden/internal/store"
	"github.com/logwarden/logwarden/internal/suppress"
	"github.com/logwarden/logwarden/internal/template"
)

func markErrors(p *Pipeline) {
	p.errMu.Lock()
	p.sawErrors = true
	p.errMu.Unlock()
}

func TestAdjustConcurrencyHalvesOnErrors(t *testing.T) {
	p := &Pipeline{}
	assert.Equal(t, 8, p.adjustConcurrency(8))

	markErrors(p)
	assert.Equal(t, 4, p.adjustConcurrency(8))
	markErrors(p)
	assert.Equal(t, 2, p.adjustConcurrency(8))
	markErrors(p)
	assert.Equal(t, 1, p.adjustConcurrency(8))

	// Never below one worker.
	markErrors(p)
	assert.Equal(t, 1, p.adjustConcurrency(8))
}

func TestAdjustConcurrencyRecoversAfterTwoCleanTicks(t *testing.T) {
	p := &Pipeline{}
	p.adjustConcurrency(8)
	markErrors(p)
	require.Equal(t, 4, p.adjustConcurrency(8))

	// One clean tick is not enough.
	assert.Equal(t, 4, p.adjustConcurrency(8))
	assert.Equal(t, 8, p.adjustConcurrency(8))

	// Capped at the ceiling once recovered.
	assert.Equal(t, 8, p.adjustConcurrency(8))
	assert.Equal(t, 8, p.adjustConcurrency(8))
}

func TestAdjustConcurrencyErrorResetsCleanStreak(t *testing.T) {
	p := &Pipeline{}
	p.adjustConcurrency(8)
	markErrors(p)
	require.Equal(t, 4, p.adjustConcurrency(8))

	assert.Equal(t, 4, p.adjustConcurrency(8))
	markErrors(p)
	assert.Equal(t, 2, p.adjustConcurrency(8))
	// The streak restarts after the error tick.
	assert.Equal(t, 2, p.adjustConcurrency(8))
	assert.Equal(t, 4, p.adjustConcurrency(8))
}

func TestAdjustConcurrencyCeiling(t *testing.T) {
	p := &Pipeline{}
	assert.Equal(t, 1, p.adjustConcurrency(0), "non-positive ceiling means one worker")

	// A lowered ceiling clamps immediately.
	p = &Pipeline{}
	require.Equal(t, 8, p.adjustConcurrency(8))
	assert.Equal(t, 4, p.adjustConcurrency(4))
}

func TestScoreRowsExpandsPerCriterion(t *testing.T) {
	events := []model.Event{{ID: 1}, {ID: 2}}
	vec := model.ScoreVector{
		Scores:        model.ScoreMap{"it_security": 0.8, "anomaly": 0.3},
		SeverityLabel: "high",
		ReasonCodes:   []string{"auth_failure"},
	}

	rows := scoreRows(events, vec)
	require.Len(t, rows, len(events)*len(model.Criteria))

	byKey := make(map[[2]int64]model.EventScore, len(rows))
	for _, row := range rows {
		assert.Equal(t, model.ScoreTypeEvent, row.ScoreType)
		assert.Equal(t, "high", row.SeverityLabel)
		byKey[[2]int64{row.EventID, int64(row.CriterionID)}] = row
	}

	var secID, perfID int64
	for _, crit := range model.Criteria {
		switch crit.Slug {
		case "it_security":
			secID = int64(crit.ID)
		case "performance_degradation":
			perfID = int64(crit.ID)
		}
	}
	assert.InDelta(t, 0.8, byKey[[2]int64{1, secID}].Score, 1e-9)
	// Criteria absent from the vector score zero.
	assert.Zero(t, byKey[[2]int64{2, perfID}].Score)
}

// countingScorer records MetaAnalyze invocations.
type countingScorer struct {
	metaCalls int
}

func (c *countingScorer) ScoreBatch(context.Context, uuid.UUID, string, []model.Event, []model.Criterion) ([]model.ScoreVector, error) {
	return nil, nil
}

func (c *countingScorer) MetaAnalyze(context.Context, uuid.UUID, []model.Event, []model.MetaResult, int) (*model.MetaResult, error) {
	c.metaCalls++
	return &model.MetaResult{}, nil
}

// metaStore backs the suppressor and template manager in meta-selection
// tests.
type metaStore struct {
	normals   []model.NormalBehaviorTemplate
	templates map[string]*model.MessageTemplate
	nextID    int64
}

func (f *metaStore) ListNormalTemplates(context.Context, bool) ([]model.NormalBehaviorTemplate, error) {
	return f.normals, nil
}

func (f *metaStore) EventsForSystemSince(context.Context, uuid.UUID, time.Time, int64, int) ([]model.Event, error) {
	return nil, nil
}

func (f *metaStore) ZeroEventScores(context.Context, []int64) (int64, error) {
	return 0, nil
}

func (f *metaStore) FindTemplate(_ context.Context, _ uuid.UUID, fingerprint string) (*model.MessageTemplate, error) {
	if t, ok := f.templates[fingerprint]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (f *metaStore) InsertTemplate(_ context.Context, t *model.MessageTemplate) (int64, error) {
	f.nextID++
	return f.nextID, nil
}

func (f *metaStore) UpdateTemplateScores(context.Context, int64, model.ScoreVector, float64, int, time.Time) error {
	return nil
}

func (f *metaStore) FlushTemplateScores(context.Context) (int64, error) {
	return 0, nil
}

func TestMetaCandidates(t *testing.T) {
	systemID := uuid.New()
	boring := "heartbeat received from agent"
	fp := template.Fingerprint(template.Canonicalize(boring, 0))

	st := &metaStore{
		normals: []model.NormalBehaviorTemplate{
			{ID: 1, SystemID: systemID, PatternRegex: `session opened`, Enabled: true},
		},
		templates: map[string]*model.MessageTemplate{
			fp: {ID: 7, SystemID: systemID, Fingerprint: fp, ScoringCount: 5, AvgMaxScore: 0.02},
		},
	}
	sup := suppress.New(st, zap.NewNop())
	require.NoError(t, sup.Rebuild(context.Background()))

	p := &Pipeline{
		suppressor: sup,
		templates:  template.NewManager(st),
		logger:     zap.NewNop(),
	}

	scored := []store.ScoredEvent{
		{Event: model.Event{ID: 1, SystemID: systemID, Message: "session opened for root"}, MaxScore: 0.9},
		{Event: model.Event{ID: 2, SystemID: systemID, Message: "idle poll"}, MaxScore: 0},
		{Event: model.Event{ID: 3, SystemID: systemID, Message: boring}, MaxScore: 0.3},
		{Event: model.Event{ID: 4, SystemID: systemID, Message: "disk failure imminent on sda"}, MaxScore: 0.8},
	}
	tokenOpt := config.TokenOptSettings{
		FilterZeroScoreMetaEvents: true,
		LowScoreSkipEnabled:       true,
		LowScoreThreshold:         0.1,
		LowScoreMinScorings:       3,
	}

	candidates, suppressedIDs := p.metaCandidates(context.Background(), scored, tokenOpt)

	assert.Equal(t, []int64{1}, suppressedIDs)
	require.Len(t, candidates, 1, "zero-score and low-interest events stay out of the prompt")
	assert.Equal(t, int64(4), candidates[0].ID)
}

func TestMetaCandidatesKeepsLowInterestWhenSkipDisabled(t *testing.T) {
	systemID := uuid.New()
	boring := "heartbeat received from agent"
	fp := template.Fingerprint(template.Canonicalize(boring, 0))

	st := &metaStore{
		templates: map[string]*model.MessageTemplate{
			fp: {ID: 7, SystemID: systemID, Fingerprint: fp, ScoringCount: 5, AvgMaxScore: 0.02},
		},
	}
	sup := suppress.New(st, zap.NewNop())
	require.NoError(t, sup.Rebuild(context.Background()))

	p := &Pipeline{
		suppressor: sup,
		templates:  template.NewManager(st),
		logger:     zap.NewNop(),
	}

	scored := []store.ScoredEvent{
		{Event: model.Event{ID: 3, SystemID: systemID, Message: boring}, MaxScore: 0.3},
	}
	candidates, _ := p.metaCandidates(context.Background(), scored, config.TokenOptSettings{})
	assert.Len(t, candidates, 1)
}

func TestWindowMetaSkipsLLMOnZeroWindow(t *testing.T) {
	scorer := &countingScorer{}
	p := &Pipeline{scorer: scorer, logger: zap.NewNop()}
	sys := &model.MonitoredSystem{ID: uuid.New(), Name: "web"}
	now := time.Now().UTC()
	tokenOpt := config.TokenOptSettings{SkipZeroScoreMeta: true}

	// Empty window.
	meta, err := p.windowMeta(context.Background(), sys, nil, config.MetaSettings{}, tokenOpt, now)
	require.NoError(t, err)
	assert.Equal(t, neutralSummary, meta.Summary)

	// All candidates scored zero.
	scored := []store.ScoredEvent{
		{Event: model.Event{ID: 1}, MaxScore: 0},
		{Event: model.Event{ID: 2}, MaxScore: 0},
	}
	meta, err = p.windowMeta(context.Background(), sys, scored, config.MetaSettings{}, tokenOpt, now)
	require.NoError(t, err)
	assert.Equal(t, neutralSummary, meta.Summary)
	for _, v := range meta.MetaScores {
		assert.Zero(t, v)
	}

	assert.Zero(t, scorer.metaCalls, "neutral windows never reach the LLM")
}

func TestComputeEffective(t *testing.T) {
	systemID := uuid.New()
	meta := &model.MetaResult{MetaScores: model.ScoreMap{"it_security": 0.6, "anomaly": 0.2}}
	maxScores := map[int]float64{}
	var secID, anomID int
	for _, crit := range model.Criteria {
		switch crit.Slug {
		case "it_security":
			secID = crit.ID
		case "anomaly":
			anomID = crit.ID
		}
	}
	maxScores[secID] = 0.9
	maxScores[anomID] = 0.4

	rows := computeEffective(systemID, meta, maxScores, 0.7)
	require.Len(t, rows, len(model.Criteria))

	byID := make(map[int]model.EffectiveScore, len(rows))
	for _, row := range rows {
		assert.Equal(t, systemID, row.SystemID)
		byID[row.CriterionID] = row
	}

	assert.InDelta(t, 0.7*0.6+0.3*0.9, byID[secID].EffectiveValue, 1e-9)
	assert.InDelta(t, 0.7*0.2+0.3*0.4, byID[anomID].EffectiveValue, 1e-9)
	assert.InDelta(t, 0.6, byID[secID].MetaScore, 1e-9)
	assert.InDelta(t, 0.9, byID[secID].MaxEventScore, 1e-9)

	// Criteria without any signal stay zero.
	for _, crit := range model.Criteria {
		if crit.ID == secID || crit.ID == anomID {
			continue
		}
		assert.Zero(t, byID[crit.ID].EffectiveValue)
	}
}

func TestComputeEffectiveClampsWeight(t *testing.T) {
	systemID := uuid.New()
	meta := &model.MetaResult{MetaScores: model.ScoreMap{"it_security": 1.0}}
	var secID int
	for _, crit := range model.Criteria {
		if crit.Slug == "it_security" {
			secID = crit.ID
		}
	}
	maxScores := map[int]float64{secID: 0.0}

	for _, weight := range []float64{-0.5, 1.5} {
		rows := computeEffective(systemID, meta, maxScores, weight)
		byID := make(map[int]model.EffectiveScore, len(rows))
		for _, row := range rows {
			byID[row.CriterionID] = row
		}
		assert.InDelta(t, 0.7, byID[secID].EffectiveValue, 1e-9)
	}
}

func TestNeutralMeta(t *testing.T) {
	now := time.Now().UTC()
	meta := neutralMeta(now)

	assert.Equal(t, neutralSummary, meta.Summary)
	assert.Equal(t, now, meta.CreatedAt)
	assert.Len(t, meta.MetaScores, len(model.Criteria))
	for _, v := range meta.MetaScores {
		assert.Zero(t, v)
	}
	assert.Empty(t, meta.Findings)
}
