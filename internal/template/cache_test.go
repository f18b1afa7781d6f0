package template

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/model"
)

type fakeTemplateStore struct {
	templates map[string]*model.MessageTemplate
	nextID    int64

	findCalls   atomic.Int64
	insertCalls atomic.Int64
	flushed     atomic.Int64
}

func newFakeTemplateStore() *fakeTemplateStore {
	return &fakeTemplateStore{templates: make(map[string]*model.MessageTemplate)}
}

func (f *fakeTemplateStore) FindTemplate(_ context.Context, _ uuid.UUID, fingerprint string) (*model.MessageTemplate, error) {
	f.findCalls.Add(1)
	if t, ok := f.templates[fingerprint]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeTemplateStore) InsertTemplate(_ context.Context, t *model.MessageTemplate) (int64, error) {
	f.insertCalls.Add(1)
	f.nextID++
	cp := *t
	cp.ID = f.nextID
	f.templates[t.Fingerprint] = &cp
	return f.nextID, nil
}

func (f *fakeTemplateStore) UpdateTemplateScores(_ context.Context, id int64, vec model.ScoreVector, avgMax float64, count int, scoredAt time.Time) error {
	for _, t := range f.templates {
		if t.ID == id {
			t.CachedScores = vec.Scores
			t.CachedSeverityLabel = vec.SeverityLabel
			t.CachedReasonCodes = vec.ReasonCodes
			t.AvgMaxScore = avgMax
			t.ScoringCount = count
			t.LastScoredAt = &scoredAt
		}
	}
	return nil
}

func (f *fakeTemplateStore) FlushTemplateScores(context.Context) (int64, error) {
	n := int64(len(f.templates))
	for _, t := range f.templates {
		t.CachedScores = nil
		t.LastScoredAt = nil
	}
	f.flushed.Store(n)
	return n, nil
}

func TestResolveInsertsOnceAndCaches(t *testing.T) {
	st := newFakeTemplateStore()
	m := NewManager(st)
	systemID := uuid.New()

	ev := &model.Event{SystemID: systemID, Message: "disk full on sda1"}
	first, err := m.Resolve(context.Background(), ev, 0)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, int64(1), first.ID)

	// Same message again: served from the snapshot, no store traffic.
	second, err := m.Resolve(context.Background(), ev, 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), st.findCalls.Load())
	assert.Equal(t, int64(1), st.insertCalls.Load())
}

func TestResolveSharesTemplateAcrossVariableFragments(t *testing.T) {
	st := newFakeTemplateStore()
	m := NewManager(st)
	systemID := uuid.New()

	a, err := m.Resolve(context.Background(), &model.Event{SystemID: systemID, Message: "login from 10.0.0.1"}, 0)
	require.NoError(t, err)
	b, err := m.Resolve(context.Background(), &model.Event{SystemID: systemID, Message: "login from 10.0.0.2"}, 0)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestFresh(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-10 * time.Minute)
	stale := now.Add(-2 * time.Hour)

	tests := []struct {
		name     string
		template *model.MessageTemplate
		expected bool
	}{
		{"nil template", nil, false},
		{"no cached scores", &model.MessageTemplate{LastScoredAt: &recent}, false},
		{"never scored", &model.MessageTemplate{CachedScores: model.ScoreMap{"anomaly": 0.2}}, false},
		{"fresh", &model.MessageTemplate{CachedScores: model.ScoreMap{"anomaly": 0.2}, LastScoredAt: &recent}, true},
		{"expired", &model.MessageTemplate{CachedScores: model.ScoreMap{"anomaly": 0.2}, LastScoredAt: &stale}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Fresh(tt.template, time.Hour, now))
		})
	}
}

func TestLowInterest(t *testing.T) {
	opts := config.TokenOptSettings{
		LowScoreSkipEnabled: true,
		LowScoreThreshold:   0.1,
		LowScoreMinScorings: 3,
	}

	assert.False(t, LowInterest(nil, opts))
	assert.False(t, LowInterest(&model.MessageTemplate{ScoringCount: 2, AvgMaxScore: 0.01}, opts))
	assert.False(t, LowInterest(&model.MessageTemplate{ScoringCount: 5, AvgMaxScore: 0.5}, opts))
	assert.True(t, LowInterest(&model.MessageTemplate{ScoringCount: 5, AvgMaxScore: 0.01}, opts))

	opts.LowScoreSkipEnabled = false
	assert.False(t, LowInterest(&model.MessageTemplate{ScoringCount: 5, AvgMaxScore: 0.01}, opts))
}

func TestRecordScoresUpdatesRunningAverage(t *testing.T) {
	st := newFakeTemplateStore()
	m := NewManager(st)
	systemID := uuid.New()

	tpl, err := m.Resolve(context.Background(), &model.Event{SystemID: systemID, Message: "oom killer invoked"}, 0)
	require.NoError(t, err)

	now := time.Now().UTC()
	first := model.ScoreVector{
		Scores:        model.ScoreMap{"anomaly": 0.8},
		SeverityLabel: "high",
		ReasonCodes:   []string{"oom"},
	}
	require.NoError(t, m.RecordScores(context.Background(), tpl, first, now))
	assert.Equal(t, 1, tpl.ScoringCount)
	assert.InDelta(t, 0.8, tpl.AvgMaxScore, 1e-9)
	assert.Equal(t, "high", tpl.CachedSeverityLabel)
	assert.Equal(t, model.StringList{"oom"}, tpl.CachedReasonCodes)

	second := model.ScoreVector{Scores: model.ScoreMap{"anomaly": 0.4}, SeverityLabel: "medium"}
	require.NoError(t, m.RecordScores(context.Background(), tpl, second, now))
	assert.Equal(t, 2, tpl.ScoringCount)
	assert.InDelta(t, 0.6, tpl.AvgMaxScore, 1e-9)
	assert.Equal(t, "medium", tpl.CachedSeverityLabel)

	// The snapshot serves the updated template.
	again, err := m.Resolve(context.Background(), &model.Event{SystemID: systemID, Message: "oom killer invoked"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, again.ScoringCount)
}

func TestFlushDropsSnapshots(t *testing.T) {
	st := newFakeTemplateStore()
	m := NewManager(st)
	systemID := uuid.New()

	_, err := m.Resolve(context.Background(), &model.Event{SystemID: systemID, Message: "cron session opened"}, 0)
	require.NoError(t, err)

	n, err := m.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Next resolve goes back to the store.
	_, err = m.Resolve(context.Background(), &model.Event{SystemID: systemID, Message: "cron session opened"}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.findCalls.Load())
}
