package suppress

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/model"
)

type fakeSuppressStore struct {
	templates []model.NormalBehaviorTemplate
	events    []model.Event
	zeroed    []int64
}

func (f *fakeSuppressStore) ListNormalTemplates(_ context.Context, enabledOnly bool) ([]model.NormalBehaviorTemplate, error) {
	var out []model.NormalBehaviorTemplate
	for _, t := range f.templates {
		if !enabledOnly || t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeSuppressStore) EventsForSystemSince(_ context.Context, systemID uuid.UUID, _ time.Time, afterID int64, limit int) ([]model.Event, error) {
	var out []model.Event
	for _, ev := range f.events {
		if ev.SystemID == systemID && ev.ID > afterID {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeSuppressStore) ZeroEventScores(_ context.Context, eventIDs []int64) (int64, error) {
	f.zeroed = append(f.zeroed, eventIDs...)
	return int64(len(eventIDs)), nil
}

func TestRebuildAndMatches(t *testing.T) {
	systemID := uuid.New()
	other := uuid.New()
	st := &fakeSuppressStore{templates: []model.NormalBehaviorTemplate{
		{ID: 1, SystemID: systemID, PatternRegex: `session (opened|closed) for user \w+`, Enabled: true},
		{ID: 2, SystemID: systemID, PatternRegex: `kernel panic`, Enabled: false},
	}}

	s := New(st, zap.NewNop())
	require.NoError(t, s.Rebuild(context.Background()))

	assert.True(t, s.Matches(&model.Event{SystemID: systemID, Message: "session opened for user root"}))
	assert.False(t, s.Matches(&model.Event{SystemID: systemID, Message: "kernel panic"}), "disabled templates do not match")
	assert.False(t, s.Matches(&model.Event{SystemID: other, Message: "session opened for user root"}), "templates are system scoped")
}

func TestRebuildSkipsInvalidRegex(t *testing.T) {
	systemID := uuid.New()
	st := &fakeSuppressStore{templates: []model.NormalBehaviorTemplate{
		{ID: 1, SystemID: systemID, PatternRegex: `([invalid`, Enabled: true},
		{ID: 2, SystemID: systemID, PatternRegex: `healthcheck ok`, Enabled: true},
	}}

	s := New(st, zap.NewNop())
	require.NoError(t, s.Rebuild(context.Background()))

	assert.True(t, s.Matches(&model.Event{SystemID: systemID, Message: "healthcheck ok"}))
}

func TestMatchesHostAndProgramPatterns(t *testing.T) {
	systemID := uuid.New()
	st := &fakeSuppressStore{templates: []model.NormalBehaviorTemplate{
		{ID: 1, SystemID: systemID, PatternRegex: `backup complete`, HostPattern: `^db-`, ProgramPattern: `^pgbackrest$`, Enabled: true},
	}}
	s := New(st, zap.NewNop())
	require.NoError(t, s.Rebuild(context.Background()))

	match := model.Event{SystemID: systemID, Message: "backup complete", Host: "db-01", Program: "pgbackrest"}
	assert.True(t, s.Matches(&match))

	wrongHost := match
	wrongHost.Host = "web-01"
	assert.False(t, s.Matches(&wrongHost))

	wrongProgram := match
	wrongProgram.Program = "rsync"
	assert.False(t, s.Matches(&wrongProgram))
}

func TestFilterMatching(t *testing.T) {
	systemID := uuid.New()
	st := &fakeSuppressStore{templates: []model.NormalBehaviorTemplate{
		{ID: 1, SystemID: systemID, PatternRegex: `heartbeat`, Enabled: true},
	}}
	s := New(st, zap.NewNop())
	require.NoError(t, s.Rebuild(context.Background()))

	events := []model.Event{
		{ID: 1, SystemID: systemID, Message: "heartbeat ok"},
		{ID: 2, SystemID: systemID, Message: "disk failure imminent"},
		{ID: 3, SystemID: systemID, Message: "heartbeat ok"},
	}
	matched, rest := s.FilterMatching(events)
	require.Len(t, matched, 2)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(2), rest[0].ID)
}

func TestApplyRetroactiveChunks(t *testing.T) {
	systemID := uuid.New()
	st := &fakeSuppressStore{}
	// 750 events, every other one matching, so the scan needs two pages.
	for i := 1; i <= 750; i++ {
		msg := "request served"
		if i%2 == 0 {
			msg = "heartbeat ok"
		}
		st.events = append(st.events, model.Event{ID: int64(i), SystemID: systemID, Message: msg})
	}

	s := New(st, zap.NewNop())
	tpl := &model.NormalBehaviorTemplate{ID: 1, SystemID: systemID, PatternRegex: `heartbeat`, Enabled: true}
	zeroed, err := s.ApplyRetroactive(context.Background(), tpl, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(375), zeroed)
	assert.Len(t, st.zeroed, 375)
}

func TestApplyRetroactiveInvalidRegex(t *testing.T) {
	s := New(&fakeSuppressStore{}, zap.NewNop())
	_, err := s.ApplyRetroactive(context.Background(), &model.NormalBehaviorTemplate{PatternRegex: `([`}, 7)
	assert.Error(t, err)
}
