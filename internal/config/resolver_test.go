package config

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu       sync.Mutex
	values   map[string]json.RawMessage
	getCalls int
	getErr   error
}

func (f *fakeSource) GetAppConfig(_ context.Context, key string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.values[key], nil
}

func (f *fakeSource) SetAppConfig(_ context.Context, key string, value json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = make(map[string]json.RawMessage)
	}
	f.values[key] = value
	return nil
}

func TestRawCachesWithinTTL(t *testing.T) {
	src := &fakeSource{values: map[string]json.RawMessage{KeyPipeline: json.RawMessage(`{"scoring_batch_size":40}`)}}
	r := NewResolver(src, zap.NewNop())

	for i := 0; i < 3; i++ {
		raw, err := r.Raw(context.Background(), KeyPipeline)
		require.NoError(t, err)
		assert.JSONEq(t, `{"scoring_batch_size":40}`, string(raw))
	}
	assert.Equal(t, 1, src.getCalls)
}

func TestRawRefetchesAfterTTL(t *testing.T) {
	src := &fakeSource{values: map[string]json.RawMessage{KeyPipeline: json.RawMessage(`{}`)}}
	r := NewResolver(src, zap.NewNop())
	r.ttl = 0

	_, err := r.Raw(context.Background(), KeyPipeline)
	require.NoError(t, err)
	_, err = r.Raw(context.Background(), KeyPipeline)
	require.NoError(t, err)
	assert.Equal(t, 2, src.getCalls)
}

func TestInvalidateDropsCache(t *testing.T) {
	src := &fakeSource{values: map[string]json.RawMessage{KeyPipeline: json.RawMessage(`{}`)}}
	r := NewResolver(src, zap.NewNop())

	_, err := r.Raw(context.Background(), KeyPipeline)
	require.NoError(t, err)
	r.Invalidate()
	_, err = r.Raw(context.Background(), KeyPipeline)
	require.NoError(t, err)
	assert.Equal(t, 2, src.getCalls)
}

func TestRawServesStaleOnReadFailure(t *testing.T) {
	src := &fakeSource{values: map[string]json.RawMessage{KeyPipeline: json.RawMessage(`{"scoring_batch_size":40}`)}}
	r := NewResolver(src, zap.NewNop())

	_, err := r.Raw(context.Background(), KeyPipeline)
	require.NoError(t, err)

	r.ttl = 0
	src.getErr = errors.New("connection refused")
	raw, err := r.Raw(context.Background(), KeyPipeline)
	require.NoError(t, err)
	assert.JSONEq(t, `{"scoring_batch_size":40}`, string(raw))
}

func TestRawErrorsWhenNothingCached(t *testing.T) {
	src := &fakeSource{getErr: errors.New("connection refused")}
	r := NewResolver(src, zap.NewNop())

	_, err := r.Raw(context.Background(), KeyPipeline)
	assert.Error(t, err)
}

func TestUpdateRejectsUnknownKey(t *testing.T) {
	r := NewResolver(&fakeSource{}, zap.NewNop())
	err := r.Update(context.Background(), "nonsense", json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "unknown settings key")
}

func TestUpdateRejectsInvalidJSON(t *testing.T) {
	r := NewResolver(&fakeSource{}, zap.NewNop())
	err := r.Update(context.Background(), KeyPipeline, json.RawMessage(`{not json`))
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestUpdatePersistsAndInvalidates(t *testing.T) {
	src := &fakeSource{values: map[string]json.RawMessage{}}
	r := NewResolver(src, zap.NewNop())

	// Prime the cache with the empty value.
	cfg := r.Pipeline(context.Background())
	assert.Equal(t, DefaultPipelineSettings().ScoringBatchSize, cfg.ScoringBatchSize)

	require.NoError(t, r.Update(context.Background(), KeyPipeline, json.RawMessage(`{"scoring_batch_size":99}`)))

	cfg = r.Pipeline(context.Background())
	assert.Equal(t, 99, cfg.ScoringBatchSize)
}

func TestResolveOverlaysDefaults(t *testing.T) {
	src := &fakeSource{values: map[string]json.RawMessage{
		KeyMetaAnalysis: json.RawMessage(`{"window_minutes":15}`),
	}}
	r := NewResolver(src, zap.NewNop())

	cfg := r.Meta(context.Background())
	assert.Equal(t, 15, cfg.WindowMinutes)
	// Unmentioned fields keep their defaults.
	assert.Equal(t, DefaultMetaSettings().EffectiveScoreMetaWeight, cfg.EffectiveScoreMetaWeight)
	assert.Equal(t, DefaultMetaSettings().MaxOpenFindingsPerSystem, cfg.MaxOpenFindingsPerSystem)
}

func TestResolveCorruptValueKeepsDefaults(t *testing.T) {
	src := &fakeSource{values: map[string]json.RawMessage{
		KeyTokenOpt: json.RawMessage(`{"meta_max_events": "not a number"`),
	}}
	r := NewResolver(src, zap.NewNop())

	cfg := r.TokenOpt(context.Background())
	assert.Equal(t, DefaultTokenOptSettings(), cfg)
}

func TestResolveMissingKeyUsesDefaults(t *testing.T) {
	r := NewResolver(&fakeSource{}, zap.NewNop())
	assert.Equal(t, DefaultPrivacySettings(), r.Privacy(context.Background()))
	assert.Equal(t, DefaultMaintenanceSettings(), r.Maintenance(context.Background()))
	assert.Equal(t, DefaultDashboardSettings(), r.Dashboard(context.Background()))
}
