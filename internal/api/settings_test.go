package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logwarden/logwarden/internal/config"
)

func groupByPath(t *testing.T, path string) settingsGroup {
	t.Helper()
	for _, g := range settingsGroups() {
		if g.path == path {
			return g
		}
	}
	t.Fatalf("no settings group for %s", path)
	return settingsGroup{}
}

func TestUpdateSettingsRejectsUnknownFields(t *testing.T) {
	s, src := newTestServer(&config.Config{})
	group := groupByPath(t, "/pipeline-config")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/pipeline-config",
		strings.NewReader(`{"pipeline_interval_minutes": 10, "bogus_field": true}`))
	s.handleUpdateSettings(rec, req, group)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, src.values, "rejected payloads are never persisted")
}

func TestUpdateSettingsRejectsMistypedFields(t *testing.T) {
	s, src := newTestServer(&config.Config{})
	group := groupByPath(t, "/pipeline-config")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/pipeline-config",
		strings.NewReader(`{"pipeline_interval_minutes": "ten"}`))
	s.handleUpdateSettings(rec, req, group)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, src.values)
}

func TestUpdateSettingsPersistsAndEchoes(t *testing.T) {
	s, src := newTestServer(&config.Config{})
	group := groupByPath(t, "/pipeline-config")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/pipeline-config",
		strings.NewReader(`{"pipeline_interval_minutes": 10}`))
	s.handleUpdateSettings(rec, req, group)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pipeline_interval_minutes": 10}`, string(src.values[config.KeyPipeline]))

	// The response echoes the resolved group, overlay over defaults.
	var echoed config.PipelineSettings
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&echoed))
	assert.Equal(t, 10, echoed.IntervalMinutes)

	recent := s.audit.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "settings", recent[0].Resource)
	assert.True(t, recent[0].Success)
}

func TestGetAIConfigMasksKey(t *testing.T) {
	s, src := newTestServer(&config.Config{})
	raw, err := json.Marshal(config.AISettings{APIKey: "sk-proj-abcdefghijklmnop", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	require.NoError(t, src.SetAppConfig(context.Background(), config.KeyAI, raw))

	group := groupByPath(t, "/ai-config")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ai-config", nil)

	ai, ok := group.read(s, req).(config.AISettings)
	require.True(t, ok)
	assert.Equal(t, "sk-p...mnop", ai.APIKey)
	assert.Equal(t, "gpt-4o-mini", ai.Model)
}

func TestPutCriterionGuidelinesKeepsOtherPrompts(t *testing.T) {
	s, src := newTestServer(&config.Config{})
	seed, err := json.Marshal(config.PromptSettings{ScoringSystemPrompt: "score each event"})
	require.NoError(t, err)
	require.NoError(t, src.SetAppConfig(context.Background(), config.KeyPrompts, seed))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/ai-prompts/criterion-guidelines",
		strings.NewReader(`{"it_security": "weight auth failures highly"}`))
	s.handlePutCriterionGuidelines(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stored config.PromptSettings
	require.NoError(t, json.Unmarshal(src.values[config.KeyPrompts], &stored))
	assert.Equal(t, "score each event", stored.ScoringSystemPrompt)
	assert.Equal(t, "weight auth failures highly", stored.CriterionGuidelines["it_security"])
}
