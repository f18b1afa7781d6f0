package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/config"
)

// maxSettingsBody bounds the accepted size of a settings payload.
const maxSettingsBody = 64 << 10

// settingsGroup binds one app_config key to its HTTP path and a
// validator that rejects payloads not matching the group's schema.
type settingsGroup struct {
	path     string
	key      string
	validate func(json.RawMessage) error
	read     func(*Server, *http.Request) interface{}
}

func strictValidator(dst func() interface{}) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst()); err != nil {
			return apperr.NewInvalidInput("settings payload does not match schema").Wrap(err)
		}
		return nil
	}
}

func settingsGroups() []settingsGroup {
	return []settingsGroup{
		{
			path:     "/ai-config",
			key:      config.KeyAI,
			validate: strictValidator(func() interface{} { return &config.AISettings{} }),
			read: func(s *Server, r *http.Request) interface{} {
				ai := s.resolver.AI(r.Context())
				if ai.APIKey != "" {
					ai.APIKey = config.MaskSecret(ai.APIKey)
				}
				return ai
			},
		},
		{
			path:     "/task-model-config",
			key:      config.KeyTaskModels,
			validate: strictValidator(func() interface{} { return &config.TaskModelSettings{} }),
			read: func(s *Server, r *http.Request) interface{} { return s.resolver.TaskModels(r.Context()) },
		},
		{
			path:     "/ai-prompts",
			key:      config.KeyPrompts,
			validate: strictValidator(func() interface{} { return &config.PromptSettings{} }),
			read: func(s *Server, r *http.Request) interface{} { return s.resolver.Prompts(r.Context()) },
		},
		{
			path:     "/pipeline-config",
			key:      config.KeyPipeline,
			validate: strictValidator(func() interface{} { return &config.PipelineSettings{} }),
			read: func(s *Server, r *http.Request) interface{} { return s.resolver.Pipeline(r.Context()) },
		},
		{
			path:     "/meta-analysis-config",
			key:      config.KeyMetaAnalysis,
			validate: strictValidator(func() interface{} { return &config.MetaSettings{} }),
			read: func(s *Server, r *http.Request) interface{} { return s.resolver.Meta(r.Context()) },
		},
		{
			path:     "/token-optimization",
			key:      config.KeyTokenOpt,
			validate: strictValidator(func() interface{} { return &config.TokenOptSettings{} }),
			read: func(s *Server, r *http.Request) interface{} { return s.resolver.TokenOpt(r.Context()) },
		},
		{
			path:     "/dashboard-config",
			key:      config.KeyDashboard,
			validate: strictValidator(func() interface{} { return &config.DashboardSettings{} }),
			read: func(s *Server, r *http.Request) interface{} { return s.resolver.Dashboard(r.Context()) },
		},
		{
			path:     "/privacy-config",
			key:      config.KeyPrivacy,
			validate: strictValidator(func() interface{} { return &config.PrivacySettings{} }),
			read: func(s *Server, r *http.Request) interface{} { return s.resolver.Privacy(r.Context()) },
		},
		{
			path:     "/maintenance-config",
			key:      config.KeyMaintenance,
			validate: strictValidator(func() interface{} { return &config.MaintenanceSettings{} }),
			read: func(s *Server, r *http.Request) interface{} { return s.resolver.Maintenance(r.Context()) },
		},
	}
}

func (s *Server) mountSettings(r chi.Router) {
	for _, g := range settingsGroups() {
		group := g
		r.Get(group.path, func(w http.ResponseWriter, req *http.Request) {
			s.writeJSON(w, http.StatusOK, group.read(s, req))
		})
		r.Put(group.path, func(w http.ResponseWriter, req *http.Request) {
			s.handleUpdateSettings(w, req, group)
		})
	}

	// Criterion guidelines are a sub-view of the prompt settings.
	r.Get("/ai-prompts/criterion-guidelines", s.handleGetCriterionGuidelines)
	r.Put("/ai-prompts/criterion-guidelines", s.handlePutCriterionGuidelines)

	// Backup settings alias used by the dashboard backup page.
	r.Get("/maintenance/backup/config", func(w http.ResponseWriter, req *http.Request) {
		s.writeJSON(w, http.StatusOK, s.resolver.Maintenance(req.Context()))
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request, g settingsGroup) {
	start := time.Now()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBody))
	if err != nil {
		s.writeError(w, r, apperr.NewInvalidInput("failed to read request body"))
		return
	}
	if err := g.validate(raw); err != nil {
		s.writeError(w, r, err)
		return
	}

	err = s.resolver.Update(r.Context(), g.key, raw)
	s.recordAudit("update", "settings", g.key, start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g.read(s, r))
}

func (s *Server) handleGetCriterionGuidelines(w http.ResponseWriter, r *http.Request) {
	prompts := s.resolver.Prompts(r.Context())
	if prompts.CriterionGuidelines == nil {
		prompts.CriterionGuidelines = map[string]string{}
	}
	s.writeJSON(w, http.StatusOK, prompts.CriterionGuidelines)
}

// handlePutCriterionGuidelines replaces only the guideline map, keeping
// the rest of the prompt settings intact.
func (s *Server) handlePutCriterionGuidelines(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var guidelines map[string]string
	if err := decodeBody(r, &guidelines); err != nil {
		s.writeError(w, r, err)
		return
	}

	prompts := s.resolver.Prompts(r.Context())
	prompts.CriterionGuidelines = guidelines
	raw, err := json.Marshal(prompts)
	if err != nil {
		s.writeError(w, r, apperr.NewInternal("failed to encode prompt settings"))
		return
	}

	err = s.resolver.Update(r.Context(), config.KeyPrompts, raw)
	s.recordAudit("update", "settings", "criterion_guidelines", start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, guidelines)
}
