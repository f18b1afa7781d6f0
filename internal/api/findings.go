package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/model"
)

func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := model.FindingStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.FindingOpen, model.FindingAcknowledged, model.FindingResolved:
	default:
		s.writeError(w, r, apperr.NewInvalidInput("status must be open, acknowledged or resolved"))
		return
	}

	findings, err := s.store.ListFindings(r.Context(), id, status, queryInt(r, "limit", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, findings)
}

func (s *Server) handleGetFinding(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.store.GetFinding(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleAcknowledgeFinding(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := pathInt64(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.store.AcknowledgeFinding(r.Context(), id)
	s.recordAudit("update", "finding_acknowledge", fmt.Sprintf("%d", id), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleReopenFinding(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := pathInt64(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.store.ReopenFinding(r.Context(), id)
	s.recordAudit("update", "finding_reopen", fmt.Sprintf("%d", id), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleListNormalTemplates(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	templates, err := s.store.ListNormalTemplates(r.Context(), false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filtered := templates[:0]
	for _, t := range templates {
		if t.SystemID == id {
			filtered = append(filtered, t)
		}
	}
	s.writeJSON(w, http.StatusOK, filtered)
}

// retroLookbackDays bounds retroactive zeroing to the global retention
// cap, so every event still on disk is covered.
func (s *Server) retroLookbackDays(ctx context.Context) int {
	return s.resolver.Maintenance(ctx).DefaultRetentionDays
}

// handleCreateNormalTemplate stores a new normal-behavior template and
// immediately zeroes matching historical scores back to the retention
// horizon.
func (s *Server) handleCreateNormalTemplate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var t model.NormalBehaviorTemplate
	if err := decodeBody(r, &t); err != nil {
		s.writeError(w, r, err)
		return
	}
	t.SystemID = id
	t.Enabled = true
	if t.PatternRegex == "" {
		s.writeError(w, r, apperr.NewMissingParameter("pattern_regex"))
		return
	}
	for _, pattern := range []string{t.PatternRegex, t.HostPattern, t.ProgramPattern} {
		if pattern == "" {
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			s.writeError(w, r, apperr.NewInvalidInput("invalid regex pattern").Wrap(err))
			return
		}
	}

	err = s.store.InsertNormalTemplate(r.Context(), &t)
	s.recordAudit("create", "normal_template", fmt.Sprintf("%d", t.ID), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.suppressor.Rebuild(r.Context()); err != nil {
		s.logger.Warn("Suppressor rebuild failed", zap.Error(err))
	}
	s.templates.Invalidate(id)

	zeroed, err := s.suppressor.ApplyRetroactive(r.Context(), &t, s.retroLookbackDays(r.Context()))
	if err != nil {
		s.logger.Warn("Retroactive suppression failed",
			zap.Int64("template_id", t.ID), zap.Error(err))
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"template":      t,
		"zeroed_scores": zeroed,
	})
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetNormalTemplateEnabled(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := pathInt64(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req enabledRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	err = s.store.SetNormalTemplateEnabled(r.Context(), id, req.Enabled)
	s.recordAudit("update", "normal_template", fmt.Sprintf("%d", id), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.suppressor.Rebuild(r.Context()); err != nil {
		s.logger.Warn("Suppressor rebuild failed", zap.Error(err))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "enabled": req.Enabled})
}

func (s *Server) handleDeleteNormalTemplate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := pathInt64(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.store.DeleteNormalTemplate(r.Context(), id)
	s.recordAudit("delete", "normal_template", fmt.Sprintf("%d", id), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.suppressor.Rebuild(r.Context()); err != nil {
		s.logger.Warn("Suppressor rebuild failed", zap.Error(err))
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
