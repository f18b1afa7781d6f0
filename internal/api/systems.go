package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/model"
)

func (s *Server) handleListSystems(w http.ResponseWriter, r *http.Request) {
	systems, err := s.store.ListSystems(r.Context(), queryBool(r, "active_only"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, systems)
}

func (s *Server) handleGetSystem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sys, err := s.store.GetSystem(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sys)
}

func (s *Server) handleCreateSystem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var sys model.MonitoredSystem
	if err := decodeBody(r, &sys); err != nil {
		s.writeError(w, r, err)
		return
	}
	if sys.Name == "" {
		s.writeError(w, r, apperr.NewMissingParameter("name"))
		return
	}
	switch sys.EventSource {
	case "":
		sys.EventSource = model.SourcePrimary
	case model.SourcePrimary, model.SourceExternal:
	default:
		s.writeError(w, r, apperr.NewInvalidInput("event_source must be primary or external"))
		return
	}
	if sys.EventSource == model.SourceExternal && sys.SearchURL == "" {
		s.writeError(w, r, apperr.NewMissingParameter("search_url"))
		return
	}

	err := s.store.CreateSystem(r.Context(), &sys)
	s.recordAudit("create", "system", sys.ID.String(), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sys)
}

func (s *Server) handleUpdateSystem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	existing, err := s.store.GetSystem(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sys := *existing
	if err := decodeBody(r, &sys); err != nil {
		s.writeError(w, r, err)
		return
	}
	sys.ID = id

	err = s.store.UpdateSystem(r.Context(), &sys)
	s.recordAudit("update", "system", id.String(), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sys)
}

func (s *Server) handleDeleteSystem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.store.DeleteSystem(r.Context(), id)
	s.recordAudit("delete", "system", id.String(), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.templates.Invalidate(id)
	if err := s.suppressor.Rebuild(r.Context()); err != nil {
		s.logger.Warn("Suppressor rebuild after system delete failed", zap.Error(err))
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStartReEvaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.pipeline.StartReEvaluate(r.Context(), id)
	s.recordAudit("trigger", "re_evaluate", id.String(), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetReEvaluate(w http.ResponseWriter, r *http.Request) {
	job, err := s.pipeline.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}
