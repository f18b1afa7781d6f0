package api

import (
	"net/http"
	"time"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/store"
)

func (s *Server) handleSystemScores(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	days := s.resolver.Dashboard(r.Context()).ScoreDisplayWindowDays
	from := queryTime(r, "from", now.AddDate(0, 0, -days))
	to := queryTime(r, "to", now)

	scores, err := s.store.SystemScores(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, scores)
}

func (s *Server) handleGroupedScores(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	criterionID := queryInt(r, "criterion_id", 0)
	if criterionID <= 0 {
		s.writeError(w, r, apperr.NewMissingParameter("criterion_id"))
		return
	}

	rows, err := s.store.GroupedScores(r.Context(), store.GroupedScoresParams{
		SystemID:         id,
		CriterionID:      criterionID,
		MinScore:         queryFloat(r, "min_score", 0),
		ShowAcknowledged: queryBool(r, "show_acknowledged"),
		Limit:            queryInt(r, "limit", 0),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGroupEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	groupKey, err := pathInt64(r, "groupKey")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	criterionID := queryInt(r, "criterion_id", 0)
	if criterionID <= 0 {
		s.writeError(w, r, apperr.NewMissingParameter("criterion_id"))
		return
	}

	events, err := s.store.GroupEvents(r.Context(), id, groupKey, criterionID, queryInt(r, "limit", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleWindowMeta(w http.ResponseWriter, r *http.Request) {
	windowID, err := pathInt64(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	meta, err := s.store.GetMetaResult(r.Context(), windowID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from := queryTime(r, "from", now.AddDate(0, 0, -30))
	to := queryTime(r, "to", now)

	summaries, err := s.store.UsageSummaries(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	n, err := s.templates.Flush(r.Context())
	s.recordAudit("trigger", "cache_flush", "", start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"flushed_templates": n})
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.audit.Recent(queryInt(r, "limit", 100)))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.GetStats())
}
