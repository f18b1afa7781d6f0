package api

import (
	"net/http"
	"time"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/model"
	"github.com/logwarden/logwarden/internal/store"
)

// eventFilterFromQuery reads the shared event filter parameters.
func eventFilterFromQuery(r *http.Request) model.EventFilter {
	q := r.URL.Query()
	return model.EventFilter{
		Host:     q.Get("host"),
		Program:  q.Get("program"),
		Severity: q.Get("severity"),
		Query:    q.Get("q"),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	}
}

func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetSystem(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	var events []model.Event
	if err := decodeBody(r, &events); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(events) == 0 {
		s.writeError(w, r, apperr.NewInvalidInput("event batch is empty"))
		return
	}
	for i := range events {
		events[i].SystemID = id
	}

	stored, err := s.store.IngestEvents(r.Context(), events)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int{
		"received": len(events),
		"stored":   stored,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	now := time.Now().UTC()
	from := queryTime(r, "from", now.AddDate(0, 0, -1))
	to := queryTime(r, "to", now)

	events, err := s.store.ListEvents(r.Context(), id, from, to, eventFilterFromQuery(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

// handleSearchEvents queries the system's configured event source, so
// external-search systems hit their upstream backend.
func (s *Server) handleSearchEvents(w http.ResponseWriter, r *http.Request) {
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

	now := time.Now().UTC()
	from := queryTime(r, "from", now.AddDate(0, 0, -1))
	to := queryTime(r, "to", now)

	events, err := s.store.SourceFor(sys).Search(r.Context(), sys, from, to, eventFilterFromQuery(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

type acknowledgeRequest struct {
	GroupKey *int64     `json:"group_key,omitempty"`
	EventIDs []int64    `json:"event_ids,omitempty"`
	UpTo     *time.Time `json:"up_to,omitempty"`
}

func (s *Server) handleAcknowledgeEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req acknowledgeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	n, err := s.store.AcknowledgeEvents(r.Context(), store.AckSelector{
		SystemID: &id,
		GroupKey: req.GroupKey,
		EventIDs: req.EventIDs,
		UpTo:     req.UpTo,
	})
	s.recordAudit("update", "event_acknowledge", id.String(), start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"acknowledged": n})
}

type bulkDeleteRequest struct {
	Confirmation string     `json:"confirmation"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
	SystemID     *string    `json:"system_id,omitempty"`
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req bulkDeleteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Confirmation != "YES" {
		s.writeError(w, r, apperr.NewInvalidInput(`bulk delete requires confirmation: "YES"`))
		return
	}

	systemID, err := parseOptionalUUID(req.SystemID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.store.BulkDelete(r.Context(), req.From, req.To, systemID)
	resourceID := ""
	if systemID != nil {
		resourceID = systemID.String()
	}
	s.recordAudit("delete", "events_bulk", resourceID, start, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
