package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/audit"
)

// errorEnvelope is the wire shape of every API error.
type errorEnvelope struct {
	Error      string      `json:"error"`
	Code       string      `json:"code,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps structured errors to status codes. Unclassified errors
// become opaque 500s; the cause goes to the log, not the wire.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorEnvelope{
			Error: "internal server error",
			Code:  string(apperr.CodeInternal),
		})
		return
	}

	status := e.HTTPStatus()
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	if status >= 500 {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path), zap.String("code", string(e.Code)), zap.Error(err))
	}
	s.writeJSON(w, status, errorEnvelope{
		Error:      e.Message,
		Code:       string(e.Code),
		Suggestion: e.Suggestion,
		Details:    e.Details,
	})
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperr.NewInvalidInput("invalid JSON body").Wrap(err)
	}
	return nil
}

// pathUUID parses a UUID path parameter.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.NewInvalidInput("invalid " + name + " path parameter")
	}
	return id, nil
}

// parseOptionalUUID parses an optional string-typed UUID field.
func parseOptionalUUID(s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, apperr.NewInvalidInput("invalid system_id")
	}
	return &id, nil
}

// pathInt64 parses an integer path parameter.
func pathInt64(r *http.Request, name string) (int64, error) {
	n, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, apperr.NewInvalidInput("invalid " + name + " path parameter")
	}
	return n, nil
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	if v := r.URL.Query().Get(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func queryBool(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "true" || v == "1"
}

// queryTime parses an RFC 3339 query parameter, falling back to def.
func queryTime(r *http.Request, name string, def time.Time) time.Time {
	if v := r.URL.Query().Get(name); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return def
}

// recordAudit logs a state-mutating operation to the audit trail.
func (s *Server) recordAudit(op, resource, resourceID string, start time.Time, err error) {
	entry := audit.Entry{
		Operation:  op,
		Resource:   resource,
		ResourceID: resourceID,
		Success:    err == nil,
		Duration:   time.Since(start),
	}
	if err != nil {
		entry.ErrorMsg = err.Error()
	}
	s.audit.Log(entry)
}

// authenticate enforces bearer-token auth when tokens are configured.
// An empty token list leaves the API open for local deployments.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.APITokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeError(w, r, apperr.NewUnauthorized())
			return
		}
		for _, allowed := range s.cfg.APITokens {
			if subtle.ConstantTimeCompare([]byte(token), []byte(allowed)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		s.writeError(w, r, apperr.NewUnauthorized())
	})
}
