package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestReadyProbe(t *testing.T) {
	s := &Server{logger: zap.NewNop()}

	rec := httptest.NewRecorder()
	s.readyHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not_ready"}`, rec.Body.String())

	s.SetReady(true)
	rec = httptest.NewRecorder()
	s.readyHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	// Readiness drops again during shutdown.
	s.SetReady(false)
	rec = httptest.NewRecorder()
	s.readyHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveProbe(t *testing.T) {
	s := &Server{logger: zap.NewNop()}

	rec := httptest.NewRecorder()
	s.liveHandler(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

func TestProbesRejectNonGET(t *testing.T) {
	s := &Server{logger: zap.NewNop()}

	for name, handler := range map[string]http.HandlerFunc{
		"ready": s.readyHandler,
		"live":  s.liveHandler,
	} {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodPost, "/"+name, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, name)
	}
}
