package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeLister struct{ paths []string }

func (f fakeLister) Paths() []string { return f.paths }

// newTestRouter builds the same routes NewServer does, without binding a
// real listener, so handlers can be exercised with httptest.
func newTestRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/pipes", s.handlePipes)
	return r
}

func TestHealthyWithNoChecks(t *testing.T) {
	s := &Server{checks: make(map[string]Check), pipes: fakeLister{paths: []string{"/a"}}}
	router := newTestRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, string(StatusHealthy), body["status"])
}

func TestUnhealthyCheckReturns503(t *testing.T) {
	s := &Server{checks: make(map[string]Check)}
	s.RegisterCheck("transport", func() (Status, string) { return StatusUnhealthy, "connection lost" })
	router := newTestRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPipesListsOpenPaths(t *testing.T) {
	s := &Server{checks: make(map[string]Check), pipes: fakeLister{paths: []string{"/a", "/b"}}}
	router := newTestRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/pipes", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.ElementsMatch(t, []string{"/a", "/b"}, body["pipes"])
}
