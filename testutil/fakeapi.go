package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/minex/haulsync/internal/domain"
)

// Route names used for stubbing and call counting.
const (
	RouteStart      = "start"
	RouteComplete   = "complete"
	RouteCloseField = "close-field"
	RouteList       = "list"
	RouteGet        = "get"
	RouteLogin      = "login"
	RouteRefresh    = "refresh"
	RouteHealth     = "health"
)

// FakeAPI is an in-process trip API backed by httptest. Tests stub
// individual routes and assert on call counts; unstubbed routes return 404
// so an unexpected call fails loudly in assertions rather than hanging.
type FakeAPI struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls map[string]int
	stubs map[string]http.HandlerFunc
}

// NewFakeAPI starts a fake trip API server. It is shut down automatically
// when the test finishes.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()

	f := &FakeAPI{
		calls: make(map[string]int),
		stubs: make(map[string]http.HandlerFunc),
	}

	r := chi.NewRouter()
	r.Get("/health", f.dispatch(RouteHealth))
	r.Post("/trip/start", f.dispatch(RouteStart))
	r.Post("/trip/complete", f.dispatch(RouteComplete))
	r.Post("/trip/close-field", f.dispatch(RouteCloseField))
	r.Get("/trip", f.dispatch(RouteList))
	r.Get("/trip/{token}", f.dispatch(RouteGet))
	r.Post("/auth/login", f.dispatch(RouteLogin))
	r.Post("/auth/refresh", f.dispatch(RouteRefresh))

	// Health always answers unless explicitly stubbed, so Probe sees the
	// fake as reachable by default.
	f.Stub(RouteHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake server.
func (f *FakeAPI) URL() string {
	return f.Server.URL
}

// Stub installs (or replaces) the handler for a named route.
func (f *FakeAPI) Stub(route string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs[route] = h
}

// Calls returns how many times a named route has been hit.
func (f *FakeAPI) Calls(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

// dispatch counts the call and delegates to the current stub.
func (f *FakeAPI) dispatch(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[route]++
		h := f.stubs[route]
		f.mu.Unlock()

		if h == nil {
			http.Error(w, `{"error":"not stubbed"}`, http.StatusNotFound)
			return
		}
		h(w, r)
	}
}

// WriteTripEnvelope writes the canonical {"status":"ok","trip":{...}} POST
// response shape.
func WriteTripEnvelope(t *testing.T, w http.ResponseWriter, trip domain.Trip) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "trip": trip}); err != nil {
		t.Errorf("testutil.WriteTripEnvelope: %v", err)
	}
}

// WriteJSON writes v as the response body.
func WriteJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("testutil.WriteJSON: %v", err)
	}
}

// WriteError writes a {"error": msg} body with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
