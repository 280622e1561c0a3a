// Package mockserver is an in-process fake of the telemetry backend used by
// tests and by the probe's --mock mode.
package mockserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/opengovern/resilient-telemetry/eventcache"
	"github.com/urfave/negroni"
)

const apiKeyHeader = "X-Kogase-API-Key"

type Server struct {
	apiKey string

	mu       sync.Mutex
	events   []eventcache.Event
	sessions map[string]string
	faults   map[string][]int
	hits     map[string]int

	srv *httptest.Server
}

// New starts a server that accepts apiKey.
func New(apiKey string) *Server {
	s := &Server{
		apiKey:   apiKey,
		sessions: make(map[string]string),
		faults:   make(map[string][]int),
		hits:     make(map[string]int),
	}
	s.srv = httptest.NewServer(s.Handler())
	return s
}

// URL is the base URL, without the /api/{version} suffix.
func (s *Server) URL() string {
	return s.srv.URL
}

func (s *Server) Close() {
	s.srv.Close()
}

// Fail makes the next len(statuses) requests to path (e.g. "/events/batch")
// answer with the given statuses, in order.
func (s *Server) Fail(path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[path] = append(s.faults[path], statuses...)
}

// Hits counts requests that reached path, failed ones included.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Events returns every event the server accepted.
func (s *Server) Events() []eventcache.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]eventcache.Event(nil), s.events...)
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/{version}").Subrouter()

	api.HandleFunc("/health/apikey", s.requireAPIKey(s.handleHealth)).Methods(http.MethodGet)
	api.HandleFunc("/projects", s.handleCreateProject).Methods(http.MethodPost)
	api.HandleFunc("/devices", s.requireAPIKey(s.handleDevice)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/begin", s.requireAPIKey(s.handleBeginSession)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/finish", s.requireAPIKey(s.handleFinishSession)).Methods(http.MethodPost)
	api.HandleFunc("/events", s.requireAPIKey(s.handleEvent)).Methods(http.MethodPost)
	api.HandleFunc("/events/batch", s.requireAPIKey(s.handleEventBatch)).Methods(http.MethodPost)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseFunc(s.faultInjection)
	n.UseHandler(router)
	return n
}

func (s *Server) faultInjection(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	path := apiPath(r.URL.Path)

	s.mu.Lock()
	s.hits[path]++
	var status int
	if queued := s.faults[path]; len(queued) > 0 {
		status = queued[0]
		s.faults[path] = queued[1:]
	}
	s.mu.Unlock()

	if status != 0 {
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
		return
	}
	next(w, r)
}

func (s *Server) requireAPIKey(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(apiKeyHeader) != s.apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid api key"})
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "name is required"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":       uuid.NewString(),
		"name":     req.Name,
		"api_key":  uuid.NewString(),
		"owner_id": uuid.NewString(),
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req["identifier"] == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "identifier is required"})
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, map[string]string{
		"device_id":        uuid.NewString(),
		"identifier":       req["identifier"],
		"platform":         req["platform"],
		"platform_version": req["platform_version"],
		"app_version":      req["app_version"],
		"first_seen":       now,
		"last_seen":        now,
		"ip_address":       "127.0.0.1",
		"country":          "unknown",
	})
}

func (s *Server) handleBeginSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "identifier is required"})
		return
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = req.Identifier
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}
	s.mu.Lock()
	_, ok := s.sessions[req.SessionID]
	delete(s.sessions, req.SessionID)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "session finished"})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev eventcache.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed event"})
		return
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"message": "event recorded"})
}

func (s *Server) handleEventBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Events []eventcache.Event `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed batch"})
		return
	}
	s.mu.Lock()
	s.events = append(s.events, req.Events...)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"message": "events recorded", "count": len(req.Events)})
}

// apiPath strips the /api/{version} prefix.
func apiPath(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) == 3 && parts[0] == "api" {
		return "/" + parts[2]
	}
	return path
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
