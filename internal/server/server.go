// Package server exposes the decoupled suggest/register protocol over HTTP:
// callers create an optimization session, pull suggestions, evaluate the
// objective wherever they like, and register the results.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/crestlabs/crest/internal/config"
	"github.com/crestlabs/crest/internal/logging"
	"github.com/crestlabs/crest/internal/optimization"
	"github.com/crestlabs/crest/internal/optimization/acquisition"
	"github.com/crestlabs/crest/internal/optimization/engine"
)

// Logger is the logging interface used by the server.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

var (
	suggestionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crest_suggestions_total",
		Help: "Number of suggestions served across all sessions.",
	})
	registrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crest_registrations_total",
		Help: "Number of observations registered across all sessions.",
	})
	registerFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crest_register_failures_total",
		Help: "Number of rejected registrations (bad dimension or non-finite target).",
	})
)

// session couples one engine with its creation time.
type session struct {
	ID      string
	Engine  *engine.Engine
	Created time.Time
}

// Server manages optimization sessions over a chi router.
type Server struct {
	cfg    *config.Config
	logger Logger

	mu       sync.RWMutex
	sessions map[string]*session
	seq      uint64
}

// NewServer creates a server with the given config and logger.
func NewServer(cfg *config.Config, logger Logger) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// RegisterRoutes mounts the API on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleSessionStatus)
		r.Delete("/{id}", s.handleDeleteSession)
		r.Post("/{id}/suggest", s.handleSuggest)
		r.Post("/{id}/register", s.handleRegister)
		r.Get("/{id}/best", s.handleBest)
		r.Put("/{id}/bounds", s.handleSetBounds)
	})
}

type boundJSON struct {
	Name string  `json:"name"`
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

type createSessionRequest struct {
	Bounds      []boundJSON `json:"bounds"`
	RandomSeed  int64       `json:"random_seed,omitempty"`
	WarmupDraws int         `json:"warmup_draws,omitempty"`
	Restarts    int         `json:"restarts,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Bounds) == 0 {
		s.respondError(w, http.StatusBadRequest, "bounds are required")
		return
	}

	bounds := make(optimization.Bounds, len(req.Bounds))
	for i, b := range req.Bounds {
		bounds[i] = optimization.Bound{Name: b.Name, Low: b.Low, High: b.High}
	}

	warmup := req.WarmupDraws
	if warmup == 0 {
		warmup = s.cfg.Optimization.WarmupDraws
	}
	restarts := req.Restarts
	if restarts == 0 {
		restarts = s.cfg.Optimization.Restarts
	}
	seed := req.RandomSeed
	if seed == 0 {
		seed = s.cfg.Optimization.RandomSeed
	}

	eng, err := engine.New(engine.Config{
		Bounds:      bounds,
		RandomSeed:  seed,
		WarmupDraws: warmup,
		Restarts:    restarts,
		Logger:      logging.NewZapLogger(s.logger.WithFields(nil)),
	})
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("sess_%d_%d", time.Now().Unix(), s.seq)
	s.sessions[id] = &session{ID: id, Engine: eng, Created: time.Now()}
	s.mu.Unlock()

	s.logger.Info("session created", map[string]interface{}{
		"session_id": id,
		"dimensions": bounds.Dim(),
	})

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": id,
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	resp := map[string]interface{}{
		"session_id":   sess.ID,
		"created":      sess.Created.Format(time.RFC3339),
		"state":        sess.Engine.State().String(),
		"observations": sess.Engine.Observations(),
		"bounds":       boundsJSON(sess.Engine.Bounds()),
	}
	if best, ok := sess.Engine.Best(); ok {
		resp["best"] = observationJSON(sess.Engine.Bounds(), best)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, found := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !found {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type suggestRequest struct {
	Kind  string  `json:"kind,omitempty"`
	Kappa float64 `json:"kappa,omitempty"`
	Xi    float64 `json:"xi,omitempty"`
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	req := suggestRequest{Kind: string(acquisition.UCB), Kappa: 2.576}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	acq, err := acquisition.New(acquisition.Kind(req.Kind), req.Kappa, req.Xi)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	point, err := sess.Engine.Suggest(acq)
	if err != nil {
		s.logger.Error("suggest failed", map[string]interface{}{
			"session_id": sess.ID,
			"error":      err.Error(),
		})
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	named, err := sess.Engine.Bounds().ToMap(point)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	suggestionsTotal.Inc()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"params": named,
	})
}

type registerRequest struct {
	Params map[string]float64 `json:"params"`
	Target float64            `json:"target"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if err := sess.Engine.RegisterParams(req.Params, req.Target); err != nil {
		registerFailuresTotal.Inc()
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	registrationsTotal.Inc()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"observations": sess.Engine.Observations(),
	})
}

func (s *Server) handleBest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	best, found := sess.Engine.Best()
	if !found {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"empty": true})
		return
	}
	s.respondJSON(w, http.StatusOK, observationJSON(sess.Engine.Bounds(), best))
}

type setBoundsRequest struct {
	Bounds []boundJSON `json:"bounds"`
}

// handleSetBounds replaces the session's domain. Stored observations are
// retained; only future suggestions use the new intervals.
func (s *Server) handleSetBounds(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req setBoundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	bounds := make(optimization.Bounds, len(req.Bounds))
	for i, b := range req.Bounds {
		bounds[i] = optimization.Bound{Name: b.Name, Low: b.Low, High: b.High}
	}
	if err := sess.Engine.SetBounds(bounds); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"bounds": boundsJSON(sess.Engine.Bounds()),
	})
}

// lookup resolves the session from the URL, writing a 404 when absent.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session, bool) {
	id := chi.URLParam(r, "id")
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		s.respondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encoding failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", map[string]interface{}{"status": status, "message": message})
	}
	s.respondJSON(w, status, map[string]string{"error": message})
}

// Close drops all sessions.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*session)
	return nil
}

func boundsJSON(bounds optimization.Bounds) []boundJSON {
	out := make([]boundJSON, len(bounds))
	for i, b := range bounds {
		out[i] = boundJSON{Name: b.Name, Low: b.Low, High: b.High}
	}
	return out
}

func observationJSON(bounds optimization.Bounds, obs optimization.Observation) map[string]interface{} {
	named, err := bounds.ToMap(obs.Params)
	if err != nil {
		named = map[string]float64{}
	}
	return map[string]interface{}{
		"params": named,
		"target": obs.Target,
	}
}
