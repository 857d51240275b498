// Package health serves the engine's HTTP surface: session lifecycle, request
// execution, liveness, per-session endpoint health, explicit reset and
// Prometheus metrics.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/rpc"
)

// maxExecuteBody bounds the size of an execute request.
const maxExecuteBody = 1 << 20

// Status is the aggregate liveness state.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// Engine is the engine surface the server exposes. *rpc.Engine implements it.
type Engine interface {
	StartSession() string
	EndSession(sessionID string) error
	Sessions() []rpc.SessionInfo
	Policy(c domain.Capability) rpc.CapabilityPolicy
	ExecuteWith(ctx context.Context, sessionID string, c domain.Capability, kind domain.StrategyKind, op rpc.Operation) (*rpc.Result, error)
	GetHealthStatus(sessionID string) (rpc.HealthSnapshot, error)
	ResetHealth(sessionID string) error
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	engine Engine
	checks map[string]Check
	server *http.Server
}

// NewServer creates a new health server.
func NewServer(engine Engine, port int) *Server {
	s := &Server{
		engine: engine,
		checks: make(map[string]Check),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// AddCheck registers a dependency check reported by /health.
func (s *Server) AddCheck(name string, check Check) {
	s.checks[name] = check
}

// Handler returns the routing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("POST /sessions", s.handleStartSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleEndSession)
	mux.HandleFunc("POST /sessions/{id}/execute", s.handleExecute)
	mux.HandleFunc("GET /sessions/{id}/health", s.handleSessionHealth)
	mux.HandleFunc("POST /sessions/{id}/reset", s.handleReset)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status   Status            `json:"status"`
	Sessions int               `json:"sessions"`
	Checks   map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   StatusHealthy,
		Sessions: len(s.engine.Sessions()),
	}

	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		resp.Checks = make(map[string]string, len(names))
		for _, name := range names {
			if err := s.checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = StatusDegraded
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	code := http.StatusOK
	if resp.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.engine.Sessions()
	if sessions == nil {
		sessions = []rpc.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id := s.engine.StartSession()
	writeJSON(w, http.StatusCreated, map[string]string{"session": id})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.EndSession(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": id, "status": "ended"})
}

// executeRequest is the body of POST /sessions/{id}/execute.
type executeRequest struct {
	Capability string            `json:"capability"`
	Strategy   string            `json:"strategy,omitempty"`
	Name       string            `json:"name,omitempty"`
	Path       string            `json:"path,omitempty"`
	Method     string            `json:"method,omitempty"`
	Header     map[string]string `json:"header,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
}

type executeResponse struct {
	Endpoint  string `json:"endpoint"`
	Attempts  int    `json:"attempts"`
	LatencyMs int64  `json:"latency_ms"`
	Value     any    `json:"value"`
}

type candidateFailure struct {
	Endpoint       string               `json:"endpoint"`
	Classification domain.Classification `json:"classification"`
	Attempts       int                  `json:"attempts"`
	Error          string               `json:"error"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExecuteBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if req.Capability == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "capability is required"})
		return
	}

	capability := domain.Capability(req.Capability)
	kind := s.engine.Policy(capability).Strategy
	if req.Strategy != "" {
		parsed, err := domain.ParseStrategy(req.Strategy)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		kind = parsed
	}

	op := rpc.Operation{Name: req.Name, Path: req.Path, Method: req.Method}
	if len(req.Payload) > 0 {
		op.Payload = req.Payload
	}
	if len(req.Header) > 0 {
		op.Header = make(http.Header, len(req.Header))
		for k, v := range req.Header {
			op.Header.Set(k, v)
		}
	}

	res, err := s.engine.ExecuteWith(r.Context(), id, capability, kind, op)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{
		Endpoint:  res.EndpointID,
		Attempts:  res.Attempts,
		LatencyMs: res.Latency.Milliseconds(),
		Value:     res.Value,
	})
}

func (s *Server) handleSessionHealth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.engine.GetHealthStatus(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":   id,
		"endpoints": snap,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.ResetHealth(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": id, "status": "reset"})
}

func writeError(w http.ResponseWriter, err error) {
	var agg *rpc.AggregateFailure
	if errors.As(err, &agg) {
		failures := make([]candidateFailure, 0, len(agg.Failures))
		for _, f := range agg.Failures {
			failures = append(failures, candidateFailure{
				Endpoint:       f.EndpointID,
				Classification: f.Classification,
				Attempts:       f.Attempts,
				Error:          f.Message(),
			})
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":    err.Error(),
			"failures": failures,
		})
		return
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, rpc.ErrUnknownSession):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownCapability):
		code = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
