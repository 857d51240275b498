package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/rpc/failover"
	"github.com/vietddude/failover/internal/infra/rpc/health"
	"github.com/vietddude/failover/internal/infra/rpc/provider"
	"github.com/vietddude/failover/internal/infra/rpc/routing"
	"github.com/vietddude/failover/internal/infra/rpc/telemetry"
)

// ErrUnknownSession is returned for session ids that were never started or
// have already ended.
var ErrUnknownSession = errors.New("unknown session")

// EngineOptions configures an Engine.
type EngineOptions struct {
	Registry     *domain.Registry
	Transport    provider.Transport
	Capabilities map[domain.Capability]failover.CapabilityPolicy
	Retry        routing.RetryPolicy
	Health       health.Config
	Observer     telemetry.Observer
	Logger       *slog.Logger
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// Engine is the high-level entry point application code should use. It owns
// the health tracker, selector and executor for one descriptor set.
type Engine struct {
	registry *domain.Registry
	tracker  *health.Tracker
	selector *routing.Selector
	executor *failover.Executor
	log      *slog.Logger

	sessions sync.Map // id -> SessionInfo
}

// NewEngine wires an engine from opts.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Registry == nil || len(opts.Registry.All()) == 0 {
		return nil, domain.ErrNoEndpoints
	}
	if opts.Transport == nil {
		return nil, errors.New("engine: transport is required")
	}
	if opts.Health.Threshold == 0 {
		opts.Health = health.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = telemetry.NewLogObserver(opts.Logger)
	}

	for c, p := range opts.Capabilities {
		if _, err := opts.Registry.Primary(c); err != nil {
			return nil, fmt.Errorf("capability %s: %w", c, err)
		}
		if _, err := domain.ParseStrategy(string(p.Strategy)); err != nil {
			return nil, fmt.Errorf("capability %s: %w", c, err)
		}
	}

	tracker := health.NewTracker(opts.Registry, opts.Health)
	selector := routing.NewSelector(opts.Registry, tracker)
	executor := failover.NewExecutor(selector, tracker, opts.Transport, opts.Observer, failover.Config{
		Retry:        opts.Retry,
		Capabilities: opts.Capabilities,
	})

	return &Engine{
		registry: opts.Registry,
		tracker:  tracker,
		selector: selector,
		executor: executor,
		log:      opts.Logger.With("component", "engine"),
	}, nil
}

// Registry returns the engine's descriptor set.
func (e *Engine) Registry() *domain.Registry {
	return e.registry
}

// StartSession creates fresh health state and returns the new session id.
func (e *Engine) StartSession() string {
	id := uuid.NewString()
	e.sessions.Store(id, SessionInfo{ID: id, StartedAt: time.Now()})
	e.tracker.Open(id)
	e.log.Debug("session started", "session", id)
	return id
}

// EndSession discards the session's health and rotation state. Requests
// still in flight for the session finish normally but record nothing.
func (e *Engine) EndSession(sessionID string) error {
	if _, ok := e.sessions.LoadAndDelete(sessionID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	e.tracker.Drop(sessionID)
	e.selector.ForgetSession(sessionID)
	e.log.Debug("session ended", "session", sessionID)
	return nil
}

// Sessions lists the live sessions, oldest first.
func (e *Engine) Sessions() []SessionInfo {
	var out []SessionInfo
	e.sessions.Range(func(_, v any) bool {
		out = append(out, v.(SessionInfo))
		return true
	})
	slices.SortStableFunc(out, func(a, b SessionInfo) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

// Execute runs op for capability c within a session using the capability's
// configured strategy.
func (e *Engine) Execute(ctx context.Context, sessionID string, c domain.Capability, op provider.Operation) (*failover.Result, error) {
	if !e.known(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return e.executor.Execute(ctx, sessionID, c, op)
}

// ExecuteWith runs op with an explicit strategy, overriding configuration.
func (e *Engine) ExecuteWith(
	ctx context.Context,
	sessionID string,
	c domain.Capability,
	kind domain.StrategyKind,
	op provider.Operation,
) (*failover.Result, error) {
	if !e.known(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return e.executor.ExecuteWith(ctx, sessionID, c, kind, op)
}

// GetHealthStatus returns the session's per-endpoint counters.
func (e *Engine) GetHealthStatus(sessionID string) (health.Snapshot, error) {
	if !e.known(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	snap, ok := e.tracker.Snapshot(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return snap, nil
}

// ResetHealth clears every counter in the session.
func (e *Engine) ResetHealth(sessionID string) error {
	if !e.known(sessionID) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	e.tracker.Reset(sessionID)
	e.log.Info("session health reset", "session", sessionID)
	return nil
}

// Policy returns the effective strategy and timeout for c.
func (e *Engine) Policy(c domain.Capability) failover.CapabilityPolicy {
	return e.executor.Policy(c)
}

func (e *Engine) known(sessionID string) bool {
	_, ok := e.sessions.Load(sessionID)
	return ok
}

// SessionIDs lists the live session ids, sorted.
func (e *Engine) SessionIDs() []string {
	var ids []string
	e.sessions.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	slices.Sort(ids)
	return ids
}
