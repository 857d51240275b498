// Package health tracks per-session endpoint failures and derives the
// availability verdict used by candidate selection.
package health

import (
	"slices"
	"sync"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
)

// Config holds health verdict settings.
type Config struct {
	// Threshold is the consecutive countable failures after which a
	// non-primary endpoint is excluded for the session.
	Threshold int
	// CountRateLimited makes rate-limited outcomes count toward Threshold.
	CountRateLimited bool
}

// DefaultConfig returns the stock health settings.
func DefaultConfig() Config {
	return Config{Threshold: 3}
}

// Counters is the diagnostic view of one endpoint within a session.
type Counters struct {
	Failures            int                   `json:"failures"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	LastClassification  domain.Classification `json:"last_classification,omitempty"`
	LastFailureAt       time.Time             `json:"last_failure_at,omitempty"`
	Healthy             bool                  `json:"healthy"`
}

// Snapshot maps endpoint id to its counters.
type Snapshot map[string]Counters

type endpointState struct {
	mu sync.Mutex

	failures           int
	consecutive        int
	lastClassification domain.Classification
	lastFailureAt      time.Time
}

// sessionState is created with one entry per registry endpoint and its map is
// never written afterwards, so only the per-endpoint mutexes are taken.
type sessionState struct {
	endpoints map[string]*endpointState
}

// Tracker holds the health state of every live session. Sessions never share
// state; within a session each endpoint's counters are updated under its own
// mutex.
type Tracker struct {
	cfg      Config
	registry *domain.Registry
	now      func() time.Time

	sessions sync.Map // session id -> *sessionState
}

// NewTracker creates a tracker for the endpoints in registry.
func NewTracker(registry *domain.Registry, cfg Config) *Tracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	return &Tracker{
		cfg:      cfg,
		registry: registry,
		now:      time.Now,
	}
}

// Open creates the session's state if it does not exist yet. It is the only
// place session state is created.
func (t *Tracker) Open(sessionID string) {
	if _, ok := t.sessions.Load(sessionID); ok {
		return
	}
	s := &sessionState{endpoints: make(map[string]*endpointState)}
	for _, ep := range t.registry.All() {
		s.endpoints[ep.ID] = &endpointState{}
	}
	t.sessions.LoadOrStore(sessionID, s)
}

// Drop discards a finished session.
func (t *Tracker) Drop(sessionID string) {
	t.sessions.Delete(sessionID)
}

// Live reports whether the session is open.
func (t *Tracker) Live(sessionID string) bool {
	_, ok := t.sessions.Load(sessionID)
	return ok
}

// Sessions returns the ids of live sessions, sorted.
func (t *Tracker) Sessions() []string {
	var out []string
	t.sessions.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	slices.Sort(out)
	return out
}

// Countable reports whether class advances the consecutive-failure counter.
func (t *Tracker) Countable(class domain.Classification) bool {
	if class == domain.ClassRateLimited {
		return t.cfg.CountRateLimited
	}
	return class.Policy().Countable
}

// RecordOutcome applies one terminal attempt outcome. Success clears the
// consecutive counter; every failure bumps the total; only countable failures
// bump the consecutive counter. Outcomes for sessions that were never opened
// or have been dropped are ignored.
func (t *Tracker) RecordOutcome(sessionID, endpointID string, class domain.Classification) {
	v, ok := t.sessions.Load(sessionID)
	if !ok {
		return
	}
	st, ok := v.(*sessionState).endpoints[endpointID]
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !class.IsFailure() {
		st.consecutive = 0
		return
	}

	st.failures++
	st.lastClassification = class
	st.lastFailureAt = t.now()
	if t.Countable(class) {
		st.consecutive++
	}
}

// IsHealthy reports the endpoint's verdict. Primary endpoints are always
// healthy. Unknown sessions have no recorded failures.
func (t *Tracker) IsHealthy(sessionID, endpointID string) bool {
	if t.registry.IsPrimary(endpointID) {
		return true
	}

	v, ok := t.sessions.Load(sessionID)
	if !ok {
		return true
	}
	st, ok := v.(*sessionState).endpoints[endpointID]
	if !ok {
		return true
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.consecutive < t.cfg.Threshold
}

// Reset clears every counter in the session.
func (t *Tracker) Reset(sessionID string) {
	v, ok := t.sessions.Load(sessionID)
	if !ok {
		return
	}
	for _, st := range v.(*sessionState).endpoints {
		st.mu.Lock()
		st.failures = 0
		st.consecutive = 0
		st.lastClassification = ""
		st.lastFailureAt = time.Time{}
		st.mu.Unlock()
	}
}

// Snapshot returns a copy of the session's counters. ok is false for an
// unknown session.
func (t *Tracker) Snapshot(sessionID string) (Snapshot, bool) {
	v, ok := t.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}

	snap := make(Snapshot, len(v.(*sessionState).endpoints))
	for id, st := range v.(*sessionState).endpoints {
		st.mu.Lock()
		c := Counters{
			Failures:            st.failures,
			ConsecutiveFailures: st.consecutive,
			LastClassification:  st.lastClassification,
			LastFailureAt:       st.lastFailureAt,
		}
		st.mu.Unlock()
		c.Healthy = t.registry.IsPrimary(id) || c.ConsecutiveFailures < t.cfg.Threshold
		snap[id] = c
	}
	return snap, true
}
