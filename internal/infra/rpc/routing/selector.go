package routing

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vietddude/failover/internal/core/domain"
)

// HealthChecker reports an endpoint's verdict within a session.
type HealthChecker interface {
	IsHealthy(sessionID, endpointID string) bool
}

// sessionLiveness is implemented by health checkers that know which sessions
// are live. Rotation state is kept only for live sessions.
type sessionLiveness interface {
	Live(sessionID string) bool
}

type rotationKey struct {
	session    string
	capability domain.Capability
}

// Selector produces ordered candidate lists from the descriptor set and the
// session's health state.
type Selector struct {
	registry *domain.Registry
	health   HealthChecker

	offsets sync.Map // rotationKey -> *atomic.Uint64
}

// NewSelector creates a selector over a registry.
func NewSelector(registry *domain.Registry, health HealthChecker) *Selector {
	return &Selector{registry: registry, health: health}
}

// SelectCandidates returns the ordered endpoints to try for one request.
// The result is never empty: the primary is returned alone when filtering
// removes everything.
func (s *Selector) SelectCandidates(
	sessionID string,
	capability domain.Capability,
	kind domain.StrategyKind,
) ([]*domain.Endpoint, error) {
	primary, err := s.registry.Primary(capability)
	if err != nil {
		return nil, err
	}
	if kind == domain.StrategyPrimaryOnly {
		return []*domain.Endpoint{primary}, nil
	}

	var healthy []*domain.Endpoint
	for _, ep := range s.registry.ForCapability(capability) {
		if ep.IsPrimary() || ep == primary || s.health == nil || s.health.IsHealthy(sessionID, ep.ID) {
			healthy = append(healthy, ep)
		}
	}
	if len(healthy) == 0 {
		return []*domain.Endpoint{primary}, nil
	}

	var offset uint64
	if kind == domain.StrategyRoundRobin {
		offset = s.nextOffset(sessionID, capability)
	}

	ordered := Order(kind, healthy, offset)
	if len(ordered) == 0 {
		return nil, fmt.Errorf("strategy %s produced no candidates for %s", kind, capability)
	}
	return ordered, nil
}

func (s *Selector) nextOffset(sessionID string, capability domain.Capability) uint64 {
	key := rotationKey{session: sessionID, capability: capability}
	if v, ok := s.offsets.Load(key); ok {
		return v.(*atomic.Uint64).Add(1) - 1
	}
	if l, ok := s.health.(sessionLiveness); ok && !l.Live(sessionID) {
		return 0
	}
	v, _ := s.offsets.LoadOrStore(key, new(atomic.Uint64))
	return v.(*atomic.Uint64).Add(1) - 1
}

// ForgetSession drops round-robin state for a finished session.
func (s *Selector) ForgetSession(sessionID string) {
	s.offsets.Range(func(k, _ any) bool {
		if k.(rotationKey).session == sessionID {
			s.offsets.Delete(k)
		}
		return true
	})
}
