package routing

import (
	"slices"

	"github.com/vietddude/failover/internal/core/domain"
)

// Order arranges healthy candidates for a strategy. candidates must already
// be in priority order. offset is only used by round-robin.
func Order(kind domain.StrategyKind, candidates []*domain.Endpoint, offset uint64) []*domain.Endpoint {
	if len(candidates) == 0 {
		return nil
	}

	switch kind {
	case domain.StrategyPrimaryOnly:
		return candidates[:1]
	case domain.StrategyRoundRobin:
		start := int(offset % uint64(len(candidates)))
		out := make([]*domain.Endpoint, 0, len(candidates))
		out = append(out, candidates[start:]...)
		return append(out, candidates[:start]...)
	default:
		// fallback-on-error and concurrent-race share the priority order;
		// the executor decides sequential vs parallel dispatch.
		return slices.Clone(candidates)
	}
}
