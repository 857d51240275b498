package domain

import "fmt"

// StrategyKind names a candidate ordering and dispatch policy.
type StrategyKind string

const (
	StrategyPrimaryOnly     StrategyKind = "primary-only"
	StrategyFallbackOnError StrategyKind = "fallback-on-error"
	StrategyRoundRobin      StrategyKind = "round-robin"
	StrategyConcurrentRace  StrategyKind = "concurrent-race"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (StrategyKind, error) {
	switch k := StrategyKind(s); k {
	case StrategyPrimaryOnly, StrategyFallbackOnError, StrategyRoundRobin, StrategyConcurrentRace:
		return k, nil
	case "":
		return StrategyFallbackOnError, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

// Concurrent reports whether candidates are dispatched in parallel.
func (k StrategyKind) Concurrent() bool {
	return k == StrategyConcurrentRace
}
