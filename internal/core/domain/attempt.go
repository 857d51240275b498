package domain

import "time"

// AttemptRecord describes one try against one endpoint. It is handed to
// observers and not retained.
type AttemptRecord struct {
	SessionID      string
	Capability     Capability
	EndpointID     string
	Attempt        int
	StartedAt      time.Time
	Latency        time.Duration
	Classification Classification
	Err            error
	// Terminal is false when the policy scheduled another try on the same endpoint.
	Terminal bool
	// Expected marks the expected-offline signature of a known-unreliable endpoint.
	Expected bool
}

// Succeeded reports whether the attempt returned a result.
func (r AttemptRecord) Succeeded() bool {
	return r.Classification == ClassSuccess
}

// RequestRecord summarizes one logical request after it reached a terminal state.
type RequestRecord struct {
	SessionID  string
	Capability Capability
	Strategy   StrategyKind
	EndpointID string // winning endpoint, empty on failure
	Succeeded  bool
	Candidates int
	Duration   time.Duration
}
