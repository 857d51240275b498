// Package rpc is the failover engine for multi-provider outbound calls.
//
// Each logical request is routed to one of several interchangeable endpoints
// serving a capability. Failures are classified, retried with backoff and
// failed over to the next healthy endpoint; health is tracked per session.
//
// # Quick Start
//
//	import "github.com/vietddude/failover/internal/infra/rpc"
//
//	registry, _ := rpc.NewRegistry(endpoints)
//	engine, _ := rpc.NewEngine(rpc.EngineOptions{
//	    Registry:  registry,
//	    Transport: rpc.NewHTTPTransport(16),
//	})
//
//	session := engine.StartSession()
//	defer engine.EndSession(session)
//
//	res, err := engine.Execute(ctx, session, rpc.CapabilityLLM, rpc.Operation{
//	    Path:    "/v1/chat/completions",
//	    Payload: body,
//	})
//
// # Package Structure
//
//   - provider/  - Transport implementations (HTTP, gRPC, mux) and StatusError
//   - routing/   - Error classification, retry policy, candidate selection
//   - health/    - Per-session health tracking
//   - failover/  - Sequential and concurrent-race execution
//   - telemetry/ - Attempt and request observers
//
// Most types are re-exported at the root level for convenience.
package rpc

import (
	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/rpc/failover"
	"github.com/vietddude/failover/internal/infra/rpc/health"
	"github.com/vietddude/failover/internal/infra/rpc/provider"
	"github.com/vietddude/failover/internal/infra/rpc/routing"
	"github.com/vietddude/failover/internal/infra/rpc/telemetry"
)

// =============================================================================
// Re-exported types from domain package
// =============================================================================

// Endpoint describes one interchangeable provider.
type Endpoint = domain.Endpoint

// Registry is the immutable descriptor set.
type Registry = domain.Registry

// Capability is a kind of work an endpoint serves.
type Capability = domain.Capability

// Classification is the failure taxonomy.
type Classification = domain.Classification

// StrategyKind selects how candidates are ordered and dispatched.
type StrategyKind = domain.StrategyKind

// Capabilities
const (
	CapabilityLLM       = domain.CapabilityLLM
	CapabilitySearch    = domain.CapabilitySearch
	CapabilityTranslate = domain.CapabilityTranslate
)

// Strategies
const (
	StrategyPrimaryOnly     = domain.StrategyPrimaryOnly
	StrategyFallbackOnError = domain.StrategyFallbackOnError
	StrategyRoundRobin      = domain.StrategyRoundRobin
	StrategyConcurrentRace  = domain.StrategyConcurrentRace
)

// NewRegistry validates endpoints and builds a registry.
func NewRegistry(endpoints []Endpoint) (*Registry, error) {
	return domain.NewRegistry(endpoints)
}

// =============================================================================
// Re-exported types from provider package
// =============================================================================

// Transport performs one attempt against an endpoint.
type Transport = provider.Transport

// Operation is the transport-agnostic request to execute.
type Operation = provider.Operation

// StatusError is a failure carrying an upstream status code.
type StatusError = provider.StatusError

// NewHTTPTransport creates the JSON-over-HTTP transport.
func NewHTTPTransport(maxIdlePerHost int) *provider.HTTPTransport {
	return provider.NewHTTPTransport(maxIdlePerHost)
}

// NewGRPCTransport creates the gRPC transport.
func NewGRPCTransport() *provider.GRPCTransport {
	return provider.NewGRPCTransport()
}

// =============================================================================
// Re-exported types from routing, health and failover packages
// =============================================================================

// RetryPolicy defines per-endpoint retry behavior.
type RetryPolicy = routing.RetryPolicy

// DefaultRetryPolicy provides the stock retry defaults.
var DefaultRetryPolicy = routing.DefaultRetryPolicy

// HealthConfig configures the health tracker.
type HealthConfig = health.Config

// HealthSnapshot maps endpoint id to its counters.
type HealthSnapshot = health.Snapshot

// CapabilityPolicy is the per-capability strategy and attempt timeout.
type CapabilityPolicy = failover.CapabilityPolicy

// Result is the outcome of a successful request.
type Result = failover.Result

// AggregateFailure is returned when every candidate failed.
type AggregateFailure = failover.AggregateFailure

// ErrAllCandidatesFailed matches any AggregateFailure.
var ErrAllCandidatesFailed = failover.ErrAllCandidatesFailed

// Observer receives attempt and request records.
type Observer = telemetry.Observer
