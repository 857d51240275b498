// Package failover drives one logical request across its candidate
// endpoints.
//
// Per request the states are Pending, Attempting(endpoint, retry) and the
// terminal Succeeded or Failed. Sequential strategies walk the candidates in
// selector order; concurrent-race dispatches all of them and keeps the first
// success.
package failover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/rpc/provider"
	"github.com/vietddude/failover/internal/infra/rpc/routing"
	"github.com/vietddude/failover/internal/infra/rpc/telemetry"
)

// DefaultTimeout applies to capabilities without a configured timeout.
const DefaultTimeout = 30 * time.Second

// CandidateSelector produces the ordered candidates for a request.
type CandidateSelector interface {
	SelectCandidates(sessionID string, c domain.Capability, kind domain.StrategyKind) ([]*domain.Endpoint, error)
}

// OutcomeRecorder receives each candidate's terminal classification.
type OutcomeRecorder interface {
	RecordOutcome(sessionID, endpointID string, class domain.Classification)
}

// CapabilityPolicy is the per-capability strategy and attempt timeout.
type CapabilityPolicy struct {
	Strategy domain.StrategyKind
	Timeout  time.Duration
}

// Config holds executor configuration.
type Config struct {
	Retry        routing.RetryPolicy
	Capabilities map[domain.Capability]CapabilityPolicy
}

// Result is the outcome of a successful request.
type Result struct {
	EndpointID string
	Value      any
	// Attempts is the number of tries on the winning endpoint.
	Attempts int
	Latency  time.Duration
}

// Executor runs logical requests. It holds no per-request state and is safe
// for concurrent use.
type Executor struct {
	selector  CandidateSelector
	recorder  OutcomeRecorder
	transport provider.Transport
	observer  telemetry.Observer
	retry     routing.RetryPolicy
	policies  map[domain.Capability]CapabilityPolicy

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor.
func NewExecutor(
	selector CandidateSelector,
	recorder OutcomeRecorder,
	transport provider.Transport,
	observer telemetry.Observer,
	cfg Config,
) *Executor {
	if observer == nil {
		observer = telemetry.Nop{}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = routing.DefaultRetryPolicy
	}
	policies := make(map[domain.Capability]CapabilityPolicy, len(cfg.Capabilities))
	for c, p := range cfg.Capabilities {
		policies[c] = p
	}
	return &Executor{
		selector:  selector,
		recorder:  recorder,
		transport: transport,
		observer:  observer,
		retry:     cfg.Retry,
		policies:  policies,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Policy returns the strategy and timeout used for c.
func (e *Executor) Policy(c domain.Capability) CapabilityPolicy {
	p := e.policies[c]
	if p.Strategy == "" {
		p.Strategy = domain.StrategyFallbackOnError
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

// Execute runs op for capability c with the capability's configured strategy.
func (e *Executor) Execute(ctx context.Context, sessionID string, c domain.Capability, op provider.Operation) (*Result, error) {
	return e.ExecuteWith(ctx, sessionID, c, e.Policy(c).Strategy, op)
}

// ExecuteWith runs op with an explicit strategy. It returns either a Result,
// an *AggregateFailure, or the context's error if the caller cancelled.
func (e *Executor) ExecuteWith(
	ctx context.Context,
	sessionID string,
	c domain.Capability,
	kind domain.StrategyKind,
	op provider.Operation,
) (*Result, error) {
	candidates, err := e.selector.SelectCandidates(sessionID, c, kind)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}

	req := request{
		sessionID:  sessionID,
		capability: c,
		strategy:   kind,
		timeout:    e.Policy(c).Timeout,
		op:         op,
	}

	start := e.now()
	var res *Result
	if kind.Concurrent() && len(candidates) > 1 {
		res, err = e.race(ctx, req, candidates)
	} else {
		res, err = e.sequential(ctx, req, candidates)
	}

	if ctx.Err() == nil || res != nil {
		rec := domain.RequestRecord{
			SessionID:  sessionID,
			Capability: c,
			Strategy:   kind,
			Succeeded:  err == nil,
			Candidates: len(candidates),
			Duration:   e.now().Sub(start),
		}
		if res != nil {
			rec.EndpointID = res.EndpointID
		}
		e.observer.ObserveRequest(rec)
	}
	return res, err
}

type request struct {
	sessionID  string
	capability domain.Capability
	strategy   domain.StrategyKind
	timeout    time.Duration
	op         provider.Operation
}

// outcome is the terminal state of one candidate's retry loop.
type outcome struct {
	value    any
	class    domain.Classification
	err      error
	attempts int
	latency  time.Duration
	// aborted attempts were cut short by cancellation and are discarded.
	// An endpoint that answers after cancellation still completes.
	aborted bool
}

func (e *Executor) sequential(ctx context.Context, req request, candidates []*domain.Endpoint) (*Result, error) {
	failures := make([]CandidateFailure, 0, len(candidates))

	for _, ep := range candidates {
		out := e.attemptEndpoint(ctx, req, ep)
		if out.aborted {
			return nil, ctx.Err()
		}

		e.recorder.RecordOutcome(req.sessionID, ep.ID, out.class)
		if out.class == domain.ClassSuccess {
			return &Result{EndpointID: ep.ID, Value: out.value, Attempts: out.attempts, Latency: out.latency}, nil
		}
		failures = append(failures, CandidateFailure{
			EndpointID:     ep.ID,
			Classification: out.class,
			Attempts:       out.attempts,
			Err:            out.err,
		})
	}

	return nil, &AggregateFailure{
		SessionID:  req.sessionID,
		Capability: req.capability,
		Strategy:   req.strategy,
		Failures:   failures,
	}
}

// attemptEndpoint runs the retry loop against one endpoint.
func (e *Executor) attemptEndpoint(ctx context.Context, req request, ep *domain.Endpoint) outcome {
	var total time.Duration
	for attempt := 1; ; attempt++ {
		start := e.now()
		attemptCtx, cancel := context.WithTimeout(ctx, req.timeout)
		value, err := e.transport.Invoke(attemptCtx, ep, req.op)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()
		latency := e.now().Sub(start)
		total += latency

		if cutShort(ctx, err) {
			return outcome{aborted: true, attempts: attempt}
		}

		class := routing.Classify(ep, err)
		if err != nil && timedOut {
			class = domain.ClassTimeout
		}

		retry, delay := false, time.Duration(0)
		if err != nil {
			retry, delay = e.retry.ShouldRetry(attempt, class, routing.RetryAfterHint(err))
		}

		e.observer.ObserveAttempt(domain.AttemptRecord{
			SessionID:      req.sessionID,
			Capability:     req.capability,
			EndpointID:     ep.ID,
			Attempt:        attempt,
			StartedAt:      start,
			Latency:        latency,
			Classification: class,
			Err:            err,
			Terminal:       !retry,
			Expected:       ep.KnownUnreliable && class == domain.ClassExpectedOffline,
		})

		if err == nil {
			return outcome{value: value, class: class, attempts: attempt, latency: total}
		}
		if !retry {
			return outcome{class: class, err: err, attempts: attempt, latency: total}
		}

		if err := e.sleep(ctx, delay); err != nil {
			return outcome{aborted: true, attempts: attempt}
		}
	}
}

// cutShort reports whether the attempt ended because ctx was cancelled rather
// than with an answer of its own. Outcomes that complete after cancellation,
// successes included, still count.
func cutShort(ctx context.Context, err error) bool {
	if ctx.Err() == nil || err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
