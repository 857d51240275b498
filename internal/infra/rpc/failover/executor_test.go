package failover

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/rpc/health"
	"github.com/vietddude/failover/internal/infra/rpc/provider"
	"github.com/vietddude/failover/internal/infra/rpc/routing"
	"github.com/vietddude/failover/internal/infra/rpc/telemetry"
)

// scriptedTransport answers per endpoint with a handler that sees the attempt
// counter for that endpoint.
type scriptedTransport struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(ctx context.Context, attempt int) (any, error)
}

func newScripted(handlers map[string]func(ctx context.Context, attempt int) (any, error)) *scriptedTransport {
	return &scriptedTransport{calls: make(map[string]int), handlers: handlers}
}

func (s *scriptedTransport) Invoke(ctx context.Context, ep *domain.Endpoint, _ provider.Operation) (any, error) {
	s.mu.Lock()
	s.calls[ep.ID]++
	n := s.calls[ep.ID]
	h := s.handlers[ep.ID]
	s.mu.Unlock()
	if h == nil {
		return nil, errors.New("no handler")
	}
	return h(ctx, n)
}

func (s *scriptedTransport) Calls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

type captureObserver struct {
	mu       sync.Mutex
	attempts []domain.AttemptRecord
	requests []domain.RequestRecord
}

func (c *captureObserver) ObserveAttempt(rec domain.AttemptRecord) {
	c.mu.Lock()
	c.attempts = append(c.attempts, rec)
	c.mu.Unlock()
}

func (c *captureObserver) ObserveRequest(rec domain.RequestRecord) {
	c.mu.Lock()
	c.requests = append(c.requests, rec)
	c.mu.Unlock()
}

func (c *captureObserver) For(id string) []domain.AttemptRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.AttemptRecord
	for _, r := range c.attempts {
		if r.EndpointID == id {
			out = append(out, r)
		}
	}
	return out
}

func status(code int) error {
	return &provider.StatusError{StatusCode: code}
}

func succeed(v any) func(context.Context, int) (any, error) {
	return func(context.Context, int) (any, error) { return v, nil }
}

func fail(err error) func(context.Context, int) (any, error) {
	return func(context.Context, int) (any, error) { return nil, err }
}

// after answers with v after d, or with the context error if cancelled first.
func after(d time.Duration, v any) func(context.Context, int) (any, error) {
	return func(ctx context.Context, _ int) (any, error) {
		select {
		case <-time.After(d):
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type fixture struct {
	tracker   *health.Tracker
	transport *scriptedTransport
	observer  *captureObserver
	executor  *Executor
	delays    []time.Duration
}

func newFixture(t *testing.T, cfg Config, handlers map[string]func(context.Context, int) (any, error)) *fixture {
	t.Helper()
	reg, err := domain.NewRegistry([]domain.Endpoint{
		{ID: "primary", Priority: 0, Capabilities: []domain.Capability{domain.CapabilityLLM, domain.CapabilitySearch}},
		{ID: "backup-a", Priority: 1, Capabilities: []domain.Capability{domain.CapabilityLLM, domain.CapabilitySearch}},
		{ID: "backup-b", Priority: 2, Capabilities: []domain.Capability{domain.CapabilityLLM}, KnownUnreliable: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	f := &fixture{
		tracker:   health.NewTracker(reg, health.DefaultConfig()),
		transport: newScripted(handlers),
		observer:  &captureObserver{},
	}
	f.tracker.Open("s1")
	f.executor = NewExecutor(routing.NewSelector(reg, f.tracker), f.tracker, f.transport, f.observer, cfg)

	var mu sync.Mutex
	f.executor.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		f.delays = append(f.delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	return f
}

func (f *fixture) counters(t *testing.T) health.Snapshot {
	t.Helper()
	snap, ok := f.tracker.Snapshot("s1")
	if !ok {
		t.Fatal("session s1 missing")
	}
	return snap
}

func TestExecute_FallsBackAfterRetries(t *testing.T) {
	f := newFixture(t, Config{}, map[string]func(context.Context, int) (any, error){
		"primary":  fail(status(http.StatusServiceUnavailable)),
		"backup-a": succeed("ok"),
		"backup-b": succeed("unused"),
	})

	res, err := f.executor.Execute(context.Background(), "s1", domain.CapabilityLLM, provider.Operation{Name: "complete"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.EndpointID != "backup-a" || res.Value != "ok" || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := f.transport.Calls("primary"); got != 3 {
		t.Fatalf("primary calls = %d, want 3", got)
	}
	if got := f.transport.Calls("backup-b"); got != 0 {
		t.Fatalf("backup-b calls = %d, want 0", got)
	}

	snap := f.counters(t)
	if got := snap["primary"].ConsecutiveFailures; got != 1 {
		t.Fatalf("primary consecutive = %d, want 1", got)
	}
	if got := snap["backup-a"].ConsecutiveFailures; got != 0 {
		t.Fatalf("backup-a consecutive = %d, want 0", got)
	}
	if got := snap["backup-b"]; got.Failures != 0 || got.ConsecutiveFailures != 0 {
		t.Fatalf("backup-b counters = %+v, want zero", got)
	}

	want := []time.Duration{500 * time.Millisecond, 750 * time.Millisecond}
	if len(f.delays) != len(want) || f.delays[0] != want[0] || f.delays[1] != want[1] {
		t.Fatalf("delays = %v, want %v", f.delays, want)
	}

	recs := f.observer.For("primary")
	if len(recs) != 3 || recs[0].Terminal || recs[1].Terminal || !recs[2].Terminal {
		t.Fatalf("primary records = %+v", recs)
	}
}

func TestExecute_AggregateFailure(t *testing.T) {
	f := newFixture(t, Config{}, map[string]func(context.Context, int) (any, error){
		"primary":  fail(status(http.StatusUnauthorized)),
		"backup-a": fail(status(http.StatusBadRequest)),
		"backup-b": fail(status(http.StatusBadGateway)),
	})

	_, err := f.executor.Execute(context.Background(), "s1", domain.CapabilityLLM, provider.Operation{})
	if !errors.Is(err, ErrAllCandidatesFailed) {
		t.Fatalf("expected ErrAllCandidatesFailed, got %v", err)
	}
	var agg *AggregateFailure
	if !errors.As(err, &agg) {
		t.Fatalf("expected *AggregateFailure, got %T", err)
	}

	want := []domain.Classification{
		domain.ClassClientConfigError,
		domain.ClassClientConfigError,
		domain.ClassExpectedOffline,
	}
	got := agg.Classifications()
	if len(got) != len(want) {
		t.Fatalf("classifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("classifications = %v, want %v", got, want)
		}
	}
	for _, id := range []string{"primary", "backup-a", "backup-b"} {
		if n := f.transport.Calls(id); n != 1 {
			t.Fatalf("%s calls = %d, want 1", id, n)
		}
	}

	for _, rec := range f.observer.For("backup-b") {
		if !rec.Expected {
			t.Fatalf("backup-b record not marked expected: %+v", rec)
		}
		if lvl := telemetry.AttemptLevel(rec); lvl > slog.LevelDebug {
			t.Fatalf("backup-b logged at %v", lvl)
		}
	}

	snap := f.counters(t)
	if snap["backup-b"].ConsecutiveFailures != 0 {
		t.Fatalf("expected-offline advanced consecutive counter: %+v", snap["backup-b"])
	}
	if snap["backup-a"].ConsecutiveFailures != 1 {
		t.Fatalf("backup-a counters = %+v", snap["backup-a"])
	}
}

func TestExecute_NonRetryableSingleAttempt(t *testing.T) {
	f := newFixture(t, Config{
		Capabilities: map[domain.Capability]CapabilityPolicy{
			domain.CapabilityLLM: {Strategy: domain.StrategyPrimaryOnly},
		},
	}, map[string]func(context.Context, int) (any, error){
		"primary": fail(status(http.StatusInternalServerError)),
	})

	_, err := f.executor.Execute(context.Background(), "s1", domain.CapabilityLLM, provider.Operation{})
	var agg *AggregateFailure
	if !errors.As(err, &agg) || len(agg.Failures) != 1 {
		t.Fatalf("expected single-candidate aggregate, got %v", err)
	}
	if !agg.AllOf(domain.ClassServerError) {
		t.Fatalf("classifications = %v", agg.Classifications())
	}
	if n := f.transport.Calls("primary"); n != 1 {
		t.Fatalf("primary calls = %d, want 1", n)
	}
	if len(f.delays) != 0 {
		t.Fatalf("unexpected backoff: %v", f.delays)
	}
}

func TestExecute_RetryAfterHonored(t *testing.T) {
	f := newFixture(t, Config{}, map[string]func(context.Context, int) (any, error){
		"primary": func(_ context.Context, attempt int) (any, error) {
			if attempt == 1 {
				return nil, &provider.StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: 2 * time.Second}
			}
			return "ok", nil
		},
	})

	res, err := f.executor.Execute(context.Background(), "s1", domain.CapabilityLLM, provider.Operation{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.EndpointID != "primary" || res.Attempts != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(f.delays) != 1 || f.delays[0] != 2*time.Second {
		t.Fatalf("delays = %v, want [2s]", f.delays)
	}
}

func TestExecute_AttemptTimeout(t *testing.T) {
	f := newFixture(t, Config{
		Retry: routing.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond},
		Capabilities: map[domain.Capability]CapabilityPolicy{
			domain.CapabilityLLM: {Timeout: 20 * time.Millisecond},
		},
	}, map[string]func(context.Context, int) (any, error){
		"primary":  after(time.Second, "late"),
		"backup-a": succeed("ok"),
	})

	res, err := f.executor.Execute(context.Background(), "s1", domain.CapabilityLLM, provider.Operation{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.EndpointID != "backup-a" {
		t.Fatalf("winner = %s, want backup-a", res.EndpointID)
	}

	recs := f.observer.For("primary")
	if len(recs) != 2 {
		t.Fatalf("primary records = %d, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.Classification != domain.ClassTimeout {
			t.Fatalf("classification = %s, want timeout", rec.Classification)
		}
	}
}

func TestExecute_CallerCancellation(t *testing.T) {
	f := newFixture(t, Config{}, map[string]func(context.Context, int) (any, error){
		"primary": after(time.Minute, "never"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := f.executor.Execute(ctx, "s1", domain.CapabilityLLM, provider.Operation{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrAllCandidatesFailed) {
		t.Fatal("cancellation reported as aggregate failure")
	}
	if n := len(f.observer.For("primary")); n != 0 {
		t.Fatalf("cancelled attempt produced %d records", n)
	}
	if c := f.counters(t)["primary"]; c.Failures != 0 {
		t.Fatalf("cancelled attempt recorded: %+v", c)
	}
	if len(f.observer.requests) != 0 {
		t.Fatalf("cancelled request observed: %+v", f.observer.requests)
	}
}

func TestExecute_RaceFirstSuccessWins(t *testing.T) {
	f := newFixture(t, Config{
		Capabilities: map[domain.Capability]CapabilityPolicy{
			domain.CapabilitySearch: {Strategy: domain.StrategyConcurrentRace},
		},
	}, map[string]func(context.Context, int) (any, error){
		"primary":  after(500*time.Millisecond, "slow"),
		"backup-a": after(50*time.Millisecond, "fast"),
	})

	start := time.Now()
	res, err := f.executor.Execute(context.Background(), "s1", domain.CapabilitySearch, provider.Operation{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("race waited for the slow candidate: %v", elapsed)
	}
	if res.EndpointID != "backup-a" || res.Value != "fast" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Give the loser time to observe cancellation.
	time.Sleep(50 * time.Millisecond)
	if n := len(f.observer.For("primary")); n != 0 {
		t.Fatalf("cancelled loser produced %d records", n)
	}
	if c := f.counters(t)["primary"]; c.Failures != 0 {
		t.Fatalf("cancelled loser recorded: %+v", c)
	}
}

func TestExecute_RaceAllFail(t *testing.T) {
	f := newFixture(t, Config{
		Capabilities: map[domain.Capability]CapabilityPolicy{
			domain.CapabilitySearch: {Strategy: domain.StrategyConcurrentRace},
		},
	}, map[string]func(context.Context, int) (any, error){
		"primary": func(context.Context, int) (any, error) {
			time.Sleep(30 * time.Millisecond)
			return nil, status(http.StatusNotImplemented)
		},
		"backup-a": fail(status(http.StatusForbidden)),
	})

	_, err := f.executor.Execute(context.Background(), "s1", domain.CapabilitySearch, provider.Operation{})
	var agg *AggregateFailure
	if !errors.As(err, &agg) {
		t.Fatalf("expected aggregate, got %v", err)
	}
	if len(agg.Failures) != 2 || agg.Failures[0].EndpointID != "primary" || agg.Failures[1].EndpointID != "backup-a" {
		t.Fatalf("failures not in candidate order: %+v", agg.Failures)
	}
	if agg.Strategy != domain.StrategyConcurrentRace {
		t.Fatalf("strategy = %s", agg.Strategy)
	}
}

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func raceConfig() Config {
	return Config{
		Capabilities: map[domain.Capability]CapabilityPolicy{
			domain.CapabilitySearch: {Strategy: domain.StrategyConcurrentRace},
		},
	}
}

func TestExecute_RaceLateFailureRecorded(t *testing.T) {
	f := newFixture(t, raceConfig(), map[string]func(context.Context, int) (any, error){
		// Answers on its own schedule, after the winner has returned.
		"primary": func(context.Context, int) (any, error) {
			time.Sleep(80 * time.Millisecond)
			return nil, status(http.StatusBadRequest)
		},
		"backup-a": after(10*time.Millisecond, "fast"),
	})

	res, err := f.executor.Execute(context.Background(), "s1", domain.CapabilitySearch, provider.Operation{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.EndpointID != "backup-a" {
		t.Fatalf("winner = %s, want backup-a", res.EndpointID)
	}
	if c := f.counters(t)["primary"]; c.Failures != 0 {
		t.Fatalf("loser recorded before it finished: %+v", c)
	}

	waitFor(t, "late loser failure", func() bool {
		return f.counters(t)["primary"].ConsecutiveFailures == 1
	})
	c := f.counters(t)["primary"]
	if c.Failures != 1 || c.LastClassification != domain.ClassClientConfigError {
		t.Fatalf("primary counters = %+v", c)
	}
	if n := f.transport.Calls("primary"); n != 1 {
		t.Fatalf("non-retryable loser called %d times", n)
	}
}

func TestExecute_RaceLateSuccessResetsCounter(t *testing.T) {
	f := newFixture(t, raceConfig(), map[string]func(context.Context, int) (any, error){
		"primary": after(5*time.Millisecond, "fast"),
		"backup-a": func(context.Context, int) (any, error) {
			time.Sleep(60 * time.Millisecond)
			return "late", nil
		},
	})
	f.tracker.RecordOutcome("s1", "backup-a", domain.ClassTimeout)
	f.tracker.RecordOutcome("s1", "backup-a", domain.ClassTimeout)

	res, err := f.executor.Execute(context.Background(), "s1", domain.CapabilitySearch, provider.Operation{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.EndpointID != "primary" {
		t.Fatalf("winner = %s, want primary", res.EndpointID)
	}

	waitFor(t, "late loser success", func() bool {
		return f.counters(t)["backup-a"].ConsecutiveFailures == 0
	})
	if c := f.counters(t)["backup-a"]; c.Failures != 2 {
		t.Fatalf("backup-a counters = %+v", c)
	}
}

func TestExecute_RaceCallerCancellation(t *testing.T) {
	f := newFixture(t, raceConfig(), map[string]func(context.Context, int) (any, error){
		"primary":  after(time.Minute, "never"),
		"backup-a": after(time.Minute, "never"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := f.executor.Execute(ctx, "s1", domain.CapabilitySearch, provider.Operation{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrAllCandidatesFailed) {
		t.Fatal("cancellation reported as aggregate failure")
	}

	for _, id := range []string{"primary", "backup-a"} {
		if n := len(f.observer.For(id)); n != 0 {
			t.Fatalf("%s produced %d attempt records", id, n)
		}
		if c := f.counters(t)[id]; c.Failures != 0 {
			t.Fatalf("%s recorded after cancellation: %+v", id, c)
		}
	}
	if len(f.observer.requests) != 0 {
		t.Fatalf("cancelled request observed: %+v", f.observer.requests)
	}
}

func TestExecute_RoundRobinRotates(t *testing.T) {
	f := newFixture(t, Config{
		Capabilities: map[domain.Capability]CapabilityPolicy{
			domain.CapabilityLLM: {Strategy: domain.StrategyRoundRobin},
		},
	}, map[string]func(context.Context, int) (any, error){
		"primary":  succeed(0),
		"backup-a": succeed(1),
		"backup-b": succeed(2),
	})

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		res, err := f.executor.Execute(context.Background(), "s1", domain.CapabilityLLM, provider.Operation{})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		seen[res.EndpointID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("round-robin served %v, want all three endpoints", seen)
	}
}

func TestExecute_UnhealthyBackupSkipped(t *testing.T) {
	f := newFixture(t, Config{}, map[string]func(context.Context, int) (any, error){
		"primary":  fail(status(http.StatusBadRequest)),
		"backup-a": fail(status(http.StatusBadRequest)),
		"backup-b": succeed("ok"),
	})
	for i := 0; i < 3; i++ {
		f.tracker.RecordOutcome("s1", "backup-a", domain.ClassServerError)
	}

	res, err := f.executor.Execute(context.Background(), "s1", domain.CapabilityLLM, provider.Operation{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.EndpointID != "backup-b" {
		t.Fatalf("winner = %s, want backup-b", res.EndpointID)
	}
	if n := f.transport.Calls("backup-a"); n != 0 {
		t.Fatalf("unhealthy backup-a called %d times", n)
	}
}

func TestExecute_RequestRecord(t *testing.T) {
	f := newFixture(t, Config{}, map[string]func(context.Context, int) (any, error){
		"primary": succeed("ok"),
	})

	if _, err := f.executor.Execute(context.Background(), "s1", domain.CapabilityLLM, provider.Operation{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(f.observer.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(f.observer.requests))
	}
	rec := f.observer.requests[0]
	if !rec.Succeeded || rec.EndpointID != "primary" || rec.Candidates != 3 || rec.Strategy != domain.StrategyFallbackOnError {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestExecute_UnknownCapability(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	_, err := f.executor.Execute(context.Background(), "s1", domain.CapabilityTranslate, provider.Operation{})
	if !errors.Is(err, domain.ErrUnknownCapability) {
		t.Fatalf("expected ErrUnknownCapability, got %v", err)
	}
}

func TestAggregateFailure_Error(t *testing.T) {
	agg := &AggregateFailure{
		Capability: domain.CapabilityLLM,
		Failures: []CandidateFailure{
			{EndpointID: "primary", Classification: domain.ClassTimeout, Err: context.DeadlineExceeded},
		},
	}
	if !errors.Is(agg, context.DeadlineExceeded) {
		t.Fatal("aggregate should unwrap candidate errors")
	}
	if agg.AllOf(domain.ClassServerError) || !agg.AllOf(domain.ClassTimeout) {
		t.Fatal("AllOf mismatch")
	}
	if _, ok := agg.Failure("primary"); !ok {
		t.Fatal("Failure(primary) missing")
	}
}
