package failover

import (
	"context"

	"github.com/vietddude/failover/internal/core/domain"
)

type raceResult struct {
	index int
	ep    *domain.Endpoint
	out   outcome
}

// race dispatches every candidate at once. The first success cancels the
// rest; cancelled attempts are discarded while completed failures are still
// recorded, including those that finish after the winner.
func (e *Executor) race(ctx context.Context, req request, candidates []*domain.Endpoint) (*Result, error) {
	raceCtx, cancel := context.WithCancel(ctx)

	results := make(chan raceResult, len(candidates))
	for i, ep := range candidates {
		go func(i int, ep *domain.Endpoint) {
			results <- raceResult{index: i, ep: ep, out: e.attemptEndpoint(raceCtx, req, ep)}
		}(i, ep)
	}

	failures := make([]*CandidateFailure, len(candidates))
	for remaining := len(candidates); remaining > 0; remaining-- {
		r := <-results
		if r.out.aborted {
			continue
		}

		e.recorder.RecordOutcome(req.sessionID, r.ep.ID, r.out.class)
		if r.out.class == domain.ClassSuccess {
			cancel()
			go e.drain(req, results, remaining-1)
			return &Result{
				EndpointID: r.ep.ID,
				Value:      r.out.value,
				Attempts:   r.out.attempts,
				Latency:    r.out.latency,
			}, nil
		}
		failures[r.index] = &CandidateFailure{
			EndpointID:     r.ep.ID,
			Classification: r.out.class,
			Attempts:       r.out.attempts,
			Err:            r.out.err,
		}
	}
	cancel()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agg := &AggregateFailure{
		SessionID:  req.sessionID,
		Capability: req.capability,
		Strategy:   req.strategy,
	}
	for _, f := range failures {
		if f != nil {
			agg.Failures = append(agg.Failures, *f)
		}
	}
	return nil, agg
}

// drain collects the losers after a win. Every outcome that completed is
// recorded, late successes included, so the loser's counters stay accurate.
func (e *Executor) drain(req request, results <-chan raceResult, remaining int) {
	for ; remaining > 0; remaining-- {
		r := <-results
		if r.out.aborted {
			continue
		}
		e.recorder.RecordOutcome(req.sessionID, r.ep.ID, r.out.class)
	}
}
