package failover

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/failover/internal/core/domain"
)

// ErrAllCandidatesFailed matches any AggregateFailure via errors.Is.
var ErrAllCandidatesFailed = errors.New("all candidates failed")

// CandidateFailure is the final outcome of one candidate endpoint.
type CandidateFailure struct {
	EndpointID     string
	Classification domain.Classification
	Attempts       int
	Err            error
}

// Message returns the final attempt's error text.
func (f CandidateFailure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// AggregateFailure is returned when every candidate was exhausted. Failures
// are in candidate order.
type AggregateFailure struct {
	SessionID  string
	Capability domain.Capability
	Strategy   domain.StrategyKind
	Failures   []CandidateFailure
}

func (a *AggregateFailure) Error() string {
	parts := make([]string, len(a.Failures))
	for i, f := range a.Failures {
		parts[i] = fmt.Sprintf("%s=%s (%s)", f.EndpointID, f.Classification, f.Message())
	}
	return fmt.Sprintf("%s: %d candidate(s) for %s: %s",
		ErrAllCandidatesFailed, len(a.Failures), a.Capability, strings.Join(parts, "; "))
}

func (a *AggregateFailure) Is(target error) bool {
	return target == ErrAllCandidatesFailed
}

func (a *AggregateFailure) Unwrap() []error {
	errs := make([]error, 0, len(a.Failures))
	for _, f := range a.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Classifications lists each candidate's final classification in order.
func (a *AggregateFailure) Classifications() []domain.Classification {
	out := make([]domain.Classification, len(a.Failures))
	for i, f := range a.Failures {
		out[i] = f.Classification
	}
	return out
}

// AllOf reports whether every candidate ended with class.
func (a *AggregateFailure) AllOf(class domain.Classification) bool {
	if len(a.Failures) == 0 {
		return false
	}
	for _, f := range a.Failures {
		if f.Classification != class {
			return false
		}
	}
	return true
}

// Failure returns the entry for an endpoint.
func (a *AggregateFailure) Failure(endpointID string) (CandidateFailure, bool) {
	for _, f := range a.Failures {
		if f.EndpointID == endpointID {
			return f, true
		}
	}
	return CandidateFailure{}, false
}
