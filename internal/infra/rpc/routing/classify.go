// Package routing decides which endpoints a request may use and how a single
// endpoint is retried.
//
// This package contains:
//   - Classify: maps a transport failure onto the failure taxonomy
//   - RetryPolicy: retry decision and exponential backoff
//   - Order: candidate ordering per strategy
//   - Selector: capability and health filtering of the descriptor set
package routing

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/rpc/provider"
)

// Classifier is implemented by adapter errors that already know their
// classification.
type Classifier interface {
	Classification() domain.Classification
}

// Classify maps the outcome of one attempt against ep onto a classification.
// It has no side effects and the same inputs always yield the same result.
func Classify(ep *domain.Endpoint, err error) domain.Classification {
	if err == nil {
		return domain.ClassSuccess
	}

	var c Classifier
	if errors.As(err, &c) {
		return c.Classification()
	}

	var se *provider.StatusError
	if errors.As(err, &se) {
		return ClassifyStatus(ep, se.StatusCode)
	}

	if isTimeout(err) {
		return domain.ClassTimeout
	}
	if isReset(err) {
		return domain.ClassConnectionReset
	}
	return domain.ClassUnknown
}

// ClassifyStatus maps an upstream status code. A 502 from a known-unreliable
// endpoint is its expected-offline signature.
func ClassifyStatus(ep *domain.Endpoint, code int) domain.Classification {
	switch code {
	case http.StatusBadGateway:
		if ep != nil && ep.KnownUnreliable {
			return domain.ClassExpectedOffline
		}
		return domain.ClassTransientUnavailable
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return domain.ClassTransientUnavailable
	case http.StatusTooManyRequests:
		return domain.ClassRateLimited
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return domain.ClassClientConfigError
	case http.StatusInternalServerError, http.StatusNotImplemented, http.StatusHTTPVersionNotSupported:
		return domain.ClassServerError
	default:
		return domain.ClassUnknown
	}
}

// RetryAfterHint returns the server supplied wait hint carried by err.
func RetryAfterHint(err error) time.Duration {
	var se *provider.StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isReset(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection reset")
}
