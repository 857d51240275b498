package routing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/rpc/provider"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type vendorErr struct{ class domain.Classification }

func (e vendorErr) Error() string                         { return "vendor: " + string(e.class) }
func (e vendorErr) Classification() domain.Classification { return e.class }

func status(code int) error {
	return fmt.Errorf("call: %w", &provider.StatusError{StatusCode: code})
}

func TestClassify(t *testing.T) {
	stable := &domain.Endpoint{ID: "stable"}
	relay := &domain.Endpoint{ID: "relay", KnownUnreliable: true}

	tests := []struct {
		name string
		ep   *domain.Endpoint
		err  error
		want domain.Classification
	}{
		{"success", stable, nil, domain.ClassSuccess},
		{"502 stable", stable, status(http.StatusBadGateway), domain.ClassTransientUnavailable},
		{"502 unreliable", relay, status(http.StatusBadGateway), domain.ClassExpectedOffline},
		{"503 unreliable", relay, status(http.StatusServiceUnavailable), domain.ClassTransientUnavailable},
		{"503", stable, status(http.StatusServiceUnavailable), domain.ClassTransientUnavailable},
		{"504", stable, status(http.StatusGatewayTimeout), domain.ClassTransientUnavailable},
		{"429", stable, status(http.StatusTooManyRequests), domain.ClassRateLimited},
		{"400", stable, status(http.StatusBadRequest), domain.ClassClientConfigError},
		{"401", stable, status(http.StatusUnauthorized), domain.ClassClientConfigError},
		{"403", relay, status(http.StatusForbidden), domain.ClassClientConfigError},
		{"500", stable, status(http.StatusInternalServerError), domain.ClassServerError},
		{"501", stable, status(http.StatusNotImplemented), domain.ClassServerError},
		{"505", stable, status(http.StatusHTTPVersionNotSupported), domain.ClassServerError},
		{"404", stable, status(http.StatusNotFound), domain.ClassUnknown},
		{"418", stable, status(http.StatusTeapot), domain.ClassUnknown},
		{"deadline", stable, fmt.Errorf("post: %w", context.DeadlineExceeded), domain.ClassTimeout},
		{"net timeout", stable, &net.OpError{Op: "read", Err: timeoutErr{}}, domain.ClassTimeout},
		{"etimedout", stable, fmt.Errorf("dial: %w", syscall.ETIMEDOUT), domain.ClassTimeout},
		{"econnreset", stable, &net.OpError{Op: "read", Err: syscall.ECONNRESET}, domain.ClassConnectionReset},
		{"reset message", stable, errors.New("read tcp: connection reset by peer"), domain.ClassConnectionReset},
		{"vendor classified", stable, fmt.Errorf("sdk: %w", vendorErr{domain.ClassRateLimited}), domain.ClassRateLimited},
		{"other", stable, errors.New("something odd"), domain.ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.ep, tt.err)
			if got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
			if again := Classify(tt.ep, tt.err); again != got {
				t.Errorf("Classify not deterministic: %s then %s", got, again)
			}
		})
	}
}

func TestClassifyStatus_Total(t *testing.T) {
	defined := map[domain.Classification]bool{domain.ClassSuccess: true}
	for _, c := range domain.FailureClasses {
		defined[c] = true
	}

	eps := []*domain.Endpoint{nil, {ID: "a"}, {ID: "b", KnownUnreliable: true}}
	for code := 100; code < 600; code++ {
		for _, ep := range eps {
			if c := ClassifyStatus(ep, code); !defined[c] {
				t.Fatalf("status %d mapped to undefined classification %q", code, c)
			}
		}
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &provider.StatusError{StatusCode: 429, RetryAfter: 4 * time.Second})
	if got := RetryAfterHint(err); got != 4*time.Second {
		t.Errorf("expected 4s, got %v", got)
	}
	if got := RetryAfterHint(errors.New("plain")); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}
