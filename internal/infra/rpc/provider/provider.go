// Package provider implements the outbound transport capability used by the
// failover engine.
//
// This package contains:
//   - Transport interface: invoke one operation against one endpoint
//   - HTTPTransport: JSON over HTTP
//   - GRPCTransport: gRPC with status code mapping
//   - Mux: selects a transport by endpoint descriptor
//   - StatusError: structured transport failure consumed by the classifier
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
	"google.golang.org/grpc"
)

// Operation is one vendor-agnostic unit of work. The engine never looks
// inside it; transports do.
type Operation struct {
	// Name identifies the operation in logs (e.g., "complete", "search").
	Name string

	// Path is appended to the endpoint address by HTTPTransport.
	Path string

	// Method is the HTTP method, POST when empty.
	Method string

	// Header is merged into the outbound HTTP request.
	Header http.Header

	// Payload is JSON-encoded as the HTTP request body when non-nil.
	Payload any

	// Decode, when set, receives the decoded HTTP response body.
	// Otherwise the body is decoded into a generic value.
	Decode func(body []byte) (any, error)

	// GRPCHandler executes the operation over the endpoint's connection.
	// Required for gRPC endpoints.
	GRPCHandler func(ctx context.Context, conn grpc.ClientConnInterface) (any, error)

	// Invoke bypasses the wire transports entirely. Used by adapters that
	// already own a vendor SDK client.
	Invoke func(ctx context.Context, ep *domain.Endpoint) (any, error)
}

// Transport performs one attempt of op against ep. The supplied context
// carries the per-attempt timeout.
type Transport interface {
	Invoke(ctx context.Context, ep *domain.Endpoint, op Operation) (any, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, ep *domain.Endpoint, op Operation) (any, error)

// Invoke calls f.
func (f TransportFunc) Invoke(ctx context.Context, ep *domain.Endpoint, op Operation) (any, error) {
	return f(ctx, ep, op)
}

// StatusError is a failure that carried an upstream status code.
type StatusError struct {
	StatusCode int
	// RetryAfter is the server supplied wait hint, zero when absent.
	RetryAfter time.Duration
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("upstream status %d", e.StatusCode)
	if text := http.StatusText(e.StatusCode); text != "" {
		msg += " " + text
	}
	switch {
	case e.Body != "":
		msg += ": " + e.Body
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// ParseRetryAfter reads a Retry-After header value in either delta-seconds
// or HTTP-date form.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Mux routes each attempt to the transport registered for the endpoint's
// transport kind. Operations with Invoke set skip the wire transports.
type Mux struct {
	transports map[domain.TransportKind]Transport
}

// NewMux creates an empty transport mux.
func NewMux() *Mux {
	return &Mux{transports: make(map[domain.TransportKind]Transport)}
}

// Handle registers t for kind.
func (m *Mux) Handle(kind domain.TransportKind, t Transport) {
	m.transports[kind] = t
}

// Invoke implements Transport.
func (m *Mux) Invoke(ctx context.Context, ep *domain.Endpoint, op Operation) (any, error) {
	if op.Invoke != nil {
		return op.Invoke(ctx, ep)
	}
	kind := ep.Transport
	if kind == "" {
		kind = domain.TransportHTTP
	}
	t, ok := m.transports[kind]
	if !ok {
		return nil, fmt.Errorf("no transport for %q (endpoint %s)", kind, ep.ID)
	}
	return t.Invoke(ctx, ep, op)
}

// Close closes every registered transport that holds resources.
func (m *Mux) Close() error {
	var firstErr error
	for _, t := range m.transports {
		if c, ok := t.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
