package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/vietddude/failover/internal/core/domain"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// GRPCTransport implements Transport for gRPC endpoints. Connections are
// created on first use and shared by all attempts to the same endpoint.
type GRPCTransport struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
	dial  func(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error)
}

// NewGRPCTransport creates a gRPC transport.
func NewGRPCTransport() *GRPCTransport {
	return &GRPCTransport{
		conns: make(map[string]*grpc.ClientConn),
		dial:  grpc.NewClient,
	}
}

// Invoke implements Transport.
func (t *GRPCTransport) Invoke(ctx context.Context, ep *domain.Endpoint, op Operation) (any, error) {
	if op.GRPCHandler == nil {
		return nil, fmt.Errorf("operation %q has no grpc handler", op.Name)
	}

	conn, err := t.conn(ep)
	if err != nil {
		return nil, err
	}

	result, err := op.GRPCHandler(ctx, conn)
	if err != nil {
		return nil, FromGRPCError(err)
	}
	return result, nil
}

func (t *GRPCTransport) conn(ep *domain.Endpoint) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.conns[ep.ID]; ok {
		return c, nil
	}

	target := ep.Address
	var opts []grpc.DialOption
	if strings.HasPrefix(target, "https://") || strings.HasSuffix(target, ":443") {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	c, err := t.dial(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	t.conns[ep.ID] = c
	return c, nil
}

// Close closes every cached connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for id, c := range t.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(t.conns, id)
	}
	return errors.Join(errs...)
}

var grpcToHTTP = map[codes.Code]int{
	codes.Unavailable:       http.StatusServiceUnavailable,
	codes.ResourceExhausted: http.StatusTooManyRequests,
	codes.Unauthenticated:   http.StatusUnauthorized,
	codes.PermissionDenied:  http.StatusForbidden,
	codes.InvalidArgument:   http.StatusBadRequest,
	codes.Internal:          http.StatusInternalServerError,
	codes.Unimplemented:     http.StatusNotImplemented,
	codes.DataLoss:          http.StatusInternalServerError,
}

// FromGRPCError translates a gRPC status into the transport failure shape the
// classifier understands. DeadlineExceeded and Canceled become the matching
// context errors; codes without an HTTP equivalent are returned unchanged.
func FromGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", st.Message(), context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", st.Message(), context.Canceled)
	}

	code, ok := grpcToHTTP[st.Code()]
	if !ok {
		return err
	}

	se := &StatusError{StatusCode: code, Body: st.Message(), Err: err}
	for _, d := range st.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok && ri.GetRetryDelay() != nil {
			se.RetryAfter = ri.GetRetryDelay().AsDuration()
		}
	}
	return se
}
