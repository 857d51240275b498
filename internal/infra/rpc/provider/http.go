package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/vietddude/failover/internal/core/domain"
)

const maxErrorBody = 512

// HTTPTransport implements Transport for JSON over HTTP. One client and
// connection pool is shared by every endpoint and every concurrent attempt.
type HTTPTransport struct {
	httpClient *http.Client
	userAgent  string
}

// NewHTTPTransport creates an HTTP transport. Timeouts come from the
// per-attempt context, so the client itself has none.
func NewHTTPTransport(maxIdlePerHost int) *HTTPTransport {
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 10
	}
	return &HTTPTransport{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: maxIdlePerHost,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: "failover/1",
	}
}

// Invoke implements Transport.
func (t *HTTPTransport) Invoke(ctx context.Context, ep *domain.Endpoint, op Operation) (any, error) {
	method := op.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if op.Payload != nil {
		data, err := json.Marshal(op.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	url := strings.TrimRight(ep.Address, "/") + "/" + strings.TrimLeft(op.Path, "/")
	if op.Path == "" {
		url = ep.Address
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range op.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, ep.ID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := string(respBody)
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Body:       strings.TrimSpace(excerpt),
		}
	}

	if op.Decode != nil {
		return op.Decode(respBody)
	}
	if len(respBody) == 0 {
		return nil, nil
	}

	var result any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return result, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}
