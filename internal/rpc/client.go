package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const maxBodySize = 4 << 20

var tracer = otel.Tracer("chainpay/internal/rpc")

// Caller issues a JSON-RPC call. Both a single Endpoint and an EndpointSet
// (ordered fallback) satisfy it.
type Caller interface {
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
}

// Endpoint is one RPC or REST URL of a chain. It never retries: a failed
// call is reported to the set, which moves on.
type Endpoint struct {
	URL      string
	Provider string

	chain   string
	host    string
	limiter *rate.Limiter
	client  *http.Client
	logger  *zerolog.Logger
	ids     atomic.Uint64
}

// CustomTransport sets the headers public providers expect.
type CustomTransport struct {
	Base      http.RoundTripper
	UserAgent string
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func newEndpoint(chain string, cfg EndpointConfig, client *http.Client, logger *zerolog.Logger) (*Endpoint, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint url %q for %s", cfg.URL, chain)
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Endpoint{
		URL:      strings.TrimRight(cfg.URL, "/"),
		Provider: cfg.Provider,
		chain:    chain,
		host:     u.Host,
		limiter:  rate.NewLimiter(limit, 1),
		client:   client,
		logger:   logger,
	}, nil
}

// Host identifies the endpoint in logs without leaking path-embedded API keys.
func (e *Endpoint) Host() string {
	return e.host
}

// Call performs a JSON-RPC 2.0 request.
func (e *Endpoint) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	ctx, span := e.startSpan(ctx, method)
	defer span.End()

	if params == nil {
		params = []any{}
	}
	e.logger.Debug().
		Str("chain", e.chain).
		Str("endpoint", e.host).
		Str("method", method).
		Interface("params", params).
		Msg("Making RPC call")

	if err := e.wait(ctx); err != nil {
		return nil, e.fail(span, err)
	}

	payload, err := json.Marshal(Request{
		Jsonrpc: "2.0",
		ID:      e.ids.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, e.fail(span, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, e.fail(span, err)
	}

	body, err := e.do(req)
	if err != nil {
		return nil, e.fail(span, err)
	}

	var response Response
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, e.fail(span, Malformed(err))
	}
	if response.Error != nil {
		return nil, e.fail(span, classify(response.Error))
	}
	return response.Result, nil
}

// Get performs a REST GET against URL+path.
func (e *Endpoint) Get(ctx context.Context, path string) ([]byte, error) {
	ctx, span := e.startSpan(ctx, "GET "+path)
	defer span.End()

	e.logger.Debug().
		Str("chain", e.chain).
		Str("endpoint", e.host).
		Str("path", path).
		Msg("Making REST call")

	if err := e.wait(ctx); err != nil {
		return nil, e.fail(span, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL+path, nil)
	if err != nil {
		return nil, e.fail(span, err)
	}
	body, err := e.do(req)
	if err != nil {
		return nil, e.fail(span, err)
	}
	return body, nil
}

func (e *Endpoint) wait(ctx context.Context) error {
	// Wait fails fast when the token would only be available after the
	// attempt deadline.
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRateLimited, e.host, err)
	}
	return nil
}

func (e *Endpoint) do(req *http.Request) ([]byte, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEndpointUnavailable, e.host, err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrEndpointUnavailable, e.host, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrRateLimited, e.host, resp.StatusCode)
	case req.Method == http.MethodGet && resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s%s", ErrNotIndexedYet, e.host, req.URL.Path)
	case req.Method == http.MethodGet && resp.StatusCode == http.StatusBadRequest:
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	default:
		return nil, fmt.Errorf("%w: %s: HTTP error: %d - %s", ErrEndpointUnavailable, e.host, resp.StatusCode, resp.Status)
	}
}

func (e *Endpoint) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("chain", e.chain),
		attribute.String("endpoint", e.host),
	))
}

func (e *Endpoint) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
