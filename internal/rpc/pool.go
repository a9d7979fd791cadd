package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"chainpay/internal/metrics"

	"github.com/rs/zerolog"
)

const DefaultTimeout = 8 * time.Second

type EndpointConfig struct {
	URL       string
	Provider  string
	RateLimit float64
}

type SetConfig struct {
	Chain     string
	Endpoints []EndpointConfig
	Timeout   time.Duration
}

// EndpointSet is the ordered list of endpoints for one chain. It is
// immutable after construction.
type EndpointSet struct {
	Chain     string
	Endpoints []*Endpoint
	Timeout   time.Duration

	logger  *zerolog.Logger
	metrics metrics.Recorder
}

// Pool holds one EndpointSet per chain and the HTTP client they share.
type Pool struct {
	sets   map[string]*EndpointSet
	client *http.Client
}

type options struct {
	logger     *zerolog.Logger
	metrics    metrics.Recorder
	httpClient *http.Client
}

type Option func(*options)

func WithLogger(l *zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithHTTPClient replaces the shared client. Per-attempt timeouts come from
// the set, so the client should not carry its own.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func NewPool(configs []SetConfig, opts ...Option) (*Pool, error) {
	nop := zerolog.Nop()
	o := options{logger: &nop, metrics: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{
			Transport: &CustomTransport{
				Base:      http.DefaultTransport,
				UserAgent: "chainpay/1.0",
			},
		}
	}

	p := &Pool{sets: make(map[string]*EndpointSet, len(configs)), client: o.httpClient}
	for _, cfg := range configs {
		chain := strings.ToLower(cfg.Chain)
		if len(cfg.Endpoints) == 0 {
			return nil, fmt.Errorf("chain %s: at least one endpoint is required", cfg.Chain)
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		set := &EndpointSet{Chain: chain, Timeout: timeout, logger: o.logger, metrics: o.metrics}
		for _, ec := range cfg.Endpoints {
			ep, err := newEndpoint(chain, ec, o.httpClient, o.logger)
			if err != nil {
				return nil, err
			}
			set.Endpoints = append(set.Endpoints, ep)
		}
		p.sets[chain] = set
	}
	return p, nil
}

func (p *Pool) Set(chain string) (*EndpointSet, error) {
	set, ok := p.sets[strings.ToLower(chain)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	return set, nil
}

// Call is the ordered-fallback query for a chain.
func (p *Pool) Call(ctx context.Context, chain, method string, params []any) (json.RawMessage, error) {
	set, err := p.Set(chain)
	if err != nil {
		return nil, err
	}
	return set.Call(ctx, method, params)
}

// CallAll is the fan-out query for a chain.
func (p *Pool) CallAll(ctx context.Context, chain, method string, params []any) ([]Result[json.RawMessage], error) {
	set, err := p.Set(chain)
	if err != nil {
		return nil, err
	}
	return set.CallAll(ctx, method, params), nil
}

// Close closes the HTTP client connections
func (p *Pool) Close() {
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
}

func (s *EndpointSet) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	raw, _, err := First(ctx, s, func(ctx context.Context, ep *Endpoint) (json.RawMessage, error) {
		return ep.Call(ctx, method, params)
	})
	return raw, err
}

func (s *EndpointSet) Get(ctx context.Context, path string) ([]byte, error) {
	body, _, err := First(ctx, s, func(ctx context.Context, ep *Endpoint) ([]byte, error) {
		return ep.Get(ctx, path)
	})
	return body, err
}

func (s *EndpointSet) CallAll(ctx context.Context, method string, params []any) []Result[json.RawMessage] {
	return All(ctx, s, func(ctx context.Context, ep *Endpoint) (json.RawMessage, error) {
		return ep.Call(ctx, method, params)
	})
}

type Result[T any] struct {
	Endpoint *Endpoint
	Value    T
	Err      error
}

// First runs fn against each endpoint in order and returns the first
// success. Unavailable and not-yet-indexed answers move on to the next
// endpoint; a rejection is returned as is. When nothing succeeded the error
// is ErrNotIndexedYet if any endpoint reported it, ErrEndpointsExhausted
// otherwise.
func First[T any](ctx context.Context, s *EndpointSet, fn func(context.Context, *Endpoint) (T, error)) (T, *Endpoint, error) {
	var zero T
	var notIndexed bool
	errs := make([]error, 0, len(s.Endpoints))

	for _, ep := range s.Endpoints {
		if err := ctx.Err(); err != nil {
			return zero, nil, err
		}
		v, err := attempt(ctx, s, ep, fn)
		if err == nil {
			return v, ep, nil
		}
		if errors.Is(err, ErrRejected) {
			return zero, ep, err
		}
		if errors.Is(err, ErrNotIndexedYet) {
			notIndexed = true
		}
		s.logger.Debug().
			Err(err).
			Str("chain", s.Chain).
			Str("endpoint", ep.host).
			Msg("Endpoint failed, trying next")
		errs = append(errs, err)
	}

	if err := ctx.Err(); err != nil {
		return zero, nil, err
	}
	if notIndexed {
		return zero, nil, fmt.Errorf("%s: %w", s.Chain, ErrNotIndexedYet)
	}
	s.metrics.IncCounter(metrics.EndpointExhausted, map[string]string{"chain": s.Chain})
	s.logger.Warn().
		Str("chain", s.Chain).
		Int("endpoints", len(s.Endpoints)).
		Msg("All endpoints failed")
	return zero, nil, &ExhaustedError{Chain: s.Chain, Errs: errs}
}

// All runs fn against every endpoint concurrently and returns the results in
// endpoint order. Each attempt is bounded by the set timeout, so one slow
// endpoint cannot hold the others back past that.
func All[T any](ctx context.Context, s *EndpointSet, fn func(context.Context, *Endpoint) (T, error)) []Result[T] {
	results := make([]Result[T], len(s.Endpoints))
	var wg sync.WaitGroup
	for i, ep := range s.Endpoints {
		wg.Add(1)
		go func(i int, ep *Endpoint) {
			defer wg.Done()
			v, err := attempt(ctx, s, ep, fn)
			results[i] = Result[T]{Endpoint: ep, Value: v, Err: err}
		}(i, ep)
	}
	wg.Wait()
	return results
}

// Successes returns the values of the results that succeeded. When none did,
// the error is an *ExhaustedError carrying every endpoint's failure.
func Successes[T any](chain string, results []Result[T]) ([]T, error) {
	values := make([]T, 0, len(results))
	errs := make([]error, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		values = append(values, r.Value)
	}
	if len(values) == 0 {
		return nil, &ExhaustedError{Chain: chain, Errs: errs}
	}
	return values, nil
}

func attempt[T any](ctx context.Context, s *EndpointSet, ep *Endpoint, fn func(context.Context, *Endpoint) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	start := time.Now()
	v, err := fn(actx, ep)
	s.metrics.ObserveLatency(metrics.EndpointAttempt, time.Since(start), map[string]string{"chain": s.Chain})
	s.metrics.IncCounter(metrics.EndpointAttempt, map[string]string{"chain": s.Chain, "outcome": outcome(err)})
	return v, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNotIndexedYet):
		return "not_indexed"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}
