package rpc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEndpointUnavailable covers timeouts, connection failures, 5xx
	// answers and malformed bodies. The pool moves on to the next endpoint.
	ErrEndpointUnavailable = errors.New("endpoint unavailable")
	// ErrRateLimited is an ErrEndpointUnavailable for the current attempt.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrEndpointUnavailable)
	// ErrNotIndexedYet means the endpoint answered but does not know the
	// object yet. It is a normal "try again later" outcome.
	ErrNotIndexedYet = errors.New("not indexed yet")
	// ErrRejected is a definitive answer from the endpoint (JSON-RPC error
	// object, HTTP 400). The pool returns it without trying other endpoints.
	ErrRejected = errors.New("rejected")
	// ErrEndpointsExhausted is returned once every endpoint of a set failed.
	ErrEndpointsExhausted = errors.New("all endpoints exhausted")
	ErrUnknownChain       = errors.New("no endpoints configured for chain")
)

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error: %d - %s", e.Code, e.Message)
}

func (e *RPCError) Is(target error) bool {
	return target == ErrRejected
}

// HTTPError is a client error answered by a REST endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error: %d - %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrRejected
}

// ExhaustedError lists what each endpoint of a set answered.
type ExhaustedError struct {
	Chain string
	Errs  []error
}

func (e *ExhaustedError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s: %s (%d tried): %s", e.Chain, ErrEndpointsExhausted, len(e.Errs), strings.Join(msgs, "; "))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrEndpointsExhausted
}

// Malformed marks a response body the caller could not decode. A broken
// proxy is treated like an unreachable endpoint.
func Malformed(err error) error {
	return fmt.Errorf("%w: malformed response: %v", ErrEndpointUnavailable, err)
}

// classify maps a JSON-RPC error object onto the error taxonomy. Public
// providers report throttling and lagging state through error objects, which
// must not stop the fallback.
func classify(e *RPCError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case e.Code == -32005 || e.Code == 429,
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "request limit"),
		strings.Contains(msg, "capacity"):
		return fmt.Errorf("%w: %v", ErrRateLimited, e)
	case e.Code == -32603,
		strings.Contains(msg, "header not found"),
		strings.Contains(msg, "missing trie node"),
		strings.Contains(msg, "upstream"):
		return fmt.Errorf("%w: %v", ErrEndpointUnavailable, e)
	}
	return e
}
