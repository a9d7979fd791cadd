// Package rpctest provides in-process JSON-RPC nodes for tests.
package rpctest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"chainpay/internal/rpc"
)

// Handler answers one JSON-RPC method. Returning an *rpc.RPCError produces
// an error object; any other error produces an HTTP 500.
type Handler func(params []json.RawMessage) (any, error)

type Node struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
	status   int
}

func NewNode(t testing.TB) *Node {
	t.Helper()
	n := &Node{
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.Close)
	return n
}

// Handle registers h for method, replacing any previous handler.
func (n *Node) Handle(method string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

// Result makes method always answer v.
func (n *Node) Result(method string, v any) {
	n.Handle(method, func([]json.RawMessage) (any, error) { return v, nil })
}

// FailWith makes every request answer the given HTTP status.
func (n *Node) FailWith(status int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = status
}

func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	status := n.status
	h := n.handlers[req.Method]
	n.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if h == nil {
		resp["error"] = rpc.RPCError{Code: -32601, Message: "Method not found"}
	} else {
		result, err := h(req.Params)
		var rpcErr *rpc.RPCError
		switch {
		case errors.As(err, &rpcErr):
			resp["error"] = rpcErr
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		default:
			resp["result"] = result
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// DeadURL returns the address of a server that has already been shut down,
// so connecting to it fails.
func DeadURL(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}
