// Package nonce issues transaction sequence numbers per sending address.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"chainpay/internal/metrics"

	"github.com/rs/zerolog"
)

var ErrNonceQueryFailed = errors.New("nonce query failed")

// Source reports the chain's next nonce for an address, including
// transactions still waiting in the mempool.
type Source interface {
	PendingNonce(ctx context.Context, address string) (uint64, error)
}

// Resolver returns the Source for a chain.
type Resolver func(chain string) (Source, error)

// ledger is the local view of one address. lock is a one-slot semaphore so
// waiting for it can honour context cancellation.
type ledger struct {
	lock  chan struct{}
	next  uint64
	known bool
}

// Allocator hands out contiguous nonces. Concurrent callers for the same
// address are serialized; different addresses never wait on each other.
type Allocator struct {
	resolve Resolver
	logger  *zerolog.Logger
	metrics metrics.Recorder

	mu      sync.Mutex
	ledgers map[string]*ledger
}

func NewAllocator(resolve Resolver, logger *zerolog.Logger, recorder metrics.Recorder) *Allocator {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Allocator{
		resolve: resolve,
		logger:  logger,
		metrics: recorder,
		ledgers: make(map[string]*ledger),
	}
}

func key(chain, address string) string {
	return strings.ToLower(chain) + "/" + strings.ToLower(address)
}

func (a *Allocator) ledgerFor(chain, address string) *ledger {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := key(chain, address)
	l, ok := a.ledgers[k]
	if !ok {
		l = &ledger{lock: make(chan struct{}, 1)}
		a.ledgers[k] = l
	}
	return l
}

// Allocate returns the next nonce for address on chain. The chain is asked
// under the address lock and the local counter moves up to its answer when
// the chain is ahead, for example after a transaction sent from elsewhere.
// Nonces already handed out are never reissued, even if the transaction
// using them was never broadcast.
func (a *Allocator) Allocate(ctx context.Context, chain, address string) (uint64, error) {
	source, err := a.resolve(chain)
	if err != nil {
		return 0, err
	}
	l := a.ledgerFor(chain, address)

	select {
	case l.lock <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-l.lock }()

	pending, err := source.PendingNonce(ctx, address)
	if err != nil {
		a.metrics.IncCounter(metrics.NonceAllocated, map[string]string{"chain": chain, "outcome": "query_failed"})
		return 0, fmt.Errorf("%w: %s %s: %w", ErrNonceQueryFailed, chain, address, err)
	}

	if !l.known || pending > l.next {
		if l.known {
			a.logger.Info().
				Str("chain", chain).
				Str("address", address).
				Uint64("local", l.next).
				Uint64("chain_pending", pending).
				Msg("Nonce reconciled upward")
		}
		l.next, l.known = pending, true
	}

	n := l.next
	l.next++
	a.metrics.IncCounter(metrics.NonceAllocated, map[string]string{"chain": chain, "outcome": "ok"})
	return n, nil
}

// Peek returns the nonce the next Allocate would issue if the chain is not
// ahead, and false when the address has never been seen.
func (a *Allocator) Peek(chain, address string) (uint64, bool) {
	a.mu.Lock()
	l, ok := a.ledgers[key(chain, address)]
	a.mu.Unlock()
	if !ok {
		return 0, false
	}

	l.lock <- struct{}{}
	defer func() { <-l.lock }()
	return l.next, l.known
}
