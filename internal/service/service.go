// Package service is the surface the escrow application talks to. It checks
// inputs, routes each call to the chain's client, and classifies failures.
package service

import (
	"context"
	"fmt"

	"chainpay/internal/interfaces"
	"chainpay/internal/models"
	"chainpay/internal/tracing"
	"chainpay/internal/validation"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

type Monitors interface {
	Monitor(chain string) (interfaces.ChainMonitor, error)
}

type Sender interface {
	Send(ctx context.Context, req models.TransferRequest) (string, error)
}

type Tracker interface {
	Track(ctx context.Context, owner, chain, txid string, target uint64) (models.WatchedTransaction, error)
}

type Service struct {
	chains   models.Registry
	monitors Monitors
	sender   Sender
	tracker  Tracker
	store    interfaces.DealStore
	logger   *zerolog.Logger
}

func New(chains models.Registry, monitors Monitors, sender Sender, tracker Tracker, store interfaces.DealStore, logger *zerolog.Logger) *Service {
	return &Service{
		chains:   chains,
		monitors: monitors,
		sender:   sender,
		tracker:  tracker,
		store:    store,
		logger:   logger,
	}
}

func (s *Service) GetBalance(ctx context.Context, chain, address string) (bal models.CanonicalBalance, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "service.GetBalance")
	span.SetAttributes(attribute.String("chain", chain))
	defer func() { tracing.End(span, err) }()

	m, err := s.monitorFor(chain, address, validation.ValidateAddress)
	if err != nil {
		return bal, wrap("balance", chain, err)
	}
	bal, err = m.Balance(ctx, address)
	return bal, wrap("balance", chain, err)
}

// GetTokenBalance reads the tracked stablecoin balance. Only EVM chains with
// a configured token support it.
func (s *Service) GetTokenBalance(ctx context.Context, chain, address string) (bal models.CanonicalBalance, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "service.GetTokenBalance")
	span.SetAttributes(attribute.String("chain", chain))
	defer func() { tracing.End(span, err) }()

	m, err := s.monitorFor(chain, address, validation.ValidateAddress)
	if err != nil {
		return bal, wrap("token balance", chain, err)
	}
	tb, ok := m.(interfaces.TokenBalancer)
	if !ok {
		return bal, &Error{Chain: chain, Op: "token balance", Kind: KindUnsupported, Err: fmt.Errorf("%s has no tracked token", chain)}
	}
	bal, err = tb.TokenBalance(ctx, address)
	return bal, wrap("token balance", chain, err)
}

func (s *Service) GetTransaction(ctx context.Context, chain, txid string) (tx models.CanonicalTransaction, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "service.GetTransaction")
	span.SetAttributes(attribute.String("chain", chain), attribute.String("txid", txid))
	defer func() { tracing.End(span, err) }()

	m, err := s.monitorFor(chain, txid, validation.ValidateTxHash)
	if err != nil {
		return tx, wrap("transaction", chain, err)
	}
	tx, err = m.Transaction(ctx, txid)
	return tx, wrap("transaction", chain, err)
}

// SendTransfer signs and submits a transfer and returns its hash. It is not
// exposed over HTTP.
func (s *Service) SendTransfer(ctx context.Context, req models.TransferRequest) (hash string, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "service.SendTransfer")
	span.SetAttributes(attribute.String("chain", req.Chain), attribute.String("asset", req.Asset()))
	defer func() { tracing.End(span, err) }()

	hash, err = s.sender.Send(ctx, req)
	return hash, wrap("transfer", req.Chain, err)
}

// Track registers txid for confirmation tracking on behalf of owner. A zero
// target uses the chain's configured depth.
func (s *Service) Track(ctx context.Context, owner, chain, txid string, target uint64) (w models.WatchedTransaction, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "service.Track")
	span.SetAttributes(attribute.String("chain", chain), attribute.String("txid", txid))
	defer func() { tracing.End(span, err) }()

	c, err := s.chains.Lookup(chain)
	if err != nil {
		return w, wrap("track", chain, err)
	}
	if err := validation.ValidateTxHash(txid, c); err != nil {
		return w, wrap("track", chain, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	w, err = s.tracker.Track(ctx, owner, c.Name, txid, target)
	return w, wrap("track", chain, err)
}

func (s *Service) GetTracking(ctx context.Context, id string) (models.WatchedTransaction, error) {
	w, err := s.store.Get(ctx, id)
	return w, wrap("tracking", "", err)
}

func (s *Service) Chains() []string {
	return s.chains.Names()
}

func (s *Service) monitorFor(chain, value string, check func(string, models.Chain) error) (interfaces.ChainMonitor, error) {
	c, err := s.chains.Lookup(chain)
	if err != nil {
		return nil, err
	}
	if err := check(value, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.monitors.Monitor(c.Name)
}
