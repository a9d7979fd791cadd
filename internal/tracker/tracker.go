// Package tracker polls watched transactions until they confirm or fail.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chainpay/internal/interfaces"
	"chainpay/internal/metrics"
	"chainpay/internal/models"
	"chainpay/internal/normalize"
	"chainpay/internal/rpc"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidTarget = errors.New("invalid confirmation target")

const (
	DefaultInterval = 60 * time.Second
	DefaultWorkers  = 16
)

// Resolver returns the confirmation observer for a chain.
type Resolver func(chain string) (interfaces.Observer, error)

type Config struct {
	Interval time.Duration
	// Workers bounds how many watched transactions are observed at once.
	Workers int
}

// Stats summarizes one polling cycle.
type Stats struct {
	Polled    int
	Advanced  int
	Confirmed int
	Failed    int
	Errors    int
}

type Tracker struct {
	chains    models.Registry
	store     interfaces.DealStore
	observers Resolver
	notifier  interfaces.Notifier
	cfg       Config
	logger    *zerolog.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

func New(chains models.Registry, store interfaces.DealStore, observers Resolver, notifier interfaces.Notifier, cfg Config, logger *zerolog.Logger, recorder metrics.Recorder) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Tracker{
		chains:    chains,
		store:     store,
		observers: observers,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		metrics:   recorder,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Track registers txid for confirmation tracking. A zero target uses the
// chain's configured depth.
func (t *Tracker) Track(ctx context.Context, owner, chain, txid string, target uint64) (models.WatchedTransaction, error) {
	c, err := t.chains.Lookup(chain)
	if err != nil {
		return models.WatchedTransaction{}, err
	}
	if target == 0 {
		target = c.TargetConfirmations
	}
	if target == 0 {
		target = 1
	}
	switch c.Params.(type) {
	case *models.EVMParams:
		txid = strings.ToLower(txid)
	case *models.AccountParams:
		// Confirmations are a finality tier here, so deeper targets never arrive.
		if target > normalize.TierFinalized {
			return models.WatchedTransaction{}, fmt.Errorf("%w: %s target %d exceeds the finalized tier (%d)",
				ErrInvalidTarget, c.Name, target, normalize.TierFinalized)
		}
	}

	w, err := t.store.AddTracking(ctx, owner, c.Name, txid, target)
	if err != nil {
		return w, fmt.Errorf("add tracking: %w", err)
	}
	t.logger.Info().
		Str("chain", c.Name).
		Str("txid", txid).
		Str("id", w.ID).
		Uint64("target", w.TargetConfirmations).
		Msg("Tracking transaction")
	return w, nil
}

// Run polls immediately and then on every interval until ctx is done. A
// cycle that has started runs to completion; shutdown is noticed between
// cycles.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.cfg.Interval).Msg("Confirmation tracker started")
	for {
		if _, err := t.PollOnce(context.WithoutCancel(ctx)); err != nil {
			t.logger.Error().Err(err).Msg("Polling cycle failed")
		}

		select {
		case <-ctx.Done():
			t.logger.Info().Msg("Confirmation tracker shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce observes every pending transaction once and applies the
// results.
func (t *Tracker) PollOnce(ctx context.Context) (Stats, error) {
	start := time.Now()
	pending, err := t.store.ListPending(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list pending: %w", err)
	}

	var (
		mu    sync.Mutex
		stats = Stats{Polled: len(pending)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Workers)
	for _, w := range pending {
		g.Go(func() error {
			r := t.process(gctx, w)
			mu.Lock()
			stats.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	t.metrics.IncCounter(metrics.TrackerCycle, map[string]string{"outcome": "ok"})
	t.metrics.ObserveLatency("tracker_cycle", time.Since(start), nil)
	t.logger.Debug().
		Int("polled", stats.Polled).
		Int("advanced", stats.Advanced).
		Int("confirmed", stats.Confirmed).
		Int("failed", stats.Failed).
		Int("errors", stats.Errors).
		Dur("took", time.Since(start)).
		Msg("Polling cycle done")
	return stats, nil
}

type result int

const (
	unchanged result = iota
	advanced
	confirmed
	failed
	errored
)

func (s *Stats) add(r result) {
	switch r {
	case advanced:
		s.Advanced++
	case confirmed:
		s.Advanced++
		s.Confirmed++
	case failed:
		s.Advanced++
		s.Failed++
	case errored:
		s.Errors++
	}
}

func (t *Tracker) process(ctx context.Context, w models.WatchedTransaction) result {
	log := t.logger.With().Str("chain", w.Chain).Str("txid", w.TxID).Str("id", w.ID).Logger()

	// Confirmed but not yet marked complete: an earlier MarkComplete failed.
	if w.Status == models.StatusConfirmed {
		if err := t.complete(ctx, log, w); err != nil {
			return errored
		}
		return confirmed
	}

	observer, err := t.observers(w.Chain)
	if err != nil {
		log.Error().Err(err).Msg("No observer for chain")
		t.metrics.IncCounter(metrics.TrackerPollError, map[string]string{"chain": w.Chain, "outcome": "no_observer"})
		return errored
	}

	obs, err := observer.Observe(ctx, w.TxID)
	if err != nil {
		// retried next cycle
		ev := log.Warn()
		if !errors.Is(err, rpc.ErrEndpointsExhausted) {
			ev = log.Error()
		}
		ev.Err(err).Msg("Observation failed")
		t.metrics.IncCounter(metrics.TrackerPollError, map[string]string{"chain": w.Chain, "outcome": "observe"})
		return errored
	}

	next := w.Advance(obs)
	if !next.Changed(w) {
		return unchanged
	}
	next.UpdatedAt = t.now()
	if err := t.store.Save(ctx, next); err != nil {
		log.Error().Err(err).Msg("Failed to save transition")
		return errored
	}

	t.metrics.IncCounter(metrics.TrackerTransition, map[string]string{"chain": w.Chain, "outcome": string(next.Status)})
	log.Info().
		Str("from", string(w.Status)).
		Str("to", string(next.Status)).
		Uint64("confirmations", next.Confirmations).
		Uint64("target", next.TargetConfirmations).
		Msg("Transaction advanced")

	switch next.Status {
	case models.StatusConfirmed:
		if err := t.complete(ctx, log, next); err != nil {
			return errored
		}
		return confirmed
	case models.StatusFailed:
		return failed
	default:
		return advanced
	}
}

// complete archives a confirmed transaction and then notifies its owner. A
// failed MarkComplete skips the notice; the entry is listed again next cycle.
func (t *Tracker) complete(ctx context.Context, log zerolog.Logger, w models.WatchedTransaction) error {
	if err := t.store.MarkComplete(ctx, w.ID); err != nil {
		log.Error().Err(err).Msg("Failed to mark transaction complete")
		t.metrics.IncCounter(metrics.TrackerPollError, map[string]string{"chain": w.Chain, "outcome": "mark_complete"})
		return err
	}

	var explorer string
	if c, err := t.chains.Lookup(w.Chain); err == nil {
		explorer = c.ExplorerURL(w.TxID)
	}
	n := models.Notification{
		WatchID:       w.ID,
		TxID:          w.TxID,
		Chain:         w.Chain,
		Confirmations: w.Confirmations,
		ExplorerURL:   explorer,
		ConfirmedAt:   w.UpdatedAt,
	}
	if err := t.notifier.Notify(ctx, w.OwnerRef, n); err != nil {
		log.Error().Err(err).Str("owner", w.OwnerRef).Msg("Failed to notify owner")
	}
	return nil
}
