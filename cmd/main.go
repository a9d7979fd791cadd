package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainpay/internal/broadcast"
	"chainpay/internal/config"
	"chainpay/internal/emitters"
	"chainpay/internal/health"
	"chainpay/internal/interfaces"
	"chainpay/internal/logger"
	"chainpay/internal/metrics"
	"chainpay/internal/models"
	"chainpay/internal/monitors"
	"chainpay/internal/nonce"
	"chainpay/internal/rpc"
	"chainpay/internal/service"
	"chainpay/internal/store/memory"
	"chainpay/internal/store/postgres"
	"chainpay/internal/tracing"
	"chainpay/internal/tracker"

	"golang.org/x/sync/errgroup"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().Error().Interface("panic", r).Msg("Application panicked, recovering")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "track" {
		err = runTrack(ctx, cfg, os.Args[2:])
	} else {
		err = serve(ctx, cfg)
	}
	if err != nil {
		logger.GetLogger().Error().Err(err).Msg("Exiting with error")
		stop()
		os.Exit(1)
	}
}

// app holds the components shared by the daemon and the CLI.
type app struct {
	chains   models.Registry
	pool     *rpc.Pool
	monitors *monitors.Set
	store    interfaces.DealStore
	notifier interfaces.Notifier
	tracker  *tracker.Tracker
	service  *service.Service
	metrics  *metrics.PrometheusRecorder
	closers  []func()
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{metrics: metrics.NewPrometheusRecorder()}

	chains, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	a.chains = chains

	sets, err := cfg.EndpointSets()
	if err != nil {
		return nil, err
	}
	a.pool, err = rpc.NewPool(sets, rpc.WithLogger(logger.Component("rpc")), rpc.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("create endpoint pool: %w", err)
	}
	a.closers = append(a.closers, a.pool.Close)

	a.monitors, err = monitors.NewSet(chains, a.pool, logger.Component("monitor"))
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.openStore(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	a.openNotifier(cfg)

	nonces := nonce.NewAllocator(func(chain string) (nonce.Source, error) {
		c, err := a.monitors.EVM(chain)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, logger.Component("nonce"), a.metrics)

	sender := broadcast.New(chains, func(chain string) (broadcast.Backend, error) {
		c, err := a.monitors.EVM(chain)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, nonces, logger.Component("broadcast"), a.metrics)

	a.tracker = tracker.New(chains, a.store, func(chain string) (interfaces.Observer, error) {
		m, err := a.monitors.Monitor(chain)
		if err != nil {
			return nil, err
		}
		return m, nil
	}, a.notifier, tracker.Config{Interval: cfg.PollInterval, Workers: cfg.Workers}, logger.Component("tracker"), a.metrics)

	a.service = service.New(chains, a.monitors, sender, a.tracker, a.store, logger.Component("service"))
	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.DealStore {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		if err := store.Migrate(cfg.Database.DBName); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.store = store
	default:
		a.store = memory.New()
	}
	return nil
}

func (a *app) openNotifier(cfg *config.Config) {
	log := logger.Component("notifier")
	n := &emitters.LogNotifier{Logger: log}
	if cfg.Notifier == "kafka" {
		k := emitters.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		a.closers = append(a.closers, func() { _ = k.Close() })
		n.Next = k
	}
	a.notifier = n
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.GetLogger()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName, log)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	checker := health.NewChecker(logger.Component("health"), health.DefaultRefresh)
	for _, name := range a.monitors.Chains() {
		m, err := a.monitors.Monitor(name)
		if err != nil {
			return err
		}
		checker.Watch(ctx, name, m)
	}

	mux := http.NewServeMux()
	a.service.Register(mux)
	mux.HandleFunc("GET /healthz", checker.LivenessHandler)
	mux.HandleFunc("GET /readyz", checker.ReadinessHandler)
	mux.Handle("GET /metrics", a.metrics.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           service.AccessLog(logger.Component("http"), mux),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Strs("chains", a.chains.Names()).Msg("API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.tracker.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	checker.SetReady(true)
	err = g.Wait()
	log.Info().Msg("Shut down")
	return err
}
