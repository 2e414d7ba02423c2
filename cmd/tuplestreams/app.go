package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/tuplestreams/binding"
	"github.com/c360/tuplestreams/config"
	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/health"
	"github.com/c360/tuplestreams/lease"
	"github.com/c360/tuplestreams/metric"
	"github.com/c360/tuplestreams/natsclient"
	"github.com/c360/tuplestreams/store"
)

// app owns everything the binary runs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *metric.MetricsRegistry
	health    *health.Monitor
	server    *metric.Server
	leases    *lease.Manager
	nats      *natsclient.Client
	store     store.Store
	handler   *store.Handler
	factory   *binding.Factory
	recorders []*store.Recorder
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		health:   health.NewMonitor(),
	}
}

// start brings the components up in dependency order. On failure the caller still
// calls stop to release what was started.
func (a *app) start(ctx context.Context) error {
	if a.cfg.Metrics.Port > 0 {
		a.server = metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, a.registry, a.logger)
		a.server.SetHealthHandler(health.Handler(a.health, appName))
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	leases, err := lease.NewManager(lease.ManagerDeps{
		Config:          a.cfg.LeaseManagerConfig(),
		MetricsRegistry: a.registry,
		Logger:          a.logger,
	})
	if err != nil {
		return fmt.Errorf("create lease manager: %w", err)
	}
	a.leases = leases

	if err := a.openStore(ctx); err != nil {
		return err
	}
	a.handler = store.NewHandler(a.store, a.registry, a.logger)

	factory, err := binding.NewFactory(a.cfg.FactoryConfig(), binding.Deps{
		Leases:          a.leases,
		MetricsRegistry: a.registry,
		Logger:          a.logger,
	})
	if err != nil {
		return fmt.Errorf("create binding factory: %w", err)
	}
	a.factory = factory

	for _, ch := range a.cfg.Channels {
		b, err := a.factory.Bind(ctx, ch.BindRequest())
		if err != nil {
			return fmt.Errorf("bind channel %s: %w", ch.Name, err)
		}
		a.watch(b)
		if ch.Record {
			if err := a.record(ctx, b); err != nil {
				return fmt.Errorf("record channel %s: %w", ch.Name, err)
			}
		}
	}
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.StoreBackendKV:
		client, err := natsclient.NewClient(strings.Join(a.cfg.NATS.URLs, ","),
			natsclient.WithLogger(a.logger),
			natsclient.WithMetrics(a.registry),
			natsclient.WithMaxReconnects(a.cfg.NATS.MaxReconnects),
			natsclient.WithReconnectWait(a.cfg.NATS.ReconnectWait),
			natsclient.WithName("tuplestreams"),
		)
		if err != nil {
			return fmt.Errorf("create NATS client: %w", err)
		}
		a.nats = client
		a.health.Watch("nats", natsCheck(client))

		a.logger.Info("Connecting to NATS", "urls", a.cfg.NATS.URLs)
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.WaitForConnection(connCtx); err != nil {
			return fmt.Errorf("NATS connection timeout: %w", err)
		}

		bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      a.cfg.Store.Bucket,
			Description: "tuplestreams tuple store",
			TTL:         a.cfg.Store.TTL,
		})
		if err != nil {
			return fmt.Errorf("open bucket %s: %w", a.cfg.Store.Bucket, err)
		}
		kv, err := store.NewKVStore(client.NewKVStore(bucket), nil)
		if err != nil {
			return err
		}
		a.store = kv

	default:
		a.store = store.NewMemoryStore()
	}
	a.logger.Info("Tuple store ready", "backend", a.store.Backend())
	return nil
}

// watch reports b healthy until its channel is revoked.
func (a *app) watch(b *binding.Binding) {
	name := "channel/" + b.Name()
	a.health.Set(name, health.Healthy(name, "bound"))
	go func() {
		<-b.Done()
		a.health.Set(name, health.Unhealthy(name, "channel revoked"))
	}()
}

func natsCheck(client *natsclient.Client) health.Check {
	return func() health.Status {
		switch st := client.Status(); st {
		case natsclient.StatusConnected:
			return health.Healthy("nats", "connected")
		case natsclient.StatusConnecting, natsclient.StatusReconnecting:
			return health.Degraded("nats", st.String())
		default:
			return health.Unhealthy("nats", st.String())
		}
	}
}

func (a *app) record(ctx context.Context, b *binding.Binding) error {
	rec, err := store.NewRecorder(b, a.handler, nil, b.Request().LeaseDuration, a.logger.With("channel", b.Name()))
	if err != nil {
		return err
	}
	if err := rec.Start(ctx); err != nil {
		return err
	}
	a.recorders = append(a.recorders, rec)
	return nil
}

// stop tears down in reverse order and reports every failure.
func (a *app) stop(ctx context.Context) error {
	var errs []error
	for _, rec := range a.recorders {
		rec.Stop()
	}
	if a.factory != nil {
		if err := a.factory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bindings: %w", err))
		}
	}
	if a.leases != nil {
		if err := a.leases.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close lease manager: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close NATS: %w", err))
		}
	}
	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	return errors.Join(errs...)
}
