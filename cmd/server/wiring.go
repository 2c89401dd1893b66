package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"confirmgate/internal/core"
	"confirmgate/internal/gateway"
	gatewayHandler "confirmgate/internal/gateway/handler"
	"confirmgate/internal/idempotency"
	"confirmgate/internal/notification"
	"confirmgate/internal/platform/config"
	"confirmgate/internal/platform/metrics"
	"confirmgate/internal/platform/middleware"
	"confirmgate/internal/platform/postgres"
	redisclient "confirmgate/internal/platform/redis"
	"confirmgate/internal/registration"
	"confirmgate/internal/verification"
	"confirmgate/pkg/platform/circuit"
	"confirmgate/pkg/platform/httputil"
)

type application struct {
	router     http.Handler
	ledger     *idempotency.Ledger
	rules      *gateway.RuleSet
	worker     *gateway.Worker
	dispatcher *notification.Dispatcher
	closers    []func() error
}

func (a *application) close(log *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}

type stores struct {
	ledger        idempotency.Store
	registrations registration.Store
	deferred      gateway.DeferredStore
	corrections   gateway.CorrectionStore
	journal       gateway.JournalStore
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.close(log)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, db, rdb, err := openStores(ctx, cfg, app)
	if err != nil {
		return nil, err
	}

	ledger, err := idempotency.New(st.ledger,
		idempotency.WithLogger(log),
		idempotency.WithMetrics(m),
		idempotency.WithRetention(cfg.Idempotency.Retention),
		idempotency.WithClaimTimeouts(cfg.Idempotency.ClaimTTL, cfg.Idempotency.ClaimWait),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	app.ledger = ledger

	generator, err := registration.NewGenerator(cfg.Registration.Format, cfg.Registration.Length)
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}
	issuer, err := registration.NewIssuer(st.registrations, generator,
		registration.WithLogger(log),
		registration.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}

	rules, err := gateway.NewRuleSet(func() (config.RulesConfig, error) {
		return config.LoadRules(cfg.RulesFile)
	}, log)
	if err != nil {
		return nil, err
	}
	app.rules = rules

	opts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithMetrics(m),
		gateway.WithDeferredStore(st.deferred),
		gateway.WithCorrectionStore(st.corrections),
		gateway.WithJournalStore(st.journal),
	}

	if cfg.Verification.BaseURL != "" {
		provider, err := verification.NewHTTPProvider(cfg.Verification.BaseURL, cfg.Verification.Timeout,
			verification.WithRateLimit(cfg.Verification.RateLimit, cfg.Verification.RateBurst),
		)
		if err != nil {
			return nil, fmt.Errorf("verification: %w", err)
		}
		orchestrator, err := verification.NewOrchestrator(provider,
			verification.WithLogger(log),
			verification.WithMetrics(m),
			verification.WithCallTimeout(cfg.Verification.Timeout),
			verification.WithForwardRetries(cfg.Verification.ForwardRetries),
			verification.WithBreaker(circuit.New("identity-provider",
				circuit.WithFailureThreshold(cfg.Verification.FailureThreshold),
				circuit.WithCooldown(cfg.Verification.Cooldown),
			)),
		)
		if err != nil {
			return nil, fmt.Errorf("verification: %w", err)
		}
		opts = append(opts, gateway.WithVerifier(orchestrator))
	}

	dispatcher, err := buildDispatcher(ctx, cfg.Notification, log, m, app)
	if err != nil {
		return nil, err
	}
	app.dispatcher = dispatcher
	if dispatcher != nil {
		opts = append(opts, gateway.WithNotifier(dispatcher))
	}

	if cfg.Core.BaseURL != "" {
		coreClient, err := core.NewClient(cfg.Core.BaseURL, cfg.Core.Timeout,
			core.WithLogger(log),
			core.WithRetry(cfg.Core.MaxRetries, 0),
		)
		if err != nil {
			return nil, fmt.Errorf("core: %w", err)
		}
		opts = append(opts, gateway.WithCore(coreClient))
	}

	svc, err := gateway.New(ledger, rules, issuer, opts...)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	app.worker = gateway.NewWorker(svc,
		gateway.WithScanInterval(cfg.Deferred.ScanInterval),
		gateway.WithWorkerLogger(log),
	)

	router, err := buildRouter(cfg, log, m, svc, health(db, rdb))
	if err != nil {
		return nil, err
	}
	app.router = router
	return app, nil
}

func openStores(ctx context.Context, cfg *config.Config, app *application) (stores, *sql.DB, *redisclient.Client, error) {
	st := stores{
		ledger:        idempotency.NewInMemoryStore(),
		registrations: registration.NewInMemoryStore(),
		deferred:      gateway.NewInMemoryDeferredStore(),
		corrections:   gateway.NewInMemoryCorrectionStore(),
		journal:       gateway.NewInMemoryJournalStore(),
	}

	var db *sql.DB
	if cfg.Storage.Backend == "postgres" || cfg.Storage.Ledger == "postgres" {
		var err error
		db, err = postgres.Open(ctx, cfg.Storage.Postgres)
		if err != nil {
			return st, nil, nil, err
		}
		app.closers = append(app.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			return st, nil, nil, err
		}
	}
	if cfg.Storage.Backend == "postgres" {
		st.registrations = registration.NewPostgresStore(db)
		st.deferred = gateway.NewPostgresDeferredStore(db)
		st.corrections = gateway.NewPostgresCorrectionStore(db)
		st.journal = gateway.NewPostgresJournalStore(db)
	}

	var rdb *redisclient.Client
	switch cfg.Storage.Ledger {
	case "redis":
		var err error
		rdb, err = redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return st, db, nil, err
		}
		app.closers = append(app.closers, rdb.Close)
		st.ledger = idempotency.NewRedisStore(rdb.Client, cfg.Idempotency.Retention)
	case "postgres":
		st.ledger = idempotency.NewPostgresStore(db)
	}
	return st, db, rdb, nil
}

func buildDispatcher(ctx context.Context, cfg config.NotificationConfig, log *slog.Logger, m *metrics.Metrics, app *application) (*notification.Dispatcher, error) {
	var transport notification.Transport
	switch cfg.Transport {
	case "http":
		t, err := notification.NewHTTPTransport(cfg.URL, cfg.Timeout, nil)
		if err != nil {
			return nil, fmt.Errorf("notification: %w", err)
		}
		transport = t
	case "kafka":
		t, err := notification.NewKafkaTransport(cfg.Brokers, cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("notification: %w", err)
		}
		app.closers = append(app.closers, func() error { t.Close(); return nil })
		if err := t.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("notification topic not ensured", "topic", cfg.Topic, "error", err)
		}
		transport = t
	default:
		log.Info("notifications disabled")
		return nil, nil
	}
	return notification.NewDispatcher(transport,
		notification.WithLogger(log),
		notification.WithMetrics(m),
		notification.WithQueueSize(cfg.QueueSize),
		notification.WithWorkers(cfg.Workers),
		notification.WithRetry(cfg.MaxRetries, 0),
		notification.WithSendTimeout(cfg.Timeout),
	)
}

func buildRouter(cfg *config.Config, log *slog.Logger, m *metrics.Metrics, svc *gateway.Service, healthFn http.HandlerFunc) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.Get("/healthz", healthFn)
	r.Handle("/metrics", m.Handler())

	h := gatewayHandler.New(svc, log)
	if cfg.Auth.Disabled {
		log.Warn("bearer token authentication disabled")
		h.Register(r)
	} else {
		verifier, err := middleware.NewTokenVerifier(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(verifier, log))
			h.Register(r)
		})
	}

	return otelhttp.NewHandler(r, "confirmgate"), nil
}

func health(db *sql.DB, rdb *redisclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		checks := map[string]string{}
		status := http.StatusOK
		if db != nil {
			checks["postgres"] = "ok"
			if err := db.PingContext(ctx); err != nil {
				checks["postgres"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if rdb != nil {
			checks["redis"] = "ok"
			if err := rdb.Health(ctx); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		httputil.WriteJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
	}
}
