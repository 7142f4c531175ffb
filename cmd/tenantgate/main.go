package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/riandyrn/otelchi"

	"github.com/b2xlabs/tenantgate/internal/adapter/cache"
	"github.com/b2xlabs/tenantgate/internal/adapter/dns"
	"github.com/b2xlabs/tenantgate/internal/adapter/fsm"
	"github.com/b2xlabs/tenantgate/internal/adapter/otel"
	riveradapter "github.com/b2xlabs/tenantgate/internal/adapter/river"
	"github.com/b2xlabs/tenantgate/internal/adapter/sqlite"
	"github.com/b2xlabs/tenantgate/internal/app"
	"github.com/b2xlabs/tenantgate/internal/config"
	"github.com/b2xlabs/tenantgate/internal/domain"

	handler "github.com/b2xlabs/tenantgate/internal/adapter/http"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("tenantgate: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	providers, err := otel.Setup(ctx, otel.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := otel.OpenDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	store, err := sqlite.NewFromDB(db)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	repo := otel.NewTracingRepository(store)

	local := cache.NewLocal(cfg.CacheSize)
	var bindingCache domain.BindingCache = local
	if cfg.RedisURL != "" {
		redisClient, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		bindingCache = cache.NewTwoTier(local, redisClient, logger)
	}
	defer bindingCache.Close()

	// --- Application ---
	lookup, err := app.NewLookupService(repo, bindingCache, logger, app.LookupConfig{
		TTL:             cfg.CacheTTL,
		NegativeTTL:     cfg.CacheNegativeTTL,
		RevalidateAfter: cfg.RevalidateAfter,
		StoreTimeout:    cfg.StoreTimeout,
	})
	if err != nil {
		return fmt.Errorf("lookup service: %w", err)
	}

	// The event publisher is late-bound: the sweep worker needs the
	// verification service at River setup time, and the service needs a
	// publisher from the moment it exists. Events cannot flow before
	// client.Start, so binding the real publisher after Setup is safe.
	publisher := &switchablePublisher{}
	publisher.set(&logPublisher{logger: logger})

	svc := app.NewVerificationService(
		repo,
		dns.New(nil, cfg.DNSTimeout),
		fsm.New(),
		otel.NewTracingPublisher(publisher),
		lookup,
		cfg.BaseDomain,
		cfg.TokenTTL,
	)

	// --- Background jobs ---
	riverOpts := riveradapter.Options{}
	if cfg.SweepEnabled {
		riverOpts.SweepInterval = cfg.SweepInterval
		riverOpts.SweepLister = repo
		riverOpts.SweepVerifier = svc
	}
	riverClient, err := riveradapter.Setup(ctx, db, riverOpts)
	if err != nil {
		return fmt.Errorf("river setup: %w", err)
	}
	publisher.set(riveradapter.NewPublisher(riverClient))

	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("river start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			logger.Error("river stop", "error", err)
		}
	}()

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(otelchi.Middleware("tenantgate", otelchi.WithChiRoutes(router)))
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	var defaultTenant uuid.UUID
	if cfg.DefaultTenantID != "" {
		defaultTenant, err = uuid.Parse(cfg.DefaultTenantID)
		if err != nil {
			return fmt.Errorf("parsing DEFAULT_TENANT_ID: %w", err)
		}
	}
	router.Use(handler.TenantResolver(lookup, logger, handler.ResolverOptions{
		SkipPrefixes:    []string{"/api/", "/docs", "/openapi", "/schemas", "/healthz"},
		DefaultTenantID: defaultTenant,
	}))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/*", handler.BindingInfo())

	api := humachi.New(router, huma.DefaultConfig("tenantgate", "0.1.0"))
	handler.Register(api, svc)

	// --- Server ---
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tenantgate listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("stopped")
	return nil
}

// switchablePublisher lets the real publisher be attached after the
// verification service is constructed.
type switchablePublisher struct {
	current atomic.Pointer[domain.EventPublisher]
}

func (p *switchablePublisher) set(next domain.EventPublisher) {
	p.current.Store(&next)
}

func (p *switchablePublisher) Publish(ctx context.Context, event domain.Event, d domain.Domain) error {
	return (*p.current.Load()).Publish(ctx, event, d)
}

// logPublisher records events before the job queue is up.
type logPublisher struct {
	logger *slog.Logger
}

func (p *logPublisher) Publish(ctx context.Context, event domain.Event, d domain.Domain) error {
	p.logger.InfoContext(ctx, "domain event", "event", event, "domain", d.DomainName, "tenant_id", d.TenantID)
	return nil
}
