package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/admindash/internal/config"
	"github.com/pitabwire/admindash/internal/menu"
	"github.com/pitabwire/admindash/internal/observability"
	"github.com/pitabwire/admindash/internal/openapi"
	"github.com/pitabwire/admindash/internal/query"
	"github.com/pitabwire/admindash/internal/serviceconfig"
	"github.com/pitabwire/admindash/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Step 1: Telemetry.
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "admindash", appVersion)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.InitMetrics(registry)

	// Step 2: Backend access and the response cache.
	fetcher := buildFetcher(cfg.Backend, logger)
	fetcher.Breaker().OnStateChange(func(s query.BreakerState) {
		metrics.SetBreakerState(int(s))
		logger.Warn("backend circuit breaker state changed", zap.Stringer("state", s))
	})
	backend := instrumentBackend(fetcher, metrics)
	client := query.NewClient(query.WithCacheMetrics(metrics.QueryCacheHitsTotal, metrics.QueryCacheMissesTotal))
	policy := query.Policy{StaleTime: cfg.Query.StaleTime, CacheTime: cfg.Query.CacheTime}

	filters, filtersHealth, filtersClose, err := buildFilterStore(cfg.Query.FilterStore, logger)
	if err != nil {
		return err
	}
	if filtersClose != nil {
		defer filtersClose()
	}

	// Step 3: Service configs.
	store := serviceconfig.NewStore(
		serviceconfig.WithLogger(logger),
		serviceconfig.WithParseFailures(metrics.ConfigParseFailuresTotal),
	)
	src, err := buildConfigSource(ctx, cfg.Services, backend, client, policy, logger)
	if err != nil {
		return err
	}
	if src.close != nil {
		defer src.close()
	}

	loader := serviceconfig.NewLoader(src.source, store, logger)
	loader.OnResult(func(loaded int, err error) {
		if err != nil {
			metrics.RecordConfigReload("error", 0)
			return
		}
		metrics.RecordConfigReload("ok", loaded)
	})
	if err := loader.Load(ctx); err != nil {
		// The store reports the failure through /ui/services and readiness;
		// an admin can retry with /ui/services/refresh.
		logger.Error("initial service config load failed", zap.Error(err))
	}

	// Step 4: OpenAPI documents and operation conformance.
	oaIndex := openapi.NewIndex()
	if err := oaIndex.Load(buildSpecSources(cfg.Services.OpenAPI)); err != nil {
		return err
	}
	reportMismatches(store, oaIndex, metrics, logger)
	unsubscribe := store.Subscribe(func() { reportMismatches(store, oaIndex, metrics, logger) })
	defer unsubscribe()

	live := menu.NewLive(menu.NewBuilder(store), store)
	defer live.Close()

	// Step 5: Authentication.
	var authenticate func(http.Handler) http.Handler
	if cfg.Identity.Enabled() {
		verifier, err := transport.NewVerifier(cfg.Identity, logger)
		if err != nil {
			return err
		}
		authenticate = transport.BearerAuth(verifier)
	} else {
		logger.Warn("identity not configured, requests are not authenticated")
	}

	// Step 6: Router and server.
	ready := observability.ReadinessChecks{
		ServiceConfigs: store,
		Dependencies:   map[string]observability.HealthChecker{},
	}
	if src.health != nil {
		ready.Dependencies["postgres"] = src.health
	}
	if filtersHealth != nil {
		ready.Dependencies["redis"] = filtersHealth
	}

	handler := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Authenticate: authenticate,
		Store:        store,
		Writer:       src.writer,
		Menu:         live,
		Backend:      backend,
		Client:       client,
		FilterStore:  filters,
		OpenAPI:      oaIndex,
		Metrics:      metrics,
		Registry:     registry,
		Ready:        ready,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 7: Background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go client.RunJanitor(bgCtx, cfg.Query.JanitorInterval)
	if cfg.Services.HotReload && len(src.dirs) > 0 {
		go func() {
			if err := serviceconfig.Watch(bgCtx, loader, src.dirs, cfg.Services.Settle, logger); err != nil {
				logger.Error("service config watcher stopped", zap.Error(err))
			}
		}()
	}

	// Step 8: Serve until a signal or a listener error.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", appVersion),
		zap.String("commit", appCommit),
		zap.String("config_source", cfg.Services.Source),
		zap.Int("services", len(store.List())),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// reportMismatches logs operations the OpenAPI documents do not describe and
// publishes the per-service count.
func reportMismatches(store *serviceconfig.Store, idx *openapi.Index, metrics *observability.Metrics, logger *zap.Logger) {
	counts := make(map[string]int)
	for _, code := range idx.Services() {
		counts[code] = 0
	}
	for _, m := range serviceconfig.CheckOperations(store.List(), idx) {
		logger.Warn("operation not in OpenAPI document", zap.String("mismatch", m.String()))
		counts[m.Service]++
	}
	for code, n := range counts {
		metrics.SetOpenAPIMismatches(code, n)
	}
}
