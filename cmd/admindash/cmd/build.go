package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/admindash/internal/config"
	"github.com/pitabwire/admindash/internal/observability"
	"github.com/pitabwire/admindash/internal/openapi"
	"github.com/pitabwire/admindash/internal/query"
	"github.com/pitabwire/admindash/internal/serviceconfig"
)

// configSource is a service config source plus the optional pieces that
// come with it.
type configSource struct {
	source serviceconfig.Source
	writer serviceconfig.Writer
	health observability.HealthChecker
	dirs   []string
	close  func()
}

// buildSpecSources converts config spec sources to openapi.SpecSource.
func buildSpecSources(specs []config.SpecSource) []openapi.SpecSource {
	out := make([]openapi.SpecSource, len(specs))
	for i, s := range specs {
		out[i] = openapi.SpecSource{ServiceCode: s.ServiceCode, SpecPath: s.SpecFile}
	}
	return out
}

// buildFetcher creates the backend HTTP fetcher with its circuit breaker.
func buildFetcher(cfg config.BackendConfig, logger *zap.Logger) *query.HTTPFetcher {
	breaker := query.NewBreaker(query.BreakerSettings{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		CoolDown:         cfg.CircuitBreaker.Timeout,
	})
	return query.NewHTTPFetcher(cfg.BaseURL, cfg.Timeout,
		query.WithBreaker(breaker),
		query.WithRetry(query.RetrySettings{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			BackoffInitial: cfg.Retry.BackoffInitial,
			BackoffMax:     cfg.Retry.BackoffMax,
		}),
		query.WithFetcherLogger(logger),
	)
}

// instrumentBackend records the latency of every backend call.
func instrumentBackend(b query.Backend, m *observability.Metrics) query.Backend {
	if m == nil {
		return b
	}
	return query.BackendFunc(func(ctx context.Context, method, path string, params url.Values, body any) (json.RawMessage, error) {
		start := time.Now()
		raw, err := b.Do(ctx, method, path, params, body)
		m.ObserveBackend(method, time.Since(start))
		return raw, err
	})
}

// buildFilterStore creates the persisted filter store. The returned checker
// and closer are nil for drivers without a remote dependency.
func buildFilterStore(cfg config.FilterStoreConfig, logger *zap.Logger) (query.FilterStore, observability.HealthChecker, func(), error) {
	switch cfg.Driver {
	case config.FilterStoreMemory, "":
		return query.NewMemoryFilterStore(), nil, nil, nil
	case config.FilterStoreFile:
		store, err := query.NewFileFilterStore(cfg.Directory)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("filter store: %w", err)
		}
		logger.Info("using file filter store", zap.String("directory", cfg.Directory))
		return store, nil, nil, nil
	case config.FilterStoreRedis:
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, nil, fmt.Errorf("filter store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		store := query.NewRedisFilterStore(client, cfg.Prefix, cfg.TTL)
		logger.Info("using redis filter store", zap.String("addr", addr), zap.Int("db", cfg.DB))
		return store, store, func() { _ = client.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported filter store driver: %q", cfg.Driver)
	}
}

// buildConfigSource creates the service config source named by cfg.Source.
func buildConfigSource(ctx context.Context, cfg config.ServicesConfig, backend query.Backend, client *query.Client, policy query.Policy, logger *zap.Logger) (configSource, error) {
	switch cfg.Source {
	case config.SourceDirectory, "":
		return configSource{source: serviceconfig.NewDirSource(cfg.Directories...), dirs: cfg.Directories}, nil
	case config.SourceHTTP:
		return configSource{source: serviceconfig.NewHTTPSource(backend, client, cfg.Endpoint, policy)}, nil
	case config.SourcePostgres:
		pg, closer, err := buildPgSource(ctx, cfg.Postgres, logger)
		if err != nil {
			return configSource{}, err
		}
		return configSource{source: pg, writer: pg, health: pg, close: closer}, nil
	default:
		return configSource{}, fmt.Errorf("unsupported service config source: %q", cfg.Source)
	}
}

func buildPgSource(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*serviceconfig.PgSource, func(), error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, nil, fmt.Errorf("service config store: %s environment variable not set", cfg.DSNEnv)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("service config store: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("service config store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("service config store: ping: %w", err)
	}

	src := serviceconfig.NewPgSource(pool)
	if cfg.Migrate {
		if err := src.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("service config store: migrate: %w", err)
		}
		logger.Info("service config table migrated")
	}
	return src, pool.Close, nil
}
