package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/tenant"
	"github.com/odyssey-erp/backoffice/internal/vault"
	"github.com/odyssey-erp/backoffice/jobs"
)

// Runtime is the shared infrastructure and services of every binary.
type Runtime struct {
	Config    *Config
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *observability.Metrics
	Jobs      *jobs.Client
	Numbers   *numbering.Generator
	Documents *documents.Service
	DocRepo   *documents.Repository
	Vault     *vault.Service
	// Local is set when vault files live on disk and must be served by the API.
	Local *vault.LocalStorage

	closers []func() error
}

// NewRuntime connects to Postgres, Redis and file storage and builds the
// services. Redis being down only disables the tenant cache.
func NewRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	RegisterVaultTypes(logger)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, err
	}
	rt.Pool = pool
	rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
	store := db.NewStore(pool)

	var resolverOpts []tenant.Option
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("tenant cache disabled", slog.Any("error", err))
	} else {
		rt.Redis = client
		rt.closers = append(rt.closers, client.Close)
		resolverOpts = append(resolverOpts, tenant.WithCache(client, cfg.TenantCacheTTL))
	}
	scopes := tenant.NewResolver(store, logger, resolverOpts...)

	rt.Jobs = jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	rt.closers = append(rt.closers, rt.Jobs.Close)

	audit := shared.NewAuditLogger(store, logger)
	rt.Numbers = numbering.NewGenerator(cfg.NumberFetchLimit, rt.Metrics)
	rt.DocRepo = documents.NewRepository(store, rt.Numbers)
	rt.Documents = documents.NewService(rt.DocRepo, scopes, documents.Deps{
		Mailer:  rt.Jobs,
		Audit:   audit,
		Metrics: rt.Metrics,
		Logger:  logger.With(slog.String("component", "documents")),
	})

	files, err := rt.fileStorage(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	deps := vault.Deps{Queue: rt.Jobs, Audit: audit, Logger: logger.With(slog.String("component", "vault"))}
	if cfg.OpenAIAPIKey != "" {
		classifier, err := vault.NewOpenAIClassifier(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("app: vault classifier: %w", err)
		}
		deps.Classifier = classifier
	}
	rt.Vault = vault.NewService(vault.NewRepository(store), files, scopes, deps)
	return rt, nil
}

func (rt *Runtime) fileStorage(ctx context.Context) (vault.FileStorage, error) {
	if rt.Config.UsesLocalVault() {
		local, err := vault.NewLocalStorage(rt.Config.VaultStorageDir, rt.Config.AppBaseURL+"/vault/files", []byte(rt.Config.VaultSigningKey))
		if err != nil {
			return nil, err
		}
		rt.Local = local
		return local, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: gcs client: %w", err)
	}
	rt.closers = append(rt.closers, client.Close)
	return vault.NewGCSStorage(client.Bucket(rt.Config.VaultBucket)), nil
}

// Close releases every connection in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// HTTPParams wires the runtime's services into router parameters.
func (rt *Runtime) HTTPParams(inspector jobs.QueueInspector) RouterParams {
	params := RouterParams{
		Logger:       rt.Logger,
		Config:       rt.Config,
		Documents:    rt.Documents,
		VaultHandler: vault.NewHandler(rt.Logger, rt.Vault, rt.Config.VaultURLTTL),
		JobHandler:   jobs.NewHandler(inspector, rt.Logger),
		Metrics:      rt.Metrics,
		Database:     rt.Pool,
	}
	if rt.Local != nil {
		params.Downloads = rt.Local
	}
	return params
}
