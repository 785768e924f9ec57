// Package tenant resolves the data scope of a company. Companies that belong to a
// tenant share that tenant's documents; standalone companies scope by their own id.
package tenant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

const lookupSQL = `SELECT tenant_id FROM company_tenants WHERE company_id = $1 LIMIT 1`

const cachePrefix = "backoffice:scope:"

// Resolver maps a company id to its scope id. It never fails: an unknown company,
// a NULL tenant or a lookup error all resolve to the company id itself.
type Resolver struct {
	store  db.Querier
	cache  redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithCache memoises resolved scopes in Redis for ttl.
func WithCache(client redis.Cmdable, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = client
		r.ttl = ttl
	}
}

// NewResolver constructs a Resolver.
func NewResolver(store db.Querier, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{store: store, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveScope returns the tenant id for companyID, or companyID when it has none.
func (r *Resolver) ResolveScope(ctx context.Context, companyID uuid.UUID) uuid.UUID {
	if scope, ok := r.cached(ctx, companyID); ok {
		return scope
	}
	v, _, _ := r.group.Do(companyID.String(), func() (any, error) {
		scope, cacheable := r.lookup(ctx, companyID)
		if cacheable {
			r.remember(ctx, companyID, scope)
		}
		return scope, nil
	})
	return v.(uuid.UUID)
}

// Invalidate drops the cached scope for companyID.
func (r *Resolver) Invalidate(ctx context.Context, companyID uuid.UUID) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cachePrefix+companyID.String()).Err(); err != nil {
		r.logger.Warn("scope cache invalidate failed", slog.String("company_id", companyID.String()), slog.Any("error", err))
	}
}

func (r *Resolver) lookup(ctx context.Context, companyID uuid.UUID) (uuid.UUID, bool) {
	rows, err := r.store.Select(ctx, lookupSQL, companyID)
	if err != nil {
		r.logger.Warn("tenant lookup failed, scoping by company",
			slog.String("company_id", companyID.String()),
			slog.Any("error", err))
		return companyID, false
	}
	row, ok := db.First(rows)
	if !ok {
		return companyID, true
	}
	tenantID, ok := asUUID(row["tenant_id"])
	if !ok || tenantID == uuid.Nil {
		return companyID, true
	}
	return tenantID, true
}

func (r *Resolver) cached(ctx context.Context, companyID uuid.UUID) (uuid.UUID, bool) {
	if r.cache == nil {
		return uuid.Nil, false
	}
	raw, err := r.cache.Get(ctx, cachePrefix+companyID.String()).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Debug("scope cache read failed", slog.Any("error", err))
		}
		return uuid.Nil, false
	}
	scope, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return scope, true
}

func (r *Resolver) remember(ctx context.Context, companyID, scope uuid.UUID) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, cachePrefix+companyID.String(), scope.String(), r.ttl).Err(); err != nil {
		r.logger.Debug("scope cache write failed", slog.Any("error", err))
	}
}

func asUUID(v any) (uuid.UUID, bool) {
	switch t := v.(type) {
	case uuid.UUID:
		return t, true
	case [16]byte:
		return uuid.UUID(t), true
	case string:
		id, err := uuid.Parse(t)
		return id, err == nil
	case []byte:
		id, err := uuid.ParseBytes(t)
		return id, err == nil
	}
	return uuid.Nil, false
}
