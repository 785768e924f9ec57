package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/platform/db/dbtest"
)

func tenantStore(mapping map[uuid.UUID]any, err error) *dbtest.Store {
	return dbtest.New(func(sql string, args []any) ([]db.Row, error) {
		if err != nil {
			return nil, err
		}
		company := args[0].(uuid.UUID)
		tenant, ok := mapping[company]
		if !ok {
			return nil, nil
		}
		return []db.Row{{"tenant_id": tenant}}, nil
	})
}

func TestResolveScopeReturnsTenant(t *testing.T) {
	company, tenant := uuid.New(), uuid.New()
	r := NewResolver(tenantStore(map[uuid.UUID]any{company: [16]byte(tenant)}, nil), nil)
	assert.Equal(t, tenant, r.ResolveScope(context.Background(), company))
}

func TestResolveScopeFallsBackToCompany(t *testing.T) {
	company, other := uuid.New(), uuid.New()

	t.Run("no row", func(t *testing.T) {
		r := NewResolver(tenantStore(nil, nil), nil)
		assert.Equal(t, company, r.ResolveScope(context.Background(), company))
	})
	t.Run("null tenant", func(t *testing.T) {
		r := NewResolver(tenantStore(map[uuid.UUID]any{company: nil}, nil), nil)
		assert.Equal(t, company, r.ResolveScope(context.Background(), company))
	})
	t.Run("lookup error", func(t *testing.T) {
		r := NewResolver(tenantStore(nil, errors.New("relation does not exist")), nil)
		assert.Equal(t, company, r.ResolveScope(context.Background(), company))
	})
	t.Run("other company mapped", func(t *testing.T) {
		r := NewResolver(tenantStore(map[uuid.UUID]any{other: uuid.New().String()}, nil), nil)
		assert.Equal(t, company, r.ResolveScope(context.Background(), company))
	})
}

func TestResolveScopeIsStableAcrossCalls(t *testing.T) {
	company, tenant := uuid.New(), uuid.New()
	r := NewResolver(tenantStore(map[uuid.UUID]any{company: tenant}, nil), nil)
	list := r.ResolveScope(context.Background(), company)
	detail := r.ResolveScope(context.Background(), company)
	assert.Equal(t, list, detail)
}

func TestResolveScopeUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	company, tenant := uuid.New(), uuid.New()
	store := tenantStore(map[uuid.UUID]any{company: tenant}, nil)
	r := NewResolver(store, nil, WithCache(client, time.Minute))

	assert.Equal(t, tenant, r.ResolveScope(context.Background(), company))
	assert.Equal(t, tenant, r.ResolveScope(context.Background(), company))
	assert.Len(t, store.Statements(), 1)

	cached, err := mr.Get(cachePrefix + company.String())
	require.NoError(t, err)
	assert.Equal(t, tenant.String(), cached)

	mr.FastForward(2 * time.Minute)
	r.ResolveScope(context.Background(), company)
	assert.Len(t, store.Statements(), 2)

	r.Invalidate(context.Background(), company)
	assert.False(t, mr.Exists(cachePrefix+company.String()))
}

func TestResolveScopeDoesNotCacheLookupErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	company := uuid.New()
	r := NewResolver(tenantStore(nil, errors.New("timeout")), nil, WithCache(client, time.Minute))
	assert.Equal(t, company, r.ResolveScope(context.Background(), company))
	assert.False(t, mr.Exists(cachePrefix+company.String()))
}

func TestResolveScopeSurvivesCacheOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	company, tenant := uuid.New(), uuid.New()
	r := NewResolver(tenantStore(map[uuid.UUID]any{company: tenant}, nil), nil, WithCache(client, time.Minute))
	assert.Equal(t, tenant, r.ResolveScope(context.Background(), company))
}

func TestResolveScopeConcurrentCallers(t *testing.T) {
	company, tenant := uuid.New(), uuid.New()
	r := NewResolver(tenantStore(map[uuid.UUID]any{company: tenant}, nil), nil)

	var wg sync.WaitGroup
	results := make([]uuid.UUID, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.ResolveScope(context.Background(), company)
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, tenant, got)
	}
}
