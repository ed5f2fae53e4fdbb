package modules

import (
	"context"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	mods    map[string]*Module
	order   []string
	writes  int
	upserts int
}

func newMockRepository(mods ...Module) *mockRepository {
	repo := &mockRepository{mods: make(map[string]*Module)}
	for i := range mods {
		m := mods[i]
		repo.mods[m.Key] = &m
		repo.order = append(repo.order, m.Key)
	}
	return repo
}

func (r *mockRepository) List(ctx context.Context) ([]Module, error) {
	keys := append([]string(nil), r.order...)
	sort.SliceStable(keys, func(i, j int) bool {
		return r.mods[keys[i]].Order < r.mods[keys[j]].Order
	})
	out := make([]Module, 0, len(keys))
	for _, k := range keys {
		out = append(out, *r.mods[k])
	}
	return out, nil
}

func (r *mockRepository) GetByKey(ctx context.Context, key string) (Module, error) {
	if m, ok := r.mods[key]; ok {
		return *m, nil
	}
	return Module{}, ErrNotFound
}

func (r *mockRepository) Upsert(ctx context.Context, m Module) error {
	if _, ok := r.mods[m.Key]; !ok {
		r.order = append(r.order, m.Key)
	}
	stored := m
	stored.UpdatedAt = time.Now()
	r.mods[m.Key] = &stored
	r.upserts++
	return nil
}

func (r *mockRepository) SetEnabled(ctx context.Context, key string, enabled bool, updatedBy string) error {
	m, ok := r.mods[key]
	if !ok {
		return ErrNotFound
	}
	m.Enabled = enabled
	m.UpdatedBy = updatedBy
	r.writes++
	return nil
}

func (r *mockRepository) EnabledKeys(ctx context.Context) ([]string, error) {
	mods, _ := r.List(ctx)
	var keys []string
	for _, m := range mods {
		if m.Enabled {
			keys = append(keys, m.Key)
		}
	}
	return keys, nil
}

func catalogFixture() *mockRepository {
	return newMockRepository(
		Module{Key: "settings", Name: "Settings", Category: "core", Enabled: true, IsCore: true, Order: 0},
		Module{Key: "products", Name: "Products", Category: "ecommerce", Enabled: true, Order: 1},
		Module{Key: "services", Name: "Services", Category: "ecommerce", Enabled: false, Order: 2},
		Module{Key: "orders", Name: "Orders", Category: "ecommerce", Enabled: true, Order: 3,
			Dependencies: []string{"products"}, DependencyType: DependencyAll},
		Module{Key: "promotions", Name: "Promotions", Category: "engagement", Enabled: false, Order: 4,
			Dependencies: []string{"products", "services"}, DependencyType: DependencyAny},
		Module{Key: "wishlist", Name: "Wishlist", Category: "engagement", Enabled: true, Order: 5,
			Dependencies: []string{"products"}, DependencyType: DependencyAll},
	)
}

func TestSetEnabledRejectsUnmetAllDependency(t *testing.T) {
	repo := newMockRepository(
		Module{Key: "products", Enabled: false, Order: 1},
		Module{Key: "orders", Enabled: false, Order: 2, Dependencies: []string{"products"}, DependencyType: DependencyAll},
	)
	svc := NewService(repo, nil, nil)

	err := svc.SetEnabled(context.Background(), "orders", true, "admin")
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "orders", depErr.ModuleKey)
	assert.Equal(t, []string{"products"}, depErr.Missing)
	assert.Zero(t, repo.writes)
}

func TestSetEnabledAnyDependencySatisfiedByOne(t *testing.T) {
	repo := catalogFixture()
	svc := NewService(repo, nil, nil)

	// products enabled, services disabled: any-of is satisfied.
	require.NoError(t, svc.SetEnabled(context.Background(), "promotions", true, "admin"))
	assert.True(t, repo.mods["promotions"].Enabled)
}

func TestSetEnabledAnyDependencyAllDisabled(t *testing.T) {
	repo := catalogFixture()
	repo.mods["wishlist"].Enabled = false
	repo.mods["orders"].Enabled = false
	repo.mods["products"].Enabled = false
	svc := NewService(repo, nil, nil)

	err := svc.SetEnabled(context.Background(), "promotions", true, "admin")
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, DependencyAny, depErr.DependencyType)
}

func TestDisableRejectedWhenDependentStillEnabled(t *testing.T) {
	repo := catalogFixture()
	svc := NewService(repo, nil, nil)

	// orders and wishlist both require products.
	err := svc.SetEnabled(context.Background(), "products", false, "admin")
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.True(t, repo.mods["products"].Enabled)
}

func TestDisableCoreModuleRejected(t *testing.T) {
	repo := catalogFixture()
	svc := NewService(repo, nil, nil)

	err := svc.SetEnabled(context.Background(), "settings", false, "admin")
	assert.ErrorIs(t, err, ErrCoreImmutable)
}

func TestSetEnabledNoOpSkipsWrite(t *testing.T) {
	repo := catalogFixture()
	svc := NewService(repo, nil, nil)

	require.NoError(t, svc.SetEnabled(context.Background(), "products", true, "admin"))
	assert.Zero(t, repo.writes)
}

func TestSaveRejectsDependencyCycle(t *testing.T) {
	repo := newMockRepository(
		Module{Key: "a", Order: 1, Dependencies: []string{"b"}, DependencyType: DependencyAll},
		Module{Key: "b", Order: 2},
	)
	svc := NewService(repo, nil, nil)

	err := svc.Save(context.Background(), Module{Key: "b", Name: "B", Category: "x",
		Dependencies: []string{"a"}, DependencyType: DependencyAll})
	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.Zero(t, repo.upserts)
}

func TestSaveForcesCoreEnabled(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, nil, nil)

	require.NoError(t, svc.Save(context.Background(), Module{Key: "settings", Name: "Settings", Category: "core", IsCore: true, Enabled: false}))
	assert.True(t, repo.mods["settings"].Enabled)
}

func TestSaveRejectsInvalidDependencyType(t *testing.T) {
	svc := NewService(newMockRepository(), nil, nil)
	err := svc.Save(context.Background(), Module{Key: "x", Name: "X", Category: "c", DependencyType: "some"})
	assert.Error(t, err)
}

func TestApplyStateSkipsCoreAndUnchanged(t *testing.T) {
	repo := catalogFixture()
	svc := NewService(repo, nil, nil)

	// Target state: products only. settings is core and must survive.
	target := map[string]bool{"products": true}
	changed, err := svc.ApplyState(context.Background(), target, "admin", true)
	require.NoError(t, err)
	assert.Equal(t, 2, changed) // orders off, wishlist off
	assert.True(t, repo.mods["settings"].Enabled)
	assert.True(t, repo.mods["products"].Enabled)
	assert.False(t, repo.mods["orders"].Enabled)
	assert.False(t, repo.mods["wishlist"].Enabled)

	// Second identical apply performs zero writes.
	writes := repo.writes
	changed, err = svc.ApplyState(context.Background(), target, "admin", true)
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Equal(t, writes, repo.writes)
}

func TestApplyStateValidatesTargetBeforeWriting(t *testing.T) {
	repo := catalogFixture()
	svc := NewService(repo, nil, nil)

	// orders without products is invalid; nothing may change.
	target := map[string]bool{"orders": true}
	_, err := svc.ApplyState(context.Background(), target, "admin", true)
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Zero(t, repo.writes)
	assert.True(t, repo.mods["products"].Enabled)
}

func TestApplyStateWithoutValidationPreservesPermissiveBehavior(t *testing.T) {
	repo := catalogFixture()
	svc := NewService(repo, nil, nil)

	target := map[string]bool{"orders": true}
	changed, err := svc.ApplyState(context.Background(), target, "admin", false)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	assert.True(t, repo.mods["orders"].Enabled)
	assert.False(t, repo.mods["products"].Enabled)
}

func TestEnabledKeysUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := catalogFixture()
	svc := NewService(repo, NewCache(client, time.Minute), nil)
	ctx := context.Background()

	keys, err := svc.EnabledKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"settings", "products", "orders", "wishlist"}, keys)

	// A repo-side change without invalidation is served from cache.
	repo.mods["wishlist"].Enabled = false
	keys, err = svc.EnabledKeys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "wishlist")

	// A service-side toggle bumps the version and misses the cache.
	require.NoError(t, svc.SetEnabled(ctx, "wishlist", true, "admin"))
	require.NoError(t, svc.SetEnabled(ctx, "wishlist", false, "admin"))
	keys, err = svc.EnabledKeys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, "wishlist")
}
