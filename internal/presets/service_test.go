package presets

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	byID   map[int64]*Preset
	nextID int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{byID: make(map[int64]*Preset), nextID: 1}
}

func (r *mockRepository) List(ctx context.Context) ([]Preset, error) {
	out := make([]Preset, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *mockRepository) GetByKey(ctx context.Context, key string) (Preset, error) {
	for _, p := range r.byID {
		if p.Key == key {
			return *p, nil
		}
	}
	return Preset{}, ErrNotFound
}

func (r *mockRepository) GetByID(ctx context.Context, id int64) (Preset, error) {
	if p, ok := r.byID[id]; ok {
		return *p, nil
	}
	return Preset{}, ErrNotFound
}

func (r *mockRepository) Insert(ctx context.Context, p Preset, clearDefaults bool) (int64, error) {
	for _, existing := range r.byID {
		if existing.Key == p.Key {
			return 0, ErrKeyExists
		}
	}
	if clearDefaults {
		r.clearDefaults(0)
	}
	id := r.nextID
	r.nextID++
	stored := p
	stored.ID = id
	r.byID[id] = &stored
	return id, nil
}

func (r *mockRepository) Patch(ctx context.Context, id int64, apply func(*Preset) (bool, error)) (Preset, error) {
	p, ok := r.byID[id]
	if !ok {
		return Preset{}, ErrNotFound
	}
	patched := *p
	clear, err := apply(&patched)
	if err != nil {
		return Preset{}, err
	}
	if clear {
		r.clearDefaults(id)
	}
	*p = patched
	return patched, nil
}

func (r *mockRepository) Delete(ctx context.Context, id int64) error {
	p, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if p.IsDefault {
		return ErrDefaultUndeletable
	}
	delete(r.byID, id)
	return nil
}

func (r *mockRepository) clearDefaults(exceptID int64) {
	for _, p := range r.byID {
		if p.ID != exceptID {
			p.IsDefault = false
		}
	}
}

func (r *mockRepository) defaults() []string {
	var keys []string
	for _, p := range r.byID {
		if p.IsDefault {
			keys = append(keys, p.Key)
		}
	}
	return keys
}

type mockRegistry struct {
	enabled    []string
	applied    map[string]bool
	updatedBy  string
	validated  bool
	applyCalls int
	changed    int
	applyErr   error
}

func (m *mockRegistry) ApplyState(ctx context.Context, target map[string]bool, updatedBy string, validate bool) (int, error) {
	m.applyCalls++
	m.applied = target
	m.updatedBy = updatedBy
	m.validated = validate
	if m.applyErr != nil {
		return 0, m.applyErr
	}
	return m.changed, nil
}

func (m *mockRegistry) EnabledKeys(ctx context.Context) ([]string, error) {
	return m.enabled, nil
}

func TestCreateDuplicateKeyFails(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, &mockRegistry{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Key: "basic", Name: "Basic"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Key: "basic", Name: "Basic Again"})
	assert.ErrorIs(t, err, ErrKeyExists)
}

func TestCreateDefaultDemotesPrevious(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, &mockRegistry{})
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Key: "a", Name: "A", IsDefault: true})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Key: "b", Name: "B", IsDefault: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, repo.defaults())
	assert.False(t, repo.byID[a.ID].IsDefault)
}

func TestUpdatePromotionKeepsSingleDefault(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, &mockRegistry{})
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Key: "a", Name: "A", IsDefault: true})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateInput{Key: "b", Name: "B"})
	require.NoError(t, err)

	isDefault := true
	updated, err := svc.Update(ctx, b.ID, UpdateInput{IsDefault: &isDefault})
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)
	assert.Equal(t, []string{"b"}, repo.defaults())
	assert.False(t, repo.byID[a.ID].IsDefault)
}

// racingRepository fires a hook right before Patch or Delete runs, standing
// in for another writer whose transaction commits first.
type racingRepository struct {
	*mockRepository
	beforePatch  func()
	beforeDelete func()
}

func (r *racingRepository) Patch(ctx context.Context, id int64, apply func(*Preset) (bool, error)) (Preset, error) {
	if r.beforePatch != nil {
		hook := r.beforePatch
		r.beforePatch = nil
		hook()
	}
	return r.mockRepository.Patch(ctx, id, apply)
}

func (r *racingRepository) Delete(ctx context.Context, id int64) error {
	if r.beforeDelete != nil {
		hook := r.beforeDelete
		r.beforeDelete = nil
		hook()
	}
	return r.mockRepository.Delete(ctx, id)
}

func TestUpdateDoesNotRevertConcurrentPromotion(t *testing.T) {
	repo := newMockRepository()
	racing := &racingRepository{mockRepository: repo}
	svc := NewService(racing, &mockRegistry{})
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Key: "a", Name: "A", IsDefault: true})
	require.NoError(t, err)

	// Another writer creates a new default between the rename request and
	// its write. The rename must not resurrect a's flag.
	racing.beforePatch = func() {
		_, err := svc.Create(ctx, CreateInput{Key: "b", Name: "B", IsDefault: true})
		require.NoError(t, err)
	}

	name := "A Renamed"
	updated, err := svc.Update(ctx, a.ID, UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "A Renamed", updated.Name)
	assert.False(t, updated.IsDefault)
	assert.Equal(t, []string{"b"}, repo.defaults())
}

func TestRemoveBlockedByConcurrentPromotion(t *testing.T) {
	repo := newMockRepository()
	racing := &racingRepository{mockRepository: repo}
	svc := NewService(racing, &mockRegistry{})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Key: "a", Name: "A", IsDefault: true})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateInput{Key: "b", Name: "B"})
	require.NoError(t, err)

	// b becomes the default while its delete is in flight.
	racing.beforeDelete = func() {
		isDefault := true
		_, err := svc.Update(ctx, b.ID, UpdateInput{IsDefault: &isDefault})
		require.NoError(t, err)
	}

	err = svc.Remove(ctx, b.ID)
	assert.ErrorIs(t, err, ErrDefaultUndeletable)
	assert.Equal(t, []string{"b"}, repo.defaults())
}

func TestUpdatePartialPatch(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, &mockRegistry{})
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{Key: "a", Name: "A", Description: "original", EnabledModules: []string{"products"}})
	require.NoError(t, err)

	name := "Renamed"
	updated, err := svc.Update(ctx, p.ID, UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "original", updated.Description)
	assert.Equal(t, []string{"products"}, updated.EnabledModules)
}

func TestRemoveDefaultPresetForbidden(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, &mockRegistry{})
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{Key: "a", Name: "A", IsDefault: true})
	require.NoError(t, err)

	err = svc.Remove(ctx, p.ID)
	assert.ErrorIs(t, err, ErrDefaultUndeletable)
	_, err = repo.GetByID(ctx, p.ID)
	assert.NoError(t, err)
}

func TestRemoveAfterPromotionSucceeds(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, &mockRegistry{})
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Key: "a", Name: "A", IsDefault: true})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateInput{Key: "b", Name: "B"})
	require.NoError(t, err)

	isDefault := true
	_, err = svc.Update(ctx, b.ID, UpdateInput{IsDefault: &isDefault})
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, a.ID))
	_, err = repo.GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyKnownPresetPassesModuleSet(t *testing.T) {
	repo := newMockRepository()
	registry := &mockRegistry{changed: 3}
	svc := NewService(repo, registry)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Key: "ecommerce-basic", Name: "Basic", EnabledModules: []string{"products", "orders"}})
	require.NoError(t, err)

	changed, err := svc.Apply(ctx, "ecommerce-basic", "admin@shop.local", ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, changed)
	assert.Equal(t, 1, registry.applyCalls)
	assert.True(t, registry.validated)
	assert.Equal(t, "admin@shop.local", registry.updatedBy)
	assert.Equal(t, map[string]bool{"products": true, "orders": true}, registry.applied)
}

func TestApplyUnknownPreset(t *testing.T) {
	svc := NewService(newMockRepository(), &mockRegistry{})
	_, err := svc.Apply(context.Background(), "nope", "admin", ApplyOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplySkipDependencyCheck(t *testing.T) {
	repo := newMockRepository()
	registry := &mockRegistry{}
	svc := NewService(repo, registry)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Key: "raw", Name: "Raw"})
	require.NoError(t, err)

	_, err = svc.Apply(ctx, "raw", "seed", ApplyOptions{SkipDependencyCheck: true})
	require.NoError(t, err)
	assert.False(t, registry.validated)
}

func TestCreateFromCurrent(t *testing.T) {
	repo := newMockRepository()
	registry := &mockRegistry{enabled: []string{"settings", "products", "orders"}}
	svc := NewService(repo, registry)

	p, err := svc.CreateFromCurrent(context.Background(), "snapshot", "Snapshot", "current state")
	require.NoError(t, err)
	assert.Equal(t, []string{"settings", "products", "orders"}, p.EnabledModules)
	assert.False(t, p.IsDefault)
}

func TestDuplicateCopiesModulesNeverDefault(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, &mockRegistry{})
	ctx := context.Background()

	src, err := svc.Create(ctx, CreateInput{Key: "a", Name: "A", Description: "desc",
		EnabledModules: []string{"products"}, IsDefault: true})
	require.NoError(t, err)

	dup, err := svc.Duplicate(ctx, src.ID, "a-copy", "A Copy")
	require.NoError(t, err)
	assert.Equal(t, "a-copy", dup.Key)
	assert.Equal(t, "desc", dup.Description)
	assert.Equal(t, []string{"products"}, dup.EnabledModules)
	assert.False(t, dup.IsDefault)
	assert.Equal(t, []string{"a"}, repo.defaults())

	_, err = svc.Duplicate(ctx, src.ID, "a-copy", "Again")
	assert.ErrorIs(t, err, ErrKeyExists)
}
