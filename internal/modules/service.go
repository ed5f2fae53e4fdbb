package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"
)

// RepositoryPort defines data access for the module catalog.
type RepositoryPort interface {
	List(ctx context.Context) ([]Module, error)
	GetByKey(ctx context.Context, key string) (Module, error)
	Upsert(ctx context.Context, m Module) error
	SetEnabled(ctx context.Context, key string, enabled bool, updatedBy string) error
	EnabledKeys(ctx context.Context) ([]string, error)
}

// ErrCoreImmutable indicates an attempt to disable a core module.
var ErrCoreImmutable = errors.New("modules: core modules cannot be disabled")

// Service handles catalog business logic.
type Service struct {
	repo    RepositoryPort
	cache   *Cache
	logger  *slog.Logger
	rebuild singleflight.Group
}

// NewService builds a Service instance. cache may be nil.
func NewService(repo RepositoryPort, cache *Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// List returns the catalog in display order.
func (s *Service) List(ctx context.Context) ([]Module, error) {
	return s.repo.List(ctx)
}

// Get fetches one module by key.
func (s *Service) Get(ctx context.Context, key string) (Module, error) {
	return s.repo.GetByKey(ctx, strings.TrimSpace(key))
}

// Save creates or updates a catalog entry. The resulting dependency graph
// must stay acyclic and core modules stay enabled.
func (s *Service) Save(ctx context.Context, m Module) error {
	m.Key = strings.TrimSpace(m.Key)
	if m.Key == "" {
		return errors.New("modules: key required")
	}
	if m.DependencyType != "" && m.DependencyType != DependencyAll && m.DependencyType != DependencyAny {
		return fmt.Errorf("modules: invalid dependency type %q", m.DependencyType)
	}
	if m.IsCore {
		m.Enabled = true
	}

	existing, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	merged := make([]Module, 0, len(existing)+1)
	replaced := false
	for _, e := range existing {
		if e.Key == m.Key {
			merged = append(merged, m)
			replaced = true
			continue
		}
		merged = append(merged, e)
	}
	if !replaced {
		merged = append(merged, m)
	}
	if err := ValidateAcyclic(merged); err != nil {
		return err
	}

	if err := s.repo.Upsert(ctx, m); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// SetEnabled toggles one module, validating the dependency graph of the
// resulting state: enabling requires the module's own dependencies met,
// disabling must not orphan another enabled module.
func (s *Service) SetEnabled(ctx context.Context, key string, enabled bool, updatedBy string) error {
	key = strings.TrimSpace(key)
	mods, err := s.repo.List(ctx)
	if err != nil {
		return err
	}

	var target *Module
	for i := range mods {
		if mods[i].Key == key {
			target = &mods[i]
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}
	if target.IsCore && !enabled {
		return ErrCoreImmutable
	}
	if target.Enabled == enabled {
		return nil
	}

	state := EnabledSet(mods)
	state[key] = enabled
	if err := ValidateState(mods, state); err != nil {
		return err
	}

	if err := s.repo.SetEnabled(ctx, key, enabled, updatedBy); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ApplyState drives the catalog to the given target enabled set. Core
// modules are immune; unchanged modules are skipped so a second identical
// apply performs zero writes. With validate set, the target state must
// satisfy every declared dependency before any write happens.
func (s *Service) ApplyState(ctx context.Context, target map[string]bool, updatedBy string, validate bool) (int, error) {
	mods, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	if validate {
		state := make(map[string]bool, len(mods))
		for _, m := range mods {
			if m.IsCore {
				state[m.Key] = true
				continue
			}
			state[m.Key] = target[m.Key]
		}
		if err := ValidateState(mods, state); err != nil {
			return 0, err
		}
	}

	changed := 0
	for _, m := range mods {
		if m.IsCore {
			continue
		}
		want := target[m.Key]
		if m.Enabled == want {
			continue
		}
		if err := s.repo.SetEnabled(ctx, m.Key, want, updatedBy); err != nil {
			return changed, err
		}
		changed++
	}
	if changed > 0 {
		s.invalidate(ctx)
	}
	return changed, nil
}

// EnabledKeys returns the keys of enabled modules, through the cache when
// one is configured.
func (s *Service) EnabledKeys(ctx context.Context) ([]string, error) {
	if keys, found, err := s.cache.EnabledKeys(ctx); err != nil {
		s.warn("modules cache read", err)
	} else if found {
		return keys, nil
	}

	// Concurrent misses collapse into one repository read.
	v, err, _ := s.rebuild.Do("enabled", func() (any, error) {
		keys, err := s.repo.EnabledKeys(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.cache.StoreEnabledKeys(ctx, keys); err != nil {
			s.warn("modules cache store", err)
		}
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.warn("modules cache invalidate", err)
	}
}

func (s *Service) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.Any("error", err))
	}
}
