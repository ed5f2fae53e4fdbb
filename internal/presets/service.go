package presets

import (
	"context"
	"errors"
	"strings"
)

// RepositoryPort defines data access for presets. Insert demotes other
// defaults atomically with the write when clearDefaults is set. Patch runs the
// apply closure against the locked committed row inside one transaction, and
// Delete refuses the current default, so the at-most-one default invariant
// holds under concurrency.
type RepositoryPort interface {
	List(ctx context.Context) ([]Preset, error)
	GetByKey(ctx context.Context, key string) (Preset, error)
	GetByID(ctx context.Context, id int64) (Preset, error)
	Insert(ctx context.Context, p Preset, clearDefaults bool) (int64, error)
	Patch(ctx context.Context, id int64, apply func(p *Preset) (clearDefaults bool, err error)) (Preset, error)
	Delete(ctx context.Context, id int64) error
}

// ModuleRegistry is the slice of the module catalog the preset manager
// drives.
type ModuleRegistry interface {
	ApplyState(ctx context.Context, target map[string]bool, updatedBy string, validate bool) (int, error)
	EnabledKeys(ctx context.Context) ([]string, error)
}

// Service handles preset business logic.
type Service struct {
	repo     RepositoryPort
	registry ModuleRegistry
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, registry ModuleRegistry) *Service {
	return &Service{repo: repo, registry: registry}
}

// CreateInput carries the fields for a new preset.
type CreateInput struct {
	Key            string
	Name           string
	Description    string
	EnabledModules []string
	IsDefault      bool
}

// List returns every preset.
func (s *Service) List(ctx context.Context) ([]Preset, error) {
	return s.repo.List(ctx)
}

// Get fetches one preset by key.
func (s *Service) Get(ctx context.Context, key string) (Preset, error) {
	return s.repo.GetByKey(ctx, strings.TrimSpace(key))
}

// Create inserts a new preset, demoting any existing default when the new
// one claims the flag.
func (s *Service) Create(ctx context.Context, input CreateInput) (Preset, error) {
	p := Preset{
		Key:            strings.TrimSpace(input.Key),
		Name:           strings.TrimSpace(input.Name),
		Description:    input.Description,
		EnabledModules: input.EnabledModules,
		IsDefault:      input.IsDefault,
	}
	if p.Key == "" {
		return Preset{}, errors.New("presets: key required")
	}
	if p.Name == "" {
		return Preset{}, errors.New("presets: name required")
	}
	id, err := s.repo.Insert(ctx, p, p.IsDefault)
	if err != nil {
		return Preset{}, err
	}
	p.ID = id
	return p, nil
}

// UpdateInput is a partial patch; nil fields keep their stored value.
type UpdateInput struct {
	Name           *string
	Description    *string
	EnabledModules *[]string
	IsDefault      *bool
}

// Update patches a preset. The patch is applied to the row as committed at
// write time, so untouched fields keep whatever a concurrent writer left
// behind, and promoting to default demotes the previous default in the same
// transaction.
func (s *Service) Update(ctx context.Context, id int64, patch UpdateInput) (Preset, error) {
	return s.repo.Patch(ctx, id, func(p *Preset) (bool, error) {
		if patch.Name != nil {
			p.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.EnabledModules != nil {
			p.EnabledModules = *patch.EnabledModules
		}
		promote := false
		if patch.IsDefault != nil {
			promote = *patch.IsDefault && !p.IsDefault
			p.IsDefault = *patch.IsDefault
		}
		return promote, nil
	})
}

// Remove deletes a preset. The current default is undeletable until another
// preset is promoted; the repository enforces this in the delete itself.
func (s *Service) Remove(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// ApplyOptions tune preset application.
type ApplyOptions struct {
	// SkipDependencyCheck restores the permissive legacy behavior: the
	// preset is applied verbatim without validating module dependencies.
	SkipDependencyCheck bool
}

// Apply drives the module catalog to the preset's enabled set. Core modules
// are untouched and already-correct modules are not rewritten, so applying
// the same preset twice performs zero writes the second time.
func (s *Service) Apply(ctx context.Context, key, updatedBy string, opts ApplyOptions) (int, error) {
	p, err := s.repo.GetByKey(ctx, strings.TrimSpace(key))
	if err != nil {
		return 0, err
	}
	return s.registry.ApplyState(ctx, p.ModuleSet(), updatedBy, !opts.SkipDependencyCheck)
}

// CreateFromCurrent derives a preset from the modules enabled right now.
func (s *Service) CreateFromCurrent(ctx context.Context, key, name, description string) (Preset, error) {
	enabled, err := s.registry.EnabledKeys(ctx)
	if err != nil {
		return Preset{}, err
	}
	return s.Create(ctx, CreateInput{
		Key:            key,
		Name:           name,
		Description:    description,
		EnabledModules: enabled,
	})
}

// Duplicate copies an existing preset under a new key, never as default.
func (s *Service) Duplicate(ctx context.Context, id int64, newKey, newName string) (Preset, error) {
	src, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Preset{}, err
	}
	return s.Create(ctx, CreateInput{
		Key:            newKey,
		Name:           newName,
		Description:    src.Description,
		EnabledModules: append([]string(nil), src.EnabledModules...),
	})
}
