// Package modules maintains the catalog of optional platform features and
// their enabled state, enforcing declared dependencies.
package modules

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates that the requested module does not exist.
var ErrNotFound = errors.New("modules: module not found")

// ErrDependencyCycle indicates the declared dependency graph loops.
var ErrDependencyCycle = errors.New("modules: dependency cycle")

// DependencyType governs how a module's dependency list is interpreted.
type DependencyType string

const (
	// DependencyAll requires every listed dependency to be enabled.
	DependencyAll DependencyType = "all"
	// DependencyAny requires at least one listed dependency to be enabled.
	DependencyAny DependencyType = "any"
)

// Module is one toggleable feature area of the platform.
type Module struct {
	ID             int64
	Key            string
	Name           string
	Category       string
	Enabled        bool
	IsCore         bool
	Dependencies   []string
	DependencyType DependencyType
	Order          int
	UpdatedBy      string
	UpdatedAt      time.Time
}

// DependencyError reports an unsatisfied dependency for a module.
type DependencyError struct {
	ModuleKey      string
	DependencyType DependencyType
	Missing        []string
}

func (e *DependencyError) Error() string {
	if e.DependencyType == DependencyAny {
		return fmt.Sprintf("modules: %s requires at least one of %v enabled", e.ModuleKey, e.Missing)
	}
	return fmt.Sprintf("modules: %s requires %v enabled", e.ModuleKey, e.Missing)
}

// Satisfied checks the module's dependencies against the enabled set.
// A module without dependencies is always satisfied.
func (m Module) Satisfied(enabled map[string]bool) *DependencyError {
	if len(m.Dependencies) == 0 {
		return nil
	}
	depType := m.DependencyType
	if depType == "" {
		depType = DependencyAll
	}

	var missing []string
	for _, dep := range m.Dependencies {
		if enabled[dep] {
			if depType == DependencyAny {
				return nil
			}
			continue
		}
		missing = append(missing, dep)
	}
	if len(missing) == 0 {
		return nil
	}
	if depType == DependencyAny {
		return &DependencyError{ModuleKey: m.Key, DependencyType: depType, Missing: m.Dependencies}
	}
	return &DependencyError{ModuleKey: m.Key, DependencyType: depType, Missing: missing}
}

// ValidateState checks that every enabled module in the target state has its
// dependencies met. Modules are visited in display order so the reported
// violation is deterministic.
func ValidateState(mods []Module, enabled map[string]bool) error {
	for _, m := range mods {
		if !enabled[m.Key] {
			continue
		}
		if depErr := m.Satisfied(enabled); depErr != nil {
			return depErr
		}
	}
	return nil
}

// ValidateAcyclic rejects dependency graphs with cycles. The `all` semantics
// would otherwise be unsatisfiable and undetectable at toggle time.
func ValidateAcyclic(mods []Module) error {
	graph := make(map[string][]string, len(mods))
	for _, m := range mods {
		graph[m.Key] = m.Dependencies
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(graph))

	var visit func(key string) error
	visit = func(key string) error {
		switch state[key] {
		case visiting:
			return fmt.Errorf("%w involving %q", ErrDependencyCycle, key)
		case done:
			return nil
		}
		state[key] = visiting
		for _, dep := range graph[key] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[key] = done
		return nil
	}

	for key := range graph {
		if err := visit(key); err != nil {
			return err
		}
	}
	return nil
}

// EnabledSet builds the key -> enabled lookup for a module list.
func EnabledSet(mods []Module) map[string]bool {
	enabled := make(map[string]bool, len(mods))
	for _, m := range mods {
		enabled[m.Key] = m.Enabled
	}
	return enabled
}
