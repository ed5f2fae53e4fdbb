// Package presets manages named module configurations and their bulk
// application onto the module catalog.
package presets

import (
	"errors"
	"time"
)

// Messages match the admin panel contract.
var (
	// ErrNotFound indicates the requested preset does not exist.
	ErrNotFound = errors.New("Preset not found")
	// ErrKeyExists indicates a duplicate preset key.
	ErrKeyExists = errors.New("Preset key already exists")
	// ErrDefaultUndeletable indicates an attempt to delete the default preset.
	ErrDefaultUndeletable = errors.New("Cannot delete default preset")
)

// Preset is a reusable "which modules are on" configuration. At most one
// preset carries IsDefault across the whole collection.
type Preset struct {
	ID             int64
	Key            string
	Name           string
	Description    string
	EnabledModules []string
	IsDefault      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ModuleSet builds the membership lookup for EnabledModules.
func (p Preset) ModuleSet() map[string]bool {
	set := make(map[string]bool, len(p.EnabledModules))
	for _, key := range p.EnabledModules {
		set[key] = true
	}
	return set
}
