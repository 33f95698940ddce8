package entity

import (
	"fmt"
	"sort"
	"sync"
)

// Descriptor is the per-type configuration that drives the generic sync
// engine: which fields carry per-field version counters, which field is
// the identity label, and which boolean fields are completion toggles.
type Descriptor struct {
	// Type is the entity type key, e.g. "item". Used in event names.
	Type string

	// LabelField is the user-editable display name field. It is excluded
	// from FieldVersions so renaming never conflicts with other edits,
	// and its value must be unique within a collection (soft-deleted
	// records included).
	LabelField string

	// VersionedFields are the fields tracked by per-field counters.
	// Must not include LabelField.
	VersionedFields []string

	// CompletionPairs maps a boolean toggle field to its timestamp
	// companion. The server alone sets or clears the companion when the
	// toggle changes; client-supplied values for it are discarded.
	CompletionPairs map[string]string
}

// Versioned reports whether field carries a per-field version counter.
func (d Descriptor) Versioned(field string) bool {
	for _, f := range d.VersionedFields {
		if f == field {
			return true
		}
	}
	return false
}

var (
	registry   = make(map[string]Descriptor)
	registryMu sync.RWMutex
)

// Register adds an entity descriptor to the registry.
// Panics if the type is already registered or the descriptor is invalid.
func Register(d Descriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if d.Type == "" {
		panic("entity: descriptor has empty type")
	}
	if d.LabelField == "" {
		panic(fmt.Sprintf("entity: descriptor %s has no label field", d.Type))
	}
	if d.Versioned(d.LabelField) {
		panic(fmt.Sprintf("entity: descriptor %s lists label field %q as versioned", d.Type, d.LabelField))
	}
	for toggle, ts := range d.CompletionPairs {
		if !d.Versioned(toggle) {
			panic(fmt.Sprintf("entity: descriptor %s completion toggle %q is not versioned", d.Type, toggle))
		}
		if d.Versioned(ts) {
			panic(fmt.Sprintf("entity: descriptor %s completion timestamp %q must not be versioned", d.Type, ts))
		}
	}
	if _, exists := registry[d.Type]; exists {
		panic(fmt.Sprintf("entity: type already registered: %s", d.Type))
	}

	registry[d.Type] = d
}

// Get returns the descriptor for a type key.
// Returns false if the type is not registered.
func Get(typ string) (Descriptor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, ok := registry[typ]
	return d, ok
}

// All returns every registered descriptor, sorted by type key.
func All() []Descriptor {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Descriptor, 0, len(registry))
	for _, d := range registry {
		result = append(result, d)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Type < result[j].Type
	})

	return result
}
