// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datastore

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Properties identifies one configured store instance: the backend type it
// was created from, the instance label, and the backend-specific options
// still in raw YAML form. Backends decode Options into their own Config
// struct and validate it.
type Properties struct {
	TypeName string
	Name     string
	Options  *yaml.Node
}

// DecodeOptions decodes the raw options into out, leaving out untouched when
// no options were configured so backend defaults apply.
func (p Properties) DecodeOptions(out any) error {
	if p.Options == nil {
		return nil
	}
	if err := p.Options.Decode(out); err != nil {
		return fmt.Errorf("decoding %s options for store %q: %w", p.TypeName, p.Name, err)
	}
	return nil
}

// Factory constructs a store instance from its properties.
type Factory func(props Properties) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under its type name. Backends register
// from an init function; registering a duplicate name panics because it is a
// wiring mistake, not a runtime condition.
func Register(typeName string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[typeName]; exists {
		panic(fmt.Sprintf("datastore: backend %q registered twice", typeName))
	}
	registry[typeName] = factory
}

// Create instantiates a store of the given backend type.
//
// Returns an error naming the registered backends when typeName is unknown.
func Create(typeName, name string, options *yaml.Node) (Store, error) {
	registryMu.RLock()
	factory, ok := registry[typeName]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store backend %q (registered: %v)", typeName, RegisteredBackends())
	}
	store, err := factory(Properties{TypeName: typeName, Name: name, Options: options})
	if err != nil {
		return nil, fmt.Errorf("creating %s store %q: %w", typeName, name, err)
	}
	return store, nil
}

// RegisteredBackends returns the sorted type names of every registered
// backend.
func RegisteredBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
