// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package permissions

import (
	"context"
	"sync"

	"github.com/Str4nger14/PermissionsEx/services/permissions/contexts"
	"github.com/Str4nger14/PermissionsEx/services/permissions/subject"
)

// CalculatedSubject is the live handle for one subject within a collection.
//
// It wraps the subject's persisted snapshot, its active-context state and a
// memoized resolution cache. While resident in a collection's cache the same
// handle is shared by every caller that requested the identifier; eviction
// via SuggestUnload clears the memo and detaches the handle, and a later
// Load constructs a fresh one.
//
// Resolution implemented here is the narrow contract the directory's
// consumers depend on (signed int: positive allow, negative deny, zero
// undefined): own entries for the exact context set, then the global set,
// then parents depth-first, then declared fallback values, then the
// collection's defaults chain. Wildcard and weighting semantics live in the
// external resolution layer.
//
// Thread Safety: safe for concurrent use.
type CalculatedSubject struct {
	ref        subject.Ref
	collection *Collection

	mu     sync.RWMutex
	data   subject.Data
	active contexts.Set
	memo   map[string]int
}

func newCalculatedSubject(collection *Collection, ref subject.Ref, data subject.Data) *CalculatedSubject {
	return &CalculatedSubject{
		ref:        ref,
		collection: collection,
		data:       data,
		memo:       map[string]int{},
	}
}

// Ref returns the subject's (type, identifier) address.
func (s *CalculatedSubject) Ref() subject.Ref {
	return s.ref
}

// Identifier returns the subject's identifier within its type.
func (s *CalculatedSubject) Identifier() string {
	return s.ref.Identifier
}

// Data returns the current immutable snapshot.
func (s *CalculatedSubject) Data() subject.Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// ActiveContexts returns the subject's current evaluation contexts, the
// global set unless a platform adapter has set them.
func (s *CalculatedSubject) ActiveContexts() contexts.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActiveContexts replaces the subject's evaluation contexts and drops
// memoized results.
func (s *CalculatedSubject) SetActiveContexts(set contexts.Set) {
	s.mu.Lock()
	s.active = set
	s.memo = map[string]int{}
	s.mu.Unlock()
}

// updateData swaps in a new snapshot after a store write and invalidates the
// memo.
func (s *CalculatedSubject) updateData(data subject.Data) {
	s.mu.Lock()
	s.data = data
	s.memo = map[string]int{}
	s.mu.Unlock()
}

// UnloadCache drops memoized resolution state. Collections invoke it on
// eviction; platform adapters may call it after bulk context changes.
func (s *CalculatedSubject) UnloadCache() {
	s.mu.Lock()
	s.memo = map[string]int{}
	s.mu.Unlock()
}

func memoKey(set contexts.Set, permission string) string {
	return set.Key() + "\x00" + permission
}

// Permission resolves permission under the given context set, following the
// signed-integer contract. Successful resolutions are memoized until the
// snapshot changes or the handle is unloaded.
func (s *CalculatedSubject) Permission(ctx context.Context, set contexts.Set, permission string) (int, error) {
	key := memoKey(set, permission)
	s.mu.RLock()
	if val, ok := s.memo[key]; ok {
		s.mu.RUnlock()
		return val, nil
	}
	s.mu.RUnlock()

	val, err := s.resolvePermission(ctx, set, permission, map[subject.Ref]struct{}{})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.memo[key] = val
	s.mu.Unlock()
	return val, nil
}

// PermissionValue is Permission folded to the tri-state boundary type.
func (s *CalculatedSubject) PermissionValue(ctx context.Context, set contexts.Set, permission string) (subject.Tristate, error) {
	val, err := s.Permission(ctx, set, permission)
	if err != nil {
		return subject.Undefined, err
	}
	return subject.FromInt(val), nil
}

// resolvePermission walks own entries, parents and the defaults chain.
// visited guards against parent cycles and the self-referential defaults
// chain of the defaults collection.
func (s *CalculatedSubject) resolvePermission(ctx context.Context, set contexts.Set, permission string, visited map[subject.Ref]struct{}) (int, error) {
	if _, seen := visited[s.ref]; seen {
		return 0, nil
	}
	visited[s.ref] = struct{}{}

	data := s.Data()

	// Own entries: exact context set first, then global.
	if val, ok := data.Permissions(set)[permission]; ok {
		return val, nil
	}
	if !set.IsGlobal() {
		if val, ok := data.Permissions(contexts.GlobalSet)[permission]; ok {
			return val, nil
		}
	}

	// Parents, depth-first in declaration order.
	parents := data.Parents(set)
	if !set.IsGlobal() {
		parents = append(parents, data.Parents(contexts.GlobalSet)...)
	}
	for _, parentRef := range parents {
		parent, err := s.collection.engine.loadSubject(ctx, parentRef)
		if err != nil {
			return 0, err
		}
		val, err := parent.resolvePermission(ctx, set, permission, visited)
		if err != nil {
			return 0, err
		}
		if val != 0 {
			return val, nil
		}
	}

	// Declared fallback values.
	if val := data.DefaultValue(set); val != 0 {
		return val, nil
	}
	if !set.IsGlobal() {
		if val := data.DefaultValue(contexts.GlobalSet); val != 0 {
			return val, nil
		}
	}

	// Defaults chain.
	defaults, err := s.collection.Defaults()
	if err != nil {
		// Only possible mid-bootstrap, where the chain root is this very
		// subject; treat as undefined.
		return 0, nil
	}
	return defaults.resolvePermission(ctx, set, permission, visited)
}

// Option resolves an option value under the given context set: own entries
// for the exact set, the global set, then parents and the defaults chain.
// The bool reports whether any entry was found.
func (s *CalculatedSubject) Option(ctx context.Context, set contexts.Set, key string) (string, bool, error) {
	return s.resolveOption(ctx, set, key, map[subject.Ref]struct{}{})
}

func (s *CalculatedSubject) resolveOption(ctx context.Context, set contexts.Set, key string, visited map[subject.Ref]struct{}) (string, bool, error) {
	if _, seen := visited[s.ref]; seen {
		return "", false, nil
	}
	visited[s.ref] = struct{}{}

	data := s.Data()
	if val, ok := data.Options(set)[key]; ok {
		return val, true, nil
	}
	if !set.IsGlobal() {
		if val, ok := data.Options(contexts.GlobalSet)[key]; ok {
			return val, true, nil
		}
	}

	parents := data.Parents(set)
	if !set.IsGlobal() {
		parents = append(parents, data.Parents(contexts.GlobalSet)...)
	}
	for _, parentRef := range parents {
		parent, err := s.collection.engine.loadSubject(ctx, parentRef)
		if err != nil {
			return "", false, err
		}
		val, ok, err := parent.resolveOption(ctx, set, key, visited)
		if err != nil || ok {
			return val, ok, err
		}
	}

	defaults, err := s.collection.Defaults()
	if err != nil {
		return "", false, nil
	}
	return defaults.resolveOption(ctx, set, key, visited)
}
