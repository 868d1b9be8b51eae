// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package permissions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Str4nger14/PermissionsEx/services/permissions/contexts"
	"github.com/Str4nger14/PermissionsEx/services/permissions/subject"
)

// ErrNotBootstrapped is returned by Defaults before the collection's
// defaults handle has resolved.
var ErrNotBootstrapped = errors.New("subject collection is not bootstrapped")

// Collection is the per-subject-type cache turning identifiers into live,
// shareable CalculatedSubject handles.
//
// Loads are deduplicated with singleflight so a given identifier has at most
// one store fetch plus handle construction in flight; every concurrent
// requester observes the same completed handle. Failed loads are returned to
// the callers in flight and never cached, so a later Load retries against
// the store.
//
// Thread Safety: safe for concurrent use.
type Collection struct {
	engine   *Engine
	typeName string

	mu     sync.RWMutex
	loaded map[string]*CalculatedSubject
	flight singleflight.Group

	defaults atomic.Pointer[CalculatedSubject]
}

func newCollection(engine *Engine, typeName string) *Collection {
	return &Collection{
		engine:   engine,
		typeName: typeName,
		loaded:   make(map[string]*CalculatedSubject),
	}
}

// TypeName returns the subject type this collection serves.
func (c *Collection) TypeName() string {
	return c.typeName
}

// bootstrap resolves the collection's defaults handle before the engine
// publishes it.
//
// The defaults collection loads its own default subject directly; every
// other collection first obtains the defaults collection and loads its
// default subject through it, which guarantees one canonical handle per
// defaults identifier shared across dependent collections, and that the
// defaults collection finishes initializing before any dependent does.
func (c *Collection) bootstrap(ctx context.Context) error {
	if c.typeName == SubjectDefaults {
		own, err := c.Load(ctx, c.typeName)
		if err != nil {
			return err
		}
		c.defaults.Store(own)
		return nil
	}
	defaultsCollection, err := c.engine.Subjects(ctx, SubjectDefaults)
	if err != nil {
		return err
	}
	handle, err := defaultsCollection.Load(ctx, c.typeName)
	if err != nil {
		return err
	}
	c.defaults.Store(handle)
	return nil
}

// Load returns the cached handle for identifier, constructing it through the
// backing store on a miss. Concurrent callers for the same identifier share
// one construction and receive the same handle.
//
// The construction runs under the first caller's context; callers attached
// to an in-flight load share its outcome, including cancellation.
func (c *Collection) Load(ctx context.Context, identifier string) (*CalculatedSubject, error) {
	c.mu.RLock()
	existing, ok := c.loaded[identifier]
	c.mu.RUnlock()
	if ok {
		cacheHits.WithLabelValues(c.typeName).Inc()
		return existing, nil
	}

	result, err, _ := c.flight.Do(identifier, func() (interface{}, error) {
		c.mu.RLock()
		winner, ok := c.loaded[identifier]
		c.mu.RUnlock()
		if ok {
			cacheHits.WithLabelValues(c.typeName).Inc()
			return winner, nil
		}
		// A miss is counted only here, so misses match store fetches.
		cacheMisses.WithLabelValues(c.typeName).Inc()

		start := time.Now()
		data, err := c.engine.store.Get(ctx, c.typeName, identifier)
		if err != nil {
			subjectLoads.WithLabelValues(c.typeName, "error").Inc()
			return nil, err
		}
		handle := newCalculatedSubject(c, subject.NewRef(c.typeName, identifier), data)

		c.mu.Lock()
		c.loaded[identifier] = handle
		c.mu.Unlock()

		subjectLoads.WithLabelValues(c.typeName, "success").Inc()
		loadDuration.WithLabelValues(c.typeName).Observe(time.Since(start).Seconds())
		residentSubjects.WithLabelValues(c.typeName).Inc()
		return handle, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*CalculatedSubject), nil
}

// GetIfCached returns the resident handle for identifier without triggering
// a load.
func (c *Collection) GetIfCached(identifier string) (*CalculatedSubject, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	handle, ok := c.loaded[identifier]
	return handle, ok
}

// HasRegistered reports whether the store holds data for identifier,
// independent of cache residency.
func (c *Collection) HasRegistered(ctx context.Context, identifier string) (bool, error) {
	return c.engine.store.IsRegistered(ctx, c.typeName, identifier)
}

// AllIdentifiers returns every identifier persisted under this type,
// independent of cache residency.
func (c *Collection) AllIdentifiers(ctx context.Context) ([]string, error) {
	return c.engine.store.AllIdentifiers(ctx, c.typeName)
}

// LoadAll loads every given identifier and returns the handles keyed by
// identifier. The aggregate fails on the first individual failure;
// identifiers that loaded before the failure stay resident.
func (c *Collection) LoadAll(ctx context.Context, identifiers []string) (map[string]*CalculatedSubject, error) {
	out := make(map[string]*CalculatedSubject, len(identifiers))
	var outMu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	for _, identifier := range identifiers {
		identifier := identifier
		group.Go(func() error {
			handle, err := c.Load(ctx, identifier)
			if err != nil {
				return err
			}
			outMu.Lock()
			out[identifier] = handle
			outMu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SuggestUnload evicts identifier from the cache and tells the handle to
// release its memoized resolution state.
//
// Advisory: a concurrent in-flight Load for the same identifier is
// unaffected and will repopulate the cache.
func (c *Collection) SuggestUnload(identifier string) {
	c.mu.Lock()
	handle, ok := c.loaded[identifier]
	if ok {
		delete(c.loaded, identifier)
	}
	c.mu.Unlock()
	if ok {
		handle.UnloadCache()
		subjectUnloads.WithLabelValues(c.typeName).Inc()
		residentSubjects.WithLabelValues(c.typeName).Dec()
	}
}

// LoadedSubjects returns the handles currently resident in the cache.
func (c *Collection) LoadedSubjects() []*CalculatedSubject {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*CalculatedSubject, 0, len(c.loaded))
	for _, handle := range c.loaded {
		out = append(out, handle)
	}
	return out
}

// GetLoadedWithPermission evaluates permission against only the
// currently-resident handles. A nil set evaluates each handle under its own
// active contexts. Handles whose resolved value is undefined are omitted;
// the rest map to true for allow, false for deny.
func (c *Collection) GetLoadedWithPermission(ctx context.Context, set *contexts.Set, permission string) (map[*CalculatedSubject]bool, error) {
	out := make(map[*CalculatedSubject]bool)
	for _, handle := range c.LoadedSubjects() {
		eval := handle.ActiveContexts()
		if set != nil {
			eval = *set
		}
		value, err := handle.PermissionValue(ctx, eval, permission)
		if err != nil {
			return nil, err
		}
		if value.Defined() {
			out[handle] = value.Bool()
		}
	}
	return out, nil
}

// GetAllWithPermission evaluates permission across the full persisted
// population of the type, forcing every identifier to load first. The result
// is keyed by identifier and covers a superset of what
// GetLoadedWithPermission sees.
func (c *Collection) GetAllWithPermission(ctx context.Context, set *contexts.Set, permission string) (map[string]bool, error) {
	identifiers, err := c.AllIdentifiers(ctx)
	if err != nil {
		return nil, err
	}
	handles, err := c.LoadAll(ctx, identifiers)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for identifier, handle := range handles {
		eval := handle.ActiveContexts()
		if set != nil {
			eval = *set
		}
		value, err := handle.PermissionValue(ctx, eval, permission)
		if err != nil {
			return nil, err
		}
		if value.Defined() {
			out[identifier] = value.Bool()
		}
	}
	return out, nil
}

// Defaults returns the bootstrapped defaults handle for this collection.
func (c *Collection) Defaults() (*CalculatedSubject, error) {
	handle := c.defaults.Load()
	if handle == nil {
		return nil, ErrNotBootstrapped
	}
	return handle, nil
}

// refresh swaps a new snapshot into the resident handle after a store write.
// A non-resident identifier needs nothing: its next Load reads the store.
func (c *Collection) refresh(identifier string, data subject.Data) {
	c.mu.RLock()
	handle, ok := c.loaded[identifier]
	c.mu.RUnlock()
	if ok {
		handle.updateData(data)
	}
}
