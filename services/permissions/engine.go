// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package permissions is the subject directory: it owns the backing store
// and one calculated-subject cache per subject type, so that permission
// checks never block on cold-start I/O more than once per identifier.
//
// The Engine is the entry point. Platform adapters ask it for a Collection
// by subject type; the collection converts identifiers into shared
// CalculatedSubject handles with single-flight population, default-subject
// bootstrap chaining, bulk aggregate queries and invalidation. Storage
// technology is pluggable behind the datastore contract.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Str4nger14/PermissionsEx/services/permissions/contexts"
	"github.com/Str4nger14/PermissionsEx/services/permissions/datastore"
	"github.com/Str4nger14/PermissionsEx/services/permissions/rank"
	"github.com/Str4nger14/PermissionsEx/services/permissions/subject"
)

// Well-known subject types.
const (
	// SubjectDefaults is the distinguished type holding every other type's
	// default subject. The default subject for type T is (SubjectDefaults, T).
	SubjectDefaults = "default"
	// SubjectUsers holds individual principals.
	SubjectUsers = "user"
	// SubjectGroups holds permission groups.
	SubjectGroups = "group"
)

// ErrClosed is returned by engine operations after Close.
var ErrClosed = errors.New("permissions engine is closed")

// Engine owns the backing store and the per-type subject collections.
//
// Thread Safety: safe for concurrent use. Collection bootstrap runs under
// singleflight per type, so each type initializes exactly once; a failed
// bootstrap publishes nothing and the next request retries.
type Engine struct {
	store  datastore.Store
	logger *slog.Logger

	mu          sync.RWMutex
	collections map[string]*Collection
	flight      singleflight.Group
	closed      bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. The default logs to slog's default
// handler.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine initializes the backing store and wraps it in an engine.
//
// Initialize's pre-existing-data report decides whether this is a first run;
// a first run is only logged here, the store stays empty until subjects are
// written.
func NewEngine(ctx context.Context, store datastore.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	e := &Engine{
		store:       store,
		logger:      slog.Default(),
		collections: make(map[string]*Collection),
	}
	for _, opt := range opts {
		opt(e)
	}

	hasData, err := store.Initialize(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing %s store %q: %w", store.TypeName(), store.Name(), err)
	}
	e.logger.Info("permissions engine started",
		"store_type", store.TypeName(),
		"store", store.Name(),
		"first_run", !hasData)
	return e, nil
}

// Store returns the engine's backing store.
func (e *Engine) Store() datastore.Store {
	return e.store
}

// Subjects returns the collection for typeName, bootstrapping it on first
// use.
//
// Bootstrap resolves the collection's defaults handle through the defaults
// collection before the collection becomes visible, so a returned collection
// is always fully initialized. A bootstrap failure caches nothing; the next
// call retries.
func (e *Engine) Subjects(ctx context.Context, typeName string) (*Collection, error) {
	if typeName == "" {
		return nil, errors.New("subject type must not be empty")
	}
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	existing, ok := e.collections[typeName]
	e.mu.RUnlock()
	if ok {
		return existing, nil
	}

	result, err, _ := e.flight.Do(typeName, func() (interface{}, error) {
		e.mu.RLock()
		winner, ok := e.collections[typeName]
		e.mu.RUnlock()
		if ok {
			return winner, nil
		}

		collection := newCollection(e, typeName)
		if err := collection.bootstrap(ctx); err != nil {
			return nil, fmt.Errorf("bootstrapping subject type %q: %w", typeName, err)
		}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, ErrClosed
		}
		e.collections[typeName] = collection
		e.mu.Unlock()

		e.logger.Debug("subject collection initialized", "type", typeName)
		return collection, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Collection), nil
}

// LoadedCollections returns the collections that have bootstrapped so far.
func (e *Engine) LoadedCollections() []*Collection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Collection, 0, len(e.collections))
	for _, collection := range e.collections {
		out = append(out, collection)
	}
	return out
}

// loadSubject resolves a cross-type subject reference, bootstrapping the
// target collection if needed. Parent resolution uses this.
func (e *Engine) loadSubject(ctx context.Context, ref subject.Ref) (*CalculatedSubject, error) {
	collection, err := e.Subjects(ctx, ref.Type)
	if err != nil {
		return nil, err
	}
	return collection.Load(ctx, ref.Identifier)
}

// SetData writes a subject snapshot through the store and refreshes the
// resident handle, if any, so live checks observe the write immediately.
//
// Every other resident handle drops its memoized results too: resolution
// walks parents and the defaults chain across collections, so any write can
// change what dependent subjects resolve. Writes are rare and memos rebuild
// on the next check.
func (e *Engine) SetData(ctx context.Context, ref subject.Ref, data subject.Data) (subject.Data, error) {
	if data == nil {
		return nil, errors.New("data must not be nil")
	}
	stored, err := e.store.Set(ctx, ref.Type, ref.Identifier, data)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	collection := e.collections[ref.Type]
	e.mu.RUnlock()
	if collection != nil {
		collection.refresh(ref.Identifier, stored)
	}
	e.invalidateResolved()
	return stored, nil
}

// invalidateResolved drops memoized resolution results on every resident
// handle across all bootstrapped collections.
func (e *Engine) invalidateResolved() {
	for _, collection := range e.LoadedCollections() {
		for _, handle := range collection.LoadedSubjects() {
			handle.UnloadCache()
		}
	}
}

// Ladder returns the rank ladder stored under name, empty on a miss.
func (e *Engine) Ladder(ctx context.Context, name string) (*rank.Ladder, error) {
	return e.store.GetRankLadder(ctx, name)
}

// SetLadder replaces the rank ladder stored under name.
func (e *Engine) SetLadder(ctx context.Context, name string, ladder *rank.Ladder) (*rank.Ladder, error) {
	return e.store.SetRankLadder(ctx, name, ladder)
}

// LadderNames returns the names of every stored ladder.
func (e *Engine) LadderNames(ctx context.Context) ([]string, error) {
	return e.store.AllRankLadderNames(ctx)
}

// ContextInheritance returns the current context-inheritance graph.
func (e *Engine) ContextInheritance(ctx context.Context) (*contexts.Inheritance, error) {
	return e.store.ContextInheritance(ctx)
}

// SetContextInheritance atomically replaces the context-inheritance graph.
func (e *Engine) SetContextInheritance(ctx context.Context, graph *contexts.Inheritance) (*contexts.Inheritance, error) {
	return e.store.SetContextInheritance(ctx, graph)
}

// DefinedContextKeys returns every context key used by stored subject data.
func (e *Engine) DefinedContextKeys(ctx context.Context) ([]string, error) {
	return e.store.DefinedContextKeys(ctx)
}

// Close shuts the engine down and releases the backing store. Collections
// obtained earlier keep serving resident handles but new collections are
// refused.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.store.Close(); err != nil {
		return fmt.Errorf("closing %s store %q: %w", e.store.TypeName(), e.store.Name(), err)
	}
	e.logger.Info("permissions engine stopped", "store", e.store.Name())
	return nil
}
