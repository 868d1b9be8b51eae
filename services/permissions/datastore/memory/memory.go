// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory provides the reference in-memory store backend.
//
// It is the contract's executable specification: every guarantee the
// datastore package documents (insert-if-absent convergence, tracking
// semantics, atomic inheritance replacement, ladder-name normalization) is
// implemented here in its simplest form. It never has starting data and
// holds nothing across restarts, which also makes it the backend of choice
// for tests and for the non-recording "anonymous" mode.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Str4nger14/PermissionsEx/services/permissions/contexts"
	"github.com/Str4nger14/PermissionsEx/services/permissions/datastore"
	"github.com/Str4nger14/PermissionsEx/services/permissions/rank"
	"github.com/Str4nger14/PermissionsEx/services/permissions/subject"
)

// TypeName is the backend type this store registers under.
const TypeName = "memory"

func init() {
	datastore.Register(TypeName, func(props datastore.Properties) (datastore.Store, error) {
		cfg := DefaultConfig()
		if err := props.DecodeOptions(&cfg); err != nil {
			return nil, err
		}
		return NewWithConfig(props.Name, cfg), nil
	})
}

// Config holds the backend options.
type Config struct {
	// Track controls whether the store persists newly-synthesized empty
	// snapshots and explicit writes. When false the store is a pass-through:
	// nothing is ever stored.
	Track *bool `yaml:"track"`
}

// DefaultConfig returns the backend defaults: tracking enabled.
func DefaultConfig() Config {
	track := true
	return Config{Track: &track}
}

func (c Config) track() bool {
	return c.Track == nil || *c.Track
}

// Store is the in-memory backend.
//
// Thread Safety: safe for concurrent use. Subject data and ladders live in
// RWMutex-guarded maps with double-checked insert-if-absent; the inheritance
// graph is a single atomic pointer so replacement is observed all-or-nothing.
type Store struct {
	name   string
	config Config

	mu      sync.RWMutex
	data    map[subject.Ref]subject.Data
	ladders map[string]*rank.Ladder

	inheritance atomic.Pointer[contexts.Inheritance]
}

// New creates an in-memory store with default options.
func New(name string) *Store {
	return NewWithConfig(name, DefaultConfig())
}

// NewWithConfig creates an in-memory store with the given options.
func NewWithConfig(name string, cfg Config) *Store {
	s := &Store{
		name:    name,
		config:  cfg,
		data:    make(map[subject.Ref]subject.Data),
		ladders: make(map[string]*rank.Ladder),
	}
	s.inheritance.Store(contexts.NewInheritance())
	return s
}

// Name returns the configured instance label.
func (s *Store) Name() string { return s.name }

// TypeName returns "memory".
func (s *Store) TypeName() string { return TypeName }

// Get returns the stored snapshot for the key or a synthesized empty one.
//
// With tracking on, concurrent first reads of the same key converge on a
// single stored snapshot: the synthesized value is inserted only if nothing
// is present, and the insertion race's winner is what every caller receives.
func (s *Store) Get(ctx context.Context, typeName, identifier string) (subject.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := subject.NewRef(typeName, identifier)

	s.mu.RLock()
	existing, ok := s.data[key]
	s.mu.RUnlock()
	if ok {
		return existing, nil
	}

	fresh := subject.NewData()
	if !s.config.track() {
		return fresh, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if winner, ok := s.data[key]; ok {
		// Another goroutine inserted first; discard ours.
		return winner, nil
	}
	s.data[key] = fresh
	return fresh, nil
}

// Set replaces the snapshot for the key, last writer wins. A pass-through
// when tracking is disabled.
func (s *Store) Set(ctx context.Context, typeName, identifier string, data subject.Data) (subject.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.config.track() {
		return data, nil
	}
	key := subject.NewRef(typeName, identifier)
	s.mu.Lock()
	s.data[key] = data
	s.mu.Unlock()
	return data, nil
}

// IsRegistered reports whether a snapshot is currently stored for the key.
func (s *Store) IsRegistered(ctx context.Context, typeName, identifier string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.data[subject.NewRef(typeName, identifier)]
	s.mu.RUnlock()
	return ok, nil
}

// AllIdentifiers returns every identifier stored under typeName.
func (s *Store) AllIdentifiers(ctx context.Context, typeName string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for ref := range s.data {
		if ref.Type == typeName {
			out = append(out, ref.Identifier)
		}
	}
	sort.Strings(out)
	return out, nil
}

// RegisteredTypes returns every distinct subject type with stored data.
func (s *Store) RegisteredTypes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for ref := range s.data {
		if _, ok := seen[ref.Type]; ok {
			continue
		}
		seen[ref.Type] = struct{}{}
		out = append(out, ref.Type)
	}
	sort.Strings(out)
	return out, nil
}

// DefinedContextKeys returns the union of context keys used by stored data.
func (s *Store) DefinedContextKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, data := range s.data {
		for _, set := range data.ActiveContexts() {
			for _, key := range set.Keys() {
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, key)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// All iterates over a snapshot of the stored pairs taken under the read
// lock. Inserts racing the iteration may or may not appear, which satisfies
// the weakly-consistent view the contract allows.
func (s *Store) All(ctx context.Context, fn func(subject.Ref, subject.Data) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	refs := make([]subject.Ref, 0, len(s.data))
	values := make([]subject.Data, 0, len(s.data))
	for ref, data := range s.data {
		refs = append(refs, ref)
		values = append(values, data)
	}
	s.mu.RUnlock()

	for i := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(refs[i], values[i]) {
			return nil
		}
	}
	return nil
}

// GetRankLadder returns the ladder stored under the normalized name, or an
// empty ladder carrying the requested name on a miss.
func (s *Store) GetRankLadder(ctx context.Context, name string) (*rank.Ladder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ladder, ok := s.ladders[datastore.NormalizeLadderName(name)]
	s.mu.RUnlock()
	if !ok {
		return rank.NewLadder(name), nil
	}
	return ladder, nil
}

// SetRankLadder replaces the ladder under the normalized name.
func (s *Store) SetRankLadder(ctx context.Context, name string, ladder *rank.Ladder) (*rank.Ladder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.ladders[datastore.NormalizeLadderName(name)] = ladder
	s.mu.Unlock()
	return ladder, nil
}

// HasRankLadder reports whether a ladder is stored under the name.
func (s *Store) HasRankLadder(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.ladders[datastore.NormalizeLadderName(name)]
	s.mu.RUnlock()
	return ok, nil
}

// AllRankLadderNames returns the normalized names of every stored ladder.
func (s *Store) AllRankLadderNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ladders))
	for name := range s.ladders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ContextInheritance returns the current inheritance graph.
func (s *Store) ContextInheritance(ctx context.Context) (*contexts.Inheritance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.inheritance.Load(), nil
}

// SetContextInheritance replaces the whole graph with one pointer swap.
func (s *Store) SetContextInheritance(ctx context.Context, inheritance *contexts.Inheritance) (*contexts.Inheritance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if inheritance == nil {
		return nil, errors.New("inheritance graph must not be nil")
	}
	s.inheritance.Store(inheritance)
	return inheritance, nil
}

// BulkOperation runs fn on the calling goroutine with a direct reference to
// this store.
func (s *Store) BulkOperation(ctx context.Context, fn func(context.Context, datastore.Store) error) error {
	return fn(ctx, s)
}

// Initialize always reports false: the in-memory backend never has starting
// data.
func (s *Store) Initialize(ctx context.Context) (bool, error) {
	return false, ctx.Err()
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
