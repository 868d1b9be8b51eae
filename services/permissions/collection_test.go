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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Str4nger14/PermissionsEx/services/permissions/contexts"
	"github.com/Str4nger14/PermissionsEx/services/permissions/datastore"
	"github.com/Str4nger14/PermissionsEx/services/permissions/datastore/memory"
	"github.com/Str4nger14/PermissionsEx/services/permissions/subject"
)

// countingStore counts Get calls per key so tests can assert how many store
// fetches a cache path produced.
type countingStore struct {
	datastore.Store
	mu   sync.Mutex
	gets map[string]int
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New("counting"), gets: map[string]int{}}
}

func (s *countingStore) Get(ctx context.Context, typeName, identifier string) (subject.Data, error) {
	s.mu.Lock()
	s.gets[typeName+":"+identifier]++
	s.mu.Unlock()
	return s.Store.Get(ctx, typeName, identifier)
}

func (s *countingStore) getCount(typeName, identifier string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[typeName+":"+identifier]
}

// flakyStore fails the first failures Get calls for matching identifiers.
type flakyStore struct {
	datastore.Store
	failures   atomic.Int32
	identifier string
}

func (s *flakyStore) Get(ctx context.Context, typeName, identifier string) (subject.Data, error) {
	if identifier == s.identifier && s.failures.Add(-1) >= 0 {
		return nil, errors.New("backend unavailable")
	}
	return s.Store.Get(ctx, typeName, identifier)
}

// TestLoadCachesHandle verifies a second Load returns the resident handle
// without another store fetch.
func TestLoadCachesHandle(t *testing.T) {
	store := newCountingStore()
	engine, err := NewEngine(context.Background(), store)
	require.NoError(t, err)
	defer engine.Close()
	ctx := context.Background()

	users, err := engine.Subjects(ctx, SubjectUsers)
	require.NoError(t, err)

	first, err := users.Load(ctx, "alice")
	require.NoError(t, err)
	fetched := store.getCount(SubjectUsers, "alice")

	second, err := users.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, fetched, store.getCount(SubjectUsers, "alice"), "cache hit must not fetch")
}

// TestConcurrentLoadsShareOneHandle verifies concurrent loaders of one
// identifier receive reference-equal handles.
func TestConcurrentLoadsShareOneHandle(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	users, err := engine.Subjects(ctx, SubjectUsers)
	require.NoError(t, err)

	const loaders = 32
	handles := make([]*CalculatedSubject, loaders)
	var wg sync.WaitGroup
	for i := 0; i < loaders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, err := users.Load(ctx, "alice")
			assert.NoError(t, err)
			handles[i] = handle
		}(i)
	}
	wg.Wait()

	for i := 1; i < loaders; i++ {
		assert.Same(t, handles[0], handles[i], "loader %d got a different handle", i)
	}
}

// gateStore blocks Get for one identifier until released, holding
// concurrent loaders together inside one flight.
type gateStore struct {
	datastore.Store
	identifier string
	release    chan struct{}
}

func (s *gateStore) Get(ctx context.Context, typeName, identifier string) (subject.Data, error) {
	if identifier == s.identifier {
		<-s.release
	}
	return s.Store.Get(ctx, typeName, identifier)
}

// TestCacheMissesMatchLoads verifies concurrent loaders of one identifier
// record exactly one miss and one store load, so miss totals reconcile with
// loads.
func TestCacheMissesMatchLoads(t *testing.T) {
	store := &gateStore{Store: memory.New("gated"), identifier: "alice", release: make(chan struct{})}
	engine, err := NewEngine(context.Background(), store)
	require.NoError(t, err)
	defer engine.Close()
	ctx := context.Background()

	users, err := engine.Subjects(ctx, SubjectUsers)
	require.NoError(t, err)

	missesBefore := testutil.ToFloat64(cacheMisses.WithLabelValues(SubjectUsers))
	loadsBefore := testutil.ToFloat64(subjectLoads.WithLabelValues(SubjectUsers, "success"))

	const loaders = 8
	var started, done sync.WaitGroup
	for i := 0; i < loaders; i++ {
		started.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			started.Done()
			_, err := users.Load(ctx, "alice")
			assert.NoError(t, err)
		}()
	}
	started.Wait()
	close(store.release)
	done.Wait()

	assert.Equal(t, missesBefore+1, testutil.ToFloat64(cacheMisses.WithLabelValues(SubjectUsers)))
	assert.Equal(t, loadsBefore+1, testutil.ToFloat64(subjectLoads.WithLabelValues(SubjectUsers, "success")))
}

// TestSuggestUnloadEvicts verifies eviction produces a fresh handle backed
// by a new store fetch.
func TestSuggestUnloadEvicts(t *testing.T) {
	store := newCountingStore()
	engine, err := NewEngine(context.Background(), store)
	require.NoError(t, err)
	defer engine.Close()
	ctx := context.Background()

	users, err := engine.Subjects(ctx, SubjectUsers)
	require.NoError(t, err)

	first, err := users.Load(ctx, "alice")
	require.NoError(t, err)
	before := store.getCount(SubjectUsers, "alice")

	users.SuggestUnload("alice")
	_, cached := users.GetIfCached("alice")
	assert.False(t, cached)

	second, err := users.Load(ctx, "alice")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, before+1, store.getCount(SubjectUsers, "alice"), "reload fetches exactly once")
}

// TestFailedLoadIsNotCached verifies a load failure surfaces to callers and
// the next Load retries against the store.
func TestFailedLoadIsNotCached(t *testing.T) {
	store := &flakyStore{Store: memory.New("flaky"), identifier: "alice"}
	store.failures.Store(1)
	engine, err := NewEngine(context.Background(), store)
	require.NoError(t, err)
	defer engine.Close()
	ctx := context.Background()

	users, err := engine.Subjects(ctx, SubjectUsers)
	require.NoError(t, err)

	_, err = users.Load(ctx, "alice")
	require.Error(t, err)
	_, cached := users.GetIfCached("alice")
	assert.False(t, cached, "failures must not poison the cache")

	handle, err := users.Load(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, handle)
}

// TestHasRegisteredAndAllIdentifiers verifies store-backed queries are
// independent of cache residency.
func TestHasRegisteredAndAllIdentifiers(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	users, err := engine.Subjects(ctx, SubjectUsers)
	require.NoError(t, err)

	registered, err := users.HasRegistered(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, registered)

	_, err = engine.SetData(ctx, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().WithPermission(contexts.GlobalSet, "x", 1))
	require.NoError(t, err)

	registered, err = users.HasRegistered(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, registered)

	identifiers, err := users.AllIdentifiers(ctx)
	require.NoError(t, err)
	assert.Contains(t, identifiers, "alice")
}

// TestLoadAll verifies the aggregate load returns a handle per identifier.
func TestLoadAll(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	users, err := engine.Subjects(ctx, SubjectUsers)
	require.NoError(t, err)

	handles, err := users.LoadAll(ctx, []string{"alice", "bob", "carol"})
	require.NoError(t, err)
	require.Len(t, handles, 3)
	for id, handle := range handles {
		assert.Equal(t, id, handle.Identifier())
		resident, ok := users.GetIfCached(id)
		require.True(t, ok)
		assert.Same(t, handle, resident)
	}
}

// TestGetLoadedWithPermission verifies only resident, defined subjects are
// reported.
func TestGetLoadedWithPermission(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.SetData(ctx, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().WithPermission(contexts.GlobalSet, "chat.send", 1))
	require.NoError(t, err)
	_, err = engine.SetData(ctx, subject.NewRef(SubjectUsers, "bob"),
		subject.NewData().WithPermission(contexts.GlobalSet, "chat.send", -1))
	require.NoError(t, err)
	_, err = engine.SetData(ctx, subject.NewRef(SubjectUsers, "carol"),
		subject.NewData().WithOption(contexts.GlobalSet, "prefix", "x"))
	require.NoError(t, err)

	users, err := engine.Subjects(ctx, SubjectUsers)
	require.NoError(t, err)

	alice, err := users.Load(ctx, "alice")
	require.NoError(t, err)
	bob, err := users.Load(ctx, "bob")
	require.NoError(t, err)

	// carol stays non-resident.
	loaded, err := users.GetLoadedWithPermission(ctx, nil, "chat.send")
	require.NoError(t, err)
	assert.Equal(t, map[*CalculatedSubject]bool{alice: true, bob: false}, loaded)
}

// TestGetAllWithPermission verifies the whole persisted population is
// evaluated, a superset of the resident view.
func TestGetAllWithPermission(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.SetData(ctx, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().WithPermission(contexts.GlobalSet, "chat.send", 1))
	require.NoError(t, err)
	_, err = engine.SetData(ctx, subject.NewRef(SubjectUsers, "bob"),
		subject.NewData().WithPermission(contexts.GlobalSet, "chat.send", -1))
	require.NoError(t, err)

	users, err := engine.Subjects(ctx, SubjectUsers)
	require.NoError(t, err)

	all, err := users.GetAllWithPermission(ctx, nil, "chat.send")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"alice": true, "bob": false}, all)
}

// TestGetAllWithPermissionExplicitContexts verifies evaluation under a
// caller-supplied context set.
func TestGetAllWithPermissionExplicitContexts(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	lobby := contexts.NewSet(contexts.NewValue("server", "lobby"))

	_, err := engine.SetData(ctx, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().WithPermission(lobby, "chat.send", 1))
	require.NoError(t, err)

	users, err := engine.Subjects(ctx, SubjectUsers)
	require.NoError(t, err)

	all, err := users.GetAllWithPermission(ctx, &lobby, "chat.send")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"alice": true}, all)

	global := contexts.GlobalSet
	all, err = users.GetAllWithPermission(ctx, &global, "chat.send")
	require.NoError(t, err)
	assert.Empty(t, all, "lobby-scoped entry must not apply globally")
}
