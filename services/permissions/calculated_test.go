// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Str4nger14/PermissionsEx/services/permissions/contexts"
	"github.com/Str4nger14/PermissionsEx/services/permissions/subject"
)

func setData(t *testing.T, engine *Engine, ref subject.Ref, data subject.Data) {
	t.Helper()
	_, err := engine.SetData(context.Background(), ref, data)
	require.NoError(t, err)
}

func loadUser(t *testing.T, engine *Engine, identifier string) *CalculatedSubject {
	t.Helper()
	users, err := engine.Subjects(context.Background(), SubjectUsers)
	require.NoError(t, err)
	handle, err := users.Load(context.Background(), identifier)
	require.NoError(t, err)
	return handle
}

// TestPermissionExactContextBeatsGlobal verifies the exact context set is
// consulted before the global one.
func TestPermissionExactContextBeatsGlobal(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	lobby := contexts.NewSet(contexts.NewValue("server", "lobby"))

	setData(t, engine, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().
			WithPermission(contexts.GlobalSet, "chat.send", 1).
			WithPermission(lobby, "chat.send", -1))
	alice := loadUser(t, engine, "alice")

	val, err := alice.Permission(ctx, lobby, "chat.send")
	require.NoError(t, err)
	assert.Equal(t, -1, val)

	val, err = alice.Permission(ctx, contexts.GlobalSet, "chat.send")
	require.NoError(t, err)
	assert.Equal(t, 1, val)
}

// TestPermissionGlobalAppliesUnderAnyContexts verifies a global entry
// answers checks in scoped context sets.
func TestPermissionGlobalAppliesUnderAnyContexts(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	nether := contexts.NewSet(contexts.NewValue("world", "nether"))

	setData(t, engine, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().WithPermission(contexts.GlobalSet, "chat.send", 1))
	alice := loadUser(t, engine, "alice")

	val, err := alice.Permission(ctx, nether, "chat.send")
	require.NoError(t, err)
	assert.Equal(t, 1, val)
}

// TestPermissionResolvesThroughParents verifies depth-first parent
// resolution across subject types.
func TestPermissionResolvesThroughParents(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	setData(t, engine, subject.NewRef(SubjectGroups, "admin"),
		subject.NewData().WithPermission(contexts.GlobalSet, "server.stop", 1))
	setData(t, engine, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().WithParent(contexts.GlobalSet, subject.NewRef(SubjectGroups, "admin")))
	alice := loadUser(t, engine, "alice")

	val, err := alice.Permission(ctx, contexts.GlobalSet, "server.stop")
	require.NoError(t, err)
	assert.Equal(t, 1, val)
}

// TestPermissionOwnEntryBeatsParent verifies a subject's own entry wins over
// an inherited one.
func TestPermissionOwnEntryBeatsParent(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	setData(t, engine, subject.NewRef(SubjectGroups, "admin"),
		subject.NewData().WithPermission(contexts.GlobalSet, "server.stop", 1))
	setData(t, engine, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().
			WithPermission(contexts.GlobalSet, "server.stop", -1).
			WithParent(contexts.GlobalSet, subject.NewRef(SubjectGroups, "admin")))
	alice := loadUser(t, engine, "alice")

	val, err := alice.Permission(ctx, contexts.GlobalSet, "server.stop")
	require.NoError(t, err)
	assert.Equal(t, -1, val)
}

// TestPermissionParentCycleTerminates verifies mutually-parented groups
// resolve without recursing forever.
func TestPermissionParentCycleTerminates(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	a := subject.NewRef(SubjectGroups, "a")
	b := subject.NewRef(SubjectGroups, "b")
	setData(t, engine, a, subject.NewData().WithParent(contexts.GlobalSet, b))
	setData(t, engine, b, subject.NewData().
		WithParent(contexts.GlobalSet, a).
		WithPermission(contexts.GlobalSet, "x", 1))

	groups, err := engine.Subjects(ctx, SubjectGroups)
	require.NoError(t, err)
	handle, err := groups.Load(ctx, "a")
	require.NoError(t, err)

	val, err := handle.Permission(ctx, contexts.GlobalSet, "x")
	require.NoError(t, err)
	assert.Equal(t, 1, val)

	val, err = handle.Permission(ctx, contexts.GlobalSet, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, val)
}

// TestPermissionFallbackValue verifies the declared fallback answers checks
// with no matching entry.
func TestPermissionFallbackValue(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	setData(t, engine, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().
			WithPermission(contexts.GlobalSet, "chat.send", 1).
			WithDefaultValue(contexts.GlobalSet, -1))
	alice := loadUser(t, engine, "alice")

	val, err := alice.Permission(ctx, contexts.GlobalSet, "chat.send")
	require.NoError(t, err)
	assert.Equal(t, 1, val)

	val, err = alice.Permission(ctx, contexts.GlobalSet, "anything.else")
	require.NoError(t, err)
	assert.Equal(t, -1, val)
}

// TestPermissionDefaultsChain verifies an unconfigured subject inherits from
// its type's default subject, and transitively from the global defaults.
func TestPermissionDefaultsChain(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	setData(t, engine, subject.NewRef(SubjectDefaults, SubjectUsers),
		subject.NewData().WithPermission(contexts.GlobalSet, "chat.send", 1))
	setData(t, engine, subject.NewRef(SubjectDefaults, SubjectDefaults),
		subject.NewData().WithPermission(contexts.GlobalSet, "spawn.use", 1))

	alice := loadUser(t, engine, "alice")

	val, err := alice.Permission(ctx, contexts.GlobalSet, "chat.send")
	require.NoError(t, err)
	assert.Equal(t, 1, val, "type defaults must apply")

	val, err = alice.Permission(ctx, contexts.GlobalSet, "spawn.use")
	require.NoError(t, err)
	assert.Equal(t, 1, val, "global defaults must apply through the chain")

	val, err = alice.Permission(ctx, contexts.GlobalSet, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, val)
}

// TestPermissionMemoization verifies resolved values are memoized on the
// handle until invalidated.
func TestPermissionMemoization(t *testing.T) {
	store := newCountingStore()
	engine, err := NewEngine(context.Background(), store)
	require.NoError(t, err)
	defer engine.Close()
	ctx := context.Background()

	setData(t, engine, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().WithParent(contexts.GlobalSet, subject.NewRef(SubjectGroups, "admin")))
	alice := loadUser(t, engine, "alice")

	_, err = alice.Permission(ctx, contexts.GlobalSet, "x")
	require.NoError(t, err)
	fetched := store.getCount(SubjectGroups, "admin")

	_, err = alice.Permission(ctx, contexts.GlobalSet, "x")
	require.NoError(t, err)
	assert.Equal(t, fetched, store.getCount(SubjectGroups, "admin"),
		"memoized check must not walk parents again")
}

// TestSetActiveContexts verifies active-context state drives nil-set
// aggregate evaluation.
func TestSetActiveContexts(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	lobby := contexts.NewSet(contexts.NewValue("server", "lobby"))

	setData(t, engine, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().WithPermission(lobby, "chat.send", 1))
	alice := loadUser(t, engine, "alice")

	assert.True(t, alice.ActiveContexts().IsGlobal())

	users, err := engine.Subjects(ctx, SubjectUsers)
	require.NoError(t, err)
	loaded, err := users.GetLoadedWithPermission(ctx, nil, "chat.send")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	alice.SetActiveContexts(lobby)
	loaded, err = users.GetLoadedWithPermission(ctx, nil, "chat.send")
	require.NoError(t, err)
	assert.Equal(t, map[*CalculatedSubject]bool{alice: true}, loaded)
}

// TestOptionResolution verifies option lookup through own entries, parents
// and the defaults chain.
func TestOptionResolution(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	lobby := contexts.NewSet(contexts.NewValue("server", "lobby"))

	setData(t, engine, subject.NewRef(SubjectGroups, "admin"),
		subject.NewData().WithOption(contexts.GlobalSet, "prefix", "[admin]"))
	setData(t, engine, subject.NewRef(SubjectDefaults, SubjectUsers),
		subject.NewData().WithOption(contexts.GlobalSet, "suffix", "~"))
	setData(t, engine, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().
			WithOption(lobby, "prefix", "[lobby]").
			WithParent(contexts.GlobalSet, subject.NewRef(SubjectGroups, "admin")))
	alice := loadUser(t, engine, "alice")

	val, ok, err := alice.Option(ctx, lobby, "prefix")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[lobby]", val, "exact context entry wins")

	val, ok, err = alice.Option(ctx, contexts.GlobalSet, "prefix")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[admin]", val, "parent entry applies")

	val, ok, err = alice.Option(ctx, contexts.GlobalSet, "suffix")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "~", val, "type defaults apply")

	_, ok, err = alice.Option(ctx, contexts.GlobalSet, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestPermissionValueBoundary verifies the tristate conversion at the
// consumer boundary.
func TestPermissionValueBoundary(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	setData(t, engine, subject.NewRef(SubjectUsers, "alice"),
		subject.NewData().
			WithPermission(contexts.GlobalSet, "granted", 1).
			WithPermission(contexts.GlobalSet, "refused", -1))
	alice := loadUser(t, engine, "alice")

	value, err := alice.PermissionValue(ctx, contexts.GlobalSet, "granted")
	require.NoError(t, err)
	assert.Equal(t, subject.Allow, value)

	value, err = alice.PermissionValue(ctx, contexts.GlobalSet, "refused")
	require.NoError(t, err)
	assert.Equal(t, subject.Deny, value)

	value, err = alice.PermissionValue(ctx, contexts.GlobalSet, "unknown")
	require.NoError(t, err)
	assert.Equal(t, subject.Undefined, value)
}
