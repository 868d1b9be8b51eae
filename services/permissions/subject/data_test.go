// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package subject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Str4nger14/PermissionsEx/services/permissions/contexts"
)

// TestNewDataIsEmpty verifies the canonical empty snapshot.
func TestNewDataIsEmpty(t *testing.T) {
	d := NewData()
	assert.True(t, d.IsEmpty())
	assert.Empty(t, d.ActiveContexts())
	assert.Nil(t, d.Permissions(contexts.GlobalSet))
	assert.Equal(t, 0, d.DefaultValue(contexts.GlobalSet))
}

// TestWithPermissionLeavesReceiverUntouched verifies snapshots are
// copy-on-write.
func TestWithPermissionLeavesReceiverUntouched(t *testing.T) {
	base := NewData()
	next := base.WithPermission(contexts.GlobalSet, "chat.send", 1)

	assert.True(t, base.IsEmpty())
	require.False(t, next.IsEmpty())
	assert.Equal(t, 1, next.Permissions(contexts.GlobalSet)["chat.send"])
}

// TestPermissionsAreScopedToExactContextSet verifies entries do not leak
// between context sets.
func TestPermissionsAreScopedToExactContextSet(t *testing.T) {
	lobby := contexts.NewSet(contexts.NewValue("server", "lobby"))
	d := NewData().WithPermission(lobby, "chat.send", 1)

	assert.Equal(t, 1, d.Permissions(lobby)["chat.send"])
	assert.Nil(t, d.Permissions(contexts.GlobalSet))
}

// TestWithPermissionZeroRemovesEntry verifies writing zero deletes an entry
// and an emptied segment disappears.
func TestWithPermissionZeroRemovesEntry(t *testing.T) {
	d := NewData().
		WithPermission(contexts.GlobalSet, "chat.send", 1).
		WithPermission(contexts.GlobalSet, "chat.send", 0)

	assert.True(t, d.IsEmpty())
}

// TestWithParentDeduplicates verifies repeated parents are not added twice
// and order is preserved.
func TestWithParentDeduplicates(t *testing.T) {
	member := NewRef("group", "member")
	vip := NewRef("group", "vip")

	d := NewData().
		WithParent(contexts.GlobalSet, member).
		WithParent(contexts.GlobalSet, vip).
		WithParent(contexts.GlobalSet, member)

	assert.Equal(t, []Ref{member, vip}, d.Parents(contexts.GlobalSet))
}

// TestWithoutParent verifies parent removal keeps the remaining order.
func TestWithoutParent(t *testing.T) {
	member := NewRef("group", "member")
	vip := NewRef("group", "vip")
	admin := NewRef("group", "admin")

	d := NewData().
		WithParent(contexts.GlobalSet, member).
		WithParent(contexts.GlobalSet, vip).
		WithParent(contexts.GlobalSet, admin).
		WithoutParent(contexts.GlobalSet, vip)

	assert.Equal(t, []Ref{member, admin}, d.Parents(contexts.GlobalSet))
}

// TestOptions verifies option set and removal.
func TestOptions(t *testing.T) {
	d := NewData().WithOption(contexts.GlobalSet, "prefix", "[admin]")
	assert.Equal(t, "[admin]", d.Options(contexts.GlobalSet)["prefix"])

	d = d.WithoutOption(contexts.GlobalSet, "prefix")
	assert.True(t, d.IsEmpty())
}

// TestAccessorsReturnCopies verifies mutating a returned map or slice does
// not affect the snapshot.
func TestAccessorsReturnCopies(t *testing.T) {
	d := NewData().
		WithPermission(contexts.GlobalSet, "chat.send", 1).
		WithParent(contexts.GlobalSet, NewRef("group", "member"))

	perms := d.Permissions(contexts.GlobalSet)
	perms["chat.send"] = -1
	assert.Equal(t, 1, d.Permissions(contexts.GlobalSet)["chat.send"])

	parents := d.Parents(contexts.GlobalSet)
	parents[0] = NewRef("group", "other")
	assert.Equal(t, NewRef("group", "member"), d.Parents(contexts.GlobalSet)[0])
}

// TestActiveContexts verifies every populated context set is reported.
func TestActiveContexts(t *testing.T) {
	lobby := contexts.NewSet(contexts.NewValue("server", "lobby"))
	d := NewData().
		WithPermission(contexts.GlobalSet, "chat.send", 1).
		WithPermission(lobby, "chat.color", -1)

	active := d.ActiveContexts()
	require.Len(t, active, 2)
	keys := []string{active[0].Key(), active[1].Key()}
	assert.Contains(t, keys, "")
	assert.Contains(t, keys, lobby.Key())
}

// TestModelRoundTrip verifies serialization preserves every entry kind.
func TestModelRoundTrip(t *testing.T) {
	lobby := contexts.NewSet(contexts.NewValue("server", "lobby"))
	member := NewRef("group", "member")

	d := NewData().
		WithPermission(contexts.GlobalSet, "chat.send", 1).
		WithPermission(lobby, "chat.color", -1).
		WithOption(lobby, "prefix", "[lobby]").
		WithParent(contexts.GlobalSet, member).
		WithDefaultValue(lobby, -1)

	rebuilt := d.Model().Data()

	assert.Equal(t, d.Permissions(contexts.GlobalSet), rebuilt.Permissions(contexts.GlobalSet))
	assert.Equal(t, d.Permissions(lobby), rebuilt.Permissions(lobby))
	assert.Equal(t, d.Options(lobby), rebuilt.Options(lobby))
	assert.Equal(t, d.Parents(contexts.GlobalSet), rebuilt.Parents(contexts.GlobalSet))
	assert.Equal(t, d.DefaultValue(lobby), rebuilt.DefaultValue(lobby))
}

// TestTristateFromInt verifies the signed-integer boundary convention.
func TestTristateFromInt(t *testing.T) {
	assert.Equal(t, Allow, FromInt(1))
	assert.Equal(t, Allow, FromInt(42))
	assert.Equal(t, Deny, FromInt(-1))
	assert.Equal(t, Undefined, FromInt(0))

	assert.True(t, Allow.Defined())
	assert.False(t, Undefined.Defined())
	assert.True(t, Allow.Bool())
	assert.False(t, Deny.Bool())
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "deny", Deny.String())
	assert.Equal(t, "undefined", Undefined.String())
}
