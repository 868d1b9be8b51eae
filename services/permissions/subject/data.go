// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package subject

import (
	"github.com/Str4nger14/PermissionsEx/services/permissions/contexts"
)

// Data is an immutable snapshot of one subject's stored permission state.
//
// A snapshot holds, per context set, the subject's permission values (signed
// int convention: positive allow, negative deny), options, parent subjects
// and a fallback value applied when no permission entry matches.
//
// Snapshots are never mutated in place. Every With* method returns a new
// snapshot sharing unmodified segments with its predecessor, so a snapshot
// handed to a caller stays valid regardless of later writes. Stores replace
// the snapshot for a key atomically.
//
// Thread Safety: a Data value is safe for unsynchronized concurrent use.
type Data interface {
	// Permissions returns the permission entries scoped to exactly set.
	Permissions(set contexts.Set) map[string]int
	// Options returns the option entries scoped to exactly set.
	Options(set contexts.Set) map[string]string
	// Parents returns the parent subjects scoped to exactly set, in
	// declaration order.
	Parents(set contexts.Set) []Ref
	// DefaultValue returns the fallback permission value for set, zero when
	// none is declared.
	DefaultValue(set contexts.Set) int

	// ActiveContexts returns every context set that carries at least one
	// entry in this snapshot.
	ActiveContexts() []contexts.Set
	// IsEmpty reports whether the snapshot carries no entries at all.
	IsEmpty() bool

	WithPermission(set contexts.Set, permission string, value int) Data
	WithOption(set contexts.Set, key, value string) Data
	WithoutOption(set contexts.Set, key string) Data
	WithParent(set contexts.Set, parent Ref) Data
	WithoutParent(set contexts.Set, parent Ref) Data
	WithDefaultValue(set contexts.Set, value int) Data

	// Model converts the snapshot to its serializable form.
	Model() *Model
}

// segment holds the entries scoped to one context set. The maps and slice in
// a published segment are never written again; With* methods build fresh ones.
type segment struct {
	contexts    contexts.Set
	permissions map[string]int
	options     map[string]string
	parents     []Ref
	fallback    int
}

func (s segment) isEmpty() bool {
	return len(s.permissions) == 0 && len(s.options) == 0 && len(s.parents) == 0 && s.fallback == 0
}

type immutableData struct {
	segments map[string]segment
}

// NewData returns the canonical empty snapshot.
func NewData() Data {
	return &immutableData{segments: map[string]segment{}}
}

func (d *immutableData) segment(set contexts.Set) (segment, bool) {
	seg, ok := d.segments[set.Key()]
	return seg, ok
}

// withSegment returns a new snapshot where set's segment is replaced by the
// result of mutate applied to a private copy. Empty segments are dropped so
// IsEmpty stays meaningful.
func (d *immutableData) withSegment(set contexts.Set, mutate func(*segment)) Data {
	seg, ok := d.segments[set.Key()]
	if !ok {
		seg = segment{contexts: set}
	}
	copied := segment{
		contexts:    seg.contexts,
		permissions: make(map[string]int, len(seg.permissions)+1),
		options:     make(map[string]string, len(seg.options)+1),
		parents:     append([]Ref(nil), seg.parents...),
		fallback:    seg.fallback,
	}
	for k, v := range seg.permissions {
		copied.permissions[k] = v
	}
	for k, v := range seg.options {
		copied.options[k] = v
	}
	mutate(&copied)

	next := make(map[string]segment, len(d.segments)+1)
	for k, v := range d.segments {
		next[k] = v
	}
	if copied.isEmpty() {
		delete(next, set.Key())
	} else {
		next[set.Key()] = copied
	}
	return &immutableData{segments: next}
}

func (d *immutableData) Permissions(set contexts.Set) map[string]int {
	seg, ok := d.segment(set)
	if !ok {
		return nil
	}
	out := make(map[string]int, len(seg.permissions))
	for k, v := range seg.permissions {
		out[k] = v
	}
	return out
}

func (d *immutableData) Options(set contexts.Set) map[string]string {
	seg, ok := d.segment(set)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(seg.options))
	for k, v := range seg.options {
		out[k] = v
	}
	return out
}

func (d *immutableData) Parents(set contexts.Set) []Ref {
	seg, ok := d.segment(set)
	if !ok {
		return nil
	}
	return append([]Ref(nil), seg.parents...)
}

func (d *immutableData) DefaultValue(set contexts.Set) int {
	seg, _ := d.segment(set)
	return seg.fallback
}

func (d *immutableData) ActiveContexts() []contexts.Set {
	out := make([]contexts.Set, 0, len(d.segments))
	for _, seg := range d.segments {
		out = append(out, seg.contexts)
	}
	return out
}

func (d *immutableData) IsEmpty() bool {
	return len(d.segments) == 0
}

func (d *immutableData) WithPermission(set contexts.Set, permission string, value int) Data {
	return d.withSegment(set, func(seg *segment) {
		if value == 0 {
			delete(seg.permissions, permission)
		} else {
			seg.permissions[permission] = value
		}
	})
}

func (d *immutableData) WithOption(set contexts.Set, key, value string) Data {
	return d.withSegment(set, func(seg *segment) {
		seg.options[key] = value
	})
}

func (d *immutableData) WithoutOption(set contexts.Set, key string) Data {
	return d.withSegment(set, func(seg *segment) {
		delete(seg.options, key)
	})
}

func (d *immutableData) WithParent(set contexts.Set, parent Ref) Data {
	return d.withSegment(set, func(seg *segment) {
		for _, p := range seg.parents {
			if p == parent {
				return
			}
		}
		seg.parents = append(seg.parents, parent)
	})
}

func (d *immutableData) WithoutParent(set contexts.Set, parent Ref) Data {
	return d.withSegment(set, func(seg *segment) {
		for i, p := range seg.parents {
			if p == parent {
				seg.parents = append(seg.parents[:i], seg.parents[i+1:]...)
				return
			}
		}
	})
}

func (d *immutableData) WithDefaultValue(set contexts.Set, value int) Data {
	return d.withSegment(set, func(seg *segment) {
		seg.fallback = value
	})
}
