// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rank provides named, ordered promotion chains of subjects.
package rank

import (
	"github.com/Str4nger14/PermissionsEx/services/permissions/subject"
)

// Ladder is a named total order over subjects, lowest rank first.
//
// Ladders are immutable values: With and Without return new ladders. Stores
// index ladders by lower-cased name; the name carried here preserves the
// caller's casing for display.
type Ladder struct {
	name  string
	ranks []subject.Ref
}

// NewLadder creates a ladder with the given name and ranks, lowest first.
func NewLadder(name string, ranks ...subject.Ref) *Ladder {
	return &Ladder{name: name, ranks: append([]subject.Ref(nil), ranks...)}
}

// Name returns the ladder's display name.
func (l *Ladder) Name() string {
	return l.name
}

// Ranks returns the ladder's subjects, lowest rank first.
// The returned slice must not be modified.
func (l *Ladder) Ranks() []subject.Ref {
	return l.ranks
}

// Len returns the number of ranks on the ladder.
func (l *Ladder) Len() int {
	return len(l.ranks)
}

// IndexOf returns the position of ref on the ladder, or -1 if absent.
func (l *Ladder) IndexOf(ref subject.Ref) int {
	for i, r := range l.ranks {
		if r == ref {
			return i
		}
	}
	return -1
}

// With returns a ladder with ref appended as the new highest rank.
// If ref is already present the ladder is returned unchanged.
func (l *Ladder) With(ref subject.Ref) *Ladder {
	if l.IndexOf(ref) >= 0 {
		return l
	}
	ranks := make([]subject.Ref, 0, len(l.ranks)+1)
	ranks = append(ranks, l.ranks...)
	ranks = append(ranks, ref)
	return &Ladder{name: l.name, ranks: ranks}
}

// WithAt returns a ladder with ref inserted at position idx.
// Positions past the end append; if ref is already present the ladder is
// returned unchanged.
func (l *Ladder) WithAt(ref subject.Ref, idx int) *Ladder {
	if l.IndexOf(ref) >= 0 {
		return l
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(l.ranks) {
		return l.With(ref)
	}
	ranks := make([]subject.Ref, 0, len(l.ranks)+1)
	ranks = append(ranks, l.ranks[:idx]...)
	ranks = append(ranks, ref)
	ranks = append(ranks, l.ranks[idx:]...)
	return &Ladder{name: l.name, ranks: ranks}
}

// Without returns a ladder with ref removed. If ref is not on the ladder the
// receiver is returned unchanged.
func (l *Ladder) Without(ref subject.Ref) *Ladder {
	idx := l.IndexOf(ref)
	if idx < 0 {
		return l
	}
	ranks := make([]subject.Ref, 0, len(l.ranks)-1)
	ranks = append(ranks, l.ranks[:idx]...)
	ranks = append(ranks, l.ranks[idx+1:]...)
	return &Ladder{name: l.name, ranks: ranks}
}

// Promote returns the next rank above ref, or (ref, false) when ref is
// already the highest rank or not on the ladder at all.
func (l *Ladder) Promote(ref subject.Ref) (subject.Ref, bool) {
	idx := l.IndexOf(ref)
	if idx < 0 || idx == len(l.ranks)-1 {
		return ref, false
	}
	return l.ranks[idx+1], true
}

// Demote returns the next rank below ref, or (ref, false) when ref is the
// lowest rank or not on the ladder.
func (l *Ladder) Demote(ref subject.Ref) (subject.Ref, bool) {
	idx := l.IndexOf(ref)
	if idx <= 0 {
		return ref, false
	}
	return l.ranks[idx-1], true
}

// Model is the serializable form of a Ladder.
type Model struct {
	Name  string        `json:"name" yaml:"name"`
	Ranks []subject.Ref `json:"ranks" yaml:"ranks"`
}

// Model converts the ladder to its serializable form.
func (l *Ladder) Model() *Model {
	return &Model{Name: l.name, Ranks: append([]subject.Ref(nil), l.ranks...)}
}

// Ladder rebuilds a ladder from its serializable form.
func (m *Model) Ladder() *Ladder {
	return NewLadder(m.Name, m.Ranks...)
}
