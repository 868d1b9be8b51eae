// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contexts

// Inheritance is a directed context-implication graph: each context value may
// declare an ordered list of ancestor contexts whose grants it inherits.
//
// Inheritance is an immutable whole. Stores replace the graph with a single
// atomic swap, so readers always observe a fully-constructed graph and never a
// partially written one. WithParents returns a new graph and leaves the
// receiver untouched.
type Inheritance struct {
	parents map[Value][]Value
}

// NewInheritance creates an empty inheritance graph.
func NewInheritance() *Inheritance {
	return &Inheritance{parents: map[Value][]Value{}}
}

// Parents returns the declared ancestors of ctx in declaration order.
// A context with no declaration resolves to nil; absence is data, not error.
func (i *Inheritance) Parents(ctx Value) []Value {
	return i.parents[ctx]
}

// WithParents returns a copy of the graph where ctx inherits from exactly the
// given ancestors. An empty parents list removes the declaration.
func (i *Inheritance) WithParents(ctx Value, parents ...Value) *Inheritance {
	next := make(map[Value][]Value, len(i.parents)+1)
	for k, v := range i.parents {
		next[k] = v
	}
	if len(parents) == 0 {
		delete(next, ctx)
	} else {
		next[ctx] = append([]Value(nil), parents...)
	}
	return &Inheritance{parents: next}
}

// Declared returns every context that has an ancestor declaration.
func (i *Inheritance) Declared() []Value {
	out := make([]Value, 0, len(i.parents))
	for k := range i.parents {
		out = append(out, k)
	}
	return out
}

// Len returns the number of declarations in the graph.
func (i *Inheritance) Len() int {
	return len(i.parents)
}

// InheritanceModel is the serializable form of an Inheritance graph, used by
// persistent store backends and the CLI.
type InheritanceModel struct {
	Entries []InheritanceEntry `json:"entries" yaml:"entries"`
}

// InheritanceEntry declares the ancestors of one context.
type InheritanceEntry struct {
	Context Value   `json:"context" yaml:"context"`
	Parents []Value `json:"parents" yaml:"parents"`
}

// Model converts the graph to its serializable form.
func (i *Inheritance) Model() *InheritanceModel {
	m := &InheritanceModel{}
	for ctx, parents := range i.parents {
		m.Entries = append(m.Entries, InheritanceEntry{Context: ctx, Parents: append([]Value(nil), parents...)})
	}
	return m
}

// Inheritance rebuilds a graph from its serializable form.
func (m *InheritanceModel) Inheritance() *Inheritance {
	g := NewInheritance()
	for _, e := range m.Entries {
		g = g.WithParents(e.Context, e.Parents...)
	}
	return g
}
