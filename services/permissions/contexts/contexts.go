// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package contexts models the evaluation environment of a permission check.
//
// A context is a key/value fact about where a check happens (server=lobby,
// world=nether). Permission entries are scoped to sets of such facts, and a
// declared inheritance relation lets one context imply the entries granted
// under its ancestors.
//
// Every type in this package is an immutable value. Mutators return new
// values, which is what lets stores publish a whole inheritance graph with a
// single atomic pointer swap.
package contexts

import (
	"fmt"
	"sort"
	"strings"
)

// Value is a single context fact.
type Value struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// NewValue creates a context value.
func NewValue(key, value string) Value {
	return Value{Key: key, Value: value}
}

// String renders the value in the canonical key=value form.
func (v Value) String() string {
	return v.Key + "=" + v.Value
}

// ParseValue parses a key=value string into a Value.
//
// Returns an error if the input has no '=' separator or an empty key.
func ParseValue(s string) (Value, error) {
	key, val, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return Value{}, fmt.Errorf("invalid context %q: expected key=value", s)
	}
	return Value{Key: key, Value: val}, nil
}

// Set is an immutable, order-insensitive collection of context values.
//
// The zero value is the global (empty) context set. Sets with equal contents
// produce equal Key() strings, so a Set can index a map regardless of the
// order its values were supplied in.
type Set struct {
	values []Value
	key    string
}

// GlobalSet is the empty context set applied to unscoped entries.
var GlobalSet = Set{}

// NewSet builds a canonical Set from the given values.
//
// Duplicate values collapse to one. Two values with the same key but
// different values are both kept; a subject can be in several worlds' groups
// at once as far as this layer is concerned.
func NewSet(values ...Value) Set {
	if len(values) == 0 {
		return Set{}
	}
	seen := make(map[Value]struct{}, len(values))
	uniq := make([]Value, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		uniq = append(uniq, v)
	}
	sort.Slice(uniq, func(i, j int) bool {
		if uniq[i].Key != uniq[j].Key {
			return uniq[i].Key < uniq[j].Key
		}
		return uniq[i].Value < uniq[j].Value
	})
	parts := make([]string, len(uniq))
	for i, v := range uniq {
		parts[i] = v.String()
	}
	return Set{values: uniq, key: strings.Join(parts, ",")}
}

// Key returns the canonical string form of the set, usable as a map key.
// The global set's key is the empty string.
func (s Set) Key() string {
	return s.key
}

// Values returns the members of the set in canonical order.
// The returned slice must not be modified.
func (s Set) Values() []Value {
	return s.values
}

// Len returns the number of values in the set.
func (s Set) Len() int {
	return len(s.values)
}

// IsGlobal reports whether this is the empty context set.
func (s Set) IsGlobal() bool {
	return len(s.values) == 0
}

// Contains reports whether v is a member of the set.
func (s Set) Contains(v Value) bool {
	for _, have := range s.values {
		if have == v {
			return true
		}
	}
	return false
}

// Keys returns the distinct keys used by the set's values.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s.values))
	seen := make(map[string]struct{}, len(s.values))
	for _, v := range s.values {
		if _, ok := seen[v.Key]; ok {
			continue
		}
		seen[v.Key] = struct{}{}
		keys = append(keys, v.Key)
	}
	return keys
}
