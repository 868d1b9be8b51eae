// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package subject defines the addressable principals of the permission
// system and the immutable snapshots of their stored state.
//
// A subject is anything that can hold permissions: a player, a group, a
// system actor. Subjects are addressed by a (type, identifier) pair; the
// snapshot of a subject's stored permissions, options and parents is an
// immutable value that stores replace atomically on every write.
package subject

// Ref addresses one subject. Equality is structural, which makes Ref usable
// directly as a map key.
type Ref struct {
	Type       string `json:"type" yaml:"type"`
	Identifier string `json:"identifier" yaml:"identifier"`
}

// NewRef creates a subject reference.
func NewRef(typeName, identifier string) Ref {
	return Ref{Type: typeName, Identifier: identifier}
}

// String renders the reference as type:identifier.
func (r Ref) String() string {
	return r.Type + ":" + r.Identifier
}

// Tristate is the resolved value of a single permission check.
//
// The persistence layer and external resolution consumers exchange signed
// integers (positive allow, negative deny, zero undefined); Tristate keeps
// that convention out of core logic.
type Tristate int

const (
	// Undefined means no entry applied to the check.
	Undefined Tristate = iota
	// Allow grants the permission.
	Allow
	// Deny refuses the permission.
	Deny
)

// FromInt converts a signed permission value to a Tristate.
func FromInt(value int) Tristate {
	switch {
	case value > 0:
		return Allow
	case value < 0:
		return Deny
	default:
		return Undefined
	}
}

// Defined reports whether the value is Allow or Deny.
func (t Tristate) Defined() bool {
	return t != Undefined
}

// Bool maps Allow to true and Deny to false. Calling Bool on Undefined
// returns false; callers filter on Defined first.
func (t Tristate) Bool() bool {
	return t == Allow
}

// String returns the lower-case name of the value.
func (t Tristate) String() string {
	switch t {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "undefined"
	}
}
