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

// Model is the serializable form of a Data snapshot. Persistent store
// backends encode it (JSON) and the CLI renders it (YAML); conversion in both
// directions is lossless.
type Model struct {
	Segments []SegmentModel `json:"segments" yaml:"segments"`
}

// SegmentModel carries one context set's entries.
type SegmentModel struct {
	Contexts    []contexts.Value  `json:"contexts,omitempty" yaml:"contexts,omitempty"`
	Permissions map[string]int    `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Options     map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
	Parents     []Ref             `json:"parents,omitempty" yaml:"parents,omitempty"`
	Fallback    int               `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

func (d *immutableData) Model() *Model {
	m := &Model{}
	for _, seg := range d.segments {
		sm := SegmentModel{
			Contexts: append([]contexts.Value(nil), seg.contexts.Values()...),
			Fallback: seg.fallback,
			Parents:  append([]Ref(nil), seg.parents...),
		}
		if len(seg.permissions) > 0 {
			sm.Permissions = make(map[string]int, len(seg.permissions))
			for k, v := range seg.permissions {
				sm.Permissions[k] = v
			}
		}
		if len(seg.options) > 0 {
			sm.Options = make(map[string]string, len(seg.options))
			for k, v := range seg.options {
				sm.Options[k] = v
			}
		}
		m.Segments = append(m.Segments, sm)
	}
	return m
}

// Data rebuilds an immutable snapshot from its serializable form.
func (m *Model) Data() Data {
	segments := make(map[string]segment, len(m.Segments))
	for _, sm := range m.Segments {
		set := contexts.NewSet(sm.Contexts...)
		seg := segment{
			contexts:    set,
			permissions: make(map[string]int, len(sm.Permissions)),
			options:     make(map[string]string, len(sm.Options)),
			parents:     append([]Ref(nil), sm.Parents...),
			fallback:    sm.Fallback,
		}
		for k, v := range sm.Permissions {
			seg.permissions[k] = v
		}
		for k, v := range sm.Options {
			seg.options[k] = v
		}
		if !seg.isEmpty() {
			segments[set.Key()] = seg
		}
	}
	return &immutableData{segments: segments}
}
