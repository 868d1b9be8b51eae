// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datastore defines the pluggable backing-store contract for subject
// data, rank ladders and context inheritance, plus the factory registry that
// turns a configured backend type name into a live store.
//
// Backends differ wildly in technology (in-memory, embedded KV, relational)
// but share one contract: keyed immutable snapshots with insert-if-absent
// race convergence, case-normalized ladder names, and atomic whole-graph
// replacement of the context-inheritance relation. Absence is data: a miss
// resolves to an empty snapshot or an empty ladder, never an error.
package datastore

import (
	"context"
	"strings"

	"github.com/Str4nger14/PermissionsEx/services/permissions/contexts"
	"github.com/Str4nger14/PermissionsEx/services/permissions/rank"
	"github.com/Str4nger14/PermissionsEx/services/permissions/subject"
)

// Store is the backing-store contract.
//
// All methods are safe for concurrent use. Methods that may touch backend
// I/O take a context for cancellation; the in-memory reference backend
// completes immediately but honors the same signatures so callers are
// uniform across backends.
//
// Error contract: genuine backend failure (I/O error, corrupted snapshot)
// surfaces as a non-nil error on the specific call. "Not found" never does.
type Store interface {
	// Name returns the configured instance label of this store.
	Name() string
	// TypeName returns the backend type this store was created from.
	TypeName() string

	// Get returns the stored snapshot for the key, or a synthesized empty
	// snapshot on a miss. When tracking is enabled a synthesized snapshot is
	// inserted if-absent, and concurrent first reads of the same key all
	// receive the insertion race's winner. When tracking is disabled nothing
	// is persisted and every miss fabricates a fresh empty snapshot.
	Get(ctx context.Context, typeName, identifier string) (subject.Data, error)

	// Set replaces the snapshot for the key (last writer wins). With
	// tracking disabled it is a pass-through: data is returned unchanged and
	// nothing persists.
	Set(ctx context.Context, typeName, identifier string, data subject.Data) (subject.Data, error)

	// IsRegistered reports whether a snapshot is currently stored for the
	// key. It never synthesizes.
	IsRegistered(ctx context.Context, typeName, identifier string) (bool, error)

	// AllIdentifiers returns every identifier stored under typeName,
	// snapshot-consistent with a single scan.
	AllIdentifiers(ctx context.Context, typeName string) ([]string, error)

	// RegisteredTypes returns every distinct subject type with stored data.
	RegisteredTypes(ctx context.Context) ([]string, error)

	// DefinedContextKeys returns the union of context keys used by any
	// stored snapshot. Diagnostic, not correctness-critical.
	DefinedContextKeys(ctx context.Context) ([]string, error)

	// All iterates over every stored (ref, snapshot) pair. fn returning
	// false stops the iteration. The view is weakly consistent: concurrent
	// inserts may or may not be observed, and nothing can be mutated
	// through it.
	All(ctx context.Context, fn func(subject.Ref, subject.Data) bool) error

	// GetRankLadder returns the ladder stored under the lower-cased name, or
	// an empty ladder carrying the requested name on a miss.
	GetRankLadder(ctx context.Context, name string) (*rank.Ladder, error)
	// SetRankLadder unconditionally replaces the ladder stored under the
	// lower-cased name.
	SetRankLadder(ctx context.Context, name string, ladder *rank.Ladder) (*rank.Ladder, error)
	// HasRankLadder reports whether a ladder is stored under the name.
	HasRankLadder(ctx context.Context, name string) (bool, error)
	// AllRankLadderNames returns the names of every stored ladder.
	AllRankLadderNames(ctx context.Context) ([]string, error)

	// ContextInheritance returns the current inheritance graph. Readers
	// always observe a fully-constructed graph.
	ContextInheritance(ctx context.Context) (*contexts.Inheritance, error)
	// SetContextInheritance atomically replaces the whole graph.
	SetContextInheritance(ctx context.Context, inheritance *contexts.Inheritance) (*contexts.Inheritance, error)

	// BulkOperation runs fn synchronously on the calling goroutine with a
	// direct store reference, so several operations execute without an
	// intervening asynchronous hand-off. It provides no isolation from
	// concurrent mutation; callers needing cross-key atomicity coordinate
	// externally.
	BulkOperation(ctx context.Context, fn func(context.Context, Store) error) error

	// Initialize performs backend-specific startup and reports whether any
	// pre-existing data was found. Engines seed defaults when it reports
	// false.
	Initialize(ctx context.Context) (bool, error)

	// Close releases backend resources. In-flight operations either
	// complete or fail cleanly.
	Close() error
}

// NormalizeLadderName is the canonical ladder-name normalization applied by
// every backend on both read and write.
//
// The original contract lower-cased names on lookup only, leaving writes
// case-sensitive; backends here normalize both sides so a ladder written as
// "Staff" is the one read back as "staff".
func NormalizeLadderName(name string) string {
	return strings.ToLower(name)
}
