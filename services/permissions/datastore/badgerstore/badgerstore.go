// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badgerstore provides a persistent store backend on BadgerDB.
//
// BadgerDB gives embedded, low-latency keyed storage with serializable
// read-write transactions, which maps directly onto the store contract's
// insert-if-absent and atomic-replace requirements. Subject snapshots,
// ladders and the inheritance graph are JSON-encoded under prefixed keys:
//
//	subject/<type>/<identifier>
//	ladder/<name>
//	inheritance
//
// Subject type names must not contain '/'; identifiers may.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"

	"github.com/Str4nger14/PermissionsEx/services/permissions/contexts"
	"github.com/Str4nger14/PermissionsEx/services/permissions/datastore"
	"github.com/Str4nger14/PermissionsEx/services/permissions/rank"
	"github.com/Str4nger14/PermissionsEx/services/permissions/subject"
)

// TypeName is the backend type this store registers under.
const TypeName = "badger"

const (
	subjectPrefix  = "subject/"
	ladderPrefix   = "ladder/"
	inheritanceKey = "inheritance"
)

func init() {
	datastore.Register(TypeName, func(props datastore.Properties) (datastore.Store, error) {
		cfg := DefaultConfig()
		if err := props.DecodeOptions(&cfg); err != nil {
			return nil, err
		}
		return New(props.Name, cfg)
	})
}

// Config holds the backend options.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string `yaml:"path" validate:"required_without=InMemory"`

	// InMemory keeps all data in RAM with no disk persistence. Useful for
	// tests; Initialize then never finds starting data.
	InMemory bool `yaml:"in-memory"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `yaml:"sync-writes"`

	// Track controls whether the store persists newly-synthesized empty
	// snapshots and explicit writes.
	Track *bool `yaml:"track"`

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration `yaml:"gc-interval"`

	// GCDiscardRatio is the minimum ratio of discardable data before GC
	// rewrites a value log file.
	GCDiscardRatio float64 `yaml:"gc-discard-ratio" validate:"gte=0,lte=1"`

	// Logger receives badger's internal log output. Nil disables it.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns production defaults: synchronous writes, tracking
// enabled, five-minute GC interval.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

func (c Config) track() bool {
	return c.Track == nil || *c.Track
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store is the BadgerDB backend.
//
// Thread Safety: safe for concurrent use; badger transactions carry the
// consistency guarantees. Insert-if-absent races on Get resolve inside one
// read-write transaction, retried on commit conflict so the first committed
// writer wins and later readers decode its snapshot.
type Store struct {
	name   string
	config Config
	db     *badger.DB

	gcStop chan struct{}
	gcDone sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New opens a BadgerDB store with the given configuration.
func New(name string, cfg Config) (*Store, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid badger store config: %w", err)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{name: name, config: cfg, db: db, gcStop: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcDone.Add(1)
		go s.runGC()
	}
	return s, nil
}

func (s *Store) runGC() {
	defer s.gcDone.Done()
	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing worth collecting.
			err := s.db.RunValueLogGC(s.config.GCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.config.Logger != nil {
				s.config.Logger.Warn("badger value log GC failed", "store", s.name, "error", err)
			}
		}
	}
}

// Name returns the configured instance label.
func (s *Store) Name() string { return s.name }

// TypeName returns "badger".
func (s *Store) TypeName() string { return TypeName }

func subjectKey(typeName, identifier string) []byte {
	return []byte(subjectPrefix + typeName + "/" + identifier)
}

func ladderKey(name string) []byte {
	return []byte(ladderPrefix + datastore.NormalizeLadderName(name))
}

func decodeSubject(val []byte) (subject.Data, error) {
	var model subject.Model
	if err := json.Unmarshal(val, &model); err != nil {
		return nil, fmt.Errorf("corrupted subject snapshot: %w", err)
	}
	return model.Data(), nil
}

// update retries fn on commit conflict; badger aborts one of two
// transactions that write the same key concurrently.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

// Get returns the stored snapshot or a synthesized empty one. With tracking
// on, the synthesized snapshot is written if-absent inside one read-write
// transaction: the transaction re-reads before writing, so the insertion
// race converges on the first committed snapshot.
func (s *Store) Get(ctx context.Context, typeName, identifier string) (subject.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := subjectKey(typeName, identifier)

	var data subject.Data
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data, err = decodeSubject(val)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", typeName, identifier, err)
	}
	if data != nil {
		return data, nil
	}

	fresh := subject.NewData()
	if !s.config.track() {
		return fresh, nil
	}

	err = s.update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			// Lost the insertion race; return the committed snapshot.
			return item.Value(func(val []byte) error {
				data, err = decodeSubject(val)
				return err
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		encoded, err := json.Marshal(fresh.Model())
		if err != nil {
			return err
		}
		return txn.Set(key, encoded)
	})
	if err != nil {
		return nil, fmt.Errorf("register %s/%s: %w", typeName, identifier, err)
	}
	if data != nil {
		return data, nil
	}
	return fresh, nil
}

// Set replaces the snapshot for the key; a pass-through when tracking is
// disabled.
func (s *Store) Set(ctx context.Context, typeName, identifier string, data subject.Data) (subject.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.config.track() {
		return data, nil
	}
	encoded, err := json.Marshal(data.Model())
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", typeName, identifier, err)
	}
	err = s.update(func(txn *badger.Txn) error {
		return txn.Set(subjectKey(typeName, identifier), encoded)
	})
	if err != nil {
		return nil, fmt.Errorf("set %s/%s: %w", typeName, identifier, err)
	}
	return data, nil
}

// IsRegistered reports whether a snapshot is stored for the key.
func (s *Store) IsRegistered(ctx context.Context, typeName, identifier string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(subjectKey(typeName, identifier))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check %s/%s: %w", typeName, identifier, err)
	}
	return found, nil
}

// scanKeys iterates keys under prefix without loading values.
func (s *Store) scanKeys(prefix string, fn func(key string) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := fn(string(it.Item().Key())); err != nil {
				return err
			}
		}
		return nil
	})
}

// AllIdentifiers returns every identifier stored under typeName.
func (s *Store) AllIdentifiers(ctx context.Context, typeName string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := subjectPrefix + typeName + "/"
	var out []string
	err := s.scanKeys(prefix, func(key string) error {
		out = append(out, key[len(prefix):])
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan identifiers of %s: %w", typeName, err)
	}
	sort.Strings(out)
	return out, nil
}

// RegisteredTypes returns every distinct subject type with stored data.
func (s *Store) RegisteredTypes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	err := s.scanKeys(subjectPrefix, func(key string) error {
		rest := key[len(subjectPrefix):]
		typeName, _, ok := strings.Cut(rest, "/")
		if !ok {
			return fmt.Errorf("malformed subject key %q", key)
		}
		if _, dup := seen[typeName]; !dup {
			seen[typeName] = struct{}{}
			out = append(out, typeName)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan subject types: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// DefinedContextKeys returns the union of context keys used by stored data.
func (s *Store) DefinedContextKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	err := s.All(ctx, func(_ subject.Ref, data subject.Data) bool {
		for _, set := range data.ActiveContexts() {
			for _, key := range set.Keys() {
				seen[key] = struct{}{}
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

// All iterates over every stored subject inside one read transaction.
func (s *Store) All(ctx context.Context, fn func(subject.Ref, subject.Data) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(subjectPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key())
			rest := key[len(subjectPrefix):]
			typeName, identifier, ok := strings.Cut(rest, "/")
			if !ok {
				return fmt.Errorf("malformed subject key %q", key)
			}
			var data subject.Data
			err := item.Value(func(val []byte) error {
				var err error
				data, err = decodeSubject(val)
				return err
			})
			if err != nil {
				return err
			}
			if !fn(subject.NewRef(typeName, identifier), data) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan subjects: %w", err)
	}
	return nil
}

// GetRankLadder returns the ladder stored under the normalized name, or an
// empty ladder carrying the requested name on a miss.
func (s *Store) GetRankLadder(ctx context.Context, name string) (*rank.Ladder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ladder *rank.Ladder
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ladderKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var model rank.Model
			if err := json.Unmarshal(val, &model); err != nil {
				return fmt.Errorf("corrupted ladder: %w", err)
			}
			ladder = model.Ladder()
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get ladder %s: %w", name, err)
	}
	if ladder == nil {
		return rank.NewLadder(name), nil
	}
	return ladder, nil
}

// SetRankLadder replaces the ladder under the normalized name.
func (s *Store) SetRankLadder(ctx context.Context, name string, ladder *rank.Ladder) (*rank.Ladder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(ladder.Model())
	if err != nil {
		return nil, fmt.Errorf("encode ladder %s: %w", name, err)
	}
	err = s.update(func(txn *badger.Txn) error {
		return txn.Set(ladderKey(name), encoded)
	})
	if err != nil {
		return nil, fmt.Errorf("set ladder %s: %w", name, err)
	}
	return ladder, nil
}

// HasRankLadder reports whether a ladder is stored under the name.
func (s *Store) HasRankLadder(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(ladderKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check ladder %s: %w", name, err)
	}
	return found, nil
}

// AllRankLadderNames returns the normalized names of every stored ladder.
func (s *Store) AllRankLadderNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	err := s.scanKeys(ladderPrefix, func(key string) error {
		out = append(out, key[len(ladderPrefix):])
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan ladders: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// ContextInheritance returns the stored inheritance graph, empty when none
// has been written yet.
func (s *Store) ContextInheritance(ctx context.Context) (*contexts.Inheritance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var graph *contexts.Inheritance
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(inheritanceKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var model contexts.InheritanceModel
			if err := json.Unmarshal(val, &model); err != nil {
				return fmt.Errorf("corrupted inheritance graph: %w", err)
			}
			graph = model.Inheritance()
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get context inheritance: %w", err)
	}
	if graph == nil {
		return contexts.NewInheritance(), nil
	}
	return graph, nil
}

// SetContextInheritance replaces the whole graph in one transaction.
func (s *Store) SetContextInheritance(ctx context.Context, inheritance *contexts.Inheritance) (*contexts.Inheritance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if inheritance == nil {
		return nil, errors.New("inheritance graph must not be nil")
	}
	encoded, err := json.Marshal(inheritance.Model())
	if err != nil {
		return nil, fmt.Errorf("encode context inheritance: %w", err)
	}
	err = s.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(inheritanceKey), encoded)
	})
	if err != nil {
		return nil, fmt.Errorf("set context inheritance: %w", err)
	}
	return inheritance, nil
}

// BulkOperation runs fn on the calling goroutine with a direct reference to
// this store.
func (s *Store) BulkOperation(ctx context.Context, fn func(context.Context, datastore.Store) error) error {
	return fn(ctx, s)
}

// Initialize reports whether the database already holds any data.
func (s *Store) Initialize(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var hasData bool
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		hasData = it.Valid()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("inspect database: %w", err)
	}
	return hasData, nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.gcStop)
		s.gcDone.Wait()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
