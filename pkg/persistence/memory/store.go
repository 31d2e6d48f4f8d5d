// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memory provides an in-memory persistence.Store.
//
// Records live in maps keyed by primary key; every index (including the
// primary key order) is a B-tree of (key, primary key) entries. Reads and
// writes copy documents, so callers never share memory with the store.
//
// Transactions hold the write lock for their whole duration and restore a
// snapshot of the previous state when the transaction function fails.
// Snapshots are cheap: B-trees are cloned copy-on-write and stored documents
// are immutable.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

// Store is an in-memory persistence.Store. The zero value is not usable; use
// NewStore.
type Store struct {
	st     *state
	mu     sync.RWMutex
	closed bool
}

var _ persistence.Store = (*Store)(nil)

// NewStore creates an empty store at schema version 0.
func NewStore() *Store {
	return &Store{st: newState()}
}

// validateContext checks that the context is usable before touching state.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}

	return ctx.Err()
}

func (s *Store) read(ctx context.Context, fn func(ops) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	return fn(ops{s: s})
}

func (s *Store) write(ctx context.Context, fn func(ops) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}

	return fn(ops{s: s})
}

func (s *Store) CreateCollection(ctx context.Context, spec persistence.CollectionSpec) error {
	return s.write(ctx, func(o ops) error { return o.createCollection(spec) })
}

func (s *Store) CreateIndex(ctx context.Context, collection string, idx persistence.IndexSpec) error {
	return s.write(ctx, func(o ops) error { return o.createIndex(collection, idx) })
}

func (s *Store) Collections(ctx context.Context) ([]persistence.CollectionSpec, error) {
	var out []persistence.CollectionSpec

	err := s.read(ctx, func(o ops) error {
		out = o.s.st.specs()

		return nil
	})

	return out, err
}

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int

	err := s.read(ctx, func(o ops) error {
		v = o.s.st.version

		return nil
	})

	return v, err
}

func (s *Store) SetSchemaVersion(ctx context.Context, version int) error {
	return s.write(ctx, func(o ops) error {
		o.s.st.version = version

		return nil
	})
}

func (s *Store) Add(ctx context.Context, collection string, doc persistence.Document) (int64, error) {
	var id int64

	err := s.write(ctx, func(o ops) error {
		var err error
		id, err = o.add(collection, doc)

		return err
	})

	return id, err
}

func (s *Store) AddWithID(ctx context.Context, collection string, id int64, doc persistence.Document) error {
	return s.write(ctx, func(o ops) error { return o.addWithID(collection, id, doc) })
}

func (s *Store) Get(ctx context.Context, collection string, id int64) (persistence.Document, error) {
	var doc persistence.Document

	err := s.read(ctx, func(o ops) error {
		var err error
		doc, err = o.get(collection, id)

		return err
	})

	return doc, err
}

func (s *Store) Update(ctx context.Context, collection string, id int64, doc persistence.Document) error {
	return s.write(ctx, func(o ops) error { return o.update(collection, id, doc) })
}

func (s *Store) Delete(ctx context.Context, collection string, id int64) error {
	return s.write(ctx, func(o ops) error { return o.remove(collection, id) })
}

func (s *Store) Put(ctx context.Context, collection string, key string, doc persistence.Document) error {
	return s.write(ctx, func(o ops) error { return o.put(collection, key, doc) })
}

func (s *Store) GetByKey(ctx context.Context, collection string, key string) (persistence.Document, error) {
	var doc persistence.Document

	err := s.read(ctx, func(o ops) error {
		var err error
		doc, err = o.getByKey(collection, key)

		return err
	})

	return doc, err
}

func (s *Store) DeleteByKey(ctx context.Context, collection string, key string) error {
	return s.write(ctx, func(o ops) error { return o.removeByKey(collection, key) })
}

func (s *Store) GetAll(ctx context.Context, collection string) ([]persistence.Document, error) {
	var docs []persistence.Document

	err := s.read(ctx, func(o ops) error {
		var err error
		docs, err = o.getAll(collection)

		return err
	})

	return docs, err
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int

	err := s.read(ctx, func(o ops) error {
		var err error
		n, err = o.count(collection)

		return err
	})

	return n, err
}

func (s *Store) IndexLookup(ctx context.Context, collection, index string, key persistence.Key) ([]persistence.Document, error) {
	var docs []persistence.Document

	err := s.read(ctx, func(o ops) error {
		var err error
		docs, err = o.indexLookup(collection, index, key)

		return err
	})

	return docs, err
}

func (s *Store) OpenCursor(ctx context.Context, collection, index string, r persistence.KeyRange, dir persistence.Direction) (persistence.Cursor, error) {
	var cur persistence.Cursor

	err := s.read(ctx, func(o ops) error {
		var err error
		cur, err = o.openCursor(collection, index, r, dir, true)

		return err
	})

	return cur, err
}

func (s *Store) DeleteRange(ctx context.Context, collection, index string, r persistence.KeyRange) (int, error) {
	var n int

	err := s.write(ctx, func(o ops) error {
		var err error
		n, err = o.deleteRange(collection, index, r)

		return err
	})

	return n, err
}

func (s *Store) Clear(ctx context.Context, collection string) error {
	return s.write(ctx, func(o ops) error { return o.clear(collection) })
}

// RunInTx holds the write lock while fn runs. If fn fails or panics the
// previous state is restored.
func (s *Store) RunInTx(ctx context.Context, fn func(tx persistence.Store) error) (err error) {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}

	snapshot := s.st.snapshot()

	defer func() {
		if r := recover(); r != nil {
			s.st = snapshot

			panic(r)
		}

		if err != nil {
			s.st = snapshot
		}
	}()

	return fn(&txStore{s: s})
}

func (s *Store) Close(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fmt.Sprintf("memory.Store{collections: %d, version: %d}", len(s.st.collections), s.st.version)
}
