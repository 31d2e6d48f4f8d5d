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

package memory

import (
	"context"
	"fmt"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

// txStore is the view handed to RunInTx callbacks. The enclosing RunInTx
// already holds the write lock, so every operation runs unlocked.
type txStore struct {
	s *Store
}

var _ persistence.Store = (*txStore)(nil)

func (t *txStore) do(ctx context.Context, fn func(ops) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return fn(ops{s: t.s})
}

func (t *txStore) CreateCollection(ctx context.Context, spec persistence.CollectionSpec) error {
	return t.do(ctx, func(o ops) error { return o.createCollection(spec) })
}

func (t *txStore) CreateIndex(ctx context.Context, collection string, idx persistence.IndexSpec) error {
	return t.do(ctx, func(o ops) error { return o.createIndex(collection, idx) })
}

func (t *txStore) Collections(ctx context.Context) ([]persistence.CollectionSpec, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return t.s.st.specs(), nil
}

func (t *txStore) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	return t.s.st.version, nil
}

func (t *txStore) SetSchemaVersion(ctx context.Context, version int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	t.s.st.version = version

	return nil
}

func (t *txStore) Add(ctx context.Context, collection string, doc persistence.Document) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	return ops{s: t.s}.add(collection, doc)
}

func (t *txStore) AddWithID(ctx context.Context, collection string, id int64, doc persistence.Document) error {
	return t.do(ctx, func(o ops) error { return o.addWithID(collection, id, doc) })
}

func (t *txStore) Get(ctx context.Context, collection string, id int64) (persistence.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return ops{s: t.s}.get(collection, id)
}

func (t *txStore) Update(ctx context.Context, collection string, id int64, doc persistence.Document) error {
	return t.do(ctx, func(o ops) error { return o.update(collection, id, doc) })
}

func (t *txStore) Delete(ctx context.Context, collection string, id int64) error {
	return t.do(ctx, func(o ops) error { return o.remove(collection, id) })
}

func (t *txStore) Put(ctx context.Context, collection string, key string, doc persistence.Document) error {
	return t.do(ctx, func(o ops) error { return o.put(collection, key, doc) })
}

func (t *txStore) GetByKey(ctx context.Context, collection string, key string) (persistence.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return ops{s: t.s}.getByKey(collection, key)
}

func (t *txStore) DeleteByKey(ctx context.Context, collection string, key string) error {
	return t.do(ctx, func(o ops) error { return o.removeByKey(collection, key) })
}

func (t *txStore) GetAll(ctx context.Context, collection string) ([]persistence.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return ops{s: t.s}.getAll(collection)
}

func (t *txStore) Count(ctx context.Context, collection string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	return ops{s: t.s}.count(collection)
}

func (t *txStore) IndexLookup(ctx context.Context, collection, index string, key persistence.Key) ([]persistence.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return ops{s: t.s}.indexLookup(collection, index, key)
}

func (t *txStore) OpenCursor(ctx context.Context, collection, index string, r persistence.KeyRange, dir persistence.Direction) (persistence.Cursor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return ops{s: t.s}.openCursor(collection, index, r, dir, false)
}

func (t *txStore) DeleteRange(ctx context.Context, collection, index string, r persistence.KeyRange) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	return ops{s: t.s}.deleteRange(collection, index, r)
}

func (t *txStore) Clear(ctx context.Context, collection string) error {
	return t.do(ctx, func(o ops) error { return o.clear(collection) })
}

// RunInTx on a transaction view joins the enclosing transaction.
func (t *txStore) RunInTx(ctx context.Context, fn func(tx persistence.Store) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return fn(t)
}

func (t *txStore) Close(context.Context) error {
	return fmt.Errorf("%w: cannot close a store from inside a transaction", persistence.ErrValidation)
}

// cursor re-seeks the index on every step from the last visited entry, so it
// holds no lock between steps and tolerates concurrent writes.
type cursor struct {
	s          *Store
	err        error
	last       *entry
	doc        persistence.Document
	collection string
	index      string
	r          persistence.KeyRange
	dir        persistence.Direction
	locked     bool
	done       bool
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.done || c.err != nil {
		return false
	}

	if err := validateContext(ctx); err != nil {
		c.err = err

		return false
	}

	if c.locked {
		c.s.mu.RLock()
		defer c.s.mu.RUnlock()

		if c.s.closed {
			c.err = persistence.ErrClosed

			return false
		}
	}

	col, err := c.s.st.collection(c.collection)
	if err != nil {
		c.err = err

		return false
	}

	tree, _, err := col.tree(c.index)
	if err != nil {
		c.err = err

		return false
	}

	var (
		found entry
		ok    bool
	)

	seekRange(tree, c.r, c.dir, c.last, func(e entry) bool {
		found, ok = e, true

		return false
	})

	if !ok {
		c.done = true
		c.doc = nil

		return false
	}

	doc, err := private("cursor", c.collection, col.records[found.pk])
	if err != nil {
		c.err = err

		return false
	}

	c.last = &found
	c.doc = doc

	return true
}

func (c *cursor) ID() int64 {
	if c.last == nil {
		return 0
	}

	id, _ := c.last.pk.(int64)

	return id
}

func (c *cursor) PrimaryKey() interface{} {
	if c.last == nil {
		return nil
	}

	return c.last.pk
}

func (c *cursor) Key() persistence.Key {
	if c.last == nil {
		return nil
	}

	return c.last.key
}

func (c *cursor) Document() persistence.Document {
	return c.doc
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close() error {
	c.done = true
	c.doc = nil

	return nil
}
