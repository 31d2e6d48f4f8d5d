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

package persistence

import (
	"context"

	"github.com/goccy/go-json"
)

// Encode converts a JSON-serializable value into a Document.
func Encode(v interface{}) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, Fault("encode", "", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, Fault("encode", "", err)
	}

	return doc, nil
}

// Decode converts a Document into T.
func Decode[T any](doc Document) (T, error) {
	var out T

	raw, err := json.Marshal(doc)
	if err != nil {
		return out, Fault("decode", "", err)
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, Fault("decode", "", err)
	}

	return out, nil
}

// Collection is a typed view of one collection of a Store. T must round-trip
// through JSON; records are encoded with Encode and decoded with Decode.
type Collection[T any] struct {
	store Store
	name  string
}

// NewCollection binds a typed view to the named collection.
func NewCollection[T any](store Store, name string) *Collection[T] {
	return &Collection[T]{store: store, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

func (c *Collection[T]) Add(ctx context.Context, rec T) (int64, error) {
	doc, err := Encode(rec)
	if err != nil {
		return 0, err
	}

	return c.store.Add(ctx, c.name, doc)
}

func (c *Collection[T]) AddWithID(ctx context.Context, id int64, rec T) error {
	doc, err := Encode(rec)
	if err != nil {
		return err
	}

	return c.store.AddWithID(ctx, c.name, id, doc)
}

func (c *Collection[T]) Get(ctx context.Context, id int64) (T, error) {
	doc, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		var zero T

		return zero, err
	}

	return Decode[T](doc)
}

func (c *Collection[T]) Update(ctx context.Context, id int64, rec T) error {
	doc, err := Encode(rec)
	if err != nil {
		return err
	}

	return c.store.Update(ctx, c.name, id, doc)
}

func (c *Collection[T]) Delete(ctx context.Context, id int64) error {
	return c.store.Delete(ctx, c.name, id)
}

func (c *Collection[T]) Put(ctx context.Context, key string, rec T) error {
	doc, err := Encode(rec)
	if err != nil {
		return err
	}

	return c.store.Put(ctx, c.name, key, doc)
}

func (c *Collection[T]) GetByKey(ctx context.Context, key string) (T, error) {
	doc, err := c.store.GetByKey(ctx, c.name, key)
	if err != nil {
		var zero T

		return zero, err
	}

	return Decode[T](doc)
}

func (c *Collection[T]) DeleteByKey(ctx context.Context, key string) error {
	return c.store.DeleteByKey(ctx, c.name, key)
}

func (c *Collection[T]) GetAll(ctx context.Context) ([]T, error) {
	docs, err := c.store.GetAll(ctx, c.name)
	if err != nil {
		return nil, err
	}

	return decodeAll[T](docs)
}

func (c *Collection[T]) Count(ctx context.Context) (int, error) {
	return c.store.Count(ctx, c.name)
}

// IndexLookup returns the records whose index key equals parts exactly.
func (c *Collection[T]) IndexLookup(ctx context.Context, index string, parts ...interface{}) ([]T, error) {
	key, err := NewKey(parts...)
	if err != nil {
		return nil, err
	}

	docs, err := c.store.IndexLookup(ctx, c.name, index, key)
	if err != nil {
		return nil, err
	}

	return decodeAll[T](docs)
}

func (c *Collection[T]) DeleteRange(ctx context.Context, index string, r KeyRange) (int, error) {
	return c.store.DeleteRange(ctx, c.name, index, r)
}

func (c *Collection[T]) Clear(ctx context.Context) error {
	return c.store.Clear(ctx, c.name)
}

// Cursor opens a decoding cursor over index.
func (c *Collection[T]) Cursor(ctx context.Context, index string, r KeyRange, dir Direction) (*TypedCursor[T], error) {
	cur, err := c.store.OpenCursor(ctx, c.name, index, r, dir)
	if err != nil {
		return nil, err
	}

	return &TypedCursor[T]{Cursor: cur}, nil
}

// TypedCursor decodes each record of the underlying cursor into T.
type TypedCursor[T any] struct {
	Cursor

	err   error
	value T
}

func (tc *TypedCursor[T]) Next(ctx context.Context) bool {
	if tc.err != nil || !tc.Cursor.Next(ctx) {
		return false
	}

	v, err := Decode[T](tc.Cursor.Document())
	if err != nil {
		tc.err = err

		return false
	}

	tc.value = v

	return true
}

// Value returns the decoded current record.
func (tc *TypedCursor[T]) Value() T {
	return tc.value
}

func (tc *TypedCursor[T]) Err() error {
	if tc.err != nil {
		return tc.err
	}

	return tc.Cursor.Err()
}

func decodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))

	for _, doc := range docs {
		v, err := Decode[T](doc)
		if err != nil {
			return nil, err
		}

		out = append(out, v)
	}

	return out, nil
}
