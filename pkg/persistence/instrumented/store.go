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

// Package instrumented wraps a persistence.Store with prometheus metrics and
// sentry reporting of storage faults.
package instrumented

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/logger"
	"github.com/edgenode-hub/edgenode-core/pkg/metrics"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/sentry"
)

// Store decorates a persistence.Store. Transactions are instrumented as a
// whole and every operation issued through the tx view is observed as well.
type Store struct {
	inner persistence.Store
	log   *zap.SugaredLogger
}

var _ persistence.Store = (*Store)(nil)

// Wrap returns an instrumented view of inner.
func Wrap(inner persistence.Store) *Store {
	return &Store{inner: inner, log: logger.For(logger.ComponentStore)}
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() persistence.Store {
	return s.inner
}

func (s *Store) observe(op, collection string, start time.Time, err error) {
	metrics.ObserveStoreOp(op, collection, time.Since(start), err)

	if err != nil && errors.Is(err, persistence.ErrStorageFault) {
		metrics.IncErrorCount(metrics.ComponentStore)
		sentry.ReportStoreFault(s.log, op, collection, err)
	}
}

func (s *Store) CreateCollection(ctx context.Context, spec persistence.CollectionSpec) (err error) {
	start := time.Now()
	defer func() { s.observe("create_collection", spec.Name, start, err) }()

	return s.inner.CreateCollection(ctx, spec)
}

func (s *Store) CreateIndex(ctx context.Context, collection string, index persistence.IndexSpec) (err error) {
	start := time.Now()
	defer func() { s.observe("create_index", collection, start, err) }()

	return s.inner.CreateIndex(ctx, collection, index)
}

func (s *Store) Collections(ctx context.Context) (specs []persistence.CollectionSpec, err error) {
	start := time.Now()
	defer func() { s.observe("collections", "", start, err) }()

	return s.inner.Collections(ctx)
}

func (s *Store) SchemaVersion(ctx context.Context) (version int, err error) {
	start := time.Now()
	defer func() { s.observe("schema_version", "", start, err) }()

	return s.inner.SchemaVersion(ctx)
}

func (s *Store) SetSchemaVersion(ctx context.Context, version int) (err error) {
	start := time.Now()
	defer func() { s.observe("set_schema_version", "", start, err) }()

	return s.inner.SetSchemaVersion(ctx, version)
}

func (s *Store) Add(ctx context.Context, collection string, doc persistence.Document) (id int64, err error) {
	start := time.Now()
	defer func() { s.observe("add", collection, start, err) }()

	return s.inner.Add(ctx, collection, doc)
}

func (s *Store) AddWithID(ctx context.Context, collection string, id int64, doc persistence.Document) (err error) {
	start := time.Now()
	defer func() { s.observe("add_with_id", collection, start, err) }()

	return s.inner.AddWithID(ctx, collection, id, doc)
}

func (s *Store) Get(ctx context.Context, collection string, id int64) (doc persistence.Document, err error) {
	start := time.Now()
	defer func() { s.observe("get", collection, start, err) }()

	return s.inner.Get(ctx, collection, id)
}

func (s *Store) Update(ctx context.Context, collection string, id int64, doc persistence.Document) (err error) {
	start := time.Now()
	defer func() { s.observe("update", collection, start, err) }()

	return s.inner.Update(ctx, collection, id, doc)
}

func (s *Store) Delete(ctx context.Context, collection string, id int64) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", collection, start, err) }()

	return s.inner.Delete(ctx, collection, id)
}

func (s *Store) Put(ctx context.Context, collection string, key string, doc persistence.Document) (err error) {
	start := time.Now()
	defer func() { s.observe("put", collection, start, err) }()

	return s.inner.Put(ctx, collection, key, doc)
}

func (s *Store) GetByKey(ctx context.Context, collection string, key string) (doc persistence.Document, err error) {
	start := time.Now()
	defer func() { s.observe("get_by_key", collection, start, err) }()

	return s.inner.GetByKey(ctx, collection, key)
}

func (s *Store) DeleteByKey(ctx context.Context, collection string, key string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete_by_key", collection, start, err) }()

	return s.inner.DeleteByKey(ctx, collection, key)
}

func (s *Store) GetAll(ctx context.Context, collection string) (docs []persistence.Document, err error) {
	start := time.Now()
	defer func() { s.observe("get_all", collection, start, err) }()

	return s.inner.GetAll(ctx, collection)
}

func (s *Store) Count(ctx context.Context, collection string) (n int, err error) {
	start := time.Now()
	defer func() { s.observe("count", collection, start, err) }()

	return s.inner.Count(ctx, collection)
}

func (s *Store) IndexLookup(ctx context.Context, collection, index string, key persistence.Key) (docs []persistence.Document, err error) {
	start := time.Now()
	defer func() { s.observe("index_lookup", collection, start, err) }()

	return s.inner.IndexLookup(ctx, collection, index, key)
}

func (s *Store) OpenCursor(ctx context.Context, collection, index string, r persistence.KeyRange, dir persistence.Direction) (cur persistence.Cursor, err error) {
	start := time.Now()
	defer func() { s.observe("open_cursor", collection, start, err) }()

	inner, err := s.inner.OpenCursor(ctx, collection, index, r, dir)
	if err != nil {
		return nil, err
	}

	return &cursor{Cursor: inner, collection: collection}, nil
}

func (s *Store) DeleteRange(ctx context.Context, collection, index string, r persistence.KeyRange) (n int, err error) {
	start := time.Now()
	defer func() { s.observe("delete_range", collection, start, err) }()

	return s.inner.DeleteRange(ctx, collection, index, r)
}

func (s *Store) Clear(ctx context.Context, collection string) (err error) {
	start := time.Now()
	defer func() { s.observe("clear", collection, start, err) }()

	return s.inner.Clear(ctx, collection)
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx persistence.Store) error) (err error) {
	start := time.Now()
	defer func() { s.observe("tx", "", start, err) }()

	return s.inner.RunInTx(ctx, func(tx persistence.Store) error {
		return fn(&Store{inner: tx, log: s.log})
	})
}

func (s *Store) Close(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { s.observe("close", "", start, err) }()

	return s.inner.Close(ctx)
}

// cursor counts visited records.
type cursor struct {
	persistence.Cursor
	collection string
}

func (c *cursor) Next(ctx context.Context) bool {
	if !c.Cursor.Next(ctx) {
		return false
	}

	metrics.IncCursorStep(c.collection)

	return true
}
