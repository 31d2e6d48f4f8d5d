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

// Package sqlite provides a persistence.Store backed by a single SQLite file.
//
// Storage layout:
//   - one table per collection (coll_<name>) with an id column and the
//     record as JSON text in data
//   - one expression index per declared index on json_extract(data, '$.field')
//   - the catalog table _collections holding every CollectionSpec as JSON
//   - PRAGMA user_version holding the schema version
//
// The database runs in WAL mode with a single connection. SQLite serializes
// writers anyway, and a single connection keeps transactions and
// non-transactional calls from interleaving.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
)

// Options tunes the store.
type Options struct {
	// CursorBatchSize is the number of rows a cursor fetches per page.
	CursorBatchSize int
	// AllowNetworkFS permits databases on NFS/CIFS mounts, where WAL locking
	// is unreliable.
	AllowNetworkFS bool
}

// Store is a SQLite persistence.Store.
type Store struct {
	db     *sql.DB
	cat    *catalog
	opts   Options
	mu     sync.RWMutex
	closed atomic.Bool
}

var _ persistence.Store = (*Store)(nil)

// Open opens or creates the database at dbPath and loads its catalog.
func Open(ctx context.Context, dbPath string, opts Options) (*Store, error) {
	if !opts.AllowNetworkFS {
		isNetwork, fsType, err := IsNetworkFilesystem(filepath.Dir(dbPath))
		if err != nil {
			return nil, persistence.Fault("open", "", err)
		}

		if isNetwork {
			return nil, fmt.Errorf("%w: %s is on a network filesystem (%s), SQLite WAL mode needs local storage", persistence.ErrValidation, dbPath, fsType)
		}
	}

	db, err := sql.Open("sqlite3", buildConnectionString(dbPath))
	if err != nil {
		return nil, persistence.Fault("open", "", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, persistence.Fault("open", "", fmt.Errorf("failed to ping database: %w", err))
	}

	s := &Store{db: db, opts: opts}

	cat, err := loadCatalog(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	s.cat = cat

	return s, nil
}

func buildConnectionString(dbPath string) string {
	baseParams := "?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_cache_size=-64000"

	if runtime.GOOS == "darwin" {
		baseParams += "&_fullfsync=1"
	}

	return "file:" + dbPath + baseParams
}

func loadCatalog(ctx context.Context, db *sql.DB) (*catalog, error) {
	_, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+quote(catalogTable)+" (name TEXT PRIMARY KEY, spec TEXT NOT NULL)")
	if err != nil {
		return nil, classify("open", catalogTable, err)
	}

	rows, err := db.QueryContext(ctx, "SELECT spec FROM "+quote(catalogTable))
	if err != nil {
		return nil, classify("open", catalogTable, err)
	}
	defer func() { _ = rows.Close() }()

	cat := &catalog{specs: make(map[string]persistence.CollectionSpec)}

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, classify("open", catalogTable, err)
		}

		var spec persistence.CollectionSpec
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			return nil, persistence.Fault("open", catalogTable, err)
		}

		cat.specs[spec.Name] = spec
	}

	if err := rows.Err(); err != nil {
		return nil, classify("open", catalogTable, err)
	}

	return cat, nil
}

// conn returns a connection view over the current catalog.
func (s *Store) conn() (*conn, error) {
	if s.closed.Load() {
		return nil, persistence.ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return &conn{db: s.db, cat: s.cat, batch: s.opts.CursorBatchSize}, nil
}

func (s *Store) CreateCollection(ctx context.Context, spec persistence.CollectionSpec) error {
	return s.RunInTx(ctx, func(tx persistence.Store) error { return tx.CreateCollection(ctx, spec) })
}

func (s *Store) CreateIndex(ctx context.Context, collection string, idx persistence.IndexSpec) error {
	return s.RunInTx(ctx, func(tx persistence.Store) error { return tx.CreateIndex(ctx, collection, idx) })
}

func (s *Store) Collections(ctx context.Context) ([]persistence.CollectionSpec, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	return c.Collections(ctx)
}

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	c, err := s.conn()
	if err != nil {
		return 0, err
	}

	return c.SchemaVersion(ctx)
}

func (s *Store) SetSchemaVersion(ctx context.Context, version int) error {
	c, err := s.conn()
	if err != nil {
		return err
	}

	return c.SetSchemaVersion(ctx, version)
}

func (s *Store) Add(ctx context.Context, collection string, doc persistence.Document) (int64, error) {
	c, err := s.conn()
	if err != nil {
		return 0, err
	}

	return c.Add(ctx, collection, doc)
}

func (s *Store) AddWithID(ctx context.Context, collection string, id int64, doc persistence.Document) error {
	c, err := s.conn()
	if err != nil {
		return err
	}

	return c.AddWithID(ctx, collection, id, doc)
}

func (s *Store) Get(ctx context.Context, collection string, id int64) (persistence.Document, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	return c.Get(ctx, collection, id)
}

func (s *Store) Update(ctx context.Context, collection string, id int64, doc persistence.Document) error {
	c, err := s.conn()
	if err != nil {
		return err
	}

	return c.Update(ctx, collection, id, doc)
}

func (s *Store) Delete(ctx context.Context, collection string, id int64) error {
	c, err := s.conn()
	if err != nil {
		return err
	}

	return c.Delete(ctx, collection, id)
}

func (s *Store) Put(ctx context.Context, collection string, key string, doc persistence.Document) error {
	c, err := s.conn()
	if err != nil {
		return err
	}

	return c.Put(ctx, collection, key, doc)
}

func (s *Store) GetByKey(ctx context.Context, collection string, key string) (persistence.Document, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	return c.GetByKey(ctx, collection, key)
}

func (s *Store) DeleteByKey(ctx context.Context, collection string, key string) error {
	c, err := s.conn()
	if err != nil {
		return err
	}

	return c.DeleteByKey(ctx, collection, key)
}

func (s *Store) GetAll(ctx context.Context, collection string) ([]persistence.Document, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	return c.GetAll(ctx, collection)
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	c, err := s.conn()
	if err != nil {
		return 0, err
	}

	return c.Count(ctx, collection)
}

func (s *Store) IndexLookup(ctx context.Context, collection, index string, key persistence.Key) ([]persistence.Document, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	return c.IndexLookup(ctx, collection, index, key)
}

func (s *Store) OpenCursor(ctx context.Context, collection, index string, r persistence.KeyRange, dir persistence.Direction) (persistence.Cursor, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	return c.OpenCursor(ctx, collection, index, r, dir)
}

func (s *Store) DeleteRange(ctx context.Context, collection, index string, r persistence.KeyRange) (int, error) {
	c, err := s.conn()
	if err != nil {
		return 0, err
	}

	return c.DeleteRange(ctx, collection, index, r)
}

func (s *Store) Clear(ctx context.Context, collection string) error {
	c, err := s.conn()
	if err != nil {
		return err
	}

	return c.Clear(ctx, collection)
}

// RunInTx runs fn inside a SQL transaction. fn must only use tx: the store
// has a single connection, so calling s from inside fn blocks until the
// transaction ends.
func (s *Store) RunInTx(ctx context.Context, fn func(tx persistence.Store) error) (err error) {
	if s.closed.Load() {
		return persistence.ErrClosed
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("beginTx", "", fmt.Errorf("failed to begin transaction: %w", err))
	}

	s.mu.RLock()
	cat := s.cat.clone()
	s.mu.RUnlock()

	tx := &txStore{conn: &conn{db: sqlTx, cat: cat, batch: s.opts.CursorBatchSize}}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()

			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}

		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify("commit", "", fmt.Errorf("failed to commit transaction: %w", err))
	}

	s.mu.Lock()
	s.cat = cat
	s.mu.Unlock()

	return nil
}

func (s *Store) Close(context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return persistence.Fault("close", "", fmt.Errorf("failed to close database: %w", err))
	}

	return nil
}

// txStore is the view handed to RunInTx callbacks.
type txStore struct {
	*conn
}

func (t *txStore) RunInTx(ctx context.Context, fn func(tx persistence.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fn(t)
}

func (t *txStore) Close(context.Context) error {
	return fmt.Errorf("%w: cannot close a store from inside a transaction", persistence.ErrValidation)
}
