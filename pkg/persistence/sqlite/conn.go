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

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/goccy/go-json"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// catalog caches the collection declarations stored in the catalog table.
// A transaction works on a private copy that replaces the store's catalog
// on commit.
type catalog struct {
	specs map[string]persistence.CollectionSpec
}

func (c *catalog) clone() *catalog {
	out := &catalog{specs: maps.Clone(c.specs)}
	for name, spec := range out.specs {
		spec.Indexes = append([]persistence.IndexSpec(nil), spec.Indexes...)
		out.specs[name] = spec
	}

	return out
}

// conn implements the store operations over an execer.
type conn struct {
	db    execer
	cat   *catalog
	batch int
}

func (c *conn) spec(name string) (persistence.CollectionSpec, error) {
	spec, ok := c.cat.specs[name]
	if !ok {
		return persistence.CollectionSpec{}, fmt.Errorf("%w: %s", persistence.ErrUnknownCollection, name)
	}

	return spec, nil
}

func (c *conn) autoIncrement(name string) (persistence.CollectionSpec, error) {
	spec, err := c.spec(name)
	if err != nil {
		return spec, err
	}

	if !spec.AutoIncrement() {
		return spec, fmt.Errorf("%w: %s is keyed by %q, use the keyed operations", persistence.ErrValidation, name, spec.KeyField)
	}

	return spec, nil
}

func (c *conn) keyed(name string) (persistence.CollectionSpec, error) {
	spec, err := c.spec(name)
	if err != nil {
		return spec, err
	}

	if spec.AutoIncrement() {
		return spec, fmt.Errorf("%w: %s uses auto-increment identities", persistence.ErrValidation, name)
	}

	return spec, nil
}

// classify maps driver errors onto persistence kinds.
func classify(op, collection string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &persistence.OpError{Op: op, Collection: collection, Kind: persistence.ErrConflict, Err: err}
	}

	return persistence.Fault(op, collection, err)
}

func encodeDoc(op, collection string, doc persistence.Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("%w: nil document", persistence.ErrValidation)
	}

	stripped := make(persistence.Document, len(doc))
	for k, v := range doc {
		if k != persistence.IDField {
			stripped[k] = v
		}
	}

	raw, err := json.Marshal(stripped)
	if err != nil {
		return "", persistence.Fault(op, collection, err)
	}

	return string(raw), nil
}

func decodeDoc(op, collection string, pk interface{}, data string) (persistence.Document, error) {
	var doc persistence.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, persistence.Fault(op, collection, err)
	}

	if id, ok := pk.(int64); ok {
		doc[persistence.IDField] = id
	}

	return doc, nil
}

// normalizePK maps a scanned id column onto the int64 or string primary key.
func normalizePK(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case float64:
		return int64(t)
	default:
		return v
	}
}

func (c *conn) saveSpec(ctx context.Context, spec persistence.CollectionSpec) error {
	raw, err := json.Marshal(spec)
	if err != nil {
		return persistence.Fault("catalog", spec.Name, err)
	}

	_, err = c.db.ExecContext(ctx,
		"INSERT INTO "+quote(catalogTable)+" (name, spec) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET spec = excluded.spec",
		spec.Name, string(raw))
	if err != nil {
		return classify("catalog", spec.Name, err)
	}

	c.cat.specs[spec.Name] = spec

	return nil
}

func (c *conn) CreateCollection(ctx context.Context, spec persistence.CollectionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	if _, exists := c.cat.specs[spec.Name]; exists {
		return fmt.Errorf("%w: collection %s already exists", persistence.ErrConflict, spec.Name)
	}

	if _, err := c.db.ExecContext(ctx, createTableSQL(spec)); err != nil {
		return classify("createCollection", spec.Name, err)
	}

	for _, idx := range spec.Indexes {
		if _, err := c.db.ExecContext(ctx, createIndexSQL(spec.Name, idx)); err != nil {
			return classify("createIndex", spec.Name, err)
		}
	}

	return c.saveSpec(ctx, spec)
}

func (c *conn) CreateIndex(ctx context.Context, collection string, idx persistence.IndexSpec) error {
	if err := idx.Validate(); err != nil {
		return err
	}

	spec, err := c.spec(collection)
	if err != nil {
		return err
	}

	if _, exists := spec.Index(idx.Name); exists {
		return fmt.Errorf("%w: index %s already exists on %s", persistence.ErrConflict, idx.Name, collection)
	}

	if _, err := c.db.ExecContext(ctx, createIndexSQL(collection, idx)); err != nil {
		return classify("createIndex", collection, err)
	}

	spec.Indexes = append(append([]persistence.IndexSpec(nil), spec.Indexes...), idx)

	return c.saveSpec(ctx, spec)
}

func (c *conn) Collections(ctx context.Context) ([]persistence.CollectionSpec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]persistence.CollectionSpec, 0, len(c.cat.specs))
	for _, spec := range c.cat.specs {
		out = append(out, spec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

func (c *conn) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := c.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, classify("schemaVersion", "", err)
	}

	return v, nil
}

func (c *conn) SetSchemaVersion(ctx context.Context, version int) error {
	if version < 0 {
		return fmt.Errorf("%w: negative schema version %d", persistence.ErrValidation, version)
	}

	// PRAGMA does not accept bound parameters
	_, err := c.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version))

	return classify("setSchemaVersion", "", err)
}

func (c *conn) Add(ctx context.Context, collection string, doc persistence.Document) (int64, error) {
	if _, err := c.autoIncrement(collection); err != nil {
		return 0, err
	}

	data, err := encodeDoc("add", collection, doc)
	if err != nil {
		return 0, err
	}

	res, err := c.db.ExecContext(ctx, "INSERT INTO "+tableName(collection)+" (data) VALUES (?)", data)
	if err != nil {
		return 0, classify("add", collection, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify("add", collection, err)
	}

	return id, nil
}

func (c *conn) AddWithID(ctx context.Context, collection string, id int64, doc persistence.Document) error {
	if _, err := c.autoIncrement(collection); err != nil {
		return err
	}

	if id <= 0 {
		return fmt.Errorf("%w: identity must be positive, got %d", persistence.ErrValidation, id)
	}

	data, err := encodeDoc("add", collection, doc)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, "INSERT INTO "+tableName(collection)+" (id, data) VALUES (?, ?)", id, data)

	return classify("addWithID", collection, err)
}

func (c *conn) Get(ctx context.Context, collection string, id int64) (persistence.Document, error) {
	if _, err := c.autoIncrement(collection); err != nil {
		return nil, err
	}

	return c.getOne(ctx, collection, id)
}

func (c *conn) getOne(ctx context.Context, collection string, pk interface{}) (persistence.Document, error) {
	var data string

	err := c.db.QueryRowContext(ctx, "SELECT data FROM "+tableName(collection)+" WHERE id = ?", pk).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%v", persistence.ErrNotFound, collection, pk)
	}

	if err != nil {
		return nil, classify("get", collection, err)
	}

	return decodeDoc("get", collection, pk, data)
}

func (c *conn) Update(ctx context.Context, collection string, id int64, doc persistence.Document) error {
	if _, err := c.autoIncrement(collection); err != nil {
		return err
	}

	data, err := encodeDoc("update", collection, doc)
	if err != nil {
		return err
	}

	res, err := c.db.ExecContext(ctx, "UPDATE "+tableName(collection)+" SET data = ? WHERE id = ?", data, id)
	if err != nil {
		return classify("update", collection, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return classify("update", collection, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s/%d", persistence.ErrNotFound, collection, id)
	}

	return nil
}

func (c *conn) Delete(ctx context.Context, collection string, id int64) error {
	if _, err := c.autoIncrement(collection); err != nil {
		return err
	}

	_, err := c.db.ExecContext(ctx, "DELETE FROM "+tableName(collection)+" WHERE id = ?", id)

	return classify("delete", collection, err)
}

func (c *conn) Put(ctx context.Context, collection string, key string, doc persistence.Document) error {
	spec, err := c.keyed(collection)
	if err != nil {
		return err
	}

	if key == "" {
		return fmt.Errorf("%w: empty key", persistence.ErrValidation)
	}

	withKey := make(persistence.Document, len(doc)+1)
	for k, v := range doc {
		withKey[k] = v
	}

	withKey[spec.KeyField] = key

	data, err := encodeDoc("put", collection, withKey)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx,
		"INSERT INTO "+tableName(collection)+" (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data",
		key, data)

	return classify("put", collection, err)
}

func (c *conn) GetByKey(ctx context.Context, collection string, key string) (persistence.Document, error) {
	if _, err := c.keyed(collection); err != nil {
		return nil, err
	}

	return c.getOne(ctx, collection, key)
}

func (c *conn) DeleteByKey(ctx context.Context, collection string, key string) error {
	if _, err := c.keyed(collection); err != nil {
		return err
	}

	_, err := c.db.ExecContext(ctx, "DELETE FROM "+tableName(collection)+" WHERE id = ?", key)

	return classify("delete", collection, err)
}

func (c *conn) GetAll(ctx context.Context, collection string) ([]persistence.Document, error) {
	if _, err := c.spec(collection); err != nil {
		return nil, err
	}

	return c.queryDocs(ctx, "getAll", collection, "SELECT id, data FROM "+tableName(collection)+" ORDER BY id")
}

func (c *conn) queryDocs(ctx context.Context, op, collection, query string, args ...interface{}) ([]persistence.Document, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, collection, err)
	}
	defer func() { _ = rows.Close() }()

	var out []persistence.Document

	for rows.Next() {
		var (
			pk   interface{}
			data string
		)

		if err := rows.Scan(&pk, &data); err != nil {
			return nil, classify(op, collection, err)
		}

		doc, err := decodeDoc(op, collection, normalizePK(pk), data)
		if err != nil {
			return nil, err
		}

		out = append(out, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(op, collection, err)
	}

	return out, nil
}

func (c *conn) Count(ctx context.Context, collection string) (int, error) {
	if _, err := c.spec(collection); err != nil {
		return 0, err
	}

	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tableName(collection)).Scan(&n); err != nil {
		return 0, classify("count", collection, err)
	}

	return n, nil
}

func (c *conn) IndexLookup(ctx context.Context, collection, index string, key persistence.Key) ([]persistence.Document, error) {
	spec, err := c.spec(collection)
	if err != nil {
		return nil, err
	}

	exprs, filters, err := indexColumns(spec, index)
	if err != nil {
		return nil, err
	}

	if len(key) != len(exprs) {
		return nil, fmt.Errorf("%w: key %s has %d components, index %s has %d", persistence.ErrValidation, key, len(key), index, len(exprs))
	}

	parts := make([]interface{}, len(key))
	copy(parts, key)

	where, args := rangeClause(exprs, filters, persistence.Only(parts...))

	return c.queryDocs(ctx, "indexLookup", collection,
		"SELECT id, data FROM "+tableName(collection)+" WHERE "+where+" ORDER BY id", args...)
}

func (c *conn) OpenCursor(ctx context.Context, collection, index string, r persistence.KeyRange, dir persistence.Direction) (persistence.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spec, err := c.spec(collection)
	if err != nil {
		return nil, err
	}

	exprs, filters, err := indexColumns(spec, index)
	if err != nil {
		return nil, err
	}

	if err := r.Validate(len(exprs)); err != nil {
		return nil, err
	}

	return newCursor(c.db, collection, exprs, filters, r, dir, c.batch), nil
}

func (c *conn) DeleteRange(ctx context.Context, collection, index string, r persistence.KeyRange) (int, error) {
	spec, err := c.spec(collection)
	if err != nil {
		return 0, err
	}

	exprs, filters, err := indexColumns(spec, index)
	if err != nil {
		return 0, err
	}

	if err := r.Validate(len(exprs)); err != nil {
		return 0, err
	}

	where, args := rangeClause(exprs, filters, r)

	res, err := c.db.ExecContext(ctx, "DELETE FROM "+tableName(collection)+" WHERE "+where, args...)
	if err != nil {
		return 0, classify("deleteRange", collection, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("deleteRange", collection, err)
	}

	return int(n), nil
}

func (c *conn) Clear(ctx context.Context, collection string) error {
	if _, err := c.spec(collection); err != nil {
		return err
	}

	// sqlite_sequence is left alone, so identities keep increasing
	_, err := c.db.ExecContext(ctx, "DELETE FROM "+tableName(collection))

	return classify("clear", collection, err)
}
