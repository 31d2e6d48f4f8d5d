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

// Package persistence defines the record store used by the edge node: named
// collections of JSON-like documents with store-assigned identities and
// ordered secondary indexes.
//
// Architecture:
//   - Layer 1 (this package): Store contract, keys, ranges, cursors, errors
//   - Layer 1 backends: memory (tests, ephemeral nodes) and sqlite (disk)
//   - Layer 2 (Collection[T]): typed encode/decode around a Store
//   - Layer 3 (pkg/repository): domain repositories with validation
//
// Identity model:
//
// A collection either has auto-increment identities or a string primary key.
// Auto-increment identities are int64 values starting at 1. They are strictly
// increasing and never reused, even after Delete or Clear. The identity is
// mirrored into the document under IDField.
//
// Keyed collections (CollectionSpec.KeyField set) are addressed by the string
// value of that field through Put, GetByKey and DeleteByKey.
//
// Index model:
//
// Indexes are declared per collection with one or more fields. A document is
// present in an index only if every indexed field holds a number or a string.
// Entries are ordered by their Key and, for equal keys, by primary key. A
// cursor walking backwards therefore visits equal keys newest identity first.
package persistence

import (
	"context"
	"fmt"
	"regexp"
)

// IDField is the document field that mirrors an auto-increment identity.
const IDField = "id"

// Direction is the traversal order of a cursor.
type Direction int

const (
	// Next walks an index in ascending key order.
	Next Direction = iota
	// Prev walks an index in descending key order.
	Prev
)

func (d Direction) String() string {
	if d == Prev {
		return "prev"
	}

	return "next"
}

// IndexSpec declares a secondary index. Fields with more than one entry form
// a composite index compared lexicographically.
type IndexSpec struct {
	Name   string   `json:"name"   yaml:"name"`
	Fields []string `json:"fields" yaml:"fields"`
	Unique bool     `json:"unique" yaml:"unique"`
}

// CollectionSpec declares a collection.
type CollectionSpec struct {
	Name string `json:"name" yaml:"name"`
	// KeyField names the string primary key field. Empty means
	// auto-increment int64 identities.
	KeyField string      `json:"keyField,omitempty" yaml:"keyField,omitempty"`
	Indexes  []IndexSpec `json:"indexes,omitempty"  yaml:"indexes,omitempty"`
}

// AutoIncrement reports whether the collection assigns int64 identities.
func (c CollectionSpec) AutoIncrement() bool {
	return c.KeyField == ""
}

// Index returns the named index declaration.
func (c CollectionSpec) Index(name string) (IndexSpec, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}

	return IndexSpec{}, false
}

var namePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateName checks collection, index and field names. Names end up in SQL
// identifiers and JSON paths, so only letters, digits and underscores are
// accepted.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: invalid %s name: cannot be empty", ErrValidation, kind)
	}

	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid %s name %q: must contain only alphanumeric characters and underscores, and must start with a letter or underscore", ErrValidation, kind, name)
	}

	return nil
}

// Validate checks the collection declaration and all of its indexes.
func (c CollectionSpec) Validate() error {
	if err := ValidateName("collection", c.Name); err != nil {
		return err
	}

	if c.KeyField != "" {
		if err := ValidateName("key field", c.KeyField); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(c.Indexes))
	for _, idx := range c.Indexes {
		if seen[idx.Name] {
			return fmt.Errorf("%w: duplicate index %q on %s", ErrValidation, idx.Name, c.Name)
		}

		seen[idx.Name] = true

		if err := idx.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks the index declaration.
func (i IndexSpec) Validate() error {
	if err := ValidateName("index", i.Name); err != nil {
		return err
	}

	if len(i.Fields) == 0 {
		return fmt.Errorf("%w: index %q has no fields", ErrValidation, i.Name)
	}

	for _, f := range i.Fields {
		if err := ValidateName("field", f); err != nil {
			return err
		}
	}

	return nil
}

// Cursor iterates lazily over index entries.
//
// Usage mirrors database/sql.Rows:
//
//	cur, err := store.OpenCursor(ctx, "sensorData", "deviceId", persistence.Only(7), persistence.Prev)
//	if err != nil {
//	    return err
//	}
//	defer cur.Close()
//	for cur.Next(ctx) {
//	    doc := cur.Document()
//	    ...
//	}
//	return cur.Err()
//
// A cursor never holds store locks between calls to Next. Records written
// while a cursor is open may or may not be observed; records already visited
// are never visited twice. Callers may mutate the store between steps,
// including deleting the current record.
type Cursor interface {
	// Next advances to the next entry. It returns false when the range is
	// exhausted, the context is done, or an error occurred.
	Next(ctx context.Context) bool
	// ID returns the auto-increment identity of the current record, 0 for
	// keyed collections.
	ID() int64
	// PrimaryKey returns the primary key of the current record: the int64
	// identity or the string key.
	PrimaryKey() interface{}
	// Key returns the index key of the current entry.
	Key() Key
	// Document returns a copy of the current record.
	Document() Document
	// Err returns the error that stopped iteration, if any.
	Err() error
	// Close releases resources. Calling Close more than once is safe.
	Close() error
}

// Store provides collection-level CRUD, index lookups and ordered cursors.
//
// Concurrency: all methods are safe for concurrent use. Higher-level
// serialization of multi-step operations lives in pkg/datastore.
//
// Error handling: methods return errors that match one of ErrNotFound,
// ErrConflict, ErrValidation or ErrStorageFault with errors.Is, or a context
// error. ErrNotReady is produced by pkg/datastore, never by a Store.
type Store interface {
	// CreateCollection declares a collection. Declaring an existing
	// collection again returns ErrConflict.
	CreateCollection(ctx context.Context, spec CollectionSpec) error
	// CreateIndex adds an index to an existing collection and back-fills it
	// from the stored records. Existing records are not modified.
	CreateIndex(ctx context.Context, collection string, index IndexSpec) error
	// Collections lists the declared collections in name order.
	Collections(ctx context.Context) ([]CollectionSpec, error)

	// SchemaVersion returns the structural version last stored with
	// SetSchemaVersion, 0 for fresh storage.
	SchemaVersion(ctx context.Context) (int, error)
	SetSchemaVersion(ctx context.Context, version int) error

	// Add stores doc under the next identity and returns it.
	Add(ctx context.Context, collection string, doc Document) (int64, error)
	// AddWithID stores doc under an explicit identity. It fails with
	// ErrConflict if the identity is taken and advances the identity
	// generator past id.
	AddWithID(ctx context.Context, collection string, id int64, doc Document) error
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, collection string, id int64) (Document, error)
	// Update replaces the record. It returns ErrNotFound if id does not
	// exist; it never creates records.
	Update(ctx context.Context, collection string, id int64, doc Document) error
	// Delete removes the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, collection string, id int64) error

	// Put inserts or replaces a record of a keyed collection.
	Put(ctx context.Context, collection string, key string, doc Document) error
	// GetByKey returns a record of a keyed collection or ErrNotFound.
	GetByKey(ctx context.Context, collection string, key string) (Document, error)
	// DeleteByKey removes a record of a keyed collection. Idempotent.
	DeleteByKey(ctx context.Context, collection string, key string) error

	// GetAll returns every record in primary key order.
	GetAll(ctx context.Context, collection string) ([]Document, error)
	// Count returns the number of records.
	Count(ctx context.Context, collection string) (int, error)
	// IndexLookup returns the records whose index key equals key exactly,
	// ordered by primary key.
	IndexLookup(ctx context.Context, collection, index string, key Key) ([]Document, error)
	// OpenCursor starts a lazy scan of index over r. An empty index name
	// walks the primary key.
	OpenCursor(ctx context.Context, collection, index string, r KeyRange, dir Direction) (Cursor, error)
	// DeleteRange removes every record whose index key lies in r and
	// returns how many were removed.
	DeleteRange(ctx context.Context, collection, index string, r KeyRange) (int, error)
	// Clear removes every record. Identity generators are not reset.
	Clear(ctx context.Context, collection string) error

	// RunInTx runs fn against a transactional view of the store. If fn
	// returns an error, every change made through tx is discarded. Nested
	// calls on tx run inside the same transaction.
	RunInTx(ctx context.Context, fn func(tx Store) error) error

	// Close releases the medium. Subsequent calls return ErrClosed.
	Close(ctx context.Context) error
}
