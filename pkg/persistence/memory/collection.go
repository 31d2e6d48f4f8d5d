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
	"fmt"
	"maps"
	"sort"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/google/btree"
)

// collection holds the records and indexes of one collection. Stored
// documents are never mutated in place: writes replace the map entry with a
// fresh clone, which makes shallow snapshots safe.
type collection struct {
	records map[interface{}]persistence.Document
	primary *btree.BTreeG[entry]
	indexes map[string]*index
	spec    persistence.CollectionSpec
	nextID  int64
}

func newCollection(spec persistence.CollectionSpec) *collection {
	return &collection{
		spec:    spec,
		nextID:  1,
		records: make(map[interface{}]persistence.Document),
		primary: newTree(),
		indexes: make(map[string]*index),
	}
}

func (c *collection) clone() *collection {
	out := &collection{
		spec:    c.spec,
		nextID:  c.nextID,
		records: maps.Clone(c.records),
		primary: c.primary.Clone(),
		indexes: make(map[string]*index, len(c.indexes)),
	}

	out.spec.Indexes = append([]persistence.IndexSpec(nil), c.spec.Indexes...)
	for name, idx := range c.indexes {
		out.indexes[name] = idx.clone()
	}

	return out
}

// tree resolves an index name to its tree and arity. The empty name is the
// primary key.
func (c *collection) tree(name string) (*btree.BTreeG[entry], int, error) {
	if name == "" {
		return c.primary, 1, nil
	}

	idx, ok := c.indexes[name]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s on %s", persistence.ErrUnknownIndex, name, c.spec.Name)
	}

	return idx.tree, len(idx.spec.Fields), nil
}

func (c *collection) addIndex(spec persistence.IndexSpec) error {
	if _, exists := c.indexes[spec.Name]; exists {
		return fmt.Errorf("%w: index %s already exists on %s", persistence.ErrConflict, spec.Name, c.spec.Name)
	}

	idx := &index{spec: spec, tree: newTree()}

	for pk, doc := range c.records {
		if spec.Unique {
			if key, ok := doc.KeyFor(spec.Fields); ok && len(idx.holders(key)) > 0 {
				return fmt.Errorf("%w: existing records violate unique index %s on %s", persistence.ErrConflict, spec.Name, c.spec.Name)
			}
		}

		idx.insert(pk, doc)
	}

	c.indexes[spec.Name] = idx
	c.spec.Indexes = append(c.spec.Indexes, spec)

	return nil
}

// checkUnique fails if doc would collide with another record on a unique
// index.
func (c *collection) checkUnique(pk interface{}, doc persistence.Document) error {
	for _, idx := range c.indexes {
		if !idx.spec.Unique {
			continue
		}

		key, ok := doc.KeyFor(idx.spec.Fields)
		if !ok {
			continue
		}

		for _, holder := range idx.holders(key) {
			if comparePK(holder, pk) != 0 {
				return fmt.Errorf("%w: unique index %s on %s already holds %s", persistence.ErrConflict, idx.spec.Name, c.spec.Name, key)
			}
		}
	}

	return nil
}

// store writes doc under pk, replacing any previous record and its index
// entries. doc must already be a private copy.
func (c *collection) store(pk interface{}, doc persistence.Document) error {
	if err := c.checkUnique(pk, doc); err != nil {
		return err
	}

	if old, ok := c.records[pk]; ok {
		for _, idx := range c.indexes {
			idx.remove(pk, old)
		}
	}

	c.records[pk] = doc
	c.primary.ReplaceOrInsert(entry{key: primaryKey(pk), pk: pk})

	for _, idx := range c.indexes {
		idx.insert(pk, doc)
	}

	return nil
}

func (c *collection) remove(pk interface{}) bool {
	old, ok := c.records[pk]
	if !ok {
		return false
	}

	for _, idx := range c.indexes {
		idx.remove(pk, old)
	}

	c.primary.Delete(entry{key: primaryKey(pk), pk: pk})
	delete(c.records, pk)

	return true
}

func (c *collection) clear() {
	c.records = make(map[interface{}]persistence.Document)
	c.primary = newTree()

	for name, idx := range c.indexes {
		c.indexes[name] = &index{spec: idx.spec, tree: newTree()}
	}
}

// state is everything a Store holds. Transactions snapshot and restore it.
type state struct {
	collections map[string]*collection
	version     int
}

func newState() *state {
	return &state{collections: make(map[string]*collection)}
}

func (s *state) snapshot() *state {
	out := &state{version: s.version, collections: make(map[string]*collection, len(s.collections))}
	for name, c := range s.collections {
		out.collections[name] = c.clone()
	}

	return out
}

func (s *state) collection(name string) (*collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrUnknownCollection, name)
	}

	return c, nil
}

func (s *state) specs() []persistence.CollectionSpec {
	out := make([]persistence.CollectionSpec, 0, len(s.collections))
	for _, c := range s.collections {
		spec := c.spec
		spec.Indexes = append([]persistence.IndexSpec(nil), c.spec.Indexes...)
		out = append(out, spec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
