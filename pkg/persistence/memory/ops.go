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

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

// ops implements the store operations against the current state. Callers
// hold the appropriate lock.
type ops struct {
	s *Store
}

func (o ops) collection(name string) (*collection, error) {
	return o.s.st.collection(name)
}

func (o ops) createCollection(spec persistence.CollectionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	if _, exists := o.s.st.collections[spec.Name]; exists {
		return fmt.Errorf("%w: collection %s already exists", persistence.ErrConflict, spec.Name)
	}

	indexes := spec.Indexes
	spec.Indexes = nil

	c := newCollection(spec)
	for _, idx := range indexes {
		if err := c.addIndex(idx); err != nil {
			return err
		}
	}

	o.s.st.collections[spec.Name] = c

	return nil
}

func (o ops) createIndex(name string, idx persistence.IndexSpec) error {
	if err := idx.Validate(); err != nil {
		return err
	}

	c, err := o.collection(name)
	if err != nil {
		return err
	}

	return c.addIndex(idx)
}

func (o ops) autoIncrement(name string) (*collection, error) {
	c, err := o.collection(name)
	if err != nil {
		return nil, err
	}

	if !c.spec.AutoIncrement() {
		return nil, fmt.Errorf("%w: %s is keyed by %q, use the keyed operations", persistence.ErrValidation, name, c.spec.KeyField)
	}

	return c, nil
}

func (o ops) keyed(name string) (*collection, error) {
	c, err := o.collection(name)
	if err != nil {
		return nil, err
	}

	if c.spec.AutoIncrement() {
		return nil, fmt.Errorf("%w: %s uses auto-increment identities", persistence.ErrValidation, name)
	}

	return c, nil
}

func private(op, name string, doc persistence.Document) (persistence.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", persistence.ErrValidation)
	}

	out, err := doc.Clone()
	if err != nil {
		return nil, persistence.Fault(op, name, err)
	}

	return out, nil
}

func (o ops) add(name string, doc persistence.Document) (int64, error) {
	c, err := o.autoIncrement(name)
	if err != nil {
		return 0, err
	}

	cp, err := private("add", name, doc)
	if err != nil {
		return 0, err
	}

	id := c.nextID
	cp[persistence.IDField] = id

	if err := c.store(id, cp); err != nil {
		return 0, err
	}

	c.nextID++

	return id, nil
}

func (o ops) addWithID(name string, id int64, doc persistence.Document) error {
	c, err := o.autoIncrement(name)
	if err != nil {
		return err
	}

	if id <= 0 {
		return fmt.Errorf("%w: identity must be positive, got %d", persistence.ErrValidation, id)
	}

	if _, taken := c.records[id]; taken {
		return fmt.Errorf("%w: %s already holds id %d", persistence.ErrConflict, name, id)
	}

	cp, err := private("add", name, doc)
	if err != nil {
		return err
	}

	cp[persistence.IDField] = id

	if err := c.store(id, cp); err != nil {
		return err
	}

	if id >= c.nextID {
		c.nextID = id + 1
	}

	return nil
}

func (o ops) get(name string, id int64) (persistence.Document, error) {
	c, err := o.autoIncrement(name)
	if err != nil {
		return nil, err
	}

	doc, ok := c.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", persistence.ErrNotFound, name, id)
	}

	return private("get", name, doc)
}

func (o ops) update(name string, id int64, doc persistence.Document) error {
	c, err := o.autoIncrement(name)
	if err != nil {
		return err
	}

	if _, ok := c.records[id]; !ok {
		return fmt.Errorf("%w: %s/%d", persistence.ErrNotFound, name, id)
	}

	cp, err := private("update", name, doc)
	if err != nil {
		return err
	}

	cp[persistence.IDField] = id

	return c.store(id, cp)
}

func (o ops) remove(name string, id int64) error {
	c, err := o.autoIncrement(name)
	if err != nil {
		return err
	}

	c.remove(id)

	return nil
}

func (o ops) put(name, key string, doc persistence.Document) error {
	c, err := o.keyed(name)
	if err != nil {
		return err
	}

	if key == "" {
		return fmt.Errorf("%w: empty key", persistence.ErrValidation)
	}

	cp, err := private("put", name, doc)
	if err != nil {
		return err
	}

	cp[c.spec.KeyField] = key

	return c.store(key, cp)
}

func (o ops) getByKey(name, key string) (persistence.Document, error) {
	c, err := o.keyed(name)
	if err != nil {
		return nil, err
	}

	doc, ok := c.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", persistence.ErrNotFound, name, key)
	}

	return private("get", name, doc)
}

func (o ops) removeByKey(name, key string) error {
	c, err := o.keyed(name)
	if err != nil {
		return err
	}

	c.remove(key)

	return nil
}

func (o ops) getAll(name string) ([]persistence.Document, error) {
	c, err := o.collection(name)
	if err != nil {
		return nil, err
	}

	out := make([]persistence.Document, 0, len(c.records))

	var cloneErr error

	c.primary.Ascend(func(e entry) bool {
		doc, err := private("getAll", name, c.records[e.pk])
		if err != nil {
			cloneErr = err

			return false
		}

		out = append(out, doc)

		return true
	})

	if cloneErr != nil {
		return nil, cloneErr
	}

	return out, nil
}

func (o ops) count(name string) (int, error) {
	c, err := o.collection(name)
	if err != nil {
		return 0, err
	}

	return len(c.records), nil
}

func (o ops) indexLookup(name, indexName string, key persistence.Key) ([]persistence.Document, error) {
	c, err := o.collection(name)
	if err != nil {
		return nil, err
	}

	tree, arity, err := c.tree(indexName)
	if err != nil {
		return nil, err
	}

	if len(key) != arity {
		return nil, fmt.Errorf("%w: key %s has %d components, index %s has %d", persistence.ErrValidation, key, len(key), indexName, arity)
	}

	var (
		out      []persistence.Document
		cloneErr error
	)

	seekRange(tree, persistence.Between(key, key, false, false), persistence.Next, nil, func(e entry) bool {
		doc, err := private("indexLookup", name, c.records[e.pk])
		if err != nil {
			cloneErr = err

			return false
		}

		out = append(out, doc)

		return true
	})

	if cloneErr != nil {
		return nil, cloneErr
	}

	return out, nil
}

func (o ops) openCursor(name, indexName string, r persistence.KeyRange, dir persistence.Direction, locked bool) (persistence.Cursor, error) {
	c, err := o.collection(name)
	if err != nil {
		return nil, err
	}

	_, arity, err := c.tree(indexName)
	if err != nil {
		return nil, err
	}

	if err := r.Validate(arity); err != nil {
		return nil, err
	}

	return &cursor{s: o.s, locked: locked, collection: name, index: indexName, r: r, dir: dir}, nil
}

func (o ops) deleteRange(name, indexName string, r persistence.KeyRange) (int, error) {
	c, err := o.collection(name)
	if err != nil {
		return 0, err
	}

	tree, arity, err := c.tree(indexName)
	if err != nil {
		return 0, err
	}

	if err := r.Validate(arity); err != nil {
		return 0, err
	}

	var victims []interface{}

	seekRange(tree, r, persistence.Next, nil, func(e entry) bool {
		victims = append(victims, e.pk)

		return true
	})

	for _, pk := range victims {
		c.remove(pk)
	}

	return len(victims), nil
}

func (o ops) clear(name string) error {
	c, err := o.collection(name)
	if err != nil {
		return err
	}

	c.clear()

	return nil
}
