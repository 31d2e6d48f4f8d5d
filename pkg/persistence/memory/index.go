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
	"strings"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/google/btree"
)

const btreeDegree = 16

// top sorts after every key component. It is only used to build seek pivots
// for prefix ranges and never stored.
type top struct{}

// pkMax sorts after every primary key. Like top it only appears in pivots.
type pkMax struct{}

// entry is one index entry. pk is an int64 identity or a string key; nil
// sorts before every primary key.
type entry struct {
	pk  interface{}
	key persistence.Key
}

func compareComponent(a, b interface{}) int {
	_, aTop := a.(top)
	_, bTop := b.(top)

	switch {
	case aTop && bTop:
		return 0
	case aTop:
		return 1
	case bTop:
		return -1
	}

	return persistence.CompareValues(a, b)
}

func compareKeys(a, b persistence.Key) int {
	n := min(len(a), len(b))
	for i := range n {
		if c := compareComponent(a[i], b[i]); c != 0 {
			return c
		}
	}

	return len(a) - len(b)
}

func comparePK(a, b interface{}) int {
	rank := func(v interface{}) int {
		switch v.(type) {
		case nil:
			return 0
		case int64:
			return 1
		case string:
			return 2
		default:
			return 3
		}
	}

	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}

	switch av := a.(type) {
	case int64:
		bv := b.(int64)

		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case string:
		return strings.Compare(av, b.(string))
	}

	return 0
}

func lessEntry(a, b entry) bool {
	if c := compareKeys(a.key, b.key); c != 0 {
		return c < 0
	}

	return comparePK(a.pk, b.pk) < 0
}

func newTree() *btree.BTreeG[entry] {
	return btree.NewG(btreeDegree, lessEntry)
}

// primaryKey returns the index key of a primary key value.
func primaryKey(pk interface{}) persistence.Key {
	switch v := pk.(type) {
	case int64:
		return persistence.Key{float64(v)}
	default:
		return persistence.Key{v}
	}
}

// index is an ordered secondary index.
type index struct {
	tree *btree.BTreeG[entry]
	spec persistence.IndexSpec
}

func (i *index) insert(pk interface{}, doc persistence.Document) {
	if key, ok := doc.KeyFor(i.spec.Fields); ok {
		i.tree.ReplaceOrInsert(entry{key: key, pk: pk})
	}
}

func (i *index) remove(pk interface{}, doc persistence.Document) {
	if key, ok := doc.KeyFor(i.spec.Fields); ok {
		i.tree.Delete(entry{key: key, pk: pk})
	}
}

// holders returns the primary keys currently indexed under key.
func (i *index) holders(key persistence.Key) []interface{} {
	var out []interface{}

	i.tree.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		if compareKeys(e.key, key) != 0 {
			return false
		}

		out = append(out, e.pk)

		return true
	})

	return out
}

func (i *index) clone() *index {
	return &index{spec: i.spec, tree: i.tree.Clone()}
}

// seekRange visits the entries of tree that lie in r, starting after the
// entry last (or at the start of the range when last is nil), in direction
// dir. visit returns false to stop.
func seekRange(tree *btree.BTreeG[entry], r persistence.KeyRange, dir persistence.Direction, last *entry, visit func(entry) bool) {
	step := func(e entry) bool {
		if last != nil && !lessEntry(*last, e) && !lessEntry(e, *last) {
			return true
		}

		if r.Exhausted(e.key, dir) {
			return false
		}

		if !r.Contains(e.key) {
			return true
		}

		return visit(e)
	}

	if dir == persistence.Prev {
		if last != nil {
			tree.DescendLessOrEqual(*last, step)

			return
		}

		if pivot, ok := upperPivot(r); ok {
			tree.DescendLessOrEqual(pivot, step)

			return
		}

		tree.Descend(step)

		return
	}

	if last != nil {
		tree.AscendGreaterOrEqual(*last, step)

		return
	}

	if pivot, ok := lowerPivot(r); ok {
		tree.AscendGreaterOrEqual(pivot, step)

		return
	}

	tree.Ascend(step)
}

func lowerPivot(r persistence.KeyRange) (entry, bool) {
	lower, _ := r.Lower()
	prefix := r.PrefixKey()

	switch {
	case lower != nil && prefix != nil:
		if compareKeys(prefix, lower) > 0 {
			return entry{key: prefix}, true
		}

		return entry{key: lower}, true
	case lower != nil:
		return entry{key: lower}, true
	case prefix != nil:
		return entry{key: prefix}, true
	default:
		return entry{}, false
	}
}

func upperPivot(r persistence.KeyRange) (entry, bool) {
	upper, _ := r.Upper()

	var prefixTop persistence.Key
	if prefix := r.PrefixKey(); prefix != nil {
		prefixTop = append(append(persistence.Key{}, prefix...), top{})
	}

	switch {
	case upper != nil && prefixTop != nil:
		if compareKeys(prefixTop, upper) < 0 {
			return entry{key: prefixTop, pk: pkMax{}}, true
		}

		return entry{key: upper, pk: pkMax{}}, true
	case upper != nil:
		return entry{key: upper, pk: pkMax{}}, true
	case prefixTop != nil:
		return entry{key: prefixTop, pk: pkMax{}}, true
	default:
		return entry{}, false
	}
}
