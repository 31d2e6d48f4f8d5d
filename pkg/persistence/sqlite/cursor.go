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
	"strings"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

const defaultCursorBatch = 64

type row struct {
	pk   interface{}
	doc  persistence.Document
	key  persistence.Key
	last []interface{}
}

// cursor pages through an index with keyset pagination. Each page is a
// separate query, so no connection is held between pages and callers may
// write to the store while iterating.
type cursor struct {
	db         execer
	err        error
	cur        *row
	after      []interface{}
	collection string
	exprs      []string
	filters    []string
	buf        []row
	r          persistence.KeyRange
	dir        persistence.Direction
	batch      int
	exhausted  bool
	closed     bool
}

func newCursor(db execer, collection string, exprs, filters []string, r persistence.KeyRange, dir persistence.Direction, batch int) *cursor {
	if batch <= 0 {
		batch = defaultCursorBatch
	}

	return &cursor{db: db, collection: collection, exprs: exprs, filters: filters, r: r, dir: dir, batch: batch}
}

// orderColumns are the columns that totally order the scan.
func (c *cursor) orderColumns() []string {
	if len(c.exprs) == 1 && c.exprs[0] == "id" {
		return c.exprs
	}

	return append(append([]string(nil), c.exprs...), "id")
}

func (c *cursor) fetch(ctx context.Context) error {
	where, args := rangeClause(c.exprs, c.filters, c.r)

	cols := c.orderColumns()
	if c.after != nil {
		op := ">"
		if c.dir == persistence.Prev {
			op = "<"
		}

		where += " AND " + tuple(cols) + " " + op + " " + placeholders(len(cols))
		args = append(args, c.after...)
	}

	query := "SELECT id, data, " + strings.Join(c.exprs, ", ") +
		" FROM " + tableName(c.collection) +
		" WHERE " + where +
		" ORDER BY " + orderClause(c.exprs, c.dir) +
		" LIMIT ?"
	args = append(args, c.batch)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return classify("cursor", c.collection, err)
	}
	defer func() { _ = rows.Close() }()

	n := 0

	for rows.Next() {
		n++

		var (
			pk   interface{}
			data string
		)

		raw := make([]interface{}, len(c.exprs))
		dest := []interface{}{&pk, &data}

		for i := range raw {
			dest = append(dest, &raw[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return classify("cursor", c.collection, err)
		}

		pk = normalizePK(pk)

		doc, err := decodeDoc("cursor", c.collection, pk, data)
		if err != nil {
			return err
		}

		key := make(persistence.Key, len(raw))
		for i, v := range raw {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}

			raw[i] = v
			key[i], _ = persistence.NormalizeValue(v)
		}

		last := raw
		if len(cols) > len(c.exprs) {
			last = append(append([]interface{}(nil), raw...), pk)
		}

		c.buf = append(c.buf, row{pk: pk, doc: doc, key: key, last: last})
	}

	if err := rows.Err(); err != nil {
		return classify("cursor", c.collection, err)
	}

	if n < c.batch {
		c.exhausted = true
	}

	return nil
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}

	if err := ctx.Err(); err != nil {
		c.err = err

		return false
	}

	if len(c.buf) == 0 {
		if c.exhausted {
			c.cur = nil

			return false
		}

		if err := c.fetch(ctx); err != nil {
			c.err = err

			return false
		}

		if len(c.buf) == 0 {
			c.cur = nil

			return false
		}
	}

	next := c.buf[0]
	c.buf = c.buf[1:]
	c.cur = &next
	c.after = next.last

	return true
}

func (c *cursor) ID() int64 {
	if c.cur == nil {
		return 0
	}

	id, _ := c.cur.pk.(int64)

	return id
}

func (c *cursor) PrimaryKey() interface{} {
	if c.cur == nil {
		return nil
	}

	return c.cur.pk
}

func (c *cursor) Key() persistence.Key {
	if c.cur == nil {
		return nil
	}

	return c.cur.key
}

func (c *cursor) Document() persistence.Document {
	if c.cur == nil {
		return nil
	}

	return c.cur.doc
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close() error {
	c.closed = true
	c.buf = nil
	c.cur = nil

	return nil
}
