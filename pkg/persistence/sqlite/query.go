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
	"fmt"
	"strings"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

const (
	catalogTable = "_collections"
	tablePrefix  = "coll_"
	indexPrefix  = "idx_"
)

func tableName(collection string) string {
	return quote(tablePrefix + collection)
}

func indexName(collection, index string) string {
	return quote(indexPrefix + collection + "_" + index)
}

// quote quotes an identifier. Names are validated against
// persistence.ValidateName before they get here.
func quote(ident string) string {
	return `"` + ident + `"`
}

// fieldExpr is the expression an index is built on. Queries must use the
// identical text for SQLite to pick the expression index.
func fieldExpr(field string) string {
	return fmt.Sprintf("json_extract(data, '$.%s')", field)
}

// fieldTypeFilter keeps only rows whose field holds a number or a string,
// matching the in-memory index membership rule.
func fieldTypeFilter(field string) string {
	return fmt.Sprintf("json_type(data, '$.%s') IN ('integer', 'real', 'text')", field)
}

// indexColumns returns the key expressions of an index. The empty name is
// the primary key.
func indexColumns(spec persistence.CollectionSpec, index string) ([]string, []string, error) {
	if index == "" {
		return []string{"id"}, nil, nil
	}

	idx, ok := spec.Index(index)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s on %s", persistence.ErrUnknownIndex, index, spec.Name)
	}

	exprs := make([]string, len(idx.Fields))
	filters := make([]string, len(idx.Fields))

	for i, f := range idx.Fields {
		exprs[i] = fieldExpr(f)
		filters[i] = fieldTypeFilter(f)
	}

	return exprs, filters, nil
}

func createTableSQL(spec persistence.CollectionSpec) string {
	if spec.AutoIncrement() {
		return fmt.Sprintf(`CREATE TABLE %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data TEXT NOT NULL
	)`, tableName(spec.Name))
	}

	return fmt.Sprintf(`CREATE TABLE %s (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`, tableName(spec.Name))
}

func createIndexSQL(collection string, idx persistence.IndexSpec) string {
	exprs := make([]string, 0, len(idx.Fields)+1)
	for _, f := range idx.Fields {
		exprs = append(exprs, fieldExpr(f))
	}

	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	} else {
		exprs = append(exprs, "id")
	}

	return fmt.Sprintf("CREATE %s %s ON %s (%s)", kind, indexName(collection, idx.Name), tableName(collection), strings.Join(exprs, ", "))
}

// rangeClause translates a KeyRange over the given key expressions into a
// WHERE fragment and its arguments.
func rangeClause(exprs, filters []string, r persistence.KeyRange) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	conds = append(conds, filters...)

	lower, lowerOpen := r.Lower()
	upper, upperOpen := r.Upper()

	if r.IsExact() {
		for i, e := range exprs {
			conds = append(conds, e+" = ?")
			args = append(args, lower[i])
		}
	} else {
		if lower != nil {
			op := ">="
			if lowerOpen {
				op = ">"
			}

			conds = append(conds, tuple(exprs)+" "+op+" "+placeholders(len(exprs)))
			args = append(args, lower...)
		}

		if upper != nil {
			op := "<="
			if upperOpen {
				op = "<"
			}

			conds = append(conds, tuple(exprs)+" "+op+" "+placeholders(len(exprs)))
			args = append(args, upper...)
		}
	}

	for i, p := range r.PrefixKey() {
		conds = append(conds, exprs[i]+" = ?")
		args = append(args, p)
	}

	if len(conds) == 0 {
		return "1 = 1", nil
	}

	return strings.Join(conds, " AND "), args
}

func tuple(exprs []string) string {
	if len(exprs) == 1 {
		return exprs[0]
	}

	return "(" + strings.Join(exprs, ", ") + ")"
}

func placeholders(n int) string {
	if n == 1 {
		return "?"
	}

	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func orderClause(exprs []string, dir persistence.Direction) string {
	suffix := " ASC"
	if dir == persistence.Prev {
		suffix = " DESC"
	}

	cols := make([]string, 0, len(exprs)+1)
	for _, e := range exprs {
		cols = append(cols, e+suffix)
	}

	if len(exprs) != 1 || exprs[0] != "id" {
		cols = append(cols, "id"+suffix)
	}

	return strings.Join(cols, ", ")
}
