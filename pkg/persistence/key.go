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
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
)

// Key is an ordered tuple of index key components.
//
// Single-field indexes produce one-component keys, composite indexes one
// component per declared field. Components are normalized with NormalizeValue,
// so a Key only ever holds float64 and string values.
type Key []interface{}

// NormalizeValue converts v to a comparable key component.
//
// All Go numeric types and json.Number become float64, strings stay strings.
// Anything else (nil, bool, maps, slices, NaN) is not a valid key component
// and reports false. Records holding such a value for an indexed field are
// left out of that index.
func NormalizeValue(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		if math.IsNaN(t) {
			return nil, false
		}

		return t, true
	case float32:
		if math.IsNaN(float64(t)) {
			return nil, false
		}

		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, false
		}

		return f, true
	default:
		return nil, false
	}
}

// NewKey normalizes parts into a Key. It fails with ErrValidation if a part
// cannot be used as a key component.
func NewKey(parts ...interface{}) (Key, error) {
	key := make(Key, len(parts))

	for i, p := range parts {
		n, ok := NormalizeValue(p)
		if !ok {
			return nil, fmt.Errorf("%w: key component %d has unsupported type %T", ErrValidation, i, p)
		}

		key[i] = n
	}

	return key, nil
}

// KeyFor extracts the index key of doc for the given fields. It reports false
// when any field is missing or holds an unsupported value.
func (d Document) KeyFor(fields []string) (Key, bool) {
	key := make(Key, len(fields))

	for i, f := range fields {
		raw, ok := d[f]
		if !ok {
			return nil, false
		}

		n, ok := NormalizeValue(raw)
		if !ok {
			return nil, false
		}

		key[i] = n
	}

	return key, true
}

// CompareValues orders two normalized key components: numbers before
// strings, numbers numerically, strings byte-wise.
func CompareValues(a, b interface{}) int {
	switch av := a.(type) {
	case float64:
		switch bv := b.(type) {
		case float64:
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		default:
			return -1
		}
	case string:
		switch bv := b.(type) {
		case string:
			return strings.Compare(av, bv)
		case float64:
			return 1
		}
	}

	// unreachable for normalized keys; keep the order total anyway
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// CompareKeys compares two keys lexicographically. A key that is a strict
// prefix of the other sorts first.
func CompareKeys(a, b Key) int {
	n := min(len(a), len(b))

	for i := range n {
		if c := CompareValues(a[i], b[i]); c != 0 {
			return c
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// HasPrefix reports whether the leading components of k equal prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}

	return CompareKeys(k[:len(prefix)], prefix) == 0
}

// String renders the key for logs and error messages.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		if s, ok := p.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)

			continue
		}

		parts[i] = fmt.Sprint(p)
	}

	return "[" + strings.Join(parts, ", ") + "]"
}
