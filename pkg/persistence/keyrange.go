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
)

// KeyRange restricts a cursor or range deletion to a contiguous run of index
// keys. The zero value matches every key.
//
// Bounds and exact keys must have the same arity as the index they are used
// with; a prefix may be shorter. Build ranges with Only, Prefix, Between,
// AtLeast, AtMost or AllKeys.
type KeyRange struct {
	err error

	lower     Key
	upper     Key
	prefix    Key
	lowerOpen bool
	upperOpen bool
	exact     bool
}

// AllKeys matches every key of the index.
func AllKeys() KeyRange {
	return KeyRange{}
}

// Only matches keys equal to the given components.
func Only(parts ...interface{}) KeyRange {
	key, err := NewKey(parts...)

	return KeyRange{err: err, lower: key, upper: key, exact: true}
}

// Prefix matches keys whose leading components equal parts.
func Prefix(parts ...interface{}) KeyRange {
	key, err := NewKey(parts...)

	return KeyRange{err: err, prefix: key}
}

// Between matches keys between lower and upper. Open bounds exclude the
// bound itself.
func Between(lower, upper Key, lowerOpen, upperOpen bool) KeyRange {
	r := KeyRange{lower: lower, upper: upper, lowerOpen: lowerOpen, upperOpen: upperOpen}
	if lower != nil && upper != nil && CompareKeys(lower, upper) > 0 {
		r.err = fmt.Errorf("%w: lower bound %s is above upper bound %s", ErrValidation, lower, upper)
	}

	return r
}

// AtLeast matches keys greater than or equal to lower.
func AtLeast(lower Key) KeyRange {
	return KeyRange{lower: lower}
}

// AtMost matches keys less than or equal to upper.
func AtMost(upper Key) KeyRange {
	return KeyRange{upper: upper}
}

// WithPrefix narrows a bounded range to keys that also start with parts.
func (r KeyRange) WithPrefix(parts ...interface{}) KeyRange {
	key, err := NewKey(parts...)
	if err != nil && r.err == nil {
		r.err = err
	}

	r.prefix = key

	return r
}

// Lower returns the lower bound, nil if unbounded.
func (r KeyRange) Lower() (Key, bool) { return r.lower, r.lowerOpen }

// Upper returns the upper bound, nil if unbounded.
func (r KeyRange) Upper() (Key, bool) { return r.upper, r.upperOpen }

// PrefixKey returns the prefix restriction, nil if none.
func (r KeyRange) PrefixKey() Key { return r.prefix }

// IsExact reports whether the range was built with Only.
func (r KeyRange) IsExact() bool { return r.exact }

// Validate checks the range against an index of the given arity.
func (r KeyRange) Validate(arity int) error {
	if r.err != nil {
		return r.err
	}

	if r.lower != nil && len(r.lower) != arity {
		return fmt.Errorf("%w: bound %s has %d components, index has %d", ErrValidation, r.lower, len(r.lower), arity)
	}

	if r.upper != nil && len(r.upper) != arity {
		return fmt.Errorf("%w: bound %s has %d components, index has %d", ErrValidation, r.upper, len(r.upper), arity)
	}

	if len(r.prefix) > arity {
		return fmt.Errorf("%w: prefix %s is longer than the index", ErrValidation, r.prefix)
	}

	return nil
}

// Contains reports whether k lies inside the range.
func (r KeyRange) Contains(k Key) bool {
	if r.prefix != nil && !k.HasPrefix(r.prefix) {
		return false
	}

	if r.lower != nil {
		c := CompareKeys(k, r.lower)
		if c < 0 || (c == 0 && r.lowerOpen) {
			return false
		}
	}

	if r.upper != nil {
		c := CompareKeys(k, r.upper)
		if c > 0 || (c == 0 && r.upperOpen) {
			return false
		}
	}

	return true
}

// Exhausted reports whether a scan in direction dir that has reached k can
// stop, because no later key can lie inside the range.
func (r KeyRange) Exhausted(k Key, dir Direction) bool {
	if dir == Prev {
		if r.lower != nil {
			c := CompareKeys(k, r.lower)
			if c < 0 || (c == 0 && r.lowerOpen) {
				return true
			}
		}

		return r.prefix != nil && !k.HasPrefix(r.prefix) && CompareKeys(k, r.prefix) < 0
	}

	if r.upper != nil {
		c := CompareKeys(k, r.upper)
		if c > 0 || (c == 0 && r.upperOpen) {
			return true
		}
	}

	return r.prefix != nil && !k.HasPrefix(r.prefix) && CompareKeys(k, r.prefix) > 0
}
