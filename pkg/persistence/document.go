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
	"github.com/tiendc/go-deepcopy"
)

// Document is a JSON-like record stored in a collection.
//
// Values are the shapes produced by encoding/json decoding into interface{}:
// nil, bool, float64, string, []interface{} and map[string]interface{}. Go
// integer types are accepted on write and normalized where they feed index
// keys.
//
// Example:
//
//	doc := persistence.Document{
//	    "name":     "Edge Node Alpha",
//	    "location": "Building A, Floor 2",
//	    "sensors":  []interface{}{"temperature", "wind"},
//	}
type Document map[string]interface{}

// Clone returns a deep copy of d. Stores hand out clones so callers can never
// mutate stored state through a returned document.
func (d Document) Clone() (Document, error) {
	if d == nil {
		return nil, nil
	}

	var out Document
	if err := deepcopy.Copy(&out, &d); err != nil {
		return nil, err
	}

	return out, nil
}

// ID returns the auto-increment identity mirrored into the document, 0 if
// absent.
func (d Document) ID() int64 {
	v, ok := NormalizeValue(d[IDField])
	if !ok {
		return 0
	}

	f, ok := v.(float64)
	if !ok {
		return 0
	}

	return int64(f)
}
