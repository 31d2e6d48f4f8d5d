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
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates that a record, collection or key does not exist.
//
// Get and Update return it for unknown identities. Delete never does: deleting
// an absent record is a no-op.
var ErrNotFound = &storeError{msg: "record not found"}

// ErrConflict indicates that a write collides with existing data: an explicit
// identity that is already taken, a unique index violation, or a duplicate
// domain record rejected by a repository.
var ErrConflict = &storeError{msg: "record conflict"}

// ErrNotReady indicates that the schema has not been initialized yet.
var ErrNotReady = &storeError{msg: "store not ready"}

// ErrStorageFault indicates that the underlying medium rejected an operation:
// I/O failure, full disk, serialization failure or a closed store.
var ErrStorageFault = &storeError{msg: "storage fault"}

// ErrValidation indicates a caller-supplied record, key or range is invalid.
var ErrValidation = &storeError{msg: "validation failed"}

// ErrUnknownCollection is a validation failure for an undeclared collection.
var ErrUnknownCollection = &storeError{msg: "unknown collection", kind: ErrValidation}

// ErrUnknownIndex is a validation failure for an undeclared index.
var ErrUnknownIndex = &storeError{msg: "unknown index", kind: ErrValidation}

// ErrClosed is a storage fault returned by every operation after Close.
var ErrClosed = &storeError{msg: "store closed", kind: ErrStorageFault}

// storeError implements error interface for persistence errors.
type storeError struct {
	kind error
	msg  string
}

func (e *storeError) Error() string {
	return e.msg
}

// Is lets specialised sentinels match their general kind, so that
// errors.Is(ErrUnknownIndex, ErrValidation) holds.
func (e *storeError) Is(target error) bool {
	return e.kind != nil && e.kind == target
}

// OpError describes a failed store operation.
//
// Kind is one of the sentinels above and drives errors.Is; Err is the
// backend error, reachable through errors.Unwrap and errors.As.
type OpError struct {
	Kind       error
	Err        error
	Op         string
	Collection string
}

func (e *OpError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}

	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Collection, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func (e *OpError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Fault wraps a backend error as a storage fault. A nil err yields nil.
// Context errors and errors that already carry a persistence kind are
// returned unchanged.
func Fault(op, collection string, err error) error {
	if err == nil {
		return nil
	}

	if Classified(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &OpError{Op: op, Collection: collection, Kind: ErrStorageFault, Err: err}
}

// Classified reports whether err already carries one of the persistence
// error kinds.
func Classified(err error) bool {
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrNotReady, ErrStorageFault, ErrValidation} {
		if errors.Is(err, kind) {
			return true
		}
	}

	return false
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
