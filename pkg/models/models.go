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

// Package models defines the records stored by the edge node and their
// validation rules. Timestamps are milliseconds since the Unix epoch.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

// NowMillis returns t as milliseconds since the Unix epoch.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a record. It matches
// persistence.ErrValidation with errors.Is.
type ValidationError struct {
	Record string       `json:"record"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}

	return fmt.Sprintf("invalid %s: %s", e.Record, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == persistence.ErrValidation
}

type validator struct {
	record string
	fields []FieldError
}

func (v *validator) add(field, format string, args ...interface{}) {
	v.fields = append(v.fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}

	return &ValidationError{Record: v.record, Fields: v.fields}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
