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

// Package repository implements the domain repositories of the edge node on
// top of a datastore.Accessor: devices, sensor readings, alert rules and
// settings.
//
// Repositories validate records before writing and enforce cross-record
// rules: a reading or alert rule must reference an existing device, and two
// alert rules of one device may not share sensor type, condition and
// threshold. Multi-step operations run under the accessor's exclusive lock.
//
// Repositories are cheap values. Bind returns a copy that runs against an
// open transaction, which is how the cascade coordinator and bulk transfer
// compose several repositories atomically.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/schema"
)

type options struct {
	now func() time.Time
	log *zap.SugaredLogger
}

type Option func(*options)

// WithClock replaces time.Now for createdAt, updatedAt and default reading
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if o.log == nil {
		o.log = zap.NewNop().Sugar()
	}

	return o
}

func (o options) nowMillis() int64 {
	return models.NowMillis(o.now())
}

// requireDevice fails with a validation error when id does not name a
// stored device.
func requireDevice(ctx context.Context, s persistence.Store, id int64) error {
	_, err := s.Get(ctx, schema.Devices, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return &models.ValidationError{
			Record: "reference",
			Fields: []models.FieldError{{Field: "deviceId", Message: fmt.Sprintf("device %d does not exist", id)}},
		}
	}

	return err
}

func requireID(record string, id int64) error {
	if id <= 0 {
		return &models.ValidationError{
			Record: record,
			Fields: []models.FieldError{{Field: "id", Message: "must be a positive id"}},
		}
	}

	return nil
}
