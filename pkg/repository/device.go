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

package repository

import (
	"context"
	"fmt"

	"github.com/edgenode-hub/edgenode-core/pkg/datastore"
	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/schema"
)

type DeviceRepository struct {
	acc datastore.Accessor
	opt options
}

func NewDeviceRepository(acc datastore.Accessor, opts ...Option) *DeviceRepository {
	return &DeviceRepository{acc: acc, opt: newOptions(opts)}
}

// Bind returns a copy of the repository that runs against tx.
func (r *DeviceRepository) Bind(tx persistence.Store) *DeviceRepository {
	return &DeviceRepository{acc: datastore.Bound(tx), opt: r.opt}
}

func devices(s persistence.Store) *persistence.Collection[models.Device] {
	return persistence.NewCollection[models.Device](s, schema.Devices)
}

// Add stores a new device and returns it with its identity and timestamps.
func (r *DeviceRepository) Add(ctx context.Context, d models.Device) (models.Device, error) {
	d.Normalize()

	if err := d.Validate(); err != nil {
		return models.Device{}, err
	}

	now := r.opt.nowMillis()
	d.ID = 0
	d.CreatedAt = now
	d.UpdatedAt = now

	err := r.acc.Update(ctx, func(s persistence.Store) error {
		id, err := devices(s).Add(ctx, d)
		d.ID = id

		return err
	})
	if err != nil {
		return models.Device{}, fmt.Errorf("failed to add device: %w", err)
	}

	r.opt.log.Debugf("Added device %d (%s)", d.ID, d.Name)

	return d, nil
}

func (r *DeviceRepository) Get(ctx context.Context, id int64) (models.Device, error) {
	var d models.Device

	err := r.acc.View(ctx, func(s persistence.Store) error {
		var err error
		d, err = devices(s).Get(ctx, id)

		return err
	})
	if err != nil {
		return models.Device{}, fmt.Errorf("device %d: %w", id, err)
	}

	return d, nil
}

// GetAll returns every device in identity order.
func (r *DeviceRepository) GetAll(ctx context.Context) ([]models.Device, error) {
	var out []models.Device

	err := r.acc.View(ctx, func(s persistence.Store) error {
		var err error
		out, err = devices(s).GetAll(ctx)

		return err
	})

	return out, err
}

// Update replaces a stored device. It never creates one: an unknown id
// fails with ErrNotFound. The stored createdAt is kept and updatedAt is
// refreshed.
func (r *DeviceRepository) Update(ctx context.Context, d models.Device) (models.Device, error) {
	if err := requireID("device", d.ID); err != nil {
		return models.Device{}, err
	}

	d.Normalize()

	if err := d.Validate(); err != nil {
		return models.Device{}, err
	}

	err := r.acc.Update(ctx, func(s persistence.Store) error {
		coll := devices(s)

		existing, err := coll.Get(ctx, d.ID)
		if err != nil {
			return err
		}

		d.CreatedAt = existing.CreatedAt
		d.UpdatedAt = r.opt.nowMillis()

		return coll.Update(ctx, d.ID, d)
	})
	if err != nil {
		return models.Device{}, fmt.Errorf("failed to update device %d: %w", d.ID, err)
	}

	return d, nil
}

// Delete removes the device row only. Deleting an absent device succeeds.
// Use the cascade coordinator to also remove readings and rules.
func (r *DeviceRepository) Delete(ctx context.Context, id int64) error {
	err := r.acc.Update(ctx, func(s persistence.Store) error {
		return devices(s).Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete device %d: %w", id, err)
	}

	return nil
}

func (r *DeviceRepository) FindByName(ctx context.Context, name string) ([]models.Device, error) {
	return r.lookup(ctx, schema.IndexName, name)
}

func (r *DeviceRepository) FindByLocation(ctx context.Context, location string) ([]models.Device, error) {
	return r.lookup(ctx, schema.IndexLocation, location)
}

func (r *DeviceRepository) lookup(ctx context.Context, index, value string) ([]models.Device, error) {
	var out []models.Device

	err := r.acc.View(ctx, func(s persistence.Store) error {
		var err error
		out, err = devices(s).IndexLookup(ctx, index, value)

		return err
	})

	return out, err
}

func (r *DeviceRepository) Count(ctx context.Context) (int, error) {
	var n int

	err := r.acc.View(ctx, func(s persistence.Store) error {
		var err error
		n, err = devices(s).Count(ctx)

		return err
	})

	return n, err
}
