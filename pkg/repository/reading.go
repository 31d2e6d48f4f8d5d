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
	"errors"
	"fmt"
	"math"

	"github.com/edgenode-hub/edgenode-core/pkg/datastore"
	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/schema"
)

type ReadingRepository struct {
	acc datastore.Accessor
	opt options
}

func NewReadingRepository(acc datastore.Accessor, opts ...Option) *ReadingRepository {
	return &ReadingRepository{acc: acc, opt: newOptions(opts)}
}

// Bind returns a copy of the repository that runs against tx.
func (r *ReadingRepository) Bind(tx persistence.Store) *ReadingRepository {
	return &ReadingRepository{acc: datastore.Bound(tx), opt: r.opt}
}

func readings(s persistence.Store) *persistence.Collection[models.SensorReading] {
	return persistence.NewCollection[models.SensorReading](s, schema.SensorData)
}

// Add stores a reading. A zero timestamp is replaced by the write time. The
// referenced device must exist.
func (r *ReadingRepository) Add(ctx context.Context, reading models.SensorReading) (models.SensorReading, error) {
	if reading.Timestamp == 0 {
		reading.Timestamp = r.opt.nowMillis()
	}

	if err := reading.Validate(); err != nil {
		return models.SensorReading{}, err
	}

	reading.ID = 0

	err := r.acc.Update(ctx, func(s persistence.Store) error {
		if err := requireDevice(ctx, s, reading.DeviceID); err != nil {
			return err
		}

		id, err := readings(s).Add(ctx, reading)
		reading.ID = id

		return err
	})
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("failed to add reading: %w", err)
	}

	return reading, nil
}

func (r *ReadingRepository) Get(ctx context.Context, id int64) (models.SensorReading, error) {
	var reading models.SensorReading

	err := r.acc.View(ctx, func(s persistence.Store) error {
		var err error
		reading, err = readings(s).Get(ctx, id)

		return err
	})
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("reading %d: %w", id, err)
	}

	return reading, nil
}

func (r *ReadingRepository) Count(ctx context.Context) (int, error) {
	var n int

	err := r.acc.View(ctx, func(s persistence.Store) error {
		var err error
		n, err = readings(s).Count(ctx)

		return err
	})

	return n, err
}

// GetLatestByDeviceAndType returns the reading with the greatest timestamp
// for the device and sensor type. Ties resolve to the most recently written
// reading. found is false when the device has no such readings.
func (r *ReadingRepository) GetLatestByDeviceAndType(ctx context.Context, deviceID int64, sensorType models.SensorType) (reading models.SensorReading, found bool, err error) {
	err = r.acc.View(ctx, func(s persistence.Store) error {
		cur, err := readings(s).Cursor(ctx, schema.IndexDeviceSensorTypeTimestamp,
			persistence.Prefix(deviceID, string(sensorType)), persistence.Prev)
		if err != nil {
			return err
		}
		defer cur.Close()

		if cur.Next(ctx) {
			reading, found = cur.Value(), true
		}

		return cur.Err()
	})
	if err != nil {
		return models.SensorReading{}, false, fmt.Errorf("failed to get latest %s reading of device %d: %w", sensorType, deviceID, err)
	}

	return reading, found, nil
}

// GetLatestByDevice returns the most recently written reading per sensor
// type of a device.
//
// It walks the device's readings newest identity first and keeps the first
// reading seen for each type. The scan stops as soon as every type in
// expected has a reading, or when the device's readings are exhausted. With
// no expected types the bound is the device's configured sensors, or every
// known sensor type when the device lists none or does not exist.
func (r *ReadingRepository) GetLatestByDevice(ctx context.Context, deviceID int64, expected ...models.SensorType) (map[models.SensorType]models.SensorReading, error) {
	latest := make(map[models.SensorType]models.SensorReading)

	err := r.acc.View(ctx, func(s persistence.Store) error {
		bound, err := r.expectedTypes(ctx, s, deviceID, expected)
		if err != nil {
			return err
		}

		cur, err := readings(s).Cursor(ctx, schema.IndexDeviceID, persistence.Only(deviceID), persistence.Prev)
		if err != nil {
			return err
		}
		defer cur.Close()

		pending := len(bound)

		for pending > 0 && cur.Next(ctx) {
			reading := cur.Value()
			if _, seen := latest[reading.SensorType]; seen {
				continue
			}

			latest[reading.SensorType] = reading

			if bound[reading.SensorType] {
				pending--
			}
		}

		return cur.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest readings of device %d: %w", deviceID, err)
	}

	return latest, nil
}

func (r *ReadingRepository) expectedTypes(ctx context.Context, s persistence.Store, deviceID int64, expected []models.SensorType) (map[models.SensorType]bool, error) {
	if len(expected) == 0 {
		device, err := devices(s).Get(ctx, deviceID)

		switch {
		case err == nil:
			expected = device.Sensors
		case !errors.Is(err, persistence.ErrNotFound):
			return nil, err
		}
	}

	if len(expected) == 0 {
		expected = models.SensorTypes()
	}

	bound := make(map[models.SensorType]bool, len(expected))
	for _, t := range expected {
		bound[t] = true
	}

	return bound, nil
}

// ListByDevice returns readings of a device whose timestamp lies in
// [from, to], newest first. A zero to means no upper bound and a limit <= 0
// means no limit. With a sensor type the result is ordered by timestamp;
// without one it is ordered by write order, newest first.
func (r *ReadingRepository) ListByDevice(ctx context.Context, deviceID int64, sensorType models.SensorType, from, to int64, limit int) ([]models.SensorReading, error) {
	if to == 0 {
		to = math.MaxInt64
	}

	out := []models.SensorReading{}

	err := r.acc.View(ctx, func(s persistence.Store) error {
		var (
			cur *persistence.TypedCursor[models.SensorReading]
			err error
		)

		if sensorType != "" {
			lower, err := persistence.NewKey(deviceID, string(sensorType), from)
			if err != nil {
				return err
			}

			upper, err := persistence.NewKey(deviceID, string(sensorType), to)
			if err != nil {
				return err
			}

			cur, err = readings(s).Cursor(ctx, schema.IndexDeviceSensorTypeTimestamp,
				persistence.Between(lower, upper, false, false), persistence.Prev)
			if err != nil {
				return err
			}
		} else {
			cur, err = readings(s).Cursor(ctx, schema.IndexDeviceID, persistence.Only(deviceID), persistence.Prev)
			if err != nil {
				return err
			}
		}
		defer cur.Close()

		for cur.Next(ctx) {
			reading := cur.Value()
			if reading.Timestamp < from || reading.Timestamp > to {
				continue
			}

			out = append(out, reading)

			if limit > 0 && len(out) >= limit {
				break
			}
		}

		return cur.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list readings of device %d: %w", deviceID, err)
	}

	return out, nil
}

// DeleteByDevice removes every reading of a device and returns how many were
// removed.
func (r *ReadingRepository) DeleteByDevice(ctx context.Context, deviceID int64) (int, error) {
	var n int

	err := r.acc.Update(ctx, func(s persistence.Store) error {
		var err error
		n, err = deleteByDevice(ctx, s, schema.SensorData, deviceID)

		return err
	})
	if err != nil {
		return n, fmt.Errorf("failed to delete readings of device %d: %w", deviceID, err)
	}

	return n, nil
}

// deleteByDevice walks the deviceId index forward and deletes each match.
func deleteByDevice(ctx context.Context, s persistence.Store, collection string, deviceID int64) (int, error) {
	cur, err := s.OpenCursor(ctx, collection, schema.IndexDeviceID, persistence.Only(deviceID), persistence.Next)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	n := 0

	for cur.Next(ctx) {
		if err := s.Delete(ctx, collection, cur.ID()); err != nil {
			return n, err
		}

		n++
	}

	return n, cur.Err()
}
