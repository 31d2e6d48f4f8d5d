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

type AlertRepository struct {
	acc datastore.Accessor
	opt options
}

func NewAlertRepository(acc datastore.Accessor, opts ...Option) *AlertRepository {
	return &AlertRepository{acc: acc, opt: newOptions(opts)}
}

// Bind returns a copy of the repository that runs against tx.
func (r *AlertRepository) Bind(tx persistence.Store) *AlertRepository {
	return &AlertRepository{acc: datastore.Bound(tx), opt: r.opt}
}

func alerts(s persistence.Store) *persistence.Collection[models.AlertRule] {
	return persistence.NewCollection[models.AlertRule](s, schema.Alerts)
}

// checkRule verifies the device reference and rejects a rule that would
// duplicate another rule of the same device. self is excluded from the
// duplicate search.
func checkRule(ctx context.Context, s persistence.Store, rule models.AlertRule, self int64) error {
	if err := requireDevice(ctx, s, rule.DeviceID); err != nil {
		return err
	}

	existing, err := alerts(s).IndexLookup(ctx, schema.IndexDeviceID, rule.DeviceID)
	if err != nil {
		return err
	}

	for _, other := range existing {
		if other.ID != self && other.SameTrigger(rule) {
			return fmt.Errorf("%w: rule %d already alerts when %s is %s %v on device %d",
				persistence.ErrConflict, other.ID, rule.SensorType, rule.Condition, rule.Threshold, rule.DeviceID)
		}
	}

	return nil
}

// Add stores a new rule. A rule with the same device, sensor type, condition
// and threshold as an existing one fails with ErrConflict.
func (r *AlertRepository) Add(ctx context.Context, rule models.AlertRule) (models.AlertRule, error) {
	if err := rule.Validate(); err != nil {
		return models.AlertRule{}, err
	}

	now := r.opt.nowMillis()
	rule.ID = 0
	rule.CreatedAt = now
	rule.UpdatedAt = now

	err := r.acc.Update(ctx, func(s persistence.Store) error {
		if err := checkRule(ctx, s, rule, 0); err != nil {
			return err
		}

		id, err := alerts(s).Add(ctx, rule)
		rule.ID = id

		return err
	})
	if err != nil {
		return models.AlertRule{}, fmt.Errorf("failed to add alert rule: %w", err)
	}

	return rule, nil
}

func (r *AlertRepository) Get(ctx context.Context, id int64) (models.AlertRule, error) {
	var rule models.AlertRule

	err := r.acc.View(ctx, func(s persistence.Store) error {
		var err error
		rule, err = alerts(s).Get(ctx, id)

		return err
	})
	if err != nil {
		return models.AlertRule{}, fmt.Errorf("alert rule %d: %w", id, err)
	}

	return rule, nil
}

func (r *AlertRepository) GetAll(ctx context.Context) ([]models.AlertRule, error) {
	var out []models.AlertRule

	err := r.acc.View(ctx, func(s persistence.Store) error {
		var err error
		out, err = alerts(s).GetAll(ctx)

		return err
	})

	return out, err
}

// GetByDevice returns the rules of a device in identity order.
func (r *AlertRepository) GetByDevice(ctx context.Context, deviceID int64) ([]models.AlertRule, error) {
	var out []models.AlertRule

	err := r.acc.View(ctx, func(s persistence.Store) error {
		var err error
		out, err = alerts(s).IndexLookup(ctx, schema.IndexDeviceID, deviceID)

		return err
	})

	return out, err
}

func (r *AlertRepository) GetBySensorType(ctx context.Context, sensorType models.SensorType) ([]models.AlertRule, error) {
	var out []models.AlertRule

	err := r.acc.View(ctx, func(s persistence.Store) error {
		var err error
		out, err = alerts(s).IndexLookup(ctx, schema.IndexSensorType, string(sensorType))

		return err
	})

	return out, err
}

// Update replaces a stored rule, keeping its createdAt. It fails with
// ErrNotFound for an unknown id and ErrConflict when the result would
// duplicate another rule.
func (r *AlertRepository) Update(ctx context.Context, rule models.AlertRule) (models.AlertRule, error) {
	if err := requireID("alert rule", rule.ID); err != nil {
		return models.AlertRule{}, err
	}

	if err := rule.Validate(); err != nil {
		return models.AlertRule{}, err
	}

	err := r.acc.Update(ctx, func(s persistence.Store) error {
		coll := alerts(s)

		existing, err := coll.Get(ctx, rule.ID)
		if err != nil {
			return err
		}

		if err := checkRule(ctx, s, rule, rule.ID); err != nil {
			return err
		}

		rule.CreatedAt = existing.CreatedAt
		rule.UpdatedAt = r.opt.nowMillis()

		return coll.Update(ctx, rule.ID, rule)
	})
	if err != nil {
		return models.AlertRule{}, fmt.Errorf("failed to update alert rule %d: %w", rule.ID, err)
	}

	return rule, nil
}

// Delete removes a rule. Deleting an absent rule succeeds.
func (r *AlertRepository) Delete(ctx context.Context, id int64) error {
	err := r.acc.Update(ctx, func(s persistence.Store) error {
		return alerts(s).Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete alert rule %d: %w", id, err)
	}

	return nil
}

// DeleteByDevice removes every rule of a device and returns how many were
// removed.
func (r *AlertRepository) DeleteByDevice(ctx context.Context, deviceID int64) (int, error) {
	var n int

	err := r.acc.Update(ctx, func(s persistence.Store) error {
		var err error
		n, err = deleteByDevice(ctx, s, schema.Alerts, deviceID)

		return err
	})
	if err != nil {
		return n, fmt.Errorf("failed to delete alert rules of device %d: %w", deviceID, err)
	}

	return n, nil
}
