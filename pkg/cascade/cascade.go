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

// Package cascade removes a device together with everything that references
// it.
package cascade

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/datastore"
	"github.com/edgenode-hub/edgenode-core/pkg/metrics"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/repository"
	"github.com/edgenode-hub/edgenode-core/pkg/schema"
)

// Step names the part of a cascade that failed.
type Step string

const (
	StepDevice   Step = "delete device"
	StepReadings Step = "delete readings"
	StepRules    Step = "delete alert rules"
)

// StepError reports the step a cascade failed in. It unwraps to the store
// error, so errors.Is still matches the error kind.
type StepError struct {
	Err      error
	Step     Step
	DeviceID int64
}

func (e *StepError) Error() string {
	return fmt.Sprintf("cascade for device %d failed at %s: %v", e.DeviceID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Result counts the dependents removed by a cascade.
type Result struct {
	ReadingsDeleted int `json:"readingsDeleted"`
	RulesDeleted    int `json:"rulesDeleted"`
}

// Coordinator deletes devices with their readings and alert rules.
type Coordinator struct {
	acc      datastore.Accessor
	devices  *repository.DeviceRepository
	readings *repository.ReadingRepository
	alerts   *repository.AlertRepository
	log      *zap.SugaredLogger
}

func NewCoordinator(acc datastore.Accessor, devices *repository.DeviceRepository, readings *repository.ReadingRepository, alerts *repository.AlertRepository, log *zap.SugaredLogger) *Coordinator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Coordinator{acc: acc, devices: devices, readings: readings, alerts: alerts, log: log}
}

// DeleteDevice deletes the device, then its readings, then its alert rules,
// inside one transaction. On error nothing is removed and the error names
// the failed step. Deleting an absent device still purges dependents that
// reference its id.
func (c *Coordinator) DeleteDevice(ctx context.Context, deviceID int64) (Result, error) {
	var res Result

	err := c.acc.Transaction(ctx, func(tx persistence.Store) error {
		if err := c.devices.Bind(tx).Delete(ctx, deviceID); err != nil {
			return &StepError{Step: StepDevice, DeviceID: deviceID, Err: err}
		}

		var err error

		res, err = c.purge(ctx, tx, deviceID)

		return err
	})
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentCascade)

		return Result{}, err
	}

	c.record(deviceID, res)

	return res, nil
}

// PurgeDependents removes the readings and alert rules of a device without
// touching the device row. It is idempotent, so a caller can retry it after a
// failed cascade.
func (c *Coordinator) PurgeDependents(ctx context.Context, deviceID int64) (Result, error) {
	var res Result

	err := c.acc.Transaction(ctx, func(tx persistence.Store) error {
		var err error

		res, err = c.purge(ctx, tx, deviceID)

		return err
	})
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentCascade)

		return Result{}, err
	}

	c.record(deviceID, res)

	return res, nil
}

func (c *Coordinator) purge(ctx context.Context, tx persistence.Store, deviceID int64) (Result, error) {
	var (
		res Result
		err error
	)

	res.ReadingsDeleted, err = c.readings.Bind(tx).DeleteByDevice(ctx, deviceID)
	if err != nil {
		return Result{}, &StepError{Step: StepReadings, DeviceID: deviceID, Err: err}
	}

	res.RulesDeleted, err = c.alerts.Bind(tx).DeleteByDevice(ctx, deviceID)
	if err != nil {
		return Result{}, &StepError{Step: StepRules, DeviceID: deviceID, Err: err}
	}

	return res, nil
}

func (c *Coordinator) record(deviceID int64, res Result) {
	metrics.AddCascadeDeleted(schema.SensorData, res.ReadingsDeleted)
	metrics.AddCascadeDeleted(schema.Alerts, res.RulesDeleted)

	c.log.Infof("Removed device %d with %d readings and %d alert rules", deviceID, res.ReadingsDeleted, res.RulesDeleted)
}
