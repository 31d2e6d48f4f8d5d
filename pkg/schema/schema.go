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

// Package schema declares the collections and indexes of the edge node and
// upgrades stored data to the current structural version.
//
// Migrations are additive: a migration may create collections and indexes
// but never drops stored records. Each migration runs in its own
// transaction together with the version bump, so an interrupted upgrade
// resumes at the first missing version on the next Init.
package schema

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

const (
	Devices    = "devices"
	SensorData = "sensorData"
	Alerts     = "alerts"
	Settings   = "settings"

	// SettingsKeyField is the primary key of the settings collection.
	SettingsKeyField = "key"
)

const (
	IndexName                      = "name"
	IndexLocation                  = "location"
	IndexDeviceID                  = "deviceId"
	IndexTimestamp                 = "timestamp"
	IndexSensorType                = "sensorType"
	IndexDeviceSensorType          = "deviceId_sensorType"
	IndexDeviceSensorTypeTimestamp = "deviceId_sensorType_timestamp"
)

// ErrSchemaTooNew is returned when the stored version is ahead of this binary.
var ErrSchemaTooNew = fmt.Errorf("%w: stored schema version is newer than supported", persistence.ErrStorageFault)

// Migration upgrades the store from Version-1 to Version.
type Migration struct {
	Apply       func(ctx context.Context, tx persistence.Store) error
	Description string
	Version     int
}

// Collections returns every collection name in a stable order.
func Collections() []string {
	return []string{Devices, SensorData, Alerts, Settings}
}

// Migrations returns the built-in migrations in version order.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create devices, sensorData, alerts and settings",
			Apply: func(ctx context.Context, tx persistence.Store) error {
				specs := []persistence.CollectionSpec{
					{
						Name: Devices,
						Indexes: []persistence.IndexSpec{
							{Name: IndexName, Fields: []string{"name"}},
							{Name: IndexLocation, Fields: []string{"location"}},
						},
					},
					{
						Name: SensorData,
						Indexes: []persistence.IndexSpec{
							{Name: IndexDeviceID, Fields: []string{"deviceId"}},
							{Name: IndexTimestamp, Fields: []string{"timestamp"}},
						},
					},
					{
						Name: Alerts,
						Indexes: []persistence.IndexSpec{
							{Name: IndexDeviceID, Fields: []string{"deviceId"}},
							{Name: IndexSensorType, Fields: []string{"sensorType"}},
						},
					},
					{Name: Settings, KeyField: SettingsKeyField},
				}

				for _, spec := range specs {
					if err := tx.CreateCollection(ctx, spec); err != nil {
						return fmt.Errorf("create %s: %w", spec.Name, err)
					}
				}

				return nil
			},
		},
		{
			Version:     2,
			Description: "index sensorData by device and sensor type",
			Apply: func(ctx context.Context, tx persistence.Store) error {
				return tx.CreateIndex(ctx, SensorData, persistence.IndexSpec{
					Name:   IndexDeviceSensorType,
					Fields: []string{"deviceId", "sensorType"},
				})
			},
		},
		{
			Version:     3,
			Description: "index sensorData by device, sensor type and timestamp",
			Apply: func(ctx context.Context, tx persistence.Store) error {
				return tx.CreateIndex(ctx, SensorData, persistence.IndexSpec{
					Name:   IndexDeviceSensorTypeTimestamp,
					Fields: []string{"deviceId", "sensorType", "timestamp"},
				})
			},
		},
	}
}

type Option func(*Manager)

// WithMigrations replaces the built-in migrations.
func WithMigrations(migrations ...Migration) Option {
	return func(m *Manager) {
		m.migrations = migrations
	}
}

// Manager applies migrations to a store.
type Manager struct {
	store      persistence.Store
	log        *zap.SugaredLogger
	migrations []Migration
}

func NewManager(store persistence.Store, log *zap.SugaredLogger, opts ...Option) *Manager {
	m := &Manager{store: store, log: log, migrations: Migrations()}
	for _, opt := range opts {
		opt(m)
	}

	if m.log == nil {
		m.log = zap.NewNop().Sugar()
	}

	return m
}

// Latest returns the version Init upgrades to.
func (m *Manager) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}

	return m.migrations[len(m.migrations)-1].Version
}

// Version returns the stored structural version.
func (m *Manager) Version(ctx context.Context) (int, error) {
	return m.store.SchemaVersion(ctx)
}

// Init brings the store to Latest. It is a no-op on an up-to-date store.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.validate(); err != nil {
		return err
	}

	current, err := m.store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	latest := m.Latest()
	if current > latest {
		return fmt.Errorf("%w (stored %d, supported %d)", ErrSchemaTooNew, current, latest)
	}

	if current == latest {
		m.log.Debugf("Schema is up to date at version %d", current)

		return nil
	}

	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}

		m.log.Infof("Applying schema migration %d: %s", mig.Version, mig.Description)

		err := m.store.RunInTx(ctx, func(tx persistence.Store) error {
			if err := mig.Apply(ctx, tx); err != nil {
				return err
			}

			return tx.SetSchemaVersion(ctx, mig.Version)
		})
		if err != nil {
			return fmt.Errorf("schema migration %d (%s) failed: %w", mig.Version, mig.Description, err)
		}
	}

	m.log.Infof("Schema upgraded from version %d to %d", current, latest)

	return nil
}

func (m *Manager) validate() error {
	for i, mig := range m.migrations {
		if mig.Version != i+1 {
			return fmt.Errorf("%w: migration %d declares version %d", persistence.ErrValidation, i+1, mig.Version)
		}

		if mig.Apply == nil {
			return fmt.Errorf("%w: migration %d has no Apply", persistence.ErrValidation, mig.Version)
		}
	}

	return nil
}
