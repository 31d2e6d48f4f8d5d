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

// Package transfer moves the whole data set of a node in and out as a
// snapshot: export, import (replacing everything) and clear.
package transfer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/datastore"
	"github.com/edgenode-hub/edgenode-core/pkg/metrics"
	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/schema"
)

const (
	directionExport = "export"
	directionImport = "import"
)

// Snapshot is the full data set of a node.
type Snapshot struct {
	Settings      map[string]interface{} `json:"settings"`
	Devices       []models.Device        `json:"devices"`
	SensorData    []models.SensorReading `json:"sensorData"`
	Alerts        []models.AlertRule     `json:"alerts"`
	ExportedAt    int64                  `json:"exportedAt,omitempty"`
	SchemaVersion int                    `json:"schemaVersion,omitempty"`
}

// IdentityMode selects how ImportAll treats the ids of a snapshot.
type IdentityMode int

const (
	// PreserveIdentities stores every record under its snapshot id, so
	// deviceId references stay valid. Records without an id get a fresh one.
	PreserveIdentities IdentityMode = iota
	// Renumber assigns fresh ids and rewrites deviceId references.
	Renumber
)

func (m IdentityMode) String() string {
	if m == Renumber {
		return "renumber"
	}

	return "preserve"
}

// ParseIdentityMode accepts "preserve" and "renumber".
func ParseIdentityMode(s string) (IdentityMode, error) {
	switch s {
	case "", "preserve":
		return PreserveIdentities, nil
	case "renumber":
		return Renumber, nil
	default:
		return 0, fmt.Errorf("%w: unknown identity mode %q", persistence.ErrValidation, s)
	}
}

type ImportOptions struct {
	Identity IdentityMode
}

// Stats counts what ImportAll stored and skipped. Readings and rules whose
// device is not part of the snapshot are skipped.
type Stats struct {
	Devices         int `json:"devices"`
	Readings        int `json:"readings"`
	Rules           int `json:"rules"`
	Settings        int `json:"settings"`
	SkippedReadings int `json:"skippedReadings"`
	SkippedRules    int `json:"skippedRules"`
}

type Service struct {
	acc datastore.Accessor
	log *zap.SugaredLogger
	now func() time.Time
}

func NewService(acc datastore.Accessor, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Service{acc: acc, log: log, now: time.Now}
}

// ExportAll reads every collection under one shared lock, so the snapshot
// is consistent with respect to writers.
func (s *Service) ExportAll(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Settings: map[string]interface{}{}}

	err := s.acc.View(ctx, func(st persistence.Store) error {
		var err error

		if snap.SchemaVersion, err = st.SchemaVersion(ctx); err != nil {
			return err
		}

		if snap.Devices, err = persistence.NewCollection[models.Device](st, schema.Devices).GetAll(ctx); err != nil {
			return err
		}

		if snap.SensorData, err = persistence.NewCollection[models.SensorReading](st, schema.SensorData).GetAll(ctx); err != nil {
			return err
		}

		if snap.Alerts, err = persistence.NewCollection[models.AlertRule](st, schema.Alerts).GetAll(ctx); err != nil {
			return err
		}

		all, err := persistence.NewCollection[models.Setting](st, schema.Settings).GetAll(ctx)
		if err != nil {
			return err
		}

		for _, setting := range all {
			snap.Settings[setting.Key] = setting.Value
		}

		return nil
	})
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentTransfer)

		return Snapshot{}, fmt.Errorf("export failed: %w", err)
	}

	snap.ExportedAt = models.NowMillis(s.now())

	metrics.AddTransferRecords(directionExport, schema.Devices, len(snap.Devices))
	metrics.AddTransferRecords(directionExport, schema.SensorData, len(snap.SensorData))
	metrics.AddTransferRecords(directionExport, schema.Alerts, len(snap.Alerts))
	metrics.AddTransferRecords(directionExport, schema.Settings, len(snap.Settings))

	s.log.Infof("Exported %d devices, %d readings, %d alert rules and %d settings",
		len(snap.Devices), len(snap.SensorData), len(snap.Alerts), len(snap.Settings))

	return snap, nil
}

// ClearAll empties all four collections in one transaction. Identity
// generators keep counting, so cleared ids are never handed out again.
func (s *Service) ClearAll(ctx context.Context) error {
	err := s.acc.Transaction(ctx, func(tx persistence.Store) error {
		return clearAll(ctx, tx)
	})
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentTransfer)

		return fmt.Errorf("clear failed: %w", err)
	}

	s.log.Info("Cleared all collections")

	return nil
}

func clearAll(ctx context.Context, tx persistence.Store) error {
	for _, name := range schema.Collections() {
		if err := tx.Clear(ctx, name); err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
	}

	return nil
}

// ImportAll replaces the stored data with snap. It clears every collection
// and inserts the snapshot inside one transaction: if any record is invalid
// or a write fails, the previous data is left untouched.
func (s *Service) ImportAll(ctx context.Context, snap Snapshot, opts ImportOptions) (Stats, error) {
	var stats Stats

	err := s.acc.Transaction(ctx, func(tx persistence.Store) error {
		version, err := tx.SchemaVersion(ctx)
		if err != nil {
			return err
		}

		if snap.SchemaVersion > version {
			return fmt.Errorf("%w: snapshot schema version %d is newer than %d", persistence.ErrValidation, snap.SchemaVersion, version)
		}

		if err := clearAll(ctx, tx); err != nil {
			return err
		}

		imp := &importer{tx: tx, mode: opts.Identity, ids: make(map[int64]int64, len(snap.Devices))}

		stats, err = imp.run(ctx, snap)

		return err
	})
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentTransfer)

		return Stats{}, fmt.Errorf("import failed: %w", err)
	}

	metrics.AddTransferRecords(directionImport, schema.Devices, stats.Devices)
	metrics.AddTransferRecords(directionImport, schema.SensorData, stats.Readings)
	metrics.AddTransferRecords(directionImport, schema.Alerts, stats.Rules)
	metrics.AddTransferRecords(directionImport, schema.Settings, stats.Settings)

	s.log.Infof("Imported %d devices, %d readings, %d alert rules and %d settings (%s ids, skipped %d readings and %d rules)",
		stats.Devices, stats.Readings, stats.Rules, stats.Settings, opts.Identity, stats.SkippedReadings, stats.SkippedRules)

	return stats, nil
}

type importer struct {
	tx   persistence.Store
	ids  map[int64]int64
	mode IdentityMode
}

func (imp *importer) run(ctx context.Context, snap Snapshot) (Stats, error) {
	var stats Stats

	for _, i := range imp.order(len(snap.Devices), func(i int) int64 { return snap.Devices[i].ID }) {
		if err := imp.device(ctx, snap.Devices[i]); err != nil {
			return Stats{}, fmt.Errorf("device %d: %w", i, err)
		}

		stats.Devices++
	}

	for _, i := range imp.order(len(snap.SensorData), func(i int) int64 { return snap.SensorData[i].ID }) {
		stored, err := imp.reading(ctx, snap.SensorData[i])
		if err != nil {
			return Stats{}, fmt.Errorf("reading %d: %w", i, err)
		}

		if stored {
			stats.Readings++
		} else {
			stats.SkippedReadings++
		}
	}

	var accepted []models.AlertRule

	for _, i := range imp.order(len(snap.Alerts), func(i int) int64 { return snap.Alerts[i].ID }) {
		stored, err := imp.rule(ctx, snap.Alerts[i], accepted)
		if err != nil {
			return Stats{}, fmt.Errorf("alert rule %d: %w", i, err)
		}

		if stored == nil {
			stats.SkippedRules++

			continue
		}

		accepted = append(accepted, *stored)
		stats.Rules++
	}

	for key, value := range snap.Settings {
		if err := models.ValidateSettingKey(key); err != nil {
			return Stats{}, err
		}

		err := persistence.NewCollection[models.Setting](imp.tx, schema.Settings).Put(ctx, key, models.Setting{Key: key, Value: value})
		if err != nil {
			return Stats{}, fmt.Errorf("setting %q: %w", key, err)
		}

		stats.Settings++
	}

	return stats, nil
}

// order returns the insertion order of n snapshot records. When identities
// are preserved, records carrying an id go first so that fresh ids handed to
// id-less records cannot collide with ids still to be inserted. Relative
// order is otherwise kept.
func (imp *importer) order(n int, id func(i int) int64) []int {
	out := make([]int, 0, n)

	if imp.mode != PreserveIdentities {
		for i := 0; i < n; i++ {
			out = append(out, i)
		}

		return out
	}

	for i := 0; i < n; i++ {
		if id(i) > 0 {
			out = append(out, i)
		}
	}

	for i := 0; i < n; i++ {
		if id(i) <= 0 {
			out = append(out, i)
		}
	}

	return out
}

func (imp *importer) device(ctx context.Context, device models.Device) error {
	device.Normalize()

	if err := device.Validate(); err != nil {
		return err
	}

	coll := persistence.NewCollection[models.Device](imp.tx, schema.Devices)
	original := device.ID

	if imp.mode == PreserveIdentities && original > 0 {
		if err := coll.AddWithID(ctx, original, device); err != nil {
			return err
		}

		imp.ids[original] = original

		return nil
	}

	device.ID = 0

	id, err := coll.Add(ctx, device)
	if err != nil {
		return err
	}

	if original > 0 {
		imp.ids[original] = id
	}

	return nil
}

// resolve maps a snapshot device id onto the stored one.
func (imp *importer) resolve(deviceID int64) (int64, bool) {
	id, ok := imp.ids[deviceID]

	return id, ok
}

func (imp *importer) reading(ctx context.Context, reading models.SensorReading) (bool, error) {
	if err := reading.Validate(); err != nil {
		return false, err
	}

	deviceID, ok := imp.resolve(reading.DeviceID)
	if !ok {
		return false, nil
	}

	reading.DeviceID = deviceID
	coll := persistence.NewCollection[models.SensorReading](imp.tx, schema.SensorData)

	if imp.mode == PreserveIdentities && reading.ID > 0 {
		return true, coll.AddWithID(ctx, reading.ID, reading)
	}

	reading.ID = 0
	_, err := coll.Add(ctx, reading)

	return err == nil, err
}

func (imp *importer) rule(ctx context.Context, rule models.AlertRule, accepted []models.AlertRule) (*models.AlertRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	deviceID, ok := imp.resolve(rule.DeviceID)
	if !ok {
		return nil, nil
	}

	rule.DeviceID = deviceID

	for _, other := range accepted {
		if other.SameTrigger(rule) {
			return nil, fmt.Errorf("%w: duplicates rule %d", persistence.ErrConflict, other.ID)
		}
	}

	coll := persistence.NewCollection[models.AlertRule](imp.tx, schema.Alerts)

	if imp.mode == PreserveIdentities && rule.ID > 0 {
		if err := coll.AddWithID(ctx, rule.ID, rule); err != nil {
			return nil, err
		}

		return &rule, nil
	}

	rule.ID = 0

	id, err := coll.Add(ctx, rule)
	if err != nil {
		return nil, err
	}

	rule.ID = id

	return &rule, nil
}
