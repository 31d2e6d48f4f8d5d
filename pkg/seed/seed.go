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

// Package seed fills an empty node with demo devices, readings, alert rules
// and default settings.
package seed

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/repository"
)

const (
	// ReadingsPerSensor is the history generated for every demo sensor.
	ReadingsPerSensor = 3
	// ReadingInterval separates consecutive demo readings.
	ReadingInterval = time.Hour

	DefaultDataUpdateInterval = 10000
)

// DemoDevices returns the demo device set.
func DemoDevices() []models.Device {
	return []models.Device{
		{
			Name:     "Edge Node Alpha",
			Location: "North District Environmental Station",
			Sensors:  []models.SensorType{models.SensorTemperature, models.SensorVibration, models.SensorWind, models.SensorSolar},
		},
		{
			Name:     "Edge Node Beta",
			Location: "Central District Soil Station",
			Sensors:  []models.SensorType{models.SensorSoilMoisture, models.SensorSoilLiquefaction, models.SensorTemperature},
		},
		{
			Name:     "Edge Node Gamma",
			Location: "South District Structural Station",
			Sensors:  []models.SensorType{models.SensorVibration, models.SensorStrain, models.SensorWind},
		},
	}
}

// demoRule attaches to the demo device at the given position.
type demoRule struct {
	sensor    models.SensorType
	condition models.Condition
	threshold float64
	device    int
}

var demoRules = []demoRule{
	{device: 0, sensor: models.SensorTemperature, condition: models.ConditionGreater, threshold: 35},
	{device: 1, sensor: models.SensorSoilMoisture, condition: models.ConditionLess, threshold: 20},
	{device: 2, sensor: models.SensorVibration, condition: models.ConditionGreater, threshold: 80},
}

// Repositories are the writers the seeder needs.
type Repositories struct {
	Devices  *repository.DeviceRepository
	Readings *repository.ReadingRepository
	Alerts   *repository.AlertRepository
	Settings *repository.SettingsRepository
}

// Result reports what Seed created.
type Result struct {
	Devices  int
	Readings int
	Rules    int
	Seeded   bool
}

type Seeder struct {
	repos Repositories
	log   *zap.SugaredLogger
	now   func() time.Time
	rand  *rand.Rand
}

type Option func(*Seeder)

// WithClock fixes the time the demo history ends at.
func WithClock(now func() time.Time) Option {
	return func(s *Seeder) {
		s.now = now
	}
}

// WithRand makes generated values reproducible.
func WithRand(r *rand.Rand) Option {
	return func(s *Seeder) {
		s.rand = r
	}
}

func NewSeeder(repos Repositories, log *zap.SugaredLogger, opts ...Option) *Seeder {
	s := &Seeder{repos: repos, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}

	if s.rand == nil {
		s.rand = rand.New(rand.NewPCG(uint64(s.now().UnixNano()), 0x5eed))
	}

	return s
}

// Seed writes the demo data set when no device exists yet. Default settings
// are written only where the key is unset.
func (s *Seeder) Seed(ctx context.Context) (Result, error) {
	var res Result

	if err := s.defaultSettings(ctx); err != nil {
		return res, err
	}

	n, err := s.repos.Devices.Count(ctx)
	if err != nil {
		return res, err
	}

	if n > 0 {
		s.log.Debugf("Skipping demo data, %d devices exist", n)

		return res, nil
	}

	stored := make([]models.Device, 0, 3)

	for _, d := range DemoDevices() {
		device, err := s.repos.Devices.Add(ctx, d)
		if err != nil {
			return res, err
		}

		stored = append(stored, device)
		res.Devices++

		written, err := s.history(ctx, device)
		res.Readings += written

		if err != nil {
			return res, err
		}
	}

	for _, r := range demoRules {
		_, err := s.repos.Alerts.Add(ctx, models.AlertRule{
			DeviceID:   stored[r.device].ID,
			SensorType: r.sensor,
			Condition:  r.condition,
			Threshold:  r.threshold,
		})
		if err != nil {
			return res, err
		}

		res.Rules++
	}

	res.Seeded = true
	s.log.Infof("Seeded %d demo devices with %d readings and %d alert rules", res.Devices, res.Readings, res.Rules)

	return res, nil
}

// history writes ReadingsPerSensor readings per sensor, ReadingInterval
// apart and ending now, with values in the nominal range of the sensor.
func (s *Seeder) history(ctx context.Context, device models.Device) (int, error) {
	now := s.now()
	written := 0

	for _, sensor := range device.Sensors {
		info := sensor.Info()

		for i := 0; i < ReadingsPerSensor; i++ {
			_, err := s.repos.Readings.Add(ctx, models.SensorReading{
				DeviceID:   device.ID,
				SensorType: sensor,
				Value:      s.value(info),
				Timestamp:  models.NowMillis(now.Add(-time.Duration(i) * ReadingInterval)),
			})
			if err != nil {
				return written, err
			}

			written++
		}
	}

	return written, nil
}

// value draws a value in [NominalMin, NominalMax) rounded to two decimals.
func (s *Seeder) value(info models.SensorInfo) float64 {
	v := info.NominalMin + s.rand.Float64()*(info.NominalMax-info.NominalMin)

	return math.Round(v*100) / 100
}

func (s *Seeder) defaultSettings(ctx context.Context) error {
	defaults := map[string]interface{}{
		models.SettingDataUpdateInterval: DefaultDataUpdateInterval,
		models.SettingGenerateMockData:   true,
	}

	for key, value := range defaults {
		_, found, err := s.repos.Settings.Get(ctx, key)
		if err != nil {
			return err
		}

		if found {
			continue
		}

		if err := s.repos.Settings.Set(ctx, key, value); err != nil {
			return err
		}
	}

	return nil
}
