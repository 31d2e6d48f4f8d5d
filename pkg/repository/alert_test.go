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

package repository_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence/storetest"
	"github.com/edgenode-hub/edgenode-core/pkg/repository"
)

var _ = Describe("AlertRepository", func() {
	for _, backend := range storetest.Backends() {
		factory := backend.Factory

		Context("on the "+backend.Name+" backend", func() {
			var (
				ctx    context.Context
				clock  *fakeClock
				alerts *repository.AlertRepository
				device models.Device
			)

			rule := func(sensorType models.SensorType, condition models.Condition, threshold float64) models.AlertRule {
				return models.AlertRule{DeviceID: device.ID, SensorType: sensorType, Condition: condition, Threshold: threshold}
			}

			BeforeEach(func() {
				ctx = context.Background()
				clock = newFakeClock()
				handle := newReadyHandle(ctx, factory)
				alerts = repository.NewAlertRepository(handle, options(clock)...)

				var err error
				device, err = repository.NewDeviceRepository(handle, options(clock)...).Add(ctx, models.Device{Name: "Alpha", Location: "North"})
				Expect(err).NotTo(HaveOccurred())
			})

			It("rejects a duplicate rule", func() {
				_, err := alerts.Add(ctx, rule(models.SensorTemperature, models.ConditionGreater, 35))
				Expect(err).NotTo(HaveOccurred())

				_, err = alerts.Add(ctx, rule(models.SensorTemperature, models.ConditionGreater, 35))
				Expect(err).To(MatchError(persistence.ErrConflict))

				_, err = alerts.Add(ctx, rule(models.SensorTemperature, models.ConditionGreater, 36))
				Expect(err).NotTo(HaveOccurred())

				all, err := alerts.GetAll(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(all).To(HaveLen(2))
			})

			It("rejects rules for unknown devices", func() {
				r := rule(models.SensorWind, models.ConditionLess, 1)
				r.DeviceID = 404

				_, err := alerts.Add(ctx, r)
				Expect(err).To(MatchError(persistence.ErrValidation))
			})

			It("updates a rule without tripping over itself", func() {
				added, err := alerts.Add(ctx, rule(models.SensorWind, models.ConditionGreater, 10))
				Expect(err).NotTo(HaveOccurred())

				clock.Advance(time.Minute)

				updated, err := alerts.Update(ctx, added)
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.CreatedAt).To(Equal(added.CreatedAt))
				Expect(updated.UpdatedAt).To(BeNumerically(">", added.UpdatedAt))
			})

			It("rejects an update that duplicates another rule", func() {
				_, err := alerts.Add(ctx, rule(models.SensorWind, models.ConditionGreater, 10))
				Expect(err).NotTo(HaveOccurred())
				second, err := alerts.Add(ctx, rule(models.SensorWind, models.ConditionGreater, 12))
				Expect(err).NotTo(HaveOccurred())

				second.Threshold = 10
				_, err = alerts.Update(ctx, second)
				Expect(err).To(MatchError(persistence.ErrConflict))
			})

			It("never creates a rule through update", func() {
				r := rule(models.SensorWind, models.ConditionGreater, 10)
				r.ID = 31

				_, err := alerts.Update(ctx, r)
				Expect(err).To(MatchError(persistence.ErrNotFound))
			})

			It("looks rules up by device and sensor type", func() {
				_, err := alerts.Add(ctx, rule(models.SensorWind, models.ConditionGreater, 10))
				Expect(err).NotTo(HaveOccurred())
				_, err = alerts.Add(ctx, rule(models.SensorTemperature, models.ConditionLess, 0))
				Expect(err).NotTo(HaveOccurred())

				byDevice, err := alerts.GetByDevice(ctx, device.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(byDevice).To(HaveLen(2))
				Expect(byDevice[0].ID).To(BeNumerically("<", byDevice[1].ID))

				byType, err := alerts.GetBySensorType(ctx, models.SensorTemperature)
				Expect(err).NotTo(HaveOccurred())
				Expect(byType).To(HaveLen(1))
			})

			It("deletes rules individually and per device", func() {
				a, err := alerts.Add(ctx, rule(models.SensorWind, models.ConditionGreater, 10))
				Expect(err).NotTo(HaveOccurred())
				_, err = alerts.Add(ctx, rule(models.SensorWind, models.ConditionLess, 1))
				Expect(err).NotTo(HaveOccurred())

				Expect(alerts.Delete(ctx, a.ID)).To(Succeed())
				Expect(alerts.Delete(ctx, a.ID)).To(Succeed())

				_, err = alerts.Get(ctx, a.ID)
				Expect(err).To(MatchError(persistence.ErrNotFound))

				n, err := alerts.DeleteByDevice(ctx, device.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(1))
			})
		})
	}
})

var _ = Describe("SettingsRepository", func() {
	for _, backend := range storetest.Backends() {
		factory := backend.Factory

		Context("on the "+backend.Name+" backend", func() {
			var (
				ctx  context.Context
				repo *repository.SettingsRepository
			)

			BeforeEach(func() {
				ctx = context.Background()
				repo = repository.NewSettingsRepository(newReadyHandle(ctx, factory))
			})

			It("stores arbitrary JSON values", func() {
				Expect(repo.Set(ctx, models.SettingDataUpdateInterval, 10000)).To(Succeed())
				Expect(repo.Set(ctx, models.SettingGenerateMockData, true)).To(Succeed())
				Expect(repo.Set(ctx, "thresholds", map[string]interface{}{"wind": 12.5})).To(Succeed())

				value, found, err := repo.Get(ctx, models.SettingGenerateMockData)
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeTrue())
				Expect(value).To(BeTrue())

				var interval int
				found, err = repo.Decode(ctx, models.SettingDataUpdateInterval, &interval)
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeTrue())
				Expect(interval).To(Equal(10000))

				all, err := repo.GetAll(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(all).To(HaveLen(3))
				Expect(all["thresholds"]).To(HaveKeyWithValue("wind", 12.5))
			})

			It("upserts and deletes idempotently", func() {
				Expect(repo.Set(ctx, "theme", "dark")).To(Succeed())
				Expect(repo.Set(ctx, "theme", "light")).To(Succeed())

				value, _, err := repo.Get(ctx, "theme")
				Expect(err).NotTo(HaveOccurred())
				Expect(value).To(Equal("light"))

				Expect(repo.Delete(ctx, "theme")).To(Succeed())
				Expect(repo.Delete(ctx, "theme")).To(Succeed())

				_, found, err := repo.Get(ctx, "theme")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeFalse())
			})

			It("rejects empty keys", func() {
				Expect(repo.Set(ctx, "", 1)).To(MatchError(persistence.ErrValidation))
			})
		})
	}
})
