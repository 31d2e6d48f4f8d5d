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

var _ = Describe("ReadingRepository", func() {
	for _, backend := range storetest.Backends() {
		factory := backend.Factory

		Context("on the "+backend.Name+" backend", func() {
			var (
				ctx      context.Context
				clock    *fakeClock
				devices  *repository.DeviceRepository
				readings *repository.ReadingRepository
				device   models.Device
			)

			add := func(sensorType models.SensorType, value float64, ts int64) models.SensorReading {
				r, err := readings.Add(ctx, models.SensorReading{DeviceID: device.ID, SensorType: sensorType, Value: value, Timestamp: ts})
				Expect(err).NotTo(HaveOccurred())

				return r
			}

			BeforeEach(func() {
				ctx = context.Background()
				clock = newFakeClock()
				handle := newReadyHandle(ctx, factory)
				devices = repository.NewDeviceRepository(handle, options(clock)...)
				readings = repository.NewReadingRepository(handle, options(clock)...)

				var err error
				device, err = devices.Add(ctx, models.Device{
					Name:     "Alpha",
					Location: "North",
					Sensors:  []models.SensorType{models.SensorTemperature, models.SensorWind},
				})
				Expect(err).NotTo(HaveOccurred())
			})

			It("defaults the timestamp to the write time", func() {
				r := add(models.SensorTemperature, 21.5, 0)
				Expect(r.Timestamp).To(Equal(clock.Now().UnixMilli()))
				Expect(r.ID).To(BeNumerically(">", 0))

				stored, err := readings.Get(ctx, r.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(stored).To(Equal(r))
			})

			It("rejects readings of unknown devices", func() {
				_, err := readings.Add(ctx, models.SensorReading{DeviceID: 404, SensorType: models.SensorWind, Value: 3})
				Expect(err).To(MatchError(persistence.ErrValidation))
				Expect(readings.Count(ctx)).To(BeZero())
			})

			Describe("GetLatestByDeviceAndType", func() {
				It("returns the reading with the greatest timestamp", func() {
					add(models.SensorTemperature, 20, 3000)
					add(models.SensorTemperature, 25, 1000)
					add(models.SensorWind, 9, 5000)

					latest, found, err := readings.GetLatestByDeviceAndType(ctx, device.ID, models.SensorTemperature)
					Expect(err).NotTo(HaveOccurred())
					Expect(found).To(BeTrue())
					Expect(latest.Value).To(Equal(20.0))
					Expect(latest.Timestamp).To(Equal(int64(3000)))
				})

				It("reports absence", func() {
					add(models.SensorWind, 9, 5000)

					_, found, err := readings.GetLatestByDeviceAndType(ctx, device.ID, models.SensorTemperature)
					Expect(err).NotTo(HaveOccurred())
					Expect(found).To(BeFalse())
				})

				It("does not leak readings of other devices", func() {
					other, err := devices.Add(ctx, models.Device{Name: "Beta", Location: "South"})
					Expect(err).NotTo(HaveOccurred())

					_, err = readings.Add(ctx, models.SensorReading{DeviceID: other.ID, SensorType: models.SensorTemperature, Value: 99, Timestamp: 9000})
					Expect(err).NotTo(HaveOccurred())
					add(models.SensorTemperature, 20, 1000)

					latest, found, err := readings.GetLatestByDeviceAndType(ctx, device.ID, models.SensorTemperature)
					Expect(err).NotTo(HaveOccurred())
					Expect(found).To(BeTrue())
					Expect(latest.Value).To(Equal(20.0))
				})
			})

			Describe("GetLatestByDevice", func() {
				It("keeps the most recently written reading per sensor type", func() {
					add(models.SensorTemperature, 20, 1000)
					add(models.SensorWind, 5, 1000)
					newest := add(models.SensorTemperature, 22, 2000)

					latest, err := readings.GetLatestByDevice(ctx, device.ID)
					Expect(err).NotTo(HaveOccurred())
					Expect(latest).To(HaveLen(2))
					Expect(latest[models.SensorTemperature]).To(Equal(newest))
					Expect(latest[models.SensorWind].Value).To(Equal(5.0))
				})

				It("stops once every expected type has been seen", func() {
					add(models.SensorSolar, 700, 1000)
					add(models.SensorWind, 5, 2000)
					add(models.SensorTemperature, 20, 3000)

					latest, err := readings.GetLatestByDevice(ctx, device.ID, models.SensorTemperature)
					Expect(err).NotTo(HaveOccurred())
					Expect(latest).To(HaveLen(1))
					Expect(latest).To(HaveKey(models.SensorTemperature))
				})

				It("returns an empty map for a device without readings", func() {
					latest, err := readings.GetLatestByDevice(ctx, 999)
					Expect(err).NotTo(HaveOccurred())
					Expect(latest).To(BeEmpty())
				})
			})

			It("lists a time window newest first", func() {
				base := clock.Now().Add(-3 * time.Hour).UnixMilli()
				for i := int64(0); i < 4; i++ {
					add(models.SensorWind, float64(i), base+i*int64(time.Hour/time.Millisecond))
				}
				add(models.SensorTemperature, 18, base)

				window, err := readings.ListByDevice(ctx, device.ID, models.SensorWind, base+1, 0, 2)
				Expect(err).NotTo(HaveOccurred())
				Expect(window).To(HaveLen(2))
				Expect(window[0].Value).To(Equal(3.0))
				Expect(window[1].Value).To(Equal(2.0))

				all, err := readings.ListByDevice(ctx, device.ID, "", 0, 0, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(all).To(HaveLen(5))
				Expect(all[0].SensorType).To(Equal(models.SensorTemperature))
			})

			It("deletes every reading of a device", func() {
				other, err := devices.Add(ctx, models.Device{Name: "Beta", Location: "South"})
				Expect(err).NotTo(HaveOccurred())

				add(models.SensorWind, 1, 1000)
				add(models.SensorWind, 2, 2000)
				add(models.SensorTemperature, 3, 3000)
				_, err = readings.Add(ctx, models.SensorReading{DeviceID: other.ID, SensorType: models.SensorWind, Value: 4})
				Expect(err).NotTo(HaveOccurred())

				n, err := readings.DeleteByDevice(ctx, device.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(3))
				Expect(readings.Count(ctx)).To(Equal(1))

				n, err = readings.DeleteByDevice(ctx, device.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(BeZero())
			})
		})
	}
})
