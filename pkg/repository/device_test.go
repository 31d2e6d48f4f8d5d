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

	"github.com/edgenode-hub/edgenode-core/pkg/datastore"
	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence/storetest"
	"github.com/edgenode-hub/edgenode-core/pkg/repository"
)

var _ = Describe("DeviceRepository", func() {
	for _, backend := range storetest.Backends() {
		factory := backend.Factory

		Context("on the "+backend.Name+" backend", func() {
			var (
				ctx   context.Context
				clock *fakeClock
				repo  *repository.DeviceRepository
			)

			BeforeEach(func() {
				ctx = context.Background()
				clock = newFakeClock()
				repo = repository.NewDeviceRepository(newReadyHandle(ctx, factory), options(clock)...)
			})

			It("assigns increasing identities that are never reused", func() {
				a, err := repo.Add(ctx, models.Device{Name: "Alpha", Location: "North"})
				Expect(err).NotTo(HaveOccurred())
				b, err := repo.Add(ctx, models.Device{Name: "Beta", Location: "South"})
				Expect(err).NotTo(HaveOccurred())
				Expect(b.ID).To(BeNumerically(">", a.ID))

				Expect(repo.Delete(ctx, b.ID)).To(Succeed())

				c, err := repo.Add(ctx, models.Device{Name: "Gamma", Location: "East"})
				Expect(err).NotTo(HaveOccurred())
				Expect(c.ID).To(BeNumerically(">", b.ID))
			})

			It("deduplicates sensors without touching the caller's slice", func() {
				sensors := []models.SensorType{models.SensorTemperature, models.SensorTemperature, models.SensorWind}

				d, err := repo.Add(ctx, models.Device{Name: "Alpha", Location: "North", Sensors: sensors})
				Expect(err).NotTo(HaveOccurred())
				Expect(d.Sensors).To(Equal([]models.SensorType{models.SensorTemperature, models.SensorWind}))
				Expect(sensors).To(Equal([]models.SensorType{models.SensorTemperature, models.SensorTemperature, models.SensorWind}))
			})

			It("stamps createdAt and updatedAt on add", func() {
				d, err := repo.Add(ctx, models.Device{Name: "Alpha", Location: "North", Sensors: []models.SensorType{models.SensorWind}})
				Expect(err).NotTo(HaveOccurred())
				Expect(d.CreatedAt).To(Equal(clock.Now().UnixMilli()))
				Expect(d.UpdatedAt).To(Equal(d.CreatedAt))

				stored, err := repo.Get(ctx, d.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(stored).To(Equal(d))
			})

			It("preserves createdAt and refreshes updatedAt on update", func() {
				d, err := repo.Add(ctx, models.Device{Name: "Alpha", Location: "North"})
				Expect(err).NotTo(HaveOccurred())

				clock.Advance(time.Hour)

				d.Location = "West"
				d.CreatedAt = 1

				updated, err := repo.Update(ctx, d)
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.CreatedAt).To(Equal(clock.Now().Add(-time.Hour).UnixMilli()))
				Expect(updated.UpdatedAt).To(Equal(clock.Now().UnixMilli()))

				stored, err := repo.Get(ctx, d.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(stored.Location).To(Equal("West"))
			})

			It("never creates a device through update", func() {
				_, err := repo.Update(ctx, models.Device{ID: 77, Name: "Ghost", Location: "Nowhere"})
				Expect(err).To(MatchError(persistence.ErrNotFound))

				Expect(repo.Count(ctx)).To(BeZero())
			})

			It("rejects invalid devices", func() {
				_, err := repo.Add(ctx, models.Device{Name: " ", Location: "North"})
				Expect(err).To(MatchError(persistence.ErrValidation))

				_, err = repo.Update(ctx, models.Device{Name: "No id", Location: "North"})
				Expect(err).To(MatchError(persistence.ErrValidation))
			})

			It("returns NotFound for unknown ids and deletes idempotently", func() {
				_, err := repo.Get(ctx, 5)
				Expect(err).To(MatchError(persistence.ErrNotFound))

				Expect(repo.Delete(ctx, 5)).To(Succeed())
				Expect(repo.Delete(ctx, 5)).To(Succeed())
			})

			It("finds devices by name and location", func() {
				_, err := repo.Add(ctx, models.Device{Name: "Alpha", Location: "North"})
				Expect(err).NotTo(HaveOccurred())
				_, err = repo.Add(ctx, models.Device{Name: "Beta", Location: "North"})
				Expect(err).NotTo(HaveOccurred())

				byName, err := repo.FindByName(ctx, "Beta")
				Expect(err).NotTo(HaveOccurred())
				Expect(byName).To(HaveLen(1))

				byLocation, err := repo.FindByLocation(ctx, "North")
				Expect(err).NotTo(HaveOccurred())
				Expect(byLocation).To(HaveLen(2))

				none, err := repo.FindByName(ctx, "Omega")
				Expect(err).NotTo(HaveOccurred())
				Expect(none).To(BeEmpty())
			})

			It("fails with NotReady before the schema is initialized", func() {
				cold := repository.NewDeviceRepository(datastore.New(factory(), nil))

				_, err := cold.GetAll(ctx)
				Expect(err).To(MatchError(persistence.ErrNotReady))

				_, err = cold.Add(ctx, models.Device{Name: "Alpha", Location: "North"})
				Expect(err).To(MatchError(persistence.ErrNotReady))
			})
		})
	}
})
