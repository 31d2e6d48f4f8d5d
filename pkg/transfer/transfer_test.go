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

package transfer_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/cascade"
	"github.com/edgenode-hub/edgenode-core/pkg/datastore"
	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence/storetest"
	"github.com/edgenode-hub/edgenode-core/pkg/repository"
	"github.com/edgenode-hub/edgenode-core/pkg/transfer"
)

func TestTransfer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Transfer Suite")
}

var _ = Describe("Service", func() {
	for _, backend := range storetest.Backends() {
		factory := backend.Factory

		Context("on the "+backend.Name+" backend", func() {
			var (
				ctx      context.Context
				handle   *datastore.Handle
				service  *transfer.Service
				devices  *repository.DeviceRepository
				readings *repository.ReadingRepository
				alerts   *repository.AlertRepository
				settings *repository.SettingsRepository
			)

			populate := func() {
				alpha, err := devices.Add(ctx, models.Device{Name: "Alpha", Location: "North", Sensors: []models.SensorType{models.SensorWind}})
				Expect(err).NotTo(HaveOccurred())
				beta, err := devices.Add(ctx, models.Device{Name: "Beta", Location: "South"})
				Expect(err).NotTo(HaveOccurred())

				for _, d := range []models.Device{alpha, beta} {
					_, err = readings.Add(ctx, models.SensorReading{DeviceID: d.ID, SensorType: models.SensorWind, Value: 4.5, Timestamp: 1000})
					Expect(err).NotTo(HaveOccurred())
				}

				_, err = alerts.Add(ctx, models.AlertRule{DeviceID: beta.ID, SensorType: models.SensorWind, Condition: models.ConditionGreater, Threshold: 12})
				Expect(err).NotTo(HaveOccurred())

				Expect(settings.Set(ctx, models.SettingDataUpdateInterval, 10000)).To(Succeed())
			}

			export := func() transfer.Snapshot {
				snap, err := service.ExportAll(ctx)
				Expect(err).NotTo(HaveOccurred())
				snap.ExportedAt = 0

				return snap
			}

			BeforeEach(func() {
				ctx = context.Background()
				handle = datastore.New(factory(), zap.NewNop().Sugar())
				Expect(handle.Init(ctx)).To(Succeed())

				service = transfer.NewService(handle, zap.NewNop().Sugar())
				devices = repository.NewDeviceRepository(handle)
				readings = repository.NewReadingRepository(handle)
				alerts = repository.NewAlertRepository(handle)
				settings = repository.NewSettingsRepository(handle)

				populate()
			})

			It("exports every collection", func() {
				snap := export()
				Expect(snap.Devices).To(HaveLen(2))
				Expect(snap.SensorData).To(HaveLen(2))
				Expect(snap.Alerts).To(HaveLen(1))
				Expect(snap.Settings).To(HaveKeyWithValue(models.SettingDataUpdateInterval, 10000.0))
				Expect(snap.SchemaVersion).To(Equal(3))
			})

			It("round trips through import with preserved identities", func() {
				before := export()

				stats, err := service.ImportAll(ctx, before, transfer.ImportOptions{})
				Expect(err).NotTo(HaveOccurred())
				Expect(stats).To(Equal(transfer.Stats{Devices: 2, Readings: 2, Rules: 1, Settings: 1}))

				Expect(export()).To(Equal(before))
			})

			It("round trips through the codec", func() {
				before := export()

				for _, compress := range []bool{false, true} {
					var buf bytes.Buffer
					Expect(transfer.Encode(&buf, before, compress)).To(Succeed())

					decoded, err := transfer.Decode(&buf)
					Expect(err).NotTo(HaveOccurred())

					_, err = service.ImportAll(ctx, decoded, transfer.ImportOptions{})
					Expect(err).NotTo(HaveOccurred())
					Expect(export()).To(Equal(before))
				}
			})

			It("empties every collection on clear", func() {
				Expect(service.ClearAll(ctx)).To(Succeed())

				snap := export()
				Expect(snap.Devices).To(BeEmpty())
				Expect(snap.SensorData).To(BeEmpty())
				Expect(snap.Alerts).To(BeEmpty())
				Expect(snap.Settings).To(BeEmpty())
			})

			It("never hands out cleared identities again", func() {
				before := export()
				Expect(service.ClearAll(ctx)).To(Succeed())

				d, err := devices.Add(ctx, models.Device{Name: "Gamma", Location: "East"})
				Expect(err).NotTo(HaveOccurred())
				for _, old := range before.Devices {
					Expect(d.ID).To(BeNumerically(">", old.ID))
				}
			})

			It("skips readings and rules of devices missing from the snapshot", func() {
				snap := export()
				snap.Devices = snap.Devices[:1]

				stats, err := service.ImportAll(ctx, snap, transfer.ImportOptions{})
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.Devices).To(Equal(1))
				Expect(stats.Readings).To(Equal(1))
				Expect(stats.SkippedReadings).To(Equal(1))
				Expect(stats.SkippedRules).To(Equal(1))
			})

			It("renumbers identities and rewrites references", func() {
				snap := export()
				for i := range snap.Devices {
					snap.Devices[i].ID += 100
				}
				for i := range snap.SensorData {
					snap.SensorData[i].DeviceID += 100
				}
				for i := range snap.Alerts {
					snap.Alerts[i].DeviceID += 100
				}

				_, err := service.ImportAll(ctx, snap, transfer.ImportOptions{Identity: transfer.Renumber})
				Expect(err).NotTo(HaveOccurred())

				after := export()
				Expect(after.Devices).To(HaveLen(2))

				ids := map[int64]bool{}
				for _, d := range after.Devices {
					Expect(d.ID).To(BeNumerically("<", 100))
					ids[d.ID] = true
				}
				for _, r := range after.SensorData {
					Expect(ids).To(HaveKey(r.DeviceID))
				}
				Expect(ids).To(HaveKey(after.Alerts[0].DeviceID))
			})

			It("keeps the previous data when a record is invalid", func() {
				before := export()

				snap := export()
				snap.Alerts = append(snap.Alerts, models.AlertRule{DeviceID: snap.Devices[0].ID, SensorType: models.SensorWind, Condition: "between"})

				_, err := service.ImportAll(ctx, snap, transfer.ImportOptions{})
				Expect(err).To(MatchError(persistence.ErrValidation))
				Expect(export()).To(Equal(before))
			})

			It("rejects duplicate identities", func() {
				snap := export()
				snap.Devices = append(snap.Devices, snap.Devices[0])

				_, err := service.ImportAll(ctx, snap, transfer.ImportOptions{})
				Expect(err).To(MatchError(persistence.ErrConflict))
			})

			It("imports id-less records next to records that carry ids in any order", func() {
				snap := transfer.Snapshot{
					Devices: []models.Device{
						{Name: "NoID", Location: "North"},
						{ID: 1, Name: "One", Location: "South"},
						{ID: 2, Name: "Two", Location: "East"},
					},
					SensorData: []models.SensorReading{
						{DeviceID: 1, SensorType: models.SensorWind, Value: 1, Timestamp: 1000},
						{ID: 1, DeviceID: 2, SensorType: models.SensorWind, Value: 2, Timestamp: 2000},
					},
					Alerts: []models.AlertRule{
						{DeviceID: 1, SensorType: models.SensorWind, Condition: models.ConditionGreater, Threshold: 10},
						{ID: 1, DeviceID: 2, SensorType: models.SensorWind, Condition: models.ConditionGreater, Threshold: 10},
					},
				}

				stats, err := service.ImportAll(ctx, snap, transfer.ImportOptions{})
				Expect(err).NotTo(HaveOccurred())
				Expect(stats).To(Equal(transfer.Stats{Devices: 3, Readings: 2, Rules: 2}))

				after := export()

				names := map[int64]string{}
				for _, d := range after.Devices {
					names[d.ID] = d.Name
				}
				Expect(names).To(HaveLen(3))
				Expect(names).To(HaveKeyWithValue(int64(1), "One"))
				Expect(names).To(HaveKeyWithValue(int64(2), "Two"))
				Expect(names).To(ContainElement("NoID"))

				for _, r := range after.SensorData {
					if r.ID == 1 {
						Expect(r.DeviceID).To(Equal(int64(2)))
					}
				}
				for _, rule := range after.Alerts {
					if rule.ID == 1 {
						Expect(rule.DeviceID).To(Equal(int64(2)))
					}
				}
			})

			It("never leaves dangling device references when cascades race imports", func() {
				snap := export()
				coordinator := cascade.NewCoordinator(handle, devices, readings, alerts, zap.NewNop().Sugar())

				var wg sync.WaitGroup

				errs := make(chan error, 32)

				for i := 0; i < 8; i++ {
					wg.Add(2)

					go func() {
						defer GinkgoRecover()
						defer wg.Done()

						_, err := service.ImportAll(ctx, snap, transfer.ImportOptions{})
						errs <- err
					}()

					go func(id int64) {
						defer GinkgoRecover()
						defer wg.Done()

						_, err := coordinator.DeleteDevice(ctx, id)
						errs <- err
					}(snap.Devices[i%len(snap.Devices)].ID)
				}

				wg.Wait()
				close(errs)

				for err := range errs {
					Expect(err).NotTo(HaveOccurred())
				}

				after := export()

				stored := map[int64]bool{}
				for _, d := range after.Devices {
					stored[d.ID] = true
				}
				for _, r := range after.SensorData {
					Expect(stored).To(HaveKey(r.DeviceID))
				}
				for _, rule := range after.Alerts {
					Expect(stored).To(HaveKey(rule.DeviceID))
				}
			})

			It("rejects snapshots of a newer schema", func() {
				snap := export()
				snap.SchemaVersion = 99

				_, err := service.ImportAll(ctx, snap, transfer.ImportOptions{})
				Expect(err).To(MatchError(persistence.ErrValidation))
			})
		})
	}
})

var _ = Describe("Codec", func() {
	It("names snapshot files by date", func() {
		t := time.Date(2025, 6, 9, 23, 0, 0, 0, time.UTC)
		Expect(transfer.FileName(t, false)).To(Equal("edge-node-data-2025-06-09.json"))
		Expect(transfer.FileName(t, true)).To(Equal("edge-node-data-2025-06-09.json.zst"))
	})

	It("decodes partial snapshots", func() {
		snap, err := transfer.Decode(strings.NewReader(`{"devices":[{"id":3,"name":"A","location":"B","sensors":[]}]}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Devices).To(HaveLen(1))
		Expect(snap.SensorData).To(BeEmpty())
		Expect(snap.Settings).NotTo(BeNil())
	})

	It("rejects malformed input", func() {
		_, err := transfer.Decode(strings.NewReader("{not json"))
		Expect(err).To(MatchError(persistence.ErrValidation))
	})

	It("parses identity modes", func() {
		Expect(transfer.ParseIdentityMode("renumber")).To(Equal(transfer.Renumber))
		Expect(transfer.ParseIdentityMode("")).To(Equal(transfer.PreserveIdentities))

		_, err := transfer.ParseIdentityMode("shuffle")
		Expect(err).To(HaveOccurred())
	})
})
