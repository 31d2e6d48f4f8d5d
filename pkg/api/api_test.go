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

package api_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edgenode-hub/edgenode-core/pkg/api"
	"github.com/edgenode-hub/edgenode-core/pkg/config"
	"github.com/edgenode-hub/edgenode-core/pkg/core"
	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/transfer"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "API Suite")
}

var _ = Describe("Server", func() {
	var (
		c       *core.Core
		handler http.Handler
	)

	BeforeEach(func() {
		cfg := config.Default()
		cfg.Storage.Backend = config.BackendMemory
		cfg.Seed.Enabled = false

		var err error
		c, err = core.New(context.Background(), cfg, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = c.Close(context.Background()) })

		handler = api.NewServer(c, cfg.API, nil).Handler()
	})

	do := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var reader *bytes.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(raw)
		} else {
			reader = bytes.NewReader(nil)
		}

		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, dest interface{}) {
		Expect(json.Unmarshal(rec.Body.Bytes(), dest)).To(Succeed())
	}

	createDevice := func(name string) models.Device {
		rec := do(http.MethodPost, "/api/v1/devices", models.Device{
			Name:     name,
			Location: "North Field",
			Sensors:  []models.SensorType{models.SensorTemperature, models.SensorWind},
		})
		Expect(rec.Code).To(Equal(http.StatusCreated))

		var d models.Device
		decode(rec, &d)

		return d
	}

	It("reports health with the schema version", func() {
		rec := do(http.MethodGet, "/health", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"status":"ok"`))
		Expect(rec.Body.String()).To(ContainSubstring(`"schemaVersion":3`))
		Expect(rec.Header().Get(api.RequestIDHeader)).NotTo(BeEmpty())
	})

	It("reports not ready after close", func() {
		Expect(c.Close(context.Background())).To(Succeed())

		Expect(do(http.MethodGet, "/health", nil).Code).To(Equal(http.StatusServiceUnavailable))

		rec := do(http.MethodGet, "/api/v1/devices", nil)
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))

		var resp api.ErrorResponse
		decode(rec, &resp)
		Expect(resp.Kind).To(Equal("not_ready"))
	})

	It("creates, reads, updates and lists devices", func() {
		d := createDevice("Alpha")
		Expect(d.ID).To(BeNumerically(">", 0))

		rec := do(http.MethodGet, "/api/v1/devices/"+itoa(d.ID), nil)
		Expect(rec.Code).To(Equal(http.StatusOK))

		d.Location = "South Field"
		rec = do(http.MethodPut, "/api/v1/devices/"+itoa(d.ID), d)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var updated models.Device
		decode(rec, &updated)
		Expect(updated.Location).To(Equal("South Field"))
		Expect(updated.CreatedAt).To(Equal(d.CreatedAt))

		rec = do(http.MethodGet, "/api/v1/devices?location=South%20Field", nil)
		var found []models.Device
		decode(rec, &found)
		Expect(found).To(HaveLen(1))
	})

	It("returns field errors for invalid devices", func() {
		rec := do(http.MethodPost, "/api/v1/devices", models.Device{Location: "x"})
		Expect(rec.Code).To(Equal(http.StatusBadRequest))

		var resp api.ErrorResponse
		decode(rec, &resp)
		Expect(resp.Kind).To(Equal("validation"))
		Expect(resp.Fields).NotTo(BeEmpty())
	})

	DescribeTable("rejects malformed path ids",
		func(path string) {
			Expect(do(http.MethodGet, path, nil).Code).To(Equal(http.StatusBadRequest))
		},
		Entry("non-numeric device", "/api/v1/devices/abc"),
		Entry("zero device", "/api/v1/devices/0"),
		Entry("negative alert", "/api/v1/alerts/-4"),
	)

	It("returns 404 for unknown records and deletes idempotently", func() {
		Expect(do(http.MethodGet, "/api/v1/devices/99", nil).Code).To(Equal(http.StatusNotFound))
		Expect(do(http.MethodGet, "/api/v1/alerts/99", nil).Code).To(Equal(http.StatusNotFound))
		Expect(do(http.MethodDelete, "/api/v1/alerts/99", nil).Code).To(Equal(http.StatusNoContent))
	})

	It("records readings and returns triggered alerts", func() {
		d := createDevice("Alpha")

		rec := do(http.MethodPost, "/api/v1/alerts", models.AlertRule{
			DeviceID: d.ID, SensorType: models.SensorTemperature, Condition: models.ConditionGreater, Threshold: 35,
		})
		Expect(rec.Code).To(Equal(http.StatusCreated))

		rec = do(http.MethodPost, "/api/v1/alerts", models.AlertRule{
			DeviceID: d.ID, SensorType: models.SensorTemperature, Condition: models.ConditionGreater, Threshold: 35,
		})
		Expect(rec.Code).To(Equal(http.StatusConflict))

		rec = do(http.MethodPost, "/api/v1/readings", models.SensorReading{DeviceID: d.ID, SensorType: models.SensorTemperature, Value: 40})
		Expect(rec.Code).To(Equal(http.StatusCreated))

		var resp api.RecordResponse
		decode(rec, &resp)
		Expect(resp.Reading.ID).To(BeNumerically(">", 0))
		Expect(resp.Triggered).To(HaveLen(1))

		rec = do(http.MethodPost, "/api/v1/readings", models.SensorReading{DeviceID: d.ID, SensorType: models.SensorTemperature, Value: 20})
		decode(rec, &resp)
		Expect(resp.Triggered).To(BeEmpty())

		rec = do(http.MethodGet, "/api/v1/devices/"+itoa(d.ID)+"/latest/temperature", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var latest models.SensorReading
		decode(rec, &latest)
		Expect(latest.Value).To(Equal(20.0))

		Expect(do(http.MethodGet, "/api/v1/devices/"+itoa(d.ID)+"/latest/wind", nil).Code).To(Equal(http.StatusNotFound))
		Expect(do(http.MethodGet, "/api/v1/devices/"+itoa(d.ID)+"/latest/humidity", nil).Code).To(Equal(http.StatusBadRequest))

		rec = do(http.MethodGet, "/api/v1/devices/"+itoa(d.ID)+"/readings?limit=1", nil)
		var readings []models.SensorReading
		decode(rec, &readings)
		Expect(readings).To(HaveLen(1))
	})

	It("cascades device deletion", func() {
		d := createDevice("Alpha")
		do(http.MethodPost, "/api/v1/alerts", models.AlertRule{DeviceID: d.ID, SensorType: models.SensorWind, Condition: models.ConditionLess, Threshold: 2})
		do(http.MethodPost, "/api/v1/readings", models.SensorReading{DeviceID: d.ID, SensorType: models.SensorWind, Value: 5})

		rec := do(http.MethodDelete, "/api/v1/devices/"+itoa(d.ID), nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"readingsDeleted":1,"rulesDeleted":1}`))

		rec = do(http.MethodGet, "/api/v1/alerts", nil)
		Expect(rec.Body.String()).To(MatchJSON(`[]`))
	})

	It("stores and removes settings", func() {
		rec := do(http.MethodPut, "/api/v1/settings/dataUpdateInterval", map[string]interface{}{"value": 30})
		Expect(rec.Code).To(Equal(http.StatusOK))

		rec = do(http.MethodGet, "/api/v1/settings/dataUpdateInterval", nil)
		Expect(rec.Body.String()).To(MatchJSON(`{"key":"dataUpdateInterval","value":30}`))

		Expect(do(http.MethodDelete, "/api/v1/settings/dataUpdateInterval", nil).Code).To(Equal(http.StatusNoContent))
		Expect(do(http.MethodGet, "/api/v1/settings/dataUpdateInterval", nil).Code).To(Equal(http.StatusNotFound))
	})

	It("exports, resets and imports a snapshot", func() {
		d := createDevice("Alpha")
		do(http.MethodPost, "/api/v1/readings", models.SensorReading{DeviceID: d.ID, SensorType: models.SensorWind, Value: 5})

		rec := do(http.MethodGet, "/api/v1/export?compress=true", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Disposition")).To(ContainSubstring(".json.zst"))

		exported := rec.Body.Bytes()

		Expect(do(http.MethodPost, "/api/v1/reset", nil).Code).To(Equal(http.StatusNoContent))
		Expect(do(http.MethodGet, "/api/v1/devices/"+itoa(d.ID), nil).Code).To(Equal(http.StatusNotFound))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/import", bytes.NewReader(exported))
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var stats transfer.Stats
		decode(rec, &stats)
		Expect(stats.Devices).To(Equal(1))
		Expect(stats.Readings).To(Equal(1))

		Expect(do(http.MethodGet, "/api/v1/devices/"+itoa(d.ID), nil).Code).To(Equal(http.StatusOK))
	})

	It("rejects malformed imports", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))

		Expect(do(http.MethodPost, "/api/v1/import?identity=shuffle", transfer.Snapshot{}).Code).To(Equal(http.StatusBadRequest))
	})
})

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
