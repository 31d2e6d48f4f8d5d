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

package api

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/transfer"
)

func (s *Server) health(c *gin.Context) {
	if !s.core.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})

		return
	}

	version, err := s.core.Handle.SchemaVersion(c.Request.Context())
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "schemaVersion": version})
}

func (s *Server) listDevices(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		devices []models.Device
		err     error
	)

	switch {
	case c.Query("name") != "":
		devices, err = s.core.Devices.FindByName(ctx, c.Query("name"))
	case c.Query("location") != "":
		devices, err = s.core.Devices.FindByLocation(ctx, c.Query("location"))
	default:
		devices, err = s.core.Devices.GetAll(ctx)
	}

	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, devices)
}

func (s *Server) createDevice(c *gin.Context) {
	var d models.Device
	if err := bindJSON(c, &d); err != nil {
		s.fail(c, err)

		return
	}

	stored, err := s.core.Devices.Add(c.Request.Context(), d)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusCreated, stored)
}

func (s *Server) getDevice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	d, err := s.core.Devices.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, d)
}

func (s *Server) updateDevice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	var d models.Device
	if err := bindJSON(c, &d); err != nil {
		s.fail(c, err)

		return
	}

	d.ID = id

	updated, err := s.core.Devices.Update(c.Request.Context(), d)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, updated)
}

// deleteDevice removes the device with its readings and alert rules.
func (s *Server) deleteDevice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	res, err := s.core.Cascade.DeleteDevice(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) latestByDevice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	var expected []models.SensorType

	if raw := c.Query("types"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			t, err := models.ParseSensorType(strings.TrimSpace(name))
			if err != nil {
				s.fail(c, err)

				return
			}

			expected = append(expected, t)
		}
	}

	latest, err := s.core.Readings.GetLatestByDevice(c.Request.Context(), id, expected...)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, latest)
}

func (s *Server) latestByDeviceAndType(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	sensorType, err := models.ParseSensorType(c.Param("sensorType"))
	if err != nil {
		s.fail(c, err)

		return
	}

	reading, found, err := s.core.Readings.GetLatestByDeviceAndType(c.Request.Context(), id, sensorType)
	if err != nil {
		s.fail(c, err)

		return
	}

	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "no " + string(sensorType) + " readings for this device",
			Kind:      "not_found",
			RequestID: c.GetString(RequestIDHeader),
		})

		return
	}

	c.JSON(http.StatusOK, reading)
}

func (s *Server) listReadings(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	var sensorType models.SensorType
	if raw := c.Query("sensorType"); raw != "" {
		if sensorType, err = models.ParseSensorType(raw); err != nil {
			s.fail(c, err)

			return
		}
	}

	from, err := queryInt64(c, "from")
	if err != nil {
		s.fail(c, err)

		return
	}

	to, err := queryInt64(c, "to")
	if err != nil {
		s.fail(c, err)

		return
	}

	limit, err := queryInt64(c, "limit")
	if err != nil {
		s.fail(c, err)

		return
	}

	readings, err := s.core.Readings.ListByDevice(c.Request.Context(), id, sensorType, from, to, int(limit))
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, readings)
}

func (s *Server) deviceAlerts(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	rules, err := s.core.Alerts.GetByDevice(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, rules)
}

// RecordResponse is returned for a stored reading.
type RecordResponse struct {
	Triggered []models.AlertRule   `json:"triggered"`
	Reading   models.SensorReading `json:"reading"`
}

func (s *Server) recordReading(c *gin.Context) {
	var reading models.SensorReading
	if err := bindJSON(c, &reading); err != nil {
		s.fail(c, err)

		return
	}

	stored, triggered, err := s.core.RecordReading(c.Request.Context(), reading)
	if err != nil {
		s.fail(c, err)

		return
	}

	if triggered == nil {
		triggered = []models.AlertRule{}
	}

	c.JSON(http.StatusCreated, RecordResponse{Reading: stored, Triggered: triggered})
}

func (s *Server) listAlerts(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		rules []models.AlertRule
		err   error
	)

	if raw := c.Query("sensorType"); raw != "" {
		var sensorType models.SensorType
		if sensorType, err = models.ParseSensorType(raw); err == nil {
			rules, err = s.core.Alerts.GetBySensorType(ctx, sensorType)
		}
	} else {
		rules, err = s.core.Alerts.GetAll(ctx)
	}

	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, rules)
}

func (s *Server) createAlert(c *gin.Context) {
	var rule models.AlertRule
	if err := bindJSON(c, &rule); err != nil {
		s.fail(c, err)

		return
	}

	stored, err := s.core.Alerts.Add(c.Request.Context(), rule)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusCreated, stored)
}

func (s *Server) getAlert(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	rule, err := s.core.Alerts.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, rule)
}

func (s *Server) updateAlert(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	var rule models.AlertRule
	if err := bindJSON(c, &rule); err != nil {
		s.fail(c, err)

		return
	}

	rule.ID = id

	updated, err := s.core.Alerts.Update(c.Request.Context(), rule)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteAlert(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	if err := s.core.Alerts.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)

		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) listSettings(c *gin.Context) {
	all, err := s.core.Settings.GetAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, all)
}

func (s *Server) getSetting(c *gin.Context) {
	key := c.Param("key")

	value, found, err := s.core.Settings.Get(c.Request.Context(), key)
	if err != nil {
		s.fail(c, err)

		return
	}

	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "setting " + key + " is not set", Kind: "not_found", RequestID: c.GetString(RequestIDHeader)})

		return
	}

	c.JSON(http.StatusOK, models.Setting{Key: key, Value: value})
}

type settingBody struct {
	Value interface{} `json:"value"`
}

func (s *Server) putSetting(c *gin.Context) {
	var body settingBody
	if err := bindJSON(c, &body); err != nil {
		s.fail(c, err)

		return
	}

	key := c.Param("key")

	if err := s.core.Settings.Set(c.Request.Context(), key, body.Value); err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, models.Setting{Key: key, Value: body.Value})
}

func (s *Server) deleteSetting(c *gin.Context) {
	if err := s.core.Settings.Delete(c.Request.Context(), c.Param("key")); err != nil {
		s.fail(c, err)

		return
	}

	c.Status(http.StatusNoContent)
}

// exportAll streams a snapshot as a download. ?compress=true selects zstd.
func (s *Server) exportAll(c *gin.Context) {
	snap, err := s.core.Transfer.ExportAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)

		return
	}

	compress := c.Query("compress") == "true"

	var buf bytes.Buffer
	if err := transfer.Encode(&buf, snap, compress); err != nil {
		s.fail(c, err)

		return
	}

	contentType := "application/json"
	if compress {
		contentType = "application/zstd"
	}

	c.Header("Content-Disposition", `attachment; filename="`+transfer.FileName(time.Now(), compress)+`"`)
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// importAll replaces all data with the snapshot in the body. ?identity
// overrides the configured identity mode.
func (s *Server) importAll(c *gin.Context) {
	opts := s.core.ImportOptions()

	if raw := c.Query("identity"); raw != "" {
		mode, err := transfer.ParseIdentityMode(raw)
		if err != nil {
			s.fail(c, err)

			return
		}

		opts.Identity = mode
	}

	snap, err := transfer.Decode(c.Request.Body)
	if err != nil {
		s.fail(c, err)

		return
	}

	stats, err := s.core.Transfer.ImportAll(c.Request.Context(), snap, opts)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) reset(c *gin.Context) {
	if err := s.core.Transfer.ClearAll(c.Request.Context()); err != nil {
		s.fail(c, err)

		return
	}

	c.Status(http.StatusNoContent)
}
