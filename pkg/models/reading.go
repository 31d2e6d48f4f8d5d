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

package models

// SensorReading is one measurement of one sensor of a device.
type SensorReading struct {
	ID         int64      `json:"id,omitempty"`
	DeviceID   int64      `json:"deviceId"`
	SensorType SensorType `json:"sensorType"`
	Value      float64    `json:"value"`
	Timestamp  int64      `json:"timestamp"`
}

func (r SensorReading) Validate() error {
	v := validator{record: "sensor reading"}

	if r.DeviceID <= 0 {
		v.add("deviceId", "must be a positive device id")
	}

	if !r.SensorType.Valid() {
		v.add("sensorType", "unknown sensor type %q", r.SensorType)
	}

	if !finite(r.Value) {
		v.add("value", "must be a finite number")
	}

	if r.Timestamp < 0 {
		v.add("timestamp", "must not be negative")
	}

	return v.err()
}
