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

// AlertRule triggers when a reading of SensorType on DeviceID satisfies
// Condition against Threshold.
type AlertRule struct {
	ID         int64      `json:"id,omitempty"`
	DeviceID   int64      `json:"deviceId"`
	SensorType SensorType `json:"sensorType"`
	Condition  Condition  `json:"condition"`
	Threshold  float64    `json:"threshold"`
	CreatedAt  int64      `json:"createdAt"`
	UpdatedAt  int64      `json:"updatedAt,omitempty"`
}

func (a AlertRule) Validate() error {
	v := validator{record: "alert rule"}

	if a.DeviceID <= 0 {
		v.add("deviceId", "must be a positive device id")
	}

	if !a.SensorType.Valid() {
		v.add("sensorType", "unknown sensor type %q", a.SensorType)
	}

	if !a.Condition.Valid() {
		v.add("condition", "must be one of greater, less, equal")
	}

	if !finite(a.Threshold) {
		v.add("threshold", "must be a finite number")
	}

	return v.err()
}

// SameTrigger reports whether both rules fire on exactly the same readings.
func (a AlertRule) SameTrigger(b AlertRule) bool {
	return a.DeviceID == b.DeviceID &&
		a.SensorType == b.SensorType &&
		a.Condition == b.Condition &&
		a.Threshold == b.Threshold
}
