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

import "strings"

// Device is a sensor node.
type Device struct {
	ID          int64        `json:"id,omitempty"`
	Name        string       `json:"name"`
	Location    string       `json:"location"`
	Description string       `json:"description,omitempty"`
	Sensors     []SensorType `json:"sensors"`
	CreatedAt   int64        `json:"createdAt"`
	UpdatedAt   int64        `json:"updatedAt"`
}

// Normalize trims names and removes duplicate sensors, keeping the first
// occurrence. Sensors is replaced by a new slice; the original backing array
// is not modified.
func (d *Device) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	d.Location = strings.TrimSpace(d.Location)

	if d.Sensors == nil {
		d.Sensors = []SensorType{}

		return
	}

	seen := make(map[SensorType]bool, len(d.Sensors))
	out := make([]SensorType, 0, len(d.Sensors))

	for _, s := range d.Sensors {
		if seen[s] {
			continue
		}

		seen[s] = true
		out = append(out, s)
	}

	d.Sensors = out
}

func (d Device) Validate() error {
	v := validator{record: "device"}

	if strings.TrimSpace(d.Name) == "" {
		v.add("name", "must not be empty")
	}

	if strings.TrimSpace(d.Location) == "" {
		v.add("location", "must not be empty")
	}

	for _, s := range d.Sensors {
		if !s.Valid() {
			v.add("sensors", "unknown sensor type %q", s)
		}
	}

	return v.err()
}

// HasSensor reports whether the device lists t.
func (d Device) HasSensor(t SensorType) bool {
	for _, s := range d.Sensors {
		if s == t {
			return true
		}
	}

	return false
}
