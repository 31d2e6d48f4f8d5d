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

import (
	"fmt"
	"sort"
)

// SensorType names a kind of measurement.
type SensorType string

const (
	SensorVibration        SensorType = "vibration"
	SensorSoilMoisture     SensorType = "soil-moisture"
	SensorSoilLiquefaction SensorType = "soil-liquefaction"
	SensorTemperature      SensorType = "temperature"
	SensorWind             SensorType = "wind"
	SensorStrain           SensorType = "strain"
	SensorSolar            SensorType = "solar"
)

// SensorInfo describes how a sensor type is displayed and which values a
// healthy sensor usually reports.
type SensorInfo struct {
	Name string  `json:"name"`
	Unit string  `json:"unit"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	// NominalMin and NominalMax bound the demo data generator.
	NominalMin float64 `json:"nominalMin"`
	NominalMax float64 `json:"nominalMax"`
}

var sensorInfo = map[SensorType]SensorInfo{
	SensorVibration:        {Name: "Vibration", Unit: "Hz", Min: 0, Max: 100, NominalMin: 5, NominalMax: 70},
	SensorSoilMoisture:     {Name: "Soil moisture", Unit: "%", Min: 0, Max: 100, NominalMin: 20, NominalMax: 85},
	SensorSoilLiquefaction: {Name: "Soil liquefaction", Unit: "%", Min: 0, Max: 100, NominalMin: 0, NominalMax: 30},
	SensorTemperature:      {Name: "Temperature", Unit: "°C", Min: -20, Max: 50, NominalMin: 15, NominalMax: 32},
	SensorWind:             {Name: "Wind speed", Unit: "m/s", Min: 0, Max: 30, NominalMin: 2, NominalMax: 15},
	SensorStrain:           {Name: "Strain", Unit: "μm/m", Min: 0, Max: 2000, NominalMin: 100, NominalMax: 1000},
	SensorSolar:            {Name: "Solar irradiance", Unit: "W/m²", Min: 0, Max: 1500, NominalMin: 100, NominalMax: 1200},
}

// SensorTypes returns every known sensor type in name order.
func SensorTypes() []SensorType {
	out := make([]SensorType, 0, len(sensorInfo))
	for t := range sensorInfo {
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

func (t SensorType) Valid() bool {
	_, ok := sensorInfo[t]

	return ok
}

// Info returns display metadata. Unknown types get a generic 0..100 range.
func (t SensorType) Info() SensorInfo {
	if info, ok := sensorInfo[t]; ok {
		return info
	}

	return SensorInfo{Name: string(t), Min: 0, Max: 100, NominalMin: 0, NominalMax: 100}
}

// ParseSensorType validates a sensor type name.
func ParseSensorType(s string) (SensorType, error) {
	t := SensorType(s)
	if !t.Valid() {
		return "", &ValidationError{Record: "sensor type", Fields: []FieldError{{Field: "sensorType", Message: fmt.Sprintf("unknown sensor type %q", s)}}}
	}

	return t, nil
}

// Condition is the comparison an alert rule applies.
type Condition string

const (
	ConditionGreater Condition = "greater"
	ConditionLess    Condition = "less"
	ConditionEqual   Condition = "equal"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionGreater, ConditionLess, ConditionEqual:
		return true
	default:
		return false
	}
}
