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

// Setting is a key/value pair. Value holds any JSON value.
type Setting struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

const (
	SettingDataUpdateInterval = "data_update_interval"
	SettingGenerateMockData   = "generate_mock_data"
)

// ValidateSettingKey rejects empty keys.
func ValidateSettingKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return &ValidationError{Record: "setting", Fields: []FieldError{{Field: "key", Message: "must not be empty"}}}
	}

	return nil
}
