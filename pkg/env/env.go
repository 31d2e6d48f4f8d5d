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

// Package env reads typed values from environment variables. Every lookup
// reports whether the variable was set so callers can apply overrides only
// for variables the operator actually provided.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetAsString returns the trimmed value of key and whether it is set and
// non-empty.
func GetAsString(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))

	return value, value != ""
}

// GetOrDefault returns the value of key, or fallback when unset.
func GetOrDefault(key, fallback string) string {
	if value, ok := GetAsString(key); ok {
		return value
	}

	return fallback
}

// GetAsInt parses key as an integer. An unset variable is not an error.
func GetAsInt(key string) (int, bool, error) {
	value, ok := GetAsString(key)
	if !ok {
		return 0, false, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, true, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}

	return n, true, nil
}

// GetAsBool parses key as a boolean. Besides strconv forms it accepts
// yes/no, y/n and on/off.
func GetAsBool(key string) (bool, bool, error) {
	value, ok := GetAsString(key)
	if !ok {
		return false, false, nil
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "y", "on":
		return true, true, nil
	case "false", "0", "no", "n", "off":
		return false, true, nil
	default:
		return false, true, fmt.Errorf("environment variable %s must be a boolean value", key)
	}
}

// GetAsFloat parses key as a float64.
func GetAsFloat(key string) (float64, bool, error) {
	value, ok := GetAsString(key)
	if !ok {
		return 0, false, nil
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, true, fmt.Errorf("environment variable %s must be a number: %w", key, err)
	}

	return f, true, nil
}

// GetAsDuration parses key with time.ParseDuration.
func GetAsDuration(key string) (time.Duration, bool, error) {
	value, ok := GetAsString(key)
	if !ok {
		return 0, false, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, true, fmt.Errorf("environment variable %s must be a duration: %w", key, err)
	}

	return d, true, nil
}
