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

// Package config holds the process configuration of the edge node: an
// optional YAML file overlaid with environment variables.
//
// Order of precedence (highest to lowest):
//  1. Environment variables (EDGENODE_*, LOGGING_*)
//  2. Config file values
//  3. Default values
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"

	"github.com/edgenode-hub/edgenode-core/pkg/env"
	"github.com/edgenode-hub/edgenode-core/pkg/logger"
)

// Backend selects the record store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
)

// IdentityMode selects how ImportAll treats snapshot identities.
type IdentityMode string

const (
	IdentityPreserve IdentityMode = "preserve"
	IdentityRenumber IdentityMode = "renumber"
)

const (
	DefaultStoragePath     = "/data/edgenode.db"
	DefaultAPIPort         = 8080
	DefaultMetricsPort     = 8081
	DefaultCursorBatchSize = 64
	DefaultShutdownTimeout = 10 * time.Second
	DefaultOpenRetry       = 30 * time.Second
)

// Config is the full process configuration.
type Config struct {
	Sentry   SentryConfig   `yaml:"sentry"`
	Storage  StorageConfig  `yaml:"storage"`
	Transfer TransferConfig `yaml:"transfer"`
	Logging  LoggingConfig  `yaml:"logging"`
	Alerting AlertingConfig `yaml:"alerting"`
	API      APIConfig      `yaml:"api"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Seed     SeedConfig     `yaml:"seed"`
}

type StorageConfig struct {
	Backend Backend `yaml:"backend"`
	// Path is the SQLite database file. Ignored by the memory backend.
	Path            string `yaml:"path,omitempty"`
	CursorBatchSize int    `yaml:"cursorBatchSize,omitempty"`
	AllowNetworkFS  bool   `yaml:"allowNetworkFS,omitempty"`
	// OpenRetryTimeout bounds how long opening the store is retried after
	// storage faults at startup. Zero opens once.
	OpenRetryTimeout time.Duration `yaml:"openRetryTimeout,omitempty"`
}

type AlertingConfig struct {
	// EqualTolerance widens the "equal" condition to |value-threshold| <= tolerance.
	// Zero keeps exact comparison.
	EqualTolerance float64 `yaml:"equalTolerance"`
}

type TransferConfig struct {
	IdentityMode IdentityMode `yaml:"identityMode"`
	// Compress writes zstd compressed snapshots.
	Compress bool `yaml:"compress"`
}

type APIConfig struct {
	// CORSOrigins lists origins allowed to call the API from a browser.
	// "*" allows any origin.
	CORSOrigins     []string      `yaml:"corsOrigins,omitempty"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	Debug           bool          `yaml:"debug,omitempty"`
}

type MetricsConfig struct {
	// Port 0 disables the metrics endpoint.
	Port int `yaml:"port"`
}

type SeedConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SentryConfig struct {
	DSN        string `yaml:"dsn,omitempty"`
	AppVersion string `yaml:"appVersion,omitempty"`
}

type LoggingConfig struct {
	Level  string           `yaml:"level"`
	Format logger.LogFormat `yaml:"format"`
}

// Default returns the configuration used when neither file nor environment
// set a value.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend:          BackendSQLite,
			Path:             DefaultStoragePath,
			CursorBatchSize:  DefaultCursorBatchSize,
			OpenRetryTimeout: DefaultOpenRetry,
		},
		Transfer: TransferConfig{IdentityMode: IdentityPreserve},
		API:      APIConfig{Port: DefaultAPIPort, ShutdownTimeout: DefaultShutdownTimeout},
		Metrics:  MetricsConfig{Port: DefaultMetricsPort},
		Seed:     SeedConfig{Enabled: true},
		Logging:  LoggingConfig{Level: string(logger.ProductionLevel), Format: logger.FormatConsole},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		cfg, err = Parse(data)
		if err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyEnv overrides fields whose environment variable is set.
func (c *Config) ApplyEnv() error {
	var errs []error

	if v, ok := env.GetAsString("EDGENODE_STORAGE_BACKEND"); ok {
		c.Storage.Backend = Backend(strings.ToLower(v))
	}

	if v, ok := env.GetAsString("EDGENODE_STORAGE_PATH"); ok {
		c.Storage.Path = v
	}

	if v, ok, err := env.GetAsDuration("EDGENODE_STORAGE_OPEN_RETRY"); err != nil {
		errs = append(errs, err)
	} else if ok {
		c.Storage.OpenRetryTimeout = v
	}

	if v, ok, err := env.GetAsFloat("EDGENODE_ALERT_EQUAL_TOLERANCE"); err != nil {
		errs = append(errs, err)
	} else if ok {
		c.Alerting.EqualTolerance = v
	}

	if v, ok, err := env.GetAsInt("EDGENODE_API_PORT"); err != nil {
		errs = append(errs, err)
	} else if ok {
		c.API.Port = v
	}

	if v, ok, err := env.GetAsInt("EDGENODE_METRICS_PORT"); err != nil {
		errs = append(errs, err)
	} else if ok {
		c.Metrics.Port = v
	}

	if v, ok, err := env.GetAsBool("EDGENODE_SEED"); err != nil {
		errs = append(errs, err)
	} else if ok {
		c.Seed.Enabled = v
	}

	if v, ok := env.GetAsString("EDGENODE_SENTRY_DSN"); ok {
		c.Sentry.DSN = v
	}

	if v, ok := env.GetAsString("LOGGING_LEVEL"); ok {
		c.Logging.Level = v
	}

	if v, ok := env.GetAsString("LOGGING_FORMAT"); ok {
		c.Logging.Format = logger.ParseFormat(v, c.Logging.Format)
	}

	return errors.Join(errs...)
}

// Validate checks the configuration for values the node cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, sqlite", c.Storage.Backend))
	}

	if c.Storage.CursorBatchSize < 0 {
		errs = append(errs, fmt.Errorf("storage.cursorBatchSize must not be negative, got %d", c.Storage.CursorBatchSize))
	}

	if c.Storage.OpenRetryTimeout < 0 {
		errs = append(errs, fmt.Errorf("storage.openRetryTimeout must not be negative, got %s", c.Storage.OpenRetryTimeout))
	}

	tol := c.Alerting.EqualTolerance
	if tol < 0 || math.IsNaN(tol) || math.IsInf(tol, 0) {
		errs = append(errs, fmt.Errorf("alerting.equalTolerance must be a finite non-negative number, got %v", tol))
	}

	switch c.Transfer.IdentityMode {
	case IdentityPreserve, IdentityRenumber:
	default:
		errs = append(errs, fmt.Errorf("transfer.identityMode %q is not one of preserve, renumber", c.Transfer.IdentityMode))
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d is out of range", c.API.Port))
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics.port %d is out of range", c.Metrics.Port))
	}

	if c.Metrics.Port != 0 && c.Metrics.Port == c.API.Port {
		errs = append(errs, fmt.Errorf("metrics.port and api.port must differ, both are %d", c.API.Port))
	}

	return errors.Join(errs...)
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	var clone Config

	_ = deepcopy.Copy(&clone, &c)

	return clone
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
