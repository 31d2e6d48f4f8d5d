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

// Package core wires the data layer of an edge node together: it opens the
// configured store, initializes the schema and builds the repositories and
// services on top of one datastore handle.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/alerting"
	"github.com/edgenode-hub/edgenode-core/pkg/cascade"
	"github.com/edgenode-hub/edgenode-core/pkg/config"
	"github.com/edgenode-hub/edgenode-core/pkg/datastore"
	"github.com/edgenode-hub/edgenode-core/pkg/logger"
	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence/instrumented"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence/memory"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence/sqlite"
	"github.com/edgenode-hub/edgenode-core/pkg/repository"
	"github.com/edgenode-hub/edgenode-core/pkg/schema"
	"github.com/edgenode-hub/edgenode-core/pkg/seed"
	"github.com/edgenode-hub/edgenode-core/pkg/sentry"
	"github.com/edgenode-hub/edgenode-core/pkg/transfer"
)

// Core owns the storage handle and every service built on it.
type Core struct {
	Handle    *datastore.Handle
	Devices   *repository.DeviceRepository
	Readings  *repository.ReadingRepository
	Alerts    *repository.AlertRepository
	Settings  *repository.SettingsRepository
	Cascade   *cascade.Coordinator
	Evaluator *alerting.Evaluator
	Transfer  *transfer.Service
	log       *zap.SugaredLogger
	cfg       config.Config
}

// OpenStore opens the backend selected by cfg.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (persistence.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewStore(), nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, persistence.Fault("open", "", err)
		}

		return sqlite.Open(ctx, cfg.Path, sqlite.Options{
			CursorBatchSize: cfg.CursorBatchSize,
			AllowNetworkFS:  cfg.AllowNetworkFS,
		})
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", persistence.ErrValidation, cfg.Backend)
	}
}

// New opens the store, brings the schema up to date, seeds demo data when
// enabled and returns a ready Core.
func New(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (*Core, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	handle, err := open(ctx, cfg.Storage, log)
	if err != nil {
		if errors.Is(err, persistence.ErrStorageFault) {
			sentry.ReportStoreFault(log, "open", "", err)
		}

		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}

	c := Build(handle, cfg, log)

	if cfg.Seed.Enabled {
		seeder := seed.NewSeeder(seed.Repositories{
			Devices:  c.Devices,
			Readings: c.Readings,
			Alerts:   c.Alerts,
			Settings: c.Settings,
		}, log.Named(logger.ComponentSeed))

		if _, err := seeder.Seed(ctx); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to seed demo data: %w", err), handle.Close(ctx))
		}
	}

	log.Infof("Data layer ready on %s backend", cfg.Storage.Backend)

	return c, nil
}

// open opens the store and brings its schema up to date. Storage faults are
// retried with exponential backoff until cfg.OpenRetryTimeout has elapsed,
// which covers volumes that are mounted after the process starts.
func open(ctx context.Context, cfg config.StorageConfig, log *zap.SugaredLogger) (*datastore.Handle, error) {
	var handle *datastore.Handle

	attempt := func() error {
		store, err := OpenStore(ctx, cfg)
		if err != nil {
			return retryable(err)
		}

		h := datastore.New(instrumented.Wrap(store), log.Named(logger.ComponentSchema))

		if err := h.Init(ctx); err != nil {
			return retryable(errors.Join(err, store.Close(ctx)))
		}

		handle = h

		return nil
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}

	if cfg.OpenRetryTimeout > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 100 * time.Millisecond
		exp.MaxElapsedTime = cfg.OpenRetryTimeout
		policy = exp
	}

	err := backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		log.Warnf("Opening store failed, retrying in %s: %v", next, err)
	})
	if err != nil {
		return nil, err
	}

	return handle, nil
}

// retryable marks everything except storage faults as permanent. A schema
// written by a newer release never heals by waiting.
func retryable(err error) error {
	if errors.Is(err, persistence.ErrStorageFault) && !errors.Is(err, schema.ErrSchemaTooNew) {
		return err
	}

	return backoff.Permanent(err)
}

// Build wires repositories and services on an initialized handle.
func Build(handle *datastore.Handle, cfg config.Config, log *zap.SugaredLogger) *Core {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	repoOpts := []repository.Option{repository.WithLogger(log.Named(logger.ComponentRepo))}

	c := &Core{
		Handle:   handle,
		Devices:  repository.NewDeviceRepository(handle, repoOpts...),
		Readings: repository.NewReadingRepository(handle, repoOpts...),
		Alerts:   repository.NewAlertRepository(handle, repoOpts...),
		Settings: repository.NewSettingsRepository(handle, repoOpts...),
		Transfer: transfer.NewService(handle, log.Named(logger.ComponentTransfer)),
		log:      log,
		cfg:      cfg.Clone(),
	}

	c.Cascade = cascade.NewCoordinator(handle, c.Devices, c.Readings, c.Alerts, log.Named(logger.ComponentCascade))
	c.Evaluator = alerting.NewEvaluator(c.Alerts,
		alerting.WithEqualTolerance(cfg.Alerting.EqualTolerance),
		alerting.WithLogger(log.Named(logger.ComponentAlerting)))

	return c
}

// Config returns a copy of the configuration the core was built with.
func (c *Core) Config() config.Config {
	return c.cfg.Clone()
}

// Ready reports whether the data layer accepts operations.
func (c *Core) Ready() bool {
	return c.Handle.Ready()
}

// RecordReading stores a reading and evaluates the alert rules of its device
// against it. The stored reading is returned even when evaluation fails.
func (c *Core) RecordReading(ctx context.Context, reading models.SensorReading) (models.SensorReading, []models.AlertRule, error) {
	stored, err := c.Readings.Add(ctx, reading)
	if err != nil {
		c.report(err)

		return models.SensorReading{}, nil, err
	}

	triggered, err := c.Evaluator.CheckAlert(ctx, stored.DeviceID, stored.SensorType, stored.Value)
	if err != nil {
		c.report(err)

		return stored, nil, err
	}

	return stored, triggered, nil
}

// ImportOptions derives import options from the configuration.
func (c *Core) ImportOptions() transfer.ImportOptions {
	if c.cfg.Transfer.IdentityMode == config.IdentityRenumber {
		return transfer.ImportOptions{Identity: transfer.Renumber}
	}

	return transfer.ImportOptions{Identity: transfer.PreserveIdentities}
}

// Close shuts the handle and the store.
func (c *Core) Close(ctx context.Context) error {
	return c.Handle.Close(ctx)
}

// report forwards storage faults to sentry. Caller errors are not reported.
func (c *Core) report(err error) {
	if errors.Is(err, persistence.ErrStorageFault) {
		sentry.ReportIssue(err, sentry.IssueTypeError, c.log)
	}
}
