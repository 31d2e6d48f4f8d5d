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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edgenode-hub/edgenode-core/pkg/api"
	"github.com/edgenode-hub/edgenode-core/pkg/config"
	"github.com/edgenode-hub/edgenode-core/pkg/core"
	"github.com/edgenode-hub/edgenode-core/pkg/env"
	"github.com/edgenode-hub/edgenode-core/pkg/logger"
	"github.com/edgenode-hub/edgenode-core/pkg/metrics"
	"github.com/edgenode-hub/edgenode-core/pkg/sentry"
	"github.com/edgenode-hub/edgenode-core/pkg/transfer"
)

// appVersion is set at build time with -ldflags "-X main.appVersion=...".
var appVersion = sentry.DefaultAppVersion

const usage = `usage: edgenode [-config path] <command> [flags]

commands:
  serve               run the HTTP API (default)
  export [-o file]    write a snapshot of all data
  import <file>       replace all data with a snapshot
  reset               delete all data
  version             print the version
`

func main() {
	logger.Initialize()

	fs := flag.NewFlagSet("edgenode", flag.ExitOnError)
	configPath := fs.String("config", env.GetOrDefault("EDGENODE_CONFIG", ""), "path to the YAML config file")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	_ = fs.Parse(os.Args[1:])

	command := "serve"
	args := fs.Args()

	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	if command == "version" {
		fmt.Println(appVersion)

		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.For(logger.ComponentConfig).Errorf("Failed to load config: %v", err)
		os.Exit(2)
	}

	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)

	log := logger.For(logger.ComponentCore)

	if cfg.Sentry.AppVersion == "" {
		cfg.Sentry.AppVersion = appVersion
	}

	sentry.InitSentry(sentry.Options{DSN: cfg.Sentry.DSN, AppVersion: cfg.Sentry.AppVersion}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = run(ctx, command, args, cfg, log)

	stop()
	sentry.Flush(2 * time.Second)
	_ = logger.Sync()

	if err != nil {
		log.Errorf("%s failed: %v", command, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, cfg config.Config, log *zap.SugaredLogger) error {
	switch command {
	case "serve":
		return serve(ctx, cfg, log)
	case "export":
		return withCore(ctx, cfg, log, func(c *core.Core) error { return export(ctx, c, args, log) })
	case "import":
		return withCore(ctx, cfg, log, func(c *core.Core) error { return importFile(ctx, c, args, log) })
	case "reset":
		return withCore(ctx, cfg, log, func(c *core.Core) error { return c.Transfer.ClearAll(ctx) })
	default:
		fmt.Fprint(os.Stderr, usage)

		return fmt.Errorf("unknown command %q", command)
	}
}

// withCore runs fn against a core without seeding, so maintenance commands
// see exactly what is stored.
func withCore(ctx context.Context, cfg config.Config, log *zap.SugaredLogger, fn func(c *core.Core) error) (err error) {
	cfg.Seed.Enabled = false

	c, err := core.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, c.Close(context.Background()))
	}()

	return fn(c)
}

func serve(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) error {
	c, err := core.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	server := api.NewServer(c, cfg.API, logger.For(logger.ComponentAPI))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(gctx)
	})

	if cfg.Metrics.Port > 0 {
		metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.Metrics.Port))

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
			defer cancel()

			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()

		return errors.Join(server.Stop(shutdownCtx), c.Close(shutdownCtx))
	})

	return g.Wait()
}

func export(ctx context.Context, c *core.Core, args []string, log *zap.SugaredLogger) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("o", "", "output file, - for stdout (default: dated file name in the working directory)")
	compress := fs.Bool("z", c.Config().Transfer.Compress, "compress the snapshot with zstd")

	if err := fs.Parse(args); err != nil {
		return err
	}

	snap, err := c.Transfer.ExportAll(ctx)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout

	path := *out
	if path == "" {
		path = transfer.FileName(time.Now(), *compress)
	}

	if path != "-" {
		f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()

		w = f
	}

	if err := transfer.Encode(w, snap, *compress); err != nil {
		return err
	}

	log.Infow("Exported snapshot", "path", path, "devices", len(snap.Devices), "readings", len(snap.SensorData), "rules", len(snap.Alerts))

	return nil
}

func importFile(ctx context.Context, c *core.Core, args []string, log *zap.SugaredLogger) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	identity := fs.String("identity", "", "preserve or renumber record ids (default from config)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return errors.New("import needs exactly one snapshot file")
	}

	opts := c.ImportOptions()

	if *identity != "" {
		mode, err := transfer.ParseIdentityMode(*identity)
		if err != nil {
			return err
		}

		opts.Identity = mode
	}

	f, err := os.Open(filepath.Clean(fs.Arg(0)))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", fs.Arg(0), err)
	}
	defer func() { _ = f.Close() }()

	snap, err := transfer.Decode(f)
	if err != nil {
		return err
	}

	stats, err := c.Transfer.ImportAll(ctx, snap, opts)
	if err != nil {
		return err
	}

	log.Infow("Imported snapshot", "devices", stats.Devices, "readings", stats.Readings, "rules", stats.Rules,
		"settings", stats.Settings, "skipped_readings", stats.SkippedReadings, "skipped_rules", stats.SkippedRules)

	return nil
}
