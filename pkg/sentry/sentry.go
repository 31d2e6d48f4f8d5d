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

package sentry

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const (
	// DefaultAppVersion is the version of local builds. Sentry stays off for it.
	DefaultAppVersion = "0.0.0-dev"

	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"

	// DefaultDebounce is the minimum gap between two reports of one issue type.
	DefaultDebounce = 2 * time.Hour
)

var (
	enabled  atomic.Bool
	debounce atomic.Int64
)

func init() {
	debounce.Store(int64(DefaultDebounce))
}

// Options configures InitSentry.
type Options struct {
	// Transport overrides the HTTP transport, used by tests.
	Transport  sentry.Transport
	DSN        string
	AppVersion string
	// Debounce is the minimum gap between two reports of the same issue
	// type. Zero keeps DefaultDebounce, a negative value disables debouncing.
	Debounce time.Duration
}

// Environment derives the sentry environment from a semantic version:
// releases without a prerelease suffix are production.
func Environment(appVersion string) string {
	version, err := semver.NewVersion(appVersion)
	if err != nil || version.Prerelease() != "" {
		return DevelopmentEnvironment
	}

	return ProductionEnvironment
}

// InitSentry initializes the sentry client. Reporting stays disabled when no
// DSN is configured or the build carries the default development version.
// It reports whether reporting is enabled.
func InitSentry(opts Options, log *zap.SugaredLogger) bool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch {
	case opts.Debounce < 0:
		debounce.Store(0)
	case opts.Debounce > 0:
		debounce.Store(int64(opts.Debounce))
	}

	if strings.TrimSpace(opts.DSN) == "" || opts.AppVersion == "" || opts.AppVersion == DefaultAppVersion {
		log.Debug("Sentry disabled: no DSN or local development build")
		enabled.Store(false)

		return false
	}

	environment := Environment(opts.AppVersion)

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           opts.DSN,
		Environment:   environment,
		Release:       "edgenode@" + opts.AppVersion,
		Transport:     opts.Transport,
		EnableTracing: false,
	})
	if err != nil {
		log.Errorf("Failed to initialize Sentry: %s", err)
		enabled.Store(false)

		return false
	}

	log.Infof("Sentry enabled for %s (%s)", opts.AppVersion, environment)
	enabled.Store(true)

	return true
}

// Flush waits for queued events to be delivered.
func Flush(timeout time.Duration) bool {
	if !enabled.Load() {
		return true
	}

	return sentry.Flush(timeout)
}

func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	// first phrase, up to a period, comma or colon
	idx := strings.IndexAny(message, ".,:")
	if idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error, context map[string]string) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Fingerprint = []string{"{{ default }}", "level: " + string(level)}

	if len(context) > 0 {
		event.Tags = make(map[string]string, len(context))
		for k, v := range context {
			event.Tags[k] = v
		}
	}

	return event
}

func sendSentryEvent(event *sentry.Event) {
	localHub := sentry.CurrentHub().Clone()
	localHub.CaptureEvent(event)
}
