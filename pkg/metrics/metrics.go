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

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/logger"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/sentry"
)

const (
	// Component labels.
	ComponentStore    = "store"
	ComponentSchema   = "schema"
	ComponentCascade  = "cascade"
	ComponentTransfer = "transfer"
	ComponentAPI      = "api"

	// Result labels.
	ResultOK         = "ok"
	ResultNotFound   = "not_found"
	ResultConflict   = "conflict"
	ResultValidation = "validation"
	ResultNotReady   = "not_ready"
	ResultFault      = "fault"
	ResultCanceled   = "canceled"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "edgenode"
	subsystem = "core"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component"},
	)

	storeOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_ops_total",
			Help:      "Total number of record store operations by operation, collection and result",
		},
		[]string{"operation", "collection", "result"},
	)

	storeOpsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_ops_duration_seconds",
			Help:      "Duration of record store operations in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	cursorStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cursor_steps_total",
			Help:      "Total number of records visited by cursors",
		},
		[]string{"collection"},
	)

	storeReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_ready",
			Help:      "1 once the schema is initialized and the store accepts operations",
		},
	)

	alertsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "alerts_triggered_total",
			Help:      "Total number of alert rules triggered by sensor type and condition",
		},
		[]string{"sensor_type", "condition"},
	)

	cascadeDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cascade_deleted_total",
			Help:      "Total number of records removed by device cascades per collection",
		},
		[]string{"collection"},
	)

	transferRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transfer_records_total",
			Help:      "Total number of records exported or imported per collection",
		},
		[]string{"direction", "collection"},
	)
)

// Result maps an operation error onto a result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCanceled
	case errors.Is(err, persistence.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, persistence.ErrConflict):
		return ResultConflict
	case errors.Is(err, persistence.ErrValidation):
		return ResultValidation
	case errors.Is(err, persistence.ErrNotReady):
		return ResultNotReady
	default:
		return ResultFault
	}
}

// ObserveStoreOp records one record store operation.
func ObserveStoreOp(operation, collection string, duration time.Duration, err error) {
	storeOpsTotal.WithLabelValues(operation, collection, Result(err)).Inc()
	storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncCursorStep counts one record visited by a cursor.
func IncCursorStep(collection string) {
	cursorStepsTotal.WithLabelValues(collection).Inc()
}

// SetStoreReady flips the readiness gauge.
func SetStoreReady(ready bool) {
	if ready {
		storeReady.Set(1)

		return
	}

	storeReady.Set(0)
}

// IncAlertTriggered counts one triggered rule.
func IncAlertTriggered(sensorType, condition string) {
	alertsTriggeredTotal.WithLabelValues(sensorType, condition).Inc()
}

// AddCascadeDeleted counts records removed by a cascade.
func AddCascadeDeleted(collection string, n int) {
	cascadeDeletedTotal.WithLabelValues(collection).Add(float64(n))
}

// AddTransferRecords counts records moved by export or import.
func AddTransferRecords(direction, collection string, n int) {
	transferRecordsTotal.WithLabelValues(direction, collection).Add(float64(n))
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component string) {
	errorCounter.WithLabelValues(component).Inc()
}

// IncErrorCountAndLog increments the error counter and logs the error.
func IncErrorCountAndLog(component string, err error, log *zap.SugaredLogger) {
	IncErrorCount(component)
	log.Errorf("error in %s: %v", component, err)
}

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For(logger.ComponentMetrics))
		}
	}()

	return server
}
